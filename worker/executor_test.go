package worker

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/taskmesh/batch"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/eventlog"
	"github.com/hupe1980/taskmesh/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resultInvoker returns a canned success for every call.
type resultInvoker struct{}

func (resultInvoker) Invoke(_ context.Context, call core.ToolCall, _ time.Duration) core.ToolResult {
	return core.ToolResult{ID: call.ID, Name: call.Name, Response: "result of " + call.Name}
}

func (resultInvoker) Irreversible(string) bool { return false }

func newExecutor(o core.Oracle, optFns ...func(o *Options)) *Executor {
	b := batch.New(resultInvoker{})
	return New(o, b, optFns...)
}

func TestDelegateCompletesWithFinalAnswer(t *testing.T) {
	scripted := oracle.NewScriptedOracle(
		core.Decision{Operations: []core.Operation{{ID: "op-1", Tool: "search_web", Arguments: `{"q":"tapas"}`}}},
		core.Decision{Final: &core.Final{Answer: "Three tapas bars near the hotel."}},
	)
	e := newExecutor(scripted)

	res := e.Delegate(context.Background(), core.Delegation{Instructions: "find tapas bars"})

	assert.Equal(t, core.StateCompleted, res.State)
	assert.Equal(t, "Three tapas bars near the hotel.", res.Answer)
	assert.NoError(t, res.Err)
	assert.Equal(t, 2, scripted.Calls())
}

func TestDelegateBudgetExhaustionIsBestEffort(t *testing.T) {
	// A greedy oracle that never returns a terminal answer.
	greedy := core.OracleFunc(func(_ context.Context, _ []core.Event, _ core.TaskContext) (core.Decision, error) {
		return core.Decision{
			Acknowledgement: "still gathering",
			Operations:      []core.Operation{{ID: core.NewID(), Tool: "search_web", Arguments: `{}`}},
		}, nil
	})
	e := newExecutor(greedy)

	res := e.Delegate(context.Background(), core.Delegation{Instructions: "impossible task", StepBudget: 3})

	assert.Equal(t, core.StateBudgetExhausted, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, "still gathering", res.Answer)
}

func TestDelegateFinalStepFlagOnLastStep(t *testing.T) {
	var contexts []core.TaskContext
	o := core.OracleFunc(func(_ context.Context, _ []core.Event, taskCtx core.TaskContext) (core.Decision, error) {
		contexts = append(contexts, taskCtx)
		return core.Decision{Acknowledgement: "thinking"}, nil
	})
	e := newExecutor(o)

	res := e.Delegate(context.Background(), core.Delegation{Instructions: "task", StepBudget: 2})

	require.Equal(t, core.StateBudgetExhausted, res.State)
	require.Len(t, contexts, 2)
	assert.False(t, contexts[0].FinalStep)
	assert.True(t, contexts[1].FinalStep)
	assert.Equal(t, 2, contexts[0].RemainingSteps)
	assert.Equal(t, 1, contexts[1].RemainingSteps)
}

func TestDelegateMalformedDecisionConsumesStepAndRePrompts(t *testing.T) {
	calls := 0
	o := core.OracleFunc(func(_ context.Context, _ []core.Event, taskCtx core.TaskContext) (core.Decision, error) {
		calls++
		if calls == 1 {
			return core.Decision{}, core.ErrMalformedDecision
		}
		assert.NotEmpty(t, taskCtx.Note)
		return core.Decision{Final: &core.Final{Answer: "recovered"}}, nil
	})
	e := newExecutor(o)

	res := e.Delegate(context.Background(), core.Delegation{Instructions: "task"})

	assert.Equal(t, core.StateCompleted, res.State)
	assert.Equal(t, "recovered", res.Answer)
	assert.Equal(t, 2, calls)
}

func TestDelegateOracleFailureIsFailed(t *testing.T) {
	o := core.OracleFunc(func(_ context.Context, _ []core.Event, _ core.TaskContext) (core.Decision, error) {
		return core.Decision{}, assert.AnError
	})
	e := newExecutor(o)

	res := e.Delegate(context.Background(), core.Delegation{Instructions: "task"})

	assert.Equal(t, core.StateFailed, res.State)
	assert.Error(t, res.Err)
}

func TestDelegateMissingInstructionsIsFailed(t *testing.T) {
	e := newExecutor(oracle.NewScriptedOracle())

	res := e.Delegate(context.Background(), core.Delegation{})

	assert.Equal(t, core.StateFailed, res.State)
}

func TestDelegateStatefulSessionResumes(t *testing.T) {
	store := eventlog.NewInMemoryStore()

	first := oracle.NewScriptedOracle(core.Decision{Final: &core.Final{Answer: "noted"}})
	e := newExecutor(first, func(o *Options) { o.Store = store })
	res := e.Delegate(context.Background(), core.Delegation{Instructions: "remember the budget is 200 EUR", SessionID: "trip"})
	require.Equal(t, core.StateCompleted, res.State)

	second := oracle.NewScriptedOracle(core.Decision{Final: &core.Final{Answer: "200 EUR"}})
	e2 := newExecutor(second, func(o *Options) { o.Store = store })
	res = e2.Delegate(context.Background(), core.Delegation{Instructions: "what was the budget?", SessionID: "trip"})
	require.Equal(t, core.StateCompleted, res.State)

	// The second run's oracle observed the first run's instructions.
	consultations := second.Consultations()
	require.NotEmpty(t, consultations)
	var texts []string
	for _, ev := range consultations[0].Events {
		texts = append(texts, ev.Text())
	}
	assert.Contains(t, texts, "remember the budget is 200 EUR")
}
