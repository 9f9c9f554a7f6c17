package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cannedInvoker struct{}

func (cannedInvoker) Invoke(_ context.Context, call core.ToolCall, _ time.Duration) core.ToolResult {
	return core.ToolResult{ID: call.ID, Name: call.Name, Response: "result of " + call.Name}
}

func (cannedInvoker) Irreversible(string) bool { return false }

func TestRunCompletesWithOutput(t *testing.T) {
	scripted := oracle.NewScriptedOracle(
		core.Decision{Operations: []core.Operation{
			{ID: "op-1", Tool: "fetch_weather", Arguments: `{}`},
			{ID: "op-2", Tool: "fetch_calendar", Arguments: `{}`},
		}},
		core.Decision{Final: &core.Final{Answer: "weather: sunny\nmeetings: 2"}},
	)
	r := New(scripted, cannedInvoker{})

	out, err := r.Run(context.Background(), "compile the morning briefing", "weather: string\nmeetings: number")
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, out.State)
	assert.Equal(t, "weather: sunny\nmeetings: 2", out.Answer)
	assert.Equal(t, 2, out.Steps)
}

func TestRunGreedyOracleHitsHardCeiling(t *testing.T) {
	calls := 0
	var finalStepSeen bool
	greedy := core.OracleFunc(func(_ context.Context, _ []core.Event, taskCtx core.TaskContext) (core.Decision, error) {
		calls++
		if taskCtx.FinalStep && taskCtx.Note != "" {
			// The forced synthesis turn after exhaustion.
			finalStepSeen = true
			return core.Decision{Final: &core.Final{Answer: "weather: unavailable\nmeetings: 2"}}, nil
		}
		return core.Decision{Operations: []core.Operation{{ID: core.NewID(), Tool: "fetch_more", Arguments: `{}`}}}, nil
	})
	r := New(greedy, cannedInvoker{}, func(o *Options) { o.StepBudget = 3 })

	out, err := r.Run(context.Background(), "never finish", "weather: string\nmeetings: number")
	require.NoError(t, err)

	assert.Equal(t, core.StateBudgetExhausted, out.State)
	assert.Equal(t, "weather: unavailable\nmeetings: 2", out.Answer)
	assert.True(t, finalStepSeen)
	assert.Equal(t, 4, calls, "budgeted steps plus one forced synthesis")
}

func TestRunFinalStepFlagOnLastBudgetedStep(t *testing.T) {
	var flags []bool
	o := core.OracleFunc(func(_ context.Context, _ []core.Event, taskCtx core.TaskContext) (core.Decision, error) {
		flags = append(flags, taskCtx.FinalStep)
		if len(flags) == 2 {
			return core.Decision{Final: &core.Final{Answer: "done"}}, nil
		}
		return core.Decision{Acknowledgement: "working"}, nil
	})
	r := New(o, cannedInvoker{}, func(o *Options) { o.StepBudget = 2 })

	out, err := r.Run(context.Background(), "task", "result: string")
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, out.State)
	require.Len(t, flags, 2)
	assert.False(t, flags[0])
	assert.True(t, flags[1])
}

func TestRunFallsBackWhenForcedSynthesisFails(t *testing.T) {
	o := core.OracleFunc(func(_ context.Context, _ []core.Event, _ core.TaskContext) (core.Decision, error) {
		return core.Decision{Acknowledgement: "gathered the calendar so far"}, nil
	})
	r := New(o, cannedInvoker{}, func(o *Options) { o.StepBudget = 2 })

	out, err := r.Run(context.Background(), "task", "result: string")
	require.NoError(t, err)

	assert.Equal(t, core.StateBudgetExhausted, out.State)
	assert.Equal(t, "gathered the calendar so far", out.Answer)
}

func TestRunMalformedDecisionConsumesStep(t *testing.T) {
	calls := 0
	o := core.OracleFunc(func(_ context.Context, _ []core.Event, taskCtx core.TaskContext) (core.Decision, error) {
		calls++
		if calls == 1 {
			return core.Decision{}, core.ErrMalformedDecision
		}
		assert.NotEmpty(t, taskCtx.Note)
		return core.Decision{Final: &core.Final{Answer: "recovered"}}, nil
	})
	r := New(o, cannedInvoker{})

	out, err := r.Run(context.Background(), "task", "result: string")
	require.NoError(t, err)

	assert.Equal(t, core.StateCompleted, out.State)
	assert.Equal(t, "recovered", out.Answer)
}

func TestRunOracleFailureIsError(t *testing.T) {
	o := core.OracleFunc(func(_ context.Context, _ []core.Event, _ core.TaskContext) (core.Decision, error) {
		return core.Decision{}, assert.AnError
	})
	r := New(o, cannedInvoker{})

	_, err := r.Run(context.Background(), "task", "result: string")
	assert.Error(t, err)
}
