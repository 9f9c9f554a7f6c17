package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/eventlog"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInvoker records invocation overlap and returns canned responses.
type fakeInvoker struct {
	mu      sync.Mutex
	active  int
	peak    int
	calls   []string
	delay   time.Duration
	fail    map[string]*core.OperationFailure
	panicOn string
}

func (f *fakeInvoker) Invoke(ctx context.Context, call core.ToolCall, _ time.Duration) core.ToolResult {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.calls = append(f.calls, call.Name)
	f.mu.Unlock()

	if call.Name == f.panicOn {
		panic("tool exploded")
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if failure, ok := f.fail[call.Name]; ok {
		return core.ToolResult{ID: call.ID, Name: call.Name, Failure: failure}
	}

	return core.ToolResult{ID: call.ID, Name: call.Name, Response: map[string]any{"ok": true}}
}

func (f *fakeInvoker) Irreversible(string) bool { return false }

type fakeWorkers struct {
	result core.WorkerResult
}

func (f *fakeWorkers) Delegate(_ context.Context, _ core.Delegation) core.WorkerResult {
	return f.result
}

func newRunContext(t *testing.T) *core.RunContext {
	t.Helper()

	store := eventlog.NewInMemoryStore()
	_, err := store.Create("conv-1")
	require.NoError(t, err)

	return core.NewRunContext(context.Background(), "conv-1", "run-1", core.TaskConversation, store, core.NewStepBudget(0), logging.NoOpLogger{})
}

func TestExecuteIndependentOpsRunConcurrently(t *testing.T) {
	invoker := &fakeInvoker{delay: 30 * time.Millisecond}
	s := New(invoker)
	rc := newRunContext(t)

	ops := []core.Operation{
		{ID: "op-1", Tool: "fetch_weather"},
		{ID: "op-2", Tool: "fetch_calendar"},
		{ID: "op-3", Tool: "fetch_news"},
	}

	events, err := s.Execute(rc, "scheduler", ops)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.GreaterOrEqual(t, invoker.peak, 2, "independent operations should overlap")

	// Results land in declared order regardless of completion order.
	for i, ev := range events {
		assert.Equal(t, core.KindToolResult, ev.Kind)
		assert.Equal(t, ops[i].ID, ev.Correlation)
	}
}

func TestExecuteDependentOpsRunInWaves(t *testing.T) {
	invoker := &fakeInvoker{}
	s := New(invoker)
	rc := newRunContext(t)

	ops := []core.Operation{
		{ID: "op-1", Tool: "search_flights"},
		{ID: "op-2", Tool: "book_flight", DependsOn: []string{"op-1"}},
	}

	events, err := s.Execute(rc, "scheduler", ops)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Len(t, invoker.calls, 2)
	assert.Equal(t, "search_flights", invoker.calls[0])
	assert.Equal(t, "book_flight", invoker.calls[1])
}

func TestExecutePartialFailureDoesNotCancelSiblings(t *testing.T) {
	invoker := &fakeInvoker{
		fail: map[string]*core.OperationFailure{
			"fetch_calendar": core.NewRemoteFailure("unavailable", "calendar service down"),
		},
	}
	s := New(invoker)
	rc := newRunContext(t)

	ops := []core.Operation{
		{ID: "op-1", Tool: "fetch_weather"},
		{ID: "op-2", Tool: "fetch_calendar"},
	}

	events, err := s.Execute(rc, "scheduler", ops)
	require.NoError(t, err)
	require.Len(t, events, 2)

	results := map[string]core.ToolResult{}
	for _, ev := range events {
		for _, res := range ev.GetToolResults() {
			results[res.ID] = res
		}
	}

	assert.False(t, results["op-1"].Failed())
	require.True(t, results["op-2"].Failed())
	assert.Equal(t, core.FailureRemoteError, results["op-2"].Failure.Kind)
}

func TestExecutePanicIsolation(t *testing.T) {
	invoker := &fakeInvoker{panicOn: "flaky_tool"}
	s := New(invoker)
	rc := newRunContext(t)

	ops := []core.Operation{
		{ID: "op-1", Tool: "flaky_tool"},
		{ID: "op-2", Tool: "fetch_weather"},
	}

	events, err := s.Execute(rc, "scheduler", ops)
	require.NoError(t, err)
	require.Len(t, events, 2)

	results := events[0].GetToolResults()
	require.Len(t, results, 1)
	require.True(t, results[0].Failed())
	assert.Equal(t, "panic", results[0].Failure.Code)
}

func TestExecuteDelegationRoutesToWorkerRunner(t *testing.T) {
	invoker := &fakeInvoker{}
	workers := &fakeWorkers{result: core.WorkerResult{Answer: "flight booked", State: core.StateCompleted}}
	s := New(invoker, func(o *Options) { o.Workers = workers })
	rc := newRunContext(t)

	ops := []core.Operation{
		{ID: "op-1", Worker: &core.Delegation{Instructions: "book the flight"}},
	}

	events, err := s.Execute(rc, "scheduler", ops)
	require.NoError(t, err)
	require.Len(t, events, 1)

	results := events[0].GetToolResults()
	require.Len(t, results, 1)
	require.False(t, results[0].Failed())
	assert.Equal(t, "delegate_worker", results[0].Name)

	response, ok := results[0].Response.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "flight booked", response["answer"])
}

func TestExecuteDelegationWithoutRunnerIsRejected(t *testing.T) {
	s := New(&fakeInvoker{})
	rc := newRunContext(t)

	ops := []core.Operation{
		{ID: "op-1", Worker: &core.Delegation{Instructions: "do something"}},
	}

	events, err := s.Execute(rc, "scheduler", ops)
	require.NoError(t, err)

	results := events[0].GetToolResults()
	require.True(t, results[0].Failed())
	assert.Equal(t, core.FailureRejected, results[0].Failure.Kind)
}

func TestWavesPartitioning(t *testing.T) {
	ops := []core.Operation{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", DependsOn: []string{"a", "b"}},
		{ID: "d", DependsOn: []string{"c"}},
	}

	waves := Waves(ops)
	require.Len(t, waves, 3)
	assert.Len(t, waves[0], 2)
	assert.Equal(t, "c", waves[1][0].ID)
	assert.Equal(t, "d", waves[2][0].ID)
}

func TestExecuteEmptyOps(t *testing.T) {
	s := New(&fakeInvoker{})
	rc := newRunContext(t)

	events, err := s.Execute(rc, "scheduler", nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}
