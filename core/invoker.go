package core

import (
	"context"
	"time"
)

// ToolInvoker is the uniform tool-invocation contract: execute once, report
// exactly one outcome. No automatic retry lives behind this interface; retry
// policy is owned by the caller so irreversible effects are never silently
// re-executed.
type ToolInvoker interface {
	// Invoke executes the named operation. The returned ToolResult always
	// carries the call's correlation id; failures are encoded in the result,
	// never as a Go error (the error return covers caller bugs only, such as
	// invoking through a nil gateway).
	Invoke(ctx context.Context, call ToolCall, timeout time.Duration) ToolResult

	// Irreversible reports whether the named tool performs an irreversible
	// external effect and therefore requires user confirmation before
	// execution.
	Irreversible(name string) bool
}

// WorkerResult is the terminal outcome of a delegated task. Exactly one of
// the three states holds after a run; internal worker history is already
// discarded (stateless) or persisted (stateful) by the time it is returned.
type WorkerResult struct {
	Answer string
	State  WorkerState
	Err    error // set only for StateFailed
}

// WorkerState enumerates the terminal states of a worker run.
type WorkerState string

const (
	// StateCompleted means the worker returned a final answer within budget.
	StateCompleted WorkerState = "completed"
	// StateBudgetExhausted means the step budget ran out and the answer is a
	// best-effort synthesis of what was gathered. This is a degraded success,
	// not an error.
	StateBudgetExhausted WorkerState = "budget_exhausted"
	// StateFailed means the run could not proceed at all (oracle failure,
	// log storage loss).
	StateFailed WorkerState = "failed"
)

// WorkerRunner executes delegated tasks to completion. Implemented by the
// worker package; consumed by the batch scheduler so delegations and direct
// tool calls share one dispatch path.
type WorkerRunner interface {
	Delegate(ctx context.Context, delegation Delegation) WorkerResult
}
