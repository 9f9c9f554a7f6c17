package core

import "context"

// TaskKind identifies the execution surface consulting the oracle. Prompt
// construction and reserved terminal tools differ per surface.
type TaskKind string

const (
	// TaskConversation is the top-level orchestrator loop.
	TaskConversation TaskKind = "conversation"
	// TaskWorker is a bounded delegated task.
	TaskWorker TaskKind = "worker"
	// TaskWorkflow is a standalone workflow run with a declared output format.
	TaskWorkflow TaskKind = "workflow"
)

// TaskContext carries everything the oracle needs beyond the event log
// snapshot: the surface kind, task instructions, budget posture and any
// ambient profile data. It is a value; oracles must not retain it.
type TaskContext struct {
	Kind         TaskKind
	Instructions string
	// OutputFormat is the declared output schema for workflow runs.
	OutputFormat string
	// Profile is ambient user/context data injected by the orchestrator.
	Profile map[string]any
	// RemainingSteps is the number of wake-ups left before forced
	// finalization. Negative means unbudgeted.
	RemainingSteps int
	// FinalStep biases the oracle toward immediate output compilation
	// instead of opening new delegations.
	FinalStep bool
	// Note carries a recovery hint, e.g. the validation error of a
	// previously malformed decision.
	Note string
}

// Oracle is the externally-supplied decision component (originally a language
// model call). Implementations must always terminate and always return a
// well-formed Decision or an error; they are consulted with a snapshot and
// must not mutate it. Determinism is not required, replay safety is.
type Oracle interface {
	Decide(ctx context.Context, events []Event, taskCtx TaskContext) (Decision, error)
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(ctx context.Context, events []Event, taskCtx TaskContext) (Decision, error)

// Decide implements Oracle.
func (f OracleFunc) Decide(ctx context.Context, events []Event, taskCtx TaskContext) (Decision, error) {
	return f(ctx, events, taskCtx)
}
