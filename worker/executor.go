// Package worker executes delegated tasks. An Executor consumes a
// Delegation, drives its own oracle loop against a private sub-log and
// terminates in exactly one of three states: completed with an answer,
// budget exhausted with a best-effort answer, or failed. The delegator only
// ever observes the terminal result; none of the worker's intermediate
// events reach the conversation log.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/taskmesh/batch"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/eventlog"
	"github.com/hupe1980/taskmesh/logging"
)

// DefaultStepBudget bounds a delegation that does not override it.
const DefaultStepBudget = 10

// Options configures a worker Executor.
type Options struct {
	// DefaultStepBudget applies when a delegation carries no override.
	DefaultStepBudget int
	// Store persists stateful sessions keyed by session id. Stateless
	// delegations always run on an ephemeral log regardless.
	Store core.LogStore
	// Logger provides structured logging. Defaults to NoOp if nil.
	Logger logging.Logger
}

// Executor runs delegated tasks to completion. It is safe for concurrent
// use; parallel delegations never share mutable state unless they name the
// same session id.
type Executor struct {
	oracle        core.Oracle
	batch         *batch.Scheduler
	store         core.LogStore
	defaultBudget int
	logger        logging.Logger
}

var _ core.WorkerRunner = (*Executor)(nil)

// New creates an Executor deciding with oracle and executing operations
// through the batch scheduler.
func New(oracle core.Oracle, b *batch.Scheduler, optFns ...func(o *Options)) *Executor {
	opts := Options{
		DefaultStepBudget: DefaultStepBudget,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Executor{
		oracle:        oracle,
		batch:         b,
		store:         opts.Store,
		defaultBudget: opts.DefaultStepBudget,
		logger:        opts.Logger,
	}
}

// Delegate implements core.WorkerRunner. It never panics outward and never
// returns a zero state; any internal error maps to StateFailed.
func (e *Executor) Delegate(ctx context.Context, d core.Delegation) (res core.WorkerResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("worker.panic", "recover", r)
			res = core.WorkerResult{State: core.StateFailed, Err: fmt.Errorf("worker panicked: %v", r)}
		}
	}()

	if d.Instructions == "" {
		return core.WorkerResult{State: core.StateFailed, Err: errors.New("delegation without instructions")}
	}

	store, logID := e.sessionLog(d)
	if _, err := store.Get(logID); err != nil {
		return core.WorkerResult{State: core.StateFailed, Err: err}
	}

	maxSteps := d.StepBudget
	if maxSteps <= 0 {
		maxSteps = e.defaultBudget
	}
	budget := core.NewStepBudget(maxSteps)

	runID := core.NewID()
	rc := core.NewRunContext(ctx, logID, runID, core.TaskWorker, store, budget, e.logger)

	if err := rc.AppendEvent(core.NewUserMessageEvent(logID, d.Instructions)); err != nil {
		return core.WorkerResult{State: core.StateFailed, Err: err}
	}

	e.logger.Info("worker.start", "run", runID, "session", d.SessionID, "budget", maxSteps)

	return e.run(rc, d)
}

// run drives the decide/execute loop until a terminal state.
func (e *Executor) run(rc *core.RunContext, d core.Delegation) core.WorkerResult {
	var note string

	for rc.Budget.Step() == nil {
		snapshot, err := rc.Snapshot()
		if err != nil {
			return core.WorkerResult{State: core.StateFailed, Err: err}
		}

		taskCtx := core.TaskContext{
			Kind:           core.TaskWorker,
			Instructions:   d.Instructions,
			RemainingSteps: rc.Budget.Remaining() + 1,
			FinalStep:      rc.Budget.Remaining() == 0,
			Note:           note,
		}
		note = ""

		decision, err := e.oracle.Decide(rc.Context, snapshot, taskCtx)
		if err != nil {
			if errors.Is(err, core.ErrMalformedDecision) {
				// A malformed turn still consumes budget; feed the
				// validation detail back instead of aborting.
				note = err.Error()
				rc.LogWarn("worker.decision.malformed", "run", rc.RunID, "error", err)
				continue
			}
			return core.WorkerResult{State: core.StateFailed, Err: err}
		}

		if decision.Final != nil {
			e.logger.Info("worker.complete", "run", rc.RunID, "steps", rc.Budget.Used())
			return core.WorkerResult{Answer: decision.Final.Answer, State: core.StateCompleted}
		}

		if decision.Wait {
			// Workers have no idle path; waiting wastes a step.
			note = "waiting is not available here, work toward the answer or return it"
			continue
		}

		if decision.Acknowledgement != "" {
			if err := rc.AppendEvent(core.NewThoughtEvent(rc.ConversationID, "worker", decision.Acknowledgement)); err != nil {
				return core.WorkerResult{State: core.StateFailed, Err: err}
			}
		}

		for _, op := range decision.Operations {
			call := core.ToolCall{ID: op.ID, Name: op.Name(), Arguments: op.Arguments}
			if err := rc.AppendEvent(core.NewToolCallEvent(rc.ConversationID, "worker", call)); err != nil {
				return core.WorkerResult{State: core.StateFailed, Err: err}
			}
		}

		if _, err := e.batch.Execute(rc, "worker", decision.Operations); err != nil {
			return core.WorkerResult{State: core.StateFailed, Err: err}
		}
	}

	// Out of steps without a terminal call: degrade to a best-effort
	// answer built from what the run gathered. Never an error.
	snapshot, err := rc.Snapshot()
	if err != nil {
		return core.WorkerResult{State: core.StateFailed, Err: err}
	}

	e.logger.Warn("worker.budget.exhausted", "run", rc.RunID, "steps", rc.Budget.Used())

	return core.WorkerResult{Answer: bestEffortAnswer(snapshot), State: core.StateBudgetExhausted}
}

// sessionLog selects the backing log: stateful delegations share a keyed log
// in the configured store, everything else runs on a fresh ephemeral one.
func (e *Executor) sessionLog(d core.Delegation) (core.LogStore, string) {
	if d.Stateful() && e.store != nil {
		return e.store, "worker:" + d.SessionID
	}
	return eventlog.NewInMemoryStore(), core.NewID()
}

// bestEffortAnswer assembles a degraded answer from the run's trailing
// events: the last recorded reasoning note, falling back to the last
// successful tool result.
func bestEffortAnswer(events []core.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == core.KindThought {
			if text := events[i].Text(); text != "" {
				return text
			}
		}
	}
	for i := len(events) - 1; i >= 0; i-- {
		for _, res := range events[i].GetToolResults() {
			if res.Failed() {
				continue
			}
			if s, ok := res.Response.(string); ok && s != "" {
				return s
			}
		}
	}
	return "The task could not be completed within the allotted steps."
}
