// Package workflow runs standalone, trigger-driven task runs with a
// declared output format (e.g. a scheduled morning briefing). A run is a
// bounded oracle loop like a worker delegation, but terminates with
// return_workflow_output and is biased on its last step toward compiling
// the output from whatever was gathered, marking fields it could not fill.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/batch"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/eventlog"
	"github.com/hupe1980/taskmesh/logging"
)

// DefaultStepBudget bounds a workflow run unless overridden.
const DefaultStepBudget = 15

// Options configures a workflow Runner.
type Options struct {
	// StepBudget is the hard ceiling on oracle wake-ups per run.
	StepBudget int
	// MaxParallel caps concurrent operations within one decision wave.
	MaxParallel int
	// ToolTimeout bounds direct tool invocations.
	ToolTimeout time.Duration
	// Workers executes delegation operations issued by the workflow.
	Workers core.WorkerRunner
	// Store persists run logs. Defaults to an ephemeral in-memory store.
	Store core.LogStore
	// Logger provides structured logging. Defaults to NoOp if nil.
	Logger logging.Logger
}

// Output is the terminal result of a workflow run. State is exactly one of
// StateCompleted or StateBudgetExhausted; budget exhaustion still carries
// the best output the run could assemble.
type Output struct {
	Answer string
	State  core.WorkerState
	Steps  int
}

// Runner executes workflow runs. Safe for concurrent use; each Run gets its
// own log and budget.
type Runner struct {
	oracle     core.Oracle
	batch      *batch.Scheduler
	store      core.LogStore
	stepBudget int
	logger     logging.Logger
}

// New creates a Runner deciding with oracle and invoking tools through
// invoker.
func New(oracle core.Oracle, invoker core.ToolInvoker, optFns ...func(o *Options)) *Runner {
	opts := Options{
		StepBudget: DefaultStepBudget,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	store := opts.Store
	if store == nil {
		store = eventlog.NewInMemoryStore()
	}

	b := batch.New(invoker, func(o *batch.Options) {
		o.MaxParallel = opts.MaxParallel
		o.ToolTimeout = opts.ToolTimeout
		o.Workers = opts.Workers
		o.Logger = opts.Logger
	})

	return &Runner{
		oracle:     oracle,
		batch:      b,
		store:      store,
		stepBudget: opts.StepBudget,
		logger:     opts.Logger,
	}
}

// Run executes one workflow with the given instructions and output format.
// The returned error covers infrastructure failures only; running out of
// budget is a degraded Output, not an error.
func (r *Runner) Run(ctx context.Context, instructions, outputFormat string) (Output, error) {
	runID := core.NewID()
	logID := "workflow:" + runID
	budget := core.NewStepBudget(r.stepBudget)
	rc := core.NewRunContext(ctx, logID, runID, core.TaskWorkflow, r.store, budget, r.logger)

	if _, err := r.store.Get(logID); err != nil {
		return Output{}, fmt.Errorf("open run log: %w", err)
	}
	if err := rc.AppendEvent(core.NewUserMessageEvent(logID, instructions)); err != nil {
		return Output{}, err
	}

	r.logger.Info("workflow.start", "run", runID, "budget", r.stepBudget)

	var note string
	for budget.Step() == nil {
		decision, err := r.step(rc, instructions, outputFormat, note, budget.Remaining() == 0)
		note = ""
		if err != nil {
			if errors.Is(err, core.ErrMalformedDecision) {
				note = err.Error()
				rc.LogWarn("workflow.decision.malformed", "run", runID, "error", err)
				continue
			}
			return Output{}, err
		}

		if decision.Final != nil {
			r.logger.Info("workflow.complete", "run", runID, "steps", budget.Used())
			return Output{Answer: decision.Final.Answer, State: core.StateCompleted, Steps: budget.Used()}, nil
		}

		if err := r.apply(rc, decision); err != nil {
			return Output{}, err
		}
	}

	// Forced synthesis: one off-budget consultation that must compile the
	// output from the gathered state, marking fields it cannot fill.
	forced, err := r.step(rc, instructions, outputFormat,
		"the step limit is reached, return the output now and mark fields you could not determine as unavailable", true)
	if err == nil && forced.Final != nil {
		r.logger.Warn("workflow.budget.exhausted", "run", runID, "steps", budget.Used())
		return Output{Answer: forced.Final.Answer, State: core.StateBudgetExhausted, Steps: budget.Used()}, nil
	}

	snapshot, snapErr := rc.Snapshot()
	if snapErr != nil {
		return Output{}, snapErr
	}

	r.logger.Warn("workflow.budget.exhausted", "run", runID, "steps", budget.Used())
	return Output{Answer: fallbackOutput(snapshot), State: core.StateBudgetExhausted, Steps: budget.Used()}, nil
}

// step performs one consultation.
func (r *Runner) step(rc *core.RunContext, instructions, outputFormat, note string, finalStep bool) (core.Decision, error) {
	snapshot, err := rc.Snapshot()
	if err != nil {
		return core.Decision{}, err
	}

	remaining := rc.Budget.Remaining() + 1
	if remaining < 1 {
		remaining = 0
	}

	taskCtx := core.TaskContext{
		Kind:           core.TaskWorkflow,
		Instructions:   instructions,
		OutputFormat:   outputFormat,
		RemainingSteps: remaining,
		FinalStep:      finalStep,
		Note:           note,
	}

	return r.oracle.Decide(rc.Context, snapshot, taskCtx)
}

// apply records and executes a non-terminal decision.
func (r *Runner) apply(rc *core.RunContext, decision core.Decision) error {
	if decision.Wait {
		// Workflows never idle; record the reason and move on.
		return rc.AppendEvent(core.NewThoughtEvent(rc.ConversationID, "workflow", "cannot wait: "+decision.WaitReason))
	}

	if decision.Acknowledgement != "" {
		if err := rc.AppendEvent(core.NewThoughtEvent(rc.ConversationID, "workflow", decision.Acknowledgement)); err != nil {
			return err
		}
	}

	for _, op := range decision.Operations {
		call := core.ToolCall{ID: op.ID, Name: op.Name(), Arguments: op.Arguments}
		if err := rc.AppendEvent(core.NewToolCallEvent(rc.ConversationID, "workflow", call)); err != nil {
			return err
		}
	}

	_, err := r.batch.Execute(rc, "workflow", decision.Operations)
	return err
}

// fallbackOutput recovers a degraded result when even the forced synthesis
// failed: the last recorded reasoning note, or a fixed marker.
func fallbackOutput(events []core.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == core.KindThought {
			if text := events[i].Text(); text != "" {
				return text
			}
		}
	}
	return "The workflow could not assemble its output within the allotted steps."
}
