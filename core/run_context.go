package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/taskmesh/logging"
)

// RunContext carries the execution scope for one run. Every component call
// receives it explicitly; there is no ambient/global current-run state. It
// aggregates:
//   - The ambient cancellation Context
//   - Identifiers (ConversationID, RunID) and the surface Kind
//   - The backing LogStore and this run's log id
//   - The step budget governing forced termination
//
// RunContext values are created per run and derived (never shared) for
// worker sub-runs so a delegation's private sub-log stays isolated.
type RunContext struct {
	Context        context.Context
	ConversationID string
	RunID          string
	Kind           TaskKind
	LogStore       LogStore
	Budget         *StepBudget

	*loggerAdapter
}

// NewRunContext constructs a RunContext bound to a log store and budget.
func NewRunContext(
	ctx context.Context,
	conversationID, runID string,
	kind TaskKind,
	store LogStore,
	budget *StepBudget,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:        ctx,
		ConversationID: conversationID,
		RunID:          runID,
		Kind:           kind,
		LogStore:       store,
		Budget:         budget,
		loggerAdapter:  newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// AppendEvent appends an event to this run's log. Storage unavailability is
// the engine's single fatal error and is surfaced wrapped in
// ErrLogUnavailable for the process supervisor.
func (rc *RunContext) AppendEvent(ev Event) error {
	if rc.LogStore == nil {
		return fmt.Errorf("%w: no log store configured", ErrLogUnavailable)
	}
	if err := rc.LogStore.AppendEvent(rc.ConversationID, ev); err != nil {
		return fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	return nil
}

// Snapshot returns a consistent copy of this run's event log.
func (rc *RunContext) Snapshot() ([]Event, error) {
	if rc.LogStore == nil {
		return nil, fmt.Errorf("%w: no log store configured", ErrLogUnavailable)
	}
	events, err := rc.LogStore.Snapshot(rc.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	return events, nil
}

// NewChildContext derives a context for a nested run (worker delegation)
// with its own log id and budget. Logger and cancellation are inherited.
func (rc *RunContext) NewChildContext(conversationID, runID string, kind TaskKind, budget *StepBudget) *RunContext {
	return &RunContext{
		Context:        rc.Context,
		ConversationID: conversationID,
		RunID:          runID,
		Kind:           kind,
		LogStore:       rc.LogStore,
		Budget:         budget,
		loggerAdapter:  rc.loggerAdapter,
	}
}
