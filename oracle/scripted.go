package oracle

import (
	"context"
	"sync"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/gateway"
	"github.com/hupe1980/taskmesh/model"
)

// ScriptedOracle returns a fixed sequence of decisions, one per consultation,
// and records what it was consulted with. Once the script is exhausted every
// further consultation waits. Safe for concurrent use.
type ScriptedOracle struct {
	mu        sync.Mutex
	decisions []core.Decision
	next      int
	calls     []Consultation
}

// Consultation captures one Decide invocation for later assertions.
type Consultation struct {
	Events      []core.Event
	TaskContext core.TaskContext
}

var _ core.Oracle = (*ScriptedOracle)(nil)

// NewScriptedOracle creates an oracle that replays the given decisions in
// order.
func NewScriptedOracle(decisions ...core.Decision) *ScriptedOracle {
	return &ScriptedOracle{decisions: decisions}
}

// Decide implements core.Oracle.
func (s *ScriptedOracle) Decide(_ context.Context, events []core.Event, taskCtx core.TaskContext) (core.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make([]core.Event, len(events))
	copy(snapshot, events)
	s.calls = append(s.calls, Consultation{Events: snapshot, TaskContext: taskCtx})

	if s.next >= len(s.decisions) {
		return core.WaitDecision("script exhausted"), nil
	}

	d := s.decisions[s.next]
	s.next++
	return d, nil
}

// Consultations returns a copy of all recorded consultations.
func (s *ScriptedOracle) Consultations() []Consultation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Consultation, len(s.calls))
	copy(out, s.calls)
	return out
}

// Calls returns how often the oracle was consulted.
func (s *ScriptedOracle) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// ToolDefinitions converts registered gateway tools into model tool
// definitions for exposure to a ModelOracle.
func ToolDefinitions(tools []gateway.Tool) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = functionDef(t.Name(), t.Description(), t.Parameters())
	}
	return defs
}
