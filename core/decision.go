package core

import (
	"fmt"
)

// Decision is the ephemeral value produced by a decision oracle per wake-up.
// It is never persisted as such; its effects are persisted as the events it
// produces. Exactly one of the following shapes is well-formed:
//
//   - Wait: no user-visible output, no operations
//   - Act: optional Acknowledgement text plus zero or more Operations
//   - Final: terminal answer/output (worker and workflow runs only)
//
// A Final decision ends the run; any operations attached alongside it are
// discarded by the executor, mirroring the precedence a terminal call has
// over sibling tool calls issued in the same oracle turn.
type Decision struct {
	Wait            bool        `json:"wait,omitempty"`
	WaitReason      string      `json:"wait_reason,omitempty"`
	Acknowledgement string      `json:"acknowledgement,omitempty"`
	Operations      []Operation `json:"operations,omitempty"`
	Final           *Final      `json:"final,omitempty"`
}

// Final is the terminal payload of a worker or workflow run.
type Final struct {
	Answer string `json:"answer"`
}

// OperationTarget distinguishes direct tool invocations from worker
// delegations. Tagged-variant dispatch keeps batch logic uniform.
type OperationTarget string

const (
	// TargetDirectTool routes the operation through the tool gateway.
	TargetDirectTool OperationTarget = "tool"
	// TargetWorkerDelegation routes the operation to a worker executor.
	TargetWorkerDelegation OperationTarget = "worker"
)

// Operation is one requested side-effecting or delegated action within a
// Decision. ID is the caller-supplied correlation id echoed on the resulting
// ToolResult event. DependsOn may only reference operation ids within the
// same decision; a later decision already observes this operation's result
// from the event log.
type Operation struct {
	ID        string      `json:"id"`
	Tool      string      `json:"tool,omitempty"`
	Arguments string      `json:"arguments,omitempty"`
	Worker    *Delegation `json:"worker,omitempty"`
	DependsOn []string    `json:"depends_on,omitempty"`
}

// Target returns the dispatch variant of the operation.
func (o Operation) Target() OperationTarget {
	if o.Worker != nil {
		return TargetWorkerDelegation
	}
	return TargetDirectTool
}

// Name returns the tool name or the delegated worker's session-facing name,
// used for result events and logging.
func (o Operation) Name() string {
	if o.Worker != nil {
		return "delegate_worker"
	}
	return o.Tool
}

// Delegation describes a worker task embedded in an operation.
type Delegation struct {
	Instructions string `json:"instructions"`
	// SessionID selects the stateful variant: a later delegation with the
	// same id resumes with prior context. Empty means stateless.
	SessionID  string `json:"session_id,omitempty"`
	StepBudget int    `json:"step_budget,omitempty"` // 0 uses the executor default
}

// Stateful reports whether the delegation resumes a persisted session.
func (d Delegation) Stateful() bool { return d.SessionID != "" }

// Validate checks decision well-formedness. A violation maps to
// ErrMalformedDecision at the orchestrator, which re-prompts the oracle.
func (d Decision) Validate() error {
	if d.Wait && (len(d.Operations) > 0 || d.Acknowledgement != "" || d.Final != nil) {
		return fmt.Errorf("%w: wait decision carries operations or output", ErrMalformedDecision)
	}
	ids := make(map[string]struct{}, len(d.Operations))
	for _, op := range d.Operations {
		if op.ID == "" {
			return fmt.Errorf("%w: operation without correlation id", ErrMalformedDecision)
		}
		if _, dup := ids[op.ID]; dup {
			return fmt.Errorf("%w: duplicate operation id %q", ErrMalformedDecision, op.ID)
		}
		ids[op.ID] = struct{}{}
		if op.Worker == nil && op.Tool == "" {
			return fmt.Errorf("%w: operation %q has no target", ErrMalformedDecision, op.ID)
		}
		if op.Worker != nil && op.Worker.Instructions == "" {
			return fmt.Errorf("%w: delegation %q without instructions", ErrMalformedDecision, op.ID)
		}
	}
	for _, op := range d.Operations {
		for _, dep := range op.DependsOn {
			if dep == op.ID {
				return fmt.Errorf("%w: operation %q depends on itself", ErrMalformedDecision, op.ID)
			}
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("%w: operation %q depends on unknown id %q", ErrMalformedDecision, op.ID, dep)
			}
		}
	}
	if cyclic(d.Operations) {
		return fmt.Errorf("%w: dependency cycle between operations", ErrMalformedDecision)
	}
	return nil
}

// cyclic detects dependency cycles with an iterative color sweep. Decision
// batches are small (single digits) so no adjacency index is built.
func cyclic(ops []Operation) bool {
	byID := make(map[string]Operation, len(ops))
	for _, op := range ops {
		byID[op.ID] = op
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ops))
	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case gray:
			return true
		case black:
			return false
		}
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			if visit(dep) {
				return true
			}
		}
		color[id] = black
		return false
	}
	for _, op := range ops {
		if visit(op.ID) {
			return true
		}
	}
	return false
}

// WaitDecision is a convenience constructor for the idle path.
func WaitDecision(reason string) Decision {
	return Decision{Wait: true, WaitReason: reason}
}
