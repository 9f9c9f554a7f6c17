package core

import (
	"errors"
	"fmt"
)

// FailureKind categorizes operation failures in the taxonomy consumed by the
// decision oracle on the next wake-up. Failures are data, not control flow:
// they are recorded as ToolResult events and never abort sibling operations.
type FailureKind string

const (
	// FailureTimeout indicates the operation exceeded its deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureRemoteError indicates the tool provider reported an error.
	FailureRemoteError FailureKind = "remote_error"
	// FailureInvalidArguments indicates the arguments did not satisfy the
	// tool's declared schema; the provider was never reached.
	FailureInvalidArguments FailureKind = "invalid_arguments"
	// FailureRejected indicates the orchestrator refused to execute the
	// operation (e.g. an unconfirmed irreversible effect).
	FailureRejected FailureKind = "rejected"
)

// OperationFailure is the typed failure payload carried inside a ToolResult.
type OperationFailure struct {
	Kind   FailureKind `json:"kind"`
	Code   string      `json:"code,omitempty"` // provider status code for remote errors
	Detail string      `json:"detail,omitempty"`
}

// Error implements the error interface.
func (f *OperationFailure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("operation failure [%s/%s]: %s", f.Kind, f.Code, f.Detail)
	}
	return fmt.Sprintf("operation failure [%s]: %s", f.Kind, f.Detail)
}

// NewTimeoutFailure builds a timeout failure for the named tool.
func NewTimeoutFailure(detail string) *OperationFailure {
	return &OperationFailure{Kind: FailureTimeout, Detail: detail}
}

// NewRemoteFailure builds a provider-side failure with an optional code.
func NewRemoteFailure(code, detail string) *OperationFailure {
	return &OperationFailure{Kind: FailureRemoteError, Code: code, Detail: detail}
}

// NewInvalidArgumentsFailure builds an argument validation failure.
func NewInvalidArgumentsFailure(detail string) *OperationFailure {
	return &OperationFailure{Kind: FailureInvalidArguments, Detail: detail}
}

// NewRejectedFailure builds an orchestrator-side rejection.
func NewRejectedFailure(detail string) *OperationFailure {
	return &OperationFailure{Kind: FailureRejected, Detail: detail}
}

// ErrLogUnavailable signals that the event log storage is unreachable. This
// is the single fatal error of the engine; it surfaces to the process
// supervisor instead of being recorded as data.
var ErrLogUnavailable = errors.New("event log storage unavailable")

// ErrBudgetExhausted signals that a run consumed its entire step budget. The
// owning executor converts it into a best-effort terminal result.
var ErrBudgetExhausted = errors.New("step budget exhausted")

// ErrMalformedDecision signals that the oracle returned a decision violating
// the Decision schema. The caller re-prompts with an error note a bounded
// number of times, then degrades to Wait.
var ErrMalformedDecision = errors.New("oracle returned malformed decision")
