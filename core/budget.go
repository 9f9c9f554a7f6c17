package core

import (
	"fmt"
	"sync"
)

// StepBudget enforces a hard ceiling on orchestration steps per run. A step
// is one oracle wake-up that issues at least one operation. The budget also
// exposes the final-step flag used to bias the oracle toward output
// compilation before the forced cutoff.
type StepBudget struct {
	max  int
	used int
	mu   sync.Mutex
}

// NewStepBudget creates a budget with a maximum number of steps.
// If max == 0, the budget is unlimited.
func NewStepBudget(max int) *StepBudget {
	return &StepBudget{max: max}
}

// Step consumes one step and returns ErrBudgetExhausted once the ceiling is
// crossed. The exhaustion path must degrade gracefully at the caller; it is
// always reachable and never an unrecoverable fault.
func (b *StepBudget) Step() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used++
	if b.max > 0 && b.used > b.max {
		return fmt.Errorf("%w: %d steps", ErrBudgetExhausted, b.max)
	}
	return nil
}

// Used returns the number of steps consumed so far.
func (b *StepBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining returns how many steps are left, or -1 when unlimited.
func (b *StepBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max == 0 {
		return -1
	}
	return b.max - b.used
}

// FinalStep reports that exactly one step remains.
func (b *StepBudget) FinalStep() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max > 0 && b.max-b.used == 1
}

// Exhausted reports that the ceiling has been reached or crossed.
func (b *StepBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max > 0 && b.used >= b.max
}
