// Package batch executes the operation set of a single Decision. Operations
// with no declared dependency run fully concurrently; dependent operations
// are sequenced into later waves once their dependency's outcome is
// observed. Every operation yields exactly one ToolResult event carrying the
// caller-supplied correlation id, appended to the event log in the
// operation's declared order so replays are deterministic.
package batch

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"golang.org/x/sync/errgroup"
)

// Options configures the wave executor.
type Options struct {
	// MaxParallel caps concurrent operations within one wave.
	// 0 or negative means no explicit limit (wave size).
	MaxParallel int
	// ToolTimeout bounds each direct tool invocation. 0 uses the gateway
	// default.
	ToolTimeout time.Duration
	// Workers executes delegation operations. Optional; without it any
	// delegation fails with a rejected result.
	Workers core.WorkerRunner
	// Logger provides structured logging. Defaults to NoOp if nil.
	Logger logging.Logger
}

// Scheduler is the batch executor for one decision's operations. It is
// stateless across calls and safe for concurrent use by independent runs.
type Scheduler struct {
	invoker     core.ToolInvoker
	workers     core.WorkerRunner
	maxParallel int
	toolTimeout time.Duration
	logger      logging.Logger
}

// New constructs a Scheduler dispatching direct operations to invoker.
func New(invoker core.ToolInvoker, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Scheduler{
		invoker:     invoker,
		workers:     opts.Workers,
		maxParallel: opts.MaxParallel,
		toolTimeout: opts.ToolTimeout,
		logger:      opts.Logger,
	}
}

// Execute runs all operations of one decision and appends exactly one
// ToolResult event per operation to the run's log. Partial failure within a
// wave never cancels sibling operations; each completes independently and
// records its own outcome. The returned events mirror what was appended, in
// declared operation order per wave.
//
// The only error return is log storage unavailability, which is fatal to the
// run.
func (s *Scheduler) Execute(rc *core.RunContext, author string, ops []core.Operation) ([]core.Event, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	waves := Waves(ops)
	appended := make([]core.Event, 0, len(ops))
	batchStart := time.Now()

	for i, wave := range waves {
		results := s.executeWave(rc, wave)

		// Deterministic order: results are buffered and appended in the
		// operation's declared order, never completion order.
		for _, op := range wave {
			res := results[op.ID]
			ev := core.NewToolResultEvent(rc.ConversationID, author, res)
			if err := rc.AppendEvent(ev); err != nil {
				return appended, err
			}
			appended = append(appended, ev)
		}

		s.logger.Debug(
			"batch.wave.complete",
			"run", rc.RunID,
			"wave", i,
			"count", len(wave),
		)
	}

	s.logger.Info(
		"batch.complete",
		"run", rc.RunID,
		"operations", len(ops),
		"waves", len(waves),
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return appended, nil
}

// executeWave runs one wave fully concurrently and returns the buffered
// outcomes keyed by operation id.
func (s *Scheduler) executeWave(rc *core.RunContext, wave []core.Operation) map[string]core.ToolResult {
	results := make(map[string]core.ToolResult, len(wave))

	// Fast path: single operation, execute inline.
	if len(wave) == 1 {
		op := wave[0]
		results[op.ID] = s.executeOne(rc, op)
		return results
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	if s.maxParallel > 0 {
		g.SetLimit(s.maxParallel)
	}

	for _, op := range wave {
		g.Go(func() error {
			res := s.executeOne(rc, op)
			mu.Lock()
			results[op.ID] = res
			mu.Unlock()
			return nil
		})
	}

	// Goroutines never return errors; failures are data in the results.
	_ = g.Wait()

	return results
}

// executeOne dispatches a single operation with panic isolation. A direct
// operation goes through the gateway, a delegation through the worker
// runner. Cancellation of the run context surfaces as a timeout failure for
// this operation only.
func (s *Scheduler) executeOne(rc *core.RunContext, op core.Operation) (res core.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("batch.operation.panic", "op", op.ID, "recover", r, "stack", string(debug.Stack()))
			res = core.ToolResult{
				ID:      op.ID,
				Name:    op.Name(),
				Failure: core.NewRemoteFailure("panic", fmt.Sprintf("operation panicked: %v", r)),
			}
		}
	}()

	if err := rc.Context.Err(); err != nil {
		return core.ToolResult{
			ID:      op.ID,
			Name:    op.Name(),
			Failure: core.NewTimeoutFailure(fmt.Sprintf("run cancelled: %v", err)),
		}
	}

	start := time.Now()

	switch op.Target() {
	case core.TargetWorkerDelegation:
		res = s.delegate(rc, op)
	default:
		res = s.invoker.Invoke(rc.Context, core.ToolCall{ID: op.ID, Name: op.Tool, Arguments: op.Arguments}, s.toolTimeout)
	}

	s.logger.Info(
		"batch.operation.executed",
		"run", rc.RunID,
		"op", op.ID,
		"target", string(op.Target()),
		"name", op.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
		"failed", res.Failed(),
	)

	return res
}

// delegate routes a worker delegation and converts its terminal result into
// a ToolResult. Budget exhaustion is a degraded success carrying the
// best-effort answer, not a failure.
func (s *Scheduler) delegate(rc *core.RunContext, op core.Operation) core.ToolResult {
	res := core.ToolResult{ID: op.ID, Name: op.Name()}

	if s.workers == nil {
		res.Failure = core.NewRejectedFailure("no worker runner configured")
		return res
	}

	wr := s.workers.Delegate(rc.Context, *op.Worker)
	if wr.State == core.StateFailed {
		detail := "worker run failed"
		if wr.Err != nil {
			detail = wr.Err.Error()
		}
		res.Failure = core.NewRemoteFailure("worker_failed", detail)
		return res
	}

	res.Response = map[string]any{
		"answer": wr.Answer,
		"state":  string(wr.State),
	}
	return res
}

// Waves partitions operations into dependency waves: wave 0 holds operations
// with no unresolved dependency, wave n+1 holds operations whose every
// dependency completed in waves 0..n. Input is assumed validated
// (Decision.Validate); on a malformed graph the unreachable remainder is
// emitted as a final wave so every operation still yields exactly one
// outcome.
func Waves(ops []core.Operation) [][]core.Operation {
	resolved := make(map[string]bool, len(ops))
	pending := make([]core.Operation, len(ops))
	copy(pending, ops)

	var waves [][]core.Operation
	for len(pending) > 0 {
		var wave, rest []core.Operation
		for _, op := range pending {
			ready := true
			for _, dep := range op.DependsOn {
				if !resolved[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, op)
			} else {
				rest = append(rest, op)
			}
		}

		if len(wave) == 0 {
			// Cycle or dangling reference survived validation; flush the
			// remainder as one last wave instead of spinning.
			waves = append(waves, rest)
			break
		}

		for _, op := range wave {
			resolved[op.ID] = true
		}
		waves = append(waves, wave)
		pending = rest
	}

	return waves
}
