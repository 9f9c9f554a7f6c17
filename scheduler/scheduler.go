// Package scheduler runs the top-level orchestration loop. One Scheduler
// serves many conversations; each conversation gets a single processing
// goroutine so wake-ups never overlap, with incoming events queued and
// drained in arrival order. Per wake-up the scheduler appends the collected
// events to the conversation log, consults the oracle once and applies its
// decision: user-visible output (deduplicated against the previous reply),
// operations (gated for irreversible effects), or an idle wait.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/batch"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/profile"
)

const (
	// DefaultMaxBatch caps how many queued events one wake-up consumes.
	DefaultMaxBatch = 4
	// DefaultMaxRePrompts bounds recovery attempts after a malformed
	// decision before the wake-up degrades to waiting.
	DefaultMaxRePrompts = 2
	// DefaultQueueSize is the per-conversation event queue capacity.
	DefaultQueueSize = 64

	author = "scheduler"
)

// Options configures a Scheduler.
type Options struct {
	// MaxBatch caps events consumed per wake-up.
	MaxBatch int
	// MaxRePrompts bounds malformed-decision recovery attempts.
	MaxRePrompts int
	// QueueSize is the per-conversation inbound queue capacity.
	QueueSize int
	// MaxParallel caps concurrent operations within one decision wave.
	MaxParallel int
	// ToolTimeout bounds direct tool invocations. 0 uses the gateway default.
	ToolTimeout time.Duration
	// Instructions are appended to the system prompt of every consultation.
	Instructions string
	// Workers executes delegation operations.
	Workers core.WorkerRunner
	// Profiles supplies ambient user data injected into consultations.
	Profiles profile.Store
	// Affirmatives extends the built-in confirmation lexicon.
	Affirmatives []string
	// Logger provides structured logging. Defaults to NoOp if nil.
	Logger logging.Logger
}

// Scheduler is the orchestrator. Create with New, then Start, feed events
// through Notify (or the Say/Deliver helpers) and consume user-visible
// output from Outputs.
type Scheduler struct {
	oracle       core.Oracle
	store        core.LogStore
	invoker      core.ToolInvoker
	batch        *batch.Scheduler
	profiles     profile.Store
	instructions string
	maxBatch     int
	maxRePrompts int
	queueSize    int
	affirmatives []string
	logger       logging.Logger

	mu      sync.Mutex
	convs   map[string]*conversation
	out     chan core.Event
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// conversation is the per-conversation processing state. queue carries
// inbound events, wake nudges the loop after operation results landed, seen
// deduplicates redelivered external events by correlation id.
type conversation struct {
	id    string
	queue chan core.Event
	wake  chan struct{}
	seen  map[string]bool
}

// New creates a Scheduler deciding with oracle, persisting to store and
// executing operations through invoker.
func New(oracle core.Oracle, store core.LogStore, invoker core.ToolInvoker, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		MaxBatch:     DefaultMaxBatch,
		MaxRePrompts: DefaultMaxRePrompts,
		QueueSize:    DefaultQueueSize,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	b := batch.New(invoker, func(o *batch.Options) {
		o.MaxParallel = opts.MaxParallel
		o.ToolTimeout = opts.ToolTimeout
		o.Workers = opts.Workers
		o.Logger = opts.Logger
	})

	return &Scheduler{
		oracle:       oracle,
		store:        store,
		invoker:      invoker,
		batch:        b,
		profiles:     opts.Profiles,
		instructions: opts.Instructions,
		maxBatch:     opts.MaxBatch,
		maxRePrompts: opts.MaxRePrompts,
		queueSize:    opts.QueueSize,
		affirmatives: append(append([]string{}, defaultAffirmatives...), opts.Affirmatives...),
		logger:       opts.Logger,
		convs:        make(map[string]*conversation),
		out:          make(chan core.Event, DefaultQueueSize),
	}
}

// Start begins processing. It must be called exactly once before Notify.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	if s.stopped {
		return errors.New("scheduler already stopped")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.logger.Info("scheduler.start")
	return nil
}

// Stop cancels all conversation loops, waits for them to drain and closes
// the output channel. A stopped scheduler rejects further events and cannot
// be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.stopped = true
	s.mu.Unlock()

	s.wg.Wait()
	close(s.out)
	s.logger.Info("scheduler.stop")
}

// Outputs returns the channel of user-visible output events across all
// conversations. Closed by Stop.
func (s *Scheduler) Outputs() <-chan core.Event {
	return s.out
}

// Say enqueues a user message for the conversation.
func (s *Scheduler) Say(conversationID, message string) error {
	return s.Notify(core.NewUserMessageEvent(conversationID, message))
}

// Deliver enqueues an external feed event. Redeliveries with a correlation
// id already processed for the conversation are dropped.
func (s *Scheduler) Deliver(conversationID, feed, correlation string, payload map[string]any) error {
	return s.Notify(core.NewExternalEvent(conversationID, feed, correlation, payload))
}

// Notify enqueues an event for its conversation, waking the loop. It fails
// when the scheduler is not started or the conversation's queue is full.
func (s *Scheduler) Notify(ev core.Event) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("scheduler not started")
	}
	c, err := s.conversationLocked(ev.ConversationID)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case c.queue <- ev:
		return nil
	default:
		return fmt.Errorf("conversation %s: event queue full", ev.ConversationID)
	}
}

// conversationLocked returns the conversation state, creating it and
// starting its loop on first contact. Caller holds s.mu.
func (s *Scheduler) conversationLocked(id string) (*conversation, error) {
	if id == "" {
		return nil, errors.New("event without conversation id")
	}
	if c, ok := s.convs[id]; ok {
		return c, nil
	}

	if _, err := s.store.Get(id); err != nil {
		return nil, fmt.Errorf("open conversation log: %w", err)
	}

	c := &conversation{
		id:    id,
		queue: make(chan core.Event, s.queueSize),
		wake:  make(chan struct{}, 1),
		seen:  make(map[string]bool),
	}
	s.convs[id] = c

	s.wg.Add(1)
	go s.loop(c)

	return c, nil
}

// loop is the single processing goroutine of one conversation. Serialized
// wake-ups are the concurrency model: while one wake-up runs, further
// events just queue up.
func (s *Scheduler) loop(c *conversation) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-c.queue:
			incoming := []core.Event{ev}
		collect:
			for len(incoming) < s.maxBatch {
				select {
				case next := <-c.queue:
					incoming = append(incoming, next)
				default:
					break collect
				}
			}
			s.wakeup(c, incoming)
		case <-c.wake:
			s.wakeup(c, nil)
		}
	}
}

// wakeup processes one decision cycle: persist incoming events, consult the
// oracle, apply the decision.
func (s *Scheduler) wakeup(c *conversation, incoming []core.Event) {
	rc := core.NewRunContext(s.ctx, c.id, core.NewID(), core.TaskConversation, s.store, core.NewStepBudget(0), s.logger)

	for _, ev := range incoming {
		if ev.Kind == core.KindExternalEvent && ev.Correlation != "" {
			if c.seen[ev.Correlation] {
				s.logger.Debug("scheduler.external.duplicate", "conversation", c.id, "correlation", ev.Correlation)
				continue
			}
			c.seen[ev.Correlation] = true
		}
		if err := rc.AppendEvent(ev); err != nil {
			s.logger.Error("scheduler.append.failed", "conversation", c.id, "error", err)
			return
		}
	}

	snapshot, err := rc.Snapshot()
	if err != nil {
		s.logger.Error("scheduler.snapshot.failed", "conversation", c.id, "error", err)
		return
	}

	decision := s.decide(rc, snapshot, pendingResults(snapshot))

	if decision.Wait {
		reason := decision.WaitReason
		if reason == "" {
			reason = "nothing to do"
		}
		if err := rc.AppendEvent(core.NewThoughtEvent(c.id, author, "waiting: "+reason)); err != nil {
			s.logger.Error("scheduler.append.failed", "conversation", c.id, "error", err)
		}
		return
	}

	// Conversations have no terminal answer; a final degrades to a plain
	// reply and discards any operations attached alongside it.
	text := decision.Acknowledgement
	if text == "" && decision.Final != nil {
		text = decision.Final.Answer
	}
	if text != "" {
		s.deliverOutput(rc, c, snapshot, text)
	}

	if decision.Final == nil && len(decision.Operations) > 0 {
		s.executeOperations(rc, c, snapshot, decision.Operations)
	}
}

// decide consults the oracle, re-prompting a bounded number of times with
// the validation detail when the decision is malformed, or with a delivery
// reminder when results await surfacing and the oracle tries to wait. After
// the last attempt it degrades to waiting rather than failing the
// conversation.
func (s *Scheduler) decide(rc *core.RunContext, snapshot []core.Event, pending []string) core.Decision {
	var note string

	for attempt := 0; ; attempt++ {
		taskCtx := core.TaskContext{
			Kind:           core.TaskConversation,
			Instructions:   s.instructions,
			Profile:        s.profileFor(rc.ConversationID),
			RemainingSteps: -1,
			Note:           note,
		}
		if len(pending) > 0 {
			reminder := fmt.Sprintf("%d operation results are pending delivery, surface them in your reply", len(pending))
			if taskCtx.Note != "" {
				taskCtx.Note += "; " + reminder
			} else {
				taskCtx.Note = reminder
			}
		}

		decision, err := s.oracle.Decide(rc.Context, snapshot, taskCtx)
		if err == nil {
			// Pending results make a bare wait a contract violation, not a
			// choice; push back until the reply carries them.
			if decision.Wait && len(pending) > 0 && attempt < s.maxRePrompts {
				note = "operation results are pending delivery and must be surfaced before waiting"
				s.logger.Warn("scheduler.results.unsurfaced", "conversation", rc.ConversationID, "pending", len(pending), "attempt", attempt+1)
				continue
			}
			return decision
		}

		if errors.Is(err, core.ErrMalformedDecision) && attempt < s.maxRePrompts {
			note = err.Error()
			s.logger.Warn("scheduler.decision.malformed", "conversation", rc.ConversationID, "attempt", attempt+1, "error", err)
			continue
		}

		s.logger.Error("scheduler.decision.failed", "conversation", rc.ConversationID, "error", err)
		return core.WaitDecision("decision unavailable")
	}
}

// pendingResults collects the correlation ids of operation results not yet
// surfaced in a user-visible reply: tool results with no assistant output
// after them.
func pendingResults(events []core.Event) []string {
	var ids []string
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == core.KindAssistantOutput {
			break
		}
		if events[i].Kind == core.KindToolResult {
			for _, res := range events[i].GetToolResults() {
				ids = append(ids, res.ID)
			}
		}
	}
	return ids
}

// deliverOutput appends and emits a user-visible reply unless it repeats
// the previous one, in which case only an internal note is recorded.
func (s *Scheduler) deliverOutput(rc *core.RunContext, c *conversation, snapshot []core.Event, text string) {
	if duplicateOutput(snapshot, text) {
		s.logger.Info("scheduler.output.duplicate", "conversation", c.id)
		if err := rc.AppendEvent(core.NewThoughtEvent(c.id, author, "suppressed repeated reply")); err != nil {
			s.logger.Error("scheduler.append.failed", "conversation", c.id, "error", err)
		}
		return
	}

	ev := core.NewAssistantOutputEvent(c.id, author, text)
	if err := rc.AppendEvent(ev); err != nil {
		s.logger.Error("scheduler.append.failed", "conversation", c.id, "error", err)
		return
	}

	select {
	case s.out <- ev:
	case <-s.ctx.Done():
	}
}

// executeOperations records the issued calls, rejects irreversible ones
// lacking a confirmed draft (and anything depending on them), executes the
// remainder and schedules a follow-up wake-up so the oracle observes the
// results.
func (s *Scheduler) executeOperations(rc *core.RunContext, c *conversation, snapshot []core.Event, ops []core.Operation) {
	confirmed := confirmationGranted(snapshot, s.affirmatives, s.invoker.Irreversible)

	rejected := make(map[string]bool)
	for _, op := range ops {
		if op.Worker == nil && s.invoker.Irreversible(op.Tool) && !confirmed {
			rejected[op.ID] = true
		}
	}
	// Rejection cascades through declared dependencies.
	for changed := true; changed; {
		changed = false
		for _, op := range ops {
			if rejected[op.ID] {
				continue
			}
			for _, dep := range op.DependsOn {
				if rejected[dep] {
					rejected[op.ID] = true
					changed = true
					break
				}
			}
		}
	}

	var execOps []core.Operation
	for _, op := range ops {
		call := core.ToolCall{ID: op.ID, Name: op.Name(), Arguments: op.Arguments}
		if err := rc.AppendEvent(core.NewToolCallEvent(c.id, author, call)); err != nil {
			s.logger.Error("scheduler.append.failed", "conversation", c.id, "error", err)
			return
		}

		if rejected[op.ID] {
			res := core.ToolResult{
				ID:      op.ID,
				Name:    op.Name(),
				Failure: core.NewRejectedFailure("irreversible action requires user confirmation of a shown draft"),
			}
			if err := rc.AppendEvent(core.NewToolResultEvent(c.id, author, res)); err != nil {
				s.logger.Error("scheduler.append.failed", "conversation", c.id, "error", err)
				return
			}
			s.logger.Warn("scheduler.operation.rejected", "conversation", c.id, "op", op.ID, "tool", op.Name())
			continue
		}

		execOps = append(execOps, op)
	}

	if _, err := s.batch.Execute(rc, author, execOps); err != nil {
		s.logger.Error("scheduler.batch.failed", "conversation", c.id, "error", err)
		return
	}

	// Results are in the log now; nudge the loop so the next consultation
	// can surface them.
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// profileFor loads ambient profile data, tolerating an absent store.
func (s *Scheduler) profileFor(conversationID string) map[string]any {
	if s.profiles == nil {
		return nil
	}
	p, err := s.profiles.Profile(conversationID)
	if err != nil {
		s.logger.Warn("scheduler.profile.failed", "conversation", conversationID, "error", err)
		return nil
	}
	if len(p) == 0 {
		return nil
	}
	return p
}
