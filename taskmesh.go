// Package taskmesh provides a high-level façade over the scheduler, the tool
// gateway and the worker executor, enabling rapid construction of
// oracle-driven assistants. Most applications interact with this package by:
//  1. Creating a TaskMesh via New() (optionally overriding default in-memory stores)
//  2. Registering one or more tools (function tools or custom implementations)
//  3. Feeding events in (Say, Deliver) and consuming replies from Outputs()
//
// The façade delegates orchestration to scheduler.Scheduler while keeping
// setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a durable
// event log store and a structured logger.
package taskmesh

import (
	"context"
	"time"

	"github.com/hupe1980/taskmesh/batch"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/eventlog"
	"github.com/hupe1980/taskmesh/gateway"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/profile"
	"github.com/hupe1980/taskmesh/scheduler"
	"github.com/hupe1980/taskmesh/worker"
)

// Options configures the TaskMesh instance.
type Options struct {
	// Store persists conversation and worker session logs. Defaults to an
	// in-memory store; supply eventlog.NewSQLiteStore for durability.
	Store core.LogStore

	// Profiles supplies ambient user data injected into consultations.
	// Defaults to an in-memory store.
	Profiles profile.Store

	// Instructions are appended to the system prompt of every conversation
	// consultation.
	Instructions string

	// WorkerStepBudget bounds delegated tasks that carry no override.
	WorkerStepBudget int

	// MaxParallel caps concurrent operations within one decision wave.
	// 0 means unbounded.
	MaxParallel int

	// ToolTimeout bounds individual tool invocations. 0 uses the gateway
	// default.
	ToolTimeout time.Duration

	// Providers maps provider names to outbound tool configuration
	// (concurrency caps).
	Providers map[string]gateway.ProviderConfig

	// Affirmatives extends the built-in confirmation lexicon.
	Affirmatives []string

	// Logger provides structured logging. Defaults to NoOp if nil.
	Logger logging.Logger
}

// TaskMesh is the high-level façade aggregating the scheduler, gateway and
// worker executor behind one surface.
type TaskMesh struct {
	opts      Options
	gateway   *gateway.Gateway
	workers   *worker.Executor
	scheduler *scheduler.Scheduler
}

// New creates a TaskMesh deciding with oracle. Any unset store is
// initialized with an in-memory implementation.
func New(oracle core.Oracle, optFns ...func(o *Options)) *TaskMesh {
	opts := Options{
		Store:            eventlog.NewInMemoryStore(),
		Profiles:         profile.NewInMemoryStore(),
		WorkerStepBudget: worker.DefaultStepBudget,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	gw := gateway.New(func(o *gateway.Options) {
		o.Providers = opts.Providers
		o.Logger = opts.Logger
	})

	workerBatch := batch.New(gw, func(o *batch.Options) {
		o.MaxParallel = opts.MaxParallel
		o.ToolTimeout = opts.ToolTimeout
		o.Logger = opts.Logger
	})
	workers := worker.New(oracle, workerBatch, func(o *worker.Options) {
		o.DefaultStepBudget = opts.WorkerStepBudget
		o.Store = opts.Store
		o.Logger = opts.Logger
	})

	sched := scheduler.New(oracle, opts.Store, gw, func(o *scheduler.Options) {
		o.MaxParallel = opts.MaxParallel
		o.ToolTimeout = opts.ToolTimeout
		o.Instructions = opts.Instructions
		o.Workers = workers
		o.Profiles = opts.Profiles
		o.Affirmatives = opts.Affirmatives
		o.Logger = opts.Logger
	})

	return &TaskMesh{opts: opts, gateway: gw, workers: workers, scheduler: sched}
}

// RegisterTool adds a tool to the underlying gateway. Also register it with
// the oracle's tool definitions so consultations can select it.
func (m *TaskMesh) RegisterTool(t gateway.Tool) { m.gateway.Register(t) }

// Gateway exposes the underlying tool gateway for provider-bound
// registration or direct invocation.
func (m *TaskMesh) Gateway() *gateway.Gateway { return m.gateway }

// Workers exposes the underlying worker executor for standalone delegation.
func (m *TaskMesh) Workers() *worker.Executor { return m.workers }

// Profiles exposes the profile store backing consultations.
func (m *TaskMesh) Profiles() profile.Store { return m.opts.Profiles }

// Start begins processing. It must be called exactly once before events are
// fed in.
func (m *TaskMesh) Start(ctx context.Context) error { return m.scheduler.Start(ctx) }

// Stop drains in-flight wake-ups and closes the output channel.
func (m *TaskMesh) Stop() { m.scheduler.Stop() }

// Outputs delivers user-visible reply events across all conversations.
func (m *TaskMesh) Outputs() <-chan core.Event { return m.scheduler.Outputs() }

// Say enqueues a user message for the conversation.
func (m *TaskMesh) Say(conversationID, message string) error {
	return m.scheduler.Say(conversationID, message)
}

// Deliver enqueues an external feed event. Redeliveries with an
// already-processed correlation id are dropped.
func (m *TaskMesh) Deliver(conversationID, feed, correlation string, payload map[string]any) error {
	return m.scheduler.Deliver(conversationID, feed, correlation, payload)
}

// Notify enqueues a pre-built event for its conversation.
func (m *TaskMesh) Notify(ev core.Event) error { return m.scheduler.Notify(ev) }

// Ask is a synchronous helper: it sends message on the conversation and
// blocks until the next user-visible reply for that conversation arrives or
// ctx expires. It is intended for tests and simple request-response usage;
// interactive applications should consume Outputs directly.
func (m *TaskMesh) Ask(ctx context.Context, conversationID, message string) (string, error) {
	if err := m.scheduler.Say(conversationID, message); err != nil {
		return "", err
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-m.scheduler.Outputs():
			if !ok {
				return "", context.Canceled
			}
			if ev.ConversationID == conversationID {
				return ev.Text(), nil
			}
		}
	}
}
