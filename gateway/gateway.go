package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"golang.org/x/sync/semaphore"
)

// DefaultTimeout bounds a single tool invocation when the caller passes no
// explicit deadline.
const DefaultTimeout = 15 * time.Second

// ProviderConfig tunes outbound behavior per external tool provider. The
// concurrency cap respects upstream rate limits; it is a tuning knob, not a
// correctness requirement.
type ProviderConfig struct {
	// MaxConcurrent caps in-flight invocations against this provider.
	// 0 means uncapped.
	MaxConcurrent int
}

// Options configures a Gateway instance.
type Options struct {
	// DefaultTimeout applies when Invoke receives a zero timeout.
	DefaultTimeout time.Duration
	// Providers maps provider names to their outbound configuration.
	Providers map[string]ProviderConfig
	// Logger provides structured logging. Defaults to NoOp if nil.
	Logger logging.Logger

	// toolConfigs carries per-tool routing/classification loaded from a
	// config file (see WithConfig).
	toolConfigs map[string]ToolConfig
}

// registration binds a tool to its provider for cap accounting.
type registration struct {
	tool     Tool
	provider string
}

// Gateway is the uniform tool-invocation surface. It executes each call
// exactly once and reports exactly one outcome as a core.ToolResult; it
// never retries internally.
//
// Concurrency: the registry is guarded by an RWMutex; invocation itself is
// lock-free apart from the optional per-provider semaphore.
type Gateway struct {
	mu             sync.RWMutex
	tools          map[string]registration
	sems           map[string]*semaphore.Weighted
	configs        map[string]ToolConfig
	defaultTimeout time.Duration
	logger         logging.Logger
}

// New constructs a Gateway with optional configuration.
func New(optFns ...func(o *Options)) *Gateway {
	opts := Options{
		DefaultTimeout: DefaultTimeout,
		Providers:      map[string]ProviderConfig{},
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	sems := make(map[string]*semaphore.Weighted, len(opts.Providers))
	for name, pc := range opts.Providers {
		if pc.MaxConcurrent > 0 {
			sems[name] = semaphore.NewWeighted(int64(pc.MaxConcurrent))
		}
	}

	configs := opts.toolConfigs
	if configs == nil {
		configs = map[string]ToolConfig{}
	}

	return &Gateway{
		tools:          make(map[string]registration),
		sems:           sems,
		configs:        configs,
		defaultTimeout: opts.DefaultTimeout,
		logger:         opts.Logger,
	}
}

// Register adds a tool. Provider routing comes from the loaded tool config
// when present, otherwise the default (uncapped) provider.
func (g *Gateway) Register(t Tool) {
	provider := ""
	if tc, ok := g.configs[t.Name()]; ok {
		provider = tc.Provider
	}
	g.RegisterWithProvider(t, provider)
}

// RegisterWithProvider adds a tool bound to a named provider so its
// invocations count against that provider's concurrency cap. Registering an
// existing name replaces the previous tool.
func (g *Gateway) RegisterWithProvider(t Tool, provider string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tools[t.Name()] = registration{tool: t, provider: provider}
}

// Tools returns the registered tools in unspecified order. Oracles use this
// to build their tool declarations.
func (g *Gateway) Tools() []Tool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Tool, 0, len(g.tools))
	for _, reg := range g.tools {
		out = append(out, reg.tool)
	}
	return out
}

// Has reports whether a tool with the given name is registered.
func (g *Gateway) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.tools[name]
	return ok
}

// Irreversible implements core.ToolInvoker. The loaded tool config can force
// the classification on; it can never switch an irreversible tool off.
// Unknown tools report false; the invocation path rejects them anyway.
func (g *Gateway) Irreversible(name string) bool {
	if tc, ok := g.configs[name]; ok && tc.Irreversible {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	reg, ok := g.tools[name]
	if !ok {
		return false
	}
	if it, ok := reg.tool.(IrreversibleTool); ok {
		return it.Irreversible()
	}
	return false
}

// Invoke implements core.ToolInvoker. The returned result always carries the
// call's correlation id; failures are data (result.Failure), never panics or
// Go errors. Exactly one outcome is produced per call.
func (g *Gateway) Invoke(ctx context.Context, call core.ToolCall, timeout time.Duration) core.ToolResult {
	result := core.ToolResult{ID: call.ID, Name: call.Name}

	g.mu.RLock()
	reg, ok := g.tools[call.Name]
	g.mu.RUnlock()
	if !ok {
		result.Failure = core.NewRemoteFailure("not_found", fmt.Sprintf("tool %s not found", call.Name))
		return result
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			result.Failure = core.NewInvalidArgumentsFailure(fmt.Sprintf("failed to unmarshal args: %v", err))
			return result
		}
	}

	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if sem := g.sems[reg.provider]; sem != nil {
		if err := sem.Acquire(callCtx, 1); err != nil {
			result.Failure = core.NewTimeoutFailure(fmt.Sprintf("waiting for provider %s slot: %v", reg.provider, err))
			return result
		}
		defer sem.Release(1)
	}

	start := time.Now()
	value, err := g.safeCall(callCtx, reg.tool, args)
	dur := time.Since(start)

	g.logger.Info(
		"gateway.invoke",
		"tool", call.Name,
		"call_id", call.ID,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		result.Failure = classify(callCtx, err)
		return result
	}

	result.Response = value
	return result
}

// safeCall executes the tool with panic isolation so a misbehaving tool can
// never take down a wave.
func (g *Gateway) safeCall(ctx context.Context, t Tool, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("gateway.tool.panic", "tool", t.Name(), "recover", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("tool %s panicked: %v", t.Name(), r)
		}
	}()
	return t.Call(ctx, args)
}

// classify maps execution errors onto the operation failure taxonomy.
func classify(ctx context.Context, err error) *core.OperationFailure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.NewTimeoutFailure(err.Error())
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		if toolErr.Code == "VALIDATION_ERROR" {
			return core.NewInvalidArgumentsFailure(toolErr.Message)
		}
		return core.NewRemoteFailure(toolErr.Code, toolErr.Message)
	}

	return core.NewRemoteFailure("", err.Error())
}
