// Package oracle turns event log snapshots into Decisions. The primary
// implementation consults a language model through the model abstraction;
// a scripted variant serves tests and examples with canned decisions.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/model"
)

// Options configures a ModelOracle.
type Options struct {
	// Tools are the domain tool definitions exposed to the model in addition
	// to the reserved control tools.
	Tools []model.ToolDefinition
	// MaxHistory caps how many trailing events are converted into model
	// context. 0 means the full snapshot.
	MaxHistory int
	// Logger provides structured logging. Defaults to NoOp if nil.
	Logger logging.Logger
}

// WithTools sets the domain tool definitions exposed to the model.
func WithTools(tools []model.ToolDefinition) func(o *Options) {
	return func(o *Options) { o.Tools = tools }
}

// ModelOracle consults a language model and translates its reply into a
// Decision. Text content becomes the acknowledgement (or the final answer on
// terminal calls), tool calls become operations, and calls to the reserved
// control tools select the wait / final decision shapes. A "depends_on" list
// inside a call's argument object is lifted onto the operation and stripped
// before the arguments reach the tool.
type ModelOracle struct {
	model      model.Model
	tools      []model.ToolDefinition
	maxHistory int
	logger     logging.Logger
}

var _ core.Oracle = (*ModelOracle)(nil)

// New creates a ModelOracle backed by the given model.
func New(m model.Model, optFns ...func(o *Options)) *ModelOracle {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &ModelOracle{
		model:      m,
		tools:      opts.Tools,
		maxHistory: opts.MaxHistory,
		logger:     opts.Logger,
	}
}

// Decide implements core.Oracle. The returned error wraps
// core.ErrMalformedDecision when the model reply cannot be translated into a
// well-formed Decision, allowing the caller to re-prompt with the validation
// detail.
func (o *ModelOracle) Decide(ctx context.Context, events []core.Event, taskCtx core.TaskContext) (core.Decision, error) {
	prompt, err := buildSystemPrompt(taskCtx)
	if err != nil {
		return core.Decision{}, err
	}

	contents := make([]core.Content, 0, len(events)+1)
	contents = append(contents, core.Content{Role: "system", Parts: []core.Part{core.TextPart{Text: prompt}}})
	contents = append(contents, convertEvents(events, o.maxHistory)...)

	req := model.Request{
		Instructions: taskCtx.Instructions,
		Contents:     contents,
		Tools:        append(reservedTools(taskCtx.Kind), o.tools...),
	}

	resp, err := o.generate(ctx, req)
	if err != nil {
		return core.Decision{}, err
	}

	o.logger.Debug(
		"oracle.model.response",
		"kind", string(taskCtx.Kind),
		"finish_reason", resp.FinishReason,
		"parts", len(resp.Content.Parts),
	)

	decision, err := parseDecision(resp.Content, taskCtx.Kind)
	if err != nil {
		return core.Decision{}, err
	}

	if err := decision.Validate(); err != nil {
		return core.Decision{}, err
	}

	return decision, nil
}

// generate drains the model's response stream and returns the final chunk.
func (o *ModelOracle) generate(ctx context.Context, req model.Request) (model.Response, error) {
	respCh, errCh := o.model.Generate(ctx, req)

	var final *model.Response
	for resp := range respCh {
		if !resp.Partial {
			r := resp
			final = &r
		}
	}
	if err := <-errCh; err != nil {
		return model.Response{}, fmt.Errorf("model generation: %w", err)
	}
	if final == nil {
		return model.Response{}, fmt.Errorf("%w: model produced no final response", core.ErrMalformedDecision)
	}

	return *final, nil
}

// convertEvents maps log events onto model contents. Tool failures are
// rendered as error text so the model observes them like any other result.
func convertEvents(events []core.Event, maxHistory int) []core.Content {
	if maxHistory > 0 && len(events) > maxHistory {
		events = events[len(events)-maxHistory:]
	}

	contents := make([]core.Content, 0, len(events))
	for _, ev := range events {
		switch ev.Kind {
		case core.KindUserMessage:
			contents = append(contents, core.Content{Role: "user", Parts: []core.Part{core.TextPart{Text: ev.Text()}}})
		case core.KindExternalEvent:
			contents = append(contents, core.Content{Role: "user", Parts: []core.Part{core.TextPart{Text: renderExternal(ev)}}})
		case core.KindAssistantOutput, core.KindThought:
			contents = append(contents, core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: ev.Text()}}})
		case core.KindToolCall:
			if ev.Content != nil {
				contents = append(contents, *ev.Content)
			}
		case core.KindToolResult:
			for _, res := range ev.GetToolResults() {
				contents = append(contents, core.Content{
					Role:  "tool",
					Parts: []core.Part{core.ToolResultPart{ToolResult: renderResult(res)}},
				})
			}
		}
	}

	return contents
}

// renderExternal flattens a feed event payload into a text line the model
// providers can transport.
func renderExternal(ev core.Event) string {
	var payload string
	if ev.Content != nil {
		for _, p := range ev.Content.Parts {
			if dp, ok := p.(core.DataPart); ok {
				if b, err := json.Marshal(dp.Data); err == nil {
					payload = string(b)
				}
			}
		}
	}
	return fmt.Sprintf("[event from %s] %s", ev.Author, payload)
}

// renderResult normalizes a tool result for model consumption: failures
// become error text, structured responses become JSON text.
func renderResult(res core.ToolResult) core.ToolResult {
	if res.Failed() {
		res.Response = fmt.Sprintf("error (%s): %s", res.Failure.Kind, res.Failure.Error())
		res.Failure = nil
		return res
	}
	if _, ok := res.Response.(string); !ok && res.Response != nil {
		if b, err := json.Marshal(res.Response); err == nil {
			res.Response = string(b)
		}
	}
	return res
}

// parseDecision translates the model's reply content into a Decision.
func parseDecision(content core.Content, kind core.TaskKind) (core.Decision, error) {
	var d core.Decision

	text := content.Text()

	for _, call := range content.Parts {
		tc, ok := call.(core.ToolCallPart)
		if !ok {
			continue
		}

		args, deps, err := splitDependencies(tc.ToolCall.Arguments)
		if err != nil {
			return core.Decision{}, fmt.Errorf("%w: arguments of %q are not a JSON object: %v", core.ErrMalformedDecision, tc.ToolCall.Name, err)
		}

		switch tc.ToolCall.Name {
		case ToolWait:
			d.Wait = true
			d.WaitReason = stringArg(args, "reason")
		case ToolFinalAnswer:
			d.Final = &core.Final{Answer: stringArg(args, "answer")}
		case ToolWorkflowOutput:
			d.Final = &core.Final{Answer: stringArg(args, "output")}
		case ToolDelegateWorker:
			op := core.Operation{
				ID:        callID(tc.ToolCall),
				DependsOn: deps,
				Worker: &core.Delegation{
					Instructions: stringArg(args, "instructions"),
					SessionID:    stringArg(args, "session_id"),
					StepBudget:   intArg(args, "step_budget"),
				},
			}
			d.Operations = append(d.Operations, op)
		default:
			raw, err := json.Marshal(args)
			if err != nil {
				return core.Decision{}, fmt.Errorf("%w: re-encode arguments of %q: %v", core.ErrMalformedDecision, tc.ToolCall.Name, err)
			}
			d.Operations = append(d.Operations, core.Operation{
				ID:        callID(tc.ToolCall),
				Tool:      tc.ToolCall.Name,
				Arguments: string(raw),
				DependsOn: deps,
			})
		}
	}

	if d.Wait {
		if len(d.Operations) > 0 || d.Final != nil {
			return core.Decision{}, fmt.Errorf("%w: wait issued alongside other actions", core.ErrMalformedDecision)
		}
		return d, nil
	}

	if d.Final != nil {
		// Terminal calls override everything issued in the same turn.
		d.Operations = nil
		if d.Final.Answer == "" {
			d.Final.Answer = text
		}
		return d, nil
	}

	d.Acknowledgement = text

	if d.Acknowledgement == "" && len(d.Operations) == 0 {
		if kind == core.TaskConversation {
			// An empty conversation turn degrades to waiting.
			return core.WaitDecision("model produced no actionable content"), nil
		}
		return core.Decision{}, fmt.Errorf("%w: model produced no actionable content", core.ErrMalformedDecision)
	}

	return d, nil
}

// splitDependencies decodes a call's argument object and lifts out its
// "depends_on" list. Empty arguments decode to an empty object.
func splitDependencies(raw string) (map[string]any, []string, error) {
	args := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, nil, err
		}
	}

	rawDeps, ok := args["depends_on"]
	if !ok {
		return args, nil, nil
	}
	delete(args, "depends_on")

	list, ok := rawDeps.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("depends_on must be a list of call ids")
	}

	deps := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, nil, fmt.Errorf("depends_on must be a list of call ids")
		}
		deps = append(deps, s)
	}

	return args, deps, nil
}

func callID(call core.ToolCall) string {
	if call.ID != "" {
		return call.ID
	}
	return core.NewID()
}

func stringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

func intArg(args map[string]any, key string) int {
	if f, ok := args[key].(float64); ok {
		return int(f)
	}
	return 0
}

// reservedTools returns the control tool definitions for a surface kind.
func reservedTools(kind core.TaskKind) []model.ToolDefinition {
	switch kind {
	case core.TaskWorker:
		return []model.ToolDefinition{functionDef(
			ToolFinalAnswer,
			"Terminate the task and return the complete, self-contained answer.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"answer": map[string]any{"type": "string", "description": "The complete answer to the delegated task"},
				},
				"required": []string{"answer"},
			},
		)}
	case core.TaskWorkflow:
		return []model.ToolDefinition{functionDef(
			ToolWorkflowOutput,
			"Terminate the workflow and return the completed output.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"output": map[string]any{"type": "string", "description": "The workflow output matching the declared format"},
				},
				"required": []string{"output"},
			},
		)}
	default:
		return []model.ToolDefinition{
			functionDef(
				ToolWait,
				"Do nothing this wake-up. Use when no action or reply is needed.",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"reason": map[string]any{"type": "string", "description": "Short note on why waiting is right"},
					},
				},
			),
			functionDef(
				ToolDelegateWorker,
				"Delegate a multi-step task to a worker. The worker runs autonomously and returns one answer.",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"instructions": map[string]any{"type": "string", "description": "Complete, self-contained task instructions"},
						"session_id":   map[string]any{"type": "string", "description": "Reuse an id to resume a prior worker with its context"},
						"step_budget":  map[string]any{"type": "integer", "description": "Optional step limit override"},
						"depends_on":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Sibling call ids that must complete first"},
					},
					"required": []string{"instructions"},
				},
			),
		}
	}
}

func functionDef(name, description string, parameters map[string]any) model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}
