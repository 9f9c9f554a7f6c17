package oracle

import (
	"context"
	"testing"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/testutil"
	"github.com/hupe1980/taskmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubModel emits one canned final response.
type stubModel struct {
	content core.Content
	lastReq model.Request
}

func (s *stubModel) Generate(_ context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	s.lastReq = req
	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	respCh <- model.Response{Partial: false, Content: s.content, FinishReason: "stop"}
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (s *stubModel) Info() model.Info {
	return model.Info{Name: "stub", Provider: "test", SupportsTools: true}
}

func assistantContent(parts ...core.Part) core.Content {
	return core.Content{Role: "assistant", Parts: parts}
}

func TestDecideTextBecomesAcknowledgement(t *testing.T) {
	m := &stubModel{content: assistantContent(core.TextPart{Text: "On it, checking your calendar."})}
	o := New(m)

	d, err := o.Decide(context.Background(), nil, core.TaskContext{Kind: core.TaskConversation})
	require.NoError(t, err)

	assert.False(t, d.Wait)
	assert.Equal(t, "On it, checking your calendar.", d.Acknowledgement)
	assert.Empty(t, d.Operations)
}

func TestDecideToolCallsBecomeOperations(t *testing.T) {
	m := &stubModel{content: assistantContent(
		core.ToolCallPart{ToolCall: core.ToolCall{ID: "call-1", Name: "search_flights", Arguments: `{"from":"BER","to":"LIS"}`}},
		core.ToolCallPart{ToolCall: core.ToolCall{ID: "call-2", Name: "book_flight", Arguments: `{"flight":"TP533","depends_on":["call-1"]}`}},
	)}
	o := New(m)

	d, err := o.Decide(context.Background(), nil, core.TaskContext{Kind: core.TaskConversation})
	require.NoError(t, err)
	require.Len(t, d.Operations, 2)

	assert.Equal(t, "search_flights", d.Operations[0].Tool)
	assert.Empty(t, d.Operations[0].DependsOn)

	assert.Equal(t, []string{"call-1"}, d.Operations[1].DependsOn)
	assert.NotContains(t, d.Operations[1].Arguments, "depends_on")
	assert.Contains(t, d.Operations[1].Arguments, "TP533")
}

func TestDecideWaitCall(t *testing.T) {
	m := &stubModel{content: assistantContent(
		core.ToolCallPart{ToolCall: core.ToolCall{ID: "call-1", Name: ToolWait, Arguments: `{"reason":"nothing pending"}`}},
	)}
	o := New(m)

	d, err := o.Decide(context.Background(), nil, core.TaskContext{Kind: core.TaskConversation})
	require.NoError(t, err)

	assert.True(t, d.Wait)
	assert.Equal(t, "nothing pending", d.WaitReason)
}

func TestDecideFinalAnswerOverridesSiblingCalls(t *testing.T) {
	m := &stubModel{content: assistantContent(
		core.ToolCallPart{ToolCall: core.ToolCall{ID: "call-1", Name: "search_web", Arguments: `{"q":"x"}`}},
		core.ToolCallPart{ToolCall: core.ToolCall{ID: "call-2", Name: ToolFinalAnswer, Arguments: `{"answer":"42"}`}},
	)}
	o := New(m)

	d, err := o.Decide(context.Background(), nil, core.TaskContext{Kind: core.TaskWorker})
	require.NoError(t, err)

	require.NotNil(t, d.Final)
	assert.Equal(t, "42", d.Final.Answer)
	assert.Empty(t, d.Operations)
}

func TestDecideDelegation(t *testing.T) {
	m := &stubModel{content: assistantContent(
		core.ToolCallPart{ToolCall: core.ToolCall{ID: "call-1", Name: ToolDelegateWorker, Arguments: `{"instructions":"plan the trip","session_id":"trip","step_budget":5}`}},
	)}
	o := New(m)

	d, err := o.Decide(context.Background(), nil, core.TaskContext{Kind: core.TaskConversation})
	require.NoError(t, err)
	require.Len(t, d.Operations, 1)

	del := d.Operations[0].Worker
	require.NotNil(t, del)
	assert.Equal(t, "plan the trip", del.Instructions)
	assert.Equal(t, "trip", del.SessionID)
	assert.Equal(t, 5, del.StepBudget)
	assert.True(t, del.Stateful())
}

func TestDecideWaitAlongsideCallIsMalformed(t *testing.T) {
	m := &stubModel{content: assistantContent(
		core.ToolCallPart{ToolCall: core.ToolCall{ID: "call-1", Name: ToolWait, Arguments: `{}`}},
		core.ToolCallPart{ToolCall: core.ToolCall{ID: "call-2", Name: "search_web", Arguments: `{}`}},
	)}
	o := New(m)

	_, err := o.Decide(context.Background(), nil, core.TaskContext{Kind: core.TaskConversation})
	require.ErrorIs(t, err, core.ErrMalformedDecision)
}

func TestDecideEmptyConversationTurnDegradesToWait(t *testing.T) {
	m := &stubModel{content: assistantContent()}
	o := New(m)

	d, err := o.Decide(context.Background(), nil, core.TaskContext{Kind: core.TaskConversation})
	require.NoError(t, err)
	assert.True(t, d.Wait)
}

func TestDecideEmptyWorkerTurnIsMalformed(t *testing.T) {
	m := &stubModel{content: assistantContent()}
	o := New(m)

	_, err := o.Decide(context.Background(), nil, core.TaskContext{Kind: core.TaskWorker})
	require.ErrorIs(t, err, core.ErrMalformedDecision)
}

func TestDecideExposesReservedAndDomainTools(t *testing.T) {
	m := &stubModel{content: assistantContent(core.TextPart{Text: "ok"})}
	o := New(m, WithTools([]model.ToolDefinition{{
		Type:     "function",
		Function: model.FunctionDefinition{Name: "fetch_weather"},
	}}))

	_, err := o.Decide(context.Background(), nil, core.TaskContext{Kind: core.TaskConversation})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, tdef := range m.lastReq.Tools {
		names[tdef.Function.Name] = true
	}
	assert.True(t, names[ToolWait])
	assert.True(t, names[ToolDelegateWorker])
	assert.True(t, names["fetch_weather"])
}

func TestConvertEventsRendersFailuresAsText(t *testing.T) {
	res := core.ToolResult{ID: "op-1", Name: "send_email", Failure: core.NewRemoteFailure("smtp", "relay refused")}
	ev := core.NewToolResultEvent("conv-1", "scheduler", res)

	contents := convertEvents([]core.Event{ev}, 0)
	require.Len(t, contents, 1)

	part, ok := contents[0].Parts[0].(core.ToolResultPart)
	require.True(t, ok)
	assert.Nil(t, part.ToolResult.Failure)
	assert.Contains(t, part.ToolResult.Response, "relay refused")
}

func TestConvertEventsRolesAndHistoryWindow(t *testing.T) {
	events := testutil.NewLogBuilder("conv-1").
		User("what is the weather in Kiel?").
		Thought("need the forecast first").
		Call("op-1", "fetch_weather", `{"city":"Kiel"}`).
		Result("op-1", "fetch_weather", "12C, drizzle").
		Assistant("Kiel is at 12C with drizzle.").
		Events()

	contents := convertEvents(events, 0)
	require.Len(t, contents, 5)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "assistant", contents[1].Role)
	assert.Equal(t, "assistant", contents[2].Role)
	assert.Equal(t, "tool", contents[3].Role)
	assert.Equal(t, "assistant", contents[4].Role)

	// Only the newest entries survive a bounded history window.
	windowed := convertEvents(events, 2)
	require.Len(t, windowed, 2)
	assert.Equal(t, "tool", windowed[0].Role)
	assert.Equal(t, "assistant", windowed[1].Role)
}

func TestBuildSystemPromptPerKind(t *testing.T) {
	conv, err := buildSystemPrompt(core.TaskContext{Kind: core.TaskConversation, Profile: map[string]any{"name": "Ada"}})
	require.NoError(t, err)
	assert.Contains(t, conv, "Ada")
	assert.Contains(t, conv, ToolWait)

	worker, err := buildSystemPrompt(core.TaskContext{
		Kind:           core.TaskWorker,
		Instructions:   "summarize the report",
		RemainingSteps: 1,
		FinalStep:      true,
	})
	require.NoError(t, err)
	assert.Contains(t, worker, "summarize the report")
	assert.Contains(t, worker, "last step")
	assert.Contains(t, worker, ToolFinalAnswer)

	wf, err := buildSystemPrompt(core.TaskContext{Kind: core.TaskWorkflow, OutputFormat: "weather: string"})
	require.NoError(t, err)
	assert.Contains(t, wf, "weather: string")
	assert.Contains(t, wf, ToolWorkflowOutput)
}
