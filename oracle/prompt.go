package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
)

// Reserved control tool names. These are always exposed alongside the
// domain tools registered on the gateway; the oracle translates calls to
// them into decision shapes instead of operations.
const (
	// ToolWait signals nothing useful to do right now.
	ToolWait = "wait"
	// ToolDelegateWorker opens a bounded sub-task on a worker executor.
	ToolDelegateWorker = "delegate_worker"
	// ToolFinalAnswer terminates a worker run with its answer.
	ToolFinalAnswer = "return_final_answer"
	// ToolWorkflowOutput terminates a workflow run with its output.
	ToolWorkflowOutput = "return_workflow_output"
)

const conversationPrompt = `You are the scheduler of a personal task assistant. You observe a single
append-only event log and decide, per wake-up, what to do next.

Rules:
- Reply with plain text only when the user should see it. Everything you
  write is delivered verbatim.
- Use tools for any action. Issue multiple tool calls in one turn when they
  are independent; add a "depends_on" list of sibling call ids when one call
  needs another's result first.
- Use {{.DelegateTool}} for multi-step tasks. Give the worker complete,
  self-contained instructions.
- Before executing an irreversible action (sending, purchasing, deleting),
  show the user a draft and wait for their confirmation.
- When tool results are pending in the log and the user has not seen their
  outcome yet, summarize them.
- Call {{.WaitTool}} when there is nothing useful to do.
- Never repeat a message you already sent.
{{if .Profile}}
User profile:
{{.Profile}}
{{end}}{{if .Instructions}}
Additional instructions:
{{.Instructions}}
{{end}}{{if .Note}}
Note: {{.Note}}
{{end}}`

const workerPrompt = `You are a worker executing one delegated task. Work step by step using the
available tools, then call {{.FinalTool}} with your complete answer.

Rules:
- Your answer must be self-contained; the delegator sees nothing but it.
- Do not ask questions. Decide with the information you have.
- You have {{.RemainingSteps}} reasoning steps left.
{{if .FinalStep}}- This is your last step. Call {{.FinalTool}} now with the best
  answer you can assemble from what you gathered so far.
{{end}}
Task:
{{.Instructions}}
{{if .Note}}
Note: {{.Note}}
{{end}}`

const workflowPrompt = `You are executing a workflow run. Gather what the output format requires
using the available tools, then call {{.FinalTool}} with the completed output.

Output format:
{{.OutputFormat}}

Rules:
- Fill every field of the output format. Mark a field you could not
  determine with "unavailable" rather than omitting it.
- You have {{.RemainingSteps}} reasoning steps left.
{{if .FinalStep}}- This is your last step. Call {{.FinalTool}} now with the output
  assembled from what you gathered so far.
{{end}}{{if .Instructions}}
Instructions:
{{.Instructions}}
{{end}}{{if .Note}}
Note: {{.Note}}
{{end}}`

// buildSystemPrompt renders the per-surface system prompt from the task
// context.
func buildSystemPrompt(taskCtx core.TaskContext) (string, error) {
	state := map[string]any{
		"Instructions":   taskCtx.Instructions,
		"OutputFormat":   taskCtx.OutputFormat,
		"RemainingSteps": taskCtx.RemainingSteps,
		"FinalStep":      taskCtx.FinalStep,
		"Note":           taskCtx.Note,
		"WaitTool":       ToolWait,
		"DelegateTool":   ToolDelegateWorker,
	}

	if len(taskCtx.Profile) > 0 {
		profile, err := json.MarshalIndent(taskCtx.Profile, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal profile: %w", err)
		}
		state["Profile"] = string(profile)
	}

	var tmpl string
	switch taskCtx.Kind {
	case core.TaskWorker:
		tmpl = workerPrompt
		state["FinalTool"] = ToolFinalAnswer
	case core.TaskWorkflow:
		tmpl = workflowPrompt
		state["FinalTool"] = ToolWorkflowOutput
	default:
		tmpl = conversationPrompt
	}

	rendered, err := util.RenderTemplate(tmpl, state)
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}

	return strings.TrimSpace(rendered), nil
}
