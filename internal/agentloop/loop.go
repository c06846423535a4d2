// Package agentloop implements the single flat-loop Agent Loop state
// machine: ready -> agent -> {decide} -> tools/approval/
// recovery -> agent ... -> end.
//
// This unifies what two separate, never-reconciled engines would carry into
// one type, since the state machine this module implements is a single
// explicit dispatch, not two competing ones.
package agentloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
	"github.com/agentsh/agentsh/internal/llm"
	"github.com/agentsh/agentsh/internal/tools"
)

// defaultMaxSteps bounds a run when Config.MaxSteps is unset, grounded
// on a conventional default step budget of 10.
const defaultMaxSteps = 10

// defaultMaxRecoveryAttempts bounds the recovery node's retry budget.
const defaultMaxRecoveryAttempts = 2

// ApprovalFlow resolves a pending approval request to an outcome. The
// security Controller implements this against its own ApprovalFlow
// interface; this is the narrower view the loop needs.
type ApprovalFlow interface {
	Request(ctx context.Context, req *agentmodel.ApprovalRequest) (agentmodel.ApprovalResult, error)
}

// Config configures one AgentLoop.
type Config struct {
	// MaxSteps bounds step_count; 0 uses defaultMaxSteps.
	MaxSteps int

	// MaxRecoveryAttempts bounds the recovery node's retry budget; 0
	// uses defaultMaxRecoveryAttempts.
	MaxRecoveryAttempts int

	// Model is the provider/model identifier passed to every LLM
	// invocation this run makes.
	Model string

	// Temperature and MaxTokens are passed through to every LLM request.
	Temperature float64
	MaxTokens   int
}

func sanitizeConfig(cfg Config) Config {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = defaultMaxRecoveryAttempts
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return cfg
}

// AgentLoop drives one ReAct run: an LLM client, the tool registry/
// runner, and an approval flow for command-executing tool calls the
// Security Controller flags.
//
// Grounded primarily on internal/agent/loop.go's phase structure
// (Init/Stream-or-Invoke/ExecuteTools/Continue/Complete), folding in
// internal/agent/runtime.go's approval-gating so there is exactly one
// engine instead of two.
type AgentLoop struct {
	client   llm.Client
	registry *tools.Registry
	runner   *tools.Runner
	approval ApprovalFlow
	config   Config
}

// New builds an AgentLoop. approval may be nil if no command-executing
// tools are registered (approval is then never consulted).
func New(client llm.Client, registry *tools.Registry, runner *tools.Runner, approval ApprovalFlow, cfg Config) *AgentLoop {
	return &AgentLoop{
		client:   client,
		registry: registry,
		runner:   runner,
		approval: approval,
		config:   sanitizeConfig(cfg),
	}
}

// systemPrompt builds the seed system message from the current tool
// set and environment snapshot.
func (l *AgentLoop) systemPrompt(toolCtx agentmodel.ToolContext, now time.Time) string {
	var b strings.Builder
	b.WriteString("You are an AI-enhanced terminal agent. You can invoke the tools listed below to accomplish the user's goal.\n\n")
	fmt.Fprintf(&b, "Working directory: %s\n", orDash(toolCtx.WorkDir))
	if toolCtx.DeviceID != "" {
		fmt.Fprintf(&b, "Device: %s\n", toolCtx.DeviceID)
	}
	fmt.Fprintf(&b, "Current time: %s\n\n", now.Format(time.RFC3339))
	b.WriteString("Available tools:\n")
	for _, def := range l.registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// node identifies the state machine's current position.
type node int

const (
	nodeAgent node = iota
	nodeTools
	nodeApproval
	nodeRecovery
	nodeEnd
)

// Run executes the state machine to completion, following the
// diagram exactly: ready seeds messages and enters agent; agent
// invokes the LLM and routes via decide; tools/approval/recovery each
// route back into agent (or each other) until decide reaches end.
func (l *AgentLoop) Run(ctx context.Context, goal string, toolCtx agentmodel.ToolContext) agentmodel.AgentResult {
	start := time.Now()

	state := &agentmodel.AgentState{
		Goal:         goal,
		MaxSteps:     l.config.MaxSteps,
		ExecutionCtx: toolCtx,
	}
	state.Messages = append(state.Messages,
		agentmodel.Message{Role: agentmodel.RoleSystem, Content: l.systemPrompt(toolCtx, time.Now())},
		agentmodel.Message{Role: agentmodel.RoleUser, Content: goal},
	)

	recoveryAttempts := 0
	current := nodeAgent

	// approved tracks tool-call IDs that already cleared the approval
	// flow this Run, so toolsNode re-entering them skips the Security
	// Controller instead of asking again.
	approved := map[string]bool{}

	// reentering tracks tool-call IDs whose command was edited during
	// approval and is being re-submitted through the normal (not
	// RunApproved) path for a single re-classification; a second
	// APPROVAL_REQUIRED for the same call is auto-denied rather than
	// re-prompted, bounding re-entry to exactly one round.
	reentering := map[string]bool{}

	for {
		switch current {
		case nodeAgent:
			nudged := l.agentNode(ctx, state)
			if nudged && state.StepCount < state.MaxSteps {
				current = nodeAgent
				continue
			}
			current = l.decide(state)

		case nodeTools:
			l.toolsNode(ctx, state, approved, reentering)
			switch {
			case len(state.PendingApprovals) > 0:
				current = nodeApproval
			case state.Terminal || state.Err != nil:
				current = l.decide(state)
			default:
				current = nodeAgent
			}

		case nodeApproval:
			l.approvalNode(ctx, state, approved, reentering)
			if len(state.PendingToolCalls) > 0 {
				current = nodeTools
			} else {
				current = nodeAgent
			}

		case nodeRecovery:
			if recoveryAttempts >= l.config.MaxRecoveryAttempts {
				state.Terminal = true
				state.FinalResult = errMessage(state.Err)
				current = nodeEnd
				break
			}
			recoveryAttempts++
			l.recoveryNode(state)
			current = nodeAgent

		case nodeEnd:
			return l.end(state, start)
		}
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// agentNode invokes the LLM with the current messages and tool
// schemas. It returns true when the response was truncated at the
// model's token cap with no tool calls, in which case the caller
// should loop back into agentNode directly rather than routing
// through decide: a nudge message has been appended asking the model
// to continue, and that continuation is counted as one more step the
// same way any other agentNode invocation is.
func (l *AgentLoop) agentNode(ctx context.Context, state *agentmodel.AgentState) bool {
	state.StepCount++

	req := llm.Request{
		Model:       l.config.Model,
		Messages:    state.Messages,
		Tools:       l.registry.List(),
		Temperature: l.config.Temperature,
		MaxTokens:   l.config.MaxTokens,
	}

	resp, err := l.client.Invoke(ctx, req)
	if err != nil {
		state.Err = err
		return false
	}

	assistantMsg := agentmodel.Message{Role: agentmodel.RoleAssistant, Content: resp.Content}
	if len(resp.ToolCalls) > 0 {
		assistantMsg.ToolCalls = resp.ToolCalls
	}
	state.Messages = append(state.Messages, assistantMsg)

	if len(resp.ToolCalls) > 0 {
		state.PendingToolCalls = append(state.PendingToolCalls, resp.ToolCalls...)
		return false
	}

	if resp.StopReason == llm.StopMaxTokens {
		state.Messages = append(state.Messages, agentmodel.Message{
			Role:    agentmodel.RoleUser,
			Content: "Your previous response was truncated at the token limit. Continue exactly where you left off.",
		})
		return true
	}

	state.FinalResult = resp.Content
	state.Terminal = true
	return false
}

// decide implements the should-continue routing decision.
func (l *AgentLoop) decide(state *agentmodel.AgentState) node {
	switch {
	case state.Terminal:
		return nodeEnd
	case state.Err != nil:
		return nodeRecovery
	case state.StepCount >= state.MaxSteps:
		state.Terminal = true
		if state.FinalResult == "" {
			state.FinalResult = "step limit reached before completion"
		}
		return nodeEnd
	case len(state.PendingApprovals) > 0:
		return nodeApproval
	case len(state.PendingToolCalls) > 0:
		return nodeTools
	default:
		return nodeEnd
	}
}

// approvalNode drains PendingApprovals, consulting the approval flow
// for each. An approved call is marked to skip the Security Controller
// on re-entry; an edited call is rewritten and marked to re-enter the
// normal (gated) path instead, since the edit invalidates whatever
// classification produced the original approval request.
func (l *AgentLoop) approvalNode(ctx context.Context, state *agentmodel.AgentState, approved, reentering map[string]bool) {
	pending := state.PendingApprovals
	state.PendingApprovals = nil

	for _, req := range pending {
		req := req
		if l.approval == nil {
			l.denyToolCall(state, req.ToolCallID, "no approval flow configured")
			continue
		}

		result, err := l.approval.Request(ctx, &req)
		if err != nil {
			l.denyToolCall(state, req.ToolCallID, "approval flow error: "+err.Error())
			continue
		}

		switch result.Outcome {
		case agentmodel.ApprovalApproved:
			// Leave the tool call pending; tools node executes it next,
			// bypassing the Security Controller since it already cleared.
			approved[req.ToolCallID] = true
		case agentmodel.ApprovalEdited:
			l.rewriteToolCallArguments(state, req.ToolCallID, result.NewCommand)
			reentering[req.ToolCallID] = true
		default:
			l.denyToolCall(state, req.ToolCallID, fmt.Sprintf("tool denied: %s", result.Outcome))
		}
	}
}

func (l *AgentLoop) rewriteToolCallArguments(state *agentmodel.AgentState, toolCallID, newCommand string) {
	for i, tc := range state.PendingToolCalls {
		if tc.ID == toolCallID {
			if state.PendingToolCalls[i].Arguments == nil {
				state.PendingToolCalls[i].Arguments = map[string]any{}
			}
			state.PendingToolCalls[i].Arguments["command"] = newCommand
			return
		}
	}
}

// denyToolCall removes toolCallID from PendingToolCalls and appends a
// synthetic tool-result message so the model learns the outcome.
func (l *AgentLoop) denyToolCall(state *agentmodel.AgentState, toolCallID, reason string) {
	out := state.PendingToolCalls[:0]
	for _, tc := range state.PendingToolCalls {
		if tc.ID == toolCallID {
			continue
		}
		out = append(out, tc)
	}
	state.PendingToolCalls = out

	state.Messages = append(state.Messages, agentmodel.Message{
		Role:       agentmodel.RoleTool,
		Content:    fmt.Sprintf("<tool denied: %s>", reason),
		ToolCallID: toolCallID,
	})
}

// toolsNode executes every pending tool call in order via the Tool
// Runner, which internally consults the Security Controller for any
// command-executing call, and appends a role=tool result message for
// each. A call re-entering after an edit goes through the normal
// gated path (not RunApproved) so the edited command is re-classified
// from scratch; if that re-classification again comes back
// APPROVAL_REQUIRED the call is auto-denied instead of re-prompting.
func (l *AgentLoop) toolsNode(ctx context.Context, state *agentmodel.AgentState, approved, reentering map[string]bool) {
	calls := state.PendingToolCalls
	state.PendingToolCalls = nil

	for _, call := range calls {
		wasApproved := approved[call.ID]
		wasReentry := reentering[call.ID]

		var result agentmodel.ToolResult
		if wasApproved {
			result = l.runner.RunApproved(ctx, state.ExecutionCtx, call.Name, call.Arguments)
			delete(approved, call.ID)
		} else {
			result = l.runner.Run(ctx, state.ExecutionCtx, call.Name, call.Arguments)
		}

		if !result.Success && result.Error == tools.ErrApprovalRequired.Error() {
			if wasReentry {
				delete(reentering, call.ID)
				l.denyToolCall(state, call.ID, "edited command again required approval; denied to prevent livelock")
				continue
			}
			state.PendingApprovals = append(state.PendingApprovals, agentmodel.ApprovalRequest{
				ToolCallID: call.ID,
				Command:    commandArg(call.Arguments),
				WorkDir:    state.ExecutionCtx.WorkDir,
				DeviceID:   state.ExecutionCtx.DeviceID,
				CreatedAt:  time.Now(),
			})
			state.PendingToolCalls = append(state.PendingToolCalls, call)
			continue
		}
		delete(reentering, call.ID)

		state.Messages = append(state.Messages, agentmodel.Message{
			Role:       agentmodel.RoleTool,
			Content:    result.Render(),
			ToolCallID: call.ID,
			Name:       call.Name,
		})

		def, _ := l.registry.Lookup(call.Name)
		state.ToolCalls = append(state.ToolCalls, agentmodel.ToolCallRecord{
			Name:      call.Name,
			Arguments: call.Arguments,
			Result:    result.Render(),
			Success:   result.Success,
			Duration:  result.Duration,
			Timestamp: time.Now(),
			Risk:      def.Risk,
			Approved:  wasApproved || wasReentry,
		})
	}
}

func commandArg(args map[string]any) string {
	if c, ok := args["command"].(string); ok {
		return c
	}
	return ""
}

// recoveryNode handles a failed step: append a
// synthetic system-visible message summarizing the last error, clear
// the error, and return to agent.
func (l *AgentLoop) recoveryNode(state *agentmodel.AgentState) {
	state.Messages = append(state.Messages, agentmodel.Message{
		Role:    agentmodel.RoleSystem,
		Content: fmt.Sprintf("The previous step failed: %s. Try a different approach.", errMessage(state.Err)),
	})
	state.Err = nil
}

// end assembles the AgentResult.
func (l *AgentLoop) end(state *agentmodel.AgentState, start time.Time) agentmodel.AgentResult {
	status := agentmodel.StatusSuccess
	success := true
	if state.Err != nil {
		status = agentmodel.StatusError
		success = false
	}

	return agentmodel.AgentResult{
		Response:   state.FinalResult,
		Success:    success,
		Status:     status,
		ToolCalls:  state.ToolCalls,
		TotalSteps: state.StepCount,
		Duration:   time.Since(start),
		Err:        state.Err,
	}
}
