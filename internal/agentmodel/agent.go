package agentmodel

import "time"

// AgentStatus is the terminal disposition of an AgentResult.
type AgentStatus string

const (
	StatusSuccess   AgentStatus = "success"
	StatusError     AgentStatus = "error"
	StatusCancelled AgentStatus = "cancelled"
)

// AgentState is the Agent Loop's mutable record of one run. It is advanced
// only by the loop; no other component mutates it.
type AgentState struct {
	Messages         []Message
	Goal             string
	Plan             string
	StepCount        int
	MaxSteps         int
	ToolCalls        []ToolCallRecord
	PendingToolCalls []ToolCall
	PendingApprovals []ApprovalRequest
	Terminal         bool
	FinalResult      string
	Err              error
	ExecutionCtx     ToolContext
}

// AgentResult is the loop's return value, assembled in the end state.
type AgentResult struct {
	Response   string
	Success    bool
	Status     AgentStatus
	ToolCalls  []ToolCallRecord
	TotalSteps int
	Duration   time.Duration
	Err        error
}

// ApprovalOutcome is the result an Approval Flow returns for a single
// ApprovalRequest.
type ApprovalOutcome string

const (
	ApprovalApproved ApprovalOutcome = "APPROVED"
	ApprovalDenied   ApprovalOutcome = "DENIED"
	ApprovalEdited   ApprovalOutcome = "EDITED"
	ApprovalTimeout  ApprovalOutcome = "TIMEOUT"
	ApprovalSkipped  ApprovalOutcome = "SKIPPED"
)

// ApprovalRequest is produced by the Security Controller whenever a
// decision requires human sign-off.
type ApprovalRequest struct {
	RequestID  string
	ToolCallID string
	Command    string
	Risk       RiskLevel
	Reasons    []string
	WorkDir    string
	DeviceID   string
	Timeout    time.Duration
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ApprovalResult pairs an ApprovalOutcome with the edited command, if
// any, and the identity of whoever decided it (for the audit log).
type ApprovalResult struct {
	Outcome    ApprovalOutcome
	NewCommand string
	Approver   string
}
