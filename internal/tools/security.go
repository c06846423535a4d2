package tools

import "context"

// SecurityDecision mirrors agentmodel's decision outcomes without
// importing the security package directly, breaking an import cycle
// (security depends on tools for nothing, but the runner needs to call
// into it; the Gate interface keeps the dependency one-directional).
type SecurityDecision string

const (
	SecurityAllow            SecurityDecision = "ALLOW"
	SecurityApprovalRequired SecurityDecision = "APPROVAL_REQUIRED"
	SecurityBlocked          SecurityDecision = "BLOCKED"
)

// SecurityGate is consulted before any command-executing tool runs.
// internal/security.Controller implements this interface; the runner
// depends only on the interface to keep package dependencies acyclic.
type SecurityGate interface {
	Evaluate(ctx context.Context, command, workDir, deviceID string) (SecurityDecision, string, error)
}

// commandExecutingTools is the fixed set of tool names (plus explicitly
// registered aliases) the runner treats as arbitrary-command execution
// subject to security interposition.
var commandExecutingTools = map[string]bool{
	"shell.run": true,
}

// RegisterCommandExecutingAlias adds another tool name to the set the
// runner subjects to security interposition, for toolsets that wrap
// shell.run under a different name.
func RegisterCommandExecutingAlias(name string) {
	commandExecutingTools[name] = true
}

func isCommandExecuting(name string) bool {
	return commandExecutingTools[name]
}
