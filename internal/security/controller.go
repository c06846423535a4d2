package security

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentsh/agentsh/internal/agentmodel"
	"github.com/agentsh/agentsh/internal/tools"
)

// Role is a totally ordered privilege level, per-device overridable.
type Role int

const (
	RoleViewer Role = iota
	RoleOperator
	RoleAdmin
	RoleSuperuser
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "VIEWER"
	case RoleOperator:
		return "OPERATOR"
	case RoleAdmin:
		return "ADMIN"
	case RoleSuperuser:
		return "SUPERUSER"
	default:
		return "UNKNOWN"
	}
}

// PolicyMode upgrades (never downgrades) the table-derived decision.
type PolicyMode int

const (
	ModePermissive PolicyMode = iota
	ModeStandard
	ModeStrict
	ModeParanoid
)

// Decision is the three-way outcome of the controller's resolution
// pipeline.
type Decision string

const (
	DecisionAllow            Decision = "ALLOW"
	DecisionApprovalRequired Decision = "APPROVAL_REQUIRED"
	DecisionBlocked          Decision = "BLOCKED"
)

// Policy bundles a mode with the explicit allow/block lists and limits
// the policy table below names. Policies may be configured per device.
type Policy struct {
	Mode            PolicyMode
	BlockPatterns   []string
	AllowPatterns   []string
	MaxCommandLen   int
	AllowSudo       bool
	AllowNetwork    bool
	PathAllowGlobs  []string
	PathDenyGlobs   []string
}

// DefaultPolicy is the STANDARD-mode policy with no extra restrictions
// beyond the role×risk table, used when a device has none configured.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeStandard, MaxCommandLen: 4096}
}

// permissionTable is the literal role×risk array the policy defines,
// indexed [role][risk] with risk as agentmodel.RiskLevel (SAFE..CRITICAL).
var permissionTable = [4][5]Decision{
	RoleViewer:    {DecisionBlocked, DecisionBlocked, DecisionBlocked, DecisionBlocked, DecisionBlocked},
	RoleOperator:  {DecisionAllow, DecisionAllow, DecisionApprovalRequired, DecisionBlocked, DecisionBlocked},
	RoleAdmin:     {DecisionAllow, DecisionAllow, DecisionAllow, DecisionApprovalRequired, DecisionBlocked},
	RoleSuperuser: {DecisionAllow, DecisionAllow, DecisionAllow, DecisionAllow, DecisionApprovalRequired},
}

// ApprovalFlow drives the human-in-the-loop step when the controller's
// decision is APPROVAL_REQUIRED. Implementations: an interactive TTY
// prompt and an auto-decision flow keyed off a configured risk allow-list.
type ApprovalFlow interface {
	Request(ctx context.Context, req *agentmodel.ApprovalRequest) (agentmodel.ApprovalResult, error)
}

// AuditSink receives one entry per non-ALLOW outcome and per approval
// result.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Controller implements the fixed five-step resolution order: policy
// block-patterns, command length, CRITICAL auto-block, the role×risk
// table, and policy-mode escalation. It never drives the approval
// flow itself: a decision of APPROVAL_REQUIRED is returned to the
// caller (the Tool Runner, and beyond it the Agent Loop's approval
// node), which owns prompting and re-entering an edited command back
// through Decide.
type Controller struct {
	policy  Policy
	role    Role
	audit   AuditSink
	session string
}

// NewController builds a Controller over policy, the audit sink to
// record every non-ALLOW outcome to, and the session id attached to
// audit entries. The acting role defaults to RoleOperator; SetRole
// overrides it once the configured role is known.
func NewController(policy Policy, audit AuditSink, sessionID string) *Controller {
	return &Controller{policy: policy, role: RoleOperator, audit: audit, session: sessionID}
}

// SetRole changes the role Evaluate acts as; EvaluateAs always takes
// precedence with an explicit role regardless of this setting.
func (c *Controller) SetRole(role Role) {
	c.role = role
}

// Decide runs the fixed resolution pipeline for a single command,
// without driving the approval flow. Exported separately from Evaluate
// so callers (tests, the EDITED re-entry path) can re-classify without
// re-prompting.
func (c *Controller) Decide(role Role, command string) (Decision, []string) {
	if matchesAny(c.policy.BlockPatterns, command) {
		return DecisionBlocked, []string{"matches policy block-pattern list"}
	}
	if c.policy.MaxCommandLen > 0 && len(command) > c.policy.MaxCommandLen {
		return DecisionBlocked, []string{fmt.Sprintf("command length %d exceeds policy maximum %d", len(command), c.policy.MaxCommandLen)}
	}

	risk, reasons := Classify(command)

	if risk == agentmodel.RiskCritical {
		if role == RoleSuperuser {
			return DecisionApprovalRequired, append(reasons, "CRITICAL risk escalated to approval for SUPERUSER")
		}
		return DecisionBlocked, append(reasons, "matches CRITICAL pattern")
	}

	decision := permissionTable[role][risk]

	switch c.policy.Mode {
	case ModeParanoid:
		if risk >= agentmodel.RiskMedium && decision == DecisionAllow {
			decision = DecisionApprovalRequired
		}
	case ModeStrict:
		if risk >= agentmodel.RiskHigh && decision == DecisionAllow {
			decision = DecisionApprovalRequired
		}
	case ModePermissive:
		if decision == DecisionApprovalRequired {
			decision = DecisionAllow
		}
	}

	return decision, reasons
}

// Evaluate implements tools.SecurityGate as the configured role: it
// runs the resolution pipeline and audits every non-ALLOW outcome,
// but never itself drives the approval flow — the caller is
// responsible for prompting on a SecurityApprovalRequired result and,
// on an edited command, re-entering it through this same gate.
func (c *Controller) Evaluate(ctx context.Context, command, workDir, deviceID string) (tools.SecurityDecision, string, error) {
	return c.EvaluateAs(ctx, c.role, command, workDir, deviceID)
}

// EvaluateAs is Evaluate with an explicit role, for callers that know
// the acting principal (the coordinator, tests).
func (c *Controller) EvaluateAs(ctx context.Context, role Role, command, workDir, deviceID string) (tools.SecurityDecision, string, error) {
	decision, reasons := c.Decide(role, command)
	reason := strings.Join(reasons, "; ")
	if decision != DecisionAllow {
		c.auditDecision(ctx, decision, command, reason, deviceID)
	}
	return toGateDecision(decision), reason, nil
}

// AuditApproval records one approval-flow result to the audit sink.
// Callers that drive the approval flow themselves (the Agent Loop, via
// the CLI's metered approval decorator) call this after the flow
// resolves, so every approval outcome lands in the same audit stream
// as the gate's own non-ALLOW decisions.
func (c *Controller) AuditApproval(ctx context.Context, req *agentmodel.ApprovalRequest, result agentmodel.ApprovalResult) {
	c.auditApproval(ctx, req, result)
}

// toGateDecision maps the controller's Decision to the tools package's
// SecurityDecision, keeping the two enums independently named so
// internal/tools never imports internal/security.
func toGateDecision(d Decision) tools.SecurityDecision {
	switch d {
	case DecisionAllow:
		return tools.SecurityAllow
	case DecisionApprovalRequired:
		return tools.SecurityApprovalRequired
	default:
		return tools.SecurityBlocked
	}
}

func matchesAny(patterns []string, command string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(command, p) {
			return true
		}
	}
	return false
}
