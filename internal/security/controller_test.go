package security

import (
	"context"
	"testing"

	"github.com/agentsh/agentsh/internal/agentmodel"
	"github.com/agentsh/agentsh/internal/tools"
)

func TestControllerPermissionTable(t *testing.T) {
	c := NewController(DefaultPolicy(), nil, "sess-1")

	cases := []struct {
		role    Role
		command string
		want    Decision
	}{
		{RoleViewer, "ls", DecisionBlocked},
		{RoleOperator, "ls", DecisionAllow},
		{RoleOperator, "apt-get install -y curl", DecisionApprovalRequired},
		{RoleOperator, "rm -rf ./build", DecisionBlocked},
		{RoleAdmin, "rm -rf ./build", DecisionApprovalRequired},
		{RoleAdmin, "rm -rf /", DecisionBlocked},
		{RoleSuperuser, "rm -rf /", DecisionApprovalRequired},
	}

	for _, tc := range cases {
		got, _ := c.Decide(tc.role, tc.command)
		if got != tc.want {
			t.Errorf("Decide(%s, %q) = %s, want %s", tc.role, tc.command, got, tc.want)
		}
	}
}

func TestControllerParanoidModeUpgradesMedium(t *testing.T) {
	policy := DefaultPolicy()
	policy.Mode = ModeParanoid
	c := NewController(policy, nil, "sess-1")

	got, _ := c.Decide(RoleOperator, "ls")
	if got != DecisionAllow {
		t.Fatalf("expected SAFE to remain ALLOW under PARANOID, got %s", got)
	}
	// MEDIUM would normally ALLOW for ADMIN; PARANOID must upgrade it.
	got, _ = c.Decide(RoleAdmin, "apt-get install -y curl")
	if got != DecisionApprovalRequired {
		t.Fatalf("expected PARANOID to require approval for MEDIUM, got %s", got)
	}
}

func TestControllerPermissiveModeNeverRequiresApproval(t *testing.T) {
	policy := DefaultPolicy()
	policy.Mode = ModePermissive
	c := NewController(policy, nil, "sess-1")

	got, _ := c.Decide(RoleOperator, "apt-get install -y curl")
	if got != DecisionAllow {
		t.Fatalf("expected PERMISSIVE to collapse APPROVAL_REQUIRED to ALLOW, got %s", got)
	}
}

func TestControllerBlockPatternWins(t *testing.T) {
	policy := DefaultPolicy()
	policy.BlockPatterns = []string{"forbidden-tool"}
	c := NewController(policy, nil, "sess-1")

	got, reasons := c.Decide(RoleSuperuser, "forbidden-tool --run")
	if got != DecisionBlocked {
		t.Fatalf("expected policy block-pattern to force BLOCKED even for SUPERUSER, got %s", got)
	}
	if len(reasons) == 0 {
		t.Fatalf("expected a reason for the block")
	}
}

func TestControllerMaxCommandLength(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxCommandLen = 10
	c := NewController(policy, nil, "sess-1")

	got, _ := c.Decide(RoleSuperuser, "echo this command is definitely too long")
	if got != DecisionBlocked {
		t.Fatalf("expected over-length command to be BLOCKED, got %s", got)
	}
}

func TestControllerEvaluateAsNeverBlocksOnApprovalRequired(t *testing.T) {
	// Evaluate/EvaluateAs classify and audit only; they must return
	// SecurityApprovalRequired straight through rather than resolving it,
	// since driving the approval flow is the caller's job.
	c := NewController(DefaultPolicy(), nil, "sess-1")
	decision, _, err := c.EvaluateAs(context.Background(), RoleOperator, "apt-get install -y curl", "/tmp", "")
	if err != nil {
		t.Fatal(err)
	}
	if decision != tools.SecurityApprovalRequired {
		t.Fatalf("expected APPROVAL_REQUIRED passed through unresolved, got %s", decision)
	}
}

func TestControllerEvaluateUsesConfiguredRole(t *testing.T) {
	c := NewController(DefaultPolicy(), nil, "sess-1")

	decision, _, err := c.Evaluate(context.Background(), "ls", "/tmp", "")
	if err != nil {
		t.Fatal(err)
	}
	if decision != tools.SecurityAllow {
		t.Fatalf("expected default OPERATOR role to ALLOW ls, got %s", decision)
	}

	c.SetRole(RoleViewer)
	decision, _, err = c.Evaluate(context.Background(), "ls", "/tmp", "")
	if err != nil {
		t.Fatal(err)
	}
	if decision != tools.SecurityBlocked {
		t.Fatalf("expected VIEWER role to BLOCK ls, got %s", decision)
	}
}

func TestAutoApprovalFlow(t *testing.T) {
	flow := NewAutoApprovalFlow(agentmodel.RiskMedium, agentmodel.RiskLow)
	req := &agentmodel.ApprovalRequest{Risk: agentmodel.RiskMedium}
	result, err := flow.Request(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != agentmodel.ApprovalApproved {
		t.Fatalf("expected MEDIUM to be auto-approved, got %s", result.Outcome)
	}

	req.Risk = agentmodel.RiskHigh
	result, err = flow.Request(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != agentmodel.ApprovalDenied {
		t.Fatalf("expected HIGH to be auto-denied, got %s", result.Outcome)
	}
}
