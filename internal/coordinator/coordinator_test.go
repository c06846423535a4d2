package coordinator

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

func devicesN(n int) []agentmodel.Device {
	out := make([]agentmodel.Device, n)
	for i := range out {
		out[i] = agentmodel.Device{ID: string(rune('a' + i)), Hostname: "host" + string(rune('a'+i))}
	}
	return out
}

func alwaysSucceeds(ctx context.Context, d agentmodel.Device, goal string) agentmodel.AgentResult {
	return agentmodel.AgentResult{Success: true, Response: "ok on " + d.ID}
}

func failsOn(failID string) LoopFunc {
	return func(ctx context.Context, d agentmodel.Device, goal string) agentmodel.AgentResult {
		if d.ID == failID {
			return agentmodel.AgentResult{Success: false, Response: "boom"}
		}
		return agentmodel.AgentResult{Success: true, Response: "ok"}
	}
}

func TestCoordinatorParallelAggregatesAllSuccesses(t *testing.T) {
	c := New(alwaysSucceeds, nil, DefaultConfig())
	result := c.Run(context.Background(), devicesN(4), "do thing", RolloutStrategy{Mode: RolloutParallel}, Continue)

	if result.Successes != 4 || result.Failures != 0 {
		t.Fatalf("expected 4 successes, got %+v", result)
	}
	if result.Status != agentmodel.OrchestrationSuccess {
		t.Fatalf("expected success status, got %s", result.Status)
	}
}

func TestCoordinatorSequentialFailFastStopsEarly(t *testing.T) {
	devices := devicesN(4)
	c := New(failsOn(devices[1].ID), nil, DefaultConfig())

	result := c.Run(context.Background(), devices, "do thing", RolloutStrategy{Mode: RolloutSequential}, FailFast)

	if len(result.Results) != 2 {
		t.Fatalf("expected exactly 2 devices contacted, got %d: %+v", len(result.Results), result.Results)
	}
	if result.Successes != 1 || result.Failures != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", result)
	}
}

func TestCoordinatorSequentialContinueRunsAllDevices(t *testing.T) {
	devices := devicesN(4)
	c := New(failsOn(devices[1].ID), nil, DefaultConfig())

	result := c.Run(context.Background(), devices, "do thing", RolloutStrategy{Mode: RolloutSequential}, Continue)

	if len(result.Results) != 4 {
		t.Fatalf("expected all 4 devices contacted, got %d", len(result.Results))
	}
	if result.Successes != 3 || result.Failures != 1 {
		t.Fatalf("expected 3 successes and 1 failure, got %+v", result)
	}
}

func TestCoordinatorCanaryAbortsBeforeRestOnFailure(t *testing.T) {
	devices := devicesN(5)
	c := New(failsOn(devices[0].ID), nil, DefaultConfig())

	strategy := RolloutStrategy{Mode: RolloutCanary, Canary: 1, RollbackOnFailure: true}
	result := c.Run(context.Background(), devices, "restart service X", strategy, Continue)

	if len(result.Results) != 1 {
		t.Fatalf("expected only the canary to be contacted, got %d: %+v", len(result.Results), result.Results)
	}
	if result.Successes != 0 || result.Failures != 1 {
		t.Fatalf("expected 0 successes and 1 failure, got %+v", result)
	}
	if result.Status != agentmodel.OrchestrationAborted {
		t.Fatalf("expected ABORTED status, got %s", result.Status)
	}
}

func TestCoordinatorCanaryRollbackInvokesRollbackOnContactedOnly(t *testing.T) {
	devices := devicesN(5)
	var rolledBack []string
	rollback := func(ctx context.Context, d agentmodel.Device) error {
		rolledBack = append(rolledBack, d.ID)
		return nil
	}
	c := New(failsOn(devices[0].ID), rollback, DefaultConfig())

	strategy := RolloutStrategy{Mode: RolloutCanary, Canary: 1, RollbackOnFailure: true}
	c.Run(context.Background(), devices, "restart service X", strategy, Rollback)

	if len(rolledBack) != 1 || rolledBack[0] != devices[0].ID {
		t.Fatalf("expected rollback invoked on device %q only, got %v", devices[0].ID, rolledBack)
	}
}

func TestCoordinatorCanaryProceedsWhenCanarySucceeds(t *testing.T) {
	devices := devicesN(5)
	var contactedCount int64
	run := func(ctx context.Context, d agentmodel.Device, goal string) agentmodel.AgentResult {
		atomic.AddInt64(&contactedCount, 1)
		return agentmodel.AgentResult{Success: true}
	}
	c := New(run, nil, DefaultConfig())

	strategy := RolloutStrategy{Mode: RolloutCanary, Canary: 1, RollbackOnFailure: true, RestMode: RolloutParallel}
	result := c.Run(context.Background(), devices, "restart service X", strategy, Continue)

	if len(result.Results) != 5 {
		t.Fatalf("expected all 5 devices contacted, got %d", len(result.Results))
	}
	if result.Status != agentmodel.OrchestrationSuccess {
		t.Fatalf("expected success status, got %s", result.Status)
	}
}
