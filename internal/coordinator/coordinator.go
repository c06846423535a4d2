package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// RolloutMode selects how a batch of devices is dispatched.
type RolloutMode string

const (
	RolloutParallel   RolloutMode = "parallel"
	RolloutSequential RolloutMode = "sequential"
	RolloutCanary     RolloutMode = "canary"
)

// FailurePolicy decides what a device failure means for the rest of the
// rollout, matching the rollout model below.
type FailurePolicy string

const (
	FailFast FailurePolicy = "fail_fast"
	Continue FailurePolicy = "continue"
	Rollback FailurePolicy = "rollback"
)

// RolloutStrategy configures one Coordinator run.
type RolloutStrategy struct {
	Mode RolloutMode

	// Canary is k for RolloutCanary; ignored otherwise.
	Canary int

	// RestMode is the secondary switch choosing how the devices after
	// the canary batch are dispatched (parallel or sequential); ignored
	// unless Mode is RolloutCanary.
	RestMode RolloutMode

	// RollbackOnFailure aborts the rollout before touching any device
	// past the canary batch if a canary failed. Only meaningful for
	// RolloutCanary.
	RollbackOnFailure bool
}

// DefaultConfig bounds PARALLEL fan-out the way ToolExecutor bounds
// concurrent tool calls.
type Config struct {
	Concurrency int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Concurrency: 8}
}

// LoopFunc runs one goal against one device's execution context and
// returns its outcome. It is the Coordinator's binding to
// agentloop.AgentLoop.Run — callers supply a closure so the Coordinator
// stays decoupled from how a device's tool transport (SSH, local) is
// wired into the shared Tool Registry.
type LoopFunc func(ctx context.Context, device agentmodel.Device, goal string) agentmodel.AgentResult

// RollbackFunc invokes a workflow-supplied rollback tool call against a
// device that was contacted during an aborted or failed rollout.
type RollbackFunc func(ctx context.Context, device agentmodel.Device) error

// Coordinator fans a single goal across a device fleet under one of the
// three rollout strategies, matching the rollout model below.
type Coordinator struct {
	run      LoopFunc
	rollback RollbackFunc
	cfg      Config
}

// New builds a Coordinator. rollback may be nil if no FailurePolicy
// using ROLLBACK will ever be supplied.
func New(run LoopFunc, rollback RollbackFunc, cfg Config) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Coordinator{run: run, rollback: rollback, cfg: cfg}
}

// Run fans goal across devices under strategy, honoring policy on
// failure, and returns the aggregated OrchestrationResult.
func (c *Coordinator) Run(ctx context.Context, devices []agentmodel.Device, goal string, strategy RolloutStrategy, policy FailurePolicy) agentmodel.OrchestrationResult {
	start := time.Now()
	results := make(map[string]agentmodel.DeviceResult, len(devices))
	contacted := make([]agentmodel.Device, 0, len(devices))
	aborted := false

	switch strategy.Mode {
	case RolloutSequential:
		aborted = c.runSequential(ctx, devices, goal, policy, results, &contacted)

	case RolloutParallel:
		c.runParallel(ctx, devices, goal, policy, results, &contacted)

	case RolloutCanary:
		k := strategy.Canary
		if k > len(devices) {
			k = len(devices)
		}
		canaries := devices[:k]
		rest := devices[k:]

		c.runParallel(ctx, canaries, goal, Continue, results, &contacted)

		canaryFailed := false
		for _, d := range canaries {
			if !results[d.ID].Success {
				canaryFailed = true
				break
			}
		}

		if canaryFailed && strategy.RollbackOnFailure {
			aborted = true
		} else {
			restMode := strategy.RestMode
			if restMode == "" {
				restMode = RolloutParallel
			}
			if restMode == RolloutSequential {
				c.runSequential(ctx, rest, goal, policy, results, &contacted)
			} else {
				c.runParallel(ctx, rest, goal, policy, results, &contacted)
			}
		}

	default:
		aborted = c.runSequential(ctx, devices, goal, policy, results, &contacted)
	}

	if policy == Rollback && c.rollback != nil {
		c.rollbackContacted(ctx, contacted)
	}

	return c.aggregate(results, aborted, start)
}

func (c *Coordinator) rollbackContacted(ctx context.Context, contacted []agentmodel.Device) {
	for _, d := range contacted {
		c.rollback(ctx, d)
	}
}

func (c *Coordinator) aggregate(results map[string]agentmodel.DeviceResult, aborted bool, start time.Time) agentmodel.OrchestrationResult {
	successes, failures := 0, 0
	for _, r := range results {
		if r.Success {
			successes++
		} else {
			failures++
		}
	}

	status := agentmodel.OrchestrationSuccess
	switch {
	case aborted:
		status = agentmodel.OrchestrationAborted
	case failures > 0 && successes > 0:
		status = agentmodel.OrchestrationPartial
	case failures > 0:
		status = agentmodel.OrchestrationFailed
	}

	return agentmodel.OrchestrationResult{
		Results:   results,
		Successes: successes,
		Failures:  failures,
		Status:    status,
		Duration:  time.Since(start),
	}
}

// runSequential runs devices one at a time in list order, stopping
// before the next device if policy is FailFast and the current device
// failed. Returns true if the rollout was aborted mid-way.
func (c *Coordinator) runSequential(ctx context.Context, devices []agentmodel.Device, goal string, policy FailurePolicy, results map[string]agentmodel.DeviceResult, contacted *[]agentmodel.Device) bool {
	for _, d := range devices {
		*contacted = append(*contacted, d)
		results[d.ID] = c.runOne(ctx, d, goal)
		if policy == FailFast && !results[d.ID].Success {
			return true
		}
	}
	return false
}

// runParallel dispatches devices concurrently, bounded by the
// Coordinator's configured semaphore. Under FailFast, the first failure
// cancels a shared context so not-yet-started or in-flight loops can
// cooperatively stop; devices already dispatched still report whatever
// result they reached.
func (c *Coordinator) runParallel(ctx context.Context, devices []agentmodel.Device, goal string, policy FailurePolicy, results map[string]agentmodel.DeviceResult, contacted *[]agentmodel.Device) {
	if len(devices) == 0 {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.cfg.Concurrency)

	for _, d := range devices {
		wg.Add(1)
		go func(device agentmodel.Device) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				return
			}

			mu.Lock()
			*contacted = append(*contacted, device)
			mu.Unlock()

			result := c.runOne(runCtx, device, goal)

			mu.Lock()
			results[device.ID] = result
			mu.Unlock()

			if policy == FailFast && !result.Success {
				cancel()
			}
		}(d)
	}

	wg.Wait()
}

func (c *Coordinator) runOne(ctx context.Context, device agentmodel.Device, goal string) agentmodel.DeviceResult {
	start := time.Now()
	result := c.run(ctx, device, goal)
	return agentmodel.DeviceResult{
		DeviceID: device.ID,
		Success:  result.Success,
		Output:   result.Response,
		Error:    errString(result.Err),
		Duration: time.Since(start),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
