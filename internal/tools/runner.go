package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

const (
	defaultTimeout   = 30 * time.Second
	retryBackoffBase = 500 * time.Millisecond
)

// ErrApprovalRequired is returned by Run when the Security Controller's
// decision is APPROVAL_REQUIRED; the runner never prompts itself, the
// caller (the agent loop) must drive the approval flow and re-invoke.
var ErrApprovalRequired = errors.New("tools: approval required")

// Runner executes validated tool calls under a fixed set of
// guarantees: validation, security interposition, timeout, retry, and
// result normalization.
type Runner struct {
	registry *Registry
	security SecurityGate
}

// NewRunner builds a Runner over registry, consulting security (which
// may be nil, e.g. in tests with no command-executing tools) before any
// command-executing tool call.
func NewRunner(registry *Registry, security SecurityGate) *Runner {
	return &Runner{registry: registry, security: security}
}

// Run executes a single named tool call with the given arguments and
// execution context.
func (r *Runner) Run(ctx context.Context, toolCtx agentmodel.ToolContext, name string, args map[string]any) agentmodel.ToolResult {
	return r.run(ctx, toolCtx, name, args, false)
}

// RunApproved executes a tool call that has already cleared the
// Security Controller's approval flow, skipping the gate so a caller
// driving its own approval flow doesn't re-trigger it on re-entry.
func (r *Runner) RunApproved(ctx context.Context, toolCtx agentmodel.ToolContext, name string, args map[string]any) agentmodel.ToolResult {
	return r.run(ctx, toolCtx, name, args, true)
}

func (r *Runner) run(ctx context.Context, toolCtx agentmodel.ToolContext, name string, args map[string]any, skipSecurity bool) agentmodel.ToolResult {
	start := time.Now()

	ct, ok := r.registry.get(name)
	if !ok {
		return agentmodel.ToolResult{Success: false, Error: "unknown tool: " + name, Duration: time.Since(start)}
	}

	if err := ct.schema.Validate(args); err != nil {
		return agentmodel.ToolResult{Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	if isCommandExecuting(name) && r.security != nil && !skipSecurity {
		command, _ := args["command"].(string)
		decision, reason, err := r.security.Evaluate(ctx, command, toolCtx.WorkDir, toolCtx.DeviceID)
		if err != nil {
			return agentmodel.ToolResult{Success: false, Error: err.Error(), Duration: time.Since(start)}
		}
		switch decision {
		case SecurityBlocked:
			return agentmodel.ToolResult{Success: false, Error: "Security: " + reason, Duration: time.Since(start)}
		case SecurityApprovalRequired:
			return agentmodel.ToolResult{Success: false, Error: ErrApprovalRequired.Error(), Duration: time.Since(start)}
		}
	}

	timeout := ct.def.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries := ct.def.MaxRetries

	var result agentmodel.ToolResult
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return agentmodel.ToolResult{Success: false, Error: ctx.Err().Error(), Duration: time.Since(start)}
			case <-time.After(time.Duration(attempt) * retryBackoffBase):
			}
		}

		attemptStart := time.Now()
		result = runWithTimeout(ctx, ct.def.Handler, toolCtx, args, timeout)
		result.Duration = time.Since(attemptStart)

		if result.Success || result.Metadata["timed_out"] == true {
			// Timeouts terminate the retry loop immediately; do not retry.
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// runWithTimeout executes handler under a context cancelled after
// timeout, normalizing whichever of ToolResult/string/map/nil/error the
// handler returns.
func runWithTimeout(ctx context.Context, handler agentmodel.ToolHandler, toolCtx agentmodel.ToolContext, args map[string]any, timeout time.Duration) agentmodel.ToolResult {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				select {
				case done <- outcome{err: fmt.Errorf("panic: %v", rec)}:
				default:
				}
			}
		}()
		value, err := handler(toolCtx, args)
		select {
		case done <- outcome{value: value, err: err}:
		default:
		}
	}()

	select {
	case <-callCtx.Done():
		return agentmodel.ToolResult{
			Success:  false,
			Error:    fmt.Sprintf("tool execution timed out after %v", timeout),
			Metadata: map[string]any{"timed_out": true},
		}
	case o := <-done:
		if o.err != nil {
			return agentmodel.ToolResult{Success: false, Error: o.err.Error()}
		}
		return normalizeResult(o.value)
	}
}

// normalizeResult coerces whatever a handler returns into a
// ToolResult: a ToolResult passes through, a string is wrapped as
// success+output, a map is success unless it contains an "error" key,
// and nil becomes an empty success.
func normalizeResult(value any) agentmodel.ToolResult {
	switch v := value.(type) {
	case nil:
		return agentmodel.ToolResult{Success: true}
	case agentmodel.ToolResult:
		return v
	case string:
		return agentmodel.ToolResult{Success: true, Output: v}
	case map[string]any:
		if errVal, hasErr := v["error"]; hasErr {
			msg := fmt.Sprintf("%v", errVal)
			return agentmodel.ToolResult{Success: false, Error: msg, Metadata: v}
		}
		output, _ := v["output"].(string)
		return agentmodel.ToolResult{Success: true, Output: output, Metadata: v}
	default:
		return agentmodel.ToolResult{Success: true, Output: fmt.Sprintf("%v", v)}
	}
}

// BatchSequential runs a list of (name, args) tool calls one at a time,
// preserving result order.
func (r *Runner) BatchSequential(ctx context.Context, toolCtx agentmodel.ToolContext, calls []agentmodel.ToolCall) []agentmodel.ToolResult {
	results := make([]agentmodel.ToolResult, len(calls))
	for i, call := range calls {
		results[i] = r.Run(ctx, toolCtx, call.Name, call.Arguments)
	}
	return results
}

// BatchParallel runs a list of (name, args) tool calls concurrently,
// bounded by concurrency, gathering all results; order still matches
// input order.
func (r *Runner) BatchParallel(ctx context.Context, toolCtx agentmodel.ToolContext, calls []agentmodel.ToolCall, concurrency int) []agentmodel.ToolResult {
	if concurrency <= 0 {
		concurrency = 4
	}
	results := make([]agentmodel.ToolResult, len(calls))
	sem := make(chan struct{}, concurrency)
	done := make(chan int, len(calls))

	for i, call := range calls {
		go func(idx int, c agentmodel.ToolCall) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = agentmodel.ToolResult{Success: false, Error: ctx.Err().Error()}
				done <- idx
				return
			}
			results[idx] = r.Run(ctx, toolCtx, c.Name, c.Arguments)
			done <- idx
		}(i, call)
	}

	for range calls {
		<-done
	}
	return results
}
