package tools

import (
	"bytes"
	"os/exec"
	"time"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// RegisterLocalShell registers "shell.run", the tool transport for
// commands executed on the host the agent loop itself runs on (the
// local counterpart to sshexec.Pool for remote devices). It shells out
// via /bin/sh -c so redirection and pipelines behave the way a REPL
// user expects.
func RegisterLocalShell(r *Registry, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return r.Register(agentmodel.ToolDefinition{
		Name:        "shell.run",
		Description: "Execute a shell command in the current working directory and return its combined output.",
		Parameters: agentmodel.ToolParameters{
			Type: "object",
			Properties: map[string]map[string]any{
				"command": {"type": "string", "description": "The shell command to execute."},
			},
			Required: []string{"command"},
		},
		Risk:       agentmodel.RiskMedium,
		Timeout:    timeout,
		MaxRetries: 0,
		Handler:    localShellHandler,
	})
}

// localShellHandler matches agentmodel.ToolHandler's signature, which
// carries no context.Context; the Runner bounds execution time by
// racing this handler's done channel against its own timeout, so the
// command keeps running to completion even past a timed-out caller.
func localShellHandler(ctx agentmodel.ToolContext, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	start := time.Now()

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = ctx.WorkDir
	for k, v := range ctx.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := agentmodel.ToolResult{
		Output:   out.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			result.ExitCode = &code
		}
		result.Error = err.Error()
		return result, nil
	}
	zero := 0
	result.Success = true
	result.ExitCode = &zero
	return result, nil
}
