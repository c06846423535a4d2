package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/agentsh/agentsh/internal/agentloop"
	"github.com/agentsh/agentsh/internal/agentmodel"
	"github.com/agentsh/agentsh/internal/config"
	"github.com/agentsh/agentsh/internal/coordinator"
	"github.com/agentsh/agentsh/internal/identity"
	"github.com/agentsh/agentsh/internal/inputclassify"
	"github.com/agentsh/agentsh/internal/llm"
	"github.com/agentsh/agentsh/internal/mcpserver"
	"github.com/agentsh/agentsh/internal/memory"
	"github.com/agentsh/agentsh/internal/oauthcred"
	"github.com/agentsh/agentsh/internal/security"
	"github.com/agentsh/agentsh/internal/telemetry"
	"github.com/agentsh/agentsh/internal/tools"
)

// app bundles the components every subcommand needs, built once from a
// single loaded Config so every component is constructed from one
// resolved configuration document.
type app struct {
	cfg            *config.Config
	registry       *tools.Registry
	runner         *tools.Runner
	controller     *security.Controller
	approval       security.ApprovalFlow
	memory         *memory.Manager
	client         llm.Client
	metrics        *telemetry.Metrics
	tracer         *telemetry.Tracer
	tracerShutdown func(context.Context) error
}

// close releases every resource buildApp opened; callers should defer
// it immediately after a successful buildApp call.
func (a *app) close(ctx context.Context) {
	a.memory.Close()
	a.tracerShutdown(ctx)
}

func buildApp(configPath string, approval security.ApprovalFlow) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	client, err := buildLLMClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterLocalShell(registry, 0); err != nil {
		return nil, fmt.Errorf("register shell.run: %w", err)
	}

	if approval == nil {
		approval = security.NewInteractiveApprovalFlow(os.Stdin, os.Stdout, "operator")
	}
	audit, err := security.NewFileAuditLog("agentsh-audit.log", 10<<20)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	policy := security.DefaultPolicy()
	policy.Mode = parsePolicyMode(cfg.Security.DefaultPolicy)
	controller := security.NewController(policy, audit, "cli")
	controller.SetRole(parseRole(cfg.Security.Role))

	runner := tools.NewRunner(registry, controller)

	store, err := buildMemoryStore(cfg.Memory)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics()
	tracer, tracerShutdown := telemetry.NewTracer(telemetry.TraceConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
	})
	if cfg.Telemetry.PrometheusPort > 0 {
		serveMetrics(cfg.Telemetry.PrometheusPort)
	}

	return &app{
		cfg:            cfg,
		registry:       registry,
		runner:         runner,
		controller:     controller,
		approval:       approval,
		memory:         memory.NewManager(store),
		client:         client,
		metrics:        metrics,
		tracer:         tracer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// serveMetrics starts the Prometheus exposition endpoint in the
// background; a bind failure is logged but never fails startup, since
// metrics scraping is not on the critical path for serving a session.
func serveMetrics(port int) {
	go func() {
		addr := fmt.Sprintf(":%d", port)
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("prometheus metrics listener failed", "addr", addr, "error", err)
		}
	}()
}

func buildLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	pool := llm.NewHTTPPool()
	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:           os.Getenv("ANTHROPIC_API_KEY"),
			DefaultModel:     cfg.Model,
			MaxRetries:       cfg.Pool.MaxRetries,
			Pool:             pool,
			CredentialSource: oauthCredentialFromEnv(),
		})
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:           os.Getenv("OPENAI_API_KEY"),
			DefaultModel:     cfg.Model,
			MaxRetries:       cfg.Pool.MaxRetries,
			CredentialSource: oauthCredentialFromEnv(),
		})
	case "ollama":
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = "http://localhost:11434"
		}
		return llm.NewOllamaProvider(llm.OllamaConfig{Host: host, DefaultModel: cfg.Model, Pool: pool}), nil
	case "bedrock":
		return llm.NewBedrockProvider(context.Background(), llm.BedrockConfig{DefaultModel: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// oauthCredentialFromEnv wires an OAuth-issued credential in when a
// device profile supplies one via AGENTSH_OAUTH_REFRESH_TOKEN, leaving
// APIKey as the default path otherwise.
func oauthCredentialFromEnv() oauthcred.Source {
	refresh := os.Getenv("AGENTSH_OAUTH_REFRESH_TOKEN")
	if refresh == "" {
		return nil
	}
	src, err := oauthcred.NewTokenSource(oauthcred.Config{
		ClientID:     os.Getenv("AGENTSH_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("AGENTSH_OAUTH_CLIENT_SECRET"),
		TokenURL:     os.Getenv("AGENTSH_OAUTH_TOKEN_URL"),
		RefreshToken: refresh,
	})
	if err != nil {
		return nil
	}
	return src
}

func buildMemoryStore(cfg config.MemoryConfig) (memory.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return memory.NewInMemoryStore(), nil
	case "sqlite":
		return memory.NewSQLiteStore(cfg.DSN)
	case "postgres":
		return memory.NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// meteredApprovalFlow wraps a security.ApprovalFlow to record each
// resolved request's outcome and audit it through the Controller,
// without requiring the agentloop package to know about telemetry or
// the Controller directly: the agent loop only ever sees an
// security.ApprovalFlow.
type meteredApprovalFlow struct {
	security.ApprovalFlow
	controller *security.Controller
	metrics    *telemetry.Metrics
}

func (m *meteredApprovalFlow) Request(ctx context.Context, req *agentmodel.ApprovalRequest) (agentmodel.ApprovalResult, error) {
	result, err := m.ApprovalFlow.Request(ctx, req)
	if err == nil {
		m.metrics.RecordApproval(string(result.Outcome))
		m.controller.AuditApproval(ctx, req, result)
	}
	return result, err
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func parsePolicyMode(name string) security.PolicyMode {
	switch strings.ToLower(name) {
	case "permissive":
		return security.ModePermissive
	case "strict":
		return security.ModeStrict
	case "paranoid":
		return security.ModeParanoid
	default:
		return security.ModeStandard
	}
}

func parseRole(name string) security.Role {
	switch strings.ToLower(name) {
	case "viewer":
		return security.RoleViewer
	case "admin":
		return security.RoleAdmin
	case "superuser":
		return security.RoleSuperuser
	default:
		return security.RoleOperator
	}
}

// runShell starts the interactive REPL: each line is classified, a
// literal shell command runs directly through the tool runner, and
// everything else drives an Agent Loop toward the stated goal.
func runShell(cmd *cobra.Command, configPath, logLevel string) error {
	a, err := buildApp(configPath, nil)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	loop := agentloop.New(a.client, a.registry, a.runner, &meteredApprovalFlow{a.approval, a.controller, a.metrics}, agentloop.Config{
		Model:       a.cfg.LLM.Model,
		Temperature: a.cfg.LLM.Temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
	})

	classifier := inputclassify.New(inputclassify.DefaultOptions())
	sessionID := "repl"
	workDir, _ := os.Getwd()
	toolCtx := agentmodel.ToolContext{WorkDir: workDir}

	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	fmt.Fprintln(out, "agentsh ready. Ctrl-D to exit.")
	for {
		fmt.Fprint(out, "agentsh> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		classified := classifier.Classify(line)

		switch classified.Type {
		case inputclassify.Empty:
			continue
		case inputclassify.ShellCommand:
			spanCtx, span := a.tracer.StartToolExecution(cmd.Context(), "shell.run")
			start := time.Now()
			result := a.runner.Run(spanCtx, toolCtx, "shell.run", map[string]any{"command": classified.Content})
			if result.Error != "" {
				a.tracer.RecordError(span, fmt.Errorf("%s", result.Error))
			}
			span.End()
			a.metrics.RecordToolExecution("shell.run", outcomeLabel(result.Success), time.Since(start).Seconds())
			fmt.Fprintln(out, result.Render())
			a.memory.RecordTurn(sessionID, agentmodel.Turn{UserInput: line, Response: result.Render(), Success: result.Success, Timestamp: time.Now()})
		case inputclassify.MetaCommand:
			fmt.Fprintf(out, "unrecognized meta command: %s\n", classified.Content)
		default:
			spanCtx, span := a.tracer.StartLLMRequest(cmd.Context(), a.cfg.LLM.Provider, a.cfg.LLM.Model)
			result := loop.Run(spanCtx, classified.Content, toolCtx)
			span.End()
			fmt.Fprintln(out, result.Response)
			a.memory.RecordTurn(sessionID, agentmodel.Turn{UserInput: line, Response: result.Response, Success: result.Success, Timestamp: time.Now()})
		}
	}
	return nil
}

// runMCPServer starts the --mcp-server remote-integration surface: a
// gRPC listener serving tool invocation and the approval flow to
// out-of-process MCP clients. The Server is built invoker-less first
// since the security Controller (which the tool Runner depends on)
// needs it as an ApprovalFlow before the Runner it will later invoke
// through exists; SetInvoker closes that loop once buildApp returns.
func runMCPServer(cmd *cobra.Command, configPath, addr string) error {
	srv := mcpserver.New(nil)
	a, err := buildApp(configPath, srv)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())
	srv.SetInvoker(a.runner)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	gs := grpc.NewServer()
	srv.Register(gs)
	fmt.Fprintf(cmd.OutOrStdout(), "mcp server listening on %s\n", addr)
	return gs.Serve(lis)
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize configuration",
	}
	cmd.AddCommand(buildConfigShowCmd(), buildConfigInitCmd())
	return cmd
}

func buildConfigShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the fully resolved configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	return cmd
}

func buildConfigInitCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default configuration to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "agentsh.yaml", "Output path")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var (
		configPath string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		Long: `Report whether configuration loads, the configured LLM provider
constructs successfully, and the memory backend opens, exiting 0 if
healthy and 1 otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, jsonOutput)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

type statusReport struct {
	Healthy     bool   `json:"healthy"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	MemoryStore string `json:"memory_store"`
	Error       string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, configPath string, jsonOutput bool) error {
	report := statusReport{}
	cfg, err := config.Load(configPath)
	if err != nil {
		report.Error = err.Error()
		return renderStatus(cmd.OutOrStdout(), report, jsonOutput)
	}
	report.Provider = cfg.LLM.Provider
	report.Model = cfg.LLM.Model
	report.MemoryStore = cfg.Memory.Backend

	if _, err := buildLLMClient(cfg.LLM); err != nil {
		report.Error = err.Error()
		return renderStatus(cmd.OutOrStdout(), report, jsonOutput)
	}
	store, err := buildMemoryStore(cfg.Memory)
	if err != nil {
		report.Error = err.Error()
		return renderStatus(cmd.OutOrStdout(), report, jsonOutput)
	}
	store.Close()

	report.Healthy = true
	return renderStatus(cmd.OutOrStdout(), report, jsonOutput)
}

func renderStatus(w io.Writer, report statusReport, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else if report.Healthy {
		fmt.Fprintf(w, "healthy: provider=%s model=%s memory=%s\n", report.Provider, report.Model, report.MemoryStore)
	} else {
		fmt.Fprintf(w, "unhealthy: %s\n", report.Error)
	}
	if !report.Healthy {
		return errExitUnhealthy
	}
	return nil
}

var errExitUnhealthy = fmt.Errorf("agentsh: unhealthy")

func buildDevicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage the device fleet the Coordinator dispatches work to",
	}
	cmd.AddCommand(buildDevicesListCmd(), buildDevicesAddCmd(), buildDevicesRemoveCmd())
	return cmd
}

// devicesState is process-local: a real deployment persists the
// registry, but the CLI's pairing handshake only needs to demonstrate
// IssuePairingToken/CompletePairing/identity.Service.Issue round-trip
// within a single invocation.
func buildDevicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := coordinator.NewDeviceRegistry()
			for _, d := range registry.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d.ID, d.Hostname)
			}
			return nil
		},
	}
}

func buildDevicesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <host>",
		Short: "Pair a new device and issue it a signed credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := args[0]
			registry := coordinator.NewDeviceRegistry()
			tok, err := registry.IssuePairingToken(host, 0)
			if err != nil {
				return err
			}
			device, err := registry.CompletePairing(cmd.Context(), tok.ID, host)
			if err != nil {
				return err
			}

			secret := os.Getenv("AGENTSH_DEVICE_SECRET")
			if secret == "" {
				secret = "agentsh-dev-secret"
			}
			svc := identity.NewService(secret, 0)
			credential, err := svc.Issue(device)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paired %s as device %s\ncredential: %s\n", host, device.ID, credential)
			return nil
		},
	}
}

func buildDevicesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Deregister a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := coordinator.NewDeviceRegistry()
			registry.Remove(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "removed device %s\n", args[0])
			return nil
		},
	}
}
