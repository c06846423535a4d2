package config

import "time"

// Config is the top-level configuration document, one section per
// component, loaded from a single YAML document.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Shell        ShellConfig        `yaml:"shell"`
	Security     SecurityConfig     `yaml:"security"`
	Memory       MemoryConfig       `yaml:"memory"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Plugins      []PluginConfig     `yaml:"plugins"`
	LogLevel     string             `yaml:"log_level"`
}

// LLMConfig configures the default provider/model and the shared HTTP
// client pool every provider client is built from.
type LLMConfig struct {
	Provider    string         `yaml:"provider"`
	Model       string         `yaml:"model"`
	Temperature float64        `yaml:"temperature"`
	MaxTokens   int            `yaml:"max_tokens"`
	Pool        HTTPPoolConfig `yaml:"pool"`
}

// HTTPPoolConfig mirrors llm.PoolConfig's fields so they're reachable
// from the config file.
type HTTPPoolConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxConnections  int           `yaml:"max_connections"`
	KeepAliveCount  int           `yaml:"keep_alive_count"`
	KeepAliveExpiry time.Duration `yaml:"keep_alive_expiry"`
	EnableHTTP2     bool          `yaml:"enable_http2"`
	MaxRetries      int           `yaml:"max_retries"`
}

// ShellConfig configures the interactive shell wrapper's execution
// environment (the shell wrapper itself is an external collaborator;
// only the fields it reads live here).
type ShellConfig struct {
	WorkDir string            `yaml:"workdir"`
	Env     map[string]string `yaml:"env"`
}

// SecurityConfig configures the Security Controller's default policy
// and approval behavior.
type SecurityConfig struct {
	DefaultPolicy       string        `yaml:"default_policy"`
	Role                string        `yaml:"role"`
	ApprovalTimeout     time.Duration `yaml:"approval_timeout"`
	AllowListRiskLevels []string      `yaml:"allow_list_risk_levels"`
}

// MemoryConfig configures the Memory Manager's long-term backend and
// session/retrieval budgets.
type MemoryConfig struct {
	Backend            string `yaml:"backend"` // "memory", "sqlite", "postgres"
	DSN                string `yaml:"dsn"`
	SessionTurnCap     int    `yaml:"session_turn_cap"`
	SummarizeThreshold int    `yaml:"summarize_threshold"`
	ContextTokenBudget int    `yaml:"context_token_budget"`
}

// TelemetryConfig configures the OpenTelemetry trace exporter and the
// Prometheus metrics listener.
type TelemetryConfig struct {
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	PrometheusPort int    `yaml:"prometheus_port"`
	ServiceName    string `yaml:"service_name"`
}

// OrchestratorConfig configures the Coordinator's default fan-out
// concurrency and the SSH executor beneath it.
type OrchestratorConfig struct {
	Concurrency int       `yaml:"concurrency"`
	SSH         SSHConfig `yaml:"ssh"`
}

// SSHConfig mirrors sshexec.PoolConfig's fields.
type SSHConfig struct {
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	MaxConnsPerHost   int           `yaml:"max_conns_per_host"`
	GlobalConcurrency int           `yaml:"global_concurrency"`
}

// PluginConfig is one entry in the `plugins` list.
type PluginConfig struct {
	Name    string         `yaml:"name"`
	Enabled bool           `yaml:"enabled"`
	Config  map[string]any `yaml:"config"`
}

// Default returns the configuration `agentsh config init` writes out
// and every loaded document is merged over.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4",
			Temperature: 0.7,
			MaxTokens:   4096,
			Pool: HTTPPoolConfig{
				Timeout:         60 * time.Second,
				ConnectTimeout:  10 * time.Second,
				ReadTimeout:     60 * time.Second,
				MaxConnections:  100,
				KeepAliveCount:  20,
				KeepAliveExpiry: 90 * time.Second,
				EnableHTTP2:     true,
				MaxRetries:      2,
			},
		},
		Security: SecurityConfig{
			DefaultPolicy:   "standard",
			Role:            "operator",
			ApprovalTimeout: 30 * time.Second,
		},
		Memory: MemoryConfig{
			Backend:            "memory",
			SessionTurnCap:     50,
			SummarizeThreshold: 40,
			ContextTokenBudget: 2000,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "agentsh",
		},
		Orchestrator: OrchestratorConfig{
			Concurrency: 8,
			SSH: SSHConfig{
				DialTimeout:       10 * time.Second,
				CommandTimeout:    60 * time.Second,
				MaxConnsPerHost:   4,
				GlobalConcurrency: 16,
			},
		},
		LogLevel: "INFO",
	}
}
