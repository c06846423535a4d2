package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentsh.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesExplicitOverDefault(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: openai
  model: gpt-4o
log_level: DEBUG
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("unexpected LLM config: %+v", cfg.LLM)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Fatalf("expected log_level override, got %q", cfg.LogLevel)
	}
	// Values the file doesn't touch keep Default()'s values.
	if cfg.Orchestrator.Concurrency != 8 {
		t.Fatalf("expected default orchestrator concurrency, got %d", cfg.Orchestrator.Concurrency)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: anthropic
  bogus_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRejectsMultiDocument(t *testing.T) {
	path := writeConfig(t, `
log_level: DEBUG
---
log_level: INFO
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for multi-document YAML")
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte("security:\n  default_policy: strict\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	mainPath := filepath.Join(dir, "agentsh.yaml")
	contents := "$include: base.yaml\nlog_level: WARN\n"
	if err := os.WriteFile(mainPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Security.DefaultPolicy != "strict" {
		t.Fatalf("expected included value, got %q", cfg.Security.DefaultPolicy)
	}
	if cfg.LogLevel != "WARN" {
		t.Fatalf("expected main document to win, got %q", cfg.LogLevel)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.yaml")
	bPath := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(aPath, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(bPath, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(aPath); err == nil {
		t.Fatalf("expected include cycle error")
	}
}

func TestLoadEnvOverridesNestedKey(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: anthropic
`)

	t.Setenv("AGENTSH_LLM__MODEL", "claude-haiku")
	t.Setenv("AGENTSH_ORCHESTRATOR__CONCURRENCY", "4")
	t.Setenv("AGENTSH_LLM__POOL__ENABLE_HTTP2", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Model != "claude-haiku" {
		t.Fatalf("expected env override for model, got %q", cfg.LLM.Model)
	}
	if cfg.Orchestrator.Concurrency != 4 {
		t.Fatalf("expected env override for concurrency, got %d", cfg.Orchestrator.Concurrency)
	}
	if cfg.LLM.Pool.EnableHTTP2 {
		t.Fatalf("expected env override to disable http2")
	}
}

func TestParseEnvValue(t *testing.T) {
	cases := map[string]any{
		"true":  true,
		"yes":   true,
		"on":    true,
		"false": false,
		"no":    false,
		"off":   false,
		"42":    42,
		"3.14":  3.14,
		"hello": "hello",
	}
	for input, want := range cases {
		got := parseEnvValue(input)
		if got != want {
			t.Fatalf("parseEnvValue(%q) = %v (%T), want %v (%T)", input, got, got, want, want)
		}
	}
}

func TestDefaultConfigHasNoUnknownSections(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Provider == "" {
		t.Fatalf("expected a default provider")
	}
	if cfg.Security.DefaultPolicy == "" {
		t.Fatalf("expected a default security policy")
	}
}
