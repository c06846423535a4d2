package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// envPrefix is the namespace AGENTSH_<KEY> overrides live under; `__`
// separates nested keys (AGENTSH_LLM__MODEL -> llm.model).
const envPrefix = "AGENTSH_"

// Load resolves the system, user, project, and (if non-empty) explicit
// config paths in that order, deep-merges them over Default(), applies
// AGENTSH_ env var overrides last, and decodes the result. A path that
// doesn't exist is skipped rather than treated as an error, except the
// explicit path, which must exist if given.
func Load(explicitPath string) (*Config, error) {
	merged := map[string]any{}

	for _, p := range []string{systemConfigPath(), userConfigPath(), projectConfigPath()} {
		raw, err := loadIfExists(p)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, raw)
	}

	if strings.TrimSpace(explicitPath) != "" {
		raw, err := loadRawRecursive(explicitPath, map[string]bool{})
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", explicitPath, err)
		}
		merged = mergeMaps(merged, raw)
	}

	applyEnvOverrides(merged, envPrefix, os.Environ())

	cfg := Default()
	if err := decodeRawConfig(merged, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadIfExists(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return loadRawRecursive(path, map[string]bool{})
}

func systemConfigPath() string { return "/etc/agentsh/config.yaml" }

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "agentsh", "config.yaml")
}

func projectConfigPath() string { return "agentsh.yaml" }

// loadRawRecursive reads path into a raw map, resolving $include
// directives (cycle-detected) and expanding ${VAR} references.
func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))

	raw, err := parseRawYAML([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", absPath, err)
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(baseDir, incPath)
		}
		incRaw, err := loadRawRecursive(incPath, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw)
	}

	return mergeMaps(merged, raw), nil
}

func parseRawYAML(data []byte) (map[string]any, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil && err != io.EOF {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("expected a single YAML document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	val, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)

	switch typed := val.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("$include must be a string or list of strings")
	}
}

// mergeMaps recursively merges src over dst, returning dst.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// applyEnvOverrides scans environ for prefix-matching entries and
// merges them into raw as nested keys split on "__", parsed as the
// first of bool/int/float/string that succeeds.
func applyEnvOverrides(raw map[string]any, prefix string, environ []string) {
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(k, prefix)), "__")
		setNested(raw, path, parseEnvValue(v))
	}
}

func setNested(m map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		m[path[0]] = value
		return
	}
	next, ok := m[path[0]].(map[string]any)
	if !ok {
		next = map[string]any{}
		m[path[0]] = next
	}
	setNested(next, path[1:], value)
}

func parseEnvValue(v string) any {
	switch strings.ToLower(v) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// decodeRawConfig marshals raw back to YAML and decodes it into cfg
// (already seeded with Default()), rejecting unknown keys as a
// loading error.
func decodeRawConfig(raw map[string]any, cfg *Config) error {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("serialize merged config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("parse merged config: %w", err)
	}
	return nil
}
