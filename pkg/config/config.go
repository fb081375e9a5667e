// Package config loads the gateway's startup configuration: read once from
// a YAML file plus DBGATE_* environment overrides into a Config whose fields
// cmd/dbgate reads to build the adapter, quota engine and server (gateway.New
// takes no configuration). This mirrors buckley's
// pkg/config loader shape (YAML unmarshal, explicit field-by-field merge
// against a raw map so a present-but-zero-value override is distinguishable
// from an absent one) without buckley's ACP/model/provider sections, which
// have no analogue in a database security boundary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AdapterConfig names the backend adapter and its connection string.
type AdapterConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AllowlistConfig is spec.md §3's Allowlist, loaded once at startup.
type AllowlistConfig struct {
	Schemas []string `yaml:"allowedSchemas"`
	Tables  []string `yaml:"allowedTables"`
	// OrderByColumns is the closed set of "schema.table.column" references
	// spec.md §4.5 step 7 permits in an ORDER BY clause.
	OrderByColumns []string `yaml:"orderByColumns"`
}

// QuotaConfig points at the JSON array of QuotaPolicy spec.md §6 requires.
type QuotaConfig struct {
	PoliciesFile string `yaml:"policiesFile"`
}

// AuditConfig locates the HMAC secret and the audit event sink.
type AuditConfig struct {
	SecretFile string `yaml:"secretFile"`
	LogFile    string `yaml:"logFile"`
}

// ExecutorConfig carries the default row cap and statement timeout spec.md
// §4.7 step 1 clamps a caller's request against.
type ExecutorConfig struct {
	DefaultRowCap    int `yaml:"defaultRowCap"`
	DefaultTimeoutMs int `yaml:"defaultTimeoutMs"`
}

// LoggingConfig configures pkg/logging's operational diagnostics sink —
// never the audit sink, which is configured separately under Audit.
type LoggingConfig struct {
	LogFile string `yaml:"logFile"`
	Stderr  bool   `yaml:"stderr"`
}

// Config is the complete, frozen startup configuration from spec.md §6.
type Config struct {
	Adapter  AdapterConfig   `yaml:"adapter"`
	Allow    AllowlistConfig `yaml:"allowlist"`
	Quota    QuotaConfig     `yaml:"quota"`
	Audit    AuditConfig     `yaml:"audit"`
	Executor ExecutorConfig  `yaml:"executor"`
	Logging  LoggingConfig   `yaml:"logging"`
	ReadOnly bool            `yaml:"readOnly"`
}

func defaults() Config {
	return Config{
		Executor: ExecutorConfig{
			DefaultRowCap:    100,
			DefaultTimeoutMs: 30000,
		},
		ReadOnly: true,
	}
}

// Load reads path as YAML over the built-in defaults, then applies DBGATE_*
// environment overrides, and returns the frozen result. Missing path is not
// fatal — a gateway may be fully configured by environment alone — but a
// present, unreadable, or unparsable file is.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file %q does not exist", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := mergeYAML(&cfg, data); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// mergeYAML unmarshals data into an override Config and merges only the
// fields actually present in the document, using boolFieldSet against the
// parsed raw map the same way buckley's loader_helpers.go distinguishes
// "explicitly set to zero value" from "absent".
func mergeYAML(base *Config, data []byte) error {
	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing config YAML: %w", err)
	}

	if override.Adapter.Driver != "" {
		base.Adapter.Driver = override.Adapter.Driver
	}
	if override.Adapter.DSN != "" {
		base.Adapter.DSN = override.Adapter.DSN
	}
	if boolFieldSet(raw, "allowlist", "allowedSchemas") {
		base.Allow.Schemas = override.Allow.Schemas
	}
	if boolFieldSet(raw, "allowlist", "allowedTables") {
		base.Allow.Tables = override.Allow.Tables
	}
	if boolFieldSet(raw, "allowlist", "orderByColumns") {
		base.Allow.OrderByColumns = override.Allow.OrderByColumns
	}
	if override.Quota.PoliciesFile != "" {
		base.Quota.PoliciesFile = override.Quota.PoliciesFile
	}
	if override.Audit.SecretFile != "" {
		base.Audit.SecretFile = override.Audit.SecretFile
	}
	if override.Audit.LogFile != "" {
		base.Audit.LogFile = override.Audit.LogFile
	}
	if override.Executor.DefaultRowCap != 0 {
		base.Executor.DefaultRowCap = override.Executor.DefaultRowCap
	}
	if override.Executor.DefaultTimeoutMs != 0 {
		base.Executor.DefaultTimeoutMs = override.Executor.DefaultTimeoutMs
	}
	if override.Logging.LogFile != "" {
		base.Logging.LogFile = override.Logging.LogFile
	}
	if boolFieldSet(raw, "logging", "stderr") {
		base.Logging.Stderr = override.Logging.Stderr
	}
	if boolFieldSet(raw, "readOnly") {
		base.ReadOnly = override.ReadOnly
	}
	return nil
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}

// applyEnvOverrides layers DBGATE_* environment variables over cfg, the
// same precedence order buckley uses for its BUCKLEY_* family: env beats
// file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DBGATE_ADAPTER_DRIVER"); v != "" {
		cfg.Adapter.Driver = v
	}
	if v := os.Getenv("DBGATE_ADAPTER_DSN"); v != "" {
		cfg.Adapter.DSN = v
	}
	if v := os.Getenv("DBGATE_ALLOWED_SCHEMAS"); v != "" {
		cfg.Allow.Schemas = splitCSV(v)
	}
	if v := os.Getenv("DBGATE_ALLOWED_TABLES"); v != "" {
		cfg.Allow.Tables = splitCSV(v)
	}
	if v := os.Getenv("DBGATE_ORDER_BY_COLUMNS"); v != "" {
		cfg.Allow.OrderByColumns = splitCSV(v)
	}
	if v := os.Getenv("DBGATE_QUOTA_POLICIES_FILE"); v != "" {
		cfg.Quota.PoliciesFile = v
	}
	if v := os.Getenv("DBGATE_AUDIT_SECRET_FILE"); v != "" {
		cfg.Audit.SecretFile = v
	}
	if v := os.Getenv("DBGATE_AUDIT_LOG_FILE"); v != "" {
		cfg.Audit.LogFile = v
	}
	if v := os.Getenv("DBGATE_DEFAULT_ROW_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.DefaultRowCap = n
		}
	}
	if v := os.Getenv("DBGATE_DEFAULT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.DefaultTimeoutMs = n
		}
	}
	if v := os.Getenv("DBGATE_LOG_FILE"); v != "" {
		cfg.Logging.LogFile = v
	}
	if v := os.Getenv("DBGATE_READ_ONLY"); v != "" {
		cfg.ReadOnly = v != "false" && v != "0"
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
