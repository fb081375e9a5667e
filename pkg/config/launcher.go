package config

import (
	"fmt"
	"os"
	"strings"
)

// LauncherBinding is the {identity, tenant} pair spec.md §4.1 requires the
// trusted launcher to hand the process before any tool can be served.
type LauncherBinding struct {
	Identity string
	Tenant   string
}

// LoadLauncherBinding reads the trusted launcher's identity/tenant handoff
// from the environment. Per spec.md §4.1 and §6, a missing binding is a
// fatal startup condition — the process must terminate before serving any
// tool, so this returns an error rather than a zero-value binding.
func LoadLauncherBinding() (LauncherBinding, error) {
	identity := strings.TrimSpace(os.Getenv("DBGATE_LAUNCHER_IDENTITY"))
	tenant := strings.TrimSpace(os.Getenv("DBGATE_LAUNCHER_TENANT"))
	if identity == "" || tenant == "" {
		return LauncherBinding{}, fmt.Errorf("trusted launcher binding missing: DBGATE_LAUNCHER_IDENTITY and DBGATE_LAUNCHER_TENANT must both be set")
	}
	return LauncherBinding{Identity: identity, Tenant: tenant}, nil
}

// LoadAuditSecret reads the HMAC secret spec.md §4.8 requires: present and
// at least 32 bytes, never logged, never written back to disk. Surrounding
// whitespace (a trailing newline from an editor or secrets manager) is
// trimmed before the length check so a well-formed 32-byte secret in a text
// file isn't rejected over a stray newline.
func LoadAuditSecret(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("audit secret file path must not be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading audit secret file: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) < 32 {
		return nil, fmt.Errorf("audit secret must be at least 32 bytes")
	}
	return []byte(trimmed), nil
}
