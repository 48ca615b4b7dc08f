package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func envMap(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func fileMap(files map[string]string) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		if content, ok := files[path]; ok {
			return []byte(content), nil
		}
		return nil, os.ErrNotExist
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(
		WithEnvLookup(envMap(nil)),
		WithReadFile(fileMap(nil)),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Authn.Provider != "default" {
		t.Errorf("expected default provider, got %s", cfg.Authn.Provider)
	}
	if cfg.Authz.Timeout != 5*time.Second {
		t.Errorf("expected 5s authz timeout, got %s", cfg.Authz.Timeout)
	}
}

func TestLoadFileWithEnvInterpolation(t *testing.T) {
	yaml := `
server:
  port: 9000
database:
  url: postgres://app:${DB_PASSWORD}@db:5432/agentex
authz:
  service_token: ${AUTHZ_TOKEN}
`
	cfg, err := Load(
		WithConfigPath("/etc/agentex/config.yaml"),
		WithReadFile(fileMap(map[string]string{"/etc/agentex/config.yaml": yaml})),
		WithEnvLookup(envMap(map[string]string{
			"DB_PASSWORD": "hunter2",
			"AUTHZ_TOKEN": "svc-token",
		})),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("file should override port, got %d", cfg.Server.Port)
	}
	if !strings.Contains(cfg.Database.URL, "hunter2") {
		t.Errorf("expected interpolated password, got %s", cfg.Database.URL)
	}
	if cfg.Authz.ServiceToken != "svc-token" {
		t.Errorf("expected interpolated token, got %s", cfg.Authz.ServiceToken)
	}
	// Untouched sections keep defaults.
	if cfg.Authn.Timeout != 5*time.Second {
		t.Errorf("defaults should survive partial files, got %s", cfg.Authn.Timeout)
	}
}

func TestLoadEnvOverridesWinOverFile(t *testing.T) {
	yaml := "server:\n  port: 9000\n"
	cfg, err := Load(
		WithConfigPath("cfg.yaml"),
		WithReadFile(fileMap(map[string]string{"cfg.yaml": yaml})),
		WithEnvLookup(envMap(map[string]string{"AGENTEX_PORT": "9001"})),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("env override should win, got %d", cfg.Server.Port)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(
		WithConfigPath("/nope/missing.yaml"),
		WithReadFile(fileMap(nil)),
		WithEnvLookup(envMap(nil)),
	)
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected defaults, got port %d", cfg.Server.Port)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	_, err := Load(
		WithEnvLookup(envMap(map[string]string{"AGENTEX_AUTHN_PROVIDER": "dynamic"})),
		WithReadFile(fileMap(nil)),
	)
	if err == nil || !strings.Contains(err.Error(), "unknown authn provider") {
		t.Fatalf("expected provider validation error, got %v", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected port validation error")
	}
}
