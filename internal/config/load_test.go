package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Reconnect.MaxAttempts != 10 || cfg.Status.PollIntervalSeconds != 5 || cfg.Activity.HistoryBytes != 64*1024 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Endpoint != "" {
		t.Errorf("endpoint should default to empty, got %q", cfg.Endpoint)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
endpoint: https://dev.example.com:7681/term
auth_token: secret
reconnect:
  max_attempts: 3
activity:
  disabled_rules: [thinking, analyzing]
api:
  addr: 127.0.0.1:7690
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Endpoint != "https://dev.example.com:7681/term" || cfg.AuthToken != "secret" {
		t.Errorf("endpoint/token not loaded: %+v", cfg)
	}
	if cfg.Reconnect.MaxAttempts != 3 || cfg.Reconnect.StaleAfterSeconds != 30 {
		t.Errorf("reconnect = %+v", cfg.Reconnect)
	}
	if strings.Join(cfg.Activity.DisabledRules, ",") != "thinking,analyzing" {
		t.Errorf("disabled rules = %v", cfg.Activity.DisabledRules)
	}
	if cfg.API.Addr != "127.0.0.1:7690" {
		t.Errorf("api addr = %q", cfg.API.Addr)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "config_version: 1\nendpoint: http://file:7681\n")
	t.Setenv("TTYDM_ENDPOINT", "http://env:7681")
	t.Setenv("TTYDM_RECONNECT_MAX_ATTEMPTS", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Endpoint != "http://env:7681" || cfg.Reconnect.MaxAttempts != 4 {
		t.Errorf("env not applied: endpoint=%q attempts=%d", cfg.Endpoint, cfg.Reconnect.MaxAttempts)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, "config_version: 7\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}

	cases := []struct {
		name     string
		endpoint string
		wantErr  string
	}{
		{"missing", "", "endpoint is required"},
		{"no host", "http://", "scheme and host"},
		{"bad scheme", "ftp://host", "not supported"},
		{"ok", "https://host:7681", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.Endpoint = tc.endpoint
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Fatal("expected refusal to overwrite")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Fatalf("forced WriteDefault failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of written default failed: %v", err)
	}
	if cfg.Endpoint != "https://localhost:7681" || cfg.Reconnect.PongWaitSeconds != 45 {
		t.Errorf("unexpected round trip %+v", cfg)
	}
}
