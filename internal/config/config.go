// Package config loads ttydm configuration from a YAML file, TTYDM_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins).
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Config is the top-level configuration.
type Config struct {
	ConfigVersion   int             `mapstructure:"config_version" yaml:"config_version"`
	Endpoint        string          `mapstructure:"endpoint" yaml:"endpoint"`
	AuthToken       string          `mapstructure:"auth_token" yaml:"auth_token"`
	CollaboratorURL string          `mapstructure:"collaborator_url" yaml:"collaborator_url"`
	StateDir        string          `mapstructure:"state_dir" yaml:"state_dir"`
	Reconnect       ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Status          StatusConfig    `mapstructure:"status" yaml:"status"`
	Activity        ActivityConfig  `mapstructure:"activity" yaml:"activity"`
	API             APIConfig       `mapstructure:"api" yaml:"api"`
}

// ReconnectConfig controls retry and keepalive.
type ReconnectConfig struct {
	MaxAttempts         int `mapstructure:"max_attempts" yaml:"max_attempts"`
	StaleAfterSeconds   int `mapstructure:"stale_after_seconds" yaml:"stale_after_seconds"`
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds" yaml:"ping_interval_seconds"`
	PongWaitSeconds     int `mapstructure:"pong_wait_seconds" yaml:"pong_wait_seconds"`
}

// StatusConfig controls the collaborator status poller.
type StatusConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
}

// ActivityConfig controls the activity classifier.
type ActivityConfig struct {
	DisabledRules []string `mapstructure:"disabled_rules" yaml:"disabled_rules"`
	HistoryBytes  int      `mapstructure:"history_bytes" yaml:"history_bytes"`
}

// APIConfig controls the local control API. An empty Addr disables it.
type APIConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() (Config, error) {
	stateDir, err := defaultStateDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      stateDir,
		Reconnect: ReconnectConfig{
			MaxAttempts:         10,
			StaleAfterSeconds:   30,
			PingIntervalSeconds: 20,
			PongWaitSeconds:     45,
		},
		Status: StatusConfig{
			PollIntervalSeconds: 5,
		},
		Activity: ActivityConfig{
			DisabledRules: []string{},
			HistoryBytes:  64 * 1024,
		},
		API: APIConfig{
			Addr: "",
		},
	}, nil
}

// DefaultConfigPath returns the user config file location.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "ttydm", "config.yaml"), nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "ttydm"), nil
}

// DBPath is the sqlite file holding persisted preferences.
func (c Config) DBPath() string {
	return filepath.Join(c.StateDir, "ttydm.db")
}

// Validate checks the settings needed to attach.
func (c Config) Validate() error {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("endpoint is required (set it in the config file, TTYDM_ENDPOINT or --endpoint)")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("endpoint must include scheme and host (e.g. https://example.com:7681)")
	}
	switch parsed.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("endpoint scheme %q is not supported", parsed.Scheme)
	}
	if c.CollaboratorURL != "" {
		if u, err := url.Parse(c.CollaboratorURL); err != nil || u.Host == "" {
			return fmt.Errorf("collaborator_url must include scheme and host")
		}
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be at least 1")
	}
	return nil
}

// WriteDefault writes the default configuration to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	cfg, err := DefaultConfig()
	if err != nil {
		return err
	}
	cfg.Endpoint = "https://localhost:7681"
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	header := []byte("# ttydm configuration. Every key can be overridden with TTYDM_<KEY>,\n# nested keys joined by underscores (e.g. TTYDM_RECONNECT_MAX_ATTEMPTS).\n")
	return os.WriteFile(path, append(header, data...), 0o600)
}
