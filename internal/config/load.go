package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from path, or DefaultConfigPath when path is
// empty. A missing file is not an error.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("endpoint", cfg.Endpoint)
	v.SetDefault("auth_token", cfg.AuthToken)
	v.SetDefault("collaborator_url", cfg.CollaboratorURL)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("reconnect.max_attempts", cfg.Reconnect.MaxAttempts)
	v.SetDefault("reconnect.stale_after_seconds", cfg.Reconnect.StaleAfterSeconds)
	v.SetDefault("reconnect.ping_interval_seconds", cfg.Reconnect.PingIntervalSeconds)
	v.SetDefault("reconnect.pong_wait_seconds", cfg.Reconnect.PongWaitSeconds)
	v.SetDefault("status.poll_interval_seconds", cfg.Status.PollIntervalSeconds)
	v.SetDefault("activity.disabled_rules", cfg.Activity.DisabledRules)
	v.SetDefault("activity.history_bytes", cfg.Activity.HistoryBytes)
	v.SetDefault("api.addr", cfg.API.Addr)

	v.SetEnvPrefix("TTYDM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		configLoaded = true
	}

	if configLoaded && v.GetInt("config_version") != CurrentConfigVersion {
		return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.StateDir = os.ExpandEnv(cfg.StateDir)
	return cfg, nil
}
