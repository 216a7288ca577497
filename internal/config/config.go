// Package config loads scensync settings from config file, environment,
// and defaults.
//
// Precedence, highest first: SCENSYNC_* environment variables, then
// scensync.yaml (working directory or ~/.config/scensync/), then
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	// RepoDir is the git repository holding scenario bundles.
	RepoDir string `mapstructure:"repo_dir"`

	// DBPath is the embedded store location.
	DBPath string `mapstructure:"db_path"`

	// Branch is the scenario branch. Empty means the repo's current
	// branch.
	Branch string `mapstructure:"branch"`

	// Remote is the git remote merged against.
	Remote string `mapstructure:"remote"`

	// ExportedBy is stamped into exported bundles.
	ExportedBy string `mapstructure:"exported_by"`

	// NetworkTimeout bounds fetch, push, and pull operations.
	NetworkTimeout time.Duration `mapstructure:"network_timeout"`

	// ExcludeInvalid excludes invalid records from merges instead of
	// aborting.
	ExcludeInvalid bool `mapstructure:"exclude_invalid"`

	// DashboardPort is the WebSocket dashboard port.
	DashboardPort int `mapstructure:"dashboard_port"`

	// DaemonLogPath enables rotating daemon log output when set.
	DaemonLogPath string `mapstructure:"daemon_log_path"`
}

// Load reads configuration. path, when non-empty, names an explicit
// config file; otherwise the standard locations are searched. A missing
// config file is not an error — defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("repo_dir", ".")
	v.SetDefault("db_path", ".scensync/scensync.db")
	v.SetDefault("branch", "")
	v.SetDefault("remote", "origin")
	v.SetDefault("exported_by", "")
	v.SetDefault("network_timeout", 30*time.Second)
	v.SetDefault("exclude_invalid", false)
	v.SetDefault("dashboard_port", 8787)
	v.SetDefault("daemon_log_path", "")

	v.SetEnvPrefix("SCENSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scensync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/scensync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = 30 * time.Second
	}

	return &cfg, nil
}
