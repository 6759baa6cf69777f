package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the application settings file inside the home directory.
const FileName = "ragent.yaml"

// Loader handles configuration loading
type Loader struct {
	home string
}

// NewLoader creates a loader rooted at home. An empty home selects DefaultHome.
func NewLoader(home string) *Loader {
	return &Loader{
		home: home,
	}
}

// Home returns the resolved home directory.
func (l *Loader) Home() (string, error) {
	if l.home != "" {
		return l.home, nil
	}
	home, err := DefaultHome()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return home, nil
}

// GetConfigPath returns the settings file path
func (l *Loader) GetConfigPath() string {
	home, err := l.Home()
	if err != nil {
		return ""
	}
	return filepath.Join(home, FileName)
}

// Load reads ragent.yaml when present and applies RAGENT_* environment
// overrides on top of the defaults.
func (l *Loader) Load() (*Config, error) {
	home, err := l.Home()
	if err != nil {
		return nil, err
	}
	configPath := filepath.Join(home, FileName)

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %w", ErrInvalid, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %w", ErrInvalid, err)
	}
	cfg.Home = home
	cfg.fillPaths()

	return cfg, nil
}

// Save writes cfg to ragent.yaml. An existing file is left alone unless
// overwrite is set.
func (l *Loader) Save(cfg *Config, overwrite bool) (bool, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return false, fmt.Errorf("failed to resolve config path")
	}
	if !overwrite {
		if _, err := os.Stat(configPath); err == nil {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return false, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(home string) (*Config, error) {
	loader := NewLoader(home)
	return loader.Load()
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("config_dir", cfg.ConfigDir)
	v.SetDefault("sessions_dir", cfg.SessionsDir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("context.max_bytes", cfg.Context.MaxBytes)

	v.SetDefault("window.max_exchanges", cfg.Window.MaxExchanges)
	v.SetDefault("window.max_bytes", cfg.Window.MaxBytes)

	v.SetDefault("dispatch.timeout", cfg.Dispatch.Timeout)
	v.SetDefault("dispatch.stream", cfg.Dispatch.Stream)
	v.SetDefault("dispatch.typewriter_cps", cfg.Dispatch.TypewriterCPS)
	v.SetDefault("dispatch.wrap_width", cfg.Dispatch.WrapWidth)
	v.SetDefault("dispatch.max_tool_rounds", cfg.Dispatch.MaxToolRounds)

	v.SetDefault("tools.allow", cfg.Tools.Allow)
	v.SetDefault("tools.deny", cfg.Tools.Deny)
	v.SetDefault("tools.timeout", cfg.Tools.Timeout)
	v.SetDefault("tools.max_output_bytes", cfg.Tools.MaxOutputBytes)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.sqlite_path", cfg.Store.SQLitePath)
	v.SetDefault("store.redis.addr", cfg.Store.Redis.Addr)
	v.SetDefault("store.redis.password", cfg.Store.Redis.Password)
	v.SetDefault("store.redis.db", cfg.Store.Redis.DB)
	v.SetDefault("store.redis.prefix", cfg.Store.Redis.Prefix)

	v.SetDefault("telemetry.trace_file", cfg.Telemetry.TraceFile)
	v.SetDefault("telemetry.metrics_file", cfg.Telemetry.MetricsFile)
}
