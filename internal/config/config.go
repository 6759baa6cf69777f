package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalid marks unreadable or inconsistent application settings.
var ErrInvalid = errors.New("invalid settings")

// Config represents the main ragent configuration
type Config struct {
	// Home holds ragent.yaml. Not read from the file itself.
	Home string `json:"-" yaml:"-" mapstructure:"-"`

	// Data directory for logs and the sqlite database
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// Backend descriptor directory
	ConfigDir string `json:"config_dir" yaml:"config_dir" mapstructure:"config_dir"`

	// Session file directory
	SessionsDir string `json:"sessions_dir" yaml:"sessions_dir" mapstructure:"sessions_dir"`

	// Logging
	Logging LoggingConfig `json:"logging" yaml:"logging" mapstructure:"logging"`

	// Piped context
	Context ContextConfig `json:"context" yaml:"context" mapstructure:"context"`

	// History window
	Window WindowConfig `json:"window" yaml:"window" mapstructure:"window"`

	// Dispatch
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch" mapstructure:"dispatch"`

	// Read-only tools offered to the model
	Tools ToolsConfig `json:"tools" yaml:"tools" mapstructure:"tools"`

	// Session store
	Store StoreConfig `json:"store" yaml:"store" mapstructure:"store"`

	// Telemetry output
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry" mapstructure:"telemetry"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level" mapstructure:"level"`
	File      string `json:"file" yaml:"file" mapstructure:"file"`
	Console   bool   `json:"console" yaml:"console" mapstructure:"console"`
	MaxSize   int    `json:"max_size" yaml:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" yaml:"max_age" mapstructure:"max_age"`    // days
	Compress  bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" yaml:"redaction" mapstructure:"redaction"`
}

// ContextConfig bounds piped input.
type ContextConfig struct {
	MaxBytes int `json:"max_bytes" yaml:"max_bytes" mapstructure:"max_bytes"`
}

// WindowConfig bounds the history sent with a request. Zero means unlimited.
type WindowConfig struct {
	MaxExchanges int `json:"max_exchanges" yaml:"max_exchanges" mapstructure:"max_exchanges"`
	MaxBytes     int `json:"max_bytes" yaml:"max_bytes" mapstructure:"max_bytes"`
}

// DispatchConfig controls how requests are sent and shown.
type DispatchConfig struct {
	Timeout       time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Stream        bool          `json:"stream" yaml:"stream" mapstructure:"stream"`
	TypewriterCPS int           `json:"typewriter_cps" yaml:"typewriter_cps" mapstructure:"typewriter_cps"`
	WrapWidth     int           `json:"wrap_width" yaml:"wrap_width" mapstructure:"wrap_width"`
	MaxToolRounds int           `json:"max_tool_rounds" yaml:"max_tool_rounds" mapstructure:"max_tool_rounds"` // 0 disables tools
}

// ToolsConfig limits the read-only tools. Deny wins over Allow; "*" matches
// every tool.
type ToolsConfig struct {
	Allow          []string      `json:"allow" yaml:"allow" mapstructure:"allow"`
	Deny           []string      `json:"deny" yaml:"deny" mapstructure:"deny"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	MaxOutputBytes int           `json:"max_output_bytes" yaml:"max_output_bytes" mapstructure:"max_output_bytes"`
}

// StoreConfig selects the session store.
type StoreConfig struct {
	Driver     string      `json:"driver" yaml:"driver" mapstructure:"driver"` // file, sqlite, redis
	SQLitePath string      `json:"sqlite_path" yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Redis      RedisConfig `json:"redis" yaml:"redis" mapstructure:"redis"`
}

// RedisConfig holds the redis store connection.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	DB       int    `json:"db" yaml:"db" mapstructure:"db"`
	Prefix   string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

// TelemetryConfig names optional trace and metrics output files.
type TelemetryConfig struct {
	TraceFile   string `json:"trace_file" yaml:"trace_file" mapstructure:"trace_file"`
	MetricsFile string `json:"metrics_file" yaml:"metrics_file" mapstructure:"metrics_file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   10,
			MaxAge:    14,
			Compress:  true,
			Redaction: true,
		},
		Context: ContextConfig{
			MaxBytes: 64 * 1024,
		},
		Window: WindowConfig{
			MaxExchanges: 10,
		},
		Dispatch: DispatchConfig{
			Timeout:       120 * time.Second,
			Stream:        true,
			WrapWidth:     120,
			MaxToolRounds: 25,
		},
		Tools: ToolsConfig{
			Allow:          []string{"*"},
			Timeout:        30 * time.Second,
			MaxOutputBytes: 10 * 1024,
		},
		Store: StoreConfig{
			Driver: "file",
			Redis: RedisConfig{
				Prefix: "ragent:session:",
			},
		},
	}
}

// DefaultHome returns $RAGENT_HOME, or ragent under the user config directory.
func DefaultHome() (string, error) {
	if home := os.Getenv("RAGENT_HOME"); home != "" {
		return home, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ragent"), nil
}

// fillPaths derives every unset directory from Home.
func (c *Config) fillPaths() {
	if c.DataDir == "" {
		c.DataDir = c.Home
	}
	if c.ConfigDir == "" {
		c.ConfigDir = filepath.Join(c.Home, "configs")
	}
	if c.SessionsDir == "" {
		c.SessionsDir = filepath.Join(c.DataDir, "sessions")
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "logs", "ragent.log")
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.DataDir, "sessions.db")
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	redacted := *c
	if redacted.Store.Redis.Password != "" {
		redacted.Store.Redis.Password = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	errs := NewValidator().ValidateConfig(c)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
