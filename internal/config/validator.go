package config

import (
	"fmt"
	"strings"

	"github.com/harun/ragent/pkg/backend"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey checks the key format of providers with a known prefix.
func (v *Validator) ValidateAPIKey(key string, kind string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", kind)
	}

	switch kind {
	case backend.KindAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case backend.KindOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateStoreDriver validates the session store driver.
func (v *Validator) ValidateStoreDriver(driver string) error {
	validDrivers := []string{"file", "sqlite", "redis"}
	for _, valid := range validDrivers {
		if driver == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid store driver: %s (must be one of: %s)", driver, strings.Join(validDrivers, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("logging.max_size must be >= 0"))
	}
	if cfg.Logging.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("logging.max_age must be >= 0"))
	}

	if cfg.Context.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("context.max_bytes must be >= 0"))
	}
	if cfg.Window.MaxExchanges < 0 {
		errs = append(errs, fmt.Errorf("window.max_exchanges must be >= 0"))
	}
	if cfg.Window.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("window.max_bytes must be >= 0"))
	}

	if cfg.Dispatch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch.timeout must be >= 0"))
	}
	if cfg.Dispatch.TypewriterCPS < 0 {
		errs = append(errs, fmt.Errorf("dispatch.typewriter_cps must be >= 0"))
	}
	if cfg.Dispatch.WrapWidth < 0 {
		errs = append(errs, fmt.Errorf("dispatch.wrap_width must be >= 0"))
	}
	if cfg.Dispatch.MaxToolRounds < 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_tool_rounds must be >= 0"))
	}
	if cfg.Tools.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tools.timeout must be >= 0"))
	}
	if cfg.Tools.MaxOutputBytes < 0 {
		errs = append(errs, fmt.Errorf("tools.max_output_bytes must be >= 0"))
	}

	if err := v.ValidateStoreDriver(cfg.Store.Driver); err != nil {
		errs = append(errs, err)
	}
	if cfg.Store.Driver == "redis" && strings.TrimSpace(cfg.Store.Redis.Addr) == "" {
		errs = append(errs, fmt.Errorf("store.redis.addr is required for the redis driver"))
	}
	if cfg.Store.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("store.redis.db must be >= 0"))
	}

	return errs
}

// ValidateDescriptor reports format problems the resolver does not check.
func (v *Validator) ValidateDescriptor(desc backend.Descriptor) []error {
	var errs []error
	desc = desc.Normalize()

	if desc.APIKey != "" {
		if err := v.ValidateAPIKey(desc.APIKey, desc.Kind); err != nil {
			errs = append(errs, err)
		}
	}
	if desc.Temperature != 0 {
		if err := v.ValidateTemperature(desc.Temperature); err != nil {
			errs = append(errs, err)
		}
	}
	if desc.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(desc.MaxTokens); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}
