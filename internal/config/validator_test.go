package config

import (
	"testing"

	"github.com/harun/ragent/pkg/backend"
	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("valid anthropic key", func(t *testing.T) {
		err := v.ValidateAPIKey("sk-ant-test123", "anthropic")
		assert.NoError(t, err)
	})

	t.Run("invalid anthropic key", func(t *testing.T) {
		err := v.ValidateAPIKey("invalid-key", "anthropic")
		assert.Error(t, err)
	})

	t.Run("valid openai key", func(t *testing.T) {
		err := v.ValidateAPIKey("sk-test123", "openai")
		assert.NoError(t, err)
	})

	t.Run("invalid openai key", func(t *testing.T) {
		err := v.ValidateAPIKey("invalid-key", "openai")
		assert.Error(t, err)
	})

	t.Run("any gemini key", func(t *testing.T) {
		err := v.ValidateAPIKey("AIza-whatever", "gemini")
		assert.NoError(t, err)
	})

	t.Run("empty key", func(t *testing.T) {
		err := v.ValidateAPIKey("", "anthropic")
		assert.Error(t, err)
	})
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"trace", "debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
	assert.Error(t, v.ValidateLogLevel(""))
}

func TestValidateStoreDriver(t *testing.T) {
	v := NewValidator()

	for _, driver := range []string{"file", "sqlite", "redis"} {
		assert.NoError(t, v.ValidateStoreDriver(driver), driver)
	}
	err := v.ValidateStoreDriver("postgres")
	assert.EqualError(t, err, "invalid store driver: postgres (must be one of: file, sqlite, redis)")
}

func TestValidateTemperature(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTemperature(0))
	assert.NoError(t, v.ValidateTemperature(1.5))
	assert.Error(t, v.ValidateTemperature(-0.1))
	assert.Error(t, v.ValidateTemperature(2.1))
}

func TestValidateMaxTokens(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(200001))
}

func TestValidateDescriptor(t *testing.T) {
	v := NewValidator()

	t.Run("clean descriptor", func(t *testing.T) {
		errs := v.ValidateDescriptor(backend.Descriptor{Kind: "claude", Model: "m", APIKey: "sk-ant-x", MaxTokens: 1024})
		assert.Empty(t, errs)
	})

	t.Run("alias kinds are normalized", func(t *testing.T) {
		errs := v.ValidateDescriptor(backend.Descriptor{Kind: "claude", Model: "m", APIKey: "sk-wrong"})
		assert.Len(t, errs, 1)
	})

	t.Run("collects every problem", func(t *testing.T) {
		errs := v.ValidateDescriptor(backend.Descriptor{
			Kind:        backend.KindOpenAI,
			Model:       "gpt",
			APIKey:      "bad",
			Temperature: 5,
			MaxTokens:   -1,
		})
		assert.Len(t, errs, 3)
	})
}
