package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/config"
)

func TestFactoryUnknownProvider(t *testing.T) {
	factory := NewFactory(config.ProviderConfig{Name: "openai", APIKey: "k"}, nil, zap.NewNop())

	_, err := factory("skynet", "")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestFactoryDefaults(t *testing.T) {
	factory := NewFactory(config.ProviderConfig{Name: "openai", APIKey: "k", Model: "gpt-4o"}, nil, zap.NewNop())

	p, err := factory("", "")
	require.NoError(t, err)
	assert.Equal(t, 128000, p.PromptWindowLimit())
}

func TestFactoryModelOverride(t *testing.T) {
	factory := NewFactory(config.ProviderConfig{Name: "openai", APIKey: "k", Model: "gpt-4o"}, nil, zap.NewNop())

	p, err := factory("", "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, 8192, p.PromptWindowLimit())
}

func TestFactoryProviderOverride(t *testing.T) {
	cfg := config.ProviderConfig{
		Name:       "openai",
		APIKey:     "k",
		BaseURL:    "http://localhost:4000",
		Model:      "router-model",
		TokenLimit: 8000,
	}
	factory := NewFactory(cfg, nil, zap.NewNop())

	p, err := factory("litellm", "")
	require.NoError(t, err)
	assert.Equal(t, 8000, p.PromptWindowLimit())
}

func TestFactoryAnthropicCapabilities(t *testing.T) {
	factory := NewFactory(config.ProviderConfig{APIKey: "k", Model: "claude-3-5-sonnet-20241022"}, nil, zap.NewNop())

	p, err := factory("anthropic", "")
	require.NoError(t, err)
	assert.False(t, p.StreamingEnabled())
}
