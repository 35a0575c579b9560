package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minerva/internal/adapters/config"
	"minerva/pkg/errors"
)

func testAIConfig() config.AIConfig {
	return config.AIConfig{
		PrimaryKey:       "sk-primary",
		PrimaryBaseURL:   "https://api.openai.com/v1",
		AlternateKey:     "xai-alternate",
		AlternateBaseURL: "https://api.x.ai/v1",
	}
}

func TestResolvePrimaryByExactMatch(t *testing.T) {
	r := NewResolver(testAIConfig())

	kind, err := r.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, ProviderPrimary, kind)
}

func TestResolveAlternateByExactMatch(t *testing.T) {
	r := NewResolver(testAIConfig())

	kind, err := r.Resolve("grok-beta")
	require.NoError(t, err)
	assert.Equal(t, ProviderAlternate, kind)
}

func TestResolveByPrefixForDatedSnapshots(t *testing.T) {
	r := NewResolver(testAIConfig())

	kind, err := r.Resolve("gpt-4o-mini-2024-07-18")
	require.NoError(t, err)
	assert.Equal(t, ProviderPrimary, kind)
}

func TestResolveUnknownModelListsAllowList(t *testing.T) {
	r := NewResolver(testAIConfig())

	_, err := r.Resolve("claude-3-opus")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedModel))
	assert.Contains(t, err.Error(), "grok-beta")
	assert.Contains(t, err.Error(), "gpt-4o")
}

func TestResolveRespectsAllowListOverride(t *testing.T) {
	cfg := testAIConfig()
	cfg.AlternateAllowedModels = []string{"grok-3"}
	r := NewResolver(cfg)

	kind, err := r.Resolve("grok-3")
	require.NoError(t, err)
	assert.Equal(t, ProviderAlternate, kind)

	// Defaults are extended, not replaced.
	kind, err = r.Resolve("grok-beta")
	require.NoError(t, err)
	assert.Equal(t, ProviderAlternate, kind)
}

func TestInvokerMissingCredential(t *testing.T) {
	cfg := testAIConfig()
	cfg.AlternateKey = ""
	r := NewResolver(cfg)

	_, err := r.Invoker("grok-beta")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingCredential))
}

func TestInvokerBindsModel(t *testing.T) {
	r := NewResolver(testAIConfig())

	inv, err := r.Invoker("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", inv.Model())
}

func TestDefaultModelPriority(t *testing.T) {
	cfg := testAIConfig()

	cfg.DefaultModelOverride = "gpt-4.1"
	assert.Equal(t, "gpt-4.1", NewResolver(cfg).DefaultModel())

	cfg.DefaultModelOverride = ""
	cfg.PrimaryModel = "gpt-4o"
	assert.Equal(t, "gpt-4o", NewResolver(cfg).DefaultModel())

	cfg.PrimaryModel = ""
	assert.Equal(t, "gpt-4o", NewResolver(cfg).DefaultModel(), "first primary allow-list entry")

	cfg.PrimaryKey = ""
	cfg.AlternateModel = "grok-2"
	assert.Equal(t, "grok-2", NewResolver(cfg).DefaultModel())

	cfg.AlternateKey = ""
	assert.Equal(t, hardFallbackModel, NewResolver(cfg).DefaultModel())
}
