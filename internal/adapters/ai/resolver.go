package ai

import (
	"sort"
	"strings"

	"minerva/internal/adapters/config"
	"minerva/pkg/errors"
)

// ProviderKind identifies which of the two configured providers serves a model.
type ProviderKind string

const (
	ProviderPrimary   ProviderKind = "primary"
	ProviderAlternate ProviderKind = "alternate"
)

// hardFallbackModel is used when neither provider declares a preferred model.
const hardFallbackModel = "gpt-4o-mini"

// Default allow-lists, extended (not replaced) by the per-provider overrides.
var (
	defaultPrimaryModels   = []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini"}
	defaultAlternateModels = []string{"grok-beta", "grok-2", "grok-2-mini"}
)

// Resolver maps model identifiers to providers and constructs chat invokers
// bound to the matching credentials and base URL.
type Resolver struct {
	cfg             config.AIConfig
	primaryModels   []string
	alternateModels []string
}

// NewResolver builds a resolver from provider configuration.
func NewResolver(cfg config.AIConfig) *Resolver {
	return &Resolver{
		cfg:             cfg,
		primaryModels:   mergeAllowList(defaultPrimaryModels, cfg.PrimaryAllowedModels),
		alternateModels: mergeAllowList(defaultAlternateModels, cfg.AlternateAllowedModels),
	}
}

func mergeAllowList(defaults []string, override []string) []string {
	seen := make(map[string]struct{}, len(defaults)+len(override))
	merged := make([]string, 0, len(defaults)+len(override))

	for _, lists := range [][]string{defaults, override} {
		for _, m := range lists {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			merged = append(merged, m)
		}
	}

	return merged
}

// Resolve maps a model identifier to a provider by exact match first, then
// by prefix match against the provider's allow-list.
func (r *Resolver) Resolve(modelID string) (ProviderKind, error) {
	if matchesList(modelID, r.primaryModels) {
		return ProviderPrimary, nil
	}
	if matchesList(modelID, r.alternateModels) {
		return ProviderAlternate, nil
	}

	return "", errors.Wrapf(errors.ErrUnsupportedModel,
		"model %q not in allow-list %v", modelID, r.AllowedModels())
}

func matchesList(modelID string, list []string) bool {
	for _, allowed := range list {
		if modelID == allowed {
			return true
		}
	}
	// Prefix match covers dated snapshots like gpt-4o-mini-2024-07-18.
	for _, allowed := range list {
		if strings.HasPrefix(modelID, allowed+"-") {
			return true
		}
	}
	return false
}

// Invoker constructs a chat invoker for modelID with the resolved provider's
// credentials. Fails with ErrMissingCredential when the key is absent.
func (r *Resolver) Invoker(modelID string) (ChatInvoker, error) {
	kind, err := r.Resolve(modelID)
	if err != nil {
		return nil, err
	}

	var key, baseURL string
	switch kind {
	case ProviderPrimary:
		key, baseURL = r.cfg.PrimaryKey, r.cfg.PrimaryBaseURL
	case ProviderAlternate:
		key, baseURL = r.cfg.AlternateKey, r.cfg.AlternateBaseURL
	}

	if key == "" {
		return nil, errors.Wrapf(errors.ErrMissingCredential, "provider %s has no API key", kind)
	}

	return NewClient(ClientOptions{
		BaseURL: baseURL,
		APIKey:  key,
		Model:   modelID,
		Timeout: r.cfg.RequestTimeout,
		RPS:     r.cfg.RateLimitRPS,
		Burst:   r.cfg.RateLimitBurst,
	}), nil
}

// DefaultModel returns the effective default model id:
// explicit override, then primary preferred, then alternate preferred,
// then the hard fallback.
func (r *Resolver) DefaultModel() string {
	if r.cfg.DefaultModelOverride != "" {
		return r.cfg.DefaultModelOverride
	}

	if r.cfg.PrimaryKey != "" {
		if r.cfg.PrimaryModel != "" {
			return r.cfg.PrimaryModel
		}
		if len(r.primaryModels) > 0 {
			return r.primaryModels[0]
		}
	}

	if r.cfg.AlternateKey != "" {
		if r.cfg.AlternateModel != "" {
			return r.cfg.AlternateModel
		}
		if len(r.alternateModels) > 0 {
			return r.alternateModels[0]
		}
	}

	return hardFallbackModel
}

// AllowedModels returns the merged, sorted allow-list across both providers.
func (r *Resolver) AllowedModels() []string {
	merged := mergeAllowList(r.primaryModels, r.alternateModels)
	sort.Strings(merged)
	return merged
}
