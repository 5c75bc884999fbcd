// Package models holds the hardcoded provider and model catalog. The
// catalog replaces a dynamic registry: definitions are compiled in and
// looked up by name, which keeps startup deterministic and testable.
package models

import (
	"fmt"
	"sort"
	"time"
)

// ModelType is the capability tier of a model. Fallback routing never
// crosses tiers: a failing reasoning model falls back only to another
// reasoning model.
type ModelType string

const (
	// TypeChat is a standard chat-completion model
	TypeChat ModelType = "chat"
	// TypeReasoning is a reasoning model; such models typically reject
	// sampling parameters like temperature
	TypeReasoning ModelType = "reasoning"
	// TypeMultimodal accepts mixed text/image input
	TypeMultimodal ModelType = "multimodal"
)

// ProviderInfo describes the wire-level identity of one provider
type ProviderInfo struct {
	// Name is the provider key used throughout the codebase
	Name string
	// APIKeyEnvVar names the environment variable holding the secret
	APIKeyEnvVar string
	// DefaultBaseURL is the API endpoint when none is configured
	DefaultBaseURL string
	// APIKeyHeader is the header carrying the credential
	APIKeyHeader string
	// APIKeyFormat is a template like "Bearer {key}" or "{key}"
	APIKeyFormat string
	// ExtraHeaders are fixed headers some providers require
	// (e.g. anthropic-version)
	ExtraHeaders map[string]string
	// NoRateLimit marks providers documented as unlimited; they skip the
	// rate limiter but still pass through the circuit breaker
	NoRateLimit bool
}

// ModelInfo contains metadata for a single LLM model
type ModelInfo struct {
	// ID is the catalog key, e.g. "gpt-4.1"
	ID string
	// Provider is the owning provider's catalog key
	Provider string
	// APIModelID is the identifier sent on the wire, when it differs from ID
	APIModelID string
	// Type is the capability tier
	Type ModelType
	// ContextWindow is the maximum combined tokens for input + output
	ContextWindow int
	// SupportsTemperature is false for reasoning-only models; unsupported
	// parameters are dropped, never rejected
	SupportsTemperature bool
	// Timeout bounds one outbound request
	Timeout time.Duration
	// MaxRetries is the dispatcher retry budget for this model
	MaxRetries int
	// RPMInitial seeds the adaptive rate limiter
	RPMInitial int
	// DefaultParams are provider-specific generation defaults
	DefaultParams map[string]interface{}
}

// FullModelID returns the wire identifier for API calls
func (m ModelInfo) FullModelID() string {
	if m.APIModelID != "" {
		return m.APIModelID
	}
	return m.ID
}

// Provider catalog keys
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderDeepSeek  = "deepseek"
)

var providerDefinitions = map[string]ProviderInfo{
	ProviderOpenAI: {
		Name:           ProviderOpenAI,
		APIKeyEnvVar:   "OPENAI_API_KEY",
		DefaultBaseURL: "https://api.openai.com/v1",
		APIKeyHeader:   "Authorization",
		APIKeyFormat:   "Bearer {key}",
	},
	ProviderAnthropic: {
		Name:           ProviderAnthropic,
		APIKeyEnvVar:   "ANTHROPIC_API_KEY",
		DefaultBaseURL: "https://api.anthropic.com",
		APIKeyHeader:   "x-api-key",
		APIKeyFormat:   "{key}",
		ExtraHeaders:   map[string]string{"anthropic-version": "2023-06-01"},
	},
	ProviderGemini: {
		Name:           ProviderGemini,
		APIKeyEnvVar:   "GEMINI_API_KEY",
		DefaultBaseURL: "https://generativelanguage.googleapis.com",
		APIKeyHeader:   "x-goog-api-key",
		APIKeyFormat:   "{key}",
	},
	ProviderDeepSeek: {
		Name:           ProviderDeepSeek,
		APIKeyEnvVar:   "DEEPSEEK_API_KEY",
		DefaultBaseURL: "https://api.deepseek.com/v1",
		APIKeyHeader:   "Authorization",
		APIKeyFormat:   "Bearer {key}",
		NoRateLimit:    true,
	},
}

var modelDefinitions = map[string]ModelInfo{
	"gpt-4.1": {
		ID:                  "gpt-4.1",
		Provider:            ProviderOpenAI,
		Type:                TypeChat,
		ContextWindow:       1_047_576,
		SupportsTemperature: true,
		Timeout:             90 * time.Second,
		MaxRetries:          3,
		RPMInitial:          60,
		DefaultParams:       map[string]interface{}{"temperature": 0.1, "max_tokens": 2048},
	},
	"o4-mini": {
		ID:                  "o4-mini",
		Provider:            ProviderOpenAI,
		Type:                TypeReasoning,
		ContextWindow:       200_000,
		SupportsTemperature: false,
		Timeout:             180 * time.Second,
		MaxRetries:          4,
		RPMInitial:          30,
		DefaultParams:       map[string]interface{}{"max_tokens": 4096},
	},
	"claude-sonnet-4": {
		ID:                  "claude-sonnet-4",
		Provider:            ProviderAnthropic,
		APIModelID:          "claude-sonnet-4-20250514",
		Type:                TypeChat,
		ContextWindow:       200_000,
		SupportsTemperature: true,
		Timeout:             90 * time.Second,
		MaxRetries:          3,
		RPMInitial:          50,
		DefaultParams:       map[string]interface{}{"temperature": 0.1, "max_tokens": 2048},
	},
	"gemini-2.5-flash": {
		ID:                  "gemini-2.5-flash",
		Provider:            ProviderGemini,
		Type:                TypeMultimodal,
		ContextWindow:       1_048_576,
		SupportsTemperature: true,
		Timeout:             90 * time.Second,
		MaxRetries:          3,
		RPMInitial:          60,
		DefaultParams:       map[string]interface{}{"temperature": 0.1, "max_output_tokens": 2048},
	},
	"deepseek-chat": {
		ID:                  "deepseek-chat",
		Provider:            ProviderDeepSeek,
		Type:                TypeChat,
		ContextWindow:       64_000,
		SupportsTemperature: true,
		Timeout:             120 * time.Second,
		MaxRetries:          3,
		RPMInitial:          120,
		DefaultParams:       map[string]interface{}{"temperature": 0.1, "max_tokens": 2048},
	},
	"deepseek-reasoner": {
		ID:                  "deepseek-reasoner",
		Provider:            ProviderDeepSeek,
		Type:                TypeReasoning,
		ContextWindow:       64_000,
		SupportsTemperature: false,
		Timeout:             300 * time.Second,
		MaxRetries:          4,
		RPMInitial:          60,
		DefaultParams:       map[string]interface{}{"max_tokens": 8192},
	},
}

// fallbackProviders maps a provider to the ordered list of alternatives the
// dispatcher may route to when the primary is rate-limited or its breaker
// is open. Keyed by provider; the dispatcher additionally filters candidate
// models to the same capability tier.
var fallbackProviders = map[string][]string{
	ProviderOpenAI:    {ProviderAnthropic, ProviderGemini},
	ProviderAnthropic: {ProviderOpenAI, ProviderGemini},
	ProviderGemini:    {ProviderOpenAI, ProviderDeepSeek},
	ProviderDeepSeek:  {ProviderOpenAI, ProviderGemini},
}

// GetModel looks up a model by catalog key
func GetModel(id string) (ModelInfo, error) {
	m, ok := modelDefinitions[id]
	if !ok {
		return ModelInfo{}, fmt.Errorf("unknown model: %s", id)
	}
	return m, nil
}

// GetProvider looks up a provider by catalog key
func GetProvider(name string) (ProviderInfo, error) {
	p, ok := providerDefinitions[name]
	if !ok {
		return ProviderInfo{}, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}

// ListModels returns all model IDs sorted alphabetically
func ListModels() []string {
	ids := make([]string, 0, len(modelDefinitions))
	for id := range modelDefinitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListProviders returns all provider names sorted alphabetically
func ListProviders() []string {
	names := make([]string, 0, len(providerDefinitions))
	for name := range providerDefinitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FallbacksFor returns the ordered fallback providers for a provider.
// The returned slice must not be mutated.
func FallbacksFor(provider string) []string {
	return fallbackProviders[provider]
}

// ModelsForProvider returns the catalog models owned by a provider,
// optionally filtered to a capability tier. Results are sorted by ID.
func ModelsForProvider(provider string, tier ModelType) []ModelInfo {
	var out []ModelInfo
	for _, m := range modelDefinitions {
		if m.Provider != provider {
			continue
		}
		if tier != "" && m.Type != tier {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
