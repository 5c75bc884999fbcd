// Package providers contains the per-provider LLM clients and the registry
// the dispatcher resolves them from. Each client owns its provider's wire
// format and error normalization; none of them retries internally.
package providers

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/models"
)

// Factory builds a client for one provider from its resolved API key and
// base URL. Registered per provider name.
type Factory func(apiKey, baseURL string, logger logutil.LoggerInterface) (llm.Client, error)

// Registry resolves provider names to ready clients. Clients are built
// lazily on first use so that a missing API key for an unused provider is
// not an error.
type Registry struct {
	mu        sync.Mutex
	logger    logutil.LoggerInterface
	factories map[string]Factory
	clients   map[string]llm.Client
	// baseURLs overrides the catalog default endpoint per provider
	baseURLs map[string]string
}

// NewRegistry creates a registry with the standard factories registered
func NewRegistry(logger logutil.LoggerInterface, baseURLs map[string]string) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
		clients:   make(map[string]llm.Client),
		baseURLs:  baseURLs,
	}
	r.Register(models.ProviderOpenAI, NewOpenAIClient)
	r.Register(models.ProviderAnthropic, NewAnthropicClient)
	r.Register(models.ProviderGemini, NewGeminiClient)
	r.Register(models.ProviderDeepSeek, NewDeepSeekClient)
	return r
}

// Register installs a factory for a provider name, replacing any existing one
func (r *Registry) Register(provider string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = factory
	delete(r.clients, provider)
}

// RegisterClient installs a prebuilt client, bypassing key resolution.
// Used by tests to inject mocks.
func (r *Registry) RegisterClient(provider string, client llm.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[provider] = client
}

// For returns the client for a provider, building it on first use
func (r *Registry) For(provider string) (llm.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[provider]; ok {
		return c, nil
	}
	factory, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("no client factory for provider %q", provider)
	}

	info, err := models.GetProvider(provider)
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(os.Getenv(info.APIKeyEnvVar))
	if apiKey == "" {
		return nil, llm.New(provider, llm.CategoryAuth,
			fmt.Sprintf("%s environment variable not set", info.APIKeyEnvVar))
	}
	baseURL := info.DefaultBaseURL
	if override, ok := r.baseURLs[provider]; ok && override != "" {
		baseURL = override
	}

	client, err := factory(apiKey, baseURL, r.logger)
	if err != nil {
		return nil, err
	}
	r.clients[provider] = client
	return client, nil
}

// wireModelID maps a catalog model ID to the identifier sent on the wire.
// Unknown models pass through unchanged.
func wireModelID(id string) string {
	info, err := models.GetModel(id)
	if err != nil {
		return id
	}
	return info.FullModelID()
}

// FormatAuthHeader renders a provider's api_key_format template. The only
// placeholder is {key}.
func FormatAuthHeader(format, key string) string {
	if format == "" {
		return key
	}
	return strings.ReplaceAll(format, "{key}", key)
}
