package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sievehq/sieve/internal/breaker"
	"github.com/sievehq/sieve/internal/cache"
	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/ratelimit"
)

// stubClient scripts responses for one provider
type stubClient struct {
	provider string
	mu       sync.Mutex
	calls    int
	handler  func(call int, req llm.Request) (*llm.RawResponse, error)
}

func (s *stubClient) Provider() string { return s.provider }

func (s *stubClient) Complete(_ context.Context, req llm.Request) (*llm.RawResponse, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()
	return s.handler(call, req)
}

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubSource resolves stub clients by provider
type stubSource struct {
	clients map[string]*stubClient
}

func (s *stubSource) For(provider string) (llm.Client, error) {
	c, ok := s.clients[provider]
	if !ok {
		return nil, fmt.Errorf("no stub for provider %q", provider)
	}
	return c, nil
}

func okResponse(text string) func(int, llm.Request) (*llm.RawResponse, error) {
	return func(int, llm.Request) (*llm.RawResponse, error) {
		return &llm.RawResponse{Text: text, LatencyMS: 5}, nil
	}
}

func newTestDispatcher(source ClientSource) *Dispatcher {
	d := New(source,
		ratelimit.NewRegistry(nil, 100, 1, 300),
		breaker.NewRegistry(breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 3}),
		cache.New(100, time.Minute),
		RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, JitterPct: 0.1},
		logutil.NewBufferLogger(),
	)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func screeningRequest() llm.Request {
	return llm.Request{
		Provider: "openai",
		Model:    "gpt-4.1",
		Prompt:   "screen this record",
		Params:   map[string]interface{}{"temperature": 0.1},
	}
}

func TestCallSuccess(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai": {provider: "openai", handler: okResponse(`{"decision": "INCLUDE"}`)},
	}}
	d := newTestDispatcher(source)

	result, err := d.Call(context.Background(), screeningRequest(), CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Provider)
	assert.Equal(t, "gpt-4.1", result.Model)
	assert.Equal(t, `{"decision": "INCLUDE"}`, result.Text)
}

func TestRateLimitErrorFallsBackToNextProvider(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai": {provider: "openai", handler: func(int, llm.Request) (*llm.RawResponse, error) {
			return nil, llm.New("openai", llm.CategoryRateLimit, "429 too many requests")
		}},
		"anthropic": {provider: "anthropic", handler: okResponse(`{"decision": "INCLUDE"}`)},
	}}
	d := newTestDispatcher(source)

	result, err := d.Call(context.Background(), screeningRequest(), CallOptions{})
	require.NoError(t, err)
	// The answering call belongs to the fallback provider.
	assert.Equal(t, "anthropic", result.Provider)
	assert.Equal(t, "claude-sonnet-4", result.Model)
	assert.Equal(t, 1, source.clients["openai"].callCount())
}

func TestRateLimitErrorDecaysLimiter(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai": {provider: "openai", handler: func(int, llm.Request) (*llm.RawResponse, error) {
			return nil, llm.New("openai", llm.CategoryRateLimit, "429")
		}},
		"anthropic": {provider: "anthropic", handler: okResponse("ok")},
	}}
	d := newTestDispatcher(source)

	before := d.limiters.For("openai", "gpt-4.1").CurrentRPM()
	_, err := d.Call(context.Background(), screeningRequest(), CallOptions{})
	require.NoError(t, err)
	after := d.limiters.For("openai", "gpt-4.1").CurrentRPM()
	assert.Less(t, after, before, "429 must shrink the provider's RPM budget")
}

func TestRetriesServerErrorThenSucceeds(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai": {provider: "openai", handler: func(call int, _ llm.Request) (*llm.RawResponse, error) {
			if call < 2 {
				return nil, llm.New("openai", llm.CategoryServer, "502 bad gateway")
			}
			return &llm.RawResponse{Text: "recovered", LatencyMS: 5}, nil
		}},
	}}
	d := newTestDispatcher(source)

	result, err := d.Call(context.Background(), screeningRequest(), CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, 3, source.clients["openai"].callCount())
}

func TestRetriesExhaustedSurfacesLastError(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai": {provider: "openai", handler: func(int, llm.Request) (*llm.RawResponse, error) {
			return nil, llm.New("openai", llm.CategoryServer, "500")
		}},
	}}
	d := newTestDispatcher(source)

	_, err := d.Call(context.Background(), screeningRequest(), CallOptions{})
	require.Error(t, err)
	assert.Equal(t, llm.CategoryServer, llm.CategoryOf(err))
	// One initial try plus the catalog retry budget for gpt-4.1.
	assert.Equal(t, 4, source.clients["openai"].callCount())
}

func TestAuthErrorNotRetried(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai": {provider: "openai", handler: func(int, llm.Request) (*llm.RawResponse, error) {
			return nil, llm.New("openai", llm.CategoryAuth, "invalid api key")
		}},
	}}
	d := newTestDispatcher(source)

	_, err := d.Call(context.Background(), screeningRequest(), CallOptions{})
	require.Error(t, err)
	assert.Equal(t, llm.CategoryAuth, llm.CategoryOf(err))
	assert.Equal(t, 1, source.clients["openai"].callCount())
}

func TestInvalidResponseNotRetried(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai": {provider: "openai", handler: func(int, llm.Request) (*llm.RawResponse, error) {
			return nil, llm.New("openai", llm.CategoryInvalidResponse, "no choices")
		}},
	}}
	d := newTestDispatcher(source)

	_, err := d.Call(context.Background(), screeningRequest(), CallOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, source.clients["openai"].callCount())
}

func TestCircuitOpenFallsBack(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai": {provider: "openai", handler: func(int, llm.Request) (*llm.RawResponse, error) {
			return nil, llm.New("openai", llm.CategoryServer, "500")
		}},
		"anthropic": {provider: "anthropic", handler: okResponse("from fallback")},
	}}
	d := newTestDispatcher(source)

	// Trip the openai breaker.
	brk := d.breakers.For("openai", "gpt-4.1")
	for i := 0; i < 5; i++ {
		_ = brk.Execute(func() error { return errors.New("failure") })
	}

	result, err := d.Call(context.Background(), screeningRequest(), CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", result.Provider)
	assert.Equal(t, 0, source.clients["openai"].callCount(), "open breaker fails fast")
}

func TestFallbackStaysWithinCapabilityTier(t *testing.T) {
	// deepseek-reasoner is a reasoning model; its fallback chain is
	// openai then gemini, and only openai offers a reasoning model.
	source := &stubSource{clients: map[string]*stubClient{
		"deepseek": {provider: "deepseek", handler: func(int, llm.Request) (*llm.RawResponse, error) {
			return nil, llm.New("deepseek", llm.CategoryRateLimit, "429")
		}},
		"openai": {provider: "openai", handler: okResponse("reasoned")},
	}}
	d := newTestDispatcher(source)

	req := llm.Request{Provider: "deepseek", Model: "deepseek-reasoner", Prompt: "p"}
	result, err := d.Call(context.Background(), req, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Provider)
	assert.Equal(t, "o4-mini", result.Model, "a reasoning model falls back to a reasoning model")
}

func TestRateLimiterDenialFallsBack(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai":    {provider: "openai", handler: okResponse("first")},
		"anthropic": {provider: "anthropic", handler: okResponse("second")},
	}}
	d := New(source,
		ratelimit.NewRegistry(nil, 1, 1, 1), // one request per minute everywhere
		breaker.NewRegistry(breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 3}),
		cache.New(100, time.Minute),
		RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, JitterPct: 0},
		logutil.NewBufferLogger(),
	)
	d.sleep = func(context.Context, time.Duration) error { return nil }

	req := screeningRequest()
	first, err := d.Call(context.Background(), req, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "openai", first.Provider)

	// The openai window is exhausted; the next call routes to anthropic.
	req.Prompt = "another record"
	second, err := d.Call(context.Background(), req, CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", second.Provider)
}

func TestCachingRoundTrip(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai": {provider: "openai", handler: okResponse(`{"decision": "INCLUDE"}`)},
	}}
	d := newTestDispatcher(source)
	cacheable := CallOptions{Cacheable: func(string) bool { return true }}

	req := screeningRequest()
	first, err := d.Call(context.Background(), req, cacheable)
	require.NoError(t, err)

	second, err := d.Call(context.Background(), req, cacheable)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.clients["openai"].callCount(), "second call served from cache")
}

func TestInvalidResponsesBypassCache(t *testing.T) {
	source := &stubSource{clients: map[string]*stubClient{
		"openai": {provider: "openai", handler: okResponse("not json")},
	}}
	d := newTestDispatcher(source)
	opts := CallOptions{Cacheable: func(text string) bool {
		_, err := llm.ParseScreeningResponse("m", text)
		return err == nil
	}}

	req := screeningRequest()
	_, err := d.Call(context.Background(), req, opts)
	require.NoError(t, err)
	_, err = d.Call(context.Background(), req, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, source.clients["openai"].callCount(), "malformed responses are never cached")
}

func TestBackoffDelayBounds(t *testing.T) {
	d := newTestDispatcher(&stubSource{})
	d.jitter = func() float64 { return 1 } // worst case

	for attempt := 0; attempt < 10; attempt++ {
		delay := d.backoffDelay(attempt)
		assert.LessOrEqual(t, delay, time.Duration(float64(d.retry.MaxDelay)*1.1))
		assert.GreaterOrEqual(t, delay, time.Duration(0))
	}
}
