// Package dispatch provides the single entry point for LLM calls. The
// dispatcher composes the response cache, adaptive rate limiter, circuit
// breaker, and provider clients, and owns fallback routing and the retry
// backoff loop. Provider clients never retry; all retry policy lives here.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sievehq/sieve/internal/breaker"
	"github.com/sievehq/sieve/internal/cache"
	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/models"
	"github.com/sievehq/sieve/internal/ratelimit"
)

// ClientSource resolves a provider name to its client. Satisfied by
// providers.Registry; tests substitute their own.
type ClientSource interface {
	For(provider string) (llm.Client, error)
}

// RetryConfig shapes the backoff loop
type RetryConfig struct {
	// MaxRetries is the default retry budget; a model's catalog entry
	// overrides it per call
	MaxRetries int
	// BaseDelay seeds the exponential backoff
	BaseDelay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
	// JitterPct spreads delays by ±pct (0.1 = ±10%)
	JitterPct float64
}

// DefaultRetryConfig returns the documented defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		JitterPct:  0.1,
	}
}

// Result is the outcome of one dispatched call. Provider and Model identify
// the client that actually answered, which differs from the request when
// fallback routing kicked in.
type Result struct {
	Provider  string
	Model     string
	Text      string
	LatencyMS int64
}

// CallOptions tunes one Call
type CallOptions struct {
	// Cacheable decides whether a successful response text may be cached.
	// Nil means never cache: only responses the caller can vouch for as
	// carrying a valid decision label belong in the cache.
	Cacheable func(text string) bool
}

// Dispatcher routes normalized LLM requests through the reliability stack
type Dispatcher struct {
	clients  ClientSource
	limiters *ratelimit.Registry
	breakers *breaker.Registry
	cache    *cache.ResponseCache
	retry    RetryConfig
	logger   logutil.LoggerInterface

	// sleep is injectable so tests do not wait out real backoff
	sleep func(ctx context.Context, d time.Duration) error
	// jitter returns a value in [-1, 1]
	jitter func() float64
}

// New creates a dispatcher
func New(clients ClientSource, limiters *ratelimit.Registry, breakers *breaker.Registry,
	respCache *cache.ResponseCache, retry RetryConfig, logger logutil.LoggerInterface) *Dispatcher {
	if retry.MaxRetries <= 0 {
		retry = DefaultRetryConfig()
	}
	return &Dispatcher{
		clients:  clients,
		limiters: limiters,
		breakers: breakers,
		cache:    respCache,
		retry:    retry,
		logger:   logger,
		sleep:    sleepCtx,
		jitter:   func() float64 { return rand.Float64()*2 - 1 },
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call dispatches one request. On rate-limit denial or an open breaker it
// routes to a configured fallback provider of the same capability tier; each
// fallback provider is tried at most once per call.
func (d *Dispatcher) Call(ctx context.Context, req llm.Request, opts CallOptions) (*Result, error) {
	tried := map[string]bool{}
	return d.call(ctx, req, opts, tried)
}

func (d *Dispatcher) call(ctx context.Context, req llm.Request, opts CallOptions, tried map[string]bool) (*Result, error) {
	tried[req.Provider] = true
	contextLogger := d.logger.WithContext(ctx)

	fullPrompt := req.Prompt
	if req.SystemPrompt != "" {
		fullPrompt = req.SystemPrompt + "\n" + req.Prompt
	}
	cacheKey := cache.Key(req.Provider, req.Model, fullPrompt, req.Params)
	if cached, ok := d.cache.Get(cacheKey); ok {
		res := cached.(*Result)
		contextLogger.DebugContext(ctx, "cache hit for %s/%s", req.Provider, req.Model)
		return res, nil
	}

	providerInfo, err := models.GetProvider(req.Provider)
	if err != nil {
		return nil, err
	}

	// Rate-limit gate. Unlimited providers skip the gate but still run
	// under the breaker.
	if !providerInfo.NoRateLimit {
		lim := d.limiters.For(req.Provider, req.Model)
		if !lim.Acquire() {
			if alt, ok := d.pickFallback(req, tried); ok {
				contextLogger.InfoContext(ctx, "rate limiter denied %s/%s, falling back to %s/%s",
					req.Provider, req.Model, alt.Provider, alt.Model)
				return d.call(ctx, alt, opts, tried)
			}
			contextLogger.DebugContext(ctx, "rate limiter denied %s/%s, waiting %v",
				req.Provider, req.Model, lim.WaitDuration())
			if err := lim.Wait(ctx); err != nil {
				return nil, llm.Wrap(err, req.Provider, "canceled while rate limited", llm.CategoryCancelled)
			}
		}
	}

	return d.execute(ctx, req, opts, tried, cacheKey)
}

// execute runs the breaker-protected call with the retry backoff loop
func (d *Dispatcher) execute(ctx context.Context, req llm.Request, opts CallOptions,
	tried map[string]bool, cacheKey string) (*Result, error) {
	contextLogger := d.logger.WithContext(ctx)

	client, err := d.clients.For(req.Provider)
	if err != nil {
		return nil, err
	}

	maxRetries := d.retry.MaxRetries
	if info, merr := models.GetModel(req.Model); merr == nil && info.MaxRetries > 0 {
		maxRetries = info.MaxRetries
	}

	brk := d.breakers.For(req.Provider, req.Model)
	lim := d.limiters.For(req.Provider, req.Model)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var resp *llm.RawResponse
		execErr := brk.Execute(func() error {
			var callErr error
			resp, callErr = client.Complete(ctx, req)
			return callErr
		})

		if execErr == nil {
			lim.RecordSuccess()
			result := &Result{
				Provider:  req.Provider,
				Model:     req.Model,
				Text:      resp.Text,
				LatencyMS: resp.LatencyMS,
			}
			if opts.Cacheable != nil && opts.Cacheable(resp.Text) {
				d.cache.Put(cacheKey, result)
			}
			return result, nil
		}

		if errors.Is(execErr, breaker.ErrOpen) {
			if alt, ok := d.pickFallback(req, tried); ok {
				contextLogger.WarnContext(ctx, "circuit open for %s/%s, falling back to %s/%s",
					req.Provider, req.Model, alt.Provider, alt.Model)
				return d.call(ctx, alt, opts, tried)
			}
			return nil, llm.Wrap(execErr, req.Provider, "circuit breaker open, no fallback available",
				llm.CategoryCircuitOpen)
		}

		category := llm.CategoryOf(execErr)
		switch category {
		case llm.CategoryRateLimit:
			lim.RecordRateLimitError()
			if alt, ok := d.pickFallback(req, tried); ok {
				contextLogger.WarnContext(ctx, "rate limit error from %s/%s, falling back to %s/%s",
					req.Provider, req.Model, alt.Provider, alt.Model)
				return d.call(ctx, alt, opts, tried)
			}
			return nil, execErr
		case llm.CategoryAuth, llm.CategoryInvalidResponse, llm.CategoryCancelled:
			// Deterministic or fatal failures: retrying cannot help.
			lim.RecordError()
			return nil, execErr
		}

		lim.RecordError()
		lastErr = execErr
		if attempt == maxRetries {
			break
		}
		delay := d.backoffDelay(attempt)
		contextLogger.DebugContext(ctx, "call to %s/%s failed (%s), retry %d/%d in %v",
			req.Provider, req.Model, category, attempt+1, maxRetries, delay)
		if err := d.sleep(ctx, delay); err != nil {
			return nil, llm.Wrap(err, req.Provider, "canceled during retry backoff", llm.CategoryCancelled)
		}
	}

	return nil, llm.Wrap(lastErr, req.Provider,
		fmt.Sprintf("call failed after %d retries", maxRetries), llm.CategoryOf(lastErr))
}

// backoffDelay computes min(base * 2^attempt, max) * (1 ± jitter)
func (d *Dispatcher) backoffDelay(attempt int) time.Duration {
	base := float64(d.retry.BaseDelay) * math.Pow(2, float64(attempt))
	if capped := float64(d.retry.MaxDelay); base > capped {
		base = capped
	}
	base *= 1 + d.retry.JitterPct*d.jitter()
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// pickFallback returns a request targeting the first configured fallback
// provider not yet tried that offers a model of the same capability tier.
func (d *Dispatcher) pickFallback(req llm.Request, tried map[string]bool) (llm.Request, bool) {
	info, err := models.GetModel(req.Model)
	if err != nil {
		return llm.Request{}, false
	}
	for _, provider := range models.FallbacksFor(req.Provider) {
		if tried[provider] {
			continue
		}
		candidates := models.ModelsForProvider(provider, info.Type)
		if len(candidates) == 0 {
			continue
		}
		alt := req
		alt.Provider = provider
		alt.Model = candidates[0].ID
		alt.Timeout = candidates[0].Timeout
		return alt, true
	}
	return llm.Request{}, false
}
