// Package breaker wraps sony/gobreaker with per-(provider, model) instances
// and rolling health metrics. The breaker fails fast while a provider is
// unhealthy so the dispatcher can route to a fallback instead of queueing
// doomed requests.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when a call is rejected because the breaker is open
// or the half-open probe quota is exhausted.
var ErrOpen = errors.New("circuit breaker open")

// latencyAlpha is the EWMA smoothing factor for average latency
const latencyAlpha = 0.1

// Config shapes one breaker instance
type Config struct {
	// FailureThreshold consecutive failures move Closed -> Open
	FailureThreshold uint32
	// RecoveryTimeout is how long the breaker stays Open before probing
	RecoveryTimeout time.Duration
	// SuccessThreshold consecutive half-open successes move to Closed
	SuccessThreshold uint32
}

// DefaultConfig matches the documented defaults: 5 failures to open,
// 60 s recovery, 3 successes to close.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

// Metrics is a point-in-time health snapshot of one breaker
type Metrics struct {
	State               string  `json:"state"`
	TotalCalls          uint64  `json:"total_calls"`
	TotalFailures       uint64  `json:"total_failures"`
	SuccessRate         float64 `json:"success_rate"`
	AvgLatencyMS        float64 `json:"avg_latency_ms"`
	ConsecutiveFailures uint32  `json:"consecutive_failures"`
}

// Breaker protects one (provider, model) pair
type Breaker struct {
	cb *gobreaker.CircuitBreaker

	mu            sync.Mutex
	totalCalls    uint64
	totalFailures uint64
	avgLatencyMS  float64
}

// New creates a breaker with the given config
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultConfig()
	}
	settings := gobreaker.Settings{
		Name: name,
		// MaxRequests is the half-open probe quota; gobreaker closes the
		// circuit after this many consecutive successes in half-open.
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker. A rejected call returns ErrOpen without
// invoking fn. Latency and failure counts are folded into the metrics.
func (b *Breaker) Execute(fn func() error) error {
	start := time.Now()
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	elapsed := time.Since(start)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}

	b.record(elapsed, err)
	return err
}

func (b *Breaker) record(elapsed time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalCalls++
	if err != nil {
		b.totalFailures++
	}
	ms := float64(elapsed.Milliseconds())
	if b.totalCalls == 1 {
		b.avgLatencyMS = ms
	} else {
		b.avgLatencyMS = latencyAlpha*ms + (1-latencyAlpha)*b.avgLatencyMS
	}
}

// State returns the current breaker state name: closed, open, or half-open
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Metrics returns a health snapshot
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts := b.cb.Counts()
	m := Metrics{
		State:               b.State(),
		TotalCalls:          b.totalCalls,
		TotalFailures:       b.totalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		AvgLatencyMS:        b.avgLatencyMS,
	}
	if b.totalCalls > 0 {
		m.SuccessRate = float64(b.totalCalls-b.totalFailures) / float64(b.totalCalls)
	}
	return m
}

// Registry maps (provider, model) keys to breakers created on first use
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewRegistry creates a breaker registry using cfg for every breaker
func NewRegistry(cfg Config) *Registry {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// For returns the breaker for a (provider, model) pair, creating it if needed
func (r *Registry) For(provider, model string) *Breaker {
	key := provider + "/" + model

	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[key]; ok {
		return b
	}
	b = New(key, r.cfg)
	r.breakers[key] = b
	return b
}

// AllMetrics returns metrics for every breaker keyed by provider/model
func (r *Registry) AllMetrics() map[string]Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Metrics, len(r.breakers))
	for key, b := range r.breakers {
		out[key] = b.Metrics()
	}
	return out
}
