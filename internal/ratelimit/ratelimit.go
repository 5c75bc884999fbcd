// Package ratelimit provides concurrency control and adaptive per-model
// rate limiting. Each (provider, model) pair owns an AdaptiveLimiter whose
// requests-per-minute budget decays on rate-limit errors and recovers on
// sustained success.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrContextCanceled is returned when the context is canceled during acquisition
	ErrContextCanceled = errors.New("context canceled while waiting for resource")
)

const (
	// defaultAlpha is the multiplicative decay applied on a rate-limit
	// error; recovery uses half the step
	defaultAlpha = 0.1
	// successRecoveryWindow: no rate-limit error may have occurred within
	// this window for the RPM to grow
	successRecoveryWindow = 120 * time.Second
	// errorRecoveryWindow: no error of any kind within this window for the
	// RPM to grow
	errorRecoveryWindow = 300 * time.Second
)

// Semaphore provides a simple mechanism for limiting concurrent operations
type Semaphore struct {
	tickets chan struct{}
}

// NewSemaphore creates a new semaphore with the given capacity.
// If maxConcurrent is <= 0, returns nil (no limiting).
func NewSemaphore(maxConcurrent int) *Semaphore {
	if maxConcurrent <= 0 {
		return nil
	}
	return &Semaphore{tickets: make(chan struct{}, maxConcurrent)}
}

// Acquire gets a ticket, blocking if none are available. Returns an error
// only if the context is canceled. Does nothing on a nil semaphore.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s.tickets <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrContextCanceled
	}
}

// Release returns a ticket. Does nothing on a nil semaphore.
func (s *Semaphore) Release() {
	if s == nil {
		return
	}
	select {
	case <-s.tickets:
	default:
		// Release without Acquire; ignore rather than deadlock.
	}
}

// AdaptiveLimiter is a sliding-window request counter for one
// (provider, model) pair. Acquire never blocks: callers that are denied
// either wait WaitDuration or route to a fallback provider.
type AdaptiveLimiter struct {
	mu sync.Mutex

	rpmMin     int
	rpmMax     int
	alpha      float64
	currentRPM float64

	// window holds grant timestamps within the last minute
	window []time.Time

	lastRateLimitErr time.Time
	lastAnyErr       time.Time

	// now is injectable for tests
	now func() time.Time
}

// NewAdaptiveLimiter creates a limiter seeded at rpmInitial and clamped to
// [rpmMin, rpmMax].
func NewAdaptiveLimiter(rpmInitial, rpmMin, rpmMax int) *AdaptiveLimiter {
	if rpmMin <= 0 {
		rpmMin = 1
	}
	if rpmMax < rpmMin {
		rpmMax = rpmMin
	}
	initial := float64(rpmInitial)
	if initial < float64(rpmMin) {
		initial = float64(rpmMin)
	}
	if initial > float64(rpmMax) {
		initial = float64(rpmMax)
	}
	return &AdaptiveLimiter{
		rpmMin:     rpmMin,
		rpmMax:     rpmMax,
		alpha:      defaultAlpha,
		currentRPM: initial,
		now:        time.Now,
	}
}

// SetAlpha overrides the adjustment step; values outside (0, 1) are ignored.
func (l *AdaptiveLimiter) SetAlpha(alpha float64) {
	if alpha <= 0 || alpha >= 1 {
		return
	}
	l.mu.Lock()
	l.alpha = alpha
	l.mu.Unlock()
}

// Acquire grants a slot if the last-minute window occupancy is below the
// current RPM. Never blocks.
func (l *AdaptiveLimiter) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)
	if len(l.window) >= int(l.currentRPM) {
		return false
	}
	l.window = append(l.window, now)
	return true
}

// pruneLocked drops window entries older than one minute
func (l *AdaptiveLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

// RecordRateLimitError decays the RPM multiplicatively and remembers the
// error timestamp. The RPM never drops below rpmMin.
func (l *AdaptiveLimiter) RecordRateLimitError() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentRPM *= 1 - l.alpha
	if l.currentRPM < float64(l.rpmMin) {
		l.currentRPM = float64(l.rpmMin)
	}
	now := l.now()
	l.lastRateLimitErr = now
	l.lastAnyErr = now
}

// RecordError remembers a non-rate-limit failure; it blocks RPM recovery
// for errorRecoveryWindow but does not decay the budget.
func (l *AdaptiveLimiter) RecordError() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastAnyErr = l.now()
}

// RecordSuccess grows the RPM by half the adjustment step, but only when no
// rate-limit error happened in the last two minutes and no error of any
// kind in the last five. The RPM never exceeds rpmMax.
func (l *AdaptiveLimiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.lastRateLimitErr.IsZero() && now.Sub(l.lastRateLimitErr) < successRecoveryWindow {
		return
	}
	if !l.lastAnyErr.IsZero() && now.Sub(l.lastAnyErr) < errorRecoveryWindow {
		return
	}
	l.currentRPM *= 1 + l.alpha/2
	if l.currentRPM > float64(l.rpmMax) {
		l.currentRPM = float64(l.rpmMax)
	}
}

// CurrentRPM returns the live RPM budget
func (l *AdaptiveLimiter) CurrentRPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentRPM
}

// WaitDuration is how long a denied caller should wait before retrying:
// one request interval at the current RPM.
func (l *AdaptiveLimiter) WaitDuration() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(60.0 / l.currentRPM * float64(time.Second))
}

// Wait blocks for one request interval or until the context is done. Each
// call builds its own x/time rate.Limiter sized to the current RPM, so
// concurrent waiters are not spaced against each other.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	rps := rate.Limit(l.currentRPM / 60.0)
	l.mu.Unlock()

	lim := rate.NewLimiter(rps, 1)
	// Drain the initial token so Wait spans a full interval.
	lim.Allow()
	if err := lim.Wait(ctx); err != nil {
		return ErrContextCanceled
	}
	return nil
}

// Registry maps (provider, model) keys to their limiter, creating limiters
// on first use from the configured bounds.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*AdaptiveLimiter

	rpmMin int
	rpmMax int
	// rpmInitial per model key; falls back to defaultRPM
	rpmInitial map[string]int
	defaultRPM int
	alpha      float64
}

// NewRegistry creates a limiter registry. rpmInitial maps "provider/model"
// keys to their seed RPM; unknown keys use defaultRPM.
func NewRegistry(rpmInitial map[string]int, defaultRPM, rpmMin, rpmMax int) *Registry {
	if defaultRPM <= 0 {
		defaultRPM = 60
	}
	return &Registry{
		limiters:   make(map[string]*AdaptiveLimiter),
		rpmMin:     rpmMin,
		rpmMax:     rpmMax,
		rpmInitial: rpmInitial,
		defaultRPM: defaultRPM,
		alpha:      defaultAlpha,
	}
}

// SetAlpha sets the adjustment step applied to limiters created after the call
func (r *Registry) SetAlpha(alpha float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alpha > 0 && alpha < 1 {
		r.alpha = alpha
	}
}

// Key builds the registry key for a (provider, model) pair
func Key(provider, model string) string { return provider + "/" + model }

// For returns the limiter for a (provider, model) pair, creating it if needed
func (r *Registry) For(provider, model string) *AdaptiveLimiter {
	key := Key(provider, model)

	r.mu.RLock()
	lim, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return lim
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok = r.limiters[key]; ok {
		return lim
	}
	initial := r.defaultRPM
	if v, ok := r.rpmInitial[key]; ok && v > 0 {
		initial = v
	}
	lim = NewAdaptiveLimiter(initial, r.rpmMin, r.rpmMax)
	lim.alpha = r.alpha
	r.limiters[key] = lim
	return lim
}
