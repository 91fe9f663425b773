// Package resilience provides circuit breaker and retry patterns for the
// fallible operations around extraction: document reads and record store
// writes. The breaker is orthogonal to extraction logic; callers wrap any
// operation that touches an external resource.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures — calls are rejected immediately.
	CircuitOpen
	// CircuitHalfOpen allows trial calls to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is short-circuited because the
// circuit is open. The wrapped operation is not invoked.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls breaker and integrated retry behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening
	// the circuit. Default: 5.
	FailureThreshold int

	// RecoveryTime is how long the circuit stays open before the next call
	// attempt transitions it to half-open. Checked lazily on call attempts,
	// not by a background timer. Default: 30s.
	RecoveryTime time.Duration

	// SuccessThreshold is the number of consecutive successes in half-open
	// state required to close the circuit. Default: 1.
	SuccessThreshold int

	// Timeout bounds each call attempt; an attempt that exceeds it is
	// aborted and counts as a failure. Zero disables the per-call timeout.
	Timeout time.Duration

	// MaxRetries is the number of retries per call for retriable errors.
	// Zero means a single attempt. Permanent errors never retry.
	MaxRetries int

	// RetryDelay is the base backoff delay (base × 2^attempt). Default: 500ms.
	RetryDelay time.Duration

	// MaxRetryDelay caps the backoff. Default: 30s.
	MaxRetryDelay time.Duration

	// ShouldTrip decides whether an error counts toward the failure
	// threshold. If nil, every error counts — including permanent ones,
	// which fail fast but still indicate an unhealthy resource.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTime:     30 * time.Second,
		SuccessThreshold: 1,
		MaxRetries:       2,
		RetryDelay:       500 * time.Millisecond,
		MaxRetryDelay:    30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern for a single named
// resource. State is shared across all concurrent callers; transitions are
// mutex-protected so racing calls cannot push the breaker through more than
// one legitimate transition per event.
type CircuitBreaker struct {
	name string
	cfg  CircuitBreakerConfig

	mu    sync.Mutex
	state CircuitState

	failureCount    int
	successCount    int // consecutive successes while half-open
	lastFailureTime time.Time
	nextAttemptTime time.Time

	metrics callMetrics

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given name and config.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTime <= 0 {
		cfg.RecoveryTime = 30 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}
	return &CircuitBreaker{
		name:    name,
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Name returns the resource name the breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn through the circuit breaker. Returns ErrCircuitOpen when
// short-circuited. Otherwise fn runs with the configured per-attempt timeout
// and retry policy: transient errors retry up to MaxRetries with exponential
// backoff and jitter; permanent errors fail immediately. The terminal
// outcome and response time are recorded for the metrics surface, and the
// outcome drives the state machine exactly once.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allowRequest(); err != nil {
		cb.recordRejection()
		return err
	}

	start := cb.nowFunc()
	err := Do(ctx, cb.retryConfig(), cb.withTimeout(fn))
	cb.recordResult(err, cb.nowFunc().Sub(start))
	return err
}

// ExecuteVal is like Execute but preserves a return value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allowRequest(); err != nil {
		cb.recordRejection()
		return zero, err
	}

	start := cb.nowFunc()
	val, err := DoVal(ctx, cb.retryConfig(), func(ctx context.Context) (T, error) {
		if cb.cfg.Timeout <= 0 {
			return fn(ctx)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, cb.cfg.Timeout)
		defer cancel()
		return fn(attemptCtx)
	})
	cb.recordResult(err, cb.nowFunc().Sub(start))
	return val, err
}

func (cb *CircuitBreaker) retryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    cb.cfg.MaxRetries + 1,
		InitialBackoff: cb.cfg.RetryDelay,
		MaxBackoff:     cb.cfg.MaxRetryDelay,
	}
}

func (cb *CircuitBreaker) withTimeout(fn func(ctx context.Context) error) func(ctx context.Context) error {
	if cb.cfg.Timeout <= 0 {
		return fn
	}
	return func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, cb.cfg.Timeout)
		defer cancel()
		return fn(attemptCtx)
	}
}

// State returns the current circuit state, accounting for the lazy
// open-to-half-open transition.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && !cb.nowFunc().Before(cb.nextAttemptTime) {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit back to closed state. Useful for tests and
// manual operator recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.successCount = 0
	if old != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(old, CircuitClosed)
	}
}

// Snapshot returns the breaker's observable state for operators.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snap := cb.metrics.snapshot()
	snap.Name = cb.name
	snap.State = cb.state.String()
	snap.FailureCount = cb.failureCount
	snap.SuccessCount = cb.successCount
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		snap.LastFailureTime = &t
	}
	if cb.state == CircuitOpen {
		t := cb.nextAttemptTime
		snap.NextAttemptTime = &t
	}
	return snap
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if !cb.nowFunc().Before(cb.nextAttemptTime) {
			cb.transition(CircuitHalfOpen)
			cb.successCount = 0
			return nil // allow trial call
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) recordRejection() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.metrics.recordRejection()
}

func (cb *CircuitBreaker) recordResult(err error, elapsed time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.metrics.recordCall(err == nil, elapsed)

	shouldTrip := cb.cfg.ShouldTrip
	if shouldTrip == nil {
		shouldTrip = func(e error) bool { return e != nil }
	}

	if err == nil || !shouldTrip(err) {
		switch cb.state {
		case CircuitHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.cfg.SuccessThreshold {
				cb.transition(CircuitClosed)
				cb.failureCount = 0
				cb.successCount = 0
			}
		case CircuitClosed:
			cb.failureCount = 0
		}
		return
	}

	cb.failureCount++
	cb.lastFailureTime = cb.nowFunc()

	switch cb.state {
	case CircuitClosed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.nextAttemptTime = cb.lastFailureTime.Add(cb.cfg.RecoveryTime)
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open reopens the circuit and restarts the
		// recovery timer.
		cb.nextAttemptTime = cb.lastFailureTime.Add(cb.cfg.RecoveryTime)
		cb.transition(CircuitOpen)
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// Registry manages circuit breakers for multiple named resources. It is an
// explicit object passed to callers rather than process-global state, so
// tests can construct isolated registries.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	presets  map[string]CircuitBreakerConfig
}

// NewRegistry creates a breaker registry with the given per-resource
// presets. A nil map uses the built-in profiles.
func NewRegistry(presets map[string]CircuitBreakerConfig) *Registry {
	if presets == nil {
		presets = Presets()
	}
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		presets:  presets,
	}
}

// Get returns the breaker for the named resource, creating it from the
// matching preset (or defaults) if needed.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if cb, ok = r.breakers[name]; ok {
		return cb
	}
	cfg, ok := r.presets[name]
	if !ok {
		cfg = DefaultCircuitBreakerConfig()
	}
	cb = NewCircuitBreaker(name, cfg)
	r.breakers[name] = cb
	return cb
}

// Snapshots returns observable state for every breaker in the registry.
func (r *Registry) Snapshots() []BreakerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snaps := make([]BreakerSnapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snaps = append(snaps, cb.Snapshot())
	}
	return snaps
}
