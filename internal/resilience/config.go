package resilience

import "time"

// Named breaker presets for the three resource classes the engine touches.
const (
	// BreakerRecordStore guards transactional record store operations:
	// fast timeouts, strict threshold.
	BreakerRecordStore = "record-store"
	// BreakerDocumentIO guards bulk reads of captured documents: lenient
	// threshold, generous timeouts.
	BreakerDocumentIO = "document-io"
	// BreakerExternal guards generic external dependencies.
	BreakerExternal = "external"
)

// Presets returns the built-in per-resource breaker profiles.
func Presets() map[string]CircuitBreakerConfig {
	return map[string]CircuitBreakerConfig{
		BreakerRecordStore: {
			FailureThreshold: 3,
			RecoveryTime:     10 * time.Second,
			SuccessThreshold: 2,
			Timeout:          5 * time.Second,
			MaxRetries:       3,
			RetryDelay:       100 * time.Millisecond,
			MaxRetryDelay:    2 * time.Second,
		},
		BreakerDocumentIO: {
			FailureThreshold: 10,
			RecoveryTime:     60 * time.Second,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
			MaxRetries:       2,
			RetryDelay:       time.Second,
			MaxRetryDelay:    30 * time.Second,
		},
		BreakerExternal: {
			FailureThreshold: 5,
			RecoveryTime:     30 * time.Second,
			SuccessThreshold: 2,
			Timeout:          15 * time.Second,
			MaxRetries:       2,
			RetryDelay:       500 * time.Millisecond,
			MaxRetryDelay:    15 * time.Second,
		},
	}
}

// FromBreakerConfig builds a breaker config from flat config values,
// falling back to defaults for non-positive entries.
func FromBreakerConfig(failureThreshold, recoverySecs, successThreshold, maxRetries, timeoutSecs int, retryDelayMs, maxRetryDelayMs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if recoverySecs > 0 {
		cfg.RecoveryTime = time.Duration(recoverySecs) * time.Second
	}
	if successThreshold > 0 {
		cfg.SuccessThreshold = successThreshold
	}
	if maxRetries >= 0 {
		cfg.MaxRetries = maxRetries
	}
	if timeoutSecs > 0 {
		cfg.Timeout = time.Duration(timeoutSecs) * time.Second
	}
	if retryDelayMs > 0 {
		cfg.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	}
	if maxRetryDelayMs > 0 {
		cfg.MaxRetryDelay = time.Duration(maxRetryDelayMs) * time.Millisecond
	}
	return cfg
}
