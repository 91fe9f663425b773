package resilience

import "time"

// latencyWindow is the number of recent calls the rolling latency average
// covers.
const latencyWindow = 128

// BreakerSnapshot is the observable state of one breaker, exposed on the
// operator metrics surface. It is a read-only copy; the state machine never
// consumes it.
type BreakerSnapshot struct {
	Name            string     `json:"name"`
	State           string     `json:"state"`
	FailureCount    int        `json:"failure_count"`
	SuccessCount    int        `json:"success_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	NextAttemptTime *time.Time `json:"next_attempt_time,omitempty"`

	TotalCalls     int64         `json:"total_calls"`
	TotalSuccesses int64         `json:"total_successes"`
	TotalFailures  int64         `json:"total_failures"`
	TotalRejected  int64         `json:"total_rejected"`
	SuccessRate    float64       `json:"success_rate"`
	AvgLatency     time.Duration `json:"avg_latency_ns"`
}

// callMetrics accumulates per-call outcomes and response times. It is
// guarded by the owning breaker's mutex.
type callMetrics struct {
	totalCalls     int64
	totalSuccesses int64
	totalFailures  int64
	totalRejected  int64

	latencies [latencyWindow]time.Duration
	latIdx    int
	latCount  int
}

func (m *callMetrics) recordCall(success bool, elapsed time.Duration) {
	m.totalCalls++
	if success {
		m.totalSuccesses++
	} else {
		m.totalFailures++
	}
	m.latencies[m.latIdx] = elapsed
	m.latIdx = (m.latIdx + 1) % latencyWindow
	if m.latCount < latencyWindow {
		m.latCount++
	}
}

func (m *callMetrics) recordRejection() {
	m.totalRejected++
}

func (m *callMetrics) snapshot() BreakerSnapshot {
	snap := BreakerSnapshot{
		TotalCalls:     m.totalCalls,
		TotalSuccesses: m.totalSuccesses,
		TotalFailures:  m.totalFailures,
		TotalRejected:  m.totalRejected,
	}
	if m.totalCalls > 0 {
		snap.SuccessRate = float64(m.totalSuccesses) / float64(m.totalCalls)
	}
	if m.latCount > 0 {
		var sum time.Duration
		for i := 0; i < m.latCount; i++ {
			sum += m.latencies[i]
		}
		snap.AvgLatency = sum / time.Duration(m.latCount)
	}
	return snap
}
