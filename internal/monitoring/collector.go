// Package monitoring gathers point-in-time health metrics from the record
// store and the resilience layer for the serve surface.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/schoolscope/extract-cli/internal/model"
	"github.com/schoolscope/extract-cli/internal/resilience"
	"github.com/schoolscope/extract-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Record counts.
	RecordsTotal         int     `json:"records_total"`
	RecordsExtracted     int     `json:"records_extracted"`
	RecordsLowConfidence int     `json:"records_low_confidence"`
	RecordsMalformed     int     `json:"records_malformed"`
	LowConfidenceRate    float64 `json:"low_confidence_rate"`

	// Natural keys still held by more than one record.
	PendingDuplicateKeys int `json:"pending_duplicate_keys"`

	// Documents quarantined after load or persist failures.
	QuarantineDepth int `json:"quarantine_depth"`

	// Circuit breaker state.
	Breakers []resilience.BreakerSnapshot `json:"breakers"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store and the breaker registry.
type Collector struct {
	store    store.Store
	breakers *resilience.Registry
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, reg *resilience.Registry) *Collector {
	return &Collector{store: st, breakers: reg}
}

// Collect gathers a snapshot of system metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		CollectedAt: time.Now().UTC(),
	}

	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count by status")
	}
	snap.RecordsExtracted = counts[model.StatusExtracted]
	snap.RecordsLowConfidence = counts[model.StatusLowConfidence]
	snap.RecordsMalformed = counts[model.StatusMalformed]
	snap.RecordsTotal = snap.RecordsExtracted + snap.RecordsLowConfidence + snap.RecordsMalformed
	if snap.RecordsTotal > 0 {
		snap.LowConfidenceRate = float64(snap.RecordsLowConfidence) / float64(snap.RecordsTotal)
	}

	keys, err := c.store.ListDuplicateKeys(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list duplicate keys")
	}
	snap.PendingDuplicateKeys = len(keys)

	depth, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count quarantine")
	}
	snap.QuarantineDepth = depth

	if c.breakers != nil {
		snap.Breakers = c.breakers.Snapshots()
	}
	return snap, nil
}
