package validate

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/schoolscope/extract-cli/internal/model"
)

// DedupeStore is the store view the deduplicator needs.
type DedupeStore interface {
	ListDuplicateKeys(ctx context.Context) ([]model.NaturalKey, error)
	ListByNaturalKey(ctx context.Context, key model.NaturalKey) ([]model.ExtractedRecord, error)
	DeleteRecords(ctx context.Context, ids []string) error
}

// DuplicateGroup describes one natural key with multiple records and the
// resolution chosen for it.
type DuplicateGroup struct {
	Key     model.NaturalKey        `json:"key" yaml:"key"`
	Kept    model.ExtractedRecord   `json:"kept" yaml:"kept"`
	Removed []model.ExtractedRecord `json:"removed" yaml:"removed"`
}

// DedupeReport summarizes a deduplication pass. A dry run carries the same
// analysis with nothing applied.
type DedupeReport struct {
	DryRun            bool             `json:"dry_run" yaml:"dry_run"`
	GroupsFound       int              `json:"groups_found" yaml:"groups_found"`
	RecordsRemoved    int              `json:"records_removed" yaml:"records_removed"`
	RecordsPreserved  int              `json:"records_preserved" yaml:"records_preserved"`
	AvgConfidenceKept float64          `json:"avg_confidence_kept" yaml:"avg_confidence_kept"`
	Groups            []DuplicateGroup `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// Deduplicator collapses multiple records sharing a natural key into one.
type Deduplicator struct {
	store DedupeStore
}

// NewDeduplicator creates a deduplicator over the given store.
func NewDeduplicator(store DedupeStore) *Deduplicator {
	return &Deduplicator{store: store}
}

// Run performs a batch deduplication pass. For every (slug, year) pair with
// multiple records it keeps exactly one — highest overall confidence, ties
// broken by most recent update, then lowest id — and removes the rest in a
// single transaction. With dryRun the identical analysis is returned and no
// state changes. Running twice is a no-op the second time.
func (d *Deduplicator) Run(ctx context.Context, dryRun bool) (*DedupeReport, error) {
	keys, err := d.store.ListDuplicateKeys(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: list duplicate keys")
	}

	report := &DedupeReport{DryRun: dryRun}
	var removeIDs []string
	var confidenceSum float64

	for _, key := range keys {
		recs, err := d.store.ListByNaturalKey(ctx, key)
		if err != nil {
			return nil, eris.Wrapf(err, "dedupe: load group %s/%d", key.Slug, key.Year)
		}
		if len(recs) < 2 {
			continue
		}

		orderGroup(recs)
		group := DuplicateGroup{Key: key, Kept: recs[0], Removed: recs[1:]}

		report.GroupsFound++
		report.RecordsPreserved++
		report.RecordsRemoved += len(group.Removed)
		confidenceSum += group.Kept.OverallConfidence
		report.Groups = append(report.Groups, group)

		for _, r := range group.Removed {
			removeIDs = append(removeIDs, r.ID)
		}
	}

	if report.RecordsPreserved > 0 {
		report.AvgConfidenceKept = confidenceSum / float64(report.RecordsPreserved)
	}

	if dryRun || len(removeIDs) == 0 {
		return report, nil
	}

	// All-or-nothing: the store applies the whole removal set in one
	// transaction.
	if err := d.store.DeleteRecords(ctx, removeIDs); err != nil {
		return nil, eris.Wrap(err, "dedupe: delete records")
	}

	zap.L().Info("dedupe: pass complete",
		zap.Int("groups", report.GroupsFound),
		zap.Int("removed", report.RecordsRemoved),
		zap.Int("preserved", report.RecordsPreserved),
		zap.Float64("avg_confidence_kept", report.AvgConfidenceKept),
	)
	return report, nil
}

// orderGroup sorts records best-first by the retention rule. The ordering is
// total, so the same input always resolves to the same survivor.
func orderGroup(recs []model.ExtractedRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].OverallConfidence != recs[j].OverallConfidence {
			return recs[i].OverallConfidence > recs[j].OverallConfidence
		}
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
