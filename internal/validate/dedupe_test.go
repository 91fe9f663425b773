package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/schoolscope/extract-cli/internal/model"
)

type fakeDedupeStore struct {
	records   map[string]model.ExtractedRecord
	deleteErr error
	deletes   [][]string
}

func newFakeDedupeStore(recs ...model.ExtractedRecord) *fakeDedupeStore {
	s := &fakeDedupeStore{records: make(map[string]model.ExtractedRecord)}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeDedupeStore) ListDuplicateKeys(_ context.Context) ([]model.NaturalKey, error) {
	counts := make(map[model.NaturalKey]int)
	for _, r := range s.records {
		counts[r.Key]++
	}
	var keys []model.NaturalKey
	for k, n := range counts {
		if n > 1 {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *fakeDedupeStore) ListByNaturalKey(_ context.Context, key model.NaturalKey) ([]model.ExtractedRecord, error) {
	var out []model.ExtractedRecord
	for _, r := range s.records {
		if r.Key == key {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeDedupeStore) DeleteRecords(_ context.Context, ids []string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletes = append(s.deletes, ids)
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

func dupRecord(id, slug string, confidence float64, updated time.Time) model.ExtractedRecord {
	return model.ExtractedRecord{
		ID:                id,
		Key:               model.NaturalKey{Slug: slug, Year: 2024},
		OverallConfidence: confidence,
		Status:            model.StatusExtracted,
		UpdatedAt:         updated,
	}
}

func TestDedupe_KeepsHighestConfidenceMostRecent(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeDedupeStore(
		dupRecord("a", "lincoln-high", 60, base),
		dupRecord("b", "lincoln-high", 85, base.Add(time.Hour)),
		dupRecord("c", "lincoln-high", 85, base.Add(2*time.Hour)),
	)

	report, err := NewDeduplicator(store).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.GroupsFound != 1 {
		t.Errorf("expected 1 group, got %d", report.GroupsFound)
	}
	if report.RecordsRemoved != 2 {
		t.Errorf("expected 2 removed, got %d", report.RecordsRemoved)
	}
	if report.RecordsPreserved != 1 {
		t.Errorf("expected 1 preserved, got %d", report.RecordsPreserved)
	}
	// Equal confidence resolves to the more recent update.
	if report.Groups[0].Kept.ID != "c" {
		t.Errorf("expected record c kept, got %s", report.Groups[0].Kept.ID)
	}
	if report.AvgConfidenceKept != 85 {
		t.Errorf("expected avg confidence 85, got %v", report.AvgConfidenceKept)
	}

	if _, ok := store.records["c"]; !ok {
		t.Error("kept record must remain in the store")
	}
	if len(store.records) != 1 {
		t.Errorf("expected 1 surviving record, got %d", len(store.records))
	}
}

func TestDedupe_TieBreaksOnLowestID(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeDedupeStore(
		dupRecord("b", "lincoln-high", 85, base),
		dupRecord("a", "lincoln-high", 85, base),
	)

	report, err := NewDeduplicator(store).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Groups[0].Kept.ID != "a" {
		t.Errorf("expected lowest id kept on full tie, got %s", report.Groups[0].Kept.ID)
	}
}

func TestDedupe_SingleTransactionalDelete(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeDedupeStore(
		dupRecord("a1", "lincoln-high", 60, base),
		dupRecord("a2", "lincoln-high", 85, base),
		dupRecord("b1", "washington-high", 70, base),
		dupRecord("b2", "washington-high", 90, base),
	)

	_, err := NewDeduplicator(store).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.deletes) != 1 {
		t.Errorf("expected a single DeleteRecords call, got %d", len(store.deletes))
	}
	if len(store.deletes[0]) != 2 {
		t.Errorf("expected 2 ids in the delete set, got %d", len(store.deletes[0]))
	}
}

func TestDedupe_DryRun(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeDedupeStore(
		dupRecord("a", "lincoln-high", 60, base),
		dupRecord("b", "lincoln-high", 85, base),
	)

	report, err := NewDeduplicator(store).Run(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.DryRun {
		t.Error("report should be marked dry-run")
	}
	if report.RecordsRemoved != 1 {
		t.Errorf("dry run should report the same analysis, got %d removed", report.RecordsRemoved)
	}
	if len(store.deletes) != 0 {
		t.Error("dry run must not delete anything")
	}
	if len(store.records) != 2 {
		t.Errorf("dry run must not change the store, got %d records", len(store.records))
	}
}

func TestDedupe_Idempotent(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeDedupeStore(
		dupRecord("a", "lincoln-high", 60, base),
		dupRecord("b", "lincoln-high", 85, base.Add(time.Hour)),
		dupRecord("c", "lincoln-high", 85, base.Add(2*time.Hour)),
	)
	d := NewDeduplicator(store)

	first, err := d.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.RecordsRemoved != 2 {
		t.Fatalf("expected 2 removed on first pass, got %d", first.RecordsRemoved)
	}

	second, err := d.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.GroupsFound != 0 || second.RecordsRemoved != 0 {
		t.Errorf("second pass must be a no-op, got %+v", second)
	}
}

func TestDedupe_DeleteFailurePropagates(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeDedupeStore(
		dupRecord("a", "lincoln-high", 60, base),
		dupRecord("b", "lincoln-high", 85, base),
	)
	store.deleteErr = errors.New("disk full")

	_, err := NewDeduplicator(store).Run(context.Background(), false)
	if err == nil {
		t.Fatal("expected delete error to propagate")
	}
}

func TestDedupe_NoDuplicates(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeDedupeStore(
		dupRecord("a", "lincoln-high", 60, base),
		dupRecord("b", "washington-high", 85, base),
	)

	report, err := NewDeduplicator(store).Run(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.GroupsFound != 0 || report.RecordsRemoved != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
	if report.AvgConfidenceKept != 0 {
		t.Errorf("expected zero avg confidence, got %v", report.AvgConfidenceKept)
	}
}
