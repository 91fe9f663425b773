package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolscope/extract-cli/internal/model"
	"github.com/schoolscope/extract-cli/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRecord(id, slug string, year int) *model.ExtractedRecord {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.ExtractedRecord{
		ID:  id,
		Key: model.NaturalKey{Slug: slug, Year: year},
		Fields: map[string]model.FieldValue{
			"name": {Value: "Test High School", Confidence: 98, Tier: 1, Source: "jsonld:name"},
		},
		CategoryConfidence: map[string]float64{"identity": 98},
		OverallConfidence:  98,
		Status:             model.StatusExtracted,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func rankedTestRecord(id, slug string, year, rank int, precision model.RankPrecision) *model.ExtractedRecord {
	rec := testRecord(id, slug, year)
	rec.Fields["national_rank"] = model.FieldValue{Value: rank, Confidence: 95, Tier: 3}
	rec.Fields["national_rank_precision"] = model.FieldValue{Value: string(precision), Confidence: 95, Tier: 3}
	return rec
}

func TestSQLite_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := testRecord("r1", "test-high", 2024)
	rec.Errors = []model.SoftError{{Field: "zip", Reason: "no match"}}
	require.NoError(t, st.SaveRecord(ctx, rec))

	got, err := st.GetRecord(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "test-high", got.Key.Slug)
	assert.Equal(t, 2024, got.Key.Year)
	assert.Equal(t, 98.0, got.OverallConfidence)
	assert.Equal(t, model.StatusExtracted, got.Status)
	assert.Len(t, got.Errors, 1)

	name := got.Fields["name"]
	assert.Equal(t, "Test High School", name.Value)
	assert.Equal(t, 98.0, name.Confidence)
	assert.Equal(t, 1, name.Tier)
}

func TestSQLite_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetRecord(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_ListByNaturalKey(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRecord(ctx, testRecord("r1", "test-high", 2024)))
	require.NoError(t, st.SaveRecord(ctx, testRecord("r2", "test-high", 2024)))
	require.NoError(t, st.SaveRecord(ctx, testRecord("r3", "test-high", 2023)))
	require.NoError(t, st.SaveRecord(ctx, testRecord("r4", "other-high", 2024)))

	recs, err := st.ListByNaturalKey(ctx, model.NaturalKey{Slug: "test-high", Year: 2024})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestSQLite_FindByExactRank(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRecord(ctx, rankedTestRecord("r1", "first-high", 2024, 5, model.PrecisionExact)))
	require.NoError(t, st.SaveRecord(ctx, rankedTestRecord("r2", "range-high", 2024, 5, model.PrecisionRange)))
	require.NoError(t, st.SaveRecord(ctx, rankedTestRecord("r3", "other-high", 2024, 6, model.PrecisionExact)))
	require.NoError(t, st.SaveRecord(ctx, testRecord("r4", "unranked-high", 2024)))
	require.NoError(t, st.SaveRecord(ctx, rankedTestRecord("r5", "prior-year-high", 2023, 5, model.PrecisionExact)))

	recs, err := st.FindByExactRank(ctx, model.ScopeNational, 5, 2024)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "first-high", recs[0].Key.Slug)

	rank, ok := recs[0].FieldInt("national_rank")
	assert.True(t, ok)
	assert.Equal(t, 5, rank)
}

func TestSQLite_ListDuplicateKeys(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRecord(ctx, testRecord("r1", "dup-high", 2024)))
	require.NoError(t, st.SaveRecord(ctx, testRecord("r2", "dup-high", 2024)))
	require.NoError(t, st.SaveRecord(ctx, testRecord("r3", "solo-high", 2024)))

	keys, err := st.ListDuplicateKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, model.NaturalKey{Slug: "dup-high", Year: 2024}, keys[0])
}

func TestSQLite_DeleteRecords(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRecord(ctx, testRecord("r1", "dup-high", 2024)))
	require.NoError(t, st.SaveRecord(ctx, testRecord("r2", "dup-high", 2024)))
	require.NoError(t, st.SaveRecord(ctx, testRecord("r3", "dup-high", 2024)))

	require.NoError(t, st.DeleteRecords(ctx, []string{"r1", "r2"}))

	recs, err := st.ListByNaturalKey(ctx, model.NaturalKey{Slug: "dup-high", Year: 2024})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r3", recs[0].ID)
}

func TestSQLite_DeleteRecords_AllOrNothing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveRecord(ctx, testRecord("r1", "dup-high", 2024)))

	// One missing id fails the whole transaction; r1 survives.
	err := st.DeleteRecords(ctx, []string{"r1", "ghost"})
	require.Error(t, err)

	got, err := st.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSQLite_DeleteRecords_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.DeleteRecords(context.Background(), nil))
}

func TestSQLite_CountByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r1 := testRecord("r1", "a-high", 2024)
	r2 := testRecord("r2", "b-high", 2024)
	r2.Status = model.StatusLowConfidence
	r3 := testRecord("r3", "c-high", 2024)
	r3.Status = model.StatusMalformed
	r4 := testRecord("r4", "d-high", 2024)

	for _, r := range []*model.ExtractedRecord{r1, r2, r3, r4} {
		require.NoError(t, st.SaveRecord(ctx, r))
	}

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StatusExtracted])
	assert.Equal(t, 1, counts[model.StatusLowConfidence])
	assert.Equal(t, 1, counts[model.StatusMalformed])
}

func TestSQLite_DLQRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
		Path:        "captures/one-high-2024.html",
		Slug:        "one-high",
		Year:        2024,
		Error:       "connection reset by peer",
		ErrorType:   "transient",
		FailedPhase: "load",
		MaxRetries:  3,
	}))
	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
		Path:        "captures/two-high-2024.html",
		Slug:        "two-high",
		Year:        2024,
		Error:       "no such file",
		ErrorType:   "permanent",
		FailedPhase: "load",
		MaxRetries:  3,
	}))

	count, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// The store fills in id and timestamps.
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())
	assert.True(t, entries[0].CanRetry())

	transient, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, transient, 1)
	assert.Equal(t, "one-high", transient[0].Slug)
	assert.Equal(t, "load", transient[0].FailedPhase)

	require.NoError(t, st.RemoveDLQ(ctx, transient[0].ID))
	count, err = st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLite_EnqueueDLQUpsertsByID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	entry := resilience.DLQEntry{
		ID:         "dlq-1",
		Path:       "captures/one-high-2024.html",
		Slug:       "one-high",
		Year:       2024,
		Error:      "database is locked",
		ErrorType:  "transient",
		MaxRetries: 3,
	}
	require.NoError(t, st.EnqueueDLQ(ctx, entry))

	entry.RetryCount = 1
	entry.Error = "database is locked again"
	require.NoError(t, st.EnqueueDLQ(ctx, entry))

	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.Equal(t, "database is locked again", entries[0].Error)
}
