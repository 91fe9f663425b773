// Package store persists extracted records and answers the cross-record
// queries the validators need. Rank fields are denormalized into columns so
// uniqueness checks stay indexed as the dataset grows.
package store

import (
	"context"

	"github.com/schoolscope/extract-cli/internal/model"
	"github.com/schoolscope/extract-cli/internal/resilience"
)

// Store defines the persistence interface for the extraction engine.
type Store interface {
	// SaveRecord inserts a finalized record. Records are immutable once
	// saved; re-extraction inserts a new record and the deduplicator
	// resolves the duplicates.
	SaveRecord(ctx context.Context, rec *model.ExtractedRecord) error
	// GetRecord returns the record with the given id, or (nil, nil) when no
	// such record exists.
	GetRecord(ctx context.Context, id string) (*model.ExtractedRecord, error)

	// ListByNaturalKey returns all records for one (slug, year) pair.
	ListByNaturalKey(ctx context.Context, key model.NaturalKey) ([]model.ExtractedRecord, error)

	// FindByExactRank returns records holding the given exact-precision
	// rank in the given scope and ranking year. Range and estimated
	// precisions are excluded.
	FindByExactRank(ctx context.Context, scope model.RankScope, rank, year int) ([]model.ExtractedRecord, error)

	// ListDuplicateKeys returns every natural key held by more than one
	// record.
	ListDuplicateKeys(ctx context.Context) ([]model.NaturalKey, error)

	// DeleteRecords removes the given records in a single transaction;
	// either all are removed or none.
	DeleteRecords(ctx context.Context, ids []string) error

	// CountByStatus returns record counts grouped by status.
	CountByStatus(ctx context.Context) (map[model.RecordStatus]int, error)

	// Quarantine. Documents that fail to load or persist are kept with
	// their error classification so failures stay auditable and transient
	// ones can be retried.
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
