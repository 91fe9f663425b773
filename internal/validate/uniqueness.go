// Package validate enforces cross-record consistency over the accumulating
// dataset: exact national ranks are unique within a year, and each natural key keeps
// exactly one record after deduplication. Conflicts penalize confidence and
// are recorded for review; data is never silently dropped.
package validate

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/schoolscope/extract-cli/internal/model"
)

// Confidence penalties per conflict type. Negative: conflicts reduce trust
// in the later-processed record, they never remove it.
const (
	duplicateRankPenalty    = -15.0
	impossibleBucketPenalty = -10.0
)

// ConflictFinder is the narrow store view the validator needs, so tests run
// against an in-memory fake.
type ConflictFinder interface {
	FindByExactRank(ctx context.Context, scope model.RankScope, rank, year int) ([]model.ExtractedRecord, error)
}

// UniquenessValidator checks a newly extracted record against the dataset
// before it is persisted.
type UniquenessValidator struct {
	finder ConflictFinder
}

// NewUniquenessValidator creates a validator over the given store view.
func NewUniquenessValidator(finder ConflictFinder) *UniquenessValidator {
	return &UniquenessValidator{finder: finder}
}

// FindConflicts returns all conflicts the record would introduce. Bucket-1
// exact national ranks must be unique within a ranking year; a different
// school already holding the same rank that year is a duplicate_exact_rank
// conflict. An exact
// precision claim inside the range-estimated bucket is impossible by the
// ranking methodology. Range and estimated duplicates are expected and
// never flagged.
func (v *UniquenessValidator) FindConflicts(ctx context.Context, rec *model.ExtractedRecord) ([]model.ValidationConflict, error) {
	rank, ok := rec.FieldInt("national_rank")
	if !ok {
		return nil, nil
	}
	precision, _ := rec.FieldString("national_rank_precision")
	if model.RankPrecision(precision) != model.PrecisionExact {
		return nil, nil
	}

	var conflicts []model.ValidationConflict

	bucket := model.RankBucket(rank, model.PrecisionExact)
	if bucket != 1 {
		conflicts = append(conflicts, model.ValidationConflict{
			ConflictingKey:       rec.Key,
			Rank:                 rank,
			Scope:                model.ScopeNational,
			Type:                 model.ConflictImpossibleBucket,
			ConfidenceAdjustment: impossibleBucketPenalty,
		})
		return conflicts, nil
	}

	// Rankings are published per year, so a rank is only contested within
	// the record's own year. The same school appearing across years is
	// normal churn, and a different school may legitimately hold the same
	// rank the year after.
	existing, err := v.finder.FindByExactRank(ctx, model.ScopeNational, rank, rec.Key.Year)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: find rank %d", rank)
	}

	for _, other := range existing {
		if other.Key.Slug == rec.Key.Slug {
			// Re-captures of the same school are the deduplicator's
			// problem, not a rank conflict.
			continue
		}
		conflicts = append(conflicts, model.ValidationConflict{
			ConflictingKey:       other.Key,
			Rank:                 rank,
			Scope:                model.ScopeNational,
			Type:                 model.ConflictDuplicateExactRank,
			ConfidenceAdjustment: duplicateRankPenalty,
		})
	}

	return conflicts, nil
}

// Penalize applies conflicts to a not-yet-persisted record: each conflict
// adjusts overall confidence and is recorded as a soft error. Returns the
// number of conflicts applied.
func Penalize(rec *model.ExtractedRecord, conflicts []model.ValidationConflict) int {
	for _, c := range conflicts {
		rec.OverallConfidence += c.ConfidenceAdjustment
		if rec.OverallConfidence < 0 {
			rec.OverallConfidence = 0
		}
		rec.Errors = append(rec.Errors, model.SoftError{
			Field:  "national_rank",
			Reason: string(c.Type) + ": rank " + strconv.Itoa(c.Rank) + " also held by " + c.ConflictingKey.Slug,
		})
		zap.L().Warn("validate: ranking conflict",
			zap.String("slug", rec.Key.Slug),
			zap.Int("year", rec.Key.Year),
			zap.Int("rank", c.Rank),
			zap.String("type", string(c.Type)),
			zap.String("conflicting_slug", c.ConflictingKey.Slug),
			zap.Float64("adjustment", c.ConfidenceAdjustment),
		)
	}
	if len(conflicts) > 0 {
		rec.Status = model.DeriveStatus(rec.OverallConfidence)
	}
	return len(conflicts)
}
