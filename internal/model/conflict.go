package model

// ConflictType classifies a cross-record validation conflict.
type ConflictType string

const (
	ConflictDuplicateExactRank ConflictType = "duplicate_exact_rank"
	ConflictImpossibleBucket   ConflictType = "impossible_bucket"
)

// ValidationConflict reports a cross-record consistency violation. It is
// attached to the offending record's soft errors and logged, never persisted
// as its own entity.
type ValidationConflict struct {
	ConflictingKey       NaturalKey   `json:"conflicting_key"`
	Rank                 int          `json:"rank"`
	Scope                RankScope    `json:"scope"`
	Type                 ConflictType `json:"type"`
	ConfidenceAdjustment float64      `json:"confidence_adjustment"` // signed
}
