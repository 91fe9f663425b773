package model

// RankPrecision describes how exact an extracted rank is.
type RankPrecision string

const (
	PrecisionExact     RankPrecision = "exact"
	PrecisionRange     RankPrecision = "range"
	PrecisionEstimated RankPrecision = "estimated"
	PrecisionStateOnly RankPrecision = "state_only"
)

// precisionRank orders precisions for tie-breaking: exact > range >
// state_only > estimated.
var precisionRank = map[RankPrecision]int{
	PrecisionExact:     4,
	PrecisionRange:     3,
	PrecisionStateOnly: 2,
	PrecisionEstimated: 1,
}

// TieBreak returns the tie-break ordering weight of a precision.
func (p RankPrecision) TieBreak() int {
	return precisionRank[p]
}

// RankScope distinguishes national from state rankings.
type RankScope string

const (
	ScopeNational RankScope = "national"
	ScopeState    RankScope = "state"
)

// RankingCandidate is one plausible interpretation of ranking text. It is
// ephemeral: the parser reduces all candidates to at most one per scope.
type RankingCandidate struct {
	Rank       int           `json:"rank"`
	RankEnd    int           `json:"rank_end,omitempty"` // for ranges; >= Rank
	Precision  RankPrecision `json:"precision"`
	Confidence float64       `json:"confidence"` // 0-100
	Scope      RankScope     `json:"scope"`
}

// Ranking bucket boundaries. These encode the source ranking system's
// published methodology and must not change without upstream confirmation.
const (
	Bucket1Max = 13426 // exact ranks, globally unique per scope
	Bucket2Min = 13427 // range-estimated, duplicates permitted
	Bucket2Max = 17901
)

// RankBucket classifies a rank by the source-defined numeric ranges.
// Bucket 1 ranks must be unique per scope; bucket 2 ranks are range
// estimates where duplicates are expected; bucket 3 is everything beyond,
// including state-only rankings.
func RankBucket(rank int, precision RankPrecision) int {
	if precision == PrecisionStateOnly {
		return 3
	}
	switch {
	case rank >= 1 && rank <= Bucket1Max:
		return 1
	case rank >= Bucket2Min && rank <= Bucket2Max:
		return 2
	default:
		return 3
	}
}
