// Package ranking parses publisher ranking text into candidates and selects
// the best interpretation per scope. Ranking text on archived pages is
// duplicated and occasionally self-contradictory, so the parser collects
// every plausible match and decides by confidence rather than returning on
// the first hit.
package ranking

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/schoolscope/extract-cli/internal/model"
)

// rejectedRangeStart is a known parsing artifact: ranges that begin exactly
// at the bucket-2 lower boundary come from a previously-incorrect boundary
// constant in the publisher's truncated-range markup and are never genuine.
// Only this exact value is rejected; see DESIGN.md for why the heuristic is
// not extended to other boundaries.
const rejectedRangeStart = model.Bucket2Min

// rankPattern is one declarative entry in the pattern table: a regex, the
// capture groups holding the rank (and optional range end and state name),
// and the fixed precision/confidence/scope a match yields.
type rankPattern struct {
	re         *regexp.Regexp
	rankGroup  int
	endGroup   int // 0 = not a range
	stateGroup int // 0 = no state name captured
	precision  model.RankPrecision
	confidence float64
	scope      model.RankScope
}

// patternTable is evaluated uniformly, in order, collecting all matches.
// Confidence encodes how trustworthy each textual form has proven to be.
var patternTable = []rankPattern{
	// "#7 in the National Rankings"
	{
		re:         regexp.MustCompile(`#([\d,]+)\s+in\s+(?:the\s+)?National\s+Rankings`),
		rankGroup:  1,
		precision:  model.PrecisionExact,
		confidence: 95,
		scope:      model.ScopeNational,
	},
	// "ranked #420 nationally" / "ranked #420 in the nation"
	{
		re:         regexp.MustCompile(`(?i)ranked\s+#([\d,]+)\s+(?:nationally|in\s+the\s+nation)`),
		rankGroup:  1,
		precision:  model.PrecisionExact,
		confidence: 88,
		scope:      model.ScopeNational,
	},
	// "#13,427-17,901 in the National Rankings" (truncated-range form)
	{
		re:         regexp.MustCompile(`#([\d,]+)\s*-\s*#?([\d,]+)\s+in\s+(?:the\s+)?National\s+Rankings`),
		rankGroup:  1,
		endGroup:   2,
		precision:  model.PrecisionRange,
		confidence: 82,
		scope:      model.ScopeNational,
	},
	// "National Rank: #14,000-15,000"
	{
		re:         regexp.MustCompile(`(?i)national\s+rank(?:ing)?:?\s*#?([\d,]+)\s*-\s*#?([\d,]+)`),
		rankGroup:  1,
		endGroup:   2,
		precision:  model.PrecisionRange,
		confidence: 75,
		scope:      model.ScopeNational,
	},
	// "estimated national rank #15,200"
	{
		re:         regexp.MustCompile(`(?i)estimated\s+national\s+rank(?:ing)?:?\s*#?([\d,]+)`),
		rankGroup:  1,
		precision:  model.PrecisionEstimated,
		confidence: 70,
		scope:      model.ScopeNational,
	},
	// "#1 in South Carolina High Schools" — one textual form, two scopes:
	// an exact state candidate, and a weak state_only national candidate so
	// schools with no national text still classify into bucket 3.
	{
		re:         regexp.MustCompile(`#([\d,]+)\s+in\s+([A-Z][A-Za-z .]*?)\s+High\s+Schools`),
		rankGroup:  1,
		stateGroup: 2,
		precision:  model.PrecisionExact,
		confidence: 90,
		scope:      model.ScopeState,
	},
	{
		re:         regexp.MustCompile(`#([\d,]+)\s+in\s+([A-Z][A-Za-z .]*?)\s+High\s+Schools`),
		rankGroup:  1,
		stateGroup: 2,
		precision:  model.PrecisionStateOnly,
		confidence: 55,
		scope:      model.ScopeNational,
	},
	// "ranked 5th within Texas"
	{
		re:         regexp.MustCompile(`(?i)ranked\s+#?([\d,]+)(?:st|nd|rd|th)?\s+within\s+([A-Z][A-Za-z .]+?)\b`),
		rankGroup:  1,
		stateGroup: 2,
		precision:  model.PrecisionExact,
		confidence: 80,
		scope:      model.ScopeState,
	},
}

// Result is the reduced parse output: at most one candidate per scope, plus
// the state name when any state pattern matched.
type Result struct {
	National  *model.RankingCandidate
	State     *model.RankingCandidate
	StateName string
}

// Parser turns ranking text blobs into per-scope candidates.
type Parser struct {
	patterns []rankPattern
	titler   cases.Caser
}

// NewParser builds a parser over the default pattern table.
func NewParser() *Parser {
	return &Parser{
		patterns: patternTable,
		titler:   cases.Title(language.AmericanEnglish),
	}
}

// Parse collects all candidates from text and selects the best per scope by
// confidence, tie-broken by precision (exact > range > state_only >
// estimated).
func (p *Parser) Parse(text string) Result {
	var national, state []model.RankingCandidate
	var stateName string

	for _, pat := range p.patterns {
		for _, m := range pat.re.FindAllStringSubmatch(text, -1) {
			c, name, ok := p.candidateFrom(pat, m)
			if !ok {
				continue
			}
			if name != "" && stateName == "" {
				stateName = name
			}
			switch c.Scope {
			case model.ScopeNational:
				national = append(national, c)
			case model.ScopeState:
				state = append(state, c)
			}
		}
	}

	return Result{
		National:  selectBest(national),
		State:     selectBest(state),
		StateName: stateName,
	}
}

func (p *Parser) candidateFrom(pat rankPattern, m []string) (model.RankingCandidate, string, bool) {
	rank, ok := parseRank(m[pat.rankGroup])
	if !ok {
		return model.RankingCandidate{}, "", false
	}

	c := model.RankingCandidate{
		Rank:       rank,
		Precision:  pat.precision,
		Confidence: pat.confidence,
		Scope:      pat.scope,
	}

	if pat.endGroup > 0 {
		end, ok := parseRank(m[pat.endGroup])
		if !ok || end < rank {
			return model.RankingCandidate{}, "", false
		}
		c.RankEnd = end

		if rank == rejectedRangeStart {
			zap.L().Debug("ranking: rejected boundary-artifact range",
				zap.Int("rank", rank),
				zap.Int("rank_end", end),
			)
			return model.RankingCandidate{}, "", false
		}
	}

	var name string
	if pat.stateGroup > 0 {
		name = p.titler.String(strings.ToLower(strings.TrimSpace(m[pat.stateGroup])))
	}
	return c, name, true
}

// selectBest reduces candidates to the single winner for a scope. Sorting is
// stable on (confidence desc, precision desc, rank asc) so equal-confidence
// duplicates resolve deterministically.
func selectBest(cs []model.RankingCandidate) *model.RankingCandidate {
	if len(cs) == 0 {
		return nil
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Confidence != cs[j].Confidence {
			return cs[i].Confidence > cs[j].Confidence
		}
		if cs[i].Precision.TieBreak() != cs[j].Precision.TieBreak() {
			return cs[i].Precision.TieBreak() > cs[j].Precision.TieBreak()
		}
		return cs[i].Rank < cs[j].Rank
	})
	best := cs[0]
	return &best
}

func parseRank(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
