package extract

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schoolscope/extract-cli/internal/model"
	"github.com/schoolscope/extract-cli/internal/ranking"
)

// rankingSelectors locate the page regions whose text feeds the ranking
// parser, tried in order. The whole-document text is the fallback: ranking
// text is duplicated across publisher layouts and sometimes lives outside
// any dedicated section.
var rankingSelectors = []string{
	"[data-testid='rankings-section']",
	".rankings-list",
	".profile-header__rankings",
}

// Extractor runs the tiered extraction chain over parsed documents. It is
// stateless and safe for concurrent use by any number of workers.
type Extractor struct {
	registry *Registry
	ranks    *ranking.Parser
}

// New creates an Extractor over the given field registry.
func New(registry *Registry) *Extractor {
	return &Extractor{
		registry: registry,
		ranks:    ranking.NewParser(),
	}
}

// Extract converts one captured document into a record. It never returns an
// error: malformed input degrades to a zero-confidence record with a
// populated error list so a batch is never halted by one bad page.
func (e *Extractor) Extract(in DocumentInput) *model.ExtractedRecord {
	now := time.Now().UTC()
	rec := &model.ExtractedRecord{
		ID:        uuid.New().String(),
		Key:       model.NaturalKey{Slug: in.Slug, Year: in.Year},
		Fields:    make(map[string]model.FieldValue),
		CreatedAt: now,
		UpdatedAt: now,
	}

	doc, err := ParseDocument(in)
	if err != nil {
		zap.L().Warn("extract: malformed document",
			zap.String("document_id", in.ID),
			zap.String("slug", in.Slug),
			zap.Error(err),
		)
		rec.Status = model.StatusMalformed
		rec.Errors = append(rec.Errors, model.SoftError{Field: "_document", Reason: err.Error()})
		rec.CategoryConfidence, rec.OverallConfidence = ScoreCategories(rec.Fields, e.registry)
		return rec
	}

	specs := e.registry.Specs()
	for i := range specs {
		spec := &specs[i]
		fv, softErr := e.extractField(doc, spec)
		if fv != nil {
			rec.Fields[spec.Key] = *fv
		}
		if softErr != nil {
			rec.Errors = append(rec.Errors, *softErr)
			if spec.Critical {
				// Identity fields escalate: the record proceeds but is
				// surfaced rather than silently sparse.
				zap.L().Error("extract: critical field missing",
					zap.String("document_id", in.ID),
					zap.String("slug", in.Slug),
					zap.String("field", spec.Key),
				)
			}
		}
	}

	e.extractRankings(doc, rec)

	rec.CategoryConfidence, rec.OverallConfidence = ScoreCategories(rec.Fields, e.registry)
	rec.Status = model.DeriveStatus(rec.OverallConfidence)
	if e.missingCritical(rec) {
		rec.Status = model.StatusLowConfidence
	}
	return rec
}

// extractField walks the strategy chain and returns the first validated
// value. Missing non-critical fields are silent; only validation failures
// and missing critical fields produce soft errors, to avoid flooding the
// error list on legitimately sparse documents.
func (e *Extractor) extractField(doc *Document, spec *FieldSpec) (*model.FieldValue, *model.SoftError) {
	var lastInvalid error

	for _, strat := range spec.Strategies {
		raw, ok := strat.Extract(doc)
		if !ok {
			continue
		}
		val, err := ValidateValue(spec, raw)
		if err != nil {
			// An out-of-range match at one tier lets weaker tiers try.
			lastInvalid = err
			continue
		}
		return &model.FieldValue{
			Value:      val,
			Confidence: strat.Confidence(),
			Tier:       strat.Tier(),
			Source:     strat.Source(),
		}, nil
	}

	if lastInvalid != nil {
		return nil, &model.SoftError{Field: spec.Key, Reason: lastInvalid.Error()}
	}
	if spec.Critical {
		return nil, &model.SoftError{Field: spec.Key, Reason: "critical field not found"}
	}
	return nil, nil
}

// extractRankings feeds ranking text through the candidate parser and maps
// the per-scope winners into rank fields.
func (e *Extractor) extractRankings(doc *Document, rec *model.ExtractedRecord) {
	text := ""
	for _, sel := range rankingSelectors {
		if t := collapseSpace(doc.Find(sel).Text()); t != "" {
			text = t
			break
		}
	}
	if text == "" {
		text = doc.Text()
	}

	res := e.ranks.Parse(text)

	if c := res.National; c != nil {
		rec.Fields["national_rank"] = model.FieldValue{
			Value: c.Rank, Confidence: c.Confidence, Tier: TierPattern, Source: "ranking:national",
		}
		rec.Fields["national_rank_precision"] = model.FieldValue{
			Value: string(c.Precision), Confidence: c.Confidence, Tier: TierPattern, Source: "ranking:national",
		}
		if c.RankEnd > 0 {
			rec.Fields["national_rank_end"] = model.FieldValue{
				Value: c.RankEnd, Confidence: c.Confidence, Tier: TierPattern, Source: "ranking:national",
			}
		}
	}
	if c := res.State; c != nil {
		rec.Fields["state_rank"] = model.FieldValue{
			Value: c.Rank, Confidence: c.Confidence, Tier: TierPattern, Source: "ranking:state",
		}
		rec.Fields["state_rank_precision"] = model.FieldValue{
			Value: string(c.Precision), Confidence: c.Confidence, Tier: TierPattern, Source: "ranking:state",
		}
	}

	// A state name captured from ranking text backfills the location field
	// on pages with no address markup.
	if res.StateName != "" {
		if _, ok := rec.Fields["state"]; !ok {
			rec.Fields["state"] = model.FieldValue{
				Value: res.StateName, Confidence: 70, Tier: TierPattern, Source: "ranking:state-name",
			}
		}
	}
}

func (e *Extractor) missingCritical(rec *model.ExtractedRecord) bool {
	for _, spec := range e.registry.Specs() {
		if !spec.Critical {
			continue
		}
		if _, ok := rec.Fields[spec.Key]; !ok {
			return true
		}
	}
	return false
}

// Describe summarizes a record for logs.
func Describe(rec *model.ExtractedRecord) string {
	return fmt.Sprintf("%s/%d status=%s overall=%.1f fields=%d errors=%d",
		rec.Key.Slug, rec.Key.Year, rec.Status, rec.OverallConfidence, len(rec.Fields), len(rec.Errors))
}
