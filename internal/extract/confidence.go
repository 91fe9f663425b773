package extract

import "github.com/schoolscope/extract-cli/internal/model"

// categories in reporting order.
var categories = []string{
	CategoryIdentity,
	CategoryLocation,
	CategoryEnrollment,
	CategoryRankings,
	CategoryAcademics,
	CategoryDemographics,
	CategorySocioeconomic,
}

// ScoreCategories computes per-category and overall confidence for a field
// map. A category's score is the maximum confidence among its populated
// fields: one strong field is evidence the category is reliably present even
// when sibling fields are legitimately absent. The overall score is the mean
// of non-zero category scores. Pure function of its inputs.
func ScoreCategories(fields map[string]model.FieldValue, reg *Registry) (map[string]float64, float64) {
	perCategory := make(map[string]float64, len(categories))
	for _, c := range categories {
		perCategory[c] = 0
	}

	for key, fv := range fields {
		if fv.Value == nil || fv.Confidence <= 0 {
			continue
		}
		cat := reg.Category(key)
		if cat == "" {
			cat = rankingCategory(key)
		}
		if cat == "" {
			continue
		}
		if fv.Confidence > perCategory[cat] {
			perCategory[cat] = fv.Confidence
		}
	}

	var sum float64
	var populated int
	for _, c := range categories {
		if perCategory[c] > 0 {
			sum += perCategory[c]
			populated++
		}
	}
	if populated == 0 {
		return perCategory, 0
	}
	return perCategory, sum / float64(populated)
}

// rankingCategory maps the rank fields, which are produced by the ranking
// parser rather than declared in the registry.
func rankingCategory(key string) string {
	switch key {
	case "national_rank", "national_rank_end", "national_rank_precision",
		"state_rank", "state_rank_precision":
		return CategoryRankings
	}
	return ""
}
