package extract

import (
	"testing"

	"github.com/schoolscope/extract-cli/internal/model"
)

func TestScoreCategories_MaxPerCategory(t *testing.T) {
	reg := SchoolFields()
	fields := map[string]model.FieldValue{
		"name":        {Value: "Test High", Confidence: 98},
		"school_type": {Value: "public", Confidence: 72},
		"city":        {Value: "Austin", Confidence: 90},
		"zip":         {Value: "78701", Confidence: 70},
	}

	perCat, overall := ScoreCategories(fields, reg)

	if perCat[CategoryIdentity] != 98 {
		t.Errorf("identity should be the max of its fields, got %v", perCat[CategoryIdentity])
	}
	if perCat[CategoryLocation] != 90 {
		t.Errorf("location should be the max of its fields, got %v", perCat[CategoryLocation])
	}
	if perCat[CategoryAcademics] != 0 {
		t.Errorf("empty category should score 0, got %v", perCat[CategoryAcademics])
	}

	// Overall is the mean of populated categories only.
	want := (98.0 + 90.0) / 2
	if overall != want {
		t.Errorf("overall = %v, want %v", overall, want)
	}
}

func TestScoreCategories_RankFields(t *testing.T) {
	reg := SchoolFields()
	fields := map[string]model.FieldValue{
		"national_rank":           {Value: 7, Confidence: 95},
		"national_rank_precision": {Value: "exact", Confidence: 95},
		"state_rank":              {Value: 1, Confidence: 90},
	}

	perCat, overall := ScoreCategories(fields, reg)
	if perCat[CategoryRankings] != 95 {
		t.Errorf("rankings category = %v, want 95", perCat[CategoryRankings])
	}
	if overall != 95 {
		t.Errorf("overall = %v, want 95", overall)
	}
}

func TestScoreCategories_Empty(t *testing.T) {
	reg := SchoolFields()

	perCat, overall := ScoreCategories(map[string]model.FieldValue{}, reg)
	if overall != 0 {
		t.Errorf("empty fields should score 0 overall, got %v", overall)
	}
	for cat, score := range perCat {
		if score != 0 {
			t.Errorf("category %s should score 0, got %v", cat, score)
		}
	}
}

func TestScoreCategories_IgnoresZeroConfidence(t *testing.T) {
	reg := SchoolFields()
	fields := map[string]model.FieldValue{
		"name": {Value: "Test High", Confidence: 0},
		"city": {Value: nil, Confidence: 90},
	}

	_, overall := ScoreCategories(fields, reg)
	if overall != 0 {
		t.Errorf("zero-confidence and nil values must not score, got %v", overall)
	}
}

func TestScoreCategories_Pure(t *testing.T) {
	reg := SchoolFields()
	fields := map[string]model.FieldValue{
		"name": {Value: "Test High", Confidence: 98},
		"city": {Value: "Austin", Confidence: 90},
	}

	_, first := ScoreCategories(fields, reg)
	for i := 0; i < 10; i++ {
		_, again := ScoreCategories(fields, reg)
		if again != first {
			t.Fatalf("iteration %d: overall changed from %v to %v", i, first, again)
		}
	}
	if len(fields) != 2 {
		t.Error("scoring must not mutate its input")
	}
}
