package extract

import (
	"testing"

	"github.com/schoolscope/extract-cli/internal/model"
)

const profileFixture = `<!DOCTYPE html>
<html><head>
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "HighSchool",
  "name": "Academic Magnet High School",
  "telephone": "(843) 746-1300",
  "numberOfStudents": 647,
  "address": {
    "@type": "PostalAddress",
    "streetAddress": "5109-A W Enterprise St",
    "addressLocality": "North Charleston",
    "addressRegion": "SC",
    "postalCode": "29405"
  }
}
</script>
</head><body>
<h1 class="profile-header__name">Academic Magnet High School</h1>
<div class="profile-header__type">Magnet</div>
<div data-testid="rankings-section">
  ranked #7 in the National Rankings #1 in South Carolina High Schools
</div>
<div data-testid="enrollment"><span class="stat-value">647 students</span></div>
<div data-testid="graduation-rate"><span class="stat-value">99%</span></div>
<p>The student-teacher ratio of 16:1 and an enrollment of 647 place it among smaller magnets.</p>
</body></html>`

func extractFixture(t *testing.T, slug string, html string) *model.ExtractedRecord {
	t.Helper()
	e := New(SchoolFields())
	return e.Extract(DocumentInput{
		ID:   "doc-1",
		Slug: slug,
		Year: 2024,
		HTML: []byte(html),
	})
}

func TestExtract_StructuredDataTier(t *testing.T) {
	rec := extractFixture(t, "academic-magnet-high-school", profileFixture)

	name := rec.Fields["name"]
	if name.Value != "Academic Magnet High School" {
		t.Fatalf("unexpected name: %v", name.Value)
	}
	if name.Tier != TierStructured {
		t.Errorf("expected structured-data tier, got %d", name.Tier)
	}
	if name.Confidence != 98 {
		t.Errorf("expected confidence 98, got %v", name.Confidence)
	}

	if city := rec.Fields["city"]; city.Value != "North Charleston" {
		t.Errorf("unexpected city: %v", city.Value)
	}
	if zip := rec.Fields["zip"]; zip.Value != "29405" {
		t.Errorf("unexpected zip: %v", zip.Value)
	}
	if enrollment, ok := rec.FieldInt("enrollment"); !ok || enrollment != 647 {
		t.Errorf("unexpected enrollment: %v", rec.Fields["enrollment"].Value)
	}
}

func TestExtract_SelectorTierWhenNoStructuredData(t *testing.T) {
	html := `<html><body>
<h1 class="profile-header__name">Lincoln High School</h1>
<div data-testid="graduation-rate"><span class="stat-value">87%</span></div>
</body></html>`
	rec := extractFixture(t, "lincoln-high-school", html)

	name := rec.Fields["name"]
	if name.Value != "Lincoln High School" {
		t.Fatalf("unexpected name: %v", name.Value)
	}
	if name.Tier != TierSelector {
		t.Errorf("expected selector tier, got %d", name.Tier)
	}
	if name.Confidence != 95 {
		t.Errorf("expected confidence 95, got %v", name.Confidence)
	}

	grad := rec.Fields["graduation_rate"]
	if grad.Value != 87.0 {
		t.Errorf("unexpected graduation rate: %v", grad.Value)
	}
}

func TestExtract_PatternTierFallback(t *testing.T) {
	html := `<html><body>
<h1>Jefferson High</h1>
<p>A public school serving the valley, with an enrollment of 1,094 and a
graduation rate of 92.5%.</p>
</body></html>`
	rec := extractFixture(t, "jefferson-high", html)

	enrollment := rec.Fields["enrollment"]
	if enrollment.Value != 1094 {
		t.Fatalf("unexpected enrollment: %v", enrollment.Value)
	}
	if enrollment.Tier != TierPattern {
		t.Errorf("expected pattern tier, got %d", enrollment.Tier)
	}

	grad := rec.Fields["graduation_rate"]
	if grad.Value != 92.5 {
		t.Errorf("unexpected graduation rate: %v", grad.Value)
	}

	// The bare <h1> selector is the weakest selector in the chain.
	name := rec.Fields["name"]
	if name.Value != "Jefferson High" || name.Confidence != 72 {
		t.Errorf("unexpected name extraction: %+v", name)
	}
}

func TestExtract_InvalidHighTierValueFallsThrough(t *testing.T) {
	html := `<html><body>
<h1>Overflow High</h1>
<div data-testid="enrollment"><span class="stat-value">999,999</span></div>
<p>Records list an enrollment of 1,500 for the current year.</p>
</body></html>`
	rec := extractFixture(t, "overflow-high", html)

	enrollment := rec.Fields["enrollment"]
	if enrollment.Value != 1500 {
		t.Fatalf("expected pattern fallback value 1500, got %v", enrollment.Value)
	}
	if enrollment.Tier != TierPattern {
		t.Errorf("expected pattern tier after invalid selector value, got %d", enrollment.Tier)
	}
}

func TestExtract_Rankings(t *testing.T) {
	rec := extractFixture(t, "academic-magnet-high-school", profileFixture)

	if rank, ok := rec.FieldInt("national_rank"); !ok || rank != 7 {
		t.Fatalf("expected national rank 7, got %v", rec.Fields["national_rank"].Value)
	}
	if prec, _ := rec.FieldString("national_rank_precision"); prec != "exact" {
		t.Errorf("expected exact national precision, got %q", prec)
	}
	if rank, ok := rec.FieldInt("state_rank"); !ok || rank != 1 {
		t.Errorf("expected state rank 1, got %v", rec.Fields["state_rank"].Value)
	}
}

func TestExtract_StateNameBackfill(t *testing.T) {
	html := `<html><body>
<h1>Rural High</h1>
<div class="rankings-list">#3 in Montana High Schools</div>
</body></html>`
	rec := extractFixture(t, "rural-high", html)

	state, ok := rec.FieldString("state")
	if !ok || state != "Montana" {
		t.Errorf("expected state backfill Montana, got %q", state)
	}
	if rec.Fields["state"].Confidence != 70 {
		t.Errorf("expected backfill confidence 70, got %v", rec.Fields["state"].Confidence)
	}
}

func TestExtract_MalformedDocument(t *testing.T) {
	rec := extractFixture(t, "broken", "   ")

	if rec.Status != model.StatusMalformed {
		t.Fatalf("expected malformed status, got %s", rec.Status)
	}
	if rec.OverallConfidence != 0 {
		t.Errorf("expected zero confidence, got %v", rec.OverallConfidence)
	}
	if len(rec.Errors) == 0 {
		t.Fatal("expected a document error")
	}
	if rec.Errors[0].Field != "_document" {
		t.Errorf("expected _document error, got %s", rec.Errors[0].Field)
	}
	if rec.Key.Slug != "broken" || rec.Key.Year != 2024 {
		t.Errorf("malformed record must keep its natural key, got %+v", rec.Key)
	}
}

func TestExtract_SparsePageIsNotMalformed(t *testing.T) {
	// Parses fine, extracts nothing: sparse, not a bad capture.
	html := `<html><body><p>Welcome to our homepage.</p></body></html>`
	rec := extractFixture(t, "sparse", html)

	if rec.Status == model.StatusMalformed {
		t.Fatal("parse-clean page must not be labeled malformed")
	}
	if rec.Status != model.StatusLowConfidence {
		t.Errorf("expected low_confidence, got %s", rec.Status)
	}
	if rec.OverallConfidence != 0 {
		t.Errorf("expected zero confidence, got %v", rec.OverallConfidence)
	}
}

func TestExtract_MissingCriticalField(t *testing.T) {
	html := `<html><body><p>enrollment of 800</p></body></html>`
	rec := extractFixture(t, "nameless", html)

	if rec.Status != model.StatusLowConfidence {
		t.Errorf("expected low_confidence without a name, got %s", rec.Status)
	}

	found := false
	for _, e := range rec.Errors {
		if e.Field == "name" {
			found = true
		}
	}
	if !found {
		t.Error("expected a soft error for the missing name")
	}
}

func TestExtract_Deterministic(t *testing.T) {
	a := extractFixture(t, "academic-magnet-high-school", profileFixture)
	b := extractFixture(t, "academic-magnet-high-school", profileFixture)

	if len(a.Fields) != len(b.Fields) {
		t.Fatalf("field counts differ: %d vs %d", len(a.Fields), len(b.Fields))
	}
	for key, fv := range a.Fields {
		if b.Fields[key] != fv {
			t.Errorf("field %s differs: %+v vs %+v", key, fv, b.Fields[key])
		}
	}
	if a.OverallConfidence != b.OverallConfidence {
		t.Errorf("overall confidence differs: %v vs %v", a.OverallConfidence, b.OverallConfidence)
	}
}
