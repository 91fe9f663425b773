package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// FieldType declares how a raw extracted string is coerced and validated.
type FieldType string

const (
	TypeString     FieldType = "string"
	TypeInteger    FieldType = "integer"
	TypePercentage FieldType = "percentage"
	TypeEnum       FieldType = "enum"
)

// Field categories used by the confidence scorer.
const (
	CategoryIdentity      = "identity"
	CategoryLocation      = "location"
	CategoryEnrollment    = "enrollment"
	CategoryRankings      = "rankings"
	CategoryAcademics     = "academics"
	CategoryDemographics  = "demographics"
	CategorySocioeconomic = "socioeconomic"
)

// FieldSpec declares one extractable field: its type, category, validation
// constraints, and the ordered fallback chain of strategies.
type FieldSpec struct {
	Key      string
	Category string
	Type     FieldType
	Enum     []string       // for TypeEnum
	Format   *regexp.Regexp // optional format check for strings (e.g. zip)
	MinInt   int            // for TypeInteger; both zero means unbounded
	MaxInt   int
	// Critical fields define record identity; their absence is escalated
	// instead of recorded silently.
	Critical   bool
	Strategies []Strategy
}

// Registry holds field specs indexed by key, preserving declaration order.
type Registry struct {
	specs []FieldSpec
	byKey map[string]*FieldSpec
}

// NewRegistry indexes the given specs.
func NewRegistry(specs []FieldSpec) *Registry {
	r := &Registry{specs: specs, byKey: make(map[string]*FieldSpec, len(specs))}
	for i := range r.specs {
		r.byKey[r.specs[i].Key] = &r.specs[i]
	}
	return r
}

// Specs returns all field specs in declaration order.
func (r *Registry) Specs() []FieldSpec { return r.specs }

// ByKey returns the spec for key, or nil.
func (r *Registry) ByKey(key string) *FieldSpec { return r.byKey[key] }

// Category returns the category for a field key, or "" if unknown.
func (r *Registry) Category(key string) string {
	if s := r.byKey[key]; s != nil {
		return s.Category
	}
	return ""
}

var (
	zipFormat   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	phoneFormat = regexp.MustCompile(`^[\d\s().+-]{7,20}$`)
	numberRe    = regexp.MustCompile(`-?\d[\d,]*\.?\d*`)
)

// ValidateValue coerces a raw extracted string against the spec. Returns the
// typed value, or an error describing why the value is out of range or
// malformed. A validation failure at one tier lets the next tier try.
func ValidateValue(spec *FieldSpec, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, eris.Errorf("field %s: empty value", spec.Key)
	}

	switch spec.Type {
	case TypeString:
		if spec.Format != nil && !spec.Format.MatchString(raw) {
			return nil, eris.Errorf("field %s: %q does not match required format", spec.Key, raw)
		}
		return raw, nil

	case TypeInteger:
		n, err := parseInt(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "field %s", spec.Key)
		}
		if spec.MinInt != 0 || spec.MaxInt != 0 {
			if n < spec.MinInt || n > spec.MaxInt {
				return nil, eris.Errorf("field %s: %d outside [%d, %d]", spec.Key, n, spec.MinInt, spec.MaxInt)
			}
		}
		return n, nil

	case TypePercentage:
		p, err := parsePercent(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "field %s", spec.Key)
		}
		if p < 0 || p > 100 {
			return nil, eris.Errorf("field %s: %.1f%% outside [0, 100]", spec.Key, p)
		}
		return p, nil

	case TypeEnum:
		folded := strings.ToLower(raw)
		for _, allowed := range spec.Enum {
			if folded == strings.ToLower(allowed) {
				return allowed, nil
			}
		}
		return nil, eris.Errorf("field %s: %q not in %v", spec.Key, raw, spec.Enum)

	default:
		return nil, eris.Errorf("field %s: unknown type %q", spec.Key, spec.Type)
	}
}

// parseInt accepts thousands separators ("1,094 students" -> 1094).
func parseInt(raw string) (int, error) {
	m := numberRe.FindString(raw)
	if m == "" {
		return 0, fmt.Errorf("no number in %q", raw)
	}
	m = strings.ReplaceAll(m, ",", "")
	if i := strings.IndexByte(m, '.'); i >= 0 {
		m = m[:i]
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	return n, nil
}

// parsePercent accepts "94%", "94.5 %", and bare numbers.
func parsePercent(raw string) (float64, error) {
	m := numberRe.FindString(raw)
	if m == "" {
		return 0, fmt.Errorf("no number in %q", raw)
	}
	return strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
}

// SchoolFields returns the default field registry for school profile pages.
// Selectors target the publisher's known markup variants, newest first;
// patterns are the last resort against raw page text.
func SchoolFields() *Registry {
	return NewRegistry([]FieldSpec{
		{
			Key: "name", Category: CategoryIdentity, Type: TypeString, Critical: true,
			Strategies: []Strategy{
				StructuredData{Key: "name", Conf: 98},
				Selector{Query: "h1.profile-header__name", Conf: 95},
				Selector{Query: "h1[data-testid='school-name']", Conf: 92},
				Selector{Query: "h1", Conf: 72},
			},
		},
		{
			Key: "school_type", Category: CategoryIdentity, Type: TypeEnum,
			Enum: []string{"public", "private", "charter", "magnet"},
			Strategies: []Strategy{
				StructuredData{Key: "school_type", Conf: 92},
				Selector{Query: ".profile-header__type", Conf: 85},
				Pattern{Regex: regexp.MustCompile(`(?i)\b(public|private|charter|magnet)\b\s+school`), Group: 1, Conf: 72},
			},
		},
		{
			Key: "address", Category: CategoryLocation, Type: TypeString,
			Strategies: []Strategy{
				StructuredData{Key: "address", Conf: 96},
				Selector{Query: "[itemprop='streetAddress']", Conf: 90},
				Selector{Query: ".profile-header__address .street", Conf: 85},
			},
		},
		{
			Key: "city", Category: CategoryLocation, Type: TypeString,
			Strategies: []Strategy{
				StructuredData{Key: "city", Conf: 96},
				Selector{Query: "[itemprop='addressLocality']", Conf: 90},
			},
		},
		{
			Key: "state", Category: CategoryLocation, Type: TypeString,
			Format: regexp.MustCompile(`^[A-Z]{2}$|^[A-Za-z .]{4,30}$`),
			Strategies: []Strategy{
				StructuredData{Key: "state", Conf: 96},
				Selector{Query: "[itemprop='addressRegion']", Conf: 90},
			},
		},
		{
			Key: "zip", Category: CategoryLocation, Type: TypeString, Format: zipFormat,
			Strategies: []Strategy{
				StructuredData{Key: "zip", Conf: 96},
				Selector{Query: "[itemprop='postalCode']", Conf: 90},
				Pattern{Regex: regexp.MustCompile(`\b(\d{5}(?:-\d{4})?)\b`), Group: 1, Conf: 70},
			},
		},
		{
			Key: "district", Category: CategoryLocation, Type: TypeString,
			Strategies: []Strategy{
				StructuredData{Key: "district", Conf: 94},
				Selector{Query: ".profile-header__district a", Conf: 88},
				Pattern{Regex: regexp.MustCompile(`(?i)part of ([\w .'-]+ school district)`), Group: 1, Conf: 74},
			},
		},
		{
			Key: "phone", Category: CategoryLocation, Type: TypeString, Format: phoneFormat,
			Strategies: []Strategy{
				StructuredData{Key: "phone", Conf: 94},
				Selector{Query: "[itemprop='telephone']", Conf: 90},
				Pattern{Regex: regexp.MustCompile(`\((\d{3})\)\s*\d{3}-\d{4}`), Group: 0, Conf: 75},
			},
		},
		{
			Key: "enrollment", Category: CategoryEnrollment, Type: TypeInteger, MinInt: 1, MaxInt: 50000,
			Strategies: []Strategy{
				StructuredData{Key: "enrollment", Conf: 94},
				Selector{Query: "[data-testid='enrollment'] .stat-value", Conf: 88},
				Pattern{Regex: regexp.MustCompile(`(?i)enrollment of ([\d,]+)`), Group: 1, Conf: 78},
				Pattern{Regex: regexp.MustCompile(`(?i)([\d,]+) students? enrolled`), Group: 1, Conf: 74},
			},
		},
		{
			Key: "student_teacher_ratio", Category: CategoryEnrollment, Type: TypeInteger, MinInt: 1, MaxInt: 100,
			Strategies: []Strategy{
				Selector{Query: "[data-testid='student-teacher-ratio'] .stat-value", Conf: 88},
				Pattern{Regex: regexp.MustCompile(`(?i)student[- ]teacher ratio (?:of|is) (\d+):1`), Group: 1, Conf: 78},
			},
		},
		{
			Key: "grades", Category: CategoryEnrollment, Type: TypeString,
			Format: regexp.MustCompile(`^(PK|K|\d{1,2})\s*-\s*(K|\d{1,2})$`),
			Strategies: []Strategy{
				Selector{Query: "[data-testid='grades-served'] .stat-value", Conf: 88},
				Pattern{Regex: regexp.MustCompile(`(?i)serves grades ((?:PK|K|\d{1,2})\s*-\s*(?:K|\d{1,2}))`), Group: 1, Conf: 76},
			},
		},
		{
			Key: "graduation_rate", Category: CategoryAcademics, Type: TypePercentage,
			Strategies: []Strategy{
				Selector{Query: "[data-testid='graduation-rate'] .stat-value", Conf: 90},
				Pattern{Regex: regexp.MustCompile(`(?i)graduation rate (?:of|is) ([\d.]+)\s*%`), Group: 1, Conf: 78},
			},
		},
		{
			Key: "ap_participation", Category: CategoryAcademics, Type: TypePercentage,
			Strategies: []Strategy{
				Selector{Query: "[data-testid='ap-participation'] .stat-value", Conf: 90},
				Pattern{Regex: regexp.MustCompile(`(?i)AP(?:®)? participation rate (?:of|is|was) ([\d.]+)\s*%`), Group: 1, Conf: 76},
			},
		},
		{
			Key: "math_proficiency", Category: CategoryAcademics, Type: TypePercentage,
			Strategies: []Strategy{
				Selector{Query: "[data-testid='math-proficiency'] .stat-value", Conf: 90},
				Pattern{Regex: regexp.MustCompile(`(?i)mathematics proficiency[^%]{0,20}?([\d.]+)\s*%`), Group: 1, Conf: 72},
			},
		},
		{
			Key: "reading_proficiency", Category: CategoryAcademics, Type: TypePercentage,
			Strategies: []Strategy{
				Selector{Query: "[data-testid='reading-proficiency'] .stat-value", Conf: 90},
				Pattern{Regex: regexp.MustCompile(`(?i)reading proficiency[^%]{0,20}?([\d.]+)\s*%`), Group: 1, Conf: 72},
			},
		},
		{
			Key: "college_readiness", Category: CategoryAcademics, Type: TypePercentage,
			Strategies: []Strategy{
				Selector{Query: "[data-testid='college-readiness'] .stat-value", Conf: 90},
				Pattern{Regex: regexp.MustCompile(`(?i)college readiness index[^\d]{0,10}([\d.]+)`), Group: 1, Conf: 70},
			},
		},
		{
			Key: "minority_enrollment", Category: CategoryDemographics, Type: TypePercentage,
			Strategies: []Strategy{
				Selector{Query: "[data-testid='minority-enrollment'] .stat-value", Conf: 88},
				Pattern{Regex: regexp.MustCompile(`(?i)minority enrollment is ([\d.]+)\s*%`), Group: 1, Conf: 76},
			},
		},
		{
			Key: "female_enrollment", Category: CategoryDemographics, Type: TypePercentage,
			Strategies: []Strategy{
				Selector{Query: "[data-testid='female-enrollment'] .stat-value", Conf: 88},
			},
		},
		{
			Key: "economically_disadvantaged", Category: CategorySocioeconomic, Type: TypePercentage,
			Strategies: []Strategy{
				Selector{Query: "[data-testid='econ-disadvantaged'] .stat-value", Conf: 88},
				Pattern{Regex: regexp.MustCompile(`(?i)economically disadvantaged[^%]{0,30}?([\d.]+)\s*%`), Group: 1, Conf: 74},
			},
		},
		{
			Key: "free_lunch_eligible", Category: CategorySocioeconomic, Type: TypePercentage,
			Strategies: []Strategy{
				Selector{Query: "[data-testid='free-lunch'] .stat-value", Conf: 88},
				Pattern{Regex: regexp.MustCompile(`(?i)free (?:or reduced[- ]price )?lunch[^%]{0,30}?([\d.]+)\s*%`), Group: 1, Conf: 72},
			},
		},
	})
}
