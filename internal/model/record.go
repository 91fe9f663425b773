package model

import "time"

// RecordStatus represents the outcome of an extraction run for one document.
type RecordStatus string

const (
	StatusExtracted     RecordStatus = "extracted"
	StatusLowConfidence RecordStatus = "low_confidence"
	StatusMalformed     RecordStatus = "malformed"
)

// lowConfidenceThreshold is the overall confidence below which a record is
// marked low_confidence.
const lowConfidenceThreshold = 40.0

// NaturalKey identifies one real-world record across possibly-duplicated
// extractions.
type NaturalKey struct {
	Slug string `json:"slug"`
	Year int    `json:"year"`
}

// FieldValue is a single extracted field with its provenance.
type FieldValue struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"` // 0-100
	Tier       int     `json:"tier"`       // 1=structured, 2=selector, 3=pattern
	Source     string  `json:"source,omitempty"`
}

// SoftError records a non-fatal extraction failure for a single field.
type SoftError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ExtractedRecord is the output of one extraction run over one document.
// It is never mutated after creation; the deduplicator replaces whole
// records rather than editing them.
type ExtractedRecord struct {
	ID                 string                `json:"id"`
	Key                NaturalKey            `json:"key"`
	Fields             map[string]FieldValue `json:"fields"`
	CategoryConfidence map[string]float64    `json:"category_confidence"`
	OverallConfidence  float64               `json:"overall_confidence"`
	Errors             []SoftError           `json:"errors,omitempty"`
	Status             RecordStatus          `json:"status"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

// Field returns the value for key, or nil if absent.
func (r *ExtractedRecord) Field(key string) any {
	fv, ok := r.Fields[key]
	if !ok {
		return nil
	}
	return fv.Value
}

// FieldInt returns the field value coerced to int. Returns 0, false when the
// field is absent or not numeric.
func (r *ExtractedRecord) FieldInt(key string) (int, bool) {
	fv, ok := r.Fields[key]
	if !ok {
		return 0, false
	}
	switch v := fv.Value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// FieldString returns the field value coerced to string. Returns "", false
// when the field is absent.
func (r *ExtractedRecord) FieldString(key string) (string, bool) {
	fv, ok := r.Fields[key]
	if !ok {
		return "", false
	}
	s, ok := fv.Value.(string)
	return s, ok
}

// DeriveStatus classifies the record from its overall confidence. Malformed
// is reserved for parse failures and assigned by the extractor directly; a
// parse-clean document that yields nothing is low_confidence, so operators
// can tell a bad capture from a sparse page.
func DeriveStatus(overall float64) RecordStatus {
	if overall < lowConfidenceThreshold {
		return StatusLowConfidence
	}
	return StatusExtracted
}
