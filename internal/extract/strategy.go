package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Tier numbers, in priority order. Lower tiers are tried first and carry
// higher confidence bands.
const (
	TierStructured = 1
	TierSelector   = 2
	TierPattern    = 3
)

// Strategy is one step in a field's fallback chain. Implementations are the
// three extraction tiers; chains are declared per field in ordered lists so
// each tier's inputs are checked at compile time rather than parsed from
// untyped strings.
type Strategy interface {
	// Extract attempts the strategy against the document. ok is false when
	// the strategy found nothing; that is not an error.
	Extract(d *Document) (value string, ok bool)
	// Confidence is the score assigned to a successful match, 0-100.
	Confidence() float64
	// Tier reports which extraction tier the strategy belongs to.
	Tier() int
	// Source labels the strategy for provenance and soft errors.
	Source() string
}

// StructuredData reads a key from the page's flattened JSON-LD map.
type StructuredData struct {
	Key  string
	Conf float64
}

func (s StructuredData) Extract(d *Document) (string, bool) {
	v, ok := d.Structured(s.Key)
	return v, ok && v != ""
}

func (s StructuredData) Confidence() float64 { return s.Conf }
func (s StructuredData) Tier() int           { return TierStructured }
func (s StructuredData) Source() string      { return "structured:" + s.Key }

// Selector queries the document tree with a CSS selector and returns the
// first non-empty match. When Attr is set the attribute value is returned
// instead of the element text.
type Selector struct {
	Query string
	Attr  string
	Conf  float64
}

func (s Selector) Extract(d *Document) (string, bool) {
	var found string
	d.Find(s.Query).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var v string
		if s.Attr != "" {
			v, _ = sel.Attr(s.Attr)
		} else {
			v = sel.Text()
		}
		v = collapseSpace(strings.TrimSpace(v))
		if v != "" {
			found = v
			return false
		}
		return true
	})
	return found, found != ""
}

func (s Selector) Confidence() float64 { return s.Conf }
func (s Selector) Tier() int           { return TierSelector }
func (s Selector) Source() string      { return "selector:" + s.Query }

// Pattern runs a compiled regex over the document's collapsed text. Group
// selects the capture group returned; zero means the whole match.
type Pattern struct {
	Regex *regexp.Regexp
	Group int
	Conf  float64
}

func (p Pattern) Extract(d *Document) (string, bool) {
	m := p.Regex.FindStringSubmatch(d.Text())
	if m == nil || p.Group >= len(m) {
		return "", false
	}
	v := strings.TrimSpace(m[p.Group])
	return v, v != ""
}

func (p Pattern) Confidence() float64 { return p.Conf }
func (p Pattern) Tier() int           { return TierPattern }
func (p Pattern) Source() string      { return "pattern:" + p.Regex.String() }
