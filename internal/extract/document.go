// Package extract converts archived school profile pages into validated
// records with per-field confidence. Extraction is pure per document: tiers
// run in fixed priority order (structured data, then CSS selectors, then
// text patterns) and the first validated in-range value wins.
package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/schoolscope/extract-cli/internal/model"
)

// DocumentInput is what bronze ingestion hands us: a captured page plus the
// stable identity assigned at capture time.
type DocumentInput struct {
	ID   string
	Slug string
	Year int
	HTML []byte
}

// Document is a parsed page ready for tiered extraction.
type Document struct {
	ID  string
	Key model.NaturalKey

	doc        *goquery.Document
	structured map[string]string
	text       string
}

// ParseDocument parses raw page bytes. The parser is lenient — inconsistent
// markup is expected — but empty input and unparseable trees are reported so
// the caller can produce a zero-confidence record.
func ParseDocument(in DocumentInput) (*Document, error) {
	if len(bytes.TrimSpace(in.HTML)) == 0 {
		return nil, eris.Errorf("extract: empty document %s", in.ID)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(in.HTML))
	if err != nil {
		return nil, eris.Wrapf(err, "extract: parse document %s", in.ID)
	}

	d := &Document{
		ID:  in.ID,
		Key: model.NaturalKey{Slug: in.Slug, Year: in.Year},
		doc: doc,
	}
	d.structured = decodeStructuredData(doc)
	return d, nil
}

// Find proxies a selector query against the document tree.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Structured returns the flattened structured-data value for key, if any.
func (d *Document) Structured(key string) (string, bool) {
	v, ok := d.structured[key]
	return v, ok
}

// Text returns the whitespace-collapsed text of the whole document, computed
// once on first use. Pattern-tier strategies and the ranking parser run
// against this.
func (d *Document) Text() string {
	if d.text == "" {
		d.text = collapseSpace(d.doc.Text())
	}
	return d.text
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
