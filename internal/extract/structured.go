package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// structuredTypes are the schema.org @type values we treat as describing the
// page's entity. Publisher markup is inconsistent about which it uses.
var structuredTypes = map[string]bool{
	"School":                  true,
	"HighSchool":              true,
	"EducationalOrganization": true,
	"Organization":            true,
}

// structuredPaths maps normalized keys to the gjson paths tried for each,
// in order. Paths are relative to a matched schema.org node.
var structuredPaths = map[string][]string{
	"name":        {"name", "legalName"},
	"address":     {"address.streetAddress"},
	"city":        {"address.addressLocality"},
	"state":       {"address.addressRegion"},
	"zip":         {"address.postalCode"},
	"phone":       {"telephone", "contactPoint.telephone"},
	"district":    {"parentOrganization.name", "department.name"},
	"school_type": {"additionalType"},
	"enrollment":  {"numberOfStudents"},
}

// decodeStructuredData harvests application/ld+json blocks and flattens any
// school-like nodes into a normalized key/value map. The highest-confidence
// extraction tier reads from this map. Malformed blocks are skipped; a page
// may carry several, some of which are unrelated (breadcrumbs, site search).
func decodeStructuredData(doc *goquery.Document) map[string]string {
	out := make(map[string]string)

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" || !gjson.Valid(raw) {
			return
		}
		root := gjson.Parse(raw)

		// A block may be a single node, an array, or an @graph wrapper.
		for _, node := range structuredNodes(root) {
			if !structuredTypes[nodeType(node)] {
				continue
			}
			flattenNode(node, out)
		}
	})

	return out
}

func structuredNodes(root gjson.Result) []gjson.Result {
	switch {
	case root.IsArray():
		return root.Array()
	case root.Get("@graph").Exists():
		return root.Get("@graph").Array()
	default:
		return []gjson.Result{root}
	}
}

func nodeType(node gjson.Result) string {
	t := node.Get("@type")
	if t.IsArray() {
		// Multi-typed nodes: any recognized type qualifies.
		for _, v := range t.Array() {
			if structuredTypes[v.String()] {
				return v.String()
			}
		}
		return ""
	}
	return t.String()
}

// flattenNode writes the first non-empty path match per key. Earlier blocks
// win over later ones: duplicate markup on the same page is common and the
// first occurrence is the page's primary entity.
func flattenNode(node gjson.Result, out map[string]string) {
	for key, paths := range structuredPaths {
		if _, done := out[key]; done {
			continue
		}
		for _, path := range paths {
			if v := node.Get(path); v.Exists() {
				s := strings.TrimSpace(v.String())
				if s != "" {
					out[key] = s
					break
				}
			}
		}
	}
}
