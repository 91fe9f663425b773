package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// slugNormalizer strips combining marks after NFKD decomposition so that
// accented entity names from archived pages compare equal to the ASCII
// slugs assigned by bronze ingestion.
var slugNormalizer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeSlug lowercases a name, strips diacritics, and collapses runs of
// non-alphanumeric characters into single hyphens.
func NormalizeSlug(name string) string {
	folded, _, err := transform.String(slugNormalizer, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// SameEntity reports whether two names identify the same entity after slug
// normalization.
func SameEntity(a, b string) bool {
	return NormalizeSlug(a) == NormalizeSlug(b)
}
