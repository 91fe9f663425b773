package model

import "testing"

func TestNormalizeSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Lincoln High School", "lincoln-high-school"},
		{"St. Mary's Academy", "st-mary-s-academy"},
		{"José Martí MAST 6-12 Academy", "jose-marti-mast-6-12-academy"},
		{"  spaced   out  ", "spaced-out"},
		{"already-a-slug", "already-a-slug"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := NormalizeSlug(tc.in); got != tc.want {
			t.Errorf("NormalizeSlug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSameEntity(t *testing.T) {
	if !SameEntity("Lincoln High School", "lincoln-high-school") {
		t.Error("expected same entity")
	}
	if SameEntity("Lincoln High School", "Washington High School") {
		t.Error("expected different entities")
	}
}
