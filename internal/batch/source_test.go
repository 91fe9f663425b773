package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeCapture(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirSourceList(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "lincoln-high-2024.html", "<h1>Lincoln</h1>")
	writeCapture(t, dir, "Washington-Prep-2023.htm", "<h1>Washington</h1>")
	writeCapture(t, dir, "notes.txt", "not a capture")
	writeCapture(t, dir, "readme-12.html", "year too short")

	sub := filepath.Join(dir, "archive")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeCapture(t, sub, "adams-high-2022.html", "<h1>Adams</h1>")

	refs, err := NewDirSource(dir).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %d: %v", len(refs), refs)
	}

	// Sorted by path; slugs normalized to lowercase.
	want := []DocumentRef{
		{Path: filepath.Join(dir, "Washington-Prep-2023.htm"), Slug: "washington-prep", Year: 2023},
		{Path: filepath.Join(sub, "adams-high-2022.html"), Slug: "adams-high", Year: 2022},
		{Path: filepath.Join(dir, "lincoln-high-2024.html"), Slug: "lincoln-high", Year: 2024},
	}
	for i, w := range want {
		if refs[i] != w {
			t.Errorf("ref[%d] = %+v, want %+v", i, refs[i], w)
		}
	}
}

func TestDirSourceLoad(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "lincoln-high-2024.html", "<h1>Lincoln High School</h1>")

	src := NewDirSource(dir)
	refs, err := src.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	in, err := src.Load(context.Background(), refs[0])
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if in.ID == "" {
		t.Error("expected a generated record id")
	}
	if in.Slug != "lincoln-high" || in.Year != 2024 {
		t.Errorf("got slug=%q year=%d", in.Slug, in.Year)
	}
	if string(in.HTML) != "<h1>Lincoln High School</h1>" {
		t.Errorf("unexpected body %q", in.HTML)
	}

	// Each load gets a fresh id.
	in2, err := src.Load(context.Background(), refs[0])
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if in2.ID == in.ID {
		t.Error("expected distinct ids across loads")
	}
}

func TestDirSourceLoadMissingFile(t *testing.T) {
	src := NewDirSource(t.TempDir())
	_, err := src.Load(context.Background(), DocumentRef{Path: "/nonexistent/x-2024.html", Slug: "x", Year: 2024})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDirSourceListMissingDir(t *testing.T) {
	_, err := NewDirSource("/nonexistent-capture-dir").List(context.Background())
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}
