// Package batch runs the extraction engine over a corpus of captured pages
// with a fixed worker pool and circuit-breaker protected I/O.
package batch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/schoolscope/extract-cli/internal/extract"
	"github.com/schoolscope/extract-cli/internal/model"
)

// DocumentRef identifies one captured page without loading its body.
type DocumentRef struct {
	Path string
	Slug string
	Year int
}

// Source lists and loads captured documents. Listing is cheap; Load does the
// actual read so callers can wrap it in retry and breaker policy.
type Source interface {
	List(ctx context.Context) ([]DocumentRef, error)
	Load(ctx context.Context, ref DocumentRef) (extract.DocumentInput, error)
}

// captured pages are named <slug>-<year>.html
var captureName = regexp.MustCompile(`^(.+)-(\d{4})\.html?$`)

// DirSource reads captured pages from a directory tree.
type DirSource struct {
	root string
}

// NewDirSource creates a source over the given capture directory.
func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

// List walks the capture directory and returns a ref for every page whose
// filename carries a parseable (slug, year). Files that don't match the
// capture naming convention are skipped.
func (s *DirSource) List(ctx context.Context) ([]DocumentRef, error) {
	var refs []DocumentRef
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		m := captureName.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}
		year, err := strconv.Atoi(m[2])
		if err != nil {
			return nil
		}
		refs = append(refs, DocumentRef{
			Path: path,
			Slug: model.NormalizeSlug(m[1]),
			Year: year,
		})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "batch: walk capture dir %s", s.root)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// Load reads a captured page and assigns it a fresh document id for log
// correlation.
func (s *DirSource) Load(_ context.Context, ref DocumentRef) (extract.DocumentInput, error) {
	body, err := os.ReadFile(ref.Path)
	if err != nil {
		return extract.DocumentInput{}, eris.Wrapf(err, "batch: read %s", ref.Path)
	}
	return extract.DocumentInput{
		ID:   uuid.NewString(),
		Slug: ref.Slug,
		Year: ref.Year,
		HTML: body,
	}, nil
}
