package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/okaneo/gridview"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func collect(t *testing.T, s *Scanner, sources ...Source) ([]Entry, []*SourceError) {
	t.Helper()
	entries, errs := s.Scan(context.Background(), sources)
	var ents []Entry
	var serrs []*SourceError
	for entries != nil || errs != nil {
		select {
		case e, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			ents = append(ents, e)
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			serrs = append(serrs, e)
		}
	}
	return ents, serrs
}

func TestScanFlatDirNameOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "c.png")
	writeFile(t, dir, "a.png")
	writeFile(t, dir, "b.jpg")
	writeFile(t, dir, "notes.txt")

	s := &Scanner{Checkers: 2}
	ents, serrs := collect(t, s, Source{Kind: KindDir, Raw: dir})
	if len(serrs) != 0 {
		t.Fatalf("unexpected source errors: %v", serrs)
	}

	var names []string
	for _, e := range ents {
		names = append(names, e.Name)
	}
	want := []string{"a.png", "b.jpg", "c.png"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestScanInvalidSourceDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png")

	s := &Scanner{Checkers: 1}
	ents, serrs := collect(t, s,
		Source{Kind: KindDir, Raw: filepath.Join(dir, "missing")},
		Source{Kind: KindDir, Raw: dir},
	)
	if len(serrs) != 1 {
		t.Fatalf("expected 1 source error, got %d", len(serrs))
	}
	if !errors.Is(serrs[0], gridview.ErrSourceInvalid) {
		t.Errorf("expected ErrSourceInvalid, got %v", serrs[0])
	}
	if len(ents) != 1 {
		t.Errorf("expected the valid source to be scanned, got %d entries", len(ents))
	}
}

func TestScanRecursiveDepth(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "top.png")
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, sub, "nested.png")
	deep := filepath.Join(sub, "deep")
	if err := os.Mkdir(deep, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, deep, "buried.png")

	t.Run("NonRecursive", func(t *testing.T) {
		s := &Scanner{Checkers: 2}
		ents, _ := collect(t, s, Source{Kind: KindDir, Raw: dir})
		if len(ents) != 1 {
			t.Errorf("expected 1 entry, got %d", len(ents))
		}
	})

	t.Run("RecursiveLimited", func(t *testing.T) {
		s := &Scanner{Checkers: 2, Recursive: true, MaxDepth: 2}
		ents, _ := collect(t, s, Source{Kind: KindDir, Raw: dir})
		if len(ents) != 2 {
			t.Errorf("expected 2 entries at depth <= 2, got %d", len(ents))
		}
	})

	t.Run("RecursiveDeep", func(t *testing.T) {
		s := &Scanner{Checkers: 2, Recursive: true, MaxDepth: 5}
		ents, _ := collect(t, s, Source{Kind: KindDir, Raw: dir})
		if len(ents) != 3 {
			t.Errorf("expected 3 entries, got %d", len(ents))
		}
		var names []string
		for _, e := range ents {
			names = append(names, e.Name)
		}
		sort.Strings(names)
		if names[0] != "buried.png" || names[2] != "top.png" {
			t.Errorf("unexpected entries: %v", names)
		}
	})
}

func TestScanHiddenFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".hidden.png")
	writeFile(t, dir, "shown.png")

	s := &Scanner{Checkers: 1}
	ents, _ := collect(t, s, Source{Kind: KindDir, Raw: dir})
	if len(ents) != 1 || ents[0].Name != "shown.png" {
		t.Errorf("expected only shown.png, got %v", ents)
	}

	s = &Scanner{Checkers: 1, Filter: Filter{ShowHidden: true}}
	ents, _ = collect(t, s, Source{Kind: KindDir, Raw: dir})
	if len(ents) != 2 {
		t.Errorf("expected hidden file with ShowHidden, got %d entries", len(ents))
	}
}

func TestScanURLSource(t *testing.T) {
	s := &Scanner{Checkers: 1}
	ents, serrs := collect(t, s, Source{Kind: KindURL, Raw: "https://example.com/pic.png"})
	if len(serrs) != 0 {
		t.Fatalf("unexpected errors: %v", serrs)
	}
	if len(ents) != 1 || !ents[0].Remote || ents[0].Name != "pic.png" {
		t.Errorf("unexpected url entry: %+v", ents)
	}
}

func TestFilterAdmitFile(t *testing.T) {
	f := Filter{}
	cases := []struct {
		name string
		want bool
	}{
		{"photo.png", true},
		{"photo.JPG", true},
		{"photo.webp", true},
		{"notes.txt", false},
		{".hidden.png", false},
		{"noext", false},
	}
	for _, c := range cases {
		if got := f.AdmitFile(c.name); got != c.want {
			t.Errorf("AdmitFile(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestParse(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "a.png")

	if src, err := Parse(dir); err != nil || src.Kind != KindDir {
		t.Errorf("Parse(dir) = %v, %v", src, err)
	}
	if src, err := Parse(file); err != nil || src.Kind != KindFile {
		t.Errorf("Parse(file) = %v, %v", src, err)
	}
	if src, err := Parse("https://example.com/a.png"); err != nil || src.Kind != KindURL {
		t.Errorf("Parse(url) = %v, %v", src, err)
	}
	if _, err := Parse(filepath.Join(dir, "missing")); !errors.Is(err, gridview.ErrSourceInvalid) {
		t.Errorf("expected ErrSourceInvalid, got %v", err)
	}
}
