// Package source discovers browsable image entries from user-supplied
// file, directory and URL sources.
package source

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/okaneo/gridview"
)

// Kind classifies a source.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindURL
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindURL:
		return "url"
	}
	return "unknown"
}

// Source is a user-supplied locator, resolved once at startup and never
// mutated afterward.
type Source struct {
	Kind Kind
	Raw  string
}

// Entry is a single browsable image. Entries are read-only once created.
type Entry struct {
	// Path is the entry identity: a resolved local path, or the raw URL for
	// remote entries that have not been fetched yet.
	Path string
	Name string
	Size int64
	// ModTime is zero for remote entries.
	ModTime time.Time
	// Remote marks an entry whose content must be fetched before use.
	Remote bool
}

// SourceError reports one invalid source. A bad source never aborts the
// scan of the remaining sources.
type SourceError struct {
	Source Source
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %q: %v", e.Source.Raw, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Parse resolves a raw locator into a Source. http(s) URLs become URL
// sources; anything else is checked against the filesystem.
func Parse(raw string) (Source, error) {
	if u, err := url.Parse(raw); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return Source{Kind: KindURL, Raw: raw}, nil
	}

	info, err := os.Stat(raw)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %q: %v", gridview.ErrSourceInvalid, raw, err)
	}
	if info.IsDir() {
		return Source{Kind: KindDir, Raw: raw}, nil
	}
	return Source{Kind: KindFile, Raw: raw}, nil
}
