package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/okaneo/gridview"
	"golang.org/x/sync/errgroup"
)

// Scanner resolves sources into a stream of entries. Directory sources are
// walked concurrently with a bounded worker count so filesystem latency
// overlaps; entries within one directory are emitted in name order once
// that directory completes, but no order is promised across directories.
//
// Each Scan call re-walks from the start; there is no mid-stream resume.
type Scanner struct {
	Filter    Filter
	Checkers  int
	Recursive bool
	MaxDepth  int
}

// Scan yields entries on the first channel and per-source errors on the
// second. Both channels are closed when the scan completes or ctx is
// cancelled. Invalid sources produce one SourceError each and never abort
// the scan.
func (s *Scanner) Scan(ctx context.Context, sources []Source) (<-chan Entry, <-chan *SourceError) {
	entries := make(chan Entry, 64)
	errs := make(chan *SourceError, len(sources))

	go func() {
		defer close(entries)
		defer close(errs)

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(s.checkers())
		seen := &visitedDirs{paths: make(map[string]struct{})}

		for _, src := range sources {
			switch src.Kind {
			case KindURL:
				emit(ctx, entries, Entry{
					Path:   src.Raw,
					Name:   filepath.Base(src.Raw),
					Remote: true,
				})
			case KindFile:
				ent, err := fileEntry(src.Raw)
				if err != nil {
					errs <- &SourceError{Source: src, Err: err}
					continue
				}
				emit(ctx, entries, ent)
			case KindDir:
				src := src
				g.Go(func() error {
					s.scanDir(ctx, g, src.Raw, 1, seen, entries, errs)
					return nil
				})
			}
		}

		// Group errors are reported per source; the group itself never fails.
		_ = g.Wait()
	}()

	return entries, errs
}

func (s *Scanner) checkers() int {
	if s.Checkers < 1 {
		return 1
	}
	return s.Checkers
}

// scanDir emits the image files of one directory in name order, then hands
// subdirectories to the group for concurrent descent.
func (s *Scanner) scanDir(ctx context.Context, g *errgroup.Group, dir string, depth int, seen *visitedDirs, entries chan<- Entry, errs chan<- *SourceError) {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		real = dir
	}
	if !seen.add(real) {
		slog.Debug("Skipping already visited directory", "dir", dir)
		return
	}

	list, err := os.ReadDir(dir)
	if err != nil {
		errs <- &SourceError{
			Source: Source{Kind: KindDir, Raw: dir},
			Err:    fmt.Errorf("%w: %v", gridview.ErrSourceInvalid, err),
		}
		return
	}

	// os.ReadDir sorts by name, which keeps the per-directory order stable
	// between runs over unchanged content.
	for _, d := range list {
		if ctx.Err() != nil {
			return
		}
		name := d.Name()
		path := filepath.Join(dir, name)

		if isDir(d, path, s.Filter.FollowSymlinks) {
			if !s.Recursive || depth >= s.maxDepth() || !s.Filter.AdmitDir(name, d) {
				continue
			}
			descend := func() error {
				s.scanDir(ctx, g, path, depth+1, seen, entries, errs)
				return nil
			}
			// TryGo, not Go: every worker blocking on a full group from
			// within the group would deadlock. Descend inline instead.
			if !g.TryGo(descend) {
				_ = descend()
			}
			continue
		}

		if !s.Filter.FollowSymlinks && d.Type()&fs.ModeSymlink != 0 {
			continue
		}
		if !s.Filter.AdmitFile(name) {
			continue
		}
		ent, err := fileEntry(path)
		if err != nil {
			slog.Debug("Skipping unreadable file", "path", path, "error", err)
			continue
		}
		emit(ctx, entries, ent)
	}
}

func (s *Scanner) maxDepth() int {
	if s.MaxDepth < 1 {
		return 1
	}
	return s.MaxDepth
}

func fileEntry(path string) (Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", gridview.ErrSourceInvalid, err)
	}
	if info.IsDir() {
		return Entry{}, fmt.Errorf("%w: %q is a directory", gridview.ErrSourceInvalid, path)
	}
	return Entry{
		Path:    path,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func isDir(d fs.DirEntry, path string, followSymlinks bool) bool {
	if d.IsDir() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 || !followSymlinks {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func emit(ctx context.Context, entries chan<- Entry, ent Entry) {
	select {
	case entries <- ent:
	case <-ctx.Done():
	}
}

// visitedDirs guards against symlink cycles during concurrent descent.
type visitedDirs struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func (v *visitedDirs) add(path string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.paths[path]; ok {
		return false
	}
	v.paths[path] = struct{}{}
	return true
}
