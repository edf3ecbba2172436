// Package store is the on-disk, size-bounded thumbnail cache.
//
// Thumbnails are addressed by fingerprint and written atomically under a
// dedicated cache directory. An in-memory LRU, replayed from a sqlite index
// at open, drives least-recently-used eviction; pinned keys (displayed by a
// live grid cell) and in-flight keys are never evicted. Concurrent
// generation requests for one key collapse into a single call.
package store

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/okaneo/gridview/internal/errutil"
	"github.com/okaneo/gridview/internal/fingerprint"
	"golang.org/x/sync/singleflight"
)

const indexFile = "index.db"

// Thumbnail is a committed cache entry.
type Thumbnail struct {
	Key  fingerprint.Key
	Path string
	Size int64
}

// Store is safe for concurrent use.
type Store struct {
	dir string
	// capacity is the total size bound in bytes. 0 disables eviction.
	capacity int64

	group singleflight.Group

	mu       sync.Mutex
	lru      *lruList
	total    int64
	pins     map[fingerprint.Key]int
	inflight map[fingerprint.Key]struct{}

	idx *index
}

// Open opens (or creates) the cache at dir, replays the persisted index
// and sweeps files left behind by an earlier session.
func Open(dir string, capacity int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	idx, err := openIndex(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:      dir,
		capacity: capacity,
		lru:      newLRUList(),
		pins:     make(map[fingerprint.Key]int),
		inflight: make(map[fingerprint.Key]struct{}),
		idx:      idx,
	}

	err = idx.Load(func(key string, size int64) error {
		k := fingerprint.Key(key)
		if _, statErr := os.Stat(s.thumbPath(k)); statErr != nil {
			errutil.LogMsg(idx.Delete(context.Background(), key), "Failed to drop dangling index row", "key", key)
			return nil
		}
		s.total += s.lru.add(k, size)
		return nil
	})
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	s.sweep()
	slog.Info("Thumbnail cache opened", "dir", dir, "entries", s.lru.len(), "bytes", s.total, "capacity", capacity)
	return s, nil
}

// Dir returns the cache directory. Fetched remote sources are staged here
// so session teardown sweeps them with everything else uncommitted.
func (s *Store) Dir() string { return s.dir }

func (s *Store) thumbPath(key fingerprint.Key) string {
	return filepath.Join(s.dir, string(key)+".png")
}

// Get returns the committed thumbnail for key, recording the access for
// eviction ordering. It never blocks on generation.
func (s *Store) Get(key fingerprint.Key) (Thumbnail, bool) {
	s.mu.Lock()
	size, ok := s.lru.size(key)
	if ok {
		s.lru.touch(key)
	}
	s.mu.Unlock()
	if !ok {
		return Thumbnail{}, false
	}

	errutil.LogMsg(s.idx.Touch(context.Background(), string(key), time.Now().UnixNano()),
		"Failed to record thumbnail access", "key", key)
	return Thumbnail{Key: key, Path: s.thumbPath(key), Size: size}, true
}

// InFlight reports whether a generation for key is currently running.
func (s *Store) InFlight(key fingerprint.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[key]
	return ok
}

// GetOrGenerate returns the thumbnail for key, invoking generate at most
// once across all concurrent callers on a miss. A failed generation is
// never stored and releases the claim, so a later call retries.
func (s *Store) GetOrGenerate(ctx context.Context, key fingerprint.Key, generate func() (image.Image, error)) (Thumbnail, error) {
	if th, ok := s.Get(key); ok {
		return th, nil
	}
	if err := ctx.Err(); err != nil {
		return Thumbnail{}, err
	}

	v, err, _ := s.group.Do(string(key), func() (any, error) {
		// A concurrent caller may have committed between our miss and now.
		if th, ok := s.Get(key); ok {
			return th, nil
		}

		s.claim(key)
		defer s.release(key)

		img, err := generate()
		if err != nil {
			return nil, err
		}
		return s.put(key, img)
	})
	if err != nil {
		return Thumbnail{}, err
	}
	return v.(Thumbnail), nil
}

// Acquire returns the thumbnail for key with a pin already held, generating
// it if needed. Pinning happens under the same critical section that checks
// the entry is still committed, so a concurrent eviction can never win the
// race between generation and display; if the key was evicted in between,
// Acquire regenerates. Callers must Unpin when the cell stops displaying it.
func (s *Store) Acquire(ctx context.Context, key fingerprint.Key, generate func() (image.Image, error)) (Thumbnail, error) {
	for {
		th, err := s.GetOrGenerate(ctx, key, generate)
		if err != nil {
			return Thumbnail{}, err
		}

		s.mu.Lock()
		_, committed := s.lru.size(key)
		if committed {
			s.pins[key]++
		}
		s.mu.Unlock()
		if committed {
			return th, nil
		}
	}
}

func (s *Store) claim(key fingerprint.Key) {
	s.mu.Lock()
	s.inflight[key] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) release(key fingerprint.Key) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// put commits a generated raster: encode to a temp file, rename into place,
// then account for it and evict cold entries until the store fits again.
func (s *Store) put(key fingerprint.Key, img image.Image) (Thumbnail, error) {
	tmp, err := os.CreateTemp(s.dir, "put-*")
	if err != nil {
		return Thumbnail{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := imaging.Encode(tmp, img, imaging.PNG); err != nil {
		_ = tmp.Close()
		return Thumbnail{}, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		_ = tmp.Close()
		return Thumbnail{}, fmt.Errorf("failed to stat temp file: %w", err)
	}
	size := info.Size()
	if err := tmp.Close(); err != nil {
		return Thumbnail{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	path := s.thumbPath(key)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Thumbnail{}, fmt.Errorf("failed to commit thumbnail: %w", err)
	}

	s.mu.Lock()
	s.total += s.lru.add(key, size)
	victims := s.collectVictimsLocked(key)
	s.mu.Unlock()

	for _, v := range victims {
		errutil.LogMsg(os.Remove(s.thumbPath(v.key)), "Failed to remove evicted thumbnail", "key", v.key)
		errutil.LogMsg(s.idx.Delete(context.Background(), string(v.key)), "Failed to drop evicted index row", "key", v.key)
		slog.Debug("Evicted thumbnail", "key", v.key, "size", v.size)
	}

	errutil.LogMsg(s.idx.Put(context.Background(), string(key), size, time.Now().UnixNano()),
		"Failed to persist thumbnail index row", "key", key)
	slog.Debug("Stored thumbnail", "key", key, "size", size)
	return Thumbnail{Key: key, Path: path, Size: size}, nil
}

// collectVictimsLocked removes over-capacity entries from the in-memory
// state and returns them for file deletion outside the lock. The entry
// being committed is never its own victim.
func (s *Store) collectVictimsLocked(committing fingerprint.Key) []victim {
	if s.capacity <= 0 || s.total <= s.capacity {
		return nil
	}
	victims := s.lru.victims(s.total, s.capacity, func(key fingerprint.Key) bool {
		if key == committing {
			return true
		}
		if _, pinned := s.pins[key]; pinned {
			return true
		}
		_, busy := s.inflight[key]
		return busy
	})
	for _, v := range victims {
		s.lru.remove(v.key)
		s.total -= v.size
	}
	return victims
}

// Pin protects key from eviction while a live cell displays it.
func (s *Store) Pin(key fingerprint.Key) {
	s.mu.Lock()
	s.pins[key]++
	s.mu.Unlock()
}

// Unpin releases one Pin reference.
func (s *Store) Unpin(key fingerprint.Key) {
	s.mu.Lock()
	if s.pins[key] > 1 {
		s.pins[key]--
	} else {
		delete(s.pins, key)
	}
	s.mu.Unlock()
}

// Stats returns the committed entry count and total byte size.
func (s *Store) Stats() (entries int, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.len(), s.total
}

// Clear removes every committed thumbnail and empties the index.
func (s *Store) Clear() error {
	s.mu.Lock()
	keys := s.lru.keys()
	for _, k := range keys {
		s.lru.remove(k)
	}
	s.total = 0
	s.mu.Unlock()

	for _, k := range keys {
		errutil.LogMsg(os.Remove(s.thumbPath(k)), "Failed to remove thumbnail", "key", k)
	}
	return s.idx.Clear(context.Background())
}

// Close sweeps uncommitted files and closes the index.
func (s *Store) Close() error {
	s.sweep()
	return s.idx.Close()
}

// sweep deletes files in the cache dir that are neither the index nor a
// committed thumbnail: generation temps, fetched source staging files and
// thumbnails evicted from the index but never unlinked.
func (s *Store) sweep() {
	list, err := os.ReadDir(s.dir)
	if err != nil {
		errutil.LogMsg(err, "Failed to sweep cache dir", "dir", s.dir)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range list {
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, indexFile) {
			continue
		}
		if !strings.HasPrefix(name, "put-") && !strings.HasPrefix(name, "fetch-") {
			key := fingerprint.Key(strings.TrimSuffix(name, ".png"))
			if _, ok := s.lru.size(key); ok {
				continue
			}
		}
		errutil.LogMsg(os.Remove(filepath.Join(s.dir, name)), "Failed to remove stale cache file", "name", name)
	}
}
