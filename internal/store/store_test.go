package store

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/okaneo/gridview/internal/fingerprint"
)

func testRaster() image.Image {
	return imaging.New(64, 64, color.NRGBA{R: 10, G: 120, B: 80, A: 255})
}

func mustOpen(t *testing.T, dir string, capacity int64) *Store {
	t.Helper()
	s, err := Open(dir, capacity)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// rasterSize commits one throwaway entry to learn the encoded byte size of
// the uniform test raster.
func rasterSize(t *testing.T) int64 {
	t.Helper()
	s := mustOpen(t, t.TempDir(), 0)
	th, err := s.put(fingerprint.Key("probe"), testRaster())
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	return th.Size
}

func TestGetAfterPut(t *testing.T) {
	s := mustOpen(t, t.TempDir(), 0)
	key := fingerprint.Key("aaaa")

	if _, ok := s.Get(key); ok {
		t.Fatal("Get returned a hit on an empty store")
	}

	th, err := s.put(key, testRaster())
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := os.Stat(th.Path); err != nil {
		t.Fatalf("thumbnail file missing: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, ok := s.Get(key)
		if !ok {
			t.Fatalf("Get miss after put (attempt %d)", i)
		}
		if got.Path != th.Path || got.Size != th.Size {
			t.Errorf("Get returned %+v, want %+v", got, th)
		}
	}
}

func TestGetOrGenerateDeduplicates(t *testing.T) {
	s := mustOpen(t, t.TempDir(), 0)
	key := fingerprint.Key("bbbb")

	var calls atomic.Int64
	gate := make(chan struct{})
	generate := func() (image.Image, error) {
		calls.Add(1)
		<-gate
		return testRaster(), nil
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.GetOrGenerate(context.Background(), key, generate)
		}(i)
	}

	// Wait until the one generation is in flight before letting it finish.
	for !s.InFlight(key) {
		runtime.Gosched()
	}
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("requester %d failed: %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 generator call, got %d", got)
	}
	if s.InFlight(key) {
		t.Error("key still marked in-flight after completion")
	}
}

func TestGetOrGenerateFailureNotCached(t *testing.T) {
	s := mustOpen(t, t.TempDir(), 0)
	key := fingerprint.Key("cccc")
	boom := errors.New("decode exploded")

	_, err := s.GetOrGenerate(context.Background(), key, func() (image.Image, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if _, ok := s.Get(key); ok {
		t.Fatal("failed generation was cached")
	}
	if s.InFlight(key) {
		t.Fatal("failed key still claimed")
	}

	var calls int
	th, err := s.GetOrGenerate(context.Background(), key, func() (image.Image, error) {
		calls++
		return testRaster(), nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected retry to invoke the generator, got %d calls", calls)
	}
	if _, ok := s.Get(th.Key); !ok {
		t.Error("retried generation was not cached")
	}
}

func TestEvictionLRU(t *testing.T) {
	size := rasterSize(t)
	s := mustOpen(t, t.TempDir(), 3*size)

	k := func(n string) fingerprint.Key { return fingerprint.Key(n) }
	for _, name := range []string{"k1", "k2", "k3"} {
		if _, err := s.put(k(name), testRaster()); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}

	// Refresh k1 so k2 is the coldest entry.
	if _, ok := s.Get(k("k1")); !ok {
		t.Fatal("k1 missing")
	}

	if _, err := s.put(k("k4"), testRaster()); err != nil {
		t.Fatalf("put k4: %v", err)
	}

	if _, ok := s.Get(k("k2")); ok {
		t.Error("expected coldest entry k2 to be evicted")
	}
	if _, err := os.Stat(s.thumbPath(k("k2"))); !os.IsNotExist(err) {
		t.Error("evicted thumbnail file still on disk")
	}
	for _, name := range []string{"k1", "k3", "k4"} {
		if _, ok := s.Get(k(name)); !ok {
			t.Errorf("expected %s to survive eviction", name)
		}
	}
	if entries, bytes := s.Stats(); entries != 3 || bytes > 3*size {
		t.Errorf("expected 3 entries within %d bytes, got %d entries, %d bytes", 3*size, entries, bytes)
	}
}

func TestEvictionSkipsPinned(t *testing.T) {
	size := rasterSize(t)
	s := mustOpen(t, t.TempDir(), size)

	pinned := fingerprint.Key("pinned")
	if _, err := s.put(pinned, testRaster()); err != nil {
		t.Fatal(err)
	}
	s.Pin(pinned)

	if _, err := s.put(fingerprint.Key("other"), testRaster()); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Get(pinned); !ok {
		t.Error("pinned entry was evicted")
	}
	if _, ok := s.Get(fingerprint.Key("other")); !ok {
		t.Error("unpinned newcomer should survive, the pinned entry is exempt not protected-against")
	}

	s.Unpin(pinned)
	// With the pin gone the next put can evict it.
	if _, err := s.put(fingerprint.Key("third"), testRaster()); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get(pinned); ok {
		t.Error("expected unpinned entry to become evictable")
	}
}

func TestAcquireHoldsPin(t *testing.T) {
	size := rasterSize(t)
	s := mustOpen(t, t.TempDir(), size)
	key := fingerprint.Key("held")

	th, err := s.Acquire(context.Background(), key, func() (image.Image, error) {
		return testRaster(), nil
	})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if th.Key != key {
		t.Fatalf("Acquire returned key %q, want %q", th.Key, key)
	}

	// The pin is already held when Acquire returns, so capacity pressure
	// from a later commit must not touch the acquired entry.
	if _, err := s.put(fingerprint.Key("other"), testRaster()); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, ok := s.Get(key); !ok {
		t.Fatal("acquired thumbnail was evicted while pinned")
	}

	s.Unpin(key)
	if _, err := s.put(fingerprint.Key("third"), testRaster()); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, ok := s.Get(key); ok {
		t.Fatal("released thumbnail survived eviction")
	}
}

func TestUnboundedCapacity(t *testing.T) {
	s := mustOpen(t, t.TempDir(), 0)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		if _, err := s.put(fingerprint.Key(name), testRaster()); err != nil {
			t.Fatal(err)
		}
	}
	if entries, _ := s.Stats(); entries != 5 {
		t.Errorf("expected all 5 entries with capacity 0, got %d", entries)
	}
}

func TestPersistenceAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	key := fingerprint.Key("persisted")

	s, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.put(key, testRaster()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2 := mustOpen(t, dir, 0)
	if _, ok := s2.Get(key); !ok {
		t.Error("expected committed thumbnail to survive reopen")
	}
}

func TestSweepRemovesStaleFiles(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.put(fingerprint.Key("kept"), testRaster()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"put-12345", "fetch-6789.png", "orphan.png"} {
		if err := os.WriteFile(dir+"/"+name, []byte("stale"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	s2 := mustOpen(t, dir, 0)
	for _, name := range []string{"put-12345", "fetch-6789.png", "orphan.png"} {
		if _, err := os.Stat(dir + "/" + name); !os.IsNotExist(err) {
			t.Errorf("expected %s to be swept at open", name)
		}
	}
	if _, ok := s2.Get(fingerprint.Key("kept")); !ok {
		t.Error("sweep removed a committed thumbnail")
	}
}

func TestClear(t *testing.T) {
	s := mustOpen(t, t.TempDir(), 0)
	if _, err := s.put(fingerprint.Key("x"), testRaster()); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if entries, bytes := s.Stats(); entries != 0 || bytes != 0 {
		t.Errorf("expected empty store after Clear, got %d entries, %d bytes", entries, bytes)
	}
	if _, ok := s.Get(fingerprint.Key("x")); ok {
		t.Error("Get hit after Clear")
	}
}
