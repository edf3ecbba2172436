// Package grid schedules thumbnail and render work for the visible cell
// window.
//
// The Scheduler is the sole writer of cell state. Workers report back by
// message (pool results, request completions); a monotonically increasing
// generation number stamps every job, and a result is applied only if its
// generation still matches the cell's. Cancellation is cooperative:
// superseded work is not interrupted, its result is dropped on arrival.
package grid

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/okaneo/gridview"
	"github.com/okaneo/gridview/internal/fetch"
	"github.com/okaneo/gridview/internal/fingerprint"
	"github.com/okaneo/gridview/internal/render"
	"github.com/okaneo/gridview/internal/source"
	"github.com/okaneo/gridview/internal/store"
	"github.com/okaneo/gridview/internal/thumb"
)

// Sink receives finished cell content. Calls arrive from scheduler
// goroutines with no lock held; implementations must not call back into
// the Scheduler synchronously from within a callback.
type Sink interface {
	CellReady(cell int, content []byte)
	CellFailed(cell int, err error)
}

// GenerateFunc produces a downsized raster from raw image bytes.
type GenerateFunc func(data []byte, dim int) (image.Image, error)

// Options configures a Scheduler.
type Options struct {
	Store   *store.Store
	Pool    *render.Pool
	Fetcher *fetch.Fetcher // nil disables URL entries
	Sink    Sink           // nil discards output

	// Generate overrides the thumbnail generator (tests instrument it).
	Generate GenerateFunc

	Thumbnail    bool
	ThumbnailDim int
	CellSize     render.CellSize
	// MaxPixels skips images whose pixel count exceeds it, unless
	// force-rendered. 0 disables the check.
	MaxPixels int64
	Style     string
}

// Scheduler owns the viewport and the per-cell state machine.
type Scheduler struct {
	store     *store.Store
	pool      *render.Pool
	fetcher   *fetch.Fetcher
	sink      Sink
	generate  GenerateFunc
	thumbnail bool
	dim       int
	maxPixels int64
	style     string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	gen      uint64
	cells    []Cell
	entries  []source.Entry
	offset   int
	cellSize render.CellSize
	// contentKeys memoizes composite file signature -> content fingerprint
	// so file bytes are hashed once per session, not once per viewport pass.
	contentKeys map[fingerprint.Key]fingerprint.Key

	drained chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler wires the pipeline and starts consuming pool results.
func NewScheduler(opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:       opts.Store,
		pool:        opts.Pool,
		fetcher:     opts.Fetcher,
		sink:        opts.Sink,
		generate:    opts.Generate,
		thumbnail:   opts.Thumbnail,
		dim:         opts.ThumbnailDim,
		maxPixels:   opts.MaxPixels,
		style:       opts.Style,
		ctx:         ctx,
		cancel:      cancel,
		cellSize:    opts.CellSize,
		contentKeys: make(map[fingerprint.Key]fingerprint.Key),
		drained:     make(chan struct{}),
	}
	if s.generate == nil {
		var g thumb.Generator
		s.generate = g.GenerateBytes
	}
	if s.dim < 1 {
		s.dim = 256
	}
	s.pool.OnDrop = func(job render.Job) {
		if job.Key != "" {
			s.store.Unpin(job.Key)
		}
	}

	go s.drain()
	return s
}

// SetEntries binds the entry list, invalidates the viewport and fills it.
func (s *Scheduler) SetEntries(entries []source.Entry) {
	s.mu.Lock()
	s.entries = entries
	s.offset = 0
	s.invalidateLocked()
	s.refreshLocked(false)
	s.mu.Unlock()
}

// Resize changes the visible cell count and cell geometry. All cells are
// invalidated.
func (s *Scheduler) Resize(cells int, size render.CellSize) {
	if cells < 0 {
		cells = 0
	}
	s.mu.Lock()
	for i := range s.cells {
		s.resetCellLocked(&s.cells[i])
	}
	s.cells = make([]Cell, cells)
	s.cellSize = size
	s.invalidateLocked()
	s.refreshLocked(false)
	s.mu.Unlock()
}

// Scroll moves the viewport to start at entry offset.
func (s *Scheduler) Scroll(offset int) {
	s.mu.Lock()
	if offset < 0 {
		offset = 0
	}
	if offset > len(s.entries) {
		offset = len(s.entries)
	}
	s.offset = offset
	s.invalidateLocked()
	s.refreshLocked(false)
	s.mu.Unlock()
}

// ForceRender re-renders every visible cell, bypassing the oversize skip
// and any cached Rendered state.
func (s *Scheduler) ForceRender() {
	s.mu.Lock()
	s.invalidateLocked()
	s.refreshLocked(true)
	s.mu.Unlock()
}

// Refresh re-evaluates visible cells without bumping the generation.
// Rendered and in-progress cells of the current generation are left alone.
func (s *Scheduler) Refresh() {
	s.mu.Lock()
	s.refreshLocked(false)
	s.mu.Unlock()
}

// Generation returns the current viewport generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// States returns a snapshot of the per-cell states.
func (s *Scheduler) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.cells))
	for i := range s.cells {
		out[i] = s.cells[i].State
	}
	return out
}

// Content returns the rendered bytes of cell i, if any.
func (s *Scheduler) Content(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.cells) {
		return nil
	}
	return s.cells[i].Content
}

// Err returns the error recorded for cell i, if any.
func (s *Scheduler) Err(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.cells) {
		return nil
	}
	return s.cells[i].Err
}

// Close tears the session down: outstanding work is invalidated, request
// goroutines joined, the pool closed and all pinned thumbnails released.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.pool.Close()
	<-s.drained

	s.mu.Lock()
	for i := range s.cells {
		s.resetCellLocked(&s.cells[i])
	}
	s.mu.Unlock()
}

// invalidateLocked opens a new generation; in-progress and rendered cells
// of the old generation become Stale and late results will be dropped.
func (s *Scheduler) invalidateLocked() {
	s.gen++
	for i := range s.cells {
		if s.cells[i].State != Empty {
			s.cells[i].State = Stale
		}
	}
}

// refreshLocked binds visible entries to cells and submits work for every
// cell that is not already current.
func (s *Scheduler) refreshLocked(force bool) {
	for i := range s.cells {
		c := &s.cells[i]
		idx := s.offset + i
		if idx >= len(s.entries) {
			s.resetCellLocked(c)
			continue
		}
		ent := &s.entries[idx]

		current := c.Entry == ent && c.Gen == s.gen &&
			(c.State == Pending || c.State == Rendering || c.State == Rendered)
		if current && !force {
			continue
		}

		s.resetCellLocked(c)
		c.Entry = ent
		c.State = Pending
		c.Gen = s.gen

		s.wg.Add(1)
		go s.request(i, *ent, s.gen, force)
	}
}

func (s *Scheduler) resetCellLocked(c *Cell) {
	if c.pinned {
		s.store.Unpin(c.key)
		c.pinned = false
	}
	*c = Cell{}
}

// request resolves one cell end to end: obtain local bytes, fingerprint,
// thumbnail (cache hit or deduplicated generation), then a render job.
// Runs off the scheduler goroutine; every transition re-checks the
// generation.
func (s *Scheduler) request(cell int, ent source.Entry, gen uint64, force bool) {
	defer s.wg.Done()

	data, err := s.entryBytes(ent)
	if err != nil {
		s.fail(cell, gen, err)
		return
	}

	if !force && s.maxPixels > 0 {
		if w, h, dimErr := thumb.Dimensions(data); dimErr == nil && int64(w)*int64(h) > s.maxPixels {
			s.fail(cell, gen, fmt.Errorf("%w: %dx%d exceeds max pixels %d", gridview.ErrRenderFailed, w, h, s.maxPixels))
			return
		}
	}

	var img image.Image
	var key fingerprint.Key
	pinned := false

	if s.thumbnail {
		key = s.contentKey(ent, data)
		th, err := s.store.Acquire(s.ctx, key, func() (image.Image, error) {
			return s.generate(data, s.dim)
		})
		if err != nil {
			s.fail(cell, gen, err)
			return
		}
		pinned = true

		img, err = imaging.Open(th.Path)
		if err != nil {
			s.store.Unpin(key)
			s.fail(cell, gen, fmt.Errorf("%w: %v", gridview.ErrDecodeFailed, err))
			return
		}
	} else {
		// Without thumbnails, decode the source directly at roughly the
		// cell's pixel budget.
		dim := s.cellSizePixels()
		var genErr error
		img, genErr = s.generate(data, dim)
		if genErr != nil {
			s.fail(cell, gen, genErr)
			return
		}
	}

	s.mu.Lock()
	stale := s.gen != gen || cell >= len(s.cells) || s.cells[cell].Gen != gen
	if !stale {
		s.cells[cell].State = Rendering
	}
	size := s.cellSize
	s.mu.Unlock()

	if stale {
		if pinned {
			s.store.Unpin(key)
		}
		slog.Debug("Dropping superseded request", "cell", cell, "gen", gen)
		return
	}

	jobKey := key
	if !pinned {
		jobKey = ""
	}
	s.pool.Submit(render.Job{
		Cell:  cell,
		Gen:   gen,
		Key:   jobKey,
		Img:   img,
		Size:  size,
		Style: s.style,
	})
}

// entryBytes returns the raw image bytes for ent, fetching remote entries
// into the cache directory first.
func (s *Scheduler) entryBytes(ent source.Entry) ([]byte, error) {
	if ent.Remote {
		if s.fetcher == nil {
			return nil, fmt.Errorf("%w: no fetcher configured for %q", gridview.ErrFetchFailed, ent.Path)
		}
		_, data, err := s.fetcher.FetchToCache(s.ctx, ent.Path, s.store.Dir())
		return data, err
	}
	data, err := os.ReadFile(ent.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gridview.ErrSourceInvalid, err)
	}
	return data, nil
}

// contentKey fingerprints ent's content, memoized per session by the cheap
// path+size+mtime composite so unchanged files are hashed once.
func (s *Scheduler) contentKey(ent source.Entry, data []byte) fingerprint.Key {
	if ent.Remote {
		return fingerprint.Content(data, s.dim)
	}
	composite := fingerprint.File(ent.Path, ent.Size, ent.ModTime, s.dim)
	s.mu.Lock()
	key, ok := s.contentKeys[composite]
	s.mu.Unlock()
	if ok {
		return key
	}
	key = fingerprint.Content(data, s.dim)
	s.mu.Lock()
	s.contentKeys[composite] = key
	s.mu.Unlock()
	return key
}

func (s *Scheduler) cellSizePixels() int {
	px := s.cellSize.Cols
	if h := s.cellSize.Rows * 2; h > px {
		px = h
	}
	if px < 1 {
		px = 1
	}
	return px
}

// fail moves a cell to Errored unless the result is stale.
func (s *Scheduler) fail(cell int, gen uint64, err error) {
	s.mu.Lock()
	stale := s.gen != gen || cell >= len(s.cells) || s.cells[cell].Gen != gen
	if !stale {
		s.cells[cell].State = Errored
		s.cells[cell].Err = err
	}
	s.mu.Unlock()

	if stale {
		slog.Debug("Dropping superseded failure", "cell", cell, "gen", gen, "error", err)
		return
	}
	slog.Warn("Cell failed", "cell", cell, "error", err)
	if s.sink != nil {
		s.sink.CellFailed(cell, err)
	}
}

// drain applies pool results until the pool closes.
func (s *Scheduler) drain() {
	defer close(s.drained)
	for res := range s.pool.Results() {
		s.apply(res)
	}
}

// apply is the single point where completed renders touch cell state.
func (s *Scheduler) apply(res render.Result) {
	s.mu.Lock()
	stale := s.gen != res.Gen || res.Cell >= len(s.cells) || s.cells[res.Cell].Gen != res.Gen
	if stale {
		s.mu.Unlock()
		if res.Key != "" {
			s.store.Unpin(res.Key)
		}
		slog.Debug("Dropping superseded result", "cell", res.Cell, "gen", res.Gen)
		return
	}

	c := &s.cells[res.Cell]
	if res.Err != nil {
		c.State = Errored
		c.Err = res.Err
		s.mu.Unlock()
		if res.Key != "" {
			s.store.Unpin(res.Key)
		}
		slog.Warn("Cell render failed", "cell", res.Cell, "error", res.Err)
		if s.sink != nil {
			s.sink.CellFailed(res.Cell, res.Err)
		}
		return
	}

	c.State = Rendered
	c.Content = res.Data
	c.key = res.Key
	c.pinned = res.Key != ""
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.CellReady(res.Cell, res.Data)
	}
}
