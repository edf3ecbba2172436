package render

import (
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/okaneo/gridview"
	"github.com/okaneo/gridview/internal/fingerprint"
)

// Job is one cell render request. Gen stamps the viewport generation at
// submission; the scheduler drops results whose generation is stale.
type Job struct {
	Cell  int
	Gen   uint64
	Key   fingerprint.Key
	Img   image.Image
	Size  CellSize
	Style string
}

// Result is the outcome of one Job, carrying the job's stamps back so the
// scheduler can match it to a cell and release resources on staleness.
type Result struct {
	Cell int
	Gen  uint64
	Key  fingerprint.Key
	Data []byte
	Err  error
}

// Pool executes render jobs on a bounded set of workers. A pool of size 0
// executes jobs inline on the submitting goroutine.
//
// Submissions coalesce per cell: a pending, not-yet-started job for the
// same cell is superseded by the new one, so rapid scrolling never builds
// an unbounded backlog. A panicking encode is surfaced as a Result wrapping
// ErrWorkerCrashed and the worker keeps serving jobs.
//
// Close must be called while Results is still being drained.
type Pool struct {
	enc     Encoder
	workers int
	results chan Result

	// OnDrop, if set before the first Submit, is called for every job that
	// is superseded or discarded at Close without executing.
	OnDrop func(Job)

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[int]Job
	order   []int
	closed  bool

	wg sync.WaitGroup
}

// NewPool starts workers goroutines serving the job queue.
func NewPool(enc Encoder, workers int) *Pool {
	if workers < 0 {
		workers = 0
	}
	p := &Pool{
		enc:     enc,
		workers: workers,
		results: make(chan Result, workers*4+16),
		pending: make(map[int]Job),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Results delivers completed jobs. The channel is closed by Close.
func (p *Pool) Results() <-chan Result { return p.results }

// Submit queues a job, superseding any pending job for the same cell.
// With zero workers the job runs inline before Submit returns.
func (p *Pool) Submit(job Job) {
	if p.workers == 0 {
		res := p.run(job)
		// The closed check and the send share one critical section so a
		// concurrent Close cannot close the channel between them. The
		// results consumer never takes this mutex, so the send cannot
		// deadlock against it.
		p.mu.Lock()
		if !p.closed {
			p.results <- res
		}
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	old, queued := p.pending[job.Cell]
	if !queued {
		p.order = append(p.order, job.Cell)
	}
	p.pending[job.Cell] = job
	p.cond.Signal()
	p.mu.Unlock()

	if queued {
		slog.Debug("Superseded pending render job", "cell", job.Cell, "gen", old.Gen)
		if p.OnDrop != nil {
			p.OnDrop(old)
		}
	}
}

// Close discards pending jobs, joins the workers and closes Results.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dropped := make([]Job, 0, len(p.pending))
	for _, job := range p.pending {
		dropped = append(dropped, job)
	}
	p.pending = make(map[int]Job)
	p.order = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	if p.OnDrop != nil {
		for _, job := range dropped {
			p.OnDrop(job)
		}
	}

	p.wg.Wait()
	close(p.results)
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.order) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		cell := p.order[0]
		p.order = p.order[1:]
		job := p.pending[cell]
		delete(p.pending, cell)
		p.mu.Unlock()

		p.results <- p.run(job)
	}
}

// run executes one job, containing worker crashes to the job itself.
func (p *Pool) run(job Job) (res Result) {
	res = Result{Cell: job.Cell, Gen: job.Gen, Key: job.Key}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Render worker crashed", "cell", job.Cell, "panic", r)
			res.Err = fmt.Errorf("%w: %v", gridview.ErrWorkerCrashed, r)
		}
	}()

	data, err := p.enc.Encode(job.Img, job.Size, job.Style)
	if err != nil {
		res.Err = err
		return res
	}
	res.Data = data
	return res
}
