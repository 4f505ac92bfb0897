package tagger

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned for requests submitted after Close
var ErrPoolClosed = errors.New("tagger pool is closed")

// DefaultQueueSize bounds how many requests may wait for a worker
const DefaultQueueSize = 100

type task struct {
	ctx    context.Context
	req    Request
	result chan Response
}

// Pool runs predictions on a fixed number of workers, so a burst of
// requests cannot start more concurrent model invocations than workers.
type Pool struct {
	tagger *Tagger
	tasks  chan task
	wg     sync.WaitGroup

	closeOnce sync.Once
	closing   bool
	closeLock sync.RWMutex
}

// NewPool starts workers goroutines. workers below 1 is treated as 1.
func NewPool(t *Tagger, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pool{
		tagger: t,
		tasks:  make(chan task, queueSize),
	}

	t.logger.WithField("workers", workers).Info("starting prediction workers")
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for tk := range p.tasks {
		if err := tk.ctx.Err(); err != nil {
			tk.result <- errorResponse(ResolveStrategy(tk.req.Strategy), err)
			continue
		}
		tk.result <- p.tagger.Predict(tk.ctx, tk.req.Image, tk.req.TopK, tk.req.Strategy)
	}
}

// Predict queues req and waits for its response or for ctx to end
func (p *Pool) Predict(ctx context.Context, req Request) Response {
	id := ResolveStrategy(req.Strategy)
	tk := task{ctx: ctx, req: req, result: make(chan Response, 1)}

	p.closeLock.RLock()
	if p.closing {
		p.closeLock.RUnlock()
		return errorResponse(id, ErrPoolClosed)
	}
	select {
	case p.tasks <- tk:
		p.closeLock.RUnlock()
	case <-ctx.Done():
		p.closeLock.RUnlock()
		return errorResponse(id, ctx.Err())
	}

	select {
	case resp := <-tk.result:
		return resp
	case <-ctx.Done():
		return errorResponse(id, ctx.Err())
	}
}

// Close stops accepting requests, lets queued ones finish and waits for the
// workers to exit. It is safe to call Close multiple times.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closeLock.Lock()
		p.closing = true
		close(p.tasks)
		p.closeLock.Unlock()

		p.wg.Wait()
	})
}
