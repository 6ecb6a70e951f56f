package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrLifecycleClosed is returned by Flush after Close.
var ErrLifecycleClosed = errors.New("realtime: store writer closed")

// persister runs store writes one at a time, in submission order, on its own
// goroutine. Each write gets a fresh context bounded by timeout so that a hung
// backend delays only the writes queued behind it.
type persister struct {
	jobs    chan func(context.Context)
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newPersister(queue int, timeout time.Duration, logger *zap.Logger) *persister {
	p := &persister{
		jobs:    make(chan func(context.Context), queue),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) run() {
	defer close(p.done)
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		job(ctx)
		cancel()
	}
}

// submit queues job without blocking. A full queue or a closed persister
// drops it.
func (p *persister) submit(what string, job func(context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("Store write after close dropped", zap.String("write", what))
		return
	}
	select {
	case p.jobs <- job:
	default:
		p.logger.Warn("Store write queue full; write dropped", zap.String("write", what))
	}
}

// flush waits until every job submitted before the call has run.
func (p *persister) flush(ctx context.Context) error {
	done := make(chan struct{})

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrLifecycleClosed
	}
	select {
	case p.jobs <- func(context.Context) { close(done) }:
		p.mu.Unlock()
	case <-ctx.Done():
		p.mu.Unlock()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs and waits for the queued ones to finish.
func (p *persister) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain store writes")
	}
}
