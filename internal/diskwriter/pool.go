package diskwriter

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// job is a single queued write, reported back on done once it lands (or
// fails).
type job struct {
	offset int64
	data   []byte
	done   chan error
}

// Pool offloads WriteBlock calls onto a small fixed set of worker goroutines
// so that piece-verification goroutines never block directly on disk I/O.
// The torrent has exactly one output file, so a handful of workers is enough
// to keep the OS write-back queue full without adding real parallelism
// beyond what a single file can usefully absorb.
type Pool struct {
	w       *Writer
	jobs    chan job
	cancel  context.CancelFunc
	group   *errgroup.Group
	workers int
}

// NewPool starts workers goroutines pulling from an internally-buffered
// queue and writing to w. Call Close to drain and stop the pool.
func NewPool(ctx context.Context, w *Writer, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)

	p := &Pool{
		w:       w,
		jobs:    make(chan job, workers*4),
		cancel:  cancel,
		group:   group,
		workers: workers,
	}

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			return p.run(ctx)
		})
	}

	return p
}

func (p *Pool) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-p.jobs:
			if !ok {
				return nil
			}
			j.done <- p.w.WriteBlock(j.offset, j.data)
		}
	}
}

// Submit queues a write and blocks until it completes or ctx is canceled.
func (p *Pool) Submit(ctx context.Context, offset int64, data []byte) error {
	j := job{offset: offset, data: data, done: make(chan error, 1)}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return fmt.Errorf("diskwriter: submit canceled: %w", ctx.Err())
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("diskwriter: write canceled: %w", ctx.Err())
	}
}

// Close stops accepting new work, drains whatever is already queued, and
// waits for every worker to exit.
func (p *Pool) Close() error {
	close(p.jobs)
	err := p.group.Wait()
	p.cancel()
	return err
}
