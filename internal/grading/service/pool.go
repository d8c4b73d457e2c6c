package service

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed number of workers over one queue.
type Pool struct {
	queue   *Queue
	workers []*Worker
}

// NewPool creates size workers sharing deps and cfg.
func NewPool(queue *Queue, size int, deps Deps, cfg WorkerConfig) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{queue: queue, workers: make([]*Worker, 0, size)}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, NewWorker(i, queue, deps, cfg))
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Run blocks until every worker has stopped. Cancelling ctx stops dequeuing
// and kills in-flight executions.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}
