package orchestrator

import (
	"context"
	"sync"
)

type task func(ctx context.Context)

// pool is a bounded worker pool. At most `workers` tasks run at once; the
// rest queue on the tasks channel.
type pool struct {
	workers int
	tasks   chan task
	wg      sync.WaitGroup
}

func newPool(workers, buffer int) *pool {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &pool{
		workers: workers,
		tasks:   make(chan task, buffer),
	}
}

// start launches the workers. Workers drain the queue even after ctx is
// cancelled: every submitted pipeline must still run to produce its terminal
// record, and cancellation is observed inside the task itself.
func (p *pool) start(ctx context.Context) {
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				if t == nil {
					continue
				}
				t(ctx)
			}
		}()
	}
}

func (p *pool) submit(t task) {
	p.tasks <- t
}

// close stops accepting tasks. Call exactly once, after the last submit.
func (p *pool) close() {
	close(p.tasks)
}

// wait blocks until all submitted tasks finished.
func (p *pool) wait() {
	p.wg.Wait()
}
