package engine

import (
	"context"
	"sync"

	"athena/pkg/logger"
)

// Pool is the single bounded worker pool all agent invocations and
// scheduler-triggered sessions run on. The size is a configuration
// constant; work beyond it queues on Submit instead of spawning
// unbounded goroutines.
type Pool struct {
	sem  chan struct{}
	wg   sync.WaitGroup
	log  *logger.Logger
	size int
}

// NewPool creates a pool with the given number of slots
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  make(chan struct{}, size),
		log:  logger.Get().With("component", "worker_pool"),
		size: size,
	}
}

// Size returns the configured slot count
func (p *Pool) Size() int {
	return p.size
}

// Submit blocks until a slot is free (or ctx is done), then runs fn on
// its own goroutine. Panics in fn are recovered and logged so one bad
// unit of work cannot take the pool down.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Errorw("Pool task panicked", "panic", r)
			}
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
	return nil
}

// Wait blocks until all submitted work has finished
func (p *Pool) Wait() {
	p.wg.Wait()
}
