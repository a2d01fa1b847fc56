// Package async provides the worker pool used to run agent operations off the
// event-stream goroutine.
package async

import (
	"sync"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/rs/zerolog"
)

// Processor drains a FIFO queue of items with a fixed number of workers.
// Items are handled one at a time per worker: ordering is preserved within a
// worker but not across workers. A panicking handler is logged and the worker
// continues. Items still queued when Stop is called are discarded, they are
// recoverable at the orchestrator through the ACK timeout.
type Processor[T any] struct {
	name    string
	handler func(T)
	workers int
	logger  *zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	running bool
}

// New creates a processor with the given worker count (minimum 1)
func New[T any](name string, handler func(T), workers int) *Processor[T] {
	if workers < 1 {
		workers = 1
	}
	p := &Processor[T]{
		name:    name,
		handler: handler,
		workers: workers,
		logger:  log.WithComponent(name),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutines
func (p *Processor[T]) Start() {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	for i := 0; i < p.workers; i++ {
		go p.run()
	}
	p.logger.Info().Int("workers", p.workers).Msg("started")
}

// Stop signals the workers to exit. In-flight handlers run to completion,
// queued items are dropped.
func (p *Processor[T]) Stop() {
	p.mu.Lock()
	p.running = false
	p.queue = nil
	p.mu.Unlock()
	p.cond.Broadcast()
	p.logger.Info().Msg("stopped")
}

// Schedule appends an item to the queue and wakes one worker
func (p *Processor[T]) Schedule(item T) {
	p.mu.Lock()
	p.queue = append(p.queue, item)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *Processor[T]) run() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && p.running {
			p.cond.Wait()
		}
		if !p.running {
			p.mu.Unlock()
			return
		}
		item := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.handle(item)
	}
}

func (p *Processor[T]) handle(item T) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Any("panic", r).Msg("handler panicked")
		}
	}()
	p.handler(item)
}
