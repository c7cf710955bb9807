package events

import (
	"context"
	"log/slog"
	"sync"
)

const defaultQueueSize = 1024

// AsyncPublisher decorates a Publisher with a buffered queue and a single
// delivery goroutine. Publish never blocks the caller: when the queue is
// full the event is dropped and logged. Events are delivered in the order
// they were enqueued.
type AsyncPublisher struct {
	inner Publisher
	log   *slog.Logger

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewAsyncPublisher(inner Publisher, log *slog.Logger) *AsyncPublisher {
	p := &AsyncPublisher{
		inner: inner,
		log:   log,
		queue: make(chan Event, defaultQueueSize),
	}
	p.wg.Add(1)
	go p.deliver()
	return p
}

func (p *AsyncPublisher) deliver() {
	defer p.wg.Done()
	for ev := range p.queue {
		// Delivery outlives the producing request, so it cannot borrow
		// the caller's context.
		if err := p.inner.Publish(context.Background(), ev); err != nil {
			p.log.Warn("event delivery failed", "type", ev.Type, "err", err)
		}
	}
}

// Publish enqueues the event and returns immediately. A full queue drops the
// event rather than stalling the state transition that produced it.
func (p *AsyncPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	select {
	case p.queue <- ev:
	default:
		p.log.Warn("event queue full, dropping event", "type", ev.Type)
	}
	return nil
}

// Close stops accepting events, flushes the queue and closes the inner
// publisher.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.inner.Close()
}

var _ Publisher = (*AsyncPublisher)(nil)
