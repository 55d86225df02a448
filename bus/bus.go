// Package bus distributes change events from the notification listener to
// local subscribers. Every subscriber owns an unbounded FIFO drained by its own
// goroutine, so it sees events in publish order and a slow subscriber never
// holds up the publisher or other subscribers.
package bus

import (
	"sync"

	"github.com/eapache/channels"

	"github.com/alpacahq/peersync/metrics"
	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/utils/log"
)

// Handler processes one change event.
type Handler func(ev models.ChangeEvent)

type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
	wg     sync.WaitGroup
}

type subscriber struct {
	name    string
	queue   *channels.InfiniteChannel
	handler Handler
	once    sync.Once
}

func New() *Bus {
	return &Bus{subs: map[*subscriber]struct{}{}}
}

// Subscribe registers h under name and starts delivering events published from now on.
// The returned function unsubscribes; events already queued are still delivered.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	s := &subscriber{
		name:    name,
		queue:   channels.NewInfiniteChannel(),
		handler: h,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.queue.Close()
		return func() {}
	}
	b.subs[s] = struct{}{}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		s.run()
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			s.close()
		}
	}
}

// Publish queues ev for every subscriber. It never blocks on a handler.
func (b *Bus) Publish(ev models.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		log.Debug("bus is closed, dropping event id=%s", ev.ID())
		return
	}
	for s := range b.subs {
		s.queue.In() <- ev
	}
	metrics.BusPublishedTotal.Inc()
}

// Close stops accepting events and waits until every subscriber drained its queue.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.close()
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (s *subscriber) close() {
	s.once.Do(s.queue.Close)
}

func (s *subscriber) run() {
	for v := range s.queue.Out() {
		ev, ok := v.(models.ChangeEvent)
		if !ok {
			continue
		}
		s.deliver(ev)
	}
}

func (s *subscriber) deliver(ev models.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusHandlerPanicsTotal.WithLabelValues(s.name).Inc()
			log.Error("recovered from a panic in bus subscriber %s: %v", s.name, r)
		}
	}()
	s.handler(ev)
}
