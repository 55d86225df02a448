package bus_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/peersync/bus"
	"github.com/alpacahq/peersync/models"
)

func event(id string, version int64) models.ChangeEvent {
	return models.NewChangeEvent(models.OpUpdate,
		models.Record{ID: id, Version: version, Origin: "a"}, nil, "a", time.Now())
}

type collector struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (c *collector) handle(ev models.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) versions() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Version())
	}
	return out
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	t.Parallel()

	// --- given ---
	b := bus.New()
	c1, c2 := &collector{}, &collector{}
	b.Subscribe("first", c1.handle)
	b.Subscribe("second", c2.handle)

	// --- when ---
	for v := int64(1); v <= 100; v++ {
		b.Publish(event("1", v))
	}
	b.Close()

	// --- then ---
	want := make([]int64, 0, 100)
	for v := int64(1); v <= 100; v++ {
		want = append(want, v)
	}
	assert.Equal(t, want, c1.versions())
	assert.Equal(t, want, c2.versions())
}

func TestBus_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	// --- given ---
	b := bus.New()
	release := make(chan struct{})
	b.Subscribe("slow", func(models.ChangeEvent) { <-release })
	fast := make(chan int64, 10)
	b.Subscribe("fast", func(ev models.ChangeEvent) { fast <- ev.Version() })

	// --- when ---
	published := make(chan struct{})
	go func() {
		for v := int64(1); v <= 3; v++ {
			b.Publish(event("1", v))
		}
		close(published)
	}()

	// --- then ---
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked behind a slow subscriber")
	}
	for v := int64(1); v <= 3; v++ {
		select {
		case got := <-fast:
			assert.Equal(t, v, got)
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved by a slow subscriber")
		}
	}
	close(release)
	b.Close()
}

func TestBus_RecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	b := bus.New()
	c := &collector{}
	b.Subscribe("panicky", func(ev models.ChangeEvent) {
		if ev.Version() == 1 {
			panic("boom")
		}
		c.handle(ev)
	})

	b.Publish(event("1", 1))
	b.Publish(event("1", 2))
	b.Close()

	assert.Equal(t, []int64{2}, c.versions())
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := bus.New()
	c := &collector{}
	unsubscribe := b.Subscribe("c", c.handle)

	b.Publish(event("1", 1))
	unsubscribe()
	unsubscribe()
	b.Publish(event("1", 2))
	b.Close()

	require.Equal(t, []int64{1}, c.versions())
}

func TestBus_PublishAfterClose(t *testing.T) {
	t.Parallel()

	b := bus.New()
	c := &collector{}
	b.Subscribe("c", c.handle)
	b.Close()

	assert.NotPanics(t, func() { b.Publish(event("1", 1)) })
	assert.NotPanics(t, b.Close)
	b.Subscribe("late", c.handle)
	assert.Empty(t, c.versions())
}
