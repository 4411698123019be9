package event

import (
	"context"
	"sync"

	"github.com/CUknot/chatroom_backend/metrics"
	"github.com/rs/zerolog/log"
)

// Topic fans one kind of event out to every open subscription. Publish never
// blocks: a subscriber whose queue is full misses the event.
type Topic[T any] struct {
	kind   string
	buffer int

	mu     sync.RWMutex
	subs   map[*subscription[T]]struct{}
	hooks  []func(T)
	closed bool
}

type subscription[T any] struct {
	ch   chan T
	stop func() bool
}

// NewTopic returns a topic whose subscribers each queue up to buffer events.
func NewTopic[T any](kind string, buffer int) *Topic[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &Topic[T]{
		kind:   kind,
		buffer: buffer,
		subs:   make(map[*subscription[T]]struct{}),
	}
}

// Kind names the event kind, used as a metric label.
func (t *Topic[T]) Kind() string {
	return t.kind
}

// Subscribe registers a subscription that lives until ctx is done. The
// returned channel is closed when ctx is cancelled or the topic is closed.
func (t *Topic[T]) Subscribe(ctx context.Context) <-chan T {
	s := &subscription[T]{ch: make(chan T, t.buffer)}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(s.ch)
		return s.ch
	}
	t.subs[s] = struct{}{}
	// AfterFunc runs its callback on a new goroutine, which waits for mu.
	s.stop = context.AfterFunc(ctx, func() { t.unsubscribe(s) })
	t.mu.Unlock()
	return s.ch
}

func (t *Topic[T]) unsubscribe(s *subscription[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[s]; ok {
		delete(t.subs, s)
		close(s.ch)
	}
}

// Subscribers returns the number of open subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// OnPublish registers fn to run after every Publish. Deliver does not run
// hooks.
func (t *Topic[T]) OnPublish(fn func(T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// Publish delivers v to local subscribers and then runs the publish hooks.
func (t *Topic[T]) Publish(v T) {
	t.Deliver(v)

	t.mu.RLock()
	hooks := t.hooks
	t.mu.RUnlock()
	for _, fn := range hooks {
		fn(v)
	}
}

// Deliver fans v out to local subscribers only.
func (t *Topic[T]) Deliver(v T) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics.EventsPublishedTotal.WithLabelValues(t.kind).Inc()
	for s := range t.subs {
		select {
		case s.ch <- v:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(t.kind).Inc()
			log.Warn().Str("kind", t.kind).Int("buffer", t.buffer).Msg("event dropped: subscriber queue full")
		}
	}
}

// Close ends every subscription. Later subscriptions are closed on arrival.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for s := range t.subs {
		if s.stop != nil {
			s.stop()
		}
		delete(t.subs, s)
		close(s.ch)
	}
}
