package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// DefaultCapacity is the per-topic ring size.
const DefaultCapacity = 1024

// ErrClosed is returned by Recv once the hub is closed and the receiver has
// consumed everything that was published before.
var ErrClosed = errors.New("hub closed")

// LagError reports that a receiver fell behind and lost Skipped items.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("receiver lagged, %d messages skipped", e.Skipped)
}

// Stats contains hub counters.
type Stats struct {
	Topics    int
	Published int64
	Lagged    int64
}

// Hub fans out values of type T to per-topic receivers.
type Hub[T any] struct {
	capacity int
	topics   *xsync.Map[string, *channel[T]]
	closed   atomic.Bool

	published atomic.Int64
	lagged    atomic.Int64
}

// New creates a hub whose topics buffer up to capacity items.
func New[T any](capacity int) *Hub[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Hub[T]{
		capacity: capacity,
		topics:   xsync.NewMap[string, *channel[T]](),
	}
}

type channel[T any] struct {
	mu          sync.Mutex
	buf         []T
	tail        uint64 // sequence of the next publish
	subscribers int
	notify      chan struct{}
	closed      bool
}

func newChannel[T any](capacity int) *channel[T] {
	return &channel[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}),
	}
}

// Subscribe registers a receiver on topic, creating the topic if needed.
// activated is true only when this call moved the count from 0 to 1.
func (h *Hub[T]) Subscribe(topic string) (r *Receiver[T], activated bool) {
	var ch *channel[T]
	var start uint64

	h.topics.Compute(topic, func(old *channel[T], loaded bool) (*channel[T], xsync.ComputeOp) {
		if !loaded {
			old = newChannel[T](h.capacity)
			if h.closed.Load() {
				old.closed = true
			}
		}
		old.mu.Lock()
		old.subscribers++
		activated = old.subscribers == 1
		start = old.tail
		old.mu.Unlock()
		ch = old
		return old, xsync.UpdateOp
	})

	return &Receiver[T]{hub: h, topic: topic, ch: ch, next: start}, activated
}

// Publish delivers v to every current receiver of topic and returns how
// many there were. It is a no-op returning 0 when nobody is subscribed.
func (h *Hub[T]) Publish(topic string, v T) int {
	ch, ok := h.topics.Load(topic)
	if !ok {
		return 0
	}

	ch.mu.Lock()
	if ch.subscribers == 0 || ch.closed {
		ch.mu.Unlock()
		return 0
	}
	ch.buf[ch.tail%uint64(len(ch.buf))] = v
	ch.tail++
	n := ch.subscribers
	close(ch.notify)
	ch.notify = make(chan struct{})
	ch.mu.Unlock()

	h.published.Add(1)
	return n
}

// SubscriberCount returns the number of open receivers on topic.
func (h *Hub[T]) SubscriberCount(topic string) int {
	ch, ok := h.topics.Load(topic)
	if !ok {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.subscribers
}

// ActiveTopics returns the sorted topics that have at least one receiver.
func (h *Hub[T]) ActiveTopics() []string {
	var topics []string
	h.topics.Range(func(topic string, ch *channel[T]) bool {
		ch.mu.Lock()
		if ch.subscribers > 0 {
			topics = append(topics, topic)
		}
		ch.mu.Unlock()
		return true
	})
	sort.Strings(topics)
	return topics
}

// Len returns the number of topics currently held, idle ones included.
func (h *Hub[T]) Len() int {
	return h.topics.Size()
}

// Sweep removes every idle topic and returns how many were removed.
func (h *Hub[T]) Sweep() int {
	var idle []string
	h.topics.Range(func(topic string, ch *channel[T]) bool {
		ch.mu.Lock()
		if ch.subscribers == 0 {
			idle = append(idle, topic)
		}
		ch.mu.Unlock()
		return true
	})

	removed := 0
	for _, topic := range idle {
		if h.collect(topic) {
			removed++
		}
	}
	return removed
}

// Close wakes all receivers. Items already buffered can still be read.
func (h *Hub[T]) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.topics.Range(func(_ string, ch *channel[T]) bool {
		ch.mu.Lock()
		if !ch.closed {
			ch.closed = true
			close(ch.notify)
		}
		ch.mu.Unlock()
		return true
	})
}

// Stats returns current counters.
func (h *Hub[T]) Stats() Stats {
	return Stats{
		Topics:    h.topics.Size(),
		Published: h.published.Load(),
		Lagged:    h.lagged.Load(),
	}
}

// collect deletes topic if it has no receivers at the time of the check.
func (h *Hub[T]) collect(topic string) bool {
	removed := false
	h.topics.Compute(topic, func(old *channel[T], loaded bool) (*channel[T], xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		old.mu.Lock()
		idle := old.subscribers == 0
		old.mu.Unlock()
		if !idle {
			return old, xsync.CancelOp
		}
		removed = true
		return old, xsync.DeleteOp
	})
	return removed
}
