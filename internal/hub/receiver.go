package hub

import (
	"context"
	"sync/atomic"
)

// Receiver reads one topic. It must be used from a single goroutine.
type Receiver[T any] struct {
	hub    *Hub[T]
	topic  string
	ch     *channel[T]
	next   uint64
	closed atomic.Bool
}

// Topic returns the topic this receiver reads.
func (r *Receiver[T]) Topic() string {
	return r.topic
}

// Recv blocks until the next item is available.
//
// If the receiver fell behind, Recv returns a *LagError, skips to the oldest
// retained item and can be called again.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, wait, err := r.poll()
		if err != nil || wait == nil {
			return v, err
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// TryRecv returns the next item without blocking. ok is false when nothing
// is pending.
func (r *Receiver[T]) TryRecv() (v T, ok bool, err error) {
	v, wait, err := r.poll()
	if err != nil || wait != nil {
		return v, false, err
	}
	return v, true, nil
}

// Close releases the subscription. deactivated is true only when this call
// moved the topic's count from 1 to 0.
func (r *Receiver[T]) Close() (deactivated bool) {
	if !r.closed.CompareAndSwap(false, true) {
		return false
	}

	r.ch.mu.Lock()
	r.ch.subscribers--
	deactivated = r.ch.subscribers == 0
	r.ch.mu.Unlock()

	if deactivated {
		r.hub.collect(r.topic)
	}
	return deactivated
}

// poll returns either an item, an error, or a channel to wait on.
func (r *Receiver[T]) poll() (T, <-chan struct{}, error) {
	var zero T
	c := r.ch

	c.mu.Lock()
	defer c.mu.Unlock()

	if r.next < c.tail {
		size := uint64(len(c.buf))
		if c.tail-r.next > size {
			oldest := c.tail - size
			skipped := oldest - r.next
			r.next = oldest
			r.hub.lagged.Add(1)
			return zero, nil, &LagError{Skipped: skipped}
		}
		v := c.buf[r.next%size]
		r.next++
		return v, nil, nil
	}

	if c.closed || r.closed.Load() {
		return zero, nil, ErrClosed
	}
	return zero, c.notify, nil
}
