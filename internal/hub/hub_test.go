package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	h := New[int](8)

	assert.Equal(t, 0, h.Publish("EIGEN", 1))
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.SubscriberCount("EIGEN"))
}

func TestHub_SubscribeTransitions(t *testing.T) {
	h := New[int](8)

	r1, activated := h.Subscribe("EIGEN")
	assert.True(t, activated)
	r2, activated := h.Subscribe("EIGEN")
	assert.False(t, activated)
	assert.Equal(t, 2, h.SubscriberCount("EIGEN"))

	assert.False(t, r1.Close())
	assert.False(t, r1.Close(), "second close is a no-op")
	assert.True(t, r2.Close())

	assert.Equal(t, 0, h.SubscriberCount("EIGEN"))
	assert.Equal(t, 0, h.Len(), "idle topic is collected")

	r3, activated := h.Subscribe("EIGEN")
	assert.True(t, activated)
	r3.Close()
}

func TestHub_FanOut(t *testing.T) {
	h := New[string](8)
	ctx := context.Background()

	a, _ := h.Subscribe("t")
	b, _ := h.Subscribe("t")
	defer a.Close()
	defer b.Close()

	assert.Equal(t, 2, h.Publish("t", "x"))
	assert.Equal(t, 2, h.Publish("t", "y"))

	for _, r := range []*Receiver[string]{a, b} {
		v, err := r.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, "x", v)
		v, err = r.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, "y", v)
	}
}

func TestHub_NewReceiverStartsAtTail(t *testing.T) {
	h := New[int](8)
	first, _ := h.Subscribe("t")
	defer first.Close()
	h.Publish("t", 1)

	late, _ := h.Subscribe("t")
	defer late.Close()

	_, ok, err := late.TryRecv()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHub_SlowReceiverLags(t *testing.T) {
	h := New[int](4)
	r, _ := h.Subscribe("t")
	defer r.Close()

	start := time.Now()
	for i := 0; i < 10; i++ {
		assert.Equal(t, 1, h.Publish("t", i))
	}
	assert.Less(t, time.Since(start), time.Second, "publisher must not block")

	_, err := r.Recv(context.Background())
	var lag *LagError
	require.ErrorAs(t, err, &lag)
	assert.Equal(t, uint64(6), lag.Skipped)

	for want := 6; want < 10; want++ {
		v, err := r.Recv(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	assert.Equal(t, int64(1), h.Stats().Lagged)
}

func TestHub_RecvWakesOnPublish(t *testing.T) {
	h := New[int](4)
	r, _ := h.Subscribe("t")
	defer r.Close()

	got := make(chan int, 1)
	go func() {
		v, err := r.Recv(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	h.Publish("t", 42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Recv did not wake")
	}
}

func TestHub_RecvContextCancel(t *testing.T) {
	h := New[int](4)
	r, _ := h.Subscribe("t")
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Recv(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHub_CloseDrainsThenErrors(t *testing.T) {
	h := New[int](4)
	r, _ := h.Subscribe("t")
	h.Publish("t", 7)
	h.Close()

	v, err := r.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = r.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, h.Publish("t", 8))
}

func TestHub_ConcurrentTransitionsAreExact(t *testing.T) {
	h := New[int](4)
	const n = 64

	var activations, deactivations atomic.Int32
	receivers := make([]*Receiver[int], n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, activated := h.Subscribe("EIGEN")
			if activated {
				activations.Add(1)
			}
			receivers[i] = r
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, h.SubscriberCount("EIGEN"))

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(r *Receiver[int]) {
			defer wg.Done()
			if r.Close() {
				deactivations.Add(1)
			}
		}(receivers[i])
	}
	wg.Wait()

	assert.Equal(t, int32(1), activations.Load())
	assert.Equal(t, int32(1), deactivations.Load())
	assert.Equal(t, 0, h.SubscriberCount("EIGEN"))
}

func TestHub_ActiveTopicsAndSweep(t *testing.T) {
	h := New[int](4)
	a, _ := h.Subscribe("b-topic")
	b, _ := h.Subscribe("a-topic")
	defer a.Close()

	assert.Equal(t, []string{"a-topic", "b-topic"}, h.ActiveTopics())

	b.Close()
	assert.Equal(t, []string{"b-topic"}, h.ActiveTopics())
	assert.Equal(t, 0, h.Sweep())
	assert.Equal(t, 1, h.Len())
}
