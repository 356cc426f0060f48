package cursor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/eigen-stream/internal/model"
)

func ptr(v int64) *int64 { return &v }

func TestStore_RegisterInterestRaisesHint(t *testing.T) {
	s := NewStore()

	s.RegisterInterest("EIGEN", ptr(100))
	s.RegisterInterest("EIGEN", ptr(50))
	s.RegisterInterest("EIGEN", nil)

	c, known := s.Get("EIGEN")
	assert.False(t, known)
	assert.Equal(t, int64(100), c.SinceHint)

	s.RegisterInterest("EIGEN", ptr(200))
	c, _ = s.Get("EIGEN")
	assert.Equal(t, int64(200), c.SinceHint)
}

func TestStore_AdvanceIsMonotonic(t *testing.T) {
	s := NewStore()

	tests := []struct {
		ts    int64
		id    string
		moved bool
	}{
		{1000, "d1", true},
		{1000, "d1", false},
		{999, "z", false},
		{1000, "d0", false},
		{1000, "d2", true},
		{1001, "a", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.moved, s.Advance("EIGEN", tt.ts, tt.id), "advance(%d,%s)", tt.ts, tt.id)
	}

	c, known := s.Get("EIGEN")
	require.True(t, known)
	assert.Equal(t, model.Position{Ts: 1001, ID: "a"}, c.Position())
}

func TestStore_SeedNeverRewinds(t *testing.T) {
	s := NewStore()
	s.Advance("EIGEN", 2000, "b")

	assert.False(t, s.Seed("EIGEN", model.Cursor{LastTs: 1000, LastID: "a"}))
	c, _ := s.Get("EIGEN")
	assert.Equal(t, int64(2000), c.LastTs)

	assert.True(t, s.Seed("OTHER", model.Cursor{LastTs: 1000, LastID: "a"}))
}

func TestStore_TopicsToPoll(t *testing.T) {
	s := NewStore()
	s.Advance("not-interested", 10, "x")
	s.RegisterInterest("b", ptr(5))
	s.RegisterInterest("a", nil)
	s.Advance("a", 10, "x")

	entries := s.TopicsToPoll()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Topic)
	assert.True(t, entries[0].Known)
	assert.Equal(t, int64(10), entries[0].Cursor.LastTs)
	assert.Equal(t, "b", entries[1].Topic)
	assert.False(t, entries[1].Known)
	assert.Equal(t, int64(5), entries[1].Cursor.SinceHint)
}

func TestStore_ConcurrentAdvance(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := int64(1); i <= 100; i++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			s.Advance("t", ts, "id")
			s.RegisterInterest("t", &ts)
		}(i)
	}
	wg.Wait()

	c, _ := s.Get("t")
	assert.Equal(t, int64(100), c.LastTs)
	assert.Equal(t, int64(100), c.SinceHint)
}
