// Package cursor tracks which topics are wanted and how far each has been
// ingested. Entries live for the lifetime of the process; a topic that loses
// all of its subscribers keeps its position.
package cursor

import (
	"sort"
	"sync"

	"github.com/rickgao/eigen-stream/internal/model"
)

// Entry is a topic and a copy of its cursor.
type Entry struct {
	Topic  string
	Cursor model.Cursor
	Known  bool // a position has been recorded or seeded
}

type state struct {
	interested bool
	known      bool
	cursor     model.Cursor
}

// Store holds interest and cursors behind one lock so a snapshot never
// pairs an interest flag with a cursor from a different moment.
type Store struct {
	mu     sync.Mutex
	topics map[string]*state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{topics: make(map[string]*state)}
}

func (s *Store) entry(topic string) *state {
	st, ok := s.topics[topic]
	if !ok {
		st = &state{}
		s.topics[topic] = st
	}
	return st
}

// RegisterInterest marks topic as wanted. A non-nil since raises the replay
// floor to max(current, *since).
func (s *Store) RegisterInterest(topic string, since *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.entry(topic)
	st.interested = true
	if since != nil && *since > st.cursor.SinceHint {
		st.cursor.SinceHint = *since
	}
}

// Advance moves the cursor to (ts, id) if that is strictly after the current
// position. It reports whether the cursor moved.
func (s *Store) Advance(topic string, ts int64, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.entry(topic)
	next := model.Position{Ts: ts, ID: id}
	if st.known && !next.After(st.cursor.Position()) {
		return false
	}
	st.cursor.LastTs = ts
	st.cursor.LastID = id
	st.known = true
	return true
}

// Seed installs a persisted cursor. It never moves an existing position
// backwards and leaves the replay floor untouched.
func (s *Store) Seed(topic string, c model.Cursor) bool {
	return s.Advance(topic, c.LastTs, c.LastID)
}

// Get returns the cursor for topic and whether a position is known.
func (s *Store) Get(topic string) (model.Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.topics[topic]
	if !ok {
		return model.Cursor{}, false
	}
	return st.cursor, st.known
}

// TopicsToPoll returns every interested topic with its cursor, sorted by topic.
func (s *Store) TopicsToPoll() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.topics))
	for topic, st := range s.topics {
		if !st.interested {
			continue
		}
		out = append(out, Entry{Topic: topic, Cursor: st.cursor, Known: st.known})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}
