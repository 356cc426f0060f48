package model

// Position is a point in a topic's event order. Events are totally
// ordered by (Ts, ID) compared lexicographically.
type Position struct {
	Ts int64
	ID string
}

// Less reports whether p sorts strictly before o.
func (p Position) Less(o Position) bool {
	if p.Ts != o.Ts {
		return p.Ts < o.Ts
	}
	return p.ID < o.ID
}

// After reports whether p sorts strictly after o.
func (p Position) After(o Position) bool {
	return o.Less(p)
}

// IsZero reports whether p is the empty position.
func (p Position) IsZero() bool {
	return p.Ts == 0 && p.ID == ""
}

// Cursor is the ingestion watermark of a topic.
type Cursor struct {
	LastTs int64  `json:"last_ts"`
	LastID string `json:"last_id"`

	// SinceHint is the highest replay floor requested by a subscriber.
	// It raises the effective polling floor but is never persisted.
	SinceHint int64 `json:"-"`
}

// Position returns the watermark part of the cursor.
func (c Cursor) Position() Position {
	return Position{Ts: c.LastTs, ID: c.LastID}
}

// IsZero reports whether no event has been recorded yet.
func (c Cursor) IsZero() bool {
	return c.Position().IsZero()
}

// AlignDown rounds ts down to a multiple of width.
func AlignDown(ts, width int64) int64 {
	if width <= 0 {
		return ts
	}
	mod := ts % width
	if mod < 0 {
		mod += width
	}
	return ts - mod
}
