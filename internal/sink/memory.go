package sink

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rickgao/eigen-stream/internal/model"
)

// Memory is an in-process Sink and TickStore with the same idempotence as
// Timescale.
type Memory struct {
	mu       sync.Mutex
	deposits map[string]map[string]model.Deposit // token -> natural key -> deposit
	cursors  map[string]model.Cursor
	ticks    []model.TradeTick
}

// NewMemory creates an empty memory sink.
func NewMemory() *Memory {
	return &Memory{
		deposits: make(map[string]map[string]model.Deposit),
		cursors:  make(map[string]model.Cursor),
	}
}

func naturalKey(d model.Deposit) string {
	return d.TxHash + "|" + strconv.FormatInt(d.BlockTimestamp, 10)
}

func (m *Memory) InsertDeposits(_ context.Context, tokenID string, ds []model.Deposit) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.deposits[tokenID]
	if !ok {
		rows = make(map[string]model.Deposit)
		m.deposits[tokenID] = rows
	}

	inserted := 0
	for _, d := range ds {
		k := naturalKey(d)
		if _, dup := rows[k]; dup {
			continue
		}
		d.TokenID = tokenID
		rows[k] = d
		inserted++
	}
	return inserted, nil
}

func (m *Memory) LoadCursor(_ context.Context, tokenID string) (model.Cursor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[tokenID]
	return c, ok, nil
}

func (m *Memory) UpsertCursor(_ context.Context, tokenID string, ts int64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := model.Cursor{LastTs: ts, LastID: id}
	if cur, ok := m.cursors[tokenID]; ok && !next.Position().After(cur.Position()) {
		return nil
	}
	m.cursors[tokenID] = next
	return nil
}

func (m *Memory) FetchBuckets(_ context.Context, tokenID string, since, width int64) ([]model.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type acc struct {
		count int64
		sum   decimal.Decimal
	}
	byT := make(map[int64]*acc)
	for _, d := range m.deposits[tokenID] {
		if d.BlockTimestamp < since {
			continue
		}
		t := (d.BlockTimestamp / width) * width
		a, ok := byT[t]
		if !ok {
			a = &acc{sum: decimal.Zero}
			byT[t] = a
		}
		a.count++
		a.sum = a.sum.Add(shares(d))
	}

	out := make([]model.Bucket, 0, len(byT))
	for t, a := range byT {
		out = append(out, model.Bucket{T: t, Count: a.count, Sum: a.sum.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].T < out[j].T })
	return out, nil
}

func (m *Memory) CurrentBucket(_ context.Context, tokenID string, start, end int64) (model.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := int64(0)
	sum := decimal.Zero
	for _, d := range m.deposits[tokenID] {
		if d.BlockTimestamp >= start && d.BlockTimestamp < end {
			count++
			sum = sum.Add(shares(d))
		}
	}
	return model.Bucket{T: start, Count: count, Sum: sum.String()}, nil
}

func (m *Memory) CountDeposits(_ context.Context, tokenID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.deposits[tokenID])), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Delete drops every stored deposit of tokenID, keeping its cursor.
func (m *Memory) Delete(tokenID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deposits, tokenID)
}

func (m *Memory) InsertTicks(_ context.Context, ticks []model.TradeTick) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = append(m.ticks, ticks...)
	return len(ticks), nil
}

// Ticks returns a copy of the stored ticks.
func (m *Memory) Ticks() []model.TradeTick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TradeTick(nil), m.ticks...)
}

// shares treats unparseable amounts as zero, matching a NUMERIC default.
func shares(d model.Deposit) decimal.Decimal {
	v, err := d.SharesDecimal()
	if err != nil {
		return decimal.Zero
	}
	return v
}
