package sink

import (
	"context"

	"github.com/rickgao/eigen-stream/internal/model"
)

// Sink is the durable store behind the pull poller and replay queries.
// All methods are keyed by canonical token ID.
type Sink interface {
	// InsertDeposits stores ds and returns how many rows were new.
	InsertDeposits(ctx context.Context, tokenID string, ds []model.Deposit) (int, error)

	// LoadCursor returns the persisted cursor, if any.
	LoadCursor(ctx context.Context, tokenID string) (model.Cursor, bool, error)

	// UpsertCursor persists (ts, id). Stored cursors never move backwards.
	UpsertCursor(ctx context.Context, tokenID string, ts int64, id string) error

	// FetchBuckets aggregates deposits with block_timestamp >= since into
	// width-second buckets aligned to the epoch, ordered by bucket start.
	// Empty buckets are omitted; see ZeroFill.
	FetchBuckets(ctx context.Context, tokenID string, since, width int64) ([]model.Bucket, error)

	// CurrentBucket aggregates deposits with block_timestamp in [start, end).
	CurrentBucket(ctx context.Context, tokenID string, start, end int64) (model.Bucket, error)

	// CountDeposits returns the number of stored deposits.
	CountDeposits(ctx context.Context, tokenID string) (int64, error)

	Ping(ctx context.Context) error
}

// TickStore persists trade ticks.
type TickStore interface {
	InsertTicks(ctx context.Context, ticks []model.TradeTick) (int, error)
}

// ZeroFill returns one bucket for every t = start + k*width with t <= end,
// taking values from buckets where present and an empty bucket otherwise.
// start must be aligned to width for source buckets to line up.
func ZeroFill(buckets []model.Bucket, start, end, width int64) []model.Bucket {
	if width <= 0 || end < start {
		return []model.Bucket{}
	}

	byT := make(map[int64]model.Bucket, len(buckets))
	for _, b := range buckets {
		byT[b.T] = b
	}

	out := make([]model.Bucket, 0, (end-start)/width+1)
	for t := start; t <= end; t += width {
		b, ok := byT[t]
		if !ok {
			out = append(out, model.EmptyBucket(t))
			continue
		}
		if b.Sum == "" {
			b.Sum = "0"
		}
		out = append(out, b)
	}
	return out
}
