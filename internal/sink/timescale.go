package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/eigen-stream/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS deposits_raw (
	id              TEXT        NOT NULL,
	token_id        TEXT        NOT NULL,
	token_symbol    TEXT        NOT NULL DEFAULT '',
	staker          TEXT        NOT NULL DEFAULT '',
	strategy_id     TEXT        NOT NULL DEFAULT '',
	shares          NUMERIC     NOT NULL DEFAULT 0,
	block_number    BIGINT      NOT NULL DEFAULT 0,
	block_timestamp BIGINT      NOT NULL,
	tx_hash         TEXT        NOT NULL,
	inserted_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tx_hash, block_timestamp)
);
CREATE INDEX IF NOT EXISTS deposits_raw_token_ts_idx ON deposits_raw (token_id, block_timestamp);

CREATE TABLE IF NOT EXISTS stream_cursors (
	token_id   TEXT PRIMARY KEY,
	last_ts    BIGINT      NOT NULL,
	last_id    TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ticks (
	product_id TEXT        NOT NULL,
	time       TIMESTAMPTZ NOT NULL,
	price      NUMERIC     NOT NULL,
	trade_id   BIGINT      NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS ticks_product_time_idx ON ticks (product_id, time);
`

// EnsureSchema creates the stream tables if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Timescale is the pgx-backed Sink and TickStore.
type Timescale struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewTimescale creates a Timescale sink on db.
func NewTimescale(db *pgxpool.Pool, logger *slog.Logger) *Timescale {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timescale{db: db, logger: logger}
}

// InsertDeposits inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *Timescale) InsertDeposits(ctx context.Context, tokenID string, ds []model.Deposit) (int, error) {
	if len(ds) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, d := range ds {
		shares := d.Shares
		if shares == "" {
			shares = "0"
		}
		batch.Queue(`
			INSERT INTO deposits_raw (id, token_id, token_symbol, staker, strategy_id, shares, block_number, block_timestamp, tx_hash)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
			ON CONFLICT (tx_hash, block_timestamp) DO NOTHING
		`, d.ID, tokenID, d.TokenSymbol, d.Staker, d.StrategyID, shares, d.BlockNumber, d.BlockTimestamp, d.TxHash)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range ds {
		ct, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert deposit: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}

	s.logger.Debug("inserted deposits",
		"token_id", tokenID,
		"count", len(ds),
		"inserted", inserted,
	)
	return inserted, nil
}

func (s *Timescale) LoadCursor(ctx context.Context, tokenID string) (model.Cursor, bool, error) {
	var c model.Cursor
	err := s.db.QueryRow(ctx,
		`SELECT last_ts, last_id FROM stream_cursors WHERE token_id = $1`,
		tokenID,
	).Scan(&c.LastTs, &c.LastID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Cursor{}, false, nil
	}
	if err != nil {
		return model.Cursor{}, false, fmt.Errorf("load cursor: %w", err)
	}
	return c, true, nil
}

func (s *Timescale) UpsertCursor(ctx context.Context, tokenID string, ts int64, id string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO stream_cursors (token_id, last_ts, last_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (token_id) DO UPDATE
		SET last_ts = EXCLUDED.last_ts, last_id = EXCLUDED.last_id, updated_at = now()
		WHERE (stream_cursors.last_ts, stream_cursors.last_id) < (EXCLUDED.last_ts, EXCLUDED.last_id)
	`, tokenID, ts, id)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

func (s *Timescale) FetchBuckets(ctx context.Context, tokenID string, since, width int64) ([]model.Bucket, error) {
	rows, err := s.db.Query(ctx, `
		SELECT (block_timestamp / $2) * $2 AS bucket, COUNT(*), COALESCE(SUM(shares), 0)::text
		FROM deposits_raw
		WHERE token_id = $1 AND block_timestamp >= $3
		GROUP BY bucket
		ORDER BY bucket
	`, tokenID, width, since)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	var out []model.Bucket
	for rows.Next() {
		var b model.Bucket
		if err := rows.Scan(&b.T, &b.Count, &b.Sum); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return out, nil
}

func (s *Timescale) CurrentBucket(ctx context.Context, tokenID string, start, end int64) (model.Bucket, error) {
	b := model.Bucket{T: start}
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(shares), 0)::text
		FROM deposits_raw
		WHERE token_id = $1 AND block_timestamp >= $2 AND block_timestamp < $3
	`, tokenID, start, end).Scan(&b.Count, &b.Sum)
	if err != nil {
		return model.Bucket{}, fmt.Errorf("query current bucket: %w", err)
	}
	return b, nil
}

func (s *Timescale) CountDeposits(ctx context.Context, tokenID string) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM deposits_raw WHERE token_id = $1`, tokenID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count deposits: %w", err)
	}
	return n, nil
}

func (s *Timescale) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// InsertTicks writes trade ticks in one batch.
func (s *Timescale) InsertTicks(ctx context.Context, ticks []model.TradeTick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, t := range ticks {
		batch.Queue(
			`INSERT INTO ticks (product_id, time, price, trade_id) VALUES ($1, $2::timestamptz, $3::numeric, $4)`,
			t.ProductID, t.Time, t.Price, t.TradeID,
		)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range ticks {
		ct, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert tick: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}
	return inserted, nil
}
