package poller

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rickgao/eigen-stream/internal/model"
	"github.com/rickgao/eigen-stream/internal/subgraph"
)

// maybeBootstrap backfills a token once, and only while the sink holds no
// rows for it and no cursor is known. A backfill that failed part way is
// retried until it completes.
func (p *Poller) maybeBootstrap(ctx context.Context, topic string, tok model.Token) error {
	done, started := p.bootstrapped.Load(tok.ID)
	if done {
		return nil
	}
	if started {
		return p.bootstrap(ctx, topic, tok)
	}
	if _, known := p.cursors.Get(topic); known {
		p.bootstrapped.Store(tok.ID, true)
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	count, err := p.store.CountDeposits(callCtx, tok.ID)
	cancel()
	if err != nil {
		return fmt.Errorf("count deposits: %w", err)
	}
	if count > 0 {
		p.bootstrapped.Store(tok.ID, true)
		return nil
	}

	p.bootstrapped.Store(tok.ID, false)
	return p.bootstrap(ctx, topic, tok)
}

// bootstrap pages backwards from the lookback start. The newest position is
// persisted as soon as the page holding it is stored, so a later failing page
// never leaves stored rows without a cursor. Backfilled rows are stored but
// not published.
func (p *Poller) bootstrap(ctx context.Context, topic string, tok model.Token) error {
	since := p.lookbackStart()

	var newest model.Position
	fetched, inserted := 0, 0
	for page := 0; page < p.cfg.BootstrapMaxPages; page++ {
		items, err := p.fetchPage(ctx, tok.ID, since, page, true)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			break
		}

		n, err := p.insert(ctx, tok, items)
		if err != nil {
			return err
		}
		fetched += len(items)
		inserted += n

		advanced := false
		for _, d := range items {
			if pos := d.Position(); pos.After(newest) {
				newest = pos
				advanced = true
			}
		}
		if advanced {
			if err := p.saveCursor(ctx, topic, tok, newest); err != nil {
				return err
			}
		}
		if len(items) < p.cfg.PageSize {
			break
		}
	}

	p.bootstrapped.Store(tok.ID, true)
	p.bootstraps.Add(1)
	p.logger.Info("bootstrap complete",
		"topic", topic,
		"token_id", tok.ID,
		"fetched", fetched,
		"inserted", inserted,
		"last_ts", newest.Ts,
	)
	return nil
}

func (p *Poller) saveCursor(ctx context.Context, topic string, tok model.Token, pos model.Position) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	if err := p.store.UpsertCursor(callCtx, tok.ID, pos.Ts, pos.ID); err != nil {
		return fmt.Errorf("persist bootstrap cursor: %w", err)
	}
	p.cursors.Advance(topic, pos.Ts, pos.ID)
	return nil
}

// fetchNew pulls deposits from the refetch floor onwards and applies the
// ones strictly after the cursor as it stood before this tick.
func (p *Poller) fetchNew(ctx context.Context, topic string, tok model.Token) error {
	cur, known := p.cursors.Get(topic)
	pre := cur.Position()
	since := p.floor(cur, known)

	var accepted []model.Deposit
	seen := make(map[string]struct{})
	var fetchErr error

	for page := 0; page < p.cfg.SteadyMaxPages; page++ {
		items, err := p.fetchPage(ctx, tok.ID, since, page, false)
		if err != nil {
			fetchErr = err
			break
		}
		for _, d := range items {
			if !d.Position().After(pre) {
				continue
			}
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			accepted = append(accepted, d)
		}
		if len(items) < p.cfg.PageSize {
			break
		}
	}

	// Pages are contiguous from the floor, so whatever arrived before a
	// failing page is still safe to apply.
	if len(accepted) > 0 {
		p.apply(ctx, topic, tok, accepted)
	}
	return fetchErr
}

// apply publishes accepted deposits, then persists them and the cursor.
func (p *Poller) apply(ctx context.Context, topic string, tok model.Token, accepted []model.Deposit) {
	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Position().Less(accepted[j].Position())
	})

	for i := range accepted {
		if accepted[i].TokenID == "" {
			accepted[i].TokenID = tok.ID
		}
		d := accepted[i]
		p.events.Publish(topic, Event{
			Kind:    KindDeposit,
			Topic:   topic,
			TokenID: tok.ID,
			Deposit: &d,
		})
	}
	p.accepted.Add(int64(len(accepted)))

	newest := accepted[len(accepted)-1].Position()
	p.cursors.Advance(topic, newest.Ts, newest.ID)

	inserted, err := p.insert(ctx, tok, accepted)
	if err != nil {
		p.persistErrors.Add(1)
		p.logger.Error("persist deposits failed",
			"topic", topic,
			"token_id", tok.ID,
			"count", len(accepted),
			"error", err,
		)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	if err := p.store.UpsertCursor(callCtx, tok.ID, newest.Ts, newest.ID); err != nil {
		p.persistErrors.Add(1)
		p.logger.Error("persist cursor failed", "topic", topic, "token_id", tok.ID, "error", err)
		return
	}

	p.logger.Debug("applied deposits",
		"topic", topic,
		"accepted", len(accepted),
		"inserted", inserted,
		"last_ts", newest.Ts,
		"last_id", newest.ID,
	)
}

// publishTick sends the current bucket's aggregate for topic.
func (p *Poller) publishTick(ctx context.Context, topic string, tok model.Token) {
	width := int64(p.cfg.BucketWidth / time.Second)
	start := model.AlignDown(p.now().Unix(), width)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	b, err := p.store.CurrentBucket(callCtx, tok.ID, start, start+width)
	if err != nil {
		p.tickErrors.Add(1)
		p.logger.Warn("current bucket failed", "topic", topic, "token_id", tok.ID, "error", err)
		return
	}
	p.events.Publish(topic, Event{
		Kind:    KindTick,
		Topic:   topic,
		TokenID: tok.ID,
		Bucket:  &b,
	})
}

func (p *Poller) fetchPage(ctx context.Context, tokenID string, since int64, page int, desc bool) ([]model.Deposit, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	return p.source.Deposits(callCtx, subgraph.DepositQuery{
		TokenID: tokenID,
		Since:   since,
		First:   p.cfg.PageSize,
		Skip:    page * p.cfg.PageSize,
		Desc:    desc,
	})
}

func (p *Poller) insert(ctx context.Context, tok model.Token, ds []model.Deposit) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	n, err := p.store.InsertDeposits(callCtx, tok.ID, ds)
	if err != nil {
		return n, fmt.Errorf("insert deposits: %w", err)
	}
	return n, nil
}
