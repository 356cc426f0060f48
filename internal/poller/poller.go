package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/rickgao/eigen-stream/internal/cursor"
	"github.com/rickgao/eigen-stream/internal/hub"
	"github.com/rickgao/eigen-stream/internal/model"
	"github.com/rickgao/eigen-stream/internal/sink"
	"github.com/rickgao/eigen-stream/internal/subgraph"
)

// Resolver maps a topic key to a token.
type Resolver interface {
	ResolveToken(ctx context.Context, key string) (model.Token, error)
}

// Source returns pages of deposits.
type Source interface {
	Deposits(ctx context.Context, q subgraph.DepositQuery) ([]model.Deposit, error)
}

// Config holds poller configuration.
type Config struct {
	Interval          time.Duration // poll interval (default: 3s)
	Concurrency       int           // topics polled at once (default: 8)
	Timeout           time.Duration // per upstream or sink call (default: 10s)
	PageSize          int
	BootstrapLookback time.Duration
	BootstrapMaxPages int
	RefetchWindow     time.Duration
	SteadyMaxPages    int
	BucketWidth       time.Duration

	// Clock overrides time.Now.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          3 * time.Second,
		Concurrency:       8,
		Timeout:           10 * time.Second,
		PageSize:          500,
		BootstrapLookback: 365 * 24 * time.Hour,
		BootstrapMaxPages: 50,
		RefetchWindow:     10 * time.Minute,
		SteadyMaxPages:    10,
		BucketWidth:       300 * time.Second,
	}
}

// Stats contains poller counters.
type Stats struct {
	Cycles        int64
	Accepted      int64
	Bootstraps    int64
	ResolveErrors int64
	FetchErrors   int64
	PersistErrors int64
	TickErrors    int64
}

// Poller drives incremental deposit ingestion for interested topics.
type Poller struct {
	cfg      Config
	resolver Resolver
	source   Source
	store    sink.Sink
	cursors  *cursor.Store
	events   *hub.Hub[Event]
	logger   *slog.Logger
	now      func() time.Time

	pool         pond.Pool
	bootstrapped *xsync.Map[string, bool] // token ID -> backfill finished

	cycles        atomic.Int64
	accepted      atomic.Int64
	bootstraps    atomic.Int64
	resolveErrors atomic.Int64
	fetchErrors   atomic.Int64
	persistErrors atomic.Int64
	tickErrors    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(
	cfg Config,
	resolver Resolver,
	source Source,
	store sink.Sink,
	cursors *cursor.Store,
	events *hub.Hub[Event],
	logger *slog.Logger,
) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Poller{
		cfg:          cfg,
		resolver:     resolver,
		source:       source,
		store:        store,
		cursors:      cursors,
		events:       events,
		logger:       logger,
		now:          now,
		pool:         pond.NewPool(cfg.Concurrency, pond.WithQueueSize(256)),
		bootstrapped: xsync.NewMap[string, bool](),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("deposit poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
		"page_size", p.cfg.PageSize,
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.pool.StopAndWait()
		p.logger.Info("deposit poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:        p.cycles.Load(),
		Accepted:      p.accepted.Load(),
		Bootstraps:    p.bootstraps.Load(),
		ResolveErrors: p.resolveErrors.Load(),
		FetchErrors:   p.fetchErrors.Load(),
		PersistErrors: p.persistErrors.Load(),
		TickErrors:    p.tickErrors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.PollOnce(p.ctx)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(p.ctx)
		}
	}
}

// PollOnce runs one cycle over every interested topic and waits for it.
func (p *Poller) PollOnce(ctx context.Context) {
	start := time.Now()
	p.cycles.Add(1)

	entries := p.cursors.TopicsToPoll()
	if len(entries) == 0 {
		p.logger.Debug("no topics to poll")
		return
	}

	acceptedBefore := p.accepted.Load()

	group := p.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, e := range entries {
		topic := e.Topic
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			p.pollTopic(groupCtx, topic)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		p.logger.Warn("poll cycle tasks failed", "error", err)
	}

	p.logger.Info("poll cycle complete",
		"topics", len(entries),
		"accepted", p.accepted.Load()-acceptedBefore,
		"duration", time.Since(start),
	)
}

// pollTopic runs one tick of the per-topic state machine.
func (p *Poller) pollTopic(ctx context.Context, topic string) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	tok, err := p.resolver.ResolveToken(callCtx, topic)
	cancel()
	if err != nil {
		p.resolveErrors.Add(1)
		p.logger.Warn("resolve topic failed", "topic", topic, "error", err)
		return
	}

	p.seed(ctx, topic, tok)

	if err := p.maybeBootstrap(ctx, topic, tok); err != nil {
		p.fetchErrors.Add(1)
		p.logger.Warn("bootstrap failed", "topic", topic, "token_id", tok.ID, "error", err)
	} else if err := p.fetchNew(ctx, topic, tok); err != nil {
		p.fetchErrors.Add(1)
		p.logger.Warn("fetch deposits failed", "topic", topic, "token_id", tok.ID, "error", err)
	}

	p.publishTick(ctx, topic, tok)
}

// seed loads the persisted cursor when nothing is known in memory.
func (p *Poller) seed(ctx context.Context, topic string, tok model.Token) {
	if _, known := p.cursors.Get(topic); known {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	c, ok, err := p.store.LoadCursor(callCtx, tok.ID)
	if err != nil {
		p.persistErrors.Add(1)
		p.logger.Warn("load cursor failed", "topic", topic, "token_id", tok.ID, "error", err)
		return
	}
	if ok && p.cursors.Seed(topic, c) {
		p.logger.Debug("seeded cursor", "topic", topic, "last_ts", c.LastTs, "last_id", c.LastID)
	}
}

// floor returns the lower timestamp bound for the next incremental fetch.
func (p *Poller) floor(c model.Cursor, known bool) int64 {
	floor := c.SinceHint
	if known {
		if f := c.LastTs - int64(p.cfg.RefetchWindow/time.Second); f > floor {
			floor = f
		}
	} else if f := p.lookbackStart(); f > floor {
		floor = f
	}
	if floor < 0 {
		floor = 0
	}
	return floor
}

func (p *Poller) lookbackStart() int64 {
	start := p.now().Add(-p.cfg.BootstrapLookback).Unix()
	if start < 0 {
		return 0
	}
	return start
}
