package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/eigen-stream/internal/config"
	"github.com/rickgao/eigen-stream/internal/cursor"
	"github.com/rickgao/eigen-stream/internal/database"
	"github.com/rickgao/eigen-stream/internal/hub"
	"github.com/rickgao/eigen-stream/internal/metrics"
	"github.com/rickgao/eigen-stream/internal/model"
	"github.com/rickgao/eigen-stream/internal/poller"
	"github.com/rickgao/eigen-stream/internal/relay"
	"github.com/rickgao/eigen-stream/internal/resolve"
	"github.com/rickgao/eigen-stream/internal/server"
	"github.com/rickgao/eigen-stream/internal/session"
	"github.com/rickgao/eigen-stream/internal/sink"
	"github.com/rickgao/eigen-stream/internal/subgraph"
	"github.com/rickgao/eigen-stream/internal/version"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = time.Minute
)

// store is the durable backend: Timescale when configured, memory otherwise.
type store interface {
	sink.Sink
	sink.TickStore
}

func main() {
	configPath := flag.String("config", "", "path to config file (empty: defaults plus environment)")
	flag.Parse()

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		slog.Warn("invalid log level, using info", "level", cfg.Log.Level, "error", err)
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.String(),
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("streamer failed", "error", err)
		os.Exit(1)
	}
	logger.Info("streamer stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	checks := make(map[string]server.Check)

	// Durable sink
	var db store = sink.NewMemory()
	if ts := cfg.Database.Timescale; ts.Enabled() {
		logger.Info("connecting to database", "host", ts.Host, "port", ts.Port, "database", ts.Name)
		pool, err := database.Connect(ctx, ts)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := sink.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		db = sink.NewTimescale(pool, logger)
		logger.Info("database connected")
	} else {
		logger.Warn("no database configured, deposits are kept in memory")
	}
	checks["timescale"] = db.Ping

	// Token resolution
	client := subgraph.NewClient(
		cfg.Subgraph.URL,
		cfg.Subgraph.APIKey,
		subgraph.WithTimeout(cfg.Subgraph.Timeout),
		subgraph.WithRetries(cfg.Subgraph.MaxRetries, cfg.Subgraph.RetryBackoff),
		subgraph.WithLogger(logger),
	)
	resolveOpts := []resolve.Option{resolve.WithLogger(logger), resolve.WithTTL(cfg.Redis.TTL)}
	if cfg.Redis.Addr != "" {
		rdb, err := resolve.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func(rdb *redis.Client) { _ = rdb.Close() }(rdb)
		resolveOpts = append(resolveOpts, resolve.WithRedis(rdb))
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}
	resolver := resolve.New(client, resolveOpts...)
	if cfg.Redis.Addr != "" {
		checks["redis"] = resolver.Health
	}

	// Shared state
	events := hub.New[poller.Event](cfg.Stream.HubCapacity)
	trades := hub.New[model.TradeTick](cfg.Stream.HubCapacity)
	cursors := cursor.NewStore()

	p := poller.New(poller.Config{
		Interval:          cfg.Stream.PollInterval,
		Concurrency:       cfg.Stream.Concurrency,
		Timeout:           cfg.Stream.FetchTimeout,
		PageSize:          cfg.Stream.PageSize,
		BootstrapLookback: cfg.Stream.BootstrapLookback,
		BootstrapMaxPages: cfg.Stream.BootstrapMaxPages,
		RefetchWindow:     cfg.Stream.RefetchWindow,
		SteadyMaxPages:    cfg.Stream.SteadyMaxPages,
		BucketWidth:       cfg.Stream.BucketWidth,
	}, resolver, client, db, cursors, events, logger)

	wcfg := sink.DefaultWriterConfig()
	wcfg.BatchSize = cfg.Writers.BatchSize
	wcfg.FlushInterval = cfg.Writers.FlushInterval
	wcfg.BufferSize = cfg.Writers.BufferSize
	ticks := sink.NewTickWriter(wcfg, db, logger)

	var r *relay.Relay
	tradeFeed := &session.TradeFeed{Trades: trades}
	if cfg.Coinbase.URL != "" {
		rcfg := relay.DefaultConfig()
		rcfg.URL = cfg.Coinbase.URL
		rcfg.Channels = cfg.Coinbase.Channels
		rcfg.ReconnectDelay = cfg.Coinbase.ReconnectDelay
		rcfg.WriteTimeout = cfg.Coinbase.WriteTimeout
		rcfg.PingInterval = cfg.Coinbase.PingInterval
		rcfg.PingTimeout = cfg.Coinbase.PingTimeout
		rcfg.ControlBuffer = cfg.Coinbase.ControlBuffer
		r = relay.New(rcfg, trades, ticks, logger)
		tradeFeed.Relay = r
		checks["relay"] = func(context.Context) error {
			if !r.Connected() {
				return relay.ErrNotConnected
			}
			return nil
		}
	} else {
		logger.Warn("coinbase url not set, trade relay disabled")
	}

	// Client sessions
	scfg := session.Config{
		ReadBuffer:   cfg.Server.ReadBuffer,
		WriteBuffer:  cfg.Server.WriteBuffer,
		PingInterval: cfg.Server.PingInterval,
		WriteTimeout: cfg.Server.WriteTimeout,
		SendBuffer:   cfg.Server.SendBuffer,
	}
	depositFeed := &session.DepositFeed{
		Resolver:    resolver,
		Store:       db,
		Cursors:     cursors,
		Events:      events,
		Window:      cfg.Stream.Window,
		BucketWidth: cfg.Stream.BucketWidth,
	}
	deposits := session.NewHandler(depositFeed, scfg, logger)
	tradeSessions := session.NewHandler(tradeFeed, scfg, logger)

	deps := server.Deps{
		Instance: cfg.Instance.ID,
		Deposits: deposits,
		Trades:   tradeSessions,
		Checks:   checks,
		Topics: func() map[string]int {
			return map[string]int{
				depositFeed.Name(): events.Stats().Topics,
				tradeFeed.Name():   trades.Stats().Topics,
			}
		},
	}

	if cfg.Metrics.On() {
		reg := metrics.New()
		reg.RegisterHub("deposits", events.Stats)
		reg.RegisterHub("trades", trades.Stats)
		reg.RegisterPoller(p.Stats)
		reg.RegisterSessions(depositFeed.Name(), deposits.Stats)
		reg.RegisterSessions(tradeFeed.Name(), tradeSessions.Stats)
		reg.RegisterTickWriter(ticks.Stats)
		if r != nil {
			reg.RegisterRelay(r.Stats)
		}
		deps.Metrics = reg.Handler()
		deps.MetricsPath = cfg.Metrics.Path
		deps.Middleware = reg.Middleware
	}

	srv := server.New(cfg.Server.Addr, deps, logger)

	// Start background components
	if err := ticks.Start(ctx); err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}
	if r != nil {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		sweep(gctx, logger, events, trades)
		return nil
	})

	logger.Info("streamer running", "addr", cfg.Server.Addr, "relay", r != nil)

	err := g.Wait()

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Producers first, then the writer so its final flush sees every tick.
	if r != nil {
		if stopErr := r.Stop(shutdownCtx); stopErr != nil {
			logger.Warn("relay stop failed", "error", stopErr)
		}
	}
	if stopErr := p.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("poller stop failed", "error", stopErr)
	}
	if stopErr := ticks.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("tick writer stop failed", "error", stopErr)
	}
	events.Close()
	trades.Close()

	return err
}

// sweep drops idle hub topics left behind by receivers that were never
// closed through the usual path.
func sweep(ctx context.Context, logger *slog.Logger, events *hub.Hub[poller.Event], trades *hub.Hub[model.TradeTick]) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := events.Sweep() + trades.Sweep(); n > 0 {
				logger.Debug("swept idle topics", "removed", n)
			}
		}
	}
}
