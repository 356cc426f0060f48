package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/eigen-stream/internal/model"
)

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// WriterMetrics contains writer counters.
type WriterMetrics struct {
	Inserts int64
	Dropped int64
	Errors  int64
	Flushes int64
}

// TickWriter batches trade ticks into a TickStore off the relay's read path.
type TickWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input chan model.TradeTick
	store TickStore

	// Batching
	batch   []model.TradeTick
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metricsMu sync.Mutex
	metrics   WriterMetrics
}

// NewTickWriter creates a new TickWriter.
func NewTickWriter(cfg WriterConfig, store TickStore, logger *slog.Logger) *TickWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &TickWriter{
		cfg:    cfg,
		logger: logger,
		input:  make(chan model.TradeTick, cfg.BufferSize),
		store:  store,
		batch:  make([]model.TradeTick, 0, cfg.BatchSize),
	}
}

// Write queues a tick. It never blocks; when the buffer is full the tick is
// dropped and false is returned.
func (w *TickWriter) Write(t model.TradeTick) bool {
	select {
	case w.input <- t:
		return true
	default:
		w.metricsMu.Lock()
		w.metrics.Dropped++
		w.metricsMu.Unlock()
		return false
	}
}

// Start begins consuming ticks and writing them out.
func (w *TickWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run()

	w.logger.Info("tick writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the writer down and flushes what is left.
func (w *TickWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping tick writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("tick writer stop timed out")
	}

	// Final flush, including anything still queued.
drain:
	for {
		select {
		case t := <-w.input:
			w.add(t)
		default:
			break drain
		}
	}
	w.flush(ctx)

	w.logger.Info("tick writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *TickWriter) Stats() WriterMetrics {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	return w.metrics
}

func (w *TickWriter) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.input:
			if w.add(t) {
				w.flush(w.ctx)
			}
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends t and reports whether the batch is full.
func (w *TickWriter) add(t model.TradeTick) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, t)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *TickWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]model.TradeTick, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	n, err := w.store.InsertTicks(ctx, batch)

	w.metricsMu.Lock()
	w.metrics.Inserts += int64(n)
	if err != nil {
		w.metrics.Errors++
	} else {
		w.metrics.Flushes++
	}
	w.metricsMu.Unlock()

	if err != nil {
		w.logger.Error("tick batch insert failed", "error", err, "count", len(batch))
		return
	}
	w.logger.Debug("flushed ticks",
		"count", len(batch),
		"duration", time.Since(start),
	)
}
