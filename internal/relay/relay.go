package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"

	"github.com/rickgao/eigen-stream/internal/hub"
	"github.com/rickgao/eigen-stream/internal/model"
)

// TickSink receives every matched trade. Write must not block.
type TickSink interface {
	Write(t model.TradeTick) bool
}

// Relay mirrors local trade demand onto a single upstream connection.
type Relay struct {
	cfg    Config
	trades *hub.Hub[model.TradeTick]
	ticks  TickSink
	logger *slog.Logger

	control  chan Command
	upstream *xsync.Map[string, struct{}] // products subscribed on the current connection

	connected atomic.Bool

	connects   atomic.Int64
	reconnects atomic.Int64
	frames     atomic.Int64
	matches    atomic.Int64
	ignored    atomic.Int64
	malformed  atomic.Int64
	sent       atomic.Int64
	stale      atomic.Int64
	dropped    atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a relay publishing into trades. ticks may be nil.
func New(cfg Config, trades *hub.Hub[model.TradeTick], ticks TickSink, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ControlBuffer < 1 {
		cfg.ControlBuffer = 1
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultConfig().Channels
	}
	return &Relay{
		cfg:      cfg,
		trades:   trades,
		ticks:    ticks,
		logger:   logger,
		control:  make(chan Command, cfg.ControlBuffer),
		upstream: xsync.NewMap[string, struct{}](),
		stopped:  make(chan struct{}),
	}
}

// Start begins the connect loop.
func (r *Relay) Start(ctx context.Context) error {
	if r.cfg.URL == "" {
		return errors.New("relay: empty upstream url")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("trade relay started",
		"url", r.cfg.URL,
		"channels", r.cfg.Channels,
		"reconnect_delay", r.cfg.ReconnectDelay,
	)
	return nil
}

// Stop closes the upstream connection and waits for the loop to exit.
func (r *Relay) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopped) })
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("trade relay stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether an upstream connection is live.
func (r *Relay) Connected() bool {
	return r.connected.Load()
}

// Stats returns current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Connected:       r.connected.Load(),
		Connects:        r.connects.Load(),
		Reconnects:      r.reconnects.Load(),
		Frames:          r.frames.Load(),
		Matches:         r.matches.Load(),
		Ignored:         r.ignored.Load(),
		Malformed:       r.malformed.Load(),
		CommandsSent:    r.sent.Load(),
		CommandsStale:   r.stale.Load(),
		CommandsDropped: r.dropped.Load(),
		UpstreamTopics:  r.upstream.Size(),
	}
}

// Demand subscribes to topic on the trades hub and asks for an upstream
// subscription when this is the topic's first receiver.
func (r *Relay) Demand(ctx context.Context, topic string) *hub.Receiver[model.TradeTick] {
	rx, activated := r.trades.Subscribe(topic)
	if activated {
		r.send(ctx, Command{Op: OpSubscribe, Topic: topic})
	}
	return rx
}

// Release closes rx and drops the upstream subscription when it was the
// topic's last receiver.
func (r *Relay) Release(rx *hub.Receiver[model.TradeTick]) {
	if !rx.Close() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()
	r.send(ctx, Command{Op: OpUnsubscribe, Topic: rx.Topic()})
}

func (r *Relay) send(ctx context.Context, cmd Command) {
	select {
	case r.control <- cmd:
	case <-ctx.Done():
		r.dropped.Add(1)
		r.logger.Warn("relay command dropped", "op", cmd.Op, "topic", cmd.Topic, "error", ctx.Err())
	case <-r.stopped:
		r.dropped.Add(1)
	}
}

// run reconnects with a fixed delay until the relay is stopped.
func (r *Relay) run() {
	defer r.wg.Done()

	for {
		err := r.stream(r.ctx)
		if r.ctx.Err() != nil {
			return
		}
		r.logger.Warn("upstream disconnected", "error", err, "retry_in", r.cfg.ReconnectDelay)

		if !r.wait(r.cfg.ReconnectDelay) {
			return
		}
		r.reconnects.Add(1)
	}
}

// wait sleeps for d, discarding commands. The next connection subscribes
// from the hub's live topics, so nothing is lost.
func (r *Relay) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return false
		case cmd := <-r.control:
			r.dropped.Add(1)
			r.logger.Debug("command discarded while disconnected", "op", cmd.Op, "topic", cmd.Topic)
		case <-timer.C:
			return true
		}
	}
}

// stream runs one connection until it fails or ctx is cancelled.
func (r *Relay) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: r.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, r.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	defer conn.Close()

	r.upstream.Clear()
	if topics := r.trades.ActiveTopics(); len(topics) > 0 {
		if err := r.writeControl(conn, OpSubscribe, topics); err != nil {
			return err
		}
		for _, t := range topics {
			r.upstream.Store(t, struct{}{})
		}
	}

	r.connects.Add(1)
	r.connected.Store(true)
	defer r.connected.Store(false)
	r.logger.Info("upstream connected", "url", r.cfg.URL, "topics", r.upstream.Size())

	r.keepAlive(conn)
	readErr := make(chan error, 1)
	go func() { readErr <- r.readLoop(conn) }()

	var heartbeat <-chan time.Time
	if r.cfg.PingInterval > 0 {
		ticker := time.NewTicker(r.cfg.PingInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-heartbeat:
			deadline := time.Now().Add(r.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				conn.Close()
				<-readErr
				return fmt.Errorf("send ping: %w", err)
			}
		case <-ctx.Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			conn.Close()
			<-readErr
			return nil
		case err := <-readErr:
			return err
		case cmd := <-r.control:
			if err := r.apply(conn, cmd); err != nil {
				conn.Close()
				<-readErr
				return err
			}
		}
	}
}

// apply forwards cmd upstream unless the hub says it is already outdated.
func (r *Relay) apply(conn *websocket.Conn, cmd Command) error {
	count := r.trades.SubscriberCount(cmd.Topic)
	_, live := r.upstream.Load(cmd.Topic)

	switch cmd.Op {
	case OpSubscribe:
		if count == 0 || live {
			r.stale.Add(1)
			return nil
		}
	case OpUnsubscribe:
		if count > 0 || !live {
			r.stale.Add(1)
			return nil
		}
	default:
		r.stale.Add(1)
		r.logger.Warn("unknown relay command", "op", cmd.Op, "topic", cmd.Topic)
		return nil
	}

	if err := r.writeControl(conn, cmd.Op, []string{cmd.Topic}); err != nil {
		return err
	}
	if cmd.Op == OpSubscribe {
		r.upstream.Store(cmd.Topic, struct{}{})
	} else {
		r.upstream.Delete(cmd.Topic)
	}
	r.sent.Add(1)
	r.logger.Debug("upstream subscription changed", "op", cmd.Op, "topic", cmd.Topic)
	return nil
}

func (r *Relay) writeControl(conn *websocket.Conn, op Op, topics []string) error {
	data, err := json.Marshal(controlFrame{Type: op, ProductIDs: topics, Channels: r.cfg.Channels})
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}
	conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", op, err)
	}
	return nil
}

// keepAlive arms the read deadline and pushes it forward on every ping or
// pong. readLoop pushes it forward on every data frame.
func (r *Relay) keepAlive(conn *websocket.Conn) {
	if r.cfg.PingTimeout <= 0 {
		return
	}
	r.touch(conn)

	conn.SetPongHandler(func(string) error {
		r.touch(conn)
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		r.touch(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
}

func (r *Relay) touch(conn *websocket.Conn) {
	if r.cfg.PingTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(r.cfg.PingTimeout))
	}
}

// readLoop reads frames until the connection fails or goes quiet.
func (r *Relay) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return fmt.Errorf("%w: nothing received for %s", ErrStaleConnection, r.cfg.PingTimeout)
			}
			return fmt.Errorf("read upstream: %w", err)
		}
		r.touch(conn)
		r.frames.Add(1)
		r.handleFrame(data)
	}
}

// handleFrame publishes match frames. Anything else is counted and dropped.
func (r *Relay) handleFrame(data []byte) {
	var f feedFrame
	if err := json.Unmarshal(data, &f); err != nil {
		r.malformed.Add(1)
		r.logger.Debug("malformed upstream frame", "error", err)
		return
	}

	switch f.Type {
	case "match", "last_match":
	default:
		r.ignored.Add(1)
		return
	}

	if f.ProductID == "" {
		r.malformed.Add(1)
		return
	}
	if _, err := decimal.NewFromString(f.Price); err != nil {
		r.malformed.Add(1)
		r.logger.Debug("bad trade price", "product_id", f.ProductID, "price", f.Price)
		return
	}
	// The tick store casts time to timestamptz; one bad value fails the batch.
	if _, err := time.Parse(time.RFC3339Nano, f.Time); err != nil {
		r.malformed.Add(1)
		r.logger.Debug("bad trade time", "product_id", f.ProductID, "time", f.Time)
		return
	}

	tick := model.TradeTick{
		ProductID: f.ProductID,
		Price:     f.Price,
		Time:      f.Time,
		TradeID:   f.TradeID,
	}
	r.matches.Add(1)
	r.trades.Publish(f.ProductID, tick)
	if r.ticks != nil {
		r.ticks.Write(tick)
	}
}
