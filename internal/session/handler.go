package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/eigen-stream/internal/hub"
)

// ErrMissingTopic is returned for a request without a topic.
var ErrMissingTopic = errors.New("missing topic")

// Config configures the websocket side of a session.
type Config struct {
	ReadBuffer   int
	WriteBuffer  int
	PingInterval time.Duration // server ping period; reads time out after two
	WriteTimeout time.Duration
	SendBuffer   int // frames queued for the socket writer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReadBuffer:   1024,
		WriteBuffer:  4096,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   256,
	}
}

// Stats contains session counters for one handler.
type Stats struct {
	Active      int64
	Total       int64
	FramesSent  int64
	LagWarnings int64
	Rejected    int64
}

// Handler upgrades requests and streams one Feed to each connection.
type Handler struct {
	feed     Feed
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	active      atomic.Int64
	total       atomic.Int64
	framesSent  atomic.Int64
	lagWarnings atomic.Int64
	rejected    atomic.Int64
}

// NewHandler creates a handler serving feed.
func NewHandler(feed Feed, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 1
	}
	return &Handler{
		feed: feed,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBuffer,
			WriteBufferSize: cfg.WriteBuffer,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("feed", feed.Name()),
	}
}

// Stats returns current counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Active:      h.active.Load(),
		Total:       h.total.Load(),
		FramesSent:  h.framesSent.Load(),
		LagWarnings: h.lagWarnings.Load(),
		Rejected:    h.rejected.Load(),
	}
}

// ServeHTTP runs one session until the client leaves or a write fails.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	log := h.logger.With("session_id", id)

	req, err := parseRequest(r.URL.Query())
	if err != nil {
		h.reject(conn, log, err.Error())
		return
	}

	h.total.Add(1)
	h.active.Add(1)
	defer h.active.Add(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := h.feed.Open(ctx, req)
	if err != nil {
		log.Warn("open stream failed", "topic", req.Topic, "error", err)
		h.reject(conn, log, "unknown topic: "+req.Topic)
		return
	}
	defer stream.Close()

	log = log.With("topic", req.Topic)
	log.Info("session started", "remote_addr", r.RemoteAddr)

	hello := stream.Hello()
	hello.Type = TypeHello
	hello.SessionID = id
	hello.Topic = req.Topic
	if req.Since != nil {
		hello.Since = *req.Since
	}
	if err := h.write(conn, hello); err != nil {
		log.Debug("write hello failed", "error", err)
		return
	}

	snapshot, err := stream.Snapshot(ctx)
	if err != nil {
		log.Warn("replay failed", "error", err)
	} else if snapshot != nil {
		if err := h.write(conn, snapshot); err != nil {
			log.Debug("write init failed", "error", err)
			return
		}
	}

	send := make(chan any, h.cfg.SendBuffer)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(conn, send, cancel, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pingLoop(ctx, conn, log)
	}()

	// The read loop is not waited on: it returns once conn is closed.
	go h.readLoop(conn, cancel)

	h.relay(ctx, stream, send)

	close(send)
	cancel()
	wg.Wait()
	log.Info("session ended")
}

// relay forwards live frames until ctx is done or the stream ends.
func (h *Handler) relay(ctx context.Context, stream Stream, send chan<- any) {
	for {
		frame, err := stream.Next(ctx)

		var lag *hub.LagError
		switch {
		case errors.As(err, &lag):
			h.lagWarnings.Add(1)
			frame = WarningFrame{Type: TypeWarning, Reason: "lagged", Skipped: lag.Skipped}
		case err != nil:
			return
		case frame == nil:
			continue
		}

		select {
		case send <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop is the only writer of data frames on conn.
func (h *Handler) writeLoop(conn *websocket.Conn, send <-chan any, cancel context.CancelFunc, log *slog.Logger) {
	for frame := range send {
		if err := h.write(conn, frame); err != nil {
			log.Debug("write frame failed", "error", err)
			cancel()
			// Keep draining so relay never blocks on a dead socket.
			for range send {
			}
			return
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn, log *slog.Logger) {
	if h.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				log.Debug("send ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop discards client messages and cancels the session when the
// client closes or stops answering pings.
func (h *Handler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	if h.cfg.PingInterval > 0 {
		wait := 2 * h.cfg.PingInterval
		conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, frame any) error {
	if h.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	}
	if err := conn.WriteJSON(frame); err != nil {
		return err
	}
	h.framesSent.Add(1)
	return nil
}

// reject sends an error frame and closes the connection.
func (h *Handler) reject(conn *websocket.Conn, log *slog.Logger, reason string) {
	h.rejected.Add(1)
	log.Info("session rejected", "reason", reason)

	if err := h.write(conn, ErrorFrame{Type: TypeError, Reason: reason}); err != nil {
		return
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""),
		time.Now().Add(time.Second),
	)
}

// parseRequest reads topic (or its older name, token) and since.
func parseRequest(q url.Values) (Request, error) {
	topic := strings.TrimSpace(q.Get("topic"))
	if topic == "" {
		topic = strings.TrimSpace(q.Get("token"))
	}
	if topic == "" {
		return Request{}, ErrMissingTopic
	}

	req := Request{Topic: topic}
	if s := q.Get("since"); s != "" {
		since, err := strconv.ParseInt(s, 10, 64)
		if err != nil || since < 0 {
			return Request{}, fmt.Errorf("invalid since: %q", s)
		}
		req.Since = &since
	}
	return req, nil
}
