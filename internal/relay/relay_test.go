package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/eigen-stream/internal/hub"
	"github.com/rickgao/eigen-stream/internal/model"
)

// upstream is a fake trade feed that records control frames.
type upstream struct {
	srv   *httptest.Server
	conns chan *websocket.Conn

	mu     sync.Mutex
	frames []controlFrame
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()

	u := &upstream{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		u.conns <- conn

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f controlFrame
			if json.Unmarshal(data, &f) == nil {
				u.mu.Lock()
				u.frames = append(u.frames, f)
				u.mu.Unlock()
			}
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) url() string {
	return "ws" + strings.TrimPrefix(u.srv.URL, "http")
}

func (u *upstream) received() []controlFrame {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]controlFrame(nil), u.frames...)
}

func (u *upstream) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-u.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not connect")
		return nil
	}
}

type recordingSink struct {
	mu    sync.Mutex
	ticks []model.TradeTick
}

func (s *recordingSink) Write(t model.TradeTick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
	return true
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func newTestRelay(t *testing.T, u *upstream, ticks TickSink) (*Relay, *hub.Hub[model.TradeTick]) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.URL = u.url()
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.WriteTimeout = time.Second

	trades := hub.New[model.TradeTick](16)
	r := New(cfg, trades, ticks, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.Stop(ctx)
	})
	return r, trades
}

func waitConnected(t *testing.T, r *Relay) {
	t.Helper()
	require.Eventually(t, r.Connected, 2*time.Second, 5*time.Millisecond)
}

func TestRelay_StartRequiresURL(t *testing.T) {
	r := New(DefaultConfig(), hub.New[model.TradeTick](4), nil, nil)
	assert.Error(t, r.Start(context.Background()))
}

func TestRelay_SubscribesExistingDemandOnConnect(t *testing.T) {
	u := newUpstream(t)
	r, _ := newTestRelay(t, u, nil)
	ctx := context.Background()

	rx := r.Demand(ctx, "BTC-USD")
	defer rx.Close()

	require.NoError(t, r.Start(ctx))
	u.nextConn(t)
	waitConnected(t, r)

	want := controlFrame{Type: OpSubscribe, ProductIDs: []string{"BTC-USD"}, Channels: []string{"matches"}}
	require.Eventually(t, func() bool { return len(u.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, u.received()[0])

	// The queued command is now stale; it must not produce a second frame.
	require.Eventually(t, func() bool { return r.Stats().CommandsStale == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, u.received(), 1)
	assert.Equal(t, 1, r.Stats().UpstreamTopics)
}

func TestRelay_DemandTransitions(t *testing.T) {
	u := newUpstream(t)
	r, trades := newTestRelay(t, u, nil)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx))
	u.nextConn(t)
	waitConnected(t, r)

	rx1 := r.Demand(ctx, "ETH-USD")
	require.Eventually(t, func() bool { return len(u.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, OpSubscribe, u.received()[0].Type)
	assert.Equal(t, []string{"ETH-USD"}, u.received()[0].ProductIDs)

	rx2 := r.Demand(ctx, "ETH-USD")
	assert.Equal(t, 2, trades.SubscriberCount("ETH-USD"))

	r.Release(rx1)
	r.Release(rx2)

	require.Eventually(t, func() bool { return len(u.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, OpUnsubscribe, u.received()[1].Type)
	assert.Equal(t, []string{"ETH-USD"}, u.received()[1].ProductIDs)
	assert.Equal(t, int64(2), r.Stats().CommandsSent)
	assert.Equal(t, 0, r.Stats().UpstreamTopics)
}

func TestRelay_IgnoresStaleCommands(t *testing.T) {
	u := newUpstream(t)
	r, _ := newTestRelay(t, u, nil)

	require.NoError(t, r.Start(context.Background()))
	u.nextConn(t)
	waitConnected(t, r)

	r.control <- Command{Op: OpSubscribe, Topic: "SOL-USD"}   // nobody is listening
	r.control <- Command{Op: OpUnsubscribe, Topic: "SOL-USD"} // never subscribed

	require.Eventually(t, func() bool { return r.Stats().CommandsStale == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, u.received())
}

func TestRelay_PublishesMatches(t *testing.T) {
	u := newUpstream(t)
	ticks := &recordingSink{}
	r, _ := newTestRelay(t, u, ticks)
	ctx := context.Background()

	rx := r.Demand(ctx, "BTC-USD")
	defer rx.Close()

	require.NoError(t, r.Start(ctx))
	server := u.nextConn(t)
	waitConnected(t, r)

	frames := []string{
		`{"type":"subscriptions","channels":[]}`,
		`not json`,
		`{"type":"match","product_id":"BTC-USD","price":"abc","time":"t"}`,
		`{"type":"match","product_id":"BTC-USD","price":"64000.5","time":"2024-01-01T00:00:00Z","trade_id":7}`,
		`{"type":"last_match","product_id":"ETH-USD","price":"3000","time":"2024-01-01T00:00:01Z"}`,
		`{"type":"match","product_id":"BTC-USD","price":"64001"}`,
		`{"type":"match","product_id":"BTC-USD","price":"64002","time":"not-a-time"}`,
	}
	for _, f := range frames {
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	tick, err := rx.Recv(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, model.TradeTick{
		ProductID: "BTC-USD",
		Price:     "64000.5",
		Time:      "2024-01-01T00:00:00Z",
		TradeID:   7,
	}, tick)

	// Ticks are persisted whether or not anyone listens locally.
	require.Eventually(t, func() bool { return r.Stats().Malformed == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, ticks.len(), "ticks without a valid time never reach the writer")

	stats := r.Stats()
	assert.Equal(t, int64(len(frames)), stats.Frames)
	assert.Equal(t, int64(2), stats.Matches)
	assert.Equal(t, int64(1), stats.Ignored)
	assert.True(t, r.Connected(), "bad frames do not drop the connection")
}

func TestRelay_ReconnectResubscribes(t *testing.T) {
	u := newUpstream(t)
	r, _ := newTestRelay(t, u, nil)
	ctx := context.Background()

	rx := r.Demand(ctx, "BTC-USD")
	defer rx.Close()

	require.NoError(t, r.Start(ctx))
	first := u.nextConn(t)
	require.Eventually(t, func() bool { return len(u.received()) == 1 }, time.Second, 5*time.Millisecond)

	first.Close()

	u.nextConn(t)
	require.Eventually(t, func() bool { return len(u.received()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"BTC-USD"}, u.received()[1].ProductIDs)
	require.Eventually(t, func() bool { return r.Stats().Connects == 2 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, r.Stats().Reconnects, int64(1))
}

// newSilentUpstream accepts connections and then never reads or writes, so
// pings go unanswered.
func newSilentUpstream(t *testing.T) (url string, accepted func() int) {
	t.Helper()

	var (
		mu    sync.Mutex
		count int
	)
	done := make(chan struct{})
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mu.Lock()
		count++
		mu.Unlock()
		<-done
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(done) })

	return "ws" + strings.TrimPrefix(srv.URL, "http"), func() int {
		mu.Lock()
		defer mu.Unlock()
		return count
	}
}

func TestRelay_ReconnectsWhenUpstreamGoesQuiet(t *testing.T) {
	url, accepted := newSilentUpstream(t)

	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.WriteTimeout = time.Second
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 100 * time.Millisecond

	r := New(cfg, hub.New[model.TradeTick](4), nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.Stop(ctx)
	})

	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return r.Stats().Connects >= 2 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, r.Stats().Reconnects, int64(1))
	assert.GreaterOrEqual(t, accepted(), 2)
}

func TestRelay_HeartbeatKeepsLiveUpstream(t *testing.T) {
	u := newUpstream(t)

	cfg := DefaultConfig()
	cfg.URL = u.url()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.WriteTimeout = time.Second
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 200 * time.Millisecond

	r := New(cfg, hub.New[model.TradeTick](4), nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.Stop(ctx)
	})

	require.NoError(t, r.Start(context.Background()))
	u.nextConn(t)
	waitConnected(t, r)

	// The fake upstream answers pings while it reads, so the deadline keeps moving.
	time.Sleep(600 * time.Millisecond)
	assert.True(t, r.Connected())
	assert.Equal(t, int64(1), r.Stats().Connects)
}

func TestRelay_StopIsIdempotent(t *testing.T) {
	u := newUpstream(t)
	r, _ := newTestRelay(t, u, nil)

	require.NoError(t, r.Start(context.Background()))
	u.nextConn(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx))
	assert.False(t, r.Connected())
}
