package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/eigen-stream/internal/cursor"
	"github.com/rickgao/eigen-stream/internal/hub"
	"github.com/rickgao/eigen-stream/internal/model"
	"github.com/rickgao/eigen-stream/internal/poller"
	"github.com/rickgao/eigen-stream/internal/sink"
)

// Request is a parsed stream request.
type Request struct {
	Topic string
	Since *int64 // replay floor in epoch seconds
}

// Feed opens streams for one kind of topic.
type Feed interface {
	Name() string
	Open(ctx context.Context, req Request) (Stream, error)
}

// Stream is one session's subscription. Open has already subscribed it, so
// nothing published after Open returns is missed.
type Stream interface {
	// Hello returns the handshake frame with the feed-specific fields set.
	Hello() HelloFrame

	// Snapshot returns the init frame, or nil when the feed has no replay.
	Snapshot(ctx context.Context) (*InitFrame, error)

	// Next blocks for the next live frame. A *hub.LagError is not fatal.
	Next(ctx context.Context) (any, error)

	Close()
}

// DepositFeed streams poller output and replays bucketed history.
type DepositFeed struct {
	Resolver    poller.Resolver
	Store       sink.Sink
	Cursors     *cursor.Store
	Events      *hub.Hub[poller.Event]
	Window      time.Duration
	BucketWidth time.Duration

	// Clock overrides time.Now.
	Clock func() time.Time
}

func (f *DepositFeed) Name() string { return "deposits" }

// Open resolves the topic, subscribes to it and registers poll interest.
func (f *DepositFeed) Open(ctx context.Context, req Request) (Stream, error) {
	tok, err := f.Resolver.ResolveToken(ctx, req.Topic)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", req.Topic, err)
	}

	rx, _ := f.Events.Subscribe(req.Topic)
	f.Cursors.RegisterInterest(req.Topic, req.Since)

	return &depositStream{feed: f, topic: req.Topic, token: tok, rx: rx}, nil
}

func (f *DepositFeed) now() time.Time {
	if f.Clock != nil {
		return f.Clock()
	}
	return time.Now()
}

type depositStream struct {
	feed  *DepositFeed
	topic string
	token model.Token
	rx    *hub.Receiver[poller.Event]
}

func (s *depositStream) Hello() HelloFrame {
	return HelloFrame{
		ResolvedID:  s.token.ID,
		Subscribers: s.feed.Events.SubscriberCount(s.topic),
		WindowSec:   int64(s.feed.Window / time.Second),
		BucketSec:   int64(s.feed.BucketWidth / time.Second),
	}
}

// Snapshot buckets the last Window of persisted deposits onto the grid
// ending at the current bucket.
func (s *depositStream) Snapshot(ctx context.Context) (*InitFrame, error) {
	width := int64(s.feed.BucketWidth / time.Second)
	now := s.feed.now().Unix()
	end := model.AlignDown(now, width)
	start := model.AlignDown(now-int64(s.feed.Window/time.Second), width)

	buckets, err := s.feed.Store.FetchBuckets(ctx, s.token.ID, start, width)
	if err != nil {
		return nil, fmt.Errorf("fetch buckets: %w", err)
	}

	frame := &InitFrame{
		Type:    TypeInit,
		Token:   s.topic,
		TokenID: s.token.ID,
		Series:  sink.ZeroFill(buckets, start, end, width),
	}

	c, ok, err := s.feed.Store.LoadCursor(ctx, s.token.ID)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	if ok {
		frame.Cursor = &c
	}
	return frame, nil
}

func (s *depositStream) Next(ctx context.Context) (any, error) {
	ev, err := s.rx.Recv(ctx)
	if err != nil {
		return nil, err
	}

	switch ev.Kind {
	case poller.KindDeposit:
		return DepositFrame{Type: TypeDeposit, Token: s.topic, Deposit: *ev.Deposit}, nil
	case poller.KindTick:
		return TickFrame{Type: TypeTick, Token: s.topic, TokenID: ev.TokenID, Bucket: *ev.Bucket}, nil
	}
	return nil, nil
}

func (s *depositStream) Close() {
	s.rx.Close()
}

// Demander hands out trade receivers and tracks upstream demand.
// *relay.Relay implements it.
type Demander interface {
	Demand(ctx context.Context, topic string) *hub.Receiver[model.TradeTick]
	Release(rx *hub.Receiver[model.TradeTick])
}

// TradeFeed streams relayed trade ticks. Without a Relay it reads Trades
// directly, which only sees what something else publishes.
type TradeFeed struct {
	Relay  Demander
	Trades *hub.Hub[model.TradeTick]
}

func (f *TradeFeed) Name() string { return "trades" }

// Open subscribes to the product. Product ids are upper case upstream.
func (f *TradeFeed) Open(ctx context.Context, req Request) (Stream, error) {
	product := strings.ToUpper(req.Topic)

	var rx *hub.Receiver[model.TradeTick]
	if f.Relay != nil {
		rx = f.Relay.Demand(ctx, product)
	} else {
		rx, _ = f.Trades.Subscribe(product)
	}
	return &tradeStream{feed: f, product: product, rx: rx}, nil
}

type tradeStream struct {
	feed    *TradeFeed
	product string
	rx      *hub.Receiver[model.TradeTick]
}

func (s *tradeStream) Hello() HelloFrame {
	return HelloFrame{
		ResolvedID:  s.product,
		Subscribers: s.feed.Trades.SubscriberCount(s.product),
	}
}

func (s *tradeStream) Snapshot(context.Context) (*InitFrame, error) {
	return nil, nil
}

func (s *tradeStream) Next(ctx context.Context) (any, error) {
	t, err := s.rx.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return TradeFrame{Type: TypeTrade, TradeTick: t}, nil
}

func (s *tradeStream) Close() {
	if s.feed.Relay != nil {
		s.feed.Relay.Release(s.rx)
		return
	}
	s.rx.Close()
}
