// streamtest connects to a streamer endpoint and prints frames to the console.
// Usage: go run ./cmd/streamtest --url ws://localhost:8080/stream/deposits --topic EIGEN
//
//	go run ./cmd/streamtest --url ws://localhost:8080/stream/trades --topic ETH-USD --verbose
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// frame holds the fields printed in compact mode. Unused ones stay zero.
type frame struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id"`
	Topic      string          `json:"topic"`
	ResolvedID string          `json:"resolved_id"`
	Token      string          `json:"token"`
	Reason     string          `json:"reason"`
	Skipped    uint64          `json:"skipped"`
	Series     json.RawMessage `json:"series"`
	Bucket     json.RawMessage `json:"bucket"`

	// deposit
	ID             string `json:"id"`
	BlockTimestamp int64  `json:"block_timestamp"`
	Shares         string `json:"shares"`

	// trade
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
}

type counts struct {
	mu sync.Mutex
	by map[string]int
}

func (c *counts) add(typ string) {
	c.mu.Lock()
	c.by[typ]++
	c.mu.Unlock()
}

func (c *counts) snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.by))
	for k := range c.by {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		attrs = append(attrs, k, c.by[k])
	}
	return attrs
}

func main() {
	rawURL := flag.String("url", "ws://localhost:8080/stream/deposits", "stream endpoint")
	topic := flag.String("topic", "EIGEN", "topic or product id")
	since := flag.Int64("since", 0, "replay floor in epoch seconds (0: unset)")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	u, err := url.Parse(*rawURL)
	if err != nil {
		logger.Error("invalid url", "url", *rawURL, "error", err)
		os.Exit(1)
	}
	q := u.Query()
	q.Set("topic", *topic)
	if *since > 0 {
		q.Set("since", fmt.Sprint(*since))
	}
	u.RawQuery = q.Encode()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	cancel()
	if err != nil {
		logger.Error("dial failed", "url", u.String(), "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected", "url", u.String())

	c := &counts{by: make(map[string]int)}
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
					return
				}
				logger.Warn("read failed", "error", err)
				return
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				logger.Warn("unparseable frame", "error", err, "raw", string(data))
				continue
			}
			c.add(f.Type)
			printFrame(f, data, *verbose)
		}
	}()

	// Stats printer
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logger.Info("frames", c.snapshot()...)
		case <-done:
			logger.Info("stream closed", c.snapshot()...)
			return
		case <-ctx.Done():
			logger.Info("shutting down...")
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			select {
			case <-done:
			case <-time.After(2 * time.Second):
			}
			logger.Info("shutdown complete", c.snapshot()...)
			return
		}
	}
}

func printFrame(f frame, raw []byte, verbose bool) {
	if verbose {
		var pretty any
		_ = json.Unmarshal(raw, &pretty)
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("[%s] %s\n", f.Type, out)
		return
	}

	switch f.Type {
	case "hello":
		fmt.Printf("[HELLO] session=%s topic=%s resolved=%s\n", f.SessionID, f.Topic, f.ResolvedID)
	case "init":
		var series []json.RawMessage
		_ = json.Unmarshal(f.Series, &series)
		fmt.Printf("[INIT] token=%s buckets=%d\n", f.Token, len(series))
	case "deposit":
		fmt.Printf("[DEPOSIT] token=%s id=%s ts=%d shares=%s\n", f.Token, f.ID, f.BlockTimestamp, f.Shares)
	case "tick":
		fmt.Printf("[TICK] token=%s bucket=%s\n", f.Token, f.Bucket)
	case "trade":
		fmt.Printf("[TRADE] product=%s price=%s\n", f.ProductID, f.Price)
	case "warning":
		fmt.Printf("[WARNING] reason=%s skipped=%d\n", f.Reason, f.Skipped)
	case "error":
		fmt.Printf("[ERROR] reason=%s\n", f.Reason)
	default:
		fmt.Printf("[%s] %s\n", f.Type, raw)
	}
}
