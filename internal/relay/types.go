package relay

import (
	"errors"
	"time"
)

var (
	// ErrNotConnected is reported by health checks while the upstream is down.
	ErrNotConnected = errors.New("relay not connected")

	// ErrStaleConnection means nothing arrived upstream within PingTimeout.
	ErrStaleConnection = errors.New("upstream connection stale")
)

// Op is an upstream subscription operation.
type Op string

const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
)

// Command asks the relay to change the upstream subscription of one topic.
type Command struct {
	Op    Op
	Topic string
}

// controlFrame is sent upstream to (un)subscribe products.
type controlFrame struct {
	Type       Op       `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// feedFrame is the subset of an upstream frame the relay reads.
type feedFrame struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
	TradeID   int64  `json:"trade_id"`
}

// Config configures the relay.
type Config struct {
	URL              string        // upstream websocket URL
	Channels         []string      // upstream channels per product (default: matches)
	ReconnectDelay   time.Duration // fixed wait between connection attempts
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration // write deadline for control frames
	PingInterval     time.Duration // keepalive ping period (0 disables pings)
	PingTimeout      time.Duration // max silence before reconnecting (0 disables)
	ControlBuffer    int           // command channel capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Channels:         []string{"matches"},
		ReconnectDelay:   2 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		ControlBuffer:    64,
	}
}

// Stats contains relay counters.
type Stats struct {
	Connected       bool
	Connects        int64
	Reconnects      int64
	Frames          int64
	Matches         int64
	Ignored         int64 // well-formed frames of other types
	Malformed       int64
	CommandsSent    int64
	CommandsStale   int64
	CommandsDropped int64
	UpstreamTopics  int
}
