package session

import (
	"github.com/rickgao/eigen-stream/internal/model"
)

// Frame type tags.
const (
	TypeHello   = "hello"
	TypeInit    = "init"
	TypeDeposit = "deposit"
	TypeTick    = "tick"
	TypeTrade   = "trade"
	TypeWarning = "warning"
	TypeError   = "error"
)

// HelloFrame opens every session.
type HelloFrame struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	Topic       string `json:"topic"`
	ResolvedID  string `json:"resolved_id"`
	Subscribers int    `json:"subscribers"`
	Since       int64  `json:"since,omitempty"`
	WindowSec   int64  `json:"window_sec,omitempty"`
	BucketSec   int64  `json:"bucket_sec,omitempty"`
}

// InitFrame carries the replayed series. Cursor is nil until the topic has
// a persisted position.
type InitFrame struct {
	Type    string         `json:"type"`
	Token   string         `json:"token"`
	TokenID string         `json:"token_id"`
	Series  []model.Bucket `json:"series"`
	Cursor  *model.Cursor  `json:"cursor"`
}

type DepositFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	model.Deposit
}

type TickFrame struct {
	Type    string       `json:"type"`
	Token   string       `json:"token"`
	TokenID string       `json:"token_id"`
	Bucket  model.Bucket `json:"bucket"`
}

type TradeFrame struct {
	Type string `json:"type"`
	model.TradeTick
}

type WarningFrame struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Skipped uint64 `json:"skipped,omitempty"`
}

type ErrorFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
