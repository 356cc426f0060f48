package poller

import "github.com/rickgao/eigen-stream/internal/model"

// EventKind distinguishes the messages published on a deposit topic.
type EventKind string

const (
	KindDeposit EventKind = "deposit"
	KindTick    EventKind = "tick"
)

// Event is what the poller publishes to the deposit hub. Exactly one of
// Deposit and Bucket is set, matching Kind.
type Event struct {
	Kind    EventKind
	Topic   string
	TokenID string
	Deposit *model.Deposit
	Bucket  *model.Bucket
}
