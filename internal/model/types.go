package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Deposit is a single staking deposit reported by the indexer.
type Deposit struct {
	ID             string `json:"id"`
	TokenID        string `json:"token_id"`
	TokenSymbol    string `json:"token_symbol"`
	Staker         string `json:"staker"`
	StrategyID     string `json:"strategy_id"`
	Shares         string `json:"shares"`
	BlockNumber    int64  `json:"block_number"`
	BlockTimestamp int64  `json:"block_timestamp"`
	TxHash         string `json:"tx_hash"`
}

// Position returns the deposit's place in its topic order.
func (d Deposit) Position() Position {
	return Position{Ts: d.BlockTimestamp, ID: d.ID}
}

// SharesDecimal parses Shares. An empty value is zero.
func (d Deposit) SharesDecimal() (decimal.Decimal, error) {
	if d.Shares == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(d.Shares)
}

// TradeTick is a matched trade from the push feed.
type TradeTick struct {
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
	TradeID   int64  `json:"-"`
}

// Bucket is a fixed-width aggregation of deposits starting at T.
type Bucket struct {
	T     int64  `json:"t"`
	Count int64  `json:"count"`
	Sum   string `json:"sum"`
}

// EmptyBucket returns the zero value used to fill gaps.
func EmptyBucket(t int64) Bucket {
	return Bucket{T: t, Count: 0, Sum: "0"}
}

// Token is a resolved indexer token.
type Token struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// IsAddress reports whether key looks like a hex contract address.
func IsAddress(key string) bool {
	return len(key) >= 42 && strings.HasPrefix(strings.ToLower(key), "0x")
}

// NormalizeID returns id as a 0x-prefixed lowercase string.
func NormalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return ""
	}
	if !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}
	return id
}
