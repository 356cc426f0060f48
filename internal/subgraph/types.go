package subgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rickgao/eigen-stream/internal/model"
)

// bigInt decodes a GraphQL BigInt/Int sent either quoted or bare.
type bigInt int64

func (b *bigInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*b = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse bigint %q: %w", data, err)
	}
	*b = bigInt(v)
	return nil
}

// bigDecimal keeps an arbitrary precision amount as its decimal string.
type bigDecimal string

func (d *bigDecimal) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*d = bigDecimal(s)
		return nil
	}
	*d = bigDecimal(bytes.TrimSpace(data))
	return nil
}

type entityRef struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

type tokenNode struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals bigInt `json:"decimals"`
}

func (n tokenNode) toModel() model.Token {
	return model.Token{
		ID:       model.NormalizeID(n.ID),
		Symbol:   n.Symbol,
		Decimals: int(n.Decimals),
	}
}

type depositNode struct {
	ID              string     `json:"id"`
	Token           entityRef  `json:"token"`
	Staker          entityRef  `json:"staker"`
	Strategy        entityRef  `json:"strategy"`
	Shares          bigDecimal `json:"shares"`
	BlockNumber     bigInt     `json:"blockNumber"`
	BlockTimestamp  bigInt     `json:"blockTimestamp"`
	TransactionHash string     `json:"transactionHash"`
}

func (n depositNode) toModel() model.Deposit {
	shares := string(n.Shares)
	if shares == "" {
		shares = "0"
	}
	return model.Deposit{
		ID:             n.ID,
		TokenID:        model.NormalizeID(n.Token.ID),
		TokenSymbol:    n.Token.Symbol,
		Staker:         model.NormalizeID(n.Staker.ID),
		StrategyID:     model.NormalizeID(n.Strategy.ID),
		Shares:         shares,
		BlockNumber:    int64(n.BlockNumber),
		BlockTimestamp: int64(n.BlockTimestamp),
		TxHash:         model.NormalizeID(n.TransactionHash),
	}
}
