package subgraph

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rickgao/eigen-stream/internal/model"
)

// ErrTokenNotFound is returned when a symbol matches no indexed token.
var ErrTokenNotFound = errors.New("token not found")

const tokensBySymbolQuery = `query TokensBySymbol($symbol: String!, $first: Int!) {
  tokens(first: $first, where: { symbol_contains_nocase: $symbol }, orderBy: lastUpdateBlockTimestamp, orderDirection: desc) {
    id
    symbol
    decimals
  }
}`

const depositFields = `
    id
    token { id symbol }
    staker { id }
    strategy { id }
    shares
    blockNumber
    blockTimestamp
    transactionHash`

const depositsAscQuery = `query DepositsByTokenAsc($tokenId: String!, $since: BigInt!, $first: Int!, $skip: Int!) {
  deposits(first: $first, skip: $skip, orderBy: blockTimestamp, orderDirection: asc, where: { blockTimestamp_gte: $since, token_: { id: $tokenId } }) {` + depositFields + `
  }
}`

const depositsDescQuery = `query DepositsByTokenDesc($tokenId: String!, $since: BigInt!, $first: Int!, $skip: Int!) {
  deposits(first: $first, skip: $skip, orderBy: blockTimestamp, orderDirection: desc, where: { blockTimestamp_gte: $since, token_: { id: $tokenId } }) {` + depositFields + `
  }
}`

// SearchTokens returns up to first tokens whose symbol contains symbol.
func (c *Client) SearchTokens(ctx context.Context, symbol string, first int) ([]model.Token, error) {
	var data struct {
		Tokens []tokenNode `json:"tokens"`
	}
	vars := map[string]any{"symbol": symbol, "first": first}
	if err := c.query(ctx, "TokensBySymbol", tokensBySymbolQuery, vars, &data); err != nil {
		return nil, err
	}

	out := make([]model.Token, 0, len(data.Tokens))
	for _, n := range data.Tokens {
		out = append(out, n.toModel())
	}
	return out, nil
}

// ResolveToken maps a topic key to a token. An address is normalized and
// returned without a lookup; a symbol prefers an exact case-insensitive match
// over the most recently updated partial match.
func (c *Client) ResolveToken(ctx context.Context, key string) (model.Token, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return model.Token{}, fmt.Errorf("resolve token: %w", ErrTokenNotFound)
	}
	if model.IsAddress(key) {
		id := model.NormalizeID(key)
		return model.Token{ID: id, Symbol: id}, nil
	}

	tokens, err := c.SearchTokens(ctx, key, 10)
	if err != nil {
		return model.Token{}, fmt.Errorf("resolve token %q: %w", key, err)
	}
	if len(tokens) == 0 {
		return model.Token{}, fmt.Errorf("resolve token %q: %w", key, ErrTokenNotFound)
	}
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, key) {
			return t, nil
		}
	}
	return tokens[0], nil
}

// DepositQuery selects one page of deposits.
type DepositQuery struct {
	TokenID string
	Since   int64 // inclusive lower bound on block timestamp
	First   int
	Skip    int
	Desc    bool
}

// Deposits fetches one page of deposits for a token ordered by block time.
func (c *Client) Deposits(ctx context.Context, q DepositQuery) ([]model.Deposit, error) {
	query, op := depositsAscQuery, "DepositsByTokenAsc"
	if q.Desc {
		query, op = depositsDescQuery, "DepositsByTokenDesc"
	}

	var data struct {
		Deposits []depositNode `json:"deposits"`
	}
	vars := map[string]any{
		"tokenId": model.NormalizeID(q.TokenID),
		"since":   strconv.FormatInt(q.Since, 10),
		"first":   q.First,
		"skip":    q.Skip,
	}
	if err := c.query(ctx, op, query, vars, &data); err != nil {
		return nil, fmt.Errorf("fetch deposits: %w", err)
	}

	out := make([]model.Deposit, 0, len(data.Deposits))
	for _, n := range data.Deposits {
		out = append(out, n.toModel())
	}
	return out, nil
}
