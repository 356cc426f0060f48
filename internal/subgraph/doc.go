// Package subgraph is the GraphQL client for the deposit indexer.
//
// The indexer serves paginated deposits by token and timestamp, in either
// direction, plus a symbol search used to resolve human topic keys to token
// addresses. BigInt fields arrive as JSON strings.
package subgraph
