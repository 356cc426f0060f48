// Package model defines the shared stream types.
//
// Conventions:
//   - Timestamps: int64 seconds since Unix epoch (block time for deposits)
//   - Amounts: decimal strings, never floats
//   - Token IDs: 0x-prefixed lowercase addresses
package model
