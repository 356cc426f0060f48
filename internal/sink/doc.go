// Package sink persists deposits, stream cursors and trade ticks.
//
// Deposit inserts are idempotent on (tx_hash, block_timestamp), so the
// poller may hand the same item over more than once. Live publishing does not
// wait for a write: a failed batch loses durability, not delivery.
//
// Two implementations exist: Timescale (pgx) for production and Memory for
// tests and database-less runs.
package sink
