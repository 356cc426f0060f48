// Package database opens the TimescaleDB pool that backs deposit storage,
// stream cursors and trade ticks.
package database
