// Package metrics exposes streamer state to Prometheus.
//
// Component counters are read at scrape time from each component's Stats
// method, so nothing on the hot path touches a Prometheus collector. HTTP
// request counts and latencies are recorded by Middleware.
//
// Key metrics:
//   - hub published, lagged and topic counts per hub
//   - poller cycles, accepted deposits, bootstraps and errors by stage
//   - relay connection state, reconnects, frames by outcome and upstream topics
//   - active sessions and frames sent per feed
//   - tick writer inserts, drops and errors
package metrics
