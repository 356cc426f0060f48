// Package poller runs the pull side of the deposit stream.
//
// Every interval it takes a snapshot of the interested topics and, for each
// one: resolves the topic to a token, seeds the in-memory cursor from the
// sink, backfills history once if the sink holds nothing for the token,
// fetches new deposits with a refetch overlap, and publishes the current
// bucket as a tick. A failure in one step skips the rest of that topic's
// fetch for the cycle but never the tick, and never another topic.
package poller
