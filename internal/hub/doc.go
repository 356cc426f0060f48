// Package hub is the in-process topic registry.
//
// Each topic owns a bounded ring shared by all of its receivers. Publishers
// never block: when a receiver falls more than one ring behind, the oldest
// items are lost for that receiver only and its next Recv reports a LagError.
//
// Subscribe and Receiver.Close report the exact 0->1 and 1->0 subscriber
// transitions so callers can start or stop upstream work. A topic's ring is
// removed lazily, and only if it is still idle when the check runs.
package hub
