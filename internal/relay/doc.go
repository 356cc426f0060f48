// Package relay keeps one websocket connection to a Coinbase-style trade
// feed and mirrors local demand onto it.
//
// Sessions signal demand through Demand and Release, which emit Subscribe
// and Unsubscribe commands only on a topic's 0->1 and 1->0 subscriber
// transitions. The relay forwards those as upstream control frames, and on
// every (re)connect it resubscribes every topic that currently has
// receivers, so commands dropped while disconnected are harmless.
//
// Match frames are published to the trades hub and handed to a TickSink for
// persistence. Nothing waits on the write.
package relay
