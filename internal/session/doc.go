// Package session serves live topic streams over websockets.
//
// A Handler is bound to one Feed. Deposit feeds are poller-backed and send
// a zero-filled bucket series on connect; trade feeds are relay-backed and
// only stream live ticks. Each session sends, in order:
//
//	hello   topic, resolved id, subscriber count
//	init    replayed series and persisted cursor (deposit feeds only)
//	...     live deposit, tick or trade frames
//
// A receiver that falls behind gets a warning frame and keeps streaming.
// Bad query parameters and unknown topics get an error frame, after which
// the server closes the connection.
package session
