// Package audit relays security events from the Engine to a caller-supplied sink
// without blocking the request path.
//
// The Engine decides which events exist; this package only buffers and
// delivers them. A full buffer either drops (counted by [Dispatcher.Dropped])
// or applies backpressure until the caller's context ends.
package audit
