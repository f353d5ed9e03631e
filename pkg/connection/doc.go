// Package connection decides when an MRC connection that was lost
// unexpectedly is dialed again.
//
// # Reconnection Strategy
//
// Delays grow exponentially from Initial to Max:
//
//	1s, 2s, 4s, 8s, 16s, 32s, 60s, 60s, ...
//
// A random jitter of up to Jitter times the base delay is added to every
// delay, so that several clients losing the same server do not redial in
// lock step:
//
//	delay = base + random(0, base * jitter)
//
// The sequence starts over once a connection was established. A connection
// closed on request is never redialed.
package connection
