// Package transport provides the MRC connection layer.
//
// The transport layer handles:
//   - TCP connections to MRC servers (plain, trusted LAN)
//   - 2 byte length-prefixed message framing
//   - A FIFO request queue with a single request in flight
//   - Correlation of each response with the in-flight request
//   - Connection state management and events
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Binary Messages (pkg/wire)   │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (2B)   │
//	├────────────────────────────────┤
//	│             TCP                │
//	└────────────────────────────────┘
//
// # Request Discipline
//
// The protocol carries no request IDs. A response always answers the one
// request currently in flight, so a Connection never writes the next request
// before the previous one was answered. Requests queued meanwhile wait in
// submission order.
//
// # Threading
//
// A Connection is owned by a reactor goroutine (pkg/reactor). Dialing,
// writing and reading run on helper goroutines which post their results
// back to the reactor; stale results from an earlier socket are discarded.
package transport
