// Package wire defines the binary wire format spoken between a controlling
// client and an MRC server.
//
// Every message starts with a one byte type code followed by a fixed set of
// fields in network byte order. The transport layer adds a two byte
// big-endian length prefix in front of each encoded message.
//
// # Message Types
//
// Messages are classified by the prefix of their symbolic name:
//   - request_*: client to server, answered by exactly one response
//   - response_*: server to client, answers the single outstanding request
//   - notify_*: server to client, unsolicited
//
// Each message type has its own Go struct implementing Message. Encode and
// Decode switch over the concrete types; the type table in this package is
// built once at init and never modified afterwards.
//
// # Field Widths
//
//	bus       u8   0..1
//	device    u8   0..15
//	parameter u8   0..255
//	value     i32  two's complement, big-endian
//	flag      u8   0 = false, anything else = true
//	idc       u8   device identifier code, 0 = no device
//	rc        u8   0/1 = remote control off/on, other = address conflict
package wire
