// Package fpr implements the Fast Peer Router core: the per-peer connection
// state machine, the four-message security handshake, the fragmenting
// transmit pipeline, the reassembling/replay-checking receive pipeline, and
// the client/host/extender role logic that drives discovery, approval,
// keepalive, and mesh route learning over a broadcast MAC-addressed
// datagram link.
//
// The wire format, handshake, and pipelines are specified independently of
// any particular radio or transport; the link layer contract is the Driver
// interface (driver.go), and internal/transport holds loopback and
// UDP-broadcast reference implementations of it.
package fpr
