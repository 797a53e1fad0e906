// Package transport provides reference fpr.Driver implementations: an
// in-memory loopback bus for tests and simulation, and a UDP-broadcast
// driver for running FPR over an ordinary LAN in place of the dedicated
// low-MTU radio link the protocol expects.
package transport
