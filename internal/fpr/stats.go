package fpr

import "sync/atomic"

// Stats holds the process-wide counters. All fields are updated
// with atomic operations so the receive context (which must never block)
// can bump them without taking the peer-table lock.
type Stats struct {
	PacketsSent           atomic.Uint64
	PacketsReceived       atomic.Uint64
	PacketsDropped        atomic.Uint64
	SendFailures          atomic.Uint64
	ReplayAttacksBlocked  atomic.Uint64
	VersionMismatches     atomic.Uint64
	SecurityFailures      atomic.Uint64
	QueueDrops            atomic.Uint64
	PacketsForwarded      atomic.Uint64
	HandshakesCompleted   atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats for introspection.
type StatsSnapshot struct {
	PacketsSent          uint64
	PacketsReceived      uint64
	PacketsDropped       uint64
	SendFailures         uint64
	ReplayAttacksBlocked uint64
	VersionMismatches    uint64
	SecurityFailures     uint64
	QueueDrops           uint64
	PacketsForwarded     uint64
	HandshakesCompleted  uint64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		PacketsSent:          s.PacketsSent.Load(),
		PacketsReceived:      s.PacketsReceived.Load(),
		PacketsDropped:       s.PacketsDropped.Load(),
		SendFailures:         s.SendFailures.Load(),
		ReplayAttacksBlocked: s.ReplayAttacksBlocked.Load(),
		VersionMismatches:    s.VersionMismatches.Load(),
		SecurityFailures:     s.SecurityFailures.Load(),
		QueueDrops:           s.QueueDrops.Load(),
		PacketsForwarded:     s.PacketsForwarded.Load(),
		HandshakesCompleted:  s.HandshakesCompleted.Load(),
	}
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.PacketsSent.Store(0)
	s.PacketsReceived.Store(0)
	s.PacketsDropped.Store(0)
	s.SendFailures.Store(0)
	s.ReplayAttacksBlocked.Store(0)
	s.VersionMismatches.Store(0)
	s.SecurityFailures.Store(0)
	s.QueueDrops.Store(0)
	s.PacketsForwarded.Store(0)
	s.HandshakesCompleted.Store(0)
}
