package fpr

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Table is the peer map keyed by MAC address. Every mutation is
// serialised by a single exclusive lock.
type Table struct {
	mu       sync.RWMutex
	peers    map[MAC]*Peer
	driver   Driver
	queueCap int
	logger   *slog.Logger
}

// NewTable constructs an empty peer table bound to driver. queueCap bounds
// each peer's receive queue; non-positive means DefaultQueueCapacity.
func NewTable(driver Driver, queueCap int, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}

	return &Table{
		peers:    make(map[MAC]*Peer),
		driver:   driver,
		queueCap: queueCap,
		logger:   logger.With(slog.String("component", "peer_table")),
	}
}

// Lookup returns the peer record for mac, if any.
func (t *Table) Lookup(mac MAC) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.peers[mac]

	return p, ok
}

// Add creates and registers a new peer record. Link-layer registration
// must succeed before the record is installed; a failure rolls the add
// back.
func (t *Table) Add(mac MAC, name string, connected bool) (*Peer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.peers[mac]; exists {
		return nil, newErr("peer table add", KindInvalidArgument, fmt.Errorf("%s: %w", mac, ErrPeerExists))
	}

	if err := t.driver.RegisterPeer(mac); err != nil {
		return nil, newErr("peer table add", KindLinkFailure, err)
	}

	p := newPeer(mac, name, t.queueCap)
	if connected {
		p.state = StateConnected
	}

	t.peers[mac] = p

	t.logger.Info("peer added", slog.String("mac", mac.String()), slog.String("name", name))

	return p, nil
}

// Remove tears down a peer's queue and deregisters it from the link layer.
func (t *Table) Remove(mac MAC) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[mac]
	if !ok {
		return newErr("peer table remove", KindNotFound, fmt.Errorf("%s: %w", mac, ErrPeerNotFound))
	}

	p.mu.Lock()
	p.wipeKeys()
	p.mu.Unlock()

	delete(t.peers, mac)

	if err := t.driver.UnregisterPeer(mac); err != nil {
		t.logger.Warn("unregister peer failed", slog.String("mac", mac.String()), slog.String("error", err.Error()))
	}

	t.logger.Info("peer removed", slog.String("mac", mac.String()))

	return nil
}

// ForEach visits every peer under a read lock. visitor must not call back
// into Table.
func (t *Table) ForEach(visitor func(*Peer)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, p := range t.peers {
		visitor(p)
	}
}

// ClearAll removes every peer, wiping keys and deregistering each.
func (t *Table) ClearAll() {
	t.mu.Lock()
	macs := make([]MAC, 0, len(t.peers))

	for mac, p := range t.peers {
		p.mu.Lock()
		p.wipeKeys()
		p.mu.Unlock()
		macs = append(macs, mac)
	}

	t.peers = make(map[MAC]*Peer)
	t.mu.Unlock()

	for _, mac := range macs {
		if err := t.driver.UnregisterPeer(mac); err != nil {
			t.logger.Warn("unregister peer failed", slog.String("mac", mac.String()), slog.String("error", err.Error()))
		}
	}
}

// Size returns the number of known peers.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.peers)
}

// CleanupStale removes peers whose last-seen age exceeds threshold.
// Peers that have never been seen (zero LastSeen,
// e.g. manually added but never contacted) are not considered stale.
func (t *Table) CleanupStale(threshold time.Duration, now time.Time) []MAC {
	var stale []MAC

	t.ForEach(func(p *Peer) {
		last := p.LastSeen()
		if last.IsZero() {
			return
		}

		if now.Sub(last) > threshold {
			stale = append(stale, p.MAC)
		}
	})

	for _, mac := range stale {
		if err := t.Remove(mac); err != nil {
			t.logger.Warn("cleanup stale peer", slog.String("mac", mac.String()), slog.String("error", err.Error()))
		}
	}

	return stale
}

// Snapshots returns a Snapshot for every known peer.
func (t *Table) Snapshots() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Snapshot, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p.Snapshot())
	}

	return out
}

// CountConnected returns the number of peers in StateConnected.
func (t *Table) CountConnected() int {
	n := 0

	t.ForEach(func(p *Peer) {
		if p.State() == StateConnected {
			n++
		}
	})

	return n
}
