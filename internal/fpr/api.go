package fpr

import (
	"fmt"
	"strings"
	"time"
)

// SendOptions customizes a single SendWithOptions call.
type SendOptions struct {
	// MaxHops overrides DefaultMaxHops for this message.
	MaxHops uint8
	// ID is the application-defined message identifier carried in the
	// frame header. It must not equal ControlID.
	ID int32
}

// SendToPeer transmits payload to a single CONNECTED peer under the
// application-defined message id.
func (n *Network) SendToPeer(mac MAC, payload []byte, id int32) error {
	return n.SendWithOptions(mac, payload, SendOptions{ID: id})
}

// Broadcast transmits payload to every peer in range by addressing the
// frame to BroadcastMAC.
func (n *Network) Broadcast(payload []byte, id int32) error {
	return n.SendWithOptions(BroadcastMAC, payload, SendOptions{ID: id})
}

// SendWithOptions transmits payload to dest with caller-specified framing
// options.
func (n *Network) SendWithOptions(dest MAC, payload []byte, opts SendOptions) error {
	if n.Lifecycle() == LifecyclePaused {
		return newErr("send", KindInvalidState, ErrPaused)
	}

	if opts.ID == ControlID {
		return newErr("send", KindInvalidArgument, fmt.Errorf("id %d is reserved for control frames", ControlID))
	}

	if dest != BroadcastMAC {
		peer, ok := n.table.Lookup(dest)
		if !ok {
			return newErr("send", KindNotFound, ErrPeerNotFound)
		}

		if peer.State() != StateConnected {
			return newErr("send", KindInvalidState, ErrNotConnected)
		}
	}

	maxHops := opts.MaxHops
	if maxHops == 0 {
		n.mu.RLock()
		maxHops = n.cfg.DefaultMaxHops
		n.mu.RUnlock()
	}

	if err := n.tx.send(dest, payload, opts.ID, maxHops); err != nil {
		return err
	}

	return nil
}

// GetDataFromPeer pops the oldest queued Message from a peer's receive
// queue, blocking up to timeout if the queue is empty. A zero timeout
// polls without blocking.
func (n *Network) GetDataFromPeer(mac MAC, timeout time.Duration) (Message, error) {
	peer, ok := n.table.Lookup(mac)
	if !ok {
		return Message{}, newErr("get data from peer", KindNotFound, ErrPeerNotFound)
	}

	select {
	case msg := <-peer.queue:
		return msg, nil
	default:
	}

	if timeout <= 0 {
		return Message{}, newErr("get data from peer", KindTimeout, nil)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-peer.queue:
		return msg, nil
	case <-timer.C:
		return Message{}, newErr("get data from peer", KindTimeout, nil)
	}
}

// reachablePoll is the poll interval used by the waiting operations that
// watch for peer activity.
const reachablePoll = 10 * time.Millisecond

// IsPeerReachable transmits a device-info probe to mac and waits up to
// timeout for any frame back from that peer. The peer does not answer probes
// explicitly; its periodic beacon or keepalive traffic serves as the
// liveness signal.
func (n *Network) IsPeerReachable(mac MAC, timeout time.Duration) (bool, error) {
	peer, ok := n.table.Lookup(mac)
	if !ok {
		return false, newErr("is peer reachable", KindNotFound, ErrPeerNotFound)
	}

	start := n.clock.Now()

	n.mu.RLock()
	ci := &ConnectInfo{Name: n.localName, MAC: n.localMAC, Visibility: n.visibility}
	n.mu.RUnlock()

	if err := n.tx.sendControl(mac, ci); err != nil {
		return false, err
	}

	deadline := start.Add(timeout)

	for {
		if peer.LastSeen().After(start) {
			return true, nil
		}

		if !n.clock.Now().Before(deadline) {
			return false, newErr("is peer reachable", KindTimeout, nil)
		}

		n.clock.Sleep(reachablePoll)
	}
}

// GetPeerInfo returns a snapshot of one known peer.
func (n *Network) GetPeerInfo(mac MAC) (Snapshot, error) {
	peer, ok := n.table.Lookup(mac)
	if !ok {
		return Snapshot{}, newErr("get peer info", KindNotFound, ErrPeerNotFound)
	}

	return peer.Snapshot(), nil
}

// ListAllPeers returns a snapshot of every known peer regardless of state.
func (n *Network) ListAllPeers() []Snapshot {
	return n.table.Snapshots()
}

// SetPeerQueueMode changes a peer's queue_mode.
func (n *Network) SetPeerQueueMode(mac MAC, mode QueueMode) error {
	peer, ok := n.table.Lookup(mac)
	if !ok {
		return newErr("set peer queue mode", KindNotFound, ErrPeerNotFound)
	}

	peer.SetQueueMode(mode)

	return nil
}

// CleanupStaleRoutes evicts peers whose last-seen age exceeds threshold,
// independent of the background loop task's own sweep.
func (n *Network) CleanupStaleRoutes(threshold time.Duration) []MAC {
	return n.table.CleanupStale(threshold, n.clock.Now())
}

// PrintRouteTable renders the mesh routing table learned via EXTENDER
// forwarding as a human-readable report.
func (n *Network) PrintRouteTable() string {
	var b strings.Builder

	b.WriteString("ORIGIN             NEXT_HOP           HOPS  STATE\n")

	n.table.ForEach(func(p *Peer) {
		snap := p.Snapshot()
		if !snap.HasRoute && snap.State == StateDiscovered {
			return
		}

		nextHop := "-"
		if snap.HasRoute {
			nextHop = snap.NextHopMAC.String()
		}

		fmt.Fprintf(&b, "%-18s %-18s %-5d %s\n", snap.MAC, nextHop, snap.HopCount, snap.State)
	})

	return b.String()
}
