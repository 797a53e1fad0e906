package fpr

import (
	"fmt"
	"log/slog"
	"time"
)

// SetClientConfig installs the CLIENT role's discovery/connection policy.
func (n *Network) SetClientConfig(cfg ClientConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lifecycle == LifecycleUninitialized {
		return newErr("client set config", KindInvalidState, fmt.Errorf("lifecycle is %s", n.lifecycle))
	}

	n.clientCfg = cfg

	return nil
}

// clientHandleControl processes a control frame while in the CLIENT role.
// mac identifies the sending host. Three
// shapes are distinguished: a bare ConnectInfo on the broadcast address is
// a host's discovery beacon; one carrying only a PWK is step 1 of a
// handshake this client requested; one carrying both keys is the host's
// step-3 acknowledgement.
func (n *Network) clientHandleControl(mac MAC, isBroadcast bool, peer *Peer, ci *ConnectInfo) {
	switch {
	case ci.HasPWK && ci.HasLWK:
		n.clientReceiveStep3(mac, peer, ci)
	case ci.HasPWK:
		n.clientReceiveStep1(mac, peer, ci)
	default:
		if isBroadcast {
			n.clientHandleBeacon(mac, ci)
		}
	}
}

func (n *Network) clientReceiveStep3(mac MAC, peer *Peer, ci *ConnectInfo) {
	if peer == nil {
		return
	}

	n.mu.RLock()
	otherHost := n.hasHost && n.connectedHost != mac
	n.mu.RUnlock()

	if otherHost {
		// A second host raced us to completion; at most one host may ever
		// be CONNECTED.
		return
	}

	if !n.sec.ClientReceiveStep3(peer, ci) {
		return
	}

	n.mu.Lock()
	n.connectedHost = mac
	n.hasHost = true
	n.mu.Unlock()

	n.stats.HandshakesCompleted.Add(1)
	n.logger.Info("connected to host", slog.String("mac", mac.String()), slog.String("name", peer.Name))
}

func (n *Network) clientReceiveStep1(mac MAC, peer *Peer, ci *ConnectInfo) {
	if peer == nil {
		// A step 1 message only ever follows a request this client sent,
		// which always creates the peer record first.
		return
	}

	storedFresh, restarted := n.sec.ClientReceiveStep1(peer, ci)
	if !storedFresh {
		return
	}

	// A record created by ConnectToHost has no name yet; step 1 carries it.
	if ci.Name != "" {
		peer.mu.Lock()
		if peer.Name == "" {
			peer.Name = ci.Name
		}
		peer.mu.Unlock()
	}

	if restarted {
		n.logger.Info("host restarted handshake", slog.String("mac", mac.String()))
	}

	reply, err := n.sec.ClientBeginStep2(peer)
	if err != nil {
		n.logger.Warn("generate lwk failed", slog.String("mac", mac.String()), slog.String("error", err.Error()))
		return
	}

	if err := n.tx.sendControl(mac, reply); err != nil {
		n.logger.Warn("client step 2 send failed", slog.String("mac", mac.String()), slog.String("error", err.Error()))
	}
}

func (n *Network) clientHandleBeacon(mac MAC, ci *ConnectInfo) {
	n.mu.RLock()
	hasHost := n.hasHost
	connectedHost := n.connectedHost
	cfg := n.clientCfg
	n.mu.RUnlock()

	if hasHost && connectedHost != mac {
		// At most one host connection at a time.
		return
	}

	peer, ok := n.table.Lookup(mac)
	if !ok {
		var err error

		peer, err = n.table.Add(mac, ci.Name, false)
		if err != nil {
			return
		}
	}

	if !ok && cfg.DiscoveryCB != nil {
		cfg.DiscoveryCB(mac, ci.Name)
	}

	if hasHost {
		return
	}

	if peer.State() != StateDiscovered {
		return
	}

	switch cfg.Mode {
	case ConnAuto:
		n.beginConnect(mac)
	case ConnManual:
		if cfg.SelectionCB != nil && cfg.SelectionCB([]Snapshot{peer.Snapshot()}) {
			n.beginConnect(mac)
		}
	}
}

// beginConnect sends the connection request (a bare ConnectInfo) that
// starts the handshake from the client side.
func (n *Network) beginConnect(host MAC) {
	n.mu.RLock()
	ci := &ConnectInfo{Name: n.localName, MAC: n.localMAC}
	n.mu.RUnlock()

	if err := n.tx.sendControl(host, ci); err != nil {
		n.logger.Warn("connection request failed", slog.String("mac", host.String()), slog.String("error", err.Error()))
	}
}

// ConnectToHost explicitly requests a connection to a discovered host and
// waits up to timeout for the handshake to complete. It is the
// manual-mode counterpart to the automatic connection clientHandleBeacon
// performs for ConnAuto.
func (n *Network) ConnectToHost(mac MAC, timeout time.Duration) error {
	n.mu.RLock()
	mode := n.mode
	hasHost := n.hasHost
	n.mu.RUnlock()

	if mode != ModeClient {
		return newErr("connect to host", KindInvalidArgument, ErrBadRoleTransition)
	}

	if hasHost {
		return newErr("connect to host", KindInvalidState, ErrAlreadyConnected)
	}

	peer, ok := n.table.Lookup(mac)
	if !ok {
		var err error

		peer, err = n.table.Add(mac, "", false)
		if err != nil {
			return err
		}
	}

	n.beginConnect(mac)

	deadline := n.clock.Now().Add(timeout)

	for {
		if peer.State() == StateConnected {
			return nil
		}

		if !n.clock.Now().Before(deadline) {
			return newErr("connect to host", KindTimeout, nil)
		}

		n.clock.Sleep(reachablePoll)
	}
}

// ScanForHosts waits for d and then returns ListDiscoveredHosts: every known
// peer still in StateDiscovered, including ones seen before the window; a
// host the client is already connected to is not included. Discovery itself happens
// continuously in clientHandleBeacon; this only defines the collection
// window.
func (n *Network) ScanForHosts(d time.Duration) []Snapshot {
	n.clock.Sleep(d)
	return n.ListDiscoveredHosts()
}

// ListDiscoveredHosts returns every known peer still in StateDiscovered.
func (n *Network) ListDiscoveredHosts() []Snapshot {
	var out []Snapshot

	n.table.ForEach(func(p *Peer) {
		if p.State() == StateDiscovered {
			out = append(out, p.Snapshot())
		}
	})

	return out
}

// IsConnected reports whether the client currently has an established host
// connection.
func (n *Network) IsConnected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.hasHost
}

// GetHostInfo returns the snapshot of the currently connected host, if any.
func (n *Network) GetHostInfo() (Snapshot, bool) {
	n.mu.RLock()
	mac := n.connectedHost
	hasHost := n.hasHost
	n.mu.RUnlock()

	if !hasHost {
		return Snapshot{}, false
	}

	peer, ok := n.table.Lookup(mac)
	if !ok {
		return Snapshot{}, false
	}

	return peer.Snapshot(), true
}

// ClientDisconnect tears down the client's connection to its host.
func (n *Network) ClientDisconnect() error {
	n.mu.Lock()
	if !n.hasHost {
		n.mu.Unlock()
		return newErr("disconnect", KindInvalidState, ErrNotConnected)
	}

	mac := n.connectedHost
	n.hasHost = false
	n.connectedHost = MAC{}
	n.mu.Unlock()

	return n.table.Remove(mac)
}
