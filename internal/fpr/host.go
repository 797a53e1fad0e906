package fpr

import (
	"fmt"
	"log/slog"
)

// SetHostConfig installs the HOST role's admission policy. It also
// ensures a PWK exists, generating one if the network has never held the
// HOST role before.
func (n *Network) SetHostConfig(cfg HostConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lifecycle == LifecycleUninitialized {
		return newErr("host set config", KindInvalidState, fmt.Errorf("lifecycle is %s", n.lifecycle))
	}

	if !n.hostPWKValid {
		pwk, err := GenerateKey()
		if err != nil {
			return newErr("host set config", KindOutOfMemory, err)
		}

		n.hostPWK = pwk
		n.hostPWKValid = true
	}

	n.hostCfg = cfg
	n.visibility = cfg.Visibility

	return nil
}

// hostHandleControl processes a control frame while in the HOST role.
// Two shapes are accepted: a bare ConnectInfo
// unicast to us is a connection request from a new or re-announcing
// client; one carrying both PWK and LWK is step 2 of an in-progress
// handshake. A bare ConnectInfo on the broadcast address is another
// host's presence beacon and is ignored.
func (n *Network) hostHandleControl(mac MAC, isBroadcast bool, peer *Peer, ci *ConnectInfo) {
	if ci.HasPWK && ci.HasLWK {
		n.hostReceiveStep2(mac, peer, ci)
		return
	}

	if ci.HasPWK || ci.HasLWK {
		// Malformed: a host never receives a message carrying exactly one
		// key, that shape only appears in the client-bound step 1 and step
		// 3 messages.
		return
	}

	if isBroadcast {
		return
	}

	n.hostHandleRequest(mac, peer, ci)
}

func (n *Network) hostReceiveStep2(mac MAC, peer *Peer, ci *ConnectInfo) {
	if peer == nil {
		return
	}

	n.mu.RLock()
	hostPWK := n.hostPWK
	n.mu.RUnlock()

	reply, established := n.sec.HostReceive(peer, hostPWK, ci)
	if reply == nil {
		return
	}

	if err := n.tx.sendControl(mac, reply); err != nil {
		n.logger.Warn("host step 3 send failed", slog.String("mac", mac.String()), slog.String("error", err.Error()))
		return
	}

	if established {
		n.stats.HandshakesCompleted.Add(1)
		n.logger.Info("client connected", slog.String("mac", mac.String()), slog.String("name", peer.Name))
	}
}

func (n *Network) hostHandleRequest(mac MAC, peer *Peer, ci *ConnectInfo) {
	if peer != nil {
		switch peer.State() {
		case StateBlocked, StateRejected, StateConnected, StatePending:
			return
		}
	}

	n.mu.RLock()
	cfg := n.hostCfg
	hostPWK := n.hostPWK
	n.mu.RUnlock()

	if cfg.MaxPeers > 0 && n.table.CountConnected() >= cfg.MaxPeers {
		n.logger.Debug("rejecting client: host at capacity", slog.String("mac", mac.String()))
		return
	}

	if cfg.Mode == ConnManual {
		if cfg.RequestCB == nil || !cfg.RequestCB(mac, ci.Name) {
			return
		}
	}

	var err error

	if peer == nil {
		peer, err = n.table.Add(mac, ci.Name, false)
		if err != nil {
			n.logger.Warn("admit client failed", slog.String("mac", mac.String()), slog.String("error", err.Error()))
			return
		}
	}

	reply := n.sec.BeginHostHandshake(peer, hostPWK)

	if err := n.tx.sendControl(mac, reply); err != nil {
		n.logger.Warn("host step 1 send failed", slog.String("mac", mac.String()), slog.String("error", err.Error()))
	}
}

// broadcastPresence announces this host to the broadcast domain.
// Private-visibility hosts never beacon; they still answer direct
// connection requests.
func (n *Network) broadcastPresence() {
	n.mu.RLock()
	if n.visibility == VisibilityPrivate {
		n.mu.RUnlock()
		return
	}

	ci := &ConnectInfo{Name: n.localName, MAC: n.localMAC, Visibility: n.visibility}
	n.mu.RUnlock()

	if err := n.tx.sendControl(BroadcastMAC, ci); err != nil {
		n.logger.Debug("presence beacon failed", slog.String("error", err.Error()))
	}
}

// ApprovePeer begins the handshake (sends step 1) with a client already in
// the peer table. A manual-mode request refused by the request callback
// leaves no table entry, so approving that MAC returns NotFound.
func (n *Network) ApprovePeer(mac MAC) error {
	peer, ok := n.table.Lookup(mac)
	if !ok {
		return newErr("approve peer", KindNotFound, ErrPeerNotFound)
	}

	n.mu.RLock()
	hostPWK := n.hostPWK
	n.mu.RUnlock()

	reply := n.sec.BeginHostHandshake(peer, hostPWK)

	if err := n.tx.sendControl(mac, reply); err != nil {
		return newErr("approve peer", KindLinkFailure, err)
	}

	return nil
}

// RejectPeer marks a discovered client as refused; future requests from it
// are ignored until the record ages out.
func (n *Network) RejectPeer(mac MAC) error {
	peer, ok := n.table.Lookup(mac)
	if !ok {
		return newErr("reject peer", KindNotFound, ErrPeerNotFound)
	}

	peer.mu.Lock()
	peer.state = StateRejected
	peer.mu.Unlock()

	return nil
}

// BlockPeer administratively bars a MAC from ever being admitted, until
// UnblockPeer is called.
func (n *Network) BlockPeer(mac MAC) error {
	peer, ok := n.table.Lookup(mac)
	if !ok {
		var err error

		peer, err = n.table.Add(mac, "", false)
		if err != nil {
			return newErr("block peer", KindLinkFailure, err)
		}
	}

	peer.mu.Lock()
	peer.state = StateBlocked
	peer.wipeKeys()
	peer.mu.Unlock()

	return nil
}

// UnblockPeer reverses BlockPeer.
func (n *Network) UnblockPeer(mac MAC) error {
	peer, ok := n.table.Lookup(mac)
	if !ok {
		return newErr("unblock peer", KindNotFound, ErrPeerNotFound)
	}

	peer.mu.Lock()
	if peer.state == StateBlocked {
		peer.state = StateDiscovered
	}
	peer.mu.Unlock()

	return nil
}

// DisconnectPeer tears down a connected client.
func (n *Network) DisconnectPeer(mac MAC) error {
	if err := n.table.Remove(mac); err != nil {
		return err
	}

	return nil
}

// GetConnectedCount returns the number of clients currently CONNECTED.
func (n *Network) GetConnectedCount() int {
	return n.table.CountConnected()
}
