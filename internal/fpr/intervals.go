package fpr

import (
	"context"
	"log/slog"
	"time"
)

// scale applies the configured low-power multiplier to d. PowerNormal
// leaves d unchanged.
func (n *Network) scale(d time.Duration) time.Duration {
	n.mu.RLock()
	power := n.power
	factor := n.cfg.LowPowerScale
	n.mu.RUnlock()

	if power == PowerLow && factor > 1 {
		return d * time.Duration(factor)
	}

	return d
}

// loopTask drives the periodic HOST presence beacon and the stale-route
// cleanup sweep.
func (n *Network) loopTask(ctx context.Context) {
	defer n.wg.Done()

	n.mu.RLock()
	interval := n.cfg.BroadcastInterval
	n.mu.RUnlock()

	interval = n.scale(interval)
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.Lifecycle() != LifecycleStarted {
				continue
			}

			if n.Mode() == ModeHost {
				n.broadcastPresence()
			}

			n.mu.RLock()
			reconnect := n.cfg.ReconnectTimeout
			n.mu.RUnlock()

			stale := n.table.CleanupStale(n.scale(reconnect)*3, n.clock.Now())
			for _, mac := range stale {
				n.logger.Debug("cleaned up stale route", slog.String("mac", mac.String()))
			}
		}
	}
}

// reconnectTask runs the periodic keepalive / timeout scan. It is a
// no-op in the EXTENDER role.
func (n *Network) reconnectTask(ctx context.Context) {
	defer n.wg.Done()

	n.mu.RLock()
	interval := n.scale(n.cfg.KeepaliveInterval)
	n.mu.RUnlock()

	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.Lifecycle() != LifecycleStarted {
				continue
			}

			switch n.Mode() {
			case ModeClient:
				n.checkHostLiveness()
			case ModeHost:
				n.sweepSilentClients()
			case ModeExtender:
			}
		}
	}
}

// checkHostLiveness demotes the client's host back to DISCOVERED when the
// connection goes silent past the reconnect timeout, and otherwise resends
// device-info so the host sees this client as alive.
func (n *Network) checkHostLiveness() {
	n.mu.RLock()
	hasHost := n.hasHost
	mac := n.connectedHost
	timeout := n.cfg.ReconnectTimeout
	n.mu.RUnlock()

	if !hasHost {
		return
	}

	peer, ok := n.table.Lookup(mac)
	if !ok {
		n.mu.Lock()
		n.hasHost = false
		n.mu.Unlock()

		return
	}

	if n.clock.Now().Sub(peer.LastSeen()) <= n.scale(timeout) {
		n.keepaliveHost(mac)
		return
	}

	n.logger.Info("host connection timed out", slog.String("mac", mac.String()))

	n.mu.Lock()
	n.hasHost = false
	n.connectedHost = MAC{}
	n.mu.Unlock()

	peer.demote()
}

// keepaliveHost resends the local device-info to the connected host. The
// host ignores it as a connection request (the peer is already CONNECTED)
// but its last-seen timestamp advances, keeping the session alive.
func (n *Network) keepaliveHost(mac MAC) {
	n.mu.RLock()
	ci := &ConnectInfo{Name: n.localName, MAC: n.localMAC, Visibility: n.visibility}
	n.mu.RUnlock()

	if err := n.tx.sendControl(mac, ci); err != nil {
		n.logger.Debug("client keepalive failed", slog.String("mac", mac.String()), slog.String("error", err.Error()))
	}
}

// sweepSilentClients demotes every CONNECTED client whose last-seen age
// exceeds the reconnect timeout. The record stays in the table so the
// client can reconnect without rediscovery; stale records are eventually
// evicted by the loop task's cleanup sweep.
func (n *Network) sweepSilentClients() {
	n.mu.RLock()
	timeout := n.scale(n.cfg.ReconnectTimeout)
	n.mu.RUnlock()

	now := n.clock.Now()

	n.table.ForEach(func(p *Peer) {
		if p.State() != StateConnected {
			return
		}

		if now.Sub(p.LastSeen()) <= timeout {
			return
		}

		n.logger.Info("client connection timed out", slog.String("mac", p.MAC.String()))
		p.demote()
	})
}
