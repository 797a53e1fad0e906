package fpr

import "log/slog"

// extenderProcess handles every frame received while in the EXTENDER role:
// local delivery when the frame is addressed to this node or to everyone,
// forwarding otherwise (broadcast frames get both). Route learning happens
// for every frame regardless of destination. Forwarding and delivery keep
// separate per-origin sequence windows, so relaying a broadcast frame
// never makes its own local delivery look like a replay.
func (n *Network) extenderProcess(src MAC, pkt *Packet, legacy bool) {
	n.learnRoute(pkt.OriginMAC, src, pkt.HopCount)

	toLocal := pkt.DestMAC == n.localMAC
	toAll := pkt.DestMAC.IsBroadcast()

	if !toLocal {
		n.forwardFrame(pkt)
	}

	if (toLocal || toAll) && !pkt.IsControl() {
		peer, ok := n.table.Lookup(pkt.OriginMAC)
		if ok && peer.State() == StateConnected {
			n.deliverData(peer, pkt, legacy)
		}
	}
}

// forwardFrame relays pkt one hop onward: rebroadcast for broadcast
// destinations, next-hop unicast for known routes. The TTL pair bounds
// forwarding loops; the per-origin dedup window keeps one frame from being
// relayed repeatedly as it circulates the mesh.
func (n *Network) forwardFrame(pkt *Packet) {
	if pkt.OriginMAC == n.localMAC {
		// Our own traffic reflected back by another extender.
		return
	}

	if pkt.HopCount >= pkt.MaxHops {
		n.stats.PacketsDropped.Add(1)
		return
	}

	if !n.shouldForward(pkt) {
		return
	}

	dest := BroadcastMAC

	if !pkt.DestMAC.IsBroadcast() {
		next, ok := n.routeNextHop(pkt.DestMAC)
		if !ok {
			// Unicast with no known route.
			n.stats.PacketsDropped.Add(1)
			return
		}

		dest = next
	}

	fwd := *pkt
	fwd.HopCount++

	var buf [FrameSize]byte

	if _, err := Marshal(&fwd, buf[:]); err != nil {
		n.logger.Warn("re-marshal forwarded frame failed", slog.String("error", err.Error()))
		return
	}

	if err := n.driver.Send(dest, buf[:]); err != nil {
		n.stats.SendFailures.Add(1)
		return
	}

	n.stats.PacketsForwarded.Add(1)
}

// routeNextHop resolves the learned next hop toward dest. A peer that is a
// direct neighbour of this extender has itself as next hop.
func (n *Network) routeNextHop(dest MAC) (MAC, bool) {
	peer, ok := n.table.Lookup(dest)
	if !ok {
		return MAC{}, false
	}

	peer.mu.Lock()
	defer peer.mu.Unlock()

	if !peer.hasRoute {
		return MAC{}, false
	}

	return peer.nextHopMAC, true
}

// learnRoute records or improves a route to origin learned from a frame
// heard via heardFrom carrying hopCount. Routes only ever
// improve within a peer's lifetime; unreachable
// entries are dropped by the stale-route cleanup, not by traffic.
func (n *Network) learnRoute(origin, heardFrom MAC, hopCount uint8) {
	if origin == n.localMAC || origin.IsZero() {
		return
	}

	peer, ok := n.table.Lookup(origin)
	if !ok {
		var err error

		peer, err = n.table.Add(origin, "", false)
		if err != nil {
			return
		}
	}

	cost := hopCount + 1
	if cost == 0 {
		// hop_count 255 would wrap; such a frame is never worth a route.
		return
	}

	peer.mu.Lock()
	defer peer.mu.Unlock()

	if !peer.hasRoute || cost < peer.hopCount {
		peer.hopCount = cost
		peer.nextHopMAC = heardFrom
		peer.hasRoute = true
	}
}

// shouldForward applies a per-origin dedup window so one frame is not
// relayed repeatedly as it circulates the mesh. It mirrors the replay
// rule of the receive pipeline: a strictly newer sequence always passes,
// an exact repeat passes only for the CONTINUED/END fragments that share
// their START's sequence number. The window is lastFwdSeqNum, not the
// delivery-side lastSeqNum, so forwarding a frame cannot make that frame's
// own local delivery read as a replay. Duplicates that slip through the
// equality window are still bounded by the TTL pair.
func (n *Network) shouldForward(pkt *Packet) bool {
	peer, ok := n.table.Lookup(pkt.OriginMAC)
	if !ok {
		return true
	}

	peer.mu.Lock()
	defer peer.mu.Unlock()

	seq := pkt.SequenceNum
	if seq == 0 {
		return true
	}

	switch {
	case seq > peer.lastFwdSeqNum:
		peer.lastFwdSeqNum = seq
		return true
	case seq == peer.lastFwdSeqNum:
		return pkt.PackageType == PackageContinued || pkt.PackageType == PackageEnd
	default:
		return false
	}
}
