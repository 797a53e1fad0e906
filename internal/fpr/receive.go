package fpr

import (
	"log/slog"
)

// Callback is the application-data delivery function registered via
// register_receive_callback. It must not block the
// receive path; the reference Network dispatches it from a worker
// goroutine rather than the driver's receive context.
type Callback func(src MAC, msg Message)

// OnReceive is the single entry point driven by the link-layer driver's
// receive callback. src/dst are the link-layer MAC
// addresses, rssi is the link quality for the frame, and data is the raw
// wire bytes. OnReceive never blocks: enqueueing is non-blocking and any
// registered Callback is dispatched to a worker.
func (n *Network) OnReceive(src, dst MAC, rssi int8, data []byte) {
	switch n.Lifecycle() {
	case LifecycleStarted:
	case LifecyclePaused:
		n.stats.PacketsDropped.Add(1)
		return
	default:
		// Not running; the driver may still deliver frames between Stop
		// and Deinit.
		return
	}

	var pkt Packet
	if err := Unmarshal(data, &pkt); err != nil {
		n.stats.PacketsDropped.Add(1)
		n.logger.Debug("dropped malformed frame", slog.String("error", err.Error()))

		return
	}

	n.stats.PacketsReceived.Add(1)

	class := classify(pkt.Version, n.version)

	switch class {
	case versionReject:
		n.stats.VersionMismatches.Add(1)
		n.stats.PacketsDropped.Add(1)

		return
	case versionBestEffort:
		// Newer major version: the fields this version understands decoded
		// fine, so process it; counted so operators can see the skew.
		n.stats.VersionMismatches.Add(1)
	case versionAccept, versionLegacy:
	}

	now := n.clock.Now()

	peer, exists := n.table.Lookup(src)
	if exists {
		peer.touch(now, rssi)
	}

	if n.Mode() == ModeExtender {
		n.extenderProcess(src, &pkt, class == versionLegacy)
		return
	}

	// Non-extenders act only on frames addressed to them or to everyone.
	// Anything else is overheard mesh traffic on the shared medium.
	if !pkt.DestMAC.IsBroadcast() && pkt.DestMAC != n.localMAC {
		n.stats.PacketsDropped.Add(1)
		return
	}

	if pkt.IsControl() {
		ci, err := UnmarshalConnectInfo(pkt.Payload())
		if err != nil {
			n.stats.PacketsDropped.Add(1)
			return
		}

		// A relayed control frame carries the extender's MAC as src; the
		// protocol peer is the ConnectInfo sender.
		id := ci.MAC
		if id.IsZero() {
			id = src
		}

		cpeer, ok := n.table.Lookup(id)
		if ok && id != src {
			cpeer.touch(now, rssi)
		}

		n.dispatchControl(id, pkt.DestMAC.IsBroadcast(), cpeer, ci)

		return
	}

	// Application data is attributed to its originator, which differs from
	// the link-layer src when the frame came through an extender.
	origin := pkt.OriginMAC

	opeer, ok := n.table.Lookup(origin)
	if !ok || opeer.State() != StateConnected {
		return
	}

	if origin != src {
		opeer.touch(now, rssi)
	}

	n.deliverData(opeer, &pkt, class == versionLegacy)
}

// deliverData runs the data half of the receive pipeline: replay check,
// reassembly / queue-mode policy, non-blocking enqueue, and callback
// dispatch for application data addressed to a CONNECTED peer.
func (n *Network) deliverData(peer *Peer, pkt *Packet, legacy bool) {
	peer.mu.Lock()

	if !legacy && isReplay(pkt, peer.lastSeqNum) {
		peer.mu.Unlock()
		n.stats.ReplayAttacksBlocked.Add(1)
		n.stats.PacketsDropped.Add(1)

		return
	}

	if !legacy && pkt.SequenceNum > peer.lastSeqNum {
		peer.lastSeqNum = pkt.SequenceNum
	}

	msg, ok := n.reassembleLocked(peer, pkt)
	peer.mu.Unlock()

	if !ok {
		return
	}

	select {
	case peer.queue <- msg:
	default:
		n.stats.QueueDrops.Add(1)
		n.stats.PacketsDropped.Add(1)

		return
	}

	if cb := n.Callback(); cb != nil {
		mac := peer.MAC
		n.deliverAsync(func() { cb(mac, msg) })
	}
}

// isReplay decides whether a frame's sequence number marks it as already
// seen. A sequence strictly below last_seq_num is always a replay. An
// exact repeat is a replay for SINGLE and START frames; CONTINUED and END
// legitimately share the sequence number of the START that opened their
// message, so equality passes them through to the reassembler, whose
// orphan check rejects stray re-injections.
func isReplay(pkt *Packet, lastSeq uint32) bool {
	if pkt.SequenceNum == 0 {
		return false
	}

	if pkt.SequenceNum < lastSeq {
		return true
	}

	if pkt.SequenceNum == lastSeq {
		return pkt.PackageType == PackageSingle || pkt.PackageType == PackageStart
	}

	return false
}

// reassembleLocked implements the queue_mode / fragmentation policy.
// Caller holds peer.mu.
func (n *Network) reassembleLocked(peer *Peer, pkt *Packet) (Message, bool) {
	if peer.queueMode == QueueLatestOnly {
		if pkt.PackageType != PackageSingle {
			// Reject any fragmented frame; reset partial state.
			peer.receivingFragmented = false
			peer.fragmentBuf = nil
			n.stats.PacketsDropped.Add(1)

			return Message{}, false
		}

		drainQueue(peer)

		return Message{ID: pkt.ID, Payload: append([]byte(nil), pkt.Payload()...)}, true
	}

	switch pkt.PackageType {
	case PackageSingle:
		return Message{ID: pkt.ID, Payload: append([]byte(nil), pkt.Payload()...)}, true

	case PackageStart:
		if peer.receivingFragmented {
			// Abandon the prior in-progress message.
			peer.fragmentBuf = nil
		}

		peer.receivingFragmented = true
		peer.fragmentSeqNum = pkt.SequenceNum
		peer.fragmentBuf = append([]byte(nil), pkt.Payload()...)

		return Message{}, false

	case PackageContinued, PackageEnd:
		if !peer.receivingFragmented || pkt.SequenceNum != peer.fragmentSeqNum {
			n.stats.PacketsDropped.Add(1)
			return Message{}, false
		}

		peer.fragmentBuf = append(peer.fragmentBuf, pkt.Payload()...)

		if pkt.PackageType == PackageEnd {
			peer.receivingFragmented = false
			msg := Message{ID: pkt.ID, Payload: peer.fragmentBuf}
			peer.fragmentBuf = nil

			return msg, true
		}

		return Message{}, false

	default:
		n.stats.PacketsDropped.Add(1)
		return Message{}, false
	}
}

// dispatchControl routes a decoded control packet to the active role's
// handler. mac identifies the protocol peer, which
// is the ConnectInfo sender rather than the link-layer src for relayed
// frames. The EXTENDER role never reaches here; its frames are handled
// wholesale by extenderProcess.
func (n *Network) dispatchControl(mac MAC, isBroadcast bool, peer *Peer, ci *ConnectInfo) {
	switch n.Mode() {
	case ModeClient:
		n.clientHandleControl(mac, isBroadcast, peer, ci)
	case ModeHost:
		n.hostHandleControl(mac, isBroadcast, peer, ci)
	case ModeExtender:
	}
}
