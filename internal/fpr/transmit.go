package fpr

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// InterFragmentPause is the brief yield between non-final fragments so the
// receiver keeps up.
const InterFragmentPause = 2 * time.Millisecond

// transmitter implements the fragmenting send pipeline. It lives inside
// Network rather than standing alone because every send needs the current
// tx sequence counter, local identity, and pause state.
type transmitter struct {
	localMAC  MAC
	localName string
	version   Version
	driver    Driver
	clock     Clock
	stats     *Stats
	logger    *slog.Logger

	seq atomicSeq
}

// fragment splits data into PayloadCapacity-sized chunks and assigns each
// the correct PackageType.
func fragment(data []byte) []packetFragment {
	if len(data) <= PayloadCapacity {
		return []packetFragment{{kind: PackageSingle, data: data}}
	}

	var out []packetFragment

	for off := 0; off < len(data); off += PayloadCapacity {
		end := off + PayloadCapacity
		if end > len(data) {
			end = len(data)
		}

		kind := PackageContinued

		switch {
		case off == 0:
			kind = PackageStart
		case end == len(data):
			kind = PackageEnd
		}

		out = append(out, packetFragment{kind: kind, data: data[off:end]})
	}

	return out
}

type packetFragment struct {
	kind PackageType
	data []byte
}

// atomicSeq is the per-sender monotonically increasing sequence counter.
// Recovery from wraparound goes through a handshake restart, which resets
// both sides to zero; see DESIGN.md on sequence-number rollover.
type atomicSeq struct {
	v atomic.Uint32
}

func (s *atomicSeq) next() uint32 {
	return s.v.Add(1)
}

// send fragments and transmits data to dest (BroadcastMAC for "any"),
// sharing one sequence number across every fragment.
// It returns a LinkFailure error on the first failed fragment and aborts
// the remainder; success means every fragment was accepted by the link
// layer.
func (tx *transmitter) send(dest MAC, data []byte, id int32, maxHops uint8) error {
	if maxHops == 0 {
		maxHops = DefaultMaxHops
	}

	seq := tx.seq.next()
	frags := fragment(data)

	for i, f := range frags {
		pkt := &Packet{
			Version:     tx.version,
			PackageType: f.kind,
			ID:          id,
			OriginMAC:   tx.localMAC,
			DestMAC:     dest,
			HopCount:    0,
			MaxHops:     maxHops,
			SequenceNum: seq,
		}

		if err := pkt.SetPayload(f.data); err != nil {
			return newErr("send", KindInvalidArgument, err)
		}

		var buf [FrameSize]byte

		if _, err := Marshal(pkt, buf[:]); err != nil {
			return newErr("send", KindInvalidArgument, err)
		}

		if err := tx.driver.Send(dest, buf[:]); err != nil {
			tx.stats.SendFailures.Add(1)
			return newErr("send", KindLinkFailure, fmt.Errorf("fragment %d/%d: %w", i+1, len(frags), err))
		}

		tx.stats.PacketsSent.Add(1)

		if i < len(frags)-1 {
			tx.clock.Sleep(InterFragmentPause)
		}
	}

	return nil
}

// sendControl transmits a SINGLE control frame carrying ci, stamping the
// local identity into it so receivers can attribute the message even when
// it arrives through an extender.
func (tx *transmitter) sendControl(dest MAC, ci *ConnectInfo) error {
	if ci.MAC.IsZero() {
		ci.MAC = tx.localMAC
	}

	if ci.Name == "" {
		ci.Name = tx.localName
	}

	seq := tx.seq.next()

	pkt, err := encodeControlPacket(tx.localMAC, dest, tx.version, seq, DefaultMaxHops, ci)
	if err != nil {
		return newErr("send control", KindInvalidArgument, err)
	}

	var buf [FrameSize]byte
	if _, err := Marshal(pkt, buf[:]); err != nil {
		return newErr("send control", KindInvalidArgument, err)
	}

	if err := tx.driver.Send(dest, buf[:]); err != nil {
		tx.stats.SendFailures.Add(1)
		return newErr("send control", KindLinkFailure, err)
	}

	tx.stats.PacketsSent.Add(1)

	return nil
}
