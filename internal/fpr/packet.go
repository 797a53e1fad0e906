package fpr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Wire constants
// -------------------------------------------------------------------------

// PayloadCapacity is the size in bytes of the protocol union: one opaque
// application payload fragment, or a ConnectInfo control record. This is
// the per-frame fragmentation capacity.
const PayloadCapacity = 180

// HeaderSize is the fixed header preceding the payload union: version(4) +
// package_type(1) + id(4) + origin_mac(6) + dest_mac(6) + hop_count(1) +
// max_hops(1) + sequence_num(4) + payload_size(2).
const HeaderSize = 4 + 1 + 4 + 6 + 6 + 1 + 1 + 4 + 2

// FrameSize is the total size of one wire frame. It must fit inside the
// link layer's MTU.
const FrameSize = HeaderSize + PayloadCapacity

// referenceLinkMTU is the payload limit of the reference radio frame.
const referenceLinkMTU = 250

// frameFitsReferenceMTU is a compile-time assertion: this declaration fails
// to compile if FrameSize exceeds the reference link MTU. Go has no
// first-class static_assert; a negative array length is the idiomatic
// substitute.
var _ [referenceLinkMTU - FrameSize]byte

// ControlID is the reserved id value marking a control (handshake / device
// info) packet. All other values are application-defined.
const ControlID int32 = -1

// PackageType distinguishes whole messages from fragments of one.
type PackageType uint8

const (
	// PackageSingle carries a complete message in one frame.
	PackageSingle PackageType = iota
	// PackageStart begins a fragmented message.
	PackageStart
	// PackageContinued carries a middle fragment of a fragmented message.
	PackageContinued
	// PackageEnd carries the final fragment of a fragmented message.
	PackageEnd
)

// String renders the package type name.
func (t PackageType) String() string {
	switch t {
	case PackageSingle:
		return "SINGLE"
	case PackageStart:
		return "START"
	case PackageContinued:
		return "CONTINUED"
	case PackageEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

func (t PackageType) valid() bool {
	return t <= PackageEnd
}

// -------------------------------------------------------------------------
// Codec errors
// -------------------------------------------------------------------------

// Sentinel errors for packet validation failures.
var (
	// ErrFrameWrongSize indicates the buffer is not exactly FrameSize bytes.
	ErrFrameWrongSize = errors.New("frame is not the declared frame size")

	// ErrBadPackageType indicates an out-of-range package_type field.
	ErrBadPackageType = errors.New("package_type out of range")

	// ErrPayloadTooLarge indicates payload_size exceeds PayloadCapacity.
	ErrPayloadTooLarge = errors.New("payload_size exceeds frame capacity")

	// ErrBufTooSmall indicates the destination buffer passed to Marshal is
	// smaller than FrameSize.
	ErrBufTooSmall = errors.New("buffer smaller than frame size")
)

// -------------------------------------------------------------------------
// Packet — the fixed-layout wire frame
// -------------------------------------------------------------------------

// Packet is one wire frame. Protocol holds either an opaque application
// fragment (ID != ControlID) or a marshaled ConnectInfo (ID == ControlID),
// always PayloadCapacity bytes with PayloadSize bytes significant.
type Packet struct {
	Version     Version
	PackageType PackageType
	ID          int32
	OriginMAC   MAC
	DestMAC     MAC
	HopCount    uint8
	MaxHops     uint8
	SequenceNum uint32
	PayloadSize uint16
	Protocol    [PayloadCapacity]byte
}

// IsControl reports whether the packet carries a ConnectInfo rather than
// application data.
func (p *Packet) IsControl() bool {
	return p.ID == ControlID
}

// Payload returns the significant slice of the protocol union.
func (p *Packet) Payload() []byte {
	n := p.PayloadSize
	if int(n) > len(p.Protocol) {
		n = PayloadCapacity
	}

	return p.Protocol[:n]
}

// SetPayload copies b into the protocol union and sets PayloadSize.
// b must not exceed PayloadCapacity.
func (p *Packet) SetPayload(b []byte) error {
	if len(b) > PayloadCapacity {
		return fmt.Errorf("set payload: %d bytes: %w", len(b), ErrPayloadTooLarge)
	}

	n := copy(p.Protocol[:], b)
	for i := n; i < PayloadCapacity; i++ {
		p.Protocol[i] = 0
	}

	p.PayloadSize = uint16(n)

	return nil
}

// -------------------------------------------------------------------------
// Marshal / Unmarshal
// -------------------------------------------------------------------------

// Marshal serializes p into buf, which must be at least FrameSize bytes.
// Multi-byte fields are written big-endian, so frames decode identically
// regardless of the reading platform's native byte order.
func Marshal(p *Packet, buf []byte) (int, error) {
	if len(buf) < FrameSize {
		return 0, fmt.Errorf("marshal packet: need %d bytes, got %d: %w", FrameSize, len(buf), ErrBufTooSmall)
	}

	binary.BigEndian.PutUint32(buf[0:4], uint32(p.Version))
	buf[4] = uint8(p.PackageType)
	binary.BigEndian.PutUint32(buf[5:9], uint32(p.ID))
	copy(buf[9:15], p.OriginMAC[:])
	copy(buf[15:21], p.DestMAC[:])
	buf[21] = p.HopCount
	buf[22] = p.MaxHops
	binary.BigEndian.PutUint32(buf[23:27], p.SequenceNum)
	binary.BigEndian.PutUint16(buf[27:29], p.PayloadSize)
	copy(buf[HeaderSize:FrameSize], p.Protocol[:])

	return FrameSize, nil
}

// Unmarshal decodes buf into p. buf must be exactly FrameSize bytes.
// package_type and payload_size are range-checked here; id is not, since
// every int32 value is a usable id. Version routing (step iii) is the receive
// pipeline's responsibility (see receive.go).
func Unmarshal(buf []byte, p *Packet) error {
	if len(buf) != FrameSize {
		return fmt.Errorf("unmarshal packet: got %d bytes, want %d: %w", len(buf), FrameSize, ErrFrameWrongSize)
	}

	p.Version = Version(binary.BigEndian.Uint32(buf[0:4]))
	p.PackageType = PackageType(buf[4])

	if !p.PackageType.valid() {
		return fmt.Errorf("unmarshal packet: package_type %d: %w", buf[4], ErrBadPackageType)
	}

	p.ID = int32(binary.BigEndian.Uint32(buf[5:9]))
	copy(p.OriginMAC[:], buf[9:15])
	copy(p.DestMAC[:], buf[15:21])
	p.HopCount = buf[21]
	p.MaxHops = buf[22]
	p.SequenceNum = binary.BigEndian.Uint32(buf[23:27])
	p.PayloadSize = binary.BigEndian.Uint16(buf[27:29])

	if int(p.PayloadSize) > PayloadCapacity {
		return fmt.Errorf("unmarshal packet: payload_size %d: %w", p.PayloadSize, ErrPayloadTooLarge)
	}

	copy(p.Protocol[:], buf[HeaderSize:FrameSize])

	return nil
}
