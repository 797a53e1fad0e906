package fpr

import (
	"bytes"
	"errors"
	"fmt"
)

// NameSize is the maximum length of a peer's display name, including the
// NUL terminator.
const NameSize = 32

// KeySize is the length in bytes of a PWK or LWK.
const KeySize = 16

// Visibility controls whether a host is discoverable by broadcast scan.
type Visibility uint8

const (
	// VisibilityPublic hosts respond to broadcast discovery.
	VisibilityPublic Visibility = iota
	// VisibilityPrivate hosts only accept direct, pre-arranged connections.
	VisibilityPrivate
)

func (v Visibility) String() string {
	if v == VisibilityPrivate {
		return "PRIVATE"
	}

	return "PUBLIC"
}

const (
	flagHasPWK = 1 << 0
	flagHasLWK = 1 << 1
)

// connectInfoWireSize is the marshaled size of ConnectInfo: name(32) +
// mac(6) + visibility(1) + pwk(16) + lwk(16) + flags(1).
const connectInfoWireSize = NameSize + MACSize + 1 + KeySize + KeySize + 1

// This declaration fails to compile if connectInfoWireSize exceeds
// PayloadCapacity, since an array length cannot be negative.
var _ [PayloadCapacity - connectInfoWireSize]byte

// ErrNameTooLong indicates a sender name does not fit NameSize-1 bytes plus
// its NUL terminator.
var ErrNameTooLong = errors.New("peer name too long")

// ConnectInfo is the control-packet payload used during discovery and the
// security handshake. It is carried inside a Packet's
// Protocol union whenever ID == ControlID.
type ConnectInfo struct {
	Name       string
	MAC        MAC
	Visibility Visibility
	PWK        [KeySize]byte
	LWK        [KeySize]byte
	HasPWK     bool
	HasLWK     bool
}

// Marshal encodes ci into the PayloadCapacity-sized union, zero-padding the
// remainder, and returns the significant length.
func (ci *ConnectInfo) Marshal() ([PayloadCapacity]byte, uint16, error) {
	var out [PayloadCapacity]byte

	if len(ci.Name) > NameSize-1 {
		return out, 0, fmt.Errorf("marshal connect info: name %q: %w", ci.Name, ErrNameTooLong)
	}

	copy(out[0:NameSize], ci.Name)
	copy(out[NameSize:NameSize+MACSize], ci.MAC[:])
	out[NameSize+MACSize] = uint8(ci.Visibility)

	off := NameSize + MACSize + 1
	copy(out[off:off+KeySize], ci.PWK[:])
	off += KeySize
	copy(out[off:off+KeySize], ci.LWK[:])
	off += KeySize

	var flags uint8
	if ci.HasPWK {
		flags |= flagHasPWK
	}

	if ci.HasLWK {
		flags |= flagHasLWK
	}

	out[off] = flags

	return out, connectInfoWireSize, nil
}

// UnmarshalConnectInfo decodes a ConnectInfo from the significant bytes of
// a control packet's payload union.
func UnmarshalConnectInfo(payload []byte) (*ConnectInfo, error) {
	if len(payload) < connectInfoWireSize {
		return nil, fmt.Errorf("unmarshal connect info: got %d bytes, want %d: %w",
			len(payload), connectInfoWireSize, ErrFrameWrongSize)
	}

	ci := &ConnectInfo{}

	nameRaw := payload[0:NameSize]
	if i := bytes.IndexByte(nameRaw, 0); i >= 0 {
		ci.Name = string(nameRaw[:i])
	} else {
		ci.Name = string(nameRaw)
	}

	copy(ci.MAC[:], payload[NameSize:NameSize+MACSize])
	ci.Visibility = Visibility(payload[NameSize+MACSize])

	off := NameSize + MACSize + 1
	copy(ci.PWK[:], payload[off:off+KeySize])
	off += KeySize
	copy(ci.LWK[:], payload[off:off+KeySize])
	off += KeySize

	flags := payload[off]
	ci.HasPWK = flags&flagHasPWK != 0
	ci.HasLWK = flags&flagHasLWK != 0

	return ci, nil
}

// encodeControlPacket builds a SINGLE control Packet carrying ci.
func encodeControlPacket(local MAC, dest MAC, version Version, seq uint32, maxHops uint8, ci *ConnectInfo) (*Packet, error) {
	payload, n, err := ci.Marshal()
	if err != nil {
		return nil, err
	}

	return &Packet{
		Version:     version,
		PackageType: PackageSingle,
		ID:          ControlID,
		OriginMAC:   local,
		DestMAC:     dest,
		HopCount:    0,
		MaxHops:     maxHops,
		SequenceNum: seq,
		PayloadSize: n,
		Protocol:    payload,
	}, nil
}
