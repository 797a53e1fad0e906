package fpr

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// MACSize is the length of a peer hardware address in bytes.
const MACSize = 6

// ErrInvalidMAC indicates a string could not be parsed as a MAC address.
var ErrInvalidMAC = errors.New("invalid MAC address")

// MAC is a 6-byte link-layer peer address. It is comparable and usable
// directly as a map key, which is how the peer table indexes records.
type MAC [MACSize]byte

// BroadcastMAC is the reserved "any peer" destination address.
var BroadcastMAC = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ZeroMAC is the unset/unknown address.
var ZeroMAC MAC

// IsBroadcast reports whether m is the broadcast address.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// IsZero reports whether m is the unset address.
func (m MAC) IsZero() bool {
	return m == ZeroMAC
}

// String renders m as colon-separated hex, e.g. "02:00:00:00:00:01".
func (m MAC) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// ParseMAC parses a colon-separated hex MAC address string.
func ParseMAC(s string) (MAC, error) {
	var m MAC

	if len(s) != MACSize*3-1 {
		return m, fmt.Errorf("parse MAC %q: %w", s, ErrInvalidMAC)
	}

	for i := range MACSize {
		off := i * 3
		if i < MACSize-1 && s[off+2] != ':' {
			return m, fmt.Errorf("parse MAC %q: %w", s, ErrInvalidMAC)
		}

		b, err := hex.DecodeString(s[off : off+2])
		if err != nil {
			return m, fmt.Errorf("parse MAC %q: %w", s, ErrInvalidMAC)
		}

		m[i] = b[0]
	}

	return m, nil
}
