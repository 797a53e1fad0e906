package transport

import (
	"fmt"
	"sync"

	"github.com/dantte-lp/fpr/internal/fpr"
)

// Bus is a shared in-memory broadcast medium. Every Loopback driver
// registered on the same Bus can reach every other, simulating a shared
// low-MTU radio link without any real socket. Tests
// instantiate one Bus per simulated network and one Loopback per
// simulated node.
type Bus struct {
	mu      sync.RWMutex
	members map[fpr.MAC]*Loopback
}

// NewBus constructs an empty shared medium.
func NewBus() *Bus {
	return &Bus{members: make(map[fpr.MAC]*Loopback)}
}

// Loopback is an fpr.Driver backed by a Bus. Frames sent to
// fpr.BroadcastMAC reach every other member; frames sent to a specific MAC
// reach only the matching member, mirroring a real link-layer filter.
type Loopback struct {
	bus  *Bus
	self fpr.MAC

	mu      sync.RWMutex
	recvCB  fpr.RecvFunc
	sendCB  fpr.SendFunc
	dropAll bool
}

// NewLoopback attaches a new node identified by self to bus.
func NewLoopback(bus *Bus, self fpr.MAC) *Loopback {
	return &Loopback{bus: bus, self: self}
}

// DropAll makes every future send fail with an out-of-range error (also
// reported to the send callback), simulating a node going out of range
// without tearing down its registration.
func (l *Loopback) DropAll(drop bool) {
	l.mu.Lock()
	l.dropAll = drop
	l.mu.Unlock()
}

func (l *Loopback) RegisterPeer(mac fpr.MAC) error {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()

	l.bus.members[l.self] = l

	return nil
}

func (l *Loopback) UnregisterPeer(mac fpr.MAC) error {
	if mac != l.self {
		return nil
	}

	l.bus.mu.Lock()
	delete(l.bus.members, l.self)
	l.bus.mu.Unlock()

	return nil
}

// Send delivers data to every bus member matching dest, invoking each
// target's receive callback synchronously on the caller's goroutine -- the
// same delivery-order guarantee a real point-to-point broadcast link
// offers.
func (l *Loopback) Send(dest fpr.MAC, data []byte) error {
	l.mu.RLock()
	drop := l.dropAll
	cb := l.sendCB
	l.mu.RUnlock()

	if drop {
		if cb != nil {
			cb(dest, false)
		}

		return fmt.Errorf("loopback send to %s: node out of range", dest)
	}

	frame := append([]byte(nil), data...)

	l.bus.mu.RLock()
	targets := make([]*Loopback, 0, len(l.bus.members))

	for mac, member := range l.bus.members {
		if member == l {
			continue
		}

		if dest == fpr.BroadcastMAC || dest == mac {
			targets = append(targets, member)
		}
	}
	l.bus.mu.RUnlock()

	for _, member := range targets {
		member.mu.RLock()
		recv := member.recvCB
		member.mu.RUnlock()

		if recv != nil {
			recv(l.self, dest, 0, frame)
		}
	}

	if cb != nil {
		cb(dest, true)
	}

	return nil
}

func (l *Loopback) RegisterRecvCallback(fn fpr.RecvFunc) {
	l.mu.Lock()
	l.recvCB = fn
	l.mu.Unlock()
}

func (l *Loopback) RegisterSendCallback(fn fpr.SendFunc) {
	l.mu.Lock()
	l.sendCB = fn
	l.mu.Unlock()
}
