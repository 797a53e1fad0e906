package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/fpr/internal/fpr"
)

// localSubnetTTL keeps broadcast frames from escaping the local link --
// the UDP driver stands in for a radio link with inherent range limits, so
// a multi-hop IP TTL would misrepresent the medium.
const localSubnetTTL = 1

// UDPDriver is an fpr.Driver that carries FPR frames as UDP datagrams
// broadcast to a fixed address, simulating a shared low-MTU radio link on
// an ordinary LAN. Every datagram is prefixed with the
// sender's 6-byte MAC so receivers recover OnReceive's src parameter
// without trusting the UDP source port, which multiple nodes on the same
// host commonly share under SO_REUSEPORT.
type UDPDriver struct {
	self fpr.MAC

	conn  *net.UDPConn
	bcast *net.UDPAddr

	mu     sync.RWMutex
	recvCB fpr.RecvFunc
	sendCB fpr.SendFunc

	closed atomic.Bool
}

// NewUDPDriver opens a UDP broadcast socket bound to listenAddr (e.g.
// ":7850") and transmits to bcastAddr (e.g. "255.255.255.255:7850"). The
// socket is configured with SO_REUSEPORT (so several simulated nodes can
// share one host/port) and SO_BROADCAST.
func NewUDPDriver(self fpr.MAC, listenAddr, bcastAddr string) (*UDPDriver, error) {
	lc := net.ListenConfig{Control: controlBroadcastSocket}

	pc, err := lc.ListenPacket(context.Background(), "udp4", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp4 %s: %w", listenAddr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("listen udp4 %s: unexpected conn type", listenAddr)
	}

	if err := ipv4.NewPacketConn(conn).SetTTL(localSubnetTTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set ttl on %s: %w", listenAddr, err)
	}

	bcast, err := net.ResolveUDPAddr("udp4", bcastAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolve broadcast addr %s: %w", bcastAddr, err)
	}

	d := &UDPDriver{self: self, conn: conn, bcast: bcast}
	go d.readLoop()

	return d, nil
}

// controlBroadcastSocket sets SO_REUSEPORT and SO_BROADCAST before bind,
// letting several simulated nodes share one listen address and letting the
// socket send to the subnet broadcast address.
func controlBroadcastSocket(_, _ string, c syscall.RawConn) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}

	return sockErr
}

// Close stops the read loop and releases the underlying socket.
func (d *UDPDriver) Close() error {
	d.closed.Store(true)
	return d.conn.Close()
}

func (d *UDPDriver) RegisterPeer(fpr.MAC) error {
	// UDP broadcast reaches every node on the subnet automatically; there
	// is no per-peer registration to perform.
	return nil
}

func (d *UDPDriver) UnregisterPeer(fpr.MAC) error {
	return nil
}

// Send broadcasts data on the UDP socket, prefixed with the local MAC.
// dest is not used to address the datagram -- the embedded fpr.Packet
// header carries the real destination, and every node on the broadcast
// domain receives every frame, exactly as a shared radio channel would.
func (d *UDPDriver) Send(dest fpr.MAC, data []byte) error {
	frame := make([]byte, fpr.MACSize+len(data))
	copy(frame[:fpr.MACSize], d.self[:])
	copy(frame[fpr.MACSize:], data)

	_, err := d.conn.WriteToUDP(frame, d.bcast)

	d.mu.RLock()
	cb := d.sendCB
	d.mu.RUnlock()

	if cb != nil {
		cb(dest, err == nil)
	}

	if err != nil {
		return fmt.Errorf("udp broadcast send: %w", err)
	}

	return nil
}

func (d *UDPDriver) RegisterRecvCallback(fn fpr.RecvFunc) {
	d.mu.Lock()
	d.recvCB = fn
	d.mu.Unlock()
}

func (d *UDPDriver) RegisterSendCallback(fn fpr.SendFunc) {
	d.mu.Lock()
	d.sendCB = fn
	d.mu.Unlock()
}

// readLoop reads broadcast datagrams until the socket is closed, stripping
// the sender MAC prefix and dispatching to the registered receive callback.
func (d *UDPDriver) readLoop() {
	buf := make([]byte, 2048)

	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if d.closed.Load() {
				return
			}

			continue
		}

		if n < fpr.MACSize {
			continue
		}

		var origin fpr.MAC
		copy(origin[:], buf[:fpr.MACSize])

		if origin == d.self {
			continue
		}

		payload := append([]byte(nil), buf[fpr.MACSize:n]...)

		d.mu.RLock()
		cb := d.recvCB
		d.mu.RUnlock()

		if cb != nil {
			cb(origin, fpr.BroadcastMAC, 0, payload)
		}
	}
}
