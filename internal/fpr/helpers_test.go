package fpr_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/fpr/internal/fpr"
	"github.com/dantte-lp/fpr/internal/transport"
)

// errInjected is the failure returned by fakeDriver when told to fail.
var errInjected = errors.New("injected driver failure")

// Test MACs reused across the package.
var (
	macHost   = fpr.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	macClient = fpr.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	macThird  = fpr.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x03}
)

// quietLogger discards all log output so test runs stay readable.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastConfig returns protocol timings short enough for tests to observe
// timer-driven behavior without multi-second waits.
func fastConfig() fpr.Config {
	// The keepalive period stays well above any single test's runtime so
	// background control traffic cannot interleave with the frames a test
	// is counting.
	return fpr.Config{
		QueueCapacity:     10,
		DefaultMaxHops:    10,
		BroadcastInterval: 20 * time.Millisecond,
		KeepaliveInterval: 2 * time.Second,
		ReconnectTimeout:  5 * time.Second,
		LowPowerScale:     4,
		MaxPeers:          8,
	}
}

// startNode builds and starts a Network on the shared bus. Stop is
// registered as cleanup so goleak stays happy even on failure paths.
func startNode(t *testing.T, bus *transport.Bus, mac fpr.MAC, name string) *fpr.Network {
	t.Helper()

	n := fpr.New(transport.NewLoopback(bus, mac), nil, quietLogger())

	if err := n.SetConfig(fastConfig()); err != nil {
		t.Fatalf("SetConfig(%s): %v", name, err)
	}

	if err := n.Init(mac, name, fpr.InitOptions{}); err != nil {
		t.Fatalf("Init(%s): %v", name, err)
	}

	if err := n.Start(); err != nil {
		t.Fatalf("Start(%s): %v", name, err)
	}

	t.Cleanup(func() { _ = n.Stop() })

	return n
}

// startHost starts a node in HOST mode with the given admission policy.
func startHost(t *testing.T, bus *transport.Bus, mac fpr.MAC, name string, cfg fpr.HostConfig) *fpr.Network {
	t.Helper()

	n := startNode(t, bus, mac, name)

	if err := n.SetMode(fpr.ModeHost); err != nil {
		t.Fatalf("SetMode(host): %v", err)
	}

	if err := n.SetHostConfig(cfg); err != nil {
		t.Fatalf("SetHostConfig: %v", err)
	}

	return n
}

// startClient starts a node in the default CLIENT mode with the given
// connection policy.
func startClient(t *testing.T, bus *transport.Bus, mac fpr.MAC, name string, cfg fpr.ClientConfig) *fpr.Network {
	t.Helper()

	n := startNode(t, bus, mac, name)

	if err := n.SetClientConfig(cfg); err != nil {
		t.Fatalf("SetClientConfig: %v", err)
	}

	return n
}

// connectPair starts a host and a client on one bus and completes the
// handshake between them. The client runs in MANUAL mode so the host's
// beacons cannot race the explicit ConnectToHost below.
func connectPair(t *testing.T, bus *transport.Bus) (host, client *fpr.Network) {
	t.Helper()

	host = startHost(t, bus, macHost, "h", fpr.HostConfig{Mode: fpr.ConnAuto, MaxPeers: 8})
	client = startClient(t, bus, macClient, "c", fpr.ClientConfig{Mode: fpr.ConnManual})

	if err := client.ConnectToHost(macHost, time.Second); err != nil {
		t.Fatalf("ConnectToHost: %v", err)
	}

	return host, client
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(d)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("condition not reached within %v: %s", d, msg)
}

// fakeDriver is a controllable fpr.Driver for failure injection.
type fakeDriver struct {
	mu           sync.Mutex
	registered   map[fpr.MAC]int
	sent         []sentFrame
	failRegister bool
	failSend     bool
	failAfter    int // fail every Send once this many frames went out
	recv         fpr.RecvFunc
}

type sentFrame struct {
	dest fpr.MAC
	data []byte
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{registered: make(map[fpr.MAC]int)}
}

func (d *fakeDriver) RegisterPeer(mac fpr.MAC) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failRegister {
		return errInjected
	}

	d.registered[mac]++

	return nil
}

func (d *fakeDriver) UnregisterPeer(mac fpr.MAC) error {
	d.mu.Lock()
	d.registered[mac]--
	d.mu.Unlock()

	return nil
}

func (d *fakeDriver) Send(mac fpr.MAC, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failSend {
		return errInjected
	}

	if d.failAfter > 0 && len(d.sent) >= d.failAfter {
		return errInjected
	}

	d.sent = append(d.sent, sentFrame{dest: mac, data: append([]byte(nil), data...)})

	return nil
}

func (d *fakeDriver) RegisterRecvCallback(fn fpr.RecvFunc) {
	d.mu.Lock()
	d.recv = fn
	d.mu.Unlock()
}

func (d *fakeDriver) RegisterSendCallback(fpr.SendFunc) {}

func (d *fakeDriver) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.sent)
}
