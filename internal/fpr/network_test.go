package fpr_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dantte-lp/fpr/internal/fpr"
	"github.com/dantte-lp/fpr/internal/transport"
)

// wantKind asserts err is an *fpr.Error of the given kind.
func wantKind(t *testing.T, err error, kind fpr.Kind) {
	t.Helper()

	var fprErr *fpr.Error
	if !errors.As(err, &fprErr) {
		t.Fatalf("error = %v, want *fpr.Error of kind %s", err, kind)
	}

	if fprErr.Kind != kind {
		t.Fatalf("error kind = %s, want %s (err: %v)", fprErr.Kind, kind, err)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()
	n := fpr.New(transport.NewLoopback(bus, macHost), nil, quietLogger())

	if got := n.GetState(); got != fpr.LifecycleUninitialized {
		t.Fatalf("initial state = %s, want UNINITIALIZED", got)
	}

	// Operations out of order.
	wantKind(t, n.Start(), fpr.KindInvalidState)
	wantKind(t, n.Pause(), fpr.KindInvalidState)
	wantKind(t, n.Stop(), fpr.KindInvalidState)
	wantKind(t, n.SetMode(fpr.ModeHost), fpr.KindInvalidState)

	if err := n.Init(macHost, "h", fpr.InitOptions{}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if got := n.GetState(); got != fpr.LifecycleInitialized {
		t.Fatalf("state after Init = %s, want INITIALIZED", got)
	}

	wantKind(t, n.Init(macHost, "h", fpr.InitOptions{}), fpr.KindInvalidState)

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := n.GetState(); got != fpr.LifecycleStarted {
		t.Fatalf("state after Start = %s, want STARTED", got)
	}

	if err := n.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if got := n.GetState(); got != fpr.LifecyclePaused {
		t.Fatalf("state after Pause = %s, want PAUSED", got)
	}

	if err := n.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := n.GetState(); got != fpr.LifecycleStopped {
		t.Fatalf("state after Stop = %s, want STOPPED", got)
	}

	if err := n.Deinit(); err != nil {
		t.Fatalf("Deinit: %v", err)
	}

	if got := n.GetState(); got != fpr.LifecycleUninitialized {
		t.Fatalf("state after Deinit = %s, want UNINITIALIZED", got)
	}
}

func TestInitRejectsOverlongName(t *testing.T) {
	t.Parallel()

	n := fpr.New(transport.NewLoopback(transport.NewBus(), macHost), nil, quietLogger())

	err := n.Init(macHost, strings.Repeat("x", fpr.NameSize), fpr.InitOptions{})
	wantKind(t, err, fpr.KindInvalidArgument)
}

func TestSendWhilePaused(t *testing.T) {
	t.Parallel()

	_, client := connectPair(t, transport.NewBus())

	if err := client.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	err := client.SendToPeer(macHost, []byte{0x01}, 7)
	wantKind(t, err, fpr.KindInvalidState)

	if err := client.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if err := client.SendToPeer(macHost, []byte{0x01}, 7); err != nil {
		t.Fatalf("SendToPeer after Resume: %v", err)
	}
}

func TestReceiveWhilePausedDrops(t *testing.T) {
	t.Parallel()

	host, client := connectPair(t, transport.NewBus())

	if err := host.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	dropsBefore := host.Stats().PacketsDropped

	if err := client.SendToPeer(macHost, []byte{0x01}, 7); err != nil {
		t.Fatalf("SendToPeer: %v", err)
	}

	// The client's background keepalive can also land while paused, so the
	// counter may advance by more than the one data frame.
	if got := host.Stats().PacketsDropped; got < dropsBefore+1 {
		t.Errorf("packets_dropped = %d, want >= %d", got, dropsBefore+1)
	}

	if err := host.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if _, err := host.GetDataFromPeer(macClient, 0); err == nil {
		t.Error("frame received while paused was delivered")
	}
}

func TestSetConfigRejectedWhileRunning(t *testing.T) {
	t.Parallel()

	n := startNode(t, transport.NewBus(), macHost, "h")

	wantKind(t, n.SetConfig(fastConfig()), fpr.KindInvalidState)
}

func TestSendToUnknownPeer(t *testing.T) {
	t.Parallel()

	n := startNode(t, transport.NewBus(), macHost, "h")

	err := n.SendToPeer(macThird, []byte{0x01}, 1)
	wantKind(t, err, fpr.KindNotFound)
}

func TestSendRejectsControlID(t *testing.T) {
	t.Parallel()

	n := startNode(t, transport.NewBus(), macHost, "h")

	err := n.SendWithOptions(fpr.BroadcastMAC, []byte{0x01}, fpr.SendOptions{ID: fpr.ControlID})
	wantKind(t, err, fpr.KindInvalidArgument)
}

func TestGetDataTimeout(t *testing.T) {
	t.Parallel()

	_, client := connectPair(t, transport.NewBus())

	start := time.Now()

	_, err := client.GetDataFromPeer(macHost, 50*time.Millisecond)
	wantKind(t, err, fpr.KindTimeout)

	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("GetDataFromPeer returned after %v, want it to honor the timeout", elapsed)
	}
}

func TestProtocolVersionString(t *testing.T) {
	t.Parallel()

	n := fpr.New(newFakeDriver(), nil, quietLogger())

	if err := n.Init(macHost, "h", fpr.InitOptions{}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if got := n.ProtocolVersion(); got != fpr.CurrentVersion {
		t.Errorf("ProtocolVersion() = %v, want %v", got, fpr.CurrentVersion)
	}

	if got := n.ProtocolVersionString(); got != fpr.CurrentVersion.String() {
		t.Errorf("ProtocolVersionString() = %q, want %q", got, fpr.CurrentVersion.String())
	}
}

func TestModeSwitchReregistersReceive(t *testing.T) {
	t.Parallel()

	drv := newFakeDriver()
	n := fpr.New(drv, nil, quietLogger())

	if err := n.Init(macHost, "h", fpr.InitOptions{}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := n.SetMode(fpr.ModeExtender); err != nil {
		t.Fatalf("SetMode(extender): %v", err)
	}

	if got := n.Mode(); got != fpr.ModeExtender {
		t.Errorf("Mode() = %s, want EXTENDER", got)
	}

	drv.mu.Lock()
	registered := drv.recv != nil
	drv.mu.Unlock()

	if !registered {
		t.Error("receive callback not registered after mode switch")
	}
}
