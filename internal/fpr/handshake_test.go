package fpr_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/dantte-lp/fpr/internal/fpr"
	"github.com/dantte-lp/fpr/internal/transport"
)

// TestConnectToHostEstablishesBothSides runs the discover-and-connect
// scenario over the loopback medium and checks both peers end CONNECTED
// with a fully established session.
func TestConnectToHostEstablishesBothSides(t *testing.T) {
	t.Parallel()

	host, client := connectPair(t, transport.NewBus())

	if !client.IsConnected() {
		t.Fatal("client does not report a host connection")
	}

	hostInfo, ok := client.GetHostInfo()
	if !ok {
		t.Fatal("GetHostInfo returned no host")
	}

	if hostInfo.MAC != macHost || hostInfo.Name != "h" {
		t.Errorf("host info = (%v, %q), want (%v, %q)", hostInfo.MAC, hostInfo.Name, macHost, "h")
	}

	if hostInfo.State != fpr.StateConnected || hostInfo.SecState != fpr.SecEstablished {
		t.Errorf("host info state = (%s, %s), want (CONNECTED, ESTABLISHED)", hostInfo.State, hostInfo.SecState)
	}

	clientInfo, err := host.GetPeerInfo(macClient)
	if err != nil {
		t.Fatalf("host GetPeerInfo(client): %v", err)
	}

	if clientInfo.State != fpr.StateConnected || clientInfo.SecState != fpr.SecEstablished {
		t.Errorf("client record state = (%s, %s), want (CONNECTED, ESTABLISHED)", clientInfo.State, clientInfo.SecState)
	}

	if !clientInfo.PWKValid || !clientInfo.LWKValid {
		t.Error("host-side key validity flags not both set")
	}

	if got := host.GetConnectedCount(); got != 1 {
		t.Errorf("host connected count = %d, want 1", got)
	}

	for side, stats := range map[string]fpr.StatsSnapshot{
		"host":   host.Stats(),
		"client": client.Stats(),
	} {
		if stats.PacketsReceived < 2 {
			t.Errorf("%s packets_received = %d, want >= 2", side, stats.PacketsReceived)
		}

		if stats.ReplayAttacksBlocked != 0 {
			t.Errorf("%s replay_attacks_blocked = %d, want 0", side, stats.ReplayAttacksBlocked)
		}
	}
}

// TestDiscoveryAutoConnect lets the host's periodic beacon drive the whole
// exchange: the client discovers the host, raises the discovery callback,
// and auto-connects.
func TestDiscoveryAutoConnect(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	var discovered atomic.Int32

	startHost(t, bus, macHost, "h", fpr.HostConfig{Mode: fpr.ConnAuto, MaxPeers: 8})
	client := startClient(t, bus, macClient, "c", fpr.ClientConfig{
		Mode: fpr.ConnAuto,
		DiscoveryCB: func(mac fpr.MAC, name string) {
			if mac == macHost && name == "h" {
				discovered.Add(1)
			}
		},
	})

	waitFor(t, 2*time.Second, client.IsConnected, "client auto-connect via beacon")

	if discovered.Load() == 0 {
		t.Error("discovery callback never fired")
	}
}

// TestAtMostOneHost surrounds a client with two beaconing hosts and checks
// it never holds more than one CONNECTED peer.
func TestAtMostOneHost(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	startHost(t, bus, macHost, "h1", fpr.HostConfig{Mode: fpr.ConnAuto, MaxPeers: 8})
	startHost(t, bus, macThird, "h2", fpr.HostConfig{Mode: fpr.ConnAuto, MaxPeers: 8})

	client := startClient(t, bus, macClient, "c", fpr.ClientConfig{Mode: fpr.ConnAuto})

	waitFor(t, 2*time.Second, client.IsConnected, "client auto-connect")

	// Let several beacon periods from the losing host pass.
	time.Sleep(100 * time.Millisecond)

	connected := 0

	for _, snap := range client.ListAllPeers() {
		if snap.State == fpr.StateConnected {
			connected++
		}
	}

	if connected != 1 {
		t.Errorf("client holds %d CONNECTED peers, want exactly 1", connected)
	}
}

// TestManualModeWithoutCallbackOnlyRecords puts the client in MANUAL mode
// with no selection callback: beacons must only create DISCOVERED entries.
func TestManualModeWithoutCallbackOnlyRecords(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	startHost(t, bus, macHost, "h", fpr.HostConfig{Mode: fpr.ConnAuto, MaxPeers: 8})
	client := startClient(t, bus, macClient, "c", fpr.ClientConfig{Mode: fpr.ConnManual})

	waitFor(t, 2*time.Second, func() bool {
		return len(client.ListDiscoveredHosts()) == 1
	}, "beacon recorded as discovered host")

	time.Sleep(60 * time.Millisecond)

	if client.IsConnected() {
		t.Error("manual-mode client connected without a selection callback")
	}
}

// TestManualHostRejectTimesOut pins scenario 6: a MANUAL host whose
// request callback always refuses leaves the connect attempt timing out,
// the host-side record absent, and zero connected peers.
func TestManualHostRejectTimesOut(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	host := startHost(t, bus, macHost, "h", fpr.HostConfig{
		Mode:      fpr.ConnManual,
		MaxPeers:  8,
		RequestCB: func(fpr.MAC, string) bool { return false },
	})
	client := startClient(t, bus, macClient, "c", fpr.ClientConfig{Mode: fpr.ConnManual})

	err := client.ConnectToHost(macHost, 150*time.Millisecond)
	wantKind(t, err, fpr.KindTimeout)

	snap, err := client.GetPeerInfo(macHost)
	if err != nil {
		t.Fatalf("client GetPeerInfo(host): %v", err)
	}

	if snap.State != fpr.StateDiscovered {
		t.Errorf("client's host record state = %s, want DISCOVERED", snap.State)
	}

	if got := host.GetConnectedCount(); got != 0 {
		t.Errorf("host connected count = %d, want 0", got)
	}
}

// TestBlockedPeerNeverAdmitted blocks a client on the host and checks its
// connection requests are ignored.
func TestBlockedPeerNeverAdmitted(t *testing.T) {
	t.Parallel()

	bus := transport.NewBus()

	host := startHost(t, bus, macHost, "h", fpr.HostConfig{Mode: fpr.ConnAuto, MaxPeers: 8})
	client := startClient(t, bus, macClient, "c", fpr.ClientConfig{Mode: fpr.ConnManual})

	if err := host.BlockPeer(macClient); err != nil {
		t.Fatalf("BlockPeer: %v", err)
	}

	err := client.ConnectToHost(macHost, 100*time.Millisecond)
	wantKind(t, err, fpr.KindTimeout)

	snap, err := host.GetPeerInfo(macClient)
	if err != nil {
		t.Fatalf("host GetPeerInfo(client): %v", err)
	}

	if snap.State != fpr.StateBlocked {
		t.Errorf("blocked peer state = %s, want BLOCKED", snap.State)
	}

	if err := host.UnblockPeer(macClient); err != nil {
		t.Fatalf("UnblockPeer: %v", err)
	}

	if err := client.ConnectToHost(macHost, time.Second); err != nil {
		t.Fatalf("ConnectToHost after unblock: %v", err)
	}
}

// TestHostDisconnectTearsDownPeer verifies the host-side disconnect
// operation removes the peer record.
func TestHostDisconnectTearsDownPeer(t *testing.T) {
	t.Parallel()

	host, _ := connectPair(t, transport.NewBus())

	if err := host.DisconnectPeer(macClient); err != nil {
		t.Fatalf("DisconnectPeer: %v", err)
	}

	if _, err := host.GetPeerInfo(macClient); err == nil {
		t.Error("peer record survived DisconnectPeer")
	}

	if got := host.GetConnectedCount(); got != 0 {
		t.Errorf("connected count after disconnect = %d, want 0", got)
	}
}

// TestClientDisconnect verifies the client-side disconnect clears the host
// binding and removes the peer record.
func TestClientDisconnect(t *testing.T) {
	t.Parallel()

	_, client := connectPair(t, transport.NewBus())

	if err := client.ClientDisconnect(); err != nil {
		t.Fatalf("ClientDisconnect: %v", err)
	}

	if client.IsConnected() {
		t.Error("client still reports a connection after disconnect")
	}

	if _, err := client.GetPeerInfo(macHost); err == nil {
		t.Error("host record survived ClientDisconnect")
	}

	wantKind(t, client.ClientDisconnect(), fpr.KindInvalidState)
}
