package fpr_test

import (
	"testing"

	"github.com/dantte-lp/fpr/internal/fpr"
)

// handshakeRig holds the two independent peer views of one handshake: the
// host's record of the client and the client's record of the host.
type handshakeRig struct {
	hostEngine   *fpr.Engine
	clientEngine *fpr.Engine
	hostStats    *fpr.Stats
	clientStats  *fpr.Stats
	hostPeer     *fpr.Peer // the host's view of the client
	clientPeer   *fpr.Peer // the client's view of the host
	pwk          [fpr.KeySize]byte
}

func newHandshakeRig(t *testing.T) *handshakeRig {
	t.Helper()

	hostStats := &fpr.Stats{}
	clientStats := &fpr.Stats{}

	hostTable := fpr.NewTable(newFakeDriver(), 10, quietLogger())
	clientTable := fpr.NewTable(newFakeDriver(), 10, quietLogger())

	hostPeer, err := hostTable.Add(macClient, "c", false)
	if err != nil {
		t.Fatalf("add client peer: %v", err)
	}

	clientPeer, err := clientTable.Add(macHost, "h", false)
	if err != nil {
		t.Fatalf("add host peer: %v", err)
	}

	pwk, err := fpr.GenerateKey()
	if err != nil {
		t.Fatalf("generate pwk: %v", err)
	}

	return &handshakeRig{
		hostEngine:   fpr.NewEngine(hostStats),
		clientEngine: fpr.NewEngine(clientStats),
		hostStats:    hostStats,
		clientStats:  clientStats,
		hostPeer:     hostPeer,
		clientPeer:   clientPeer,
		pwk:          pwk,
	}
}

// runHandshake drives steps 1..3 in order and returns the step-1 and
// step-3 messages for replay tests.
func (r *handshakeRig) runHandshake(t *testing.T) (step1, step3 *fpr.ConnectInfo) {
	t.Helper()

	step1 = r.hostEngine.BeginHostHandshake(r.hostPeer, r.pwk)

	stored, restarted := r.clientEngine.ClientReceiveStep1(r.clientPeer, step1)
	if !stored || restarted {
		t.Fatalf("ClientReceiveStep1 = (%v, %v), want (true, false)", stored, restarted)
	}

	step2, err := r.clientEngine.ClientBeginStep2(r.clientPeer)
	if err != nil {
		t.Fatalf("ClientBeginStep2: %v", err)
	}

	reply, established := r.hostEngine.HostReceive(r.hostPeer, r.pwk, step2)
	if reply == nil || !established {
		t.Fatalf("HostReceive = (%v, %v), want step-3 reply and established", reply, established)
	}

	if !r.clientEngine.ClientReceiveStep3(r.clientPeer, reply) {
		t.Fatal("ClientReceiveStep3 did not complete the handshake")
	}

	return step1, reply
}

// TestHandshakeCompletes walks the full four-message exchange and checks
// both sides end CONNECTED/ESTABLISHED with both keys valid.
func TestHandshakeCompletes(t *testing.T) {
	t.Parallel()

	r := newHandshakeRig(t)
	r.runHandshake(t)

	for _, tc := range []struct {
		side string
		peer *fpr.Peer
	}{
		{"host", r.hostPeer},
		{"client", r.clientPeer},
	} {
		snap := tc.peer.Snapshot()

		if snap.State != fpr.StateConnected {
			t.Errorf("%s peer state = %s, want CONNECTED", tc.side, snap.State)
		}

		if snap.SecState != fpr.SecEstablished {
			t.Errorf("%s sec state = %s, want ESTABLISHED", tc.side, snap.SecState)
		}

		if !snap.PWKValid || !snap.LWKValid {
			t.Errorf("%s keys valid = (%v, %v), want both true", tc.side, snap.PWKValid, snap.LWKValid)
		}

		if snap.LastSeqNum != 0 {
			t.Errorf("%s last_seq_num = %d, want 0 after handshake", tc.side, snap.LastSeqNum)
		}
	}
}

// TestHandshakeMidStates checks the intermediate security states along the
// exchange, per the transition table.
func TestHandshakeMidStates(t *testing.T) {
	t.Parallel()

	r := newHandshakeRig(t)

	step1 := r.hostEngine.BeginHostHandshake(r.hostPeer, r.pwk)

	if got := r.hostPeer.SecState(); got != fpr.SecPWKSent {
		t.Errorf("host after step 1 tx: sec state = %s, want PWK_SENT", got)
	}

	if got := r.hostPeer.State(); got != fpr.StatePending {
		t.Errorf("host after step 1 tx: state = %s, want PENDING", got)
	}

	r.clientEngine.ClientReceiveStep1(r.clientPeer, step1)

	if got := r.clientPeer.SecState(); got != fpr.SecPWKReceived {
		t.Errorf("client after step 1 rx: sec state = %s, want PWK_RECEIVED", got)
	}

	if _, err := r.clientEngine.ClientBeginStep2(r.clientPeer); err != nil {
		t.Fatalf("ClientBeginStep2: %v", err)
	}

	if got := r.clientPeer.SecState(); got != fpr.SecLWKSent {
		t.Errorf("client after step 2 tx: sec state = %s, want LWK_SENT", got)
	}
}

// TestDuplicateStepOneIgnored delivers step 1 twice before step 2; the
// second copy must be ignored and the state stay PWK_RECEIVED.
func TestDuplicateStepOneIgnored(t *testing.T) {
	t.Parallel()

	r := newHandshakeRig(t)

	step1 := r.hostEngine.BeginHostHandshake(r.hostPeer, r.pwk)

	if stored, _ := r.clientEngine.ClientReceiveStep1(r.clientPeer, step1); !stored {
		t.Fatal("first step 1 not stored")
	}

	if stored, restarted := r.clientEngine.ClientReceiveStep1(r.clientPeer, step1); stored || restarted {
		t.Errorf("duplicate step 1 = (%v, %v), want ignored", stored, restarted)
	}

	if got := r.clientPeer.SecState(); got != fpr.SecPWKReceived {
		t.Errorf("sec state after duplicate step 1 = %s, want PWK_RECEIVED", got)
	}
}

// TestDuplicateStepThreeIgnored delivers step 3 twice; the retransmit
// leaves the client ESTABLISHED.
func TestDuplicateStepThreeIgnored(t *testing.T) {
	t.Parallel()

	r := newHandshakeRig(t)
	_, step3 := r.runHandshake(t)

	if r.clientEngine.ClientReceiveStep3(r.clientPeer, step3) {
		t.Error("retransmitted step 3 reported as a fresh completion")
	}

	if got := r.clientPeer.SecState(); got != fpr.SecEstablished {
		t.Errorf("sec state after duplicate step 3 = %s, want ESTABLISHED", got)
	}
}

// TestStepThreeOutsideHandshakeDropped delivers an ACK to a peer that
// never entered the handshake.
func TestStepThreeOutsideHandshakeDropped(t *testing.T) {
	t.Parallel()

	r := newHandshakeRig(t)

	ack := &fpr.ConnectInfo{HasPWK: true, HasLWK: true}

	if r.clientEngine.ClientReceiveStep3(r.clientPeer, ack) {
		t.Error("ACK accepted in NONE state")
	}

	if got := r.clientPeer.SecState(); got != fpr.SecNone {
		t.Errorf("sec state = %s, want NONE", got)
	}
}

// TestHostRestartResetsClient re-delivers a fresh step 1 after a completed
// handshake: the client must reset and a second handshake must succeed.
func TestHostRestartResetsClient(t *testing.T) {
	t.Parallel()

	r := newHandshakeRig(t)
	r.runHandshake(t)

	// Host wiped its state and generated a new session PWK.
	newPWK, err := fpr.GenerateKey()
	if err != nil {
		t.Fatalf("generate new pwk: %v", err)
	}

	hostTable := fpr.NewTable(newFakeDriver(), 10, quietLogger())

	freshHostPeer, err := hostTable.Add(macClient, "c", false)
	if err != nil {
		t.Fatalf("re-add client peer: %v", err)
	}

	step1 := r.hostEngine.BeginHostHandshake(freshHostPeer, newPWK)

	stored, restarted := r.clientEngine.ClientReceiveStep1(r.clientPeer, step1)
	if !stored || !restarted {
		t.Fatalf("step 1 after restart = (%v, %v), want (true, true)", stored, restarted)
	}

	step2, err := r.clientEngine.ClientBeginStep2(r.clientPeer)
	if err != nil {
		t.Fatalf("ClientBeginStep2: %v", err)
	}

	reply, established := r.hostEngine.HostReceive(freshHostPeer, newPWK, step2)
	if !established {
		t.Fatal("host did not establish after restart")
	}

	if !r.clientEngine.ClientReceiveStep3(r.clientPeer, reply) {
		t.Fatal("client did not establish after restart")
	}

	if got := r.clientPeer.SecState(); got != fpr.SecEstablished {
		t.Errorf("sec state after restart handshake = %s, want ESTABLISHED", got)
	}
}

// TestHostRejectsWrongPWKEcho feeds the host a step 2 echoing a forged
// PWK; the state must stay unchanged and the failure must be counted.
func TestHostRejectsWrongPWKEcho(t *testing.T) {
	t.Parallel()

	r := newHandshakeRig(t)
	r.hostEngine.BeginHostHandshake(r.hostPeer, r.pwk)

	forged := &fpr.ConnectInfo{HasPWK: true, HasLWK: true}
	forged.PWK[0] = r.pwk[0] ^ 0xFF

	reply, established := r.hostEngine.HostReceive(r.hostPeer, r.pwk, forged)
	if reply != nil || established {
		t.Error("host accepted a forged PWK echo")
	}

	if got := r.hostPeer.SecState(); got != fpr.SecPWKSent {
		t.Errorf("sec state after forged echo = %s, want PWK_SENT", got)
	}

	if got := r.hostStats.Snapshot().SecurityFailures; got != 1 {
		t.Errorf("security failures = %d, want 1", got)
	}

	snap := r.hostPeer.Snapshot()
	if snap.LWKValid {
		t.Error("forged LWK was stored despite verification failure")
	}
}

// TestClientRejectsWrongKeysInStepThree feeds the client a step 3 whose
// LWK does not match the one it generated.
func TestClientRejectsWrongKeysInStepThree(t *testing.T) {
	t.Parallel()

	r := newHandshakeRig(t)

	step1 := r.hostEngine.BeginHostHandshake(r.hostPeer, r.pwk)
	r.clientEngine.ClientReceiveStep1(r.clientPeer, step1)

	if _, err := r.clientEngine.ClientBeginStep2(r.clientPeer); err != nil {
		t.Fatalf("ClientBeginStep2: %v", err)
	}

	forged := &fpr.ConnectInfo{PWK: r.pwk, HasPWK: true, HasLWK: true}
	forged.LWK[0] = 0xFF

	if r.clientEngine.ClientReceiveStep3(r.clientPeer, forged) {
		t.Error("client accepted a forged step 3")
	}

	if got := r.clientPeer.SecState(); got != fpr.SecLWKSent {
		t.Errorf("sec state after forged step 3 = %s, want LWK_SENT", got)
	}

	if got := r.clientStats.Snapshot().SecurityFailures; got != 1 {
		t.Errorf("security failures = %d, want 1", got)
	}
}

func TestGenerateKeyProducesDistinctKeys(t *testing.T) {
	t.Parallel()

	a, err := fpr.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	b, err := fpr.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	if a == b {
		t.Error("two generated keys are identical")
	}
}
