package fpr

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

// GenerateKey fills a fresh 128-bit PWK or LWK from the platform's
// cryptographic RNG.
func GenerateKey() ([KeySize]byte, error) {
	var k [KeySize]byte

	if _, err := rand.Read(k[:]); err != nil {
		return k, fmt.Errorf("generate key: %w", err)
	}

	return k, nil
}

// constantTimeEqual compares two keys without leaking timing information.
func constantTimeEqual(a, b [KeySize]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// Engine drives the four-message handshake state machine. It
// holds no per-peer state itself -- all mutation happens on the Peer passed
// in -- so one Engine serves every peer in a Table.
type Engine struct {
	stats *Stats
}

// NewEngine constructs a handshake Engine reporting failures into stats.
func NewEngine(stats *Stats) *Engine {
	return &Engine{stats: stats}
}

// drainQueue discards any frames queued before the handshake completed, so
// the peer's receive queue starts empty for the new session.
func drainQueue(p *Peer) {
	for {
		select {
		case <-p.queue:
		default:
			return
		}
	}
}

// establish finalises a peer on handshake completion, common to both the
// host and client sides of step 3.
func establish(p *Peer) {
	p.secState = SecEstablished
	p.state = StateConnected
	p.lastSeqNum = 0
	drainQueue(p)
}

// -------------------------------------------------------------------------
// Host side
// -------------------------------------------------------------------------

// BeginHostHandshake sends step 1: the host's PWK. Called when a host
// admits a discovered client.
func (e *Engine) BeginHostHandshake(p *Peer, hostPWK [KeySize]byte) *ConnectInfo {
	p.mu.Lock()
	p.secState = SecPWKSent
	p.state = StatePending
	p.mu.Unlock()

	return &ConnectInfo{PWK: hostPWK, HasPWK: true}
}

// HostReceive processes a message from a client peer on the host side. ci
// is expected to carry both PWK and LWK (step 2); any other shape is
// dropped silently. On success it returns the step-3 reply to transmit and
// true for established. A nil reply means nothing is to be sent: the
// message was a retransmit, arrived outside PWK_SENT, or failed PWK
// verification (counted in SecurityFailures).
func (e *Engine) HostReceive(p *Peer, hostPWK [KeySize]byte, ci *ConnectInfo) (reply *ConnectInfo, established bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !ci.HasPWK || !ci.HasLWK {
		// Not a step-2 message; host never receives a bare PWK.
		return nil, false
	}

	switch {
	case p.secState >= SecLWKSent:
		// Retransmit of a step 2 the host already answered.
		return nil, false
	case p.secState == SecPWKSent:
		if !constantTimeEqual(ci.PWK, hostPWK) {
			e.stats.SecurityFailures.Add(1)
			return nil, false
		}

		p.pwk = hostPWK
		p.pwkValid = true
		p.lwk = ci.LWK
		p.lwkValid = true
		establish(p)

		return &ConnectInfo{PWK: p.pwk, LWK: p.lwk, HasPWK: true, HasLWK: true}, true
	default:
		return nil, false
	}
}

// -------------------------------------------------------------------------
// Client side
// -------------------------------------------------------------------------

// ClientReceiveStep1 processes an incoming bare-PWK message (step 1). It
// implements the restart-recovery and duplicate rules. storedFresh
// reports whether the PWK was freshly accepted (so the caller should
// proceed to generate an LWK and transmit step 2); restarted reports
// whether this arrived as a host-restart reset.
func (e *Engine) ClientReceiveStep1(p *Peer, ci *ConnectInfo) (storedFresh, restarted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !ci.HasPWK || ci.HasLWK {
		return false, false
	}

	switch {
	case p.secState >= SecLWKSent:
		// Host restarted: reset and reprocess as a fresh step 1.
		p.wipeKeys()
		p.secState = SecNone
		p.pwk = ci.PWK
		p.pwkValid = true
		p.secState = SecPWKReceived

		return true, true
	case p.secState == SecPWKReceived:
		// Duplicate step 1; ignored.
		return false, false
	case p.secState == SecNone:
		p.pwk = ci.PWK
		p.pwkValid = true
		p.secState = SecPWKReceived

		return true, false
	default:
		return false, false
	}
}

// ClientBeginStep2 generates this session's LWK and transitions
// PWK_RECEIVED -> LWK_SENT, building the step-2 message to transmit.
func (e *Engine) ClientBeginStep2(p *Peer) (*ConnectInfo, error) {
	lwk, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.lwk = lwk
	p.lwkValid = true
	p.secState = SecLWKSent
	p.state = StatePending
	p.mu.Unlock()

	return &ConnectInfo{PWK: p.pwk, LWK: lwk, HasPWK: true, HasLWK: true}, nil
}

// ClientReceiveStep3 processes the host's step-3 acknowledgement. Returns
// true if the handshake completed on this call.
func (e *Engine) ClientReceiveStep3(p *Peer, ci *ConnectInfo) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !ci.HasPWK || !ci.HasLWK {
		return false
	}

	switch p.secState {
	case SecEstablished:
		// Retransmit; ignored.
		return false
	case SecLWKSent:
		if !constantTimeEqual(ci.PWK, p.pwk) || !constantTimeEqual(ci.LWK, p.lwk) {
			e.stats.SecurityFailures.Add(1)
			return false
		}

		establish(p)

		return true
	default:
		// Dropped: ACK arriving outside LWK_SENT or ESTABLISHED.
		return false
	}
}
