package fpr

import (
	"sync"
	"time"
)

// ConnState is a peer's connection lifecycle state.
type ConnState uint8

const (
	// StateDiscovered means the peer has been observed but not yet
	// admitted into the security handshake.
	StateDiscovered ConnState = iota
	// StatePending means the handshake is in progress.
	StatePending
	// StateConnected means the handshake completed successfully.
	StateConnected
	// StateRejected means a connection attempt was explicitly refused.
	StateRejected
	// StateBlocked means the peer is administratively blocked.
	StateBlocked
)

func (s ConnState) String() string {
	switch s {
	case StateDiscovered:
		return "DISCOVERED"
	case StatePending:
		return "PENDING"
	case StateConnected:
		return "CONNECTED"
	case StateRejected:
		return "REJECTED"
	case StateBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// SecState is a peer's position in the four-message handshake.
type SecState uint8

const (
	SecNone SecState = iota
	SecPWKSent
	SecPWKReceived
	SecLWKSent
	SecLWKReceived
	SecEstablished
)

func (s SecState) String() string {
	switch s {
	case SecNone:
		return "NONE"
	case SecPWKSent:
		return "PWK_SENT"
	case SecPWKReceived:
		return "PWK_RECEIVED"
	case SecLWKSent:
		return "LWK_SENT"
	case SecLWKReceived:
		return "LWK_RECEIVED"
	case SecEstablished:
		return "ESTABLISHED"
	default:
		return "UNKNOWN"
	}
}

// QueueMode selects how a peer's receive queue behaves under fragmentation
// and backlog.
type QueueMode uint8

const (
	// QueueNormal accepts fragmented messages and queues every frame up to
	// capacity.
	QueueNormal QueueMode = iota
	// QueueLatestOnly rejects fragmented frames and keeps only the most
	// recently enqueued SINGLE frame.
	QueueLatestOnly
)

// DefaultQueueCapacity is the default bound on a peer's receive queue.
const DefaultQueueCapacity = 10

// DefaultMaxHops is the default TTL used when a caller does not specify one.
const DefaultMaxHops uint8 = 10

// Message is one reassembled application-data delivery: either a single
// frame's payload or a complete START..END run concatenated in order.
type Message struct {
	ID      int32
	Payload []byte
}

// Peer is the per-MAC record the router keeps for every known node. All mutable
// fields are guarded by mu; callers must not read them without holding it
// (use the accessor methods, which take the lock internally).
type Peer struct {
	MAC  MAC
	Name string

	mu sync.Mutex

	lastSeen time.Time
	rssi     int8
	rxCount  uint64

	state    ConnState
	secState SecState

	pwk      [KeySize]byte
	lwk      [KeySize]byte
	pwkValid bool
	lwkValid bool

	lastSeqNum uint32

	receivingFragmented bool
	fragmentSeqNum      uint32
	fragmentBuf         []byte

	queueMode QueueMode
	queue     chan Message

	hopCount   uint8
	nextHopMAC MAC
	hasRoute   bool

	// lastFwdSeqNum is the mesh-forwarding dedup window, tracked apart
	// from lastSeqNum so relaying a frame never perturbs the delivery
	// replay check for that same frame.
	lastFwdSeqNum uint32
}

// newPeer constructs a Peer record with a bounded receive queue.
func newPeer(mac MAC, name string, queueCap int) *Peer {
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}

	return &Peer{
		MAC:       mac,
		Name:      name,
		state:     StateDiscovered,
		secState:  SecNone,
		lastSeen:  time.Time{},
		queueMode: QueueNormal,
		queue:     make(chan Message, queueCap),
	}
}

// touch records a freshly received frame's arrival time and signal quality.
func (p *Peer) touch(now time.Time, rssi int8) {
	p.mu.Lock()
	p.lastSeen = now
	p.rssi = rssi
	p.rxCount++
	p.mu.Unlock()
}

// LastSeen returns the timestamp of the most recently received frame.
func (p *Peer) LastSeen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastSeen
}

// State returns the peer's connection state.
func (p *Peer) State() ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// SecState returns the peer's handshake state.
func (p *Peer) SecState() SecState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.secState
}

// Snapshot is a read-only copy of a Peer's fields for introspection.
type Snapshot struct {
	MAC            MAC
	Name           string
	LastSeen       time.Time
	RSSI           int8
	PacketsRecv    uint64
	State          ConnState
	SecState       SecState
	PWKValid       bool
	LWKValid       bool
	LastSeqNum     uint32
	QueueMode      QueueMode
	QueuedPackets  int
	HopCount       uint8
	NextHopMAC     MAC
	HasRoute       bool
	Established    bool
}

// Snapshot copies the peer's current fields.
func (p *Peer) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Snapshot{
		MAC:           p.MAC,
		Name:          p.Name,
		LastSeen:      p.lastSeen,
		RSSI:          p.rssi,
		PacketsRecv:   p.rxCount,
		State:         p.state,
		SecState:      p.secState,
		PWKValid:      p.pwkValid,
		LWKValid:      p.lwkValid,
		LastSeqNum:    p.lastSeqNum,
		QueueMode:     p.queueMode,
		QueuedPackets: len(p.queue),
		HopCount:      p.hopCount,
		NextHopMAC:    p.nextHopMAC,
		HasRoute:      p.hasRoute,
		Established:   p.secState == SecEstablished,
	}
}

// SetQueueMode changes how the peer's receive queue handles fragmentation
// and backlog.
func (p *Peer) SetQueueMode(mode QueueMode) {
	p.mu.Lock()
	p.queueMode = mode
	p.mu.Unlock()
}

// demote drops a peer back to DISCOVERED after its connection went silent.
// Handshake state and session keys are cleared so a later
// discovery beacon can restart the handshake from step 1.
func (p *Peer) demote() {
	p.mu.Lock()
	p.state = StateDiscovered
	p.secState = SecNone
	p.wipeKeys()
	p.lastSeqNum = 0
	p.receivingFragmented = false
	p.fragmentBuf = nil
	p.mu.Unlock()
}

// wipeKeys overwrites session key material so teardown never leaves key
// bytes behind.
func (p *Peer) wipeKeys() {
	for i := range p.pwk {
		p.pwk[i] = 0
	}

	for i := range p.lwk {
		p.lwk[i] = 0
	}

	p.pwkValid = false
	p.lwkValid = false
}
