package fpr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Mode selects which role's logic is active. Exactly one role is active
// at a time.
type Mode uint8

const (
	ModeClient Mode = iota
	ModeHost
	ModeExtender
)

func (m Mode) String() string {
	switch m {
	case ModeClient:
		return "CLIENT"
	case ModeHost:
		return "HOST"
	case ModeExtender:
		return "EXTENDER"
	default:
		return "UNKNOWN"
	}
}

// Lifecycle is the network-wide run state.
type Lifecycle uint8

const (
	LifecycleUninitialized Lifecycle = iota
	LifecycleInitialized
	LifecycleStarted
	LifecyclePaused
	LifecycleStopped
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleUninitialized:
		return "UNINITIALIZED"
	case LifecycleInitialized:
		return "INITIALIZED"
	case LifecycleStarted:
		return "STARTED"
	case LifecyclePaused:
		return "PAUSED"
	case LifecycleStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// PowerMode scales background timer periods.
type PowerMode uint8

const (
	PowerNormal PowerMode = iota
	PowerLow
)

// ConnMode selects automatic or manually-approved connection handling.
type ConnMode uint8

const (
	ConnAuto ConnMode = iota
	ConnManual
)

// InitOptions configures Init.
type InitOptions struct {
	Channel   uint8
	PowerMode PowerMode
}

// HostConfig configures the HOST role.
type HostConfig struct {
	MaxPeers   int
	Mode       ConnMode
	Visibility Visibility
	// RequestCB is consulted in ConnManual mode before admitting a
	// discovered client into the handshake. A nil callback with
	// ConnManual means no client is ever admitted.
	RequestCB func(mac MAC, name string) bool
}

// ClientConfig configures the CLIENT role.
type ClientConfig struct {
	Mode ConnMode
	// DiscoveryCB is invoked for every broadcast control packet from an
	// unknown host.
	DiscoveryCB func(mac MAC, name string)
	// SelectionCB is consulted in ConnManual mode to choose whether/which
	// discovered host to connect to. A nil callback means the client only
	// records discovered hosts and never initiates a connection.
	SelectionCB func(candidates []Snapshot) (connect bool)
}

// Config bundles the router's build-time and runtime knobs.
type Config struct {
	QueueCapacity     int
	DefaultMaxHops    uint8
	BroadcastInterval time.Duration
	KeepaliveInterval time.Duration
	ReconnectTimeout  time.Duration
	LowPowerScale     int
	MaxPeers          int
}

// DefaultConfig returns the reference build-time constants.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     DefaultQueueCapacity,
		DefaultMaxHops:    DefaultMaxHops,
		BroadcastInterval: 3 * time.Second,
		KeepaliveInterval: 5 * time.Second,
		ReconnectTimeout:  15 * time.Second,
		LowPowerScale:     4,
		MaxPeers:          32,
	}
}

// Network is one FPR node: peer table, handshake engine, transmit and
// receive pipelines, and the background tasks of the active role. It is an
// explicit handle rather than process-wide state, so tests instantiate
// several in one process to simulate a network on a loopback link.
type Network struct {
	mu sync.RWMutex

	localMAC  MAC
	localName string
	version   Version
	cfg       Config

	driver Driver
	clock  Clock
	logger *slog.Logger

	table *Table
	stats Stats
	sec   *Engine
	tx    transmitter

	lifecycle  Lifecycle
	mode       Mode
	power      PowerMode
	visibility Visibility

	hostPWK      [KeySize]byte
	hostPWKValid bool

	hostCfg   HostConfig
	clientCfg ClientConfig

	callback Callback

	connectedHost MAC
	hasHost       bool

	wg     sync.WaitGroup
	cancel context.CancelFunc

	workCh chan func()
}

// SetConfig replaces the build-time/runtime knobs. It is rejected while
// the network is running; call it before Init, or after Stop.
func (n *Network) SetConfig(cfg Config) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lifecycle == LifecycleStarted || n.lifecycle == LifecyclePaused {
		return newErr("set config", KindInvalidState, fmt.Errorf("lifecycle is %s", n.lifecycle))
	}

	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}

	if cfg.DefaultMaxHops == 0 {
		cfg.DefaultMaxHops = DefaultMaxHops
	}

	n.cfg = cfg

	if n.table != nil {
		n.table.queueCap = cfg.QueueCapacity
	}

	return nil
}

// New constructs an uninitialized Network bound to driver. Call Init then
// Start to bring it up.
func New(driver Driver, clock Clock, logger *slog.Logger) *Network {
	if clock == nil {
		clock = SystemClock
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Network{
		driver:    driver,
		clock:     clock,
		logger:    logger,
		lifecycle: LifecycleUninitialized,
		cfg:       DefaultConfig(),
	}
}

// Init assigns the local identity and brings the network to INITIALIZED.
func (n *Network) Init(localMAC MAC, name string, opts InitOptions) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lifecycle != LifecycleUninitialized {
		return newErr("init", KindInvalidState, fmt.Errorf("lifecycle is %s", n.lifecycle))
	}

	if len(name) > NameSize-1 {
		return newErr("init", KindInvalidArgument, ErrNameTooLongArg)
	}

	n.localMAC = localMAC
	n.localName = name
	n.version = CurrentVersion
	n.power = opts.PowerMode
	n.mode = ModeClient
	n.visibility = VisibilityPublic
	n.sec = NewEngine(&n.stats)
	n.table = NewTable(n.driver, n.cfg.QueueCapacity, n.logger)
	n.tx = transmitter{
		localMAC:  localMAC,
		localName: name,
		version:   n.version,
		driver:    n.driver,
		clock:     n.clock,
		stats:     &n.stats,
		logger:    n.logger,
	}
	n.workCh = make(chan func(), 64)
	n.lifecycle = LifecycleInitialized

	n.driver.RegisterRecvCallback(n.OnReceive)

	return nil
}

// Start transitions to STARTED, registers the broadcast peer entry, and
// launches the background loop/reconnect tasks.
func (n *Network) Start() error {
	n.mu.Lock()

	if n.lifecycle != LifecycleInitialized && n.lifecycle != LifecycleStopped {
		n.mu.Unlock()
		return newErr("start", KindInvalidState, fmt.Errorf("lifecycle is %s", n.lifecycle))
	}

	if err := n.driver.RegisterPeer(BroadcastMAC); err != nil {
		n.mu.Unlock()
		return newErr("start", KindLinkFailure, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.lifecycle = LifecycleStarted
	n.mu.Unlock()

	n.wg.Add(3)
	go n.worker(ctx)
	go n.loopTask(ctx)
	go n.reconnectTask(ctx)

	return nil
}

// Pause blocks send and drop-on-receive without tearing down state.
func (n *Network) Pause() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lifecycle != LifecycleStarted {
		return newErr("pause", KindInvalidState, fmt.Errorf("lifecycle is %s", n.lifecycle))
	}

	n.lifecycle = LifecyclePaused

	return nil
}

// Resume reverses Pause.
func (n *Network) Resume() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lifecycle != LifecyclePaused {
		return newErr("resume", KindInvalidState, fmt.Errorf("lifecycle is %s", n.lifecycle))
	}

	n.lifecycle = LifecycleStarted

	return nil
}

// Stop cooperatively shuts down the background tasks.
func (n *Network) Stop() error {
	n.mu.Lock()

	if n.lifecycle != LifecycleStarted && n.lifecycle != LifecyclePaused {
		n.mu.Unlock()
		return newErr("stop", KindInvalidState, fmt.Errorf("lifecycle is %s", n.lifecycle))
	}

	n.lifecycle = LifecycleStopped
	cancel := n.cancel
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	n.wg.Wait()

	return nil
}

// Deinit tears down the peer table, wiping key material, after Stop.
func (n *Network) Deinit() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lifecycle != LifecycleStopped {
		return newErr("deinit", KindInvalidState, fmt.Errorf("lifecycle is %s", n.lifecycle))
	}

	// Receive registration goes first so no frame races the table teardown.
	n.driver.RegisterRecvCallback(nil)

	n.table.ClearAll()
	n.hostPWKValid = false
	n.hostPWK = [KeySize]byte{}
	n.lifecycle = LifecycleUninitialized

	return nil
}

// GetState returns the current lifecycle state.
func (n *Network) GetState() Lifecycle { return n.Lifecycle() }

// Lifecycle returns the current lifecycle state.
func (n *Network) Lifecycle() Lifecycle {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.lifecycle
}

// Mode returns the active role.
func (n *Network) Mode() Mode {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.mode
}

// SetMode switches the active role, re-registering the receive handler and
// broadcast-peer entry for the new role.
func (n *Network) SetMode(mode Mode) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lifecycle == LifecycleUninitialized {
		return newErr("set mode", KindInvalidState, fmt.Errorf("lifecycle is %s", n.lifecycle))
	}

	if mode == n.mode {
		return nil
	}

	if n.mode == ModeHost && n.table.CountConnected() > 0 && mode != ModeHost {
		// Leaving HOST with active clients is allowed but logged: those
		// peers are not torn down here; they stay CONNECTED until the loop
		// task's stale cleanup removes them once they fall silent.
		n.logger.Warn("role change away from HOST with active clients",
			slog.Int("connected", n.table.CountConnected()))
	}

	n.mode = mode
	n.hasHost = false

	if mode == ModeHost {
		pwk, err := GenerateKey()
		if err != nil {
			return newErr("set mode", KindOutOfMemory, err)
		}

		n.hostPWK = pwk
		n.hostPWKValid = true
	}

	n.driver.RegisterRecvCallback(n.OnReceive)

	if n.lifecycle == LifecycleStarted || n.lifecycle == LifecyclePaused {
		if err := n.driver.RegisterPeer(BroadcastMAC); err != nil {
			n.logger.Warn("re-register broadcast peer failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Callback returns the registered application-data callback, if any.
func (n *Network) Callback() Callback {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.callback
}

// RegisterReceiveCallback installs fn as the application-data delivery
// callback.
func (n *Network) RegisterReceiveCallback(fn Callback) {
	n.mu.Lock()
	n.callback = fn
	n.mu.Unlock()
}

// deliverAsync dispatches fn on the worker goroutine so the receive
// context never blocks on a possibly-slow application callback.
func (n *Network) deliverAsync(fn func()) {
	select {
	case n.workCh <- fn:
	default:
		n.logger.Warn("callback worker backlog full; dropping delivery notification")
	}
}

func (n *Network) worker(ctx context.Context) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-n.workCh:
			fn()
		}
	}
}

// Stats returns a snapshot of the process-wide counters.
func (n *Network) Stats() StatsSnapshot { return n.stats.Snapshot() }

// ResetStats zeroes every counter.
func (n *Network) ResetStats() { n.stats.Reset() }

// LocalMAC returns the local identity assigned at Init.
func (n *Network) LocalMAC() MAC { return n.localMAC }

// ProtocolVersion returns the implemented protocol version.
func (n *Network) ProtocolVersion() Version { return n.version }

// ProtocolVersionString returns the human-readable protocol version.
func (n *Network) ProtocolVersionString() string { return n.version.String() }
