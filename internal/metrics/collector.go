// Package fprmetrics exposes the FPR node's Stats snapshot and per-peer
// state as Prometheus metrics.
package fprmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/fpr/internal/fpr"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "fpr"
	subsystem = "router"
)

// Label names for FPR metrics.
const (
	labelPeerMAC = "peer_mac"
	labelRole    = "role"
	labelState   = "state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus FPR Metrics
// -------------------------------------------------------------------------

// Collector holds all FPR Prometheus metrics, mirroring the shape of the
// network-wide fpr.Stats counters and the per-peer record state.
//
//   - Peers gauge tracks currently known peers, labeled by connection state.
//   - Packet counters mirror fpr.Stats (sent/received/dropped/forwarded).
//   - ReplayBlocked and SecurityFailures flag potential attacks for alerting.
//   - Handshakes counts completed four-message handshakes.
type Collector struct {
	// Peers tracks the number of known peers by connection state.
	Peers *prometheus.GaugeVec

	// NodeRole is set to 1 for the currently active role (client, host,
	// extender) and 0 for the others, mirroring fpr.Network.Mode().
	NodeRole *prometheus.GaugeVec

	// PacketsSent counts frames transmitted (all fragments of all sends).
	PacketsSent prometheus.Counter

	// PacketsReceived counts frames that decoded, counted before version
	// routing, so frames later dropped for version skew are included.
	PacketsReceived prometheus.Counter

	// PacketsDropped counts frames dropped for any reason (malformed,
	// version mismatch, replay, queue full, orphan fragment).
	PacketsDropped prometheus.Counter

	// PacketsForwarded counts frames relayed by an EXTENDER.
	PacketsForwarded prometheus.Counter

	// ReplayBlocked counts frames rejected by the replay check.
	ReplayBlocked prometheus.Counter

	// SecurityFailures counts handshake key-verification failures.
	SecurityFailures prometheus.Counter

	// SendFailures counts driver.Send errors.
	SendFailures prometheus.Counter

	// VersionMismatches counts frames dropped or handled best-effort due to
	// protocol version skew.
	VersionMismatches prometheus.Counter

	// HandshakesCompleted counts four-message handshakes that reached
	// ESTABLISHED.
	HandshakesCompleted prometheus.Counter

	// QueueDrops counts frames dropped because a peer's receive queue was
	// full.
	QueueDrops prometheus.Counter
}

// NewCollector creates a Collector with all FPR metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Peers,
		c.NodeRole,
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.PacketsForwarded,
		c.ReplayBlocked,
		c.SecurityFailures,
		c.SendFailures,
		c.VersionMismatches,
		c.HandshakesCompleted,
		c.QueueDrops,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	peerLabels := []string{labelPeerMAC, labelState}

	return &Collector{
		Peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peers",
			Help:      "Number of known peers by connection state.",
		}, peerLabels),

		NodeRole: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "node_role",
			Help:      "1 for the node's active role, 0 otherwise.",
		}, []string{labelRole}),

		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total FPR frames transmitted.",
		}),

		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total FPR frames that decoded, counted before version routing.",
		}),

		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total FPR frames dropped for any reason.",
		}),

		PacketsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_forwarded_total",
			Help:      "Total FPR frames relayed by this node while in EXTENDER mode.",
		}),

		ReplayBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replay_attacks_blocked_total",
			Help:      "Total frames rejected by the per-peer replay check.",
		}),

		SecurityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "security_failures_total",
			Help:      "Total handshake key-verification failures.",
		}),

		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_failures_total",
			Help:      "Total driver Send errors.",
		}),

		VersionMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "version_mismatches_total",
			Help:      "Total frames affected by protocol version skew handling.",
		}),

		HandshakesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshakes_completed_total",
			Help:      "Total four-message handshakes that reached ESTABLISHED.",
		}),

		QueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_drops_total",
			Help:      "Total frames dropped because a peer's receive queue was full.",
		}),
	}
}

// counterDelta tracks the last-observed value of a monotonic counter so
// Sync can feed prometheus.Counter.Add the incremental delta rather than
// re-deriving a Set-able gauge from an ever-growing source value.
type counterDelta struct {
	last uint64
}

func (d *counterDelta) add(c prometheus.Counter, current uint64) {
	if current <= d.last {
		return
	}

	c.Add(float64(current - d.last))
	d.last = current
}

// Syncer periodically pulls an fpr.Network's Stats snapshot into a
// Collector. fpr.Stats is an atomic counter set, not a push source, so
// something must poll it -- callers typically do this from the metrics
// HTTP handler or a background ticker alongside the daemon's other
// periodic tasks.
type Syncer struct {
	c *Collector

	sent, recv, drop, fwd, replay, sec, sendFail, verMismatch, hs, qd counterDelta
}

// NewSyncer builds a Syncer that feeds c from repeated Sync calls.
func NewSyncer(c *Collector) *Syncer {
	return &Syncer{c: c}
}

// Sync adds the delta since the last call to each corresponding counter.
func (s *Syncer) Sync(snap fpr.StatsSnapshot) {
	s.sent.add(s.c.PacketsSent, snap.PacketsSent)
	s.recv.add(s.c.PacketsReceived, snap.PacketsReceived)
	s.drop.add(s.c.PacketsDropped, snap.PacketsDropped)
	s.fwd.add(s.c.PacketsForwarded, snap.PacketsForwarded)
	s.replay.add(s.c.ReplayBlocked, snap.ReplayAttacksBlocked)
	s.sec.add(s.c.SecurityFailures, snap.SecurityFailures)
	s.sendFail.add(s.c.SendFailures, snap.SendFailures)
	s.verMismatch.add(s.c.VersionMismatches, snap.VersionMismatches)
	s.hs.add(s.c.HandshakesCompleted, snap.HandshakesCompleted)
	s.qd.add(s.c.QueueDrops, snap.QueueDrops)
}

// SyncPeers replaces the peers gauge with the given per-(mac,state) counts,
// clearing any stale label combinations that no longer appear.
func (c *Collector) SyncPeers(counts map[[2]string]float64) {
	c.Peers.Reset()

	for labels, n := range counts {
		c.Peers.WithLabelValues(labels[0], labels[1]).Set(n)
	}
}

// allRoles lists every fpr.Mode value NodeRole can report on.
var allRoles = []string{"client", "host", "extender"}

// SetRole marks role as the node's single active role, zeroing the others.
func (c *Collector) SetRole(role string) {
	for _, r := range allRoles {
		v := 0.0
		if r == role {
			v = 1.0
		}

		c.NodeRole.WithLabelValues(r).Set(v)
	}
}
