// Package ctl implements the local control-plane API the fprd daemon
// serves and the fprctl CLI consumes: a small JSON-over-HTTP surface for
// peer listing, admission control, statistics, routes, and role changes.
package ctl

import (
	"time"

	"github.com/dantte-lp/fpr/internal/fpr"
)

// StatusView describes the node itself.
type StatusView struct {
	Name            string `json:"name"`
	MAC             string `json:"mac"`
	Mode            string `json:"mode"`
	Lifecycle       string `json:"lifecycle"`
	ProtocolVersion string `json:"protocol_version"`
	ConnectedPeers  int    `json:"connected_peers"`
}

// PeerView is the JSON rendering of one fpr.Snapshot.
type PeerView struct {
	MAC           string `json:"mac"`
	Name          string `json:"name,omitempty"`
	State         string `json:"state"`
	SecState      string `json:"sec_state"`
	LastSeen      string `json:"last_seen,omitempty"`
	RSSI          int8   `json:"rssi"`
	PacketsRecv   uint64 `json:"packets_received"`
	LastSeqNum    uint32 `json:"last_seq_num"`
	QueuedPackets int    `json:"queued_packets"`
	HopCount      uint8  `json:"hop_count,omitempty"`
	NextHop       string `json:"next_hop,omitempty"`
	HasRoute      bool   `json:"has_route"`
}

// StatsView mirrors fpr.StatsSnapshot.
type StatsView struct {
	PacketsSent          uint64 `json:"packets_sent"`
	PacketsReceived      uint64 `json:"packets_received"`
	PacketsDropped       uint64 `json:"packets_dropped"`
	SendFailures         uint64 `json:"send_failures"`
	ReplayAttacksBlocked uint64 `json:"replay_attacks_blocked"`
	VersionMismatches    uint64 `json:"version_mismatches"`
	SecurityFailures     uint64 `json:"security_failures"`
	QueueDrops           uint64 `json:"queue_drops"`
	PacketsForwarded     uint64 `json:"packets_forwarded"`
	HandshakesCompleted  uint64 `json:"handshakes_completed"`
}

// RouteView is one learned mesh route.
type RouteView struct {
	Origin   string `json:"origin"`
	NextHop  string `json:"next_hop"`
	HopCount uint8  `json:"hop_count"`
	State    string `json:"state"`
}

// errorBody is the JSON error envelope for non-2xx responses.
type errorBody struct {
	Error string `json:"error"`
}

// modeBody is the request body for POST /v1/mode.
type modeBody struct {
	Mode string `json:"mode"`
}

func peerToView(s fpr.Snapshot) PeerView {
	v := PeerView{
		MAC:           s.MAC.String(),
		Name:          s.Name,
		State:         s.State.String(),
		SecState:      s.SecState.String(),
		RSSI:          s.RSSI,
		PacketsRecv:   s.PacketsRecv,
		LastSeqNum:    s.LastSeqNum,
		QueuedPackets: s.QueuedPackets,
		HasRoute:      s.HasRoute,
	}

	if !s.LastSeen.IsZero() {
		v.LastSeen = s.LastSeen.Format(time.RFC3339)
	}

	if s.HasRoute {
		v.HopCount = s.HopCount
		v.NextHop = s.NextHopMAC.String()
	}

	return v
}

func statsToView(s fpr.StatsSnapshot) StatsView {
	return StatsView{
		PacketsSent:          s.PacketsSent,
		PacketsReceived:      s.PacketsReceived,
		PacketsDropped:       s.PacketsDropped,
		SendFailures:         s.SendFailures,
		ReplayAttacksBlocked: s.ReplayAttacksBlocked,
		VersionMismatches:    s.VersionMismatches,
		SecurityFailures:     s.SecurityFailures,
		QueueDrops:           s.QueueDrops,
		PacketsForwarded:     s.PacketsForwarded,
		HandshakesCompleted:  s.HandshakesCompleted,
	}
}
