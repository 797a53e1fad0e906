// Package commands implements the fprctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dantte-lp/fpr/internal/ctl"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatPeers renders a slice of peers in the requested format.
func formatPeers(peers []ctl.PeerView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(peers)
	case formatTable:
		return formatPeersTable(peers)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatPeer renders a single peer in the requested format.
func formatPeer(peer ctl.PeerView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(peer)
	case formatTable:
		return formatPeerDetail(peer)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatStats renders the network counters in the requested format.
func formatStats(stats ctl.StatsView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(stats)
	case formatTable:
		return formatStatsTable(stats)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatRoutes renders the mesh route table in the requested format.
func formatRoutes(routes []ctl.RouteView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(routes)
	case formatTable:
		return formatRoutesTable(routes)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatStatus renders the node status in the requested format.
func formatStatus(status ctl.StatusView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(status)
	case formatTable:
		return formatStatusTable(status)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatPeersTable(peers []ctl.PeerView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MAC\tNAME\tSTATE\tSEC-STATE\tRSSI\tRX\tQUEUED\tLAST-SEEN")

	for _, p := range peers {
		lastSeen := valueNA
		if p.LastSeen != "" {
			lastSeen = p.LastSeen
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			p.MAC,
			p.Name,
			p.State,
			p.SecState,
			p.RSSI,
			p.PacketsRecv,
			p.QueuedPackets,
			lastSeen,
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatPeerDetail(p ctl.PeerView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "MAC:\t%s\n", p.MAC)
	fmt.Fprintf(w, "Name:\t%s\n", p.Name)
	fmt.Fprintf(w, "State:\t%s\n", p.State)
	fmt.Fprintf(w, "Security State:\t%s\n", p.SecState)
	fmt.Fprintf(w, "RSSI:\t%d\n", p.RSSI)
	fmt.Fprintf(w, "Packets Received:\t%d\n", p.PacketsRecv)
	fmt.Fprintf(w, "Last Sequence:\t%d\n", p.LastSeqNum)
	fmt.Fprintf(w, "Queued Packets:\t%d\n", p.QueuedPackets)

	if p.LastSeen != "" {
		fmt.Fprintf(w, "Last Seen:\t%s\n", p.LastSeen)
	}

	if p.HasRoute {
		fmt.Fprintf(w, "Route:\tvia %s (%d hops)\n", p.NextHop, p.HopCount)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatStatsTable(s ctl.StatsView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Packets Sent:\t%d\n", s.PacketsSent)
	fmt.Fprintf(w, "Packets Received:\t%d\n", s.PacketsReceived)
	fmt.Fprintf(w, "Packets Dropped:\t%d\n", s.PacketsDropped)
	fmt.Fprintf(w, "Packets Forwarded:\t%d\n", s.PacketsForwarded)
	fmt.Fprintf(w, "Send Failures:\t%d\n", s.SendFailures)
	fmt.Fprintf(w, "Replay Attacks Blocked:\t%d\n", s.ReplayAttacksBlocked)
	fmt.Fprintf(w, "Version Mismatches:\t%d\n", s.VersionMismatches)
	fmt.Fprintf(w, "Security Failures:\t%d\n", s.SecurityFailures)
	fmt.Fprintf(w, "Queue Drops:\t%d\n", s.QueueDrops)
	fmt.Fprintf(w, "Handshakes Completed:\t%d\n", s.HandshakesCompleted)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatRoutesTable(routes []ctl.RouteView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORIGIN\tNEXT-HOP\tHOPS\tSTATE")

	for _, r := range routes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Origin, r.NextHop, r.HopCount, r.State)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatStatusTable(s ctl.StatusView) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Name:\t%s\n", s.Name)
	fmt.Fprintf(w, "MAC:\t%s\n", s.MAC)
	fmt.Fprintf(w, "Mode:\t%s\n", s.Mode)
	fmt.Fprintf(w, "Lifecycle:\t%s\n", s.Lifecycle)
	fmt.Fprintf(w, "Protocol Version:\t%s\n", s.ProtocolVersion)
	fmt.Fprintf(w, "Connected Peers:\t%d\n", s.ConnectedPeers)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// --- JSON ---

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
