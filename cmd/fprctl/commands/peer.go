package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func peerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Inspect and manage peers",
	}

	cmd.AddCommand(peerListCmd())
	cmd.AddCommand(peerShowCmd())

	for _, action := range []struct {
		name  string
		short string
	}{
		{"approve", "Approve a pending peer and start its handshake"},
		{"reject", "Reject a discovered peer"},
		{"block", "Administratively block a peer"},
		{"unblock", "Lift an administrative block"},
		{"disconnect", "Tear down a connected peer"},
	} {
		cmd.AddCommand(peerActionCmd(action.name, action.short))
	}

	return cmd
}

// --- peer list ---

func peerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all known peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			peers, err := client.ListPeers(cmd.Context())
			if err != nil {
				return fmt.Errorf("list peers: %w", err)
			}

			out, err := formatPeers(peers, outputFormat)
			if err != nil {
				return fmt.Errorf("format peers: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- peer show ---

func peerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mac>",
		Short: "Show details of one peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := client.GetPeer(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get peer: %w", err)
			}

			out, err := formatPeer(peer, outputFormat)
			if err != nil {
				return fmt.Errorf("format peer: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- peer approve/reject/block/unblock/disconnect ---

func peerActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <mac>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.PeerAction(cmd.Context(), args[0], action); err != nil {
				return fmt.Errorf("%s peer: %w", action, err)
			}

			fmt.Printf("Peer %s: %s.\n", args[0], action)

			return nil
		},
	}
}

// --- status (top-level) ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the node's identity, role, and lifecycle state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			out, err := formatStatus(status, outputFormat)
			if err != nil {
				return fmt.Errorf("format status: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- mode (top-level) ---

func modeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode <client|host|extender>",
		Short: "Switch the node's role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.SetMode(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("set mode: %w", err)
			}

			fmt.Printf("Mode set to %s.\n", args[0])

			return nil
		},
	}
}
