package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/fpr/internal/ctl"
)

func monitorCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch peer state changes",
		Long:  "Polls the fprd daemon and prints a line for every peer state transition until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := watchPeers(ctx, interval); err != nil {
				// Context cancellation (Ctrl+C) is expected, not an error.
				if errors.Is(err, context.Canceled) {
					return nil
				}

				return err
			}

			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second,
		"poll interval")

	return cmd
}

// watchPeers polls the peer list and prints a line whenever a peer appears,
// disappears, or changes connection/security state.
func watchPeers(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := make(map[string]ctl.PeerView)

	for {
		peers, err := client.ListPeers(ctx)
		if err != nil {
			return fmt.Errorf("list peers: %w", err)
		}

		seen := make(map[string]ctl.PeerView, len(peers))

		for _, p := range peers {
			seen[p.MAC] = p

			prev, ok := last[p.MAC]

			switch {
			case !ok:
				printEvent("PeerAdded", p)
			case prev.State != p.State || prev.SecState != p.SecState:
				printEvent("StateChange", p)
			}
		}

		for mac, prev := range last {
			if _, ok := seen[mac]; !ok {
				printEvent("PeerRemoved", prev)
			}
		}

		last = seen

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printEvent(kind string, p ctl.PeerView) {
	fmt.Printf("[%s] %s  mac=%s  name=%q  state=%s  sec=%s\n",
		time.Now().Format(time.RFC3339),
		kind,
		p.MAC,
		p.Name,
		p.State,
		p.SecState,
	)
}
