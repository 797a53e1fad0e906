package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the network-wide counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}

			out, err := formatStats(stats, outputFormat)
			if err != nil {
				return fmt.Errorf("format stats: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Zero the network-wide counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := client.ResetStats(cmd.Context()); err != nil {
				return fmt.Errorf("reset stats: %w", err)
			}

			fmt.Println("Statistics reset.")

			return nil
		},
	})

	return cmd
}
