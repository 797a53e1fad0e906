package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route",
		Short: "Show the learned mesh route table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			routes, err := client.Routes(cmd.Context())
			if err != nil {
				return fmt.Errorf("get routes: %w", err)
			}

			out, err := formatRoutes(routes, outputFormat)
			if err != nil {
				return fmt.Errorf("format routes: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
