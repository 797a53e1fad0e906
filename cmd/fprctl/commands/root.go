package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/fpr/internal/ctl"
)

var (
	// client is the control API client, initialized in PersistentPreRunE.
	client *ctl.Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon address (host:port) for the control API.
	serverAddr string
)

// rootCmd is the top-level cobra command for fprctl.
var rootCmd = &cobra.Command{
	Use:   "fprctl",
	Short: "CLI client for the fprd daemon",
	Long:  "fprctl communicates with the fprd daemon over its local control API to inspect peers, routes, and statistics, and to drive admission control.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = ctl.NewClient(serverAddr)

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:9101",
		"fprd daemon control address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(peerCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(modeCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
