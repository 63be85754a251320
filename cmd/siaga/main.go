// README: Entry point; cobra root command with the API server and local sync queue tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var queuePath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "siaga",
		Short: "SIAGA emergency dispatch core",
		Long: `Ambulance dispatch matching, hospital capacity scoring and an
offline-first sync queue that replays field writes once the backend is reachable.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&queuePath, "queue", "", "Path to the local sync queue database (overrides SIAGA_QUEUE_PATH)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(queueCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
