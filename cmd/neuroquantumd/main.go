// Command neuroquantumd is the engine's daemon and admin CLI: serve runs
// a node (standalone or as part of a Raft cluster), backup/restore drive
// internal/backup, and cluster join/status start a cluster node and query
// a running one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "neuroquantumd",
		Short: "neuroquantumd runs and administers a storage engine node",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		serveCmd(&configPath),
		backupCmd(&configPath),
		recoverCmd(&configPath),
		clusterCmd(&configPath),
	)
	return root
}
