package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func backupRestoreCmd(configPath *string) *cobra.Command {
	var id string
	var destDir string
	var targetLSN uint64

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "restore a backup chain into a destination directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := openBackupManager(*configPath)
			if err != nil {
				return err
			}
			defer mgr.Close()

			if destDir == "" {
				destDir = cfg.DataDir
			}
			if err := mgr.Restore(id, destDir, targetLSN); err != nil {
				return err
			}
			fmt.Printf("restored %s into %s\n", id, destDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "backup id to restore (required)")
	cmd.Flags().StringVar(&destDir, "dest", "", "destination directory (defaults to the configured data dir)")
	cmd.Flags().Uint64Var(&targetLSN, "target-lsn", 0, "truncate the WAL to this LSN for point-in-time recovery (0 = full replay)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
