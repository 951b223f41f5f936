package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func recoverCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "run crash recovery against the configured WAL and page store, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Printf("records_analyzed=%d redo=%d undo=%d committed=%d aborted=%d duration_ms=%d checkpoint_lsn=%d\n",
				rt.stats.RecordsAnalyzed, rt.stats.RedoOperations, rt.stats.UndoOperations,
				rt.stats.TransactionsCommitted, rt.stats.TransactionsAborted,
				rt.stats.RecoveryTimeMS, rt.stats.CheckpointLSN)
			return nil
		},
	}
}
