package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuroquantum/storage-engine/internal/logging"
)

func serveCmd(configPath *string) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a storage engine node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			serveMetricsHTTP(metricsAddr)
			stopCheckpoints := startCheckpointLoop(rt)
			defer stopCheckpoints()
			logging.WithComponent("serve").Info().Str("data_dir", rt.cfg.DataDir).Msg("node ready")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			logging.WithComponent("serve").Info().Msg("shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on, empty to disable")
	return cmd
}

// startCheckpointLoop runs Engine.Checkpoint on cfg.CheckpointInterval
// until the returned stop function is called. A zero interval disables
// the loop; runtime.Close still saves the catalogue at shutdown, but
// writes no checkpoint record.
func startCheckpointLoop(rt *runtime) func() {
	if rt.cfg.CheckpointInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(rt.cfg.CheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				lsn, err := rt.engine.Checkpoint(rt.cfg.DataDir)
				if err != nil {
					logging.WithComponent("checkpoint").Error().Err(err).Msg("checkpoint failed")
					continue
				}
				logging.WithComponent("checkpoint").Info().Uint64("lsn", lsn).Msg("checkpoint complete")
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
