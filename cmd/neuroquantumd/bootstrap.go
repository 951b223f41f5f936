package main

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/neuroquantum/storage-engine/internal/config"
	"github.com/neuroquantum/storage-engine/internal/engine"
	"github.com/neuroquantum/storage-engine/internal/logging"
	"github.com/neuroquantum/storage-engine/internal/metrics"
	"github.com/neuroquantum/storage-engine/internal/page"
	"github.com/neuroquantum/storage-engine/internal/recovery"
	"github.com/neuroquantum/storage-engine/internal/wal"
)

// runtime bundles the opened store/WAL/engine a command needs, along
// with the close order that flushes everything cleanly.
type runtime struct {
	cfg    config.Config
	store  *page.Store
	log    *wal.Writer
	engine *engine.Engine
	stats  *recovery.Stats
}

// openRuntime loads configuration, opens the page store and WAL, runs
// crash recovery, and constructs an Engine — the one path every
// subcommand that touches data goes through, mirroring the
// heap/table/WAL/engine construction sequence in the teacher's
// examples/basic_crud/main.go.
func openRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := zerologLevel(cfg.Logging.Level)
	logging.Init(logging.Config{Level: level, JSONOutput: cfg.Logging.JSON})
	log.Logger = logging.Logger

	store, err := page.Open(filepath.Join(cfg.DataDir, "data.pages"), cfg.PageCache, page.SyncNormal)
	if err != nil {
		return nil, errors.Wrap(err, "open page store")
	}

	tracker := wal.NewLSNTracker(0)
	walWriter, err := wal.NewWriter(wal.DefaultOptions(cfg.WALDir), tracker, 0)
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "open wal")
	}

	eng := engine.New(store, walWriter, cfg.LockTimeout)

	if err := eng.LoadCatalog(cfg.DataDir); err != nil {
		walWriter.Close()
		store.Close()
		return nil, errors.Wrap(err, "load catalog")
	}

	applyFn, undoFn := eng.RecoveryFuncs()
	recMgr := recovery.NewManager(store, applyFn, undoFn, walWriter)
	stats, err := recMgr.Recover(cfg.WALDir)
	if err != nil {
		walWriter.Close()
		store.Close()
		return nil, errors.Wrap(err, "recover")
	}
	logging.WithComponent("recovery").Info().
		Int("records_analyzed", stats.RecordsAnalyzed).
		Int("redo", stats.RedoOperations).
		Int("undo", stats.UndoOperations).
		Int64("duration_ms", stats.RecoveryTimeMS).
		Msg("recovery complete")

	return &runtime{cfg: cfg, store: store, log: walWriter, engine: eng, stats: stats}, nil
}

func (r *runtime) Close() error {
	if err := r.engine.SaveCatalog(r.cfg.DataDir); err != nil {
		return errors.Wrap(err, "save catalog")
	}
	if err := r.log.Close(); err != nil {
		return err
	}
	return r.store.Close()
}

func zerologLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// serveMetricsHTTP starts the Prometheus /metrics endpoint in the
// background on addr.
func serveMetricsHTTP(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.WithComponent("metrics").Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
