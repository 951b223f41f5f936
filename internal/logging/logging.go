// Package logging wires zerolog as the engine's structured logger,
// following the package-level Logger + WithComponent child-logger
// pattern from cuemby-warren's pkg/log/log.go.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/rs/zerolog"
)

// Logger is the package-level structured logger every component derives
// its child logger from.
var Logger zerolog.Logger

// Config selects the logger's output format and level.
type Config struct {
	Level      zerolog.Level
	JSONOutput bool
	Output     io.Writer
}

// Init installs the package-level Logger per cfg. JSONOutput writes
// newline-delimited JSON (the production default); otherwise a
// human-readable console writer is used (local development).
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var w io.Writer = out
	if !cfg.JSONOutput {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(w).Level(cfg.Level).With().Timestamp().Logger()
}

func init() {
	Init(Config{Level: zerolog.InfoLevel, JSONOutput: false})
}

// WithComponent returns a child logger tagged with component, the same
// granularity cuemby-warren uses for per-subsystem logging (lock
// manager, recovery, cluster node, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNode returns a child logger tagged with a cluster node id.
func WithNode(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithTx returns a child logger tagged with a transaction id.
func WithTx(txID uint64) zerolog.Logger {
	return Logger.With().Uint64("tx_id", txID).Logger()
}

// hclogAdapter satisfies hashicorp/raft's hclog.Logger requirement by
// forwarding every call into a zerolog child logger, so Raft's internal
// log lines carry the same structured fields as the rest of the engine
// instead of going to a separate plain-text log.New writer the way the
// teacher's own raft proof-of-concept does it.
type hclogAdapter struct {
	hclog.Logger
	zl zerolog.Logger
}

// NewHCLogAdapter returns an hclog.Logger backed by the zerolog child
// logger for nodeID, suitable for raft.Config.Logger.
func NewHCLogAdapter(nodeID string) hclog.Logger {
	base := hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.Info,
		Output: io.Discard, // actual emission goes through zerolog below
	})
	return &hclogAdapter{Logger: base, zl: WithNode(nodeID).With().Str("component", "raft").Logger()}
}

func (a *hclogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	ev := a.zl.WithLevel(toZerologLevel(level))
	for i := 0; i+1 < len(args); i += 2 {
		ev = ev.Interface(toString(args[i]), args[i+1])
	}
	ev.Msg(msg)
}

func (a *hclogAdapter) Trace(msg string, args ...interface{}) { a.Log(hclog.Trace, msg, args...) }
func (a *hclogAdapter) Debug(msg string, args ...interface{}) { a.Log(hclog.Debug, msg, args...) }
func (a *hclogAdapter) Info(msg string, args ...interface{})  { a.Log(hclog.Info, msg, args...) }
func (a *hclogAdapter) Warn(msg string, args ...interface{})  { a.Log(hclog.Warn, msg, args...) }
func (a *hclogAdapter) Error(msg string, args ...interface{}) { a.Log(hclog.Error, msg, args...) }

func toZerologLevel(l hclog.Level) zerolog.Level {
	switch l {
	case hclog.Trace:
		return zerolog.TraceLevel
	case hclog.Debug:
		return zerolog.DebugLevel
	case hclog.Warn:
		return zerolog.WarnLevel
	case hclog.Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "field"
}
