// Package config loads engine configuration from a YAML file with
// environment-variable overrides, the same two-layer approach
// (yaml.v2 defaults + godotenv-loaded env overrides) other_examples'
// backend config packages use.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/cockroachdb/errors"
)

// Config is the engine's top-level configuration.
type Config struct {
	DataDir     string        `yaml:"data_dir"`
	WALDir      string        `yaml:"wal_dir"`
	BackupDir   string        `yaml:"backup_dir"`
	PageCache   int           `yaml:"page_cache_pages"`
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// CheckpointInterval is how often serve takes a fuzzy checkpoint and
	// truncates reclaimable WAL segments. Zero disables periodic
	// checkpointing (the catalogue is still saved at clean shutdown, but no
	// checkpoint record is written).
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	Encryption struct {
		Enabled bool   `yaml:"enabled"`
		KeyFile string `yaml:"key_file"`
	} `yaml:"encryption"`

	Cluster struct {
		Enabled   bool     `yaml:"enabled"`
		NodeID    string   `yaml:"node_id"`
		BindAddr  string   `yaml:"bind_addr"`
		Bootstrap bool     `yaml:"bootstrap"`
		Peers     []string `yaml:"peers"`
		ProtoMin  uint32   `yaml:"proto_min"`
	} `yaml:"cluster"`

	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
}

// Default returns sane single-node defaults.
func Default() Config {
	var c Config
	c.DataDir = "./data"
	c.WALDir = "./data/wal"
	c.BackupDir = "./data/backups"
	c.PageCache = 4096
	c.LockTimeout = 2 * time.Second
	c.CheckpointInterval = 5 * time.Minute
	c.Logging.Level = "info"
	return c
}

// Load reads a YAML config file at path (if it exists), then applies
// NEUROQUANTUM_-prefixed environment variable overrides, loading a
// .env file first via godotenv when present, matching the corpus's
// dotenv-then-process-env layering.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, errors.Wrap(err, "config: read file")
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, errors.Wrap(err, "config: parse yaml")
			}
		}
	}

	_ = godotenv.Load() // optional .env; absence is not an error

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEUROQUANTUM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("NEUROQUANTUM_WAL_DIR"); v != "" {
		cfg.WALDir = v
	}
	if v := os.Getenv("NEUROQUANTUM_BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}
	if v := os.Getenv("NEUROQUANTUM_PAGE_CACHE_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PageCache = n
		}
	}
	if v := os.Getenv("NEUROQUANTUM_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LockTimeout = d
		}
	}
	if v := os.Getenv("NEUROQUANTUM_CHECKPOINT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CheckpointInterval = d
		}
	}
	if v := os.Getenv("NEUROQUANTUM_CLUSTER_NODE_ID"); v != "" {
		cfg.Cluster.NodeID = v
		cfg.Cluster.Enabled = true
	}
	if v := os.Getenv("NEUROQUANTUM_CLUSTER_BIND_ADDR"); v != "" {
		cfg.Cluster.BindAddr = v
	}
	if v := os.Getenv("NEUROQUANTUM_CLUSTER_PROTO_MIN"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Cluster.ProtoMin = uint32(n)
		}
	}
}
