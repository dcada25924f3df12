// Package config centralizes the server's tunables (spec.md §6): flags
// parsed into a Config struct, with an optional YAML file overlaying
// anything it names on top of the flag defaults, the way teacher's
// cmd/server/main.go parsed everything as ad hoc flag.* locals —
// generalized here into a struct a config file can also populate.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable spec.md §6 names, plus DataDir (ambient:
// every deployment needs somewhere to put its WAL/shards/sync log/
// snapshot, spec.md leaves the value to the operator the same way
// teacher's --data-dir does).
type Config struct {
	NodeID  string `yaml:"node_id"`
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`

	ShardCount           int   `yaml:"shard_count"`
	BufferSize           int   `yaml:"buffer_size"`
	FlushIntervalMS      int   `yaml:"flush_interval_ms"`
	BatchSize            int   `yaml:"batch_size"`
	SafeMode             bool  `yaml:"safe_mode"`
	CacheTTLMS           int   `yaml:"cache_ttl_ms"`
	AppliedOpHistory     int   `yaml:"applied_op_history"`
	PresenceTTLMS        int   `yaml:"presence_ttl_ms"`
	TombstoneRetentionMS int64 `yaml:"tombstone_retention_ms"`
}

// Default matches spec.md §6's stated defaults verbatim.
func Default() Config {
	return Config{
		NodeID:  "node1",
		Addr:    ":8080",
		DataDir: "/tmp/hyperdoc",

		ShardCount:           8,
		BufferSize:           10000,
		FlushIntervalMS:      100,
		BatchSize:            1000,
		SafeMode:             true,
		CacheTTLMS:           60000,
		AppliedOpHistory:     1000,
		PresenceTTLMS:        30000,
		TombstoneRetentionMS: 86400000,
	}
}

// FlushInterval, CacheTTL, PresenceTTL, and TombstoneRetention convert
// the millisecond config fields into time.Duration for the packages
// that take one directly (buffer.Config, cache.New, hub's presence
// TTL, snapshotgc.Scheduler).
func (c Config) FlushInterval() time.Duration { return time.Duration(c.FlushIntervalMS) * time.Millisecond }
func (c Config) CacheTTL() time.Duration       { return time.Duration(c.CacheTTLMS) * time.Millisecond }
func (c Config) PresenceTTL() time.Duration    { return time.Duration(c.PresenceTTLMS) * time.Millisecond }
func (c Config) TombstoneRetention() time.Duration {
	return time.Duration(c.TombstoneRetentionMS) * time.Millisecond
}

// Load parses flags (falling back to Default()'s values) from args,
// then, if configFile is non-empty, overlays whatever keys a YAML file
// at that path sets on top of the flag-derived result. Flags always
// establish the baseline; the file only overrides fields it actually
// names, the same "flags plus optional overlay" shape as config files
// in the rest of the ecosystem (gopkg.in/yaml.v3 is already teacher's
// choice for structured config elsewhere in the pack).
func Load(args []string) (Config, error) {
	d := Default()
	fs := flag.NewFlagSet("hyperdoc-server", flag.ContinueOnError)

	cfg := Config{}
	fs.StringVar(&cfg.NodeID, "id", d.NodeID, "unique node identifier")
	fs.StringVar(&cfg.Addr, "addr", d.Addr, "listen address (host:port)")
	fs.StringVar(&cfg.DataDir, "data-dir", d.DataDir, "directory for WAL, shards, sync log, and snapshots")
	fs.IntVar(&cfg.ShardCount, "shard-count", d.ShardCount, "number of write shards")
	fs.IntVar(&cfg.BufferSize, "buffer-size", d.BufferSize, "writes buffered before a forced flush")
	fs.IntVar(&cfg.FlushIntervalMS, "flush-interval-ms", d.FlushIntervalMS, "buffer flush timer period")
	fs.IntVar(&cfg.BatchSize, "batch-size", d.BatchSize, "max writes committed per flush")
	fs.BoolVar(&cfg.SafeMode, "safe-mode", d.SafeMode, "not read: every WAL append is fsynced whatever its value")
	fs.IntVar(&cfg.CacheTTLMS, "cache-ttl-ms", d.CacheTTLMS, "read cache entry TTL")
	fs.IntVar(&cfg.AppliedOpHistory, "applied-op-history", d.AppliedOpHistory, "per-doc retained op-id count")
	fs.IntVar(&cfg.PresenceTTLMS, "presence-ttl-ms", d.PresenceTTLMS, "presence idle sweep threshold")
	fs.Int64Var(&cfg.TombstoneRetentionMS, "tombstone-retention-ms", d.TombstoneRetentionMS, "tombstone GC horizon")
	configFile := fs.String("config", "", "optional YAML file overlaying these flags")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	return cfg, nil
}
