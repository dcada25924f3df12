package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFlags(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesFromFlags(t *testing.T) {
	cfg, err := Load([]string{"-id", "node2", "-shard-count", "32"})
	require.NoError(t, err)
	require.Equal(t, "node2", cfg.NodeID)
	require.Equal(t, 32, cfg.ShardCount)
	require.Equal(t, Default().BufferSize, cfg.BufferSize)
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: from-yaml\nbuffer_size: 250\n"), 0o644))

	cfg, err := Load([]string{"-id", "from-flag", "-config", path})
	require.NoError(t, err)
	require.Equal(t, "from-yaml", cfg.NodeID)
	require.Equal(t, 250, cfg.BufferSize)
}

func TestDurationHelpersConvertMillisecondFields(t *testing.T) {
	cfg := Default()
	require.Equal(t, cfg.CacheTTL().Milliseconds(), int64(cfg.CacheTTLMS))
	require.Equal(t, cfg.PresenceTTL().Milliseconds(), int64(cfg.PresenceTTLMS))
	require.Equal(t, cfg.TombstoneRetention().Milliseconds(), cfg.TombstoneRetentionMS)
}
