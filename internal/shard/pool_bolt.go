package shard

import (
	"fmt"
	"os"
	"path/filepath"
)

// OpenBoltPool creates or opens shardCount bbolt-backed shard stores
// under dataDir, named shard-<n>.db. This is the entrypoint
// cmd/server uses at startup (spec.md §9 init order: shards first).
func OpenBoltPool(dataDir string, shardCount int) (*Pool, error) {
	if shardCount <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", shardCount)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	stores := make([]Store, shardCount)
	for i := 0; i < shardCount; i++ {
		path := filepath.Join(dataDir, fmt.Sprintf("shard-%d.db", i))
		s, err := OpenBoltStore(path)
		if err != nil {
			// Close whatever we already opened before bubbling the error up.
			for j := 0; j < i; j++ {
				stores[j].Close()
			}
			return nil, err
		}
		stores[i] = s
	}
	return NewPool(stores), nil
}
