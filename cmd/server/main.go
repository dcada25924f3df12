// cmd/server is the main entrypoint for a HyperDoc node: a sharded,
// WAL-protected write path feeding a CRDT document hub that serves
// both the REST adapter and the real-time WebSocket sync hub.
//
// Example:
//
//	./server --id node1 --addr :8080 --data-dir /var/hyperdoc/node1
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"hyperdoc/internal/api"
	"hyperdoc/internal/buffer"
	"hyperdoc/internal/cache"
	"hyperdoc/internal/config"
	"hyperdoc/internal/hub"
	"hyperdoc/internal/shard"
	"hyperdoc/internal/snapshotgc"
	"hyperdoc/internal/transport"
	"hyperdoc/internal/walog"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		log.Fatalf("config: %v", err)
	}

	nodeDataDir := filepath.Join(cfg.DataDir, cfg.NodeID)
	if err := os.MkdirAll(nodeDataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	// ── Storage: shards → WAL → buffer ──────────────────────────────────────
	shards, err := shard.OpenBoltPool(nodeDataDir, cfg.ShardCount)
	if err != nil {
		log.Fatalf("open shard pool: %v", err)
	}
	defer shards.Close()

	wal, err := walog.Open(filepath.Join(nodeDataDir, "wal.log"))
	if err != nil {
		log.Fatalf("open WAL: %v", err)
	}

	buf := buffer.New(wal, shards, buffer.Config{
		BufferSize:    cfg.BufferSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval(),
		MaxRetries:    5,
		BackoffCap:    5 * time.Second,
	})
	if err := buf.Recover(); err != nil {
		log.Fatalf("WAL recovery: %v", err)
	}
	buf.Start()

	// ── Read cache ───────────────────────────────────────────────────────────
	c, err := cache.New(buf, shards, cfg.AppliedOpHistory, cfg.CacheTTL())
	if err != nil {
		log.Fatalf("open cache: %v", err)
	}

	// ── Sync log + hub ───────────────────────────────────────────────────────
	synclog, err := hub.OpenSyncLog(filepath.Join(nodeDataDir, "sync.db"))
	if err != nil {
		log.Fatalf("open sync log: %v", err)
	}
	defer synclog.Close()

	h := hub.NewWithPresenceTTL(cfg.NodeID, buf, c, shards, synclog, cfg.PresenceTTL())
	if err := h.Bootstrap(); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	h.StartPresenceSweep(cfg.PresenceTTL())

	// ── Tombstone GC + snapshot export ──────────────────────────────────────
	snapMgr := snapshotgc.NewManager(filepath.Join(nodeDataDir, "snapshot.json"))
	gcScheduler := snapshotgc.NewScheduler(h, snapMgr, 60*time.Second, cfg.TombstoneRetention())
	gcScheduler.Start()

	// ── HTTP + WebSocket ─────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	api.NewHandler(h, cfg.NodeID).Register(router)
	transport.NewServer(h, cfg.NodeID).Register(router)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("node %s listening on %s (data-dir %s, %d shards)", cfg.NodeID, cfg.Addr, nodeDataDir, cfg.ShardCount)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down node", cfg.NodeID)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// srv.Shutdown stops accepting new connections/requests first (no more
	// writes can originate), then the buffer's own Close drains and
	// fsyncs everything still queued, then the periodic timers and
	// finally the shard pool itself come down.
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if err := buf.Close(); err != nil {
		log.Printf("buffer close error: %v", err)
	}
	gcScheduler.Stop()
	h.StopPresenceSweep()

	fmt.Printf("node %s stopped\n", cfg.NodeID)
}
