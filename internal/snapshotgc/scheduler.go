package snapshotgc

import (
	"log/slog"
	"time"

	"hyperdoc/internal/hub"
)

// Scheduler drives both halves of this package on its own ticker:
// tombstone GC against the retention window, then a fresh
// full-repository snapshot of whatever survived.
type Scheduler struct {
	h         *hub.Hub
	mgr       *Manager
	interval  time.Duration
	retention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}

	log *slog.Logger
}

// NewScheduler returns a Scheduler GCing tombstones older than
// retention and writing a snapshot every interval (config's
// `tombstone_retention_ms` and a server-chosen snapshot cadence).
func NewScheduler(h *hub.Hub, mgr *Manager, interval, retention time.Duration) *Scheduler {
	return &Scheduler{
		h: h, mgr: mgr, interval: interval, retention: retention,
		log: slog.Default().With("component", "snapshotgc"),
	}
}

// Start launches the periodic sweep. Safe to call once.
func (s *Scheduler) Start() {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// RunOnce performs one GC-then-snapshot pass synchronously; Start
// calls this on every tick, but it's exported so a caller can force an
// out-of-band pass (e.g. right before a graceful shutdown).
func (s *Scheduler) RunOnce() {
	removed := s.h.GCTombstones(s.retention)
	if removed > 0 {
		s.log.Info("purged tombstones", "count", removed)
	}
	if err := s.mgr.Save(s.h.ExportSnapshots()); err != nil {
		s.log.Warn("snapshot save failed", "error", err)
	}
}

// Stop halts the sweep and waits for the in-flight tick, if any, to
// finish.
func (s *Scheduler) Stop() {
	if s.stopCh != nil {
		close(s.stopCh)
		<-s.doneCh
	}
}
