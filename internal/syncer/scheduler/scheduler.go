// Package scheduler drains pending attendance records in the background:
// records left behind by an offline capture, an app restart or a failed
// request are retried periodically once connectivity returns.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/k25dtcn010/erp-tauri-sub000/internal/errors"
)

// SyncEngine is the part of the sync engine the scheduler drives.
type SyncEngine interface {
	SyncAll(ctx context.Context) (int, error)
	PendingCount() (int, error)
	Online() bool
}

// Config holds scheduler configuration.
type Config struct {
	Interval time.Duration // how often to attempt a drain (default: 1 minute)
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{Interval: time.Minute}
}

// Scheduler runs the periodic drain loop.
type Scheduler struct {
	engine   SyncEngine
	interval time.Duration
	log      *zap.Logger

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// New creates a scheduler.
func New(engine SyncEngine, cfg *Config, log *zap.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		engine:   engine,
		interval: cfg.Interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the drain loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Info("sync scheduler started", zap.Duration("interval", s.interval))
}

// Stop stops the drain loop gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	if !s.engine.Online() {
		return
	}
	pending, err := s.engine.PendingCount()
	if err != nil {
		s.log.Warn("pending count failed", zap.Error(err))
		return
	}
	if pending == 0 {
		return
	}

	n, err := s.engine.SyncAll(ctx)
	switch {
	case err == nil:
		s.log.Info("background drain finished", zap.Int("synced", n), zap.Int("pending_before", pending))
	case errors.Is(err, apperrors.ErrSyncInFlight):
		// A manual sync beat us to it; the next tick will catch leftovers.
	default:
		s.log.Warn("background drain failed", zap.Error(err))
	}
}
