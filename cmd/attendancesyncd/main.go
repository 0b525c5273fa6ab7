// Command attendancesyncd hosts the offline attendance pipeline: the
// durable photo/record stores, the capture worker pool, the periodic sync
// drain, the attendance state refresh loop and the loopback API the
// device UI talks to.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/k25dtcn010/erp-tauri-sub000/internal/api"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/capture"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/config"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/db"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/geocode"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/host"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/state"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/syncer"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/syncer/scheduler"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/timesync"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}
	defer database.Close()

	blobs := db.NewBlobStore(database)
	records := db.NewRecordStore(database, cfg.DataDir, logger)

	client := api.NewClient(api.Config{
		BaseURL:    cfg.APIBaseURL,
		Token:      cfg.APIToken,
		CompanyID:  cfg.CompanyID,
		UserID:     cfg.UserID,
		EmployeeID: cfg.EmployeeID,
	})
	online := connectivityProbe(cfg.APIBaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := timesync.NewService(cfg.DataDir, logger)
	if !clock.SyncIfNeeded(ctx) {
		logger.Warn("network time unavailable, timestamps use the device clock")
	}
	if !clock.Trusted() {
		logger.Warn("device clock drift exceeds the allowed threshold",
			zap.Duration("drift", clock.Drift()))
	}
	go clock.Run(ctx, cfg.TimeSyncInterval)

	worker := capture.NewWorker(blobs, records, client, geocode.NewClient(),
		cfg.QueueSize, cfg.Workers, logger)
	worker.Start(ctx)

	engine := syncer.NewEngine(records, blobs, client, online, logger)
	drain := scheduler.New(engine, &scheduler.Config{Interval: cfg.SyncInterval}, logger)
	drain.Start(ctx)

	attendance := state.NewStore()
	go refreshLoop(ctx, attendance, client, online, logger)

	// The device UI posts captures and polls status over loopback; the
	// coordinates and frames come from the UI side, so no providers here.
	svc := capture.NewService(records, worker, nil, nil, logger)
	handler := host.New(svc, engine, attendance, clock, cfg.EmployeeCode, logger)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler.Mux()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("loopback api failed", zap.Error(err))
		}
	}()

	if pending, err := engine.PendingCount(); err == nil && pending > 0 {
		logger.Info("records pending from a previous run", zap.Int("pending", pending))
	}

	logger.Info("attendance pipeline running",
		zap.String("data_dir", cfg.DataDir),
		zap.String("listen", cfg.ListenAddr),
		zap.String("api", cfg.APIBaseURL))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("loopback api shutdown failed", zap.Error(err))
	}
	cancel()
	drain.Stop()
	// Workers drain queued captures before the database closes.
	worker.Stop()
}

// connectivityProbe reports reachability of the backend with a cheap HEAD
// request. No base URL configured means permanently offline.
func connectivityProbe(baseURL string) func() bool {
	client := &http.Client{Timeout: 3 * time.Second}
	return func() bool {
		if baseURL == "" {
			return false
		}
		resp, err := client.Head(baseURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// refreshLoop periodically reconciles server truth into the attendance
// state store; the reducer handles the protection window.
func refreshLoop(ctx context.Context, store *state.Store, client *api.Client, online func() bool, logger *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !online() {
				continue
			}
			today, err := client.Today(ctx)
			if err != nil {
				logger.Warn("today refresh failed", zap.Error(err))
				continue
			}
			snap := store.ApplyToday(*today)
			logger.Debug("attendance state reconciled",
				zap.String("status", string(snap.Status)),
				zap.Int("sessions", len(snap.TodaySessions)))
		}
	}
}
