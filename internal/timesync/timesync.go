// Package timesync keeps a network-corrected clock offset so attendance
// timestamps survive a skewed or tampered device clock. A sync failure
// never blocks check-in: callers fall back to the cached offset or plain
// client time and get a trust warning instead of an error.
package timesync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	primaryURL  = "https://worldtimeapi.org/api/timezone/Asia/Bangkok"
	fallbackURL = "https://timeapi.io/api/Time/current/zone?timeZone=Asia/Bangkok"

	stateFile      = "time_sync.json"
	syncInterval   = 5 * time.Minute
	maxDrift       = 30 * time.Second
	requestTimeout = 10 * time.Second
)

// syncData is the persisted sync result.
type syncData struct {
	ServerTime int64 `json:"serverTime"` // server epoch ms at sync
	ClientTime int64 `json:"clientTime"` // RTT-adjusted client epoch ms
	Offset     int64 `json:"offset"`     // serverTime - clientTime, ms
	LastSyncAt int64 `json:"lastSyncAt"` // client epoch ms of last sync
	RTT        int64 `json:"rtt"`        // round trip, ms
}

// Service fetches network time and exposes an offset-corrected clock.
type Service struct {
	primaryURL  string
	fallbackURL string
	httpClient  *http.Client
	statePath   string
	log         *zap.Logger

	mu      sync.Mutex
	data    *syncData
	syncing bool
}

// NewService creates the service, persisting its state under dataDir.
func NewService(dataDir string, log *zap.Logger) *Service {
	return &Service{
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		httpClient:  &http.Client{Timeout: requestTimeout},
		statePath:   filepath.Join(dataDir, stateFile),
		log:         log,
	}
}

// NewServiceWithEndpoints creates a service against custom time endpoints (tests).
func NewServiceWithEndpoints(primary, fallback, dataDir string, log *zap.Logger) *Service {
	s := NewService(dataDir, log)
	s.primaryURL = primary
	s.fallbackURL = fallback
	return s
}

// Sync fetches network time and recomputes the offset. Returns false when
// another sync is already running or the fetch failed.
func (s *Service) Sync(ctx context.Context) bool {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return false
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	before := time.Now().UnixMilli()
	serverTime, err := s.fetchServerTime(ctx)
	after := time.Now().UnixMilli()
	if err != nil {
		s.log.Warn("time sync failed, keeping cached offset", zap.Error(err))
		return false
	}

	// Take the midpoint of the round trip as the matching client instant.
	rtt := after - before
	clientTime := before + rtt/2
	data := &syncData{
		ServerTime: serverTime,
		ClientTime: clientTime,
		Offset:     serverTime - clientTime,
		LastSyncAt: after,
		RTT:        rtt,
	}

	s.mu.Lock()
	s.data = data
	s.mu.Unlock()

	if err := s.persist(data); err != nil {
		s.log.Warn("time sync state not persisted", zap.Error(err))
	}
	s.log.Info("time synced",
		zap.Int64("offset_ms", data.Offset),
		zap.Int64("rtt_ms", data.RTT))
	return true
}

// Run re-syncs periodically until ctx is cancelled. Each tick goes through
// SyncIfNeeded, so a still-fresh cached offset costs no network call.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = syncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SyncIfNeeded(ctx)
		}
	}
}

// SyncIfNeeded syncs only when no recent sync exists. The absolute-value
// check also forces a re-sync when the clock moved backwards.
func (s *Service) SyncIfNeeded(ctx context.Context) bool {
	s.load()

	s.mu.Lock()
	data := s.data
	s.mu.Unlock()

	if data != nil {
		since := time.Now().UnixMilli() - data.LastSyncAt
		if since < 0 {
			s.log.Warn("system clock went backwards since last time sync")
		}
		if abs(since) <= syncInterval.Milliseconds() {
			return true
		}
	}
	return s.Sync(ctx)
}

// Now returns the offset-corrected current time, falling back to plain
// client time when no sync has ever succeeded.
func (s *Service) Now() time.Time {
	s.load()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return time.Now()
	}
	return time.Now().Add(time.Duration(s.data.Offset) * time.Millisecond)
}

// Drift returns the absolute device clock drift seen at the last sync.
func (s *Service) Drift() time.Duration {
	s.load()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return 0
	}
	return time.Duration(abs(s.data.Offset)) * time.Millisecond
}

// Trusted reports whether the device clock is within the allowed drift.
// The check-in flow surfaces a warning when this is false.
func (s *Service) Trusted() bool {
	return s.Drift() <= maxDrift
}

func (s *Service) fetchServerTime(ctx context.Context) (int64, error) {
	ms, err := s.fetchPrimary(ctx)
	if err == nil {
		return ms, nil
	}
	s.log.Warn("primary time endpoint failed, trying fallback", zap.Error(err))

	ms, fbErr := s.fetchFallback(ctx)
	if fbErr != nil {
		return 0, fmt.Errorf("both time endpoints failed: %w", fbErr)
	}
	return ms, nil
}

func (s *Service) fetchPrimary(ctx context.Context) (int64, error) {
	var body struct {
		UnixTime int64  `json:"unixtime"`
		DateTime string `json:"datetime"`
	}
	if err := s.getJSON(ctx, s.primaryURL, &body); err != nil {
		return 0, err
	}
	if body.UnixTime > 0 {
		return body.UnixTime * 1000, nil
	}
	if body.DateTime != "" {
		t, err := time.Parse(time.RFC3339, body.DateTime)
		if err != nil {
			return 0, err
		}
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("time response carried no timestamp")
}

func (s *Service) fetchFallback(ctx context.Context) (int64, error) {
	var body struct {
		DateTime string `json:"dateTime"`
	}
	if err := s.getJSON(ctx, s.fallbackURL, &body); err != nil {
		return 0, err
	}
	if len(body.DateTime) < 19 {
		return 0, fmt.Errorf("fallback time response carried no usable timestamp")
	}
	// timeapi.io omits the zone designator; the zone was requested
	// explicitly, so the instant itself is what matters.
	t, err := time.Parse("2006-01-02T15:04:05", body.DateTime[:19])
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func (s *Service) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("time endpoint responded %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// load reads persisted sync state once per process.
func (s *Service) load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil {
		return
	}
	raw, err := os.ReadFile(s.statePath)
	if err != nil {
		return
	}
	var data syncData
	if err := json.Unmarshal(raw, &data); err != nil {
		s.log.Warn("corrupt time sync state ignored", zap.Error(err))
		return
	}
	s.data = &data
}

func (s *Service) persist(data *syncData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
