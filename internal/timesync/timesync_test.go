package timesync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func timeServer(t *testing.T, offset time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"unixtime":%d}`, time.Now().Add(offset).Unix())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func deadServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSync_PrimaryEndpoint(t *testing.T) {
	srv := timeServer(t, 0)
	svc := NewServiceWithEndpoints(srv.URL, "http://127.0.0.1:0", t.TempDir(), zap.NewNop())

	require.True(t, svc.Sync(context.Background()))
	assert.True(t, svc.Trusted())
	// unixtime has second granularity, so up to ~1s of apparent drift is noise
	assert.Less(t, svc.Drift(), 2*time.Second)
	assert.WithinDuration(t, time.Now(), svc.Now(), 2*time.Second)
}

func TestSync_DetectsSkewedClock(t *testing.T) {
	srv := timeServer(t, 90*time.Second)
	svc := NewServiceWithEndpoints(srv.URL, "http://127.0.0.1:0", t.TempDir(), zap.NewNop())

	require.True(t, svc.Sync(context.Background()))
	assert.False(t, svc.Trusted())
	assert.Greater(t, svc.Drift(), 30*time.Second)

	// Now() corrects toward the server's clock
	corrected := svc.Now()
	assert.WithinDuration(t, time.Now().Add(90*time.Second), corrected, 2*time.Second)
}

func TestSync_FallsBackWhenPrimaryDown(t *testing.T) {
	dead := deadServer(t)
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"dateTime":%q}`, time.Now().UTC().Format("2006-01-02T15:04:05.9999999"))
	}))
	t.Cleanup(fallback.Close)

	svc := NewServiceWithEndpoints(dead.URL, fallback.URL, t.TempDir(), zap.NewNop())
	assert.True(t, svc.Sync(context.Background()))
}

func TestSync_BothEndpointsDown(t *testing.T) {
	dead := deadServer(t)
	svc := NewServiceWithEndpoints(dead.URL, dead.URL, t.TempDir(), zap.NewNop())

	assert.False(t, svc.Sync(context.Background()))
	// never blocks the caller: plain client time comes back
	assert.WithinDuration(t, time.Now(), svc.Now(), time.Second)
	assert.True(t, svc.Trusted())
}

func TestSync_StatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	srv := timeServer(t, 45*time.Second)

	svc := NewServiceWithEndpoints(srv.URL, "http://127.0.0.1:0", dir, zap.NewNop())
	require.True(t, svc.Sync(context.Background()))

	_, err := os.Stat(filepath.Join(dir, "time_sync.json"))
	require.NoError(t, err)

	// a fresh process reads the cached offset without any network call
	dead := deadServer(t)
	reopened := NewServiceWithEndpoints(dead.URL, dead.URL, dir, zap.NewNop())
	assert.Greater(t, reopened.Drift(), 30*time.Second)
	assert.False(t, reopened.Trusted())
}

func TestSyncIfNeeded_SkipsRecentSync(t *testing.T) {
	dir := t.TempDir()
	srv := timeServer(t, 0)

	svc := NewServiceWithEndpoints(srv.URL, "http://127.0.0.1:0", dir, zap.NewNop())
	require.True(t, svc.Sync(context.Background()))

	// both endpoints dead, but the cached sync is fresh enough
	dead := deadServer(t)
	cached := NewServiceWithEndpoints(dead.URL, dead.URL, dir, zap.NewNop())
	assert.True(t, cached.SyncIfNeeded(context.Background()))
}

func TestRun_ResyncsPeriodically(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprintf(w, `{"unixtime":%d}`, time.Now().Unix())
	}))
	t.Cleanup(srv.Close)

	svc := NewServiceWithEndpoints(srv.URL, "http://127.0.0.1:0", t.TempDir(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx, 20*time.Millisecond)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	assert.Positive(t, hits.Load(), "the loop should have synced at least once")
}

func TestLoad_IgnoresCorruptState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "time_sync.json"), []byte("{not json"), 0o600))

	dead := deadServer(t)
	svc := NewServiceWithEndpoints(dead.URL, dead.URL, dir, zap.NewNop())
	assert.WithinDuration(t, time.Now(), svc.Now(), time.Second)
}
