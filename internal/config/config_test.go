package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "127.0.0.1:8746", cfg.ListenAddr)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Equal(t, 5*time.Minute, cfg.TimeSyncInterval)
	assert.Equal(t, 8, cfg.QueueSize)
	assert.Equal(t, 1, cfg.Workers)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://hr.example.com")
	t.Setenv("API_TOKEN", "tok-1")
	t.Setenv("EMPLOYEE_CODE", "NV0042")
	t.Setenv("DATA_DIR", "/var/lib/attendance")
	t.Setenv("SYNC_INTERVAL", "30s")
	t.Setenv("CAPTURE_WORKERS", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://hr.example.com", cfg.APIBaseURL)
	assert.Equal(t, "tok-1", cfg.APIToken)
	assert.Equal(t, "NV0042", cfg.EmployeeCode)
	assert.Equal(t, "/var/lib/attendance", cfg.DataDir)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "soon")
	t.Setenv("CAPTURE_QUEUE_SIZE", "many")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Equal(t, 8, cfg.QueueSize)
}
