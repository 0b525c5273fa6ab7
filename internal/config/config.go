// Package config loads pipeline configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the pipeline needs to talk to the HR backend
// and to lay out its local durable state.
type Config struct {
	// HR backend API
	APIBaseURL string // e.g. https://hr.example.com
	APIToken   string // bearer token
	CompanyID  string // x-company-id header
	UserID     string // X-User-ID header
	EmployeeID string // X-Employee-ID header

	// Employee code rendered into the photo watermark.
	EmployeeCode string

	// Local state
	DataDir string // sqlite db, fallback record file, time-sync state

	// Loopback API for the device UI
	ListenAddr string

	// Background loops
	SyncInterval     time.Duration // periodic drain of pending records
	TimeSyncInterval time.Duration // network time re-sync interval

	// Capture worker
	QueueSize int
	Workers   int
}

// Load reads .env (if present) and the environment, applying defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg := &Config{
		APIBaseURL:       getEnv("API_BASE_URL", ""),
		APIToken:         os.Getenv("API_TOKEN"),
		CompanyID:        os.Getenv("COMPANY_ID"),
		UserID:           os.Getenv("USER_ID"),
		EmployeeID:       os.Getenv("EMPLOYEE_ID"),
		EmployeeCode:     os.Getenv("EMPLOYEE_CODE"),
		DataDir:          getEnv("DATA_DIR", "./data"),
		ListenAddr:       getEnv("LISTEN_ADDR", "127.0.0.1:8746"),
		SyncInterval:     getDuration("SYNC_INTERVAL", time.Minute),
		TimeSyncInterval: getDuration("TIME_SYNC_INTERVAL", 5*time.Minute),
		QueueSize:        getInt("CAPTURE_QUEUE_SIZE", 8),
		Workers:          getInt("CAPTURE_WORKERS", 1),
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}
