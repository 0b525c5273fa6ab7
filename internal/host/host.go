// Package host exposes the pipeline to the device UI over a loopback HTTP
// API: capture intake, status polling and a manual sync trigger.
package host

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/k25dtcn010/erp-tauri-sub000/internal/capture"
	apperrors "github.com/k25dtcn010/erp-tauri-sub000/internal/errors"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/models"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/state"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/syncer"
)

// maxPhotoSize bounds the multipart capture body.
const maxPhotoSize = 20 << 20

// Clock is the part of the time-sync service the status endpoint reads.
type Clock interface {
	Trusted() bool
}

// Handler serves the loopback API.
type Handler struct {
	capture      *capture.Service
	engine       *syncer.Engine
	state        *state.Store
	clock        Clock
	employeeCode string
	log          *zap.Logger
}

// New creates a handler. clock may be nil; the status endpoint then
// reports the device clock as trusted.
func New(svc *capture.Service, engine *syncer.Engine, st *state.Store, clock Clock, employeeCode string, log *zap.Logger) *Handler {
	return &Handler{
		capture:      svc,
		engine:       engine,
		state:        st,
		clock:        clock,
		employeeCode: employeeCode,
		log:          log,
	}
}

// Mux returns the route table.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/capture", h.handleCapture)
	mux.HandleFunc("GET /api/v1/status", h.handleStatus)
	mux.HandleFunc("POST /api/v1/sync", h.handleSync)
	return mux
}

// handleCapture accepts one check-in/check-out capture: a multipart form
// with an optional "photo" file and type/latitude/longitude fields. The
// response carries the record id as soon as the record is durable; the
// photo continues in the background worker.
func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	typ := models.EventType(r.FormValue("type"))
	if !typ.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	in := capture.Input{
		Type:         typ,
		EmployeeCode: h.employeeCode,
		EventID:      r.FormValue("eventId"),
	}

	if loc := parseLocation(r.FormValue("latitude"), r.FormValue("longitude")); loc != nil {
		in.Location = loc
	}

	if file, _, err := r.FormFile("photo"); err == nil {
		frame, readErr := io.ReadAll(io.LimitReader(file, maxPhotoSize))
		file.Close()
		if readErr != nil {
			h.writeError(w, http.StatusBadRequest, "unreadable photo")
			return
		}
		in.Frames = [][]byte{frame}
	}

	id, err := h.capture.Capture(r.Context(), in)
	if err != nil {
		h.log.Error("capture failed", zap.Error(err))
		if apperrors.Is(err, apperrors.ErrQueueFull) {
			h.writeError(w, http.StatusTooManyRequests, "capture queue is full")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "capture failed")
		return
	}

	// Optimistic status transition; the refresh loop reconciles later.
	switch typ {
	case models.EventCheckIn, models.EventResume:
		h.state.PerformCheckIn()
	case models.EventCheckOut, models.EventPause:
		h.state.PerformCheckOut()
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Snapshot()
	pending, err := h.engine.PendingCount()
	if err != nil {
		h.log.Warn("pending count failed", zap.Error(err))
	}
	trusted := true
	if h.clock != nil {
		trusted = h.clock.Trusted()
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       snap.Status,
		"checkInTime":  snap.CheckInTime,
		"checkOutTime": snap.CheckOutTime,
		"sessions":     len(snap.TodaySessions),
		"pending":      pending,
		"syncing":      h.engine.Syncing(),
		"online":       h.engine.Online(),
		"clockTrusted": trusted,
	})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.SyncAll(r.Context())
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, map[string]int{"synced": n})
	case errors.Is(err, apperrors.ErrSyncInFlight):
		h.writeError(w, http.StatusConflict, "sync already in progress")
	case errors.Is(err, apperrors.ErrOffline):
		h.writeError(w, http.StatusServiceUnavailable, "no network connection")
	default:
		h.log.Error("manual sync failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "sync failed")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("response encode failed", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func parseLocation(latStr, lonStr string) *models.Location {
	if latStr == "" || lonStr == "" {
		return nil
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil
	}
	return &models.Location{Latitude: lat, Longitude: lon}
}
