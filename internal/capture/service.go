package capture

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/k25dtcn010/erp-tauri-sub000/internal/db"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/models"
)

// LocationProvider supplies a best-effort geolocation fix. May fail; the
// capture proceeds without a location.
type LocationProvider interface {
	Current(ctx context.Context) (*models.Location, error)
}

// DeviceInfoProvider supplies an opaque device descriptor, best-effort.
type DeviceInfoProvider interface {
	Info(ctx context.Context) (json.RawMessage, error)
}

// Input describes one check-in/check-out capture.
type Input struct {
	Type         models.EventType
	Frames       [][]byte
	EmployeeCode string

	// Optional overrides; missing values are filled best-effort from the
	// configured providers.
	Location   *models.Location
	DeviceInfo json.RawMessage
	Timestamp  int64 // epoch ms; zero means now

	// EventID is present only when the online async event call already
	// succeeded; the worker then also drives upload+attach.
	EventID string

	// Result, when non-nil, receives the worker's completion signal. The
	// user-visible confirmation never waits on it.
	Result chan Result
}

// Service is the main-thread side of the capture protocol: it creates the
// durable record and hands the frames to the worker pool.
type Service struct {
	records  *db.RecordStore
	worker   *Worker
	location LocationProvider   // optional
	device   DeviceInfoProvider // optional
	log      *zap.Logger
}

// NewService creates a capture service. location and device may be nil.
func NewService(records *db.RecordStore, worker *Worker, location LocationProvider, device DeviceInfoProvider, log *zap.Logger) *Service {
	return &Service{
		records:  records,
		worker:   worker,
		location: location,
		device:   device,
		log:      log,
	}
}

// Capture records the event metadata durably and enqueues the photo job,
// returning the new record id as soon as the record is saved. The photo
// itself lands in the blob store from a worker goroutine.
func (s *Service) Capture(ctx context.Context, in Input) (string, error) {
	recordID := uuid.New().String()

	ts := in.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	loc := in.Location
	if loc == nil && s.location != nil {
		lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		fix, err := s.location.Current(lctx)
		cancel()
		if err != nil {
			s.log.Warn("location unavailable, capturing without it", zap.Error(err))
		} else {
			loc = fix
		}
	}

	device := in.DeviceInfo
	if device == nil && s.device != nil {
		info, err := s.device.Info(ctx)
		if err != nil {
			s.log.Warn("device info unavailable, capturing without it", zap.Error(err))
		} else {
			device = info
		}
	}

	rec := models.AttendanceRecord{
		ID:             recordID,
		Type:           in.Type,
		Timestamp:      ts,
		Synced:         false,
		Location:       loc,
		DeviceInfo:     device,
		EventID:        in.EventID,
		MetadataSynced: in.EventID != "",
	}
	if len(in.Frames) > 0 {
		rec.PhotoID = recordID
	}

	if err := s.records.Append(rec); err != nil {
		return "", err
	}

	if len(in.Frames) == 0 {
		return recordID, nil
	}

	err := s.worker.Enqueue(&Request{
		Frames: in.Frames,
		Metadata: Metadata{
			EmployeeCode: in.EmployeeCode,
			Location:     loc,
			DeviceInfo:   device,
			Timestamp:    ts,
		},
		RecordID: recordID,
		EventID:  in.EventID,
		Result:   in.Result,
	})
	if err != nil {
		// No photo will ever exist for this record; roll the metadata
		// back so PhotoID never dangles.
		if rmErr := s.records.Remove(recordID); rmErr != nil {
			s.log.Error("failed to roll back record after enqueue failure",
				zap.String("record_id", recordID), zap.Error(rmErr))
		}
		return "", err
	}
	return recordID, nil
}
