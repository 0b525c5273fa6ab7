// Package syncer reconciles pending local attendance records against the
// server: upload the photo, submit the event, delete local evidence on
// success, leave failed records untouched for the next pass.
package syncer

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/k25dtcn010/erp-tauri-sub000/internal/api"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/db"
	apperrors "github.com/k25dtcn010/erp-tauri-sub000/internal/errors"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/models"
)

// Engine drains unsynced records. A single in-flight guard covers both
// SyncOne and SyncAll so two passes can never race a duplicate upload for
// the same record.
type Engine struct {
	records *db.RecordStore
	blobs   *db.BlobStore
	client  *api.Client
	online  func() bool
	log     *zap.Logger

	syncing atomic.Bool
}

// NewEngine creates a sync engine. online reports current connectivity.
func NewEngine(records *db.RecordStore, blobs *db.BlobStore, client *api.Client, online func() bool, log *zap.Logger) *Engine {
	if online == nil {
		online = func() bool { return true }
	}
	return &Engine{
		records: records,
		blobs:   blobs,
		client:  client,
		online:  online,
		log:     log,
	}
}

// Online reports whether the engine currently considers itself connected.
func (e *Engine) Online() bool { return e.online() }

// Syncing reports whether a sync pass is in flight.
func (e *Engine) Syncing() bool { return e.syncing.Load() }

// PendingCount returns the number of unsynced records without triggering
// any sync work.
func (e *Engine) PendingCount() (int, error) {
	return e.records.PendingCount()
}

// SyncOne uploads and submits a single record, then deletes its local
// evidence. On any failure the record and its blob stay untouched so the
// next attempt can retry.
func (e *Engine) SyncOne(ctx context.Context, id string) error {
	if !e.syncing.CompareAndSwap(false, true) {
		return apperrors.Wrap(apperrors.ErrSyncInProgress, "sync pass already running", apperrors.ErrSyncInFlight)
	}
	defer e.syncing.Store(false)

	if !e.online() {
		return apperrors.Wrap(apperrors.ErrOfflineCode, "cannot sync record", apperrors.ErrOffline)
	}

	rec, err := e.records.Get(id)
	if err != nil {
		return err
	}
	if err := e.syncRecord(ctx, rec); err != nil {
		return err
	}
	return e.cleanup(rec)
}

// SyncAll drains every unsynced record and returns how many succeeded.
// Failed records remain verbatim; calling again with nothing new pending
// returns 0 and changes nothing.
func (e *Engine) SyncAll(ctx context.Context) (int, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return 0, apperrors.Wrap(apperrors.ErrSyncInProgress, "sync pass already running", apperrors.ErrSyncInFlight)
	}
	defer e.syncing.Store(false)

	if !e.online() {
		return 0, apperrors.Wrap(apperrors.ErrOfflineCode, "cannot sync records", apperrors.ErrOffline)
	}

	records, err := e.records.List()
	if err != nil {
		return 0, err
	}

	synced := 0
	for i := range records {
		rec := &records[i]
		if rec.Synced {
			continue
		}
		if err := e.syncRecord(ctx, rec); err != nil {
			e.log.Warn("record sync failed, keeping it pending",
				zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}
		if err := e.cleanup(rec); err != nil {
			e.log.Error("post-sync cleanup failed",
				zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}
		synced++
	}

	if synced > 0 {
		e.log.Info("sync pass complete", zap.Int("synced", synced))
	}
	return synced, nil
}

// syncRecord performs the per-record ordered sequence: load blob, upload,
// submit event. Nothing is deleted here. A record whose event the server
// already accepted at capture time is never submitted again; only its
// photo delivery is retried.
func (e *Engine) syncRecord(ctx context.Context, rec *models.AttendanceRecord) error {
	if rec.MetadataSynced {
		return e.deliverPhoto(ctx, rec)
	}

	req := api.EventRequest{
		EventTime: rec.Time().UTC().Format(time.RFC3339),
		// The record id doubles as the idempotency key, so a retried
		// submission after a lost response cannot duplicate the event.
		ClientRequestID: rec.ID,
	}
	if rec.Location != nil {
		req.Latitude = &rec.Location.Latitude
		req.Longitude = &rec.Location.Longitude
	}

	if rec.HasPhoto() {
		blob, err := e.blobs.Get(rec.PhotoID)
		switch {
		case err == nil:
			serverPhotoID, upErr := e.client.UploadFile(ctx, "attendance.jpg", blob)
			if upErr != nil {
				return apperrors.Wrap(apperrors.ErrUploadFailed, "photo upload failed", upErr)
			}
			req.PhotoID = serverPhotoID
		case apperrors.Is(err, apperrors.ErrStorage):
			return err
		default:
			// Blob missing despite PhotoID; submit the event without a
			// photo rather than stranding the record forever.
			e.log.Warn("photo blob missing for record, submitting without it",
				zap.String("record_id", rec.ID))
		}
	}

	if _, err := e.client.SubmitEvent(ctx, rec.Type, req); err != nil {
		return apperrors.Wrap(apperrors.ErrSubmitFailed, "event submission failed", err)
	}
	return nil
}

// deliverPhoto retries upload+attach for a record whose event already
// exists server-side. Submitting the event again would duplicate an
// action the server accepted, so only the photo leg runs here.
func (e *Engine) deliverPhoto(ctx context.Context, rec *models.AttendanceRecord) error {
	if !rec.HasPhoto() || rec.EventID == "" {
		return nil
	}
	blob, err := e.blobs.Get(rec.PhotoID)
	switch {
	case err == nil:
	case apperrors.Is(err, apperrors.ErrStorage):
		return err
	default:
		// Blob already gone; nothing left to deliver.
		return nil
	}

	if _, err := e.client.UploadFile(ctx, "attendance.jpg", blob); err != nil {
		return apperrors.Wrap(apperrors.ErrUploadFailed, "photo upload failed", err)
	}
	if err := e.client.AttachEventPhoto(ctx, rec.EventID, rec.EventID); err != nil {
		return apperrors.Wrap(apperrors.ErrAttachFailed, "photo attach failed", err)
	}
	return nil
}

// cleanup removes local evidence after a confirmed sync: blob first, then
// the record, preserving the per-record ordering guarantee.
func (e *Engine) cleanup(rec *models.AttendanceRecord) error {
	if rec.HasPhoto() {
		if err := e.blobs.Delete(rec.PhotoID); err != nil {
			return err
		}
	}
	return e.records.Remove(rec.ID)
}
