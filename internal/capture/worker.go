// Package capture implements the background capture pipeline: a bounded
// queue of capture jobs consumed by worker goroutines that watermark the
// photo, persist it durably and opportunistically upload it. The thread
// driving user interaction only enqueues; it never waits for a worker.
package capture

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/k25dtcn010/erp-tauri-sub000/internal/api"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/db"
	apperrors "github.com/k25dtcn010/erp-tauri-sub000/internal/errors"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/geocode"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/models"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/watermark"
)

// Metadata is the capture-time context rendered into the watermark and
// persisted with the record.
type Metadata struct {
	EmployeeCode string
	Location     *models.Location
	DeviceInfo   json.RawMessage
	Timestamp    int64 // epoch milliseconds
}

// Request is one capture job handed to the worker pool.
type Request struct {
	Frames   [][]byte // raw captured frames; only the first is processed
	Metadata Metadata
	RecordID string
	// EventID is set only when an online check-in/check-out call already
	// succeeded and returned a server-side event handle.
	EventID string

	// Result receives one completion signal when non-nil. The send is
	// non-blocking, so the channel must be buffered for the signal to be
	// guaranteed. Callers that do not care may leave it nil.
	Result chan Result
}

// Result is the completion signal for one capture job.
type Result struct {
	RecordID string
	Synced   bool // photo uploaded and attached to the server event
	Err      error
}

// Stats holds capture worker counters.
type Stats struct {
	TotalProcessed int
	SuccessCount   int
	FailureCount   int
}

// Worker owns the capture job queue and its consumer goroutines. It is an
// explicitly constructed host object with init/teardown, not ambient state.
type Worker struct {
	jobs     chan *Request
	blobs    *db.BlobStore
	records  *db.RecordStore
	client   *api.Client // nil when no connection config is available
	geocoder *geocode.Client
	workers  int
	log      *zap.Logger

	wg        sync.WaitGroup
	stopCh    chan struct{}
	mu        sync.Mutex
	isRunning bool
	stats     Stats
}

// NewWorker creates a capture worker pool. client and geocoder may be nil;
// the durability path (watermark + local persist) works without either.
func NewWorker(blobs *db.BlobStore, records *db.RecordStore, client *api.Client, geocoder *geocode.Client, queueSize, workers int, log *zap.Logger) *Worker {
	if queueSize <= 0 {
		queueSize = 8
	}
	if workers <= 0 {
		workers = 1
	}
	return &Worker{
		jobs:     make(chan *Request, queueSize),
		blobs:    blobs,
		records:  records,
		client:   client,
		geocoder: geocoder,
		workers:  workers,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.mu.Unlock()

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
	w.log.Info("capture worker started", zap.Int("workers", w.workers), zap.Int("queue_size", cap(w.jobs)))
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.log.Info("capture worker stopped",
		zap.Int("processed", w.stats.TotalProcessed),
		zap.Int("success", w.stats.SuccessCount),
		zap.Int("failure", w.stats.FailureCount))
}

// Enqueue adds a job without blocking. A full queue is an error rather
// than a stall: the caller is on the interactive path.
func (w *Worker) Enqueue(req *Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return apperrors.New(apperrors.ErrCaptureFailed, "capture worker is not running")
	}
	select {
	case w.jobs <- req:
		return nil
	default:
		return apperrors.New(apperrors.ErrQueueFull, "capture queue is full")
	}
}

// Snapshot returns a copy of the worker counters.
func (w *Worker) Snapshot() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) run(ctx context.Context, id int) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			// Drain whatever is already queued before exiting so an
			// accepted capture is never dropped on shutdown.
			for {
				select {
				case job := <-w.jobs:
					w.process(context.Background(), job, id)
				default:
					return
				}
			}
		case job := <-w.jobs:
			w.process(ctx, job, id)
		}
	}
}

// process runs one job: watermark, persist locally (unconditionally),
// then best-effort upload+attach when an event handle is present.
func (w *Worker) process(ctx context.Context, job *Request, workerID int) {
	start := time.Now()
	synced, err := w.processJob(ctx, job)

	w.mu.Lock()
	w.stats.TotalProcessed++
	if err != nil {
		w.stats.FailureCount++
	} else {
		w.stats.SuccessCount++
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Error("capture job failed",
			zap.Int("worker_id", workerID),
			zap.String("record_id", job.RecordID),
			zap.Error(err))
	} else {
		w.log.Info("capture job done",
			zap.Int("worker_id", workerID),
			zap.String("record_id", job.RecordID),
			zap.Bool("synced", synced),
			zap.Duration("took", time.Since(start)))
	}

	if job.Result != nil {
		// Non-blocking: a caller that stopped listening must not wedge
		// the worker goroutine. Callers that want the signal pass a
		// buffered channel.
		select {
		case job.Result <- Result{RecordID: job.RecordID, Synced: synced, Err: err}:
		default:
			w.log.Warn("capture result dropped, receiver not ready",
				zap.String("record_id", job.RecordID))
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *Request) (bool, error) {
	if len(job.Frames) == 0 {
		return false, apperrors.New(apperrors.ErrInvalid, "capture job carries no frames")
	}

	opts := watermark.Options{
		EmployeeCode: job.Metadata.EmployeeCode,
	}
	if job.Metadata.Timestamp > 0 {
		opts.Timestamp = time.UnixMilli(job.Metadata.Timestamp)
	}
	if loc := job.Metadata.Location; loc != nil {
		opts.Latitude = &loc.Latitude
		opts.Longitude = &loc.Longitude
		opts.Address = w.resolveAddress(ctx, loc)
	}

	photo, err := watermark.Apply(job.Frames[0], opts)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrWatermarkFailed, "watermark failed", err)
	}

	// Local persistence is unconditional; it is the durability guarantee
	// regardless of network state.
	if err := w.blobs.Put(job.RecordID, photo); err != nil {
		return false, err
	}

	if job.EventID == "" || w.client == nil || w.client.BaseURL() == "" {
		return false, nil
	}

	// Upload and attach are opportunistic: the evidence already sits in
	// the blob store, so any failure here is logged and swallowed. The
	// record stays pending with its event handle, and the sync drain
	// finishes the photo delivery without submitting a second event.
	if _, err := w.client.UploadFile(ctx, "attendance.jpg", photo); err != nil {
		w.log.Warn("photo upload failed, evidence kept locally",
			zap.String("record_id", job.RecordID), zap.Error(err))
		return false, nil
	}
	// The event handle itself is the photo identifier the attach endpoint
	// expects, not the id minted by the upload call.
	if err := w.client.AttachEventPhoto(ctx, job.EventID, job.EventID); err != nil {
		w.log.Warn("photo attach failed, evidence kept locally",
			zap.String("record_id", job.RecordID),
			zap.String("event_id", job.EventID),
			zap.Error(err))
		return false, nil
	}

	// Server confirmed both the event and the photo; keeping the local
	// evidence would feed this record into the sync drain as if it were
	// still pending.
	if err := w.blobs.Delete(job.RecordID); err != nil {
		w.log.Warn("synced photo blob not removed",
			zap.String("record_id", job.RecordID), zap.Error(err))
	}
	if w.records != nil {
		if err := w.records.Remove(job.RecordID); err != nil {
			w.log.Warn("synced record not removed",
				zap.String("record_id", job.RecordID), zap.Error(err))
		}
	}
	return true, nil
}

// resolveAddress is a soft enrichment: a timeout or lookup failure falls
// back to empty, which renders as raw coordinates.
func (w *Worker) resolveAddress(ctx context.Context, loc *models.Location) string {
	if w.geocoder == nil {
		return ""
	}
	gctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	addr, err := w.geocoder.Reverse(gctx, loc.Latitude, loc.Longitude)
	if err != nil {
		w.log.Debug("reverse geocode failed, falling back to coordinates", zap.Error(err))
		return ""
	}
	return addr
}
