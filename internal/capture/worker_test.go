package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/k25dtcn010/erp-tauri-sub000/internal/api"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/db"
	apperrors "github.com/k25dtcn010/erp-tauri-sub000/internal/errors"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/models"
)

func testFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{200, 200, 200, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testStores(t *testing.T) (*db.BlobStore, *db.RecordStore) {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return db.NewBlobStore(database), db.NewRecordStore(database, dir, zap.NewNop())
}

func awaitResult(t *testing.T, ch chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for capture result")
		return Result{}
	}
}

func TestWorker_PersistsEvidenceOffline(t *testing.T) {
	blobs, records := testStores(t)
	worker := NewWorker(blobs, records, nil, nil, 4, 1, zap.NewNop())
	worker.Start(context.Background())
	defer worker.Stop()

	results := make(chan Result, 1)
	require.NoError(t, worker.Enqueue(&Request{
		Frames:   [][]byte{testFrame(t)},
		Metadata: Metadata{EmployeeCode: "NV0042", Timestamp: time.Now().UnixMilli()},
		RecordID: "rec-1",
		Result:   results,
	}))

	res := awaitResult(t, results)
	require.NoError(t, res.Err)
	assert.Equal(t, "rec-1", res.RecordID)
	assert.False(t, res.Synced, "no event handle means no upload")

	photo, err := blobs.Get("rec-1")
	require.NoError(t, err)
	assert.NotEmpty(t, photo)

	_, format, err := image.Decode(bytes.NewReader(photo))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestWorker_OnlineSuccessRemovesLocalEvidence(t *testing.T) {
	var paths []string
	var attachedPhotoID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/api/v3/files/upload":
			w.Write([]byte(`{"fid":"file-1"}`))
		case "/api/v3/attendance/events/ev-7/photo":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			attachedPhotoID = body["photoId"]
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	blobs, records := testStores(t)
	require.NoError(t, records.Append(models.AttendanceRecord{
		ID:             "rec-1",
		Type:           models.EventCheckIn,
		Timestamp:      time.Now().UnixMilli(),
		PhotoID:        "rec-1",
		EventID:        "ev-7",
		MetadataSynced: true,
	}))

	client := api.NewClient(api.Config{BaseURL: srv.URL})
	worker := NewWorker(blobs, records, client, nil, 4, 1, zap.NewNop())
	worker.Start(context.Background())
	defer worker.Stop()

	results := make(chan Result, 1)
	require.NoError(t, worker.Enqueue(&Request{
		Frames:   [][]byte{testFrame(t)},
		Metadata: Metadata{EmployeeCode: "NV0042"},
		RecordID: "rec-1",
		EventID:  "ev-7",
		Result:   results,
	}))

	res := awaitResult(t, results)
	require.NoError(t, res.Err)
	assert.True(t, res.Synced)

	require.Len(t, paths, 2)
	assert.Equal(t, "/api/v3/files/upload", paths[0])
	// the event handle, not the uploaded file id, identifies the photo
	assert.Equal(t, "ev-7", attachedPhotoID)

	// server confirmed everything; nothing may remain for the sync drain
	_, err := blobs.Get("rec-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = records.Get("rec-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWorker_UploadFailureIsNonFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	blobs, records := testStores(t)
	require.NoError(t, records.Append(models.AttendanceRecord{
		ID: "rec-1", Type: models.EventCheckIn, PhotoID: "rec-1",
		EventID: "ev-7", MetadataSynced: true,
	}))

	client := api.NewClient(api.Config{BaseURL: srv.URL})
	worker := NewWorker(blobs, records, client, nil, 4, 1, zap.NewNop())
	worker.Start(context.Background())
	defer worker.Stop()

	results := make(chan Result, 1)
	require.NoError(t, worker.Enqueue(&Request{
		Frames:   [][]byte{testFrame(t)},
		RecordID: "rec-1",
		EventID:  "ev-7",
		Result:   results,
	}))

	res := awaitResult(t, results)
	require.NoError(t, res.Err, "a failed upload must not fail the job")
	assert.False(t, res.Synced)

	// local evidence survives a failed delivery for the sync drain
	_, err := blobs.Get("rec-1")
	require.NoError(t, err)
	rec, err := records.Get("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-7", rec.EventID)
}

func TestWorker_ResultSendNeverBlocks(t *testing.T) {
	blobs, records := testStores(t)
	worker := NewWorker(blobs, records, nil, nil, 4, 1, zap.NewNop())
	worker.Start(context.Background())

	// An unbuffered channel nobody reads must not wedge the worker.
	abandoned := make(chan Result)
	require.NoError(t, worker.Enqueue(&Request{
		Frames:   [][]byte{testFrame(t)},
		RecordID: "rec-1",
		Result:   abandoned,
	}))

	results := make(chan Result, 1)
	require.NoError(t, worker.Enqueue(&Request{
		Frames:   [][]byte{testFrame(t)},
		RecordID: "rec-2",
		Result:   results,
	}))

	res := awaitResult(t, results)
	require.NoError(t, res.Err)
	assert.Equal(t, "rec-2", res.RecordID)

	// Stop would hang if a worker goroutine were stuck on the send.
	worker.Stop()
}

func TestWorker_EnqueueWhenStopped(t *testing.T) {
	blobs, records := testStores(t)
	worker := NewWorker(blobs, records, nil, nil, 4, 1, zap.NewNop())

	err := worker.Enqueue(&Request{Frames: [][]byte{testFrame(t)}, RecordID: "rec-1"})
	assert.Error(t, err)
}

func TestService_CaptureCreatesPendingRecord(t *testing.T) {
	blobs, records := testStores(t)
	worker := NewWorker(blobs, records, nil, nil, 4, 1, zap.NewNop())
	worker.Start(context.Background())
	defer worker.Stop()

	svc := NewService(records, worker, nil, nil, zap.NewNop())

	results := make(chan Result, 1)
	loc := &models.Location{Latitude: 21.028511, Longitude: 105.804817}
	id, err := svc.Capture(context.Background(), Input{
		Type:         models.EventCheckIn,
		Frames:       [][]byte{testFrame(t)},
		EmployeeCode: "NV0042",
		Location:     loc,
		Result:       results,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := records.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.EventCheckIn, rec.Type)
	assert.False(t, rec.Synced)
	assert.False(t, rec.MetadataSynced)
	assert.Empty(t, rec.EventID)
	assert.Equal(t, id, rec.PhotoID)
	require.NotNil(t, rec.Location)
	assert.Equal(t, 21.028511, rec.Location.Latitude)

	res := awaitResult(t, results)
	require.NoError(t, res.Err)

	_, err = blobs.Get(id)
	require.NoError(t, err)
}

func TestService_ConsecutiveCapturesGetDistinctIDs(t *testing.T) {
	blobs, records := testStores(t)
	worker := NewWorker(blobs, records, nil, nil, 4, 1, zap.NewNop())
	worker.Start(context.Background())
	defer worker.Stop()

	svc := NewService(records, worker, nil, nil, zap.NewNop())

	r1 := make(chan Result, 1)
	r2 := make(chan Result, 1)
	id1, err := svc.Capture(context.Background(), Input{
		Type: models.EventCheckIn, Frames: [][]byte{testFrame(t)}, Result: r1,
	})
	require.NoError(t, err)
	id2, err := svc.Capture(context.Background(), Input{
		Type: models.EventCheckIn, Frames: [][]byte{testFrame(t)}, Result: r2,
	})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2, "consecutive captures must never collide")
	awaitResult(t, r1)
	awaitResult(t, r2)

	b1, err := blobs.Get(id1)
	require.NoError(t, err)
	b2, err := blobs.Get(id2)
	require.NoError(t, err)
	assert.NotEmpty(t, b1)
	assert.NotEmpty(t, b2)
}

func TestService_MetadataOnlyCapture(t *testing.T) {
	_, records := testStores(t)
	svc := NewService(records, nil, nil, nil, zap.NewNop())

	id, err := svc.Capture(context.Background(), Input{
		Type:    models.EventCheckOut,
		EventID: "ev-1",
	})
	require.NoError(t, err)

	rec, err := records.Get(id)
	require.NoError(t, err)
	assert.True(t, rec.MetadataSynced)
	assert.Equal(t, "ev-1", rec.EventID)
	assert.Empty(t, rec.PhotoID)
}
