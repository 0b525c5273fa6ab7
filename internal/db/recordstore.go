package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/k25dtcn010/erp-tauri-sub000/internal/errors"
	"github.com/k25dtcn010/erp-tauri-sub000/internal/models"
)

// fallbackFile is the secondary store used when the primary SQLite write
// fails. Losing a capture write would break the durability contract, so a
// plain JSON file takes the record instead.
const fallbackFile = "records.fallback.json"

// RecordStore is the durable store of attendance records, one list per
// device. The external contract is whole-list List/Save; all mutations are
// serialized behind a single writer mutex so concurrent callers (a sync
// pass finishing while a new checkout records) cannot interleave
// read-modify-write cycles.
type RecordStore struct {
	mu           sync.Mutex
	db           *sql.DB
	fallbackPath string
	log          *zap.Logger
}

// NewRecordStore creates a record store on the given database, with its
// fallback file placed in dataDir.
func NewRecordStore(db *DB, dataDir string, log *zap.Logger) *RecordStore {
	return &RecordStore{
		db:           db.DB,
		fallbackPath: filepath.Join(dataDir, fallbackFile),
		log:          log,
	}
}

// List returns all records, oldest first. Records parked in the fallback
// file while the primary store was unavailable are merged in by id.
func (s *RecordStore) List() ([]models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Save overwrites the whole record list.
func (s *RecordStore) Save(records []models.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(records)
}

// Append adds one record to the list.
func (s *RecordStore) Append(rec models.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.listLocked()
	if err != nil {
		return err
	}
	return s.saveLocked(append(records, rec))
}

// Remove deletes the record with the given id. Removing a missing id is a
// no-op so post-sync cleanup stays idempotent.
func (s *RecordStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.listLocked()
	if err != nil {
		return err
	}
	remaining := records[:0]
	for _, r := range records {
		if r.ID != id {
			remaining = append(remaining, r)
		}
	}
	return s.saveLocked(remaining)
}

// Get returns the record with the given id, or ErrNotFound.
func (s *RecordStore) Get(id string) (*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// PendingCount returns the number of unsynced records. Cheap enough for
// the UI to poll every few seconds; triggers no sync work.
func (s *RecordStore) PendingCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.listLocked()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range records {
		if !r.Synced {
			n++
		}
	}
	return n, nil
}

func (s *RecordStore) listLocked() ([]models.AttendanceRecord, error) {
	primary, primaryErr := s.listPrimary()
	fallback, fallbackErr := s.listFallback()

	if primaryErr != nil {
		if fallbackErr != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "both record stores unreadable", primaryErr)
		}
		s.log.Warn("record store: primary read failed, serving fallback", zap.Error(primaryErr))
		return fallback, nil
	}

	if len(fallback) == 0 {
		return primary, nil
	}

	// Records written while the primary was down live only in the
	// fallback file; merge them in behind the primary list.
	seen := make(map[string]struct{}, len(primary))
	for _, r := range primary {
		seen[r.ID] = struct{}{}
	}
	for _, r := range fallback {
		if _, ok := seen[r.ID]; !ok {
			primary = append(primary, r)
		}
	}
	return primary, nil
}

func (s *RecordStore) listPrimary() ([]models.AttendanceRecord, error) {
	rows, err := s.db.Query(`SELECT data FROM records ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec models.AttendanceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("corrupt record row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *RecordStore) listFallback() ([]models.AttendanceRecord, error) {
	data, err := os.ReadFile(s.fallbackPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []models.AttendanceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("corrupt fallback file: %w", err)
	}
	return records, nil
}

func (s *RecordStore) saveLocked(records []models.AttendanceRecord) error {
	if err := s.savePrimary(records); err != nil {
		s.log.Error("record store: primary write failed, using fallback file",
			zap.Error(err), zap.Int("records", len(records)))
		if fbErr := s.saveFallback(records); fbErr != nil {
			// Both stores rejected the write. The capture evidence now
			// exists nowhere durable, which violates the pipeline's core
			// contract.
			s.log.Error("record store: fallback write also failed, write lost", zap.Error(fbErr))
			return apperrors.Wrap(apperrors.ErrDurabilityLost, "record write lost", err)
		}
		return nil
	}

	// A clean primary write makes the fallback file obsolete; its records
	// were merged into the list we just wrote.
	if err := os.Remove(s.fallbackPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("record store: could not remove fallback file", zap.Error(err))
	}
	return nil
}

func (s *RecordStore) savePrimary(records []models.AttendanceRecord) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM records`); err != nil {
		return err
	}
	now := time.Now().Unix()
	for i, rec := range records {
		raw, mErr := json.Marshal(rec)
		if mErr != nil {
			err = mErr
			return err
		}
		// created_at preserves list order across the whole-list rewrite
		if _, err = tx.Exec(`INSERT INTO records (id, data, created_at) VALUES (?, ?, ?)`,
			rec.ID, string(raw), now+int64(i)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *RecordStore) saveFallback(records []models.AttendanceRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	tmp := s.fallbackPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.fallbackPath)
}
