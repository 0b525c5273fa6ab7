package db

import (
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/k25dtcn010/erp-tauri-sub000/internal/errors"
)

// BlobStore is a durable key->binary store for captured attendance photos,
// keyed by the owning record's id. An entry lives from capture until the
// record is synced or explicitly deleted.
type BlobStore struct {
	db *sql.DB
}

// NewBlobStore creates a blob store on the given database.
func NewBlobStore(db *DB) *BlobStore {
	return &BlobStore{db: db.DB}
}

// Put stores a photo blob under the given id, replacing any previous value.
func (s *BlobStore) Put(id string, data []byte) error {
	const q = `INSERT INTO photos (id, data, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`
	if _, err := s.db.Exec(q, id, data, time.Now().Unix()); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to store photo %s", id), err)
	}
	return nil
}

// Get returns the photo blob for id, or ErrNotFound.
func (s *BlobStore) Get(id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM photos WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to load photo %s", id), err)
	}
	return data, nil
}

// Delete removes the photo blob for id. Deleting a missing blob is not an
// error, so cleanup after sync stays idempotent.
func (s *BlobStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM photos WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("failed to delete photo %s", id), err)
	}
	return nil
}

// Has reports whether a blob exists for id.
func (s *BlobStore) Has(id string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM photos WHERE id = ?`, id).Scan(&n); err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "failed to count photos", err)
	}
	return n > 0, nil
}
