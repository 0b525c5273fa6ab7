// Package models provides data model definitions for the attendance pipeline.
package models

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of attendance event a record captures.
type EventType string

const (
	EventCheckIn  EventType = "check-in"
	EventCheckOut EventType = "check-out"
	EventPause    EventType = "pause"
	EventResume   EventType = "resume"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventCheckIn, EventCheckOut, EventPause, EventResume:
		return true
	}
	return false
}

// Location is a best-effort geolocation fix captured at event time.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AttendanceRecord is one locally persisted attendance event. It stays in
// the record store until the sync engine confirms server acceptance or the
// user deletes it explicitly; a failed sync attempt never removes it.
type AttendanceRecord struct {
	ID        string    `db:"id" json:"id"`
	Type      EventType `db:"type" json:"type"`
	Timestamp int64     `db:"timestamp" json:"timestamp"` // epoch milliseconds, device clock
	Synced    bool      `db:"synced" json:"synced"`

	// Location and DeviceInfo are best-effort capture-time enrichments;
	// either may be absent without aborting the record.
	Location   *Location       `json:"location,omitempty"`
	DeviceInfo json.RawMessage `json:"deviceInfo,omitempty"`

	// PhotoID equals ID while a locally stored photo exists for this
	// record. Empty when no photo is attached.
	PhotoID string `json:"photoId,omitempty"`

	// EventID is the server event handle returned by an online check-in/
	// check-out call. Empty for fully offline records.
	EventID string `json:"eventId,omitempty"`

	// MetadataSynced marks a record whose event was already accepted
	// online at capture time, as opposed to a fully offline one. Such a
	// record must never be submitted as a fresh event again; only its
	// photo may still need uploading.
	MetadataSynced bool `json:"metadataSynced"`
}

// Time returns the record timestamp as time.Time.
func (r *AttendanceRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// HasPhoto reports whether local photo evidence is attached.
func (r *AttendanceRecord) HasPhoto() bool {
	return r.PhotoID != ""
}

// Session is one work session as reported by the server's today endpoint.
type Session struct {
	ID         string     `json:"id,omitempty"`
	CheckInAt  time.Time  `json:"checkInAt"`
	CheckOutAt *time.Time `json:"checkOutAt,omitempty"`
}

// TodayAttendance is the read-side payload used to derive the server view
// of the employee's current work status. Sessions are most-recent-first.
type TodayAttendance struct {
	ActiveSession *Session  `json:"activeSession,omitempty"`
	Sessions      []Session `json:"sessions"`
}
