// Package state holds the in-memory projection of "is the employee
// currently clocked in". Local actions update it optimistically; periodic
// server refreshes reconcile it, except during a short protection window
// right after a local action, when a contradicting (still stale) server
// view is discarded instead of flapping the UI back.
package state

import (
	"time"

	"github.com/k25dtcn010/erp-tauri-sub000/internal/models"
)

// Status is the employee's current work status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusPaused  Status = "paused"
)

// ProtectionWindow is how long a local optimistic transition outranks a
// contradicting server refresh. The backend's read side can lag the async
// event submission by a few seconds; genuine divergences (say, a second
// device) still win once the window lapses.
const ProtectionWindow = 20 * time.Second

// timeLayout is the display format for check-in/check-out times.
const timeLayout = "15:04"

// State is the full projection. Never persisted: every process start
// re-derives it from the server's today endpoint.
type State struct {
	Status        Status
	CheckInTime   string // local HH:MM, "" when unknown
	CheckOutTime  string
	TodaySessions []models.Session

	// IgnoreAPIMismatchUntil bounds the protection window; zero when no
	// window is open.
	IgnoreAPIMismatchUntil time.Time
}

// Initial returns the boot state.
func Initial() State {
	return State{Status: StatusIdle}
}

// Event is a state transition input.
type Event interface{ isEvent() }

// CheckIn is the user's optimistic check-in action at time At.
type CheckIn struct{ At time.Time }

// CheckOut is the user's optimistic check-out action at time At.
type CheckOut struct{ At time.Time }

// ServerRefresh carries a today payload fetched at time Now.
type ServerRefresh struct {
	Today models.TodayAttendance
	Now   time.Time
}

func (CheckIn) isEvent()       {}
func (CheckOut) isEvent()      {}
func (ServerRefresh) isEvent() {}

// Reduce applies one event to the state and returns the next state. Pure:
// no clock reads, no I/O.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case CheckIn:
		s.Status = StatusWorking
		s.CheckInTime = e.At.Format(timeLayout)
		s.CheckOutTime = ""
		s.IgnoreAPIMismatchUntil = e.At.Add(ProtectionWindow)
		return s

	case CheckOut:
		s.Status = StatusIdle
		s.CheckOutTime = e.At.Format(timeLayout)
		s.IgnoreAPIMismatchUntil = e.At.Add(ProtectionWindow)
		return s

	case ServerRefresh:
		apiStatus, apiCheckIn, apiCheckOut := deriveServerView(e.Today)

		protected := !s.IgnoreAPIMismatchUntil.IsZero() && e.Now.Before(s.IgnoreAPIMismatchUntil)

		// The session list is adopted either way; only the status and
		// time fields are shielded by the window.
		s.TodaySessions = e.Today.Sessions

		if protected && apiStatus != s.Status {
			return s
		}

		s.Status = apiStatus
		s.CheckInTime = apiCheckIn
		s.CheckOutTime = apiCheckOut
		if protected {
			// First confirming refresh closes the window early.
			s.IgnoreAPIMismatchUntil = time.Time{}
		}
		return s
	}
	return s
}

// deriveServerView maps the today payload onto a status and display times:
// an unclosed session means working; otherwise the most recent session (if
// any) supplies the idle-state times.
func deriveServerView(today models.TodayAttendance) (Status, string, string) {
	if today.ActiveSession != nil {
		return StatusWorking, today.ActiveSession.CheckInAt.Local().Format(timeLayout), ""
	}
	if len(today.Sessions) > 0 {
		last := today.Sessions[0]
		checkOut := ""
		if last.CheckOutAt != nil {
			checkOut = last.CheckOutAt.Local().Format(timeLayout)
		}
		return StatusIdle, last.CheckInAt.Local().Format(timeLayout), checkOut
	}
	return StatusIdle, "", ""
}
