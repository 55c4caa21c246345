package parking

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by the session lifecycle.
var (
	ErrVehicleAlreadyParked = errors.New("parking: vehicle already has an active session")
	ErrVehicleExempt        = errors.New("parking: vehicle is exempt in this zone")
	ErrInsufficientBalance  = errors.New("parking: insufficient balance")
	ErrInvalidDuration      = errors.New("parking: duration must be a positive whole number of hours")
	ErrNoActiveSession      = errors.New("parking: no active session for vehicle")
	ErrNotFound             = errors.New("parking: session not found")
)

// Session is one stay of a vehicle in a zone. At most one active session may
// exist per vehicle at any time; the database enforces this with a partial
// unique index on (vehicle_id) WHERE active.
type Session struct {
	ID           int64
	VehicleID    int64
	ZoneID       int64
	RegisteredBy int64
	StartedAt    time.Time
	EndedAt      *time.Time
	Cost         float64
	Active       bool
	Prepaid      bool
	CreatedAt    time.Time
}

// ElapsedHours returns the fractional hours between start and the given
// instant.
func (s *Session) ElapsedHours(at time.Time) float64 {
	return at.Sub(s.StartedAt).Hours()
}

// FinalizeResult reports the outcome of a finalize call. AlreadyFinalized is
// set when the session was closed before this call; Cost then carries the
// originally recorded amount and no new debit happened.
type FinalizeResult struct {
	Session          *Session
	Charged          float64
	NewBalance       float64
	AlreadyFinalized bool
	Debited          bool
}
