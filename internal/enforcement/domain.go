package enforcement

import (
	"errors"
	"time"
)

// CancellationWindow is the grace period after issuance during which a
// settled session voids the citation.
const CancellationWindow = 900 * time.Second

// DefaultMotive is recorded when the inspector gives no motive.
const DefaultMotive = "unpaid"

// ErrNotFound indicates the infraction does not exist.
var ErrNotFound = errors.New("enforcement: infraction not found")

// Infraction is a citation recorded against a vehicle. Once created it is
// never deleted; the only permitted mutation is not-cancelled to cancelled.
type Infraction struct {
	ID          int64
	VehicleID   int64
	InspectorID int64
	ZoneID      *int64
	SessionID   *int64
	Motive      string
	IssuedAt    time.Time
	Cancelled   bool
	CancelledAt *time.Time
	CreatedAt   time.Time
}

// IssueStatus classifies the outcome of an issue call.
type IssueStatus string

const (
	// IssueCreated means an infraction row was recorded.
	IssueCreated IssueStatus = "issued"
	// IssueExemptRefused means the vehicle is exempt here; nothing recorded.
	IssueExemptRefused IssueStatus = "exempt_refused"
	// IssueAlreadyPaid means an active paid session covers the vehicle.
	IssueAlreadyPaid IssueStatus = "already_paid"
)

// IssueResult is the outcome of issuing a citation. Infraction is nil unless
// Status is IssueCreated.
type IssueResult struct {
	Status     IssueStatus
	Infraction *Infraction
}

// CancellationOutcome reports the evaluate-cancellation decision.
type CancellationOutcome string

const (
	// OutcomeCancelled means the citation was voided by a timely payment.
	OutcomeCancelled CancellationOutcome = "cancelled"
	// OutcomeStillActive means the citation stands.
	OutcomeStillActive CancellationOutcome = "still_active"
)

// VerifyStatus classifies a curbside plate check.
type VerifyStatus string

const (
	VerifyUnregistered    VerifyStatus = "unregistered"
	VerifyExempt          VerifyStatus = "exempt"
	VerifyPartiallyExempt VerifyStatus = "partially_exempt"
	VerifyPaid            VerifyStatus = "paid"
	VerifyUnpaid          VerifyStatus = "unpaid"
)

// Summary aggregates enforcement activity for the dashboard.
type Summary struct {
	Issued    int64
	Cancelled int64
	Recent    []Infraction
}
