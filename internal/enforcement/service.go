package enforcement

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vialibre/vialibre/internal/authz"
	"github.com/vialibre/vialibre/internal/parking"
	"github.com/vialibre/vialibre/internal/registry"
	"github.com/vialibre/vialibre/internal/shared"
)

// RepositoryPort defines data access methods for infractions.
type RepositoryPort interface {
	CreateInfraction(ctx context.Context, inf *Infraction) (*Infraction, error)
	GetInfraction(ctx context.Context, id int64) (*Infraction, error)
	MarkCancelled(ctx context.Context, id int64, at time.Time) error
	ListByVehicle(ctx context.Context, vehicleID int64, limit int) ([]Infraction, error)
	ListRecent(ctx context.Context, limit int) ([]Infraction, error)
	ListPendingReview(ctx context.Context, limit int) ([]Infraction, error)
	CountIssued(ctx context.Context, since time.Time) (int64, error)
	CountCancelled(ctx context.Context, since time.Time) (int64, error)
}

// Directory resolves vehicles and zones from master data.
type Directory interface {
	LookupOrCreateVehicle(ctx context.Context, plate string) (*registry.Vehicle, error)
	FindVehicle(ctx context.Context, plate string) (*registry.Vehicle, error)
	GetZone(ctx context.Context, id int64) (*registry.Zone, error)
	ExemptZones(ctx context.Context, v *registry.Vehicle) ([]registry.Zone, error)
	Owners(ctx context.Context, vehicleID int64) ([]int64, error)
}

// SessionSource exposes the session lookups the engine needs.
type SessionSource interface {
	ActiveForVehicle(ctx context.Context, vehicleID int64) (*parking.Session, error)
	Get(ctx context.Context, id int64) (*parking.Session, error)
}

// AuditRecorder persists audit log entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier tells vehicle owners about recorded citations.
type Notifier interface {
	InfractionIssued(ctx context.Context, accountID int64, plate, motive string) error
}

// EventCounter counts domain events for the metrics endpoint.
type EventCounter interface {
	EngineEvent(event string)
}

// Verification is the result of a curbside plate check.
type Verification struct {
	Status      VerifyStatus
	Plate       string
	Detail      string
	ExemptZones []registry.Zone
	Session     *parking.Session
}

// Service implements citation issuance and review.
type Service struct {
	repo      RepositoryPort
	directory Directory
	sessions  SessionSource
	audit     AuditRecorder
	notifier  Notifier
	metrics   EventCounter
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a new Service. audit and notifier may be nil.
func NewService(repo RepositoryPort, directory Directory, sessions SessionSource, audit AuditRecorder, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		sessions:  sessions,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// Issue records a citation against a plate. The role requirement is enforced
// again here so the invariant holds even when the service is called without
// the HTTP gate in front. Refusals are outcomes, not errors: an exempt
// vehicle or one covered by a paid active session produces no row.
func (s *Service) Issue(ctx context.Context, inspector *authz.Principal, plate string, zoneID int64, motive string) (*IssueResult, error) {
	if !authz.Authorize(inspector, authz.RoleInspector, authz.RoleAdmin) {
		return nil, shared.ErrForbidden
	}

	var zone *registry.Zone
	if zoneID != 0 {
		z, err := s.directory.GetZone(ctx, zoneID)
		if err != nil {
			return nil, err
		}
		zone = z
	}
	vehicle, err := s.directory.LookupOrCreateVehicle(ctx, plate)
	if err != nil {
		return nil, err
	}
	if vehicle.ExemptIn(zone) {
		return &IssueResult{Status: IssueExemptRefused}, nil
	}

	var sessionID *int64
	active, err := s.sessions.ActiveForVehicle(ctx, vehicle.ID)
	switch {
	case err == nil:
		if active.Cost > 0 {
			return &IssueResult{Status: IssueAlreadyPaid}, nil
		}
		sessionID = &active.ID
	case errors.Is(err, parking.ErrNoActiveSession):
		// No coverage at all; the citation stands on its own.
	default:
		return nil, err
	}

	motive = strings.TrimSpace(motive)
	if motive == "" {
		motive = DefaultMotive
	}
	inf := &Infraction{
		VehicleID:   vehicle.ID,
		InspectorID: inspector.ID,
		SessionID:   sessionID,
		Motive:      motive,
		IssuedAt:    s.now(),
	}
	if zone != nil {
		inf.ZoneID = &zone.ID
	}
	created, err := s.repo.CreateInfraction(ctx, inf)
	if err != nil {
		return nil, err
	}

	s.record(ctx, inspector.ID, shared.AuditInfractionIssue, created.ID, map[string]any{
		"plate": vehicle.Plate, "motive": motive,
	})
	if s.metrics != nil {
		s.metrics.EngineEvent("infraction_issue")
	}
	s.notifyOwners(ctx, vehicle, motive)
	return &IssueResult{Status: IssueCreated, Infraction: created}, nil
}

// notifyOwners sends the citation notice to every account associated with the
// vehicle. Ownership is informational, so failures only log.
func (s *Service) notifyOwners(ctx context.Context, vehicle *registry.Vehicle, motive string) {
	if s.notifier == nil {
		return
	}
	owners, err := s.directory.Owners(ctx, vehicle.ID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("resolve vehicle owners", slog.String("plate", vehicle.Plate), slog.Any("error", err))
		}
		return
	}
	for _, accountID := range owners {
		if err := s.notifier.InfractionIssued(ctx, accountID, vehicle.Plate, motive); err != nil && s.logger != nil {
			s.logger.Warn("notify infraction", slog.Int64("account_id", accountID), slog.Any("error", err))
		}
	}
}

// EvaluateCancellation applies the grace period rule: a citation whose linked
// session settled within the window after issuance is voided. It never fails
// on an unlinked or still-open session; those simply report still-active.
func (s *Service) EvaluateCancellation(ctx context.Context, infractionID int64) (CancellationOutcome, error) {
	inf, err := s.repo.GetInfraction(ctx, infractionID)
	if err != nil {
		return "", err
	}
	if inf.Cancelled {
		return OutcomeCancelled, nil
	}
	if inf.SessionID == nil {
		return OutcomeStillActive, nil
	}
	session, err := s.sessions.Get(ctx, *inf.SessionID)
	if err != nil {
		if errors.Is(err, parking.ErrNotFound) {
			return OutcomeStillActive, nil
		}
		return "", err
	}
	if session.EndedAt == nil {
		return OutcomeStillActive, nil
	}
	if session.EndedAt.Sub(inf.IssuedAt) > CancellationWindow {
		return OutcomeStillActive, nil
	}

	if err := s.repo.MarkCancelled(ctx, inf.ID, s.now()); err != nil {
		return "", err
	}
	s.record(ctx, inf.InspectorID, shared.AuditInfractionCancel, inf.ID, map[string]any{
		"session_id": *inf.SessionID,
	})
	if s.metrics != nil {
		s.metrics.EngineEvent("infraction_cancel")
	}
	return OutcomeCancelled, nil
}

// Verify resolves the curbside standing of a plate. zoneID zero means no
// zone context; zone-specific exemptions then do not apply.
func (s *Service) Verify(ctx context.Context, plate string, zoneID int64) (*Verification, error) {
	var zone *registry.Zone
	if zoneID != 0 {
		z, err := s.directory.GetZone(ctx, zoneID)
		if err != nil {
			return nil, err
		}
		zone = z
	}

	vehicle, err := s.directory.FindVehicle(ctx, plate)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return &Verification{Status: VerifyUnregistered, Plate: registry.NormalizePlate(plate), Detail: "plate not on record"}, nil
		}
		return nil, err
	}

	if vehicle.ExemptIn(zone) {
		detail := "exempt in this zone"
		if vehicle.GloballyExempt {
			detail = "globally exempt"
		}
		return &Verification{Status: VerifyExempt, Plate: vehicle.Plate, Detail: detail}, nil
	}

	active, err := s.sessions.ActiveForVehicle(ctx, vehicle.ID)
	if err != nil && !errors.Is(err, parking.ErrNoActiveSession) {
		return nil, err
	}
	if active != nil && active.Cost > 0 {
		return &Verification{Status: VerifyPaid, Plate: vehicle.Plate, Detail: "active paid session", Session: active}, nil
	}

	if vehicle.HasZoneExemptions() {
		zones, err := s.directory.ExemptZones(ctx, vehicle)
		if err != nil {
			return nil, err
		}
		return &Verification{
			Status:      VerifyPartiallyExempt,
			Plate:       vehicle.Plate,
			Detail:      "exempt elsewhere, not here",
			ExemptZones: zones,
			Session:     active,
		}, nil
	}

	return &Verification{Status: VerifyUnpaid, Plate: vehicle.Plate, Detail: "no payment on record", Session: active}, nil
}

// ReviewPending sweeps uncancelled citations with linked sessions and applies
// the cancellation rule to each. Returns how many were cancelled.
func (s *Service) ReviewPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	pending, err := s.repo.ListPendingReview(ctx, limit)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for i := range pending {
		outcome, err := s.EvaluateCancellation(ctx, pending[i].ID)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("review infraction", slog.Int64("infraction_id", pending[i].ID), slog.Any("error", err))
			}
			continue
		}
		if outcome == OutcomeCancelled {
			cancelled++
		}
	}
	return cancelled, nil
}

// ListForVehicle returns the citations recorded against a plate.
func (s *Service) ListForVehicle(ctx context.Context, plate string, limit int) ([]Infraction, error) {
	vehicle, err := s.directory.FindVehicle(ctx, plate)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByVehicle(ctx, vehicle.ID, limit)
}

// Summarize gathers the enforcement dashboard figures for the last 24 hours.
// The three reads are independent and run concurrently.
func (s *Service) Summarize(ctx context.Context) (*Summary, error) {
	since := s.now().Add(-24 * time.Hour)
	summary := &Summary{}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.repo.CountIssued(ctx, since)
		summary.Issued = n
		return err
	})
	g.Go(func() error {
		n, err := s.repo.CountCancelled(ctx, since)
		summary.Cancelled = n
		return err
	})
	g.Go(func() error {
		recent, err := s.repo.ListRecent(ctx, 20)
		summary.Recent = recent
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, infractionID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "infraction",
		EntityID: strconv.FormatInt(infractionID, 10),
		Meta:     meta,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithMetrics attaches the domain event counter.
func (s *Service) WithMetrics(m EventCounter) *Service {
	s.metrics = m
	return s
}
