package parking

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/vialibre/vialibre/internal/authz"
	"github.com/vialibre/vialibre/internal/registry"
	"github.com/vialibre/vialibre/internal/shared"
)

// RepositoryPort defines data access methods for sessions.
type RepositoryPort interface {
	CreateSession(ctx context.Context, s *Session) (*Session, error)
	GetSession(ctx context.Context, id int64) (*Session, error)
	FindActiveByVehicle(ctx context.Context, vehicleID int64) (*Session, error)
	ListByRegistrar(ctx context.Context, accountID int64, limit int) ([]Session, error)
	ListByVehicle(ctx context.Context, vehicleID int64, limit int) ([]Session, error)
	CloseSession(ctx context.Context, sessionID int64, endedAt time.Time, cost float64) (*Session, error)
	SettleSession(ctx context.Context, sessionID, payerID int64, endedAt time.Time, cost float64) (*Session, float64, error)
}

// Directory resolves vehicles and zones from master data.
type Directory interface {
	LookupOrCreateVehicle(ctx context.Context, plate string) (*registry.Vehicle, error)
	FindVehicle(ctx context.Context, plate string) (*registry.Vehicle, error)
	GetVehicle(ctx context.Context, id int64) (*registry.Vehicle, error)
	GetZone(ctx context.Context, id int64) (*registry.Zone, error)
	AssociateOwner(ctx context.Context, vehicleID, accountID int64) error
}

// FeeComputer prices a stay.
type FeeComputer interface {
	ComputeFee(ctx context.Context, vehicle *registry.Vehicle, zone *registry.Zone, hours float64) (float64, error)
}

// AuditRecorder persists audit log entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Notifier delivers settlement messages to account holders.
type Notifier interface {
	SessionFinalized(ctx context.Context, accountID int64, plate string, amount float64) error
	InsufficientBalance(ctx context.Context, accountID int64, plate string, amount float64) error
}

// EventCounter counts domain events for the metrics endpoint.
type EventCounter interface {
	EngineEvent(event string)
}

// Service implements the session lifecycle.
type Service struct {
	repo      RepositoryPort
	directory Directory
	fees      FeeComputer
	audit     AuditRecorder
	notifier  Notifier
	metrics   EventCounter
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a new Service. audit and notifier may be nil.
func NewService(repo RepositoryPort, directory Directory, fees FeeComputer, audit AuditRecorder, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		fees:      fees,
		audit:     audit,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// Open starts a postpaid session for the principal. The zone must already
// exist; an unknown zone is an error, never an implicit creation. Vehicles
// exempt in the zone are refused since there is nothing to charge.
func (s *Service) Open(ctx context.Context, principal *authz.Principal, plate string, zoneID int64) (*Session, error) {
	if principal == nil {
		return nil, shared.ErrUnauthenticated
	}
	zone, err := s.directory.GetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	vehicle, err := s.directory.LookupOrCreateVehicle(ctx, plate)
	if err != nil {
		return nil, err
	}
	if vehicle.ExemptIn(zone) {
		return nil, ErrVehicleExempt
	}

	session, err := s.repo.CreateSession(ctx, &Session{
		VehicleID:    vehicle.ID,
		ZoneID:       zone.ID,
		RegisteredBy: principal.ID,
		StartedAt:    s.now(),
	})
	if err != nil {
		return nil, err
	}

	if principal.Roles.Has(authz.RoleDriver) {
		if err := s.directory.AssociateOwner(ctx, vehicle.ID, principal.ID); err != nil && s.logger != nil {
			s.logger.Warn("associate owner", slog.String("plate", vehicle.Plate), slog.Any("error", err))
		}
	}

	s.record(ctx, principal.ID, shared.AuditSessionOpen, session.ID, map[string]any{
		"plate": vehicle.Plate, "zone_id": zone.ID,
	})
	s.count("session_open")
	return session, nil
}

// OpenPrepaid registers a stay paid for a fixed whole number of hours up
// front, on behalf of a walk-up customer. Restricted to vendors, inspectors
// and admins. The session stays active until its paid window is reviewed,
// with the cost already recorded.
func (s *Service) OpenPrepaid(ctx context.Context, principal *authz.Principal, plate string, zoneID int64, hours int) (*Session, error) {
	if !authz.Authorize(principal, authz.RoleVendor, authz.RoleInspector, authz.RoleAdmin) {
		return nil, shared.ErrForbidden
	}
	if hours <= 0 {
		return nil, ErrInvalidDuration
	}
	zone, err := s.directory.GetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	vehicle, err := s.directory.LookupOrCreateVehicle(ctx, plate)
	if err != nil {
		return nil, err
	}
	if vehicle.ExemptIn(zone) {
		return nil, ErrVehicleExempt
	}

	cost, err := s.fees.ComputeFee(ctx, vehicle, zone, float64(hours))
	if err != nil {
		return nil, err
	}

	session, err := s.repo.CreateSession(ctx, &Session{
		VehicleID:    vehicle.ID,
		ZoneID:       zone.ID,
		RegisteredBy: principal.ID,
		StartedAt:    s.now(),
		Cost:         cost,
		Prepaid:      true,
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, principal.ID, shared.AuditSessionOpen, session.ID, map[string]any{
		"plate": vehicle.Plate, "zone_id": zone.ID, "hours": hours, "cost": cost, "prepaid": true,
	})
	s.count("session_open_prepaid")
	return session, nil
}

// Finalize closes a session and collects its fee. Calling it on an already
// closed session is not an error; the recorded outcome is returned unchanged
// and nothing is debited twice. On insufficient funds nothing changes: the
// session stays active and keeps accruing.
func (s *Service) Finalize(ctx context.Context, principal *authz.Principal, sessionID int64) (*FinalizeResult, error) {
	if principal == nil {
		return nil, shared.ErrUnauthenticated
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.RegisteredBy != principal.ID && !authz.Authorize(principal, authz.RoleInspector, authz.RoleAdmin) {
		return nil, shared.ErrForbidden
	}
	if !session.Active {
		return &FinalizeResult{Session: session, Charged: session.Cost, AlreadyFinalized: true}, nil
	}

	endedAt := s.now()

	if session.Prepaid {
		closed, err := s.repo.CloseSession(ctx, session.ID, endedAt, session.Cost)
		if err != nil {
			return s.recheckClosed(ctx, session.ID, err)
		}
		s.record(ctx, principal.ID, shared.AuditSessionFinalize, closed.ID, map[string]any{
			"cost": closed.Cost, "prepaid": true,
		})
		s.count("session_finalize")
		return &FinalizeResult{Session: closed, Charged: closed.Cost}, nil
	}

	vehicle, err := s.directory.GetVehicle(ctx, session.VehicleID)
	if err != nil {
		return nil, err
	}
	zone, err := s.directory.GetZone(ctx, session.ZoneID)
	if err != nil {
		return nil, err
	}
	fee, err := s.fees.ComputeFee(ctx, vehicle, zone, session.ElapsedHours(endedAt))
	if err != nil {
		return nil, err
	}

	if fee == 0 {
		closed, err := s.repo.CloseSession(ctx, session.ID, endedAt, 0)
		if err != nil {
			return s.recheckClosed(ctx, session.ID, err)
		}
		s.record(ctx, principal.ID, shared.AuditSessionFinalize, closed.ID, map[string]any{"cost": 0.0})
		s.count("session_finalize")
		return &FinalizeResult{Session: closed, Charged: 0}, nil
	}

	settled, balance, err := s.repo.SettleSession(ctx, session.ID, session.RegisteredBy, endedAt, fee)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			s.notifyShortfall(ctx, session.RegisteredBy, vehicle.Plate, fee)
			return nil, err
		}
		return s.recheckClosed(ctx, session.ID, err)
	}

	s.record(ctx, principal.ID, shared.AuditSessionFinalize, settled.ID, map[string]any{
		"cost": fee, "balance": balance,
	})
	s.count("session_finalize")
	if s.notifier != nil {
		if err := s.notifier.SessionFinalized(ctx, settled.RegisteredBy, vehicle.Plate, fee); err != nil && s.logger != nil {
			s.logger.Warn("notify finalize", slog.Any("error", err))
		}
	}
	return &FinalizeResult{Session: settled, Charged: fee, NewBalance: balance, Debited: true}, nil
}

// FinalizeByPlate resolves the active session of a plate and finalizes it.
func (s *Service) FinalizeByPlate(ctx context.Context, principal *authz.Principal, plate string) (*FinalizeResult, error) {
	vehicle, err := s.directory.FindVehicle(ctx, plate)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, err
	}
	session, err := s.repo.FindActiveByVehicle(ctx, vehicle.ID)
	if err != nil {
		return nil, err
	}
	return s.Finalize(ctx, principal, session.ID)
}

// ActiveForPlate returns the active session for a plate, or ErrNoActiveSession.
func (s *Service) ActiveForPlate(ctx context.Context, plate string) (*Session, *registry.Vehicle, error) {
	vehicle, err := s.directory.FindVehicle(ctx, plate)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, nil, ErrNoActiveSession
		}
		return nil, nil, err
	}
	session, err := s.repo.FindActiveByVehicle(ctx, vehicle.ID)
	if err != nil {
		return nil, vehicle, err
	}
	return session, vehicle, nil
}

// ActiveForVehicle returns the active session for a vehicle ID.
func (s *Service) ActiveForVehicle(ctx context.Context, vehicleID int64) (*Session, error) {
	return s.repo.FindActiveByVehicle(ctx, vehicleID)
}

// Get fetches a session by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Session, error) {
	return s.repo.GetSession(ctx, id)
}

// History lists the sessions the principal has registered.
func (s *Service) History(ctx context.Context, principal *authz.Principal, limit int) ([]Session, error) {
	if principal == nil {
		return nil, shared.ErrUnauthenticated
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByRegistrar(ctx, principal.ID, limit)
}

// recheckClosed handles the race where another caller finalized the session
// between our read and our write. A session that turned inactive means the
// other finalize won; report its outcome instead of an error.
func (s *Service) recheckClosed(ctx context.Context, sessionID int64, cause error) (*FinalizeResult, error) {
	if !errors.Is(cause, ErrNotFound) {
		return nil, cause
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, cause
	}
	if session.Active {
		return nil, cause
	}
	return &FinalizeResult{Session: session, Charged: session.Cost, AlreadyFinalized: true}, nil
}

func (s *Service) notifyShortfall(ctx context.Context, accountID int64, plate string, amount float64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.InsufficientBalance(ctx, accountID, plate, amount); err != nil && s.logger != nil {
		s.logger.Warn("notify shortfall", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, sessionID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "parking_session",
		EntityID: strconv.FormatInt(sessionID, 10),
		Meta:     meta,
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) count(event string) {
	if s.metrics != nil {
		s.metrics.EngineEvent(event)
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
