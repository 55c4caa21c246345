package notifications

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/vialibre/vialibre/internal/authz"
	"github.com/vialibre/vialibre/internal/shared"
)

// RepositoryPort defines data access methods for notifications.
type RepositoryPort interface {
	CreateNotification(ctx context.Context, accountID int64, subject, body string) (*Notification, error)
	ListByAccount(ctx context.Context, accountID int64, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id, accountID int64, at time.Time) error
	CountUnread(ctx context.Context, accountID int64) (int64, error)
}

// Queue hands a notification to the background worker. When no queue is
// configured delivery happens inline.
type Queue interface {
	EnqueueNotification(ctx context.Context, payload DeliverPayload) error
}

// Service composes and delivers account notifications. Message bodies use a
// locale-aware printer so amounts render with the grouping and decimal marks
// account holders expect.
type Service struct {
	repo    RepositoryPort
	queue   Queue
	printer *message.Printer
	logger  *slog.Logger
}

// NewService constructs a new Service. queue may be nil.
func NewService(repo RepositoryPort, queue Queue, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		queue:   queue,
		printer: message.NewPrinter(language.EuropeanSpanish),
		logger:  logger,
	}
}

// SessionFinalized notifies the payer that a stay was settled.
func (s *Service) SessionFinalized(ctx context.Context, accountID int64, plate string, amount float64) error {
	body := s.printer.Sprintf("Se cobró $%.2f por el estacionamiento del vehículo %s.", amount, plate)
	return s.dispatch(ctx, DeliverPayload{
		AccountID: accountID,
		Subject:   "Estacionamiento finalizado",
		Body:      body,
	})
}

// InsufficientBalance warns the payer that settlement failed for lack of
// funds and the session keeps accruing.
func (s *Service) InsufficientBalance(ctx context.Context, accountID int64, plate string, amount float64) error {
	body := s.printer.Sprintf("Saldo insuficiente para cobrar $%.2f por el vehículo %s. La sesión sigue activa.", amount, plate)
	return s.dispatch(ctx, DeliverPayload{
		AccountID: accountID,
		Subject:   "Saldo insuficiente",
		Body:      body,
	})
}

// InfractionIssued tells a vehicle owner that a citation was recorded.
func (s *Service) InfractionIssued(ctx context.Context, accountID int64, plate, motive string) error {
	body := s.printer.Sprintf("Se registró una infracción (%s) al vehículo %s.", motive, plate)
	return s.dispatch(ctx, DeliverPayload{
		AccountID: accountID,
		Subject:   "Infracción registrada",
		Body:      body,
	})
}

// Deliver persists a notification row. Called by the worker for queued
// payloads and directly for inline delivery.
func (s *Service) Deliver(ctx context.Context, payload DeliverPayload) error {
	_, err := s.repo.CreateNotification(ctx, payload.AccountID, payload.Subject, payload.Body)
	return err
}

// List returns the principal's notifications.
func (s *Service) List(ctx context.Context, principal *authz.Principal, limit int) ([]Notification, error) {
	if principal == nil {
		return nil, shared.ErrUnauthenticated
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByAccount(ctx, principal.ID, limit)
}

// MarkRead stamps one of the principal's notifications as read.
func (s *Service) MarkRead(ctx context.Context, principal *authz.Principal, id int64) error {
	if principal == nil {
		return shared.ErrUnauthenticated
	}
	return s.repo.MarkRead(ctx, id, principal.ID, time.Now())
}

// UnreadCount returns the unread badge count.
func (s *Service) UnreadCount(ctx context.Context, principal *authz.Principal) (int64, error) {
	if principal == nil {
		return 0, shared.ErrUnauthenticated
	}
	return s.repo.CountUnread(ctx, principal.ID)
}

func (s *Service) dispatch(ctx context.Context, payload DeliverPayload) error {
	if s.queue != nil {
		if err := s.queue.EnqueueNotification(ctx, payload); err == nil {
			return nil
		} else if s.logger != nil {
			s.logger.Warn("enqueue notification, delivering inline", slog.Any("error", err))
		}
	}
	return s.Deliver(ctx, payload)
}
