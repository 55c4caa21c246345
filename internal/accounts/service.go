package accounts

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vialibre/vialibre/internal/authz"
	"github.com/vialibre/vialibre/internal/shared"
)

// RepositoryPort defines data access methods for accounts.
type RepositoryPort interface {
	CreateAccount(ctx context.Context, email, name, passwordHash string, roles []string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	AddBalance(ctx context.Context, id int64, amount float64) (float64, error)
	CreateSession(ctx context.Context, id string, accountID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// AuditRecorder persists audit log entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service wraps account business rules.
type Service struct {
	repo  RepositoryPort
	audit AuditRecorder
}

// NewService constructs a new Service.
func NewService(repo RepositoryPort, audit AuditRecorder) *Service {
	return &Service{repo: repo, audit: audit}
}

// Register creates an account. An empty role list defaults to driver.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Account, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, errors.New("accounts: email required")
	}
	if len(input.Password) < 8 {
		return nil, errors.New("accounts: password must be at least 8 characters")
	}
	roles := authz.NewRoleSet(input.Roles...)
	if len(roles) == 0 {
		roles = authz.NewRoleSet(string(authz.RoleDriver))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return s.repo.CreateAccount(ctx, email, strings.TrimSpace(input.Name), string(hash), roles.Names())
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	account, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !account.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return account, nil
}

// ResolvePrincipal loads the principal for the authorization gate.
func (s *Service) ResolvePrincipal(ctx context.Context, accountID int64) (*authz.Principal, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, shared.ErrUnauthenticated
	}
	return &authz.Principal{
		ID:      account.ID,
		Email:   account.Email,
		Name:    account.Name,
		Balance: account.Balance,
		Roles:   authz.NewRoleSet(account.Roles...),
	}, nil
}

// Get fetches an account by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// TopUp credits the account balance. Admin only; the gate has already run
// but the rule is re-validated so the invariant holds on direct use.
func (s *Service) TopUp(ctx context.Context, actor *authz.Principal, accountID int64, amount float64) (float64, error) {
	if !authz.Authorize(actor, authz.RoleAdmin) {
		return 0, shared.ErrForbidden
	}
	if amount <= 0 {
		return 0, errors.New("accounts: top-up amount must be positive")
	}
	balance, err := s.repo.AddBalance(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   shared.AuditBalanceTopUp,
			Entity:   "account",
			EntityID: strconv.FormatInt(accountID, 10),
			Meta:     map[string]any{"amount": amount, "balance": balance},
		})
	}
	return balance, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, accountID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, accountID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}
