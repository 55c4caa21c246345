package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vialibre/vialibre/internal/authz"
	"github.com/vialibre/vialibre/internal/shared"
)

type memoryRepo struct {
	nextID   int64
	accounts map[int64]*Account
	byEmail  map[string]int64
	sessions map[string]int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextID:   1,
		accounts: make(map[int64]*Account),
		byEmail:  make(map[string]int64),
		sessions: make(map[string]int64),
	}
}

func (m *memoryRepo) CreateAccount(ctx context.Context, email, name, passwordHash string, roles []string) (*Account, error) {
	if _, ok := m.byEmail[email]; ok {
		return nil, ErrEmailTaken
	}
	a := &Account{
		ID:           m.nextID,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Roles:        roles,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.nextID++
	m.accounts[a.ID] = a
	m.byEmail[email] = a.ID
	return a, nil
}

func (m *memoryRepo) FindByEmail(ctx context.Context, email string) (*Account, error) {
	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return m.accounts[id], nil
}

func (m *memoryRepo) GetAccount(ctx context.Context, id int64) (*Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *memoryRepo) AddBalance(ctx context.Context, id int64, amount float64) (float64, error) {
	a, ok := m.accounts[id]
	if !ok {
		return 0, ErrNotFound
	}
	a.Balance += amount
	return a.Balance, nil
}

func (m *memoryRepo) CreateSession(ctx context.Context, id string, accountID int64, expiresAt time.Time, ip, ua string) error {
	m.sessions[id] = accountID
	return nil
}

func (m *memoryRepo) DeleteSession(ctx context.Context, id string) error {
	delete(m.sessions, id)
	return nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func TestRegisterDefaultsToDriverRole(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)

	account, err := svc.Register(context.Background(), RegisterInput{
		Email:    "Ana@Example.COM",
		Name:     "Ana",
		Password: "secret-pass",
	})
	require.NoError(t, err)
	require.Equal(t, "ana@example.com", account.Email)
	require.Equal(t, []string{"driver"}, account.Roles)
	require.Equal(t, 0.00, account.Balance)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "ana@example.com",
		Password: "short",
	})
	require.Error(t, err)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)

	_, err := svc.Register(context.Background(), RegisterInput{Email: "ana@example.com", Password: "secret-pass"})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{Email: "ana@example.com", Password: "secret-pass"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestAuthenticate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	created, err := svc.Register(context.Background(), RegisterInput{Email: "ana@example.com", Password: "secret-pass"})
	require.NoError(t, err)

	account, err := svc.Authenticate(context.Background(), "ana@example.com", "secret-pass")
	require.NoError(t, err)
	require.Equal(t, created.ID, account.ID)

	_, err = svc.Authenticate(context.Background(), "ana@example.com", "wrong-pass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "nobody@example.com", "secret-pass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	created, err := svc.Register(context.Background(), RegisterInput{Email: "ana@example.com", Password: "secret-pass"})
	require.NoError(t, err)
	repo.accounts[created.ID].IsActive = false

	_, err = svc.Authenticate(context.Background(), "ana@example.com", "secret-pass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestResolvePrincipalCarriesRolesAndBalance(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	created, err := svc.Register(context.Background(), RegisterInput{
		Email:    "insp@example.com",
		Password: "secret-pass",
		Roles:    []string{"inspector", "driver"},
	})
	require.NoError(t, err)
	repo.accounts[created.ID].Balance = 150.00

	principal, err := svc.ResolvePrincipal(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, principal.Roles.Has(authz.RoleInspector))
	require.True(t, principal.Roles.Has(authz.RoleDriver))
	require.False(t, principal.Roles.Has(authz.RoleAdmin))
	require.Equal(t, 150.00, principal.Balance)
}

func TestTopUpRequiresAdmin(t *testing.T) {
	repo := newMemoryRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, audit)

	target, err := svc.Register(context.Background(), RegisterInput{Email: "ana@example.com", Password: "secret-pass"})
	require.NoError(t, err)

	driver := &authz.Principal{ID: 99, Roles: authz.NewRoleSet("driver")}
	_, err = svc.TopUp(context.Background(), driver, target.ID, 100)
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Equal(t, 0.00, repo.accounts[target.ID].Balance)

	admin := &authz.Principal{ID: 1, Roles: authz.NewRoleSet("admin")}
	balance, err := svc.TopUp(context.Background(), admin, target.ID, 100)
	require.NoError(t, err)
	require.Equal(t, 100.00, balance)
	require.Len(t, audit.logs, 1)
	require.Equal(t, shared.AuditBalanceTopUp, audit.logs[0].Action)
}

func TestTopUpRejectsNonPositiveAmount(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	target, err := svc.Register(context.Background(), RegisterInput{Email: "ana@example.com", Password: "secret-pass"})
	require.NoError(t, err)

	admin := &authz.Principal{ID: 1, Roles: authz.NewRoleSet("admin")}
	_, err = svc.TopUp(context.Background(), admin, target.ID, 0)
	require.Error(t, err)
	_, err = svc.TopUp(context.Background(), admin, target.ID, -5)
	require.Error(t, err)
}
