package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("accounts: not found")

// ErrEmailTaken indicates a duplicate registration.
var ErrEmailTaken = errors.New("accounts: email already registered")

// Repository provides PostgreSQL backed persistence for accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateAccount inserts a new account.
func (r *Repository) CreateAccount(ctx context.Context, email, name, passwordHash string, roles []string) (*Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, name, password_hash, balance, roles, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, TRUE, NOW(), NOW())
		RETURNING id, email, name, password_hash, balance, roles, is_active, created_at, updated_at`,
		email, name, passwordHash, roles,
	).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Balance, &a.Roles, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &a, nil
}

// FindByEmail returns the account registered under email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.scanOne(ctx, `
		SELECT id, email, name, password_hash, balance, roles, is_active, created_at, updated_at
		FROM accounts WHERE email = $1`, email)
}

// GetAccount fetches an account by ID.
func (r *Repository) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return r.scanOne(ctx, `
		SELECT id, email, name, password_hash, balance, roles, is_active, created_at, updated_at
		FROM accounts WHERE id = $1`, id)
}

// AddBalance credits a top-up and returns the new balance.
func (r *Repository) AddBalance(ctx context.Context, id int64, amount float64) (float64, error) {
	var balance float64
	err := r.pool.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING balance`, id, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return balance, err
}

// CreateSession persists login session metadata.
func (r *Repository) CreateSession(ctx context.Context, id string, accountID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auth_sessions (id, account_id, expires_at, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		id, accountID, expiresAt, ip, ua)
	return err
}

// DeleteSession removes a login session record.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE id = $1`, id)
	return err
}

func (r *Repository) scanOne(ctx context.Context, query string, arg any) (*Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Balance, &a.Roles, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
