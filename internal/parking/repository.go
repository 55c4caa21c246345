package parking

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vialibre/vialibre/internal/platform/db"
)

const sessionColumns = `id, vehicle_id, zone_id, registered_by, started_at, ended_at, cost, active, prepaid, created_at`

// Repository provides PostgreSQL backed persistence for parking sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateSession inserts a new active session. The partial unique index on
// active sessions per vehicle turns a concurrent double-open into a 23505,
// which is mapped to ErrVehicleAlreadyParked.
func (r *Repository) CreateSession(ctx context.Context, s *Session) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO parking_sessions (vehicle_id, zone_id, registered_by, started_at, ended_at, cost, active, prepaid, created_at)
		VALUES ($1, $2, $3, $4, NULL, $5, TRUE, $6, NOW())
		RETURNING `+sessionColumns,
		s.VehicleID, s.ZoneID, s.RegisteredBy, s.StartedAt, s.Cost, s.Prepaid)
	created, err := scanSession(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrVehicleAlreadyParked
		}
		return nil, err
	}
	return created, nil
}

// GetSession fetches a session by ID.
func (r *Repository) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM parking_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// FindActiveByVehicle returns the single active session for a vehicle.
func (r *Repository) FindActiveByVehicle(ctx context.Context, vehicleID int64) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM parking_sessions WHERE vehicle_id = $1 AND active`, vehicleID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveSession
	}
	return s, err
}

// ListByRegistrar returns sessions opened by an account, newest first.
func (r *Repository) ListByRegistrar(ctx context.Context, accountID int64, limit int) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM parking_sessions
		WHERE registered_by = $1
		ORDER BY started_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListByVehicle returns sessions of a vehicle, newest first.
func (r *Repository) ListByVehicle(ctx context.Context, vehicleID int64, limit int) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM parking_sessions
		WHERE vehicle_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, vehicleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// CloseSession marks a session inactive with the given cost and no debit.
// Used for exempt and prepaid settlements.
func (r *Repository) CloseSession(ctx context.Context, sessionID int64, endedAt time.Time, cost float64) (*Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE parking_sessions
		SET ended_at = $2, cost = $3, active = FALSE
		WHERE id = $1 AND active
		RETURNING `+sessionColumns, sessionID, endedAt, cost)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// SettleSession closes the session and debits the payer atomically. The payer
// row is locked before the balance check so a concurrent top-up or debit
// cannot slip between read and write. On insufficient funds the whole
// transaction rolls back and the session stays active.
func (r *Repository) SettleSession(ctx context.Context, sessionID, payerID int64, endedAt time.Time, cost float64) (*Session, float64, error) {
	var settled *Session
	var newBalance float64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE parking_sessions
			SET ended_at = $2, cost = $3, active = FALSE
			WHERE id = $1 AND active
			RETURNING `+sessionColumns, sessionID, endedAt, cost)
		s, err := scanSession(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var balance float64
		err = tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, payerID).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if balance < cost {
			return ErrInsufficientBalance
		}

		err = tx.QueryRow(ctx, `
			UPDATE accounts SET balance = balance - $2, updated_at = NOW()
			WHERE id = $1
			RETURNING balance`, payerID, cost).Scan(&newBalance)
		if err != nil {
			return err
		}
		settled = s
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return settled, newBalance, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.VehicleID, &s.ZoneID, &s.RegisteredBy, &s.StartedAt,
		&s.EndedAt, &s.Cost, &s.Active, &s.Prepaid, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]Session, error) {
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
