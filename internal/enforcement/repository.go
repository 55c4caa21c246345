package enforcement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const infractionColumns = `id, vehicle_id, inspector_id, zone_id, session_id, motive, issued_at, cancelled, cancelled_at, created_at`

// Repository provides PostgreSQL backed persistence for infractions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateInfraction inserts a citation.
func (r *Repository) CreateInfraction(ctx context.Context, inf *Infraction) (*Infraction, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO infractions (vehicle_id, inspector_id, zone_id, session_id, motive, issued_at, cancelled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, NOW())
		RETURNING `+infractionColumns,
		inf.VehicleID, inf.InspectorID, inf.ZoneID, inf.SessionID, inf.Motive, inf.IssuedAt)
	return scanInfraction(row)
}

// GetInfraction fetches a citation by ID.
func (r *Repository) GetInfraction(ctx context.Context, id int64) (*Infraction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+infractionColumns+` FROM infractions WHERE id = $1`, id)
	inf, err := scanInfraction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inf, err
}

// MarkCancelled flips the cancelled flag. The WHERE guard keeps the mutation
// one-way and idempotent under races.
func (r *Repository) MarkCancelled(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE infractions SET cancelled = TRUE, cancelled_at = $2
		WHERE id = $1 AND NOT cancelled`, id, at)
	return err
}

// ListByVehicle returns citations for a vehicle, newest first.
func (r *Repository) ListByVehicle(ctx context.Context, vehicleID int64, limit int) ([]Infraction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+infractionColumns+` FROM infractions
		WHERE vehicle_id = $1
		ORDER BY issued_at DESC
		LIMIT $2`, vehicleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInfractions(rows)
}

// ListRecent returns the latest citations across all vehicles.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Infraction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+infractionColumns+` FROM infractions
		ORDER BY issued_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInfractions(rows)
}

// ListPendingReview returns uncancelled citations that reference a session,
// the candidates for the periodic cancellation sweep.
func (r *Repository) ListPendingReview(ctx context.Context, limit int) ([]Infraction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+infractionColumns+` FROM infractions
		WHERE NOT cancelled AND session_id IS NOT NULL
		ORDER BY issued_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInfractions(rows)
}

// CountIssued counts citations issued since the given time.
func (r *Repository) CountIssued(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM infractions WHERE issued_at >= $1`, since).Scan(&n)
	return n, err
}

// CountCancelled counts citations cancelled since the given time.
func (r *Repository) CountCancelled(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM infractions WHERE cancelled AND cancelled_at >= $1`, since).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInfraction(row rowScanner) (*Infraction, error) {
	var inf Infraction
	err := row.Scan(&inf.ID, &inf.VehicleID, &inf.InspectorID, &inf.ZoneID, &inf.SessionID,
		&inf.Motive, &inf.IssuedAt, &inf.Cancelled, &inf.CancelledAt, &inf.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &inf, nil
}

func collectInfractions(rows pgx.Rows) ([]Infraction, error) {
	var out []Infraction
	for rows.Next() {
		inf, err := scanInfraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inf)
	}
	return out, rows.Err()
}
