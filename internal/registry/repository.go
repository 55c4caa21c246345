package registry

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrZoneExists indicates a duplicate (street, block) pair.
var ErrZoneExists = errors.New("registry: zone already exists")

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("registry: not found")

// Repository provides PostgreSQL backed persistence for master data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreateVehicle looks a vehicle up by plate, creating it lazily on
// first reference.
func (r *Repository) GetOrCreateVehicle(ctx context.Context, plate string) (*Vehicle, error) {
	plate = NormalizePlate(plate)
	if plate == "" {
		return nil, errors.New("registry: plate required")
	}
	query := `
		INSERT INTO vehicles (plate, globally_exempt, created_at)
		VALUES ($1, FALSE, NOW())
		ON CONFLICT (plate) DO UPDATE SET plate = EXCLUDED.plate
		RETURNING id, plate, globally_exempt, created_at`

	var v Vehicle
	if err := r.pool.QueryRow(ctx, query, plate).Scan(&v.ID, &v.Plate, &v.GloballyExempt, &v.CreatedAt); err != nil {
		return nil, err
	}
	zones, err := r.exemptZoneIDs(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	v.ExemptZoneIDs = zones
	return &v, nil
}

// FindVehicleByPlate returns the vehicle or ErrNotFound without creating it.
func (r *Repository) FindVehicleByPlate(ctx context.Context, plate string) (*Vehicle, error) {
	plate = NormalizePlate(plate)
	var v Vehicle
	err := r.pool.QueryRow(ctx,
		`SELECT id, plate, globally_exempt, created_at FROM vehicles WHERE plate = $1`,
		plate,
	).Scan(&v.ID, &v.Plate, &v.GloballyExempt, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	zones, err := r.exemptZoneIDs(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	v.ExemptZoneIDs = zones
	return &v, nil
}

// GetVehicle fetches a vehicle by ID.
func (r *Repository) GetVehicle(ctx context.Context, id int64) (*Vehicle, error) {
	var v Vehicle
	err := r.pool.QueryRow(ctx,
		`SELECT id, plate, globally_exempt, created_at FROM vehicles WHERE id = $1`,
		id,
	).Scan(&v.ID, &v.Plate, &v.GloballyExempt, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	zones, err := r.exemptZoneIDs(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	v.ExemptZoneIDs = zones
	return &v, nil
}

// SetGlobalExemption flips the vehicle-wide fee waiver.
func (r *Repository) SetGlobalExemption(ctx context.Context, vehicleID int64, exempt bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE vehicles SET globally_exempt = $2 WHERE id = $1`, vehicleID, exempt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GrantZoneExemption records a partial exemption for one zone.
func (r *Repository) GrantZoneExemption(ctx context.Context, vehicleID, zoneID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO vehicle_zone_exemptions (vehicle_id, zone_id, created_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (vehicle_id, zone_id) DO NOTHING`,
		vehicleID, zoneID)
	return err
}

// RevokeZoneExemption removes a partial exemption.
func (r *Repository) RevokeZoneExemption(ctx context.Context, vehicleID, zoneID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM vehicle_zone_exemptions WHERE vehicle_id = $1 AND zone_id = $2`,
		vehicleID, zoneID)
	return err
}

// AssociateOwner links an account to a vehicle. Informational only.
func (r *Repository) AssociateOwner(ctx context.Context, vehicleID, accountID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO vehicle_owners (vehicle_id, account_id, created_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (vehicle_id, account_id) DO NOTHING`,
		vehicleID, accountID)
	return err
}

// CreateZone inserts a zone; the (street, block) pair must be unique.
func (r *Repository) CreateZone(ctx context.Context, street string, block int) (*Zone, error) {
	var z Zone
	err := r.pool.QueryRow(ctx,
		`INSERT INTO zones (street, block, created_at) VALUES ($1, $2, NOW())
		 RETURNING id, street, block, created_at`,
		street, block,
	).Scan(&z.ID, &z.Street, &z.Block, &z.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrZoneExists
		}
		return nil, err
	}
	return &z, nil
}

// GetZone fetches a zone by ID.
func (r *Repository) GetZone(ctx context.Context, id int64) (*Zone, error) {
	var z Zone
	err := r.pool.QueryRow(ctx,
		`SELECT id, street, block, created_at FROM zones WHERE id = $1`, id,
	).Scan(&z.ID, &z.Street, &z.Block, &z.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &z, nil
}

// ListZones returns all zones ordered by street then block.
func (r *Repository) ListZones(ctx context.Context) ([]Zone, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, street, block, created_at FROM zones ORDER BY street, block`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []Zone
	for rows.Next() {
		var z Zone
		if err := rows.Scan(&z.ID, &z.Street, &z.Block, &z.CreatedAt); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// ListZonesByIDs returns the zones for the given IDs.
func (r *Repository) ListZonesByIDs(ctx context.Context, ids []int64) ([]Zone, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, street, block, created_at FROM zones WHERE id = ANY($1) ORDER BY street, block`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []Zone
	for rows.Next() {
		var z Zone
		if err := rows.Scan(&z.ID, &z.Street, &z.Block, &z.CreatedAt); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// CreateRate inserts a new hourly rate.
func (r *Repository) CreateRate(ctx context.Context, pricePerHour float64) (*Rate, error) {
	var rate Rate
	err := r.pool.QueryRow(ctx,
		`INSERT INTO rates (price_per_hour, created_at) VALUES ($1, NOW())
		 RETURNING id, price_per_hour, created_at`,
		pricePerHour,
	).Scan(&rate.ID, &rate.PricePerHour, &rate.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

// CurrentRate returns the most recently created rate and the total number of
// rate rows. A nil rate with count zero means none is configured.
func (r *Repository) CurrentRate(ctx context.Context) (*Rate, int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rates`).Scan(&count); err != nil {
		return nil, 0, err
	}
	if count == 0 {
		return nil, 0, nil
	}
	var rate Rate
	err := r.pool.QueryRow(ctx,
		`SELECT id, price_per_hour, created_at FROM rates ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&rate.ID, &rate.PricePerHour, &rate.CreatedAt)
	if err != nil {
		return nil, 0, err
	}
	return &rate, count, nil
}

func (r *Repository) exemptZoneIDs(ctx context.Context, vehicleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT zone_id FROM vehicle_zone_exemptions WHERE vehicle_id = $1 ORDER BY zone_id`, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListOwners returns the account IDs associated with a vehicle.
func (r *Repository) ListOwners(ctx context.Context, vehicleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT account_id FROM vehicle_owners WHERE vehicle_id = $1 ORDER BY account_id`, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
