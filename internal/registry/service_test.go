package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	nextVehicleID int64
	nextZoneID    int64
	nextRateID    int64
	vehicles      map[string]*Vehicle
	zones         map[int64]*Zone
	rates         []Rate
	owners        map[int64][]int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextVehicleID: 1,
		nextZoneID:    1,
		nextRateID:    1,
		vehicles:      make(map[string]*Vehicle),
		zones:         make(map[int64]*Zone),
		owners:        make(map[int64][]int64),
	}
}

func (m *memoryRepo) GetOrCreateVehicle(ctx context.Context, plate string) (*Vehicle, error) {
	plate = NormalizePlate(plate)
	if v, ok := m.vehicles[plate]; ok {
		return v, nil
	}
	v := &Vehicle{ID: m.nextVehicleID, Plate: plate, CreatedAt: time.Now()}
	m.nextVehicleID++
	m.vehicles[plate] = v
	return v, nil
}

func (m *memoryRepo) FindVehicleByPlate(ctx context.Context, plate string) (*Vehicle, error) {
	if v, ok := m.vehicles[NormalizePlate(plate)]; ok {
		return v, nil
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) GetVehicle(ctx context.Context, id int64) (*Vehicle, error) {
	for _, v := range m.vehicles {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) SetGlobalExemption(ctx context.Context, vehicleID int64, exempt bool) error {
	v, err := m.GetVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}
	v.GloballyExempt = exempt
	return nil
}

func (m *memoryRepo) GrantZoneExemption(ctx context.Context, vehicleID, zoneID int64) error {
	v, err := m.GetVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}
	for _, id := range v.ExemptZoneIDs {
		if id == zoneID {
			return nil
		}
	}
	v.ExemptZoneIDs = append(v.ExemptZoneIDs, zoneID)
	return nil
}

func (m *memoryRepo) RevokeZoneExemption(ctx context.Context, vehicleID, zoneID int64) error {
	v, err := m.GetVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}
	kept := v.ExemptZoneIDs[:0]
	for _, id := range v.ExemptZoneIDs {
		if id != zoneID {
			kept = append(kept, id)
		}
	}
	v.ExemptZoneIDs = kept
	return nil
}

func (m *memoryRepo) AssociateOwner(ctx context.Context, vehicleID, accountID int64) error {
	m.owners[vehicleID] = append(m.owners[vehicleID], accountID)
	return nil
}

func (m *memoryRepo) ListOwners(ctx context.Context, vehicleID int64) ([]int64, error) {
	return m.owners[vehicleID], nil
}

func (m *memoryRepo) CreateZone(ctx context.Context, street string, block int) (*Zone, error) {
	for _, z := range m.zones {
		if z.Street == street && z.Block == block {
			return nil, ErrZoneExists
		}
	}
	z := &Zone{ID: m.nextZoneID, Street: street, Block: block, CreatedAt: time.Now()}
	m.nextZoneID++
	m.zones[z.ID] = z
	return z, nil
}

func (m *memoryRepo) GetZone(ctx context.Context, id int64) (*Zone, error) {
	if z, ok := m.zones[id]; ok {
		return z, nil
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) ListZones(ctx context.Context) ([]Zone, error) {
	out := make([]Zone, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, *z)
	}
	return out, nil
}

func (m *memoryRepo) ListZonesByIDs(ctx context.Context, ids []int64) ([]Zone, error) {
	var out []Zone
	for _, id := range ids {
		if z, ok := m.zones[id]; ok {
			out = append(out, *z)
		}
	}
	return out, nil
}

func (m *memoryRepo) CreateRate(ctx context.Context, pricePerHour float64) (*Rate, error) {
	r := Rate{ID: m.nextRateID, PricePerHour: pricePerHour, CreatedAt: time.Now()}
	m.nextRateID++
	m.rates = append(m.rates, r)
	return &r, nil
}

func (m *memoryRepo) CurrentRate(ctx context.Context) (*Rate, int, error) {
	if len(m.rates) == 0 {
		return nil, 0, nil
	}
	latest := m.rates[0]
	for _, r := range m.rates[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return &latest, len(m.rates), nil
}

func TestLookupOrCreateVehicleNormalizesPlate(t *testing.T) {
	svc := NewService(newMemoryRepo())

	first, err := svc.LookupOrCreateVehicle(context.Background(), " abc123 ")
	require.NoError(t, err)
	require.Equal(t, "ABC123", first.Plate)

	second, err := svc.LookupOrCreateVehicle(context.Background(), "ABC123")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestLookupOrCreateVehicleRequiresPlate(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.LookupOrCreateVehicle(context.Background(), "   ")
	require.Error(t, err)
}

func TestCreateZoneRejectsDuplicatePair(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.CreateZone(context.Background(), "Main St", 100)
	require.NoError(t, err)

	_, err = svc.CreateZone(context.Background(), "Main St", 100)
	require.ErrorIs(t, err, ErrZoneExists)

	_, err = svc.CreateZone(context.Background(), "Main St", 200)
	require.NoError(t, err)
}

func TestGrantExemptionGlobalAndZonal(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	zone, err := svc.CreateZone(context.Background(), "Main St", 100)
	require.NoError(t, err)

	// Zone-scoped grant; zero means global.
	vehicle, err := svc.GrantExemption(context.Background(), "ABC123", zone.ID)
	require.NoError(t, err)
	require.False(t, vehicle.GloballyExempt)
	require.Contains(t, vehicle.ExemptZoneIDs, zone.ID)

	vehicle, err = svc.GrantExemption(context.Background(), "ABC123", 0)
	require.NoError(t, err)
	require.True(t, vehicle.GloballyExempt)
}

func TestGrantExemptionUnknownZone(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.GrantExemption(context.Background(), "ABC123", 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeExemption(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	zone, err := svc.CreateZone(context.Background(), "Main St", 100)
	require.NoError(t, err)
	_, err = svc.GrantExemption(context.Background(), "ABC123", zone.ID)
	require.NoError(t, err)
	_, err = svc.GrantExemption(context.Background(), "ABC123", 0)
	require.NoError(t, err)

	vehicle, err := svc.RevokeExemption(context.Background(), "ABC123", zone.ID)
	require.NoError(t, err)
	require.NotContains(t, vehicle.ExemptZoneIDs, zone.ID)
	require.True(t, vehicle.GloballyExempt)

	vehicle, err = svc.RevokeExemption(context.Background(), "ABC123", 0)
	require.NoError(t, err)
	require.False(t, vehicle.GloballyExempt)
}

func TestCreateRateValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.CreateRate(context.Background(), 0)
	require.Error(t, err)
	_, err = svc.CreateRate(context.Background(), -10)
	require.Error(t, err)

	rate, err := svc.CreateRate(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 50.00, rate.PricePerHour)
}

func TestExemptZonesResolvesGrantedZones(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	zoneA, err := svc.CreateZone(context.Background(), "Main St", 100)
	require.NoError(t, err)
	zoneB, err := svc.CreateZone(context.Background(), "Main St", 200)
	require.NoError(t, err)

	_, err = svc.GrantExemption(context.Background(), "ABC123", zoneA.ID)
	require.NoError(t, err)
	vehicle, err := svc.GrantExemption(context.Background(), "ABC123", zoneB.ID)
	require.NoError(t, err)

	zones, err := svc.ExemptZones(context.Background(), vehicle)
	require.NoError(t, err)
	require.Len(t, zones, 2)
}
