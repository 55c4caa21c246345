package parking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vialibre/vialibre/internal/authz"
	"github.com/vialibre/vialibre/internal/registry"
)

type memoryRepo struct {
	nextID   int64
	sessions map[int64]*Session
	balances map[int64]float64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextID:   1,
		sessions: make(map[int64]*Session),
		balances: make(map[int64]float64),
	}
}

func (m *memoryRepo) CreateSession(ctx context.Context, s *Session) (*Session, error) {
	for _, existing := range m.sessions {
		if existing.VehicleID == s.VehicleID && existing.Active {
			return nil, ErrVehicleAlreadyParked
		}
	}
	created := *s
	created.ID = m.nextID
	created.Active = true
	created.CreatedAt = time.Now()
	m.nextID++
	m.sessions[created.ID] = &created
	return &created, nil
}

func (m *memoryRepo) GetSession(ctx context.Context, id int64) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memoryRepo) FindActiveByVehicle(ctx context.Context, vehicleID int64) (*Session, error) {
	for _, s := range m.sessions {
		if s.VehicleID == vehicleID && s.Active {
			copied := *s
			return &copied, nil
		}
	}
	return nil, ErrNoActiveSession
}

func (m *memoryRepo) ListByRegistrar(ctx context.Context, accountID int64, limit int) ([]Session, error) {
	var out []Session
	for _, s := range m.sessions {
		if s.RegisteredBy == accountID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListByVehicle(ctx context.Context, vehicleID int64, limit int) ([]Session, error) {
	var out []Session
	for _, s := range m.sessions {
		if s.VehicleID == vehicleID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryRepo) CloseSession(ctx context.Context, sessionID int64, endedAt time.Time, cost float64) (*Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok || !s.Active {
		return nil, ErrNotFound
	}
	s.EndedAt = &endedAt
	s.Cost = cost
	s.Active = false
	copied := *s
	return &copied, nil
}

func (m *memoryRepo) SettleSession(ctx context.Context, sessionID, payerID int64, endedAt time.Time, cost float64) (*Session, float64, error) {
	s, ok := m.sessions[sessionID]
	if !ok || !s.Active {
		return nil, 0, ErrNotFound
	}
	balance, ok := m.balances[payerID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	if balance < cost {
		return nil, 0, ErrInsufficientBalance
	}
	s.EndedAt = &endedAt
	s.Cost = cost
	s.Active = false
	m.balances[payerID] = balance - cost
	copied := *s
	return &copied, m.balances[payerID], nil
}

type memoryDirectory struct {
	nextVehicleID int64
	vehicles      map[string]*registry.Vehicle
	zones         map[int64]*registry.Zone
	owners        map[int64][]int64
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{
		nextVehicleID: 1,
		vehicles:      make(map[string]*registry.Vehicle),
		zones:         make(map[int64]*registry.Zone),
		owners:        make(map[int64][]int64),
	}
}

func (m *memoryDirectory) addZone(id int64, street string, block int) *registry.Zone {
	z := &registry.Zone{ID: id, Street: street, Block: block}
	m.zones[id] = z
	return z
}

func (m *memoryDirectory) LookupOrCreateVehicle(ctx context.Context, plate string) (*registry.Vehicle, error) {
	plate = registry.NormalizePlate(plate)
	if v, ok := m.vehicles[plate]; ok {
		return v, nil
	}
	v := &registry.Vehicle{ID: m.nextVehicleID, Plate: plate}
	m.nextVehicleID++
	m.vehicles[plate] = v
	return v, nil
}

func (m *memoryDirectory) FindVehicle(ctx context.Context, plate string) (*registry.Vehicle, error) {
	if v, ok := m.vehicles[registry.NormalizePlate(plate)]; ok {
		return v, nil
	}
	return nil, registry.ErrNotFound
}

func (m *memoryDirectory) GetVehicle(ctx context.Context, id int64) (*registry.Vehicle, error) {
	for _, v := range m.vehicles {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, registry.ErrNotFound
}

func (m *memoryDirectory) GetZone(ctx context.Context, id int64) (*registry.Zone, error) {
	if z, ok := m.zones[id]; ok {
		return z, nil
	}
	return nil, registry.ErrNotFound
}

func (m *memoryDirectory) AssociateOwner(ctx context.Context, vehicleID, accountID int64) error {
	m.owners[vehicleID] = append(m.owners[vehicleID], accountID)
	return nil
}

type fixedFees struct {
	pricePerHour float64
}

func (f *fixedFees) ComputeFee(ctx context.Context, vehicle *registry.Vehicle, zone *registry.Zone, hours float64) (float64, error) {
	if vehicle.ExemptIn(zone) {
		return 0, nil
	}
	return hours * f.pricePerHour, nil
}

type fixture struct {
	svc       *Service
	repo      *memoryRepo
	directory *memoryDirectory
	now       time.Time
}

func newFixture(t *testing.T, pricePerHour float64) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	directory := newMemoryDirectory()
	directory.addZone(1, "Main St", 100)
	f := &fixture{
		repo:      repo,
		directory: directory,
		now:       time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(repo, directory, &fixedFees{pricePerHour: pricePerHour}, nil, nil, nil).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func driver(id int64) *authz.Principal {
	return &authz.Principal{ID: id, Roles: authz.NewRoleSet("driver")}
}

func TestOpenRejectsSecondActiveSession(t *testing.T) {
	f := newFixture(t, 50)
	p := driver(1)

	_, err := f.svc.Open(context.Background(), p, "ABC123", 1)
	require.NoError(t, err)

	_, err = f.svc.Open(context.Background(), p, "abc123", 1)
	require.ErrorIs(t, err, ErrVehicleAlreadyParked)
}

func TestOpenUnknownZone(t *testing.T) {
	f := newFixture(t, 50)

	_, err := f.svc.Open(context.Background(), driver(1), "ABC123", 99)
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestOpenRefusesExemptVehicle(t *testing.T) {
	f := newFixture(t, 50)
	v, err := f.directory.LookupOrCreateVehicle(context.Background(), "GOV001")
	require.NoError(t, err)
	v.GloballyExempt = true

	_, err = f.svc.Open(context.Background(), driver(1), "GOV001", 1)
	require.ErrorIs(t, err, ErrVehicleExempt)
}

func TestOpenAssociatesDriverAsOwner(t *testing.T) {
	f := newFixture(t, 50)

	session, err := f.svc.Open(context.Background(), driver(7), "ABC123", 1)
	require.NoError(t, err)
	require.Equal(t, []int64{7}, f.directory.owners[session.VehicleID])
}

func TestFinalizeDebitsElapsedFee(t *testing.T) {
	f := newFixture(t, 50)
	p := driver(1)
	f.repo.balances[p.ID] = 150.00

	session, err := f.svc.Open(context.Background(), p, "ABC123", 1)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	result, err := f.svc.Finalize(context.Background(), p, session.ID)
	require.NoError(t, err)
	require.Equal(t, 100.00, result.Charged)
	require.Equal(t, 50.00, result.NewBalance)
	require.True(t, result.Debited)
	require.False(t, result.Session.Active)
	require.NotNil(t, result.Session.EndedAt)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := newFixture(t, 50)
	p := driver(1)
	f.repo.balances[p.ID] = 150.00

	session, err := f.svc.Open(context.Background(), p, "ABC123", 1)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	first, err := f.svc.Finalize(context.Background(), p, session.ID)
	require.NoError(t, err)
	require.Equal(t, 100.00, first.Charged)

	f.advance(3 * time.Hour)
	second, err := f.svc.Finalize(context.Background(), p, session.ID)
	require.NoError(t, err)
	require.True(t, second.AlreadyFinalized)
	require.Equal(t, 100.00, second.Charged)
	require.False(t, second.Debited)
	require.Equal(t, 50.00, f.repo.balances[p.ID])
}

func TestFinalizeInsufficientBalanceLeavesSessionActive(t *testing.T) {
	f := newFixture(t, 15)
	p := driver(1)
	f.repo.balances[p.ID] = 10.00

	session, err := f.svc.Open(context.Background(), p, "ABC123", 1)
	require.NoError(t, err)

	f.advance(time.Hour)
	_, err = f.svc.Finalize(context.Background(), p, session.ID)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	stored, err := f.repo.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.True(t, stored.Active)
	require.Equal(t, 10.00, f.repo.balances[p.ID])
}

func TestFinalizeZeroFeeClosesWithoutDebit(t *testing.T) {
	f := newFixture(t, 50)
	p := driver(1)
	f.repo.balances[p.ID] = 20.00

	session, err := f.svc.Open(context.Background(), p, "ABC123", 1)
	require.NoError(t, err)

	// Exemption granted while parked: settlement owes nothing.
	v, err := f.directory.GetVehicle(context.Background(), session.VehicleID)
	require.NoError(t, err)
	v.GloballyExempt = true

	f.advance(4 * time.Hour)
	result, err := f.svc.Finalize(context.Background(), p, session.ID)
	require.NoError(t, err)
	require.Equal(t, 0.00, result.Charged)
	require.False(t, result.Debited)
	require.Equal(t, 20.00, f.repo.balances[p.ID])
}

func TestFinalizeForbiddenForStranger(t *testing.T) {
	f := newFixture(t, 50)
	owner := driver(1)
	f.repo.balances[owner.ID] = 100.00

	session, err := f.svc.Open(context.Background(), owner, "ABC123", 1)
	require.NoError(t, err)

	_, err = f.svc.Finalize(context.Background(), driver(2), session.ID)
	require.Error(t, err)

	inspector := &authz.Principal{ID: 3, Roles: authz.NewRoleSet("inspector")}
	f.advance(time.Hour)
	result, err := f.svc.Finalize(context.Background(), inspector, session.ID)
	require.NoError(t, err)
	require.Equal(t, 50.00, result.Charged)
}

func TestFinalizeByPlate(t *testing.T) {
	f := newFixture(t, 50)
	p := driver(1)
	f.repo.balances[p.ID] = 100.00

	_, err := f.svc.Open(context.Background(), p, "ABC123", 1)
	require.NoError(t, err)

	f.advance(time.Hour)
	result, err := f.svc.FinalizeByPlate(context.Background(), p, "abc123")
	require.NoError(t, err)
	require.Equal(t, 50.00, result.Charged)

	_, err = f.svc.FinalizeByPlate(context.Background(), p, "ZZZ999")
	require.ErrorIs(t, err, ErrNoActiveSession)
}

func TestOpenPrepaidRequiresVendorRole(t *testing.T) {
	f := newFixture(t, 50)

	_, err := f.svc.OpenPrepaid(context.Background(), driver(1), "ABC123", 1, 2)
	require.Error(t, err)
}

func TestOpenPrepaidRecordsCostUpfront(t *testing.T) {
	f := newFixture(t, 50)
	vendor := &authz.Principal{ID: 5, Roles: authz.NewRoleSet("vendor")}

	session, err := f.svc.OpenPrepaid(context.Background(), vendor, "ABC123", 1, 3)
	require.NoError(t, err)
	require.True(t, session.Prepaid)
	require.True(t, session.Active)
	require.Equal(t, 150.00, session.Cost)

	// Settling a prepaid session never touches a balance.
	f.advance(5 * time.Hour)
	result, err := f.svc.Finalize(context.Background(), vendor, session.ID)
	require.NoError(t, err)
	require.Equal(t, 150.00, result.Charged)
	require.False(t, result.Debited)
}

func TestOpenPrepaidRejectsNonPositiveHours(t *testing.T) {
	f := newFixture(t, 50)
	vendor := &authz.Principal{ID: 5, Roles: authz.NewRoleSet("vendor")}

	_, err := f.svc.OpenPrepaid(context.Background(), vendor, "ABC123", 1, 0)
	require.ErrorIs(t, err, ErrInvalidDuration)
	_, err = f.svc.OpenPrepaid(context.Background(), vendor, "ABC123", 1, -2)
	require.ErrorIs(t, err, ErrInvalidDuration)
}
