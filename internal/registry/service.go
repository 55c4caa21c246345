package registry

import (
	"context"
	"errors"
	"strings"
)

// RepositoryPort defines data access methods for master data.
type RepositoryPort interface {
	GetOrCreateVehicle(ctx context.Context, plate string) (*Vehicle, error)
	FindVehicleByPlate(ctx context.Context, plate string) (*Vehicle, error)
	GetVehicle(ctx context.Context, id int64) (*Vehicle, error)
	SetGlobalExemption(ctx context.Context, vehicleID int64, exempt bool) error
	GrantZoneExemption(ctx context.Context, vehicleID, zoneID int64) error
	RevokeZoneExemption(ctx context.Context, vehicleID, zoneID int64) error
	AssociateOwner(ctx context.Context, vehicleID, accountID int64) error
	ListOwners(ctx context.Context, vehicleID int64) ([]int64, error)
	CreateZone(ctx context.Context, street string, block int) (*Zone, error)
	GetZone(ctx context.Context, id int64) (*Zone, error)
	ListZones(ctx context.Context) ([]Zone, error)
	ListZonesByIDs(ctx context.Context, ids []int64) ([]Zone, error)
	CreateRate(ctx context.Context, pricePerHour float64) (*Rate, error)
	CurrentRate(ctx context.Context) (*Rate, int, error)
}

// Service handles master data business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// LookupOrCreateVehicle normalises the plate and fetches or creates the row.
func (s *Service) LookupOrCreateVehicle(ctx context.Context, plate string) (*Vehicle, error) {
	if NormalizePlate(plate) == "" {
		return nil, errors.New("registry: plate required")
	}
	return s.repo.GetOrCreateVehicle(ctx, plate)
}

// FindVehicle returns the vehicle without creating it.
func (s *Service) FindVehicle(ctx context.Context, plate string) (*Vehicle, error) {
	return s.repo.FindVehicleByPlate(ctx, plate)
}

// GetVehicle fetches a vehicle by ID.
func (s *Service) GetVehicle(ctx context.Context, id int64) (*Vehicle, error) {
	return s.repo.GetVehicle(ctx, id)
}

// AssociateOwner links an account to a vehicle.
func (s *Service) AssociateOwner(ctx context.Context, vehicleID, accountID int64) error {
	return s.repo.AssociateOwner(ctx, vehicleID, accountID)
}

// Owners returns the account IDs associated with a vehicle.
func (s *Service) Owners(ctx context.Context, vehicleID int64) ([]int64, error) {
	return s.repo.ListOwners(ctx, vehicleID)
}

// CreateZone validates and inserts a zone.
func (s *Service) CreateZone(ctx context.Context, street string, block int) (*Zone, error) {
	street = strings.TrimSpace(street)
	if street == "" {
		return nil, errors.New("registry: street required")
	}
	if block < 0 {
		return nil, errors.New("registry: block must not be negative")
	}
	return s.repo.CreateZone(ctx, street, block)
}

// GetZone fetches a zone by ID.
func (s *Service) GetZone(ctx context.Context, id int64) (*Zone, error) {
	return s.repo.GetZone(ctx, id)
}

// ListZones returns all zones.
func (s *Service) ListZones(ctx context.Context) ([]Zone, error) {
	return s.repo.ListZones(ctx)
}

// ExemptZones resolves the zones a vehicle is partially exempt in.
func (s *Service) ExemptZones(ctx context.Context, v *Vehicle) ([]Zone, error) {
	if v == nil || len(v.ExemptZoneIDs) == 0 {
		return nil, nil
	}
	return s.repo.ListZonesByIDs(ctx, v.ExemptZoneIDs)
}

// GrantExemption grants a global or zonal fee waiver. A zero zoneID means
// global.
func (s *Service) GrantExemption(ctx context.Context, plate string, zoneID int64) (*Vehicle, error) {
	vehicle, err := s.repo.GetOrCreateVehicle(ctx, plate)
	if err != nil {
		return nil, err
	}
	if zoneID == 0 {
		if err := s.repo.SetGlobalExemption(ctx, vehicle.ID, true); err != nil {
			return nil, err
		}
		vehicle.GloballyExempt = true
		return vehicle, nil
	}
	if _, err := s.repo.GetZone(ctx, zoneID); err != nil {
		return nil, err
	}
	if err := s.repo.GrantZoneExemption(ctx, vehicle.ID, zoneID); err != nil {
		return nil, err
	}
	return s.repo.GetVehicle(ctx, vehicle.ID)
}

// RevokeExemption removes a global or zonal fee waiver.
func (s *Service) RevokeExemption(ctx context.Context, plate string, zoneID int64) (*Vehicle, error) {
	vehicle, err := s.repo.FindVehicleByPlate(ctx, plate)
	if err != nil {
		return nil, err
	}
	if zoneID == 0 {
		if err := s.repo.SetGlobalExemption(ctx, vehicle.ID, false); err != nil {
			return nil, err
		}
		vehicle.GloballyExempt = false
		return vehicle, nil
	}
	if err := s.repo.RevokeZoneExemption(ctx, vehicle.ID, zoneID); err != nil {
		return nil, err
	}
	return s.repo.GetVehicle(ctx, vehicle.ID)
}

// CreateRate validates and inserts an hourly rate.
func (s *Service) CreateRate(ctx context.Context, pricePerHour float64) (*Rate, error) {
	if pricePerHour <= 0 {
		return nil, errors.New("registry: price per hour must be positive")
	}
	return s.repo.CreateRate(ctx, pricePerHour)
}

// CurrentRate exposes the rate selection for the tariff calculator.
func (s *Service) CurrentRate(ctx context.Context) (*Rate, int, error) {
	return s.repo.CurrentRate(ctx)
}
