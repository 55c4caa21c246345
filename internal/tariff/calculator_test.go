package tariff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vialibre/vialibre/internal/registry"
)

type stubRateSource struct {
	rates []registry.Rate
}

func (s *stubRateSource) CurrentRate(ctx context.Context) (*registry.Rate, int, error) {
	if len(s.rates) == 0 {
		return nil, 0, nil
	}
	latest := s.rates[0]
	for _, r := range s.rates[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return &latest, len(s.rates), nil
}

func TestGloballyExemptVehicleCostsZero(t *testing.T) {
	calc := NewCalculator(&stubRateSource{rates: []registry.Rate{{ID: 1, PricePerHour: 50}}}, nil)
	vehicle := &registry.Vehicle{ID: 1, Plate: "XYZ789", GloballyExempt: true}
	zone := &registry.Zone{ID: 9, Street: "Main St", Block: 100}

	fee, err := calc.ComputeFee(context.Background(), vehicle, zone, 48.0)
	require.NoError(t, err)
	require.Equal(t, 0.00, fee)
}

func TestPartialExemptionIsLocalToZone(t *testing.T) {
	calc := NewCalculator(&stubRateSource{rates: []registry.Rate{{ID: 1, PricePerHour: 50}}}, nil)
	zoneA := &registry.Zone{ID: 1, Street: "Main St", Block: 100}
	zoneB := &registry.Zone{ID: 2, Street: "Main St", Block: 200}
	vehicle := &registry.Vehicle{ID: 1, Plate: "ABC123", ExemptZoneIDs: []int64{zoneA.ID}}

	fee, err := calc.ComputeFee(context.Background(), vehicle, zoneA, 2.0)
	require.NoError(t, err)
	require.Equal(t, 0.00, fee)

	fee, err = calc.ComputeFee(context.Background(), vehicle, zoneB, 2.0)
	require.NoError(t, err)
	require.Equal(t, 100.00, fee)
}

func TestDefaultRateFallback(t *testing.T) {
	calc := NewCalculator(&stubRateSource{}, nil)
	vehicle := &registry.Vehicle{ID: 1, Plate: "ABC123"}
	zone := &registry.Zone{ID: 1, Street: "Main St", Block: 100}

	fee, err := calc.ComputeFee(context.Background(), vehicle, zone, 2.0)
	require.NoError(t, err)
	require.Equal(t, 200.00, fee)
}

func TestMostRecentRateWins(t *testing.T) {
	now := time.Now()
	calc := NewCalculator(&stubRateSource{rates: []registry.Rate{
		{ID: 1, PricePerHour: 80, CreatedAt: now.Add(-time.Hour)},
		{ID: 2, PricePerHour: 50, CreatedAt: now},
	}}, nil)
	vehicle := &registry.Vehicle{ID: 1, Plate: "ABC123"}
	zone := &registry.Zone{ID: 1, Street: "Main St", Block: 100}

	fee, err := calc.ComputeFee(context.Background(), vehicle, zone, 2.0)
	require.NoError(t, err)
	require.Equal(t, 100.00, fee)
}

func TestFeeRoundsHalfUp(t *testing.T) {
	calc := NewCalculator(&stubRateSource{rates: []registry.Rate{{ID: 1, PricePerHour: 10}}}, nil)
	vehicle := &registry.Vehicle{ID: 1, Plate: "ABC123"}
	zone := &registry.Zone{ID: 1, Street: "Main St", Block: 100}

	// 0.7375h * 10 = 7.375 → 7.38
	fee, err := calc.ComputeFee(context.Background(), vehicle, zone, 0.7375)
	require.NoError(t, err)
	require.Equal(t, 7.38, fee)
}

func TestNilZoneIsNotExempt(t *testing.T) {
	calc := NewCalculator(&stubRateSource{rates: []registry.Rate{{ID: 1, PricePerHour: 50}}}, nil)
	vehicle := &registry.Vehicle{ID: 1, Plate: "ABC123", ExemptZoneIDs: []int64{3}}

	fee, err := calc.ComputeFee(context.Background(), vehicle, nil, 1.0)
	require.NoError(t, err)
	require.Equal(t, 50.00, fee)
}
