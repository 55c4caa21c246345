package tariff

import (
	"context"
	"log/slog"

	"github.com/vialibre/vialibre/internal/registry"
	"github.com/vialibre/vialibre/internal/shared"
)

// DefaultHourlyPrice applies when no rate row is configured.
const DefaultHourlyPrice = 100.00

// RateSource supplies the applicable hourly rate.
type RateSource interface {
	CurrentRate(ctx context.Context) (*registry.Rate, int, error)
}

// Calculator computes parking fees. Exemption short-circuits before any rate
// lookup, so an exempt vehicle yields exactly 0.00 and never touches the
// rate table.
type Calculator struct {
	rates  RateSource
	logger *slog.Logger
}

// NewCalculator builds a Calculator.
func NewCalculator(rates RateSource, logger *slog.Logger) *Calculator {
	return &Calculator{rates: rates, logger: logger}
}

// ComputeFee returns the amount owed for the elapsed hours. Negative hours
// are a caller bug surfaced upstream; the calculator does not clamp them.
func (c *Calculator) ComputeFee(ctx context.Context, vehicle *registry.Vehicle, zone *registry.Zone, hours float64) (float64, error) {
	if vehicle.ExemptIn(zone) {
		return 0.00, nil
	}

	price := DefaultHourlyPrice
	rate, count, err := c.rates.CurrentRate(ctx)
	if err != nil {
		return 0, err
	}
	if rate != nil {
		price = rate.PricePerHour
	}
	if count > 1 && c.logger != nil {
		c.logger.Warn("multiple rates configured, using most recent",
			slog.Int("count", count), slog.Float64("price_per_hour", price))
	}

	return shared.RoundMoney(hours * price), nil
}
