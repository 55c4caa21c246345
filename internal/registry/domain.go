package registry

import (
	"strings"
	"time"
)

// Vehicle is identified by its plate and owned independently of accounts.
// Ownership associations are informational only and never gate operations.
type Vehicle struct {
	ID             int64
	Plate          string
	GloballyExempt bool
	ExemptZoneIDs  []int64
	CreatedAt      time.Time
}

// ExemptIn reports whether the vehicle parks free of charge in the zone.
// A nil zone means "no specific zone", which only a global exemption covers.
func (v *Vehicle) ExemptIn(zone *Zone) bool {
	if v == nil {
		return false
	}
	if v.GloballyExempt {
		return true
	}
	if zone == nil {
		return false
	}
	for _, id := range v.ExemptZoneIDs {
		if id == zone.ID {
			return true
		}
	}
	return false
}

// HasZoneExemptions reports whether any partial exemption is granted.
func (v *Vehicle) HasZoneExemptions() bool {
	return v != nil && len(v.ExemptZoneIDs) > 0
}

// Zone is one block of one street. The (street, block) pair is unique.
type Zone struct {
	ID        int64
	Street    string
	Block     int
	CreatedAt time.Time
}

// Rate is a price per hour of parking. The engine expects exactly one rate
// row in practice; when several exist the most recently created one wins.
type Rate struct {
	ID           int64
	PricePerHour float64
	CreatedAt    time.Time
}

// NormalizePlate canonicalises a plate string for lookup-or-create.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}
