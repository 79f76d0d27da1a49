package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Driver is a licensed driver known to the ledger. The aggregate fields are
// derived from offenses and payments and recomputed by every mutating
// operation; they are never edited directly.
type Driver struct {
	ID            DriverID
	Name          string
	LicenseNumber string
	Email         string
	Phone         string
	LicenseStatus LicenseStatus
	Active        bool

	TotalOffenses    int
	TotalFines       decimal.Decimal
	OutstandingFines decimal.Decimal
	DrivingScore     int

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// Aggregates bundles the derived driver figures computed by the calculator.
type Aggregates struct {
	TotalOffenses    int
	TotalFines       decimal.Decimal
	OutstandingFines decimal.Decimal
	DrivingScore     int
}

// ApplyAggregates overwrites the derived fields from a fresh computation.
func (d *Driver) ApplyAggregates(a Aggregates) {
	d.TotalOffenses = a.TotalOffenses
	d.TotalFines = a.TotalFines
	d.OutstandingFines = a.OutstandingFines
	d.DrivingScore = a.DrivingScore
}
