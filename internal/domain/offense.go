package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offense is a fine issued against a driver. The core facts are immutable
// after creation; only Status (and the cancel audit fields) move.
type Offense struct {
	ID         OffenseID
	DriverID   DriverID
	OfficerID  ActorID
	Type       string
	OccurredAt time.Time
	Location   string
	FineAmount decimal.Decimal
	Evidence   []string
	Severity   Severity
	Points     int

	Status       OffenseStatus
	DueDate      time.Time
	CancelReason string

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// CountsAgainstScore reports whether the offense still deducts points.
// Cancelled offenses (including appeal approvals) do not.
func (o Offense) CountsAgainstScore() bool {
	return o.Status != OffenseCancelled
}

// Outstanding reports whether the fine is still owed.
func (o Offense) Outstanding() bool {
	return o.Status != OffensePaid && o.Status != OffenseCancelled
}
