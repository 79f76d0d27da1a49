// Package gateway abstracts the card acquirer. The engine only needs a
// charge that either clears or declines; settlement files and reconciliation
// live outside this system.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"fineledger/internal/domain"
)

// ChargeRequest is one settlement attempt.
type ChargeRequest struct {
	PaymentID domain.PaymentID
	DriverID  domain.DriverID
	Amount    decimal.Decimal
	Method    domain.PaymentMethod
}

// Declined is returned when the acquirer refuses the charge. It is a
// business outcome, not a transport failure.
type Declined struct {
	Reason string
}

func (d Declined) Error() string { return "charge declined: " + d.Reason }

// Gateway authorizes charges.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) error
}

// Simulated approves everything below the decline threshold. A zero
// threshold approves everything; development default.
type Simulated struct {
	DeclineOver decimal.Decimal
}

func (g Simulated) Charge(_ context.Context, req ChargeRequest) error {
	if g.DeclineOver.IsPositive() && req.Amount.GreaterThan(g.DeclineOver) {
		return Declined{Reason: "insufficient_funds"}
	}
	return nil
}
