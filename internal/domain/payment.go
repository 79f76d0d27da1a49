package domain

import (
	"time"

	"github.com/shopspring/decimal"

	dErrors "fineledger/pkg/domain-errors"
)

// PaymentMethod is how the driver paid.
type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodWallet       PaymentMethod = "wallet"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch v := PaymentMethod(normalizeToken(s)); v {
	case MethodCard, MethodBankTransfer, MethodWallet:
		return v, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown payment method").Add("method", "unknown payment method: "+s)
}

func (m PaymentMethod) String() string { return string(m) }

// Payment records one settlement attempt against one or more offenses.
// Completed payments are immutable; corrections are new compensating records.
type Payment struct {
	ID         PaymentID
	DriverID   DriverID
	OffenseIDs []OffenseID
	Amount     decimal.Decimal
	Method     PaymentMethod

	Status        PaymentStatus
	FailureReason string

	CreatedAt   time.Time
	CompletedAt *time.Time
	Version     int
}
