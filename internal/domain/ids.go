package domain

import (
	"github.com/google/uuid"

	dErrors "fineledger/pkg/domain-errors"
)

// Typed IDs keep driver, offense, appeal and payment identifiers from being
// swapped at call sites. Parsing enforces valid, non-nil UUIDs at trust
// boundaries.
type (
	ActorID   uuid.UUID
	DriverID  uuid.UUID
	OffenseID uuid.UUID
	AppealID  uuid.UUID
	PaymentID uuid.UUID
)

func parseUUID(field, s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be nil")
	}
	return u, nil
}

func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID("actor id", s)
	return ActorID(u), err
}

func ParseDriverID(s string) (DriverID, error) {
	u, err := parseUUID("driver id", s)
	return DriverID(u), err
}

func ParseOffenseID(s string) (OffenseID, error) {
	u, err := parseUUID("offense id", s)
	return OffenseID(u), err
}

func ParseAppealID(s string) (AppealID, error) {
	u, err := parseUUID("appeal id", s)
	return AppealID(u), err
}

func ParsePaymentID(s string) (PaymentID, error) {
	u, err := parseUUID("payment id", s)
	return PaymentID(u), err
}

func NewActorID() ActorID     { return ActorID(uuid.New()) }
func NewDriverID() DriverID   { return DriverID(uuid.New()) }
func NewOffenseID() OffenseID { return OffenseID(uuid.New()) }
func NewAppealID() AppealID   { return AppealID(uuid.New()) }
func NewPaymentID() PaymentID { return PaymentID(uuid.New()) }

func (id ActorID) String() string   { return uuid.UUID(id).String() }
func (id DriverID) String() string  { return uuid.UUID(id).String() }
func (id OffenseID) String() string { return uuid.UUID(id).String() }
func (id AppealID) String() string  { return uuid.UUID(id).String() }
func (id PaymentID) String() string { return uuid.UUID(id).String() }

// Text marshaling keeps typed ids rendering as canonical uuid strings in
// JSON payloads and map keys.
func (id ActorID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id DriverID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id OffenseID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id AppealID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id PaymentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ActorID) UnmarshalText(b []byte) error {
	parsed, err := ParseActorID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *DriverID) UnmarshalText(b []byte) error {
	parsed, err := ParseDriverID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *OffenseID) UnmarshalText(b []byte) error {
	parsed, err := ParseOffenseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *AppealID) UnmarshalText(b []byte) error {
	parsed, err := ParseAppealID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *PaymentID) UnmarshalText(b []byte) error {
	parsed, err := ParsePaymentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ActorID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DriverID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id OffenseID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AppealID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id PaymentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
