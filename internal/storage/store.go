// Package storage is the ledger: the single durable record of drivers,
// offenses, appeals and payments. Stores are interface-driven so the
// in-memory and PostgreSQL implementations swap without touching business
// code. All writes are optimistic: Update fails with sentinel.ErrConflict
// when the caller's version is stale.
package storage

import (
	"context"
	"time"

	"fineledger/internal/domain"
)

// SortOrder for listing endpoints.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// OffenseFilter narrows offense listings. Nil/zero fields are ignored.
type OffenseFilter struct {
	DriverID  *domain.DriverID
	Status    *domain.OffenseStatus
	Type      string
	SortBy    string // occurred_at | fine_amount | due_date
	SortOrder string // asc | desc
	Limit     int
	Offset    int
}

// AppealFilter narrows appeal listings. Search matches reason and
// description, case-insensitively.
type AppealFilter struct {
	DriverID   *domain.DriverID
	Status     *domain.AppealStatus
	Priority   *domain.AppealPriority
	AssignedTo *domain.ActorID
	Search     string
	Limit      int
	Offset     int
}

type DriverStore interface {
	Save(ctx context.Context, driver domain.Driver) error
	Update(ctx context.Context, driver domain.Driver) error
	FindByID(ctx context.Context, id domain.DriverID) (domain.Driver, error)
	List(ctx context.Context) ([]domain.Driver, error)
}

type OffenseStore interface {
	Save(ctx context.Context, offense domain.Offense) error
	Update(ctx context.Context, offense domain.Offense) error
	FindByID(ctx context.Context, id domain.OffenseID) (domain.Offense, error)
	ListByDriver(ctx context.Context, driverID domain.DriverID) ([]domain.Offense, error)
	List(ctx context.Context, filter OffenseFilter) ([]domain.Offense, error)
	// ListDueBefore returns offenses still pending payment whose due date has
	// passed. The overdue sweep feeds on this.
	ListDueBefore(ctx context.Context, cutoff time.Time) ([]domain.Offense, error)
}

type AppealStore interface {
	Save(ctx context.Context, appeal domain.Appeal) error
	Update(ctx context.Context, appeal domain.Appeal) error
	FindByID(ctx context.Context, id domain.AppealID) (domain.Appeal, error)
	ListByDriver(ctx context.Context, driverID domain.DriverID) ([]domain.Appeal, error)
	List(ctx context.Context, filter AppealFilter) ([]domain.Appeal, error)
	// FindOpenByOffense returns the one non-terminal appeal referencing the
	// offense, or sentinel.ErrNotFound.
	FindOpenByOffense(ctx context.Context, offenseID domain.OffenseID) (domain.Appeal, error)
}

type PaymentStore interface {
	Save(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, id domain.PaymentID) (domain.Payment, error)
	ListByDriver(ctx context.Context, driverID domain.DriverID) ([]domain.Payment, error)
	ListByOffense(ctx context.Context, offenseID domain.OffenseID) ([]domain.Payment, error)
}

// Ledger bundles the four stores with the primitives multi-aggregate
// operations need: an atomic unit of work and ordered per-entity locks.
type Ledger struct {
	Drivers  DriverStore
	Offenses OffenseStore
	Appeals  AppealStore
	Payments PaymentStore

	locks  *KeyedLocks
	runner TxRunner
}

// TxRunner executes fn as one atomic unit. The SQL implementation opens a
// transaction; the in-memory one relies on the caller already holding the
// relevant locks.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Atomic applies fn as a single all-or-nothing unit.
func (l *Ledger) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return l.runner.RunInTx(ctx, fn)
}

// Lock acquires the entity locks in the fixed global order and returns the
// release function. Every mutating operation locks everything it touches up
// front, which is what makes concurrent payment and appeal decisions on one
// offense resolve to exactly one winner.
func (l *Ledger) Lock(scope Scope) func() {
	return l.locks.Acquire(scope)
}
