// Package service issues offenses and moves them through their lifecycle.
// Status transitions live here and nowhere else: handlers call operations,
// never set statuses.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"fineledger/internal/audit"
	"fineledger/internal/calculator"
	"fineledger/internal/domain"
	"fineledger/internal/platform/metrics"
	"fineledger/internal/policy"
	"fineledger/internal/storage"
	dErrors "fineledger/pkg/domain-errors"
	"fineledger/pkg/platform/sentinel"
	"fineledger/pkg/requestcontext"
)

type Service struct {
	ledger    *storage.Ledger
	gate      *policy.Gate
	publisher *audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// paymentWindow is how long a driver has to pay before the sweep flips
	// the offense to overdue.
	paymentWindow time.Duration
	now           func() time.Time
}

func NewService(ledger *storage.Ledger, gate *policy.Gate, publisher *audit.Publisher, m *metrics.Metrics, logger *slog.Logger, paymentWindow time.Duration) *Service {
	return &Service{
		ledger:        ledger,
		gate:          gate,
		publisher:     publisher,
		metrics:       m,
		logger:        logger,
		paymentWindow: paymentWindow,
	}
}

// at is the operation clock: the test override when set, otherwise the
// request-scoped time pinned by the middleware. The sweep has no request, so
// its marks fall back to the wall clock.
func (s *Service) at(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}

// CreateInput carries the facts an officer records at issue time.
type CreateInput struct {
	DriverID   string
	Type       string
	OccurredAt time.Time
	Location   string
	FineAmount decimal.Decimal
	Evidence   []string
	Severity   string
}

// Create issues an offense. The fine enters PendingPayment with a due date
// one payment window out, and the driver's aggregates absorb it immediately.
func (s *Service) Create(ctx context.Context, actor domain.Actor, input CreateInput) (domain.Offense, error) {
	if err := s.gate.Authorize(actor, policy.ActionCreateOffense, policy.Unowned); err != nil {
		return domain.Offense{}, err
	}

	verr := dErrors.New(dErrors.CodeValidation, "invalid offense")
	driverID, err := domain.ParseDriverID(input.DriverID)
	if err != nil {
		verr.Add("driver_id", "invalid driver id")
	}
	if input.Type == "" {
		verr.Add("type", "offense type is required")
	}
	if input.OccurredAt.IsZero() {
		verr.Add("occurred_at", "offense date is required")
	}
	if !input.FineAmount.IsPositive() {
		verr.Add("fine_amount", "fine amount must be positive")
	}
	severity, err := domain.ParseSeverity(input.Severity)
	if err != nil {
		verr.Add("severity", "unknown severity: "+input.Severity)
	}
	if len(verr.Fields) > 0 {
		return domain.Offense{}, verr
	}

	release := s.ledger.Lock(storage.Scope{Drivers: []domain.DriverID{driverID}})
	defer release()

	driver, err := s.ledger.Drivers.FindByID(ctx, driverID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.Offense{}, dErrors.New(dErrors.CodeValidation, "invalid driver").
				Add("driver_id", "driver does not exist")
		}
		return domain.Offense{}, dErrors.Wrap(err, dErrors.CodeInternal, "load driver")
	}
	if !driver.Active {
		return domain.Offense{}, dErrors.New(dErrors.CodeValidation, "invalid driver").
			Add("driver_id", "driver record is deactivated")
	}

	now := s.at(ctx)
	offense := domain.Offense{
		ID:         domain.NewOffenseID(),
		DriverID:   driverID,
		OfficerID:  actor.ID,
		Type:       input.Type,
		OccurredAt: input.OccurredAt.UTC(),
		Location:   input.Location,
		FineAmount: input.FineAmount,
		Evidence:   input.Evidence,
		Severity:   severity,
		Points:     severity.Points(),
		Status:     domain.OffensePendingPayment,
		DueDate:    now.Add(s.paymentWindow),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.ledger.Atomic(ctx, func(ctx context.Context) error {
		if err := s.ledger.Offenses.Save(ctx, offense); err != nil {
			return err
		}
		return s.refreshDriver(ctx, driver)
	})
	if err != nil {
		return domain.Offense{}, conflictOr(err, "record offense")
	}

	s.metrics.OffensesCreated.Inc()
	s.publisher.Emit(actor, audit.ActionOffenseRecorded, "offense", offense.ID.String(), map[string]string{
		"driver_id": driverID.String(),
		"severity":  severity.String(),
		"fine":      offense.FineAmount.StringFixed(2),
	})
	s.logger.Info("offense recorded",
		"offense_id", offense.ID.String(), "driver_id", driverID.String(), "severity", severity.String())
	return offense, nil
}

func (s *Service) Get(ctx context.Context, actor domain.Actor, id domain.OffenseID) (domain.Offense, error) {
	offense, err := s.ledger.Offenses.FindByID(ctx, id)
	if err != nil {
		// Existence is masked for drivers; the gate produces the same
		// not-found for records they do not own.
		return domain.Offense{}, notFoundOr(err, "offense not found")
	}
	if err := s.gate.Authorize(actor, policy.ActionReadOffense, policy.Owned(offense.DriverID)); err != nil {
		return domain.Offense{}, err
	}
	return offense, nil
}

// List returns offenses matching the filter. Drivers are pinned to their own
// records regardless of what the filter asks for.
func (s *Service) List(ctx context.Context, actor domain.Actor, filter storage.OffenseFilter) ([]domain.Offense, error) {
	if actor.Role == domain.RoleDriver {
		own := actor.DriverID()
		filter.DriverID = &own
	}
	target := policy.Unowned
	if filter.DriverID != nil {
		target = policy.Owned(*filter.DriverID)
	}
	if err := s.gate.Authorize(actor, policy.ActionReadOffense, target); err != nil {
		return nil, err
	}
	offenses, err := s.ledger.Offenses.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list offenses")
	}
	return offenses, nil
}

// MarkOverdue flips one pending offense past its due date to overdue. It is
// the sweep's operation and deliberately idempotent: paid, appealed and
// cancelled offenses are left untouched, as is anything not yet due.
func (s *Service) MarkOverdue(ctx context.Context, id domain.OffenseID) (bool, error) {
	// First read is lock-free, just to learn the owner for the lock scope.
	offense, err := s.ledger.Offenses.FindByID(ctx, id)
	if err != nil {
		return false, notFoundOr(err, "offense not found")
	}

	release := s.ledger.Lock(storage.Scope{
		Drivers:  []domain.DriverID{offense.DriverID},
		Offenses: []domain.OffenseID{id},
	})
	defer release()

	offense, err = s.ledger.Offenses.FindByID(ctx, id)
	if err != nil {
		return false, notFoundOr(err, "offense not found")
	}
	if offense.Status != domain.OffensePendingPayment {
		return false, nil
	}
	if !offense.DueDate.Before(s.at(ctx)) {
		return false, nil
	}

	driver, err := s.ledger.Drivers.FindByID(ctx, offense.DriverID)
	if err != nil {
		return false, notFoundOr(err, "driver not found")
	}

	offense.Status = domain.OffenseOverdue
	offense.UpdatedAt = s.at(ctx)
	err = s.ledger.Atomic(ctx, func(ctx context.Context) error {
		if err := s.ledger.Offenses.Update(ctx, offense); err != nil {
			return err
		}
		return s.refreshDriver(ctx, driver)
	})
	if err != nil {
		// Losing the race means someone paid or appealed first. Nothing to do.
		if errors.Is(err, sentinel.ErrConflict) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "mark offense overdue")
	}

	s.metrics.OffensesOverdue.Inc()
	s.publisher.Emit(domain.SystemActor, audit.ActionOffenseOverdue, "offense", id.String(), map[string]string{
		"driver_id": offense.DriverID.String(),
		"due_date":  offense.DueDate.UTC().Format(time.RFC3339),
	})
	return true, nil
}

// Cancel voids an offense. Admin override with a mandatory reason; paid
// offenses cannot be cancelled, they need a compensating record.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, id domain.OffenseID, reason string) (domain.Offense, error) {
	if reason == "" {
		return domain.Offense{}, dErrors.New(dErrors.CodeValidation, "invalid cancellation").
			Add("reason", "cancellation reason is required")
	}

	offense, err := s.ledger.Offenses.FindByID(ctx, id)
	if err != nil {
		return domain.Offense{}, notFoundOr(err, "offense not found")
	}
	if err := s.gate.Authorize(actor, policy.ActionCancelOffense, policy.Owned(offense.DriverID)); err != nil {
		return domain.Offense{}, err
	}

	release := s.ledger.Lock(storage.Scope{
		Drivers:  []domain.DriverID{offense.DriverID},
		Offenses: []domain.OffenseID{id},
	})
	defer release()

	// Re-read under the lock.
	offense, err = s.ledger.Offenses.FindByID(ctx, id)
	if err != nil {
		return domain.Offense{}, notFoundOr(err, "offense not found")
	}
	if offense.Status == domain.OffenseCancelled {
		return offense, nil
	}
	if offense.Status == domain.OffensePaid {
		return domain.Offense{}, dErrors.New(dErrors.CodeConflict, "paid offenses cannot be cancelled")
	}

	driver, err := s.ledger.Drivers.FindByID(ctx, offense.DriverID)
	if err != nil {
		return domain.Offense{}, notFoundOr(err, "driver not found")
	}

	offense.Status = domain.OffenseCancelled
	offense.CancelReason = reason
	offense.UpdatedAt = s.at(ctx)

	err = s.ledger.Atomic(ctx, func(ctx context.Context) error {
		if err := s.ledger.Offenses.Update(ctx, offense); err != nil {
			return err
		}
		return s.refreshDriver(ctx, driver)
	})
	if err != nil {
		return domain.Offense{}, conflictOr(err, "cancel offense")
	}
	offense.Version++

	s.publisher.Emit(actor, audit.ActionOffenseCancelled, "offense", id.String(), map[string]string{
		"reason": reason,
	})
	return offense, nil
}

// refreshDriver recomputes the driver's aggregates from the full offense
// history and writes them back. Call under the driver's lock.
func (s *Service) refreshDriver(ctx context.Context, driver domain.Driver) error {
	offenses, err := s.ledger.Offenses.ListByDriver(ctx, driver.ID)
	if err != nil {
		return err
	}
	driver.ApplyAggregates(calculator.Aggregates(offenses))
	driver.UpdatedAt = s.at(ctx)
	return s.ledger.Drivers.Update(ctx, driver)
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func conflictOr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "record was modified concurrently, retry")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
