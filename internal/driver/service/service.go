// Package service manages driver records and the driver dashboard. Driver
// aggregates (totals, outstanding fines, driving score) are derived figures:
// they are recomputed from the offense history by every mutating lifecycle
// operation and only read here.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"fineledger/internal/audit"
	"fineledger/internal/calculator"
	"fineledger/internal/domain"
	"fineledger/internal/platform/redis"
	"fineledger/internal/policy"
	"fineledger/internal/storage"
	dErrors "fineledger/pkg/domain-errors"
	"fineledger/pkg/platform/sentinel"
	"fineledger/pkg/requestcontext"
)

const dashboardTTL = 5 * time.Minute

type Service struct {
	ledger    *storage.Ledger
	gate      *policy.Gate
	publisher *audit.Publisher
	cache     *redis.Client
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(ledger *storage.Ledger, gate *policy.Gate, publisher *audit.Publisher, cache *redis.Client, logger *slog.Logger) *Service {
	return &Service{
		ledger:    ledger,
		gate:      gate,
		publisher: publisher,
		cache:     cache,
		logger:    logger,
	}
}

// at is the operation clock: the test override when set, otherwise the
// request-scoped time pinned by the middleware.
func (s *Service) at(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}

// RegisterInput carries the fields an admin supplies when onboarding a driver.
type RegisterInput struct {
	Name          string
	LicenseNumber string
	Email         string
	Phone         string
	LicenseStatus string
}

func (s *Service) Register(ctx context.Context, actor domain.Actor, input RegisterInput) (domain.Driver, error) {
	if err := s.gate.Authorize(actor, policy.ActionCreateDriver, policy.Unowned); err != nil {
		return domain.Driver{}, err
	}

	verr := dErrors.New(dErrors.CodeValidation, "invalid driver")
	if input.Name == "" {
		verr.Add("name", "name is required")
	}
	if input.LicenseNumber == "" {
		verr.Add("license_number", "license number is required")
	}
	if input.Email == "" {
		verr.Add("email", "email is required")
	}
	licenseStatus := domain.LicenseActive
	if input.LicenseStatus != "" {
		parsed, err := domain.ParseLicenseStatus(input.LicenseStatus)
		if err != nil {
			verr.Add("license_status", "unknown license status: "+input.LicenseStatus)
		} else {
			licenseStatus = parsed
		}
	}
	if len(verr.Fields) > 0 {
		return domain.Driver{}, verr
	}

	now := s.at(ctx)
	driver := domain.Driver{
		ID:               domain.NewDriverID(),
		Name:             input.Name,
		LicenseNumber:    input.LicenseNumber,
		Email:            input.Email,
		Phone:            input.Phone,
		LicenseStatus:    licenseStatus,
		Active:           true,
		TotalFines:       decimal.Zero,
		OutstandingFines: decimal.Zero,
		DrivingScore:     calculator.BaseDrivingScore,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.ledger.Drivers.Save(ctx, driver); err != nil {
		return domain.Driver{}, dErrors.Wrap(err, dErrors.CodeInternal, "save driver")
	}

	s.publisher.Emit(actor, audit.ActionDriverRegistered, "driver", driver.ID.String(), nil)
	s.logger.Info("driver registered", "driver_id", driver.ID.String())
	return driver, nil
}

// Record is one driver with their full lifecycle history, as shown on the
// officer's user detail page.
type Record struct {
	Driver   domain.Driver
	Offenses []domain.Offense
	Appeals  []domain.Appeal
	Payments []domain.Payment
}

func (s *Service) Get(ctx context.Context, actor domain.Actor, driverID domain.DriverID) (Record, error) {
	if err := s.gate.Authorize(actor, policy.ActionReadDriver, policy.Owned(driverID)); err != nil {
		return Record{}, err
	}

	driver, err := s.ledger.Drivers.FindByID(ctx, driverID)
	if err != nil {
		return Record{}, notFoundOr(err, "driver not found")
	}
	offenses, err := s.ledger.Offenses.ListByDriver(ctx, driverID)
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "list offenses")
	}
	appeals, err := s.ledger.Appeals.ListByDriver(ctx, driverID)
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "list appeals")
	}
	payments, err := s.ledger.Payments.ListByDriver(ctx, driverID)
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "list payments")
	}
	return Record{Driver: driver, Offenses: offenses, Appeals: appeals, Payments: payments}, nil
}

// List returns the driver directory. Officer and admin portals only.
func (s *Service) List(ctx context.Context, actor domain.Actor) ([]domain.Driver, error) {
	if err := s.gate.Authorize(actor, policy.ActionReadDriver, policy.Unowned); err != nil {
		return nil, err
	}
	drivers, err := s.ledger.Drivers.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list drivers")
	}
	return drivers, nil
}

// Deactivate retires a driver record. New offenses against a deactivated
// driver are rejected at issue time.
func (s *Service) Deactivate(ctx context.Context, actor domain.Actor, driverID domain.DriverID) (domain.Driver, error) {
	if err := s.gate.Authorize(actor, policy.ActionDeactivateDriver, policy.Owned(driverID)); err != nil {
		return domain.Driver{}, err
	}

	release := s.ledger.Lock(storage.Scope{Drivers: []domain.DriverID{driverID}})
	defer release()

	driver, err := s.ledger.Drivers.FindByID(ctx, driverID)
	if err != nil {
		return domain.Driver{}, notFoundOr(err, "driver not found")
	}
	if !driver.Active {
		return driver, nil // already deactivated
	}
	driver.Active = false
	driver.UpdatedAt = s.at(ctx)
	if err := s.ledger.Drivers.Update(ctx, driver); err != nil {
		return domain.Driver{}, conflictOr(err, "update driver")
	}
	driver.Version++

	s.publisher.Emit(actor, audit.ActionDriverDeactivated, "driver", driverID.String(), nil)
	return driver, nil
}

// Dashboard is the driver portal's landing summary.
type Dashboard struct {
	Driver           domain.Driver    `json:"-"`
	TotalOffenses    int              `json:"total_offenses"`
	TotalFines       decimal.Decimal  `json:"total_fines"`
	OutstandingFines decimal.Decimal  `json:"outstanding_fines"`
	DrivingScore     int              `json:"driving_score"`
	PendingPayment   int              `json:"pending_payment"`
	UnderAppeal      int              `json:"under_appeal"`
	Overdue          int              `json:"overdue"`
	OpenAppeals      int              `json:"open_appeals"`
	RecentOffenses   []domain.Offense `json:"recent_offenses"`
}

// Dashboard builds the summary, consulting the snapshot cache first. Cache
// keys carry the driver's version, so any mutation (which bumps the version)
// naturally invalidates the snapshot without cross-service plumbing.
func (s *Service) Dashboard(ctx context.Context, actor domain.Actor, driverID domain.DriverID) (Dashboard, error) {
	if err := s.gate.Authorize(actor, policy.ActionReadDriver, policy.Owned(driverID)); err != nil {
		return Dashboard{}, err
	}

	driver, err := s.ledger.Drivers.FindByID(ctx, driverID)
	if err != nil {
		return Dashboard{}, notFoundOr(err, "driver not found")
	}

	cacheKey := fmt.Sprintf("dashboard:%s:v%d", driverID.String(), driver.Version)
	if cached, ok := s.cachedDashboard(ctx, cacheKey); ok {
		cached.Driver = driver
		return cached, nil
	}

	offenses, err := s.ledger.Offenses.ListByDriver(ctx, driverID)
	if err != nil {
		return Dashboard{}, dErrors.Wrap(err, dErrors.CodeInternal, "list offenses")
	}
	appeals, err := s.ledger.Appeals.ListByDriver(ctx, driverID)
	if err != nil {
		return Dashboard{}, dErrors.Wrap(err, dErrors.CodeInternal, "list appeals")
	}

	agg := calculator.Aggregates(offenses)
	dashboard := Dashboard{
		Driver:           driver,
		TotalOffenses:    agg.TotalOffenses,
		TotalFines:       agg.TotalFines,
		OutstandingFines: agg.OutstandingFines,
		DrivingScore:     agg.DrivingScore,
	}
	for _, o := range offenses {
		switch o.Status {
		case domain.OffensePendingPayment:
			dashboard.PendingPayment++
		case domain.OffenseUnderAppeal:
			dashboard.UnderAppeal++
		case domain.OffenseOverdue:
			dashboard.Overdue++
		}
	}
	for _, a := range appeals {
		if a.Status.Open() {
			dashboard.OpenAppeals++
		}
	}
	if len(offenses) > 5 {
		dashboard.RecentOffenses = offenses[:5]
	} else {
		dashboard.RecentOffenses = offenses
	}

	s.storeDashboard(ctx, cacheKey, dashboard)
	return dashboard, nil
}

func (s *Service) cachedDashboard(ctx context.Context, key string) (Dashboard, bool) {
	if s.cache == nil {
		return Dashboard{}, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		return Dashboard{}, false
	}
	var dashboard Dashboard
	if err := json.Unmarshal(raw, &dashboard); err != nil {
		s.logger.Warn("corrupt dashboard snapshot", "key", key, "error", err)
		return Dashboard{}, false
	}
	return dashboard, true
}

func (s *Service) storeDashboard(ctx context.Context, key string, dashboard Dashboard) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(dashboard)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, dashboardTTL).Err(); err != nil {
		s.logger.Warn("store dashboard snapshot", "key", key, "error", err)
	}
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
