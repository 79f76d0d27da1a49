// Package service settles fines. A payment must cover its offenses exactly:
// the submitted amount is compared against the outstanding total and
// anything else is rejected before the gateway is touched. Gateway declines
// leave a failed payment record and the offenses untouched.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fineledger/internal/audit"
	"fineledger/internal/calculator"
	"fineledger/internal/domain"
	"fineledger/internal/payment/gateway"
	"fineledger/internal/platform/metrics"
	"fineledger/internal/policy"
	"fineledger/internal/storage"
	dErrors "fineledger/pkg/domain-errors"
	"fineledger/pkg/platform/sentinel"
	"fineledger/pkg/requestcontext"
)

var tracer = otel.Tracer("fineledger/payment")

type Service struct {
	ledger    *storage.Ledger
	gate      *policy.Gate
	acquirer  gateway.Gateway
	publisher *audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(ledger *storage.Ledger, gate *policy.Gate, acquirer gateway.Gateway, publisher *audit.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		ledger:    ledger,
		gate:      gate,
		acquirer:  acquirer,
		publisher: publisher,
		metrics:   m,
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

// ProcessInput is a driver's settlement submission.
type ProcessInput struct {
	OffenseIDs []string
	Amount     decimal.Decimal
	Method     string
}

// Process settles one or more offenses in a single payment. All referenced
// offenses must belong to the paying driver and be payable, and the amount
// must equal their outstanding total exactly.
func (s *Service) Process(ctx context.Context, actor domain.Actor, input ProcessInput) (domain.Payment, error) {
	if err := s.gate.Authorize(actor, policy.ActionCreatePayment, policy.Owned(actor.DriverID())); err != nil {
		return domain.Payment{}, err
	}

	verr := dErrors.New(dErrors.CodeValidation, "invalid payment")
	if len(input.OffenseIDs) == 0 {
		verr.Add("offense_ids", "at least one offense is required")
	}
	method, err := domain.ParsePaymentMethod(input.Method)
	if err != nil {
		verr.Add("method", "unknown payment method: "+input.Method)
	}
	offenseIDs := make([]domain.OffenseID, 0, len(input.OffenseIDs))
	seen := make(map[domain.OffenseID]bool, len(input.OffenseIDs))
	for _, raw := range input.OffenseIDs {
		id, err := domain.ParseOffenseID(raw)
		if err != nil {
			verr.Add("offense_ids", "invalid offense id: "+raw)
			continue
		}
		if seen[id] {
			verr.Add("offense_ids", "duplicate offense id: "+raw)
			continue
		}
		seen[id] = true
		offenseIDs = append(offenseIDs, id)
	}
	if len(verr.Fields) > 0 {
		return domain.Payment{}, verr
	}

	driverID := actor.DriverID()
	paymentID := domain.NewPaymentID()

	release := s.ledger.Lock(storage.Scope{
		Drivers:  []domain.DriverID{driverID},
		Offenses: offenseIDs,
		Payments: []domain.PaymentID{paymentID},
	})
	defer release()

	driver, err := s.ledger.Drivers.FindByID(ctx, driverID)
	if err != nil {
		return domain.Payment{}, notFoundOr(err, "driver not found")
	}

	history, err := s.ledger.Payments.ListByDriver(ctx, driverID)
	if err != nil {
		return domain.Payment{}, dErrors.Wrap(err, dErrors.CodeInternal, "list payments")
	}

	offenses := make([]domain.Offense, 0, len(offenseIDs))
	for _, id := range offenseIDs {
		offense, err := s.ledger.Offenses.FindByID(ctx, id)
		if err != nil {
			return domain.Payment{}, notFoundOr(err, "offense not found")
		}
		// Paying someone else's fine is masked the same as a missing record.
		if offense.DriverID != driverID {
			return domain.Payment{}, dErrors.New(dErrors.CodeNotFound, "offense not found")
		}
		if !offense.Status.Payable() {
			return domain.Payment{}, dErrors.New(dErrors.CodeConflict, "offense cannot be paid in its current state").
				Add("offense_ids", "offense "+id.String()+" is "+offense.Status.String())
		}
		// An offense is paid exactly when a completed payment settles it. A
		// payable status alongside a completed payment means the records are
		// inconsistent; refuse to charge twice.
		if calculator.CompletedPaymentTotal(offense.ID, offense.FineAmount, history).IsPositive() {
			return domain.Payment{}, dErrors.New(dErrors.CodeConflict, "offense already settled").
				Add("offense_ids", "offense "+id.String()+" already has a completed payment")
		}
		offenses = append(offenses, offense)
	}

	due := calculator.OutstandingTotal(offenses)
	if !input.Amount.Equal(due) {
		return domain.Payment{}, dErrors.New(dErrors.CodeConflict, "amount mismatch").
			Add("amount", "payment must cover the outstanding balance exactly: expected "+due.StringFixed(2))
	}

	now := s.at(ctx)
	payment := domain.Payment{
		ID:         paymentID,
		DriverID:   driverID,
		OffenseIDs: offenseIDs,
		Amount:     input.Amount,
		Method:     method,
		Status:     domain.PaymentPending,
		CreatedAt:  now,
	}

	if err := s.charge(ctx, payment); err != nil {
		var declined gateway.Declined
		if errors.As(err, &declined) {
			payment.Status = domain.PaymentFailed
			payment.FailureReason = declined.Reason
			if saveErr := s.ledger.Payments.Save(ctx, payment); saveErr != nil {
				return domain.Payment{}, dErrors.Wrap(saveErr, dErrors.CodeInternal, "record failed payment")
			}
			s.metrics.PaymentsTotal.WithLabelValues(string(domain.PaymentFailed)).Inc()
			s.publisher.Emit(actor, audit.ActionPaymentFailed, "payment", paymentID.String(), map[string]string{
				"reason": declined.Reason,
			})
			s.logger.Info("payment declined", "payment_id", paymentID.String(), "reason", declined.Reason)
			return payment, dErrors.New(dErrors.CodeGatewayDeclined, "payment declined: "+declined.Reason)
		}
		return domain.Payment{}, dErrors.Wrap(err, dErrors.CodeInternal, "charge payment")
	}

	completedAt := s.at(ctx)
	payment.Status = domain.PaymentCompleted
	payment.CompletedAt = &completedAt

	err = s.ledger.Atomic(ctx, func(ctx context.Context) error {
		if err := s.ledger.Payments.Save(ctx, payment); err != nil {
			return err
		}
		for _, offense := range offenses {
			offense.Status = domain.OffensePaid
			offense.UpdatedAt = completedAt
			if err := s.ledger.Offenses.Update(ctx, offense); err != nil {
				return err
			}
		}
		all, err := s.ledger.Offenses.ListByDriver(ctx, driverID)
		if err != nil {
			return err
		}
		driver.ApplyAggregates(calculator.Aggregates(all))
		driver.UpdatedAt = completedAt
		return s.ledger.Drivers.Update(ctx, driver)
	})
	if err != nil {
		return domain.Payment{}, conflictOr(err, "settle payment")
	}

	s.metrics.PaymentsTotal.WithLabelValues(string(domain.PaymentCompleted)).Inc()
	s.publisher.Emit(actor, audit.ActionPaymentCompleted, "payment", paymentID.String(), map[string]string{
		"amount":   payment.Amount.StringFixed(2),
		"offenses": joinIDs(offenseIDs),
	})
	s.logger.Info("payment completed",
		"payment_id", paymentID.String(), "driver_id", driverID.String(), "amount", payment.Amount.StringFixed(2))
	return payment, nil
}

// charge calls the acquirer inside a span so declined and cleared charges
// show up in traces.
func (s *Service) charge(ctx context.Context, payment domain.Payment) error {
	ctx, span := tracer.Start(ctx, "gateway.charge")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", payment.ID.String()),
		attribute.String("payment.method", payment.Method.String()),
		attribute.String("payment.amount", payment.Amount.StringFixed(2)),
	)

	err := s.acquirer.Charge(ctx, gateway.ChargeRequest{
		PaymentID: payment.ID,
		DriverID:  payment.DriverID,
		Amount:    payment.Amount,
		Method:    payment.Method,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge failed")
	}
	return err
}

func (s *Service) Get(ctx context.Context, actor domain.Actor, id domain.PaymentID) (domain.Payment, error) {
	payment, err := s.ledger.Payments.FindByID(ctx, id)
	if err != nil {
		return domain.Payment{}, notFoundOr(err, "payment not found")
	}
	if err := s.gate.Authorize(actor, policy.ActionReadPayment, policy.Owned(payment.DriverID)); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

func (s *Service) ListByDriver(ctx context.Context, actor domain.Actor, driverID domain.DriverID) ([]domain.Payment, error) {
	if err := s.gate.Authorize(actor, policy.ActionReadPayment, policy.Owned(driverID)); err != nil {
		return nil, err
	}
	payments, err := s.ledger.Payments.ListByDriver(ctx, driverID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list payments")
	}
	return payments, nil
}

// Summary is the driver portal's payment overview.
type Summary struct {
	TotalPaid        decimal.Decimal
	TotalOutstanding decimal.Decimal
	PaymentCount     int
	FailedCount      int
	LastPaymentAt    *time.Time
}

func (s *Service) Summarize(ctx context.Context, actor domain.Actor, driverID domain.DriverID) (Summary, error) {
	if err := s.gate.Authorize(actor, policy.ActionReadPayment, policy.Owned(driverID)); err != nil {
		return Summary{}, err
	}

	payments, err := s.ledger.Payments.ListByDriver(ctx, driverID)
	if err != nil {
		return Summary{}, dErrors.Wrap(err, dErrors.CodeInternal, "list payments")
	}
	offenses, err := s.ledger.Offenses.ListByDriver(ctx, driverID)
	if err != nil {
		return Summary{}, dErrors.Wrap(err, dErrors.CodeInternal, "list offenses")
	}

	summary := Summary{
		TotalPaid:        decimal.Zero,
		TotalOutstanding: calculator.OutstandingTotal(offenses),
	}
	for _, p := range payments {
		switch p.Status {
		case domain.PaymentCompleted:
			summary.TotalPaid = summary.TotalPaid.Add(p.Amount)
			summary.PaymentCount++
			if summary.LastPaymentAt == nil || p.CompletedAt.After(*summary.LastPaymentAt) {
				summary.LastPaymentAt = p.CompletedAt
			}
		case domain.PaymentFailed:
			summary.FailedCount++
		}
	}
	return summary, nil
}

func joinIDs(ids []domain.OffenseID) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id.String()
	}
	return out
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
