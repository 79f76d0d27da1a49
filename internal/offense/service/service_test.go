package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fineledger/internal/audit"
	"fineledger/internal/domain"
	"fineledger/internal/platform/metrics"
	"fineledger/internal/policy"
	"fineledger/internal/storage"
	dErrors "fineledger/pkg/domain-errors"
	"fineledger/pkg/requestcontext"
)

func newTestService(t *testing.T) (*Service, *storage.Ledger) {
	t.Helper()
	ledger := storage.NewMemoryLedger()
	publisher := audit.NewPublisher(64, slog.Default())
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(ledger, policy.New(), publisher, m, slog.Default(), 30*24*time.Hour)
	return svc, ledger
}

func seedDriver(t *testing.T, ledger *storage.Ledger) domain.Driver {
	t.Helper()
	driver := domain.Driver{
		ID:            domain.NewDriverID(),
		Name:          "Dana Seitkali",
		LicenseNumber: "KZ-482913",
		Email:         "dana@example.kz",
		LicenseStatus: domain.LicenseActive,
		Active:        true,
		DrivingScore:  100,
	}
	require.NoError(t, ledger.Drivers.Save(context.Background(), driver))
	return driver
}

func officer() domain.Actor {
	return domain.Actor{ID: domain.NewActorID(), Role: domain.RoleOfficer}
}

func admin() domain.Actor {
	return domain.Actor{ID: domain.NewActorID(), Role: domain.RoleAdmin}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newTestService(t)
	driver := seedDriver(t, ledger)

	issuedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issuedAt }

	offense, err := svc.Create(ctx, officer(), CreateInput{
		DriverID:   driver.ID.String(),
		Type:       "speeding",
		OccurredAt: issuedAt.Add(-2 * time.Hour),
		Location:   "Al-Farabi Ave",
		FineAmount: decimal.RequireFromString("150.00"),
		Severity:   "Moderate",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OffensePendingPayment, offense.Status)
	assert.Equal(t, 4, offense.Points)
	assert.Equal(t, issuedAt.Add(30*24*time.Hour), offense.DueDate)

	t.Run("driver aggregates absorb the fine", func(t *testing.T) {
		got, err := ledger.Drivers.FindByID(ctx, driver.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.TotalOffenses)
		assert.True(t, got.OutstandingFines.Equal(decimal.RequireFromString("150.00")))
		assert.Equal(t, 96, got.DrivingScore)
	})
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newTestService(t)
	driver := seedDriver(t, ledger)

	t.Run("unknown driver", func(t *testing.T) {
		_, err := svc.Create(ctx, officer(), CreateInput{
			DriverID:   domain.NewDriverID().String(),
			Type:       "speeding",
			OccurredAt: time.Now(),
			FineAmount: decimal.RequireFromString("100.00"),
			Severity:   "minor",
		})
		require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		require.Len(t, dErrors.Load(err), 1)
		assert.Equal(t, "driver_id", dErrors.Load(err)[0].Field)
	})

	t.Run("non-positive fine", func(t *testing.T) {
		_, err := svc.Create(ctx, officer(), CreateInput{
			DriverID:   driver.ID.String(),
			Type:       "speeding",
			OccurredAt: time.Now(),
			FineAmount: decimal.Zero,
			Severity:   "minor",
		})
		require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Equal(t, "fine_amount", dErrors.Load(err)[0].Field)
	})

	t.Run("unknown severity", func(t *testing.T) {
		_, err := svc.Create(ctx, officer(), CreateInput{
			DriverID:   driver.ID.String(),
			Type:       "speeding",
			OccurredAt: time.Now(),
			FineAmount: decimal.RequireFromString("100.00"),
			Severity:   "catastrophic",
		})
		require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("deactivated driver", func(t *testing.T) {
		d, err := ledger.Drivers.FindByID(ctx, driver.ID)
		require.NoError(t, err)
		d.Active = false
		require.NoError(t, ledger.Drivers.Update(ctx, d))

		_, err = svc.Create(ctx, officer(), CreateInput{
			DriverID:   driver.ID.String(),
			Type:       "speeding",
			OccurredAt: time.Now(),
			FineAmount: decimal.RequireFromString("100.00"),
			Severity:   "minor",
		})
		require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("drivers may not issue offenses", func(t *testing.T) {
		actor := domain.Actor{ID: domain.NewActorID(), Role: domain.RoleDriver}
		_, err := svc.Create(ctx, actor, CreateInput{})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func TestMarkOverdue(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newTestService(t)
	driver := seedDriver(t, ledger)

	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	seed := func(status domain.OffenseStatus, due time.Time) domain.OffenseID {
		offense := domain.Offense{
			ID:         domain.NewOffenseID(),
			DriverID:   driver.ID,
			Type:       "parking",
			FineAmount: decimal.RequireFromString("40.00"),
			Severity:   domain.SeverityMinor,
			Points:     2,
			Status:     status,
			OccurredAt: due.Add(-30 * 24 * time.Hour),
			DueDate:    due,
		}
		require.NoError(t, ledger.Offenses.Save(ctx, offense))
		return offense.ID
	}

	t.Run("due pending offense flips", func(t *testing.T) {
		id := seed(domain.OffensePendingPayment, now.Add(-time.Hour))
		flipped, err := svc.MarkOverdue(ctx, id)
		require.NoError(t, err)
		assert.True(t, flipped)

		got, err := ledger.Offenses.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.OffenseOverdue, got.Status)

		flipped, err = svc.MarkOverdue(ctx, id)
		require.NoError(t, err)
		assert.False(t, flipped, "second pass is a no-op")
	})

	t.Run("not yet due", func(t *testing.T) {
		id := seed(domain.OffensePendingPayment, now.Add(time.Hour))
		flipped, err := svc.MarkOverdue(ctx, id)
		require.NoError(t, err)
		assert.False(t, flipped)
	})

	t.Run("paid and appealed offenses are untouched", func(t *testing.T) {
		for _, status := range []domain.OffenseStatus{domain.OffensePaid, domain.OffenseUnderAppeal, domain.OffenseCancelled} {
			id := seed(status, now.Add(-time.Hour))
			flipped, err := svc.MarkOverdue(ctx, id)
			require.NoError(t, err)
			assert.False(t, flipped, string(status))
		}
	})
}

func TestMarkOverdue_EmitsAuditEvent(t *testing.T) {
	ctx := context.Background()
	ledger := storage.NewMemoryLedger()
	publisher := audit.NewPublisher(8, slog.Default())
	svc := NewService(ledger, policy.New(), publisher, metrics.New(prometheus.NewRegistry()), slog.Default(), 30*24*time.Hour)
	driver := seedDriver(t, ledger)

	offense := domain.Offense{
		ID:         domain.NewOffenseID(),
		DriverID:   driver.ID,
		Type:       "parking",
		FineAmount: decimal.RequireFromString("40.00"),
		Severity:   domain.SeverityMinor,
		Points:     2,
		Status:     domain.OffensePendingPayment,
		OccurredAt: time.Now().Add(-31 * 24 * time.Hour),
		DueDate:    time.Now().Add(-time.Hour),
	}
	require.NoError(t, ledger.Offenses.Save(ctx, offense))

	flipped, err := svc.MarkOverdue(ctx, offense.ID)
	require.NoError(t, err)
	require.True(t, flipped)

	select {
	case event := <-publisher.Inbox():
		assert.Equal(t, audit.ActionOffenseOverdue, event.Action)
		assert.Equal(t, domain.SystemActor.Role, event.ActorRole)
		assert.Equal(t, offense.ID.String(), event.EntityID)
		assert.Equal(t, driver.ID.String(), event.Detail["driver_id"])
	default:
		t.Fatal("marking an offense overdue emitted no audit event")
	}
}

// Without a test override, operations read the clock the request middleware
// pinned in the context, so a whole request observes one instant.
func TestCreate_UsesRequestClock(t *testing.T) {
	svc, ledger := newTestService(t)
	driver := seedDriver(t, ledger)

	pinned := time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), pinned)

	offense, err := svc.Create(ctx, officer(), CreateInput{
		DriverID:   driver.ID.String(),
		Type:       "speeding",
		OccurredAt: pinned.Add(-2 * time.Hour),
		FineAmount: decimal.RequireFromString("150.00"),
		Severity:   "minor",
	})
	require.NoError(t, err)
	assert.Equal(t, pinned, offense.CreatedAt)
	assert.Equal(t, pinned.Add(30*24*time.Hour), offense.DueDate)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newTestService(t)
	driver := seedDriver(t, ledger)

	offense, err := svc.Create(ctx, officer(), CreateInput{
		DriverID:   driver.ID.String(),
		Type:       "red_light",
		OccurredAt: time.Now().Add(-time.Hour),
		FineAmount: decimal.RequireFromString("200.00"),
		Severity:   "severe",
	})
	require.NoError(t, err)

	t.Run("reason is mandatory", func(t *testing.T) {
		_, err := svc.Cancel(ctx, admin(), offense.ID, "")
		require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Equal(t, "reason", dErrors.Load(err)[0].Field)
	})

	t.Run("officers may not cancel", func(t *testing.T) {
		_, err := svc.Cancel(ctx, officer(), offense.ID, "issued in error")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("cancellation restores the driver's aggregates", func(t *testing.T) {
		cancelled, err := svc.Cancel(ctx, admin(), offense.ID, "issued in error")
		require.NoError(t, err)
		assert.Equal(t, domain.OffenseCancelled, cancelled.Status)
		assert.Equal(t, "issued in error", cancelled.CancelReason)

		got, err := ledger.Drivers.FindByID(ctx, driver.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.TotalOffenses)
		assert.True(t, got.OutstandingFines.IsZero())
		assert.Equal(t, 100, got.DrivingScore)
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		again, err := svc.Cancel(ctx, admin(), offense.ID, "still in error")
		require.NoError(t, err)
		assert.Equal(t, "issued in error", again.CancelReason)
	})
}

func TestList_DriversArePinnedToTheirOwnRecords(t *testing.T) {
	ctx := context.Background()
	svc, ledger := newTestService(t)
	mine := seedDriver(t, ledger)
	other := seedDriver(t, ledger)

	for _, driverID := range []domain.DriverID{mine.ID, other.ID} {
		_, err := svc.Create(ctx, officer(), CreateInput{
			DriverID:   driverID.String(),
			Type:       "speeding",
			OccurredAt: time.Now().Add(-time.Hour),
			FineAmount: decimal.RequireFromString("90.00"),
			Severity:   "minor",
		})
		require.NoError(t, err)
	}

	me := domain.Actor{ID: domain.ActorID(mine.ID), Role: domain.RoleDriver}
	otherID := other.ID
	got, err := svc.List(ctx, me, storage.OffenseFilter{DriverID: &otherID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].DriverID, "filter asking for another driver is overridden")

	t.Run("reading another driver's offense is masked", func(t *testing.T) {
		theirs, err := svc.List(ctx, domain.Actor{ID: domain.ActorID(other.ID), Role: domain.RoleDriver}, storage.OffenseFilter{})
		require.NoError(t, err)
		require.Len(t, theirs, 1)

		_, err = svc.Get(ctx, me, theirs[0].ID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
