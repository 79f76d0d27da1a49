//go:build integration

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fineledger/internal/domain"
	"fineledger/pkg/platform/sentinel"
	"fineledger/pkg/testutil/containers"
)

func newPostgresLedger(t *testing.T) *Ledger {
	t.Helper()
	pg := containers.NewPostgresContainer(t)
	require.NoError(t, Migrate(context.Background(), pg.DB))
	return NewPostgresLedger(pg.DB)
}

func TestPostgresLedger(t *testing.T) {
	ctx := context.Background()
	ledger := newPostgresLedger(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	driver := domain.Driver{
		ID:               domain.NewDriverID(),
		Name:             "Bekzat Omarov",
		LicenseNumber:    "KZ-774401",
		Email:            "bekzat@example.kz",
		LicenseStatus:    domain.LicenseActive,
		Active:           true,
		TotalFines:       decimal.Zero,
		OutstandingFines: decimal.Zero,
		DrivingScore:     100,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, ledger.Drivers.Save(ctx, driver))

	t.Run("driver round trip and optimistic update", func(t *testing.T) {
		got, err := ledger.Drivers.FindByID(ctx, driver.ID)
		require.NoError(t, err)
		assert.Equal(t, driver.Name, got.Name)
		assert.Equal(t, 1, got.Version)

		got.DrivingScore = 96
		require.NoError(t, ledger.Drivers.Update(ctx, got))

		stale := got // still version 1
		stale.DrivingScore = 80
		err = ledger.Drivers.Update(ctx, stale)
		assert.True(t, errors.Is(err, sentinel.ErrConflict))
	})

	offense := domain.Offense{
		ID:         domain.NewOffenseID(),
		DriverID:   driver.ID,
		OfficerID:  domain.NewActorID(),
		Type:       "speeding",
		OccurredAt: now.Add(-2 * time.Hour),
		Location:   "Dostyk Ave",
		FineAmount: decimal.RequireFromString("120.00"),
		Evidence:   []string{"radar-photo-1"},
		Severity:   domain.SeverityModerate,
		Points:     4,
		Status:     domain.OffensePendingPayment,
		DueDate:    now.Add(-time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, ledger.Offenses.Save(ctx, offense))

	t.Run("offense filters and due listing", func(t *testing.T) {
		status := domain.OffensePendingPayment
		got, err := ledger.Offenses.List(ctx, OffenseFilter{DriverID: &driver.ID, Status: &status})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []string{"radar-photo-1"}, got[0].Evidence)
		assert.True(t, got[0].FineAmount.Equal(offense.FineAmount))

		due, err := ledger.Offenses.ListDueBefore(ctx, now)
		require.NoError(t, err)
		assert.Len(t, due, 1)
	})

	appeal := domain.Appeal{
		ID:        domain.NewAppealID(),
		OffenseID: offense.ID,
		DriverID:  driver.ID,
		Reason:    "speed camera miscalibrated",
		Evidence: []domain.EvidenceRef{{
			ID:          appealEvidenceKey(t),
			FileName:    "calibration.pdf",
			ContentType: "application/pdf",
			SizeBytes:   2048,
			UploadedAt:  now,
		}},
		Priority:      domain.PriorityMedium,
		Status:        domain.AppealPendingReview,
		SubmittedDate: now,
		DueDate:       now.Add(14 * 24 * time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, ledger.Appeals.Save(ctx, appeal))

	t.Run("appeal evidence survives the jsonb round trip", func(t *testing.T) {
		got, err := ledger.Appeals.FindByID(ctx, appeal.ID)
		require.NoError(t, err)
		require.Len(t, got.Evidence, 1)
		assert.Equal(t, "calibration.pdf", got.Evidence[0].FileName)

		open, err := ledger.Appeals.FindOpenByOffense(ctx, offense.ID)
		require.NoError(t, err)
		assert.Equal(t, appeal.ID, open.ID)
	})

	t.Run("atomic rolls back on failure", func(t *testing.T) {
		second := offense
		second.ID = domain.NewOffenseID()
		err := ledger.Atomic(ctx, func(ctx context.Context) error {
			if err := ledger.Offenses.Save(ctx, second); err != nil {
				return err
			}
			return errors.New("boom")
		})
		require.Error(t, err)

		_, err = ledger.Offenses.FindByID(ctx, second.ID)
		assert.True(t, errors.Is(err, sentinel.ErrNotFound))
	})

	t.Run("payment round trip", func(t *testing.T) {
		completed := now
		payment := domain.Payment{
			ID:          domain.NewPaymentID(),
			DriverID:    driver.ID,
			OffenseIDs:  []domain.OffenseID{offense.ID},
			Amount:      decimal.RequireFromString("120.00"),
			Method:      domain.MethodCard,
			Status:      domain.PaymentCompleted,
			CreatedAt:   now,
			CompletedAt: &completed,
		}
		require.NoError(t, ledger.Payments.Save(ctx, payment))

		byDriver, err := ledger.Payments.ListByDriver(ctx, driver.ID)
		require.NoError(t, err)
		require.Len(t, byDriver, 1)
		assert.Equal(t, []domain.OffenseID{offense.ID}, byDriver[0].OffenseIDs)

		byOffense, err := ledger.Payments.ListByOffense(ctx, offense.ID)
		require.NoError(t, err)
		assert.Len(t, byOffense, 1)
	})
}

func appealEvidenceKey(t *testing.T) string {
	t.Helper()
	return domain.NewAppealID().String() + "/blob"
}
