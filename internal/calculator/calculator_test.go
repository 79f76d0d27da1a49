package calculator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fineledger/internal/domain"
)

func offense(status domain.OffenseStatus, fine string, points int) domain.Offense {
	return domain.Offense{
		ID:         domain.NewOffenseID(),
		Status:     status,
		FineAmount: decimal.RequireFromString(fine),
		Points:     points,
	}
}

func TestOutstandingBalance(t *testing.T) {
	t.Run("pending payment owes full fine", func(t *testing.T) {
		o := offense(domain.OffensePendingPayment, "150", 2)
		assert.True(t, OutstandingBalance(o).Equal(decimal.RequireFromString("150")))
	})

	t.Run("overdue owes full fine", func(t *testing.T) {
		o := offense(domain.OffenseOverdue, "80.50", 2)
		assert.True(t, OutstandingBalance(o).Equal(decimal.RequireFromString("80.50")))
	})

	t.Run("paid owes nothing", func(t *testing.T) {
		o := offense(domain.OffensePaid, "150", 2)
		assert.True(t, OutstandingBalance(o).IsZero())
	})

	t.Run("cancelled owes nothing", func(t *testing.T) {
		o := offense(domain.OffenseCancelled, "150", 2)
		assert.True(t, OutstandingBalance(o).IsZero())
	})
}

func TestOutstandingTotal(t *testing.T) {
	offenses := []domain.Offense{
		offense(domain.OffensePendingPayment, "150", 2),
		offense(domain.OffenseOverdue, "49.99", 4),
		offense(domain.OffensePaid, "200", 6),
	}
	assert.True(t, OutstandingTotal(offenses).Equal(decimal.RequireFromString("199.99")))
}

func TestDrivingScore(t *testing.T) {
	t.Run("clean driver scores 100", func(t *testing.T) {
		assert.Equal(t, 100, DrivingScore(nil))
	})

	t.Run("deductions accumulate", func(t *testing.T) {
		offenses := []domain.Offense{
			offense(domain.OffensePendingPayment, "150", 2),
			offense(domain.OffensePaid, "80", 4),
		}
		assert.Equal(t, 94, DrivingScore(offenses))
	})

	t.Run("cancelled offenses are excluded", func(t *testing.T) {
		offenses := []domain.Offense{
			offense(domain.OffenseCancelled, "150", 6),
			offense(domain.OffenseUnderAppeal, "80", 4),
		}
		assert.Equal(t, 96, DrivingScore(offenses))
	})

	t.Run("score floors at zero", func(t *testing.T) {
		var offenses []domain.Offense
		for range 30 {
			offenses = append(offenses, offense(domain.OffenseOverdue, "100", 6))
		}
		assert.Equal(t, 0, DrivingScore(offenses))
	})
}

func TestAggregates(t *testing.T) {
	offenses := []domain.Offense{
		offense(domain.OffensePendingPayment, "150", 2),
		offense(domain.OffensePaid, "80", 4),
		offense(domain.OffenseCancelled, "500", 6),
		offense(domain.OffenseUnderAppeal, "60", 2),
	}

	agg := Aggregates(offenses)

	assert.Equal(t, 3, agg.TotalOffenses)
	assert.True(t, agg.TotalFines.Equal(decimal.RequireFromString("290")))
	assert.True(t, agg.OutstandingFines.Equal(decimal.RequireFromString("210")))
	assert.Equal(t, 92, agg.DrivingScore)
}

func TestCompletedPaymentTotal(t *testing.T) {
	o := offense(domain.OffensePaid, "150", 2)
	other := domain.NewOffenseID()

	payments := []domain.Payment{
		{Status: domain.PaymentCompleted, OffenseIDs: []domain.OffenseID{o.ID, other}},
		{Status: domain.PaymentFailed, OffenseIDs: []domain.OffenseID{o.ID}},
	}

	total := CompletedPaymentTotal(o.ID, o.FineAmount, payments)
	assert.True(t, total.Equal(decimal.RequireFromString("150")))
}
