// Package calculator holds the pure money and score math. Every mutating
// operation recomputes driver aggregates through these functions, so no two
// code paths can disagree on a balance or a driving score.
package calculator

import (
	"github.com/shopspring/decimal"

	"fineledger/internal/domain"
)

// BaseDrivingScore is the score of a driver with no counted offenses.
const BaseDrivingScore = 100

// OutstandingBalance returns what is still owed on one offense. Paid and
// cancelled offenses owe nothing; everything else owes the full fine, because
// partial settlement is rejected at the payment boundary.
func OutstandingBalance(o domain.Offense) decimal.Decimal {
	if !o.Outstanding() {
		return decimal.Zero
	}
	return o.FineAmount
}

// OutstandingTotal sums the outstanding balances of the given offenses. The
// payment processor compares a submitted amount against this exact total.
func OutstandingTotal(offenses []domain.Offense) decimal.Decimal {
	total := decimal.Zero
	for _, o := range offenses {
		total = total.Add(OutstandingBalance(o))
	}
	return total
}

// CompletedPaymentTotal sums the amounts of completed payments that reference
// the offense. Because payments settle referenced offenses at face value, the
// share attributed to one offense of a multi-offense payment is its fine.
func CompletedPaymentTotal(offenseID domain.OffenseID, fine decimal.Decimal, payments []domain.Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		if p.Status != domain.PaymentCompleted {
			continue
		}
		for _, id := range p.OffenseIDs {
			if id == offenseID {
				total = total.Add(fine)
				break
			}
		}
	}
	return total
}

// DrivingScore is 100 minus the point deductions of all counted offenses,
// floored at zero. Cancelled offenses (including approved appeals) do not
// count.
func DrivingScore(offenses []domain.Offense) int {
	score := BaseDrivingScore
	for _, o := range offenses {
		if o.CountsAgainstScore() {
			score -= o.Points
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// Aggregates computes the derived driver figures from the driver's full
// offense history. Cancelled offenses are retained for audit but excluded
// from every aggregate.
func Aggregates(offenses []domain.Offense) domain.Aggregates {
	agg := domain.Aggregates{
		TotalFines:       decimal.Zero,
		OutstandingFines: decimal.Zero,
	}
	for _, o := range offenses {
		if o.Status == domain.OffenseCancelled {
			continue
		}
		agg.TotalOffenses++
		agg.TotalFines = agg.TotalFines.Add(o.FineAmount)
		agg.OutstandingFines = agg.OutstandingFines.Add(OutstandingBalance(o))
	}
	agg.DrivingScore = DrivingScore(offenses)
	return agg
}
