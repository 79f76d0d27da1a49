package http

import (
	"time"

	"github.com/shopspring/decimal"

	"fineledger/internal/domain"
	driversvc "fineledger/internal/driver/service"
	paymentsvc "fineledger/internal/payment/service"
)

// Response views. Statuses are canonical lower snake case on the wire plus a
// status_display string, because the driver portal renders "Pending Payment"
// while the back-office screens key off the canonical token.

type offenseView struct {
	ID            string          `json:"id"`
	DriverID      string          `json:"driver_id"`
	Type          string          `json:"type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Location      string          `json:"location,omitempty"`
	FineAmount    decimal.Decimal `json:"fine_amount"`
	Evidence      []string        `json:"evidence,omitempty"`
	Severity      string          `json:"severity"`
	Points        int             `json:"points"`
	Status        string          `json:"status"`
	StatusDisplay string          `json:"status_display"`
	DueDate       time.Time       `json:"due_date"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
}

func viewOffense(o domain.Offense) offenseView {
	return offenseView{
		ID:            o.ID.String(),
		DriverID:      o.DriverID.String(),
		Type:          o.Type,
		OccurredAt:    o.OccurredAt,
		Location:      o.Location,
		FineAmount:    o.FineAmount,
		Evidence:      o.Evidence,
		Severity:      o.Severity.String(),
		Points:        o.Points,
		Status:        o.Status.String(),
		StatusDisplay: o.Status.Display(),
		DueDate:       o.DueDate,
		CancelReason:  o.CancelReason,
	}
}

func viewOffenses(offenses []domain.Offense) []offenseView {
	out := make([]offenseView, len(offenses))
	for i, o := range offenses {
		out[i] = viewOffense(o)
	}
	return out
}

type evidenceView struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

type appealView struct {
	ID            string         `json:"id"`
	OffenseID     string         `json:"offense_id"`
	DriverID      string         `json:"driver_id"`
	Reason        string         `json:"reason"`
	Description   string         `json:"description,omitempty"`
	Evidence      []evidenceView `json:"evidence"`
	Priority      string         `json:"priority"`
	Status        string         `json:"status"`
	StatusDisplay string         `json:"status_display"`
	AssignedTo    *string        `json:"assigned_to,omitempty"`
	SubmittedDate time.Time      `json:"submitted_date"`
	DueDate       time.Time      `json:"due_date"`
	ReviewNotes   string         `json:"reviewer_notes,omitempty"`
	ReviewDate    *time.Time     `json:"review_date,omitempty"`
}

func viewAppeal(a domain.Appeal) appealView {
	view := appealView{
		ID:            a.ID.String(),
		OffenseID:     a.OffenseID.String(),
		DriverID:      a.DriverID.String(),
		Reason:        a.Reason,
		Description:   a.Description,
		Evidence:      make([]evidenceView, 0, len(a.Evidence)),
		Priority:      a.Priority.String(),
		Status:        a.Status.String(),
		StatusDisplay: a.Status.Display(),
		SubmittedDate: a.SubmittedDate,
		DueDate:       a.DueDate,
		ReviewNotes:   a.ReviewNotes,
		ReviewDate:    a.ReviewDate,
	}
	if a.AssignedTo != nil {
		assigned := a.AssignedTo.String()
		view.AssignedTo = &assigned
	}
	for _, ref := range a.Evidence {
		view.Evidence = append(view.Evidence, evidenceView{
			ID:          ref.ID,
			FileName:    ref.FileName,
			ContentType: ref.ContentType,
			SizeBytes:   ref.SizeBytes,
		})
	}
	return view
}

func viewAppeals(appeals []domain.Appeal) []appealView {
	out := make([]appealView, len(appeals))
	for i, a := range appeals {
		out[i] = viewAppeal(a)
	}
	return out
}

type paymentView struct {
	ID            string          `json:"id"`
	OffenseIDs    []string        `json:"offense_ids"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
	Status        string          `json:"status"`
	StatusDisplay string          `json:"status_display"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func viewPayment(p domain.Payment) paymentView {
	ids := make([]string, len(p.OffenseIDs))
	for i, id := range p.OffenseIDs {
		ids[i] = id.String()
	}
	return paymentView{
		ID:            p.ID.String(),
		OffenseIDs:    ids,
		Amount:        p.Amount,
		Method:        p.Method.String(),
		Status:        p.Status.String(),
		StatusDisplay: p.Status.Display(),
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		CompletedAt:   p.CompletedAt,
	}
}

func viewPayments(payments []domain.Payment) []paymentView {
	out := make([]paymentView, len(payments))
	for i, p := range payments {
		out[i] = viewPayment(p)
	}
	return out
}

type driverView struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	LicenseNumber    string          `json:"license_number"`
	Email            string          `json:"email"`
	Phone            string          `json:"phone,omitempty"`
	LicenseStatus    string          `json:"license_status"`
	Active           bool            `json:"active"`
	TotalOffenses    int             `json:"total_offenses"`
	TotalFines       decimal.Decimal `json:"total_fines"`
	OutstandingFines decimal.Decimal `json:"outstanding_fines"`
	DrivingScore     int             `json:"driving_score"`
}

func viewDriver(d domain.Driver) driverView {
	return driverView{
		ID:               d.ID.String(),
		Name:             d.Name,
		LicenseNumber:    d.LicenseNumber,
		Email:            d.Email,
		Phone:            d.Phone,
		LicenseStatus:    d.LicenseStatus.String(),
		Active:           d.Active,
		TotalOffenses:    d.TotalOffenses,
		TotalFines:       d.TotalFines,
		OutstandingFines: d.OutstandingFines,
		DrivingScore:     d.DrivingScore,
	}
}

type driverRecordView struct {
	Driver   driverView    `json:"driver"`
	Offenses []offenseView `json:"offenses"`
	Appeals  []appealView  `json:"appeals"`
	Payments []paymentView `json:"payments"`
}

func viewDriverRecord(record driversvc.Record) driverRecordView {
	return driverRecordView{
		Driver:   viewDriver(record.Driver),
		Offenses: viewOffenses(record.Offenses),
		Appeals:  viewAppeals(record.Appeals),
		Payments: viewPayments(record.Payments),
	}
}

type dashboardView struct {
	Driver           driverView      `json:"driver"`
	TotalOffenses    int             `json:"total_offenses"`
	TotalFines       decimal.Decimal `json:"total_fines"`
	OutstandingFines decimal.Decimal `json:"outstanding_fines"`
	DrivingScore     int             `json:"driving_score"`
	PendingPayment   int             `json:"pending_payment"`
	UnderAppeal      int             `json:"under_appeal"`
	Overdue          int             `json:"overdue"`
	OpenAppeals      int             `json:"open_appeals"`
	RecentOffenses   []offenseView   `json:"recent_offenses"`
}

func viewDashboard(d driversvc.Dashboard) dashboardView {
	return dashboardView{
		Driver:           viewDriver(d.Driver),
		TotalOffenses:    d.TotalOffenses,
		TotalFines:       d.TotalFines,
		OutstandingFines: d.OutstandingFines,
		DrivingScore:     d.DrivingScore,
		PendingPayment:   d.PendingPayment,
		UnderAppeal:      d.UnderAppeal,
		Overdue:          d.Overdue,
		OpenAppeals:      d.OpenAppeals,
		RecentOffenses:   viewOffenses(d.RecentOffenses),
	}
}

type paymentSummaryView struct {
	TotalPaid        decimal.Decimal `json:"total_paid"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	PaymentCount     int             `json:"payment_count"`
	FailedCount      int             `json:"failed_count"`
	LastPaymentAt    *time.Time      `json:"last_payment_at,omitempty"`
}

func viewPaymentSummary(s paymentsvc.Summary) paymentSummaryView {
	return paymentSummaryView{
		TotalPaid:        s.TotalPaid,
		TotalOutstanding: s.TotalOutstanding,
		PaymentCount:     s.PaymentCount,
		FailedCount:      s.FailedCount,
		LastPaymentAt:    s.LastPaymentAt,
	}
}
