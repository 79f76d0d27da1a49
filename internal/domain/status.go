package domain

import (
	"strings"

	dErrors "fineledger/pkg/domain-errors"
)

// Status values are carried through business logic in exactly one canonical
// form (lower snake case). The legacy portals disagree on casing and
// vocabulary ("Pending Payment", "PENDING_PAYMENT", "under_review"), so
// parsing at the boundary is tolerant and display strings are produced only
// by the transport layer.

// normalizeToken lowers a status-ish token and collapses spaces and hyphens
// to underscores so all legacy spellings parse to the canonical form.
func normalizeToken(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// displayTitle renders a canonical token as the human-readable form the
// portals show ("pending_payment" -> "Pending Payment").
func displayTitle(token string) string {
	parts := strings.Split(token, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// OffenseStatus is the offense lifecycle state.
type OffenseStatus string

const (
	OffensePendingPayment OffenseStatus = "pending_payment"
	OffenseUnderAppeal    OffenseStatus = "under_appeal"
	OffensePaid           OffenseStatus = "paid"
	OffenseOverdue        OffenseStatus = "overdue"
	OffenseCancelled      OffenseStatus = "cancelled"
)

func ParseOffenseStatus(s string) (OffenseStatus, error) {
	switch v := OffenseStatus(normalizeToken(s)); v {
	case OffensePendingPayment, OffenseUnderAppeal, OffensePaid, OffenseOverdue, OffenseCancelled:
		return v, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown offense status").Add("status", "unknown offense status: "+s)
}

func (s OffenseStatus) String() string  { return string(s) }
func (s OffenseStatus) Display() string { return displayTitle(string(s)) }

// Terminal reports whether no further transitions are allowed.
func (s OffenseStatus) Terminal() bool { return s == OffenseCancelled }

// Payable reports whether the offense can accept a payment.
func (s OffenseStatus) Payable() bool {
	return s == OffensePendingPayment || s == OffenseOverdue
}

// Appealable reports whether an appeal may be opened against the offense.
func (s OffenseStatus) Appealable() bool {
	return s == OffensePendingPayment || s == OffenseOverdue
}

// AppealStatus is the appeal lifecycle state. PendingReview and UnderReview
// are distinct states: the former means nobody has picked the appeal up yet.
type AppealStatus string

const (
	AppealPendingReview        AppealStatus = "pending_review"
	AppealUnderReview          AppealStatus = "under_review"
	AppealApproved             AppealStatus = "approved"
	AppealRejected             AppealStatus = "rejected"
	AppealPendingDocumentation AppealStatus = "pending_documentation"
)

func ParseAppealStatus(s string) (AppealStatus, error) {
	switch v := AppealStatus(normalizeToken(s)); v {
	case AppealPendingReview, AppealUnderReview, AppealApproved, AppealRejected, AppealPendingDocumentation:
		return v, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown appeal status").Add("status", "unknown appeal status: "+s)
}

func (s AppealStatus) String() string  { return string(s) }
func (s AppealStatus) Display() string { return displayTitle(string(s)) }

// Terminal reports whether the appeal has been finally decided.
func (s AppealStatus) Terminal() bool {
	return s == AppealApproved || s == AppealRejected
}

// Open reports whether the appeal still blocks its offense. An offense stays
// UnderAppeal exactly while its appeal is in one of these states.
func (s AppealStatus) Open() bool {
	return s == AppealPendingReview || s == AppealUnderReview || s == AppealPendingDocumentation
}

// PaymentStatus is the payment record state.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch v := PaymentStatus(normalizeToken(s)); v {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return v, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown payment status").Add("status", "unknown payment status: "+s)
}

func (s PaymentStatus) String() string  { return string(s) }
func (s PaymentStatus) Display() string { return displayTitle(string(s)) }

// LicenseStatus is the driver's license state.
type LicenseStatus string

const (
	LicenseActive              LicenseStatus = "active"
	LicenseSuspended           LicenseStatus = "suspended"
	LicenseRevoked             LicenseStatus = "revoked"
	LicensePendingVerification LicenseStatus = "pending_verification"
)

func ParseLicenseStatus(s string) (LicenseStatus, error) {
	switch v := LicenseStatus(normalizeToken(s)); v {
	case LicenseActive, LicenseSuspended, LicenseRevoked, LicensePendingVerification:
		return v, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown license status").Add("license_status", "unknown license status: "+s)
}

func (s LicenseStatus) String() string  { return string(s) }
func (s LicenseStatus) Display() string { return displayTitle(string(s)) }

// AppealPriority orders the review queue.
type AppealPriority string

const (
	PriorityHigh   AppealPriority = "high"
	PriorityMedium AppealPriority = "medium"
	PriorityLow    AppealPriority = "low"
)

func ParseAppealPriority(s string) (AppealPriority, error) {
	switch v := AppealPriority(normalizeToken(s)); v {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return v, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown priority").Add("priority", "unknown priority: "+s)
}

func (p AppealPriority) String() string { return string(p) }

// Severity classifies an offense and fixes its point deduction.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(normalizeToken(s)); v {
	case SeverityMinor, SeverityModerate, SeveritySevere:
		return v, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown severity").Add("severity", "unknown severity: "+s)
}

func (s Severity) String() string { return string(s) }

// Points returns the driving-score deduction carried by an offense of this
// severity.
func (s Severity) Points() int {
	switch s {
	case SeverityMinor:
		return 2
	case SeverityModerate:
		return 4
	case SeveritySevere:
		return 6
	}
	return 0
}
