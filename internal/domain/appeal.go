package domain

import (
	"time"

	dErrors "fineledger/pkg/domain-errors"
)

// EvidenceRef points at one uploaded evidence object. The bytes live in the
// evidence store; the ledger keeps only the reference.
type EvidenceRef struct {
	ID          string
	FileName    string
	ContentType string
	SizeBytes   int64
	UploadedAt  time.Time
}

// Appeal is a driver's challenge of one offense. At most one appeal per
// offense may be open (non-terminal) at a time.
type Appeal struct {
	ID          AppealID
	OffenseID   OffenseID
	DriverID    DriverID
	Reason      string
	Description string
	Evidence    []EvidenceRef
	Priority    AppealPriority

	Status        AppealStatus
	AssignedTo    *ActorID
	SubmittedDate time.Time
	DueDate       time.Time
	ReviewNotes   string
	ReviewDate    *time.Time
	ReviewedBy    *ActorID

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// AppealDecision is the reviewer's verdict on an appeal.
type AppealDecision string

const (
	DecisionApproved             AppealDecision = "approved"
	DecisionRejected             AppealDecision = "rejected"
	DecisionPendingDocumentation AppealDecision = "pending_documentation"
)

func ParseAppealDecision(s string) (AppealDecision, error) {
	switch v := AppealDecision(normalizeToken(s)); v {
	case DecisionApproved, DecisionRejected, DecisionPendingDocumentation:
		return v, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown decision").Add("status", "decision must be approved, rejected or pending_documentation, got: "+s)
}
