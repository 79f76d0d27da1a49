package audit

import (
	"time"

	"fineledger/internal/domain"
)

// Event records one lifecycle action against the ledger. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	ActorID    domain.ActorID    `json:"actor_id"`
	ActorRole  domain.Role       `json:"actor_role"`
	Action     string            `json:"action"`
	EntityKind string            `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// Actions recorded by the lifecycle services.
const (
	ActionDriverRegistered    = "driver_registered"
	ActionDriverDeactivated   = "driver_deactivated"
	ActionOffenseRecorded     = "offense_recorded"
	ActionOffenseOverdue      = "offense_marked_overdue"
	ActionOffenseCancelled    = "offense_cancelled"
	ActionAppealSubmitted     = "appeal_submitted"
	ActionAppealResubmitted   = "appeal_resubmitted"
	ActionAppealAssigned      = "appeal_assigned"
	ActionAppealReprioritized = "appeal_reprioritized"
	ActionAppealDecided       = "appeal_decided"
	ActionPaymentCompleted    = "payment_completed"
	ActionPaymentFailed       = "payment_failed"
)
