// Package policy is the access gate in front of every lifecycle operation.
// It answers one question: may this actor perform this action on this target.
// Ownership denials are reported as not-found so a driver probing other
// drivers' record ids learns nothing from the response.
package policy

import (
	"fineledger/internal/domain"
	dErrors "fineledger/pkg/domain-errors"
)

// Action names one operation the engine exposes.
type Action string

const (
	ActionReadDriver       Action = "driver.read"
	ActionCreateDriver     Action = "driver.create"
	ActionDeactivateDriver Action = "driver.deactivate"

	ActionReadOffense   Action = "offense.read"
	ActionCreateOffense Action = "offense.create"
	ActionCancelOffense Action = "offense.cancel"

	ActionReadAppeal       Action = "appeal.read"
	ActionSubmitAppeal     Action = "appeal.submit"
	ActionAssignAppeal     Action = "appeal.assign"
	ActionDecideAppeal     Action = "appeal.decide"
	ActionReassignAppeal   Action = "appeal.reassign"
	ActionExportAppeals    Action = "appeal.export"
	ActionDownloadEvidence Action = "appeal.evidence.download"

	ActionReadPayment   Action = "payment.read"
	ActionCreatePayment Action = "payment.create"

	ActionEditFineRates Action = "config.fine_rates.edit"
)

// Target identifies what the action touches. OwnerID is the driver who owns
// the record; zero for targets without an owner (creation, config).
type Target struct {
	OwnerID domain.DriverID
}

// Owned builds a target owned by a driver.
func Owned(driverID domain.DriverID) Target { return Target{OwnerID: driverID} }

// Unowned is the target for operations without an ownership dimension.
var Unowned = Target{}

// driverActions are the operations a driver may perform, always restricted to
// records they own.
var driverActions = map[Action]bool{
	ActionReadDriver:    true,
	ActionReadOffense:   true,
	ActionReadAppeal:    true,
	ActionSubmitAppeal:  true,
	ActionReadPayment:   true,
	ActionCreatePayment: true,
}

// officerActions are the operations an officer may perform on any driver's
// records.
var officerActions = map[Action]bool{
	ActionReadDriver:    true,
	ActionReadOffense:   true,
	ActionCreateOffense: true,
	ActionReadAppeal:    true,
	ActionAssignAppeal:  true,
	ActionDecideAppeal:  true,
	ActionReadPayment:   true,
}

// adminActions extend officer capabilities with overrides and configuration.
var adminActions = map[Action]bool{
	ActionCreateDriver:     true,
	ActionDeactivateDriver: true,
	ActionCancelOffense:    true,
	ActionReassignAppeal:   true,
	ActionExportAppeals:    true,
	ActionDownloadEvidence: true,
	ActionEditFineRates:    true,
}

// Gate evaluates role and ownership rules.
type Gate struct{}

func New() *Gate { return &Gate{} }

// Authorize returns nil when the actor may perform the action. Ownership
// violations surface as not-found; role violations as forbidden.
func (g *Gate) Authorize(actor domain.Actor, action Action, target Target) error {
	switch actor.Role {
	case domain.RoleDriver:
		if !driverActions[action] {
			return dErrors.New(dErrors.CodeForbidden, "drivers may not perform this action")
		}
		// A driver may only touch records tied to their own offenses. The
		// denial is masked as not-found so record existence never leaks.
		if target.OwnerID.IsNil() || target.OwnerID != actor.DriverID() {
			return dErrors.New(dErrors.CodeNotFound, "record not found")
		}
		return nil

	case domain.RoleOfficer:
		if officerActions[action] {
			return nil
		}
		return dErrors.New(dErrors.CodeForbidden, "officers may not perform this action")

	case domain.RoleAdmin:
		if officerActions[action] || adminActions[action] {
			return nil
		}
		return dErrors.New(dErrors.CodeForbidden, "action not permitted")
	}

	return dErrors.New(dErrors.CodeUnauthorized, "unknown role")
}
