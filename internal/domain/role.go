package domain

import (
	dErrors "fineledger/pkg/domain-errors"
)

// Role is the caller's portal role. Authorization decisions key off this plus
// record ownership, never off the route alone.
type Role string

const (
	RoleDriver  Role = "driver"
	RoleOfficer Role = "officer"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(normalizeToken(s)) {
	case RoleDriver:
		return RoleDriver, nil
	case RoleOfficer:
		return RoleOfficer, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
}

func (r Role) String() string { return string(r) }

// SystemActor is the principal recorded for transitions the engine applies on
// its own schedule, such as the overdue sweep. It never authenticates and the
// gate never authorizes it.
var SystemActor = Actor{Role: "system"}

// Actor is the authenticated principal for a single request. It is carried in
// request context, never in package-level state, so concurrent requests from
// different users cannot cross-contaminate.
type Actor struct {
	ID   ActorID
	Role Role
}

// DriverID reinterprets the actor id as a driver id. Only meaningful when
// Role is RoleDriver.
func (a Actor) DriverID() DriverID { return DriverID(a.ID) }
