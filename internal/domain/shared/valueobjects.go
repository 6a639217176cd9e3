// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"math"
	"strings"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════
// Role Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Role is the closed set of platform roles used for every authorization check.
type Role string

const (
	RoleLearner    Role = "learner"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
	RolePartner    Role = "partner"
)

// IsValid checks if the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleLearner, RoleInstructor, RoleAdmin, RolePartner:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (r Role) String() string {
	return string(r)
}

// CanReview reports whether the role may review submissions and manage tasks.
func (r Role) CanReview() bool {
	return r == RoleInstructor || r == RoleAdmin
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.IsValid() {
		return "", NewDomainError("shared", "ParseRole", ErrInvalidInput, "unknown role: "+s)
	}
	return role, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Actor Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Actor is the authenticated caller on whose behalf an operation runs.
// Identity is established upstream; the core only trusts it.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// NewActor creates an actor with validation.
func NewActor(userID uuid.UUID, role Role) (Actor, error) {
	if userID == uuid.Nil {
		return Actor{}, NewDomainError("shared", "NewActor", ErrInvalidID, "actor user id is required")
	}
	if !role.IsValid() {
		return Actor{}, NewDomainError("shared", "NewActor", ErrInvalidInput, "actor role is invalid")
	}
	return Actor{UserID: userID, Role: role}, nil
}

// IsZero reports whether the actor carries no identity.
func (a Actor) IsZero() bool {
	return a.UserID == uuid.Nil
}

// CanReview reports whether the actor may review submissions.
func (a Actor) CanReview() bool {
	return a.Role.CanReview()
}

// IsAdmin reports whether the actor is an administrator.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccessUser reports whether the actor may read data owned by userID:
// the owner, any instructor, or any admin.
func (a Actor) CanAccessUser(userID uuid.UUID) bool {
	return a.UserID == userID || a.CanReview()
}

// ═══════════════════════════════════════════════════════════════════════════
// XP amounts
// ═══════════════════════════════════════════════════════════════════════════

// MaxXP bounds every XP value: rewards, awards and balances are stored as
// PostgreSQL INTEGER.
const MaxXP = math.MaxInt32

// XPInRange reports whether xp fits the storage range.
func XPInRange(xp int) bool {
	return xp >= -MaxXP && xp <= MaxXP
}

// ═══════════════════════════════════════════════════════════════════════════
// Pagination
// ═══════════════════════════════════════════════════════════════════════════

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// ClampLimit normalizes a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}
