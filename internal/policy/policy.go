// Package policy is the authorization decision point for team-scoped and account-scoped
// operations. Decide is a pure function of the caller's resolved identity and the
// operation's requirement.
//
// Rules are applied in order and the first failing rule names the denial:
//
//	1. no context                                 → Unauthenticated
//	2. membership required, caller team-less      → NotTeamMember
//	3. team role required, caller role not in set → InsufficientTeamRole
//	4. global role required, role not in set      → InsufficientGlobalRole
//	5. otherwise                                  → Allow
package policy

import (
	"fmt"
	"strings"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/db/models"
)

// Context is the per-request authorization context. It is resolved from the stored user
// row on every request; only UserID originates from the bearer token.
type Context struct {
	UserID     string
	GlobalRole models.GlobalRole
	TeamID     *string
	TeamRole   *models.TeamRole
}

// ContextFor builds the authorization context for a stored user
func ContextFor(u *models.User) *Context {
	return &Context{
		UserID:     u.ID,
		GlobalRole: u.Role,
		TeamID:     u.TeamID,
		TeamRole:   u.TeamRole,
	}
}

// HasTeam reports whether the caller currently belongs to a team
func (c *Context) HasTeam() bool {
	return c != nil && c.TeamID != nil
}

// Requirement describes what an operation demands of its caller. The zero value imposes
// no restriction beyond authentication.
type Requirement struct {
	Membership  bool
	TeamRoles   []models.TeamRole
	GlobalRoles []models.GlobalRole
}

// Authenticated requires only a resolved identity
func Authenticated() Requirement {
	return Requirement{}
}

// TeamMember requires the caller to belong to some team
func TeamMember() Requirement {
	return Requirement{Membership: true}
}

// TeamRoleIn requires the caller's team role to be one of roles. A team-less caller has
// no role and is denied as insufficient.
func TeamRoleIn(roles ...models.TeamRole) Requirement {
	return Requirement{TeamRoles: roles}
}

// TeamMemberIn requires membership first, then a team role in roles
func TeamMemberIn(roles ...models.TeamRole) Requirement {
	return Requirement{Membership: true, TeamRoles: roles}
}

// GlobalRoleIn requires the caller's global role to be one of roles
func GlobalRoleIn(roles ...models.GlobalRole) Requirement {
	return Requirement{GlobalRoles: roles}
}

// String renders the requirement for logs and metrics
func (r Requirement) String() string {
	parts := make([]string, 0, 3)
	if r.Membership {
		parts = append(parts, "member")
	}
	if len(r.TeamRoles) > 0 {
		parts = append(parts, fmt.Sprintf("team_role in %v", r.TeamRoles))
	}
	if len(r.GlobalRoles) > 0 {
		parts = append(parts, fmt.Sprintf("global_role in %v", r.GlobalRoles))
	}
	if len(parts) == 0 {
		return "authenticated"
	}
	return strings.Join(parts, ", ")
}

// Reason names why a request was denied
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonUnauthenticated        Reason = "unauthenticated"
	ReasonNotTeamMember          Reason = "not_team_member"
	ReasonInsufficientTeamRole   Reason = "insufficient_team_role"
	ReasonInsufficientGlobalRole Reason = "insufficient_global_role"
)

// Decision is the outcome of Decide
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Allow is the permitting decision
var Allow = Decision{Allowed: true}

// Deny builds a denying decision
func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Err converts a denial into the matching apperr kind; nil when allowed
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonUnauthenticated:
		return apperr.ErrUnauthenticated
	case ReasonNotTeamMember:
		return apperr.ErrNotMember
	case ReasonInsufficientTeamRole:
		return apperr.ErrInsufficientRole
	case ReasonInsufficientGlobalRole:
		return apperr.ErrInsufficientGlobalRole
	}
	return apperr.ErrForbidden
}

// Decide evaluates req against c
func Decide(c *Context, req Requirement) Decision {
	if c == nil || c.UserID == "" {
		return Deny(ReasonUnauthenticated)
	}
	if req.Membership && c.TeamID == nil {
		return Deny(ReasonNotTeamMember)
	}
	if len(req.TeamRoles) > 0 && (c.TeamRole == nil || !containsTeamRole(req.TeamRoles, *c.TeamRole)) {
		return Deny(ReasonInsufficientTeamRole)
	}
	if len(req.GlobalRoles) > 0 && !containsGlobalRole(req.GlobalRoles, c.GlobalRole) {
		return Deny(ReasonInsufficientGlobalRole)
	}
	return Allow
}

func containsTeamRole(set []models.TeamRole, r models.TeamRole) bool {
	for _, s := range set {
		if s == r {
			return true
		}
	}
	return false
}

func containsGlobalRole(set []models.GlobalRole, r models.GlobalRole) bool {
	for _, s := range set {
		if s == r {
			return true
		}
	}
	return false
}
