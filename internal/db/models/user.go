// Package models - user.go defines the User account model, the account-wide GlobalRole,
// and the team-scoped TeamRole with its privilege ordering.
package models

import (
	"strings"
	"time"
)

// GlobalRole is an account-wide privilege independent of team membership
type GlobalRole string

const (
	GlobalRoleAdmin GlobalRole = "admin"
	GlobalRoleUser  GlobalRole = "user"
)

// Valid reports whether r is a known global role
func (r GlobalRole) Valid() bool {
	return r == GlobalRoleAdmin || r == GlobalRoleUser
}

// TeamRole is a user's privilege level within their current team
type TeamRole string

const (
	TeamRoleOwner  TeamRole = "owner"
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleMember TeamRole = "member"
)

// ParseTeamRole converts s (case-insensitive) into a TeamRole
func ParseTeamRole(s string) (TeamRole, bool) {
	r := TeamRole(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Valid reports whether r is one of the three team roles
func (r TeamRole) Valid() bool {
	switch r {
	case TeamRoleOwner, TeamRoleAdmin, TeamRoleMember:
		return true
	}
	return false
}

// privilege is only meaningful for comparisons; unknown roles rank below MEMBER.
func (r TeamRole) privilege() int {
	switch r {
	case TeamRoleOwner:
		return 3
	case TeamRoleAdmin:
		return 2
	case TeamRoleMember:
		return 1
	}
	return 0
}

// Outranks reports whether r is strictly more privileged than other.
// Used for role-change and removal gating only.
func (r TeamRole) Outranks(other TeamRole) bool {
	return r.privilege() > other.privilege()
}

// AtLeast reports whether r is as privileged as other or more.
func (r TeamRole) AtLeast(other TeamRole) bool {
	return r.privilege() >= other.privilege()
}

// User represents an account. TeamID and TeamRole are either both nil or both set.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         GlobalRole `db:"role" json:"role"`
	TeamID       *string    `db:"team_id" json:"team_id"`
	TeamRole     *TeamRole  `db:"team_role" json:"team_role"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// InTeam reports whether the user currently belongs to teamID
func (u *User) InTeam(teamID string) bool {
	return u.TeamID != nil && *u.TeamID == teamID
}

// IsTeamless reports whether the user has no team
func (u *User) IsTeamless() bool {
	return u.TeamID == nil
}

// CurrentTeamRole returns the user's team role, or "" when team-less
func (u *User) CurrentTeamRole() TeamRole {
	if u.TeamRole == nil {
		return ""
	}
	return *u.TeamRole
}

// IsGlobalAdmin reports whether the account carries the admin global role
func (u *User) IsGlobalAdmin() bool {
	return u.Role == GlobalRoleAdmin
}

// Summary returns the public projection of the user used in team listings
func (u *User) Summary() *UserSummary {
	return &UserSummary{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		TeamRole: u.CurrentTeamRole(),
	}
}

// UserSummary is the member view embedded in team responses
type UserSummary struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	TeamRole TeamRole `json:"team_role"`
}

// NormalizeEmail case-folds and trims an email address for storage and comparison
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
