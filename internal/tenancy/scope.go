// Package tenancy restricts resource queries to the caller's team.
package tenancy

import (
	"fmt"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/policy"
)

// Scope is the tenant filter applied to every team-owned resource query.
// A Scope can only be obtained through For, so it always carries a team id.
type Scope struct {
	teamID string
	userID string
}

// For derives the scope of an authorization context. Team-less callers get ErrForbidden.
func For(c *policy.Context) (Scope, error) {
	if c == nil || c.UserID == "" {
		return Scope{}, apperr.ErrUnauthenticated
	}
	if c.TeamID == nil || *c.TeamID == "" {
		return Scope{}, fmt.Errorf("%w: caller has no team", apperr.ErrForbidden)
	}
	return Scope{teamID: *c.TeamID, userID: c.UserID}, nil
}

// TeamID is the team every scoped query is restricted to
func (s Scope) TeamID() string {
	return s.teamID
}

// UserID is the caller that produced the scope
func (s Scope) UserID() string {
	return s.userID
}

// Valid reports whether the scope was produced by For
func (s Scope) Valid() bool {
	return s.teamID != ""
}

// Where renders the tenant predicate for a query whose next positional argument is n.
// The returned argument must be appended to the query's argument list.
func (s Scope) Where(column string, n int) (string, any) {
	return fmt.Sprintf("%s = $%d", column, n), s.teamID
}

// Owns reports whether a row's team id falls inside the scope
func (s Scope) Owns(teamID string) bool {
	return s.Valid() && s.teamID == teamID
}
