// Package apperr defines the error kinds returned by the team membership core and the
// resource services layered on top of it. Every kind is a sentinel error so callers can
// branch with errors.Is regardless of how much context has been wrapped around it.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// Identity
	ErrUnauthenticated = errors.New("unauthenticated")

	// Lookup
	ErrNotFound  = errors.New("not found")
	ErrNotMember = errors.New("not a member of this team")

	// Membership lifecycle
	ErrAlreadyInTeam     = errors.New("user already belongs to a team")
	ErrSlugTaken         = errors.New("team slug already taken")
	ErrConflict          = errors.New("conflict")
	ErrOwnerMustTransfer = errors.New("owner must transfer ownership before leaving")
	ErrCannotRemoveOwner = errors.New("the team owner cannot be removed")
	ErrInvalidRoleChange = errors.New("invalid role change")

	// Authorization
	ErrInsufficientRole       = errors.New("insufficient team role")
	ErrInsufficientGlobalRole = errors.New("insufficient global role")
	ErrForbidden              = errors.New("forbidden")

	// Invitations
	ErrExpired       = errors.New("invitation expired")
	ErrInvalidState  = errors.New("invitation is no longer pending")
	ErrEmailMismatch = errors.New("invitation email does not match account email")

	// Resources
	ErrInvalidInput      = errors.New("invalid input")
	ErrEditQuotaExceeded = errors.New("report edit quota exceeded")

	// Storage
	ErrTransactionFailed = errors.New("transaction failed")
)

// Invalid wraps ErrInvalidInput with a field-level message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// TxFailed marks cause as a rolled-back transactional unit. Domain errors raised inside
// the unit pass through untouched so callers still see the original kind.
func TxFailed(cause error) error {
	if cause == nil {
		return nil
	}
	if IsDomain(cause) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrTransactionFailed, cause)
}

var domainKinds = []error{
	ErrUnauthenticated,
	ErrNotFound,
	ErrNotMember,
	ErrAlreadyInTeam,
	ErrSlugTaken,
	ErrConflict,
	ErrOwnerMustTransfer,
	ErrCannotRemoveOwner,
	ErrInvalidRoleChange,
	ErrInsufficientRole,
	ErrInsufficientGlobalRole,
	ErrForbidden,
	ErrExpired,
	ErrInvalidState,
	ErrEmailMismatch,
	ErrInvalidInput,
	ErrEditQuotaExceeded,
	ErrTransactionFailed,
}

// IsDomain reports whether err carries one of the kinds declared in this package.
func IsDomain(err error) bool {
	for _, kind := range domainKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
