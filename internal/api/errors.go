package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldops/fieldops/internal/apperr"
	"github.com/fieldops/fieldops/internal/middleware"
)

// statusFor maps error kinds onto HTTP status codes. Order matters only for errors
// that wrap more than one kind, which TxFailed never produces for domain errors.
var statusFor = []struct {
	kind   error
	status int
}{
	{apperr.ErrUnauthenticated, http.StatusUnauthorized},

	{apperr.ErrInsufficientRole, http.StatusForbidden},
	{apperr.ErrInsufficientGlobalRole, http.StatusForbidden},
	{apperr.ErrNotMember, http.StatusForbidden},
	{apperr.ErrForbidden, http.StatusForbidden},
	{apperr.ErrEmailMismatch, http.StatusForbidden},
	{apperr.ErrOwnerMustTransfer, http.StatusForbidden},
	{apperr.ErrCannotRemoveOwner, http.StatusForbidden},
	{apperr.ErrEditQuotaExceeded, http.StatusForbidden},

	{apperr.ErrNotFound, http.StatusNotFound},

	{apperr.ErrAlreadyInTeam, http.StatusConflict},
	{apperr.ErrSlugTaken, http.StatusConflict},
	{apperr.ErrConflict, http.StatusConflict},
	{apperr.ErrInvalidState, http.StatusConflict},
	{apperr.ErrInvalidRoleChange, http.StatusConflict},

	{apperr.ErrExpired, http.StatusGone},
	{apperr.ErrInvalidInput, http.StatusBadRequest},
	{apperr.ErrTransactionFailed, http.StatusServiceUnavailable},
}

// StatusFor returns the HTTP status for err; unknown errors are 500
func StatusFor(err error) int {
	for _, m := range statusFor {
		if errors.Is(err, m.kind) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": ...}. Messages of unclassified and
// transaction errors are replaced so store internals never reach clients.
func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		msg = "Internal server error"
	case errors.Is(err, apperr.ErrTransactionFailed):
		msg = apperr.ErrTransactionFailed.Error()
	}
	if status >= 500 {
		slog.ErrorContext(c.Request.Context(), "request failed",
			"request_id", middleware.RequestID(c), "route", c.FullPath(), "error", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// bindJSON decodes the body into dst, answering 400 on failure
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return false
	}
	return true
}
