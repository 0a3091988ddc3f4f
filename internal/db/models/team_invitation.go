// Package models - team_invitation.go defines TeamInvitation, a single-use, time-limited offer
// for one email address to join one team.
package models

import "time"

// InvitationStatus is the lifecycle state of an invitation.
// Accepted, declined and expired are terminal.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

// TeamInvitation represents an invitation to join a team
type TeamInvitation struct {
	ID        string           `db:"id" json:"id"`
	TeamID    string           `db:"team_id" json:"team_id"`
	Email     string           `db:"email" json:"email"`
	Code      string           `db:"code" json:"-"`
	InviterID string           `db:"inviter_id" json:"inviter_id"`
	Role      TeamRole         `db:"role" json:"role"`
	Status    InvitationStatus `db:"status" json:"status"`
	ExpiresAt time.Time        `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// IsPending reports whether the invitation can still be redeemed or cancelled
func (i *TeamInvitation) IsPending() bool {
	return i.Status == InvitationPending
}

// ExpiredAt reports whether the invitation is past its expiry at now
func (i *TeamInvitation) ExpiredAt(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// InvitationWithTeam is the invitee's view of a pending invitation
type InvitationWithTeam struct {
	TeamInvitation
	TeamName string `db:"team_name" json:"team_name"`
	TeamSlug string `db:"team_slug" json:"team_slug"`
}
