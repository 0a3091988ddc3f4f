// Package models - team.go defines the Team tenant model and the member-expanded view
// returned by team reads.
package models

import (
	"regexp"
	"strings"
	"time"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Team represents a tenant. OwnerID always references a user whose TeamRole is owner.
type Team struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
	Description *string   `db:"description" json:"description,omitempty"`
	LogoURL     *string   `db:"logo_url" json:"logo_url,omitempty"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// TeamWithMembers is a team together with its owner and full member list
type TeamWithMembers struct {
	Team
	Owner   *UserSummary   `json:"owner"`
	Members []*UserSummary `json:"members"`
}

// TeamPatch carries a partial team update; nil fields are left unchanged
type TeamPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	LogoURL     *string `json:"logo_url"`
	IsActive    *bool   `json:"is_active"`
}

// Empty reports whether the patch changes nothing
func (p TeamPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.LogoURL == nil && p.IsActive == nil
}

// Apply copies the present fields of p onto t
func (p TeamPatch) Apply(t *Team) {
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		t.Description = p.Description
	}
	if p.LogoURL != nil {
		t.LogoURL = p.LogoURL
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}
}

// NormalizeSlug lower-cases and trims a slug
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// ValidSlug reports whether slug is lower-case kebab-case between 2 and 64 characters
func ValidSlug(slug string) bool {
	return len(slug) >= 2 && len(slug) <= 64 && slugPattern.MatchString(slug)
}
