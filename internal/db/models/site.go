// Package models - site.go defines Site, a team-owned physical location that reports are filed against.
package models

import "time"

// Site represents a field location owned by a team
type Site struct {
	ID        string    `db:"id" json:"id"`
	TeamID    string    `db:"team_id" json:"team_id"`
	Name      string    `db:"name" json:"name"`
	Address   *string   `db:"address" json:"address,omitempty"`
	Latitude  *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64  `db:"longitude" json:"longitude,omitempty"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SitePatch carries a partial site update
type SitePatch struct {
	Name      *string  `json:"name"`
	Address   *string  `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Apply copies the present fields of p onto s
func (p SitePatch) Apply(s *Site) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Address != nil {
		s.Address = p.Address
	}
	if p.Latitude != nil {
		s.Latitude = p.Latitude
	}
	if p.Longitude != nil {
		s.Longitude = p.Longitude
	}
}
