package domain

import "time"

// Profile is an ephemeral visitor identity that owns teams.
type Profile struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"createdAt"`
	SelectedCount int       `json:"selectedCount"`
	Teams         []Team    `json:"createdTeams,omitempty"`
}
