package models

import "slices"

const (
	RoleUser      = "user"
	RoleOrganizer = "organizer"
	RoleAdmin     = "admin"
)

// Principal is the authenticated caller as established by the JWT
// middleware.
type Principal struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

func (p Principal) Anonymous() bool {
	return p.ID == ""
}
