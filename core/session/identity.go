package session

import (
	"strconv"
)

// Roles
const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

// Identity is the authenticated member's profile as returned by the login endpoint.
type Identity struct {
	ID    int64    `json:"id" validate:"required,gt=0"`
	Name  string   `json:"name" validate:"required,notblank"`
	Email string   `json:"email" validate:"omitempty,email"`
	Roles []string `json:"roles"`
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (i Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

func (i Identity) Key() string {
	return strconv.FormatInt(i.ID, 10)
}

func (i Identity) clone() Identity {
	c := i
	if i.Roles != nil {
		c.Roles = append([]string(nil), i.Roles...)
	}
	return c
}
