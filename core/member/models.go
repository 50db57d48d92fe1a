package member

import (
	"github.com/trezcool/masomo-portal/core"
)

// Member is a search result.
type Member struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MinSearchLen is the shortest query sent to the search endpoint.
const MinSearchLen = 2

// Credentials are posted to the login endpoint.
type Credentials struct {
	Email    string `json:"username" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (c *Credentials) Validate() error {
	c.Email = core.CleanString(c.Email, true /* lower */)
	return core.ValidateStruct(c)
}

// NewMember contains the information needed to register a member.
type NewMember struct {
	Name            string `json:"name" validate:"required,notblank"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"passwordConfirm" validate:"required,eqfield=Password"`
	Phone           string `json:"phone" validate:"omitempty,e164|numeric"`
	Address         string `json:"address"`
}

func (nm *NewMember) Validate() error {
	nm.Name = core.CleanString(nm.Name)
	nm.Email = core.CleanString(nm.Email, true /* lower */)
	nm.Phone = core.CleanString(nm.Phone)
	nm.Address = core.CleanString(nm.Address)
	return core.ValidateStruct(nm)
}
