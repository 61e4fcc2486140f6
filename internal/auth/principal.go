package auth

import "slices"

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
	RoleService = "service"
)

// Principal is the authenticated caller. It is produced once per request by
// an Authenticator and passed explicitly to every core operation.
type Principal struct {
	UserID string
	Roles  []string
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// IsZero reports whether p carries no identity.
func (p Principal) IsZero() bool {
	return p.UserID == "" && len(p.Roles) == 0
}
