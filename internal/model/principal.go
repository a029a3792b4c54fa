package model

import "github.com/google/uuid"

// Principal identifies the authenticated caller.
type Principal struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Role      string
}

func (p Principal) IsAdmin() bool {
	return p.Role == "admin"
}

// CanSettle reports whether the caller may run settlement operations.
func (p Principal) CanSettle() bool {
	return p.Role == "admin" || p.Role == "operator"
}
