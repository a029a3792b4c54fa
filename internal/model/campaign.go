package model

import (
	"time"

	"github.com/google/uuid"
)

// Campaign groups canje contracts by harvest period.
type Campaign struct {
	ID        uuid.UUID
	Name      string
	DateStart *time.Time
	DateEnd   *time.Time
	CompanyID uuid.UUID
}
