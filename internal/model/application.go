package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Application is an immutable record of contract tonnage applied
// against a supplier invoice. Rows are append-only: they are created
// through the apply-settlement operation and never mutated.
type Application struct {
	ID         uuid.UUID
	ContractID uuid.UUID
	InvoiceID  uuid.UUID
	Date       time.Time
	TnApplied  float64
	// Amount is the monetary equivalent in the invoice's currency.
	Amount   decimal.Decimal
	Currency string

	// Report-only copies of contract fields, written once at creation.
	// Never read back for settlement logic.
	ProducerID uuid.UUID
	SupplierID uuid.UUID
	CampaignID *uuid.UUID
	ProductID  uuid.UUID
	CompanyID  uuid.UUID

	CreatedAt time.Time
}
