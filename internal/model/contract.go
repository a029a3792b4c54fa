package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ContractState string

const (
	ContractStateDraft     ContractState = "draft"
	ContractStateOpen      ContractState = "open"
	ContractStateDone      ContractState = "done"
	ContractStateCancelled ContractState = "cancel"
)

// Unit is the unit of measure a quantity was captured in.
type Unit string

const (
	UnitTonne    Unit = "tn"
	UnitKilogram Unit = "kg"
)

// KilogramsPerTonne is exact; kg→tn conversion must not round the factor.
const KilogramsPerTonne = 1000.0

// ConvertQuantity converts a quantity between tonnes and kilograms.
func ConvertQuantity(qty float64, from, to Unit) float64 {
	if from == to {
		return qty
	}
	if from == UnitKilogram && to == UnitTonne {
		return qty / KilogramsPerTonne
	}
	return qty * KilogramsPerTonne
}

// DeliveryMovement is a completed logistics record linked to a contract.
// Contracts reference movements, they do not own them.
type DeliveryMovement struct {
	ID       uuid.UUID
	Quantity float64
	Unit     Unit
	Done     bool
	Date     time.Time
}

// Contract is a grain exchange contract between a producer and an
// input supplier. Tonnage balances are derived, never stored as truth.
type Contract struct {
	ID         uuid.UUID
	Number     string
	Date       time.Time
	CompanyID  uuid.UUID
	CampaignID *uuid.UUID
	ProducerID uuid.UUID
	SupplierID uuid.UUID
	ProductID  uuid.UUID

	// PledgedTn, when set (> 0), overrides delivered tonnage as the
	// availability base.
	PledgedTn      float64
	ReferencePrice decimal.Decimal
	Currency       string
	State          ContractState

	Deliveries   []DeliveryMovement
	Applications []Application
}

// DeliveredTn sums completed delivery quantities converted to tonnes,
// rounded to 3 decimals.
func (c *Contract) DeliveredTn() float64 {
	total := 0.0
	for _, mv := range c.Deliveries {
		if !mv.Done {
			continue
		}
		total += ConvertQuantity(mv.Quantity, mv.Unit, UnitTonne)
	}
	return RoundTonnes(total)
}

// AppliedTn sums tonnes consumed by the contract's applications.
func (c *Contract) AppliedTn() float64 {
	total := 0.0
	for _, app := range c.Applications {
		total += app.TnApplied
	}
	return RoundTonnes(total)
}

// AvailableTn is the remaining balance: pledged tonnage when set,
// otherwise delivered tonnage, minus applied tonnage. May go negative
// after an over-application race; callers treat negative as zero when
// validating new applications.
func (c *Contract) AvailableTn() float64 {
	base := c.PledgedTn
	if base <= 0 {
		base = c.DeliveredTn()
	}
	return RoundTonnes(base - c.AppliedTn())
}
