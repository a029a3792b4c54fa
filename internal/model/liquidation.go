package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LiquidationType string

const (
	LiquidationLPG LiquidationType = "lpg"
	LiquidationLSG LiquidationType = "lsg"
)

type LiquidationState string

const (
	LiquidationStateDraft     LiquidationState = "draft"
	LiquidationStatePosted    LiquidationState = "posted"
	LiquidationStateCancelled LiquidationState = "cancel"
)

// Liquidation is a grain settlement document. An LPG (primary) generates
// a vendor bill to the producer against the clearing account; an LSG
// (secondary) generates an outbound payment-in-kind, optionally matched
// directly against a vendor bill.
type Liquidation struct {
	ID        uuid.UUID
	Number    string
	Type      LiquidationType
	Date      time.Time
	CompanyID uuid.UUID

	ProducerID uuid.UUID
	BrokerID   *uuid.UUID
	ProductID  uuid.UUID

	// Capture detail carried on secondary liquidations.
	COE          string
	DeliveryDate *time.Time
	Port         string
	GrainGrade   string

	QtyTn      float64
	PricePerTn decimal.Decimal
	TaxID      string

	AmountUntaxed decimal.Decimal
	AmountTax     decimal.Decimal
	AmountTotal   decimal.Decimal

	// BillID is the vendor bill an LPG generated; PaymentID is the
	// payment an LSG generated. Exactly one is set once posted.
	BillID    *uuid.UUID
	PaymentID *uuid.UUID

	// MatchBillID optionally targets an existing vendor bill an LSG
	// payment is registered against directly.
	MatchBillID *uuid.UUID

	State     LiquidationState
	CreatedAt time.Time
}

// GeneratedDocument returns the ledger document this liquidation
// produced when posted, or nil.
func (l *Liquidation) GeneratedDocument() *uuid.UUID {
	if l.BillID != nil {
		return l.BillID
	}
	return l.PaymentID
}

// PaymentPartner is the party an LSG payment goes to: the broker when
// one is set, otherwise the producer.
func (l *Liquidation) PaymentPartner() uuid.UUID {
	if l.BrokerID != nil && *l.BrokerID != uuid.Nil {
		return *l.BrokerID
	}
	return l.ProducerID
}
