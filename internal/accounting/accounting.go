// Package accounting defines the contract this module consumes from the
// external accounting subsystem: financial documents, posting, the
// reconciliation primitive, tax computation and currency conversion.
package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DocumentType string

const (
	DocCustomerInvoice DocumentType = "out_invoice"
	DocVendorBill      DocumentType = "in_invoice"
	DocPayment         DocumentType = "payment"
	DocJournalEntry    DocumentType = "entry"
)

type DocumentState string

const (
	DocStateDraft     DocumentState = "draft"
	DocStatePosted    DocumentState = "posted"
	DocStateCancelled DocumentState = "cancel"
)

// AccountKind classifies a ledger account for reconciliation matching.
type AccountKind string

const (
	AccountReceivable AccountKind = "receivable"
	AccountPayable    AccountKind = "payable"
	AccountOther      AccountKind = "other"
)

// Line is a posted ledger line. Debit/Credit are in the company's base
// currency; AmountCurrency carries the original-currency amount when
// the document currency differs from base.
type Line struct {
	ID        uuid.UUID
	Account   string
	Kind      AccountKind
	PartnerID uuid.UUID
	Label     string

	Debit  decimal.Decimal
	Credit decimal.Decimal

	Currency       string
	AmountCurrency decimal.Decimal

	// Residual is the unreconciled remainder in base currency;
	// ResidualCurrency the proportional remainder in the line currency.
	Residual         decimal.Decimal
	ResidualCurrency decimal.Decimal
	Reconciled       bool
}

type Document struct {
	ID        uuid.UUID
	Type      DocumentType
	State     DocumentState
	PartnerID uuid.UUID
	Currency  string
	Date      time.Time
	Journal   string
	Ref       string
	Lines     []Line
	Notes     []string
}

// OutstandingLines returns the document's unreconciled receivable or
// payable lines.
func (d *Document) OutstandingLines(kind AccountKind) []Line {
	var out []Line
	for _, l := range d.Lines {
		if l.Kind == kind && !l.Reconciled {
			out = append(out, l)
		}
	}
	return out
}

// InvoiceLine is one line of a bill or customer invoice to create.
type InvoiceLine struct {
	ProductID uuid.UUID
	Label     string
	Quantity  decimal.Decimal
	PriceUnit decimal.Decimal
	Account   string
	TaxID     string
}

type InvoiceInput struct {
	PartnerID uuid.UUID
	Date      time.Time
	Journal   string
	Currency  string
	Ref       string
	Lines     []InvoiceLine
}

type PaymentInput struct {
	PartnerID uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	Date      time.Time
	Journal   string
	Ref       string
}

type EntryLine struct {
	Account        string
	PartnerID      uuid.UUID
	Label          string
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	Currency       string
	AmountCurrency decimal.Decimal
}

type EntryInput struct {
	Journal string
	Date    time.Time
	Ref     string
	Lines   []EntryLine
}

// TaxResult mirrors the tax primitive's output: totals with and without
// the applied tax.
type TaxResult struct {
	TotalExcluded decimal.Decimal
	TotalIncluded decimal.Decimal
}

func (t TaxResult) Tax() decimal.Decimal {
	return t.TotalIncluded.Sub(t.TotalExcluded)
}

// Ledger is the accounting collaborator. Every operation is synchronous
// and transactional on the collaborator's side.
type Ledger interface {
	BaseCurrency() string

	CreateInvoice(ctx context.Context, in InvoiceInput) (*Document, error)
	CreateBill(ctx context.Context, in InvoiceInput) (*Document, error)
	CreatePayment(ctx context.Context, in PaymentInput) (*Document, error)
	// RegisterPayment creates and posts a payment matched directly
	// against an open vendor bill.
	RegisterPayment(ctx context.Context, billID uuid.UUID, in PaymentInput) (*Document, error)
	CreateEntry(ctx context.Context, in EntryInput) (*Document, error)

	Post(ctx context.Context, docID uuid.UUID) error
	Cancel(ctx context.Context, docID uuid.UUID) error
	Document(ctx context.Context, docID uuid.UUID) (*Document, error)

	// Reconcile links lines of equal and opposite sign on the same
	// account and partner, settling min(available).
	Reconcile(ctx context.Context, lineIDs []uuid.UUID) error

	ComputeTax(ctx context.Context, base decimal.Decimal, taxID, currency string, partnerID uuid.UUID) (TaxResult, error)
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error)

	PartnerAccounts(ctx context.Context, partnerID uuid.UUID) (receivable, payable string, err error)
	AppendNote(ctx context.Context, docID uuid.UUID, note string) error
}
