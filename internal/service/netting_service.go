package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marcoshache/grain-canje-triangular/internal/accounting"
	"github.com/marcoshache/grain-canje-triangular/internal/config"
	"github.com/marcoshache/grain-canje-triangular/internal/model"
)

// NettingService compensates a producer's receivable (insumos invoice)
// against their payable (grain delivery bill) without cash movement.
type NettingService struct {
	ledger accounting.Ledger
	cfg    config.CanjeConfig
	log    zerolog.Logger
}

func NewNettingService(ledger accounting.Ledger, cfg config.CanjeConfig, log zerolog.Logger) *NettingService {
	return &NettingService{ledger: ledger, cfg: cfg, log: log}
}

// MaxCompensable is min(residual(invoice), residual(bill)) in the
// requested currency, clamped to zero. An empty currency defaults to
// the invoice currency, as Compensate does.
func (s *NettingService) MaxCompensable(ctx context.Context, invoiceID, billID uuid.UUID, currency string) (decimal.Decimal, error) {
	invoice, bill, err := s.loadPair(ctx, invoiceID, billID)
	if err != nil {
		return decimal.Zero, err
	}
	if currency == "" {
		currency = invoice.Currency
	}
	return s.maxCompensable(ctx, invoice, bill, currency)
}

func (s *NettingService) maxCompensable(ctx context.Context, invoice, bill *accounting.Document, currency string) (decimal.Decimal, error) {
	invResidual, err := documentResidual(ctx, s.ledger, invoice, currency)
	if err != nil {
		return decimal.Zero, err
	}
	billResidual, err := documentResidual(ctx, s.ledger, bill, currency)
	if err != nil {
		return decimal.Zero, err
	}
	max := decimal.Min(invResidual, billResidual)
	if max.IsNegative() {
		return decimal.Zero, nil
	}
	return max, nil
}

type CompensateInput struct {
	InvoiceID uuid.UUID
	BillID    uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	// AutoCap overrides the configured policy when set: clamp an
	// oversized amount down to the maximum instead of failing.
	AutoCap *bool
}

// Compensate posts a balanced entry debiting the producer's payable and
// crediting their receivable, then reconciles both sides against the
// bill and the invoice.
func (s *NettingService) Compensate(ctx context.Context, in CompensateInput) (uuid.UUID, error) {
	if s.cfg.NettingJournal == "" {
		return uuid.Nil, fmt.Errorf("%w: netting journal", ErrConfiguration)
	}
	if !in.Amount.IsPositive() {
		return uuid.Nil, fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}

	invoice, bill, err := s.loadPair(ctx, in.InvoiceID, in.BillID)
	if err != nil {
		return uuid.Nil, err
	}
	if invoice.PartnerID != bill.PartnerID {
		return uuid.Nil, fmt.Errorf("%w: invoice and bill belong to different producers", ErrValidation)
	}

	currency := in.Currency
	if currency == "" {
		currency = invoice.Currency
	}

	amount := in.Amount
	max, err := s.maxCompensable(ctx, invoice, bill, currency)
	if err != nil {
		return uuid.Nil, err
	}
	if amount.GreaterThan(max) {
		autoCap := s.cfg.NettingAutoCap
		if in.AutoCap != nil {
			autoCap = *in.AutoCap
		}
		if !autoCap {
			return uuid.Nil, fmt.Errorf("%w: amount %s exceeds maximum compensable %s %s",
				ErrValidation, amount, max, currency)
		}
		if !max.IsPositive() {
			return uuid.Nil, fmt.Errorf("%w: nothing left to compensate between %s and %s",
				ErrValidation, invoice.Ref, bill.Ref)
		}
		amount = max
	}

	receivable, payable, err := s.ledger.PartnerAccounts(ctx, invoice.PartnerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	base := s.ledger.BaseCurrency()
	amountBase, err := s.ledger.Convert(ctx, amount, currency, base, invoice.Date)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}
	amountBase = amountBase.Round(model.CurrencyPrecision)

	payLine := accounting.EntryLine{
		Account:   payable,
		PartnerID: invoice.PartnerID,
		Label:     "canje netting (Dr A/P)",
		Debit:     amountBase,
	}
	if bill.Currency != base {
		amountBillCur, err := s.ledger.Convert(ctx, amount, currency, bill.Currency, invoice.Date)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrPostingFailed, err)
		}
		payLine.Currency = bill.Currency
		payLine.AmountCurrency = amountBillCur.Round(model.CurrencyPrecision)
	}

	recvLine := accounting.EntryLine{
		Account:   receivable,
		PartnerID: invoice.PartnerID,
		Label:     "canje netting (Cr A/R)",
		Credit:    amountBase,
	}
	if invoice.Currency != base {
		amountInvCur, err := s.ledger.Convert(ctx, amount, currency, invoice.Currency, invoice.Date)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrPostingFailed, err)
		}
		recvLine.Currency = invoice.Currency
		recvLine.AmountCurrency = amountInvCur.Round(model.CurrencyPrecision).Neg()
	}

	entry, err := s.ledger.CreateEntry(ctx, accounting.EntryInput{
		Journal: s.cfg.NettingJournal,
		Date:    invoice.Date,
		Ref:     fmt.Sprintf("canje netting: %s vs %s", invoice.Ref, bill.Ref),
		Lines:   []accounting.EntryLine{payLine, recvLine},
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}
	if err := s.ledger.Post(ctx, entry.ID); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}

	if err := s.reconcileSides(ctx, entry.ID, invoice, bill, receivable, payable); err != nil {
		if cancelErr := s.ledger.Cancel(ctx, entry.ID); cancelErr != nil {
			s.log.Error().Err(cancelErr).Str("entry", entry.ID.String()).Msg("netting entry not rolled back")
		}
		return uuid.Nil, err
	}

	s.log.Info().
		Str("invoice", invoice.Ref).
		Str("bill", bill.Ref).
		Str("amount", amount.String()).
		Str("currency", currency).
		Msg("netting posted")
	return entry.ID, nil
}

func (s *NettingService) reconcileSides(ctx context.Context, entryID uuid.UUID, invoice, bill *accounting.Document, receivable, payable string) error {
	posted, err := s.ledger.Document(ctx, entryID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}

	var payIDs, recvIDs []uuid.UUID
	for _, line := range posted.Lines {
		switch line.Account {
		case payable:
			payIDs = append(payIDs, line.ID)
		case receivable:
			recvIDs = append(recvIDs, line.ID)
		}
	}
	for _, line := range bill.OutstandingLines(accounting.AccountPayable) {
		payIDs = append(payIDs, line.ID)
	}
	for _, line := range invoice.OutstandingLines(accounting.AccountReceivable) {
		recvIDs = append(recvIDs, line.ID)
	}

	if err := s.ledger.Reconcile(ctx, payIDs); err != nil {
		return fmt.Errorf("%w: payable reconcile: %v", ErrPostingFailed, err)
	}
	if err := s.ledger.Reconcile(ctx, recvIDs); err != nil {
		return fmt.Errorf("%w: receivable reconcile: %v", ErrPostingFailed, err)
	}
	return nil
}

func (s *NettingService) loadPair(ctx context.Context, invoiceID, billID uuid.UUID) (*accounting.Document, *accounting.Document, error) {
	invoice, err := s.ledger.Document(ctx, invoiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invoice %s", ErrNotFound, invoiceID)
	}
	if invoice.Type != accounting.DocCustomerInvoice || invoice.State != accounting.DocStatePosted {
		return nil, nil, fmt.Errorf("%w: %s must be a posted client invoice", ErrValidation, invoice.Ref)
	}
	bill, err := s.ledger.Document(ctx, billID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bill %s", ErrNotFound, billID)
	}
	if bill.Type != accounting.DocVendorBill || bill.State != accounting.DocStatePosted {
		return nil, nil, fmt.Errorf("%w: %s must be a posted vendor bill", ErrValidation, bill.Ref)
	}
	return invoice, bill, nil
}
