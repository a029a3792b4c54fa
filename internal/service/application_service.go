package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marcoshache/grain-canje-triangular/internal/accounting"
	"github.com/marcoshache/grain-canje-triangular/internal/config"
	"github.com/marcoshache/grain-canje-triangular/internal/model"
)

// ApplicationService applies contract tonnage against supplier invoices
// and posts the settlement entry. Apply is the single entry point that
// reduces contract availability.
type ApplicationService struct {
	contracts ContractStore
	ledger    accounting.Ledger
	cfg       config.CanjeConfig
	log       zerolog.Logger
}

func NewApplicationService(contracts ContractStore, ledger accounting.Ledger, cfg config.CanjeConfig, log zerolog.Logger) *ApplicationService {
	return &ApplicationService{contracts: contracts, ledger: ledger, cfg: cfg, log: log}
}

type ApplyInput struct {
	ContractID uuid.UUID
	InvoiceID  uuid.UUID
	Tonnes     float64
	Date       time.Time
}

// Apply validates the request, records an immutable Application under a
// contract lock and posts the reconciled settlement entry. Any failure
// rolls the whole operation back.
func (s *ApplicationService) Apply(ctx context.Context, in ApplyInput) (*model.Application, error) {
	if in.Tonnes <= 0 {
		return nil, fmt.Errorf("%w: tonnes must be greater than zero", ErrValidation)
	}
	if s.cfg.Journal == "" || s.cfg.Account == "" {
		return nil, fmt.Errorf("%w: canje journal and producer current account", ErrConfiguration)
	}

	contract, err := s.contracts.Get(ctx, in.ContractID)
	if err != nil {
		return nil, err
	}
	if contract.State != model.ContractStateOpen {
		return nil, fmt.Errorf("%w: contract %s is %s, not open", ErrValidation, contract.Number, contract.State)
	}

	invoice, err := s.ledger.Document(ctx, in.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: invoice %s", ErrNotFound, in.InvoiceID)
	}
	if invoice.Type != accounting.DocVendorBill {
		return nil, fmt.Errorf("%w: document %s is not a supplier invoice", ErrValidation, invoice.Ref)
	}
	if invoice.State != accounting.DocStatePosted {
		return nil, fmt.Errorf("%w: invoice %s must be posted", ErrValidation, invoice.Ref)
	}
	if invoice.PartnerID != contract.SupplierID {
		return nil, fmt.Errorf("%w: invoice %s does not belong to the contract supplier", ErrValidation, invoice.Ref)
	}

	// Equivalent amount: tonnes at the contract reference price,
	// expressed in the invoice currency.
	amount := decimal.NewFromFloat(in.Tonnes).Mul(contract.ReferencePrice)
	amountInvCur, err := s.ledger.Convert(ctx, amount, contractCurrency(contract, s.cfg), invoice.Currency, invoice.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}
	amountInvCur = amountInvCur.Round(model.CurrencyPrecision)
	if !amountInvCur.IsPositive() {
		return nil, fmt.Errorf("%w: equivalent amount must be greater than zero", ErrValidation)
	}

	residual, err := documentResidual(ctx, s.ledger, invoice, invoice.Currency)
	if err != nil {
		return nil, err
	}
	if amountInvCur.GreaterThan(residual.Add(model.CurrencyTolerance)) {
		return nil, fmt.Errorf("%w: amount %s %s exceeds invoice residual %s",
			ErrValidation, amountInvCur, invoice.Currency, residual)
	}

	// Fast-fail before taking the lock.
	if in.Tonnes > contract.AvailableTn()+model.TonnageEpsilon {
		return nil, fmt.Errorf("%w: %.3f tonnes requested, %.3f available on contract %s",
			ErrValidation, in.Tonnes, contract.AvailableTn(), contract.Number)
	}

	var entryID uuid.UUID
	app, err := s.contracts.ApplyLocked(ctx, in.ContractID, func(locked *model.Contract) (*model.Application, error) {
		// Re-validate under the lock: a concurrent application may have
		// consumed the balance between the check above and here.
		available := locked.AvailableTn()
		if available < 0 {
			available = 0
		}
		if in.Tonnes > available+model.TonnageEpsilon {
			return nil, fmt.Errorf("%w: %.3f tonnes requested, %.3f available on contract %s",
				ErrConflict, in.Tonnes, available, locked.Number)
		}

		posted, err := s.postSettlement(ctx, locked, invoice, amountInvCur, in.Date)
		if err != nil {
			return nil, err
		}
		entryID = posted

		return &model.Application{
			ID:         uuid.New(),
			ContractID: locked.ID,
			InvoiceID:  invoice.ID,
			Date:       in.Date,
			TnApplied:  model.RoundTonnes(in.Tonnes),
			Amount:     amountInvCur,
			Currency:   invoice.Currency,
			ProducerID: locked.ProducerID,
			SupplierID: locked.SupplierID,
			CampaignID: locked.CampaignID,
			ProductID:  locked.ProductID,
			CompanyID:  locked.CompanyID,
		}, nil
	})
	if err != nil {
		// The store can still fail after the settlement entry was
		// posted (duplicate insert, commit refused). Reverse the entry
		// so the invoice residual is restored on the accounting side.
		if entryID != uuid.Nil {
			if cancelErr := s.ledger.Cancel(ctx, entryID); cancelErr != nil {
				s.log.Error().Err(cancelErr).Str("entry", entryID.String()).Msg("settlement entry not rolled back")
			}
		}
		return nil, err
	}

	note := fmt.Sprintf("canje application: contract %s, %.3f tn, %s %s",
		contract.Number, app.TnApplied, app.Amount, app.Currency)
	if err := s.ledger.AppendNote(ctx, invoice.ID, note); err != nil {
		s.log.Warn().Err(err).Str("invoice", invoice.Ref).Msg("audit note not appended")
	}

	s.log.Info().
		Str("contract", contract.Number).
		Str("invoice", invoice.Ref).
		Float64("tn", app.TnApplied).
		Str("amount", app.Amount.String()).
		Str("currency", app.Currency).
		Msg("canje applied")
	return app, nil
}

// postSettlement builds and posts the balanced settlement entry and
// reconciles it against the invoice's outstanding payable line:
//
//	Dr supplier payable  (reduces the invoice debt)
//	Cr producer current account (grain credit owed to the producer)
//
// both in base currency, carrying the invoice-currency amount as
// auxiliary metadata.
func (s *ApplicationService) postSettlement(ctx context.Context, contract *model.Contract, invoice *accounting.Document, amountInvCur decimal.Decimal, date time.Time) (uuid.UUID, error) {
	outstanding := invoice.OutstandingLines(accounting.AccountPayable)
	if len(outstanding) == 0 {
		return uuid.Nil, fmt.Errorf("%w: invoice %s has no open payable line", ErrValidation, invoice.Ref)
	}
	vendorAccount := outstanding[0].Account

	amountBase, err := s.ledger.Convert(ctx, amountInvCur, invoice.Currency, s.ledger.BaseCurrency(), invoice.Date)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}
	amountBase = amountBase.Round(model.CurrencyPrecision)

	entry, err := s.ledger.CreateEntry(ctx, accounting.EntryInput{
		Journal: s.cfg.Journal,
		Date:    date,
		Ref:     fmt.Sprintf("canje %s applied to %s", contract.Number, invoice.Ref),
		Lines: []accounting.EntryLine{
			{
				Account:        vendorAccount,
				PartnerID:      invoice.PartnerID,
				Label:          "canje settlement (Dr supplier)",
				Debit:          amountBase,
				Currency:       invoice.Currency,
				AmountCurrency: amountInvCur,
			},
			{
				Account:        s.cfg.Account,
				PartnerID:      contract.ProducerID,
				Label:          "canje settlement (Cr producer current account)",
				Credit:         amountBase,
				Currency:       invoice.Currency,
				AmountCurrency: amountInvCur.Neg(),
			},
		},
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}
	if err := s.ledger.Post(ctx, entry.ID); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}

	// Reconcile by account and partner identity; the primitive settles
	// min(available).
	posted, err := s.ledger.Document(ctx, entry.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}
	var lineIDs []uuid.UUID
	for _, line := range posted.Lines {
		if line.Account == vendorAccount && line.PartnerID == invoice.PartnerID {
			lineIDs = append(lineIDs, line.ID)
		}
	}
	for _, line := range outstanding {
		if line.Account == vendorAccount && line.PartnerID == invoice.PartnerID {
			lineIDs = append(lineIDs, line.ID)
		}
	}
	if err := s.ledger.Reconcile(ctx, lineIDs); err != nil {
		// Leave no partial settlement behind.
		if cancelErr := s.ledger.Cancel(ctx, entry.ID); cancelErr != nil {
			s.log.Error().Err(cancelErr).Str("entry", entry.ID.String()).Msg("settlement entry not rolled back")
		}
		return uuid.Nil, fmt.Errorf("%w: reconcile: %v", ErrPostingFailed, err)
	}
	return entry.ID, nil
}

func contractCurrency(c *model.Contract, cfg config.CanjeConfig) string {
	if c.Currency != "" {
		return c.Currency
	}
	return cfg.BaseCurrency
}
