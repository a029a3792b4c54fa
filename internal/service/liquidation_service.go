package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marcoshache/grain-canje-triangular/internal/accounting"
	"github.com/marcoshache/grain-canje-triangular/internal/config"
	"github.com/marcoshache/grain-canje-triangular/internal/model"
)

// LiquidationStore persists liquidation documents and issues their
// per-type numbering.
type LiquidationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Liquidation, error)
	Create(ctx context.Context, liq *model.Liquidation) error
	Update(ctx context.Context, liq *model.Liquidation) error
	NextNumber(ctx context.Context, t model.LiquidationType) (string, error)
}

// LiquidationService manages primary (LPG, vendor bill) and secondary
// (LSG, payment-in-kind) grain settlements.
type LiquidationService struct {
	liquidations LiquidationStore
	ledger       accounting.Ledger
	cfg          config.CanjeConfig
	log          zerolog.Logger
}

func NewLiquidationService(liquidations LiquidationStore, ledger accounting.Ledger, cfg config.CanjeConfig, log zerolog.Logger) *LiquidationService {
	return &LiquidationService{liquidations: liquidations, ledger: ledger, cfg: cfg, log: log}
}

// LiquidationInput captures a settlement from raw delivery data.
// Quantity/price may arrive in kilograms; the engine derives tonnes and
// price per tonne before any amount computation.
type LiquidationInput struct {
	CompanyID  uuid.UUID
	Date       time.Time
	ProducerID uuid.UUID
	BrokerID   *uuid.UUID
	ProductID  uuid.UUID

	Quantity float64
	Price    decimal.Decimal
	Unit     model.Unit

	// TaxID overrides the configured default when set.
	TaxID *string

	COE          string
	DeliveryDate *time.Time
	Port         string
	GrainGrade   string

	// MatchBillID, on an LSG, registers the payment directly against
	// this vendor bill instead of leaving an open prepayment.
	MatchBillID *uuid.UUID
}

// normalize returns the tonnage and price-per-tonne. The 1000 factor is
// exact, never rounded.
func (in LiquidationInput) normalize() (float64, decimal.Decimal) {
	if in.Unit == model.UnitKilogram {
		return in.Quantity / model.KilogramsPerTonne, in.Price.Mul(decimal.NewFromInt(1000))
	}
	return in.Quantity, in.Price
}

// CreateLPG records and posts a primary liquidation: a vendor bill to
// the producer against the clearing account.
func (s *LiquidationService) CreateLPG(ctx context.Context, in LiquidationInput) (*model.Liquidation, error) {
	liq, err := s.create(ctx, model.LiquidationLPG, in)
	if err != nil {
		return nil, err
	}
	return s.Post(ctx, liq.ID)
}

// CreateLSG records and posts a secondary liquidation: an outbound
// payment-in-kind to the broker or producer.
func (s *LiquidationService) CreateLSG(ctx context.Context, in LiquidationInput) (*model.Liquidation, error) {
	liq, err := s.create(ctx, model.LiquidationLSG, in)
	if err != nil {
		return nil, err
	}
	return s.Post(ctx, liq.ID)
}

func (s *LiquidationService) create(ctx context.Context, t model.LiquidationType, in LiquidationInput) (*model.Liquidation, error) {
	qtyTn, pricePerTn := in.normalize()
	if qtyTn <= 0 {
		return nil, fmt.Errorf("%w: quantity must be greater than zero", ErrValidation)
	}
	if !pricePerTn.IsPositive() {
		return nil, fmt.Errorf("%w: price must be greater than zero", ErrValidation)
	}
	if in.ProducerID == uuid.Nil {
		return nil, fmt.Errorf("%w: producer is required", ErrValidation)
	}

	switch t {
	case model.LiquidationLPG:
		if s.cfg.ClearingAccount == "" {
			return nil, fmt.Errorf("%w: grain clearing account", ErrConfiguration)
		}
		if s.cfg.LiquidationJournal == "" {
			return nil, fmt.Errorf("%w: grain liquidation journal", ErrConfiguration)
		}
	case model.LiquidationLSG:
		if s.cfg.NettingPaymentJournal == "" {
			return nil, fmt.Errorf("%w: netting payment journal", ErrConfiguration)
		}
	}

	taxID := s.defaultTax(t)
	if in.TaxID != nil {
		taxID = *in.TaxID
	}

	untaxed := decimal.NewFromFloat(qtyTn).Mul(pricePerTn).Round(model.CurrencyPrecision)
	tax, total := decimal.Zero, untaxed
	if taxID != "" {
		result, err := s.ledger.ComputeTax(ctx, untaxed, taxID, s.cfg.BaseCurrency, in.ProducerID)
		if err != nil {
			return nil, fmt.Errorf("%w: tax %s: %v", ErrConfiguration, taxID, err)
		}
		tax = result.Tax()
		total = result.TotalIncluded
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: total amount must be greater than zero", ErrValidation)
	}

	number, err := s.liquidations.NextNumber(ctx, t)
	if err != nil {
		return nil, err
	}

	liq := &model.Liquidation{
		ID:            uuid.New(),
		Number:        number,
		Type:          t,
		Date:          in.Date,
		CompanyID:     in.CompanyID,
		ProducerID:    in.ProducerID,
		BrokerID:      in.BrokerID,
		ProductID:     in.ProductID,
		COE:           in.COE,
		DeliveryDate:  in.DeliveryDate,
		Port:          in.Port,
		GrainGrade:    in.GrainGrade,
		QtyTn:         model.RoundTonnes(qtyTn),
		PricePerTn:    pricePerTn,
		TaxID:         taxID,
		AmountUntaxed: untaxed,
		AmountTax:     tax,
		AmountTotal:   total,
		MatchBillID:   in.MatchBillID,
		State:         model.LiquidationStateDraft,
	}
	if err := s.liquidations.Create(ctx, liq); err != nil {
		return nil, err
	}
	return liq, nil
}

func (s *LiquidationService) Get(ctx context.Context, id uuid.UUID) (*model.Liquidation, error) {
	return s.liquidations.Get(ctx, id)
}

// Post generates the liquidation's document. Re-posting an already
// posted liquidation returns it unchanged with its existing document.
func (s *LiquidationService) Post(ctx context.Context, id uuid.UUID) (*model.Liquidation, error) {
	liq, err := s.liquidations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch liq.State {
	case model.LiquidationStatePosted:
		return liq, nil
	case model.LiquidationStateCancelled:
		return nil, fmt.Errorf("%w: liquidation %s is cancelled", ErrValidation, liq.Number)
	}

	switch liq.Type {
	case model.LiquidationLPG:
		err = s.postLPG(ctx, liq)
	case model.LiquidationLSG:
		err = s.postLSG(ctx, liq)
	default:
		err = fmt.Errorf("%w: unknown liquidation type %q", ErrValidation, liq.Type)
	}
	if err != nil {
		return nil, err
	}

	liq.State = model.LiquidationStatePosted
	if err := s.liquidations.Update(ctx, liq); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("liquidation", liq.Number).
		Str("type", string(liq.Type)).
		Str("total", liq.AmountTotal.String()).
		Msg("liquidation posted")
	return liq, nil
}

func (s *LiquidationService) postLPG(ctx context.Context, liq *model.Liquidation) error {
	if liq.BillID != nil {
		return nil
	}

	bill, err := s.ledger.CreateBill(ctx, accounting.InvoiceInput{
		PartnerID: liq.ProducerID,
		Date:      liq.Date,
		Journal:   s.cfg.LiquidationJournal,
		Currency:  s.cfg.BaseCurrency,
		Ref:       liq.Number,
		Lines: []accounting.InvoiceLine{
			{
				ProductID: liq.ProductID,
				Label:     "primary grain liquidation",
				Quantity:  decimal.NewFromFloat(liq.QtyTn),
				PriceUnit: liq.PricePerTn,
				Account:   s.cfg.ClearingAccount,
				TaxID:     liq.TaxID,
			},
		},
	})
	if err != nil {
		return mapLedgerErr(err)
	}
	if err := s.ledger.Post(ctx, bill.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}
	liq.BillID = &bill.ID
	return nil
}

func (s *LiquidationService) postLSG(ctx context.Context, liq *model.Liquidation) error {
	if liq.PaymentID != nil {
		return nil
	}

	partner := liq.PaymentPartner()
	if partner == uuid.Nil {
		return fmt.Errorf("%w: no payable partner on liquidation %s", ErrValidation, liq.Number)
	}

	ref := fmt.Sprintf("LSG %s", liq.Number)
	if liq.COE != "" {
		ref = fmt.Sprintf("%s / COE %s", ref, liq.COE)
	}
	input := accounting.PaymentInput{
		PartnerID: partner,
		Amount:    liq.AmountTotal,
		Currency:  s.cfg.BaseCurrency,
		Date:      liq.Date,
		Journal:   s.cfg.NettingPaymentJournal,
		Ref:       ref,
	}

	var payment *accounting.Document
	var err error
	if liq.MatchBillID != nil {
		payment, err = s.ledger.RegisterPayment(ctx, *liq.MatchBillID, input)
	} else {
		payment, err = s.ledger.CreatePayment(ctx, input)
		if err == nil {
			err = s.ledger.Post(ctx, payment.ID)
		}
	}
	if err != nil {
		return mapLedgerErr(err)
	}
	liq.PaymentID = &payment.ID
	return nil
}

// Cancel is blocked while the generated bill or payment remains posted.
func (s *LiquidationService) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.unpost(ctx, id, model.LiquidationStateCancelled)
}

// SetDraft reopens a liquidation once its generated document has been
// unposted.
func (s *LiquidationService) SetDraft(ctx context.Context, id uuid.UUID) error {
	return s.unpost(ctx, id, model.LiquidationStateDraft)
}

func (s *LiquidationService) unpost(ctx context.Context, id uuid.UUID, target model.LiquidationState) error {
	liq, err := s.liquidations.Get(ctx, id)
	if err != nil {
		return err
	}
	if docID := liq.GeneratedDocument(); docID != nil {
		doc, err := s.ledger.Document(ctx, *docID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPostingFailed, err)
		}
		if doc.State == accounting.DocStatePosted {
			return fmt.Errorf("%w: document %s generated by %s is still posted", ErrValidation, doc.Ref, liq.Number)
		}
	}
	liq.State = target
	return s.liquidations.Update(ctx, liq)
}

func (s *LiquidationService) defaultTax(t model.LiquidationType) string {
	if t == model.LiquidationLPG {
		return s.cfg.LPGTax
	}
	return s.cfg.LSGTax
}

func mapLedgerErr(err error) error {
	switch {
	case errors.Is(err, accounting.ErrNoOutboundMethod),
		errors.Is(err, accounting.ErrUnknownJournal),
		errors.Is(err, accounting.ErrUnknownAccount),
		errors.Is(err, accounting.ErrUnknownTax):
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	case errors.Is(err, accounting.ErrUnknownPartner):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	case errors.Is(err, accounting.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrPostingFailed, err)
	}
}
