package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/marcoshache/grain-canje-triangular/internal/model"
	"github.com/marcoshache/grain-canje-triangular/internal/service"
)

type LiquidationRepository struct {
	db *gorm.DB
}

func NewLiquidationRepository(db *gorm.DB) *LiquidationRepository {
	return &LiquidationRepository{db: db}
}

var _ service.LiquidationStore = (*LiquidationRepository)(nil)

type liquidationRow struct {
	ID            uuid.UUID
	Number        string
	Type          string
	Date          time.Time
	CompanyID     uuid.UUID
	ProducerID    uuid.UUID
	BrokerID      *uuid.UUID
	ProductID     uuid.UUID
	Coe           string
	DeliveryDate  *time.Time
	Port          string
	GrainGrade    string
	QtyTn         float64
	PricePerTn    decimal.Decimal
	TaxID         string
	AmountUntaxed decimal.Decimal
	AmountTax     decimal.Decimal
	AmountTotal   decimal.Decimal
	BillID        *uuid.UUID
	PaymentID     *uuid.UUID
	MatchBillID   *uuid.UUID
	State         string
	CreatedAt     time.Time
}

func (r *LiquidationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Liquidation, error) {
	var row liquidationRow
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			l.id, l.number, l.type, l.date, l.company_id, l.producer_id,
			l.broker_id, l.product_id, l.coe, l.delivery_date, l.port,
			l.grain_grade, l.qty_tn, l.price_per_tn, l.tax_id,
			l.amount_untaxed, l.amount_tax, l.amount_total,
			l.bill_id, l.payment_id, l.match_bill_id, l.state, l.created_at
		FROM liquidations l
		WHERE l.id = ?
	`, id).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, service.ErrNotFound
	}

	return &model.Liquidation{
		ID:            row.ID,
		Number:        row.Number,
		Type:          model.LiquidationType(row.Type),
		Date:          row.Date,
		CompanyID:     row.CompanyID,
		ProducerID:    row.ProducerID,
		BrokerID:      row.BrokerID,
		ProductID:     row.ProductID,
		COE:           row.Coe,
		DeliveryDate:  row.DeliveryDate,
		Port:          row.Port,
		GrainGrade:    row.GrainGrade,
		QtyTn:         row.QtyTn,
		PricePerTn:    row.PricePerTn,
		TaxID:         row.TaxID,
		AmountUntaxed: row.AmountUntaxed,
		AmountTax:     row.AmountTax,
		AmountTotal:   row.AmountTotal,
		BillID:        row.BillID,
		PaymentID:     row.PaymentID,
		MatchBillID:   row.MatchBillID,
		State:         model.LiquidationState(row.State),
		CreatedAt:     row.CreatedAt,
	}, nil
}

func (r *LiquidationRepository) Create(ctx context.Context, liq *model.Liquidation) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO liquidations (
			id, number, type, date, company_id, producer_id, broker_id,
			product_id, coe, delivery_date, port, grain_grade, qty_tn,
			price_per_tn, tax_id, amount_untaxed, amount_tax, amount_total,
			bill_id, payment_id, match_bill_id, state, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
	`,
		liq.ID, liq.Number, string(liq.Type), liq.Date, liq.CompanyID,
		liq.ProducerID, liq.BrokerID, liq.ProductID, liq.COE,
		liq.DeliveryDate, liq.Port, liq.GrainGrade, liq.QtyTn,
		liq.PricePerTn, liq.TaxID, liq.AmountUntaxed, liq.AmountTax,
		liq.AmountTotal, liq.BillID, liq.PaymentID, liq.MatchBillID,
		string(liq.State),
	).Error
}

func (r *LiquidationRepository) Update(ctx context.Context, liq *model.Liquidation) error {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE liquidations
		SET bill_id = ?, payment_id = ?, match_bill_id = ?, state = ?
		WHERE id = ?
	`, liq.BillID, liq.PaymentID, liq.MatchBillID, string(liq.State), liq.ID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return service.ErrNotFound
	}
	return nil
}

// NextNumber issues the next value from the per-type counter,
// serialized by the row update.
func (r *LiquidationRepository) NextNumber(ctx context.Context, t model.LiquidationType) (string, error) {
	var next int64
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO liquidation_sequences (type, next)
		VALUES (?, 2)
		ON CONFLICT (type) DO UPDATE SET next = liquidation_sequences.next + 1
		RETURNING liquidation_sequences.next - 1
	`, string(t)).Scan(&next).Error
	if err != nil {
		return "", err
	}
	prefix := "LPG"
	if t == model.LiquidationLSG {
		prefix = "LSG"
	}
	return fmt.Sprintf("%s-%05d", prefix, next), nil
}
