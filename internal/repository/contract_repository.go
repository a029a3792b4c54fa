package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/marcoshache/grain-canje-triangular/internal/model"
	"github.com/marcoshache/grain-canje-triangular/internal/service"
)

type ContractRepository struct {
	db *gorm.DB
}

func NewContractRepository(db *gorm.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

var _ service.ContractStore = (*ContractRepository)(nil)

type contractRow struct {
	ID             uuid.UUID
	Number         string
	Date           time.Time
	CompanyID      uuid.UUID
	CampaignID     *uuid.UUID
	ProducerID     uuid.UUID
	SupplierID     uuid.UUID
	ProductID      uuid.UUID
	PledgedTn      float64
	ReferencePrice decimal.Decimal
	Currency       string
	State          string
}

func (r *ContractRepository) Get(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	return r.load(ctx, r.db, id, false)
}

func (r *ContractRepository) load(ctx context.Context, db *gorm.DB, id uuid.UUID, forUpdate bool) (*model.Contract, error) {
	query := `
		SELECT
			c.id,
			c.number,
			c.date,
			c.company_id,
			c.campaign_id,
			c.producer_id,
			c.supplier_id,
			c.product_id,
			c.pledged_tn,
			c.reference_price,
			c.currency,
			c.state
		FROM contracts c
		WHERE c.id = ?`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var row contractRow
	if err := db.WithContext(ctx).Raw(query, id).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, service.ErrNotFound
	}

	contract := &model.Contract{
		ID:             row.ID,
		Number:         row.Number,
		Date:           row.Date,
		CompanyID:      row.CompanyID,
		CampaignID:     row.CampaignID,
		ProducerID:     row.ProducerID,
		SupplierID:     row.SupplierID,
		ProductID:      row.ProductID,
		PledgedTn:      row.PledgedTn,
		ReferencePrice: row.ReferencePrice,
		Currency:       row.Currency,
		State:          model.ContractState(row.State),
	}

	if err := r.loadDeliveries(ctx, db, contract); err != nil {
		return nil, err
	}
	if err := r.loadApplications(ctx, db, contract); err != nil {
		return nil, err
	}
	return contract, nil
}

func (r *ContractRepository) loadDeliveries(ctx context.Context, db *gorm.DB, contract *model.Contract) error {
	var rows []struct {
		ID       uuid.UUID
		Quantity float64
		Unit     string
		Done     bool
		Date     time.Time
	}
	err := db.WithContext(ctx).Raw(`
		SELECT dm.id, dm.quantity, dm.unit, dm.done, dm.date
		FROM delivery_movements dm
		JOIN contract_delivery cd ON cd.movement_id = dm.id
		WHERE cd.contract_id = ?
		ORDER BY dm.date, dm.id
	`, contract.ID).Scan(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		contract.Deliveries = append(contract.Deliveries, model.DeliveryMovement{
			ID:       row.ID,
			Quantity: row.Quantity,
			Unit:     model.Unit(row.Unit),
			Done:     row.Done,
			Date:     row.Date,
		})
	}
	return nil
}

func (r *ContractRepository) loadApplications(ctx context.Context, db *gorm.DB, contract *model.Contract) error {
	var rows []applicationRow
	err := db.WithContext(ctx).Raw(`
		SELECT
			a.id, a.contract_id, a.invoice_id, a.date, a.tn_applied,
			a.amount, a.currency, a.producer_id, a.supplier_id,
			a.campaign_id, a.product_id, a.company_id, a.created_at
		FROM applications a
		WHERE a.contract_id = ?
		ORDER BY a.date DESC, a.created_at DESC
	`, contract.ID).Scan(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		contract.Applications = append(contract.Applications, row.toModel())
	}
	return nil
}

type applicationRow struct {
	ID         uuid.UUID
	ContractID uuid.UUID
	InvoiceID  uuid.UUID
	Date       time.Time
	TnApplied  float64
	Amount     decimal.Decimal
	Currency   string
	ProducerID uuid.UUID
	SupplierID uuid.UUID
	CampaignID *uuid.UUID
	ProductID  uuid.UUID
	CompanyID  uuid.UUID
	CreatedAt  time.Time
}

func (row applicationRow) toModel() model.Application {
	return model.Application{
		ID:         row.ID,
		ContractID: row.ContractID,
		InvoiceID:  row.InvoiceID,
		Date:       row.Date,
		TnApplied:  row.TnApplied,
		Amount:     row.Amount,
		Currency:   row.Currency,
		ProducerID: row.ProducerID,
		SupplierID: row.SupplierID,
		CampaignID: row.CampaignID,
		ProductID:  row.ProductID,
		CompanyID:  row.CompanyID,
		CreatedAt:  row.CreatedAt,
	}
}

func (r *ContractRepository) SetState(ctx context.Context, id uuid.UUID, state model.ContractState) error {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE contracts SET state = ? WHERE id = ?`, string(state), id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (r *ContractRepository) LinkDelivery(ctx context.Context, contractID, movementID uuid.UUID) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO contract_delivery (contract_id, movement_id)
		VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, contractID, movementID).Error
}

// ApplyLocked runs fn with the contract row locked (SELECT ... FOR
// UPDATE) and its applications freshly loaded, then inserts the
// application fn returns in the same transaction. A failure anywhere
// rolls everything back.
func (r *ContractRepository) ApplyLocked(ctx context.Context, id uuid.UUID, fn func(c *model.Contract) (*model.Application, error)) (*model.Application, error) {
	var app *model.Application
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contract, err := r.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		created, err := fn(contract)
		if err != nil {
			return err
		}
		if err := insertApplication(ctx, tx, created); err != nil {
			return err
		}
		app = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func insertApplication(ctx context.Context, tx *gorm.DB, app *model.Application) error {
	err := tx.WithContext(ctx).Exec(`
		INSERT INTO applications (
			id, contract_id, invoice_id, date, tn_applied, amount, currency,
			producer_id, supplier_id, campaign_id, product_id, company_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
	`,
		app.ID, app.ContractID, app.InvoiceID, app.Date, app.TnApplied,
		app.Amount, app.Currency, app.ProducerID, app.SupplierID,
		app.CampaignID, app.ProductID, app.CompanyID,
	).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return service.ErrConflict
	}
	return err
}

// ListApplications returns a contract's applications for reporting.
func (r *ContractRepository) ListApplications(ctx context.Context, contractID uuid.UUID) ([]model.Application, error) {
	contract := &model.Contract{ID: contractID}
	if err := r.loadApplications(ctx, r.db, contract); err != nil {
		return nil, err
	}
	return contract.Applications, nil
}
