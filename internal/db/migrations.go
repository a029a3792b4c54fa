package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		name VARCHAR(128) NOT NULL,
		date_start DATE,
		date_end DATE,
		company_id UUID NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS contracts (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		number VARCHAR(64) NOT NULL,
		date DATE NOT NULL,
		company_id UUID NOT NULL,
		campaign_id UUID REFERENCES campaigns(id),
		producer_id UUID NOT NULL,
		supplier_id UUID NOT NULL,
		product_id UUID NOT NULL,
		pledged_tn NUMERIC(18,3) NOT NULL DEFAULT 0 CHECK (pledged_tn >= 0),
		reference_price NUMERIC(18,4) NOT NULL DEFAULT 0,
		currency VARCHAR(8) NOT NULL DEFAULT '',
		state VARCHAR(16) NOT NULL DEFAULT 'draft'
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_contract_number ON contracts (company_id, number);`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_supplier ON contracts (supplier_id);`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_state ON contracts (state);`,
	`CREATE TABLE IF NOT EXISTS delivery_movements (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		quantity NUMERIC(18,3) NOT NULL,
		unit VARCHAR(8) NOT NULL DEFAULT 'tn',
		done BOOLEAN NOT NULL DEFAULT FALSE,
		date DATE NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS contract_delivery (
		contract_id UUID NOT NULL REFERENCES contracts(id),
		movement_id UUID NOT NULL REFERENCES delivery_movements(id),
		PRIMARY KEY (contract_id, movement_id)
	);`,
	`CREATE TABLE IF NOT EXISTS applications (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		contract_id UUID NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		invoice_id UUID NOT NULL,
		date DATE NOT NULL,
		tn_applied NUMERIC(18,3) NOT NULL CHECK (tn_applied > 0),
		amount NUMERIC(18,2) NOT NULL,
		currency VARCHAR(8) NOT NULL,
		producer_id UUID NOT NULL,
		supplier_id UUID NOT NULL,
		campaign_id UUID,
		product_id UUID NOT NULL,
		company_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_applications_contract ON applications (contract_id);`,
	`CREATE INDEX IF NOT EXISTS idx_applications_invoice ON applications (invoice_id);`,
	`CREATE TABLE IF NOT EXISTS liquidations (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		number VARCHAR(32) NOT NULL,
		type VARCHAR(8) NOT NULL,
		date DATE NOT NULL,
		company_id UUID NOT NULL,
		producer_id UUID NOT NULL,
		broker_id UUID,
		product_id UUID NOT NULL,
		coe VARCHAR(64) NOT NULL DEFAULT '',
		delivery_date DATE,
		port VARCHAR(128) NOT NULL DEFAULT '',
		grain_grade VARCHAR(64) NOT NULL DEFAULT '',
		qty_tn NUMERIC(18,3) NOT NULL,
		price_per_tn NUMERIC(18,4) NOT NULL,
		tax_id VARCHAR(64) NOT NULL DEFAULT '',
		amount_untaxed NUMERIC(18,2) NOT NULL,
		amount_tax NUMERIC(18,2) NOT NULL,
		amount_total NUMERIC(18,2) NOT NULL,
		bill_id UUID,
		payment_id UUID,
		match_bill_id UUID,
		state VARCHAR(16) NOT NULL DEFAULT 'draft',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_liquidation_number ON liquidations (number);`,
	`CREATE INDEX IF NOT EXISTS idx_liquidations_producer ON liquidations (producer_id);`,
	`CREATE TABLE IF NOT EXISTS liquidation_sequences (
		type VARCHAR(8) PRIMARY KEY,
		next BIGINT NOT NULL
	);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
