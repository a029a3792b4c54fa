package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marcoshache/grain-canje-triangular/internal/accounting"
	"github.com/marcoshache/grain-canje-triangular/internal/accounting/memory"
	"github.com/marcoshache/grain-canje-triangular/internal/config"
	"github.com/marcoshache/grain-canje-triangular/internal/model"
)

var testLog = zerolog.Nop()

// fakeContractStore keeps contracts in memory. ApplyLocked serializes on
// a mutex and persists the returned application, mirroring the row-lock
// transaction of the real store.
type fakeContractStore struct {
	mu        sync.Mutex
	contracts map[uuid.UUID]*model.Contract
}

func newFakeContractStore(contracts ...*model.Contract) *fakeContractStore {
	s := &fakeContractStore{contracts: map[uuid.UUID]*model.Contract{}}
	for _, c := range contracts {
		s.contracts[c.ID] = c
	}
	return s
}

func (s *fakeContractStore) get(id uuid.UUID) (*model.Contract, error) {
	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	out := *c
	out.Deliveries = append([]model.DeliveryMovement(nil), c.Deliveries...)
	out.Applications = append([]model.Application(nil), c.Applications...)
	return &out, nil
}

func (s *fakeContractStore) Get(_ context.Context, id uuid.UUID) (*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *fakeContractStore) SetState(_ context.Context, id uuid.UUID, state model.ContractState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	c.State = state
	return nil
}

func (s *fakeContractStore) LinkDelivery(_ context.Context, contractID, movementID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[contractID]
	if !ok {
		return fmt.Errorf("%w: contract %s", ErrNotFound, contractID)
	}
	c.Deliveries = append(c.Deliveries, model.DeliveryMovement{ID: movementID, Done: true})
	return nil
}

func (s *fakeContractStore) ApplyLocked(_ context.Context, id uuid.UUID, fn func(c *model.Contract) (*model.Application, error)) (*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.get(id)
	if err != nil {
		return nil, err
	}
	app, err := fn(locked)
	if err != nil {
		return nil, err
	}
	s.contracts[id].Applications = append(s.contracts[id].Applications, *app)
	return app, nil
}

// fakeLiquidationStore keeps liquidations in memory with a per-type
// counter for numbering.
type fakeLiquidationStore struct {
	mu           sync.Mutex
	liquidations map[uuid.UUID]*model.Liquidation
	counters     map[model.LiquidationType]int
}

func newFakeLiquidationStore() *fakeLiquidationStore {
	return &fakeLiquidationStore{
		liquidations: map[uuid.UUID]*model.Liquidation{},
		counters:     map[model.LiquidationType]int{},
	}
}

func (s *fakeLiquidationStore) Get(_ context.Context, id uuid.UUID) (*model.Liquidation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	liq, ok := s.liquidations[id]
	if !ok {
		return nil, fmt.Errorf("%w: liquidation %s", ErrNotFound, id)
	}
	out := *liq
	return &out, nil
}

func (s *fakeLiquidationStore) Create(_ context.Context, liq *model.Liquidation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *liq
	s.liquidations[liq.ID] = &stored
	return nil
}

func (s *fakeLiquidationStore) Update(_ context.Context, liq *model.Liquidation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liquidations[liq.ID]; !ok {
		return fmt.Errorf("%w: liquidation %s", ErrNotFound, liq.ID)
	}
	stored := *liq
	s.liquidations[liq.ID] = &stored
	return nil
}

func (s *fakeLiquidationStore) NextNumber(_ context.Context, t model.LiquidationType) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[t]++
	prefix := "LPG"
	if t == model.LiquidationLSG {
		prefix = "LSG"
	}
	return fmt.Sprintf("%s-%05d", prefix, s.counters[t]), nil
}

func testConfig() config.CanjeConfig {
	return config.CanjeConfig{
		Journal:               "CANJE",
		Account:               "PROD-CC",
		ClearingAccount:       "CLEARING",
		LiquidationJournal:    "LIQ",
		NettingJournal:        "NET",
		NettingPaymentJournal: "BANK",
		LPGTax:                "IVA21",
		NettingAutoCap:        true,
		BaseCurrency:          "ARS",
	}
}

// newTestLedger seeds the in-memory collaborator with the accounts,
// journals and tax the test configuration references.
func newTestLedger() *memory.Ledger {
	l := memory.New("ARS")
	l.RegisterAccount("PROD-CC", accounting.AccountOther)
	l.RegisterAccount("CLEARING", accounting.AccountOther)
	l.RegisterAccount("EXPENSE", accounting.AccountOther)
	l.RegisterJournal("CANJE", "", false)
	l.RegisterJournal("LIQ", "", false)
	l.RegisterJournal("NET", "", false)
	l.RegisterJournal("SALES", "", false)
	l.RegisterJournal("BANK", "BANKACC", true)
	l.RegisterTax("IVA21", decimal.NewFromFloat(21))
	return l
}

// postVendorBill creates and posts a supplier invoice for quantity x
// price in the given currency.
func postVendorBill(t *testing.T, l *memory.Ledger, partner uuid.UUID, qty, price int64, currency, ref string) *accounting.Document {
	t.Helper()
	ctx := context.Background()
	bill, err := l.CreateBill(ctx, accounting.InvoiceInput{
		PartnerID: partner,
		Date:      time.Now(),
		Journal:   "LIQ",
		Currency:  currency,
		Ref:       ref,
		Lines: []accounting.InvoiceLine{
			{Label: "insumos", Quantity: decimal.NewFromInt(qty), PriceUnit: decimal.NewFromInt(price), Account: "EXPENSE"},
		},
	})
	if err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	if err := l.Post(ctx, bill.ID); err != nil {
		t.Fatalf("Post: %v", err)
	}
	doc, err := l.Document(ctx, bill.ID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	return doc
}

func postCustomerInvoice(t *testing.T, l *memory.Ledger, partner uuid.UUID, qty, price int64, currency, ref string) *accounting.Document {
	t.Helper()
	ctx := context.Background()
	inv, err := l.CreateInvoice(ctx, accounting.InvoiceInput{
		PartnerID: partner,
		Date:      time.Now(),
		Journal:   "SALES",
		Currency:  currency,
		Ref:       ref,
		Lines: []accounting.InvoiceLine{
			{Label: "insumos", Quantity: decimal.NewFromInt(qty), PriceUnit: decimal.NewFromInt(price), Account: "EXPENSE"},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if err := l.Post(ctx, inv.ID); err != nil {
		t.Fatalf("Post: %v", err)
	}
	doc, err := l.Document(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	return doc
}

func openContract(producer, supplier uuid.UUID, pledged float64, price int64) *model.Contract {
	return &model.Contract{
		ID:             uuid.New(),
		Number:         "CJ-001",
		Date:           time.Now(),
		CompanyID:      uuid.New(),
		ProducerID:     producer,
		SupplierID:     supplier,
		ProductID:      uuid.New(),
		PledgedTn:      pledged,
		ReferencePrice: decimal.NewFromInt(price),
		State:          model.ContractStateOpen,
	}
}
