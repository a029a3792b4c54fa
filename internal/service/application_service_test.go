package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marcoshache/grain-canje-triangular/internal/accounting"
	"github.com/marcoshache/grain-canje-triangular/internal/model"
)

func TestApplySettlesInvoice(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	producer, supplier := uuid.New(), uuid.New()
	ledger.RegisterPartner(producer, "AR-PROD", "AP-PROD")
	ledger.RegisterPartner(supplier, "AR-SUP", "AP-SUP")

	// 100 tn pledged at 200/tn against a 10000 supplier invoice.
	contract := openContract(producer, supplier, 100, 200)
	store := newFakeContractStore(contract)
	invoice := postVendorBill(t, ledger, supplier, 50, 200, "", "FA-100")

	svc := NewApplicationService(store, ledger, testConfig(), testLog)
	app, err := svc.Apply(ctx, ApplyInput{
		ContractID: contract.ID,
		InvoiceID:  invoice.ID,
		Tonnes:     40,
		Date:       time.Now(),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if app.TnApplied != 40 {
		t.Errorf("TnApplied: got %v, want 40", app.TnApplied)
	}
	if !app.Amount.Equal(decimal.NewFromInt(8000)) {
		t.Errorf("Amount: got %s, want 8000", app.Amount)
	}
	if app.Currency != "ARS" {
		t.Errorf("Currency: got %s, want ARS", app.Currency)
	}
	if app.ProducerID != producer || app.SupplierID != supplier {
		t.Error("application parties not denormalized from the contract")
	}

	after, err := store.Get(ctx, contract.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := after.AvailableTn(); got != 60 {
		t.Errorf("AvailableTn: got %v, want 60", got)
	}

	settled, err := ledger.Document(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	open := settled.OutstandingLines(accounting.AccountPayable)
	if len(open) != 1 {
		t.Fatalf("open payable lines: got %d, want 1", len(open))
	}
	if !open[0].Residual.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("invoice residual: got %s, want 2000", open[0].Residual)
	}
	if len(settled.Notes) != 1 {
		t.Errorf("audit notes: got %d, want 1", len(settled.Notes))
	}
}

func TestApplyValidation(t *testing.T) {
	ctx := context.Background()

	producer, supplier := uuid.New(), uuid.New()
	setup := func(t *testing.T) (*ApplicationService, *fakeContractStore, *accounting.Document) {
		ledger := newTestLedger()
		ledger.RegisterPartner(producer, "AR-PROD", "AP-PROD")
		ledger.RegisterPartner(supplier, "AR-SUP", "AP-SUP")
		contract := openContract(producer, supplier, 100, 200)
		store := newFakeContractStore(contract)
		invoice := postVendorBill(t, ledger, supplier, 50, 200, "", "FA-100")
		return NewApplicationService(store, ledger, testConfig(), testLog), store, invoice
	}
	contractID := func(store *fakeContractStore) uuid.UUID {
		for id := range store.contracts {
			return id
		}
		return uuid.Nil
	}

	t.Run("zero tonnes", func(t *testing.T) {
		svc, store, invoice := setup(t)
		_, err := svc.Apply(ctx, ApplyInput{ContractID: contractID(store), InvoiceID: invoice.ID, Tonnes: 0, Date: time.Now()})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("got %v, want ErrValidation", err)
		}
	})

	t.Run("over available tonnage", func(t *testing.T) {
		svc, store, invoice := setup(t)
		id := contractID(store)
		_, err := svc.Apply(ctx, ApplyInput{ContractID: id, InvoiceID: invoice.ID, Tonnes: 140, Date: time.Now()})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("got %v, want ErrValidation", err)
		}
		after, _ := store.Get(ctx, id)
		if len(after.Applications) != 0 {
			t.Error("rejected application was persisted")
		}
	})

	t.Run("amount exceeds invoice residual", func(t *testing.T) {
		ledger := newTestLedger()
		ledger.RegisterPartner(producer, "AR-PROD", "AP-PROD")
		ledger.RegisterPartner(supplier, "AR-SUP", "AP-SUP")
		contract := openContract(producer, supplier, 100, 200)
		store := newFakeContractStore(contract)
		small := postVendorBill(t, ledger, supplier, 25, 200, "", "FA-200")

		svc := NewApplicationService(store, ledger, testConfig(), testLog)
		_, err := svc.Apply(ctx, ApplyInput{ContractID: contract.ID, InvoiceID: small.ID, Tonnes: 40, Date: time.Now()})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("got %v, want ErrValidation", err)
		}
	})

	t.Run("unposted invoice", func(t *testing.T) {
		ledger := newTestLedger()
		ledger.RegisterPartner(producer, "AR-PROD", "AP-PROD")
		ledger.RegisterPartner(supplier, "AR-SUP", "AP-SUP")
		contract := openContract(producer, supplier, 100, 200)
		store := newFakeContractStore(contract)
		draft, err := ledger.CreateBill(ctx, accounting.InvoiceInput{
			PartnerID: supplier,
			Date:      time.Now(),
			Journal:   "LIQ",
			Ref:       "FA-300",
			Lines: []accounting.InvoiceLine{
				{Label: "insumos", Quantity: decimal.NewFromInt(50), PriceUnit: decimal.NewFromInt(200), Account: "EXPENSE"},
			},
		})
		if err != nil {
			t.Fatalf("CreateBill: %v", err)
		}

		svc := NewApplicationService(store, ledger, testConfig(), testLog)
		_, err = svc.Apply(ctx, ApplyInput{ContractID: contract.ID, InvoiceID: draft.ID, Tonnes: 10, Date: time.Now()})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("got %v, want ErrValidation", err)
		}
	})

	t.Run("invoice from another supplier", func(t *testing.T) {
		ledger := newTestLedger()
		ledger.RegisterPartner(producer, "AR-PROD", "AP-PROD")
		ledger.RegisterPartner(supplier, "AR-SUP", "AP-SUP")
		stranger := uuid.New()
		ledger.RegisterPartner(stranger, "AR-X", "AP-X")
		contract := openContract(producer, supplier, 100, 200)
		store := newFakeContractStore(contract)
		foreign := postVendorBill(t, ledger, stranger, 50, 200, "", "FA-400")

		svc := NewApplicationService(store, ledger, testConfig(), testLog)
		_, err := svc.Apply(ctx, ApplyInput{ContractID: contract.ID, InvoiceID: foreign.ID, Tonnes: 10, Date: time.Now()})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("got %v, want ErrValidation", err)
		}
	})

	t.Run("contract not open", func(t *testing.T) {
		svc, store, invoice := setup(t)
		id := contractID(store)
		store.contracts[id].State = model.ContractStateDraft
		_, err := svc.Apply(ctx, ApplyInput{ContractID: id, InvoiceID: invoice.ID, Tonnes: 10, Date: time.Now()})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("got %v, want ErrValidation", err)
		}
	})

	t.Run("missing journal configuration", func(t *testing.T) {
		ledger := newTestLedger()
		ledger.RegisterPartner(supplier, "AR-SUP", "AP-SUP")
		contract := openContract(producer, supplier, 100, 200)
		store := newFakeContractStore(contract)
		invoice := postVendorBill(t, ledger, supplier, 50, 200, "", "FA-500")

		cfg := testConfig()
		cfg.Journal = ""
		svc := NewApplicationService(store, ledger, cfg, testLog)
		_, err := svc.Apply(ctx, ApplyInput{ContractID: contract.ID, InvoiceID: invoice.ID, Tonnes: 10, Date: time.Now()})
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("got %v, want ErrConfiguration", err)
		}
	})
}

func TestApplyForeignCurrencyContract(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	ledger.SetRate("USD", decimal.NewFromInt(1000))
	producer, supplier := uuid.New(), uuid.New()
	ledger.RegisterPartner(producer, "AR-PROD", "AP-PROD")
	ledger.RegisterPartner(supplier, "AR-SUP", "AP-SUP")

	contract := openContract(producer, supplier, 100, 1)
	contract.Currency = "USD"
	store := newFakeContractStore(contract)
	invoice := postVendorBill(t, ledger, supplier, 100, 1, "USD", "FA-USD")

	svc := NewApplicationService(store, ledger, testConfig(), testLog)
	app, err := svc.Apply(ctx, ApplyInput{ContractID: contract.ID, InvoiceID: invoice.ID, Tonnes: 40, Date: time.Now()})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !app.Amount.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Amount: got %s, want 40", app.Amount)
	}
	if app.Currency != "USD" {
		t.Errorf("Currency: got %s, want USD", app.Currency)
	}

	settled, err := ledger.Document(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	open := settled.OutstandingLines(accounting.AccountPayable)
	if len(open) != 1 {
		t.Fatalf("open payable lines: got %d, want 1", len(open))
	}
	if !open[0].ResidualCurrency.Equal(decimal.NewFromInt(60)) {
		t.Errorf("residual currency: got %s, want 60", open[0].ResidualCurrency)
	}
}

// dupInsertStore runs fn to completion and then fails the surrounding
// transaction the way a duplicate application insert would.
type dupInsertStore struct {
	*fakeContractStore
}

func (s *dupInsertStore) ApplyLocked(_ context.Context, id uuid.UUID, fn func(c *model.Contract) (*model.Application, error)) (*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if _, err := fn(locked); err != nil {
		return nil, err
	}
	return nil, ErrConflict
}

func TestApplyReversesEntryWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	producer, supplier := uuid.New(), uuid.New()
	ledger.RegisterPartner(producer, "AR-PROD", "AP-PROD")
	ledger.RegisterPartner(supplier, "AR-SUP", "AP-SUP")

	contract := openContract(producer, supplier, 100, 200)
	store := &dupInsertStore{newFakeContractStore(contract)}
	invoice := postVendorBill(t, ledger, supplier, 50, 200, "", "FA-800")

	svc := NewApplicationService(store, ledger, testConfig(), testLog)
	_, err := svc.Apply(ctx, ApplyInput{
		ContractID: contract.ID,
		InvoiceID:  invoice.ID,
		Tonnes:     40,
		Date:       time.Now(),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Apply: got %v, want ErrConflict", err)
	}

	// The settlement entry posted inside the failed transaction must be
	// reversed: the invoice keeps its full residual.
	after, err := ledger.Document(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	open := after.OutstandingLines(accounting.AccountPayable)
	if len(open) != 1 {
		t.Fatalf("open payable lines: got %d, want 1", len(open))
	}
	if !open[0].Residual.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("invoice residual: got %s, want 10000", open[0].Residual)
	}

	stored, _ := store.Get(ctx, contract.ID)
	if len(stored.Applications) != 0 {
		t.Error("failed transaction still persisted an application")
	}
}

func TestApplyConcurrentOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()
	producer, supplier := uuid.New(), uuid.New()
	ledger.RegisterPartner(producer, "AR-PROD", "AP-PROD")
	ledger.RegisterPartner(supplier, "AR-SUP", "AP-SUP")

	// 100 tn available; two writers each want 60.
	contract := openContract(producer, supplier, 100, 200)
	store := newFakeContractStore(contract)
	invoice := postVendorBill(t, ledger, supplier, 150, 200, "", "FA-600")

	svc := NewApplicationService(store, ledger, testConfig(), testLog)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Apply(ctx, ApplyInput{
				ContractID: contract.ID,
				InvoiceID:  invoice.ID,
				Tonnes:     60,
				Date:       time.Now(),
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrValidation) {
			t.Errorf("loser got %v, want ErrConflict or ErrValidation", err)
		}
	}
	if successes != 1 {
		t.Fatalf("successes: got %d, want exactly 1", successes)
	}

	after, _ := store.Get(ctx, contract.ID)
	if got := after.AppliedTn(); got != 60 {
		t.Errorf("AppliedTn: got %v, want 60", got)
	}
	if got := after.AvailableTn(); got != 40 {
		t.Errorf("AvailableTn: got %v, want 40", got)
	}
}
