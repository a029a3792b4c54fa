package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/marcoshache/grain-canje-triangular/internal/model"
)

func TestContractTransitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		from    model.ContractState
		action  func(svc *ContractService, id uuid.UUID) error
		want    model.ContractState
		wantErr bool
	}{
		{"draft to open", model.ContractStateDraft, func(s *ContractService, id uuid.UUID) error { return s.Open(ctx, id) }, model.ContractStateOpen, false},
		{"open to done", model.ContractStateOpen, func(s *ContractService, id uuid.UUID) error { return s.Close(ctx, id) }, model.ContractStateDone, false},
		{"open back to draft", model.ContractStateOpen, func(s *ContractService, id uuid.UUID) error { return s.SetDraft(ctx, id) }, model.ContractStateDraft, false},
		{"draft to cancel", model.ContractStateDraft, func(s *ContractService, id uuid.UUID) error { return s.Cancel(ctx, id) }, model.ContractStateCancelled, false},
		{"open to cancel", model.ContractStateOpen, func(s *ContractService, id uuid.UUID) error { return s.Cancel(ctx, id) }, model.ContractStateCancelled, false},
		{"draft to done", model.ContractStateDraft, func(s *ContractService, id uuid.UUID) error { return s.Close(ctx, id) }, model.ContractStateDraft, true},
		{"done is terminal", model.ContractStateDone, func(s *ContractService, id uuid.UUID) error { return s.Open(ctx, id) }, model.ContractStateDone, true},
		{"cancel is terminal", model.ContractStateCancelled, func(s *ContractService, id uuid.UUID) error { return s.Open(ctx, id) }, model.ContractStateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contract := openContract(uuid.New(), uuid.New(), 100, 200)
			contract.State = tt.from
			store := newFakeContractStore(contract)
			svc := NewContractService(store, testLog)

			err := tt.action(svc, contract.ID)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("got %v, want ErrValidation", err)
				}
			} else if err != nil {
				t.Fatalf("transition: %v", err)
			}

			after, _ := store.Get(ctx, contract.ID)
			if after.State != tt.want {
				t.Errorf("state: got %s, want %s", after.State, tt.want)
			}
		})
	}
}

func TestCancelBlockedByApplications(t *testing.T) {
	ctx := context.Background()
	contract := openContract(uuid.New(), uuid.New(), 100, 200)
	contract.Applications = []model.Application{{ID: uuid.New(), TnApplied: 10}}
	store := newFakeContractStore(contract)
	svc := NewContractService(store, testLog)

	if err := svc.Cancel(ctx, contract.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("Cancel: got %v, want ErrValidation", err)
	}
	after, _ := store.Get(ctx, contract.ID)
	if after.State != model.ContractStateOpen {
		t.Errorf("state: got %s, want open", after.State)
	}
}

func TestComputeAvailable(t *testing.T) {
	ctx := context.Background()
	contract := openContract(uuid.New(), uuid.New(), 0, 200)
	contract.Deliveries = []model.DeliveryMovement{
		{ID: uuid.New(), Quantity: 20, Unit: model.UnitTonne, Done: true},
		{ID: uuid.New(), Quantity: 7000, Unit: model.UnitKilogram, Done: true},
	}
	contract.Applications = []model.Application{{ID: uuid.New(), TnApplied: 12}}
	store := newFakeContractStore(contract)
	svc := NewContractService(store, testLog)

	got, err := svc.ComputeAvailable(ctx, contract.ID)
	if err != nil {
		t.Fatalf("ComputeAvailable: %v", err)
	}
	if got != 15 {
		t.Errorf("got %v, want 15", got)
	}

	if _, err := svc.ComputeAvailable(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLinkDelivery(t *testing.T) {
	ctx := context.Background()

	t.Run("links on an open contract", func(t *testing.T) {
		contract := openContract(uuid.New(), uuid.New(), 0, 200)
		store := newFakeContractStore(contract)
		svc := NewContractService(store, testLog)

		if err := svc.LinkDelivery(ctx, contract.ID, uuid.New()); err != nil {
			t.Fatalf("LinkDelivery: %v", err)
		}
		after, _ := store.Get(ctx, contract.ID)
		if len(after.Deliveries) != 1 {
			t.Errorf("deliveries: got %d, want 1", len(after.Deliveries))
		}
	})

	t.Run("rejected on a closed contract", func(t *testing.T) {
		contract := openContract(uuid.New(), uuid.New(), 0, 200)
		contract.State = model.ContractStateDone
		store := newFakeContractStore(contract)
		svc := NewContractService(store, testLog)

		if err := svc.LinkDelivery(ctx, contract.ID, uuid.New()); !errors.Is(err, ErrValidation) {
			t.Fatalf("got %v, want ErrValidation", err)
		}
	})
}
