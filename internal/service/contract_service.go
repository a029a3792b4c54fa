package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marcoshache/grain-canje-triangular/internal/model"
)

// ContractStore is the persistence surface the contract and application
// engines need. ApplyLocked must hold a record-level lock on the
// contract (with deliveries and applications freshly loaded) while fn
// runs, and persist the application fn returns in the same transaction.
type ContractStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Contract, error)
	SetState(ctx context.Context, id uuid.UUID, state model.ContractState) error
	LinkDelivery(ctx context.Context, contractID, movementID uuid.UUID) error
	ApplyLocked(ctx context.Context, id uuid.UUID, fn func(c *model.Contract) (*model.Application, error)) (*model.Application, error)
}

// ContractService is the contract ledger: derived tonnage balances and
// the contract lifecycle.
type ContractService struct {
	contracts ContractStore
	log       zerolog.Logger
}

func NewContractService(contracts ContractStore, log zerolog.Logger) *ContractService {
	return &ContractService{contracts: contracts, log: log}
}

func (s *ContractService) Get(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	return s.contracts.Get(ctx, id)
}

// ComputeAvailable returns the contract's remaining tonnage balance.
func (s *ContractService) ComputeAvailable(ctx context.Context, id uuid.UUID) (float64, error) {
	contract, err := s.contracts.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return contract.AvailableTn(), nil
}

// LinkDelivery references a completed delivery movement from the
// contract. Movements are shared records; the contract does not own them.
func (s *ContractService) LinkDelivery(ctx context.Context, contractID, movementID uuid.UUID) error {
	contract, err := s.contracts.Get(ctx, contractID)
	if err != nil {
		return err
	}
	if contract.State == model.ContractStateDone || contract.State == model.ContractStateCancelled {
		return fmt.Errorf("%w: contract %s is %s", ErrValidation, contract.Number, contract.State)
	}
	return s.contracts.LinkDelivery(ctx, contractID, movementID)
}

func (s *ContractService) Open(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, model.ContractStateOpen)
}

func (s *ContractService) Close(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, model.ContractStateDone)
}

// Cancel refuses contracts that still have applications: the original
// amounts must be reversed in the accounting system first.
func (s *ContractService) Cancel(ctx context.Context, id uuid.UUID) error {
	contract, err := s.contracts.Get(ctx, id)
	if err != nil {
		return err
	}
	if len(contract.Applications) > 0 {
		return fmt.Errorf("%w: contract %s has %d applications", ErrValidation, contract.Number, len(contract.Applications))
	}
	return s.transition(ctx, id, model.ContractStateCancelled)
}

// SetDraft reopens an open contract for edits. Done and cancelled are
// terminal.
func (s *ContractService) SetDraft(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, model.ContractStateDraft)
}

var contractTransitions = map[model.ContractState][]model.ContractState{
	model.ContractStateDraft: {model.ContractStateOpen, model.ContractStateCancelled},
	model.ContractStateOpen:  {model.ContractStateDraft, model.ContractStateDone, model.ContractStateCancelled},
}

func (s *ContractService) transition(ctx context.Context, id uuid.UUID, target model.ContractState) error {
	contract, err := s.contracts.Get(ctx, id)
	if err != nil {
		return err
	}
	for _, allowed := range contractTransitions[contract.State] {
		if allowed == target {
			if err := s.contracts.SetState(ctx, id, target); err != nil {
				return err
			}
			s.log.Info().
				Str("contract", contract.Number).
				Str("from", string(contract.State)).
				Str("to", string(target)).
				Msg("contract state changed")
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move contract %s from %s to %s", ErrValidation, contract.Number, contract.State, target)
}
