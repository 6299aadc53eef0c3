// internal/loyalty/memory_store.go
package loyalty

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/practicehq/engage/internal/types"
)

type patientKey struct {
	tenant  types.TenantID
	patient types.PatientID
}

// MemoryStore is an in-memory Store for tests and single-process use.
// All reads and writes copy, so callers never share internal state.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[types.AccountID]types.LoyaltyAccount
	byPatient map[patientKey]types.AccountID
	txs       map[types.AccountID][]types.LoyaltyTransaction
	lots      map[types.AccountID][]Lot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[types.AccountID]types.LoyaltyAccount),
		byPatient: make(map[patientKey]types.AccountID),
		txs:       make(map[types.AccountID][]types.LoyaltyTransaction),
		lots:      make(map[types.AccountID][]Lot),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, account *types.LoyaltyAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := patientKey{account.TenantID, account.PatientID}
	if _, exists := s.byPatient[key]; exists {
		return fmt.Errorf("%w: account for patient %s", types.ErrConflict, account.PatientID)
	}
	if _, exists := s.accounts[account.ID]; exists {
		return fmt.Errorf("%w: account %s", types.ErrConflict, account.ID)
	}
	s.accounts[account.ID] = *account
	s.byPatient[key] = account.ID
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id types.AccountID) (*types.LoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", types.ErrNotFound, id)
	}
	return &account, nil
}

func (s *MemoryStore) GetAccountByPatient(_ context.Context, tenant types.TenantID, patient types.PatientID) (*types.LoyaltyAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPatient[patientKey{tenant, patient}]
	if !ok {
		return nil, fmt.Errorf("%w: account for patient %s", types.ErrNotFound, patient)
	}
	account := s.accounts[id]
	return &account, nil
}

func (s *MemoryStore) Apply(_ context.Context, change Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if change.Account != nil {
		if _, ok := s.accounts[change.Account.ID]; !ok {
			return fmt.Errorf("%w: account %s", types.ErrNotFound, change.Account.ID)
		}
		s.accounts[change.Account.ID] = *change.Account
	}
	for _, tx := range change.Transactions {
		s.txs[tx.AccountID] = append(s.txs[tx.AccountID], tx)
	}
	for _, lot := range change.NewLots {
		s.lots[lot.AccountID] = append(s.lots[lot.AccountID], lot)
	}
	for _, update := range change.LotUpdates {
		if err := s.updateLot(update); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) updateLot(update LotUpdate) error {
	for accountID, lots := range s.lots {
		for i := range lots {
			if lots[i].ID == update.LotID {
				s.lots[accountID][i].RemainingPoints = update.RemainingPoints
				return nil
			}
		}
	}
	return fmt.Errorf("%w: lot %s", types.ErrNotFound, update.LotID)
}

func (s *MemoryStore) OpenLots(_ context.Context, id types.AccountID) ([]Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []Lot
	for _, lot := range s.lots[id] {
		if lot.RemainingPoints > 0 {
			open = append(open, lot)
		}
	}
	// Ascending expiry, no-expiry lots last, creation order as tiebreak.
	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i].ExpiryDate, open[j].ExpiryDate
		switch {
		case a == nil && b == nil:
			return open[i].CreatedAt.Before(open[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return open[i].CreatedAt.Before(open[j].CreatedAt)
		default:
			return a.Before(*b)
		}
	})
	return open, nil
}

func (s *MemoryStore) Transactions(_ context.Context, id types.AccountID) ([]types.LoyaltyTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.LoyaltyTransaction, len(s.txs[id]))
	copy(out, s.txs[id])
	return out, nil
}

func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, id types.AccountID, key string) (*types.LoyaltyTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.txs[id] {
		if tx.IdempotencyKey == key {
			found := tx
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: transaction with key %q", types.ErrNotFound, key)
}
