// internal/loyalty/store.go
package loyalty

import (
	"context"
	"time"

	"github.com/practicehq/engage/internal/types"
)

// Lot is one accrual's remaining-balance entry in the FIFO queue.
// Redemptions and expiries both draw from the oldest surviving lot first,
// so the sum of remaining points always equals the account balance.
type Lot struct {
	ID              string
	AccountID       types.AccountID
	TransactionID   types.TransactionID
	ExpiryDate      *time.Time
	OriginalPoints  int64
	RemainingPoints int64
	CreatedAt       time.Time
}

// LotUpdate is one draw-down of an existing lot.
type LotUpdate struct {
	LotID           string
	RemainingPoints int64
}

// Change is the atomic unit of one ledger operation: the updated account
// plus the transactions, lots, and lot draw-downs it produced. Stores must
// apply all of it or none of it.
type Change struct {
	Account      *types.LoyaltyAccount
	Transactions []types.LoyaltyTransaction
	NewLots      []Lot
	LotUpdates   []LotUpdate
}

// Store provides loyalty ledger persistence.
// Transactions are append-only: stores never expose mutation of a written
// LoyaltyTransaction.
type Store interface {
	// CreateAccount inserts a new account.
	CreateAccount(ctx context.Context, account *types.LoyaltyAccount) error
	// GetAccount returns one account by ID.
	GetAccount(ctx context.Context, id types.AccountID) (*types.LoyaltyAccount, error)
	// GetAccountByPatient returns the patient's account for a tenant.
	GetAccountByPatient(ctx context.Context, tenant types.TenantID, patient types.PatientID) (*types.LoyaltyAccount, error)
	// Apply atomically persists one ledger change.
	Apply(ctx context.Context, change Change) error
	// OpenLots returns lots with remaining points, ordered by ascending
	// expiry date (no-expiry lots last), ties broken by creation order.
	OpenLots(ctx context.Context, id types.AccountID) ([]Lot, error)
	// Transactions returns the account's ledger in creation order.
	Transactions(ctx context.Context, id types.AccountID) ([]types.LoyaltyTransaction, error)
	// FindByIdempotencyKey returns an earlier accrual with the given key,
	// or types.ErrNotFound.
	FindByIdempotencyKey(ctx context.Context, id types.AccountID, key string) (*types.LoyaltyTransaction, error)
}
