// internal/loyalty/ledger.go
//
// Loyalty ledger: append-only transactions over a FIFO remaining-balance
// queue.
//
// Every operation runs inside a per-account critical section, loads the
// account, builds one Change (account totals + transactions + lot writes)
// and hands it to the store atomically. The queue discipline is strict
// FIFO: redemptions and expiries both draw from the oldest surviving
// accrual first, ordered by ascending expiry date with no-expiry lots
// last and creation order as the tiebreak.
//
// After every operation the account satisfies:
//
//	CurrentPoints == TotalEarned - TotalRedeemed - TotalExpired + TotalAdjusted
//	CurrentPoints == sum of RemainingPoints over open lots
//	CurrentPoints >= 0
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/practicehq/engage/internal/clock"
	"github.com/practicehq/engage/internal/types"
)

// Ledger applies loyalty operations against a Store.
type Ledger struct {
	store   Store
	accrual types.AccrualRule
	clock   clock.Clock
	logger  *slog.Logger

	// Per-account locks serialize concurrent mutations so the
	// read-modify-write of totals and lots never interleaves.
	locksMu sync.Mutex
	locks   map[types.AccountID]*sync.Mutex
}

// NewLedger creates a ledger with the organization's accrual configuration.
func NewLedger(store Store, accrual types.AccrualRule, clk clock.Clock, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		accrual: accrual,
		clock:   clk,
		logger:  logger.With("component", "loyalty"),
		locks:   make(map[types.AccountID]*sync.Mutex),
	}
}

func (l *Ledger) lockAccount(id types.AccountID) *sync.Mutex {
	l.locksMu.Lock()
	mu, ok := l.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[id] = mu
	}
	l.locksMu.Unlock()
	mu.Lock()
	return mu
}

// OpenAccount creates a loyalty account for a patient, or returns the
// existing one. Accounts start active, unsuspended, at the base tier.
func (l *Ledger) OpenAccount(ctx context.Context, tenant types.TenantID, patient types.PatientID) (*types.LoyaltyAccount, error) {
	existing, err := l.store.GetAccountByPatient(ctx, tenant, patient)
	if err == nil {
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	now := l.clock.Now()
	account := &types.LoyaltyAccount{
		ID:        types.NewAccountID(),
		TenantID:  tenant,
		PatientID: patient,
		Tier:      l.accrual.TierFor(0),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.CreateAccount(ctx, account); err != nil {
		// Lost a create race; the winner's account is authoritative.
		if winner, lookupErr := l.store.GetAccountByPatient(ctx, tenant, patient); lookupErr == nil {
			return winner, nil
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}
	l.logger.Info("loyalty account opened",
		"account_id", account.ID, "tenant_id", tenant, "patient_id", patient)
	return account, nil
}

// Account returns one account by ID.
func (l *Ledger) Account(ctx context.Context, id types.AccountID) (*types.LoyaltyAccount, error) {
	return l.store.GetAccount(ctx, id)
}

// AccountForPatient returns the patient's account for a tenant.
func (l *Ledger) AccountForPatient(ctx context.Context, tenant types.TenantID, patient types.PatientID) (*types.LoyaltyAccount, error) {
	return l.store.GetAccountByPatient(ctx, tenant, patient)
}

// History returns the account's transactions in creation order.
func (l *Ledger) History(ctx context.Context, id types.AccountID) ([]types.LoyaltyTransaction, error) {
	return l.store.Transactions(ctx, id)
}

// Accrue appends an ACCRUAL transaction and a matching lot.
//
// amount is the base point grant; the account tier's multiplier is applied
// before posting. expiryMonths > 0 schedules the lot's expiry that many
// months out; zero means the points never expire. A non-empty
// idempotencyKey dedups retried accruals: a second call with the same key
// returns the original transaction without posting again.
func (l *Ledger) Accrue(ctx context.Context, accountID types.AccountID, amount int64, source string, expiryMonths int, idempotencyKey string) (*types.LoyaltyTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("accrual amount must be positive, got %d", amount)
	}

	mu := l.lockAccount(accountID)
	defer mu.Unlock()

	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	if !account.IsActive {
		return nil, types.ErrAccountInactive
	}
	if account.IsSuspended {
		return nil, types.ErrAccountSuspended
	}

	if idempotencyKey != "" {
		prior, err := l.store.FindByIdempotencyKey(ctx, accountID, idempotencyKey)
		if err == nil {
			l.logger.Debug("accrual deduplicated",
				"account_id", accountID, "idempotency_key", idempotencyKey)
			return prior, nil
		}
		if !isNotFound(err) {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
	}

	now := l.clock.Now()
	points := int64(math.Round(float64(amount) * l.accrual.MultiplierFor(account.Tier)))

	var expiry *time.Time
	if expiryMonths > 0 {
		e := now.AddDate(0, expiryMonths, 0)
		expiry = &e
	}

	tx := types.LoyaltyTransaction{
		ID:              types.NewTransactionID(),
		AccountID:       accountID,
		Type:            types.TxAccrual,
		Amount:          points,
		BalanceBefore:   account.CurrentPoints,
		BalanceAfter:    account.CurrentPoints + points,
		Source:          source,
		IdempotencyKey:  idempotencyKey,
		ExpiryDate:      expiry,
		TransactionDate: now,
	}

	updated := *account
	updated.CurrentPoints += points
	updated.TotalEarned += points
	updated.Tier = l.accrual.TierFor(updated.TotalEarned)
	updated.UpdatedAt = now

	change := Change{
		Account:      &updated,
		Transactions: []types.LoyaltyTransaction{tx},
		NewLots: []Lot{{
			ID:              uuid.Must(uuid.NewV7()).String(),
			AccountID:       accountID,
			TransactionID:   tx.ID,
			ExpiryDate:      expiry,
			OriginalPoints:  points,
			RemainingPoints: points,
			CreatedAt:       now,
		}},
	}
	if err := l.store.Apply(ctx, change); err != nil {
		return nil, fmt.Errorf("applying accrual: %w", err)
	}

	l.logger.Info("points accrued",
		"account_id", accountID, "points", points, "source", source,
		"balance", updated.CurrentPoints, "tier", updated.Tier)
	return &tx, nil
}

// Redeem appends a REDEMPTION transaction, drawing the amount from open
// lots oldest-first. Fails with ErrInsufficientBalance when the amount
// exceeds the current balance; the failed attempt leaves no ledger entry.
func (l *Ledger) Redeem(ctx context.Context, accountID types.AccountID, amount int64, reason string) (*types.LoyaltyTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("redemption amount must be positive, got %d", amount)
	}

	mu := l.lockAccount(accountID)
	defer mu.Unlock()

	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	if !account.IsActive {
		return nil, types.ErrAccountInactive
	}
	if account.IsSuspended {
		return nil, types.ErrAccountSuspended
	}
	if amount > account.CurrentPoints {
		return nil, fmt.Errorf("%w: have %d, want %d",
			types.ErrInsufficientBalance, account.CurrentPoints, amount)
	}

	lots, err := l.store.OpenLots(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading lots: %w", err)
	}
	updates, drawn := drawDown(lots, amount)
	if drawn != amount {
		// Lot sum drifted from the balance; refuse rather than post a
		// transaction the queue cannot back.
		return nil, fmt.Errorf("%w: lot balance mismatch for account %s",
			types.ErrConflict, accountID)
	}

	now := l.clock.Now()
	tx := types.LoyaltyTransaction{
		ID:              types.NewTransactionID(),
		AccountID:       accountID,
		Type:            types.TxRedemption,
		Amount:          -amount,
		BalanceBefore:   account.CurrentPoints,
		BalanceAfter:    account.CurrentPoints - amount,
		Reason:          reason,
		TransactionDate: now,
	}

	updated := *account
	updated.CurrentPoints -= amount
	updated.TotalRedeemed += amount
	updated.UpdatedAt = now

	change := Change{
		Account:      &updated,
		Transactions: []types.LoyaltyTransaction{tx},
		LotUpdates:   updates,
	}
	if err := l.store.Apply(ctx, change); err != nil {
		return nil, fmt.Errorf("applying redemption: %w", err)
	}

	l.logger.Info("points redeemed",
		"account_id", accountID, "points", amount, "balance", updated.CurrentPoints)
	return &tx, nil
}

// Expire posts EXPIRY transactions for every lot whose expiry date is at
// or before asOf, one transaction per lot so the audit trail shows which
// accrual each expiry consumed. Lots with a later expiry, or none, are
// untouched. Runs on suspended accounts: expiry is clock-driven, not a
// member action.
func (l *Ledger) Expire(ctx context.Context, accountID types.AccountID, asOf time.Time) ([]types.LoyaltyTransaction, error) {
	mu := l.lockAccount(accountID)
	defer mu.Unlock()

	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}

	lots, err := l.store.OpenLots(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading lots: %w", err)
	}

	now := l.clock.Now()
	balance := account.CurrentPoints
	var (
		txs     []types.LoyaltyTransaction
		updates []LotUpdate
		expired int64
	)
	for _, lot := range lots {
		if lot.ExpiryDate == nil || lot.ExpiryDate.After(asOf) {
			continue
		}
		txs = append(txs, types.LoyaltyTransaction{
			ID:              types.NewTransactionID(),
			AccountID:       accountID,
			Type:            types.TxExpiry,
			Amount:          -lot.RemainingPoints,
			BalanceBefore:   balance,
			BalanceAfter:    balance - lot.RemainingPoints,
			ExpiryDate:      lot.ExpiryDate,
			TransactionDate: now,
		})
		updates = append(updates, LotUpdate{LotID: lot.ID, RemainingPoints: 0})
		balance -= lot.RemainingPoints
		expired += lot.RemainingPoints
	}
	if expired == 0 {
		return nil, nil
	}

	updated := *account
	updated.CurrentPoints = balance
	updated.TotalExpired += expired
	updated.UpdatedAt = now

	change := Change{
		Account:      &updated,
		Transactions: txs,
		LotUpdates:   updates,
	}
	if err := l.store.Apply(ctx, change); err != nil {
		return nil, fmt.Errorf("applying expiry: %w", err)
	}

	l.logger.Info("points expired",
		"account_id", accountID, "points", expired, "lots", len(txs),
		"balance", updated.CurrentPoints)
	return txs, nil
}

// Adjust appends a signed ADJUSTMENT transaction with a required reason.
// Positive adjustments add a never-expiring lot; negative adjustments draw
// down lots oldest-first like a redemption. A negative adjustment may not
// take the balance below zero.
func (l *Ledger) Adjust(ctx context.Context, accountID types.AccountID, amount int64, reason string) (*types.LoyaltyTransaction, error) {
	if amount == 0 {
		return nil, fmt.Errorf("adjustment amount must be non-zero")
	}
	if reason == "" {
		return nil, fmt.Errorf("adjustment reason is required")
	}

	mu := l.lockAccount(accountID)
	defer mu.Unlock()

	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	if !account.IsActive {
		return nil, types.ErrAccountInactive
	}

	now := l.clock.Now()
	tx := types.LoyaltyTransaction{
		ID:              types.NewTransactionID(),
		AccountID:       accountID,
		Type:            types.TxAdjustment,
		Amount:          amount,
		BalanceBefore:   account.CurrentPoints,
		BalanceAfter:    account.CurrentPoints + amount,
		Reason:          reason,
		TransactionDate: now,
	}

	change := Change{Transactions: []types.LoyaltyTransaction{tx}}
	if amount > 0 {
		change.NewLots = []Lot{{
			ID:              uuid.Must(uuid.NewV7()).String(),
			AccountID:       accountID,
			TransactionID:   tx.ID,
			OriginalPoints:  amount,
			RemainingPoints: amount,
			CreatedAt:       now,
		}}
	} else {
		debit := -amount
		if debit > account.CurrentPoints {
			return nil, fmt.Errorf("%w: have %d, adjustment %d",
				types.ErrInsufficientBalance, account.CurrentPoints, amount)
		}
		lots, err := l.store.OpenLots(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("loading lots: %w", err)
		}
		updates, drawn := drawDown(lots, debit)
		if drawn != debit {
			return nil, fmt.Errorf("%w: lot balance mismatch for account %s",
				types.ErrConflict, accountID)
		}
		change.LotUpdates = updates
	}

	updated := *account
	updated.CurrentPoints += amount
	updated.TotalAdjusted += amount
	updated.UpdatedAt = now
	change.Account = &updated

	if err := l.store.Apply(ctx, change); err != nil {
		return nil, fmt.Errorf("applying adjustment: %w", err)
	}

	l.logger.Info("points adjusted",
		"account_id", accountID, "amount", amount, "reason", reason,
		"balance", updated.CurrentPoints)
	return &tx, nil
}

// Suspend marks the account suspended. Suspended accounts reject accruals
// and redemptions but keep their balance; expiry still applies.
func (l *Ledger) Suspend(ctx context.Context, accountID types.AccountID, suspended bool) error {
	mu := l.lockAccount(accountID)
	defer mu.Unlock()

	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}
	if account.IsSuspended == suspended {
		return nil
	}
	updated := *account
	updated.IsSuspended = suspended
	updated.UpdatedAt = l.clock.Now()
	if err := l.store.Apply(ctx, Change{Account: &updated}); err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	l.logger.Info("account suspension changed", "account_id", accountID, "suspended", suspended)
	return nil
}

// Close deactivates the account. Closed accounts reject every member
// operation; the ledger history remains readable.
func (l *Ledger) Close(ctx context.Context, accountID types.AccountID) error {
	mu := l.lockAccount(accountID)
	defer mu.Unlock()

	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}
	if !account.IsActive {
		return nil
	}
	updated := *account
	updated.IsActive = false
	updated.UpdatedAt = l.clock.Now()
	if err := l.store.Apply(ctx, Change{Account: &updated}); err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	l.logger.Info("account closed", "account_id", accountID)
	return nil
}

/*
drawDown walks open lots in store order (ascending expiry, no-expiry last,
then creation order) and consumes up to amount, returning the lot updates
and the total actually drawn. The caller compares drawn against amount to
detect a queue that no longer backs the balance.
*/
func drawDown(lots []Lot, amount int64) ([]LotUpdate, int64) {
	var (
		updates []LotUpdate
		drawn   int64
	)
	for _, lot := range lots {
		if drawn == amount {
			break
		}
		take := lot.RemainingPoints
		if take > amount-drawn {
			take = amount - drawn
		}
		updates = append(updates, LotUpdate{
			LotID:           lot.ID,
			RemainingPoints: lot.RemainingPoints - take,
		})
		drawn += take
	}
	return updates, drawn
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}
