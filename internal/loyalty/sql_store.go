// internal/loyalty/sql_store.go
package loyalty

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/practicehq/engage/internal/core/db"
	"github.com/practicehq/engage/internal/types"
)

// SQLStore is a Store backed by SQLite or PostgreSQL through named queries.
// Apply runs the whole change inside one database transaction, which is the
// ledger's durability boundary.
type SQLStore struct {
	queries *db.Queries
}

// NewSQLStore creates a SQL-backed loyalty store.
func NewSQLStore(queries *db.Queries) *SQLStore {
	return &SQLStore{queries: queries}
}

type accountRow struct {
	ID            string    `db:"id"`
	TenantID      string    `db:"tenant_id"`
	PatientID     string    `db:"patient_id"`
	CurrentPoints int64     `db:"current_points"`
	TotalEarned   int64     `db:"total_earned"`
	TotalRedeemed int64     `db:"total_redeemed"`
	TotalExpired  int64     `db:"total_expired"`
	TotalAdjusted int64     `db:"total_adjusted"`
	Tier          string    `db:"tier"`
	IsActive      bool      `db:"is_active"`
	IsSuspended   bool      `db:"is_suspended"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r accountRow) toAccount() *types.LoyaltyAccount {
	return &types.LoyaltyAccount{
		ID:            types.AccountID(r.ID),
		TenantID:      types.TenantID(r.TenantID),
		PatientID:     types.PatientID(r.PatientID),
		CurrentPoints: r.CurrentPoints,
		TotalEarned:   r.TotalEarned,
		TotalRedeemed: r.TotalRedeemed,
		TotalExpired:  r.TotalExpired,
		TotalAdjusted: r.TotalAdjusted,
		Tier:          r.Tier,
		IsActive:      r.IsActive,
		IsSuspended:   r.IsSuspended,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type transactionRow struct {
	ID              string       `db:"id"`
	AccountID       string       `db:"account_id"`
	Type            string       `db:"type"`
	Amount          int64        `db:"amount"`
	BalanceBefore   int64        `db:"balance_before"`
	BalanceAfter    int64        `db:"balance_after"`
	Source          string       `db:"source"`
	Reason          string       `db:"reason"`
	IdempotencyKey  string       `db:"idempotency_key"`
	ExpiryDate      sql.NullTime `db:"expiry_date"`
	TransactionDate time.Time    `db:"transaction_date"`
}

func (r transactionRow) toTransaction() *types.LoyaltyTransaction {
	tx := &types.LoyaltyTransaction{
		ID:              types.TransactionID(r.ID),
		AccountID:       types.AccountID(r.AccountID),
		Type:            types.LoyaltyTransactionType(r.Type),
		Amount:          r.Amount,
		BalanceBefore:   r.BalanceBefore,
		BalanceAfter:    r.BalanceAfter,
		Source:          r.Source,
		Reason:          r.Reason,
		IdempotencyKey:  r.IdempotencyKey,
		TransactionDate: r.TransactionDate,
	}
	if r.ExpiryDate.Valid {
		expiry := r.ExpiryDate.Time
		tx.ExpiryDate = &expiry
	}
	return tx
}

type lotRow struct {
	ID              string       `db:"id"`
	AccountID       string       `db:"account_id"`
	TransactionID   string       `db:"transaction_id"`
	ExpiryDate      sql.NullTime `db:"expiry_date"`
	OriginalPoints  int64        `db:"original_points"`
	RemainingPoints int64        `db:"remaining_points"`
	CreatedAt       time.Time    `db:"created_at"`
}

func (r lotRow) toLot() Lot {
	lot := Lot{
		ID:              r.ID,
		AccountID:       types.AccountID(r.AccountID),
		TransactionID:   types.TransactionID(r.TransactionID),
		OriginalPoints:  r.OriginalPoints,
		RemainingPoints: r.RemainingPoints,
		CreatedAt:       r.CreatedAt,
	}
	if r.ExpiryDate.Valid {
		expiry := r.ExpiryDate.Time
		lot.ExpiryDate = &expiry
	}
	return lot
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *SQLStore) CreateAccount(ctx context.Context, account *types.LoyaltyAccount) error {
	_, err := s.queries.Exec(ctx, "loyalty-account-insert",
		account.ID, account.TenantID, account.PatientID,
		account.CurrentPoints, account.TotalEarned, account.TotalRedeemed,
		account.TotalExpired, account.TotalAdjusted, account.Tier,
		account.IsActive, account.IsSuspended,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAccount(ctx context.Context, id types.AccountID) (*types.LoyaltyAccount, error) {
	var row accountRow
	err := s.queries.Get(ctx, "loyalty-account-get", &row, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return row.toAccount(), nil
}

func (s *SQLStore) GetAccountByPatient(ctx context.Context, tenant types.TenantID, patient types.PatientID) (*types.LoyaltyAccount, error) {
	var row accountRow
	err := s.queries.Get(ctx, "loyalty-account-get-by-patient", &row, tenant, patient)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account for patient %s", types.ErrNotFound, patient)
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return row.toAccount(), nil
}

func (s *SQLStore) Apply(ctx context.Context, change Change) error {
	updateAccount, err := s.queries.Raw("loyalty-account-update")
	if err != nil {
		return err
	}
	insertTx, err := s.queries.Raw("loyalty-tx-insert")
	if err != nil {
		return err
	}
	insertLot, err := s.queries.Raw("loyalty-lot-insert")
	if err != nil {
		return err
	}
	updateLot, err := s.queries.Raw("loyalty-lot-update")
	if err != nil {
		return err
	}

	return s.queries.Tx(ctx, func(tx *sqlx.Tx) error {
		if change.Account != nil {
			a := change.Account
			if _, err := tx.ExecContext(ctx, updateAccount,
				a.CurrentPoints, a.TotalEarned, a.TotalRedeemed,
				a.TotalExpired, a.TotalAdjusted, a.Tier,
				a.IsActive, a.IsSuspended, a.UpdatedAt, a.ID); err != nil {
				return fmt.Errorf("updating account: %w", err)
			}
		}
		for _, t := range change.Transactions {
			if _, err := tx.ExecContext(ctx, insertTx,
				t.ID, t.AccountID, t.Type, t.Amount,
				t.BalanceBefore, t.BalanceAfter,
				t.Source, t.Reason, t.IdempotencyKey,
				nullTime(t.ExpiryDate), t.TransactionDate); err != nil {
				return fmt.Errorf("inserting transaction: %w", err)
			}
		}
		for _, lot := range change.NewLots {
			if _, err := tx.ExecContext(ctx, insertLot,
				lot.ID, lot.AccountID, lot.TransactionID,
				nullTime(lot.ExpiryDate),
				lot.OriginalPoints, lot.RemainingPoints, lot.CreatedAt); err != nil {
				return fmt.Errorf("inserting lot: %w", err)
			}
		}
		for _, update := range change.LotUpdates {
			if _, err := tx.ExecContext(ctx, updateLot,
				update.RemainingPoints, update.LotID); err != nil {
				return fmt.Errorf("updating lot: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) OpenLots(ctx context.Context, id types.AccountID) ([]Lot, error) {
	var rows []lotRow
	if err := s.queries.Select(ctx, "loyalty-lots-open", &rows, id); err != nil {
		return nil, fmt.Errorf("querying lots: %w", err)
	}
	lots := make([]Lot, 0, len(rows))
	for _, row := range rows {
		lots = append(lots, row.toLot())
	}
	return lots, nil
}

func (s *SQLStore) Transactions(ctx context.Context, id types.AccountID) ([]types.LoyaltyTransaction, error) {
	var rows []transactionRow
	if err := s.queries.Select(ctx, "loyalty-tx-list", &rows, id); err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	txs := make([]types.LoyaltyTransaction, 0, len(rows))
	for _, row := range rows {
		txs = append(txs, *row.toTransaction())
	}
	return txs, nil
}

func (s *SQLStore) FindByIdempotencyKey(ctx context.Context, id types.AccountID, key string) (*types.LoyaltyTransaction, error) {
	var row transactionRow
	err := s.queries.Get(ctx, "loyalty-tx-by-idem", &row, id, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction with key %q", types.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("querying transaction: %w", err)
	}
	return row.toTransaction(), nil
}
