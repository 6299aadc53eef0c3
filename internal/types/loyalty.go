package types

import "time"

// LoyaltyTransactionType classifies one ledger entry.
type LoyaltyTransactionType string

const (
	TxAccrual    LoyaltyTransactionType = "ACCRUAL"
	TxRedemption LoyaltyTransactionType = "REDEMPTION"
	TxExpiry     LoyaltyTransactionType = "EXPIRY"
	TxAdjustment LoyaltyTransactionType = "ADJUSTMENT"
)

// LoyaltyAccount tracks one patient's point balance and tier.
// Invariant: CurrentPoints == TotalEarned - TotalRedeemed - TotalExpired +
// TotalAdjusted, and CurrentPoints >= 0, after every ledger operation.
type LoyaltyAccount struct {
	ID            AccountID
	TenantID      TenantID
	PatientID     PatientID
	CurrentPoints int64
	TotalEarned   int64
	TotalRedeemed int64
	TotalExpired  int64
	TotalAdjusted int64
	Tier          string
	IsActive      bool
	IsSuspended   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LoyaltyTransaction is one immutable append-only ledger entry.
// Invariant: BalanceAfter == BalanceBefore + Amount. Once written, never
// mutated; corrections are new ADJUSTMENT records.
type LoyaltyTransaction struct {
	ID              TransactionID
	AccountID       AccountID
	Type            LoyaltyTransactionType
	Amount          int64 // signed: positive for accrual, negative for redemption/expiry
	BalanceBefore   int64
	BalanceAfter    int64
	Source          string // e.g. INVOICE, REFERRAL, MANUAL
	Reason          string // required for ADJUSTMENT
	IdempotencyKey  string // dedups retried accruals; empty for manual entries
	ExpiryDate      *time.Time
	TransactionDate time.Time
}

// TierThreshold maps a minimum earned-points total to a tier.
type TierThreshold struct {
	Name      string
	MinPoints int64
}

// AccrualRule is the organization's loyalty configuration: tier ladder and
// per-tier accrual multipliers. Consumed, not computed, by the ledger.
type AccrualRule struct {
	Tiers       []TierThreshold // ascending MinPoints; first entry is the base tier
	Multipliers map[string]float64
}

// TierFor returns the tier name for an earned-points total.
// Thresholds are inclusive: a total equal to MinPoints reaches the tier.
func (r AccrualRule) TierFor(totalEarned int64) string {
	tier := ""
	for _, t := range r.Tiers {
		if totalEarned >= t.MinPoints {
			tier = t.Name
		}
	}
	return tier
}

// MultiplierFor returns the accrual multiplier for a tier, defaulting to 1.
func (r AccrualRule) MultiplierFor(tier string) float64 {
	if m, ok := r.Multipliers[tier]; ok && m > 0 {
		return m
	}
	return 1.0
}
