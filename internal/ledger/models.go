package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Field identifies which balance column a mutation affects. Using a typed
// field instead of raw column names keeps the SQL dialect out of callers.
type Field string

const (
	FieldAvailable      Field = "available"
	FieldLocked         Field = "locked"
	FieldPendingDeposit Field = "pending_deposit"
)

// Column returns the balances table column backing the field.
func (f Field) Column() string {
	return string(f)
}

// Valid reports whether f is one of the three balance fields.
func (f Field) Valid() bool {
	switch f {
	case FieldAvailable, FieldLocked, FieldPendingDeposit:
		return true
	}
	return false
}

// Entry types describing the cause of a mutation.
const (
	EntryTradeEscrowLock = "trade_escrow_lock"
	EntryDepositPending  = "deposit_pending"
	EntryDepositCredit   = "deposit_credit"
	EntryWithdrawalDebit = "withdrawal_debit"
	EntrySwapIn          = "swap_in"
	EntrySwapOut         = "swap_out"
	EntryFee             = "fee"
	EntryReferralReward  = "referral_reward"
	EntryAdjustment      = "adjustment"
)

// Balance is one row per (user, asset). Created at registration, mutated
// only through Service.Mutate, never deleted.
type Balance struct {
	gorm.Model `json:"-"`
	UserID     string `gorm:"uniqueIndex:idx_balances_user_asset" json:"user_id"`
	Asset      string `gorm:"uniqueIndex:idx_balances_user_asset" json:"asset"`

	Available      decimal.Decimal `gorm:"type:decimal(36,18)" json:"available"`
	Locked         decimal.Decimal `gorm:"type:decimal(36,18)" json:"locked"`
	PendingDeposit decimal.Decimal `gorm:"type:decimal(36,18)" json:"pending_deposit"`
}

// Get returns the current value of the given field.
func (b *Balance) Get(f Field) decimal.Decimal {
	switch f {
	case FieldLocked:
		return b.Locked
	case FieldPendingDeposit:
		return b.PendingDeposit
	default:
		return b.Available
	}
}

// Entry is the immutable audit record of one balance mutation. The table is
// append-only; replaying entries for a (user, asset, field) in creation
// order reproduces the current balance value.
type Entry struct {
	gorm.Model `json:"-"`
	UserID     string `gorm:"index:idx_ledger_user_asset" json:"user_id"`
	Asset      string `gorm:"index:idx_ledger_user_asset" json:"asset"`
	EntryType  string `json:"entry_type"`
	Field      string `json:"field"`

	Amount       decimal.Decimal `gorm:"type:decimal(36,18)" json:"amount"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(36,18)" json:"balance_after"`

	TradeID      string `gorm:"index" json:"trade_id,omitempty"`
	DepositID    string `json:"deposit_id,omitempty"`
	WithdrawalID string `json:"withdrawal_id,omitempty"`

	IdempotencyKey string `gorm:"uniqueIndex" json:"idempotency_key"`
	Note           string `json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName keeps the audit table distinct from any future ledger views.
func (Entry) TableName() string {
	return "balance_ledger"
}
