package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Database wraps the gorm handle with the ledger's storage operations. All
// writes to balances and balance_ledger in the whole system go through
// these methods, inside a transaction supplied by the service.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// DB exposes the underlying handle for transaction scoping.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// LockBalance loads the (userID, asset) balance row holding an exclusive
// row lock for the remainder of tx. The lock is what serializes concurrent
// mutations on the same pair and makes the idempotency check race-free.
//
// SQLite has no FOR UPDATE; it serializes writers at the database level,
// which gives the same mutual exclusion for a single-file deployment.
func (d *Database) LockBalance(tx *gorm.DB, userID, asset string) (*Balance, error) {
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var bal Balance
	err := q.Where("user_id = ? AND asset = ?", userID, asset).First(&bal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoBalanceRow
		}
		return nil, err
	}
	return &bal, nil
}

// EntryExists reports whether a ledger entry with the given idempotency key
// has already been written. Only meaningful while the balance row lock is
// held.
func (d *Database) EntryExists(tx *gorm.DB, idempotencyKey string) (bool, error) {
	var count int64
	err := tx.Model(&Entry{}).Where("idempotency_key = ?", idempotencyKey).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateBalanceField persists the new value for a single field of the
// locked balance row.
func (d *Database) UpdateBalanceField(tx *gorm.DB, bal *Balance, field Field, newValue decimal.Decimal) error {
	return tx.Model(&Balance{}).
		Where("id = ?", bal.ID).
		Update(field.Column(), newValue).Error
}

// InsertEntry appends one immutable ledger entry. The unique index on
// idempotency_key is the last line of defense against a duplicate apply.
func (d *Database) InsertEntry(tx *gorm.DB, entry *Entry) error {
	return tx.Create(entry).Error
}

// GetBalance reads a balance row without locking.
func (d *Database) GetBalance(userID, asset string) (*Balance, error) {
	var bal Balance
	if err := d.db.Where("user_id = ? AND asset = ?", userID, asset).First(&bal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoBalanceRow
		}
		return nil, err
	}
	return &bal, nil
}

// GetBalances reads all balance rows for a user.
func (d *Database) GetBalances(userID string) ([]Balance, error) {
	var balances []Balance
	if err := d.db.Where("user_id = ?", userID).Order("asset asc").Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

// GetEntries returns the ledger entries for a (user, asset) in creation
// order, the order replay must use.
func (d *Database) GetEntries(userID, asset string) ([]Entry, error) {
	var entries []Entry
	err := d.db.Where("user_id = ? AND asset = ?", userID, asset).
		Order("id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CreateBalanceRow inserts a zero-value row, ignoring conflicts so
// registration is safely repeatable.
func (d *Database) CreateBalanceRow(userID, asset string) error {
	bal := Balance{
		UserID:         userID,
		Asset:          asset,
		Available:      decimal.Zero,
		Locked:         decimal.Zero,
		PendingDeposit: decimal.Zero,
	}
	return d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&bal).Error
}

// AllBalances streams every balance row, for the reconciler.
func (d *Database) AllBalances() ([]Balance, error) {
	var balances []Balance
	if err := d.db.Order("id asc").Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

// SumEntries re-derives a balance field from the audit trail.
func (d *Database) SumEntries(userID, asset string, field Field) (decimal.Decimal, error) {
	var entries []Entry
	err := d.db.Select("amount").
		Where("user_id = ? AND asset = ? AND field = ?", userID, asset, string(field)).
		Order("id asc").
		Find(&entries).Error
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum, nil
}
