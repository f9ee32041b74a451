package migrations

import (
	"gorm.io/gorm"

	"github.com/peerex/peerex-core/internal/ledger"
)

// AddBalanceLedger creates the balances table and the append-only
// balance_ledger audit table.
func AddBalanceLedger(db *gorm.DB) error {
	if err := db.AutoMigrate(&ledger.Balance{}); err != nil {
		return err
	}
	return db.AutoMigrate(&ledger.Entry{})
}
