package migrations

import (
	"gorm.io/gorm"

	"github.com/peerex/peerex-core/internal/types"
)

// AddOrdersAndTrades creates the order book and trade tables.
func AddOrdersAndTrades(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Order{}); err != nil {
		return err
	}
	return db.AutoMigrate(&types.Trade{})
}
