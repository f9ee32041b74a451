package matching

import (
	"gorm.io/gorm"

	"github.com/peerex/peerex-core/internal/types"
)

// Database provides the order book reads the engine needs. Reads happen
// while the per-asset advisory lock is held, so the book cannot shift under
// a matching pass.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// OppositeSide returns all active resting orders on the given side for the
// asset, excluding the incoming user's own orders, oldest first.
func (d *Database) OppositeSide(asset, side, excludeUserID string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Where("asset = ? AND side = ? AND status = ? AND user_id <> ?",
			asset, side, types.OrderStatusActive, excludeUserID).
		Order("created_at asc, id asc").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
