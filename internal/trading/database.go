package trading

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/peerex/peerex-core/internal/types"
)

var ErrOrderNotFound = errors.New("order not found")

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByIDAndUser(orderID, userID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ? AND user_id = ?", orderID, userID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetUserOrders(userID string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("user_id = ?", userID).Order("created_at desc").Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus transitions an order's status, guarding on the statuses the
// transition is legal from so a concurrent fill cannot be overwritten.
func (d *Database) UpdateStatus(orderID, newStatus string, allowedFrom ...string) error {
	result := d.db.Model(&types.Order{}).
		Where("order_id = ? AND status IN ?", orderID, allowedFrom).
		Updates(map[string]interface{}{
			"status":     newStatus,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}
