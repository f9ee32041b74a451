package settlement

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/peerex/peerex-core/internal/types"
)

var ErrOrderNotFound = errors.New("order not found")

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) DB() *gorm.DB {
	return d.db
}

func (d *Database) CreateTrade(tx *gorm.DB, trade *types.Trade) error {
	return tx.Create(trade).Error
}

// LockOrder loads an order holding a row lock for the remainder of tx.
func (d *Database) LockOrder(tx *gorm.DB, orderID string) (*types.Order, error) {
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var order types.Order
	if err := q.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ApplyFill decrements an order's remaining fiat by the fill amount,
// clamping at zero and marking the order filled when exhausted.
func (d *Database) ApplyFill(tx *gorm.DB, order *types.Order, fill decimal.Decimal) error {
	remaining := order.RemainingFiat.Sub(fill)
	status := order.Status
	if !remaining.IsPositive() {
		remaining = decimal.Zero
		status = types.OrderStatusFilled
	}

	err := tx.Model(&types.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"remaining_fiat": remaining,
			"status":         status,
		}).Error
	if err != nil {
		return err
	}

	order.RemainingFiat = remaining
	order.Status = status
	return nil
}

func (d *Database) GetTrade(tradeID string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

// GetUserTrades returns the trades a user participated in, newest first.
func (d *Database) GetUserTrades(userID string) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("created_at desc").
		Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}
