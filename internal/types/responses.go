package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateOrderResponse is returned from order placement. TradeIDs lists the
// trades settled immediately against the resting book, possibly empty.
type CreateOrderResponse struct {
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
	RemainingFiat decimal.Decimal `json:"remaining_fiat"`
	TradeIDs      []string        `json:"trade_ids"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BalanceResponse reports one (user, asset) balance row.
type BalanceResponse struct {
	Asset          string          `json:"asset"`
	Available      decimal.Decimal `json:"available"`
	Locked         decimal.Decimal `json:"locked"`
	PendingDeposit decimal.Decimal `json:"pending_deposit"`
}

// SwapResponse is returned from an asset swap.
type SwapResponse struct {
	SwapID     string          `json:"swap_id"`
	FromAsset  string          `json:"from_asset"`
	ToAsset    string          `json:"to_asset"`
	FromAmount decimal.Decimal `json:"from_amount"`
	ToAmount   decimal.Decimal `json:"to_amount"`
	Rate       decimal.Decimal `json:"rate"`
	Timestamp  time.Time       `json:"timestamp"`
}
