package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order side and price type values.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	PriceTypeMarket = "market"
	PriceTypeFixed  = "fixed"
)

// Order statuses. Only active and paused orders are cancellable; filled
// and cancelled are terminal.
const (
	OrderStatusActive    = "active"
	OrderStatusPaused    = "paused"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// Trade statuses owned by this core. Everything past escrow_funded belongs
// to the post-escrow settlement collaborator.
const (
	TradeStatusEscrowFunded = "escrow_funded"
)

// Order is a user's resting buy/sell intent, sized in fiat.
type Order struct {
	gorm.Model `json:"-"`
	OrderID    string `gorm:"uniqueIndex" json:"order_id"`
	UserID     string `gorm:"index" json:"user_id"`
	Side       string `json:"side"`
	Asset      string `gorm:"index" json:"asset"`

	PriceType      string          `json:"price_type"`
	PremiumPercent decimal.Decimal `gorm:"type:decimal(36,18)" json:"premium_percent"`
	FixedPrice     decimal.Decimal `gorm:"type:decimal(36,18)" json:"fixed_price"`

	FiatAmount    decimal.Decimal `gorm:"type:decimal(36,18)" json:"fiat_amount"`
	RemainingFiat decimal.Decimal `gorm:"type:decimal(36,18)" json:"remaining_fiat"`
	MinTrade      decimal.Decimal `gorm:"type:decimal(36,18)" json:"min_trade"`
	MaxTrade      decimal.Decimal `gorm:"type:decimal(36,18)" json:"max_trade"`

	Status    string    `gorm:"index" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Trade is a matched fill between two orders. Created by the settlement
// executor at escrow_funded; its later lifecycle is out of this core.
type Trade struct {
	gorm.Model `json:"-"`
	TradeID    string `gorm:"uniqueIndex" json:"trade_id"`
	BuyOrderID string `gorm:"index" json:"buy_order_id"`
	SellOrderID string `gorm:"index" json:"sell_order_id"`
	BuyerID    string `gorm:"index" json:"buyer_id"`
	SellerID   string `gorm:"index" json:"seller_id"`
	Asset      string `json:"asset"`

	CryptoAmount decimal.Decimal `gorm:"type:decimal(36,18)" json:"crypto_amount"`
	FiatAmount   decimal.Decimal `gorm:"type:decimal(36,18)" json:"fiat_amount"`
	Price        decimal.Decimal `gorm:"type:decimal(36,18)" json:"price"`
	FeePercent   decimal.Decimal `gorm:"type:decimal(36,18)" json:"fee_percent"`
	FeeAmount    decimal.Decimal `gorm:"type:decimal(36,18)" json:"fee_amount"`

	Status         string    `gorm:"index" json:"status"`
	EscrowFundedAt time.Time `json:"escrow_funded_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
