// Package events defines the outbox contract for post-commit notifications.
//
// Publications are fire-and-forget: a publisher must never block the caller
// for long, and a publication failure must never unwind an already committed
// financial state change. Callers invoke Publish only after their
// transaction has committed.
package events

// Channel names consumed by the notification collaborators.
const (
	ChannelTradeCreated     = "trade-created"
	ChannelOrderbookChanged = "orderbook-changed"
	ChannelBalanceChanged   = "balance-changed"
)

// Publisher delivers a JSON-serializable payload on a named channel.
type Publisher interface {
	Publish(channel string, payload interface{})
}

// BalanceChanged is sent on ChannelBalanceChanged after a ledger mutation.
type BalanceChanged struct {
	UserID    string `json:"user_id"`
	Asset     string `json:"asset"`
	Field     string `json:"field"`
	EntryType string `json:"entry_type"`
}

// TradeCreated is sent on ChannelTradeCreated after escrow is funded.
type TradeCreated struct {
	TradeID  string `json:"trade_id"`
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`
	Asset    string `json:"asset"`
}

// OrderbookChanged is sent on ChannelOrderbookChanged when resting
// liquidity for an asset changes.
type OrderbookChanged struct {
	Asset string `json:"asset"`
}
