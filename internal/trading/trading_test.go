package trading_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/peerex/peerex-core/internal/database"
	"github.com/peerex/peerex-core/internal/events"
	"github.com/peerex/peerex-core/internal/ledger"
	"github.com/peerex/peerex-core/internal/matching"
	"github.com/peerex/peerex-core/internal/pricing"
	"github.com/peerex/peerex-core/internal/settlement"
	"github.com/peerex/peerex-core/internal/trading"
	"github.com/peerex/peerex-core/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	svc    *trading.Service
	ledger *ledger.Service
	trades *settlement.Database
	db     *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.NewTestDatabase()
	require.NoError(t, err)

	publisher := events.NewLogPublisher()
	resolver := pricing.NewResolver(
		pricing.NewFixedSource(map[string]decimal.Decimal{"BTC": d("100")}),
		d("1.5"),
	)
	ledgerSvc := ledger.NewService(db, publisher, "platform")
	engine := matching.NewEngine(db, matching.NewLockRegistry(), resolver, d("0.5"))
	executor := settlement.NewExecutor(db, ledgerSvc, publisher, 30*time.Minute)

	return &fixture{
		svc:    trading.NewService(db, engine, executor, resolver, publisher),
		ledger: ledgerSvc,
		trades: settlement.NewDatabase(db),
		db:     db,
	}
}

func (f *fixture) fund(t *testing.T, userID, asset, amount string) {
	t.Helper()
	require.NoError(t, f.ledger.EnsureBalances(userID, []string{asset}))
	_, err := f.ledger.Apply(ledger.Mutation{
		UserID:         userID,
		Asset:          asset,
		Field:          ledger.FieldAvailable,
		Amount:         d(amount),
		EntryType:      ledger.EntryDepositCredit,
		IdempotencyKey: "fund:" + userID + ":" + asset,
	})
	require.NoError(t, err)
}

func fixedOrder(userID, side, fiat string) trading.CreateOrderRequest {
	return trading.CreateOrderRequest{
		UserID:     userID,
		Side:       side,
		Asset:      "BTC",
		FiatAmount: d(fiat),
		PriceType:  types.PriceTypeFixed,
		FixedPrice: d("100"),
	}
}

func TestCreateOrderRestsOnEmptyBook(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.CreateOrder(fixedOrder("alice", types.SideBuy, "500"))
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusActive, resp.Status)
	require.True(t, resp.RemainingFiat.Equal(d("500")))
	require.Empty(t, resp.TradeIDs)

	order, err := f.svc.GetOrder("alice", resp.OrderID)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusActive, order.Status)
}

func TestCreateOrderMatchesAndSettles(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "seller", "BTC", "100")

	sellResp, err := f.svc.CreateOrder(fixedOrder("seller", types.SideSell, "500"))
	require.NoError(t, err)
	require.Empty(t, sellResp.TradeIDs)

	buyResp, err := f.svc.CreateOrder(fixedOrder("buyer", types.SideBuy, "300"))
	require.NoError(t, err)
	require.Len(t, buyResp.TradeIDs, 1)

	// The cents offset overshoots the buyer's 300, so the buy order fills
	// completely.
	require.Equal(t, types.OrderStatusFilled, buyResp.Status)
	require.True(t, buyResp.RemainingFiat.IsZero())

	trade, err := f.trades.GetTrade(buyResp.TradeIDs[0])
	require.NoError(t, err)
	require.Equal(t, types.TradeStatusEscrowFunded, trade.Status)
	require.Equal(t, "buyer", trade.BuyerID)
	require.Equal(t, "seller", trade.SellerID)
	require.True(t, trade.FiatAmount.GreaterThanOrEqual(d("300.01")))
	require.True(t, trade.FiatAmount.LessThanOrEqual(d("300.99")))
	require.True(t, trade.Price.Equal(d("100")))

	// Seller's escrow is locked and the sell order carries the rest.
	bal, err := f.ledger.GetBalance("seller", "BTC")
	require.NoError(t, err)
	require.True(t, bal.Locked.Equal(trade.CryptoAmount))

	sellOrder, err := f.svc.GetOrder("seller", sellResp.OrderID)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusActive, sellOrder.Status)
	require.True(t, sellOrder.RemainingFiat.Equal(d("500").Sub(trade.FiatAmount)))
}

func TestMarketOrdersFullFill(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "userB", "BTC", "100")

	// B's resting market sell and A's incoming market buy. The seller's
	// effective price is market minus spread, which the buyer's bound
	// (market plus spread) clears.
	sellResp, err := f.svc.CreateOrder(trading.CreateOrderRequest{
		UserID: "userB", Side: types.SideSell, Asset: "BTC",
		FiatAmount: d("500"), PriceType: types.PriceTypeMarket,
		MinTrade: d("10"), MaxTrade: d("1000"),
	})
	require.NoError(t, err)

	buyResp, err := f.svc.CreateOrder(trading.CreateOrderRequest{
		UserID: "userA", Side: types.SideBuy, Asset: "BTC",
		FiatAmount: d("500"), PriceType: types.PriceTypeMarket,
	})
	require.NoError(t, err)
	require.Len(t, buyResp.TradeIDs, 1)

	trade, err := f.trades.GetTrade(buyResp.TradeIDs[0])
	require.NoError(t, err)

	// One fill of $500 plus the 1-99 cents offset, at B's price
	// (market 100 less the 1.5% spread).
	require.True(t, trade.FiatAmount.GreaterThanOrEqual(d("500.01")))
	require.True(t, trade.FiatAmount.LessThanOrEqual(d("500.99")))
	require.True(t, trade.Price.Equal(d("98.5")))

	// Both orders consumed completely.
	require.Equal(t, types.OrderStatusFilled, buyResp.Status)
	sellOrder, err := f.svc.GetOrder("userB", sellResp.OrderID)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusFilled, sellOrder.Status)
	require.True(t, sellOrder.RemainingFiat.IsZero())

	// B's crypto moved available -> locked by the same amount, recorded
	// as two entries against the same trade with distinct keys.
	bal, err := f.ledger.GetBalance("userB", "BTC")
	require.NoError(t, err)
	require.True(t, bal.Locked.Equal(trade.CryptoAmount))
	require.True(t, bal.Available.Equal(d("100").Sub(trade.CryptoAmount)))

	entries, err := f.ledger.GetHistory("userB", "BTC")
	require.NoError(t, err)
	var escrow []ledger.Entry
	for _, e := range entries {
		if e.EntryType == ledger.EntryTradeEscrowLock {
			escrow = append(escrow, e)
		}
	}
	require.Len(t, escrow, 2)
	require.Equal(t, trade.TradeID, escrow[0].TradeID)
	require.Equal(t, trade.TradeID, escrow[1].TradeID)
	require.NotEqual(t, escrow[0].IdempotencyKey, escrow[1].IdempotencyKey)
}

func TestCreateOrderNoSelfTrade(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice", "BTC", "100")

	_, err := f.svc.CreateOrder(fixedOrder("alice", types.SideSell, "500"))
	require.NoError(t, err)

	resp, err := f.svc.CreateOrder(fixedOrder("alice", types.SideBuy, "500"))
	require.NoError(t, err)
	require.Empty(t, resp.TradeIDs)
	require.Equal(t, types.OrderStatusActive, resp.Status)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		req  trading.CreateOrderRequest
	}{
		{"bad side", trading.CreateOrderRequest{
			UserID: "alice", Side: "short", Asset: "BTC",
			FiatAmount: d("100"), PriceType: types.PriceTypeMarket,
		}},
		{"zero amount", trading.CreateOrderRequest{
			UserID: "alice", Side: types.SideBuy, Asset: "BTC",
			FiatAmount: decimal.Zero, PriceType: types.PriceTypeMarket,
		}},
		{"fixed without price", trading.CreateOrderRequest{
			UserID: "alice", Side: types.SideBuy, Asset: "BTC",
			FiatAmount: d("100"), PriceType: types.PriceTypeFixed,
		}},
		{"max below min", trading.CreateOrderRequest{
			UserID: "alice", Side: types.SideBuy, Asset: "BTC",
			FiatAmount: d("100"), PriceType: types.PriceTypeMarket,
			MinTrade: d("50"), MaxTrade: d("10"),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(tc.req)
			require.ErrorIs(t, err, trading.ErrInvalidOrder)
		})
	}
}

func TestCreateOrderPriceUnavailable(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(trading.CreateOrderRequest{
		UserID:     "alice",
		Side:       types.SideBuy,
		Asset:      "DOGE",
		FiatAmount: d("100"),
		PriceType:  types.PriceTypeMarket,
	})
	require.ErrorIs(t, err, pricing.ErrPriceUnavailable)

	// Nothing reached the book.
	orders, err := f.svc.GetUserOrders("alice")
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestCancelOrderLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.CreateOrder(fixedOrder("alice", types.SideBuy, "500"))
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelOrder("alice", resp.OrderID))

	order, err := f.svc.GetOrder("alice", resp.OrderID)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusCancelled, order.Status)

	// Cancelled is terminal.
	err = f.svc.CancelOrder("alice", resp.OrderID)
	require.ErrorIs(t, err, trading.ErrNotCancellable)
}

func TestCancelOrderWrongUser(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.CreateOrder(fixedOrder("alice", types.SideBuy, "500"))
	require.NoError(t, err)

	err = f.svc.CancelOrder("mallory", resp.OrderID)
	require.ErrorIs(t, err, trading.ErrOrderNotFound)
}

func TestPauseResumeOrder(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "seller", "BTC", "100")

	sellResp, err := f.svc.CreateOrder(fixedOrder("seller", types.SideSell, "500"))
	require.NoError(t, err)

	require.NoError(t, f.svc.PauseOrder("seller", sellResp.OrderID))

	order, err := f.svc.GetOrder("seller", sellResp.OrderID)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusPaused, order.Status)

	// A paused order offers no liquidity.
	buyResp, err := f.svc.CreateOrder(fixedOrder("buyer", types.SideBuy, "300"))
	require.NoError(t, err)
	require.Empty(t, buyResp.TradeIDs)

	require.NoError(t, f.svc.ResumeOrder("seller", sellResp.OrderID))

	order, err = f.svc.GetOrder("seller", sellResp.OrderID)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusActive, order.Status)

	// Back on the book, it matches the resting buy's counterpart.
	buyResp2, err := f.svc.CreateOrder(fixedOrder("buyer2", types.SideBuy, "200"))
	require.NoError(t, err)
	require.Len(t, buyResp2.TradeIDs, 1)
}

func TestCancelPausedOrder(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.CreateOrder(fixedOrder("alice", types.SideBuy, "500"))
	require.NoError(t, err)

	require.NoError(t, f.svc.PauseOrder("alice", resp.OrderID))
	require.NoError(t, f.svc.CancelOrder("alice", resp.OrderID))

	order, err := f.svc.GetOrder("alice", resp.OrderID)
	require.NoError(t, err)
	require.Equal(t, types.OrderStatusCancelled, order.Status)
}

func TestGetUserOrders(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.CreateOrder(fixedOrder("alice", types.SideBuy, "100"))
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(fixedOrder("alice", types.SideBuy, "200"))
	require.NoError(t, err)

	orders, err := f.svc.GetUserOrders("alice")
	require.NoError(t, err)
	require.Len(t, orders, 2)

	ids := []string{orders[0].OrderID, orders[1].OrderID}
	require.Contains(t, ids, first.OrderID)
	require.Contains(t, ids, second.OrderID)

	orders, err = f.svc.GetUserOrders("bob")
	require.NoError(t, err)
	require.Empty(t, orders)
}
