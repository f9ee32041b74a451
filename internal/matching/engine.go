// Package matching pairs an incoming order against the resting book under
// price-time priority. The engine only reads and computes: it returns trade
// proposals, and the settlement executor decides which of them survive the
// real balance checks.
package matching

import (
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/peerex/peerex-core/internal/pricing"
	"github.com/peerex/peerex-core/internal/types"
)

// Proposal is one computed fill. Each proposal is independent: settlement
// may commit or skip it without affecting its siblings.
type Proposal struct {
	RestingOrderID string
	BuyerID        string
	SellerID       string
	Asset          string

	// Fill is the fiat claimed from the resting order's remaining;
	// FiatAmount is Fill plus the random cents offset.
	Fill         decimal.Decimal
	FiatAmount   decimal.Decimal
	CryptoAmount decimal.Decimal
	Price        decimal.Decimal

	// FeePercent/FeeAmount are per leg; both legs are charged, so the
	// platform's total take per fill is twice FeeAmount.
	FeePercent decimal.Decimal
	FeeAmount  decimal.Decimal
}

// Engine computes proposals for incoming orders.
type Engine struct {
	db         *Database
	locks      *LockRegistry
	resolver   *pricing.Resolver
	feePercent decimal.Decimal

	cents func() decimal.Decimal
}

func NewEngine(gormDB *gorm.DB, locks *LockRegistry, resolver *pricing.Resolver, feePercent decimal.Decimal) *Engine {
	e := &Engine{
		db:         NewDatabase(gormDB),
		locks:      locks,
		resolver:   resolver,
		feePercent: feePercent,
	}
	e.cents = e.randomCents
	return e
}

// randomCents returns 0.01–0.99, added to each fiat fill so concurrent
// e-Transfers with the same nominal amount can be told apart. The
// package-level generator is safe for concurrent matches on different
// assets.
func (e *Engine) randomCents() decimal.Decimal {
	return decimal.New(int64(rand.Intn(99)+1), -2)
}

type candidate struct {
	order types.Order
	price decimal.Decimal
}

// Match produces the ordered fills for an incoming order against the
// resting book. The per-asset advisory lock is held for the duration of
// the read-and-compute pass, so two incoming orders for the same asset
// cannot both claim the same resting liquidity.
func (e *Engine) Match(incoming *types.Order) ([]Proposal, error) {
	logger := log.With().
		Str("service", "matching").
		Str("order_id", incoming.OrderID).
		Str("asset", incoming.Asset).
		Str("side", incoming.Side).
		Logger()

	incomingPrice, err := e.resolver.EffectivePrice(incoming)
	if err != nil {
		return nil, err
	}
	if !incoming.RemainingFiat.IsPositive() {
		return nil, nil
	}

	release := e.locks.Acquire(incoming.Asset)
	defer release()

	oppositeSide := types.SideSell
	if incoming.Side == types.SideSell {
		oppositeSide = types.SideBuy
	}

	resting, err := e.db.OppositeSide(incoming.Asset, oppositeSide, incoming.UserID)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(resting))
	for _, order := range resting {
		price, err := e.resolver.EffectivePrice(&order)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{order: order, price: price})
	}

	// Best price first; FIFO within a price level.
	sort.SliceStable(candidates, func(i, j int) bool {
		cmp := candidates[i].price.Cmp(candidates[j].price)
		if cmp == 0 {
			return candidates[i].order.CreatedAt.Before(candidates[j].order.CreatedAt)
		}
		if incoming.Side == types.SideBuy {
			return cmp < 0
		}
		return cmp > 0
	})

	var proposals []Proposal
	remaining := incoming.RemainingFiat

	for _, cand := range candidates {
		if !remaining.IsPositive() {
			break
		}

		// Candidates are sorted, so the first incompatible price ends the
		// walk: everything after it is strictly worse.
		if incoming.Side == types.SideBuy && cand.price.GreaterThan(incomingPrice) {
			break
		}
		if incoming.Side == types.SideSell && cand.price.LessThan(incomingPrice) {
			break
		}

		fill := decimal.Min(remaining, cand.order.RemainingFiat)
		if cand.order.MaxTrade.IsPositive() {
			fill = decimal.Min(fill, cand.order.MaxTrade)
		}
		if incoming.MaxTrade.IsPositive() {
			fill = decimal.Min(fill, incoming.MaxTrade)
		}

		// Too small for either party's declared minimum: skip this
		// candidate, keep walking.
		if cand.order.MinTrade.IsPositive() && fill.LessThan(cand.order.MinTrade) {
			continue
		}
		if incoming.MinTrade.IsPositive() && fill.LessThan(incoming.MinTrade) {
			continue
		}

		fiatAmount := fill.Add(e.cents())
		cryptoAmount := fiatAmount.Div(cand.price).RoundBank(8)
		feeAmount := cryptoAmount.Mul(e.feePercent).Div(decimal.NewFromInt(100)).RoundBank(8)

		buyerID, sellerID := incoming.UserID, cand.order.UserID
		if incoming.Side == types.SideSell {
			buyerID, sellerID = cand.order.UserID, incoming.UserID
		}

		proposals = append(proposals, Proposal{
			RestingOrderID: cand.order.OrderID,
			BuyerID:        buyerID,
			SellerID:       sellerID,
			Asset:          incoming.Asset,
			Fill:           fill,
			FiatAmount:     fiatAmount,
			CryptoAmount:   cryptoAmount,
			Price:          cand.price,
			FeePercent:     e.feePercent,
			FeeAmount:      feeAmount,
		})

		remaining = remaining.Sub(fiatAmount)
	}

	logger.Debug().
		Int("candidates", len(candidates)).
		Int("proposals", len(proposals)).
		Str("incoming_price", incomingPrice.String()).
		Msg("matching pass complete")

	return proposals, nil
}
