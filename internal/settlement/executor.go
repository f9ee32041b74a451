// Package settlement turns trade proposals into persisted trades with
// funded escrow. Matching is advisory: the proposals were computed before
// any money was locked, so the decisive balance check happens here, per
// proposal, in its own transaction.
package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/peerex/peerex-core/internal/events"
	"github.com/peerex/peerex-core/internal/ledger"
	"github.com/peerex/peerex-core/internal/matching"
	"github.com/peerex/peerex-core/internal/types"
)

// Executor settles matched proposals against the ledger.
type Executor struct {
	db            *Database
	ledger        *ledger.Service
	publisher     events.Publisher
	paymentWindow time.Duration
}

func NewExecutor(gormDB *gorm.DB, ledgerSvc *ledger.Service, publisher events.Publisher, paymentWindow time.Duration) *Executor {
	return &Executor{
		db:            NewDatabase(gormDB),
		ledger:        ledgerSvc,
		publisher:     publisher,
		paymentWindow: paymentWindow,
	}
}

// Database exposes the trade store for read-side collaborators.
func (x *Executor) Database() *Database {
	return x.db
}

// Execute settles each proposal independently and returns the IDs of the
// trades that were created. A failed proposal (typically the seller's
// balance was exhausted by a concurrent fill) is logged and skipped; it
// never aborts its siblings, and the resting order it pointed at stays on
// the book. After the batch, the incoming order is decremented by the
// total that actually filled.
func (x *Executor) Execute(incoming *types.Order, proposals []matching.Proposal) ([]string, error) {
	logger := log.With().
		Str("service", "settlement").
		Str("order_id", incoming.OrderID).
		Str("asset", incoming.Asset).
		Logger()

	var tradeIDs []string
	totalFilled := decimal.Zero

	for _, proposal := range proposals {
		tradeID, results, err := x.settleOne(incoming, proposal)
		if err != nil {
			// Skip, don't abort: each proposal stands alone.
			logger.Warn().Err(err).
				Str("resting_order_id", proposal.RestingOrderID).
				Str("seller_id", proposal.SellerID).
				Msg("settlement skipped for proposal")
			continue
		}

		tradeIDs = append(tradeIDs, tradeID)
		totalFilled = totalFilled.Add(proposal.FiatAmount)

		// Post-commit notifications only.
		x.ledger.NotifyApplied(results...)
		x.publisher.Publish(events.ChannelTradeCreated, events.TradeCreated{
			TradeID:  tradeID,
			BuyerID:  proposal.BuyerID,
			SellerID: proposal.SellerID,
			Asset:    proposal.Asset,
		})
	}

	if totalFilled.IsPositive() {
		err := x.db.DB().Transaction(func(tx *gorm.DB) error {
			order, err := x.db.LockOrder(tx, incoming.OrderID)
			if err != nil {
				return err
			}
			if order.Status == types.OrderStatusActive {
				if err := x.db.ApplyFill(tx, order, totalFilled); err != nil {
					return err
				}
			}
			incoming.RemainingFiat = order.RemainingFiat
			incoming.Status = order.Status
			return nil
		})
		if err != nil {
			// The trades themselves are committed; the incoming order's
			// bookkeeping is recoverable from them.
			logger.Error().Err(err).Msg("failed to apply fills to incoming order")
			return tradeIDs, err
		}

		x.publisher.Publish(events.ChannelOrderbookChanged, events.OrderbookChanged{Asset: incoming.Asset})
	}

	logger.Info().
		Int("proposals", len(proposals)).
		Int("trades", len(tradeIDs)).
		Str("total_filled", totalFilled.String()).
		Msg("settlement batch complete")

	return tradeIDs, nil
}

// settleOne runs a single proposal's transaction: the trade row plus the
// seller's two escrow mutations plus the resting order decrement. Any
// failure rolls the whole proposal back.
func (x *Executor) settleOne(incoming *types.Order, proposal matching.Proposal) (string, []*ledger.Result, error) {
	tradeID := uuid.New().String()
	now := time.Now()

	buyOrderID, sellOrderID := incoming.OrderID, proposal.RestingOrderID
	if incoming.Side == types.SideSell {
		buyOrderID, sellOrderID = proposal.RestingOrderID, incoming.OrderID
	}

	var results []*ledger.Result
	err := x.db.DB().Transaction(func(tx *gorm.DB) error {
		// Revalidate under the row lock. The proposal was computed before
		// any money moved, and the book may have shifted since: the
		// resting order could be cancelled, or a concurrent incoming
		// order may have claimed the same liquidity.
		resting, err := x.db.LockOrder(tx, proposal.RestingOrderID)
		if err != nil {
			return err
		}
		if resting.Status != types.OrderStatusActive {
			return fmt.Errorf("resting order %s is %s", resting.OrderID, resting.Status)
		}
		if resting.RemainingFiat.LessThan(proposal.Fill) {
			return fmt.Errorf("resting order %s has %s remaining, fill claims %s",
				resting.OrderID, resting.RemainingFiat, proposal.Fill)
		}

		trade := &types.Trade{
			TradeID:        tradeID,
			BuyOrderID:     buyOrderID,
			SellOrderID:    sellOrderID,
			BuyerID:        proposal.BuyerID,
			SellerID:       proposal.SellerID,
			Asset:          proposal.Asset,
			CryptoAmount:   proposal.CryptoAmount,
			FiatAmount:     proposal.FiatAmount,
			Price:          proposal.Price,
			FeePercent:     proposal.FeePercent,
			FeeAmount:      proposal.FeeAmount,
			Status:         types.TradeStatusEscrowFunded,
			EscrowFundedAt: now,
			ExpiresAt:      now.Add(x.paymentWindow),
		}
		if err := x.db.CreateTrade(tx, trade); err != nil {
			return err
		}

		// Escrow: seller's crypto moves available -> locked. Distinct
		// deterministic keys make a retried execution unable to
		// double-lock.
		debit, err := x.ledger.Mutate(tx, ledger.Mutation{
			UserID:         proposal.SellerID,
			Asset:          proposal.Asset,
			Field:          ledger.FieldAvailable,
			Amount:         proposal.CryptoAmount.Neg(),
			EntryType:      ledger.EntryTradeEscrowLock,
			IdempotencyKey: "trade:" + tradeID + ":escrow_lock:available",
			TradeID:        tradeID,
		})
		if err != nil {
			return err
		}

		credit, err := x.ledger.Mutate(tx, ledger.Mutation{
			UserID:         proposal.SellerID,
			Asset:          proposal.Asset,
			Field:          ledger.FieldLocked,
			Amount:         proposal.CryptoAmount,
			EntryType:      ledger.EntryTradeEscrowLock,
			IdempotencyKey: "trade:" + tradeID + ":escrow_lock:locked",
			TradeID:        tradeID,
		})
		if err != nil {
			return err
		}
		results = append(results, debit, credit)

		return x.db.ApplyFill(tx, resting, proposal.FiatAmount)
	})
	if err != nil {
		return "", nil, err
	}

	return tradeID, results, nil
}
