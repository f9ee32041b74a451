// Package trading owns the order lifecycle: placement (which drives
// matching and settlement), cancellation, and pause/resume.
package trading

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/peerex/peerex-core/internal/events"
	"github.com/peerex/peerex-core/internal/matching"
	"github.com/peerex/peerex-core/internal/pricing"
	"github.com/peerex/peerex-core/internal/settlement"
	"github.com/peerex/peerex-core/internal/types"
)

var (
	ErrNotCancellable = errors.New("order is not cancellable")
	ErrInvalidOrder   = errors.New("invalid order")
)

// CreateOrderRequest carries the inbound order placement contract.
type CreateOrderRequest struct {
	UserID         string
	Side           string
	Asset          string
	FiatAmount     decimal.Decimal
	PriceType      string
	PremiumPercent decimal.Decimal
	FixedPrice     decimal.Decimal
	MinTrade       decimal.Decimal
	MaxTrade       decimal.Decimal
}

func (r *CreateOrderRequest) validate() error {
	if r.UserID == "" || r.Asset == "" {
		return fmt.Errorf("%w: missing user or asset", ErrInvalidOrder)
	}
	if r.Side != types.SideBuy && r.Side != types.SideSell {
		return fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	}
	if r.PriceType != types.PriceTypeMarket && r.PriceType != types.PriceTypeFixed {
		return fmt.Errorf("%w: price type must be market or fixed", ErrInvalidOrder)
	}
	if r.PriceType == types.PriceTypeFixed && !r.FixedPrice.IsPositive() {
		return fmt.Errorf("%w: fixed orders need a positive price", ErrInvalidOrder)
	}
	if !r.FiatAmount.IsPositive() {
		return fmt.Errorf("%w: fiat amount must be positive", ErrInvalidOrder)
	}
	if r.MinTrade.IsNegative() || r.MaxTrade.IsNegative() {
		return fmt.Errorf("%w: trade size bounds cannot be negative", ErrInvalidOrder)
	}
	if r.MinTrade.IsPositive() && r.MaxTrade.IsPositive() && r.MaxTrade.LessThan(r.MinTrade) {
		return fmt.Errorf("%w: max trade below min trade", ErrInvalidOrder)
	}
	return nil
}

// Service handles order management and drives match + settle on placement.
type Service struct {
	db        *Database
	engine    *matching.Engine
	executor  *settlement.Executor
	resolver  *pricing.Resolver
	publisher events.Publisher
}

func NewService(gormDB *gorm.DB, engine *matching.Engine, executor *settlement.Executor,
	resolver *pricing.Resolver, publisher events.Publisher) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		engine:    engine,
		executor:  executor,
		resolver:  resolver,
		publisher: publisher,
	}
}

// CreateOrder validates and persists a new order, then matches it against
// the book and settles the resulting proposals. The price is resolved
// before anything is written, so an unavailable price fails with no
// partial state.
func (s *Service) CreateOrder(req CreateOrderRequest) (*types.CreateOrderResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	order := &types.Order{
		OrderID:        uuid.New().String(),
		UserID:         req.UserID,
		Side:           req.Side,
		Asset:          req.Asset,
		PriceType:      req.PriceType,
		PremiumPercent: req.PremiumPercent,
		FixedPrice:     req.FixedPrice,
		FiatAmount:     req.FiatAmount,
		RemainingFiat:  req.FiatAmount,
		MinTrade:       req.MinTrade,
		MaxTrade:       req.MaxTrade,
		Status:         types.OrderStatusActive,
	}

	// Resolving up front also rejects unquotable assets before the order
	// ever reaches the book.
	if _, err := s.resolver.EffectivePrice(order); err != nil {
		return nil, err
	}

	if err := s.db.CreateOrder(order); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("service", "trading").
		Str("order_id", order.OrderID).
		Str("user_id", order.UserID).
		Str("side", order.Side).
		Str("asset", order.Asset).
		Logger()
	logger.Info().Str("fiat_amount", order.FiatAmount.String()).Msg("order created")

	proposals, err := s.engine.Match(order)
	if err != nil {
		// The order is on the book; it just could not match right now.
		logger.Error().Err(err).Msg("matching failed, order rests on book")
		return s.orderResponse(order, nil), nil
	}

	tradeIDs, err := s.executor.Execute(order, proposals)
	if err != nil {
		logger.Error().Err(err).Msg("settlement batch reported an error")
	}

	s.publisher.Publish(events.ChannelOrderbookChanged, events.OrderbookChanged{Asset: order.Asset})

	return s.orderResponse(order, tradeIDs), nil
}

func (s *Service) orderResponse(order *types.Order, tradeIDs []string) *types.CreateOrderResponse {
	if tradeIDs == nil {
		tradeIDs = []string{}
	}
	return &types.CreateOrderResponse{
		OrderID:       order.OrderID,
		Status:        order.Status,
		RemainingFiat: order.RemainingFiat,
		TradeIDs:      tradeIDs,
		CreatedAt:     order.CreatedAt,
	}
}

// CancelOrder cancels a user's order. Only active and paused orders can be
// cancelled; filled and cancelled are terminal.
func (s *Service) CancelOrder(userID, orderID string) error {
	order, err := s.db.GetOrderByIDAndUser(orderID, userID)
	if err != nil {
		return err
	}

	if order.Status != types.OrderStatusActive && order.Status != types.OrderStatusPaused {
		return fmt.Errorf("%w: status is %s", ErrNotCancellable, order.Status)
	}

	err = s.db.UpdateStatus(orderID, types.OrderStatusCancelled,
		types.OrderStatusActive, types.OrderStatusPaused)
	if err != nil {
		return err
	}

	s.publisher.Publish(events.ChannelOrderbookChanged, events.OrderbookChanged{Asset: order.Asset})
	return nil
}

// PauseOrder takes an active order off the book without cancelling it.
func (s *Service) PauseOrder(userID, orderID string) error {
	if _, err := s.db.GetOrderByIDAndUser(orderID, userID); err != nil {
		return err
	}
	return s.db.UpdateStatus(orderID, types.OrderStatusPaused, types.OrderStatusActive)
}

// ResumeOrder puts a paused order back on the book.
func (s *Service) ResumeOrder(userID, orderID string) error {
	if _, err := s.db.GetOrderByIDAndUser(orderID, userID); err != nil {
		return err
	}
	return s.db.UpdateStatus(orderID, types.OrderStatusActive, types.OrderStatusPaused)
}

// GetOrder retrieves one of the user's orders.
func (s *Service) GetOrder(userID, orderID string) (*types.Order, error) {
	return s.db.GetOrderByIDAndUser(orderID, userID)
}

// GetUserOrders retrieves all of a user's orders, newest first.
func (s *Service) GetUserOrders(userID string) ([]types.Order, error) {
	return s.db.GetUserOrders(userID)
}
