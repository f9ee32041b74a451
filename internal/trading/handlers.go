package trading

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/peerex/peerex-core/internal/settlement"
	"github.com/peerex/peerex-core/internal/types"
	"github.com/peerex/peerex-core/pkg/response"
)

// GinHandlers contains HTTP handlers for order and trade endpoints.
type GinHandlers struct {
	service *Service
	trades  *settlement.Database
}

func NewGinHandlers(service *Service, trades *settlement.Database) *GinHandlers {
	return &GinHandlers{service: service, trades: trades}
}

type createOrderRequest struct {
	Side           string `json:"side" binding:"required"`
	Asset          string `json:"asset" binding:"required"`
	FiatAmount     string `json:"fiat_amount" binding:"required"`
	PriceType      string `json:"price_type" binding:"required"`
	PremiumPercent string `json:"premium_percent"`
	FixedPrice     string `json:"fixed_price"`
	MinTrade       string `json:"min_trade"`
	MaxTrade       string `json:"max_trade"`
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// CreateOrderHandler handles POST requests to place orders.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		svcReq := CreateOrderRequest{
			UserID:    userID,
			Side:      req.Side,
			Asset:     req.Asset,
			PriceType: req.PriceType,
		}

		var err error
		if svcReq.FiatAmount, err = parseDecimal(req.FiatAmount); err != nil {
			response.BadRequest(c, "Invalid fiat_amount")
			return
		}
		if svcReq.PremiumPercent, err = parseDecimal(req.PremiumPercent); err != nil {
			response.BadRequest(c, "Invalid premium_percent")
			return
		}
		if svcReq.FixedPrice, err = parseDecimal(req.FixedPrice); err != nil {
			response.BadRequest(c, "Invalid fixed_price")
			return
		}
		if svcReq.MinTrade, err = parseDecimal(req.MinTrade); err != nil {
			response.BadRequest(c, "Invalid min_trade")
			return
		}
		if svcReq.MaxTrade, err = parseDecimal(req.MaxTrade); err != nil {
			response.BadRequest(c, "Invalid max_trade")
			return
		}

		resp, err := h.service.CreateOrder(svcReq)
		if errors.Is(err, ErrInvalidOrder) {
			response.BadRequest(c, err.Error())
			return
		}
		response.Handle(c, resp, err)
	}
}

// CancelOrderHandler handles POST requests to cancel an order.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		if err := h.service.CancelOrder(userID, orderID); err != nil {
			switch {
			case errors.Is(err, ErrOrderNotFound):
				response.NotFound(c, "Order not found")
			case errors.Is(err, ErrNotCancellable):
				response.BadRequest(c, "Order can no longer be cancelled")
			default:
				response.Handle(c, nil, err)
			}
			return
		}
		response.Success(c, gin.H{"order_id": orderID, "status": "cancelled"})
	}
}

// PauseOrderHandler handles POST requests to take an order off the book
// without cancelling it.
func (h *GinHandlers) PauseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		orderID := c.Param("order_id")
		if err := h.service.PauseOrder(userID, orderID); err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				response.NotFound(c, "Order not found")
				return
			}
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"order_id": orderID, "status": types.OrderStatusPaused})
	}
}

// ResumeOrderHandler handles POST requests to put a paused order back on
// the book.
func (h *GinHandlers) ResumeOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		orderID := c.Param("order_id")
		if err := h.service.ResumeOrder(userID, orderID); err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				response.NotFound(c, "Order not found")
				return
			}
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"order_id": orderID, "status": types.OrderStatusActive})
	}
}

// GetOrderHandler handles GET requests for a single order.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		order, err := h.service.GetOrder(userID, c.Param("order_id"))
		if errors.Is(err, ErrOrderNotFound) {
			response.NotFound(c, "Order not found")
			return
		}
		response.Handle(c, order, err)
	}
}

// GetOrdersHandler handles GET requests for all of a user's orders.
func (h *GinHandlers) GetOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		orders, err := h.service.GetUserOrders(userID)
		response.Handle(c, orders, err)
	}
}

// GetTradesHandler handles GET requests for a user's trades.
func (h *GinHandlers) GetTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		trades, err := h.trades.GetUserTrades(userID)
		response.Handle(c, trades, err)
	}
}
