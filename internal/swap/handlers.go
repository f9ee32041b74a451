package swap

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/peerex/peerex-core/pkg/response"
)

type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type swapRequest struct {
	FromAsset string `json:"from_asset" binding:"required"`
	ToAsset   string `json:"to_asset" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	// Optional: lets the client retry safely after a timeout.
	IdempotencyKey string `json:"idempotency_key"`
}

// SwapHandler handles POST requests to swap between two assets.
func (h *GinHandlers) SwapHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var req swapRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			response.BadRequest(c, "Invalid amount")
			return
		}

		resp, err := h.service.Swap(userID, req.FromAsset, req.ToAsset, amount, req.IdempotencyKey)
		if errors.Is(err, ErrInvalidSwap) {
			response.BadRequest(c, err.Error())
			return
		}
		response.Handle(c, resp, err)
	}
}
