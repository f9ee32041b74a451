package ledger

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/peerex/peerex-core/internal/types"
	"github.com/peerex/peerex-core/pkg/response"
)

// GinHandlers contains HTTP handlers for balance and ledger endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetBalancesHandler handles GET requests for all of a user's balances.
func (h *GinHandlers) GetBalancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		balances, err := h.service.GetBalances(userID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		out := make([]types.BalanceResponse, 0, len(balances))
		for _, b := range balances {
			out = append(out, types.BalanceResponse{
				Asset:          b.Asset,
				Available:      b.Available,
				Locked:         b.Locked,
				PendingDeposit: b.PendingDeposit,
			})
		}
		response.Success(c, out)
	}
}

// GetHistoryHandler handles GET requests for a user's ledger entries for
// one asset.
func (h *GinHandlers) GetHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		asset := c.Param("asset")
		if asset == "" {
			response.BadRequest(c, "Asset is required")
			return
		}

		entries, err := h.service.GetHistory(userID, asset)
		response.Handle(c, entries, err)
	}
}

type mutateRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	Asset          string `json:"asset" binding:"required"`
	Field          string `json:"field" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	EntryType      string `json:"entry_type" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	TradeID        string `json:"trade_id"`
	DepositID      string `json:"deposit_id"`
	WithdrawalID   string `json:"withdrawal_id"`
	Note           string `json:"note"`
	AllowNegative  bool   `json:"allow_negative"`
}

// MutateHandler handles POST requests from internal collaborators (deposit
// monitor, withdrawal processor, swap and referral flows) that need to move
// balances through the funnel.
func (h *GinHandlers) MutateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req mutateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			response.BadRequest(c, "Invalid amount")
			return
		}

		res, err := h.service.Apply(Mutation{
			UserID:         req.UserID,
			Asset:          req.Asset,
			Field:          Field(req.Field),
			Amount:         amount,
			EntryType:      req.EntryType,
			IdempotencyKey: req.IdempotencyKey,
			TradeID:        req.TradeID,
			DepositID:      req.DepositID,
			WithdrawalID:   req.WithdrawalID,
			Note:           req.Note,
			AllowNegative:  req.AllowNegative,
		})
		if err != nil {
			if errors.Is(err, ErrInvalidMutation) {
				response.BadRequest(c, err.Error())
				return
			}
			response.Handle(c, nil, err)
			return
		}

		if res == nil {
			response.Success(c, gin.H{"applied": false})
			return
		}
		response.Success(c, gin.H{"applied": true, "new_value": res.NewValue})
	}
}
