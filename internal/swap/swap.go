// Package swap converts between two of a user's assets atomically at
// oracle prices: one swap_out debit and one swap_in credit, both through
// the ledger funnel, in one transaction.
package swap

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/peerex/peerex-core/internal/ledger"
	"github.com/peerex/peerex-core/internal/pricing"
	"github.com/peerex/peerex-core/internal/types"
)

var ErrInvalidSwap = errors.New("invalid swap")

// Service executes asset swaps.
type Service struct {
	db       *gorm.DB
	ledger   *ledger.Service
	resolver *pricing.Resolver
}

func NewService(gormDB *gorm.DB, ledgerSvc *ledger.Service, resolver *pricing.Resolver) *Service {
	return &Service{db: gormDB, ledger: ledgerSvc, resolver: resolver}
}

// Swap moves fromAmount of fromAsset out of the user's available balance
// and credits the equivalent amount of toAsset at current oracle prices.
// Both mutations commit together or not at all. The caller-supplied
// idempotencyKey makes a retried request a no-op; when empty, a fresh one
// is generated and the swap applies unconditionally.
func (s *Service) Swap(userID, fromAsset, toAsset string, fromAmount decimal.Decimal, idempotencyKey string) (*types.SwapResponse, error) {
	if fromAsset == toAsset {
		return nil, fmt.Errorf("%w: assets must differ", ErrInvalidSwap)
	}
	if !fromAmount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidSwap)
	}

	fromPrice, err := s.resolver.MarketPrice(fromAsset)
	if err != nil {
		return nil, err
	}
	toPrice, err := s.resolver.MarketPrice(toAsset)
	if err != nil {
		return nil, err
	}
	if !toPrice.IsPositive() {
		return nil, pricing.ErrPriceUnavailable
	}

	rate := fromPrice.Div(toPrice)
	toAmount := fromAmount.Mul(rate).RoundBank(8)

	swapID := idempotencyKey
	if swapID == "" {
		swapID = uuid.New().String()
	}

	var out, in *ledger.Result
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.ledger.Mutate(tx, ledger.Mutation{
			UserID:         userID,
			Asset:          fromAsset,
			Field:          ledger.FieldAvailable,
			Amount:         fromAmount.Neg(),
			EntryType:      ledger.EntrySwapOut,
			IdempotencyKey: "swap:" + userID + ":" + swapID + ":out",
			Note:           fmt.Sprintf("swap to %s", toAsset),
		})
		if err != nil {
			return err
		}

		in, err = s.ledger.Mutate(tx, ledger.Mutation{
			UserID:         userID,
			Asset:          toAsset,
			Field:          ledger.FieldAvailable,
			Amount:         toAmount,
			EntryType:      ledger.EntrySwapIn,
			IdempotencyKey: "swap:" + userID + ":" + swapID + ":in",
			Note:           fmt.Sprintf("swap from %s", fromAsset),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.ledger.NotifyApplied(out, in)

	// A nil result means the key was already applied: the retry moved
	// no money.
	log.Info().
		Str("service", "swap").
		Bool("replayed", out == nil).
		Str("swap_id", swapID).
		Str("user_id", userID).
		Str("from", fromAsset).
		Str("to", toAsset).
		Str("from_amount", fromAmount.String()).
		Str("to_amount", toAmount.String()).
		Msg("swap executed")

	return &types.SwapResponse{
		SwapID:     swapID,
		FromAsset:  fromAsset,
		ToAsset:    toAsset,
		FromAmount: fromAmount,
		ToAmount:   toAmount,
		Rate:       rate,
		Timestamp:  time.Now(),
	}, nil
}
