// Package pricing resolves the effective prices used for matching: the
// oracle market price adjusted by the platform spread, or a user's fixed
// price or premium.
package pricing

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable means no market price could be resolved for an
// asset. The affected order or quote fails cleanly, with no partial state.
var ErrPriceUnavailable error = priceUnavailableError{}

type priceUnavailableError struct{}

func (priceUnavailableError) Error() string { return "price unavailable" }

// API mapping consumed by pkg/response.
func (priceUnavailableError) APIStatus() int     { return 503 }
func (priceUnavailableError) APICode() string    { return "PRICE_UNAVAILABLE" }
func (priceUnavailableError) APIMessage() string { return "Unable to fetch price" }

// Quote is the oracle's answer for one asset, denominated in CAD.
type Quote struct {
	Asset    string          `json:"asset"`
	CADPrice decimal.Decimal `json:"cad_price"`
}

// Source is the consumed interface of the price oracle collaborator.
type Source interface {
	GetPrice(asset string) (Quote, error)
}

// FixedSource serves prices from an in-memory table. Used in development,
// simulation and tests where a stable quote matters more than a live one.
type FixedSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewFixedSource(prices map[string]decimal.Decimal) *FixedSource {
	cp := make(map[string]decimal.Decimal, len(prices))
	for asset, price := range prices {
		cp[asset] = price
	}
	return &FixedSource{prices: cp}
}

func (s *FixedSource) GetPrice(asset string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[asset]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
	}
	return Quote{Asset: asset, CADPrice: price}, nil
}

// SetPrice updates one asset's quote.
func (s *FixedSource) SetPrice(asset string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset] = price
}
