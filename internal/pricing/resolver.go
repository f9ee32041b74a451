package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/peerex/peerex-core/internal/types"
)

var hundred = decimal.NewFromInt(100)

// Resolver turns orders into effective prices. Market orders take the
// oracle price adjusted by the platform spread (buyers pay above market,
// sellers receive below); fixed orders use their stored price; premium
// orders scale the oracle price by their premium percent.
type Resolver struct {
	source        Source
	spreadPercent decimal.Decimal
}

func NewResolver(source Source, spreadPercent decimal.Decimal) *Resolver {
	return &Resolver{source: source, spreadPercent: spreadPercent}
}

// EffectivePrice resolves the price bound for an order.
func (r *Resolver) EffectivePrice(order *types.Order) (decimal.Decimal, error) {
	if order.PriceType == types.PriceTypeFixed && !order.FixedPrice.IsZero() {
		return order.FixedPrice, nil
	}

	quote, err := r.source.GetPrice(order.Asset)
	if err != nil {
		return decimal.Zero, err
	}

	if !order.PremiumPercent.IsZero() {
		factor := decimal.NewFromInt(1).Add(order.PremiumPercent.Div(hundred))
		return quote.CADPrice.Mul(factor), nil
	}

	spread := quote.CADPrice.Mul(r.spreadPercent).Div(hundred)
	if order.Side == types.SideBuy {
		return quote.CADPrice.Add(spread), nil
	}
	return quote.CADPrice.Sub(spread), nil
}

// MarketPrice returns the raw oracle price for an asset.
func (r *Resolver) MarketPrice(asset string) (decimal.Decimal, error) {
	quote, err := r.source.GetPrice(asset)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.CADPrice, nil
}
