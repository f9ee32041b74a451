package pricing

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CachedSource wraps another Source with a short-lived redis cache so a
// burst of matching passes does not hammer the upstream oracle. Cache
// failures fall through to the upstream; a stale quote beats no quote only
// within the TTL.
type CachedSource struct {
	upstream Source
	rdb      *redis.Client
	ttl      time.Duration
}

func NewCachedSource(upstream Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedSource{upstream: upstream, rdb: rdb, ttl: ttl}
}

func (s *CachedSource) GetPrice(asset string) (Quote, error) {
	ctx := context.Background()
	key := "price:cad:" + asset

	if raw, err := s.rdb.Get(ctx, key).Result(); err == nil {
		if price, perr := decimal.NewFromString(raw); perr == nil {
			return Quote{Asset: asset, CADPrice: price}, nil
		}
	}

	quote, err := s.upstream.GetPrice(asset)
	if err != nil {
		return Quote{}, err
	}

	if err := s.rdb.Set(ctx, key, quote.CADPrice.String(), s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("asset", asset).Msg("failed to cache price quote")
	}
	return quote, nil
}
