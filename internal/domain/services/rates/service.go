// Package rates converts amounts between currencies against a live price
// feed. Rates are short-lived: they are cached briefly to absorb bursts but
// never persisted, so every settlement attempt prices at current conditions.
package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payout-service/payout_service/internal/domain/entities"
	domainerrors "github.com/payout-service/payout_service/internal/domain/errors"
	"github.com/payout-service/payout_service/internal/infrastructure/cache"
	"github.com/payout-service/payout_service/pkg/logger"
	"github.com/payout-service/payout_service/pkg/metrics"
)

// PriceFeed fetches the current exchange rate between two currencies
type PriceFeed interface {
	GetRate(ctx context.Context, from, to entities.Currency) (decimal.Decimal, error)
}

// Converter converts amounts between currencies
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to entities.Currency) (decimal.Decimal, error)
}

// Service implements Converter over a price feed with a Redis cache
type Service struct {
	feed     PriceFeed
	cache    cache.RedisClient
	cacheTTL time.Duration
	logger   *logger.Logger
}

// NewService creates a new rate conversion service
func NewService(feed PriceFeed, redisClient cache.RedisClient, cacheTTL time.Duration, log *logger.Logger) *Service {
	return &Service{
		feed:     feed,
		cache:    redisClient,
		cacheTTL: cacheTTL,
		logger:   log,
	}
}

// Convert converts amount from one currency to another at the current rate.
// Same-currency conversion is an exact pass-through and never touches the
// feed. Any feed failure surfaces as CONVERSION_UNAVAILABLE.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to entities.Currency) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	rate, err := s.getRate(ctx, from, to)
	if err != nil {
		s.logger.Warn("rate lookup failed",
			"from", from, "to", to, "error", err)
		return decimal.Zero, domainerrors.ConversionUnavailableError(string(from), string(to), err)
	}

	if !rate.IsPositive() {
		return decimal.Zero, domainerrors.ConversionUnavailableError(string(from), string(to),
			fmt.Errorf("feed returned non-positive rate %s", rate))
	}

	return amount.Mul(rate), nil
}

func (s *Service) getRate(ctx context.Context, from, to entities.Currency) (decimal.Decimal, error) {
	key := fmt.Sprintf("rate:%s:%s", from, to)

	if s.cache != nil {
		var cached string
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if rate, perr := decimal.NewFromString(cached); perr == nil {
				metrics.RateCacheHits.WithLabelValues("hit").Inc()
				return rate, nil
			}
		}
		metrics.RateCacheHits.WithLabelValues("miss").Inc()
	}

	rate, err := s.feed.GetRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, rate.String(), s.cacheTTL); err != nil {
			s.logger.Debug("rate cache write failed", "key", key, "error", err)
		}
	}

	return rate, nil
}
