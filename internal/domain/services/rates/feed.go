package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/payout-service/payout_service/internal/domain/entities"
	"github.com/payout-service/payout_service/internal/infrastructure/config"
	"github.com/payout-service/payout_service/pkg/logger"
	"github.com/payout-service/payout_service/pkg/retry"
)

// HTTPFeed fetches spot rates from a CryptoCompare-style price API
// (GET /data/price?fsym=X&tsyms=Y returning {"Y": rate}).
type HTTPFeed struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	retrier *retry.Retrier
	logger  *logger.Logger
}

// NewHTTPFeed creates a price feed client
func NewHTTPFeed(cfg config.RatesConfig, log *logger.Logger) *HTTPFeed {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "price-feed",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 4
		},
	})

	// Rate lookups are pure reads, safe to retry
	retrier := retry.NewRetrier(retry.Policy{
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}, log.Zap())

	return &HTTPFeed{
		baseURL: cfg.FeedURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		retrier: retrier,
		logger:  log,
	}
}

// GetRate returns the current from -> to exchange rate
func (f *HTTPFeed) GetRate(ctx context.Context, from, to entities.Currency) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := f.retrier.Do(ctx, func() error {
		result, err := f.breaker.Execute(func() (interface{}, error) {
			return f.fetch(ctx, from, to)
		})
		if err != nil {
			return err
		}
		rate = result.(decimal.Decimal)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return rate, nil
}

func (f *HTTPFeed) fetch(ctx context.Context, from, to entities.Currency) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/data/price?fsym=%s&tsyms=%s",
		f.baseURL, url.QueryEscape(string(from)), url.QueryEscape(string(to)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build rate request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Apikey "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate feed returned status %d", resp.StatusCode)
	}

	var body map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode rate response: %w", err)
	}

	raw, ok := body[string(to)]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate feed response missing %s", to)
	}

	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate %q: %w", raw.String(), err)
	}

	return rate, nil
}
