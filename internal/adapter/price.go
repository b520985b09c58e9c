package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/privaudit/internal/logging"
)

// PriceProvider returns USD prices keyed by the ids it was asked for.
// Ids it cannot price are absent from the result.
type PriceProvider interface {
	USDPrices(ctx context.Context, ids []string) (map[string]float64, error)
}

// PriceCache stores recent quotes. Implementations must treat a miss as
// (0, false, nil).
type PriceCache interface {
	GetPrice(ctx context.Context, source, id string) (float64, bool, error)
	SetPrice(ctx context.Context, source, id string, price float64) error
}

// CoinGeckoClient prices tokens through the CoinGecko simple/price API
type CoinGeckoClient struct {
	baseURL string
	client  *http.Client
}

// NewCoinGeckoClient creates a CoinGecko client
func NewCoinGeckoClient(baseURL string, timeout time.Duration) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CoinGeckoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// USDPrices fetches every id in a single batched request
func (c *CoinGeckoClient) USDPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd",
		c.baseURL, url.QueryEscape(strings.Join(ids, ",")))

	var body map[string]map[string]float64
	if err := getJSON(ctx, c.client, endpoint, &body); err != nil {
		return nil, NewAdapterError("coingecko", "simple/price", err, map[string]interface{}{
			"ids": len(ids),
		})
	}

	prices := make(map[string]float64, len(body))
	for id, quote := range body {
		if usd, ok := quote["usd"]; ok && usd > 0 {
			prices[id] = usd
		}
	}
	return prices, nil
}

// CoinbaseClient prices currencies through the Coinbase exchange-rates API.
// Ids are currency codes such as "ETH".
type CoinbaseClient struct {
	baseURL string
	client  *http.Client
}

// NewCoinbaseClient creates a Coinbase client
func NewCoinbaseClient(baseURL string, timeout time.Duration) *CoinbaseClient {
	if baseURL == "" {
		baseURL = "https://api.coinbase.com/v2"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CoinbaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type coinbaseRates struct {
	Data struct {
		Currency string            `json:"currency"`
		Rates    map[string]string `json:"rates"`
	} `json:"data"`
}

// USDPrices issues one request per currency. Individual failures are logged
// and omitted; an error is returned only when nothing could be priced.
func (c *CoinbaseClient) USDPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	prices := make(map[string]float64)
	var lastErr error

	for _, id := range dedupe(ids) {
		price, err := c.spot(ctx, id)
		if err != nil {
			lastErr = err
			logging.FromContext(ctx).WithError(err).WithField("currency", id).Warn("Coinbase price lookup failed")
			continue
		}
		prices[id] = price
	}

	if len(prices) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return prices, nil
}

func (c *CoinbaseClient) spot(ctx context.Context, currency string) (float64, error) {
	endpoint := fmt.Sprintf("%s/exchange-rates?currency=%s", c.baseURL, url.QueryEscape(strings.ToUpper(currency)))

	var body coinbaseRates
	if err := getJSON(ctx, c.client, endpoint, &body); err != nil {
		return 0, NewAdapterError("coinbase", "exchange-rates", err, nil)
	}

	raw, ok := body.Data.Rates["USD"]
	if !ok {
		return 0, NewAdapterError("coinbase", "exchange-rates", fmt.Errorf("no USD rate for %s", currency), nil)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price <= 0 {
		return 0, NewAdapterError("coinbase", "exchange-rates", fmt.Errorf("invalid USD rate %q", raw), nil)
	}
	return price, nil
}

// CachedPriceProvider consults a PriceCache before the wrapped provider.
// Cache errors are logged and treated as misses.
type CachedPriceProvider struct {
	name     string
	provider PriceProvider
	cache    PriceCache
}

// NewCachedPriceProvider wraps provider with cache under the given source name
func NewCachedPriceProvider(name string, provider PriceProvider, cache PriceCache) *CachedPriceProvider {
	return &CachedPriceProvider{name: name, provider: provider, cache: cache}
}

// USDPrices implements PriceProvider
func (p *CachedPriceProvider) USDPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	logger := logging.FromContext(ctx)
	prices := make(map[string]float64, len(ids))
	var missing []string

	for _, id := range dedupe(ids) {
		price, ok, err := p.cache.GetPrice(ctx, p.name, id)
		if err != nil {
			logger.WithError(err).Debug("Price cache read failed")
		}
		if ok {
			prices[id] = price
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return prices, nil
	}

	fresh, err := p.provider.USDPrices(ctx, missing)
	if err != nil {
		if len(prices) > 0 {
			logger.WithError(err).Warn("Price refresh failed, using cached quotes only")
			return prices, nil
		}
		return nil, err
	}

	for id, price := range fresh {
		prices[id] = price
		if err := p.cache.SetPrice(ctx, p.name, id, price); err != nil {
			logger.WithError(err).Debug("Price cache write failed")
		}
	}
	return prices, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
