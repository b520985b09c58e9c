package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGecko_BatchesIDs(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "ethereum,usd-coin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		w.Write([]byte(`{"ethereum":{"usd":2000.5},"usd-coin":{"usd":1.0}}`))
	}))
	defer srv.Close()

	c := NewCoinGeckoClient(srv.URL, time.Second)
	prices, err := c.USDPrices(context.Background(), []string{"usd-coin", "ethereum", "usd-coin"})
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
	assert.Equal(t, 2000.5, prices["ethereum"])
	assert.Equal(t, 1.0, prices["usd-coin"])
}

func TestCoinGecko_EmptyIDsSkipsRequest(t *testing.T) {
	c := NewCoinGeckoClient("http://127.0.0.1:1", time.Second)
	prices, err := c.USDPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestCoinGecko_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewCoinGeckoClient(srv.URL, time.Second)
	_, err := c.USDPrices(context.Background(), []string{"ethereum"})
	require.Error(t, err)
	assert.True(t, IsRateLimitError(err))
}

func TestCoinbase_PerCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("currency") {
		case "ETH":
			w.Write([]byte(`{"data":{"currency":"ETH","rates":{"USD":"2000.00","EUR":"1800"}}}`))
		case "BTC":
			w.Write([]byte(`{"data":{"currency":"BTC","rates":{"EUR":"1"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewCoinbaseClient(srv.URL, time.Second)
	prices, err := c.USDPrices(context.Background(), []string{"ETH", "BTC", "NOPE"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ETH": 2000}, prices)
}

func TestCoinbase_AllFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCoinbaseClient(srv.URL, time.Second)
	_, err := c.USDPrices(context.Background(), []string{"ETH"})
	assert.Error(t, err)
}

type memPriceCache struct {
	mu     sync.Mutex
	quotes map[string]float64
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{quotes: make(map[string]float64)}
}

func (m *memPriceCache) GetPrice(ctx context.Context, source, id string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.quotes[source+":"+id]
	return p, ok, nil
}

func (m *memPriceCache) SetPrice(ctx context.Context, source, id string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[source+":"+id] = price
	return nil
}

func TestCachedPriceProvider(t *testing.T) {
	upstream := &mockPrices{quotes: map[string]float64{"ethereum": 2000, "usd-coin": 1}}
	cache := newMemPriceCache()
	p := NewCachedPriceProvider("coingecko", upstream, cache)

	prices, err := p.USDPrices(context.Background(), []string{"ethereum"})
	require.NoError(t, err)
	assert.Equal(t, 2000.0, prices["ethereum"])
	require.Len(t, upstream.asked, 1)

	// second call is served from cache, only the new id goes upstream
	prices, err = p.USDPrices(context.Background(), []string{"ethereum", "usd-coin"})
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	require.Len(t, upstream.asked, 2)
	assert.Equal(t, []string{"usd-coin"}, upstream.asked[1])

	// all cached
	_, err = p.USDPrices(context.Background(), []string{"usd-coin", "ethereum"})
	require.NoError(t, err)
	assert.Len(t, upstream.asked, 2)
}

func TestCachedPriceProvider_FallsBackToCachedQuotes(t *testing.T) {
	cache := newMemPriceCache()
	require.NoError(t, cache.SetPrice(context.Background(), "coinbase", "ETH", 1999))

	upstream := &mockPrices{err: errors.New("upstream down")}
	p := NewCachedPriceProvider("coinbase", upstream, cache)

	prices, err := p.USDPrices(context.Background(), []string{"ETH", "BTC"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ETH": 1999}, prices)

	_, err = p.USDPrices(context.Background(), []string{"BTC"})
	assert.Error(t, err)
}
