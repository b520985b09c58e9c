package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privaudit/internal/config"
	"github.com/privaudit/internal/types"
)

func testConfig(etherscanKey string) *config.Config {
	return &config.Config{
		Chain: config.ChainConfig{
			Network:            "ethereum",
			SimpleRPCEndpoints: []string{"https://simple-1", "https://simple-2"},
			RealRPCEndpoints:   []string{"https://real-1"},
			CallTimeout:        time.Second,
			CooldownTime:       time.Minute,
		},
		Etherscan: config.EtherscanConfig{APIKey: etherscanKey, BaseURL: "https://etherscan.invalid/api"},
		Pricing:   config.PricingConfig{CoinGeckoURL: "https://coingecko.invalid", CoinbaseURL: "https://coinbase.invalid"},
	}
}

func TestChainFetchers_Sources(t *testing.T) {
	f, err := NewChainFetchers(testConfig(""), nil, nil)
	require.NoError(t, err)
	defer f.Close()

	simple, err := f.Fetcher(types.SourceSimple, "")
	require.NoError(t, err)
	assert.Equal(t, types.SourceSimple, simple.Kind())

	_, err = f.Fetcher(types.SourceReal, "")
	requireCategorized(t, err, 400, "MISSING_API_KEY")

	realFetcher, err := f.Fetcher(types.SourceReal, "body-key")
	require.NoError(t, err)
	assert.Equal(t, types.SourceReal, realFetcher.Kind())

	_, err = f.Fetcher(types.SourceFallbackDemo, "")
	requireCategorized(t, err, 400, "INVALID_PARAMETER")
}

func TestChainFetchers_ConfiguredKey(t *testing.T) {
	f, err := NewChainFetchers(testConfig("env-key"), nil, newTestCache(t))
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Fetcher(types.SourceReal, "  ")
	require.NoError(t, err)
	assert.True(t, f.explorer("env-key").HasAPIKey())
}

func TestChainFetchers_ExplorerPerKey(t *testing.T) {
	f, err := NewChainFetchers(testConfig(""), nil, nil)
	require.NoError(t, err)
	defer f.Close()

	a := f.explorer("a")
	assert.Same(t, a, f.explorer("a"))
	assert.NotSame(t, a, f.explorer("b"))
	assert.False(t, f.explorer("").HasAPIKey())
}

func TestChainFetchers_Status(t *testing.T) {
	f, err := NewChainFetchers(testConfig(""), nil, nil)
	require.NoError(t, err)
	defer f.Close()

	status := f.Status()
	require.Len(t, status[types.SourceSimple], 2)
	require.Len(t, status[types.SourceReal], 1)
	assert.Equal(t, "https://simple-1", status[types.SourceSimple][0].URL)
	assert.False(t, status[types.SourceSimple][0].Connected)
}

func TestNewChainFetchers_NoEndpoints(t *testing.T) {
	cfg := testConfig("")
	cfg.Chain.RealRPCEndpoints = nil
	_, err := NewChainFetchers(cfg, nil, nil)
	assert.Error(t, err)
}
