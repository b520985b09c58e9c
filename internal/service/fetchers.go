package service

import (
	"context"
	"strings"
	"sync"

	"github.com/privaudit/internal/adapter"
	"github.com/privaudit/internal/config"
	apperrors "github.com/privaudit/internal/errors"
	"github.com/privaudit/internal/types"
)

// chainIDs maps NETWORK values onto Etherscan v2 chain ids
var chainIDs = map[string]int{
	"ethereum": 1,
	"mainnet":  1,
	"sepolia":  11155111,
	"holesky":  17000,
}

// SnapshotFetcher builds a treasury snapshot for one address
type SnapshotFetcher interface {
	Kind() types.DataSource
	FetchSnapshot(ctx context.Context, daoAddress string) (*types.TreasurySnapshot, error)
}

// FetcherFactory returns the fetcher for a data source. etherscanKey
// overrides the configured key when non-empty.
type FetcherFactory interface {
	Fetcher(source types.DataSource, etherscanKey string) (SnapshotFetcher, error)
}

// ChainFetchers builds failover fetchers over two process-wide RPC pools, one
// per strategy. Endpoint cooldowns are therefore shared across requests.
type ChainFetchers struct {
	chain      config.ChainConfig
	etherscan  config.EtherscanConfig
	tokens     *config.TokenList
	simplePool *adapter.RPCPool
	realPool   *adapter.RPCPool

	simplePrices adapter.PriceProvider
	realPrices   adapter.PriceProvider

	mu        sync.Mutex
	explorers map[string]*adapter.EtherscanClient
}

// NewChainFetchers creates the pools and price providers. cache may be nil,
// in which case quotes are fetched on every request.
func NewChainFetchers(cfg *config.Config, tokens *config.TokenList, cache adapter.PriceCache) (*ChainFetchers, error) {
	simplePool, err := adapter.NewRPCPool(&adapter.RPCPoolConfig{
		Endpoints:    cfg.Chain.SimpleRPCEndpoints,
		CooldownTime: cfg.Chain.CooldownTime,
	})
	if err != nil {
		return nil, err
	}
	realPool, err := adapter.NewRPCPool(&adapter.RPCPoolConfig{
		Endpoints:    cfg.Chain.RealRPCEndpoints,
		CooldownTime: cfg.Chain.CooldownTime,
	})
	if err != nil {
		simplePool.Close()
		return nil, err
	}
	return newChainFetchers(cfg, tokens, cache, simplePool, realPool), nil
}

func newChainFetchers(cfg *config.Config, tokens *config.TokenList, cache adapter.PriceCache, simplePool, realPool *adapter.RPCPool) *ChainFetchers {
	if tokens == nil {
		tokens = config.DefaultTokenList()
	}

	var simplePrices adapter.PriceProvider = adapter.NewCoinbaseClient(cfg.Pricing.CoinbaseURL, cfg.Chain.CallTimeout)
	var realPrices adapter.PriceProvider = adapter.NewCoinGeckoClient(cfg.Pricing.CoinGeckoURL, cfg.Chain.CallTimeout)
	if cache != nil {
		simplePrices = adapter.NewCachedPriceProvider("coinbase", simplePrices, cache)
		realPrices = adapter.NewCachedPriceProvider("coingecko", realPrices, cache)
	}

	return &ChainFetchers{
		chain:        cfg.Chain,
		etherscan:    cfg.Etherscan,
		tokens:       tokens,
		simplePool:   simplePool,
		realPool:     realPool,
		simplePrices: simplePrices,
		realPrices:   realPrices,
		explorers:    make(map[string]*adapter.EtherscanClient),
	}
}

// Fetcher implements FetcherFactory
func (f *ChainFetchers) Fetcher(source types.DataSource, etherscanKey string) (SnapshotFetcher, error) {
	key := strings.TrimSpace(etherscanKey)
	if key == "" {
		key = f.etherscan.APIKey
	}

	srcCfg := adapter.SourceConfig{
		Tokens:            f.tokens,
		MinAssetValueUSD:  f.chain.MinAssetValueUSD,
		TokenRequestDelay: f.chain.TokenRequestDelay,
	}
	fetchCfg := adapter.FetcherConfig{
		CallTimeout: f.chain.CallTimeout,
		Network:     f.chain.Network,
	}

	switch source {
	case types.SourceSimple:
		src := adapter.NewSimpleSource(srcCfg, f.explorer(key), f.simplePrices)
		return adapter.NewFailoverFetcher(f.simplePool, src, fetchCfg), nil
	case types.SourceReal:
		if key == "" {
			return nil, apperrors.NewMissingAPIKeyError("etherscan").
				WithSuggestions("Pass etherscanApiKey in the request body or set ETHERSCAN_API_KEY")
		}
		src := adapter.NewRealSource(srcCfg, f.explorer(key), f.realPrices)
		return adapter.NewFailoverFetcher(f.realPool, src, fetchCfg), nil
	default:
		return nil, apperrors.NewInvalidParameterError("dataSource", "must be simple or real")
	}
}

// explorer returns one client per key so calls made with the same key share
// a rate limiter
func (f *ChainFetchers) explorer(key string) *adapter.EtherscanClient {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.explorers[key]; ok {
		return c
	}
	c := adapter.NewEtherscanClient(adapter.EtherscanClientConfig{
		APIKey:            key,
		BaseURL:           f.etherscan.BaseURL,
		ChainID:           chainIDs[strings.ToLower(f.chain.Network)],
		RequestsPerSecond: f.etherscan.RequestsPerSecond,
		Timeout:           f.chain.CallTimeout * 2,
	})
	f.explorers[key] = c
	return c
}

// Status reports the endpoint health of both pools
func (f *ChainFetchers) Status() map[types.DataSource][]adapter.EndpointStatus {
	return map[types.DataSource][]adapter.EndpointStatus{
		types.SourceSimple: f.simplePool.Status(),
		types.SourceReal:   f.realPool.Status(),
	}
}

// Close releases every pooled RPC connection
func (f *ChainFetchers) Close() {
	f.simplePool.Close()
	f.realPool.Close()
}
