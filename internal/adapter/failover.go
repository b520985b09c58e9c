package adapter

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/privaudit/internal/config"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/types"
)

// FetcherConfig configures a FailoverFetcher
type FetcherConfig struct {
	CallTimeout time.Duration
	Network     string
}

// FailoverFetcher walks the RPC pool in order until one endpoint produces a
// non-empty asset list. Endpoints are tried sequentially, never raced.
type FailoverFetcher struct {
	pool        *RPCPool
	source      TreasurySource
	callTimeout time.Duration
	network     string
	now         func() time.Time
}

// NewFailoverFetcher creates a fetcher for one source strategy
func NewFailoverFetcher(pool *RPCPool, source TreasurySource, cfg FetcherConfig) *FailoverFetcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Network == "" {
		cfg.Network = "ethereum"
	}
	return &FailoverFetcher{
		pool:        pool,
		source:      source,
		callTimeout: cfg.CallTimeout,
		network:     cfg.Network,
		now:         time.Now,
	}
}

// Kind returns the data source this fetcher produces
func (f *FailoverFetcher) Kind() types.DataSource {
	return f.source.Kind()
}

// FetchSnapshot builds a snapshot for daoAddress.
//
// An endpoint that errors is skipped. An endpoint that succeeds with no
// assets is remembered and the next one is tried. If every endpoint is
// exhausted, an empty snapshot is returned when at least one succeeded;
// otherwise a *FetchError aggregates every attempt.
func (f *FailoverFetcher) FetchSnapshot(ctx context.Context, daoAddress string) (*types.TreasurySnapshot, error) {
	if !ValidateAddress(daoAddress) {
		return nil, NewAdapterError("fetcher", "FetchSnapshot", ErrInvalidAddress, map[string]interface{}{
			"address": daoAddress,
		})
	}

	logger := logging.FromContext(ctx).WithFields(logging.Fields{
		"dao":    daoAddress,
		"source": f.source.Kind(),
	})
	ctx = logging.WithLogger(ctx, logger)

	owner := common.HexToAddress(daoAddress)
	tokens := f.source.Discover(ctx, owner)

	endpoints := f.pool.Endpoints()
	var attempts []AttemptError
	succeededEmpty := false

	for _, idx := range f.pool.Order() {
		endpoint := endpoints[idx]
		if ctx.Err() != nil {
			attempts = append(attempts, AttemptError{Endpoint: endpoint, Err: ctx.Err()})
			break
		}

		assets, err := f.tryEndpoint(ctx, idx, endpoint, owner, tokens)
		if err != nil {
			if IsRateLimitError(err) {
				f.pool.MarkRateLimited(idx)
			}
			logger.WithError(err).WithField("endpoint", endpoint).Warn("RPC endpoint failed, trying next")
			attempts = append(attempts, AttemptError{Endpoint: endpoint, Err: err})
			continue
		}

		if len(assets) == 0 {
			logger.WithField("endpoint", endpoint).Info("RPC endpoint returned no assets, trying next")
			succeededEmpty = true
			continue
		}

		logger.WithFields(logging.Fields{
			"endpoint": endpoint,
			"assets":   len(assets),
		}).Info("Treasury snapshot fetched")
		return f.snapshot(daoAddress, assets), nil
	}

	if succeededEmpty {
		return f.snapshot(daoAddress, []types.AssetBalance{}), nil
	}
	return nil, &FetchError{Attempts: attempts}
}

func (f *FailoverFetcher) tryEndpoint(ctx context.Context, idx int, endpoint string, owner common.Address, tokens []config.TokenInfo) ([]types.AssetBalance, error) {
	caller, err := f.pool.Client(ctx, idx)
	if err != nil {
		return nil, err
	}
	reader := NewRPCClient(caller, endpoint, f.callTimeout)
	return f.source.Collect(ctx, reader, owner, tokens)
}

func (f *FailoverFetcher) snapshot(daoAddress string, assets []types.AssetBalance) *types.TreasurySnapshot {
	total := decimal.Zero
	for _, a := range assets {
		total = total.Add(decimal.NewFromFloat(a.ValueUSD))
	}
	return &types.TreasurySnapshot{
		DAOAddress:    daoAddress,
		Timestamp:     f.now().UnixMilli(),
		Assets:        assets,
		Liabilities:   []types.LiabilityBalance{},
		TotalValueUSD: total.Round(2).InexactFloat64(),
		Network:       f.network,
		DataSource:    f.source.Kind(),
	}
}
