package adapter

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/privaudit/internal/config"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/types"
)

// NativeAssetAddress is reported as the address of the native ETH balance
const NativeAssetAddress = "0x0000000000000000000000000000000000000000"

// maxDiscoveredTokens bounds balanceOf calls for addresses with long histories
const maxDiscoveredTokens = 50

// TreasurySource builds the asset list of one fetch strategy
type TreasurySource interface {
	Kind() types.DataSource
	// Discover lists the tokens to check. It is called once per fetch and
	// never fails; upstream problems shrink the list instead.
	Discover(ctx context.Context, owner common.Address) []config.TokenInfo
	// Collect reads and prices balances through reader. An error means the
	// endpoint behind reader is unusable and the next one should be tried.
	Collect(ctx context.Context, reader BalanceReader, owner common.Address, tokens []config.TokenInfo) ([]types.AssetBalance, error)
}

// SourceConfig holds the parameters shared by every source
type SourceConfig struct {
	Tokens            *config.TokenList
	MinAssetValueUSD  float64
	TokenRequestDelay time.Duration
}

func (c SourceConfig) withDefaults() SourceConfig {
	if c.Tokens == nil {
		c.Tokens = config.DefaultTokenList()
	}
	return c
}

// heldBalance is a non-zero raw balance waiting for a price
type heldBalance struct {
	token  config.TokenInfo
	native bool
	raw    *big.Int
}

var nativeETH = config.TokenInfo{Symbol: "ETH", Name: "Ethereum", Address: NativeAssetAddress, Decimals: 18, CoinGeckoID: "ethereum"}

func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// readBalances reads native ETH and then each token, paced by delay.
// A native balance failure aborts; token failures are logged and skipped.
func readBalances(ctx context.Context, reader BalanceReader, tokenReader func(context.Context, common.Address, common.Address) (*big.Int, error),
	owner common.Address, tokens []config.TokenInfo, delay time.Duration) ([]heldBalance, error) {

	logger := logging.FromContext(ctx)

	wei, err := reader.NativeBalance(ctx, owner)
	if err != nil {
		return nil, err
	}

	var held []heldBalance
	if wei.Sign() > 0 {
		held = append(held, heldBalance{token: nativeETH, native: true, raw: wei})
	}

	pacer := newPacer(delay)
	for _, tok := range tokens {
		if err := pacer.Wait(ctx); err != nil {
			return nil, err
		}

		bal, err := tokenReader(ctx, common.HexToAddress(tok.Address), owner)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.WithError(err).WithField("token", tok.Symbol).Warn("Token balance lookup failed, skipping")
			continue
		}
		if bal.Sign() > 0 {
			held = append(held, heldBalance{token: tok, raw: bal})
		}
	}
	return held, nil
}

// valueAssets prices held balances and drops those worth minUSD or less.
// priceFor returns the USD price of a holding, or false to drop it.
func valueAssets(ctx context.Context, held []heldBalance, minUSD float64, priceFor func(heldBalance) (float64, bool)) []types.AssetBalance {
	logger := logging.FromContext(ctx)
	floor := decimal.NewFromFloat(minUSD)
	assets := make([]types.AssetBalance, 0, len(held))

	for _, h := range held {
		price, ok := priceFor(h)
		if !ok {
			logger.WithField("token", h.token.Symbol).Warn("No price available, dropping asset")
			continue
		}

		value := decimal.NewFromBigInt(h.raw, int32(-h.token.Decimals)).Mul(decimal.NewFromFloat(price))
		if !value.GreaterThan(floor) {
			continue
		}

		asset := types.AssetBalance{
			Address:      h.token.Address,
			Symbol:       h.token.Symbol,
			Name:         h.token.Name,
			Balance:      h.raw.String(),
			Decimals:     h.token.Decimals,
			PriceUSD:     price,
			ValueUSD:     value.Round(2).InexactFloat64(),
			Type:         types.AssetTypeToken,
			ContractType: types.ContractERC20,
		}
		if h.native {
			asset.ContractType = types.ContractNative
		} else if strings.Contains(strings.ToUpper(h.token.Symbol), "LP") {
			asset.Type = types.AssetTypeLP
			asset.ContractType = types.ContractLP
		}
		assets = append(assets, asset)
	}
	return assets
}

// coinbaseAliases maps wrapped tokens onto the currency Coinbase quotes
var coinbaseAliases = map[string]string{
	"WETH": "ETH",
	"WBTC": "BTC",
}

func coinbaseCurrency(symbol string) string {
	if alias, ok := coinbaseAliases[symbol]; ok {
		return alias
	}
	return symbol
}

// SimpleSource reads native ETH plus the token allow-list. Token balances go
// through Etherscan when a key is configured and through balanceOf otherwise.
// ETH and non-stable tokens are priced via Coinbase; stablecoins use their peg.
type SimpleSource struct {
	cfg       SourceConfig
	etherscan *EtherscanClient
	prices    PriceProvider
}

// NewSimpleSource creates the simple strategy. etherscan may be nil.
func NewSimpleSource(cfg SourceConfig, etherscan *EtherscanClient, prices PriceProvider) *SimpleSource {
	return &SimpleSource{cfg: cfg.withDefaults(), etherscan: etherscan, prices: prices}
}

// Kind implements TreasurySource
func (s *SimpleSource) Kind() types.DataSource { return types.SourceSimple }

// Discover implements TreasurySource
func (s *SimpleSource) Discover(ctx context.Context, owner common.Address) []config.TokenInfo {
	return s.cfg.Tokens.Tokens
}

// Collect implements TreasurySource
func (s *SimpleSource) Collect(ctx context.Context, reader BalanceReader, owner common.Address, tokens []config.TokenInfo) ([]types.AssetBalance, error) {
	tokenReader := reader.TokenBalance
	if s.etherscan.HasAPIKey() {
		tokenReader = s.etherscan.TokenBalance
	}

	held, err := readBalances(ctx, reader, tokenReader, owner, tokens, s.cfg.TokenRequestDelay)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, h := range held {
		if h.token.PegUSD == 0 {
			ids = append(ids, coinbaseCurrency(h.token.Symbol))
		}
	}

	quotes := map[string]float64{}
	if len(ids) > 0 {
		if q, err := s.prices.USDPrices(ctx, ids); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Price lookup failed")
		} else {
			quotes = q
		}
	}

	return valueAssets(ctx, held, s.cfg.MinAssetValueUSD, func(h heldBalance) (float64, bool) {
		if h.token.PegUSD > 0 {
			return h.token.PegUSD, true
		}
		p, ok := quotes[coinbaseCurrency(h.token.Symbol)]
		return p, ok
	}), nil
}

// RealSource discovers every token the address has transferred through the
// Etherscan tokentx action, reads balances with balanceOf and prices them in
// one batched CoinGecko request.
type RealSource struct {
	cfg       SourceConfig
	etherscan *EtherscanClient
	prices    PriceProvider
}

// NewRealSource creates the real strategy. etherscan must carry an API key.
func NewRealSource(cfg SourceConfig, etherscan *EtherscanClient, prices PriceProvider) *RealSource {
	return &RealSource{cfg: cfg.withDefaults(), etherscan: etherscan, prices: prices}
}

// Kind implements TreasurySource
func (s *RealSource) Kind() types.DataSource { return types.SourceReal }

// Discover merges tokens seen in transfer history with the allow-list
func (s *RealSource) Discover(ctx context.Context, owner common.Address) []config.TokenInfo {
	logger := logging.FromContext(ctx)
	seen := make(map[string]bool)
	var tokens []config.TokenInfo

	transfers, err := s.etherscan.TokenTransfers(ctx, owner, 1000)
	if err != nil {
		logger.WithError(err).Warn("Token transfer discovery failed, using allow-list only")
	}
	for _, tr := range transfers {
		addr := strings.ToLower(tr.ContractAddress)
		if seen[addr] || tr.TokenSymbol == "" || tr.TokenName == "" || !ValidateAddress(tr.ContractAddress) {
			continue
		}
		if len(tokens) >= maxDiscoveredTokens {
			break
		}
		seen[addr] = true

		info, ok := s.cfg.Tokens.Lookup(tr.ContractAddress)
		if !ok {
			info = config.TokenInfo{
				Symbol:   strings.ToUpper(tr.TokenSymbol),
				Name:     tr.TokenName,
				Address:  tr.ContractAddress,
				Decimals: tr.Decimals(),
			}
		}
		tokens = append(tokens, info)
	}

	for _, tok := range s.cfg.Tokens.Tokens {
		if !seen[strings.ToLower(tok.Address)] {
			seen[strings.ToLower(tok.Address)] = true
			tokens = append(tokens, tok)
		}
	}

	logger.WithFields(logging.Fields{
		"transfers": len(transfers),
		"tokens":    len(tokens),
	}).Debug("Token discovery complete")
	return tokens
}

// Collect implements TreasurySource
func (s *RealSource) Collect(ctx context.Context, reader BalanceReader, owner common.Address, tokens []config.TokenInfo) ([]types.AssetBalance, error) {
	held, err := readBalances(ctx, reader, reader.TokenBalance, owner, tokens, s.cfg.TokenRequestDelay)
	if err != nil {
		return nil, err
	}
	if len(held) == 0 {
		return []types.AssetBalance{}, nil
	}

	idFor := func(h heldBalance) string {
		if h.token.CoinGeckoID != "" {
			return h.token.CoinGeckoID
		}
		return s.cfg.Tokens.CoinGeckoID(h.token.Symbol)
	}

	ids := make([]string, 0, len(held))
	for _, h := range held {
		ids = append(ids, idFor(h))
	}

	quotes, err := s.prices.USDPrices(ctx, ids)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Batched price lookup failed")
		quotes = map[string]float64{}
	}

	return valueAssets(ctx, held, s.cfg.MinAssetValueUSD, func(h heldBalance) (float64, bool) {
		p, ok := quotes[idFor(h)]
		return p, ok
	}), nil
}
