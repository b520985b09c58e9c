// Package metrics reduces a treasury snapshot to aggregate financial figures.
package metrics

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/privaudit/internal/types"
)

// DefaultBurnFraction is the share of total assets assumed spent per month
const DefaultBurnFraction = 0.10

var stablecoins = map[string]bool{
	"USDC": true, "USDT": true, "DAI": true, "BUSD": true,
	"TUSD": true, "USDP": true, "FRAX": true, "LUSD": true,
}

var majors = map[string]bool{
	"ETH": true, "BTC": true, "WBTC": true, "WETH": true, "STETH": true, "CBETH": true,
}

// Category is the diversification bucket of a single asset
type Category int

const (
	CategoryStablecoin Category = iota
	CategoryCrypto
	CategoryNFT
	CategoryLP
	CategoryOther
)

// Classify returns the bucket of an asset. Buckets are checked in order, so
// an LP token whose symbol is also a stablecoin counts as a stablecoin.
func Classify(a types.AssetBalance) Category {
	symbol := strings.ToUpper(a.Symbol)
	switch {
	case stablecoins[symbol]:
		return CategoryStablecoin
	case majors[symbol]:
		return CategoryCrypto
	case a.Type == types.AssetTypeNFT:
		return CategoryNFT
	case a.Type == types.AssetTypeLP || strings.Contains(symbol, "LP"):
		return CategoryLP
	default:
		return CategoryOther
	}
}

// Calculator computes TreasuryMetrics. It holds no state besides its
// configuration and is safe for concurrent use.
type Calculator struct {
	burnFraction decimal.Decimal
}

// NewCalculator creates a calculator. A burn fraction outside (0, 1] is
// replaced by DefaultBurnFraction.
func NewCalculator(burnFraction float64) *Calculator {
	if burnFraction <= 0 || burnFraction > 1 {
		burnFraction = DefaultBurnFraction
	}
	return &Calculator{burnFraction: decimal.NewFromFloat(burnFraction)}
}

// Calculate derives the metrics of snap. An empty snapshot yields all-zero
// figures and low risk flags.
func (c *Calculator) Calculate(snap *types.TreasurySnapshot) types.TreasuryMetrics {
	assets := decimal.Zero
	for _, a := range snap.Assets {
		assets = assets.Add(decimal.NewFromFloat(a.ValueUSD))
	}
	liabilities := decimal.Zero
	for _, l := range snap.Liabilities {
		liabilities = liabilities.Add(decimal.NewFromFloat(l.ValueUSD))
	}

	m := types.TreasuryMetrics{
		TotalAssets:      assets.InexactFloat64(),
		TotalLiabilities: liabilities.InexactFloat64(),
		NetWorth:         assets.Sub(liabilities).InexactFloat64(),
	}

	m.AssetDiversification = diversification(snap.Assets, assets)
	m.RiskMetrics = types.RiskMetrics{
		ConcentrationRisk: concentrationRisk(snap.Assets, assets),
		VolatilityRisk:    volatilityRisk(m.AssetDiversification.Crypto),
		LiquidityRisk:     types.RiskLow,
		CounterpartyRisk:  counterpartyRisk(len(snap.Assets)),
	}
	m.RunwayMonths = c.runway(assets)

	if liabilities.IsPositive() {
		ratio := assets.Div(liabilities).Round(2).InexactFloat64()
		m.SolvencyRatio = &ratio
	} else {
		m.SolvencyRatioUnbounded = true
	}
	return m
}

func (c *Calculator) runway(total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	monthly := c.burnFraction.Mul(total)
	return total.Div(monthly).Round(1).InexactFloat64()
}

func diversification(assets []types.AssetBalance, total decimal.Decimal) types.AssetDiversification {
	var d types.AssetDiversification
	if !total.IsPositive() {
		return d
	}

	buckets := make([]decimal.Decimal, CategoryOther+1)
	for _, a := range assets {
		cat := Classify(a)
		buckets[cat] = buckets[cat].Add(decimal.NewFromFloat(a.ValueUSD))
	}

	hundred := decimal.NewFromInt(100)
	pct := func(c Category) float64 {
		return buckets[c].Div(total).Mul(hundred).InexactFloat64()
	}
	d.Stablecoins = pct(CategoryStablecoin)
	d.Crypto = pct(CategoryCrypto)
	d.NFTs = pct(CategoryNFT)
	d.LPTokens = pct(CategoryLP)
	d.Other = pct(CategoryOther)
	return d
}

func concentrationRisk(assets []types.AssetBalance, total decimal.Decimal) types.RiskLevel {
	if !total.IsPositive() {
		return types.RiskLow
	}
	largest := decimal.Zero
	for _, a := range assets {
		if v := decimal.NewFromFloat(a.ValueUSD); v.GreaterThan(largest) {
			largest = v
		}
	}
	share := largest.Div(total)
	switch {
	case share.GreaterThan(decimal.NewFromFloat(0.5)):
		return types.RiskHigh
	case share.GreaterThan(decimal.NewFromFloat(0.25)):
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

func volatilityRisk(cryptoPct float64) types.RiskLevel {
	switch {
	case cryptoPct > 70:
		return types.RiskHigh
	case cryptoPct > 30:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

// counterpartyRisk falls as the number of distinct holdings grows. An empty
// treasury has no counterparty exposure at all.
func counterpartyRisk(count int) types.RiskLevel {
	switch {
	case count == 0:
		return types.RiskLow
	case count > 10:
		return types.RiskLow
	case count > 5:
		return types.RiskMedium
	default:
		return types.RiskHigh
	}
}
