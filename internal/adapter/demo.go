package adapter

import (
	"time"

	"github.com/privaudit/internal/types"
)

// DemoSnapshot returns the fixed demonstration treasury: 1,000,000 USDC and
// 500 ETH at $2,000, with 200,000 USDC of outstanding debt.
//
// It is only ever used when a caller explicitly opts into demo data, and the
// snapshot is always tagged with the given data source.
func DemoSnapshot(daoAddress string, source types.DataSource, now time.Time) *types.TreasurySnapshot {
	assets := []types.AssetBalance{
		{
			Address:      "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Symbol:       "USDC",
			Name:         "USD Coin",
			Balance:      "1000000000000",
			Decimals:     6,
			PriceUSD:     1,
			ValueUSD:     1_000_000,
			Type:         types.AssetTypeToken,
			ContractType: types.ContractERC20,
		},
		{
			Address:      NativeAssetAddress,
			Symbol:       "ETH",
			Name:         "Ethereum",
			Balance:      "500000000000000000000",
			Decimals:     18,
			PriceUSD:     2000,
			ValueUSD:     1_000_000,
			Type:         types.AssetTypeToken,
			ContractType: types.ContractNative,
		},
	}

	liabilities := []types.LiabilityBalance{
		{
			Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Symbol:   "USDC",
			Name:     "USD Coin Loan",
			Balance:  "200000000000",
			Decimals: 6,
			ValueUSD: 200_000,
			Type:     types.LiabilityDebt,
		},
	}

	return &types.TreasurySnapshot{
		DAOAddress:    daoAddress,
		Timestamp:     now.UnixMilli(),
		Assets:        assets,
		Liabilities:   liabilities,
		TotalValueUSD: 2_000_000,
		Network:       "ethereum",
		DataSource:    source,
	}
}
