package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTokenList(t *testing.T) {
	list := DefaultTokenList()

	usdc, ok := list.Lookup("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.True(t, ok, "USDC should be found case-insensitively")
	assert.Equal(t, 6, usdc.Decimals)
	assert.Equal(t, 1.0, usdc.PegUSD)

	assert.Equal(t, "ethereum", list.CoinGeckoID("ETH"))
	assert.Equal(t, "matic-network", list.CoinGeckoID("matic"))
	assert.Equal(t, "uni", list.CoinGeckoID("UNI"), "unknown symbols fall back to lowercase")

	for _, tok := range list.Tokens {
		assert.Regexp(t, `^0x[a-fA-F0-9]{40}$`, tok.Address, tok.Symbol)
	}
}

func TestLoadTokenList(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		list, err := LoadTokenList("")
		require.NoError(t, err)
		assert.Len(t, list.Tokens, len(DefaultTokenList().Tokens))
	})

	t.Run("file overrides tokens and merges ids", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tokens.yaml")
		content := `
tokens:
  - symbol: uni
    address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"
    decimals: 18
    coingecko_id: uniswap
coingecko_ids:
  LINK: chainlink
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		list, err := LoadTokenList(path)
		require.NoError(t, err)
		require.Len(t, list.Tokens, 1)
		assert.Equal(t, "UNI", list.Tokens[0].Symbol)
		assert.Equal(t, "UNI", list.Tokens[0].Name)
		assert.Equal(t, "uniswap", list.CoinGeckoID("UNI"))
		assert.Equal(t, "chainlink", list.CoinGeckoID("LINK"))
		assert.Equal(t, "usd-coin", list.CoinGeckoID("USDC"))
	})

	t.Run("invalid address is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tokens.yaml")
		content := "tokens:\n  - symbol: BAD\n    address: \"0x123\"\n    decimals: 18\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := LoadTokenList(path)
		assert.Error(t, err)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := LoadTokenList(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
