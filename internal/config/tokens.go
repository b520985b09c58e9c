package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// TokenInfo describes an ERC-20 token on the allow-list
type TokenInfo struct {
	Symbol      string  `yaml:"symbol"`
	Name        string  `yaml:"name"`
	Address     string  `yaml:"address"`
	Decimals    int     `yaml:"decimals"`
	CoinGeckoID string  `yaml:"coingecko_id"`
	PegUSD      float64 `yaml:"peg_usd"` // Non-zero for stablecoins priced without an oracle
}

// TokenList is the set of tokens every snapshot checks, plus the symbol map
// used to resolve CoinGecko ids for discovered tokens.
type TokenList struct {
	Tokens       []TokenInfo       `yaml:"tokens"`
	CoinGeckoIDs map[string]string `yaml:"coingecko_ids"`
}

var tokenAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// DefaultTokenList returns the built-in Ethereum mainnet allow-list
func DefaultTokenList() *TokenList {
	return &TokenList{
		Tokens: []TokenInfo{
			{Symbol: "USDC", Name: "USD Coin", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6, CoinGeckoID: "usd-coin", PegUSD: 1},
			{Symbol: "USDT", Name: "Tether", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6, CoinGeckoID: "tether", PegUSD: 1},
			{Symbol: "DAI", Name: "Dai Stablecoin", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18, CoinGeckoID: "dai", PegUSD: 1},
			{Symbol: "WETH", Name: "Wrapped Ether", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18, CoinGeckoID: "weth"},
			{Symbol: "WBTC", Name: "Wrapped BTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8, CoinGeckoID: "wrapped-bitcoin"},
		},
		CoinGeckoIDs: map[string]string{
			"USDC":  "usd-coin",
			"USDT":  "tether",
			"DAI":   "dai",
			"ETH":   "ethereum",
			"WETH":  "weth",
			"WBTC":  "wrapped-bitcoin",
			"MATIC": "matic-network",
			"ARB":   "arbitrum",
			"OP":    "optimism",
		},
	}
}

// LoadTokenList reads a YAML token list. An empty path returns the defaults.
// Symbols missing from the file's coingecko_ids fall back to the default map.
func LoadTokenList(path string) (*TokenList, error) {
	defaults := DefaultTokenList()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token list: %w", err)
	}

	var list TokenList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse token list: %w", err)
	}

	for i := range list.Tokens {
		t := &list.Tokens[i]
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		if t.Symbol == "" {
			return nil, fmt.Errorf("token %d: symbol is required", i)
		}
		if !tokenAddressRegex.MatchString(t.Address) {
			return nil, fmt.Errorf("token %s: invalid address %q", t.Symbol, t.Address)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return nil, fmt.Errorf("token %s: decimals out of range: %d", t.Symbol, t.Decimals)
		}
		if t.Name == "" {
			t.Name = t.Symbol
		}
	}
	if len(list.Tokens) == 0 {
		list.Tokens = defaults.Tokens
	}

	if list.CoinGeckoIDs == nil {
		list.CoinGeckoIDs = make(map[string]string)
	}
	for sym, id := range defaults.CoinGeckoIDs {
		if _, ok := list.CoinGeckoIDs[sym]; !ok {
			list.CoinGeckoIDs[sym] = id
		}
	}
	for _, t := range list.Tokens {
		if t.CoinGeckoID != "" {
			list.CoinGeckoIDs[t.Symbol] = t.CoinGeckoID
		}
	}

	return &list, nil
}

// CoinGeckoID resolves a symbol to its CoinGecko id, defaulting to the
// lowercased symbol when the map has no entry.
func (l *TokenList) CoinGeckoID(symbol string) string {
	if id, ok := l.CoinGeckoIDs[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

// Lookup finds an allow-listed token by contract address
func (l *TokenList) Lookup(address string) (TokenInfo, bool) {
	for _, t := range l.Tokens {
		if strings.EqualFold(t.Address, address) {
			return t, true
		}
	}
	return TokenInfo{}, false
}
