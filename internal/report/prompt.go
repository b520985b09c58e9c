package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/privaudit/internal/types"
)

const promptAssetCount = 5

// BuildPrompt renders the LLM prompt for a report input
func BuildPrompt(in Input) string {
	m := in.Metrics
	var b strings.Builder

	b.WriteString("You are a financial analyst specializing in DAO treasury management. ")
	b.WriteString("Analyze this DAO treasury and provide 3-5 actionable recommendations:\n\n")

	if in.Snapshot != nil {
		b.WriteString("DAO Information:\n")
		fmt.Fprintf(&b, "- Address: %s\n", in.Snapshot.DAOAddress)
		fmt.Fprintf(&b, "- Data Source: %s\n", in.Snapshot.DataSource)
		fmt.Fprintf(&b, "- Network: %s\n", in.Snapshot.Network)
		fmt.Fprintf(&b, "- Timestamp: %s\n\n", time.UnixMilli(in.Snapshot.Timestamp).UTC().Format(time.RFC3339))
	}

	b.WriteString("Treasury Metrics:\n")
	fmt.Fprintf(&b, "- Total Assets: $%s\n", FormatUSD(m.TotalAssets))
	fmt.Fprintf(&b, "- Total Liabilities: $%s\n", FormatUSD(m.TotalLiabilities))
	fmt.Fprintf(&b, "- Net Worth: $%s\n", FormatUSD(m.NetWorth))
	fmt.Fprintf(&b, "- Solvency Ratio: %s\n", FormatSolvencyRatio(m))
	fmt.Fprintf(&b, "- Runway: %s months\n\n", decimal.NewFromFloat(m.RunwayMonths).String())

	d := m.AssetDiversification
	b.WriteString("Asset Diversification:\n")
	fmt.Fprintf(&b, "- Stablecoins: %.1f%%\n", d.Stablecoins)
	fmt.Fprintf(&b, "- Crypto: %.1f%%\n", d.Crypto)
	fmt.Fprintf(&b, "- NFTs: %.1f%%\n", d.NFTs)
	fmt.Fprintf(&b, "- LP Tokens: %.1f%%\n", d.LPTokens)
	fmt.Fprintf(&b, "- Other: %.1f%%\n\n", d.Other)

	r := m.RiskMetrics
	b.WriteString("Risk Assessment:\n")
	fmt.Fprintf(&b, "- Concentration Risk: %s\n", r.ConcentrationRisk)
	fmt.Fprintf(&b, "- Volatility Risk: %s\n", r.VolatilityRisk)
	fmt.Fprintf(&b, "- Liquidity Risk: %s\n", r.LiquidityRisk)
	fmt.Fprintf(&b, "- Counterparty Risk: %s\n\n", r.CounterpartyRisk)

	status := "Not Verified"
	if in.ProofVerified {
		status = "Verified"
	}
	fmt.Fprintf(&b, "Proof Status: %s\n\n", status)

	if in.Snapshot != nil && len(in.Snapshot.Assets) > 0 {
		b.WriteString("Top Assets:\n")
		for _, a := range TopAssets(in.Snapshot.Assets, promptAssetCount) {
			fmt.Fprintf(&b, "- %s: %s ($%s)\n", a.Symbol, FormatBalance(a), FormatUSD(a.ValueUSD))
		}
		b.WriteString("\n")
	}

	b.WriteString("Provide specific, actionable recommendations for treasury management based on this data. ")
	b.WriteString("Format your response as a numbered list of recommendations.")
	return b.String()
}

// FormatUSD formats an amount with thousands separators and at most two
// decimals, e.g. 1234567.5 becomes "1,234,567.5".
func FormatUSD(v float64) string {
	s := decimal.NewFromFloat(v).Round(2).String()

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + b.String() + frac
}

// FormatSolvencyRatio renders the ratio, or "unbounded" when there are no liabilities
func FormatSolvencyRatio(m types.TreasuryMetrics) string {
	if m.SolvencyRatio == nil {
		return "unbounded"
	}
	return fmt.Sprintf("%.2f", *m.SolvencyRatio)
}

// FormatBalance converts a raw base-unit balance into whole units
func FormatBalance(a types.AssetBalance) string {
	raw, err := decimal.NewFromString(a.Balance)
	if err != nil {
		return a.Balance
	}
	return raw.Shift(int32(-a.Decimals)).Round(4).String()
}
