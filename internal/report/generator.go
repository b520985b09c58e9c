// Package report turns treasury metrics into a readable audit report and
// renders it as PDF or CSV.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/types"
)

// Rule-based recommendation texts
const (
	RecSolvency      = "Consider reducing liabilities or increasing assets to improve solvency ratio"
	RecDiversify     = "Diversify portfolio by reducing crypto exposure and increasing stablecoin allocation"
	RecRunway        = "Extend runway by reducing expenses or securing additional funding"
	RecVerify        = "Complete treasury audit verification to ensure data integrity"
	RecConcentration = "Reduce concentration risk by diversifying across more assets"
	RecMaintain      = "Continue monitoring treasury health and maintain current strategy"
)

// Risk assessment labels
const (
	RiskLabelLow    = "Low Risk"
	RiskLabelMedium = "Medium Risk"
	RiskLabelHigh   = "High Risk"
)

// maxRecommendations caps the list from any source
const maxRecommendations = 5

// Input is everything a report is built from
type Input struct {
	Snapshot      *types.TreasurySnapshot
	Metrics       types.TreasuryMetrics
	ProofVerified bool
	ProofHash     string
}

// Generator builds ReportData. The LLM is optional; without one, or when
// it fails, the rule-based recommendations are used.
type Generator struct {
	llm Recommender
	now func() time.Time
}

// NewGenerator creates a report generator. llm may be nil.
func NewGenerator(llm Recommender) *Generator {
	return &Generator{llm: llm, now: time.Now}
}

// Generate builds the report. It never fails.
func (g *Generator) Generate(ctx context.Context, in Input) *types.ReportData {
	recs, source := g.recommendations(ctx, in)

	assetCount := 0
	address := ""
	if in.Snapshot != nil {
		assetCount = len(in.Snapshot.Assets)
		address = in.Snapshot.DAOAddress
	}

	return &types.ReportData{
		ID:                   uuid.New().String(),
		DAOName:              DAOName(address),
		DAOAddress:           address,
		ReportDate:           g.now().UTC().Format("2006-01-02"),
		Metrics:              in.Metrics,
		ProofVerified:        in.ProofVerified,
		ProofHash:            in.ProofHash,
		Summary:              Summary(in.Metrics, assetCount),
		Recommendations:      recs,
		RecommendationSource: source,
		RiskAssessment:       RiskAssessment(in.Metrics),
	}
}

func (g *Generator) recommendations(ctx context.Context, in Input) ([]string, types.RecommendationSource) {
	rules := RuleRecommendations(in.Metrics, in.ProofVerified)
	if g.llm == nil {
		return rules, types.RecommendationsRules
	}

	logger := logging.FromContext(ctx).WithField("provider", g.llm.Name())
	text, err := g.llm.Recommend(ctx, BuildPrompt(in))
	if err != nil {
		logger.WithError(err).Warn("LLM recommendations failed, using rules")
		return rules, types.RecommendationsRules
	}

	recs, source := ParseRecommendations(text)
	if len(recs) == 0 {
		logger.Warn("LLM response had no usable recommendations, using rules")
		return rules, types.RecommendationsRules
	}
	return recs, source
}

// RuleRecommendations returns the deterministic recommendation list
func RuleRecommendations(m types.TreasuryMetrics, proofVerified bool) []string {
	var recs []string

	if m.SolvencyRatio != nil && *m.SolvencyRatio < 1.5 {
		recs = append(recs, RecSolvency)
	}
	if m.AssetDiversification.Crypto > 70 {
		recs = append(recs, RecDiversify)
	}
	if m.TotalAssets > 0 && m.RunwayMonths < 12 {
		recs = append(recs, RecRunway)
	}
	if !proofVerified {
		recs = append(recs, RecVerify)
	}
	if m.RiskMetrics.ConcentrationRisk == types.RiskHigh {
		recs = append(recs, RecConcentration)
	}

	if len(recs) == 0 {
		return []string{RecMaintain}
	}
	return recs
}

// RiskAssessment labels the treasury by solvency and size
func RiskAssessment(m types.TreasuryMetrics) string {
	switch {
	case !m.IsSolvent():
		return RiskLabelHigh
	case m.TotalAssets > 1_000_000:
		return RiskLabelLow
	case m.TotalAssets > 100_000:
		return RiskLabelMedium
	default:
		return RiskLabelHigh
	}
}

// Summary is the one-paragraph overview at the top of a report
func Summary(m types.TreasuryMetrics, assetCount int) string {
	health := "moderate"
	if m.TotalAssets > 100_000 {
		health = "strong"
	}
	return fmt.Sprintf("This DAO treasury analysis reveals $%s in total assets across %d different tokens. "+
		"The treasury demonstrates %s financial health with diversified holdings.",
		FormatUSD(m.TotalAssets), assetCount, health)
}

// DAOName is the display name used when no registry name is known
func DAOName(address string) string {
	if len(address) > 8 {
		return fmt.Sprintf("DAO %s...", address[:8])
	}
	if address == "" {
		return "Unknown DAO"
	}
	return "DAO " + address
}
