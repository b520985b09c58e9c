// Package types provides the treasury, metrics and proof data model shared by
// every PrivAudit component.
package types

// DataSource identifies which fetch strategy produced a snapshot
type DataSource string

const (
	// SourceSimple reads native ETH plus a fixed token allow-list
	SourceSimple DataSource = "simple"
	// SourceReal discovers tokens from explorer transfer history
	SourceReal DataSource = "real"
	// SourceFallbackDemo marks a snapshot substituted after every provider failed
	SourceFallbackDemo DataSource = "fallback-demo"
	// SourceShieldedDemo marks a snapshot produced by a Midnight session
	SourceShieldedDemo DataSource = "shielded-demo"
)

// Valid reports whether s names a fetch strategy a caller may request
func (s DataSource) Valid() bool {
	return s == SourceSimple || s == SourceReal
}

// AssetType classifies a treasury asset
type AssetType string

const (
	AssetTypeToken AssetType = "token"
	AssetTypeNFT   AssetType = "nft"
	AssetTypeLP    AssetType = "lp"
	AssetTypeOther AssetType = "other"
)

// ContractType describes how an asset is held on chain
type ContractType string

const (
	ContractNative  ContractType = "native"
	ContractERC20   ContractType = "erc20"
	ContractERC721  ContractType = "erc721"
	ContractERC1155 ContractType = "erc1155"
	ContractLP      ContractType = "lp"
	ContractOther   ContractType = "other"
)

// LiabilityType classifies a treasury obligation
type LiabilityType string

const (
	LiabilityDebt       LiabilityType = "debt"
	LiabilityVesting    LiabilityType = "vesting"
	LiabilityCommitment LiabilityType = "commitment"
	LiabilityOther      LiabilityType = "other"
)

// RiskLevel is a coarse low/medium/high rating
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AssetBalance is a single priced holding of the treasury
type AssetBalance struct {
	Address      string       `json:"address" csv:"address"`           // Contract address, or zero address for native ETH
	Symbol       string       `json:"symbol" csv:"symbol"`             // Token symbol (e.g., "USDC")
	Name         string       `json:"name" csv:"name"`                 // Human readable token name
	Balance      string       `json:"balance" csv:"balance"`           // Raw integer balance in base units
	Decimals     int          `json:"decimals" csv:"decimals"`         // Token decimals
	PriceUSD     float64      `json:"priceUSD" csv:"price_usd"`        // Unit price in USD
	ValueUSD     float64      `json:"valueUSD" csv:"value_usd"`        // balance / 10^decimals * priceUSD
	Type         AssetType    `json:"type" csv:"type"`                 // Asset classification
	ContractType ContractType `json:"contractType" csv:"contract_type"` // On-chain representation
}

// LiabilityBalance is a single obligation of the treasury
type LiabilityBalance struct {
	Address  string        `json:"address"`
	Symbol   string        `json:"symbol"`
	Name     string        `json:"name"`
	Balance  string        `json:"balance"`
	Decimals int           `json:"decimals"`
	ValueUSD float64       `json:"valueUSD"`
	Type     LiabilityType `json:"type"`
}

// TreasurySnapshot is the point-in-time view of a DAO treasury. It is built
// once per report request and never mutated afterwards.
type TreasurySnapshot struct {
	DAOAddress    string             `json:"daoAddress"`
	Timestamp     int64              `json:"timestamp"` // Unix milliseconds
	Assets        []AssetBalance     `json:"assets"`
	Liabilities   []LiabilityBalance `json:"liabilities"`
	TotalValueUSD float64            `json:"totalValueUSD"`
	Network       string             `json:"network"`
	DataSource    DataSource         `json:"dataSource"`
}

// IsEmpty reports whether the snapshot holds no assets and no liabilities
func (s *TreasurySnapshot) IsEmpty() bool {
	return len(s.Assets) == 0 && len(s.Liabilities) == 0
}

// AssetDiversification holds the percentage of total assets per category
type AssetDiversification struct {
	Stablecoins float64 `json:"stablecoins"`
	Crypto      float64 `json:"crypto"`
	NFTs        float64 `json:"nfts"`
	LPTokens    float64 `json:"lpTokens"`
	Other       float64 `json:"other"`
}

// Sum returns the total of all category percentages
func (d AssetDiversification) Sum() float64 {
	return d.Stablecoins + d.Crypto + d.NFTs + d.LPTokens + d.Other
}

// RiskMetrics groups the qualitative risk flags of a treasury
type RiskMetrics struct {
	ConcentrationRisk RiskLevel `json:"concentrationRisk"`
	VolatilityRisk    RiskLevel `json:"volatilityRisk"`
	LiquidityRisk     RiskLevel `json:"liquidityRisk"`
	CounterpartyRisk  RiskLevel `json:"counterpartyRisk"`
}

// TreasuryMetrics is derived from a snapshot on every request.
//
// SolvencyRatio is nil when there are no liabilities, in which case
// SolvencyRatioUnbounded is true and the ratio should be read as infinite.
type TreasuryMetrics struct {
	TotalAssets            float64              `json:"totalAssets"`
	TotalLiabilities       float64              `json:"totalLiabilities"`
	NetWorth               float64              `json:"netWorth"`
	AssetDiversification   AssetDiversification `json:"assetDiversification"`
	RiskMetrics            RiskMetrics          `json:"riskMetrics"`
	RunwayMonths           float64              `json:"runwayMonths"`
	SolvencyRatio          *float64             `json:"solvencyRatio"`
	SolvencyRatioUnbounded bool                 `json:"solvencyRatioUnbounded"`
}

// IsSolvent reports whether assets cover liabilities
func (m *TreasuryMetrics) IsSolvent() bool {
	return m.TotalAssets >= m.TotalLiabilities
}

// ProofScheme names the construction behind a ProofArtifact
type ProofScheme string

const (
	// SchemeCommitment is a nonce-keyed HMAC-SHA256 over disclosed totals
	SchemeCommitment ProofScheme = "hmac-sha256"
	// SchemeGroth16 is a BN254 Groth16 proof that liabilities <= assets
	SchemeGroth16 ProofScheme = "groth16-bn254"
)

// ProofMetadata is the public part of a ProofArtifact.
// The totals are nil when the scheme does not disclose them.
type ProofMetadata struct {
	CircuitVersion   string   `json:"circuitVersion"`
	ProvingTime      int64    `json:"provingTime"` // milliseconds
	IsSolvent        bool     `json:"isSolvent"`
	TotalAssets      *float64 `json:"totalAssets,omitempty"`
	TotalLiabilities *float64 `json:"totalLiabilities,omitempty"`
	Disclosed        bool     `json:"disclosed"`
}

// ProofArtifact is the opaque, shareable output of proof generation
type ProofArtifact struct {
	Scheme                ProofScheme   `json:"scheme"`
	Commitment            string        `json:"commitment"`
	AssetsCommitment      string        `json:"assetsCommitment,omitempty"`
	LiabilitiesCommitment string        `json:"liabilitiesCommitment,omitempty"`
	Nonce                 string        `json:"nonce,omitempty"`
	Timestamp             int64         `json:"timestamp"`
	DAOAddress            string        `json:"daoAddress"`
	ProofHash             string        `json:"proofHash"`
	Proof                 string        `json:"proof,omitempty"` // hex encoded scheme proof bytes
	PublicSignals         []string      `json:"publicSignals,omitempty"`
	Metadata              ProofMetadata `json:"metadata"`
}

// VerificationResult is the outcome of checking a ProofArtifact
type VerificationResult struct {
	IsValid          bool     `json:"isValid"`
	VerificationTime int64    `json:"verificationTime"` // milliseconds
	Error            string   `json:"error,omitempty"`
	PublicSignals    []string `json:"publicSignals"`
}

// RecommendationSource records which path produced the recommendations
type RecommendationSource string

const (
	RecommendationsLLM          RecommendationSource = "llm"
	RecommendationsLLMSentences RecommendationSource = "llm-sentences"
	RecommendationsRules        RecommendationSource = "rules"
)

// ReportData is the rendered audit report
type ReportData struct {
	ID                   string               `json:"id"`
	DAOName              string               `json:"daoName"`
	DAOAddress           string               `json:"daoAddress"`
	ReportDate           string               `json:"reportDate"`
	Metrics              TreasuryMetrics      `json:"metrics"`
	ProofVerified        bool                 `json:"proofVerified"`
	ProofHash            string               `json:"proofHash"`
	Summary              string               `json:"summary"`
	Recommendations      []string             `json:"recommendations"`
	RecommendationSource RecommendationSource `json:"recommendationSource"`
	RiskAssessment       string               `json:"riskAssessment"`
}
