// Package config provides configuration management for PrivAudit.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default public Ethereum RPC endpoints, tried in order
var (
	DefaultSimpleRPCEndpoints = []string{
		"https://ethereum-rpc.publicnode.com",
		"https://rpc.ankr.com/eth",
		"https://eth.llamarpc.com",
	}
	DefaultRealRPCEndpoints = []string{
		"https://ethereum-rpc.publicnode.com",
		"https://rpc.ankr.com/eth",
		"https://eth.llamarpc.com",
		"https://ethereum.blockpi.network/v1/rpc/public",
		"https://cloudflare-eth.com",
	}
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Chain     ChainConfig
	Etherscan EtherscanConfig
	Pricing   PricingConfig
	AI        AIConfig
	Proof     ProofConfig
	Metrics   MetricsConfig
	Publish   PublishConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port              string
	Host              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond float64
	Burst             int
	// ReportQuota is the cost units a client may spend per QuotaWindow.
	// Zero disables the quota. It needs Redis.
	ReportQuota int
	QuotaWindow time.Duration
}

// DatabaseConfig holds storage configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds the report archive configuration
type PostgresConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds cache TTLs. A zero ProofTTL keeps artifacts forever.
type CacheConfig struct {
	PriceTTL time.Duration
	ProofTTL time.Duration
}

// ChainConfig holds blockchain access configuration
type ChainConfig struct {
	Network            string
	SimpleRPCEndpoints []string
	RealRPCEndpoints   []string
	CallTimeout        time.Duration
	CooldownTime       time.Duration
	TokenRequestDelay  time.Duration
	MinAssetValueUSD   float64
	TokenListFile      string
}

// EtherscanConfig holds Etherscan API configuration
type EtherscanConfig struct {
	APIKey            string
	BaseURL           string
	RequestsPerSecond float64
}

// PricingConfig holds price oracle endpoints
type PricingConfig struct {
	CoinGeckoURL string
	CoinbaseURL  string
}

// AIConfig holds LLM provider configuration
type AIConfig struct {
	Provider       string // "openai", "anthropic" or empty to infer from the key
	APIKey         string
	OpenAIModel    string
	AnthropicModel string
	OpenAIURL      string
	AnthropicURL   string
	Timeout        time.Duration
}

// ProofConfig holds proof generation configuration
type ProofConfig struct {
	Scheme      string // "commitment" or "groth16"
	KeyDir      string
	ArtifactDir string
}

// MetricsConfig holds metric calculation parameters
type MetricsConfig struct {
	BurnRateFraction float64
}

// PublishConfig holds report publishing configuration
type PublishConfig struct {
	IPFSGateway    string
	IPFSAPIKey     string
	ArweaveGateway string
	// Timeout bounds one Publish call across all gateways and retries
	Timeout time.Duration
}

// Enabled reports whether any publisher is configured
func (p PublishConfig) Enabled() bool {
	return p.IPFSGateway != "" || p.ArweaveGateway != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:              getEnv("SERVER_PORT", "8080"),
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
			ReportQuota:       getEnvAsInt("REPORT_QUOTA", 0),
			QuotaWindow:       getEnvAsDuration("REPORT_QUOTA_WINDOW", time.Hour),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Enabled:        getEnvAsBool("ARCHIVE_ENABLED", false),
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "privaudit"),
				User:           getEnv("POSTGRES_USER", "privaudit"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
				MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations/postgres"),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Cache: CacheConfig{
			PriceTTL: getEnvAsDuration("PRICE_CACHE_TTL", 60*time.Second),
			ProofTTL: getEnvAsDuration("PROOF_TTL", 0),
		},
		Chain: ChainConfig{
			Network:            getEnv("NETWORK", "ethereum"),
			SimpleRPCEndpoints: getEnvAsList("SIMPLE_RPC_ENDPOINTS", DefaultSimpleRPCEndpoints),
			RealRPCEndpoints:   getEnvAsList("REAL_RPC_ENDPOINTS", DefaultRealRPCEndpoints),
			CallTimeout:        getEnvAsDuration("RPC_CALL_TIMEOUT", 5*time.Second),
			CooldownTime:       getEnvAsDuration("RPC_COOLDOWN", 60*time.Second),
			TokenRequestDelay:  getEnvAsDuration("TOKEN_REQUEST_DELAY", 200*time.Millisecond),
			MinAssetValueUSD:   getEnvAsFloat("MIN_ASSET_VALUE_USD", 1),
			TokenListFile:      getEnv("TOKEN_LIST_FILE", ""),
		},
		Etherscan: EtherscanConfig{
			APIKey:            getEnv("ETHERSCAN_API_KEY", getEnv("NEXT_PUBLIC_ETHERSCAN_API_KEY", "")),
			BaseURL:           getEnv("ETHERSCAN_BASE_URL", "https://api.etherscan.io/v2/api"),
			RequestsPerSecond: getEnvAsFloat("ETHERSCAN_RPS", 3),
		},
		Pricing: PricingConfig{
			CoinGeckoURL: getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			CoinbaseURL:  getEnv("COINBASE_BASE_URL", "https://api.coinbase.com/v2"),
		},
		AI: AIConfig{
			Provider:       strings.ToLower(getEnv("AI_PROVIDER", "")),
			APIKey:         getEnv("AI_API_KEY", getEnv("OPENAI_API_KEY", getEnv("ANTHROPIC_API_KEY", ""))),
			OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4"),
			AnthropicModel: getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
			OpenAIURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			AnthropicURL:   getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
			Timeout:        getEnvAsDuration("AI_TIMEOUT", 30*time.Second),
		},
		Proof: ProofConfig{
			Scheme:      strings.ToLower(getEnv("PROOF_SCHEME", "commitment")),
			KeyDir:      getEnv("PROOF_KEY_DIR", "keys"),
			ArtifactDir: getEnv("ARTIFACT_DIR", "artifacts"),
		},
		Metrics: MetricsConfig{
			BurnRateFraction: getEnvAsFloat("BURN_RATE_FRACTION", 0.10),
		},
		Publish: PublishConfig{
			IPFSGateway:    getEnv("IPFS_GATEWAY", ""),
			IPFSAPIKey:     getEnv("IPFS_API_KEY", ""),
			ArweaveGateway: getEnv("ARWEAVE_GATEWAY", ""),
			Timeout:        getEnvAsDuration("PUBLISH_TIMEOUT", 20*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that have no safe fallback
func (c *Config) Validate() error {
	if c.Metrics.BurnRateFraction <= 0 || c.Metrics.BurnRateFraction > 1 {
		return fmt.Errorf("BURN_RATE_FRACTION must be in (0, 1], got %v", c.Metrics.BurnRateFraction)
	}
	switch c.Proof.Scheme {
	case "commitment", "groth16":
	default:
		return fmt.Errorf("PROOF_SCHEME must be commitment or groth16, got %q", c.Proof.Scheme)
	}
	switch c.AI.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("AI_PROVIDER must be openai or anthropic, got %q", c.AI.Provider)
	}
	if c.Server.ReportQuota < 0 {
		return fmt.Errorf("REPORT_QUOTA must not be negative, got %d", c.Server.ReportQuota)
	}
	if len(c.Chain.SimpleRPCEndpoints) == 0 || len(c.Chain.RealRPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}
	return nil
}

// RedisAddr returns the host:port of the Redis server
func (r RedisConfig) RedisAddr() string {
	return r.Host + ":" + r.Port
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated environment variable
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
