package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/retry"
)

// EtherscanClient reads token balances and ERC-20 transfer history from the
// Etherscan v2 API. All calls share one rate limiter (3 req/s on the free tier).
type EtherscanClient struct {
	apiKey   string
	baseURL  string
	chainID  int
	client   *http.Client
	limiter  *rate.Limiter
	retryCfg *retry.RetryConfig
}

// EtherscanClientConfig configures an EtherscanClient
type EtherscanClientConfig struct {
	APIKey            string
	BaseURL           string
	ChainID           int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// EtherscanTokenTransfer is one row of the tokentx action
type EtherscanTokenTransfer struct {
	Hash            string `json:"hash"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}

// Decimals parses TokenDecimal, defaulting to 18
func (t EtherscanTokenTransfer) Decimals() int {
	d, err := strconv.Atoi(t.TokenDecimal)
	if err != nil || d < 0 {
		return 18
	}
	return d
}

type etherscanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// errEtherscanThrottled marks a status=0 "rate limit" body
var errEtherscanThrottled = errors.New("etherscan rate limit reached")

// NewEtherscanClient creates a new Etherscan API client
func NewEtherscanClient(cfg EtherscanClientConfig) *EtherscanClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.etherscan.io/v2/api"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	retryCfg := retry.DefaultRetryConfig()
	retryCfg.ShouldRetry = isRetryableEtherscanError

	return &EtherscanClient{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		chainID:  cfg.ChainID,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		retryCfg: retryCfg,
	}
}

// HasAPIKey reports whether calls can be made
func (c *EtherscanClient) HasAPIKey() bool {
	return c != nil && c.apiKey != ""
}

// TokenBalance returns the ERC-20 balance of owner on token at the latest block
func (c *EtherscanClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "tokenbalance")
	params.Set("contractaddress", token.Hex())
	params.Set("address", owner.Hex())
	params.Set("tag", "latest")

	raw, err := c.call(ctx, "tokenbalance", params)
	if err != nil {
		return nil, err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, NewAdapterError("etherscan", "tokenbalance", fmt.Errorf("unexpected result: %s", truncate(string(raw), 64)), nil)
	}
	balance, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, NewAdapterError("etherscan", "tokenbalance", fmt.Errorf("non-numeric balance %q", s), nil)
	}
	return balance, nil
}

// TokenTransfers returns up to limit most recent ERC-20 transfers touching owner
func (c *EtherscanClient) TokenTransfers(ctx context.Context, owner common.Address, limit int) ([]EtherscanTokenTransfer, error) {
	if limit <= 0 {
		limit = 1000
	}
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "tokentx")
	params.Set("address", owner.Hex())
	params.Set("startblock", "0")
	params.Set("endblock", "99999999")
	params.Set("page", "1")
	params.Set("offset", strconv.Itoa(limit))
	params.Set("sort", "desc")

	raw, err := c.call(ctx, "tokentx", params)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return []EtherscanTokenTransfer{}, nil
	}

	var transfers []EtherscanTokenTransfer
	if err := json.Unmarshal(raw, &transfers); err != nil {
		return nil, NewAdapterError("etherscan", "tokentx", fmt.Errorf("failed to decode transfers: %w", err), nil)
	}
	return transfers, nil
}

// call runs one API action with rate limiting and retry. A nil result with
// nil error means Etherscan reported no records.
func (c *EtherscanClient) call(ctx context.Context, action string, params url.Values) (json.RawMessage, error) {
	if !c.HasAPIKey() {
		return nil, NewAdapterError("etherscan", action, ErrMissingAPIKey, nil)
	}
	params.Set("chainid", strconv.Itoa(c.chainID))
	params.Set("apikey", c.apiKey)
	endpoint := c.baseURL + "?" + params.Encode()

	var result json.RawMessage
	res := retry.WithExponentialBackoff(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Stop(err)
		}

		var env etherscanEnvelope
		if err := getJSON(ctx, c.client, endpoint, &env); err != nil {
			return err
		}

		if env.Status == "1" {
			result = env.Result
			return nil
		}

		detail := strings.Trim(string(env.Result), `"`)
		lower := strings.ToLower(env.Message + " " + detail)
		switch {
		case strings.Contains(lower, "no transactions found"), strings.Contains(lower, "no records found"):
			result = nil
			return nil
		case strings.Contains(lower, "rate limit"):
			logging.FromContext(ctx).WithFields(logging.Fields{
				"action":  action,
				"attempt": attempt,
			}).Warn("Etherscan rate limited, backing off")
			return errEtherscanThrottled
		default:
			return retry.Stop(fmt.Errorf("%s: %s", env.Message, detail))
		}
	})

	if !res.Success {
		return nil, NewAdapterError("etherscan", action, res.LastError, map[string]interface{}{
			"attempts": res.Attempts,
		})
	}
	return result, nil
}

func isRetryableEtherscanError(err error) bool {
	if errors.Is(err, errEtherscanThrottled) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// network failures
	return true
}
