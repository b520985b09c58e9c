// Package adapter fetches DAO treasury balances from Ethereum RPC endpoints,
// the Etherscan API and public price oracles.
package adapter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidAddress is returned for anything that is not a 20-byte hex address
	ErrInvalidAddress = errors.New("invalid address format")
	// ErrMissingAPIKey is returned when an explorer call needs a key and has none
	ErrMissingAPIKey = errors.New("api key not configured")
	// ErrNoEndpoints is returned when a pool is built without endpoints
	ErrNoEndpoints = errors.New("at least one RPC endpoint is required")
)

var addressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidateAddress checks if address format is valid for Ethereum
func ValidateAddress(address string) bool {
	return addressRegex.MatchString(address)
}

// AdapterError wraps errors with the upstream and operation that failed
type AdapterError struct {
	Source  string // Upstream name (e.g., "rpc", "etherscan", "coingecko")
	Op      string // Operation that failed (e.g., "BalanceAt", "tokentx")
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("adapter error [%s:%s]: %v (details: %+v)", e.Source, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("adapter error [%s:%s]: %v", e.Source, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(source, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Source:  source,
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// IsRateLimitError checks if an error indicates upstream rate limiting
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "throttl")
}

// AttemptError records one failed endpoint attempt during failover
type AttemptError struct {
	Endpoint string
	Err      error
}

// FetchError aggregates every failed attempt of a snapshot fetch
type FetchError struct {
	Attempts []AttemptError
}

func (e *FetchError) Error() string {
	if len(e.Attempts) == 0 {
		return "treasury fetch failed: no endpoints attempted"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("treasury fetch failed on all %d endpoints, last error from %s: %v",
		len(e.Attempts), last.Endpoint, last.Err)
}

// Unwrap returns the last failure cause
func (e *FetchError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// LastCause returns the last failure cause
func (e *FetchError) LastCause() error {
	return e.Unwrap()
}
