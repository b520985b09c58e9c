// Package ratelimit provides a Redis-backed report quota shared by every
// server instance.
//
// Each client gets a budget of cost units per fixed window. Report
// strategies have different costs: a real report walks the whole Etherscan
// transfer history, so it is charged more than a simple one.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/privaudit/internal/types"
)

// Default quota values.
const (
	DefaultBudget = 60
	DefaultWindow = time.Hour
)

// KeyPrefixQuota prefixes every quota counter key.
const KeyPrefixQuota = "quota:"

// Cost units per report strategy.
const (
	CostSimpleReport = 1
	CostRealReport   = 5
)

// ReportCost returns the quota cost of one report of the given source.
func ReportCost(source types.DataSource) int {
	if source == types.SourceReal {
		return CostRealReport
	}
	return CostSimpleReport
}

// consumeScript increments the counter only when the budget allows it.
// It returns {allowed, used}.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local cost = tonumber(ARGV[1])
	local budget = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + cost > budget then
		return {0, used}
	end

	used = redis.call('INCRBY', key, cost)
	redis.call('EXPIRE', key, ttl)
	return {1, used}
`)

// QuotaConfig holds configuration for the tracker.
type QuotaConfig struct {
	// Redis is required.
	Redis redis.Cmdable
	// Budget is the cost units a client may spend per window. Default: 60.
	Budget int
	// Window is the fixed window duration. Default: 1h.
	Window time.Duration
}

// Validate checks if the configuration is valid.
func (c *QuotaConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Budget < 0 {
		return errors.New("budget cannot be negative")
	}
	if c.Window < 0 {
		return errors.New("window cannot be negative")
	}
	return nil
}

// Decision is the outcome of TryConsume.
type Decision struct {
	Allowed    bool
	Used       int
	Remaining  int
	RetryAfter time.Duration
}

// QuotaTracker charges report requests against per-client budgets.
type QuotaTracker struct {
	redis  redis.Cmdable
	budget int
	window time.Duration
	now    func() time.Time
}

// NewQuotaTracker creates a tracker with the given configuration.
func NewQuotaTracker(cfg *QuotaConfig) (*QuotaTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	budget := cfg.Budget
	if budget == 0 {
		budget = DefaultBudget
	}
	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}

	return &QuotaTracker{
		redis:  cfg.Redis,
		budget: budget,
		window: window,
		now:    time.Now,
	}, nil
}

// Budget returns the configured budget per window.
func (t *QuotaTracker) Budget() int { return t.budget }

func (t *QuotaTracker) windowStart() time.Time {
	return t.now().Truncate(t.window)
}

func (t *QuotaTracker) key(client string, start time.Time) string {
	return KeyPrefixQuota + client + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// TryConsume charges cost units to client. When Redis fails the request is
// allowed and the error is returned for logging; a quota outage must not
// take reports down with it.
func (t *QuotaTracker) TryConsume(ctx context.Context, client string, cost int) (Decision, error) {
	if cost <= 0 {
		return Decision{Allowed: true, Remaining: t.budget}, nil
	}
	if cost > t.budget {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: t.window}, nil
	}

	start := t.windowStart()
	ttlSeconds := int(t.window.Seconds()) + 1

	result, err := consumeScript.Run(ctx, t.redis, []string{t.key(client, start)},
		cost, t.budget, ttlSeconds).Int64Slice()
	if err != nil {
		return Decision{Allowed: true, Remaining: t.budget}, fmt.Errorf("quota check failed: %w", err)
	}
	if len(result) != 2 {
		return Decision{Allowed: true, Remaining: t.budget}, fmt.Errorf("quota check returned %d values", len(result))
	}

	used := int(result[1])
	d := Decision{Allowed: result[0] == 1, Used: used, Remaining: t.budget - used}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = t.retryAfter(start)
	}
	return d, nil
}

// retryAfter returns the time until the next window starts.
func (t *QuotaTracker) retryAfter(start time.Time) time.Duration {
	wait := start.Add(t.window).Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Usage returns the units client has spent in the current window.
func (t *QuotaTracker) Usage(ctx context.Context, client string) (int, error) {
	used, err := t.redis.Get(ctx, t.key(client, t.windowStart())).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return used, err
}
