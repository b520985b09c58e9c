package adapter

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/privaudit/internal/logging"
)

// ChainCaller is the subset of ethclient.Client the fetchers use
type ChainCaller interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// DialFunc connects to an RPC endpoint
type DialFunc func(ctx context.Context, url string) (ChainCaller, error)

func dialEthClient(ctx context.Context, url string) (ChainCaller, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// RPCPool holds an ordered list of RPC endpoints. Clients are dialled lazily
// on first use and endpoints that rate limit us are parked for CooldownTime.
type RPCPool struct {
	endpoints    []string
	dial         DialFunc
	cooldownTime time.Duration
	now          func() time.Time

	mu        sync.Mutex
	clients   []ChainCaller
	cooldowns map[int]time.Time
}

// RPCPoolConfig holds configuration for creating an RPC pool
type RPCPoolConfig struct {
	Endpoints []string
	// CooldownTime is how long a rate limited endpoint is skipped. Default 60s.
	CooldownTime time.Duration
	// Dial overrides how clients are created. Defaults to ethclient.DialContext.
	Dial DialFunc
}

// NewRPCPool creates a new RPC pool. No connection is made until Client is called.
func NewRPCPool(cfg *RPCPoolConfig) (*RPCPool, error) {
	if cfg == nil || len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	cooldown := cfg.CooldownTime
	if cooldown == 0 {
		cooldown = 60 * time.Second
	}
	dial := cfg.Dial
	if dial == nil {
		dial = dialEthClient
	}

	endpoints := make([]string, len(cfg.Endpoints))
	copy(endpoints, cfg.Endpoints)

	return &RPCPool{
		endpoints:    endpoints,
		dial:         dial,
		cooldownTime: cooldown,
		now:          time.Now,
		clients:      make([]ChainCaller, len(endpoints)),
		cooldowns:    make(map[int]time.Time),
	}, nil
}

// Endpoints returns the endpoint URLs in failover order
func (p *RPCPool) Endpoints() []string {
	out := make([]string, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// EndpointCount returns the number of endpoints in the pool
func (p *RPCPool) EndpointCount() int {
	return len(p.endpoints)
}

// Client returns the client for endpoint index, dialling it if needed
func (p *RPCPool) Client(ctx context.Context, index int) (ChainCaller, error) {
	if index < 0 || index >= len(p.endpoints) {
		return nil, fmt.Errorf("endpoint index %d out of range", index)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c := p.clients[index]; c != nil {
		return c, nil
	}

	c, err := p.dial(ctx, p.endpoints[index])
	if err != nil {
		return nil, NewAdapterError("rpc", "Dial", err, map[string]interface{}{
			"endpoint": p.endpoints[index],
		})
	}
	p.clients[index] = c
	return c, nil
}

// MarkRateLimited parks an endpoint for the cooldown period
func (p *RPCPool) MarkRateLimited(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cooldowns[index] = p.now()
	logging.WithFields(logging.Fields{
		"endpoint": p.endpoints[index],
		"cooldown": p.cooldownTime.String(),
	}).Warn("RPC endpoint rate limited, cooling down")
}

// InCooldown reports whether an endpoint is still parked
func (p *RPCPool) InCooldown(index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inCooldownLocked(index)
}

func (p *RPCPool) inCooldownLocked(index int) bool {
	since, ok := p.cooldowns[index]
	if !ok {
		return false
	}
	if p.now().Sub(since) >= p.cooldownTime {
		delete(p.cooldowns, index)
		return false
	}
	return true
}

// Order returns endpoint indexes to try: available endpoints first in
// configured order, then cooling endpoints as a last resort.
func (p *RPCPool) Order() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	ready := make([]int, 0, len(p.endpoints))
	var cooling []int
	for i := range p.endpoints {
		if p.inCooldownLocked(i) {
			cooling = append(cooling, i)
			continue
		}
		ready = append(ready, i)
	}
	return append(ready, cooling...)
}

// Close closes all client connections
func (p *RPCPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, c := range p.clients {
		if c != nil {
			c.Close()
			p.clients[i] = nil
		}
	}
}

// EndpointStatus represents the status of a single endpoint
type EndpointStatus struct {
	URL               string        `json:"url"`
	Connected         bool          `json:"connected"`
	InCooldown        bool          `json:"inCooldown"`
	CooldownRemaining time.Duration `json:"cooldownRemaining"`
}

// Status returns the current status of every endpoint
func (p *RPCPool) Status() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]EndpointStatus, len(p.endpoints))
	for i, url := range p.endpoints {
		es := EndpointStatus{URL: url, Connected: p.clients[i] != nil}
		if since, ok := p.cooldowns[i]; ok {
			if remaining := p.cooldownTime - p.now().Sub(since); remaining > 0 {
				es.InCooldown = true
				es.CooldownRemaining = remaining
			}
		}
		out[i] = es
	}
	return out
}
