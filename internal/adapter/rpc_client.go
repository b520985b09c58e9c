package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// BalanceReader reads on-chain balances for an owner address
type BalanceReader interface {
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

var balanceOfABI = mustParseABI(erc20BalanceOfABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// RPCClient reads balances over JSON-RPC with a fixed per-call timeout
type RPCClient struct {
	caller   ChainCaller
	endpoint string
	timeout  time.Duration
}

// NewRPCClient wraps a connected caller. A zero timeout defaults to 5s.
func NewRPCClient(caller ChainCaller, endpoint string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RPCClient{caller: caller, endpoint: endpoint, timeout: timeout}
}

// NativeBalance returns the latest ETH balance in wei
func (c *RPCClient) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	balance, err := c.caller.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, NewAdapterError("rpc", "BalanceAt", err, map[string]interface{}{
			"endpoint": c.endpoint,
		})
	}
	return balance, nil
}

// TokenBalance calls ERC-20 balanceOf(owner) on token
func (c *RPCClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := balanceOfABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, NewAdapterError("rpc", "balanceOf", err, map[string]interface{}{
			"endpoint": c.endpoint,
			"token":    token.Hex(),
		})
	}
	if len(result) == 0 {
		return nil, NewAdapterError("rpc", "balanceOf", fmt.Errorf("empty result, not an ERC-20 contract"), map[string]interface{}{
			"token": token.Hex(),
		})
	}
	return new(big.Int).SetBytes(result), nil
}
