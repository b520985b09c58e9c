package adapter

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRPCPool_RequiresEndpoints(t *testing.T) {
	_, err := NewRPCPool(nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)

	_, err = NewRPCPool(&RPCPoolConfig{})
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestRPCPool_DialsLazilyAndReuses(t *testing.T) {
	dials := 0
	caller := newMockCaller(big.NewInt(1))
	pool, err := NewRPCPool(&RPCPoolConfig{
		Endpoints: []string{"https://a", "https://b"},
		Dial: func(ctx context.Context, url string) (ChainCaller, error) {
			dials++
			return caller, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, dials)
	assert.Equal(t, 2, pool.EndpointCount())

	c1, err := pool.Client(context.Background(), 0)
	require.NoError(t, err)
	c2, err := pool.Client(context.Background(), 0)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, dials)

	_, err = pool.Client(context.Background(), 5)
	assert.Error(t, err)

	pool.Close()
	assert.True(t, caller.closed)
}

func TestRPCPool_DialError(t *testing.T) {
	pool, err := NewRPCPool(&RPCPoolConfig{
		Endpoints: []string{"https://a"},
		Dial: func(ctx context.Context, url string) (ChainCaller, error) {
			return nil, errRPCDown
		},
	})
	require.NoError(t, err)

	_, err = pool.Client(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, errRPCDown)

	var adapterErr *AdapterError
	require.True(t, errors.As(err, &adapterErr))
	assert.Equal(t, "https://a", adapterErr.Details["endpoint"])
}

func TestRPCPool_CooldownOrdering(t *testing.T) {
	pool, err := NewRPCPool(&RPCPoolConfig{
		Endpoints:    []string{"https://a", "https://b", "https://c"},
		CooldownTime: time.Minute,
	})
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pool.now = func() time.Time { return now }

	assert.Equal(t, []int{0, 1, 2}, pool.Order())

	pool.MarkRateLimited(0)
	assert.True(t, pool.InCooldown(0))
	assert.Equal(t, []int{1, 2, 0}, pool.Order())

	status := pool.Status()
	assert.True(t, status[0].InCooldown)
	assert.Equal(t, time.Minute, status[0].CooldownRemaining)
	assert.False(t, status[1].InCooldown)

	now = now.Add(time.Minute)
	assert.False(t, pool.InCooldown(0))
	assert.Equal(t, []int{0, 1, 2}, pool.Order())
}

func TestRPCClient_TokenBalancePacksBalanceOf(t *testing.T) {
	token := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")

	caller := newMockCaller(big.NewInt(0))
	caller.tokens[token] = units(1000, 6)
	client := NewRPCClient(caller, "https://a", time.Second)

	bal, err := client.TokenBalance(context.Background(), token, owner)
	require.NoError(t, err)
	assert.Equal(t, units(1000, 6).String(), bal.String())

	// selector for balanceOf(address) followed by the padded owner
	require.Len(t, caller.lastCall.Data, 4+32)
	assert.Equal(t, []byte{0x70, 0xa0, 0x82, 0x31}, caller.lastCall.Data[:4])
	assert.Equal(t, owner.Bytes(), caller.lastCall.Data[4+12:])
}

func TestRPCClient_NativeBalanceAppliesTimeout(t *testing.T) {
	caller := newMockCaller(nil)
	caller.balanceAtF = func(ctx context.Context) (*big.Int, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	client := NewRPCClient(caller, "https://slow", 20*time.Millisecond)

	_, err := client.NativeBalance(context.Background(), common.Address{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRPCClient_EmptyResultIsError(t *testing.T) {
	caller := newMockCaller(big.NewInt(0))
	caller.emptyResult = true
	client := NewRPCClient(caller, "https://a", time.Second)

	_, err := client.TokenBalance(context.Background(), common.Address{1}, common.Address{2})
	assert.Error(t, err)
}
