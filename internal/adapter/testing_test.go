package adapter

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// mockCaller is a ChainCaller backed by fixed balances
type mockCaller struct {
	mu sync.Mutex

	native      *big.Int
	nativeErr   error
	tokens      map[common.Address]*big.Int
	tokenErr    map[common.Address]error
	calls       int
	lastCall    ethereum.CallMsg
	closed      bool
	emptyResult bool
	balanceAtF  func(ctx context.Context) (*big.Int, error)
}

func newMockCaller(native *big.Int) *mockCaller {
	return &mockCaller{
		native:   native,
		tokens:   make(map[common.Address]*big.Int),
		tokenErr: make(map[common.Address]error),
	}
}

func (m *mockCaller) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.balanceAtF != nil {
		return m.balanceAtF(ctx)
	}
	if m.nativeErr != nil {
		return nil, m.nativeErr
	}
	return new(big.Int).Set(m.native), nil
}

func (m *mockCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastCall = call

	if err, ok := m.tokenErr[*call.To]; ok {
		return nil, err
	}
	if m.emptyResult {
		return nil, nil
	}
	bal, ok := m.tokens[*call.To]
	if !ok {
		bal = big.NewInt(0)
	}
	return common.LeftPadBytes(bal.Bytes(), 32), nil
}

func (m *mockCaller) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// mockReader is a BalanceReader with fixed results
type mockReader struct {
	native    *big.Int
	nativeErr error
	tokens    map[common.Address]*big.Int
	tokenErr  map[common.Address]error
}

func (r *mockReader) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	if r.nativeErr != nil {
		return nil, r.nativeErr
	}
	if r.native == nil {
		return big.NewInt(0), nil
	}
	return r.native, nil
}

func (r *mockReader) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if err, ok := r.tokenErr[token]; ok {
		return nil, err
	}
	if bal, ok := r.tokens[token]; ok {
		return bal, nil
	}
	return big.NewInt(0), nil
}

// mockPrices is a PriceProvider with fixed quotes
type mockPrices struct {
	quotes map[string]float64
	err    error
	asked  [][]string
}

func (p *mockPrices) USDPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	p.asked = append(p.asked, ids)
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]float64)
	for _, id := range ids {
		if q, ok := p.quotes[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

// units returns amount * 10^decimals
func units(amount int64, decimals int) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(big.NewInt(amount), exp)
}

var errRPCDown = errors.New("connection refused")
