package storage

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privaudit/internal/types"
)

func testArtifact() *types.ProofArtifact {
	assets, liabilities := 2_000_000.0, 200_000.0
	return &types.ProofArtifact{
		Scheme:                types.SchemeCommitment,
		Commitment:            strings.Repeat("a", 64),
		AssetsCommitment:      strings.Repeat("b", 64),
		LiabilitiesCommitment: strings.Repeat("c", 64),
		Nonce:                 strings.Repeat("d", 64),
		Timestamp:             1717243200000,
		DAOAddress:            "0x1111111111111111111111111111111111111111",
		ProofHash:             strings.Repeat("E", 64),
		PublicSignals:         []string{strings.Repeat("b", 64), strings.Repeat("c", 64)},
		Metadata: types.ProofMetadata{
			CircuitVersion:   "1.0.0",
			IsSolvent:        true,
			TotalAssets:      &assets,
			TotalLiabilities: &liabilities,
			Disclosed:        true,
		},
	}
}

func TestGenerateCacheKey(t *testing.T) {
	assert.Equal(t, "proof:abc", GenerateCacheKey(CacheKeyProof, "ABC"))
	assert.Equal(t, "price:coingecko:usd-coin", GenerateCacheKey(CacheKeyPrice, "coingecko", "USD-Coin"))
}

func TestCacheService_Proofs(t *testing.T) {
	mr, redis := newTestRedis(t)
	ctx := testContext(t)
	c := NewCacheService(redis, time.Minute, time.Hour)

	artifact := testArtifact()
	require.NoError(t, c.StoreProof(ctx, artifact))
	assert.True(t, mr.Exists("proof:"+strings.Repeat("e", 64)))
	assert.Equal(t, time.Hour, mr.TTL("proof:"+strings.Repeat("e", 64)))

	got, err := c.GetProof(ctx, strings.Repeat("e", 64))
	require.NoError(t, err)
	assert.Equal(t, artifact, got)

	_, err = c.GetProof(ctx, strings.Repeat("0", 64))
	assert.True(t, errors.Is(err, ErrCacheMiss))

	assert.Error(t, c.StoreProof(ctx, &types.ProofArtifact{}))
	assert.Error(t, c.StoreProof(ctx, nil))
}

func TestCacheService_ProofWithoutTTL(t *testing.T) {
	mr, redis := newTestRedis(t)
	c := NewCacheService(redis, time.Minute, 0)

	require.NoError(t, c.StoreProof(testContext(t), testArtifact()))
	assert.Equal(t, time.Duration(0), mr.TTL("proof:"+strings.Repeat("e", 64)))
}

func TestCacheService_CorruptProof(t *testing.T) {
	mr, redis := newTestRedis(t)
	c := NewCacheService(redis, time.Minute, 0)

	require.NoError(t, mr.Set("proof:deadbeef", "{not json"))
	_, err := c.GetProof(testContext(t), "deadbeef")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss))
}

func TestCacheService_Prices(t *testing.T) {
	mr, redis := newTestRedis(t)
	ctx := testContext(t)
	c := NewCacheService(redis, 5*time.Minute, 0)

	_, ok, err := c.GetPrice(ctx, "coingecko", "ethereum")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetPrice(ctx, "coingecko", "ethereum", 2000.5))
	price, ok, err := c.GetPrice(ctx, "coingecko", "ethereum")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2000.5, price)

	mr.FastForward(6 * time.Minute)
	_, ok, err = c.GetPrice(ctx, "coingecko", "ethereum")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set("price:coinbase:eth", "abc"))
	_, _, err = c.GetPrice(ctx, "coinbase", "ETH")
	assert.Error(t, err)
}

func TestCacheService_RedisDown(t *testing.T) {
	mr, redis := newTestRedis(t)
	c := NewCacheService(redis, time.Minute, 0)
	mr.Close()

	_, ok, err := c.GetPrice(testContext(t), "coingecko", "ethereum")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, c.Ping(testContext(t)))
}
