package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/privaudit/internal/types"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyProof is for proof artifacts, keyed by proof hash
	CacheKeyProof CacheKeyType = "proof"
	// CacheKeyPrice is for USD quotes, keyed by source and asset id
	CacheKeyPrice CacheKeyType = "price"
)

// CacheService stores proof artifacts and price quotes in Redis
type CacheService struct {
	redis    *RedisCache
	priceTTL time.Duration
	proofTTL time.Duration
}

// NewCacheService creates a new cache service. A zero proofTTL keeps
// artifacts until they are evicted.
func NewCacheService(redis *RedisCache, priceTTL, proofTTL time.Duration) *CacheService {
	return &CacheService{
		redis:    redis,
		priceTTL: priceTTL,
		proofTTL: proofTTL,
	}
}

// GenerateCacheKey builds <type>:<param1>:<param2>... with lowercased params
func GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// StoreProof saves an artifact under proof:<proofHash>
func (c *CacheService) StoreProof(ctx context.Context, artifact *types.ProofArtifact) error {
	if artifact == nil || artifact.ProofHash == "" {
		return fmt.Errorf("artifact has no proof hash")
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	return c.redis.Set(ctx, GenerateCacheKey(CacheKeyProof, artifact.ProofHash), data, c.proofTTL)
}

// GetProof loads an artifact by proof hash. It returns ErrCacheMiss when the
// hash is unknown.
func (c *CacheService) GetProof(ctx context.Context, proofHash string) (*types.ProofArtifact, error) {
	data, err := c.redis.Get(ctx, GenerateCacheKey(CacheKeyProof, proofHash))
	if err != nil {
		return nil, err
	}
	var artifact types.ProofArtifact
	if err := json.Unmarshal([]byte(data), &artifact); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached artifact: %w", err)
	}
	return &artifact, nil
}

// GetPrice implements adapter.PriceCache
func (c *CacheService) GetPrice(ctx context.Context, source, id string) (float64, bool, error) {
	data, err := c.redis.Get(ctx, GenerateCacheKey(CacheKeyPrice, source, id))
	if errors.Is(err, ErrCacheMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get price from cache: %w", err)
	}
	price, err := strconv.ParseFloat(data, 64)
	if err != nil {
		return 0, false, fmt.Errorf("cached price is not a number: %w", err)
	}
	return price, true, nil
}

// SetPrice implements adapter.PriceCache
func (c *CacheService) SetPrice(ctx context.Context, source, id string, price float64) error {
	value := strconv.FormatFloat(price, 'f', -1, 64)
	return c.redis.Set(ctx, GenerateCacheKey(CacheKeyPrice, source, id), value, c.priceTTL)
}

// Ping checks the underlying Redis connection
func (c *CacheService) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx)
}
