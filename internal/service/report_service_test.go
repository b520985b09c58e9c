package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privaudit/internal/adapter"
	apperrors "github.com/privaudit/internal/errors"
	"github.com/privaudit/internal/proof"
	"github.com/privaudit/internal/report"
	"github.com/privaudit/internal/storage"
	"github.com/privaudit/internal/types"
)

const testDAO = "0x1111111111111111111111111111111111111111"

type fakeFetcher struct {
	kind  types.DataSource
	snap  *types.TreasurySnapshot
	err   error
	calls int
}

func (f *fakeFetcher) Kind() types.DataSource { return f.kind }

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, daoAddress string) (*types.TreasurySnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

type fakeFactory struct {
	fetcher *fakeFetcher
	err     error
	keys    []string
}

func (f *fakeFactory) Fetcher(source types.DataSource, etherscanKey string) (SnapshotFetcher, error) {
	f.keys = append(f.keys, etherscanKey)
	if f.err != nil {
		return nil, f.err
	}
	f.fetcher.kind = source
	return f.fetcher, nil
}

type fakeArchive struct {
	mu        sync.Mutex
	saved     []*storage.ArchivedReport
	saveErr   error
	lastLimit int
}

func (a *fakeArchive) Save(ctx context.Context, rep *storage.ArchivedReport) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saveErr != nil {
		return a.saveErr
	}
	a.saved = append(a.saved, rep)
	return nil
}

func (a *fakeArchive) ListByDAO(ctx context.Context, daoAddress string, limit int) ([]*storage.ArchivedReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastLimit = limit
	return a.saved, nil
}

type fakePublisher struct {
	refs storage.StorageRefs
	err  error
	docs [][]byte
}

func (p *fakePublisher) Enabled() bool { return true }

func (p *fakePublisher) Publish(ctx context.Context, name string, data []byte) (storage.StorageRefs, error) {
	p.docs = append(p.docs, data)
	return p.refs, p.err
}

type scriptedRecommender struct{ text string }

func (r scriptedRecommender) Name() string { return "scripted" }

func (r scriptedRecommender) Recommend(ctx context.Context, prompt string) (string, error) {
	return r.text, nil
}

func testNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func demoSnapshot(source types.DataSource) *types.TreasurySnapshot {
	return adapter.DemoSnapshot(testDAO, source, testNow())
}

func newTestCache(t *testing.T) *storage.CacheService {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := storage.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })
	return storage.NewCacheService(rc, time.Minute, 0)
}

func newTestService(t *testing.T, factory FetcherFactory, cfg ReportServiceConfig) *ReportService {
	t.Helper()
	cfg.Fetchers = factory
	if cfg.Proofs == nil {
		cfg.Proofs = proof.NewRegistry(types.SchemeCommitment, proof.NewCommitmentProver())
	}
	return NewReportService(cfg)
}

func requireCategorized(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	catErr := apperrors.Categorize(err)
	assert.Equal(t, status, catErr.StatusCode)
	assert.Equal(t, code, catErr.Code)
}

func TestGenerate_Success(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{snap: demoSnapshot(types.SourceSimple)}}
	cache := newTestCache(t)
	archive := &fakeArchive{}
	svc := newTestService(t, factory, ReportServiceConfig{Cache: cache, Archive: archive})

	result, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO, Source: types.SourceSimple, EtherscanAPIKey: "k"})
	require.NoError(t, err)

	assert.True(t, result.Verification.IsValid)
	assert.True(t, result.Report.ProofVerified)
	assert.Equal(t, result.Artifact.ProofHash, result.Report.ProofHash)
	assert.Equal(t, types.SourceSimple, result.Metadata.DataSource)
	assert.Equal(t, types.SchemeCommitment, result.Metadata.ProofScheme)
	assert.Equal(t, types.RecommendationsRules, result.Metadata.RecommendationSource)
	assert.Empty(t, result.Metadata.FallbackReason)
	assert.Nil(t, result.Metadata.Storage)
	assert.Equal(t, 2_000_000.0, result.Metrics.TotalAssets)
	assert.Equal(t, []string{"k"}, factory.keys)

	stored, err := svc.GetProof(context.Background(), result.Artifact.ProofHash)
	require.NoError(t, err)
	assert.Equal(t, result.Artifact.Commitment, stored.Commitment)

	require.Len(t, archive.saved, 1)
	saved := archive.saved[0]
	assert.Equal(t, result.Report.ID, saved.ID)
	assert.True(t, saved.IsSolvent)
	assert.True(t, saved.ProofValid)
	assert.Equal(t, "2000000", saved.TotalAssets.String())
	assert.Equal(t, "200000", saved.TotalLiabilities.String())

	stats := svc.Stats()[types.SourceSimple]
	assert.Equal(t, int64(1), stats.Requests)
	assert.Equal(t, int64(0), stats.Failures)
}

func TestGenerate_DefaultsToSimple(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{snap: demoSnapshot(types.SourceSimple)}}
	svc := newTestService(t, factory, ReportServiceConfig{})

	_, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO})
	require.NoError(t, err)
	assert.Equal(t, types.SourceSimple, factory.fetcher.kind)
}

func TestGenerate_InvalidAddress(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{}}
	svc := newTestService(t, factory, ReportServiceConfig{})

	for _, addr := range []string{"", "0x123", "1111111111111111111111111111111111111111"} {
		_, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: addr})
		requireCategorized(t, err, 400, "INVALID_ADDRESS")
	}
	assert.Equal(t, 0, factory.fetcher.calls)
}

func TestGenerate_MissingAPIKey(t *testing.T) {
	factory := &fakeFactory{err: apperrors.NewMissingAPIKeyError("etherscan")}
	svc := newTestService(t, factory, ReportServiceConfig{})

	_, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO, Source: types.SourceReal})
	requireCategorized(t, err, 400, "MISSING_API_KEY")
	assert.Equal(t, int64(1), svc.Stats()[types.SourceReal].Failures)
}

func exhausted() *adapter.FetchError {
	return &adapter.FetchError{Attempts: []adapter.AttemptError{
		{Endpoint: "https://a", Err: errors.New("dial a")},
		{Endpoint: "https://b", Err: errors.New("dial b")},
		{Endpoint: "https://c", Err: errors.New("timeout c")},
	}}
}

func TestGenerate_FetchExhausted(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{err: exhausted()}}
	svc := newTestService(t, factory, ReportServiceConfig{})

	_, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO})
	requireCategorized(t, err, 502, "FETCH_FAILED")
	assert.Contains(t, err.Error(), "timeout c")
	assert.Equal(t, 3, apperrors.Categorize(err).Details["attempts"])
}

func TestGenerate_DemoFallback(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{err: exhausted()}}
	svc := newTestService(t, factory, ReportServiceConfig{})

	result, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO, AllowDemoFallback: true})
	require.NoError(t, err)

	assert.Equal(t, types.SourceFallbackDemo, result.Metadata.DataSource)
	assert.Equal(t, types.SourceFallbackDemo, result.Snapshot.DataSource)
	assert.Contains(t, result.Metadata.FallbackReason, "timeout c")
	assert.True(t, result.Verification.IsValid)

	stats := svc.Stats()[types.SourceSimple]
	assert.Equal(t, int64(1), stats.Fallbacks)
	assert.Equal(t, int64(0), stats.Failures)
}

func TestGenerate_FallbackOnlyForExhaustion(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{err: errors.New("boom")}}
	svc := newTestService(t, factory, ReportServiceConfig{})

	_, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO, AllowDemoFallback: true})
	requireCategorized(t, err, 502, "PROVIDER_ERROR")
}

func TestGenerate_InvalidScheme(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{snap: demoSnapshot(types.SourceSimple)}}
	svc := newTestService(t, factory, ReportServiceConfig{})

	_, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO, ProofScheme: "plonk"})
	requireCategorized(t, err, 400, "INVALID_PARAMETER")
}

func TestGenerate_UnregisteredScheme(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{snap: demoSnapshot(types.SourceSimple)}}
	svc := newTestService(t, factory, ReportServiceConfig{})

	// groth16 parses but has no prover in this registry
	_, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO, ProofScheme: "groth16"})
	requireCategorized(t, err, 422, "PROOF_GENERATION_FAILED")
	assert.ErrorIs(t, err, proof.ErrUnknownScheme)
}

func TestGenerate_EmptyTreasury(t *testing.T) {
	empty := &types.TreasurySnapshot{
		DAOAddress:  testDAO,
		Timestamp:   testNow().UnixMilli(),
		Assets:      []types.AssetBalance{},
		Liabilities: []types.LiabilityBalance{},
		Network:     "ethereum",
		DataSource:  types.SourceSimple,
	}
	factory := &fakeFactory{fetcher: &fakeFetcher{snap: empty}}
	svc := newTestService(t, factory, ReportServiceConfig{})

	result, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO})
	require.NoError(t, err)

	assert.Zero(t, result.Metrics.TotalAssets)
	assert.Zero(t, result.Metrics.TotalLiabilities)
	assert.Zero(t, result.Metrics.NetWorth)
	assert.True(t, result.Verification.IsValid)
	assert.Equal(t, []string{report.RecMaintain}, result.Report.Recommendations)
}

func TestGenerate_LLMRecommendations(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{snap: demoSnapshot(types.SourceSimple)}}
	svc := newTestService(t, factory, ReportServiceConfig{})

	var gotKey string
	svc.recommender = func(apiKey string) report.Recommender {
		gotKey = apiKey
		return scriptedRecommender{text: "1. Move reserves to stablecoins\n2. Publish a quarterly budget"}
	}

	result, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO, AIAPIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "sk-test", gotKey)
	assert.Equal(t, types.RecommendationsLLM, result.Metadata.RecommendationSource)
	assert.Equal(t, []string{"Move reserves to stablecoins", "Publish a quarterly budget"}, result.Report.Recommendations)
}

func TestGenerate_StorageFailuresAreNotFatal(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{snap: demoSnapshot(types.SourceSimple)}}
	publisher := &fakePublisher{refs: storage.StorageRefs{IPFSHash: "QmPartial"}, err: errors.New("arweave: 400")}
	svc := newTestService(t, factory, ReportServiceConfig{
		Archive:   &fakeArchive{saveErr: errors.New("connection refused")},
		Publisher: publisher,
	})

	result, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO})
	require.NoError(t, err)
	require.NotNil(t, result.Metadata.Storage)
	assert.Equal(t, "QmPartial", result.Metadata.Storage.IPFSHash)

	require.Len(t, publisher.docs, 1)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(publisher.docs[0], &doc))
	assert.Contains(t, doc, "reportData")
	assert.Contains(t, doc, "proofArtifact")
	assert.NotContains(t, doc, "treasuryData")
}

func TestGenerateFromSnapshot_NilSnapshot(t *testing.T) {
	svc := newTestService(t, &fakeFactory{}, ReportServiceConfig{})
	_, err := svc.GenerateFromSnapshot(context.Background(), nil, GenerateOptions{})
	requireCategorized(t, err, 400, "INVALID_PARAMETER")
}

func TestGetProof(t *testing.T) {
	svc := newTestService(t, &fakeFactory{}, ReportServiceConfig{})
	_, err := svc.GetProof(context.Background(), "abc")
	requireCategorized(t, err, 503, "SERVICE_UNAVAILABLE")

	svc = newTestService(t, &fakeFactory{}, ReportServiceConfig{Cache: newTestCache(t)})
	_, err = svc.GetProof(context.Background(), "abc")
	requireCategorized(t, err, 404, "NOT_FOUND")
}

func TestVerifyProof_Tampered(t *testing.T) {
	factory := &fakeFactory{fetcher: &fakeFetcher{snap: demoSnapshot(types.SourceSimple)}}
	svc := newTestService(t, factory, ReportServiceConfig{})

	result, err := svc.Generate(context.Background(), ReportRequest{DAOAddress: testDAO})
	require.NoError(t, err)
	assert.True(t, svc.VerifyProof(context.Background(), result.Artifact).IsValid)

	tampered := *result.Artifact
	inflated := 5_000_000.0
	tampered.Metadata.TotalAssets = &inflated
	assert.False(t, svc.VerifyProof(context.Background(), &tampered).IsValid)
	assert.False(t, svc.VerifyProof(context.Background(), nil).IsValid)
}

func TestListReports(t *testing.T) {
	svc := newTestService(t, &fakeFactory{}, ReportServiceConfig{})
	_, err := svc.ListReports(context.Background(), testDAO, 5)
	requireCategorized(t, err, 503, "SERVICE_UNAVAILABLE")

	archive := &fakeArchive{saved: []*storage.ArchivedReport{{ID: "r1", DAOAddress: testDAO}}}
	svc = newTestService(t, &fakeFactory{}, ReportServiceConfig{Archive: archive})

	reports, err := svc.ListReports(context.Background(), testDAO, 0)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
	assert.Equal(t, storage.DefaultHistoryLimit, archive.lastLimit)

	_, err = svc.ListReports(context.Background(), "", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, archive.lastLimit)

	_, err = svc.ListReports(context.Background(), "nope", 5)
	requireCategorized(t, err, 400, "INVALID_ADDRESS")

	_, err = svc.ListReports(context.Background(), testDAO, 500)
	requireCategorized(t, err, 400, "INVALID_PARAMETER")
}
