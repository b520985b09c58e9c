package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privaudit/internal/ratelimit"
	"github.com/privaudit/internal/service"
	"github.com/privaudit/internal/storage"
	"github.com/privaudit/internal/types"
)

const testDAO = "0x1234567890123456789012345678901234567890"

// mockReportService scripts the report pipeline
type mockReportService struct {
	generateFunc func(ctx context.Context, req service.ReportRequest) (*service.ReportResult, error)
	getProofFunc func(ctx context.Context, proofHash string) (*types.ProofArtifact, error)
	listFunc     func(ctx context.Context, daoAddress string, limit int) ([]*storage.ArchivedReport, error)
	health       *service.HealthCheck

	lastRequest service.ReportRequest
	generated   int
}

func (m *mockReportService) Generate(ctx context.Context, req service.ReportRequest) (*service.ReportResult, error) {
	m.lastRequest = req
	m.generated++
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	return sampleResult(req.DAOAddress, req.Source), nil
}

func (m *mockReportService) VerifyProof(ctx context.Context, artifact *types.ProofArtifact) types.VerificationResult {
	return types.VerificationResult{
		IsValid:       artifact.Commitment == "valid",
		PublicSignals: []string{artifact.Commitment},
	}
}

func (m *mockReportService) GetProof(ctx context.Context, proofHash string) (*types.ProofArtifact, error) {
	if m.getProofFunc != nil {
		return m.getProofFunc(ctx, proofHash)
	}
	return &types.ProofArtifact{ProofHash: proofHash, Scheme: types.SchemeCommitment}, nil
}

func (m *mockReportService) ListReports(ctx context.Context, daoAddress string, limit int) ([]*storage.ArchivedReport, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, daoAddress, limit)
	}
	return []*storage.ArchivedReport{}, nil
}

func (m *mockReportService) Stats() map[types.DataSource]service.SourceStats {
	return map[types.DataSource]service.SourceStats{
		types.SourceSimple: {Requests: 3},
	}
}

func (m *mockReportService) Health() *service.HealthCheck {
	if m.health != nil {
		return m.health
	}
	return &service.HealthCheck{Passed: true, Issues: []string{}}
}

type mockQuota struct {
	decision ratelimit.Decision
	err      error
	costs    []int
}

func (m *mockQuota) TryConsume(ctx context.Context, client string, cost int) (ratelimit.Decision, error) {
	m.costs = append(m.costs, cost)
	return m.decision, m.err
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

func sampleResult(address string, source types.DataSource) *service.ReportResult {
	snap := &types.TreasurySnapshot{
		DAOAddress: address,
		Timestamp:  time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli(),
		Assets: []types.AssetBalance{{
			Address:      "0x0000000000000000000000000000000000000000",
			Symbol:       "ETH",
			Name:         "Ethereum",
			Balance:      "1000000000000000000",
			Decimals:     18,
			PriceUSD:     3000,
			ValueUSD:     3000,
			Type:         types.AssetTypeToken,
			ContractType: types.ContractNative,
		}},
		TotalValueUSD: 3000,
		Network:       "ethereum",
		DataSource:    source,
	}
	return &service.ReportResult{
		Report: &types.ReportData{
			ID:              "report-1",
			DAOName:         "Test DAO",
			DAOAddress:      address,
			ReportDate:      "2026-01-02",
			ProofVerified:   true,
			ProofHash:       "abc",
			Summary:         "Treasury holds $3,000.",
			Recommendations: []string{"Diversify"},
			RiskAssessment:  "Medium Risk",
		},
		Artifact:     &types.ProofArtifact{Scheme: types.SchemeCommitment, ProofHash: "abc", DAOAddress: address},
		Verification: types.VerificationResult{IsValid: true, PublicSignals: []string{}},
		Snapshot:     snap,
		Metadata:     service.ReportMetadata{DataSource: source, ProofScheme: types.SchemeCommitment},
	}
}

func createTestServer(reports ReportServiceInterface, opts ...Option) *Server {
	return NewServer(&ServerConfig{
		Host:            "localhost",
		Port:            "0",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: time.Second,
	}, reports, opts...)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s := createTestServer(&mockReportService{}, WithDependency("redis", mockPinger{}))

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "privaudit", resp.Service)
	assert.Equal(t, "ok", resp.Dependencies["redis"])
	assert.Equal(t, int64(3), resp.Pipeline[types.SourceSimple].Requests)
}

func TestHealthEndpoint_DegradedStillOK(t *testing.T) {
	tests := []struct {
		name string
		svc  *mockReportService
		opts []Option
	}{
		{
			name: "dependency down",
			svc:  &mockReportService{},
			opts: []Option{WithDependency("postgres", mockPinger{err: errors.New("connection refused")})},
		},
		{
			name: "pipeline unhealthy",
			svc:  &mockReportService{health: &service.HealthCheck{Passed: false, Issues: []string{"real: failure rate 80%"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestServer(tt.svc, tt.opts...)
			w := doJSON(t, s, http.MethodGet, "/health", nil)
			require.Equal(t, http.StatusOK, w.Code)

			var resp healthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "degraded", resp.Status)
		})
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	s := createTestServer(&mockReportService{})

	w := doJSON(t, s, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, w).Code)

	w = doJSON(t, s, http.MethodGet, "/api/generate-simple-report", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, ErrCodeMethodNotAllowed, decodeError(t, w).Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	s := createTestServer(&mockReportService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))

	w = doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestCORSPreflight(t *testing.T) {
	s := createTestServer(&mockReportService{})

	req := httptest.NewRequest(http.MethodOptions, "/api/generate-simple-report", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}

func TestCompressionMiddleware(t *testing.T) {
	s := createTestServer(&mockReportService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternalError, decodeError(t, w).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	s := NewServer(&ServerConfig{RequestsPerSecond: 0.001, Burst: 2}, &mockReportService{})

	send := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.1:5000"
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("/api/reports").Code)
	assert.Equal(t, http.StatusOK, send("/api/reports").Code)

	w := send("/api/reports")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	resp := decodeError(t, w)
	assert.Equal(t, ErrCodeRateLimitExceeded, resp.Code)
	assert.EqualValues(t, 2, resp.Details["burst"])
	assert.EqualValues(t, 1, resp.Details["retryAfter"])

	// health is exempt
	assert.Equal(t, http.StatusOK, send("/health").Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("a")
	now = now.Add(5 * time.Minute)
	rl.getLimiter("b")
	require.Equal(t, 2, rl.size())

	assert.Equal(t, 1, rl.Cleanup(time.Minute))
	assert.Equal(t, 1, rl.size())
}

func TestNewRateLimiter_Unlimited(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	limiter := rl.getLimiter("client")
	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote host", "192.168.1.7:4000", "", "192.168.1.7"},
		{"forwarded first hop", "10.0.0.1:80", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"bare remote", "192.168.1.7", "", "192.168.1.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
