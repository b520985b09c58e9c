// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/ratelimit"
	"github.com/privaudit/internal/service"
	"github.com/privaudit/internal/storage"
	"github.com/privaudit/internal/types"
)

// ReportServiceInterface defines the report pipeline operations the API uses
type ReportServiceInterface interface {
	Generate(ctx context.Context, req service.ReportRequest) (*service.ReportResult, error)
	VerifyProof(ctx context.Context, artifact *types.ProofArtifact) types.VerificationResult
	GetProof(ctx context.Context, proofHash string) (*types.ProofArtifact, error)
	ListReports(ctx context.Context, daoAddress string, limit int) ([]*storage.ArchivedReport, error)
	Stats() map[types.DataSource]service.SourceStats
	Health() *service.HealthCheck
}

// QuotaInterface charges report requests against a per-client budget
type QuotaInterface interface {
	TryConsume(ctx context.Context, client string, cost int) (ratelimit.Decision, error)
}

// Pinger is a dependency checked by /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	reports    ReportServiceInterface
	quota      QuotaInterface
	limiter    *RateLimiter
	deps       map[string]Pinger
	config     *ServerConfig
	now        func() time.Time
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64 // per client IP
	Burst             int
}

// Option configures optional server dependencies
type Option func(*Server)

// WithQuota charges every report request against quota
func WithQuota(quota QuotaInterface) Option {
	return func(s *Server) { s.quota = quota }
}

// WithDependency adds a named dependency to the health check
func WithDependency(name string, p Pinger) Option {
	return func(s *Server) { s.deps[name] = p }
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, reports ReportServiceInterface, opts ...Option) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		reports: reports,
		deps:    make(map[string]Pinger),
		config:  config,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.limiter = NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Set up middleware (order matters!)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RateLimitMiddleware(s.limiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Report endpoints
	api.HandleFunc("/generate-real-report", s.handleGenerateRealReport).Methods("POST")
	api.HandleFunc("/generate-simple-report", s.handleGenerateSimpleReport).Methods("POST")

	// Document endpoints
	api.HandleFunc("/generate-pdf", s.handleGeneratePDF).Methods("POST")
	api.HandleFunc("/test-pdf", s.handleTestPDF).Methods("POST")
	api.HandleFunc("/export-csv", s.handleExportCSV).Methods("POST")

	// Proof endpoints
	api.HandleFunc("/verify-proof", s.handleVerifyProof).Methods("POST")
	api.HandleFunc("/proofs/{proofHash}", s.handleGetProof).Methods("GET")

	// Archive endpoints
	api.HandleFunc("/reports", s.handleListReports).Methods("GET")

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed", nil)
	})
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Route not found", nil)
	})
}

// healthResponse is the body of GET /health
type healthResponse struct {
	Status       string                                   `json:"status"`
	Service      string                                   `json:"service"`
	Timestamp    time.Time                                `json:"timestamp"`
	Dependencies map[string]string                        `json:"dependencies"`
	Pipeline     map[types.DataSource]service.SourceStats `json:"pipeline"`
	Issues       []string                                 `json:"issues"`
}

// handleHealth handles health check requests.
// Dependency failures degrade the status but never fail the check, since
// reports still work without the cache and the archive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:       "healthy",
		Service:      "privaudit",
		Timestamp:    s.now().UTC(),
		Dependencies: make(map[string]string, len(s.deps)),
		Pipeline:     s.reports.Stats(),
	}

	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).WithError(err).WithField("dependency", name).Warn("Health check dependency failed")
			resp.Dependencies[name] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Dependencies[name] = "ok"
	}

	check := s.reports.Health()
	resp.Issues = check.Issues
	if !check.Passed {
		resp.Status = "degraded"
	}

	respondJSON(w, http.StatusOK, resp)
}

// Handler returns the root handler. CORS wraps the router so preflight
// requests are answered before route method matching.
func (s *Server) Handler() http.Handler {
	return CORSMiddleware(s.router)
}

// Start starts the HTTP server and the limiter cleanup loop.
func (s *Server) Start(ctx context.Context) error {
	go s.limiter.CleanupLoop(ctx, time.Minute, 10*time.Minute)

	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
