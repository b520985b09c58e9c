package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/privaudit/internal/adapter"
	"github.com/privaudit/internal/circuitbreaker"
	"github.com/privaudit/internal/config"
	apperrors "github.com/privaudit/internal/errors"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/metrics"
	"github.com/privaudit/internal/proof"
	"github.com/privaudit/internal/report"
	"github.com/privaudit/internal/storage"
	"github.com/privaudit/internal/types"
)

// ProofStore keeps generated artifacts for later lookup
type ProofStore interface {
	StoreProof(ctx context.Context, artifact *types.ProofArtifact) error
	GetProof(ctx context.Context, proofHash string) (*types.ProofArtifact, error)
}

// ReportArchive keeps the history of generated reports
type ReportArchive interface {
	Save(ctx context.Context, rep *storage.ArchivedReport) error
	ListByDAO(ctx context.Context, daoAddress string, limit int) ([]*storage.ArchivedReport, error)
}

// ReportPublisher pushes report documents to content addressed storage
type ReportPublisher interface {
	Enabled() bool
	Publish(ctx context.Context, name string, data []byte) (storage.StorageRefs, error)
}

// ReportRequest is one report generation request
type ReportRequest struct {
	DAOAddress        string
	Source            types.DataSource
	EtherscanAPIKey   string
	AIAPIKey          string
	ProofScheme       string
	AllowDemoFallback bool
}

// GenerateOptions control the part of the pipeline after the snapshot
type GenerateOptions struct {
	ProofScheme    string
	AIAPIKey       string
	FallbackReason string
}

// ReportMetadata describes how a report was produced
type ReportMetadata struct {
	DataSource           types.DataSource           `json:"dataSource"`
	FallbackReason       string                     `json:"fallbackReason,omitempty"`
	ProofScheme          types.ProofScheme          `json:"proofScheme"`
	Network              string                     `json:"network"`
	GeneratedAt          time.Time                  `json:"generatedAt"`
	ProcessingTimeMs     int64                      `json:"processingTimeMs"`
	RecommendationSource types.RecommendationSource `json:"recommendationSource"`
	Storage              *storage.StorageRefs       `json:"storage,omitempty"`
}

// ReportResult is everything a report request returns
type ReportResult struct {
	Report       *types.ReportData
	Artifact     *types.ProofArtifact
	Verification types.VerificationResult
	Snapshot     *types.TreasurySnapshot
	Metrics      types.TreasuryMetrics
	Metadata     ReportMetadata
}

// ReportServiceConfig wires a ReportService. Cache, Archive and Publisher
// may be nil; the corresponding step is then skipped.
type ReportServiceConfig struct {
	Fetchers   FetcherFactory
	Calculator *metrics.Calculator
	Proofs     *proof.Registry
	AI         config.AIConfig
	Breakers   *circuitbreaker.Manager
	Cache      ProofStore
	Archive    ReportArchive
	Publisher  ReportPublisher
	Monitor    *PipelineMonitor
}

// ReportService runs the fetch, metrics, proof, verify and report pipeline
type ReportService struct {
	fetchers   FetcherFactory
	calculator *metrics.Calculator
	proofs     *proof.Registry
	cache      ProofStore
	archive    ReportArchive
	publisher  ReportPublisher
	monitor    *PipelineMonitor

	recommender func(apiKey string) report.Recommender
	now         func() time.Time
}

// NewReportService creates a new report service
func NewReportService(cfg ReportServiceConfig) *ReportService {
	calc := cfg.Calculator
	if calc == nil {
		calc = metrics.NewCalculator(metrics.DefaultBurnFraction)
	}
	monitor := cfg.Monitor
	if monitor == nil {
		monitor = NewPipelineMonitor()
	}
	aiCfg, breakers := cfg.AI, cfg.Breakers

	return &ReportService{
		fetchers:   cfg.Fetchers,
		calculator: calc,
		proofs:     cfg.Proofs,
		cache:      cfg.Cache,
		archive:    cfg.Archive,
		publisher:  cfg.Publisher,
		monitor:    monitor,
		recommender: func(apiKey string) report.Recommender {
			return report.NewRecommender(aiCfg, apiKey, breakers)
		},
		now: time.Now,
	}
}

// Generate fetches a snapshot for the request and runs the full pipeline
func (s *ReportService) Generate(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	start := s.now()
	source := req.Source
	if source == "" {
		source = types.SourceSimple
	}

	logger := logging.FromContext(ctx).WithFields(logging.Fields{
		"dao":    req.DAOAddress,
		"source": source,
	})
	ctx = logging.WithLogger(ctx, logger)

	if !adapter.ValidateAddress(req.DAOAddress) {
		return nil, apperrors.NewInvalidAddressError(req.DAOAddress).
			WithSuggestions("Use a 0x-prefixed 40 character hex address")
	}

	fetcher, err := s.fetchers.Fetcher(source, req.EtherscanAPIKey)
	if err != nil {
		s.monitor.Record(source, s.now().Sub(start), OutcomeFailure)
		return nil, err
	}

	outcome := OutcomeSuccess
	fallbackReason := ""
	snap, err := fetcher.FetchSnapshot(ctx, req.DAOAddress)
	if err != nil {
		var fetchErr *adapter.FetchError
		switch {
		case errors.As(err, &fetchErr) && req.AllowDemoFallback:
			logger.WithError(err).Warn("Every provider failed, substituting demo treasury")
			snap = adapter.DemoSnapshot(req.DAOAddress, types.SourceFallbackDemo, s.now())
			fallbackReason = err.Error()
			outcome = OutcomeFallback
		case errors.As(err, &fetchErr):
			s.monitor.Record(source, s.now().Sub(start), OutcomeFailure)
			return nil, apperrors.NewFetchExhaustedError(len(fetchErr.Attempts), fetchErr.LastCause()).
				WithSuggestions("Retry later or pass allowDemoFallback to see a sample report")
		case errors.Is(err, adapter.ErrInvalidAddress):
			s.monitor.Record(source, s.now().Sub(start), OutcomeFailure)
			return nil, apperrors.NewInvalidAddressError(req.DAOAddress)
		default:
			s.monitor.Record(source, s.now().Sub(start), OutcomeFailure)
			return nil, apperrors.NewProviderError(string(source), err)
		}
	}

	result, err := s.GenerateFromSnapshot(ctx, snap, GenerateOptions{
		ProofScheme:    req.ProofScheme,
		AIAPIKey:       req.AIAPIKey,
		FallbackReason: fallbackReason,
	})
	if err != nil {
		s.monitor.Record(source, s.now().Sub(start), OutcomeFailure)
		return nil, err
	}

	result.Metadata.ProcessingTimeMs = s.now().Sub(start).Milliseconds()
	s.monitor.Record(source, s.now().Sub(start), outcome)
	return result, nil
}

// GenerateFromSnapshot runs metrics, proof, verification and report
// generation over an existing snapshot, then persists the result on a best
// effort basis
func (s *ReportService) GenerateFromSnapshot(ctx context.Context, snap *types.TreasurySnapshot, opts GenerateOptions) (*ReportResult, error) {
	start := s.now()
	logger := logging.FromContext(ctx)

	if snap == nil {
		return nil, apperrors.NewInvalidParameterError("treasuryData", "snapshot is required")
	}

	scheme, err := s.resolveScheme(opts.ProofScheme)
	if err != nil {
		return nil, err
	}

	m := s.calculator.Calculate(snap)

	artifact, err := s.proofs.Generate(ctx, scheme, proof.NewStatement(snap, s.now()))
	if err != nil {
		return nil, apperrors.NewProofGenerationError(string(scheme), err)
	}
	verification := s.proofs.Verify(ctx, artifact)
	if !verification.IsValid {
		logger.WithField("reason", verification.Error).Warn("Freshly generated proof failed verification")
	}

	gen := report.NewGenerator(s.recommender(opts.AIAPIKey))
	rep := gen.Generate(ctx, report.Input{
		Snapshot:      snap,
		Metrics:       m,
		ProofVerified: verification.IsValid,
		ProofHash:     artifact.ProofHash,
	})

	result := &ReportResult{
		Report:       rep,
		Artifact:     artifact,
		Verification: verification,
		Snapshot:     snap,
		Metrics:      m,
		Metadata: ReportMetadata{
			DataSource:           snap.DataSource,
			FallbackReason:       opts.FallbackReason,
			ProofScheme:          artifact.Scheme,
			Network:              snap.Network,
			GeneratedAt:          s.now().UTC(),
			RecommendationSource: rep.RecommendationSource,
		},
	}

	s.persist(ctx, result)
	result.Metadata.ProcessingTimeMs = s.now().Sub(start).Milliseconds()

	logger.WithFields(logging.Fields{
		"reportId":  rep.ID,
		"proofHash": artifact.ProofHash,
		"valid":     verification.IsValid,
	}).Info("Report generated")
	return result, nil
}

func (s *ReportService) resolveScheme(requested string) (types.ProofScheme, error) {
	if strings.TrimSpace(requested) == "" {
		return s.proofs.DefaultScheme(), nil
	}
	scheme, err := proof.ParseScheme(requested)
	if err != nil {
		return "", apperrors.NewInvalidParameterError("proofScheme", "must be commitment or groth16")
	}
	return scheme, nil
}

// persist stores the artifact, archives the report and publishes it. None of
// these steps can fail the request.
func (s *ReportService) persist(ctx context.Context, result *ReportResult) {
	logger := logging.FromContext(ctx)

	if s.cache != nil {
		if err := s.cache.StoreProof(ctx, result.Artifact); err != nil {
			logger.WithError(err).Warn("Failed to cache proof artifact")
		}
	}

	if s.archive != nil {
		if err := s.archive.Save(ctx, archivedReport(result)); err != nil {
			logger.WithError(err).Warn("Failed to archive report")
		}
	}

	if s.publisher != nil && s.publisher.Enabled() {
		doc, err := PublishedDocument(result)
		if err != nil {
			logger.WithError(err).Warn("Failed to encode report for publishing")
			return
		}
		refs, err := s.publisher.Publish(ctx, fmt.Sprintf("report-%s.json", result.Report.ID), doc)
		if err != nil {
			logger.WithError(err).Warn("Failed to publish report")
		}
		if !refs.Empty() {
			result.Metadata.Storage = &refs
		}
	}
}

// PublishedDocument is the JSON pushed to IPFS and Arweave. It carries the
// report and its artifact but not the raw snapshot.
func PublishedDocument(result *ReportResult) ([]byte, error) {
	return json.Marshal(struct {
		Report       *types.ReportData        `json:"reportData"`
		Artifact     *types.ProofArtifact     `json:"proofArtifact"`
		Verification types.VerificationResult `json:"verificationResult"`
	}{result.Report, result.Artifact, result.Verification})
}

func archivedReport(result *ReportResult) *storage.ArchivedReport {
	return &storage.ArchivedReport{
		ID:               result.Report.ID,
		DAOAddress:       result.Snapshot.DAOAddress,
		DataSource:       result.Snapshot.DataSource,
		ProofScheme:      result.Artifact.Scheme,
		Commitment:       result.Artifact.Commitment,
		ProofHash:        result.Artifact.ProofHash,
		ProofValid:       result.Verification.IsValid,
		IsSolvent:        result.Metrics.IsSolvent(),
		TotalAssets:      decimal.NewFromFloat(result.Metrics.TotalAssets).Round(2),
		TotalLiabilities: decimal.NewFromFloat(result.Metrics.TotalLiabilities).Round(2),
		RiskAssessment:   result.Report.RiskAssessment,
		Report:           result.Report,
		CreatedAt:        result.Metadata.GeneratedAt,
	}
}

// VerifyProof checks an artifact supplied by a caller
func (s *ReportService) VerifyProof(ctx context.Context, artifact *types.ProofArtifact) types.VerificationResult {
	return s.proofs.Verify(ctx, artifact)
}

// GetProof returns a previously generated artifact
func (s *ReportService) GetProof(ctx context.Context, proofHash string) (*types.ProofArtifact, error) {
	if s.cache == nil {
		return nil, apperrors.NewServiceUnavailableError("proof cache").
			WithSuggestions("Set REDIS_ENABLED=true to keep generated proofs")
	}
	artifact, err := s.cache.GetProof(ctx, strings.ToLower(proofHash))
	if errors.Is(err, storage.ErrCacheMiss) {
		return nil, apperrors.NewNotFoundError("proof", proofHash)
	}
	if err != nil {
		return nil, apperrors.NewCacheError("get proof", err)
	}
	return artifact, nil
}

// ListReports returns archived reports, newest first. An empty address lists
// every DAO.
func (s *ReportService) ListReports(ctx context.Context, daoAddress string, limit int) ([]*storage.ArchivedReport, error) {
	if s.archive == nil {
		return nil, apperrors.NewServiceUnavailableError("report archive").
			WithSuggestions("Set ARCHIVE_ENABLED=true and run cmd/migrate up")
	}
	if daoAddress != "" && !adapter.ValidateAddress(daoAddress) {
		return nil, apperrors.NewInvalidAddressError(daoAddress)
	}
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}
	if limit > 100 {
		return nil, apperrors.NewInvalidParameterError("limit", "must be at most 100")
	}

	reports, err := s.archive.ListByDAO(ctx, daoAddress, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list reports", err)
	}
	return reports, nil
}

// Stats returns pipeline statistics per data source
func (s *ReportService) Stats() map[types.DataSource]SourceStats {
	return s.monitor.GetStats()
}

// Health returns the pipeline health check
func (s *ReportService) Health() *HealthCheck {
	return s.monitor.CheckHealth()
}
