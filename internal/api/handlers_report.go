package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/privaudit/internal/adapter"
	apperrors "github.com/privaudit/internal/errors"
	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/ratelimit"
	"github.com/privaudit/internal/report"
	"github.com/privaudit/internal/service"
	"github.com/privaudit/internal/types"
)

// reportRequest is the body of both report endpoints
type reportRequest struct {
	DAOAddress        string `json:"daoAddress"`
	EtherscanAPIKey   string `json:"etherscanApiKey,omitempty"`
	AIAPIKey          string `json:"aiApiKey,omitempty"`
	ProofScheme       string `json:"proofScheme,omitempty"`
	GeneratePDF       bool   `json:"generatePDF,omitempty"`
	AllowDemoFallback bool   `json:"allowDemoFallback,omitempty"`
}

// reportResponse is the success body of both report endpoints
type reportResponse struct {
	Success            bool                     `json:"success"`
	ReportData         *types.ReportData        `json:"reportData"`
	ProofArtifact      *types.ProofArtifact     `json:"proofArtifact"`
	VerificationResult types.VerificationResult `json:"verificationResult"`
	TreasuryData       *types.TreasurySnapshot  `json:"treasuryData"`
	Metadata           service.ReportMetadata   `json:"metadata"`
}

// handleGenerateRealReport handles POST /api/generate-real-report
func (s *Server) handleGenerateRealReport(w http.ResponseWriter, r *http.Request) {
	s.generateReport(w, r, types.SourceReal)
}

// handleGenerateSimpleReport handles POST /api/generate-simple-report
func (s *Server) handleGenerateSimpleReport(w http.ResponseWriter, r *http.Request) {
	s.generateReport(w, r, types.SourceSimple)
}

func (s *Server) generateReport(w http.ResponseWriter, r *http.Request, source types.DataSource) {
	var req reportRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"cause": err.Error(),
		})
		return
	}

	req.DAOAddress = strings.TrimSpace(req.DAOAddress)
	if req.DAOAddress == "" {
		respondErrorWithSuggestions(w, http.StatusBadRequest, ErrCodeInvalidInput, "DAO address is required", nil,
			[]string{"Verify the DAO address is a valid Ethereum address"})
		return
	}

	// only the simple strategy offers these
	if source != types.SourceSimple {
		req.GeneratePDF = false
		req.AllowDemoFallback = false
	}

	// malformed addresses are rejected before they cost quota
	if !adapter.ValidateAddress(req.DAOAddress) {
		respondServiceError(w, r, apperrors.NewInvalidAddressError(req.DAOAddress).
			WithSuggestions("Use a 0x-prefixed 40 character hex address"))
		return
	}

	if !s.chargeQuota(w, r, source) {
		return
	}

	result, err := s.reports.Generate(r.Context(), service.ReportRequest{
		DAOAddress:        req.DAOAddress,
		Source:            source,
		EtherscanAPIKey:   req.EtherscanAPIKey,
		AIAPIKey:          req.AIAPIKey,
		ProofScheme:       req.ProofScheme,
		AllowDemoFallback: req.AllowDemoFallback,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if req.GeneratePDF {
		pdf, err := report.RenderPDF(report.PDFInput{
			Report:       result.Report,
			Snapshot:     result.Snapshot,
			Verification: &result.Verification,
			GeneratedAt:  s.now(),
		})
		if err == nil {
			respondAttachment(w, "application/pdf", "treasury-report-"+addressPrefix(req.DAOAddress)+".pdf", pdf)
			return
		}
		// fall through to the JSON report
		logging.FromContext(r.Context()).WithError(err).Warn("PDF generation failed")
	}

	respondJSON(w, http.StatusOK, reportResponse{
		Success:            true,
		ReportData:         result.Report,
		ProofArtifact:      result.Artifact,
		VerificationResult: result.Verification,
		TreasuryData:       result.Snapshot,
		Metadata:           result.Metadata,
	})
}

// chargeQuota charges the report against the client quota. It writes the
// 429 response and returns false when the quota is spent.
func (s *Server) chargeQuota(w http.ResponseWriter, r *http.Request, source types.DataSource) bool {
	if s.quota == nil {
		return true
	}

	decision, err := s.quota.TryConsume(r.Context(), clientIP(r), ratelimit.ReportCost(source))
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Warn("Report quota check failed, allowing request")
	}
	if decision.Allowed {
		return true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second) / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	respondServiceError(w, r, apperrors.NewQuotaExceededError(retryAfter, decision.Used).
		WithSuggestions("Simple reports cost less quota than real reports"))
	return false
}

// addressPrefix returns the first 8 characters of an address for file names
func addressPrefix(address string) string {
	if len(address) > 8 {
		return address[:8]
	}
	if address == "" {
		return "unknown"
	}
	return address
}
