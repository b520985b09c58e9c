package api

import (
	"bytes"
	"net/http"

	"github.com/privaudit/internal/logging"
	"github.com/privaudit/internal/metrics"
	"github.com/privaudit/internal/report"
	"github.com/privaudit/internal/types"
)

// pdfRequest is the body of POST /api/generate-pdf
type pdfRequest struct {
	ReportData         *types.ReportData         `json:"reportData"`
	TreasuryData       *types.TreasurySnapshot   `json:"treasuryData,omitempty"`
	VerificationResult *types.VerificationResult `json:"verificationResult,omitempty"`
}

// handleGeneratePDF handles POST /api/generate-pdf
func (s *Server) handleGeneratePDF(w http.ResponseWriter, r *http.Request) {
	var req pdfRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"cause": err.Error(),
		})
		return
	}
	if req.ReportData == nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Report data is required", nil)
		return
	}

	address := req.ReportData.DAOAddress
	if req.TreasuryData != nil && req.TreasuryData.DAOAddress != "" {
		address = req.TreasuryData.DAOAddress
	}

	s.renderPDF(w, r, report.PDFInput{
		Report:       req.ReportData,
		Snapshot:     req.TreasuryData,
		Verification: req.VerificationResult,
		GeneratedAt:  s.now(),
	}, "privaudit-treasury-report-"+addressPrefix(address)+".pdf")
}

// handleTestPDF handles POST /api/test-pdf by rendering fixed sample data
func (s *Server) handleTestPDF(w http.ResponseWriter, r *http.Request) {
	snap, verification := samplePDFData(s.now().UnixMilli())
	m := metrics.NewCalculator(metrics.DefaultBurnFraction).Calculate(snap)

	rep := report.NewGenerator(nil).Generate(r.Context(), report.Input{
		Snapshot:      snap,
		Metrics:       m,
		ProofVerified: verification.IsValid,
	})
	rep.DAOName = "Sample DAO"
	rep.Summary = "Treasury analysis shows moderate holdings with room for diversification."
	rep.RiskAssessment = "High Risk"
	rep.Recommendations = []string{
		"Treasury holds $466,434 in digital assets",
		"Consider diversifying into stablecoins",
		"Monitor ETH price volatility",
	}

	s.renderPDF(w, r, report.PDFInput{
		Report:       rep,
		Snapshot:     snap,
		Verification: verification,
		GeneratedAt:  s.now(),
	}, "test-report.pdf")
}

func (s *Server) renderPDF(w http.ResponseWriter, r *http.Request, in report.PDFInput, filename string) {
	pdf, err := report.RenderPDF(in)
	if err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("PDF generation failed")
		respondError(w, http.StatusInternalServerError, ErrCodeRenderFailed, "Failed to generate PDF report", map[string]interface{}{
			"cause": err.Error(),
		})
		return
	}
	respondAttachment(w, "application/pdf", filename, pdf)
}

// samplePDFData is a single ETH holding with no liabilities
func samplePDFData(timestamp int64) (*types.TreasurySnapshot, *types.VerificationResult) {
	snap := &types.TreasurySnapshot{
		DAOAddress: "0x514910771af9ca656af840dff83e8264ecf986ca",
		Timestamp:  timestamp,
		Assets: []types.AssetBalance{{
			Address:      "0x0000000000000000000000000000000000000000",
			Symbol:       "ETH",
			Name:         "Ethereum",
			Balance:      "155478000000000000000",
			Decimals:     18,
			PriceUSD:     3000,
			ValueUSD:     466434,
			Type:         types.AssetTypeToken,
			ContractType: types.ContractNative,
		}},
		Liabilities:   []types.LiabilityBalance{},
		TotalValueUSD: 466434,
		Network:       "ethereum",
		DataSource:    types.SourceSimple,
	}
	return snap, &types.VerificationResult{IsValid: true, PublicSignals: []string{}}
}

// csvRequest is the body of POST /api/export-csv
type csvRequest struct {
	TreasuryData *types.TreasurySnapshot `json:"treasuryData"`
}

// handleExportCSV handles POST /api/export-csv
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	var req csvRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"cause": err.Error(),
		})
		return
	}
	if req.TreasuryData == nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Treasury data is required", nil)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteAssetsCSV(&buf, req.TreasuryData.Assets); err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("CSV export failed")
		respondError(w, http.StatusInternalServerError, ErrCodeRenderFailed, "Failed to export CSV", nil)
		return
	}
	respondAttachment(w, "text/csv; charset=utf-8", "treasury-assets-"+addressPrefix(req.TreasuryData.DAOAddress)+".csv", buf.Bytes())
}
