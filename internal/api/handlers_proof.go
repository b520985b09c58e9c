package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/privaudit/internal/types"
)

// verifyRequest is the body of POST /api/verify-proof
type verifyRequest struct {
	ProofArtifact *types.ProofArtifact `json:"proofArtifact"`
}

// handleVerifyProof handles POST /api/verify-proof. success reports that
// the artifact was checked; the verdict is verificationResult.isValid.
func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"cause": err.Error(),
		})
		return
	}
	if req.ProofArtifact == nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Proof artifact is required", nil)
		return
	}

	result := s.reports.VerifyProof(r.Context(), req.ProofArtifact)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"verificationResult": result,
	})
}

// handleGetProof handles GET /api/proofs/{proofHash}
func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	proofHash := strings.TrimPrefix(mux.Vars(r)["proofHash"], "0x")
	if len(proofHash) != 64 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Proof hash must be 64 hex characters", nil)
		return
	}

	artifact, err := s.reports.GetProof(r.Context(), proofHash)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"proofArtifact": artifact,
	})
}

// handleListReports handles GET /api/reports?daoAddress=&limit=
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	reports, err := s.reports.ListReports(r.Context(), strings.TrimSpace(query.Get("daoAddress")), limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(reports),
		"reports": reports,
	})
}
