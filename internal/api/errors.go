package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/privaudit/internal/errors"
	"github.com/privaudit/internal/logging"
)

// maxBodyBytes bounds every JSON request body
const maxBodyBytes = 1 << 20

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Success     bool                   `json:"success"`
	Error       string                 `json:"error"`
	Code        string                 `json:"code"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondErrorWithSuggestions(w, statusCode, code, message, details, nil)
}

func respondErrorWithSuggestions(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}, suggestions []string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(ErrorResponse{
		Success:     false,
		Error:       message,
		Code:        code,
		Details:     details,
		Suggestions: suggestions,
		Timestamp:   time.Now().UTC(),
	})
}

// respondServiceError maps a service error onto its categorized response.
// Internal errors are logged in full and reported generically.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	logger := logging.FromContext(r.Context()).WithError(err).WithField("code", catErr.Code)

	if catErr.Category == apperrors.CategorySystem && catErr.StatusCode == http.StatusInternalServerError {
		logger.Error("Request failed with internal error")
		respondError(w, catErr.StatusCode, ErrCodeInternalError, "An internal error occurred", nil)
		return
	}

	if catErr.StatusCode >= http.StatusInternalServerError {
		logger.Warn("Request failed")
	} else {
		logger.Debug("Request rejected")
	}

	details := make(map[string]interface{}, len(catErr.Details)+1)
	for k, v := range catErr.Details {
		details[k] = v
	}
	if catErr.Cause != nil {
		details["cause"] = catErr.Cause.Error()
	}
	respondErrorWithSuggestions(w, catErr.StatusCode, catErr.Code, catErr.Message, details, catErr.Suggestions)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondAttachment sends a file download.
func respondAttachment(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// parseJSONBody parses JSON request body.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("request body is empty")
		}
		return err
	}
	return nil
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeQuotaExceeded      = "QUOTA_EXCEEDED"
	ErrCodeRenderFailed       = "RENDER_FAILED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
