package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error *types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: &types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondServiceError maps a categorized error onto the wire. Uncategorized
// errors surface as a generic 500 without leaking internals.
func respondServiceError(w http.ResponseWriter, err error) {
	categorized := apperrors.Categorize(err)
	if categorized == nil {
		respondError(w, http.StatusInternalServerError, apperrors.CodeInternal, "An internal error occurred", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(categorized.StatusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: categorized.ToServiceError()})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
