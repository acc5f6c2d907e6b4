package api

import (
	"net/http"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/service"
)

// handleSubmitEvidence handles POST /api/evidence
func (s *Server) handleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	var req service.EvidenceRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperrors.CodeValidation, "Invalid request body", nil)
		return
	}

	submission, err := s.pools.SubmitEvidence(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, submission)
}
