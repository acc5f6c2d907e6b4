package api

import (
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/commitment-pool/internal/errors"
)

// handleBindIdentity handles POST /api/identity-bindings. The caller is the
// trusted account-linking flow sitting behind the gateway; the binding is the
// only identity fact checkers ever trust.
func (s *Server) handleBindIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet      string `json:"wallet"`
		Provider    string `json:"provider"`
		IdentityRef string `json:"identityRef"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperrors.CodeValidation, "Invalid request body", nil)
		return
	}

	binding, err := s.pools.BindIdentity(r.Context(), req.Wallet, req.Provider, req.IdentityRef)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, binding)
}

// handleListIdentityBindings handles GET /api/identity-bindings/{wallet}
func (s *Server) handleListIdentityBindings(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]

	bindings, err := s.pools.ListIdentityBindings(r.Context(), wallet)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bindings": bindings,
		"count":    len(bindings),
	})
}
