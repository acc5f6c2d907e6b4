package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/registry"
	"github.com/commitment-pool/internal/service"
	"github.com/commitment-pool/internal/types"
)

// handleCreatePool handles POST /api/pools
func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name                string          `json:"name"`
		CreatorWallet       string          `json:"creatorWallet"`
		Goal                json.RawMessage `json:"goal"`
		StakeSol            string          `json:"stakeSol"`
		DurationDays        int             `json:"durationDays"`
		MinParticipants     int             `json:"minParticipants"`
		MaxParticipants     int             `json:"maxParticipants"`
		ToleranceDays       int             `json:"toleranceDays"`
		DistributionMode    string          `json:"distributionMode"`
		WinnerPercent       int             `json:"winnerPercent"`
		CharityAddress      string          `json:"charityAddress"`
		IsPublic            bool            `json:"isPublic"`
		RecruitmentDeadline time.Time       `json:"recruitmentDeadline"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperrors.CodeValidation, "Invalid request body", nil)
		return
	}

	goal, err := types.ParseGoalSpec(req.Goal)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	stake, err := service.SolToLamports(req.StakeSol)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	params := &registry.CreateParams{
		Name:                req.Name,
		CreatorWallet:       req.CreatorWallet,
		Goal:                *goal,
		StakeAmount:         stake,
		DurationDays:        req.DurationDays,
		MinParticipants:     req.MinParticipants,
		MaxParticipants:     req.MaxParticipants,
		ToleranceDays:       req.ToleranceDays,
		DistributionMode:    types.DistributionMode(req.DistributionMode),
		WinnerPercent:       req.WinnerPercent,
		CharityAddress:      req.CharityAddress,
		IsPublic:            req.IsPublic,
		RecruitmentDeadline: req.RecruitmentDeadline,
	}

	view, err := s.pools.CreatePool(r.Context(), params)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, view)
}

// handleListPools handles GET /api/pools?status=&limit=&offset=
func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	views, err := s.pools.ListPools(r.Context(), query.Get("status"), limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"pools": views,
		"count": len(views),
	})
}

// handleGetPool handles GET /api/pools/{id}
func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]

	view, err := s.pools.GetPool(r.Context(), poolID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleJoinPool handles POST /api/pools/{id}/join
func (s *Server) handleJoinPool(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]

	var req struct {
		Wallet string `json:"wallet"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apperrors.CodeValidation, "Invalid request body", nil)
		return
	}

	view, err := s.pools.JoinPool(r.Context(), poolID, req.Wallet)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// handleListParticipants handles GET /api/pools/{id}/participants
func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]

	views, err := s.pools.ListParticipants(r.Context(), poolID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"participants": views,
		"count":        len(views),
	})
}

// handleListVerifications handles GET /api/pools/{id}/verifications?wallet=&day=
func (s *Server) handleListVerifications(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]
	query := r.URL.Query()
	day, _ := strconv.Atoi(query.Get("day"))

	records, err := s.pools.ListVerifications(r.Context(), poolID, query.Get("wallet"), day)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"verifications": records,
		"count":         len(records),
	})
}

// handleListPayouts handles GET /api/pools/{id}/payouts
func (s *Server) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]

	views, err := s.pools.ListPayouts(r.Context(), poolID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"payouts": views,
		"count":   len(views),
	})
}
