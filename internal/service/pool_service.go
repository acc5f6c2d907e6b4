// Package service is the orchestration facade behind the HTTP API. It wraps
// the registry and the repositories, adds a Redis read-model cache for pool
// projections, and converts between SOL amounts at the boundary and the
// integer lamports every internal computation runs on.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/commitment-pool/internal/clock"
	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/logging"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/registry"
	"github.com/commitment-pool/internal/storage"
	"github.com/commitment-pool/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Lifecycle is the registry surface the service drives
type Lifecycle interface {
	CreatePool(ctx context.Context, params *registry.CreateParams, now time.Time) (*models.Pool, error)
	Join(ctx context.Context, poolID, wallet string, now time.Time) (*models.Pool, error)
}

// PoolStore reads pools
type PoolStore interface {
	Get(ctx context.Context, poolID string) (*models.Pool, error)
	ListPublic(ctx context.Context, limit, offset int) ([]*models.Pool, error)
	ListByStatus(ctx context.Context, statuses ...types.PoolStatus) ([]*models.Pool, error)
}

// ParticipantStore reads participants
type ParticipantStore interface {
	Get(ctx context.Context, poolID, wallet string) (*models.Participant, error)
	ListByPool(ctx context.Context, poolID string) ([]*models.Participant, error)
}

// VerificationStore reads verification verdicts
type VerificationStore interface {
	Get(ctx context.Context, poolID, wallet string, day int) (*models.VerificationRecord, error)
	ListByPoolWallet(ctx context.Context, poolID, wallet string) ([]*models.VerificationRecord, error)
	ListByPoolDay(ctx context.Context, poolID string, day int) ([]*models.VerificationRecord, error)
}

// PayoutStore reads the per-wallet settlement ledger
type PayoutStore interface {
	ListPayouts(ctx context.Context, poolID string) ([]*models.Payout, error)
}

// EvidenceStore persists honor-system evidence submissions
type EvidenceStore interface {
	Create(ctx context.Context, e *models.EvidenceSubmission) error
}

// IdentityStore persists wallet identity bindings
type IdentityStore interface {
	Bind(ctx context.Context, b *models.IdentityBinding) error
	ListByWallet(ctx context.Context, wallet string) ([]*models.IdentityBinding, error)
}

// Cache is the read-model cache. A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidatePool(ctx context.Context, poolID string) error
}

// Auditor records service-level writes
type Auditor interface {
	Record(poolID, wallet, kind string, payload map[string]interface{})
}

// Config holds the dependencies for the pool service
type Config struct {
	Lifecycle     Lifecycle
	Pools         PoolStore
	Participants  ParticipantStore
	Verifications VerificationStore
	Payouts       PayoutStore
	Evidence      EvidenceStore
	Identities    IdentityStore
	Cache         Cache // optional
	CacheTTL      time.Duration
	Audit         Auditor
	Clock         clock.Clock
}

// PoolService exposes the pool operations the API layer consumes
type PoolService struct {
	lifecycle     Lifecycle
	pools         PoolStore
	participants  ParticipantStore
	verifications VerificationStore
	payouts       PayoutStore
	evidence      EvidenceStore
	identities    IdentityStore
	cache         Cache
	cacheTTL      time.Duration
	audit         Auditor
	clk           clock.Clock
}

// NewPoolService creates a new pool service
func NewPoolService(cfg *Config) (*PoolService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle is required")
	}
	if cfg.Pools == nil {
		return nil, fmt.Errorf("pool store is required")
	}
	if cfg.Participants == nil {
		return nil, fmt.Errorf("participant store is required")
	}
	if cfg.Verifications == nil {
		return nil, fmt.Errorf("verification store is required")
	}
	if cfg.Payouts == nil {
		return nil, fmt.Errorf("payout store is required")
	}
	if cfg.Evidence == nil {
		return nil, fmt.Errorf("evidence store is required")
	}
	if cfg.Identities == nil {
		return nil, fmt.Errorf("identity store is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("auditor is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}

	return &PoolService{
		lifecycle:     cfg.Lifecycle,
		pools:         cfg.Pools,
		participants:  cfg.Participants,
		verifications: cfg.Verifications,
		payouts:       cfg.Payouts,
		evidence:      cfg.Evidence,
		identities:    cfg.Identities,
		cache:         cfg.Cache,
		cacheTTL:      cacheTTL,
		audit:         cfg.Audit,
		clk:           clk,
	}, nil
}

// PoolView is the API projection of a pool. Amounts appear both in lamports
// and in SOL.
type PoolView struct {
	*models.Pool
	StakeSol            string `json:"stakeSol"`
	TotalStakedLamports int64  `json:"totalStakedLamports"`
	TotalStakedSol      string `json:"totalStakedSol"`
}

// ParticipantView is the API projection of a participant's progress
type ParticipantView struct {
	*models.Participant
	StakeSol  string `json:"stakeSol"`
	Progress  string `json:"progress"` // daysVerified / durationDays
	PayoutSol string `json:"payoutSol,omitempty"`
}

// PayoutView is the API projection of a settlement payout
type PayoutView struct {
	*models.Payout
	AmountSol string `json:"amountSol"`
}

// CreatePool validates and creates a pool
func (s *PoolService) CreatePool(ctx context.Context, params *registry.CreateParams) (*PoolView, error) {
	pool, err := s.lifecycle.CreatePool(ctx, params, s.clk.Now())
	if err != nil {
		return nil, err
	}
	return s.poolView(pool), nil
}

// JoinPool adds a wallet to a pool and locks its stake
func (s *PoolService) JoinPool(ctx context.Context, poolID, wallet string) (*PoolView, error) {
	pool, err := s.lifecycle.Join(ctx, poolID, wallet, s.clk.Now())
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, poolID)
	return s.poolView(pool), nil
}

// GetPool returns the cached pool projection, falling back to Postgres
func (s *PoolService) GetPool(ctx context.Context, poolID string) (*PoolView, error) {
	key := poolCacheKey(poolID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var view PoolView
			if err := json.Unmarshal([]byte(raw), &view); err == nil {
				return &view, nil
			}
		}
	}

	pool, err := s.pools.Get(ctx, poolID)
	if err != nil {
		return nil, err
	}
	view := s.poolView(pool)

	if s.cache != nil {
		if raw, err := json.Marshal(view); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
				logging.WithError(err).WithField("poolId", poolID).Warn("Failed to cache pool projection")
			}
		}
	}
	return view, nil
}

// ListPools returns public pools, optionally filtered by status
func (s *PoolService) ListPools(ctx context.Context, status string, limit, offset int) ([]*PoolView, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	if status == "" {
		pools, err := s.pools.ListPublic(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		return s.poolViews(pools), nil
	}

	st := types.PoolStatus(status)
	if !validPoolStatus(st) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown pool status %q", status))
	}

	pools, err := s.pools.ListByStatus(ctx, st)
	if err != nil {
		return nil, err
	}

	public := pools[:0]
	for _, p := range pools {
		if p.IsPublic {
			public = append(public, p)
		}
	}
	if offset >= len(public) {
		return []*PoolView{}, nil
	}
	public = public[offset:]
	if len(public) > limit {
		public = public[:limit]
	}
	return s.poolViews(public), nil
}

// ListParticipants returns progress projections for every wallet in a pool
func (s *PoolService) ListParticipants(ctx context.Context, poolID string) ([]*ParticipantView, error) {
	pool, err := s.pools.Get(ctx, poolID)
	if err != nil {
		return nil, err
	}

	participants, err := s.participants.ListByPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	views := make([]*ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, participantView(pool, p))
	}
	return views, nil
}

// ListVerifications returns the verdict history of a pool filtered by wallet,
// day, or both. At least one filter is required.
func (s *PoolService) ListVerifications(ctx context.Context, poolID, wallet string, day int) ([]*models.VerificationRecord, error) {
	switch {
	case wallet != "" && day > 0:
		rec, err := s.verifications.Get(ctx, poolID, wallet, day)
		if err != nil {
			return nil, err
		}
		return []*models.VerificationRecord{rec}, nil
	case wallet != "":
		return s.verifications.ListByPoolWallet(ctx, poolID, wallet)
	case day > 0:
		return s.verifications.ListByPoolDay(ctx, poolID, day)
	default:
		return nil, apperrors.NewValidationError("a wallet or day filter is required")
	}
}

// ListPayouts returns the settlement ledger of a pool
func (s *PoolService) ListPayouts(ctx context.Context, poolID string) ([]*PayoutView, error) {
	payouts, err := s.payouts.ListPayouts(ctx, poolID)
	if err != nil {
		return nil, err
	}
	views := make([]*PayoutView, 0, len(payouts))
	for _, p := range payouts {
		views = append(views, &PayoutView{Payout: p, AmountSol: LamportsToSol(p.Amount)})
	}
	return views, nil
}

// EvidenceRequest is a daily honor-system submission
type EvidenceRequest struct {
	PoolID      string `json:"poolId"`
	Wallet      string `json:"wallet"`
	Day         int    `json:"day"` // 0 means the current day
	EvidenceRef string `json:"evidenceRef"`
	Quantity    int64  `json:"quantity"`
}

// SubmitEvidence records evidence for an evidence_upload pool. Submissions
// are accepted for the currently open day window only; replacements within
// the open window upsert the earlier submission.
func (s *PoolService) SubmitEvidence(ctx context.Context, req *EvidenceRequest) (*models.EvidenceSubmission, error) {
	if req.PoolID == "" || req.Wallet == "" {
		return nil, apperrors.NewValidationError("poolId and wallet are required")
	}
	if req.EvidenceRef == "" {
		return nil, apperrors.NewValidationError("evidenceRef is required")
	}
	if req.Quantity < 0 {
		return nil, apperrors.NewValidationError("quantity cannot be negative")
	}

	pool, err := s.pools.Get(ctx, req.PoolID)
	if err != nil {
		return nil, err
	}
	if pool.Goal.Kind != types.GoalEvidenceUpload {
		return nil, apperrors.NewValidationError("pool does not accept evidence submissions")
	}
	if pool.Halted || pool.Status != types.PoolActive {
		return nil, apperrors.NewStateError(req.PoolID, pool.Status, "submit evidence")
	}

	if _, err := s.participants.Get(ctx, req.PoolID, req.Wallet); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	current := pool.CurrentDay(now)
	day := req.Day
	if day == 0 {
		day = current
	}
	if day != current {
		return nil, apperrors.NewWindowClosedError(req.PoolID, day)
	}

	submission := &models.EvidenceSubmission{
		EvidenceID:  uuid.New().String(),
		PoolID:      req.PoolID,
		Wallet:      req.Wallet,
		Day:         day,
		EvidenceRef: req.EvidenceRef,
		Quantity:    req.Quantity,
		SubmittedAt: now,
	}
	if err := s.evidence.Create(ctx, submission); err != nil {
		return nil, err
	}

	s.audit.Record(req.PoolID, req.Wallet, storage.AuditEvidenceSubmit, map[string]interface{}{
		"day":      day,
		"quantity": req.Quantity,
	})
	return submission, nil
}

// BindIdentity records a wallet-to-provider identity binding. The caller is
// the trusted account-linking flow; the service does not re-verify ownership.
func (s *PoolService) BindIdentity(ctx context.Context, wallet, provider, identityRef string) (*models.IdentityBinding, error) {
	if wallet == "" || provider == "" || identityRef == "" {
		return nil, apperrors.NewValidationError("wallet, provider, and identityRef are required")
	}

	binding := &models.IdentityBinding{
		Wallet:      wallet,
		Provider:    provider,
		IdentityRef: identityRef,
		BoundAt:     s.clk.Now(),
	}
	if err := s.identities.Bind(ctx, binding); err != nil {
		return nil, err
	}

	s.audit.Record("", wallet, storage.AuditIdentityBound, map[string]interface{}{
		"provider": provider,
	})
	return binding, nil
}

// ListIdentityBindings returns every provider binding of a wallet
func (s *PoolService) ListIdentityBindings(ctx context.Context, wallet string) ([]*models.IdentityBinding, error) {
	if wallet == "" {
		return nil, apperrors.NewValidationError("wallet is required")
	}
	return s.identities.ListByWallet(ctx, wallet)
}

func (s *PoolService) poolView(pool *models.Pool) *PoolView {
	total := pool.StakeAmount * int64(pool.ParticipantCount)
	return &PoolView{
		Pool:                pool,
		StakeSol:            LamportsToSol(pool.StakeAmount),
		TotalStakedLamports: total,
		TotalStakedSol:      LamportsToSol(total),
	}
}

func (s *PoolService) poolViews(pools []*models.Pool) []*PoolView {
	views := make([]*PoolView, 0, len(pools))
	for _, p := range pools {
		views = append(views, s.poolView(p))
	}
	return views
}

func participantView(pool *models.Pool, p *models.Participant) *ParticipantView {
	view := &ParticipantView{
		Participant: p,
		StakeSol:    LamportsToSol(p.StakeLocked),
		Progress:    progressFraction(p.DaysVerified, pool.DurationDays),
	}
	if p.PayoutAmount > 0 {
		view.PayoutSol = LamportsToSol(p.PayoutAmount)
	}
	return view
}

func progressFraction(daysVerified, durationDays int) string {
	if durationDays <= 0 {
		return "0"
	}
	return decimal.NewFromInt(int64(daysVerified)).
		Div(decimal.NewFromInt(int64(durationDays))).
		Round(4).String()
}

func (s *PoolService) invalidate(ctx context.Context, poolID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePool(ctx, poolID); err != nil {
		logging.WithError(err).WithField("poolId", poolID).Warn("Failed to invalidate pool cache")
	}
}

func poolCacheKey(poolID string) string {
	return fmt.Sprintf("pool:%s", poolID)
}

func validPoolStatus(s types.PoolStatus) bool {
	switch s {
	case types.PoolRecruiting, types.PoolFilled, types.PoolActive,
		types.PoolEnded, types.PoolSettled, types.PoolExpired, types.PoolRefunded:
		return true
	}
	return false
}
