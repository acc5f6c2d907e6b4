// Package registry owns the pool lifecycle. Transitions are monotonic and
// idempotent: a replayed transition on a pool that already moved on is a
// no-op, never an error.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/logging"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/storage"
	"github.com/commitment-pool/internal/types"
)

// PoolStore is the pool persistence surface the registry drives
type PoolStore interface {
	Create(ctx context.Context, pool *models.Pool) error
	Get(ctx context.Context, poolID string) (*models.Pool, error)
	ListByStatus(ctx context.Context, statuses ...types.PoolStatus) ([]*models.Pool, error)
	Transition(ctx context.Context, poolID string, from []types.PoolStatus, to types.PoolStatus, now time.Time, set map[string]time.Time) (bool, error)
	Join(ctx context.Context, poolID, wallet string, now time.Time) (*models.Pool, error)
	SetHalted(ctx context.Context, poolID string, halted bool, now time.Time) error
}

// Auditor records what happened to a pool
type Auditor interface {
	Record(poolID, wallet, kind string, payload map[string]interface{})
}

// IdentityStore resolves wallet identity bindings. Joining an
// external-activity pool requires a binding for the pool's provider.
type IdentityStore interface {
	Get(ctx context.Context, wallet, provider string) (*models.IdentityBinding, error)
}

// EscrowLocker freezes a pool's escrow accounts. Locking is idempotent.
type EscrowLocker interface {
	Lock(ctx context.Context, poolID string, now time.Time) error
}

// Registry manages pool creation, joins, and lifecycle transitions
type Registry struct {
	pools      PoolStore
	identities IdentityStore
	escrow     EscrowLocker
	audit      Auditor
}

// NewRegistry creates a new registry
func NewRegistry(pools PoolStore, identities IdentityStore, escrow EscrowLocker, audit Auditor) *Registry {
	return &Registry{pools: pools, identities: identities, escrow: escrow, audit: audit}
}

// CreateParams holds the parameters for creating a pool
type CreateParams struct {
	Name                string
	CreatorWallet       string
	Goal                types.GoalSpec
	StakeAmount         int64
	DurationDays        int
	MinParticipants     int
	MaxParticipants     int
	ToleranceDays       int
	DistributionMode    types.DistributionMode
	WinnerPercent       int
	CharityAddress      string
	IsPublic            bool
	RecruitmentDeadline time.Time
}

// CreatePool validates the parameters and creates a pool in Recruiting state
func (r *Registry) CreatePool(ctx context.Context, params *CreateParams, now time.Time) (*models.Pool, error) {
	if err := validateCreate(params, now); err != nil {
		return nil, err
	}

	winnerPercent := params.WinnerPercent
	if params.DistributionMode == types.ModeCompetitive {
		winnerPercent = 100
	}
	if params.DistributionMode == types.ModeCharity {
		winnerPercent = 0
	}

	// A recruitment deadline at or before creation means an immediate-start
	// pool: it skips recruiting and is scheduled to start right away
	immediate := !params.RecruitmentDeadline.After(now)

	pool := &models.Pool{
		PoolID:              uuid.New().String(),
		Name:                params.Name,
		CreatorWallet:       params.CreatorWallet,
		Goal:                params.Goal,
		StakeAmount:         params.StakeAmount,
		DurationDays:        params.DurationDays,
		MinParticipants:     params.MinParticipants,
		MaxParticipants:     params.MaxParticipants,
		ToleranceDays:       params.ToleranceDays,
		DistributionMode:    params.DistributionMode,
		WinnerPercent:       winnerPercent,
		CharityAddress:      params.CharityAddress,
		IsPublic:            params.IsPublic,
		CreatedAt:           now,
		RecruitmentDeadline: params.RecruitmentDeadline,
		Status:              types.PoolRecruiting,
		UpdatedAt:           now,
	}

	if immediate {
		pool.Status = types.PoolFilled
		pool.FilledAt = &now
		autoStart := now
		pool.AutoStartTime = &autoStart
	}

	if err := r.pools.Create(ctx, pool); err != nil {
		return nil, err
	}

	r.audit.Record(pool.PoolID, params.CreatorWallet, storage.AuditPoolCreated, map[string]interface{}{
		"name":        pool.Name,
		"goalKind":    string(pool.Goal.Kind),
		"stakeAmount": pool.StakeAmount,
		"duration":    pool.DurationDays,
	})
	return pool, nil
}

func validateCreate(params *CreateParams, now time.Time) error {
	if params.Name == "" {
		return apperrors.NewValidationError("pool name is required")
	}
	if params.CreatorWallet == "" {
		return apperrors.NewValidationError("creator wallet is required")
	}
	if err := params.Goal.Validate(); err != nil {
		return err
	}
	if params.StakeAmount <= 0 {
		return apperrors.NewValidationError("stake amount must be positive")
	}
	if params.DurationDays < 1 {
		return apperrors.NewValidationError("duration must be at least one day")
	}
	if params.MinParticipants < 1 {
		return apperrors.NewValidationError("minimum participants must be at least 1")
	}
	if params.MaxParticipants < params.MinParticipants {
		return apperrors.NewValidationError("maximum participants cannot be below minimum")
	}
	if params.ToleranceDays < 0 || params.ToleranceDays >= params.DurationDays {
		return apperrors.NewValidationError("tolerance days must be below the pool duration")
	}
	switch params.DistributionMode {
	case types.ModeCompetitive:
	case types.ModeCharity:
		if params.CharityAddress == "" {
			return apperrors.NewValidationError("charity address is required for charity distribution")
		}
	case types.ModeSplit:
		if params.WinnerPercent < 1 || params.WinnerPercent > 99 {
			return apperrors.NewValidationError("split winner percent must be between 1 and 99")
		}
		if params.CharityAddress == "" {
			return apperrors.NewValidationError("charity address is required for split distribution")
		}
	default:
		return apperrors.NewValidationError("unknown distribution mode")
	}

	return nil
}

// Join adds a wallet to a pool and fills the pool when it reaches capacity
func (r *Registry) Join(ctx context.Context, poolID, wallet string, now time.Time) (*models.Pool, error) {
	if wallet == "" {
		return nil, apperrors.NewValidationError("wallet is required")
	}

	existing, err := r.pools.Get(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if existing.Goal.Kind == types.GoalExternalActivity {
		// Joining is refused up front rather than letting every day fail
		// with an unverified identity
		if _, err := r.identities.Get(ctx, wallet, existing.Goal.ExternalActivity.Provider); err != nil {
			return nil, err
		}
	}

	pool, err := r.pools.Join(ctx, poolID, wallet, now)
	if err != nil {
		return nil, err
	}

	r.audit.Record(poolID, wallet, storage.AuditParticipantJoin, map[string]interface{}{
		"stakeLocked":      pool.StakeAmount,
		"participantCount": pool.ParticipantCount,
	})

	if pool.ParticipantCount >= pool.MaxParticipants && pool.Status == types.PoolRecruiting {
		if err := r.fill(ctx, pool, now); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

// fill moves a pool to Filled and schedules its automatic start at the next
// UTC midnight, so day windows align to calendar days.
func (r *Registry) fill(ctx context.Context, pool *models.Pool, now time.Time) error {
	autoStart := nextUTCMidnight(now)
	changed, err := r.pools.Transition(ctx,
		pool.PoolID,
		[]types.PoolStatus{types.PoolRecruiting},
		types.PoolFilled,
		now,
		map[string]time.Time{
			"filled_at":       now,
			"auto_start_time": autoStart,
		},
	)
	if err != nil {
		return err
	}
	if changed {
		pool.Status = types.PoolFilled
		pool.FilledAt = &now
		pool.AutoStartTime = &autoStart
		r.recordTransition(pool.PoolID, types.PoolRecruiting, types.PoolFilled)
	}
	return nil
}

// Advance applies whichever transition is due for the pool at the given
// instant. Returns true when the pool changed state. Calling Advance on a
// pool with nothing due is a no-op.
func (r *Registry) Advance(ctx context.Context, pool *models.Pool, now time.Time) (bool, error) {
	if pool.Halted {
		return false, nil
	}

	switch pool.Status {
	case types.PoolRecruiting:
		return r.advanceRecruiting(ctx, pool, now)
	case types.PoolFilled:
		return r.advanceFilled(ctx, pool, now)
	case types.PoolActive:
		return r.advanceActive(ctx, pool, now)
	default:
		// Ended, settled, expired, and refunded pools advance through
		// settlement, not the registry
		return false, nil
	}
}

func (r *Registry) advanceRecruiting(ctx context.Context, pool *models.Pool, now time.Time) (bool, error) {
	if now.Before(pool.RecruitmentDeadline) {
		return false, nil
	}

	if pool.ParticipantCount >= pool.MinParticipants {
		if err := r.fill(ctx, pool, now); err != nil {
			return false, err
		}
		return pool.Status == types.PoolFilled, nil
	}

	changed, err := r.pools.Transition(ctx,
		pool.PoolID,
		[]types.PoolStatus{types.PoolRecruiting},
		types.PoolExpired,
		now, nil,
	)
	if err != nil {
		return false, err
	}
	if changed {
		pool.Status = types.PoolExpired
		r.recordTransition(pool.PoolID, types.PoolRecruiting, types.PoolExpired)
	}
	return changed, nil
}

func (r *Registry) advanceFilled(ctx context.Context, pool *models.Pool, now time.Time) (bool, error) {
	if pool.AutoStartTime == nil || now.Before(*pool.AutoStartTime) {
		return false, nil
	}

	start := *pool.AutoStartTime
	end := start.Add(time.Duration(pool.DurationDays) * 24 * time.Hour)

	// Stakes freeze before the pool goes active. Locking first is safe to
	// replay: joins only happen in Recruiting, and a failed transition
	// leaves the pool Filled so the next tick locks again.
	if err := r.escrow.Lock(ctx, pool.PoolID, now); err != nil {
		return false, err
	}

	changed, err := r.pools.Transition(ctx,
		pool.PoolID,
		[]types.PoolStatus{types.PoolFilled},
		types.PoolActive,
		now,
		map[string]time.Time{
			"start_timestamp": start,
			"end_timestamp":   end,
		},
	)
	if err != nil {
		return false, err
	}
	if changed {
		pool.Status = types.PoolActive
		pool.StartTimestamp = &start
		pool.EndTimestamp = &end
		r.recordTransition(pool.PoolID, types.PoolFilled, types.PoolActive)
	}
	return changed, nil
}

func (r *Registry) advanceActive(ctx context.Context, pool *models.Pool, now time.Time) (bool, error) {
	if pool.EndTimestamp == nil || now.Before(*pool.EndTimestamp) {
		return false, nil
	}

	changed, err := r.pools.Transition(ctx,
		pool.PoolID,
		[]types.PoolStatus{types.PoolActive},
		types.PoolEnded,
		now, nil,
	)
	if err != nil {
		return false, err
	}
	if changed {
		pool.Status = types.PoolEnded
		r.recordTransition(pool.PoolID, types.PoolActive, types.PoolEnded)
	}
	return changed, nil
}

// Halt flags a pool so automatic processing skips it
func (r *Registry) Halt(ctx context.Context, poolID, reason string, now time.Time) error {
	if err := r.pools.SetHalted(ctx, poolID, true, now); err != nil {
		return err
	}
	logging.WithFields(map[string]interface{}{
		"poolId": poolID,
		"reason": reason,
	}).Error("Pool halted")
	r.audit.Record(poolID, "", storage.AuditPoolHalted, map[string]interface{}{"reason": reason})
	return nil
}

// Resume clears the halted flag after operator intervention
func (r *Registry) Resume(ctx context.Context, poolID string, now time.Time) error {
	return r.pools.SetHalted(ctx, poolID, false, now)
}

func (r *Registry) recordTransition(poolID string, from, to types.PoolStatus) {
	r.audit.Record(poolID, "", storage.AuditPoolTransition, map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
}

func nextUTCMidnight(t time.Time) time.Time {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(24 * time.Hour)
}
