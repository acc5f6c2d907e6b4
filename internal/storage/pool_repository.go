package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

// PoolRepository handles pool and participant persistence
type PoolRepository struct {
	db *PostgresDB
}

// NewPoolRepository creates a new pool repository
func NewPoolRepository(db *PostgresDB) *PoolRepository {
	return &PoolRepository{db: db}
}

const poolColumns = `
	pool_id, name, creator_wallet, goal_spec, stake_amount, duration_days,
	min_participants, max_participants, tolerance_days, distribution_mode,
	winner_percent, charity_address, is_public, created_at, recruitment_deadline,
	filled_at, auto_start_time, start_timestamp, end_timestamp, status, halted,
	participant_count, updated_at
`

// Create inserts a new pool in Recruiting state together with its empty
// escrow account, in one transaction.
func (r *PoolRepository) Create(ctx context.Context, pool *models.Pool) error {
	goalJSON, err := json.Marshal(pool.Goal)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid goal spec: %v", err))
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("create pool", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	query := `
		INSERT INTO pools (
			pool_id, name, creator_wallet, goal_spec, stake_amount, duration_days,
			min_participants, max_participants, tolerance_days, distribution_mode,
			winner_percent, charity_address, is_public, created_at, recruitment_deadline,
			filled_at, auto_start_time, start_timestamp, end_timestamp, status, halted,
			participant_count, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23)
	`

	_, err = tx.Exec(ctx, query,
		pool.PoolID,
		pool.Name,
		pool.CreatorWallet,
		goalJSON,
		pool.StakeAmount,
		pool.DurationDays,
		pool.MinParticipants,
		pool.MaxParticipants,
		pool.ToleranceDays,
		pool.DistributionMode,
		pool.WinnerPercent,
		pool.CharityAddress,
		pool.IsPublic,
		pool.CreatedAt,
		pool.RecruitmentDeadline,
		pool.FilledAt,
		pool.AutoStartTime,
		pool.StartTimestamp,
		pool.EndTimestamp,
		pool.Status,
		pool.Halted,
		pool.ParticipantCount,
		pool.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("insert pool", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO escrow_accounts (pool_id, total_balance, yield_accrued, locked, updated_at)
		 VALUES ($1, 0, 0, false, $2)`,
		pool.PoolID, pool.CreatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("insert escrow account", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabaseError("commit pool", err)
	}
	return nil
}

// Get retrieves a pool by ID
func (r *PoolRepository) Get(ctx context.Context, poolID string) (*models.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE pool_id = $1`

	pool, err := scanPool(r.db.Pool().QueryRow(ctx, query, poolID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("pool", poolID)
		}
		return nil, apperrors.NewDatabaseError("get pool", err)
	}
	return pool, nil
}

// ListByStatus retrieves all pools in any of the given statuses.
// Used by the agent to find pools due for a transition, sweep, or settlement.
func (r *PoolRepository) ListByStatus(ctx context.Context, statuses ...types.PoolStatus) ([]*models.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE status = ANY($1) ORDER BY created_at`

	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}

	rows, err := r.db.Pool().Query(ctx, query, strs)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pools by status", err)
	}
	defer rows.Close()

	return scanPools(rows)
}

// ListPublic retrieves public pools newest first
func (r *PoolRepository) ListPublic(ctx context.Context, limit, offset int) ([]*models.Pool, error) {
	query := `SELECT ` + poolColumns + `
		FROM pools WHERE is_public = true
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool().Query(ctx, query, limit, offset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list public pools", err)
	}
	defer rows.Close()

	return scanPools(rows)
}

// ListByWallet retrieves pools a wallet participates in
func (r *PoolRepository) ListByWallet(ctx context.Context, wallet string) ([]*models.Pool, error) {
	query := `SELECT ` + poolColumns + `
		FROM pools p
		JOIN participants pt ON pt.pool_id = p.pool_id
		WHERE pt.wallet = $1
		ORDER BY p.created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query, wallet)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pools by wallet", err)
	}
	defer rows.Close()

	return scanPools(rows)
}

// Transition moves a pool from one of the allowed source statuses to the
// target status. Returns the number of rows changed: 0 means the pool was
// not in an allowed source status, which callers treat as a no-op replay.
func (r *PoolRepository) Transition(ctx context.Context, poolID string, from []types.PoolStatus, to types.PoolStatus, now time.Time, set map[string]time.Time) (bool, error) {
	strs := make([]string, len(from))
	for i, s := range from {
		strs[i] = string(s)
	}

	query := `UPDATE pools SET status = $1, updated_at = $2`
	args := []interface{}{string(to), now}
	i := 3
	for _, col := range []string{"filled_at", "auto_start_time", "start_timestamp", "end_timestamp"} {
		if t, ok := set[col]; ok {
			query += fmt.Sprintf(", %s = $%d", col, i)
			args = append(args, t)
			i++
		}
	}
	query += fmt.Sprintf(" WHERE pool_id = $%d AND status = ANY($%d) AND NOT halted", i, i+1)
	args = append(args, poolID, strs)

	tag, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return false, apperrors.NewDatabaseError("transition pool", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetHalted flags or clears the halted state of a pool. A halted pool is
// skipped by all automatic processing until an operator intervenes.
func (r *PoolRepository) SetHalted(ctx context.Context, poolID string, halted bool, now time.Time) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE pools SET halted = $1, updated_at = $2 WHERE pool_id = $3`,
		halted, now, poolID,
	)
	if err != nil {
		return apperrors.NewDatabaseError("set pool halted", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("pool", poolID)
	}
	return nil
}

// Join adds a participant to a pool, credits its escrow account, and records
// the deposit ledger entry in one transaction. The pool row is locked so
// capacity checks and the participant count stay consistent under concurrent
// joins. Returns the updated pool.
func (r *PoolRepository) Join(ctx context.Context, poolID, wallet string, now time.Time) (*models.Pool, error) {
	tx, err := r.db.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, apperrors.NewDatabaseError("join pool", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	query := `SELECT ` + poolColumns + ` FROM pools WHERE pool_id = $1 FOR UPDATE`
	pool, err := scanPool(tx.QueryRow(ctx, query, poolID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("pool", poolID)
		}
		return nil, apperrors.NewDatabaseError("lock pool", err)
	}

	if pool.Status != types.PoolRecruiting && pool.Status != types.PoolFilled {
		return nil, apperrors.NewPoolNotJoinableError(poolID, pool.Status)
	}
	if pool.ParticipantCount >= pool.MaxParticipants {
		return nil, apperrors.NewCapacityError(poolID, pool.MaxParticipants)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE pool_id = $1 AND wallet = $2)`,
		poolID, wallet,
	).Scan(&exists)
	if err != nil {
		return nil, apperrors.NewDatabaseError("check participant", err)
	}
	if exists {
		return nil, &apperrors.CategorizedError{
			Category:   apperrors.CategoryCapacity,
			StatusCode: 409,
			Code:       apperrors.CodeDuplicateWallet,
			Message:    fmt.Sprintf("wallet %s already joined pool %s", wallet, poolID),
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO participants (pool_id, wallet, stake_locked, joined_at, status, days_verified, payout_amount)
		 VALUES ($1, $2, $3, $4, $5, 0, 0)`,
		poolID, wallet, pool.StakeAmount, now, types.ParticipantActive,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("insert participant", err)
	}

	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE escrow_accounts SET total_balance = total_balance + $1, updated_at = $2
		 WHERE pool_id = $3 RETURNING total_balance`,
		pool.StakeAmount, now, poolID,
	).Scan(&newBalance)
	if err != nil {
		return nil, apperrors.NewDatabaseError("credit escrow", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (pool_id, wallet, kind, amount, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		poolID, wallet, types.EntryDeposit, pool.StakeAmount, newBalance, now,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("record deposit", err)
	}

	pool.ParticipantCount++
	pool.UpdatedAt = now
	_, err = tx.Exec(ctx,
		`UPDATE pools SET participant_count = $1, updated_at = $2 WHERE pool_id = $3`,
		pool.ParticipantCount, now, poolID,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("update participant count", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.NewDatabaseError("commit join", err)
	}
	return pool, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPool(row rowScanner) (*models.Pool, error) {
	var pool models.Pool
	var goalJSON []byte

	err := row.Scan(
		&pool.PoolID,
		&pool.Name,
		&pool.CreatorWallet,
		&goalJSON,
		&pool.StakeAmount,
		&pool.DurationDays,
		&pool.MinParticipants,
		&pool.MaxParticipants,
		&pool.ToleranceDays,
		&pool.DistributionMode,
		&pool.WinnerPercent,
		&pool.CharityAddress,
		&pool.IsPublic,
		&pool.CreatedAt,
		&pool.RecruitmentDeadline,
		&pool.FilledAt,
		&pool.AutoStartTime,
		&pool.StartTimestamp,
		&pool.EndTimestamp,
		&pool.Status,
		&pool.Halted,
		&pool.ParticipantCount,
		&pool.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	goal, err := types.ParseGoalSpec(goalJSON)
	if err != nil {
		return nil, fmt.Errorf("corrupt goal spec for pool %s: %w", pool.PoolID, err)
	}
	pool.Goal = *goal

	return &pool, nil
}

func scanPools(rows pgx.Rows) ([]*models.Pool, error) {
	var pools []*models.Pool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan pool", err)
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate pools", err)
	}
	return pools, nil
}
