package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

// ParticipantRepository handles participant persistence
type ParticipantRepository struct {
	db *PostgresDB
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(db *PostgresDB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

const participantColumns = `pool_id, wallet, stake_locked, joined_at, status, days_verified, payout_amount`

// Get retrieves a participant by pool and wallet
func (r *ParticipantRepository) Get(ctx context.Context, poolID, wallet string) (*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE pool_id = $1 AND wallet = $2`

	var p models.Participant
	err := r.db.Pool().QueryRow(ctx, query, poolID, wallet).Scan(
		&p.PoolID, &p.Wallet, &p.StakeLocked, &p.JoinedAt, &p.Status, &p.DaysVerified, &p.PayoutAmount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("participant", wallet)
		}
		return nil, apperrors.NewDatabaseError("get participant", err)
	}
	return &p, nil
}

// ListByPool retrieves all participants of a pool in stable wallet order.
// Distribution relies on this ordering to place rounding remainders
// deterministically.
func (r *ParticipantRepository) ListByPool(ctx context.Context, poolID string) ([]*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE pool_id = $1 ORDER BY wallet`

	rows, err := r.db.Pool().Query(ctx, query, poolID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list participants", err)
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.PoolID, &p.Wallet, &p.StakeLocked, &p.JoinedAt, &p.Status, &p.DaysVerified, &p.PayoutAmount); err != nil {
			return nil, apperrors.NewDatabaseError("scan participant", err)
		}
		participants = append(participants, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate participants", err)
	}
	return participants, nil
}

// UpdateStatus sets the outcome status for a participant
func (r *ParticipantRepository) UpdateStatus(ctx context.Context, poolID, wallet string, status types.ParticipantStatus) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE participants SET status = $1 WHERE pool_id = $2 AND wallet = $3`,
		status, poolID, wallet,
	)
	if err != nil {
		return apperrors.NewDatabaseError("update participant status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("participant", wallet)
	}
	return nil
}

// SyncDaysVerified recomputes every participant's verified-day count from
// the pool's finalized passing records. The count is derived state, so a run
// interrupted between window finalization and the count update heals on the
// next call.
func (r *ParticipantRepository) SyncDaysVerified(ctx context.Context, poolID string) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE participants p
		 SET days_verified = counted.passed_days
		 FROM (
		     SELECT wallet, COUNT(*) AS passed_days
		     FROM verification_records
		     WHERE pool_id = $1 AND final AND passed
		     GROUP BY wallet
		 ) counted
		 WHERE p.pool_id = $1 AND p.wallet = counted.wallet
		   AND p.days_verified <> counted.passed_days`,
		poolID,
	)
	if err != nil {
		return apperrors.NewDatabaseError("sync days verified", err)
	}
	return nil
}

// SetPayout records the settled payout amount and final status for a participant
func (r *ParticipantRepository) SetPayout(ctx context.Context, poolID, wallet string, amount int64, status types.ParticipantStatus) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE participants SET payout_amount = $1, status = $2 WHERE pool_id = $3 AND wallet = $4`,
		amount, status, poolID, wallet,
	)
	if err != nil {
		return apperrors.NewDatabaseError("set participant payout", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("participant", wallet)
	}
	return nil
}

// CountByPool returns the participant count for a pool
func (r *ParticipantRepository) CountByPool(ctx context.Context, poolID string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE pool_id = $1`, poolID,
	).Scan(&count)
	if err != nil {
		return 0, apperrors.NewDatabaseError("count participants", err)
	}
	return count, nil
}
