package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
)

// EvidenceRepository handles self-reported evidence submissions for
// honor-system goals
type EvidenceRepository struct {
	db *PostgresDB
}

// NewEvidenceRepository creates a new evidence repository
func NewEvidenceRepository(db *PostgresDB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

// Create inserts a new evidence submission
func (r *EvidenceRepository) Create(ctx context.Context, e *models.EvidenceSubmission) error {
	_, err := r.db.Pool().Exec(ctx,
		`INSERT INTO evidence_submissions (evidence_id, pool_id, wallet, day, evidence_ref, quantity, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.EvidenceID, e.PoolID, e.Wallet, e.Day, e.EvidenceRef, e.Quantity, e.SubmittedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("create evidence submission", err)
	}
	return nil
}

// GetLatestForDay retrieves the most recent submission for a participant-day
func (r *EvidenceRepository) GetLatestForDay(ctx context.Context, poolID, wallet string, day int) (*models.EvidenceSubmission, error) {
	var e models.EvidenceSubmission
	err := r.db.Pool().QueryRow(ctx,
		`SELECT evidence_id, pool_id, wallet, day, evidence_ref, quantity, submitted_at
		 FROM evidence_submissions WHERE pool_id = $1 AND wallet = $2 AND day = $3
		 ORDER BY submitted_at DESC LIMIT 1`,
		poolID, wallet, day,
	).Scan(&e.EvidenceID, &e.PoolID, &e.Wallet, &e.Day, &e.EvidenceRef, &e.Quantity, &e.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("evidence submission", wallet)
		}
		return nil, apperrors.NewDatabaseError("get evidence submission", err)
	}
	return &e, nil
}

// ListByPoolDay retrieves all submissions for a pool-day
func (r *EvidenceRepository) ListByPoolDay(ctx context.Context, poolID string, day int) ([]*models.EvidenceSubmission, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT evidence_id, pool_id, wallet, day, evidence_ref, quantity, submitted_at
		 FROM evidence_submissions WHERE pool_id = $1 AND day = $2
		 ORDER BY wallet, submitted_at`,
		poolID, day,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list evidence submissions", err)
	}
	defer rows.Close()

	var submissions []*models.EvidenceSubmission
	for rows.Next() {
		var e models.EvidenceSubmission
		if err := rows.Scan(&e.EvidenceID, &e.PoolID, &e.Wallet, &e.Day, &e.EvidenceRef, &e.Quantity, &e.SubmittedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan evidence submission", err)
		}
		submissions = append(submissions, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate evidence submissions", err)
	}
	return submissions, nil
}
