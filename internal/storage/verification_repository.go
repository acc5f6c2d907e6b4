package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
)

// VerificationRepository handles per-day verification records.
// While a day window is open the latest check wins; once a record is marked
// final it never changes.
type VerificationRepository struct {
	db *PostgresDB
}

// NewVerificationRepository creates a new verification repository
func NewVerificationRepository(db *PostgresDB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

const verificationColumns = `pool_id, wallet, day, outcome, passed, checker_kind, evidence_ref, confidence, checked_at, final`

// Record upserts the verification outcome for a participant-day. A final
// record is immutable: the conflict update is guarded so replays and late
// checks after window close cannot overwrite it. Returns whether the row
// was written.
func (r *VerificationRepository) Record(ctx context.Context, rec *models.VerificationRecord) (bool, error) {
	query := `
		INSERT INTO verification_records (pool_id, wallet, day, outcome, passed, checker_kind, evidence_ref, confidence, checked_at, final)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (pool_id, wallet, day) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			passed = EXCLUDED.passed,
			checker_kind = EXCLUDED.checker_kind,
			evidence_ref = EXCLUDED.evidence_ref,
			confidence = EXCLUDED.confidence,
			checked_at = EXCLUDED.checked_at,
			final = EXCLUDED.final
		WHERE NOT verification_records.final
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		rec.PoolID, rec.Wallet, rec.Day, rec.Outcome, rec.Passed,
		rec.CheckerKind, rec.EvidenceRef, rec.Confidence, rec.CheckedAt, rec.Final,
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("record verification", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get retrieves the verification record for a participant-day
func (r *VerificationRepository) Get(ctx context.Context, poolID, wallet string, day int) (*models.VerificationRecord, error) {
	query := `SELECT ` + verificationColumns + `
		FROM verification_records WHERE pool_id = $1 AND wallet = $2 AND day = $3`

	var rec models.VerificationRecord
	err := r.db.Pool().QueryRow(ctx, query, poolID, wallet, day).Scan(
		&rec.PoolID, &rec.Wallet, &rec.Day, &rec.Outcome, &rec.Passed,
		&rec.CheckerKind, &rec.EvidenceRef, &rec.Confidence, &rec.CheckedAt, &rec.Final,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("verification record", wallet)
		}
		return nil, apperrors.NewDatabaseError("get verification record", err)
	}
	return &rec, nil
}

// ListByPoolWallet retrieves all verification records for a participant in day order
func (r *VerificationRepository) ListByPoolWallet(ctx context.Context, poolID, wallet string) ([]*models.VerificationRecord, error) {
	query := `SELECT ` + verificationColumns + `
		FROM verification_records WHERE pool_id = $1 AND wallet = $2 ORDER BY day`

	rows, err := r.db.Pool().Query(ctx, query, poolID, wallet)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list verification records", err)
	}
	defer rows.Close()

	return scanVerifications(rows)
}

// ListByPoolDay retrieves all verification records for a pool-day
func (r *VerificationRepository) ListByPoolDay(ctx context.Context, poolID string, day int) ([]*models.VerificationRecord, error) {
	query := `SELECT ` + verificationColumns + `
		FROM verification_records WHERE pool_id = $1 AND day = $2 ORDER BY wallet`

	rows, err := r.db.Pool().Query(ctx, query, poolID, day)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list verification records", err)
	}
	defer rows.Close()

	return scanVerifications(rows)
}

// FinalizeDay marks every record of a pool-day final. Records already final
// are untouched.
func (r *VerificationRepository) FinalizeDay(ctx context.Context, poolID string, day int) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE verification_records SET final = true WHERE pool_id = $1 AND day = $2 AND NOT final`,
		poolID, day,
	)
	if err != nil {
		return apperrors.NewDatabaseError("finalize verification day", err)
	}
	return nil
}

func scanVerifications(rows pgx.Rows) ([]*models.VerificationRecord, error) {
	var records []*models.VerificationRecord
	for rows.Next() {
		var rec models.VerificationRecord
		if err := rows.Scan(
			&rec.PoolID, &rec.Wallet, &rec.Day, &rec.Outcome, &rec.Passed,
			&rec.CheckerKind, &rec.EvidenceRef, &rec.Confidence, &rec.CheckedAt, &rec.Final,
		); err != nil {
			return nil, apperrors.NewDatabaseError("scan verification record", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate verification records", err)
	}
	return records, nil
}
