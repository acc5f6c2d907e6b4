package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
)

// IdentityRepository handles wallet-to-provider identity bindings
type IdentityRepository struct {
	db *PostgresDB
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(db *PostgresDB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Bind records or replaces the identity binding for a wallet and provider
func (r *IdentityRepository) Bind(ctx context.Context, b *models.IdentityBinding) error {
	_, err := r.db.Pool().Exec(ctx,
		`INSERT INTO identity_bindings (wallet, provider, identity_ref, bound_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (wallet, provider) DO UPDATE SET
			identity_ref = EXCLUDED.identity_ref,
			bound_at = EXCLUDED.bound_at`,
		b.Wallet, b.Provider, b.IdentityRef, b.BoundAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("bind identity", err)
	}
	return nil
}

// Get retrieves the binding for a wallet and provider
func (r *IdentityRepository) Get(ctx context.Context, wallet, provider string) (*models.IdentityBinding, error) {
	var b models.IdentityBinding
	err := r.db.Pool().QueryRow(ctx,
		`SELECT wallet, provider, identity_ref, bound_at
		 FROM identity_bindings WHERE wallet = $1 AND provider = $2`,
		wallet, provider,
	).Scan(&b.Wallet, &b.Provider, &b.IdentityRef, &b.BoundAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUnverifiedIdentityError(wallet, provider)
		}
		return nil, apperrors.NewDatabaseError("get identity binding", err)
	}
	return &b, nil
}

// ListByWallet retrieves all bindings for a wallet
func (r *IdentityRepository) ListByWallet(ctx context.Context, wallet string) ([]*models.IdentityBinding, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT wallet, provider, identity_ref, bound_at
		 FROM identity_bindings WHERE wallet = $1 ORDER BY provider`,
		wallet,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list identity bindings", err)
	}
	defer rows.Close()

	var bindings []*models.IdentityBinding
	for rows.Next() {
		var b models.IdentityBinding
		if err := rows.Scan(&b.Wallet, &b.Provider, &b.IdentityRef, &b.BoundAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan identity binding", err)
		}
		bindings = append(bindings, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate identity bindings", err)
	}
	return bindings, nil
}
