package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

// LedgerRepository handles escrow accounts, ledger entries, and the payout
// ledger. Every balance change appends an entry in the same transaction, so
// the entry sum always reconciles with the account balance.
type LedgerRepository struct {
	db *PostgresDB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *PostgresDB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GetAccount retrieves the escrow account for a pool
func (r *LedgerRepository) GetAccount(ctx context.Context, poolID string) (*models.EscrowAccount, error) {
	var acc models.EscrowAccount
	err := r.db.Pool().QueryRow(ctx,
		`SELECT pool_id, total_balance, yield_accrued, locked, updated_at
		 FROM escrow_accounts WHERE pool_id = $1`,
		poolID,
	).Scan(&acc.PoolID, &acc.TotalBalance, &acc.YieldAccrued, &acc.Locked, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("escrow account", poolID)
		}
		return nil, apperrors.NewDatabaseError("get escrow account", err)
	}
	return &acc, nil
}

// Credit increases the pool balance and appends the matching ledger entry
func (r *LedgerRepository) Credit(ctx context.Context, poolID, wallet string, kind types.LedgerEntryKind, amount int64, now time.Time) (*models.LedgerEntry, error) {
	return r.apply(ctx, poolID, wallet, kind, amount, now)
}

// Debit decreases the pool balance and appends the matching ledger entry.
// A debit that would overdraw the account is rejected without mutating it.
func (r *LedgerRepository) Debit(ctx context.Context, poolID, wallet string, kind types.LedgerEntryKind, amount int64, now time.Time) (*models.LedgerEntry, error) {
	return r.apply(ctx, poolID, wallet, kind, -amount, now)
}

func (r *LedgerRepository) apply(ctx context.Context, poolID, wallet string, kind types.LedgerEntryKind, delta int64, now time.Time) (*models.LedgerEntry, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("ledger apply", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	var balance int64
	var locked bool
	err = tx.QueryRow(ctx,
		`SELECT total_balance, locked FROM escrow_accounts WHERE pool_id = $1 FOR UPDATE`,
		poolID,
	).Scan(&balance, &locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("escrow account", poolID)
		}
		return nil, apperrors.NewDatabaseError("lock escrow account", err)
	}
	if locked {
		return nil, apperrors.NewStateError(poolID, "", "ledger apply on locked account")
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return nil, apperrors.NewEscrowUnderflowError(poolID, balance, -delta)
	}

	_, err = tx.Exec(ctx,
		`UPDATE escrow_accounts SET total_balance = $1, updated_at = $2 WHERE pool_id = $3`,
		newBalance, now, poolID,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("update escrow balance", err)
	}

	entry := &models.LedgerEntry{
		PoolID:       poolID,
		Wallet:       wallet,
		Kind:         kind,
		Amount:       delta,
		BalanceAfter: newBalance,
		CreatedAt:    now,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (pool_id, wallet, kind, amount, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING entry_id`,
		entry.PoolID, entry.Wallet, entry.Kind, entry.Amount, entry.BalanceAfter, entry.CreatedAt,
	).Scan(&entry.EntryID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("append ledger entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.NewDatabaseError("commit ledger apply", err)
	}
	return entry, nil
}

// AccrueYield records yield earned on the escrowed balance
func (r *LedgerRepository) AccrueYield(ctx context.Context, poolID string, amount int64, now time.Time) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("accrue yield", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE escrow_accounts
		 SET total_balance = total_balance + $1, yield_accrued = yield_accrued + $1, updated_at = $2
		 WHERE pool_id = $3 RETURNING total_balance`,
		amount, now, poolID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFoundError("escrow account", poolID)
		}
		return apperrors.NewDatabaseError("update yield", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (pool_id, wallet, kind, amount, balance_after, created_at)
		 VALUES ($1, '', $2, $3, $4, $5)`,
		poolID, types.EntryYield, amount, balance, now,
	)
	if err != nil {
		return apperrors.NewDatabaseError("append yield entry", err)
	}

	return tx.Commit(ctx)
}

// SetLocked freezes or unfreezes an escrow account. Accounts are locked
// while a distribution plan executes.
func (r *LedgerRepository) SetLocked(ctx context.Context, poolID string, locked bool, now time.Time) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE escrow_accounts SET locked = $1, updated_at = $2 WHERE pool_id = $3`,
		locked, now, poolID,
	)
	if err != nil {
		return apperrors.NewDatabaseError("set escrow locked", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("escrow account", poolID)
	}
	return nil
}

// ListEntries retrieves the ledger entries of a pool in append order
func (r *LedgerRepository) ListEntries(ctx context.Context, poolID string) ([]*models.LedgerEntry, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT entry_id, pool_id, wallet, kind, amount, balance_after, created_at
		 FROM ledger_entries WHERE pool_id = $1 ORDER BY entry_id`,
		poolID,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list ledger entries", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.EntryID, &e.PoolID, &e.Wallet, &e.Kind, &e.Amount, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan ledger entry", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate ledger entries", err)
	}
	return entries, nil
}

// CreatePayout inserts a payout row keyed by its idempotency key. Returns
// false when the key already exists, which callers treat as a replay.
func (r *LedgerRepository) CreatePayout(ctx context.Context, p *models.Payout) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`INSERT INTO payouts (pool_id, wallet, kind, amount, status, idempotency_key, transfer_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		p.PoolID, p.Wallet, p.Kind, p.Amount, p.Status, p.IdempotencyKey, p.TransferID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("create payout", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetPayout retrieves a payout by idempotency key
func (r *LedgerRepository) GetPayout(ctx context.Context, idempotencyKey string) (*models.Payout, error) {
	var p models.Payout
	err := r.db.Pool().QueryRow(ctx,
		`SELECT pool_id, wallet, kind, amount, status, idempotency_key, transfer_id, created_at, updated_at
		 FROM payouts WHERE idempotency_key = $1`,
		idempotencyKey,
	).Scan(&p.PoolID, &p.Wallet, &p.Kind, &p.Amount, &p.Status, &p.IdempotencyKey, &p.TransferID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("payout", idempotencyKey)
		}
		return nil, apperrors.NewDatabaseError("get payout", err)
	}
	return &p, nil
}

// UpdatePayoutStatus advances a payout through its lifecycle
func (r *LedgerRepository) UpdatePayoutStatus(ctx context.Context, idempotencyKey string, status types.PayoutStatus, transferID string, now time.Time) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE payouts SET status = $1, transfer_id = $2, updated_at = $3 WHERE idempotency_key = $4`,
		status, transferID, now, idempotencyKey,
	)
	if err != nil {
		return apperrors.NewDatabaseError("update payout status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("payout", idempotencyKey)
	}
	return nil
}

// ListPayouts retrieves a pool's payouts in stable wallet order
func (r *LedgerRepository) ListPayouts(ctx context.Context, poolID string) ([]*models.Payout, error) {
	return r.listPayouts(ctx,
		`SELECT pool_id, wallet, kind, amount, status, idempotency_key, transfer_id, created_at, updated_at
		 FROM payouts WHERE pool_id = $1 ORDER BY wallet`,
		poolID,
	)
}

// ListPayoutsByStatus retrieves payouts across pools in a given status.
// The reconciliation sweep uses this to resolve submitted and unknown
// transfers.
func (r *LedgerRepository) ListPayoutsByStatus(ctx context.Context, statuses ...types.PayoutStatus) ([]*models.Payout, error) {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = string(s)
	}
	return r.listPayouts(ctx,
		`SELECT pool_id, wallet, kind, amount, status, idempotency_key, transfer_id, created_at, updated_at
		 FROM payouts WHERE status = ANY($1) ORDER BY created_at`,
		strs,
	)
}

func (r *LedgerRepository) listPayouts(ctx context.Context, query string, arg interface{}) ([]*models.Payout, error) {
	rows, err := r.db.Pool().Query(ctx, query, arg)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list payouts", err)
	}
	defer rows.Close()

	var payouts []*models.Payout
	for rows.Next() {
		var p models.Payout
		if err := rows.Scan(&p.PoolID, &p.Wallet, &p.Kind, &p.Amount, &p.Status, &p.IdempotencyKey, &p.TransferID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan payout", err)
		}
		payouts = append(payouts, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate payouts", err)
	}
	return payouts, nil
}
