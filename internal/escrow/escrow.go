// Package escrow manages pooled stake balances. Every balance change goes
// through the ledger, and the ledger must reconcile with the account balance
// before and after each mutation. A reconciliation failure is fatal for the
// pool: processing halts until an operator audits it.
package escrow

import (
	"context"
	"time"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/logging"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

// Store is the persistence surface the escrow engine drives
type Store interface {
	GetAccount(ctx context.Context, poolID string) (*models.EscrowAccount, error)
	Credit(ctx context.Context, poolID, wallet string, kind types.LedgerEntryKind, amount int64, now time.Time) (*models.LedgerEntry, error)
	Debit(ctx context.Context, poolID, wallet string, kind types.LedgerEntryKind, amount int64, now time.Time) (*models.LedgerEntry, error)
	AccrueYield(ctx context.Context, poolID string, amount int64, now time.Time) error
	SetLocked(ctx context.Context, poolID string, locked bool, now time.Time) error
	ListEntries(ctx context.Context, poolID string) ([]*models.LedgerEntry, error)
}

// Manager enforces escrow balance invariants around ledger mutations
type Manager struct {
	store Store
}

// NewManager creates a new escrow manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Reconcile checks that the ledger entries of a pool sum to its account
// balance. Returns an escrow violation error on any mismatch.
func (m *Manager) Reconcile(ctx context.Context, poolID string) error {
	account, err := m.store.GetAccount(ctx, poolID)
	if err != nil {
		return err
	}

	entries, err := m.store.ListEntries(ctx, poolID)
	if err != nil {
		return err
	}

	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}

	if sum != account.TotalBalance {
		return apperrors.NewEscrowViolationError(poolID, account.TotalBalance, sum)
	}
	if len(entries) > 0 && entries[len(entries)-1].BalanceAfter != account.TotalBalance {
		return apperrors.NewEscrowViolationError(poolID, account.TotalBalance, entries[len(entries)-1].BalanceAfter)
	}
	if account.TotalBalance < 0 || account.YieldAccrued < 0 {
		return apperrors.NewEscrowViolationError(poolID, account.TotalBalance, 0)
	}

	return nil
}

// Balance returns the current escrow balance of a pool
func (m *Manager) Balance(ctx context.Context, poolID string) (int64, error) {
	account, err := m.store.GetAccount(ctx, poolID)
	if err != nil {
		return 0, err
	}
	return account.TotalBalance, nil
}

// Account returns the escrow account of a pool
func (m *Manager) Account(ctx context.Context, poolID string) (*models.EscrowAccount, error) {
	return m.store.GetAccount(ctx, poolID)
}

// PayOut debits a payout, refund, or charity amount from the pool balance.
// The ledger is reconciled before and after the debit.
func (m *Manager) PayOut(ctx context.Context, poolID, wallet string, kind types.LedgerEntryKind, amount int64, now time.Time) error {
	if amount < 0 {
		return apperrors.NewValidationError("payout amount cannot be negative")
	}
	if amount == 0 {
		return nil
	}

	if err := m.Reconcile(ctx, poolID); err != nil {
		return err
	}

	if _, err := m.store.Debit(ctx, poolID, wallet, kind, amount, now); err != nil {
		return err
	}

	if err := m.Reconcile(ctx, poolID); err != nil {
		logging.WithFields(map[string]interface{}{
			"poolId": poolID,
			"wallet": wallet,
			"amount": amount,
		}).Error("Escrow reconciliation failed after payout")
		return err
	}
	return nil
}

// AccrueYield credits yield onto the pool balance with reconciliation checks
func (m *Manager) AccrueYield(ctx context.Context, poolID string, amount int64, now time.Time) error {
	if amount < 0 {
		return apperrors.NewValidationError("yield amount cannot be negative")
	}
	if amount == 0 {
		return nil
	}

	if err := m.Reconcile(ctx, poolID); err != nil {
		return err
	}
	if err := m.store.AccrueYield(ctx, poolID, amount, now); err != nil {
		return err
	}
	return m.Reconcile(ctx, poolID)
}

// Lock freezes the account while a distribution plan executes
func (m *Manager) Lock(ctx context.Context, poolID string, now time.Time) error {
	return m.store.SetLocked(ctx, poolID, true, now)
}

// Unlock releases a frozen account
func (m *Manager) Unlock(ctx context.Context, poolID string, now time.Time) error {
	return m.store.SetLocked(ctx, poolID, false, now)
}

// VerifyAgainstStakes checks the stronger settlement-time invariant: the
// account balance must equal the outstanding stakes plus accrued yield,
// minus whatever the ledger already paid out.
func (m *Manager) VerifyAgainstStakes(ctx context.Context, poolID string, totalStakes int64) error {
	account, err := m.store.GetAccount(ctx, poolID)
	if err != nil {
		return err
	}

	entries, err := m.store.ListEntries(ctx, poolID)
	if err != nil {
		return err
	}

	var paidOut int64
	for _, e := range entries {
		if e.Amount < 0 {
			paidOut += -e.Amount
		}
	}

	expected := totalStakes + account.YieldAccrued - paidOut
	if account.TotalBalance != expected {
		return apperrors.NewEscrowViolationError(poolID, account.TotalBalance, expected)
	}
	return nil
}
