package distribute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commitment-pool/internal/chain"
	"github.com/commitment-pool/internal/clock"
	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/logging"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/retry"
	"github.com/commitment-pool/internal/storage"
	"github.com/commitment-pool/internal/types"
)

// PoolStore is the pool surface settlement drives
type PoolStore interface {
	Transition(ctx context.Context, poolID string, from []types.PoolStatus, to types.PoolStatus, now time.Time, set map[string]time.Time) (bool, error)
}

// ParticipantStore is the participant surface settlement drives
type ParticipantStore interface {
	ListByPool(ctx context.Context, poolID string) ([]*models.Participant, error)
	SetPayout(ctx context.Context, poolID, wallet string, amount int64, status types.ParticipantStatus) error
}

// PayoutStore persists the per-wallet settlement ledger
type PayoutStore interface {
	CreatePayout(ctx context.Context, p *models.Payout) (bool, error)
	UpdatePayoutStatus(ctx context.Context, idempotencyKey string, status types.PayoutStatus, transferID string, now time.Time) error
	ListPayouts(ctx context.Context, poolID string) ([]*models.Payout, error)
}

// Escrow is the vault bookkeeping surface settlement drives
type Escrow interface {
	Balance(ctx context.Context, poolID string) (int64, error)
	Reconcile(ctx context.Context, poolID string) error
	AccrueYield(ctx context.Context, poolID string, amount int64, now time.Time) error
	PayOut(ctx context.Context, poolID, wallet string, kind types.LedgerEntryKind, amount int64, now time.Time) error
	Unlock(ctx context.Context, poolID string, now time.Time) error
}

// Halter freezes a pool when its books stop balancing
type Halter interface {
	Halt(ctx context.Context, poolID, reason string, now time.Time) error
}

// Auditor records settlement events
type Auditor interface {
	Record(poolID, wallet, kind string, payload map[string]interface{})
}

// Engine settles ended pools and refunds expired ones. Every run is safe to
// repeat: planning happens once, each wallet's payout is keyed idempotently,
// and the pool only reaches its terminal status when every transfer is
// confirmed on the custody side.
type Engine struct {
	pools          PoolStore
	participants   ParticipantStore
	payouts        PayoutStore
	escrow         Escrow
	transferer     chain.Transferer
	halter         Halter
	audit          Auditor
	clk            clock.Clock
	defaultCharity string
}

// NewEngine creates a settlement engine
func NewEngine(
	pools PoolStore,
	participants ParticipantStore,
	payouts PayoutStore,
	escrow Escrow,
	transferer chain.Transferer,
	halter Halter,
	audit Auditor,
	clk clock.Clock,
	defaultCharity string,
) *Engine {
	return &Engine{
		pools:          pools,
		participants:   participants,
		payouts:        payouts,
		escrow:         escrow,
		transferer:     transferer,
		halter:         halter,
		audit:          audit,
		clk:            clk,
		defaultCharity: defaultCharity,
	}
}

// Settle distributes an ended pool's vault. Re-running resumes wherever the
// previous run stopped; wallets already confirmed are never paid again.
func (e *Engine) Settle(ctx context.Context, pool *models.Pool) error {
	if pool.Halted {
		return apperrors.NewSettlementHaltedError(pool.PoolID)
	}
	if pool.Status != types.PoolEnded {
		return nil
	}
	now := e.clk.Now()

	if err := e.escrow.Unlock(ctx, pool.PoolID, now); err != nil {
		return err
	}
	if err := e.escrow.Reconcile(ctx, pool.PoolID); err != nil {
		return e.haltOnViolation(ctx, pool, err, now)
	}

	rows, err := e.payouts.ListPayouts(ctx, pool.PoolID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		// Yield is sampled once, before planning; after the vault has been
		// debited the on-chain balance no longer matches the books
		if err := e.sampleYield(ctx, pool, now); err != nil {
			return err
		}
		if rows, err = e.planSettlement(ctx, pool, now); err != nil {
			return err
		}
	}

	allConfirmed, err := e.executePayouts(ctx, pool, rows, now)
	if err != nil {
		return err
	}
	if !allConfirmed {
		return nil
	}

	moved, err := e.pools.Transition(ctx, pool.PoolID, []types.PoolStatus{types.PoolEnded}, types.PoolSettled, now, nil)
	if err != nil {
		return err
	}
	if moved {
		e.audit.Record(pool.PoolID, "", storage.AuditPoolTransition, map[string]interface{}{
			"to": string(types.PoolSettled),
		})
	}
	return nil
}

// RefundAll returns every stake of an expired pool
func (e *Engine) RefundAll(ctx context.Context, pool *models.Pool) error {
	if pool.Halted {
		return apperrors.NewSettlementHaltedError(pool.PoolID)
	}
	if pool.Status != types.PoolExpired {
		return nil
	}
	now := e.clk.Now()

	if err := e.escrow.Unlock(ctx, pool.PoolID, now); err != nil {
		return err
	}
	if err := e.escrow.Reconcile(ctx, pool.PoolID); err != nil {
		return e.haltOnViolation(ctx, pool, err, now)
	}

	rows, err := e.payouts.ListPayouts(ctx, pool.PoolID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		participants, err := e.participants.ListByPool(ctx, pool.PoolID)
		if err != nil {
			return err
		}
		plan, err := ComputeRefundPlan(pool, participants)
		if err != nil {
			return err
		}
		if rows, err = e.persistPlan(ctx, pool, plan, now); err != nil {
			return err
		}
		for _, p := range participants {
			if err := e.participants.SetPayout(ctx, pool.PoolID, p.Wallet, p.StakeLocked, types.ParticipantRefunded); err != nil {
				return err
			}
		}
	}

	allConfirmed, err := e.executePayouts(ctx, pool, rows, now)
	if err != nil {
		return err
	}
	if !allConfirmed {
		return nil
	}

	_, err = e.pools.Transition(ctx, pool.PoolID, []types.PoolStatus{types.PoolExpired}, types.PoolRefunded, now, nil)
	return err
}

// sampleYield compares the on-chain vault balance against the books and
// records any excess as yield before planning. Chain unavailability is logged
// and skipped; yield can still be picked up by a later run.
func (e *Engine) sampleYield(ctx context.Context, pool *models.Pool, now time.Time) error {
	vault, err := e.transferer.VaultBalance(ctx)
	if err != nil {
		logging.WithField("poolId", pool.PoolID).WithError(err).Warn("Vault balance sample failed; skipping yield accrual")
		return nil
	}
	recorded, err := e.escrow.Balance(ctx, pool.PoolID)
	if err != nil {
		return err
	}
	if excess := vault - recorded; excess > 0 {
		if err := e.escrow.AccrueYield(ctx, pool.PoolID, excess, now); err != nil {
			return err
		}
		e.audit.Record(pool.PoolID, "", storage.AuditYieldAccrued, map[string]interface{}{
			"amount": excess,
		})
	}
	return nil
}

// planSettlement computes the distribution, checks conservation against the
// vault, persists payout rows, and flips participant outcomes.
func (e *Engine) planSettlement(ctx context.Context, pool *models.Pool, now time.Time) ([]*models.Payout, error) {
	participants, err := e.participants.ListByPool(ctx, pool.PoolID)
	if err != nil {
		return nil, err
	}

	balance, err := e.escrow.Balance(ctx, pool.PoolID)
	if err != nil {
		return nil, err
	}
	var stakes int64
	for _, p := range participants {
		stakes += p.StakeLocked
	}
	yield := balance - stakes
	if yield < 0 {
		err := apperrors.NewEscrowViolationError(pool.PoolID, balance, stakes)
		return nil, e.haltOnViolation(ctx, pool, err, now)
	}

	plan, err := ComputePlan(pool, participants, yield, e.defaultCharity)
	if err != nil {
		return nil, err
	}
	if plan.Total != balance {
		err := apperrors.NewEscrowViolationError(pool.PoolID, plan.Total, balance)
		return nil, e.haltOnViolation(ctx, pool, err, now)
	}

	rows, err := e.persistPlan(ctx, pool, plan, now)
	if err != nil {
		return nil, err
	}

	amounts := make(map[string]int64, len(plan.Payouts))
	for _, p := range plan.Payouts {
		if p.Kind == types.PayoutWinner {
			amounts[p.Wallet] = p.Amount
		}
	}
	for _, wallet := range plan.Winners {
		if err := e.participants.SetPayout(ctx, pool.PoolID, wallet, amounts[wallet], types.ParticipantSuccess); err != nil {
			return nil, err
		}
	}
	for _, wallet := range plan.Losers {
		if err := e.participants.SetPayout(ctx, pool.PoolID, wallet, 0, types.ParticipantFailed); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// persistPlan writes the payout rows and debits the vault once per row. The
// idempotency key anchors both: a replay neither re-inserts nor re-debits.
func (e *Engine) persistPlan(ctx context.Context, pool *models.Pool, plan *Plan, now time.Time) ([]*models.Payout, error) {
	for _, planned := range plan.Payouts {
		row := &models.Payout{
			PoolID:         pool.PoolID,
			Wallet:         planned.Wallet,
			Kind:           planned.Kind,
			Amount:         planned.Amount,
			Status:         types.PayoutPending,
			IdempotencyKey: payoutKey(pool.PoolID, planned.Wallet, 0),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		created, err := e.payouts.CreatePayout(ctx, row)
		if err != nil {
			return nil, err
		}
		if created {
			if err := e.escrow.PayOut(ctx, pool.PoolID, planned.Wallet, ledgerKind(planned.Kind), planned.Amount, now); err != nil {
				return nil, err
			}
		}
	}
	return e.payouts.ListPayouts(ctx, pool.PoolID)
}

// executePayouts drives every payout row toward confirmed. Returns whether
// all of them got there on this run.
func (e *Engine) executePayouts(ctx context.Context, pool *models.Pool, rows []*models.Payout, now time.Time) (bool, error) {
	allConfirmed := true
	for _, row := range rows {
		status, err := e.executePayout(ctx, pool, row, now)
		if err != nil {
			return false, err
		}
		if status != types.PayoutConfirmed {
			allConfirmed = false
		}
	}
	return allConfirmed, nil
}

func (e *Engine) executePayout(ctx context.Context, pool *models.Pool, row *models.Payout, now time.Time) (types.PayoutStatus, error) {
	switch row.Status {
	case types.PayoutConfirmed:
		return types.PayoutConfirmed, nil

	case types.PayoutPending, types.PayoutFailed:
		result, err := e.submitTransfer(ctx, row)
		if err != nil {
			logging.WithFields(map[string]interface{}{
				"poolId": pool.PoolID,
				"wallet": row.Wallet,
			}).WithError(err).Warn("Payout transfer failed; will retry")
			return row.Status, nil
		}
		if err := e.payouts.UpdatePayoutStatus(ctx, row.IdempotencyKey, result.Status, result.TransferID, now); err != nil {
			return row.Status, err
		}
		e.audit.Record(pool.PoolID, row.Wallet, storage.AuditPayoutSubmitted, map[string]interface{}{
			"amount":     row.Amount,
			"kind":       string(row.Kind),
			"transferId": result.TransferID,
		})
		if result.Status == types.PayoutConfirmed {
			e.audit.Record(pool.PoolID, row.Wallet, storage.AuditPayoutConfirmed, map[string]interface{}{
				"amount": row.Amount,
			})
		}
		return result.Status, nil

	case types.PayoutSubmitted, types.PayoutUnknown:
		status, err := e.transferer.TransferStatus(ctx, row.TransferID)
		if err != nil {
			logging.WithFields(map[string]interface{}{
				"poolId":     pool.PoolID,
				"transferId": row.TransferID,
			}).WithError(err).Warn("Payout confirmation lookup failed; will retry")
			return row.Status, nil
		}
		if status == row.Status {
			return status, nil
		}
		if err := e.payouts.UpdatePayoutStatus(ctx, row.IdempotencyKey, status, row.TransferID, now); err != nil {
			return row.Status, err
		}
		switch status {
		case types.PayoutConfirmed:
			e.audit.Record(pool.PoolID, row.Wallet, storage.AuditPayoutConfirmed, map[string]interface{}{
				"amount": row.Amount,
			})
		case types.PayoutFailed:
			e.audit.Record(pool.PoolID, row.Wallet, storage.AuditPayoutFailed, map[string]interface{}{
				"amount": row.Amount,
			})
		}
		return status, nil

	default:
		return row.Status, apperrors.NewInternalError(fmt.Sprintf("payout %s has unexpected status %q", row.IdempotencyKey, row.Status), nil)
	}
}

// submitTransfer pushes one payout to the custody service with bounded
// in-tick backoff. Rejections are surfaced immediately; only transport-level
// failures are worth another attempt before the next tick.
func (e *Engine) submitTransfer(ctx context.Context, row *models.Payout) (*chain.TransferResult, error) {
	var result *chain.TransferResult
	var terminal error
	err := retry.WithRetry(ctx, func(ctx context.Context, attempt int) error {
		res, err := e.transferer.Transfer(ctx, row.Wallet, row.Amount, row.IdempotencyKey)
		if err != nil {
			if errors.Is(err, chain.ErrTransferRejected) || errors.Is(err, chain.ErrInvalidWallet) {
				terminal = err
				return nil
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if terminal != nil {
		return nil, terminal
	}
	return result, nil
}

func (e *Engine) haltOnViolation(ctx context.Context, pool *models.Pool, violation error, now time.Time) error {
	if haltErr := e.halter.Halt(ctx, pool.PoolID, violation.Error(), now); haltErr != nil {
		logging.WithField("poolId", pool.PoolID).WithError(haltErr).Error("Failed to halt pool after escrow violation")
	}
	e.audit.Record(pool.PoolID, "", storage.AuditEscrowViolation, map[string]interface{}{
		"reason": violation.Error(),
	})
	return violation
}

func payoutKey(poolID, wallet string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", poolID, wallet, attempt)
}

func ledgerKind(kind types.PayoutKind) types.LedgerEntryKind {
	switch kind {
	case types.PayoutRefund:
		return types.EntryRefund
	case types.PayoutCharity:
		return types.EntryCharity
	default:
		return types.EntryPayout
	}
}
