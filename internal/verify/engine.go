package verify

import (
	"context"
	"time"

	"github.com/commitment-pool/internal/clock"
	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/logging"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/storage"
	"github.com/commitment-pool/internal/types"
)

// VerificationStore is the record persistence surface the engine drives
type VerificationStore interface {
	Record(ctx context.Context, rec *models.VerificationRecord) (bool, error)
	Get(ctx context.Context, poolID, wallet string, day int) (*models.VerificationRecord, error)
	ListByPoolDay(ctx context.Context, poolID string, day int) ([]*models.VerificationRecord, error)
	FinalizeDay(ctx context.Context, poolID string, day int) error
}

// ParticipantStore is the participant surface the engine drives
type ParticipantStore interface {
	ListByPool(ctx context.Context, poolID string) ([]*models.Participant, error)
	SyncDaysVerified(ctx context.Context, poolID string) error
}

// Auditor records verification events
type Auditor interface {
	Record(poolID, wallet, kind string, payload map[string]interface{})
}

// Engine sweeps pools for due verification work. Within an open day window
// the latest check wins; when a window closes, records become final and
// anything missing or inconclusive fails closed. Absence of proof is not
// proof of success.
type Engine struct {
	dispatcher    *Dispatcher
	verifications VerificationStore
	participants  ParticipantStore
	audit         Auditor
	checkTimeout  time.Duration
	clk           clock.Clock
}

// NewEngine creates a verification engine
func NewEngine(
	dispatcher *Dispatcher,
	verifications VerificationStore,
	participants ParticipantStore,
	audit Auditor,
	checkTimeout time.Duration,
	clk clock.Clock,
) *Engine {
	return &Engine{
		dispatcher:    dispatcher,
		verifications: verifications,
		participants:  participants,
		audit:         audit,
		checkTimeout:  checkTimeout,
		clk:           clk,
	}
}

// SweepPool processes all due verification work for one pool: it closes
// every elapsed day window, then checks all participants against the
// current open window. Safe to re-run at any time.
func (e *Engine) SweepPool(ctx context.Context, pool *models.Pool) error {
	if pool.Halted || pool.StartTimestamp == nil {
		return nil
	}
	now := e.clk.Now()
	if now.Before(*pool.StartTimestamp) {
		return nil
	}

	closed := int(now.Sub(*pool.StartTimestamp) / (24 * time.Hour))
	if closed > pool.DurationDays {
		closed = pool.DurationDays
	}

	for day := 1; day <= closed; day++ {
		if err := e.CloseDay(ctx, pool, day); err != nil {
			return err
		}
	}

	current := closed + 1
	if pool.Status != types.PoolActive || current > pool.DurationDays {
		return nil
	}

	participants, err := e.participants.ListByPool(ctx, pool.PoolID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		// Participants already past tolerance keep being checked; their
		// remaining records still matter for the audit trail
		if _, err := e.CheckParticipant(ctx, pool, p, current); err != nil {
			return err
		}
	}
	return nil
}

// CheckParticipant runs one check for a participant-day and records the
// verdict. A closed window returns the stored record untouched. Checker
// errors and timeouts record an inconclusive outcome so a later run inside
// the window can still settle the day.
func (e *Engine) CheckParticipant(ctx context.Context, pool *models.Pool, participant *models.Participant, day int) (*models.VerificationRecord, error) {
	existing, err := e.verifications.Get(ctx, pool.PoolID, participant.Wallet, day)
	if err != nil {
		if catErr := apperrors.Categorize(err); catErr == nil || catErr.Code != apperrors.CodeNotFound {
			return nil, err
		}
	}
	if existing != nil && existing.Final {
		return existing, nil
	}

	window := WindowFor(pool, day)
	cctx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	result, err := e.dispatcher.Check(cctx, pool, participant, window)
	cancel()
	if err != nil {
		logging.WithFields(map[string]interface{}{
			"poolId": pool.PoolID,
			"wallet": participant.Wallet,
			"day":    day,
		}).WithError(err).Warn("Verification check inconclusive")
		result = &Result{
			Outcome:    types.OutcomeInconclusive,
			Confidence: DefaultConfidence(pool.Goal.Kind),
		}
	}

	rec := &models.VerificationRecord{
		PoolID:      pool.PoolID,
		Wallet:      participant.Wallet,
		Day:         day,
		Outcome:     result.Outcome,
		Passed:      result.Outcome == types.OutcomePassed,
		CheckerKind: pool.Goal.Kind,
		EvidenceRef: result.EvidenceRef,
		Confidence:  result.Confidence,
		CheckedAt:   e.clk.Now(),
		Final:       false,
	}
	written, err := e.verifications.Record(ctx, rec)
	if err != nil {
		return nil, err
	}
	if written {
		e.audit.Record(pool.PoolID, participant.Wallet, storage.AuditVerification, map[string]interface{}{
			"day":      day,
			"outcome":  string(rec.Outcome),
			"evidence": rec.EvidenceRef,
		})
	}
	return rec, nil
}

// CloseDay finalizes an elapsed day window. Participants with no record or
// an inconclusive one are failed with a source_unavailable marker and
// everything becomes immutable. Verified-day counts are then recomputed from
// the final records, so re-running an already closed day repairs any count a
// crashed earlier run left behind.
func (e *Engine) CloseDay(ctx context.Context, pool *models.Pool, day int) error {
	records, err := e.verifications.ListByPoolDay(ctx, pool.PoolID, day)
	if err != nil {
		return err
	}
	byWallet := make(map[string]*models.VerificationRecord, len(records))
	for _, rec := range records {
		byWallet[rec.Wallet] = rec
	}

	participants, err := e.participants.ListByPool(ctx, pool.PoolID)
	if err != nil {
		return err
	}

	done := true
	for _, p := range participants {
		rec, ok := byWallet[p.Wallet]
		if !ok || !rec.Final {
			done = false
			break
		}
	}

	if !done {
		now := e.clk.Now()
		passed := 0
		for _, p := range participants {
			rec, ok := byWallet[p.Wallet]
			switch {
			case !ok || (!rec.Final && rec.Outcome == types.OutcomeInconclusive):
				failRec := &models.VerificationRecord{
					PoolID:      pool.PoolID,
					Wallet:      p.Wallet,
					Day:         day,
					Outcome:     types.OutcomeFailed,
					Passed:      false,
					CheckerKind: pool.Goal.Kind,
					EvidenceRef: types.EvidenceSourceUnavailable,
					Confidence:  DefaultConfidence(pool.Goal.Kind),
					CheckedAt:   now,
					Final:       true,
				}
				if _, err := e.verifications.Record(ctx, failRec); err != nil {
					return err
				}
			case rec.Outcome == types.OutcomePassed:
				passed++
			}
		}

		if err := e.verifications.FinalizeDay(ctx, pool.PoolID, day); err != nil {
			return err
		}

		e.audit.Record(pool.PoolID, "", storage.AuditDayFinalized, map[string]interface{}{
			"day":    day,
			"passed": passed,
			"total":  len(participants),
		})
	}

	return e.participants.SyncDaysVerified(ctx, pool.PoolID)
}
