package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/commitment-pool/internal/chain"
	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

// Classifier narrows which transactions qualify toward a daily_tx_count
// goal. Without one every transaction touching the wallet counts, transfers
// in or out alike.
type Classifier interface {
	CountQualifying(ctx context.Context, wallet, tokenMint string, from, to time.Time) (int, error)
}

// ActivityChecker verifies daily_tx_count goals by counting the wallet's
// transactions inside the day window.
type ActivityChecker struct {
	counter    chain.TxCounter
	classifier Classifier // optional
}

// NewActivityChecker creates a checker over the given transaction counter.
// classifier may be nil.
func NewActivityChecker(counter chain.TxCounter, classifier Classifier) *ActivityChecker {
	return &ActivityChecker{counter: counter, classifier: classifier}
}

// Check counts window transactions and passes iff the count meets the
// goal's daily minimum
func (c *ActivityChecker) Check(ctx context.Context, pool *models.Pool, participant *models.Participant, window Window) (*Result, error) {
	goal := pool.Goal.DailyTxCount
	if goal == nil {
		return nil, apperrors.NewInternalError("activity checker invoked without daily_tx_count goal", nil)
	}

	var (
		count int
		err   error
	)
	if c.classifier != nil {
		count, err = c.classifier.CountQualifying(ctx, participant.Wallet, goal.TokenMint, window.Start, window.End)
	} else {
		count, err = c.counter.CountTransactions(ctx, participant.Wallet, goal.TokenMint, window.Start, window.End)
	}
	if err != nil {
		return nil, apperrors.NewInconclusiveError("solana", err)
	}

	outcome := types.OutcomeFailed
	if count >= goal.MinCountPerDay {
		outcome = types.OutcomePassed
	}
	return &Result{
		Outcome:     outcome,
		EvidenceRef: fmt.Sprintf("events:%d", count),
		Confidence:  types.ConfidenceOnChain,
	}, nil
}
