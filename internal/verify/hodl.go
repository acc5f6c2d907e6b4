package verify

import (
	"context"
	"fmt"

	"github.com/commitment-pool/internal/chain"
	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

// HodlChecker verifies hodl_token goals with a point-in-time balance sample.
// The sample is taken whenever the check runs inside the window, not at a
// fixed instant; holding through the whole day is not guaranteed.
type HodlChecker struct {
	sources map[types.ChainID]chain.BalanceSource
}

// NewHodlChecker creates a checker over the given per-chain balance sources
func NewHodlChecker(sources map[types.ChainID]chain.BalanceSource) *HodlChecker {
	return &HodlChecker{sources: sources}
}

// Check samples the wallet's token balance and passes iff it meets the
// goal's minimum
func (c *HodlChecker) Check(ctx context.Context, pool *models.Pool, participant *models.Participant, window Window) (*Result, error) {
	goal := pool.Goal.HodlToken
	if goal == nil {
		return nil, apperrors.NewInternalError("hodl checker invoked without hodl_token goal", nil)
	}
	source, ok := c.sources[goal.Chain]
	if !ok {
		return nil, apperrors.NewInternalError(fmt.Sprintf("no balance source for chain %q", goal.Chain), nil)
	}

	balance, err := source.TokenBalance(ctx, participant.Wallet, goal.TokenMint)
	if err != nil {
		return nil, apperrors.NewInconclusiveError(string(goal.Chain), err)
	}

	outcome := types.OutcomeFailed
	if balance >= goal.MinBalance {
		outcome = types.OutcomePassed
	}
	return &Result{
		Outcome:     outcome,
		EvidenceRef: fmt.Sprintf("balance:%d", balance),
		Confidence:  types.ConfidenceOnChain,
	}, nil
}
