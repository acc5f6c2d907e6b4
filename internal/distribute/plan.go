// Package distribute computes and executes settlement. Planning is a pure
// function of pool, participants, and accrued yield; execution moves real
// funds and is built around an idempotent per-wallet payout ledger so a
// crashed or repeated run never pays twice.
package distribute

import (
	"sort"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

// PlannedPayout is one wallet's share of a settlement
type PlannedPayout struct {
	Wallet string
	Kind   types.PayoutKind
	Amount int64 // lamports
}

// Plan is a complete settlement: every lamport in the vault is assigned to
// exactly one payout. Winners precede the charity payout, in wallet order.
type Plan struct {
	PoolID  string
	Payouts []PlannedPayout
	Winners []string
	Losers  []string
	Total   int64 // always equals the vault balance being settled
}

// ComputePlan derives the settlement for an ended pool. A participant wins by
// verifying at least duration minus tolerance days. Amounts are integer
// lamports; division remainders go to the first winner in wallet order so
// replanning is deterministic and conservation is exact.
func ComputePlan(pool *models.Pool, participants []*models.Participant, yield int64, defaultCharity string) (*Plan, error) {
	if len(participants) == 0 {
		return nil, apperrors.NewInternalError("cannot plan settlement for a pool with no participants", nil)
	}

	sorted := make([]*models.Participant, len(participants))
	copy(sorted, participants)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Wallet < sorted[j].Wallet })

	required := pool.DurationDays - pool.ToleranceDays
	var (
		winners      []*models.Participant
		winnerNames  []string
		loserNames   []string
		winnerStakes int64
		total        int64
	)
	for _, p := range sorted {
		total += p.StakeLocked
		if p.DaysVerified >= required {
			winners = append(winners, p)
			winnerNames = append(winnerNames, p.Wallet)
			winnerStakes += p.StakeLocked
		} else {
			loserNames = append(loserNames, p.Wallet)
		}
	}
	total += yield

	charityAddress := pool.CharityAddress
	if charityAddress == "" {
		charityAddress = defaultCharity
	}

	plan := &Plan{
		PoolID:  pool.PoolID,
		Winners: winnerNames,
		Losers:  loserNames,
		Total:   total,
	}

	if len(winners) == 0 {
		// Nobody finished: the whole vault goes to charity
		if charityAddress == "" {
			return nil, apperrors.NewInternalError("pool has no winners and no charity address", nil)
		}
		plan.Payouts = []PlannedPayout{{Wallet: charityAddress, Kind: types.PayoutCharity, Amount: total}}
		return plan, checkConservation(plan)
	}

	surplus := total - winnerStakes

	switch pool.DistributionMode {
	case types.ModeCompetitive:
		// Winners split the entire vault equally
		share := total / int64(len(winners))
		remainder := total % int64(len(winners))
		for i, w := range winners {
			amount := share
			if i == 0 {
				amount += remainder
			}
			plan.Payouts = append(plan.Payouts, PlannedPayout{Wallet: w.Wallet, Kind: types.PayoutWinner, Amount: amount})
		}

	case types.ModeCharity:
		// Winners recover their stakes plus an equal share of the accrued
		// yield; only forfeited stakes go to charity
		share := yield / int64(len(winners))
		remainder := yield % int64(len(winners))
		for i, w := range winners {
			amount := w.StakeLocked + share
			if i == 0 {
				amount += remainder
			}
			plan.Payouts = append(plan.Payouts, PlannedPayout{Wallet: w.Wallet, Kind: types.PayoutWinner, Amount: amount})
		}
		if forfeits := surplus - yield; forfeits > 0 {
			plan.Payouts = append(plan.Payouts, PlannedPayout{Wallet: charityAddress, Kind: types.PayoutCharity, Amount: forfeits})
		}

	case types.ModeSplit:
		// Forfeits and yield split between winners and charity by percentage.
		// Flooring losses from the percentage cut land on the charity side.
		winnersPool := surplus * int64(pool.WinnerPercent) / 100
		share := winnersPool / int64(len(winners))
		remainder := winnersPool % int64(len(winners))
		for i, w := range winners {
			amount := w.StakeLocked + share
			if i == 0 {
				amount += remainder
			}
			plan.Payouts = append(plan.Payouts, PlannedPayout{Wallet: w.Wallet, Kind: types.PayoutWinner, Amount: amount})
		}
		if charityAmount := surplus - winnersPool; charityAmount > 0 {
			plan.Payouts = append(plan.Payouts, PlannedPayout{Wallet: charityAddress, Kind: types.PayoutCharity, Amount: charityAmount})
		}

	default:
		return nil, apperrors.NewValidationError("unknown distribution mode")
	}

	return plan, checkConservation(plan)
}

// ComputeRefundPlan returns every participant's stake for an expired pool
func ComputeRefundPlan(pool *models.Pool, participants []*models.Participant) (*Plan, error) {
	sorted := make([]*models.Participant, len(participants))
	copy(sorted, participants)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Wallet < sorted[j].Wallet })

	plan := &Plan{PoolID: pool.PoolID}
	for _, p := range sorted {
		plan.Payouts = append(plan.Payouts, PlannedPayout{Wallet: p.Wallet, Kind: types.PayoutRefund, Amount: p.StakeLocked})
		plan.Total += p.StakeLocked
	}
	return plan, nil
}

// checkConservation verifies every lamport is assigned exactly once
func checkConservation(plan *Plan) error {
	var sum int64
	for _, p := range plan.Payouts {
		if p.Amount < 0 {
			return apperrors.NewInternalError("planned payout amount is negative", nil)
		}
		sum += p.Amount
	}
	if sum != plan.Total {
		return apperrors.NewEscrowViolationError(plan.PoolID, sum, plan.Total)
	}
	return nil
}
