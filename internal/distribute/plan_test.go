package distribute

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

const halfSol = 500_000_000

func planPool(mode types.DistributionMode, duration, tolerance int) *models.Pool {
	return &models.Pool{
		PoolID:           "pool-1",
		DurationDays:     duration,
		ToleranceDays:    tolerance,
		DistributionMode: mode,
		CharityAddress:   "CharityWallet",
	}
}

func planParticipants(n, winners int, stake int64, duration int) []*models.Participant {
	var out []*models.Participant
	for i := 0; i < n; i++ {
		days := 0
		if i < winners {
			days = duration
		}
		out = append(out, &models.Participant{
			PoolID:       "pool-1",
			Wallet:       fmt.Sprintf("wallet-%02d", i),
			StakeLocked:  stake,
			DaysVerified: days,
		})
	}
	return out
}

func payoutByWallet(plan *Plan, wallet string) *PlannedPayout {
	for i := range plan.Payouts {
		if plan.Payouts[i].Wallet == wallet {
			return &plan.Payouts[i]
		}
	}
	return nil
}

func TestCompetitiveSplitsPotAmongWinners(t *testing.T) {
	// 10 participants at 0.5 SOL, 6 finish: 5 SOL over 6 winners
	pool := planPool(types.ModeCompetitive, 30, 0)
	participants := planParticipants(10, 6, halfSol, 30)

	plan, err := ComputePlan(pool, participants, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Winners) != 6 || len(plan.Losers) != 4 {
		t.Fatalf("expected 6 winners and 4 losers, got %d/%d", len(plan.Winners), len(plan.Losers))
	}
	if plan.Total != 10*halfSol {
		t.Fatalf("expected total %d, got %d", 10*halfSol, plan.Total)
	}

	share := int64(10*halfSol) / 6
	remainder := int64(10*halfSol) % 6
	first := payoutByWallet(plan, "wallet-00")
	if first == nil || first.Amount != share+remainder {
		t.Errorf("expected first winner to take the remainder, got %+v", first)
	}
	for i := 1; i < 6; i++ {
		p := payoutByWallet(plan, fmt.Sprintf("wallet-%02d", i))
		if p == nil || p.Amount != share {
			t.Errorf("expected winner %d to get %d, got %+v", i, share, p)
		}
	}
	for i := 6; i < 10; i++ {
		if payoutByWallet(plan, fmt.Sprintf("wallet-%02d", i)) != nil {
			t.Errorf("loser %d should not receive a payout", i)
		}
	}
}

func TestSoloPoolWinnerTakesVault(t *testing.T) {
	pool := planPool(types.ModeCompetitive, 7, 0)
	participants := planParticipants(1, 1, halfSol, 7)

	plan, err := ComputePlan(pool, participants, 1000, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Payouts) != 1 {
		t.Fatalf("expected one payout, got %d", len(plan.Payouts))
	}
	if plan.Payouts[0].Amount != halfSol+1000 {
		t.Errorf("expected stake plus yield, got %d", plan.Payouts[0].Amount)
	}
}

func TestCharityModeSendsForfeitsToCharity(t *testing.T) {
	pool := planPool(types.ModeCharity, 7, 0)
	participants := planParticipants(4, 3, halfSol, 7)

	plan, err := ComputePlan(pool, participants, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		p := payoutByWallet(plan, fmt.Sprintf("wallet-%02d", i))
		if p == nil || p.Amount != halfSol || p.Kind != types.PayoutWinner {
			t.Errorf("expected winner %d to recover their stake, got %+v", i, p)
		}
	}
	charity := payoutByWallet(plan, "CharityWallet")
	if charity == nil || charity.Amount != halfSol || charity.Kind != types.PayoutCharity {
		t.Errorf("expected the forfeit to reach charity, got %+v", charity)
	}
}

func TestCharityModeSplitsYieldAmongWinners(t *testing.T) {
	// 2 winners, 2 losers at 1 SOL with 600 lamports of yield: winners get
	// stake plus 300 each, charity gets exactly the two forfeited stakes
	pool := planPool(types.ModeCharity, 7, 0)
	participants := planParticipants(4, 2, 1_000_000_000, 7)

	plan, err := ComputePlan(pool, participants, 600, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 2; i++ {
		p := payoutByWallet(plan, fmt.Sprintf("wallet-%02d", i))
		if p == nil || p.Amount != 1_000_000_300 {
			t.Errorf("expected winner %d to get stake plus yield share, got %+v", i, p)
		}
	}
	charity := payoutByWallet(plan, "CharityWallet")
	if charity == nil || charity.Amount != 2_000_000_000 {
		t.Errorf("expected charity to get only the forfeited stakes, got %+v", charity)
	}
}

func TestCharityModeYieldRemainderToFirstWinner(t *testing.T) {
	pool := planPool(types.ModeCharity, 7, 0)
	participants := planParticipants(3, 2, halfSol, 7)

	plan, err := ComputePlan(pool, participants, 601, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w0 := payoutByWallet(plan, "wallet-00")
	w1 := payoutByWallet(plan, "wallet-01")
	if w0 == nil || w0.Amount != halfSol+301 {
		t.Errorf("expected first winner to take the remainder, got %+v", w0)
	}
	if w1 == nil || w1.Amount != halfSol+300 {
		t.Errorf("unexpected second winner amount: %+v", w1)
	}
}

func TestSoloCharityPoolWinnerKeepsYield(t *testing.T) {
	pool := planPool(types.ModeCharity, 7, 0)
	participants := planParticipants(1, 1, halfSol, 7)

	plan, err := ComputePlan(pool, participants, 1000, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Payouts) != 1 {
		t.Fatalf("expected one payout, got %d", len(plan.Payouts))
	}
	if plan.Payouts[0].Amount != halfSol+1000 {
		t.Errorf("expected stake plus yield, got %d", plan.Payouts[0].Amount)
	}
}

func TestSplitModeRounding(t *testing.T) {
	// 2 winners, 2 losers at 1 SOL: surplus 2 SOL, 70% to winners
	pool := planPool(types.ModeSplit, 7, 0)
	pool.WinnerPercent = 70
	participants := planParticipants(4, 2, 1_000_000_000, 7)

	plan, err := ComputePlan(pool, participants, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	winnersPool := int64(2_000_000_000) * 70 / 100
	share := winnersPool / 2
	w0 := payoutByWallet(plan, "wallet-00")
	w1 := payoutByWallet(plan, "wallet-01")
	if w0 == nil || w0.Amount != 1_000_000_000+share {
		t.Errorf("unexpected first winner amount: %+v", w0)
	}
	if w1 == nil || w1.Amount != 1_000_000_000+share {
		t.Errorf("unexpected second winner amount: %+v", w1)
	}
	charity := payoutByWallet(plan, "CharityWallet")
	if charity == nil || charity.Amount != 2_000_000_000-winnersPool {
		t.Errorf("unexpected charity amount: %+v", charity)
	}
}

func TestNoWinnersWholeVaultToCharity(t *testing.T) {
	pool := planPool(types.ModeCompetitive, 7, 0)
	participants := planParticipants(3, 0, halfSol, 7)

	plan, err := ComputePlan(pool, participants, 500, "FallbackCharity")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Payouts) != 1 {
		t.Fatalf("expected a single charity payout, got %d", len(plan.Payouts))
	}
	p := plan.Payouts[0]
	if p.Wallet != "CharityWallet" || p.Kind != types.PayoutCharity || p.Amount != 3*halfSol+500 {
		t.Errorf("unexpected charity payout: %+v", p)
	}
}

func TestToleranceWidensWinners(t *testing.T) {
	pool := planPool(types.ModeCompetitive, 30, 2)
	participants := planParticipants(2, 0, halfSol, 30)
	participants[0].DaysVerified = 28 // exactly duration - tolerance
	participants[1].DaysVerified = 27

	plan, err := ComputePlan(pool, participants, 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Winners) != 1 || plan.Winners[0] != "wallet-00" {
		t.Errorf("expected only wallet-00 to win, got %v", plan.Winners)
	}
}

func TestRefundPlanReturnsEveryStake(t *testing.T) {
	pool := planPool(types.ModeCompetitive, 7, 0)
	participants := planParticipants(3, 0, halfSol, 7)

	plan, err := ComputeRefundPlan(pool, participants)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Payouts) != 3 {
		t.Fatalf("expected 3 refunds, got %d", len(plan.Payouts))
	}
	for _, p := range plan.Payouts {
		if p.Kind != types.PayoutRefund || p.Amount != halfSol {
			t.Errorf("unexpected refund payout: %+v", p)
		}
	}
}

func TestPlanConservationProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	partGen := gopter.CombineGens(
		gen.Int64Range(1, 10_000_000_000),
		gen.IntRange(0, 30),
	).Map(func(vals []interface{}) *models.Participant {
		return &models.Participant{
			StakeLocked:  vals[0].(int64),
			DaysVerified: vals[1].(int),
		}
	})

	properties.Property("every lamport is assigned exactly once", prop.ForAll(
		func(parts []*models.Participant, yield int64, modeIdx int, percent int) bool {
			if len(parts) == 0 {
				return true
			}
			for i, p := range parts {
				p.Wallet = fmt.Sprintf("wallet-%03d", i)
			}
			modes := []types.DistributionMode{types.ModeCompetitive, types.ModeCharity, types.ModeSplit}
			pool := planPool(modes[modeIdx%3], 30, 5)
			pool.WinnerPercent = percent

			plan, err := ComputePlan(pool, parts, yield, "FallbackCharity")
			if err != nil {
				return false
			}
			var sum, stakes int64
			for _, p := range plan.Payouts {
				if p.Amount < 0 {
					return false
				}
				sum += p.Amount
			}
			for _, p := range parts {
				stakes += p.StakeLocked
			}
			return sum == stakes+yield && plan.Total == stakes+yield
		},
		gen.SliceOf(partGen),
		gen.Int64Range(0, 1_000_000),
		gen.IntRange(0, 2),
		gen.IntRange(1, 99),
	))

	properties.TestingRun(t)
}
