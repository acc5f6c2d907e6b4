package registry

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

type memPoolStore struct {
	pools map[string]*models.Pool
	joins map[string]map[string]bool
}

func newMemPoolStore() *memPoolStore {
	return &memPoolStore{
		pools: make(map[string]*models.Pool),
		joins: make(map[string]map[string]bool),
	}
}

func (s *memPoolStore) Create(_ context.Context, pool *models.Pool) error {
	copy := *pool
	s.pools[pool.PoolID] = &copy
	s.joins[pool.PoolID] = make(map[string]bool)
	return nil
}

func (s *memPoolStore) Get(_ context.Context, poolID string) (*models.Pool, error) {
	pool, ok := s.pools[poolID]
	if !ok {
		return nil, apperrors.NewNotFoundError("pool", poolID)
	}
	copy := *pool
	return &copy, nil
}

func (s *memPoolStore) ListByStatus(_ context.Context, statuses ...types.PoolStatus) ([]*models.Pool, error) {
	var out []*models.Pool
	for _, pool := range s.pools {
		for _, status := range statuses {
			if pool.Status == status {
				copy := *pool
				out = append(out, &copy)
			}
		}
	}
	return out, nil
}

func (s *memPoolStore) Transition(_ context.Context, poolID string, from []types.PoolStatus, to types.PoolStatus, now time.Time, set map[string]time.Time) (bool, error) {
	pool, ok := s.pools[poolID]
	if !ok {
		return false, apperrors.NewNotFoundError("pool", poolID)
	}
	if pool.Halted {
		return false, nil
	}
	allowed := false
	for _, f := range from {
		if pool.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	pool.Status = to
	pool.UpdatedAt = now
	for col, t := range set {
		tt := t
		switch col {
		case "filled_at":
			pool.FilledAt = &tt
		case "auto_start_time":
			pool.AutoStartTime = &tt
		case "start_timestamp":
			pool.StartTimestamp = &tt
		case "end_timestamp":
			pool.EndTimestamp = &tt
		}
	}
	return true, nil
}

func (s *memPoolStore) Join(_ context.Context, poolID, wallet string, now time.Time) (*models.Pool, error) {
	pool, ok := s.pools[poolID]
	if !ok {
		return nil, apperrors.NewNotFoundError("pool", poolID)
	}
	if pool.Status != types.PoolRecruiting && pool.Status != types.PoolFilled {
		return nil, apperrors.NewPoolNotJoinableError(poolID, pool.Status)
	}
	if pool.ParticipantCount >= pool.MaxParticipants {
		return nil, apperrors.NewCapacityError(poolID, pool.MaxParticipants)
	}
	if s.joins[poolID][wallet] {
		return nil, apperrors.NewValidationError("duplicate wallet")
	}
	s.joins[poolID][wallet] = true
	pool.ParticipantCount++
	pool.UpdatedAt = now
	copy := *pool
	return &copy, nil
}

func (s *memPoolStore) SetHalted(_ context.Context, poolID string, halted bool, now time.Time) error {
	pool, ok := s.pools[poolID]
	if !ok {
		return apperrors.NewNotFoundError("pool", poolID)
	}
	pool.Halted = halted
	pool.UpdatedAt = now
	return nil
}

type memIdentityStore struct {
	bindings map[string]*models.IdentityBinding
}

func (s *memIdentityStore) Get(_ context.Context, wallet, provider string) (*models.IdentityBinding, error) {
	b, ok := s.bindings[wallet+":"+provider]
	if !ok {
		return nil, apperrors.NewUnverifiedIdentityError(wallet, provider)
	}
	return b, nil
}

type nopAuditor struct{}

func (nopAuditor) Record(string, string, string, map[string]interface{}) {}

type memEscrowLocker struct {
	locked map[string]int
	err    error
}

func (l *memEscrowLocker) Lock(_ context.Context, poolID string, _ time.Time) error {
	if l.err != nil {
		return l.err
	}
	if l.locked == nil {
		l.locked = make(map[string]int)
	}
	l.locked[poolID]++
	return nil
}

func testRegistry() (*Registry, *memPoolStore, *memIdentityStore) {
	reg, pools, identities, _ := testRegistryWithEscrow()
	return reg, pools, identities
}

func testRegistryWithEscrow() (*Registry, *memPoolStore, *memIdentityStore, *memEscrowLocker) {
	pools := newMemPoolStore()
	identities := &memIdentityStore{bindings: make(map[string]*models.IdentityBinding)}
	locker := &memEscrowLocker{}
	return NewRegistry(pools, identities, locker, nopAuditor{}), pools, identities, locker
}

func hodlParams(deadline time.Time) *CreateParams {
	return &CreateParams{
		Name:          "hodl club",
		CreatorWallet: "creator",
		Goal: types.GoalSpec{
			Kind:      types.GoalHodlToken,
			HodlToken: &types.HodlTokenGoal{Chain: types.ChainSolana, TokenMint: "MintX", MinBalance: 100},
		},
		StakeAmount:         500_000_000,
		DurationDays:        7,
		MinParticipants:     2,
		MaxParticipants:     3,
		DistributionMode:    types.ModeCompetitive,
		IsPublic:            true,
		RecruitmentDeadline: deadline,
	}
}

func TestCreatePoolValidation(t *testing.T) {
	reg, _, _ := testRegistry()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(48 * time.Hour)

	tests := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"zero stake", func(p *CreateParams) { p.StakeAmount = 0 }},
		{"negative stake", func(p *CreateParams) { p.StakeAmount = -1 }},
		{"zero duration", func(p *CreateParams) { p.DurationDays = 0 }},
		{"max below min", func(p *CreateParams) { p.MaxParticipants = 1 }},
		{"tolerance at duration", func(p *CreateParams) { p.ToleranceDays = 7 }},
		{"charity without address", func(p *CreateParams) {
			p.DistributionMode = types.ModeCharity
			p.CharityAddress = ""
		}},
		{"split percent out of range", func(p *CreateParams) {
			p.DistributionMode = types.ModeSplit
			p.WinnerPercent = 100
			p.CharityAddress = "charity"
		}},
		{"missing goal variant", func(p *CreateParams) { p.Goal.HodlToken = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := hodlParams(deadline)
			tt.mutate(params)
			if _, err := reg.CreatePool(context.Background(), params, now); err == nil {
				t.Error("CreatePool() expected validation error, got nil")
			}
		})
	}
}

func TestJoinFillsPoolAtCapacity(t *testing.T) {
	reg, _, _ := testRegistry()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pool, err := reg.CreatePool(ctx, hodlParams(now.Add(48*time.Hour)), now)
	if err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}

	for _, wallet := range []string{"a", "b"} {
		if _, err := reg.Join(ctx, pool.PoolID, wallet, now); err != nil {
			t.Fatalf("Join(%s) error = %v", wallet, err)
		}
	}

	filled, err := reg.Join(ctx, pool.PoolID, "c", now)
	if err != nil {
		t.Fatalf("Join(c) error = %v", err)
	}
	if filled.Status != types.PoolFilled {
		t.Errorf("status after capacity join = %v, want filled", filled.Status)
	}
	if filled.AutoStartTime == nil {
		t.Fatal("auto start time not set on fill")
	}
	wantStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !filled.AutoStartTime.Equal(wantStart) {
		t.Errorf("auto start = %v, want next UTC midnight %v", filled.AutoStartTime, wantStart)
	}

	// A fourth join is rejected
	if _, err := reg.Join(ctx, pool.PoolID, "d", now); err == nil {
		t.Error("Join() on full pool expected capacity error, got nil")
	}
}

func TestSoloPoolFillsOnFirstJoin(t *testing.T) {
	reg, _, _ := testRegistry()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	params := hodlParams(now.Add(24 * time.Hour))
	params.MinParticipants = 1
	params.MaxParticipants = 1

	pool, err := reg.CreatePool(ctx, params, now)
	if err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}

	joined, err := reg.Join(ctx, pool.PoolID, "solo", now)
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if joined.Status != types.PoolFilled {
		t.Errorf("solo pool status after join = %v, want filled", joined.Status)
	}
}

func TestImmediateStartPool(t *testing.T) {
	reg, _, _ := testRegistry()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	params := hodlParams(now) // no recruitment window
	pool, err := reg.CreatePool(ctx, params, now)
	if err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}
	if pool.Status != types.PoolFilled {
		t.Errorf("immediate pool status = %v, want filled", pool.Status)
	}
	if pool.AutoStartTime == nil || !pool.AutoStartTime.Equal(now) {
		t.Errorf("immediate pool auto start = %v, want %v", pool.AutoStartTime, now)
	}
}

func TestAdvanceLifecycle(t *testing.T) {
	reg, store, _ := testRegistry()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pool, err := reg.CreatePool(ctx, hodlParams(now.Add(24*time.Hour)), now)
	if err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}
	for _, wallet := range []string{"a", "b"} {
		if _, err := reg.Join(ctx, pool.PoolID, wallet, now); err != nil {
			t.Fatalf("Join() error = %v", err)
		}
	}

	// Before the deadline nothing advances
	p, _ := store.Get(ctx, pool.PoolID)
	if changed, _ := reg.Advance(ctx, p, now.Add(time.Hour)); changed {
		t.Error("Advance() before deadline changed state")
	}

	// Deadline passes with min participants met: recruiting -> filled
	deadline := now.Add(24 * time.Hour)
	p, _ = store.Get(ctx, pool.PoolID)
	changed, err := reg.Advance(ctx, p, deadline)
	if err != nil || !changed {
		t.Fatalf("Advance() at deadline = (%v, %v), want change", changed, err)
	}
	if p.Status != types.PoolFilled {
		t.Fatalf("status = %v, want filled", p.Status)
	}

	// Auto start time passes: filled -> active with day-aligned window
	p, _ = store.Get(ctx, pool.PoolID)
	changed, err = reg.Advance(ctx, p, p.AutoStartTime.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("Advance() at auto start = (%v, %v), want change", changed, err)
	}
	if p.Status != types.PoolActive {
		t.Fatalf("status = %v, want active", p.Status)
	}
	if p.EndTimestamp == nil || !p.EndTimestamp.Equal(p.StartTimestamp.Add(7*24*time.Hour)) {
		t.Errorf("end timestamp = %v, want start + 7d", p.EndTimestamp)
	}

	// End passes: active -> ended
	p, _ = store.Get(ctx, pool.PoolID)
	changed, err = reg.Advance(ctx, p, p.EndTimestamp.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("Advance() at end = (%v, %v), want change", changed, err)
	}
	if p.Status != types.PoolEnded {
		t.Fatalf("status = %v, want ended", p.Status)
	}

	// Replay is a no-op, not an error
	p, _ = store.Get(ctx, pool.PoolID)
	changed, err = reg.Advance(ctx, p, p.EndTimestamp.Add(time.Hour))
	if err != nil {
		t.Fatalf("Advance() replay error = %v", err)
	}
	if changed {
		t.Error("Advance() replay changed state")
	}
}

func TestAdvanceLocksEscrowOnActivation(t *testing.T) {
	reg, store, _, locker := testRegistryWithEscrow()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pool, err := reg.CreatePool(ctx, hodlParams(now.Add(24*time.Hour)), now)
	if err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}
	for _, wallet := range []string{"a", "b", "c"} {
		if _, err := reg.Join(ctx, pool.PoolID, wallet, now); err != nil {
			t.Fatalf("Join() error = %v", err)
		}
	}
	if locker.locked[pool.PoolID] != 0 {
		t.Errorf("escrow locked %d times before activation, want 0", locker.locked[pool.PoolID])
	}

	p, _ := store.Get(ctx, pool.PoolID)
	changed, err := reg.Advance(ctx, p, p.AutoStartTime.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("Advance() at auto start = (%v, %v), want change", changed, err)
	}
	if p.Status != types.PoolActive {
		t.Fatalf("status = %v, want active", p.Status)
	}
	if locker.locked[pool.PoolID] != 1 {
		t.Errorf("escrow locked %d times on activation, want 1", locker.locked[pool.PoolID])
	}
}

func TestAdvanceEscrowLockFailureKeepsPoolFilled(t *testing.T) {
	reg, store, _, locker := testRegistryWithEscrow()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	params := hodlParams(now.Add(24 * time.Hour))
	params.MinParticipants = 1
	params.MaxParticipants = 1
	pool, err := reg.CreatePool(ctx, params, now)
	if err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}
	if _, err := reg.Join(ctx, pool.PoolID, "solo", now); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	locker.err = apperrors.NewDatabaseError("lock escrow", context.DeadlineExceeded)
	p, _ := store.Get(ctx, pool.PoolID)
	if _, err := reg.Advance(ctx, p, p.AutoStartTime.Add(time.Minute)); err == nil {
		t.Fatal("Advance() with failing escrow lock expected error, got nil")
	}

	// The pool stays filled so the next tick retries the lock
	p, _ = store.Get(ctx, pool.PoolID)
	if p.Status != types.PoolFilled {
		t.Errorf("status after failed lock = %v, want filled", p.Status)
	}
	locker.err = nil
	p, _ = store.Get(ctx, pool.PoolID)
	changed, err := reg.Advance(ctx, p, p.AutoStartTime.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("Advance() retry = (%v, %v), want change", changed, err)
	}
	if p.Status != types.PoolActive {
		t.Errorf("status after retry = %v, want active", p.Status)
	}
}

func TestAdvanceExpiresUnderfilledPool(t *testing.T) {
	reg, store, _ := testRegistry()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pool, err := reg.CreatePool(ctx, hodlParams(now.Add(24*time.Hour)), now)
	if err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}
	if _, err := reg.Join(ctx, pool.PoolID, "only-one", now); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	p, _ := store.Get(ctx, pool.PoolID)
	changed, err := reg.Advance(ctx, p, now.Add(25*time.Hour))
	if err != nil || !changed {
		t.Fatalf("Advance() = (%v, %v), want change", changed, err)
	}
	if p.Status != types.PoolExpired {
		t.Errorf("status = %v, want expired", p.Status)
	}
}

func TestHaltedPoolDoesNotAdvance(t *testing.T) {
	reg, store, _ := testRegistry()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	pool, err := reg.CreatePool(ctx, hodlParams(now.Add(time.Hour)), now)
	if err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}
	if err := reg.Halt(ctx, pool.PoolID, "escrow mismatch", now); err != nil {
		t.Fatalf("Halt() error = %v", err)
	}

	p, _ := store.Get(ctx, pool.PoolID)
	if changed, _ := reg.Advance(ctx, p, now.Add(48*time.Hour)); changed {
		t.Error("Advance() on halted pool changed state")
	}
}

func TestJoinExternalActivityRequiresIdentity(t *testing.T) {
	reg, _, identities := testRegistry()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	params := hodlParams(now.Add(24 * time.Hour))
	params.Goal = types.GoalSpec{
		Kind:             types.GoalExternalActivity,
		ExternalActivity: &types.ExternalActivityGoal{Provider: "github", MinEventsPerDay: 1},
	}

	pool, err := reg.CreatePool(ctx, params, now)
	if err != nil {
		t.Fatalf("CreatePool() error = %v", err)
	}

	_, err = reg.Join(ctx, pool.PoolID, "unbound", now)
	catErr := apperrors.Categorize(err)
	if catErr == nil || catErr.Code != apperrors.CodeUnverifiedIdent {
		t.Errorf("Join() without binding = %v, want unverified identity", err)
	}

	identities.bindings["bound:github"] = &models.IdentityBinding{Wallet: "bound", Provider: "github", IdentityRef: "gh-user"}
	if _, err := reg.Join(ctx, pool.PoolID, "bound", now); err != nil {
		t.Errorf("Join() with binding error = %v", err)
	}
}
