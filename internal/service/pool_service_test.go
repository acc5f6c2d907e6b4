package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/commitment-pool/internal/clock"
	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/registry"
	"github.com/commitment-pool/internal/types"
)

type fakeLifecycle struct {
	pool *models.Pool
	err  error
}

func (f *fakeLifecycle) CreatePool(ctx context.Context, params *registry.CreateParams, now time.Time) (*models.Pool, error) {
	return f.pool, f.err
}

func (f *fakeLifecycle) Join(ctx context.Context, poolID, wallet string, now time.Time) (*models.Pool, error) {
	return f.pool, f.err
}

type memPoolStore struct {
	pools map[string]*models.Pool
	gets  int
}

func (m *memPoolStore) Get(ctx context.Context, poolID string) (*models.Pool, error) {
	m.gets++
	p, ok := m.pools[poolID]
	if !ok {
		return nil, apperrors.NewNotFoundError("pool", poolID)
	}
	return p, nil
}

func (m *memPoolStore) ListPublic(ctx context.Context, limit, offset int) ([]*models.Pool, error) {
	var out []*models.Pool
	for _, p := range m.pools {
		if p.IsPublic {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPoolStore) ListByStatus(ctx context.Context, statuses ...types.PoolStatus) ([]*models.Pool, error) {
	var out []*models.Pool
	for _, p := range m.pools {
		for _, s := range statuses {
			if p.Status == s {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

type memParticipantStore struct {
	participants map[string]*models.Participant // wallet -> participant
}

func (m *memParticipantStore) Get(ctx context.Context, poolID, wallet string) (*models.Participant, error) {
	p, ok := m.participants[wallet]
	if !ok {
		return nil, apperrors.NewNotFoundError("participant", wallet)
	}
	return p, nil
}

func (m *memParticipantStore) ListByPool(ctx context.Context, poolID string) ([]*models.Participant, error) {
	var out []*models.Participant
	for _, p := range m.participants {
		out = append(out, p)
	}
	return out, nil
}

type memVerificationStore struct {
	records []*models.VerificationRecord
}

func (m *memVerificationStore) Get(ctx context.Context, poolID, wallet string, day int) (*models.VerificationRecord, error) {
	for _, r := range m.records {
		if r.Wallet == wallet && r.Day == day {
			return r, nil
		}
	}
	return nil, apperrors.NewNotFoundError("verification", wallet)
}

func (m *memVerificationStore) ListByPoolWallet(ctx context.Context, poolID, wallet string) ([]*models.VerificationRecord, error) {
	var out []*models.VerificationRecord
	for _, r := range m.records {
		if r.Wallet == wallet {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memVerificationStore) ListByPoolDay(ctx context.Context, poolID string, day int) ([]*models.VerificationRecord, error) {
	var out []*models.VerificationRecord
	for _, r := range m.records {
		if r.Day == day {
			out = append(out, r)
		}
	}
	return out, nil
}

type memPayoutStore struct {
	payouts []*models.Payout
}

func (m *memPayoutStore) ListPayouts(ctx context.Context, poolID string) ([]*models.Payout, error) {
	return m.payouts, nil
}

type memEvidenceStore struct {
	created []*models.EvidenceSubmission
}

func (m *memEvidenceStore) Create(ctx context.Context, e *models.EvidenceSubmission) error {
	m.created = append(m.created, e)
	return nil
}

type memIdentityStore struct {
	bindings []*models.IdentityBinding
}

func (m *memIdentityStore) Bind(ctx context.Context, b *models.IdentityBinding) error {
	m.bindings = append(m.bindings, b)
	return nil
}

func (m *memIdentityStore) ListByWallet(ctx context.Context, wallet string) ([]*models.IdentityBinding, error) {
	var out []*models.IdentityBinding
	for _, b := range m.bindings {
		if b.Wallet == wallet {
			out = append(out, b)
		}
	}
	return out, nil
}

type mapCache struct {
	mu          sync.Mutex
	entries     map[string]string
	invalidated []string
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]string)}
}

func (c *mapCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return "", apperrors.NewNotFoundError("cache key", key)
	}
	return v, nil
}

func (c *mapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		c.entries[key] = string(v)
	case string:
		c.entries[key] = v
	}
	return nil
}

func (c *mapCache) InvalidatePool(ctx context.Context, poolID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, poolID)
	delete(c.entries, "pool:"+poolID)
	return nil
}

type nopAuditor struct{}

func (nopAuditor) Record(poolID, wallet, kind string, payload map[string]interface{}) {}

type serviceFixture struct {
	svc           *PoolService
	lifecycle     *fakeLifecycle
	pools         *memPoolStore
	participants  *memParticipantStore
	verifications *memVerificationStore
	evidence      *memEvidenceStore
	identities    *memIdentityStore
	cache         *mapCache
	clk           *clock.Fake
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		lifecycle:     &fakeLifecycle{},
		pools:         &memPoolStore{pools: make(map[string]*models.Pool)},
		participants:  &memParticipantStore{participants: make(map[string]*models.Participant)},
		verifications: &memVerificationStore{},
		evidence:      &memEvidenceStore{},
		identities:    &memIdentityStore{},
		cache:         newMapCache(),
		clk:           clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	}
	svc, err := NewPoolService(&Config{
		Lifecycle:     f.lifecycle,
		Pools:         f.pools,
		Participants:  f.participants,
		Verifications: f.verifications,
		Payouts:       &memPayoutStore{},
		Evidence:      f.evidence,
		Identities:    f.identities,
		Cache:         f.cache,
		CacheTTL:      time.Minute,
		Audit:         nopAuditor{},
		Clock:         f.clk,
	})
	if err != nil {
		t.Fatalf("NewPoolService: %v", err)
	}
	f.svc = svc
	return f
}

func activeEvidencePool(start time.Time) *models.Pool {
	return &models.Pool{
		PoolID: "pool-1",
		Name:   "No doomscrolling",
		Goal: types.GoalSpec{
			Kind:           types.GoalEvidenceUpload,
			EvidenceUpload: &types.EvidenceUploadGoal{HabitName: "screen time", MaxQuantity: 2},
		},
		StakeAmount:      500_000_000,
		DurationDays:     30,
		MinParticipants:  1,
		MaxParticipants:  10,
		DistributionMode: types.ModeCompetitive,
		IsPublic:         true,
		Status:           types.PoolActive,
		StartTimestamp:   &start,
		ParticipantCount: 1,
	}
}

func TestSolToLamports(t *testing.T) {
	got, err := SolToLamports("0.5")
	if err != nil {
		t.Fatalf("SolToLamports: %v", err)
	}
	if got != 500_000_000 {
		t.Errorf("expected 500000000 lamports, got %d", got)
	}

	got, err = SolToLamports("1")
	if err != nil {
		t.Fatalf("SolToLamports: %v", err)
	}
	if got != 1_000_000_000 {
		t.Errorf("expected 1000000000 lamports, got %d", got)
	}

	for _, bad := range []string{"0.0000000001", "-1", "0", "abc", ""} {
		if _, err := SolToLamports(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestLamportsToSol(t *testing.T) {
	if got := LamportsToSol(1_500_000_000); got != "1.5" {
		t.Errorf("expected 1.5, got %s", got)
	}
	if got := LamportsToSol(1); got != "0.000000001" {
		t.Errorf("expected 0.000000001, got %s", got)
	}
	if got := LamportsToSol(0); got != "0" {
		t.Errorf("expected 0, got %s", got)
	}
}

func TestGetPoolCachesProjection(t *testing.T) {
	f := newServiceFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.pools.pools["pool-1"] = activeEvidencePool(start)

	view, err := f.svc.GetPool(context.Background(), "pool-1")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if view.StakeSol != "0.5" {
		t.Errorf("expected stake 0.5 SOL, got %s", view.StakeSol)
	}
	if f.pools.gets != 1 {
		t.Fatalf("expected one store read, got %d", f.pools.gets)
	}

	again, err := f.svc.GetPool(context.Background(), "pool-1")
	if err != nil {
		t.Fatalf("GetPool cached: %v", err)
	}
	if f.pools.gets != 1 {
		t.Errorf("expected cached read, store was hit %d times", f.pools.gets)
	}
	if again.PoolID != "pool-1" || again.StakeSol != "0.5" {
		t.Errorf("cached projection mismatch: %+v", again)
	}
}

func TestJoinPoolInvalidatesCache(t *testing.T) {
	f := newServiceFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pool := activeEvidencePool(start)
	f.pools.pools["pool-1"] = pool
	f.lifecycle.pool = pool

	if _, err := f.svc.GetPool(context.Background(), "pool-1"); err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if _, err := f.svc.JoinPool(context.Background(), "pool-1", "walletB"); err != nil {
		t.Fatalf("JoinPool: %v", err)
	}

	if len(f.cache.invalidated) != 1 || f.cache.invalidated[0] != "pool-1" {
		t.Errorf("expected cache invalidation for pool-1, got %v", f.cache.invalidated)
	}
}

func TestListPoolsRejectsUnknownStatus(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.ListPools(context.Background(), "bogus", 10, 0)
	categorized := apperrors.Categorize(err)
	if categorized == nil || categorized.Code != apperrors.CodeValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestListPoolsFiltersPrivate(t *testing.T) {
	f := newServiceFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	public := activeEvidencePool(start)
	private := activeEvidencePool(start)
	private.PoolID = "pool-2"
	private.IsPublic = false
	f.pools.pools["pool-1"] = public
	f.pools.pools["pool-2"] = private

	views, err := f.svc.ListPools(context.Background(), string(types.PoolActive), 10, 0)
	if err != nil {
		t.Fatalf("ListPools: %v", err)
	}
	if len(views) != 1 || views[0].PoolID != "pool-1" {
		t.Errorf("expected only the public pool, got %d views", len(views))
	}
}

func TestSubmitEvidenceCurrentDay(t *testing.T) {
	f := newServiceFixture(t)
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	f.pools.pools["pool-1"] = activeEvidencePool(start)
	f.participants.participants["walletA"] = &models.Participant{
		PoolID: "pool-1", Wallet: "walletA", Status: types.ParticipantActive,
	}

	// Clock is at 2026-03-10T12:00Z, so day 2 is open
	sub, err := f.svc.SubmitEvidence(context.Background(), &EvidenceRequest{
		PoolID:      "pool-1",
		Wallet:      "walletA",
		EvidenceRef: "https://evidence.example/shot.png",
		Quantity:    1,
	})
	if err != nil {
		t.Fatalf("SubmitEvidence: %v", err)
	}
	if sub.Day != 2 {
		t.Errorf("expected submission for day 2, got %d", sub.Day)
	}
	if len(f.evidence.created) != 1 {
		t.Errorf("expected one persisted submission, got %d", len(f.evidence.created))
	}
}

func TestSubmitEvidenceClosedDayRejected(t *testing.T) {
	f := newServiceFixture(t)
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	f.pools.pools["pool-1"] = activeEvidencePool(start)
	f.participants.participants["walletA"] = &models.Participant{
		PoolID: "pool-1", Wallet: "walletA", Status: types.ParticipantActive,
	}

	_, err := f.svc.SubmitEvidence(context.Background(), &EvidenceRequest{
		PoolID:      "pool-1",
		Wallet:      "walletA",
		Day:         1, // closed yesterday
		EvidenceRef: "https://evidence.example/shot.png",
	})
	categorized := apperrors.Categorize(err)
	if categorized == nil || categorized.Code != apperrors.CodeWindowClosed {
		t.Errorf("expected window closed error, got %v", err)
	}
}

func TestSubmitEvidenceWrongGoalKind(t *testing.T) {
	f := newServiceFixture(t)
	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	pool := activeEvidencePool(start)
	pool.Goal = types.GoalSpec{
		Kind:      types.GoalHodlToken,
		HodlToken: &types.HodlTokenGoal{Chain: types.ChainSolana, TokenMint: "So111", MinBalance: 1},
	}
	f.pools.pools["pool-1"] = pool

	_, err := f.svc.SubmitEvidence(context.Background(), &EvidenceRequest{
		PoolID:      "pool-1",
		Wallet:      "walletA",
		EvidenceRef: "https://evidence.example/shot.png",
	})
	categorized := apperrors.Categorize(err)
	if categorized == nil || categorized.Code != apperrors.CodeValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestListVerificationsRequiresFilter(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.ListVerifications(context.Background(), "pool-1", "", 0)
	categorized := apperrors.Categorize(err)
	if categorized == nil || categorized.Code != apperrors.CodeValidation {
		t.Errorf("expected validation error, got %v", err)
	}

	f.verifications.records = []*models.VerificationRecord{
		{PoolID: "pool-1", Wallet: "walletA", Day: 1, Outcome: types.OutcomePassed},
		{PoolID: "pool-1", Wallet: "walletA", Day: 2, Outcome: types.OutcomeFailed},
		{PoolID: "pool-1", Wallet: "walletB", Day: 1, Outcome: types.OutcomePassed},
	}

	byWallet, err := f.svc.ListVerifications(context.Background(), "pool-1", "walletA", 0)
	if err != nil {
		t.Fatalf("ListVerifications by wallet: %v", err)
	}
	if len(byWallet) != 2 {
		t.Errorf("expected 2 records for walletA, got %d", len(byWallet))
	}

	byDay, err := f.svc.ListVerifications(context.Background(), "pool-1", "", 1)
	if err != nil {
		t.Fatalf("ListVerifications by day: %v", err)
	}
	if len(byDay) != 2 {
		t.Errorf("expected 2 records for day 1, got %d", len(byDay))
	}

	exact, err := f.svc.ListVerifications(context.Background(), "pool-1", "walletA", 2)
	if err != nil {
		t.Fatalf("ListVerifications exact: %v", err)
	}
	if len(exact) != 1 || exact[0].Outcome != types.OutcomeFailed {
		t.Errorf("expected the single day-2 verdict, got %v", exact)
	}
}

func TestParticipantProgressProjection(t *testing.T) {
	f := newServiceFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.pools.pools["pool-1"] = activeEvidencePool(start)
	f.participants.participants["walletA"] = &models.Participant{
		PoolID:       "pool-1",
		Wallet:       "walletA",
		StakeLocked:  500_000_000,
		Status:       types.ParticipantSuccess,
		DaysVerified: 15,
		PayoutAmount: 750_000_000,
	}

	views, err := f.svc.ListParticipants(context.Background(), "pool-1")
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one participant, got %d", len(views))
	}
	if views[0].Progress != "0.5" {
		t.Errorf("expected progress 0.5, got %s", views[0].Progress)
	}
	if views[0].PayoutSol != "0.75" {
		t.Errorf("expected payout 0.75 SOL, got %s", views[0].PayoutSol)
	}
}

func TestBindIdentity(t *testing.T) {
	f := newServiceFixture(t)

	if _, err := f.svc.BindIdentity(context.Background(), "walletA", "", "octocat"); err == nil {
		t.Error("expected missing provider to be rejected")
	}

	binding, err := f.svc.BindIdentity(context.Background(), "walletA", "github", "octocat")
	if err != nil {
		t.Fatalf("BindIdentity: %v", err)
	}
	if binding.BoundAt.IsZero() {
		t.Error("expected boundAt to be stamped")
	}

	bindings, err := f.svc.ListIdentityBindings(context.Background(), "walletA")
	if err != nil {
		t.Fatalf("ListIdentityBindings: %v", err)
	}
	if len(bindings) != 1 || bindings[0].IdentityRef != "octocat" {
		t.Errorf("expected the stored binding, got %v", bindings)
	}
}
