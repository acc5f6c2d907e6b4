package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/commitment-pool/internal/clock"
	"github.com/commitment-pool/internal/config"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/storage"
	"github.com/commitment-pool/internal/types"
)

type fakePoolSource struct {
	pools []*models.Pool
}

func (s *fakePoolSource) ListByStatus(_ context.Context, statuses ...types.PoolStatus) ([]*models.Pool, error) {
	var out []*models.Pool
	for _, pool := range s.pools {
		for _, status := range statuses {
			if pool.Status == status {
				out = append(out, pool)
			}
		}
	}
	return out, nil
}

type fakeLifecycle struct {
	mu       sync.Mutex
	advanced []string
}

func (l *fakeLifecycle) Advance(_ context.Context, pool *models.Pool, _ time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advanced = append(l.advanced, pool.PoolID)
	return true, nil
}

type fakeVerifier struct {
	mu    sync.Mutex
	swept []string
}

func (v *fakeVerifier) SweepPool(_ context.Context, pool *models.Pool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.swept = append(v.swept, pool.PoolID)
	return nil
}

type fakeSettler struct {
	mu       sync.Mutex
	settled  []string
	refunded []string
}

func (s *fakeSettler) Settle(_ context.Context, pool *models.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, pool.PoolID)
	return nil
}

func (s *fakeSettler) RefundAll(_ context.Context, pool *models.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refunded = append(s.refunded, pool.PoolID)
	return nil
}

func testWorker(t *testing.T, pools ...*models.Pool) (*Worker, *fakeLifecycle, *fakeVerifier, *fakeSettler) {
	t.Helper()
	lifecycle := &fakeLifecycle{}
	verifier := &fakeVerifier{}
	settler := &fakeSettler{}
	w, err := NewWorker(&WorkerConfig{
		Scheduler: &config.SchedulerConfig{
			VerifyCron:     "*/10 * * * *",
			TransitionCron: "* * * * *",
			SettleCron:     "*/5 * * * *",
			MaxConcurrent:  4,
		},
		Pools:     &fakePoolSource{pools: pools},
		Lifecycle: lifecycle,
		Verifier:  verifier,
		Settler:   settler,
		Clock:     clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return w, lifecycle, verifier, settler
}

func pool(id string, status types.PoolStatus) *models.Pool {
	return &models.Pool{PoolID: id, Status: status}
}

func TestNewWorkerValidation(t *testing.T) {
	_, err := NewWorker(&WorkerConfig{Scheduler: &config.SchedulerConfig{}})
	if err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestTransitionTickAdvancesNonTerminalPools(t *testing.T) {
	w, lifecycle, _, _ := testWorker(t,
		pool("p-recruiting", types.PoolRecruiting),
		pool("p-filled", types.PoolFilled),
		pool("p-active", types.PoolActive),
		pool("p-settled", types.PoolSettled),
	)

	w.TransitionTick(context.Background())

	if len(lifecycle.advanced) != 3 {
		t.Errorf("expected 3 pools advanced, got %v", lifecycle.advanced)
	}
	for _, id := range lifecycle.advanced {
		if id == "p-settled" {
			t.Error("terminal pool should not be advanced")
		}
	}
}

func TestVerifyTickSweepsActiveAndSkipsHalted(t *testing.T) {
	halted := pool("p-halted", types.PoolActive)
	halted.Halted = true
	w, _, verifier, _ := testWorker(t,
		pool("p-active-1", types.PoolActive),
		pool("p-active-2", types.PoolActive),
		halted,
		pool("p-ended", types.PoolEnded),
	)

	w.VerifyTick(context.Background())

	if len(verifier.swept) != 2 {
		t.Errorf("expected 2 pools swept, got %v", verifier.swept)
	}
	for _, id := range verifier.swept {
		if id == "p-halted" || id == "p-ended" {
			t.Errorf("pool %s should not be swept", id)
		}
	}
}

func TestSettleTickRoutesByStatus(t *testing.T) {
	w, _, _, settler := testWorker(t,
		pool("p-ended", types.PoolEnded),
		pool("p-expired", types.PoolExpired),
		pool("p-active", types.PoolActive),
	)

	w.SettleTick(context.Background())

	if len(settler.settled) != 1 || settler.settled[0] != "p-ended" {
		t.Errorf("expected only the ended pool settled, got %v", settler.settled)
	}
	if len(settler.refunded) != 1 || settler.refunded[0] != "p-expired" {
		t.Errorf("expected only the expired pool refunded, got %v", settler.refunded)
	}
}

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *callRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type recordingVerifier struct{ rec *callRecorder }

func (v *recordingVerifier) SweepPool(_ context.Context, pool *models.Pool) error {
	v.rec.add("sweep:" + pool.PoolID)
	return nil
}

type recordingSettler struct{ rec *callRecorder }

func (s *recordingSettler) Settle(_ context.Context, pool *models.Pool) error {
	s.rec.add("settle:" + pool.PoolID)
	return nil
}

func (s *recordingSettler) RefundAll(_ context.Context, pool *models.Pool) error {
	s.rec.add("refund:" + pool.PoolID)
	return nil
}

func TestSettleTickClosesOpenWindowsBeforeSettling(t *testing.T) {
	rec := &callRecorder{}
	w, err := NewWorker(&WorkerConfig{
		Scheduler: &config.SchedulerConfig{MaxConcurrent: 1},
		Pools:     &fakePoolSource{pools: []*models.Pool{pool("p-ended", types.PoolEnded)}},
		Lifecycle: &fakeLifecycle{},
		Verifier:  &recordingVerifier{rec: rec},
		Settler:   &recordingSettler{rec: rec},
		Clock:     clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.SettleTick(context.Background())

	want := []string{"sweep:p-ended", "settle:p-ended"}
	got := rec.snapshot()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("settle tick calls = %v, want %v", got, want)
	}
}

type fakeLeaser struct {
	mu       sync.Mutex
	extends  int
	released bool
}

func (l *fakeLeaser) Acquire(_ context.Context, poolID string) (*storage.Lease, error) {
	return &storage.Lease{Key: "lease:" + poolID, Token: "tok"}, nil
}

func (l *fakeLeaser) Extend(_ context.Context, _ *storage.Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	return nil
}

func (l *fakeLeaser) Release(_ context.Context, _ *storage.Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func (l *fakeLeaser) extendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extends
}

func TestWithPoolRenewsLeaseDuringLongRun(t *testing.T) {
	leaser := &fakeLeaser{}
	w, err := NewWorker(&WorkerConfig{
		Scheduler: &config.SchedulerConfig{MaxConcurrent: 1},
		Pools:     &fakePoolSource{},
		Lifecycle: &fakeLifecycle{},
		Verifier:  &fakeVerifier{},
		Settler:   &fakeSettler{},
		Leases:    leaser,
		Clock:     clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.renewEvery = time.Millisecond

	w.withPool(context.Background(), pool("p-1", types.PoolActive), func(context.Context) {
		deadline := time.Now().Add(2 * time.Second)
		for leaser.extendCount() < 2 {
			if time.Now().After(deadline) {
				t.Error("lease was not renewed while work was in flight")
				return
			}
			time.Sleep(time.Millisecond)
		}
	})

	leaser.mu.Lock()
	defer leaser.mu.Unlock()
	if !leaser.released {
		t.Error("lease not released after work finished")
	}
}

func TestWithPoolLocalLockSkipsHeldPool(t *testing.T) {
	w, lifecycle, _, _ := testWorker(t, pool("p-1", types.PoolActive))

	// Simulate another in-flight tick holding the pool
	w.local.Store("p-1", struct{}{})
	w.TransitionTick(context.Background())
	if len(lifecycle.advanced) != 0 {
		t.Errorf("expected the held pool skipped, got %v", lifecycle.advanced)
	}

	w.local.Delete("p-1")
	w.TransitionTick(context.Background())
	if len(lifecycle.advanced) != 1 {
		t.Errorf("expected the released pool processed, got %v", lifecycle.advanced)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	w, _, _, _ := testWorker(t)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Running() {
		t.Error("expected the worker to report running")
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("expected an error starting twice")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Running() {
		t.Error("expected the worker to report stopped")
	}
}
