// Package scheduler drives the time-based agent: pool lifecycle transitions,
// verification sweeps, and settlement all run from cron ticks that recompute
// due work from stored timestamps. Ticks are safe to miss and safe to repeat;
// no state lives in the scheduler itself.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/commitment-pool/internal/clock"
	"github.com/commitment-pool/internal/config"
	"github.com/commitment-pool/internal/logging"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/storage"
	"github.com/commitment-pool/internal/types"
)

// PoolSource lists pools by status
type PoolSource interface {
	ListByStatus(ctx context.Context, statuses ...types.PoolStatus) ([]*models.Pool, error)
}

// Lifecycle advances a pool through its state machine
type Lifecycle interface {
	Advance(ctx context.Context, pool *models.Pool, now time.Time) (bool, error)
}

// Verifier runs a pool's due verification work
type Verifier interface {
	SweepPool(ctx context.Context, pool *models.Pool) error
}

// Settler settles ended pools and refunds expired ones
type Settler interface {
	Settle(ctx context.Context, pool *models.Pool) error
	RefundAll(ctx context.Context, pool *models.Pool) error
}

// Leaser serializes per-pool work across agent instances. nil disables
// distributed leasing; a local mutex set takes over for single-instance runs.
type Leaser interface {
	Acquire(ctx context.Context, poolID string) (*storage.Lease, error)
	Extend(ctx context.Context, lease *storage.Lease) error
	Release(ctx context.Context, lease *storage.Lease) error
}

// leaseRenewInterval keeps held leases alive during sweeps that run longer
// than the lease TTL.
const leaseRenewInterval = 30 * time.Second

// Worker is the long-running agent process
type Worker struct {
	pools     PoolSource
	lifecycle Lifecycle
	verifier  Verifier
	settler   Settler
	leases    Leaser
	clk       clock.Clock

	cron       *cron.Cron
	sem        chan struct{}
	local      sync.Map // poolID -> struct{}, lease fallback
	renewEvery time.Duration
	mu         sync.RWMutex
	running    bool

	verifyCron     string
	transitionCron string
	settleCron     string
}

// WorkerConfig holds the worker's dependencies
type WorkerConfig struct {
	Scheduler *config.SchedulerConfig
	Pools     PoolSource
	Lifecycle Lifecycle
	Verifier  Verifier
	Settler   Settler
	Leases    Leaser // optional
	Clock     clock.Clock
}

// NewWorker creates a new agent worker
func NewWorker(cfg *WorkerConfig) (*Worker, error) {
	if cfg.Pools == nil {
		return nil, fmt.Errorf("pool source cannot be nil")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle cannot be nil")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("verifier cannot be nil")
	}
	if cfg.Settler == nil {
		return nil, fmt.Errorf("settler cannot be nil")
	}

	maxConcurrent := cfg.Scheduler.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Worker{
		pools:          cfg.Pools,
		lifecycle:      cfg.Lifecycle,
		verifier:       cfg.Verifier,
		settler:        cfg.Settler,
		leases:         cfg.Leases,
		clk:            clk,
		sem:            make(chan struct{}, maxConcurrent),
		renewEvery:     leaseRenewInterval,
		verifyCron:     cfg.Scheduler.VerifyCron,
		transitionCron: cfg.Scheduler.TransitionCron,
		settleCron:     cfg.Scheduler.SettleCron,
	}, nil
}

// Start schedules the ticks and begins processing
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("scheduler worker is already running")
	}
	w.running = true
	w.cron = cron.New()
	w.mu.Unlock()

	ticks := []struct {
		spec string
		name string
		fn   func(context.Context)
	}{
		{w.transitionCron, "transition", w.TransitionTick},
		{w.verifyCron, "verify", w.VerifyTick},
		{w.settleCron, "settle", w.SettleTick},
	}
	for _, tick := range ticks {
		tick := tick
		if _, err := w.cron.AddFunc(tick.spec, func() { tick.fn(ctx) }); err != nil {
			return fmt.Errorf("invalid %s cron spec %q: %w", tick.name, tick.spec, err)
		}
	}

	logging.WithFields(map[string]interface{}{
		"transitionCron": w.transitionCron,
		"verifyCron":     w.verifyCron,
		"settleCron":     w.settleCron,
	}).Info("Scheduler worker starting")
	w.cron.Start()
	return nil
}

// Stop halts the cron and waits for in-flight ticks to finish
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("scheduler worker is not running")
	}
	w.running = false
	w.mu.Unlock()

	done := w.cron.Stop().Done()
	select {
	case <-done:
		logging.Info("Scheduler worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("stop timeout")
	}
}

// Running reports whether the worker is started
func (w *Worker) Running() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// TransitionTick advances every non-terminal pool that has crossed a
// deadline: expiry, fill, auto-start, or end
func (w *Worker) TransitionTick(ctx context.Context) {
	now := w.clk.Now()
	pools, err := w.pools.ListByStatus(ctx, types.PoolRecruiting, types.PoolFilled, types.PoolActive)
	if err != nil {
		logging.WithError(err).Error("Transition tick: listing pools failed")
		return
	}
	for _, pool := range pools {
		pool := pool
		w.withPool(ctx, pool, func(ctx context.Context) {
			if _, err := w.lifecycle.Advance(ctx, pool, now); err != nil {
				logging.WithField("poolId", pool.PoolID).WithError(err).Error("Pool transition failed")
			}
		})
	}
}

// VerifyTick sweeps every active pool's verification windows
func (w *Worker) VerifyTick(ctx context.Context) {
	pools, err := w.pools.ListByStatus(ctx, types.PoolActive)
	if err != nil {
		logging.WithError(err).Error("Verify tick: listing pools failed")
		return
	}

	var wg sync.WaitGroup
	for _, pool := range pools {
		if pool.Halted {
			continue
		}
		pool := pool
		wg.Add(1)
		w.sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-w.sem }()
			w.withPool(ctx, pool, func(ctx context.Context) {
				if err := w.verifier.SweepPool(ctx, pool); err != nil {
					logging.WithField("poolId", pool.PoolID).WithError(err).Error("Verification sweep failed")
				}
			})
		}()
	}
	wg.Wait()
}

// SettleTick settles ended pools and refunds expired ones. Pools with
// unresolved payouts simply stay where they are until a later tick.
func (w *Worker) SettleTick(ctx context.Context) {
	pools, err := w.pools.ListByStatus(ctx, types.PoolEnded, types.PoolExpired)
	if err != nil {
		logging.WithError(err).Error("Settle tick: listing pools failed")
		return
	}
	for _, pool := range pools {
		if pool.Halted {
			continue
		}
		pool := pool
		w.withPool(ctx, pool, func(ctx context.Context) {
			var err error
			switch pool.Status {
			case types.PoolEnded:
				// Windows still open when the pool crossed end_timestamp,
				// the final day included, must be finalized before the
				// plan decides winners
				if err = w.verifier.SweepPool(ctx, pool); err == nil {
					err = w.settler.Settle(ctx, pool)
				}
			case types.PoolExpired:
				err = w.settler.RefundAll(ctx, pool)
			}
			if err != nil {
				logging.WithField("poolId", pool.PoolID).WithError(err).Error("Settlement failed")
			}
		})
	}
}

// withPool runs fn while holding the pool's lease. When another holder owns
// the lease the pool is skipped; the next tick will catch it.
func (w *Worker) withPool(ctx context.Context, pool *models.Pool, fn func(context.Context)) {
	if w.leases == nil {
		if _, loaded := w.local.LoadOrStore(pool.PoolID, struct{}{}); loaded {
			return
		}
		defer w.local.Delete(pool.PoolID)
		fn(ctx)
		return
	}

	lease, err := w.leases.Acquire(ctx, pool.PoolID)
	if err != nil {
		logging.WithField("poolId", pool.PoolID).WithError(err).Warn("Lease acquire failed")
		return
	}
	if lease == nil {
		return
	}
	defer func() {
		if err := w.leases.Release(ctx, lease); err != nil {
			logging.WithField("poolId", pool.PoolID).WithError(err).Warn("Lease release failed")
		}
	}()

	// Renew the lease while fn runs so a slow sweep does not lose it
	// to another agent mid-flight.
	renewCtx, cancelRenew := context.WithCancel(ctx)
	defer cancelRenew()
	go func() {
		ticker := time.NewTicker(w.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if err := w.leases.Extend(renewCtx, lease); err != nil {
					logging.WithField("poolId", pool.PoolID).WithError(err).Warn("Lease renewal failed")
					return
				}
			}
		}
	}()
	fn(ctx)
}
