// Package verify implements daily goal verification. A checker produces a
// verdict for one participant-day; the engine sweeps active pools, applies
// last-check-wins semantics inside open day windows, and fails closed when a
// window ends without a conclusive verdict.
package verify

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

// Window is one 1-indexed challenge day, bounded [Start, End) in UTC.
type Window struct {
	Day   int
	Start time.Time
	End   time.Time
}

// WindowFor returns the day window of a pool for the given day number.
func WindowFor(pool *models.Pool, day int) Window {
	start, end := pool.DayWindow(day)
	return Window{Day: day, Start: start, End: end}
}

// Result is a checker verdict for one participant-day.
type Result struct {
	Outcome     types.VerificationOutcome
	EvidenceRef string
	Confidence  types.Confidence
}

// Checker verifies one participant against one day window. An error return
// means the signal source could not be consulted; the engine records it as
// inconclusive. A confirmed miss is a failed Result, not an error.
type Checker interface {
	Check(ctx context.Context, pool *models.Pool, participant *models.Participant, window Window) (*Result, error)
}

// Dispatcher routes checks to the checker registered for the pool's goal
// kind. Adding a goal kind means registering one more checker; nothing else
// branches on kinds.
type Dispatcher struct {
	checkers map[types.GoalKind]Checker
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{checkers: make(map[types.GoalKind]Checker)}
}

// Register installs a checker for a goal kind, replacing any previous one
func (d *Dispatcher) Register(kind types.GoalKind, c Checker) {
	d.checkers[kind] = c
}

// Check dispatches to the checker for the pool's goal kind
func (d *Dispatcher) Check(ctx context.Context, pool *models.Pool, participant *models.Participant, window Window) (*Result, error) {
	c, ok := d.checkers[pool.Goal.Kind]
	if !ok {
		return nil, apperrors.NewInternalError(fmt.Sprintf("no checker registered for goal kind %q", pool.Goal.Kind), nil)
	}
	return c.Check(ctx, pool, participant, window)
}

// DefaultConfidence returns the assurance tier a goal kind's verdicts carry
func DefaultConfidence(kind types.GoalKind) types.Confidence {
	switch kind {
	case types.GoalHodlToken, types.GoalDailyTxCount:
		return types.ConfidenceOnChain
	case types.GoalExternalActivity:
		return types.ConfidenceProvider
	default:
		return types.ConfidenceAttested
	}
}
