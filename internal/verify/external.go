package verify

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

// IdentityStore resolves wallet identity bindings. Bindings are written only
// by the account-linking flow; checkers read them and never trust anything
// the participant submits directly.
type IdentityStore interface {
	Get(ctx context.Context, wallet, provider string) (*models.IdentityBinding, error)
}

// EventsSource counts a bound identity's provider events inside a window
type EventsSource interface {
	CountEvents(ctx context.Context, identityRef string, from, to time.Time) (events int, volume int64, err error)
}

// ExternalChecker verifies external_activity goals against a third-party
// provider. A participant without an identity binding for the pool's provider
// fails outright; activity cannot be attributed to an unverified account.
type ExternalChecker struct {
	identities IdentityStore
	providers  map[string]EventsSource
}

// NewExternalChecker creates a checker over the given provider sources
func NewExternalChecker(identities IdentityStore, providers map[string]EventsSource) *ExternalChecker {
	return &ExternalChecker{identities: identities, providers: providers}
}

// Check counts the bound identity's provider events for the window
func (c *ExternalChecker) Check(ctx context.Context, pool *models.Pool, participant *models.Participant, window Window) (*Result, error) {
	goal := pool.Goal.ExternalActivity
	if goal == nil {
		return nil, apperrors.NewInternalError("external checker invoked without external_activity goal", nil)
	}

	binding, err := c.identities.Get(ctx, participant.Wallet, goal.Provider)
	if err != nil {
		if catErr := apperrors.Categorize(err); catErr != nil && catErr.Code == apperrors.CodeUnverifiedIdent {
			return &Result{
				Outcome:     types.OutcomeFailed,
				EvidenceRef: types.EvidenceUnverifiedIdentity,
				Confidence:  types.ConfidenceProvider,
			}, nil
		}
		return nil, err
	}

	source, ok := c.providers[goal.Provider]
	if !ok {
		return nil, apperrors.NewInternalError(fmt.Sprintf("no events source for provider %q", goal.Provider), nil)
	}

	events, volume, err := source.CountEvents(ctx, binding.IdentityRef, window.Start, window.End)
	if err != nil {
		return nil, apperrors.NewInconclusiveError(goal.Provider, err)
	}

	outcome := types.OutcomeFailed
	if events >= goal.MinEventsPerDay && (goal.MinVolumePerDay == 0 || volume >= int64(goal.MinVolumePerDay)) {
		outcome = types.OutcomePassed
	}
	return &Result{
		Outcome:     outcome,
		EvidenceRef: fmt.Sprintf("events:%d", events),
		Confidence:  types.ConfidenceProvider,
	}, nil
}
