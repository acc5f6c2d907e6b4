package verify

import (
	"context"
	"fmt"

	apperrors "github.com/commitment-pool/internal/errors"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/types"
)

// EvidenceStore reads daily evidence submissions
type EvidenceStore interface {
	GetLatestForDay(ctx context.Context, poolID, wallet string, day int) (*models.EvidenceSubmission, error)
}

// EvidenceChecker verifies evidence_upload goals. Purely honor-system: the
// verdict attests that something was submitted and its reported quantity is
// within bounds, nothing more.
type EvidenceChecker struct {
	store EvidenceStore
}

// NewEvidenceChecker creates a checker over the given evidence store
func NewEvidenceChecker(store EvidenceStore) *EvidenceChecker {
	return &EvidenceChecker{store: store}
}

// Check passes iff a submission exists for the window and its quantity does
// not exceed the goal's maximum. No submission yet is a failure; inside an
// open window a later upload and re-check overwrite it.
func (c *EvidenceChecker) Check(ctx context.Context, pool *models.Pool, participant *models.Participant, window Window) (*Result, error) {
	goal := pool.Goal.EvidenceUpload
	if goal == nil {
		return nil, apperrors.NewInternalError("evidence checker invoked without evidence_upload goal", nil)
	}

	sub, err := c.store.GetLatestForDay(ctx, pool.PoolID, participant.Wallet, window.Day)
	if err != nil {
		if catErr := apperrors.Categorize(err); catErr != nil && catErr.Code == apperrors.CodeNotFound {
			return &Result{
				Outcome:     types.OutcomeFailed,
				EvidenceRef: "honor_system:missing",
				Confidence:  types.ConfidenceAttested,
			}, nil
		}
		return nil, err
	}

	outcome := types.OutcomePassed
	if goal.MaxQuantity > 0 && sub.Quantity > goal.MaxQuantity {
		outcome = types.OutcomeFailed
	}
	return &Result{
		Outcome:     outcome,
		EvidenceRef: fmt.Sprintf("honor_system:upload:%s", sub.EvidenceID),
		Confidence:  types.ConfidenceAttested,
	}, nil
}
