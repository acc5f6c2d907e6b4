package types

import (
	"encoding/json"
	"fmt"
)

// GoalKind discriminates the GoalSpec tagged union
type GoalKind string

const (
	// GoalHodlToken requires holding a minimum token balance every day
	GoalHodlToken GoalKind = "hodl_token"
	// GoalDailyTxCount requires a minimum number of on-chain transactions per day
	GoalDailyTxCount GoalKind = "daily_tx_count"
	// GoalExternalActivity requires a minimum number of provider events per day
	// (e.g. GitHub commits) from a verified external identity
	GoalExternalActivity GoalKind = "external_activity"
	// GoalEvidenceUpload requires a daily honor-system evidence submission
	GoalEvidenceUpload GoalKind = "evidence_upload"
)

// GoalSpec is a closed tagged union over verification modalities. Exactly one
// of the variant pointers is set, matching Kind. Adding a goal type means
// adding a variant here and a checker implementation; the scheduler never
// branches on goal kinds.
type GoalSpec struct {
	Kind             GoalKind              `json:"kind"`
	HodlToken        *HodlTokenGoal        `json:"hodlToken,omitempty"`
	DailyTxCount     *DailyTxCountGoal     `json:"dailyTxCount,omitempty"`
	ExternalActivity *ExternalActivityGoal `json:"externalActivity,omitempty"`
	EvidenceUpload   *EvidenceUploadGoal   `json:"evidenceUpload,omitempty"`
}

// HodlTokenGoal requires maintaining a minimum token balance. The check is a
// point-in-time sample at verification time, not a continuous guarantee.
type HodlTokenGoal struct {
	Chain      ChainID `json:"chain"`
	TokenMint  string  `json:"tokenMint"`
	MinBalance int64   `json:"minBalance"` // smallest token unit
}

// DailyTxCountGoal requires a minimum transaction count inside each day window.
// Without a classifier hook any transaction counts, qualifying or not.
type DailyTxCountGoal struct {
	TokenMint      string `json:"tokenMint,omitempty"`
	MinCountPerDay int    `json:"minCountPerDay"`
}

// ExternalActivityGoal requires provider events (e.g. commits) each day from a
// verified external identity bound to the participant's wallet.
type ExternalActivityGoal struct {
	Provider        string `json:"provider"`
	MinEventsPerDay int    `json:"minEventsPerDay"`
	MinVolumePerDay int    `json:"minVolumePerDay,omitempty"`
}

// EvidenceUploadGoal requires a daily evidence submission. This is an
// honor-system tier; verdicts carry ConfidenceAttested.
type EvidenceUploadGoal struct {
	HabitName   string `json:"habitName"`
	MaxQuantity int64  `json:"maxQuantity,omitempty"` // e.g. max screen-time hours; 0 = any
}

// Validate checks that the union is well-formed: the Kind is known, the
// matching variant is present, the others are absent, and variant fields are
// in range.
func (g *GoalSpec) Validate() error {
	set := 0
	if g.HodlToken != nil {
		set++
	}
	if g.DailyTxCount != nil {
		set++
	}
	if g.ExternalActivity != nil {
		set++
	}
	if g.EvidenceUpload != nil {
		set++
	}
	if set != 1 {
		return &ServiceError{
			Code:    "VALIDATION_ERROR",
			Message: fmt.Sprintf("goal spec must set exactly one variant, got %d", set),
		}
	}

	switch g.Kind {
	case GoalHodlToken:
		if g.HodlToken == nil {
			return mismatchErr(g.Kind)
		}
		if g.HodlToken.TokenMint == "" {
			return &ServiceError{Code: "VALIDATION_ERROR", Message: "hodl_token goal requires tokenMint"}
		}
		if g.HodlToken.MinBalance <= 0 {
			return &ServiceError{Code: "VALIDATION_ERROR", Message: "hodl_token goal requires positive minBalance"}
		}
		if g.HodlToken.Chain != ChainSolana && g.HodlToken.Chain != ChainEthereum {
			return &ServiceError{
				Code:    "VALIDATION_ERROR",
				Message: fmt.Sprintf("unsupported chain %q for hodl_token goal", g.HodlToken.Chain),
			}
		}
	case GoalDailyTxCount:
		if g.DailyTxCount == nil {
			return mismatchErr(g.Kind)
		}
		if g.DailyTxCount.MinCountPerDay <= 0 {
			return &ServiceError{Code: "VALIDATION_ERROR", Message: "daily_tx_count goal requires positive minCountPerDay"}
		}
	case GoalExternalActivity:
		if g.ExternalActivity == nil {
			return mismatchErr(g.Kind)
		}
		if g.ExternalActivity.Provider == "" {
			return &ServiceError{Code: "VALIDATION_ERROR", Message: "external_activity goal requires provider"}
		}
		if g.ExternalActivity.MinEventsPerDay <= 0 {
			return &ServiceError{Code: "VALIDATION_ERROR", Message: "external_activity goal requires positive minEventsPerDay"}
		}
	case GoalEvidenceUpload:
		if g.EvidenceUpload == nil {
			return mismatchErr(g.Kind)
		}
		if g.EvidenceUpload.HabitName == "" {
			return &ServiceError{Code: "VALIDATION_ERROR", Message: "evidence_upload goal requires habitName"}
		}
	default:
		return &ServiceError{
			Code:    "VALIDATION_ERROR",
			Message: fmt.Sprintf("unknown goal kind %q", g.Kind),
		}
	}
	return nil
}

func mismatchErr(kind GoalKind) error {
	return &ServiceError{
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("goal kind %q does not match the variant set", kind),
	}
}

// ParseGoalSpec decodes and validates a GoalSpec from JSON.
func ParseGoalSpec(data []byte) (*GoalSpec, error) {
	var g GoalSpec
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, &ServiceError{Code: "VALIDATION_ERROR", Message: fmt.Sprintf("invalid goal spec: %v", err)}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}
