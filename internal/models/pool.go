// Package models defines the persisted entities of the commitment pool core.
package models

import (
	"time"

	"github.com/commitment-pool/internal/types"
)

// Pool is a group commitment contract with an escrowed stake, duration, and goal.
type Pool struct {
	PoolID        string         `json:"poolId"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	CreatorWallet string         `json:"creatorWallet"`
	Goal          types.GoalSpec `json:"goal"`

	StakeAmount     int64 `json:"stakeAmount"` // lamports, fixed per pool
	DurationDays    int   `json:"durationDays"`
	MinParticipants int   `json:"minParticipants"`
	MaxParticipants int   `json:"maxParticipants"`
	ToleranceDays   int   `json:"toleranceDays"` // allowed missed days; 0 = perfect streak

	DistributionMode types.DistributionMode `json:"distributionMode"`
	WinnerPercent    int                    `json:"winnerPercent"` // split mode only, 0-100
	CharityAddress   string                 `json:"charityAddress,omitempty"`

	IsPublic bool `json:"isPublic"`

	CreatedAt           time.Time  `json:"createdAt"`
	RecruitmentDeadline time.Time  `json:"recruitmentDeadline"`
	FilledAt            *time.Time `json:"filledAt,omitempty"`
	AutoStartTime       *time.Time `json:"autoStartTime,omitempty"`
	StartTimestamp      *time.Time `json:"startTimestamp,omitempty"`
	EndTimestamp        *time.Time `json:"endTimestamp,omitempty"`

	Status           types.PoolStatus `json:"status"`
	Halted           bool             `json:"halted"` // escrow invariant violation; manual audit required
	ParticipantCount int              `json:"participantCount"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// DayWindow returns the [start, end) bounds of a 1-indexed challenge day.
// Windows are whole 24-hour slices anchored at the pool's start timestamp,
// evaluated in UTC regardless of where the participant lives.
func (p *Pool) DayWindow(day int) (time.Time, time.Time) {
	start := p.StartTimestamp.UTC().Add(time.Duration(day-1) * 24 * time.Hour)
	return start, start.Add(24 * time.Hour)
}

// CurrentDay returns the 1-indexed day number at the given instant, or 0 if
// the pool has not started.
func (p *Pool) CurrentDay(now time.Time) int {
	if p.StartTimestamp == nil || now.Before(*p.StartTimestamp) {
		return 0
	}
	elapsed := now.Sub(*p.StartTimestamp)
	day := int(elapsed/(24*time.Hour)) + 1
	if day > p.DurationDays {
		day = p.DurationDays
	}
	return day
}

// Participant is a wallet that joined a pool and locked a stake.
// Identity is the (pool_id, wallet) pair.
type Participant struct {
	PoolID       string                  `json:"poolId"`
	Wallet       string                  `json:"wallet"`
	StakeLocked  int64                   `json:"stakeLocked"` // lamports, immutable once set
	JoinedAt     time.Time               `json:"joinedAt"`
	Status       types.ParticipantStatus `json:"status"`
	DaysVerified int                     `json:"daysVerified"`
	PayoutAmount int64                   `json:"payoutAmount"` // lamports, set at settlement
}

// VerificationRecord is the at-most-one verdict per participant per day.
// Records for closed windows are immutable.
type VerificationRecord struct {
	PoolID      string                    `json:"poolId"`
	Wallet      string                    `json:"wallet"`
	Day         int                       `json:"day"` // 1-indexed
	Outcome     types.VerificationOutcome `json:"outcome"`
	Passed      bool                      `json:"passed"`
	CheckerKind types.GoalKind            `json:"checkerKind"`
	EvidenceRef string                    `json:"evidenceRef,omitempty"`
	Confidence  types.Confidence          `json:"confidence"`
	CheckedAt   time.Time                 `json:"checkedAt"`
	Final       bool                      `json:"final"` // window closed; no rewrites
}

// IdentityBinding is the single trusted fact produced by the out-of-band
// account-linking flow: this wallet provably owns this provider account.
// Checkers consume it read-only and never re-derive trust from user input.
type IdentityBinding struct {
	Wallet      string    `json:"wallet"`
	Provider    string    `json:"provider"`
	IdentityRef string    `json:"identityRef"` // e.g. a verified GitHub username
	BoundAt     time.Time `json:"boundAt"`
}

// EvidenceSubmission is a daily honor-system submission for evidence_upload
// goals. The blob itself lives with the presentation layer; the core keeps an
// opaque reference.
type EvidenceSubmission struct {
	EvidenceID  string    `json:"evidenceId"`
	PoolID      string    `json:"poolId"`
	Wallet      string    `json:"wallet"`
	Day         int       `json:"day"`
	EvidenceRef string    `json:"evidenceRef"`
	Quantity    int64     `json:"quantity"` // e.g. reported screen-time hours
	SubmittedAt time.Time `json:"submittedAt"`
}
