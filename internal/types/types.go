// Package types provides common type definitions for the commitment pool system.
package types

// PoolStatus represents the lifecycle state of a commitment pool
type PoolStatus string

const (
	// PoolRecruiting means the pool is open for joins and has not filled yet
	PoolRecruiting PoolStatus = "recruiting"
	// PoolFilled means the minimum participant count was reached and the pool
	// is waiting out its grace period before auto-start
	PoolFilled PoolStatus = "filled"
	// PoolActive means the challenge is running and daily verification is open
	PoolActive PoolStatus = "active"
	// PoolEnded means the challenge duration elapsed; settlement is pending
	PoolEnded PoolStatus = "ended"
	// PoolSettled means all payouts were confirmed
	PoolSettled PoolStatus = "settled"
	// PoolExpired means the recruitment deadline passed without filling
	PoolExpired PoolStatus = "expired"
	// PoolRefunded means all stakes of an expired pool were returned
	PoolRefunded PoolStatus = "refunded"
)

// ParticipantStatus represents a participant's standing in a pool
type ParticipantStatus string

const (
	// ParticipantActive means the participant is still in the challenge
	ParticipantActive ParticipantStatus = "active"
	// ParticipantSuccess means the participant won at settlement
	ParticipantSuccess ParticipantStatus = "success"
	// ParticipantFailed means the participant missed too many days
	ParticipantFailed ParticipantStatus = "failed"
	// ParticipantRefunded means the participant's stake was returned after expiry
	ParticipantRefunded ParticipantStatus = "refunded"
)

// DistributionMode represents how forfeited stakes and yield are allocated
type DistributionMode string

const (
	// ModeCompetitive sends losers' stakes to the winners
	ModeCompetitive DistributionMode = "competitive"
	// ModeCharity sends losers' stakes to the charity address
	ModeCharity DistributionMode = "charity"
	// ModeSplit splits losers' stakes between winners and charity by percentage
	ModeSplit DistributionMode = "split"
)

// VerificationOutcome represents the result of a single day's check
type VerificationOutcome string

const (
	// OutcomePassed means the participant met the goal for the day window
	OutcomePassed VerificationOutcome = "passed"
	// OutcomeFailed means the participant did not meet the goal
	OutcomeFailed VerificationOutcome = "failed"
	// OutcomeInconclusive means the external signal source could not be
	// consulted; distinct from a confirmed failure and retried within the window
	OutcomeInconclusive VerificationOutcome = "inconclusive"
)

// Confidence labels the assurance tier of a verification verdict
type Confidence string

const (
	// ConfidenceOnChain means the verdict derives from chain state
	ConfidenceOnChain Confidence = "onchain"
	// ConfidenceProvider means the verdict derives from a third-party API
	ConfidenceProvider Confidence = "provider"
	// ConfidenceAttested means the verdict is honor-system evidence
	ConfidenceAttested Confidence = "attested"
)

// LedgerEntryKind classifies an escrow ledger mutation
type LedgerEntryKind string

const (
	// EntryDeposit is a stake credited into the pool vault on join
	EntryDeposit LedgerEntryKind = "deposit"
	// EntryPayout is a winner payout debited at settlement
	EntryPayout LedgerEntryKind = "payout"
	// EntryRefund is a stake returned after pool expiry
	EntryRefund LedgerEntryKind = "refund"
	// EntryCharity is a transfer to the charity address at settlement
	EntryCharity LedgerEntryKind = "charity"
	// EntryYield is accrued yield credited to the vault
	EntryYield LedgerEntryKind = "yield"
)

// PayoutKind classifies a settlement transfer
type PayoutKind string

const (
	// PayoutWinner pays a winner their stake plus share of the surplus
	PayoutWinner PayoutKind = "winner"
	// PayoutRefund returns a stake from an expired pool
	PayoutRefund PayoutKind = "refund"
	// PayoutCharity transfers forfeited stakes to the charity address
	PayoutCharity PayoutKind = "charity"
)

// PayoutStatus tracks a settlement transfer through confirmation
type PayoutStatus string

const (
	// PayoutPending means the transfer has not been submitted yet
	PayoutPending PayoutStatus = "pending"
	// PayoutSubmitted means the transfer was sent but not confirmed
	PayoutSubmitted PayoutStatus = "submitted"
	// PayoutConfirmed means the transfer is final
	PayoutConfirmed PayoutStatus = "confirmed"
	// PayoutFailed means the transfer was rejected and must be retried
	PayoutFailed PayoutStatus = "failed"
	// PayoutUnknown means confirmation could not be determined (e.g. network
	// partition); must be resolved before settlement completes
	PayoutUnknown PayoutStatus = "unknown"
)

// ChainID represents supported value/balance backends
type ChainID string

const (
	// ChainSolana is the Solana mainnet
	ChainSolana ChainID = "solana"
	// ChainEthereum is the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
)

// Evidence reference tags with fixed meaning across the system
const (
	// EvidenceUnverifiedIdentity marks a failed day caused by a missing
	// identity binding, not by observed activity
	EvidenceUnverifiedIdentity = "unverified_identity"
	// EvidenceSourceUnavailable marks a day failed closed because the signal
	// source stayed unreachable until the window closed
	EvidenceSourceUnavailable = "source_unavailable"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
