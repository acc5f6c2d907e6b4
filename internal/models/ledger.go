package models

import (
	"time"

	"github.com/commitment-pool/internal/types"
)

// EscrowAccount holds the per-pool vault state. TotalBalance must always equal
// the sum of not-yet-paid-out participant stakes plus YieldAccrued; every
// mutation verifies this before and after.
type EscrowAccount struct {
	PoolID       string    `json:"poolId"`
	TotalBalance int64     `json:"totalBalance"` // lamports
	YieldAccrued int64     `json:"yieldAccrued"` // lamports
	Locked       bool      `json:"locked"`       // true for the entire Active period
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LedgerEntry is an immutable audit record of one escrow mutation.
type LedgerEntry struct {
	EntryID      int64                 `json:"entryId"`
	PoolID       string                `json:"poolId"`
	Wallet       string                `json:"wallet,omitempty"` // empty for yield entries
	Kind         types.LedgerEntryKind `json:"kind"`
	Amount       int64                 `json:"amount"`       // lamports, always positive
	BalanceAfter int64                 `json:"balanceAfter"` // vault balance after the mutation
	CreatedAt    time.Time             `json:"createdAt"`
}

// Payout is one row of the per-wallet settlement ledger. The idempotency key
// is stable across retries of the same settlement attempt so a transfer is
// never issued twice for the same wallet.
type Payout struct {
	PoolID         string             `json:"poolId"`
	Wallet         string             `json:"wallet"` // charity address for charity payouts
	Kind           types.PayoutKind   `json:"kind"`
	Amount         int64              `json:"amount"` // lamports
	Status         types.PayoutStatus `json:"status"`
	IdempotencyKey string             `json:"idempotencyKey"`
	TransferID     string             `json:"transferId,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}
