// Package chain provides read and transfer access to the chains that back
// goal verification and settlement. Balance and transaction reads feed the
// verification checkers; transfers execute distribution plans.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/commitment-pool/internal/types"
)

// BalanceSource reads token balances for hodl goal verification
type BalanceSource interface {
	// TokenBalance returns the wallet's balance of the given token in the
	// token's smallest unit. An empty token mint means the chain's native
	// asset.
	TokenBalance(ctx context.Context, wallet, tokenMint string) (int64, error)
}

// TxCounter counts a wallet's transactions within a time window for
// activity goal verification
type TxCounter interface {
	CountTransactions(ctx context.Context, wallet, tokenMint string, from, to time.Time) (int, error)
}

// TransferResult reports the outcome of submitting a transfer
type TransferResult struct {
	TransferID string
	Status     types.PayoutStatus
}

// Transferer executes escrow transfers during settlement. Submissions carry
// an idempotency reference so a resubmitted transfer is deduplicated by the
// custody layer.
type Transferer interface {
	Transfer(ctx context.Context, toWallet string, lamports int64, reference string) (*TransferResult, error)

	// TransferStatus resolves a previously submitted transfer. Returns
	// PayoutUnknown when the custody layer cannot be reached, never an
	// invented terminal state.
	TransferStatus(ctx context.Context, transferID string) (types.PayoutStatus, error)

	// VaultBalance reads the escrow vault's current balance in lamports.
	// Settlement samples this to detect yield accrued on top of stakes.
	VaultBalance(ctx context.Context) (int64, error)
}

// Common error types for chain access

var (
	// ErrSourceUnavailable indicates the RPC or provider cannot be reached.
	// Verification maps this to an inconclusive outcome, never a failure.
	ErrSourceUnavailable = fmt.Errorf("chain source unavailable")

	// ErrInvalidWallet indicates the wallet address format is invalid
	ErrInvalidWallet = fmt.Errorf("invalid wallet address")

	// ErrTransferRejected indicates the custody layer rejected a transfer
	ErrTransferRejected = fmt.Errorf("transfer rejected")
)
