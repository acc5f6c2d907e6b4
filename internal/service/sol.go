package service

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	apperrors "github.com/commitment-pool/internal/errors"
)

var (
	lamportsPerSol = decimal.NewFromInt(1_000_000_000)
	maxLamports    = decimal.NewFromInt(math.MaxInt64)
)

// SolToLamports parses a SOL amount into lamports. Amounts finer than one
// lamport are rejected rather than rounded, so what the caller asked for is
// exactly what the ledger records.
func SolToLamports(sol string) (int64, error) {
	d, err := decimal.NewFromString(sol)
	if err != nil {
		return 0, apperrors.NewValidationError(fmt.Sprintf("invalid SOL amount %q", sol))
	}
	if d.Sign() <= 0 {
		return 0, apperrors.NewValidationError("SOL amount must be positive")
	}

	lamports := d.Mul(lamportsPerSol)
	if !lamports.IsInteger() {
		return 0, apperrors.NewValidationError("SOL amount is finer than one lamport")
	}
	if lamports.Cmp(maxLamports) > 0 {
		return 0, apperrors.NewValidationError("SOL amount is out of range")
	}
	return lamports.IntPart(), nil
}

// LamportsToSol renders a lamport amount as a SOL decimal string
func LamportsToSol(lamports int64) string {
	return decimal.NewFromInt(lamports).Div(lamportsPerSol).String()
}
