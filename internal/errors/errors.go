// Package errors provides the categorized error taxonomy for the commitment
// pool core, mapped to HTTP status codes at the API boundary.
package errors

import (
	"fmt"
	"net/http"

	"github.com/commitment-pool/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents bad input rejected before any mutation
	CategoryValidation ErrorCategory = "validation"
	// CategoryCapacity represents pool-full or below-minimum conditions
	CategoryCapacity ErrorCategory = "capacity"
	// CategoryState represents operations illegal for the current pool status
	CategoryState ErrorCategory = "state"
	// CategoryNotFound represents missing resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryInconclusive represents unreachable external signal sources
	CategoryInconclusive ErrorCategory = "inconclusive"
	// CategoryTransfer represents payout/refund transport failures (retryable)
	CategoryTransfer ErrorCategory = "transfer"
	// CategoryEscrow represents ledger reconciliation failures (fatal per pool)
	CategoryEscrow ErrorCategory = "escrow"
	// CategoryIdentity represents missing checker identity preconditions
	CategoryIdentity ErrorCategory = "identity"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents other internal errors
	CategorySystem ErrorCategory = "system"
	// CategoryRateLimit represents API rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// Stable machine-readable error codes
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeCapacity         = "CAPACITY_ERROR"
	CodeState            = "STATE_ERROR"
	CodePoolNotJoinable  = "POOL_NOT_JOINABLE"
	CodeNotFound         = "NOT_FOUND"
	CodeInconclusive     = "INCONCLUSIVE_VERIFICATION"
	CodeTransferFailure  = "TRANSFER_FAILURE"
	CodeEscrowViolation  = "ESCROW_INVARIANT_VIOLATION"
	CodeUnverifiedIdent  = "UNVERIFIED_IDENTITY"
	CodeDatabase         = "DATABASE_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
	CodeRateLimit        = "RATE_LIMIT_EXCEEDED"
	CodeEscrowUnderflow  = "ESCROW_UNDERFLOW"
	CodeDuplicateWallet  = "DUPLICATE_PARTICIPANT"
	CodeWindowClosed     = "WINDOW_CLOSED"
	CodeSettlementHalted = "SETTLEMENT_HALTED"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire-level error shape
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewValidationError rejects bad input before any mutation
func NewValidationError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeValidation,
		Message:    message,
	}
}

// NewCapacityError reports a full pool
func NewCapacityError(poolID string, max int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCapacity,
		StatusCode: http.StatusConflict,
		Code:       CodeCapacity,
		Message:    fmt.Sprintf("pool %s is full (max %d participants)", poolID, max),
		Details: map[string]interface{}{
			"poolId":          poolID,
			"maxParticipants": max,
		},
	}
}

// NewStateError reports an operation illegal for the current pool status
func NewStateError(poolID string, status types.PoolStatus, op string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryState,
		StatusCode: http.StatusConflict,
		Code:       CodeState,
		Message:    fmt.Sprintf("operation %s not allowed while pool %s is %s", op, poolID, status),
		Details: map[string]interface{}{
			"poolId": poolID,
			"status": string(status),
			"op":     op,
		},
	}
}

// NewPoolNotJoinableError reports a join attempt outside Recruiting/Filled
func NewPoolNotJoinableError(poolID string, status types.PoolStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryState,
		StatusCode: http.StatusConflict,
		Code:       CodePoolNotJoinable,
		Message:    fmt.Sprintf("pool %s is not joinable (status %s)", poolID, status),
		Details: map[string]interface{}{
			"poolId": poolID,
			"status": string(status),
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInconclusiveError reports an unreachable external signal source. Not a
// failure of the participant; retried within the day window.
func NewInconclusiveError(source string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInconclusive,
		StatusCode: http.StatusBadGateway,
		Code:       CodeInconclusive,
		Message:    fmt.Sprintf("signal source unavailable: %s", source),
		Cause:      cause,
		Details: map[string]interface{}{
			"source": source,
		},
	}
}

// NewTransferFailureError reports a payout/refund transport error (retryable)
func NewTransferFailureError(poolID, wallet string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransfer,
		StatusCode: http.StatusBadGateway,
		Code:       CodeTransferFailure,
		Message:    fmt.Sprintf("transfer failed for wallet %s in pool %s", wallet, poolID),
		Cause:      cause,
		Details: map[string]interface{}{
			"poolId": poolID,
			"wallet": wallet,
		},
	}
}

// NewEscrowViolationError reports a failed balance reconciliation. Fatal for
// the pool: automatic processing halts and an operator must audit. Never
// silently corrected.
func NewEscrowViolationError(poolID string, balance, expected int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryEscrow,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeEscrowViolation,
		Message:    fmt.Sprintf("escrow balance %d does not reconcile with expected %d for pool %s", balance, expected, poolID),
		Details: map[string]interface{}{
			"poolId":   poolID,
			"balance":  balance,
			"expected": expected,
		},
	}
}

// NewEscrowUnderflowError rejects a debit that would overdraw the vault
func NewEscrowUnderflowError(poolID string, balance, amount int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryEscrow,
		StatusCode: http.StatusConflict,
		Code:       CodeEscrowUnderflow,
		Message:    fmt.Sprintf("payout of %d would underflow pool %s balance %d", amount, poolID, balance),
		Details: map[string]interface{}{
			"poolId":  poolID,
			"balance": balance,
			"amount":  amount,
		},
	}
}

// NewUnverifiedIdentityError reports a missing identity binding. Treated as a
// failed verification day, not a system error.
func NewUnverifiedIdentityError(wallet, provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryIdentity,
		StatusCode: http.StatusPreconditionFailed,
		Code:       CodeUnverifiedIdent,
		Message:    fmt.Sprintf("wallet %s has no verified %s identity", wallet, provider),
		Details: map[string]interface{}{
			"wallet":   wallet,
			"provider": provider,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabase,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// NewWindowClosedError rejects a write against an already finalized day window
func NewWindowClosedError(poolID string, day int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryState,
		StatusCode: http.StatusConflict,
		Code:       CodeWindowClosed,
		Message:    fmt.Sprintf("day %d of pool %s is closed", day, poolID),
		Details: map[string]interface{}{
			"poolId": poolID,
			"day":    day,
		},
	}
}

// NewSettlementHaltedError reports a pool frozen pending manual audit
func NewSettlementHaltedError(poolID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryEscrow,
		StatusCode: http.StatusConflict,
		Code:       CodeSettlementHalted,
		Message:    fmt.Sprintf("pool %s is halted; settlement requires manual audit", poolID),
		Details: map[string]interface{}{
			"poolId": poolID,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimit,
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	if svcErr, ok := err.(*types.ServiceError); ok {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	switch err.Code {
	case CodeValidation:
		return &CategorizedError{Category: CategoryValidation, StatusCode: http.StatusBadRequest, Code: err.Code, Message: err.Message, Details: err.Details}
	case CodeCapacity, CodeDuplicateWallet:
		return &CategorizedError{Category: CategoryCapacity, StatusCode: http.StatusConflict, Code: err.Code, Message: err.Message, Details: err.Details}
	case CodeState, CodePoolNotJoinable, CodeWindowClosed:
		return &CategorizedError{Category: CategoryState, StatusCode: http.StatusConflict, Code: err.Code, Message: err.Message, Details: err.Details}
	case CodeNotFound:
		return &CategorizedError{Category: CategoryNotFound, StatusCode: http.StatusNotFound, Code: err.Code, Message: err.Message, Details: err.Details}
	case CodeUnverifiedIdent:
		return &CategorizedError{Category: CategoryIdentity, StatusCode: http.StatusPreconditionFailed, Code: err.Code, Message: err.Message, Details: err.Details}
	case CodeTransferFailure, CodeInconclusive:
		return &CategorizedError{Category: CategoryTransfer, StatusCode: http.StatusBadGateway, Code: err.Code, Message: err.Message, Details: err.Details}
	default:
		return &CategorizedError{Category: CategorySystem, StatusCode: http.StatusInternalServerError, Code: err.Code, Message: err.Message, Details: err.Details}
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error should be retried by the scheduler.
// Validation, capacity, and state errors are surfaced, never retried.
// Escrow invariant violations halt the pool instead of retrying.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryTransfer, CategoryInconclusive, CategoryDatabase:
		return true
	default:
		return false
	}
}

// IsEscrowViolation reports whether the error is the fatal reconciliation class
func IsEscrowViolation(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == CodeEscrowViolation
}
