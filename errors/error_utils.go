package errors

import (
	"context"
	"errors"
)

// IsConsensusError reports whether err is a rule violation that rejects the offending block or tx.
func IsConsensusError(err error) bool {
	if err == nil {
		return false
	}

	switch CodeOf(err) {
	case ERR_BLOCK_INVALID,
		ERR_PROOF_INVALID,
		ERR_VDF_INVALID,
		ERR_SIGNATURE_INVALID,
		ERR_TX_INVALID,
		ERR_TX_INVALID_DOUBLE_SPEND,
		ERR_TX_EXPIRED,
		ERR_TX_INSUFFICIENT_FEE,
		ERR_SPENT,
		ERR_CONTRACT_INVALID,
		ERR_CONTRACT_NOT_FOUND:
		return true
	}

	return false
}

// IsExecutionError reports whether err came out of contract execution.
// Execution errors fail only the operation that produced them.
func IsExecutionError(err error) bool {
	if err == nil {
		return false
	}

	switch CodeOf(err) {
	case ERR_VM_FAIL,
		ERR_VM_TYPE_MISMATCH,
		ERR_VM_OUT_OF_GAS,
		ERR_VM_OVERFLOW,
		ERR_VM_REFCOUNT,
		ERR_VM_INVALID_OPERATION,
		ERR_VM_DIVISION_BY_ZERO,
		ERR_VM_OUT_OF_BOUNDS:
		return true
	}

	return false
}

// IsFatalError reports whether err leaves local state unknown. The node cannot continue after one.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}

	switch CodeOf(err) {
	case ERR_STORAGE_ERROR, ERR_STORAGE_CORRUPT, ERR_STORAGE_UNAVAILABLE:
		return true
	}

	return false
}

// IsCanceled reports whether err is, or wraps, a context cancellation.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return CodeOf(err) == ERR_CONTEXT_CANCELED
}
