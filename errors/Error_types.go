package errors

var (
	ErrUnknown              = New(ERR_UNKNOWN, "unknown error")
	ErrInvalidArgument      = New(ERR_INVALID_ARGUMENT, "invalid argument")
	ErrThresholdExceeded    = New(ERR_THRESHOLD_EXCEEDED, "threshold exceeded")
	ErrNotFound             = New(ERR_NOT_FOUND, "not found")
	ErrProcessing           = New(ERR_PROCESSING, "error processing")
	ErrConfiguration        = New(ERR_CONFIGURATION, "configuration error")
	ErrContext              = New(ERR_CONTEXT, "context error")
	ErrContextCanceled      = New(ERR_CONTEXT_CANCELED, "context canceled")
	ErrError                = New(ERR_ERROR, "generic error")
	ErrBlockNotFound        = New(ERR_BLOCK_NOT_FOUND, "block not found")
	ErrBlockInvalid         = New(ERR_BLOCK_INVALID, "block invalid")
	ErrBlockExists          = New(ERR_BLOCK_EXISTS, "block exists")
	ErrBlockOrphan          = New(ERR_BLOCK_ORPHAN, "block parent unknown")
	ErrForkPruned           = New(ERR_FORK_PRUNED, "fork pruned")
	ErrProofInvalid         = New(ERR_PROOF_INVALID, "proof of space invalid")
	ErrVDFInvalid           = New(ERR_VDF_INVALID, "proof of time invalid")
	ErrSignatureInvalid     = New(ERR_SIGNATURE_INVALID, "signature invalid")
	ErrTxNotFound           = New(ERR_TX_NOT_FOUND, "tx not found")
	ErrTxInvalid            = New(ERR_TX_INVALID, "tx invalid")
	ErrTxInvalidDoubleSpend = New(ERR_TX_INVALID_DOUBLE_SPEND, "tx invalid double spend")
	ErrTxAlreadyExists      = New(ERR_TX_ALREADY_EXISTS, "tx already exists")
	ErrTxExpired            = New(ERR_TX_EXPIRED, "tx expired")
	ErrTxInsufficientFee    = New(ERR_TX_INSUFFICIENT_FEE, "tx fee insufficient")
	ErrTxError              = New(ERR_TX_ERROR, "tx error")
	ErrSpent                = New(ERR_SPENT, "utxo already spent")
	ErrContractInvalid      = New(ERR_CONTRACT_INVALID, "contract invalid")
	ErrContractNotFound     = New(ERR_CONTRACT_NOT_FOUND, "contract not found")
	ErrServiceUnavailable   = New(ERR_SERVICE_UNAVAILABLE, "service unavailable")
	ErrServiceNotStarted    = New(ERR_SERVICE_NOT_STARTED, "service not started")
	ErrServiceError         = New(ERR_SERVICE_ERROR, "service error")
	ErrStorageUnavailable   = New(ERR_STORAGE_UNAVAILABLE, "storage unavailable")
	ErrStorageError         = New(ERR_STORAGE_ERROR, "storage error")
	ErrStorageCorrupt       = New(ERR_STORAGE_CORRUPT, "storage corrupt")
	ErrVMFail               = New(ERR_VM_FAIL, "contract failed")
	ErrVMTypeMismatch       = New(ERR_VM_TYPE_MISMATCH, "read type mismatch")
	ErrVMOutOfGas           = New(ERR_VM_OUT_OF_GAS, "out of gas")
	ErrVMOverflow           = New(ERR_VM_OVERFLOW, "arithmetic overflow")
	ErrVMRefCount           = New(ERR_VM_REFCOUNT, "reference count underflow")
	ErrVMInvalidOperation   = New(ERR_VM_INVALID_OPERATION, "invalid operation")
	ErrVMDivisionByZero     = New(ERR_VM_DIVISION_BY_ZERO, "division by zero")
	ErrVMOutOfBounds        = New(ERR_VM_OUT_OF_BOUNDS, "out of bounds")
)

// errors initialization functions

func NewInvalidArgumentError(message string, params ...interface{}) error {
	return New(ERR_INVALID_ARGUMENT, message, params...)
}
func NewThresholdExceededError(message string, params ...interface{}) error {
	return New(ERR_THRESHOLD_EXCEEDED, message, params...)
}
func NewNotFoundError(message string, params ...interface{}) error {
	return New(ERR_NOT_FOUND, message, params...)
}
func NewProcessingError(message string, params ...interface{}) error {
	return New(ERR_PROCESSING, message, params...)
}
func NewConfigurationError(message string, params ...interface{}) error {
	return New(ERR_CONFIGURATION, message, params...)
}
func NewContextCanceledError(message string, params ...interface{}) error {
	return New(ERR_CONTEXT_CANCELED, message, params...)
}
func NewBlockNotFoundError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_NOT_FOUND, message, params...)
}
func NewBlockInvalidError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_INVALID, message, params...)
}
func NewBlockExistsError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_EXISTS, message, params...)
}
func NewBlockOrphanError(message string, params ...interface{}) error {
	return New(ERR_BLOCK_ORPHAN, message, params...)
}
func NewForkPrunedError(message string, params ...interface{}) error {
	return New(ERR_FORK_PRUNED, message, params...)
}
func NewProofInvalidError(message string, params ...interface{}) error {
	return New(ERR_PROOF_INVALID, message, params...)
}
func NewVDFInvalidError(message string, params ...interface{}) error {
	return New(ERR_VDF_INVALID, message, params...)
}
func NewSignatureInvalidError(message string, params ...interface{}) error {
	return New(ERR_SIGNATURE_INVALID, message, params...)
}
func NewTxNotFoundError(message string, params ...interface{}) error {
	return New(ERR_TX_NOT_FOUND, message, params...)
}
func NewTxInvalidError(message string, params ...interface{}) error {
	return New(ERR_TX_INVALID, message, params...)
}
func NewTxInvalidDoubleSpendError(message string, params ...interface{}) error {
	return New(ERR_TX_INVALID_DOUBLE_SPEND, message, params...)
}
func NewTxAlreadyExistsError(message string, params ...interface{}) error {
	return New(ERR_TX_ALREADY_EXISTS, message, params...)
}
func NewTxExpiredError(message string, params ...interface{}) error {
	return New(ERR_TX_EXPIRED, message, params...)
}
func NewTxInsufficientFeeError(message string, params ...interface{}) error {
	return New(ERR_TX_INSUFFICIENT_FEE, message, params...)
}
func NewContractInvalidError(message string, params ...interface{}) error {
	return New(ERR_CONTRACT_INVALID, message, params...)
}
func NewContractNotFoundError(message string, params ...interface{}) error {
	return New(ERR_CONTRACT_NOT_FOUND, message, params...)
}
func NewServiceNotStartedError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_NOT_STARTED, message, params...)
}
func NewServiceError(message string, params ...interface{}) error {
	return New(ERR_SERVICE_ERROR, message, params...)
}
func NewStorageUnavailableError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_UNAVAILABLE, message, params...)
}
func NewStorageError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_ERROR, message, params...)
}
func NewStorageCorruptError(message string, params ...interface{}) error {
	return New(ERR_STORAGE_CORRUPT, message, params...)
}
func NewVMFailError(message string, params ...interface{}) error {
	return New(ERR_VM_FAIL, message, params...)
}
func NewVMTypeMismatchError(message string, params ...interface{}) error {
	return New(ERR_VM_TYPE_MISMATCH, message, params...)
}
func NewVMOutOfGasError(message string, params ...interface{}) error {
	return New(ERR_VM_OUT_OF_GAS, message, params...)
}
func NewVMOverflowError(message string, params ...interface{}) error {
	return New(ERR_VM_OVERFLOW, message, params...)
}
func NewVMRefCountError(message string, params ...interface{}) error {
	return New(ERR_VM_REFCOUNT, message, params...)
}
func NewVMInvalidOperationError(message string, params ...interface{}) error {
	return New(ERR_VM_INVALID_OPERATION, message, params...)
}
func NewVMDivisionByZeroError(message string, params ...interface{}) error {
	return New(ERR_VM_DIVISION_BY_ZERO, message, params...)
}
func NewVMOutOfBoundsError(message string, params ...interface{}) error {
	return New(ERR_VM_OUT_OF_BOUNDS, message, params...)
}
