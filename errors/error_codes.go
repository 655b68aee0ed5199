package errors

import "strconv"

// ERR is the numeric code carried by every *Error.
type ERR int32

const (
	ERR_UNKNOWN                 ERR = 0
	ERR_INVALID_ARGUMENT        ERR = 1
	ERR_THRESHOLD_EXCEEDED      ERR = 2
	ERR_NOT_FOUND               ERR = 3
	ERR_PROCESSING              ERR = 4
	ERR_CONFIGURATION           ERR = 5
	ERR_CONTEXT                 ERR = 6
	ERR_CONTEXT_CANCELED        ERR = 7
	ERR_ERROR                   ERR = 9
	ERR_BLOCK_NOT_FOUND         ERR = 10
	ERR_BLOCK_INVALID           ERR = 11
	ERR_BLOCK_EXISTS            ERR = 12
	ERR_BLOCK_ORPHAN            ERR = 13
	ERR_FORK_PRUNED             ERR = 14
	ERR_PROOF_INVALID           ERR = 20
	ERR_VDF_INVALID             ERR = 21
	ERR_SIGNATURE_INVALID       ERR = 22
	ERR_TX_NOT_FOUND            ERR = 30
	ERR_TX_INVALID              ERR = 31
	ERR_TX_INVALID_DOUBLE_SPEND ERR = 32
	ERR_TX_ALREADY_EXISTS       ERR = 33
	ERR_TX_EXPIRED              ERR = 34
	ERR_TX_INSUFFICIENT_FEE     ERR = 35
	ERR_TX_ERROR                ERR = 36
	ERR_SPENT                   ERR = 37
	ERR_CONTRACT_INVALID        ERR = 38
	ERR_CONTRACT_NOT_FOUND      ERR = 39
	ERR_SERVICE_UNAVAILABLE     ERR = 50
	ERR_SERVICE_NOT_STARTED     ERR = 51
	ERR_SERVICE_ERROR           ERR = 52
	ERR_STORAGE_UNAVAILABLE     ERR = 60
	ERR_STORAGE_ERROR           ERR = 61
	ERR_STORAGE_CORRUPT         ERR = 62
	ERR_VM_FAIL                 ERR = 70
	ERR_VM_TYPE_MISMATCH        ERR = 71
	ERR_VM_OUT_OF_GAS           ERR = 72
	ERR_VM_OVERFLOW             ERR = 73
	ERR_VM_REFCOUNT             ERR = 74
	ERR_VM_INVALID_OPERATION    ERR = 75
	ERR_VM_DIVISION_BY_ZERO     ERR = 76
	ERR_VM_OUT_OF_BOUNDS        ERR = 77
)

var ERR_name = map[int32]string{
	0:  "UNKNOWN",
	1:  "INVALID_ARGUMENT",
	2:  "THRESHOLD_EXCEEDED",
	3:  "NOT_FOUND",
	4:  "PROCESSING",
	5:  "CONFIGURATION",
	6:  "CONTEXT",
	7:  "CONTEXT_CANCELED",
	9:  "ERROR",
	10: "BLOCK_NOT_FOUND",
	11: "BLOCK_INVALID",
	12: "BLOCK_EXISTS",
	13: "BLOCK_ORPHAN",
	14: "FORK_PRUNED",
	20: "PROOF_INVALID",
	21: "VDF_INVALID",
	22: "SIGNATURE_INVALID",
	30: "TX_NOT_FOUND",
	31: "TX_INVALID",
	32: "TX_INVALID_DOUBLE_SPEND",
	33: "TX_ALREADY_EXISTS",
	34: "TX_EXPIRED",
	35: "TX_INSUFFICIENT_FEE",
	36: "TX_ERROR",
	37: "SPENT",
	38: "CONTRACT_INVALID",
	39: "CONTRACT_NOT_FOUND",
	50: "SERVICE_UNAVAILABLE",
	51: "SERVICE_NOT_STARTED",
	52: "SERVICE_ERROR",
	60: "STORAGE_UNAVAILABLE",
	61: "STORAGE_ERROR",
	62: "STORAGE_CORRUPT",
	70: "VM_FAIL",
	71: "VM_TYPE_MISMATCH",
	72: "VM_OUT_OF_GAS",
	73: "VM_OVERFLOW",
	74: "VM_REFCOUNT",
	75: "VM_INVALID_OPERATION",
	76: "VM_DIVISION_BY_ZERO",
	77: "VM_OUT_OF_BOUNDS",
}

func (x ERR) String() string {
	if name, ok := ERR_name[int32(x)]; ok {
		return name
	}

	return "ERR(" + strconv.Itoa(int(x)) + ")"
}
