package vm

import (
	"fmt"
)

type Opcode uint8

const (
	OP_NOP Opcode = iota
	OP_CLR
	OP_COPY
	OP_CLONE
	OP_JUMP
	OP_JUMPI
	OP_JUMPN
	OP_CALL
	OP_RET
	OP_ADD
	OP_SUB
	OP_MUL
	OP_DIV
	OP_MOD
	OP_NOT
	OP_XOR
	OP_AND
	OP_OR
	OP_MIN
	OP_MAX
	OP_SHL
	OP_SHR
	OP_CMP_EQ
	OP_CMP_NEQ
	OP_CMP_LT
	OP_CMP_GT
	OP_CMP_LTE
	OP_CMP_GTE
	OP_TYPE
	OP_SIZE
	OP_NEW_ARRAY
	OP_NEW_MAP
	OP_GET
	OP_SET
	OP_ERASE
	OP_PUSH_BACK
	OP_POP_BACK
	OP_CONCAT
	OP_MEMCPY
	OP_CONV
	OP_SHA256
	OP_VERIFY
	OP_LOG
	OP_EVENT
	OP_SEND
	OP_MINT
	OP_RCALL
	OP_FAIL
	OP_BALANCE
	OP_ASSERT

	numOpcodes
)

// Operand flags.
const (
	OPFLAG_REF_A          uint16 = 1 << 0
	OPFLAG_REF_B          uint16 = 1 << 1
	OPFLAG_REF_C          uint16 = 1 << 2
	OPFLAG_REF_D          uint16 = 1 << 3
	OPFLAG_CATCH_OVERFLOW uint16 = 1 << 4
	OPFLAG_HARD_FAIL      uint16 = 1 << 5
)

// CONV formats, passed in operand C (source format) and D (target type).
const (
	CONVTYPE_DEFAULT uint64 = 0
	CONVTYPE_BASE_16 uint64 = 16
	CONVTYPE_ADDRESS uint64 = 32
)

// Instruction takes up to four operands. Operands are memory addresses unless the opcode
// documents an immediate (jump targets, stack offsets, log levels, CONV types).
type Instruction struct {
	Code  Opcode
	Flags uint16
	A     uint64
	B     uint64
	C     uint64
	D     uint64
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s[%d] %d %d %d %d", i.Code, i.Flags, i.A, i.B, i.C, i.D)
}

// Method is an entry point into a contract's code.
type Method struct {
	Name       string
	EntryPoint uint64
	NumArgs    int
	IsConst    bool
	IsPublic   bool
	IsPayable  bool
}

// Program is everything needed to run a contract's code.
type Program struct {
	Code      []Instruction
	Constants []*Var
	Methods   map[string]Method
}

func (op Opcode) String() string {
	if op < numOpcodes {
		return ops[op].name
	}

	return fmt.Sprintf("OP_%d", op)
}
