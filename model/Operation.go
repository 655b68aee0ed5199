package model

import (
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
)

// NoSolution marks an operation that acts without a user.
const NoSolution = ^uint16(0)

// Operation is an action a transaction performs on a contract.
type Operation interface {
	// Contract is the contract the operation acts on.
	Contract() Addr
	isOperation()
	write(e *encoder)
}

const (
	opExecute uint8 = iota + 1
	opDeposit
	opMint
)

// Execute calls Method on the contract at Address. When User is set the solution at index
// Solution must prove ownership of it, the contract then sees User as its caller.
type Execute struct {
	Address  Addr
	Method   string
	Args     []*vm.Var
	User     *Addr
	Solution uint16
}

func (op *Execute) Contract() Addr { return op.Address }
func (op *Execute) isOperation() {}

func (op *Execute) writeFields(e *encoder) {
	e.hash(op.Address)
	e.str(op.Method)
	e.vars(op.Args)
	e.optHash(op.User)
	e.u16(op.Solution)
}

func (op *Execute) readFields(d *decoder) {
	op.Address = d.hash()
	op.Method = d.str()
	op.Args = d.vars()
	op.User = d.optHash()
	op.Solution = d.u16()
}

func (op *Execute) write(e *encoder) {
	e.u8(opExecute)
	op.writeFields(e)
}

// Deposit transfers Amount of Currency from the transaction's inputs to the contract, then
// calls a payable method.
type Deposit struct {
	Execute
	Currency Addr
	Amount   uint64
}

func (op *Deposit) write(e *encoder) {
	e.u8(opDeposit)
	op.writeFields(e)
	e.hash(op.Currency)
	e.u64(op.Amount)
}

// Mint creates Amount of the token at Address for Target. Only the token's owner may mint.
type Mint struct {
	Address  Addr
	Target   Addr
	Amount   uint64
	Solution uint16
}

func (op *Mint) Contract() Addr { return op.Address }
func (op *Mint) isOperation()   {}

func (op *Mint) write(e *encoder) {
	e.u8(opMint)
	e.hash(op.Address)
	e.hash(op.Target)
	e.u64(op.Amount)
	e.u16(op.Solution)
}

func readOperation(d *decoder) Operation {
	switch tag := d.u8(); tag {
	case opExecute:
		op := &Execute{}
		op.readFields(d)

		return op
	case opDeposit:
		op := &Deposit{}
		op.readFields(d)
		op.Currency = d.hash()
		op.Amount = d.u64()

		return op
	case opMint:
		return &Mint{Address: d.hash(), Target: d.hash(), Amount: d.u64(), Solution: d.u16()}
	default:
		d.fail(errors.NewProcessingError("unknown operation type %d", tag))
		return nil
	}
}

// SolutionIndex returns the solution an operation needs, or NoSolution.
func SolutionIndex(op Operation) uint16 {
	switch op := op.(type) {
	case *Execute:
		if op.User == nil {
			return NoSolution
		}

		return op.Solution
	case *Deposit:
		if op.User == nil {
			return NoSolution
		}

		return op.Solution
	case *Mint:
		return op.Solution
	}

	return NoSolution
}
