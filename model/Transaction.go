package model

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

const TxVersion uint32 = 1

// ExecError is the recorded reason an operation failed.
type ExecError struct {
	Code      uint32
	Operation uint32
	Message   string
}

// ExecResult is filled in by the farmer who included the transaction and checked by
// every node that applies the block.
type ExecResult struct {
	DidFail   bool
	TotalCost uint64
	TotalFee  uint64
	Error     *ExecError
}

func (r *ExecResult) Equal(o *ExecResult) bool {
	if r == nil || o == nil {
		return r == o
	}

	if r.DidFail != o.DidFail || r.TotalCost != o.TotalCost || r.TotalFee != o.TotalFee {
		return false
	}

	if r.Error == nil || o.Error == nil {
		return r.Error == o.Error
	}

	return *r.Error == *o.Error
}

func (r *ExecResult) write(e *encoder) {
	e.boolean(r.DidFail)
	e.u64(r.TotalCost)
	e.u64(r.TotalFee)

	if r.Error == nil {
		e.u8(0)
		return
	}

	e.u8(1)
	e.u32(r.Error.Code)
	e.u32(r.Error.Operation)
	e.str(r.Error.Message)
}

func readExecResult(d *decoder) *ExecResult {
	r := &ExecResult{DidFail: d.boolean(), TotalCost: d.u64(), TotalFee: d.u64()}

	if d.boolean() {
		r.Error = &ExecError{Code: d.u32(), Operation: d.u32(), Message: d.str()}
	}

	return r
}

type Transaction struct {
	ID           Hash
	Version      uint32
	Expires      uint32
	MaxFeeAmount uint64
	Sender       *Addr
	Inputs       []TxIn
	Outputs      []TxOut
	Execute      []Operation
	Deploy       Contract
	Solutions    []Solution
	Nonce        uint64
	ExecResult   *ExecResult
}

func (tx *Transaction) writeBody(e *encoder) {
	e.u32(tx.Version)
	e.u32(tx.Expires)
	e.u64(tx.MaxFeeAmount)
	e.optHash(tx.Sender)

	e.varint(uint64(len(tx.Inputs)))

	for i := range tx.Inputs {
		tx.Inputs[i].write(e)
	}

	e.varint(uint64(len(tx.Outputs)))

	for i := range tx.Outputs {
		tx.Outputs[i].write(e)
	}

	e.varint(uint64(len(tx.Execute)))

	for _, op := range tx.Execute {
		op.write(e)
	}

	if tx.Deploy == nil {
		e.u8(0)
	} else {
		e.u8(1)
		tx.Deploy.write(e)
	}

	e.u64(tx.Nonce)
}

func (tx *Transaction) writeSolutions(e *encoder) {
	e.varint(uint64(len(tx.Solutions)))

	for _, sol := range tx.Solutions {
		sol.write(e)
	}
}

// CalcHash is the transaction id. It covers everything a signature commits to, so it
// leaves out the id itself, the solutions and the execution result.
func (tx *Transaction) CalcHash() Hash {
	e := &encoder{}
	tx.writeBody(e)

	return chainhash.HashH(e.Bytes())
}

// CalcFullHash also covers solutions and the execution result, it is what a block commits to.
func (tx *Transaction) CalcFullHash() Hash {
	e := &encoder{}
	e.hash(tx.ID)
	tx.writeSolutions(e)

	if tx.ExecResult == nil {
		e.u8(0)
	} else {
		e.u8(1)
		tx.ExecResult.write(e)
	}

	return chainhash.HashH(e.Bytes())
}

// Finalize sets the id. Call it once all fields but solutions are set, then sign the id.
func (tx *Transaction) Finalize() Hash {
	tx.ID = tx.CalcHash()
	return tx.ID
}

// AddSolution appends sol and returns its index.
func (tx *Transaction) AddSolution(sol Solution) uint16 {
	tx.Solutions = append(tx.Solutions, sol)
	return uint16(len(tx.Solutions) - 1)
}

func (tx *Transaction) Bytes() []byte {
	e := &encoder{}
	tx.write(e)

	return e.Bytes()
}

func (tx *Transaction) write(e *encoder) {
	e.hash(tx.ID)
	tx.writeBody(e)
	tx.writeSolutions(e)

	if tx.ExecResult == nil {
		e.u8(0)
	} else {
		e.u8(1)
		tx.ExecResult.write(e)
	}
}

func NewTransactionFromBytes(b []byte) (*Transaction, error) {
	d := newDecoder(b)
	tx := readTransaction(d)

	if err := d.finish("transaction"); err != nil {
		return nil, err
	}

	return tx, nil
}

func readTransaction(d *decoder) *Transaction {
	tx := &Transaction{
		ID:           d.hash(),
		Version:      d.u32(),
		Expires:      d.u32(),
		MaxFeeAmount: d.u64(),
		Sender:       d.optHash(),
	}

	n := d.count()
	for i := 0; i < n && d.err == nil; i++ {
		var in TxIn
		in.read(d)
		tx.Inputs = append(tx.Inputs, in)
	}

	n = d.count()
	for i := 0; i < n && d.err == nil; i++ {
		var out TxOut
		out.read(d)
		tx.Outputs = append(tx.Outputs, out)
	}

	n = d.count()
	for i := 0; i < n && d.err == nil; i++ {
		tx.Execute = append(tx.Execute, readOperation(d))
	}

	if d.boolean() {
		tx.Deploy = readContract(d)
	}

	tx.Nonce = d.u64()

	n = d.count()
	for i := 0; i < n && d.err == nil; i++ {
		tx.Solutions = append(tx.Solutions, readSolution(d))
	}

	if d.boolean() {
		tx.ExecResult = readExecResult(d)
	}

	return tx
}

// NumBytes is the size fees are charged for, the execution result is not included.
func (tx *Transaction) NumBytes() int {
	e := &encoder{}
	e.hash(tx.ID)
	tx.writeBody(e)
	tx.writeSolutions(e)

	return e.Len()
}

// StaticCost is the cost of a transaction before any code runs.
func (tx *Transaction) StaticCost(params *chaincfg.Params) uint64 {
	cost := params.MinTxFee +
		params.FeePerInput*uint64(len(tx.Inputs)) +
		params.FeePerOutput*uint64(len(tx.Outputs)) +
		params.FeePerOp*uint64(len(tx.Execute)) +
		params.FeePerByte*uint64(tx.NumBytes())

	if tx.Deploy != nil {
		cost += params.FeePerDeploy
	}

	return cost
}

// IsValid checks the transaction without looking at chain state.
func (tx *Transaction) IsValid(params *chaincfg.Params) error {
	if tx.Version != TxVersion {
		return errors.NewTxInvalidError("[%s] unsupported version %d", tx.ID, tx.Version)
	}

	if id := tx.CalcHash(); id != tx.ID {
		return errors.NewTxInvalidError("[%s] id does not match hash %s", tx.ID, id)
	}

	if len(tx.Inputs) > params.MaxTxInputs {
		return errors.NewTxInvalidError("[%s] %d inputs > %d", tx.ID, len(tx.Inputs), params.MaxTxInputs)
	}

	if len(tx.Outputs) > params.MaxTxOutputs {
		return errors.NewTxInvalidError("[%s] %d outputs > %d", tx.ID, len(tx.Outputs), params.MaxTxOutputs)
	}

	if len(tx.Execute) > params.MaxTxOps {
		return errors.NewTxInvalidError("[%s] %d operations > %d", tx.ID, len(tx.Execute), params.MaxTxOps)
	}

	if len(tx.Solutions) >= int(NoSolution) {
		return errors.NewTxInvalidError("[%s] too many solutions", tx.ID)
	}

	checkSolution := func(idx uint16, what string) error {
		if int(idx) >= len(tx.Solutions) || tx.Solutions[idx] == nil {
			return errors.NewTxInvalidError("[%s] %s references missing solution %d", tx.ID, what, idx)
		}

		return nil
	}

	spent := make(map[TxioKey]struct{}, len(tx.Inputs))

	for i, in := range tx.Inputs {
		if _, ok := spent[in.Prev]; ok {
			return errors.NewTxInvalidDoubleSpendError("[%s] input %d spends %s twice", tx.ID, i, in.Prev)
		}

		spent[in.Prev] = struct{}{}

		if err := checkSolution(in.Solution, "input"); err != nil {
			return err
		}
	}

	for i, out := range tx.Outputs {
		if out.Amount == 0 {
			return errors.NewTxInvalidError("[%s] output %d has zero amount", tx.ID, i)
		}

		if len(out.Memo) > params.MaxMemoLength {
			return errors.NewTxInvalidError("[%s] output %d memo too long", tx.ID, i)
		}
	}

	for i, op := range tx.Execute {
		if op == nil {
			return errors.NewTxInvalidError("[%s] operation %d is empty", tx.ID, i)
		}

		switch op := op.(type) {
		case *Deposit:
			if op.Amount == 0 {
				return errors.NewTxInvalidError("[%s] deposit %d has zero amount", tx.ID, i)
			}
		case *Mint:
			if op.Amount == 0 {
				return errors.NewTxInvalidError("[%s] mint %d has zero amount", tx.ID, i)
			}
		}

		if idx := SolutionIndex(op); idx != NoSolution {
			if err := checkSolution(idx, "operation"); err != nil {
				return err
			}
		}
	}

	if (len(tx.Execute) > 0 || tx.Deploy != nil) && tx.Sender == nil {
		return errors.NewTxInvalidError("[%s] sender required for operations", tx.ID)
	}

	if tx.Deploy != nil {
		if err := tx.Deploy.IsValid(params); err != nil {
			return errors.NewTxInvalidError("[%s] invalid contract", tx.ID, err)
		}
	}

	if cost := tx.StaticCost(params); cost > params.MaxTxCost {
		return errors.NewTxInvalidError("[%s] static cost %d > %d", tx.ID, cost, params.MaxTxCost)
	}

	return nil
}

// Sign adds a signature of the id by key and returns its solution index.
func (tx *Transaction) Sign(key *bec.PrivateKey) (uint16, error) {
	sol, err := SignPubKey(key, tx.ID)
	if err != nil {
		return 0, err
	}

	return tx.AddSolution(sol), nil
}
