package node

import (
	"bytes"
	"sort"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/state"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/vmstore/cache"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
)

// noOperation is the operation index recorded for failures outside of Execute, such as
// an output addressed to a contract.
const noOperation = ^uint32(0)

// blockContext executes the transactions of one block on top of the node's state. Nothing
// reaches the state until commitBlock.
type blockContext struct {
	params *chaincfg.Params
	logger ulogger.Logger
	height uint32
	hash   model.Hash

	view *state.View
	vm   *cache.Cache

	totalCost uint64
	totalFees uint64
	numFailed int
}

func (n *Node) newBlockContext(height uint32, hash model.Hash) (*blockContext, error) {
	blockVM, err := cache.New(n.vmCache, 0)
	if err != nil {
		return nil, err
	}

	return &blockContext{
		params: n.params,
		logger: n.logger,
		height: height,
		hash:   hash,
		view:   state.NewView(n.state),
		vm:     blockVM,
	}, nil
}

func (bc *blockContext) discard() {
	bc.view.Discard()
	bc.vm.Discard()
}

// commitBlock writes everything bc buffered to the state and commits it as the version
// following the block.
func (n *Node) commitBlock(bc *blockContext) error {
	if err := bc.view.Flush(); err != nil {
		return err
	}

	if err := bc.vm.Flush(); err != nil {
		return err
	}

	if err := n.vmCache.Flush(); err != nil {
		return err
	}

	return n.state.Commit(bc.height + 1)
}

// applyGenesis creates the genesis outputs and contracts without running any code.
func (bc *blockContext) applyGenesis(b *model.Block) error {
	for _, tx := range b.TxList {
		for i, out := range tx.Outputs {
			if err := bc.view.AddTxo(model.TxioKey{TxID: tx.ID, Index: uint32(i)}, out, 0); err != nil {
				return err
			}
		}

		if tx.Deploy != nil {
			if err := bc.view.SetContract(tx.ID, tx.Deploy); err != nil {
				return err
			}
		}

		info := &state.TxInfo{ID: tx.ID, Height: 0, Block: b.Hash(), Deployed: tx.Deploy != nil}
		if err := bc.view.AddTx(info); err != nil {
			return err
		}
	}

	return nil
}

// addReward pays the block reward, fees included, to the farmer.
func (bc *blockContext) addReward(bh *model.BlockHeader) error {
	if bh.RewardAddr == nil || bh.RewardAmount == 0 {
		return nil
	}

	out := model.TxOut{Address: *bh.RewardAddr, Contract: model.NativeCurrency, Amount: bh.RewardAmount}

	return bc.view.AddTxo(model.TxioKey{TxID: bh.Hash, Index: 0}, out, bh.Height)
}

// opFailure fails one part of a transaction. The transaction is still included, with
// its inputs spent and the fee paid.
type opFailure struct {
	op  uint32
	err error
}

func (e *opFailure) Error() string { return e.err.Error() }
func (e *opFailure) Unwrap() error { return e.err }

func failOp(op uint32, err error) error {
	var of *opFailure
	if errors.IsFatalError(err) || errors.As(err, &of) {
		return err
	}

	return &opFailure{op: op, err: err}
}

// txExec carries one transaction through execution.
type txExec struct {
	bc     *blockContext
	params *chaincfg.Params
	tx     *model.Transaction

	static   uint64
	gasLimit uint64
	gasUsed  uint64

	txView *state.View
	opView *state.View
	txVM   *cache.Cache

	inputs   map[model.Addr]uint64
	consumed map[model.Addr]uint64
	outputs  []model.TxOut
	deployed bool
}

// executeTx runs tx against the block state. A returned error means tx cannot be included
// at all; a failed operation is reported through the result instead.
func (bc *blockContext) executeTx(tx *model.Transaction) (*model.ExecResult, error) {
	params := bc.params

	if err := tx.IsValid(params); err != nil {
		return nil, err
	}

	if tx.Expires != 0 && bc.height > tx.Expires {
		return nil, errors.NewTxExpiredError("[%s] expired at height %d", tx.ID, tx.Expires)
	}

	info, err := bc.view.GetTxInfo(tx.ID)
	if err != nil {
		return nil, err
	}

	if info != nil {
		return nil, errors.NewTxAlreadyExistsError("[%s] already included at height %d", tx.ID, info.Height)
	}

	static := tx.StaticCost(params)
	if tx.MaxFeeAmount < static {
		return nil, errors.NewTxInsufficientFeeError("[%s] max fee %d below static cost %d", tx.ID, tx.MaxFeeAmount, static)
	}

	x := &txExec{
		bc:       bc,
		params:   params,
		tx:       tx,
		static:   static,
		txView:   state.NewView(bc.view),
		inputs:   make(map[model.Addr]uint64),
		consumed: make(map[model.Addr]uint64),
	}

	if err = x.spendInputs(); err != nil {
		return nil, err
	}

	if err = x.checkBalance(); err != nil {
		return nil, err
	}

	if x.txVM, err = cache.New(bc.vm, 0); err != nil {
		return nil, err
	}

	x.opView = state.NewView(x.txView)

	result := &model.ExecResult{}

	failure := x.run()
	if failure != nil {
		var of *opFailure
		if !errors.As(failure, &of) {
			return nil, failure
		}

		if tx.Sender == nil {
			return nil, errors.NewTxInvalidError("[%s] failed without a sender to refund", tx.ID, of.err)
		}

		x.opView.Discard()
		x.txVM.Discard()

		result.DidFail = true
		result.Error = &model.ExecError{
			Code:      uint32(errors.CodeOf(of.err)),
			Operation: of.op,
			Message:   execMessage(of.err),
		}
	}

	fee := x.static + x.gasUsed
	result.TotalCost = fee
	result.TotalFee = fee

	if result.DidFail {
		err = x.refund(fee)
	} else {
		err = x.finish(fee)
	}

	if err != nil {
		return nil, err
	}

	txInfo := &state.TxInfo{
		ID:        tx.ID,
		Height:    bc.height,
		Block:     bc.hash,
		DidFail:   result.DidFail,
		TotalCost: result.TotalCost,
		TotalFee:  result.TotalFee,
		Deployed:  x.deployed && !result.DidFail,
	}

	if result.Error != nil {
		txInfo.Message = result.Error.Message
	}

	if err = x.txView.AddTx(txInfo); err != nil {
		return nil, err
	}

	if err = x.txView.Flush(); err != nil {
		return nil, err
	}

	if err = x.txVM.Flush(); err != nil {
		return nil, err
	}

	bc.totalCost += result.TotalCost
	bc.totalFees += result.TotalFee

	if result.DidFail {
		bc.numFailed++
	}

	return result, nil
}

func execMessage(err error) string {
	var execErr *vm.ExecError
	if errors.As(err, &execErr) {
		return execErr.Message
	}

	var e *errors.Error
	if errors.As(err, &e) {
		return e.Message()
	}

	return err.Error()
}

func addAmount(m map[model.Addr]uint64, currency model.Addr, amount uint64) error {
	sum := m[currency] + amount
	if sum < amount {
		return errors.NewTxInvalidError("amount of %s overflows", currency)
	}

	m[currency] = sum

	return nil
}

func (x *txExec) spendInputs() error {
	tx := x.tx
	lookup := state.ContractLookup(x.txView)

	for i, in := range tx.Inputs {
		txo, err := x.txView.SpendTxo(in.Prev, x.bc.height, tx.ID)
		if err != nil {
			return err
		}

		if err = model.ValidateOwner(x.params, lookup, txo.Output.Address, tx.Solutions[in.Solution], x.bc.height); err != nil {
			return errors.NewTxInvalidError("[%s] input %d not owned", tx.ID, i, err)
		}

		if err = addAmount(x.inputs, txo.Output.Contract, txo.Output.Amount); err != nil {
			return err
		}
	}

	return nil
}

// checkBalance makes sure the inputs cover outputs, deposits and the static fee in every
// currency, and derives the gas limit from what is left of the native currency.
func (x *txExec) checkBalance() error {
	tx := x.tx

	for _, out := range tx.Outputs {
		if err := addAmount(x.consumed, out.Contract, out.Amount); err != nil {
			return err
		}
	}

	for _, op := range tx.Execute {
		if dep, ok := op.(*model.Deposit); ok {
			if err := addAmount(x.consumed, dep.Currency, dep.Amount); err != nil {
				return err
			}
		}
	}

	for currency, amount := range x.consumed {
		if x.inputs[currency] < amount {
			return errors.NewTxInvalidError("[%s] spends %d of %s but inputs only have %d", tx.ID, amount, currency, x.inputs[currency])
		}
	}

	available := x.inputs[model.NativeCurrency] - x.consumed[model.NativeCurrency]
	if available < x.static {
		return errors.NewTxInsufficientFeeError("[%s] %d left for a static cost of %d", tx.ID, available, x.static)
	}

	if tx.Sender == nil {
		for currency, amount := range x.inputs {
			expected := x.consumed[currency]
			if currency == model.NativeCurrency {
				expected += x.static
			}

			if amount != expected {
				return errors.NewTxInvalidError("[%s] without a sender inputs must match outputs and fee exactly", tx.ID)
			}
		}
	}

	limit := min(tx.MaxFeeAmount, available) - x.static
	if x.params.MaxTxCost > x.static {
		limit = min(limit, x.params.MaxTxCost-x.static)
	} else {
		limit = 0
	}

	x.gasLimit = limit

	return nil
}

func (x *txExec) gasLeft() uint64 {
	if x.gasUsed >= x.gasLimit {
		return 0
	}

	return x.gasLimit - x.gasUsed
}

// run performs outputs, the deployment and every operation in order.
func (x *txExec) run() error {
	tx := x.tx

	for i, out := range tx.Outputs {
		if err := x.checkRecipient(out.Address, noOperation); err != nil {
			return err
		}

		key := model.TxioKey{TxID: tx.ID, Index: uint32(i)}
		if err := x.opView.AddTxo(key, out, x.bc.height); err != nil {
			return err
		}
	}

	if tx.Deploy != nil {
		if err := x.deploy(); err != nil {
			return err
		}
	}

	for i, op := range tx.Execute {
		idx := uint32(i)

		var err error

		switch op := op.(type) {
		case *model.Mint:
			err = x.mint(idx, op)
		case *model.Deposit:
			err = x.call(idx, &op.Execute, op)
		case *model.Execute:
			err = x.call(idx, op, nil)
		default:
			err = failOp(idx, errors.NewTxInvalidError("unknown operation %T", op))
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// checkRecipient rejects plain outputs to executables, whose balance is only moved by code.
func (x *txExec) checkRecipient(addr model.Addr, op uint32) error {
	c, err := x.opView.GetContract(addr)
	if err != nil {
		return err
	}

	if _, ok := c.(*model.Executable); ok {
		return failOp(op, errors.NewContractInvalidError("cannot send to executable %s", addr))
	}

	return nil
}

func (x *txExec) deploy() error {
	tx := x.tx
	addr := tx.ID

	existing, err := x.opView.GetContract(addr)
	if err != nil {
		return err
	}

	if existing != nil {
		return failOp(noOperation, errors.NewContractInvalidError("contract %s already deployed", addr))
	}

	if err = x.opView.SetContract(addr, tx.Deploy); err != nil {
		return err
	}

	x.deployed = true

	exe, ok := tx.Deploy.(*model.Executable)
	if !ok {
		return nil
	}

	e := x.newEngine(addr, exe, x.gasLeft(), 0)
	e.SetUser(tx.Sender)

	if exe.InitMethod != "" {
		_, err = e.ExecuteInternal(exe.InitMethod, exe.InitArgs)
	} else {
		err = e.Init(nil)
	}

	x.gasUsed += min(e.GasUsed, x.gasLeft())

	if err != nil {
		return failOp(noOperation, err)
	}

	if err = x.applyEffects(e); err != nil {
		return failOp(noOperation, err)
	}

	return nil
}

func (x *txExec) solution(idx uint16) model.Solution {
	if int(idx) >= len(x.tx.Solutions) {
		return nil
	}

	return x.tx.Solutions[idx]
}

func (x *txExec) mint(idx uint32, op *model.Mint) error {
	c, err := x.opView.GetContract(op.Address)
	if err != nil {
		return err
	}

	token, ok := c.(*model.Token)
	if !ok || token.Owner == nil {
		return failOp(idx, errors.NewContractInvalidError("%s is not a mintable token", op.Address))
	}

	lookup := state.ContractLookup(x.opView)
	if err = model.ValidateOwner(x.params, lookup, op.Address, x.solution(op.Solution), x.bc.height); err != nil {
		return failOp(idx, err)
	}

	if err = x.checkRecipient(op.Target, idx); err != nil {
		return err
	}

	x.outputs = append(x.outputs, model.TxOut{Address: op.Target, Contract: op.Address, Amount: op.Amount})

	return nil
}

// call runs op. Deposits credit the contract before its code runs.
func (x *txExec) call(idx uint32, op *model.Execute, deposit *model.Deposit) error {
	c, err := x.opView.GetContract(op.Address)
	if err != nil {
		return err
	}

	exe, ok := c.(*model.Executable)
	if !ok {
		return failOp(idx, errors.NewContractNotFoundError("no executable at %s", op.Address))
	}

	if op.User != nil {
		lookup := state.ContractLookup(x.opView)
		if err = model.ValidateOwner(x.params, lookup, *op.User, x.solution(op.Solution), x.bc.height); err != nil {
			return failOp(idx, err)
		}
	}

	if deposit != nil {
		if err = x.opView.AddBalance(op.Address, deposit.Currency, deposit.Amount); err != nil {
			return failOp(idx, err)
		}
	}

	e := x.newEngine(op.Address, exe, x.gasLeft(), 0)
	e.SetUser(op.User)

	if deposit != nil {
		e.SetDeposit(deposit.Currency, deposit.Amount)
	}

	_, err = e.Execute(op.Method, op.Args)

	x.gasUsed += min(e.GasUsed, x.gasLeft())

	if err != nil {
		return failOp(idx, err)
	}

	if err = x.applyEffects(e); err != nil {
		return failOp(idx, err)
	}

	return nil
}

func (x *txExec) newEngine(addr model.Addr, exe *model.Executable, gasLimit uint64, depth int) *vm.Engine {
	e := vm.NewEngine(addr, exe.Program(), x.txVM, x.params, gasLimit)
	e.Depth = depth
	e.SetHeight(x.bc.height)
	e.SetTxID(x.tx.ID)
	e.RemoteCall = x.remoteCall
	e.Balance = func(currency chainhash.Hash) uint64 {
		balance, err := x.opView.GetBalance(addr, currency)
		if err != nil {
			return 0
		}

		return balance
	}

	return e
}

// remoteCall runs a method of another contract with the caller as user and whatever gas
// the caller has left.
func (x *txExec) remoteCall(caller *vm.Engine, addr chainhash.Hash, method string, args []*vm.Var) (*vm.Var, uint64, error) {
	if caller.OnCallStack(addr) {
		return nil, 0, errors.NewVMInvalidOperationError("reentrant call into %s", addr)
	}

	c, err := x.opView.GetContract(addr)
	if err != nil {
		return nil, 0, err
	}

	exe, ok := c.(*model.Executable)
	if !ok {
		return nil, 0, errors.NewContractNotFoundError("no executable at %s", addr)
	}

	e := x.newEngine(addr, exe, caller.GasLeft(), caller.Depth+1)
	e.Callers = caller.CallStack()

	user := caller.Contract
	e.SetUser(&user)

	result, err := e.Execute(method, args)
	if err != nil {
		return nil, e.GasUsed, err
	}

	if err = x.applyEffects(e); err != nil {
		return nil, e.GasUsed, err
	}

	return result, e.GasUsed, nil
}

// applyEffects moves what e sent out of its contract balance and records sends and mints
// as outputs of the transaction.
func (x *txExec) applyEffects(e *vm.Engine) error {
	for _, out := range e.Outputs {
		if err := x.opView.SubBalance(e.Contract, out.Currency, out.Amount); err != nil {
			return err
		}

		if err := x.checkRecipient(out.Address, noOperation); err != nil {
			return err
		}

		x.outputs = append(x.outputs, model.TxOut{Address: out.Address, Contract: out.Currency, Amount: out.Amount, Memo: out.Memo})
	}

	for _, m := range e.Mints {
		if err := x.checkRecipient(m.Address, noOperation); err != nil {
			return err
		}

		x.outputs = append(x.outputs, model.TxOut{Address: m.Address, Contract: m.Currency, Amount: m.Amount, Memo: m.Memo})
	}

	for _, l := range e.Logs {
		x.bc.logger.Debugf("[%s] contract %s log %d: %s", x.tx.ID, l.Contract, l.Level, l.Message)
	}

	return nil
}

// addOutputs adds outs after the explicit outputs of the transaction.
func (x *txExec) addOutputs(view *state.View, outs []model.TxOut) error {
	base := uint32(len(x.tx.Outputs))

	for j, out := range outs {
		key := model.TxioKey{TxID: x.tx.ID, Index: base + uint32(j)}
		if err := view.AddTxo(key, out, x.bc.height); err != nil {
			return err
		}
	}

	return nil
}

func sortedCurrencies(m map[model.Addr]uint64) []model.Addr {
	currencies := make([]model.Addr, 0, len(m))
	for c := range m {
		currencies = append(currencies, c)
	}

	sort.Slice(currencies, func(i, j int) bool { return bytes.Compare(currencies[i][:], currencies[j][:]) < 0 })

	return currencies
}

// finish creates the execution outputs and returns what the sender did not spend.
func (x *txExec) finish(fee uint64) error {
	outs := x.outputs

	if x.tx.Sender != nil {
		for _, currency := range sortedCurrencies(x.inputs) {
			change := x.inputs[currency] - x.consumed[currency]
			if currency == model.NativeCurrency {
				change -= fee
			}

			if change > 0 {
				outs = append(outs, model.TxOut{Address: *x.tx.Sender, Contract: currency, Amount: change})
			}
		}
	}

	if err := x.addOutputs(x.opView, outs); err != nil {
		return err
	}

	return x.opView.Flush()
}

// refund returns the inputs minus the fee to the sender of a failed transaction.
func (x *txExec) refund(fee uint64) error {
	var outs []model.TxOut

	for _, currency := range sortedCurrencies(x.inputs) {
		amount := x.inputs[currency]
		if currency == model.NativeCurrency {
			amount -= fee
		}

		if amount > 0 {
			outs = append(outs, model.TxOut{Address: *x.tx.Sender, Contract: currency, Amount: amount})
		}
	}

	return x.addOutputs(x.txView, outs)
}
