package vm_test

import (
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/holiman/uint256"
	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/vmstore/memory"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contract = chainhash.HashH([]byte("test-contract"))

func program(constants []*vm.Var, code []vm.Instruction, methods ...vm.Method) *vm.Program {
	p := &vm.Program{Code: code, Constants: constants, Methods: make(map[string]vm.Method)}

	for _, m := range methods {
		p.Methods[m.Name] = m
	}

	return p
}

func public(name string, entry uint64, numArgs int) vm.Method {
	return vm.Method{Name: name, EntryPoint: entry, NumArgs: numArgs, IsPublic: true}
}

func newEngine(p *vm.Program, store vm.Storage, gas uint64) *vm.Engine {
	return vm.NewEngine(contract, p, store, &chaincfg.RegressionNetParams, gas)
}

func maxUint() *vm.Var {
	return vm.Uint(new(uint256.Int).SetAllOne())
}

func TestAddOverflow(t *testing.T) {
	code := func(flags uint16) []vm.Instruction {
		return []vm.Instruction{
			{Code: vm.OP_ADD, Flags: flags, A: vm.STATIC_FIELDS, B: 0, C: 1},
		}
	}

	t.Run("caught", func(t *testing.T) {
		store := memory.New()
		p := program([]*vm.Var{maxUint(), vm.Uint64(1)}, code(vm.OPFLAG_CATCH_OVERFLOW), public("add", 0, 0))

		_, err := newEngine(p, store, 100_000).Execute("add", nil)
		require.Error(t, err)
		require.True(t, errors.Is(err, errors.ErrVMOverflow))
		assert.Zero(t, store.Counters["write"])
		assert.Zero(t, store.Counters["write_entry"])
	})

	t.Run("wraps", func(t *testing.T) {
		store := memory.New()
		p := program([]*vm.Var{maxUint(), vm.Uint64(1)}, code(0), public("add", 0, 0))

		_, err := newEngine(p, store, 100_000).Execute("add", nil)
		require.NoError(t, err)

		v, err := store.Read(contract, vm.STATIC_FIELDS)
		require.NoError(t, err)
		require.Equal(t, vm.TYPE_UINT, v.Type)
		require.True(t, v.Uint.IsZero())
	})
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   vm.Opcode
		x, y uint64
		want uint64
		err  error
	}{
		{"add", vm.OP_ADD, 2, 3, 5, nil},
		{"sub", vm.OP_SUB, 5, 3, 2, nil},
		{"mul", vm.OP_MUL, 4, 3, 12, nil},
		{"div", vm.OP_DIV, 9, 2, 4, nil},
		{"mod", vm.OP_MOD, 9, 2, 1, nil},
		{"min", vm.OP_MIN, 9, 2, 2, nil},
		{"max", vm.OP_MAX, 9, 2, 9, nil},
		{"shl", vm.OP_SHL, 1, 4, 16, nil},
		{"shr", vm.OP_SHR, 16, 4, 1, nil},
		{"and", vm.OP_AND, 6, 3, 2, nil},
		{"or", vm.OP_OR, 6, 3, 7, nil},
		{"xor", vm.OP_XOR, 6, 3, 5, nil},
		{"div by zero", vm.OP_DIV, 1, 0, 0, errors.ErrVMDivisionByZero},
		{"mod by zero", vm.OP_MOD, 1, 0, 0, errors.ErrVMDivisionByZero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := program(
				[]*vm.Var{vm.Uint64(tt.x), vm.Uint64(tt.y)},
				[]vm.Instruction{{Code: tt.op, A: vm.MEM_STACK, B: 0, C: 1}},
				vm.Method{Name: "f", IsPublic: true, IsConst: true},
			)

			result, err := newEngine(p, memory.New(), 100_000).Execute("f", nil)
			if tt.err != nil {
				require.True(t, errors.Is(err, tt.err), "got %v", err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, result.Uint.Uint64())
		})
	}
}

func TestSubUnderflowCaught(t *testing.T) {
	p := program(
		[]*vm.Var{vm.Uint64(0), vm.Uint64(1)},
		[]vm.Instruction{{Code: vm.OP_SUB, Flags: vm.OPFLAG_CATCH_OVERFLOW, A: vm.MEM_STACK, B: 0, C: 1}},
		public("f", 0, 0),
	)

	_, err := newEngine(p, memory.New(), 100_000).Execute("f", nil)
	require.True(t, errors.Is(err, errors.ErrVMOverflow))
}

// containerProgram builds an array in field 0 holding a map with one entry, then
// offers a method that drops the array again.
func containerProgram() *vm.Program {
	const tmp = vm.MEM_STACK + 1

	return program(
		[]*vm.Var{vm.String("key"), vm.String("value")},
		[]vm.Instruction{
			{Code: vm.OP_NEW_ARRAY, A: vm.STATIC_FIELDS},
			{Code: vm.OP_NEW_MAP, A: tmp},
			{Code: vm.OP_PUSH_BACK, A: vm.STATIC_FIELDS, B: tmp},
			{Code: vm.OP_SET, A: tmp, B: 0, C: 1},
			{Code: vm.OP_RET},
			{Code: vm.OP_CLR, A: vm.STATIC_FIELDS},
			{Code: vm.OP_RET},
		},
		public("make", 0, 0),
		public("clear", 5, 0),
	)
}

func TestRefCountCascade(t *testing.T) {
	store := memory.New()
	p := containerProgram()

	_, err := newEngine(p, store, 1_000_000).Execute("make", nil)
	require.NoError(t, err)
	require.NoError(t, store.Commit())

	array, err := store.Read(contract, vm.MEM_HEAP)
	require.NoError(t, err)
	require.Equal(t, vm.TYPE_ARRAY, array.Type)
	require.Equal(t, uint64(1), array.Size)
	require.Equal(t, uint32(1), array.RefCount)

	m, err := store.Read(contract, vm.MEM_HEAP+1)
	require.NoError(t, err)
	require.Equal(t, vm.TYPE_MAP, m.Type)
	require.Equal(t, uint32(1), m.RefCount, "stack reference must be released")

	keyAddress, err := store.Lookup(contract, vm.String("key"))
	require.NoError(t, err)
	require.Equal(t, vm.MEM_HEAP+2, keyAddress)

	key, err := store.Read(contract, keyAddress)
	require.NoError(t, err)
	require.Equal(t, uint32(1), key.RefCount, "the map entry holds its key")

	entry, err := store.ReadEntry(contract, vm.MEM_HEAP+1, keyAddress)
	require.NoError(t, err)
	require.Equal(t, "value", entry.String())

	_, err = newEngine(p, store, 1_000_000).Execute("clear", nil)
	require.NoError(t, err)
	require.NoError(t, store.Commit())

	for _, address := range []uint64{vm.STATIC_FIELDS, vm.MEM_HEAP, vm.MEM_HEAP + 1, vm.MEM_HEAP + 2} {
		v, err := store.Read(contract, address)
		require.NoError(t, err)
		require.Nil(t, v, "cell 0x%x must be released", address)
	}

	keyAddress, err = store.Lookup(contract, vm.String("key"))
	require.NoError(t, err)
	require.Zero(t, keyAddress)

	entries, err := store.ReadEntries(contract, vm.MEM_HEAP)
	require.NoError(t, err)
	require.Empty(t, entries)

	entries, err = store.ReadEntries(contract, vm.MEM_HEAP+1)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDeterminism(t *testing.T) {
	p := containerProgram()

	run := func() (map[string][]byte, uint64) {
		store := memory.New()

		e := newEngine(p, store, 1_000_000)
		_, err := e.Execute("make", nil)
		require.NoError(t, err)

		return store.Dump(), e.GasUsed
	}

	dumpA, gasA := run()
	dumpB, gasB := run()

	require.Equal(t, dumpA, dumpB)
	require.Equal(t, gasA, gasB)
	require.NotZero(t, gasA)
}

func TestFailIsAtomic(t *testing.T) {
	store := memory.New()
	p := program(
		[]*vm.Var{vm.Uint64(1), vm.String("nope")},
		[]vm.Instruction{
			{Code: vm.OP_COPY, A: vm.STATIC_FIELDS, B: 0},
			{Code: vm.OP_NEW_MAP, A: vm.STATIC_FIELDS + 1},
			{Code: vm.OP_FAIL, A: 1, B: 7},
		},
		public("f", 0, 0),
	)

	_, err := newEngine(p, store, 100_000).Execute("f", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrVMFail))
	require.Equal(t, errors.ERR_VM_FAIL, errors.CodeOf(err))

	var execErr *vm.ExecError
	require.True(t, errors.As(err, &execErr))
	require.Equal(t, uint64(7), execErr.Code)
	require.Equal(t, "nope", execErr.Message)
	require.Equal(t, uint64(2), execErr.Address)
	require.Equal(t, vm.OP_FAIL, execErr.Operation)

	assert.Zero(t, store.Counters["write"])
	assert.Zero(t, store.Counters["write_entry"])
}

func TestAssert(t *testing.T) {
	p := program(
		[]*vm.Var{vm.Bool(false), vm.String("must be true")},
		[]vm.Instruction{{Code: vm.OP_ASSERT, A: 0, B: 1, C: 3}},
		public("f", 0, 0),
	)

	_, err := newEngine(p, memory.New(), 100_000).Execute("f", nil)

	var execErr *vm.ExecError
	require.True(t, errors.As(err, &execErr))
	require.Equal(t, "must be true", execErr.Message)
	require.Equal(t, uint64(3), execErr.Code)
}

func TestOutOfGas(t *testing.T) {
	t.Run("during execution", func(t *testing.T) {
		store := memory.New()
		p := program(nil, []vm.Instruction{{Code: vm.OP_JUMP, A: 0}}, public("loop", 0, 0))

		e := newEngine(p, store, 1000)
		_, err := e.Execute("loop", nil)
		require.True(t, errors.Is(err, errors.ErrVMOutOfGas))
		require.Equal(t, uint64(1000), e.GasUsed)
	})

	t.Run("at commit", func(t *testing.T) {
		store := memory.New()
		p := program(
			[]*vm.Var{vm.Uint64(5)},
			[]vm.Instruction{{Code: vm.OP_COPY, A: vm.STATIC_FIELDS, B: 0}},
			public("f", 0, 0),
		)

		// one instruction fits, writing 33 bytes does not
		_, err := newEngine(p, store, 100).Execute("f", nil)
		require.True(t, errors.Is(err, errors.ErrVMOutOfGas))
		assert.Zero(t, store.Counters["write"])
	})
}

func TestCallReturn(t *testing.T) {
	p := program(
		[]*vm.Var{vm.Uint64(5)},
		[]vm.Instruction{
			{Code: vm.OP_COPY, A: vm.MEM_STACK + 11, B: 0},
			{Code: vm.OP_CALL, A: 4, B: 10},
			{Code: vm.OP_COPY, A: vm.MEM_STACK, B: vm.MEM_STACK + 10},
			{Code: vm.OP_RET},
			{Code: vm.OP_ADD, A: vm.MEM_STACK, B: vm.MEM_STACK + 1, C: vm.MEM_STACK + 1},
			{Code: vm.OP_RET},
		},
		vm.Method{Name: "double", IsPublic: true, IsConst: true},
	)

	result, err := newEngine(p, memory.New(), 100_000).Execute("double", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(10), result.Uint.Uint64())
}

func TestCallDepth(t *testing.T) {
	p := program(nil, []vm.Instruction{{Code: vm.OP_CALL, A: 0, B: 1}}, public("recurse", 0, 0))

	_, err := newEngine(p, memory.New(), 1_000_000).Execute("recurse", nil)
	require.True(t, errors.Is(err, errors.ErrVMInvalidOperation))
}

func TestArgsAndMethods(t *testing.T) {
	p := program(
		nil,
		[]vm.Instruction{{Code: vm.OP_MUL, A: vm.MEM_STACK, B: vm.MEM_STACK + 1, C: vm.MEM_STACK + 2}},
		vm.Method{Name: "mul", NumArgs: 2, IsPublic: true, IsConst: true},
		vm.Method{Name: "hidden", EntryPoint: 1},
	)

	result, err := newEngine(p, memory.New(), 100_000).Execute("mul", []*vm.Var{vm.Uint64(6), vm.Uint64(7)})
	require.NoError(t, err)
	require.Equal(t, uint64(42), result.Uint.Uint64())

	_, err = newEngine(p, memory.New(), 100_000).Execute("mul", []*vm.Var{vm.Uint64(6)})
	require.Error(t, err)

	_, err = newEngine(p, memory.New(), 100_000).Execute("hidden", nil)
	require.Error(t, err)

	_, err = newEngine(p, memory.New(), 100_000).Execute("missing", nil)
	require.Error(t, err)

	_, err = newEngine(p, memory.New(), 100_000).ExecuteInternal("hidden", nil)
	require.NoError(t, err)
}

func TestConstMethodCannotWrite(t *testing.T) {
	p := program(
		[]*vm.Var{vm.Uint64(1)},
		[]vm.Instruction{{Code: vm.OP_COPY, A: vm.STATIC_FIELDS, B: 0}},
		vm.Method{Name: "f", IsPublic: true, IsConst: true},
	)

	store := memory.New()

	_, err := newEngine(p, store, 100_000).Execute("f", nil)
	require.Error(t, err)
	assert.Zero(t, store.Counters["write"])
}

func TestWriteReadOnlyMemory(t *testing.T) {
	p := program(
		[]*vm.Var{vm.Uint64(1)},
		[]vm.Instruction{{Code: vm.OP_COPY, A: vm.EXTERN_HEIGHT, B: 0}},
		public("f", 0, 0),
	)

	_, err := newEngine(p, memory.New(), 100_000).Execute("f", nil)
	require.True(t, errors.Is(err, errors.ErrVMInvalidOperation))
}

func TestExterns(t *testing.T) {
	p := program(
		nil,
		[]vm.Instruction{
			{Code: vm.OP_COPY, A: vm.MEM_STACK, B: vm.EXTERN_HEIGHT},
		},
		vm.Method{Name: "height", IsPublic: true, IsConst: true},
	)

	e := newEngine(p, memory.New(), 100_000)
	e.SetHeight(77)

	result, err := e.Execute("height", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(77), result.Uint.Uint64())

	require.Error(t, e.SetExtern(vm.STATIC_FIELDS, vm.Uint64(1)))
}

func TestMapGet(t *testing.T) {
	const m = vm.MEM_STACK + 1

	code := func(flags uint16) []vm.Instruction {
		return []vm.Instruction{
			{Code: vm.OP_NEW_MAP, A: m},
			{Code: vm.OP_SET, A: m, B: 0, C: 1},
			{Code: vm.OP_GET, Flags: flags, A: vm.MEM_STACK, B: m, C: 2},
		}
	}

	constants := []*vm.Var{vm.String("a"), vm.Uint64(1), vm.String("b")}

	result, err := newEngine(program(constants, code(0), public("f", 0, 0)), memory.New(), 100_000).Execute("f", nil)
	require.NoError(t, err)
	require.Nil(t, result, "missing key reads as NIL")

	_, err = newEngine(program(constants, code(vm.OPFLAG_HARD_FAIL), public("f", 0, 0)), memory.New(), 100_000).Execute("f", nil)
	require.True(t, errors.Is(err, errors.ErrVMOutOfBounds))

	constants[2] = vm.String("a")

	result, err = newEngine(program(constants, code(0), public("f", 0, 0)), memory.New(), 100_000).Execute("f", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Uint.Uint64())
}

func TestArrayBounds(t *testing.T) {
	const a = vm.MEM_STACK + 1

	p := program(
		[]*vm.Var{vm.Uint64(0), vm.Uint64(1)},
		[]vm.Instruction{
			{Code: vm.OP_NEW_ARRAY, A: a},
			{Code: vm.OP_PUSH_BACK, A: a, B: 0},
			{Code: vm.OP_GET, A: vm.MEM_STACK + 2, B: a, C: 1},
		},
		public("f", 0, 0),
	)

	_, err := newEngine(p, memory.New(), 100_000).Execute("f", nil)
	require.True(t, errors.Is(err, errors.ErrVMOutOfBounds))

	p.Code = append(p.Code[:2],
		vm.Instruction{Code: vm.OP_POP_BACK, A: vm.MEM_STACK + 2, B: a},
		vm.Instruction{Code: vm.OP_POP_BACK, A: vm.MEM_STACK + 2, B: a},
	)

	_, err = newEngine(p, memory.New(), 100_000).Execute("f", nil)
	require.True(t, errors.Is(err, errors.ErrVMOutOfBounds))
}

func TestTypeMismatch(t *testing.T) {
	p := program(
		[]*vm.Var{vm.String("x"), vm.Uint64(1)},
		[]vm.Instruction{{Code: vm.OP_ADD, A: vm.MEM_STACK, B: 0, C: 1}},
		public("f", 0, 0),
	)

	_, err := newEngine(p, memory.New(), 100_000).Execute("f", nil)
	require.True(t, errors.Is(err, errors.ErrVMTypeMismatch))
	require.True(t, errors.IsExecutionError(err))
}

func TestSendAndMint(t *testing.T) {
	currency := chainhash.HashH([]byte("currency"))
	target := chainhash.HashH([]byte("target"))

	p := program(
		[]*vm.Var{vm.Binary(target[:]), vm.Uint64(60), vm.Binary(currency[:]), vm.String("hi")},
		[]vm.Instruction{
			{Code: vm.OP_SEND, A: 0, B: 1, C: 2, D: 3},
			{Code: vm.OP_MINT, A: 0, B: 1, C: 3},
			{Code: vm.OP_BALANCE, A: vm.MEM_STACK, B: 2},
			{Code: vm.OP_RET},
			{Code: vm.OP_SEND, A: 0, B: 1, C: 2, D: 3},
			{Code: vm.OP_SEND, A: 0, B: 1, C: 2, D: 3},
		},
		public("send", 0, 0),
		public("overspend", 4, 0),
	)

	balance := func(c chainhash.Hash) uint64 {
		if c == currency {
			return 100
		}

		return 0
	}

	e := newEngine(p, memory.New(), 100_000)
	e.Balance = balance

	result, err := e.Execute("send", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(40), result.Uint.Uint64())
	require.Equal(t, []vm.Output{{Address: target, Currency: currency, Amount: 60, Memo: "hi"}}, e.Outputs)
	require.Equal(t, []vm.Output{{Address: target, Currency: contract, Amount: 60, Memo: "hi"}}, e.Mints)

	e = newEngine(p, memory.New(), 100_000)
	e.Balance = balance

	_, err = e.Execute("overspend", nil)
	require.True(t, errors.Is(err, errors.ErrVMFail))
}

func TestRemoteCall(t *testing.T) {
	callee := chainhash.HashH([]byte("callee"))

	p := program(
		[]*vm.Var{vm.Binary(callee[:]), vm.String("get"), vm.Uint64(3)},
		[]vm.Instruction{
			{Code: vm.OP_COPY, A: vm.MEM_STACK + 5, B: 2},
			{Code: vm.OP_RCALL, A: 0, B: 1, C: 4, D: 1},
			{Code: vm.OP_COPY, A: vm.MEM_STACK, B: vm.MEM_STACK + 4},
		},
		vm.Method{Name: "f", IsPublic: true, IsConst: true},
	)

	e := newEngine(p, memory.New(), 100_000)
	e.RemoteCall = func(caller *vm.Engine, address chainhash.Hash, method string, args []*vm.Var) (*vm.Var, uint64, error) {
		require.Equal(t, callee, address)
		require.Equal(t, "get", method)
		require.Len(t, args, 1)

		return vm.Uint64(args[0].Uint.Uint64() * 2), 500, nil
	}

	result, err := e.Execute("f", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(6), result.Uint.Uint64())
	require.Greater(t, e.GasUsed, uint64(500))

	e = newEngine(p, memory.New(), 100_000)
	_, err = e.Execute("f", nil)
	require.Error(t, err, "no remote call hook")
}

func TestInit(t *testing.T) {
	store := memory.New()
	p := program(
		nil,
		[]vm.Instruction{{Code: vm.OP_COPY, A: vm.STATIC_FIELDS, B: vm.MEM_STACK + 1}},
		vm.Method{Name: vm.InitMethod, NumArgs: 1},
	)

	require.NoError(t, newEngine(p, store, 100_000).Init([]*vm.Var{vm.String("owner")}))

	v, err := store.Read(contract, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Equal(t, "owner", v.String())

	noInit := program(nil, nil)
	require.NoError(t, newEngine(noInit, store, 100_000).Init(nil))
	require.Error(t, newEngine(noInit, store, 100_000).Init([]*vm.Var{vm.Uint64(1)}))
}

func TestEngineSingleUse(t *testing.T) {
	p := program(nil, nil, vm.Method{Name: "f", IsPublic: true, IsConst: true})

	e := newEngine(p, memory.New(), 100_000)

	_, err := e.Execute("f", nil)
	require.NoError(t, err)

	_, err = e.Execute("f", nil)
	require.Error(t, err)
}

func TestLogAndEvent(t *testing.T) {
	p := program(
		[]*vm.Var{vm.String("hello"), vm.String("transfer"), vm.Uint64(9)},
		[]vm.Instruction{
			{Code: vm.OP_LOG, A: 2, B: 0},
			{Code: vm.OP_EVENT, A: 1, B: 2},
		},
		vm.Method{Name: "f", IsPublic: true, IsConst: true},
	)

	e := newEngine(p, memory.New(), 100_000)

	_, err := e.Execute("f", nil)
	require.NoError(t, err)
	require.Equal(t, []vm.Log{{Contract: contract, Level: 2, Message: "hello"}}, e.Logs)
	require.Len(t, e.Events, 1)
	require.Equal(t, "transfer", e.Events[0].Name)
	require.Equal(t, vm.Uint64(9).KeyBytes(), e.Events[0].Data)
}

func TestOpcodeNames(t *testing.T) {
	require.Equal(t, "ADD", vm.OP_ADD.String())
	require.Equal(t, "ASSERT", vm.OP_ASSERT.String())
	require.Equal(t, "OP_200", vm.Opcode(200).String())
}

func TestMapKeyRefCount(t *testing.T) {
	store := memory.New()
	p := program(
		[]*vm.Var{vm.String("k"), vm.Uint64(7)},
		[]vm.Instruction{
			{Code: vm.OP_NEW_MAP, A: vm.STATIC_FIELDS},
			{Code: vm.OP_NEW_MAP, A: vm.STATIC_FIELDS + 1},
			{Code: vm.OP_SET, A: vm.STATIC_FIELDS, B: 0, C: 1},
			{Code: vm.OP_SET, A: vm.STATIC_FIELDS + 1, B: 0, C: 1},
			{Code: vm.OP_RET},
			{Code: vm.OP_ERASE, A: vm.STATIC_FIELDS, B: 0},
			{Code: vm.OP_RET},
			{Code: vm.OP_CLR, A: vm.STATIC_FIELDS + 1},
			{Code: vm.OP_RET},
			{Code: vm.OP_SET, A: vm.STATIC_FIELDS, B: 0, C: 1},
			{Code: vm.OP_RET},
		},
		public("make", 0, 0),
		public("erase", 5, 0),
		public("drop", 7, 0),
		public("again", 9, 0),
	)

	run := func(method string) {
		_, err := newEngine(p, store, 1_000_000).Execute(method, nil)
		require.NoError(t, err)
		require.NoError(t, store.Commit())
	}

	keyRefs := func(address uint64) uint32 {
		v, err := store.Read(contract, address)
		require.NoError(t, err)

		if v == nil {
			return 0
		}

		return v.RefCount
	}

	const key = vm.MEM_HEAP + 2

	run("make")
	require.Equal(t, uint32(2), keyRefs(key), "both maps use the key")

	run("erase")
	require.Equal(t, uint32(1), keyRefs(key))

	run("drop")

	v, err := store.Read(contract, key)
	require.NoError(t, err)
	require.Nil(t, v, "key cell must be released with its last map")

	address, err := store.Lookup(contract, vm.String("k"))
	require.NoError(t, err)
	require.Zero(t, address)

	run("again")

	address, err = store.Lookup(contract, vm.String("k"))
	require.NoError(t, err)
	require.Equal(t, vm.MEM_HEAP+3, address, "a released key is allocated again")
	require.Equal(t, uint32(1), keyRefs(address))
}

// nestedCalls runs remote calls on fresh engines over store the way the node does.
func nestedCalls(store vm.Storage, programs map[chainhash.Hash]*vm.Program, calls *int) vm.RemoteCallFunc {
	var hook vm.RemoteCallFunc

	hook = func(caller *vm.Engine, address chainhash.Hash, method string, args []*vm.Var) (*vm.Var, uint64, error) {
		*calls++

		if caller.OnCallStack(address) {
			return nil, 0, errors.NewVMInvalidOperationError("reentrant call into %s", address)
		}

		e := vm.NewEngine(address, programs[address], store, &chaincfg.RegressionNetParams, caller.GasLeft())
		e.Depth = caller.Depth + 1
		e.Callers = caller.CallStack()
		e.RemoteCall = hook

		result, err := e.Execute(method, args)

		return result, e.GasUsed, err
	}

	return hook
}

// callerProgram builds a map in field 0, then calls method of target.
func callerProgram(target chainhash.Hash, method string) *vm.Program {
	return program(
		[]*vm.Var{vm.Binary(target[:]), vm.String(method)},
		[]vm.Instruction{
			{Code: vm.OP_NEW_MAP, A: vm.STATIC_FIELDS},
			{Code: vm.OP_RCALL, A: 0, B: 1, C: 4, D: 0},
			{Code: vm.OP_RET},
			{Code: vm.OP_NEW_ARRAY, A: vm.STATIC_FIELDS + 1},
			{Code: vm.OP_RET},
		},
		public("outer", 0, 0),
		public("inner", 3, 0),
	)
}

func TestReentrantCallIsRejected(t *testing.T) {
	other := chainhash.HashH([]byte("other-contract"))

	t.Run("self", func(t *testing.T) {
		store := memory.New()
		calls := 0

		p := callerProgram(contract, "inner")
		e := newEngine(p, store, 1_000_000)
		e.RemoteCall = nestedCalls(store, map[chainhash.Hash]*vm.Program{contract: p}, &calls)

		_, err := e.Execute("outer", nil)
		require.Error(t, err)
		require.True(t, errors.Is(err, errors.ErrVMInvalidOperation))
		require.Zero(t, calls, "rejected before the hook runs")
		assert.Zero(t, store.Counters["write"])
	})

	t.Run("through another contract", func(t *testing.T) {
		store := memory.New()
		calls := 0

		programs := map[chainhash.Hash]*vm.Program{
			contract: callerProgram(other, "outer"),
			other:    callerProgram(contract, "inner"),
		}

		e := newEngine(programs[contract], store, 1_000_000)
		e.RemoteCall = nestedCalls(store, programs, &calls)

		_, err := e.Execute("outer", nil)
		require.Error(t, err)
		require.True(t, errors.Is(err, errors.ErrVMInvalidOperation))
		require.Equal(t, 1, calls)
		assert.Zero(t, store.Counters["write"])
	})

	t.Run("distinct contracts keep their own heaps", func(t *testing.T) {
		store := memory.New()
		calls := 0

		programs := map[chainhash.Hash]*vm.Program{
			contract: callerProgram(other, "inner"),
			other:    callerProgram(contract, "inner"),
		}

		e := newEngine(programs[contract], store, 1_000_000)
		e.RemoteCall = nestedCalls(store, programs, &calls)

		_, err := e.Execute("outer", nil)
		require.NoError(t, err)
		require.Equal(t, 1, calls)

		for _, c := range []struct {
			address chainhash.Hash
			field   uint64
			typ     vm.VarType
		}{
			{contract, vm.STATIC_FIELDS, vm.TYPE_MAP},
			{other, vm.STATIC_FIELDS + 1, vm.TYPE_ARRAY},
		} {
			ref, err := store.Read(c.address, c.field)
			require.NoError(t, err)
			require.Equal(t, vm.TYPE_REF, ref.Type)
			require.Equal(t, vm.MEM_HEAP, ref.Address)

			cell, err := store.Read(c.address, vm.MEM_HEAP)
			require.NoError(t, err)
			require.Equal(t, c.typ, cell.Type)
			require.Equal(t, uint32(1), cell.RefCount)
		}
	})
}
