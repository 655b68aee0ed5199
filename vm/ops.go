package vm

import (
	"encoding/hex"
	"strings"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/holiman/uint256"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

type opFunc func(e *Engine, inst Instruction) error

type opInfo struct {
	name string
	fn   opFunc
}

var ops [numOpcodes]opInfo

func init() {
	ops = [numOpcodes]opInfo{
		OP_NOP:       {"NOP", opNop},
		OP_CLR:       {"CLR", opClr},
		OP_COPY:      {"COPY", opCopy},
		OP_CLONE:     {"CLONE", opClone},
		OP_JUMP:      {"JUMP", opJump},
		OP_JUMPI:     {"JUMPI", opJumpIf(true)},
		OP_JUMPN:     {"JUMPN", opJumpIf(false)},
		OP_CALL:      {"CALL", opCall},
		OP_RET:       {"RET", opRet},
		OP_ADD:       {"ADD", opArith(addOp)},
		OP_SUB:       {"SUB", opArith(subOp)},
		OP_MUL:       {"MUL", opArith(mulOp)},
		OP_DIV:       {"DIV", opArith(divOp)},
		OP_MOD:       {"MOD", opArith(modOp)},
		OP_NOT:       {"NOT", opNot},
		OP_XOR:       {"XOR", opBitwise(func(z, x, y *uint256.Int) { z.Xor(x, y) }, func(x, y bool) bool { return x != y })},
		OP_AND:       {"AND", opBitwise(func(z, x, y *uint256.Int) { z.And(x, y) }, func(x, y bool) bool { return x && y })},
		OP_OR:        {"OR", opBitwise(func(z, x, y *uint256.Int) { z.Or(x, y) }, func(x, y bool) bool { return x || y })},
		OP_MIN:       {"MIN", opArith(minOp)},
		OP_MAX:       {"MAX", opArith(maxOp)},
		OP_SHL:       {"SHL", opShift(true)},
		OP_SHR:       {"SHR", opShift(false)},
		OP_CMP_EQ:    {"CMP_EQ", opCompare(func(c int) bool { return c == 0 })},
		OP_CMP_NEQ:   {"CMP_NEQ", opCompare(func(c int) bool { return c != 0 })},
		OP_CMP_LT:    {"CMP_LT", opCompare(func(c int) bool { return c < 0 })},
		OP_CMP_GT:    {"CMP_GT", opCompare(func(c int) bool { return c > 0 })},
		OP_CMP_LTE:   {"CMP_LTE", opCompare(func(c int) bool { return c <= 0 })},
		OP_CMP_GTE:   {"CMP_GTE", opCompare(func(c int) bool { return c >= 0 })},
		OP_TYPE:      {"TYPE", opType},
		OP_SIZE:      {"SIZE", opSize},
		OP_NEW_ARRAY: {"NEW_ARRAY", opNewContainer(TYPE_ARRAY)},
		OP_NEW_MAP:   {"NEW_MAP", opNewContainer(TYPE_MAP)},
		OP_GET:       {"GET", opGet},
		OP_SET:       {"SET", opSet},
		OP_ERASE:     {"ERASE", opErase},
		OP_PUSH_BACK: {"PUSH_BACK", opPushBack},
		OP_POP_BACK:  {"POP_BACK", opPopBack},
		OP_CONCAT:    {"CONCAT", opConcat},
		OP_MEMCPY:    {"MEMCPY", opMemcpy},
		OP_CONV:      {"CONV", opConv},
		OP_SHA256:    {"SHA256", opSha256},
		OP_VERIFY:    {"VERIFY", opVerify},
		OP_LOG:       {"LOG", opLog},
		OP_EVENT:     {"EVENT", opEvent},
		OP_SEND:      {"SEND", opSend},
		OP_MINT:      {"MINT", opMint},
		OP_RCALL:     {"RCALL", opRcall},
		OP_FAIL:      {"FAIL", opFail},
		OP_BALANCE:   {"BALANCE", opBalance},
		OP_ASSERT:    {"ASSERT", opAssert},
	}
}

// operands resolves A, B, C and D to absolute addresses.
func (e *Engine) operands(inst Instruction) (a, b, c, d uint64, err error) {
	if a, err = e.resolve(inst.A, inst.Flags, OPFLAG_REF_A); err != nil {
		return
	}

	if b, err = e.resolve(inst.B, inst.Flags, OPFLAG_REF_B); err != nil {
		return
	}

	if c, err = e.resolve(inst.C, inst.Flags, OPFLAG_REF_C); err != nil {
		return
	}

	d, err = e.resolve(inst.D, inst.Flags, OPFLAG_REF_D)

	return
}

func (e *Engine) writeOrClear(address uint64, v *Var) error {
	if v.IsNil() {
		return e.clear(address)
	}

	return e.Write(address, v)
}

func opNop(_ *Engine, _ Instruction) error {
	return nil
}

func opClr(e *Engine, inst Instruction) error {
	a, _, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	return e.clear(a)
}

func opCopy(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	v, err := e.Read(b)
	if err != nil {
		return err
	}

	return e.writeOrClear(a, v)
}

// opClone copies a container into a fresh heap cell. Entries are copied one level deep.
func opClone(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	src, err := e.Read(b)
	if err != nil {
		return err
	}

	if src != nil && src.Type == TYPE_REF {
		if src, err = e.Read(src.Address); err != nil {
			return err
		}
	}

	if src == nil || (src.Type != TYPE_ARRAY && src.Type != TYPE_MAP) {
		return e.writeOrClear(a, src)
	}

	keys, err := e.entryKeys(src.Address)
	if err != nil {
		return err
	}

	dst, err := e.alloc()
	if err != nil {
		return err
	}

	cell := &Var{Type: src.Type, Address: dst, Size: src.Size, Flags: FLAG_DIRTY}
	e.memory[dst] = cell

	for _, key := range keys {
		v, err := e.readEntry(src.Address, key)
		if err != nil {
			return err
		}

		if v != nil {
			if err = e.writeEntry(dst, key, v); err != nil {
				return err
			}
		}
	}

	return e.Write(a, Ref(dst))
}

func opJump(e *Engine, inst Instruction) error {
	e.currentFrame().ip = inst.A

	return nil
}

func opJumpIf(cond bool) opFunc {
	return func(e *Engine, inst Instruction) error {
		b, err := e.resolve(inst.B, inst.Flags, OPFLAG_REF_B)
		if err != nil {
			return err
		}

		v, err := e.Read(b)
		if err != nil {
			return err
		}

		if v.IsTrue() == cond {
			e.currentFrame().ip = inst.A
		}

		return nil
	}
}

func opCall(e *Engine, inst Instruction) error {
	if len(e.frames) >= e.maxCallDepth() {
		return errors.NewVMInvalidOperationError("call depth exceeded")
	}

	if inst.B == 0 || inst.B > STACK_FRAME_SIZE {
		return errors.NewVMInvalidOperationError("invalid stack offset %d", inst.B)
	}

	sp := e.currentFrame().stackPtr + inst.B
	if MEM_STACK+sp >= MEM_STATIC {
		return errors.NewVMOutOfBoundsError("stack overflow")
	}

	e.frames = append(e.frames, frame{ip: inst.A, stackPtr: sp})

	return nil
}

func opRet(e *Engine, _ Instruction) error {
	e.frames = e.frames[:len(e.frames)-1]

	return nil
}

type arithFunc func(z, x, y *uint256.Int) (overflow bool, err error)

func addOp(z, x, y *uint256.Int) (bool, error) {
	_, overflow := z.AddOverflow(x, y)
	return overflow, nil
}

func subOp(z, x, y *uint256.Int) (bool, error) {
	_, overflow := z.SubOverflow(x, y)
	return overflow, nil
}

func mulOp(z, x, y *uint256.Int) (bool, error) {
	_, overflow := z.MulOverflow(x, y)
	return overflow, nil
}

func divOp(z, x, y *uint256.Int) (bool, error) {
	if y.IsZero() {
		return false, errors.NewVMDivisionByZeroError("division by zero")
	}

	z.Div(x, y)

	return false, nil
}

func modOp(z, x, y *uint256.Int) (bool, error) {
	if y.IsZero() {
		return false, errors.NewVMDivisionByZeroError("modulo by zero")
	}

	z.Mod(x, y)

	return false, nil
}

func minOp(z, x, y *uint256.Int) (bool, error) {
	if x.Lt(y) {
		z.Set(x)
	} else {
		z.Set(y)
	}

	return false, nil
}

func maxOp(z, x, y *uint256.Int) (bool, error) {
	if x.Gt(y) {
		z.Set(x)
	} else {
		z.Set(y)
	}

	return false, nil
}

// opArith computes A = B op C on UINT values. Overflow wraps unless OPFLAG_CATCH_OVERFLOW is set.
func opArith(fn arithFunc) opFunc {
	return func(e *Engine, inst Instruction) error {
		a, b, c, _, err := e.operands(inst)
		if err != nil {
			return err
		}

		x, err := e.readUint(b)
		if err != nil {
			return err
		}

		y, err := e.readUint(c)
		if err != nil {
			return err
		}

		var z uint256.Int

		overflow, err := fn(&z, x, y)
		if err != nil {
			return err
		}

		if overflow && inst.Flags&OPFLAG_CATCH_OVERFLOW != 0 {
			return errors.NewVMOverflowError("%s overflow", inst.Code)
		}

		return e.Write(a, Uint(&z))
	}
}

func opNot(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	v, err := e.Read(b)
	if err != nil {
		return err
	}

	switch typeOf(v) {
	case TYPE_TRUE:
		return e.Write(a, Bool(false))
	case TYPE_FALSE:
		return e.Write(a, Bool(true))
	case TYPE_UINT:
		var z uint256.Int
		z.Not(&v.Uint)

		return e.Write(a, Uint(&z))
	}

	return errors.NewVMTypeMismatchError("NOT on %s", typeOf(v))
}

func isBool(v *Var) bool {
	return v != nil && (v.Type == TYPE_TRUE || v.Type == TYPE_FALSE)
}

func opBitwise(fn func(z, x, y *uint256.Int), logic func(x, y bool) bool) opFunc {
	return func(e *Engine, inst Instruction) error {
		a, b, c, _, err := e.operands(inst)
		if err != nil {
			return err
		}

		x, err := e.Read(b)
		if err != nil {
			return err
		}

		y, err := e.Read(c)
		if err != nil {
			return err
		}

		if isBool(x) && isBool(y) {
			return e.Write(a, Bool(logic(x.Type == TYPE_TRUE, y.Type == TYPE_TRUE)))
		}

		if typeOf(x) != TYPE_UINT || typeOf(y) != TYPE_UINT {
			return errors.NewVMTypeMismatchError("%s on %s and %s", inst.Code, typeOf(x), typeOf(y))
		}

		var z uint256.Int
		fn(&z, &x.Uint, &y.Uint)

		return e.Write(a, Uint(&z))
	}
}

func opShift(left bool) opFunc {
	return func(e *Engine, inst Instruction) error {
		a, b, c, _, err := e.operands(inst)
		if err != nil {
			return err
		}

		x, err := e.readUint(b)
		if err != nil {
			return err
		}

		n, err := e.readUint(c)
		if err != nil {
			return err
		}

		var z uint256.Int

		if n.IsUint64() && n.Uint64() < 256 {
			if left {
				z.Lsh(x, uint(n.Uint64()))
			} else {
				z.Rsh(x, uint(n.Uint64()))
			}
		}

		return e.Write(a, Uint(&z))
	}
}

func opCompare(pred func(c int) bool) opFunc {
	return func(e *Engine, inst Instruction) error {
		a, b, c, _, err := e.operands(inst)
		if err != nil {
			return err
		}

		x, err := e.Read(b)
		if err != nil {
			return err
		}

		y, err := e.Read(c)
		if err != nil {
			return err
		}

		return e.Write(a, Bool(pred(Compare(x, y))))
	}
}

func opType(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	v, err := e.Read(b)
	if err != nil {
		return err
	}

	return e.Write(a, Uint64(uint64(typeOf(v))))
}

func opSize(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	v, err := e.Read(b)
	if err != nil {
		return err
	}

	switch typeOf(v) {
	case TYPE_STRING, TYPE_BINARY:
		return e.Write(a, Uint64(uint64(len(v.Data))))
	case TYPE_REF, TYPE_ARRAY, TYPE_MAP:
		cell, err := e.container(b)
		if err != nil {
			return err
		}

		if cell.Type == TYPE_ARRAY {
			return e.Write(a, Uint64(cell.Size))
		}

		keys, err := e.entryKeys(cell.Address)
		if err != nil {
			return err
		}

		return e.Write(a, Uint64(uint64(len(keys))))
	}

	return errors.NewVMTypeMismatchError("SIZE of %s", typeOf(v))
}

func opNewContainer(t VarType) opFunc {
	return func(e *Engine, inst Instruction) error {
		a, err := e.resolve(inst.A, inst.Flags, OPFLAG_REF_A)
		if err != nil {
			return err
		}

		address, err := e.alloc()
		if err != nil {
			return err
		}

		e.memory[address] = &Var{Type: t, Address: address, Flags: FLAG_DIRTY}

		return e.Write(a, Ref(address))
	}
}

// opGet reads A = B[C]. A missing key yields NIL unless OPFLAG_HARD_FAIL is set.
func opGet(e *Engine, inst Instruction) error {
	a, b, c, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	cell, err := e.container(b)
	if err != nil {
		return err
	}

	key, err := e.Read(c)
	if err != nil {
		return err
	}

	index, found, err := e.entryIndex(cell, key, false)
	if err != nil {
		return err
	}

	var v *Var

	if found {
		if v, err = e.readEntry(cell.Address, index); err != nil {
			return err
		}
	}

	if v == nil && inst.Flags&OPFLAG_HARD_FAIL != 0 {
		return errors.NewVMOutOfBoundsError("key not found: %s", key)
	}

	return e.writeOrClear(a, v)
}

// opSet writes A[B] = C.
func opSet(e *Engine, inst Instruction) error {
	a, b, c, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	cell, err := e.container(a)
	if err != nil {
		return err
	}

	key, err := e.Read(b)
	if err != nil {
		return err
	}

	v, err := e.Read(c)
	if err != nil {
		return err
	}

	index, _, err := e.entryIndex(cell, key, !v.IsNil())
	if err != nil {
		return err
	}

	if v.IsNil() {
		return e.clearEntry(cell.Address, index)
	}

	return e.writeEntry(cell.Address, index, v)
}

func opErase(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	cell, err := e.container(a)
	if err != nil {
		return err
	}

	key, err := e.Read(b)
	if err != nil {
		return err
	}

	index, found, err := e.entryIndex(cell, key, false)
	if err != nil || !found {
		return err
	}

	return e.clearEntry(cell.Address, index)
}

func (e *Engine) array(address uint64) (*Var, error) {
	cell, err := e.container(address)
	if err != nil {
		return nil, err
	}

	if cell.Type != TYPE_ARRAY {
		return nil, errors.NewVMTypeMismatchError("expected ARRAY at 0x%x, got %s", address, cell.Type)
	}

	return cell, nil
}

func opPushBack(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	cell, err := e.array(a)
	if err != nil {
		return err
	}

	v, err := e.Read(b)
	if err != nil {
		return err
	}

	if v.IsNil() {
		v = Nil()
	}

	if err = e.writeEntry(cell.Address, cell.Size, v); err != nil {
		return err
	}

	cell.Size++
	cell.Flags |= FLAG_DIRTY

	return nil
}

// opPopBack moves the last element of array B into A.
func opPopBack(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	cell, err := e.array(b)
	if err != nil {
		return err
	}

	if cell.Size == 0 {
		return errors.NewVMOutOfBoundsError("pop from empty array")
	}

	last := cell.Size - 1

	v, err := e.readEntry(cell.Address, last)
	if err != nil {
		return err
	}

	if err = e.writeOrClear(a, v); err != nil {
		return err
	}

	if err = e.clearEntry(cell.Address, last); err != nil {
		return err
	}

	cell.Size = last
	cell.Flags |= FLAG_DIRTY

	return nil
}

func opConcat(e *Engine, inst Instruction) error {
	a, b, c, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	x, err := e.readBytes(b, TYPE_STRING, TYPE_BINARY)
	if err != nil {
		return err
	}

	y, err := e.readBytes(c, x.Type)
	if err != nil {
		return err
	}

	if len(x.Data)+len(y.Data) > MaxBinarySize {
		return errors.NewVMOutOfBoundsError("concat result too large")
	}

	out := &Var{Type: x.Type, Data: append(append(make([]byte, 0, len(x.Data)+len(y.Data)), x.Data...), y.Data...)}

	return e.Write(a, out)
}

// opMemcpy copies A = B[D : D+C].
func opMemcpy(e *Engine, inst Instruction) error {
	a, b, c, d, err := e.operands(inst)
	if err != nil {
		return err
	}

	src, err := e.readBytes(b, TYPE_STRING, TYPE_BINARY)
	if err != nil {
		return err
	}

	count, err := e.readUint(c)
	if err != nil {
		return err
	}

	offset, err := e.readUint(d)
	if err != nil {
		return err
	}

	size := uint64(len(src.Data))
	if !count.IsUint64() || !offset.IsUint64() || offset.Uint64() > size || count.Uint64() > size-offset.Uint64() {
		return errors.NewVMOutOfBoundsError("memcpy [%s:+%s] of %d bytes", offset.Dec(), count.Dec(), size)
	}

	start := offset.Uint64()

	return e.Write(a, &Var{Type: src.Type, Data: append([]byte(nil), src.Data[start:start+count.Uint64()]...)})
}

// opConv converts B into type D. C selects the textual format.
func opConv(e *Engine, inst Instruction) error {
	a, err := e.resolve(inst.A, inst.Flags, OPFLAG_REF_A)
	if err != nil {
		return err
	}

	b, err := e.resolve(inst.B, inst.Flags, OPFLAG_REF_B)
	if err != nil {
		return err
	}

	v, err := e.Read(b)
	if err != nil {
		return err
	}

	out, err := convert(v, VarType(inst.D), inst.C) //nolint:gosec // VarType is checked in convert
	if err != nil {
		return err
	}

	return e.writeOrClear(a, out)
}

func convert(v *Var, target VarType, format uint64) (*Var, error) {
	src := typeOf(v)

	switch target {
	case TYPE_TRUE, TYPE_FALSE:
		return Bool(v.IsTrue()), nil

	case TYPE_UINT:
		switch src {
		case TYPE_UINT:
			return v.Clone(), nil
		case TYPE_TRUE, TYPE_FALSE, TYPE_NIL:
			if v.IsTrue() {
				return Uint64(1), nil
			}

			return Uint64(0), nil
		case TYPE_STRING:
			var z uint256.Int

			s := string(v.Data)
			if format == CONVTYPE_BASE_16 {
				if !strings.HasPrefix(s, "0x") {
					s = "0x" + s
				}

				if err := z.SetFromHex(s); err != nil {
					return nil, errors.NewVMTypeMismatchError("invalid hex number %q", v.Data)
				}
			} else if err := z.SetFromDecimal(s); err != nil {
				return nil, errors.NewVMTypeMismatchError("invalid number %q", v.Data)
			}

			return Uint(&z), nil
		case TYPE_BINARY:
			if len(v.Data) > 32 {
				return nil, errors.NewVMOutOfBoundsError("binary too large for UINT")
			}

			var z uint256.Int
			z.SetBytes(v.Data)

			return Uint(&z), nil
		}

	case TYPE_STRING:
		switch src {
		case TYPE_STRING:
			return v.Clone(), nil
		case TYPE_UINT:
			if format == CONVTYPE_BASE_16 {
				return String(strings.TrimPrefix(v.Uint.Hex(), "0x")), nil
			}

			return String(v.Uint.Dec()), nil
		case TYPE_BINARY:
			if format == CONVTYPE_ADDRESS {
				if len(v.Data) != chainhash.HashSize {
					return nil, errors.NewVMTypeMismatchError("address must be 32 bytes")
				}

				var h chainhash.Hash
				copy(h[:], v.Data)

				return String(h.String()), nil
			}

			return String(hex.EncodeToString(v.Data)), nil
		case TYPE_TRUE, TYPE_FALSE:
			return String(v.String()), nil
		}

	case TYPE_BINARY:
		switch src {
		case TYPE_BINARY:
			return v.Clone(), nil
		case TYPE_STRING:
			switch format {
			case CONVTYPE_BASE_16:
				b, err := hex.DecodeString(string(v.Data))
				if err != nil {
					return nil, errors.NewVMTypeMismatchError("invalid hex string")
				}

				return Binary(b), nil
			case CONVTYPE_ADDRESS:
				h, err := chainhash.NewHashFromStr(string(v.Data))
				if err != nil {
					return nil, errors.NewVMTypeMismatchError("invalid address")
				}

				return Binary(h[:]), nil
			}

			return Binary(v.Data), nil
		case TYPE_UINT:
			b := v.Uint.Bytes32()
			return Binary(b[:]), nil
		}
	}

	return nil, errors.NewVMTypeMismatchError("cannot convert %s to %s", src, target)
}

func opSha256(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	v, err := e.readBytes(b, TYPE_STRING, TYPE_BINARY)
	if err != nil {
		return err
	}

	return e.Write(a, Binary(chainhash.HashB(v.Data)))
}

// opVerify sets A to whether D is a valid signature of message hash B by public key C.
func opVerify(e *Engine, inst Instruction) error {
	a, b, c, d, err := e.operands(inst)
	if err != nil {
		return err
	}

	msg, err := e.readBytes(b, TYPE_BINARY)
	if err != nil {
		return err
	}

	pub, err := e.readBytes(c, TYPE_BINARY)
	if err != nil {
		return err
	}

	sig, err := e.readBytes(d, TYPE_BINARY)
	if err != nil {
		return err
	}

	return e.Write(a, Bool(verifySignature(msg.Data, pub.Data, sig.Data)))
}

func verifySignature(msg, pubKey, signature []byte) bool {
	pub, err := bec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}

	sig, err := bec.ParseDERSignature(signature)
	if err != nil {
		return false
	}

	return sig.Verify(msg, pub)
}

func (e *Engine) chargeLog() error {
	if e.Params == nil {
		return nil
	}

	return e.Consume(e.Params.CostPerLog)
}

// opLog appends message B at level A.
func opLog(e *Engine, inst Instruction) error {
	b, err := e.resolve(inst.B, inst.Flags, OPFLAG_REF_B)
	if err != nil {
		return err
	}

	v, err := e.Read(b)
	if err != nil {
		return err
	}

	if err = e.chargeLog(); err != nil {
		return err
	}

	e.Logs = append(e.Logs, Log{Contract: e.Contract, Level: inst.A, Message: v.String()})

	return nil
}

// opEvent emits event named A carrying value B.
func opEvent(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	name, err := e.readBytes(a, TYPE_STRING)
	if err != nil {
		return err
	}

	v, err := e.Read(b)
	if err != nil {
		return err
	}

	if err = e.chargeLog(); err != nil {
		return err
	}

	e.Events = append(e.Events, Event{Contract: e.Contract, Name: string(name.Data), Data: v.KeyBytes()})

	return nil
}

func (e *Engine) readAmount(address uint64) (uint64, error) {
	amount, err := e.readUint(address)
	if err != nil {
		return 0, err
	}

	if !amount.IsUint64() || amount.IsZero() {
		return 0, errors.NewVMOutOfBoundsError("invalid amount %s", amount.Dec())
	}

	return amount.Uint64(), nil
}

func (e *Engine) readMemo(address uint64) (string, error) {
	if address == 0 {
		return "", nil
	}

	v, err := e.Read(address)
	if err != nil || v.IsNil() {
		return "", err
	}

	if v.Type != TYPE_STRING {
		return "", errors.NewVMTypeMismatchError("memo must be STRING")
	}

	if e.Params != nil && len(v.Data) > e.Params.MaxMemoLength {
		return "", errors.NewVMOutOfBoundsError("memo too long")
	}

	return string(v.Data), nil
}

// opSend transfers B of currency C from the contract to address A with optional memo D.
func opSend(e *Engine, inst Instruction) error {
	a, b, c, d, err := e.operands(inst)
	if err != nil {
		return err
	}

	address, err := e.readAddress(a)
	if err != nil {
		return err
	}

	amount, err := e.readAmount(b)
	if err != nil {
		return err
	}

	currency, err := e.readAddress(c)
	if err != nil {
		return err
	}

	memo, err := e.readMemo(d)
	if err != nil {
		return err
	}

	if e.balanceOf(currency) < amount {
		return errors.NewVMFailError("insufficient funds: need %d of %s", amount, currency)
	}

	e.spent[currency] += amount
	e.Outputs = append(e.Outputs, Output{Address: address, Currency: currency, Amount: amount, Memo: memo})

	return nil
}

// opMint creates B of the contract's own token for address A with optional memo C.
func opMint(e *Engine, inst Instruction) error {
	a, b, c, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	address, err := e.readAddress(a)
	if err != nil {
		return err
	}

	amount, err := e.readAmount(b)
	if err != nil {
		return err
	}

	memo, err := e.readMemo(c)
	if err != nil {
		return err
	}

	e.Mints = append(e.Mints, Output{Address: address, Currency: e.Contract, Amount: amount, Memo: memo})

	return nil
}

func (e *Engine) balanceOf(currency chainhash.Hash) uint64 {
	if e.Balance == nil {
		return 0
	}

	total := e.Balance(currency)
	if spent := e.spent[currency]; spent < total {
		return total - spent
	}

	return 0
}

func opBalance(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	currency, err := e.readAddress(b)
	if err != nil {
		return err
	}

	return e.Write(a, Uint64(e.balanceOf(currency)))
}

// opRcall calls method B of contract A. Arguments are read from the stack at C+1 .. C+D,
// the return value is written to C.
func opRcall(e *Engine, inst Instruction) error {
	a, err := e.resolve(inst.A, inst.Flags, OPFLAG_REF_A)
	if err != nil {
		return err
	}

	b, err := e.resolve(inst.B, inst.Flags, OPFLAG_REF_B)
	if err != nil {
		return err
	}

	address, err := e.readAddress(a)
	if err != nil {
		return err
	}

	method, err := e.readBytes(b, TYPE_STRING)
	if err != nil {
		return err
	}

	if e.RemoteCall == nil {
		return errors.NewVMInvalidOperationError("remote calls not available")
	}

	if e.Depth+1 >= e.maxCallDepth() {
		return errors.NewVMInvalidOperationError("remote call depth exceeded")
	}

	if e.OnCallStack(address) {
		return errors.NewVMInvalidOperationError("reentrant call into %s", address)
	}

	if e.Params != nil {
		if err = e.Consume(e.Params.CostPerCall); err != nil {
			return err
		}
	}

	base := e.stackRelative(MEM_STACK + inst.C)
	if !isStack(base) || inst.D > STACK_FRAME_SIZE {
		return errors.NewVMOutOfBoundsError("invalid remote call frame")
	}

	args := make([]*Var, 0, inst.D)

	for i := uint64(1); i <= inst.D; i++ {
		v, err := e.Read(base + i)
		if err != nil {
			return err
		}

		if v != nil && (v.Type == TYPE_REF || v.Type == TYPE_ARRAY || v.Type == TYPE_MAP) {
			return errors.NewVMTypeMismatchError("remote call argument %d is a reference", i)
		}

		args = append(args, v.Clone())
	}

	result, gas, err := e.RemoteCall(e, address, string(method.Data), args)
	if cerr := e.Consume(gas); cerr != nil {
		return cerr
	}

	if err != nil {
		return err
	}

	if result != nil && (result.Type == TYPE_REF || result.Type == TYPE_ARRAY || result.Type == TYPE_MAP) {
		return errors.NewVMTypeMismatchError("remote call returned a reference")
	}

	return e.writeOrClear(base, result)
}

func (e *Engine) failMessage(address uint64) string {
	if address == 0 {
		return ""
	}

	v, err := e.Read(address)
	if err != nil || v.IsNil() {
		return ""
	}

	return v.String()
}

// opFail aborts execution with message A and error code B.
func opFail(e *Engine, inst Instruction) error {
	a, err := e.resolve(inst.A, inst.Flags, OPFLAG_REF_A)
	if err != nil {
		return err
	}

	return &ExecError{Code: inst.B, Message: e.failMessage(a)}
}

// opAssert fails with message B and code C unless A is true.
func opAssert(e *Engine, inst Instruction) error {
	a, b, _, _, err := e.operands(inst)
	if err != nil {
		return err
	}

	v, err := e.Read(a)
	if err != nil {
		return err
	}

	if v.IsTrue() {
		return nil
	}

	msg := e.failMessage(b)
	if msg == "" {
		msg = "assertion failed"
	}

	return &ExecError{Code: inst.C, Message: msg}
}

func (e *Engine) maxCallDepth() int {
	if e.Params == nil || e.Params.MaxCallDepth == 0 {
		return 16
	}

	return e.Params.MaxCallDepth
}
