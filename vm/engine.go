package vm

import (
	"math"
	"sort"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/holiman/uint256"
	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

// Output is a currency transfer or mint produced by SEND or MINT.
type Output struct {
	Address  chainhash.Hash
	Currency chainhash.Hash
	Amount   uint64
	Memo     string
}

type Log struct {
	Contract chainhash.Hash
	Level    uint64
	Message  string
}

type Event struct {
	Contract chainhash.Hash
	Name     string
	Data     []byte
}

// RemoteCallFunc executes method on another contract on behalf of the calling engine.
// It returns the method's return value and the gas it consumed.
type RemoteCallFunc func(caller *Engine, address chainhash.Hash, method string, args []*Var) (*Var, uint64, error)

// BalanceFunc returns the contract's spendable balance of currency when execution started.
type BalanceFunc func(currency chainhash.Hash) uint64

type entryKey struct {
	address uint64
	key     uint64
}

type frame struct {
	ip       uint64
	stackPtr uint64
}

// Engine executes one method invocation of one contract. It is not safe for concurrent use.
// All writes stay in the engine until Commit, so a failed execution leaves Storage untouched.
type Engine struct {
	Contract chainhash.Hash
	Storage  Storage
	Params   *chaincfg.Params
	GasLimit uint64
	GasUsed  uint64
	Depth    int

	// Callers are the contracts of the engines waiting on this one, outermost first.
	// A contract on this list has uncommitted writes and cannot be entered again.
	Callers []chainhash.Hash

	RemoteCall RemoteCallFunc
	Balance    BalanceFunc

	Outputs []Output
	Mints   []Output
	Logs    []Log
	Events  []Event

	program *Program
	memory  map[uint64]*Var
	entries map[entryKey]*Var
	keys    map[string]uint64
	frames  []frame
	spent   map[chainhash.Hash]uint64
	done    bool
}

func NewEngine(contract chainhash.Hash, program *Program, storage Storage, params *chaincfg.Params, gasLimit uint64) *Engine {
	e := &Engine{
		Contract: contract,
		Storage:  storage,
		Params:   params,
		GasLimit: gasLimit,
		program:  program,
		memory:   make(map[uint64]*Var),
		entries:  make(map[entryKey]*Var),
		keys:     make(map[string]uint64),
		spent:    make(map[chainhash.Hash]uint64),
	}

	if program != nil {
		for i, c := range program.Constants {
			v := c.Clone()
			v.Flags = FLAG_CONST
			e.memory[MEM_CONST+uint64(i)] = v
		}
	}

	e.memory[EXTERN_ADDRESS] = constVar(Binary(contract[:]))

	if params != nil {
		e.memory[EXTERN_NETWORK] = constVar(String(params.Name))
	}

	return e
}

// OnCallStack reports whether address is this contract or one of its callers.
func (e *Engine) OnCallStack(address chainhash.Hash) bool {
	if address == e.Contract {
		return true
	}

	for _, c := range e.Callers {
		if c == address {
			return true
		}
	}

	return false
}

// CallStack returns the callers of an engine invoked from e.
func (e *Engine) CallStack() []chainhash.Hash {
	callers := make([]chainhash.Hash, 0, len(e.Callers)+1)
	callers = append(callers, e.Callers...)

	return append(callers, e.Contract)
}

func constVar(v *Var) *Var {
	v.Flags |= FLAG_CONST
	return v
}

// SetExtern sets a read-only environment slot.
func (e *Engine) SetExtern(slot uint64, v *Var) error {
	if !isExtern(slot) {
		return errors.NewVMInvalidOperationError("not an extern slot: 0x%x", slot)
	}

	e.memory[slot] = constVar(v.Clone())

	return nil
}

func (e *Engine) SetHeight(height uint32) {
	e.memory[EXTERN_HEIGHT] = constVar(Uint64(uint64(height)))
}

func (e *Engine) SetTxID(txid chainhash.Hash) {
	e.memory[EXTERN_TXID] = constVar(Binary(txid[:]))
}

func (e *Engine) SetUser(user *chainhash.Hash) {
	if user == nil {
		e.memory[EXTERN_USER] = constVar(Nil())
		return
	}

	e.memory[EXTERN_USER] = constVar(Binary(user[:]))
}

func (e *Engine) SetDeposit(currency chainhash.Hash, amount uint64) {
	e.memory[EXTERN_DEPOSIT_CURRENCY] = constVar(Binary(currency[:]))
	e.memory[EXTERN_DEPOSIT_AMOUNT] = constVar(Uint64(amount))
}

// Consume charges gas and fails once the limit is exceeded.
func (e *Engine) Consume(gas uint64) error {
	if gas > math.MaxUint64-e.GasUsed || e.GasUsed+gas > e.GasLimit {
		e.GasUsed = e.GasLimit
		return errors.NewVMOutOfGasError("out of gas: limit %d", e.GasLimit)
	}

	e.GasUsed += gas

	return nil
}

func (e *Engine) GasLeft() uint64 {
	return e.GasLimit - e.GasUsed
}

func (e *Engine) readCost(v *Var) uint64 {
	if e.Params == nil {
		return 0
	}

	return v.NumBytes() * e.Params.CostPerByteRead
}

func (e *Engine) writeCost(v *Var) uint64 {
	if e.Params == nil {
		return 0
	}

	return v.NumBytes() * e.Params.CostPerByteWrite
}

func (e *Engine) currentFrame() *frame {
	return &e.frames[len(e.frames)-1]
}

// resolve maps an operand to an absolute address. Stack addresses are relative to the
// current frame, OPFLAG_REF_* operands are dereferenced first.
func (e *Engine) resolve(address uint64, flags, refFlag uint16) (uint64, error) {
	address = e.stackRelative(address)

	if flags&refFlag != 0 {
		v, err := e.Read(address)
		if err != nil {
			return 0, err
		}

		switch {
		case v == nil:
			return 0, errors.NewVMTypeMismatchError("dereference of NIL at 0x%x", address)
		case v.Type == TYPE_REF:
			address = v.Address
		case v.Type == TYPE_UINT && v.Uint.IsUint64():
			address = e.stackRelative(v.Uint.Uint64())
		default:
			return 0, errors.NewVMTypeMismatchError("dereference of %s at 0x%x", v.Type, address)
		}
	}

	return address, nil
}

func (e *Engine) stackRelative(address uint64) uint64 {
	if isStack(address) && len(e.frames) > 0 {
		return address + e.currentFrame().stackPtr
	}

	return address
}

// Read returns the value at address, loading it from Storage for persistent addresses.
// Uninitialized memory reads as nil.
func (e *Engine) Read(address uint64) (*Var, error) {
	if v, ok := e.memory[address]; ok {
		if v.Flags&FLAG_DELETED != 0 {
			return nil, nil
		}

		return v, nil
	}

	if !isPersistent(address) || e.Storage == nil {
		return nil, nil
	}

	v, err := e.Storage.Read(e.Contract, address)
	if err != nil {
		return nil, errors.NewStorageError("read 0x%x", address, err)
	}

	if v == nil {
		return nil, nil
	}

	if err = e.Consume(e.readCost(v)); err != nil {
		return nil, err
	}

	v.Flags |= FLAG_STORED
	e.memory[address] = v

	if v.Flags&FLAG_KEY != 0 {
		e.keys[string(v.KeyBytes())] = address
	}

	return v, nil
}

func (e *Engine) readUint(address uint64) (*uint256.Int, error) {
	v, err := e.Read(address)
	if err != nil {
		return nil, err
	}

	if v == nil || v.Type != TYPE_UINT {
		return nil, errors.NewVMTypeMismatchError("expected UINT at 0x%x, got %s", address, typeOf(v))
	}

	return &v.Uint, nil
}

func (e *Engine) readBytes(address uint64, types ...VarType) (*Var, error) {
	v, err := e.Read(address)
	if err != nil {
		return nil, err
	}

	if v != nil {
		for _, t := range types {
			if v.Type == t {
				return v, nil
			}
		}
	}

	return nil, errors.NewVMTypeMismatchError("expected %v at 0x%x, got %s", types, address, typeOf(v))
}

func (e *Engine) readAddress(address uint64) (chainhash.Hash, error) {
	v, err := e.readBytes(address, TYPE_BINARY)
	if err != nil {
		return chainhash.Hash{}, err
	}

	if len(v.Data) != chainhash.HashSize {
		return chainhash.Hash{}, errors.NewVMTypeMismatchError("expected 32 byte address at 0x%x", address)
	}

	var h chainhash.Hash
	copy(h[:], v.Data)

	return h, nil
}

func typeOf(v *Var) VarType {
	if v == nil {
		return TYPE_NIL
	}

	return v.Type
}

// Write assigns value to address. REF values add a reference to their target, the value
// being replaced drops its own.
func (e *Engine) Write(address uint64, value *Var) error {
	if isConst(address) || isExtern(address) {
		return errors.NewVMInvalidOperationError("write to read-only memory 0x%x", address)
	}

	old, err := e.Read(address)
	if err != nil {
		return err
	}

	v := value.Clone()
	if v.Type == TYPE_ARRAY || v.Type == TYPE_MAP {
		if v.Address != address {
			// containers are never copied by value
			v = Ref(v.Address)
		}
	}

	if old != nil {
		v.RefCount = old.RefCount
		v.Flags = old.Flags & (FLAG_STORED | FLAG_KEY)
	} else {
		v.RefCount = 0
		v.Flags = 0
	}

	if v.Type == TYPE_REF {
		if err = e.addRef(v.Address); err != nil {
			return err
		}
	}

	v.Flags |= FLAG_DIRTY
	e.memory[address] = v

	if old != nil && old.Type == TYPE_REF {
		return e.unRef(old.Address)
	}

	return nil
}

// clear sets address to NIL, releasing whatever it referenced.
func (e *Engine) clear(address uint64) error {
	old, err := e.Read(address)
	if err != nil || old == nil {
		return err
	}

	if isPersistent(address) {
		e.memory[address] = &Var{Type: TYPE_NIL, Flags: FLAG_DIRTY | FLAG_DELETED | (old.Flags & FLAG_STORED)}
	} else {
		delete(e.memory, address)
	}

	if old.Type == TYPE_REF {
		return e.unRef(old.Address)
	}

	return nil
}

func (e *Engine) readEntry(address, key uint64) (*Var, error) {
	ek := entryKey{address, key}
	if v, ok := e.entries[ek]; ok {
		if v.Flags&FLAG_DELETED != 0 {
			return nil, nil
		}

		return v, nil
	}

	if !isPersistent(address) || e.Storage == nil {
		return nil, nil
	}

	v, err := e.Storage.ReadEntry(e.Contract, address, key)
	if err != nil {
		return nil, errors.NewStorageError("read entry 0x%x[%d]", address, key, err)
	}

	if v == nil {
		return nil, nil
	}

	if err = e.Consume(e.readCost(v)); err != nil {
		return nil, err
	}

	v.Flags |= FLAG_STORED
	e.entries[ek] = v

	return v, nil
}

func (e *Engine) writeEntry(address, key uint64, value *Var) error {
	old, err := e.readEntry(address, key)
	if err != nil {
		return err
	}

	v := value.Clone()
	v.RefCount = 0
	v.Flags = FLAG_DIRTY

	if v.Type == TYPE_ARRAY || v.Type == TYPE_MAP {
		v = Ref(v.Address)
		v.Flags = FLAG_DIRTY
	}

	if old != nil {
		v.Flags |= old.Flags & FLAG_STORED
	}

	if v.Type == TYPE_REF {
		if err = e.addRef(v.Address); err != nil {
			return err
		}
	}

	// every live map entry holds a reference to its key cell
	if old == nil && e.isMap(address) {
		if err = e.addRef(key); err != nil {
			return err
		}
	}

	e.entries[entryKey{address, key}] = v

	if old != nil && old.Type == TYPE_REF {
		return e.unRef(old.Address)
	}

	return nil
}

func (e *Engine) clearEntry(address, key uint64) error {
	old, err := e.readEntry(address, key)
	if err != nil || old == nil {
		return err
	}

	e.entries[entryKey{address, key}] = &Var{Type: TYPE_NIL, Flags: FLAG_DIRTY | FLAG_DELETED | (old.Flags & FLAG_STORED)}

	if old.Type == TYPE_REF {
		if err = e.unRef(old.Address); err != nil {
			return err
		}
	}

	if e.isMap(address) {
		return e.unRef(key)
	}

	return nil
}

func (e *Engine) isMap(address uint64) bool {
	v, ok := e.memory[address]
	return ok && v.Type == TYPE_MAP && v.Flags&FLAG_DELETED == 0
}

// alloc reserves a fresh heap address.
func (e *Engine) alloc() (uint64, error) {
	ptr := MEM_HEAP

	v, err := e.Read(STATIC_HEAP_PTR)
	if err != nil {
		return 0, err
	}

	if v != nil {
		if v.Type != TYPE_UINT || !v.Uint.IsUint64() {
			return 0, errors.NewVMTypeMismatchError("corrupt heap pointer")
		}

		ptr = v.Uint.Uint64()
	}

	next := Uint64(ptr + 1)
	if v != nil {
		next.Flags = v.Flags & FLAG_STORED
	}

	next.Flags |= FLAG_DIRTY
	e.memory[STATIC_HEAP_PTR] = next

	return ptr, nil
}

func (e *Engine) addRef(address uint64) error {
	cell, err := e.Read(address)
	if err != nil {
		return err
	}

	if cell == nil {
		return errors.NewVMRefCountError("reference to unallocated cell 0x%x", address)
	}

	if cell.RefCount == math.MaxUint32 {
		return errors.NewVMRefCountError("reference count overflow at 0x%x", address)
	}

	cell.RefCount++
	cell.Flags |= FLAG_DIRTY

	return nil
}

// unRef drops one reference from the cell at address. When the count hits zero the cell is
// released together with everything it references.
func (e *Engine) unRef(address uint64) error {
	cell, err := e.Read(address)
	if err != nil {
		return err
	}

	if cell == nil || cell.RefCount == 0 {
		return errors.NewVMRefCountError("reference count underflow at 0x%x", address)
	}

	cell.RefCount--
	cell.Flags |= FLAG_DIRTY

	if cell.RefCount == 0 {
		return e.release(address, cell)
	}

	return nil
}

func (e *Engine) release(address uint64, cell *Var) error {
	switch cell.Type {
	case TYPE_ARRAY:
		for i := uint64(0); i < cell.Size; i++ {
			if err := e.clearEntry(address, i); err != nil {
				return err
			}
		}
	case TYPE_MAP:
		keys, err := e.entryKeys(address)
		if err != nil {
			return err
		}

		for _, key := range keys {
			if err = e.clearEntry(address, key); err != nil {
				return err
			}
		}
	case TYPE_REF:
		if err := e.unRef(cell.Address); err != nil {
			return err
		}
	}

	if cell.Flags&FLAG_KEY != 0 {
		delete(e.keys, string(cell.KeyBytes()))
	}

	e.memory[address] = &Var{Type: TYPE_NIL, Flags: FLAG_DIRTY | FLAG_DELETED | (cell.Flags & FLAG_STORED)}

	return nil
}

// entryKeys lists the live keys of a container, both stored and pending.
func (e *Engine) entryKeys(address uint64) ([]uint64, error) {
	seen := make(map[uint64]struct{})

	if isPersistent(address) && e.Storage != nil {
		stored, err := e.Storage.ReadEntries(e.Contract, address)
		if err != nil {
			return nil, errors.NewStorageError("read entries 0x%x", address, err)
		}

		for _, entry := range stored {
			ek := entryKey{address, entry.Key}
			if _, ok := e.entries[ek]; !ok {
				entry.Value.Flags |= FLAG_STORED
				e.entries[ek] = entry.Value
			}
		}
	}

	for ek, v := range e.entries {
		if ek.address == address && v.Flags&FLAG_DELETED == 0 {
			seen[ek.key] = struct{}{}
		}
	}

	keys := make([]uint64, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return keys, nil
}

// storedKey returns the address of the stored key var equal to value, or zero when there is
// none or it was released by this engine.
func (e *Engine) storedKey(value *Var) (uint64, error) {
	if e.Storage == nil {
		return 0, nil
	}

	address, err := e.Storage.Lookup(e.Contract, value)
	if err != nil {
		return 0, errors.NewStorageError("lookup", err)
	}

	if v, ok := e.memory[address]; ok && v.Flags&FLAG_DELETED != 0 {
		return 0, nil
	}

	return address, nil
}

// lookupKey returns the address of the immutable key var equal to value, creating it when needed.
func (e *Engine) lookupKey(value *Var) (uint64, error) {
	switch typeOf(value) {
	case TYPE_NIL, TYPE_REF, TYPE_ARRAY, TYPE_MAP:
		return 0, errors.NewVMTypeMismatchError("invalid map key type %s", typeOf(value))
	}

	kb := string(value.KeyBytes())
	if address, ok := e.keys[kb]; ok {
		return address, nil
	}

	address, err := e.storedKey(value)
	if err != nil {
		return 0, err
	}

	if address != 0 {
		e.keys[kb] = address
		return address, nil
	}

	address, err = e.alloc()
	if err != nil {
		return 0, err
	}

	key := value.Clone()
	key.RefCount = 0
	key.Flags = FLAG_KEY | FLAG_CONST | FLAG_DIRTY
	e.memory[address] = key
	e.keys[kb] = address

	return address, nil
}

// container resolves address to the ARRAY or MAP cell it holds or references.
func (e *Engine) container(address uint64) (*Var, error) {
	v, err := e.Read(address)
	if err != nil {
		return nil, err
	}

	if v != nil && v.Type == TYPE_REF {
		if v, err = e.Read(v.Address); err != nil {
			return nil, err
		}
	}

	if v == nil || (v.Type != TYPE_ARRAY && v.Type != TYPE_MAP) {
		return nil, errors.NewVMTypeMismatchError("expected ARRAY or MAP at 0x%x, got %s", address, typeOf(v))
	}

	return v, nil
}

// entryIndex maps a GET / SET key operand onto the entry key of cell.
func (e *Engine) entryIndex(cell *Var, key *Var, create bool) (uint64, bool, error) {
	if cell.Type == TYPE_ARRAY {
		if key == nil || key.Type != TYPE_UINT {
			return 0, false, errors.NewVMTypeMismatchError("array index must be UINT, got %s", typeOf(key))
		}

		if !key.Uint.IsUint64() || key.Uint.Uint64() >= cell.Size {
			return 0, false, errors.NewVMOutOfBoundsError("array index %s >= size %d", key.Uint.Dec(), cell.Size)
		}

		return key.Uint.Uint64(), true, nil
	}

	if !create {
		kb := string(key.KeyBytes())
		if address, ok := e.keys[kb]; ok {
			return address, true, nil
		}

		switch typeOf(key) {
		case TYPE_NIL, TYPE_REF, TYPE_ARRAY, TYPE_MAP:
			return 0, false, errors.NewVMTypeMismatchError("invalid map key type %s", typeOf(key))
		}

		address, err := e.storedKey(key)
		if err != nil {
			return 0, false, err
		}

		if address == 0 {
			return 0, false, nil
		}

		e.keys[kb] = address

		return address, true, nil
	}

	address, err := e.lookupKey(key)

	return address, err == nil, err
}

// clearStack releases everything still referenced from the stack.
func (e *Engine) clearStack() error {
	addresses := make([]uint64, 0)

	for address := range e.memory {
		if isStack(address) {
			addresses = append(addresses, address)
		}
	}

	sort.Slice(addresses, func(i, j int) bool { return addresses[i] < addresses[j] })

	for _, address := range addresses {
		if err := e.clear(address); err != nil {
			return err
		}
	}

	return nil
}

type pendingWrite struct {
	address uint64
	key     uint64
	entry   bool
	value   *Var
}

// dirty lists pending persistent writes in a deterministic order.
func (e *Engine) dirty() []pendingWrite {
	writes := make([]pendingWrite, 0)

	for address, v := range e.memory {
		if isPersistent(address) && v.Flags&FLAG_DIRTY != 0 {
			if v.Flags&FLAG_DELETED != 0 && v.Flags&FLAG_STORED == 0 {
				continue
			}

			writes = append(writes, pendingWrite{address: address, value: v})
		}
	}

	for ek, v := range e.entries {
		if isPersistent(ek.address) && v.Flags&FLAG_DIRTY != 0 {
			if v.Flags&FLAG_DELETED != 0 && v.Flags&FLAG_STORED == 0 {
				continue
			}

			writes = append(writes, pendingWrite{address: ek.address, key: ek.key, entry: true, value: v})
		}
	}

	sort.Slice(writes, func(i, j int) bool {
		a, b := writes[i], writes[j]
		if a.entry != b.entry {
			return !a.entry
		}

		if a.address != b.address {
			return a.address < b.address
		}

		return a.key < b.key
	})

	return writes
}

// Commit flushes all pending writes to Storage. The write cost is charged up front so that
// running out of gas never leaves a partial write behind.
func (e *Engine) Commit() error {
	writes := e.dirty()

	var total uint64

	for _, w := range writes {
		total += e.writeCost(w.value)
	}

	if err := e.Consume(total); err != nil {
		return err
	}

	for _, w := range writes {
		var value *Var
		if w.value.Flags&FLAG_DELETED == 0 {
			value = w.value.Clone()
			value.Flags = w.value.Flags & FLAG_KEY
		}

		var err error
		if w.entry {
			err = e.Storage.WriteEntry(e.Contract, w.address, w.key, value)
		} else {
			err = e.Storage.Write(e.Contract, w.address, value)
		}

		if err != nil {
			return errors.NewStorageError("commit 0x%x", w.address, err)
		}

		w.value.Flags &^= FLAG_DIRTY
		w.value.Flags |= FLAG_STORED
	}

	return nil
}

// NumPendingWrites is the number of persistent cells Commit would write.
func (e *Engine) NumPendingWrites() int {
	return len(e.dirty())
}
