package model

import (
	"bytes"
	"sort"

	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
)

// Contract is something deployed at an address. Funds sent to an address without a
// contract belong to the public key hashing to it.
type Contract interface {
	// IsValid checks the contract on its own, before it is deployed.
	IsValid(params *chaincfg.Params) error
	// Dependencies are the addresses this contract delegates ownership or calls to.
	Dependencies() []Addr
	isContract()
	write(e *encoder)
}

const (
	contractPubKey uint8 = iota + 1
	contractMultiSig
	contractTimeLock
	contractPuzzleLock
	contractToken
	contractExecutable
	contractVirtualPlot
	contractPlotNFT
)

const (
	maxNameLength   = 64
	maxSymbolLength = 8
	maxDecimals     = 18
)

type PubKey struct {
	PubKey []byte
}

type MultiSig struct {
	NumRequired int
	Owners      []Addr
}

// TimeLock is owned by Owner once the chain reaches UnlockHeight.
type TimeLock struct {
	Owner        Addr
	UnlockHeight uint32
}

// PuzzleLock can be spent by whoever reveals the preimage of PuzzleHash, or by Owner.
type PuzzleLock struct {
	Owner      Addr
	PuzzleHash Hash
}

// Token is a currency. Its address is the currency id, only Owner may mint it.
type Token struct {
	Name     string
	Symbol   string
	Decimals uint8
	Owner    *Addr
}

// Executable is a contract with code. It is also a currency its code can MINT.
type Executable struct {
	Owner      *Addr
	Code       []vm.Instruction
	Constants  []*vm.Var
	Fields     map[string]uint64
	Methods    map[string]vm.Method
	InitMethod string
	InitArgs   []*vm.Var
	Depends    map[string]Addr
}

// VirtualPlot lets FarmerKey farm with the deposited balance instead of physical space.
type VirtualPlot struct {
	FarmerKey []byte
	Reward    *Addr
}

// PlotNFT is a plot owner identity, block rewards farmed with it go to Target when set.
type PlotNFT struct {
	Owner        Addr
	Target       *Addr
	UnlockHeight uint32
}

func (c *PubKey) isContract()      {}
func (c *MultiSig) isContract()    {}
func (c *TimeLock) isContract()    {}
func (c *PuzzleLock) isContract()  {}
func (c *Token) isContract()       {}
func (c *Executable) isContract()  {}
func (c *VirtualPlot) isContract() {}
func (c *PlotNFT) isContract()     {}

func (c *PubKey) IsValid(_ *chaincfg.Params) error {
	if _, err := bec.ParsePubKey(c.PubKey); err != nil {
		return errors.NewContractInvalidError("invalid public key", err)
	}

	return nil
}

func (c *MultiSig) IsValid(_ *chaincfg.Params) error {
	if c.NumRequired < 1 || c.NumRequired > len(c.Owners) {
		return errors.NewContractInvalidError("multisig requires %d of %d owners", c.NumRequired, len(c.Owners))
	}

	seen := make(map[Addr]struct{}, len(c.Owners))
	for _, owner := range c.Owners {
		if _, ok := seen[owner]; ok {
			return errors.NewContractInvalidError("duplicate multisig owner %s", owner)
		}

		seen[owner] = struct{}{}
	}

	return nil
}

func (c *TimeLock) IsValid(_ *chaincfg.Params) error {
	return nil
}

func (c *PuzzleLock) IsValid(_ *chaincfg.Params) error {
	return nil
}

func (c *Token) IsValid(_ *chaincfg.Params) error {
	if len(c.Name) > maxNameLength {
		return errors.NewContractInvalidError("token name too long")
	}

	if len(c.Symbol) == 0 || len(c.Symbol) > maxSymbolLength {
		return errors.NewContractInvalidError("invalid token symbol %q", c.Symbol)
	}

	if c.Decimals > maxDecimals {
		return errors.NewContractInvalidError("token decimals %d > %d", c.Decimals, maxDecimals)
	}

	return nil
}

func (c *Executable) IsValid(params *chaincfg.Params) error {
	if len(c.Code) == 0 {
		return errors.NewContractInvalidError("executable without code")
	}

	for name, m := range c.Methods {
		if name != m.Name {
			return errors.NewContractInvalidError("method %q registered as %q", m.Name, name)
		}

		if m.EntryPoint >= uint64(len(c.Code)) {
			return errors.NewContractInvalidError("method %s entry point %d out of range", name, m.EntryPoint)
		}

		if uint64(m.NumArgs) >= vm.STACK_FRAME_SIZE {
			return errors.NewContractInvalidError("method %s takes too many args", name)
		}
	}

	if c.InitMethod != "" {
		m, ok := c.Methods[c.InitMethod]
		if !ok {
			return errors.NewContractInvalidError("init method %s not found", c.InitMethod)
		}

		if m.NumArgs != len(c.InitArgs) {
			return errors.NewContractInvalidError("init method %s expects %d args, got %d", c.InitMethod, m.NumArgs, len(c.InitArgs))
		}
	} else if len(c.InitArgs) > 0 {
		return errors.NewContractInvalidError("init args without init method")
	}

	if uint64(len(c.Constants)) > vm.MEM_EXTERN-vm.MEM_CONST {
		return errors.NewContractInvalidError("too many constants")
	}

	for name, addr := range c.Fields {
		if addr < vm.STATIC_FIELDS || addr >= vm.MEM_HEAP {
			return errors.NewContractInvalidError("field %s at 0x%x outside static memory", name, addr)
		}
	}

	return nil
}

// Program is the code the vm runs for this contract.
func (c *Executable) Program() *vm.Program {
	return &vm.Program{Code: c.Code, Constants: c.Constants, Methods: c.Methods}
}

func (c *VirtualPlot) IsValid(_ *chaincfg.Params) error {
	if _, err := bec.ParsePubKey(c.FarmerKey); err != nil {
		return errors.NewContractInvalidError("invalid farmer key", err)
	}

	return nil
}

func (c *PlotNFT) IsValid(_ *chaincfg.Params) error {
	return nil
}

func (c *PubKey) Dependencies() []Addr { return nil }

func (c *MultiSig) Dependencies() []Addr { return c.Owners }

func (c *TimeLock) Dependencies() []Addr { return []Addr{c.Owner} }

func (c *PuzzleLock) Dependencies() []Addr { return []Addr{c.Owner} }

func (c *Token) Dependencies() []Addr {
	if c.Owner == nil {
		return nil
	}

	return []Addr{*c.Owner}
}

func (c *Executable) Dependencies() []Addr {
	var deps []Addr
	if c.Owner != nil {
		deps = append(deps, *c.Owner)
	}

	for _, name := range sortedKeys(c.Depends) {
		deps = append(deps, c.Depends[name])
	}

	return deps
}

func (c *VirtualPlot) Dependencies() []Addr { return nil }

func (c *PlotNFT) Dependencies() []Addr { return []Addr{c.Owner} }

// ContractLookup returns the contract at addr, or nil when nothing is deployed there.
type ContractLookup func(addr Addr) (Contract, error)

// ValidateOwner checks that sol proves ownership of addr at height. Solutions must already
// have passed Verify. Ownership delegation is followed at most params.MaxContractDepth deep.
func ValidateOwner(params *chaincfg.Params, lookup ContractLookup, addr Addr, sol Solution, height uint32) error {
	return validateOwner(params, lookup, addr, sol, height, 0)
}

func validateOwner(params *chaincfg.Params, lookup ContractLookup, addr Addr, sol Solution, height uint32, depth int) error {
	if depth > params.MaxContractDepth {
		return errors.NewContractInvalidError("ownership of %s nested too deep", addr)
	}

	if sol == nil {
		return errors.NewSignatureInvalidError("missing solution for %s", addr)
	}

	contract, err := lookup(addr)
	if err != nil {
		return err
	}

	delegate := func(owner Addr) error {
		return validateOwner(params, lookup, owner, sol, height, depth+1)
	}

	switch c := contract.(type) {
	case nil:
		s, ok := sol.(*PubKeySolution)
		if !ok {
			return errors.NewSignatureInvalidError("%s needs a signature", addr)
		}

		owner, err := s.Address()
		if err != nil {
			return err
		}

		if owner != addr {
			return errors.NewSignatureInvalidError("key of %s cannot spend %s", owner, addr)
		}

		return nil
	case *PubKey:
		s, ok := sol.(*PubKeySolution)
		if !ok || !bytes.Equal(s.PubKey, c.PubKey) {
			return errors.NewSignatureInvalidError("%s needs a signature of its key", addr)
		}

		return nil
	case *MultiSig:
		s, ok := sol.(*MultiSigSolution)
		if !ok {
			return errors.NewSignatureInvalidError("%s needs a multisig solution", addr)
		}

		count := 0
		for _, owner := range c.Owners {
			if _, ok := s.Solutions[owner]; ok {
				count++
			}
		}

		if count < c.NumRequired {
			return errors.NewSignatureInvalidError("%s has %d of %d required signatures", addr, count, c.NumRequired)
		}

		return nil
	case *TimeLock:
		if height < c.UnlockHeight {
			return errors.NewSignatureInvalidError("%s locked until height %d", addr, c.UnlockHeight)
		}

		return delegate(c.Owner)
	case *PuzzleLock:
		if s, ok := sol.(*PuzzleSolution); ok {
			if s.Hash() != c.PuzzleHash {
				return errors.NewSignatureInvalidError("wrong puzzle solution for %s", addr)
			}

			return nil
		}

		return delegate(c.Owner)
	case *Token:
		if c.Owner == nil {
			return errors.NewSignatureInvalidError("token %s has no owner", addr)
		}

		return delegate(*c.Owner)
	case *Executable:
		if c.Owner == nil {
			return errors.NewSignatureInvalidError("contract %s has no owner", addr)
		}

		return delegate(*c.Owner)
	case *VirtualPlot:
		s, ok := sol.(*PubKeySolution)
		if !ok || !bytes.Equal(s.PubKey, c.FarmerKey) {
			return errors.NewSignatureInvalidError("%s needs a signature of its farmer key", addr)
		}

		return nil
	case *PlotNFT:
		return delegate(c.Owner)
	default:
		return errors.NewContractInvalidError("unknown contract type %T at %s", contract, addr)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func writeOptAddr(e *encoder, a *Addr) {
	e.optHash(a)
}

func (c *PubKey) write(e *encoder) {
	e.u8(contractPubKey)
	e.varBytes(c.PubKey)
}

func (c *MultiSig) write(e *encoder) {
	e.u8(contractMultiSig)
	e.varint(uint64(c.NumRequired))
	e.varint(uint64(len(c.Owners)))

	for _, owner := range c.Owners {
		e.hash(owner)
	}
}

func (c *TimeLock) write(e *encoder) {
	e.u8(contractTimeLock)
	e.hash(c.Owner)
	e.u32(c.UnlockHeight)
}

func (c *PuzzleLock) write(e *encoder) {
	e.u8(contractPuzzleLock)
	e.hash(c.Owner)
	e.hash(c.PuzzleHash)
}

func (c *Token) write(e *encoder) {
	e.u8(contractToken)
	e.str(c.Name)
	e.str(c.Symbol)
	e.u8(c.Decimals)
	writeOptAddr(e, c.Owner)
}

func (c *Executable) write(e *encoder) {
	e.u8(contractExecutable)
	writeOptAddr(e, c.Owner)

	e.varint(uint64(len(c.Code)))

	for _, inst := range c.Code {
		e.u8(uint8(inst.Code))
		e.u16(inst.Flags)
		e.varint(inst.A)
		e.varint(inst.B)
		e.varint(inst.C)
		e.varint(inst.D)
	}

	e.vars(c.Constants)

	e.varint(uint64(len(c.Fields)))

	for _, name := range sortedKeys(c.Fields) {
		e.str(name)
		e.varint(c.Fields[name])
	}

	e.varint(uint64(len(c.Methods)))

	for _, name := range sortedKeys(c.Methods) {
		m := c.Methods[name]
		e.str(m.Name)
		e.varint(m.EntryPoint)
		e.varint(uint64(m.NumArgs))
		e.boolean(m.IsConst)
		e.boolean(m.IsPublic)
		e.boolean(m.IsPayable)
	}

	e.str(c.InitMethod)
	e.vars(c.InitArgs)

	e.varint(uint64(len(c.Depends)))

	for _, name := range sortedKeys(c.Depends) {
		e.str(name)
		e.hash(c.Depends[name])
	}
}

func (c *VirtualPlot) write(e *encoder) {
	e.u8(contractVirtualPlot)
	e.varBytes(c.FarmerKey)
	writeOptAddr(e, c.Reward)
}

func (c *PlotNFT) write(e *encoder) {
	e.u8(contractPlotNFT)
	e.hash(c.Owner)
	writeOptAddr(e, c.Target)
	e.u32(c.UnlockHeight)
}

func readContract(d *decoder) Contract {
	switch tag := d.u8(); tag {
	case contractPubKey:
		return &PubKey{PubKey: d.varBytes()}
	case contractMultiSig:
		c := &MultiSig{NumRequired: int(d.varint())}

		n := d.count()
		for i := 0; i < n && d.err == nil; i++ {
			c.Owners = append(c.Owners, d.hash())
		}

		return c
	case contractTimeLock:
		return &TimeLock{Owner: d.hash(), UnlockHeight: d.u32()}
	case contractPuzzleLock:
		return &PuzzleLock{Owner: d.hash(), PuzzleHash: d.hash()}
	case contractToken:
		return &Token{Name: d.str(), Symbol: d.str(), Decimals: d.u8(), Owner: d.optHash()}
	case contractExecutable:
		return readExecutable(d)
	case contractVirtualPlot:
		return &VirtualPlot{FarmerKey: d.varBytes(), Reward: d.optHash()}
	case contractPlotNFT:
		return &PlotNFT{Owner: d.hash(), Target: d.optHash(), UnlockHeight: d.u32()}
	default:
		d.fail(errors.NewProcessingError("unknown contract type %d", tag))
		return nil
	}
}

func readExecutable(d *decoder) *Executable {
	c := &Executable{Owner: d.optHash()}

	n := d.count()
	for i := 0; i < n && d.err == nil; i++ {
		c.Code = append(c.Code, vm.Instruction{
			Code:  vm.Opcode(d.u8()),
			Flags: d.u16(),
			A:     d.varint(),
			B:     d.varint(),
			C:     d.varint(),
			D:     d.varint(),
		})
	}

	c.Constants = d.vars()

	if n = d.count(); n > 0 {
		c.Fields = make(map[string]uint64, n)
	}

	for i := 0; i < n && d.err == nil; i++ {
		name := d.str()
		c.Fields[name] = d.varint()
	}

	if n = d.count(); n > 0 {
		c.Methods = make(map[string]vm.Method, n)
	}

	for i := 0; i < n && d.err == nil; i++ {
		m := vm.Method{
			Name:       d.str(),
			EntryPoint: d.varint(),
			NumArgs:    int(d.varint()),
			IsConst:    d.boolean(),
			IsPublic:   d.boolean(),
			IsPayable:  d.boolean(),
		}
		c.Methods[m.Name] = m
	}

	c.InitMethod = d.str()
	c.InitArgs = d.vars()

	if n = d.count(); n > 0 {
		c.Depends = make(map[string]Addr, n)
	}

	for i := 0; i < n && d.err == nil; i++ {
		name := d.str()
		c.Depends[name] = d.hash()
	}

	return c
}

// ContractBytes is the storage encoding of c.
func ContractBytes(c Contract) []byte {
	e := &encoder{}
	c.write(e)

	return e.Bytes()
}

func NewContractFromBytes(b []byte) (Contract, error) {
	d := newDecoder(b)
	c := readContract(d)

	if err := d.finish("contract"); err != nil {
		return nil, err
	}

	return c, nil
}
