package vm

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/bsv-blockchain/go-wire"
	"github.com/holiman/uint256"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

type VarType uint8

const (
	TYPE_NIL VarType = iota
	TYPE_TRUE
	TYPE_FALSE
	TYPE_REF
	TYPE_UINT
	TYPE_STRING
	TYPE_BINARY
	TYPE_ARRAY
	TYPE_MAP
)

var typeNames = [...]string{"NIL", "TRUE", "FALSE", "REF", "UINT", "STRING", "BINARY", "ARRAY", "MAP"}

func (t VarType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}

	return "INVALID"
}

// Var flags. Only FLAG_KEY is persisted, the rest is per-execution bookkeeping.
const (
	FLAG_DIRTY   uint8 = 1 << 0
	FLAG_CONST   uint8 = 1 << 1
	FLAG_STORED  uint8 = 1 << 2
	FLAG_DELETED uint8 = 1 << 3
	FLAG_KEY     uint8 = 1 << 4
)

// MaxBinarySize bounds STRING and BINARY payloads.
const MaxBinarySize = 1 << 20

// Var is a tagged VM value. Heap cells carry a RefCount of how many REF values point at them.
type Var struct {
	Type     VarType
	Flags    uint8
	RefCount uint32
	Uint     uint256.Int
	Data     []byte
	Address  uint64 // REF target, ARRAY / MAP own address
	Size     uint64 // ARRAY length
}

func Nil() *Var {
	return &Var{Type: TYPE_NIL}
}

func Bool(b bool) *Var {
	if b {
		return &Var{Type: TYPE_TRUE}
	}

	return &Var{Type: TYPE_FALSE}
}

func Uint(v *uint256.Int) *Var {
	out := &Var{Type: TYPE_UINT}
	out.Uint.Set(v)

	return out
}

func Uint64(v uint64) *Var {
	out := &Var{Type: TYPE_UINT}
	out.Uint.SetUint64(v)

	return out
}

func String(s string) *Var {
	return &Var{Type: TYPE_STRING, Data: []byte(s)}
}

func Binary(b []byte) *Var {
	return &Var{Type: TYPE_BINARY, Data: append([]byte(nil), b...)}
}

func Ref(address uint64) *Var {
	return &Var{Type: TYPE_REF, Address: address}
}

func Array(address uint64) *Var {
	return &Var{Type: TYPE_ARRAY, Address: address}
}

func Map(address uint64) *Var {
	return &Var{Type: TYPE_MAP, Address: address}
}

// IsNil treats a missing value as NIL.
func (v *Var) IsNil() bool {
	return v == nil || v.Type == TYPE_NIL
}

// IsTrue is the condition used by JUMPI, JUMPN and ASSERT.
func (v *Var) IsTrue() bool {
	if v == nil {
		return false
	}

	switch v.Type {
	case TYPE_TRUE:
		return true
	case TYPE_UINT:
		return !v.Uint.IsZero()
	}

	return false
}

// Clone copies the value. Flags are dropped, the ref count is kept.
func (v *Var) Clone() *Var {
	if v == nil {
		return Nil()
	}

	out := &Var{
		Type:     v.Type,
		RefCount: v.RefCount,
		Address:  v.Address,
		Size:     v.Size,
	}
	out.Uint.Set(&v.Uint)

	if v.Data != nil {
		out.Data = append([]byte(nil), v.Data...)
	}

	return out
}

// Compare orders values first by type then by content. Containers compare by address.
func Compare(a, b *Var) int {
	ta, tb := TYPE_NIL, TYPE_NIL
	if a != nil {
		ta = a.Type
	}

	if b != nil {
		tb = b.Type
	}

	if ta != tb {
		if ta < tb {
			return -1
		}

		return 1
	}

	switch ta {
	case TYPE_UINT:
		return a.Uint.Cmp(&b.Uint)
	case TYPE_STRING, TYPE_BINARY:
		return bytes.Compare(a.Data, b.Data)
	case TYPE_REF, TYPE_MAP:
		return cmpUint64(a.Address, b.Address)
	case TYPE_ARRAY:
		if c := cmpUint64(a.Address, b.Address); c != 0 {
			return c
		}

		return cmpUint64(a.Size, b.Size)
	}

	return 0
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}

	return 0
}

// NumBytes is the metered size of a value.
func (v *Var) NumBytes() uint64 {
	if v == nil {
		return 1
	}

	switch v.Type {
	case TYPE_UINT:
		return 1 + 32
	case TYPE_STRING, TYPE_BINARY:
		return 1 + 4 + uint64(len(v.Data))
	case TYPE_REF, TYPE_MAP:
		return 1 + 8
	case TYPE_ARRAY:
		return 1 + 16
	}

	return 1
}

// KeyBytes is the canonical value encoding used for map keys and equality lookups.
// It excludes ref count and flags.
func (v *Var) KeyBytes() []byte {
	var buf bytes.Buffer

	v.writeValue(&buf)

	return buf.Bytes()
}

// Bytes encodes the value for storage, including ref count and the key flag.
func (v *Var) Bytes() []byte {
	var buf bytes.Buffer

	flags := uint8(0)
	if v != nil {
		flags = v.Flags & FLAG_KEY
	}

	buf.WriteByte(flags)

	refCount := uint32(0)
	if v != nil {
		refCount = v.RefCount
	}

	_ = wire.WriteVarInt(&buf, 0, uint64(refCount))

	v.writeValue(&buf)

	return buf.Bytes()
}

func (v *Var) writeValue(w *bytes.Buffer) {
	if v == nil {
		w.WriteByte(byte(TYPE_NIL))
		return
	}

	w.WriteByte(byte(v.Type))

	switch v.Type {
	case TYPE_UINT:
		b := v.Uint.Bytes32()
		w.Write(b[:])
	case TYPE_STRING, TYPE_BINARY:
		_ = wire.WriteVarBytes(w, 0, v.Data)
	case TYPE_REF, TYPE_MAP:
		_ = binary.Write(w, binary.BigEndian, v.Address)
	case TYPE_ARRAY:
		_ = binary.Write(w, binary.BigEndian, v.Address)
		_ = binary.Write(w, binary.BigEndian, v.Size)
	}
}

// DecodeVar is the inverse of Bytes.
func DecodeVar(data []byte) (*Var, error) {
	r := bytes.NewReader(data)

	flags, err := r.ReadByte()
	if err != nil {
		return nil, errors.NewStorageCorruptError("var flags", err)
	}

	refCount, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, errors.NewStorageCorruptError("var ref count", err)
	}

	v, err := readValue(r)
	if err != nil {
		return nil, err
	}

	v.Flags = flags & FLAG_KEY
	v.RefCount = uint32(refCount) //nolint:gosec // written from a uint32

	return v, nil
}

func readValue(r *bytes.Reader) (*Var, error) {
	t, err := r.ReadByte()
	if err != nil {
		return nil, errors.NewStorageCorruptError("var type", err)
	}

	v := &Var{Type: VarType(t)}

	switch v.Type {
	case TYPE_NIL, TYPE_TRUE, TYPE_FALSE:
	case TYPE_UINT:
		var b [32]byte
		if _, err = io.ReadFull(r, b[:]); err != nil {
			return nil, errors.NewStorageCorruptError("var uint", err)
		}

		v.Uint.SetBytes32(b[:])
	case TYPE_STRING, TYPE_BINARY:
		if v.Data, err = wire.ReadVarBytes(r, 0, MaxBinarySize, "var data"); err != nil {
			return nil, errors.NewStorageCorruptError("var data", err)
		}
	case TYPE_REF, TYPE_MAP:
		if err = binary.Read(r, binary.BigEndian, &v.Address); err != nil {
			return nil, errors.NewStorageCorruptError("var address", err)
		}
	case TYPE_ARRAY:
		if err = binary.Read(r, binary.BigEndian, &v.Address); err != nil {
			return nil, errors.NewStorageCorruptError("var address", err)
		}

		if err = binary.Read(r, binary.BigEndian, &v.Size); err != nil {
			return nil, errors.NewStorageCorruptError("var size", err)
		}
	default:
		return nil, errors.NewStorageCorruptError("invalid var type %d", t)
	}

	return v, nil
}

func (v *Var) String() string {
	if v == nil {
		return "nil"
	}

	switch v.Type {
	case TYPE_UINT:
		return v.Uint.Dec()
	case TYPE_STRING:
		return string(v.Data)
	case TYPE_BINARY:
		return "0x" + hex.EncodeToString(v.Data)
	case TYPE_TRUE:
		return "true"
	case TYPE_FALSE:
		return "false"
	}

	return v.Type.String()
}
