package model

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-wire"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
)

const (
	maxDecodeBytes = 16 << 20
	maxDecodeItems = 1 << 20
)

// encoder writes the canonical binary form used for hashing and storage. Writes to a
// bytes.Buffer cannot fail.
type encoder struct {
	bytes.Buffer
}

func (e *encoder) u8(v uint8) {
	e.WriteByte(v)
}

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) u16(v uint16) {
	e.Write(binary.LittleEndian.AppendUint16(nil, v))
}

func (e *encoder) u32(v uint32) {
	e.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func (e *encoder) u64(v uint64) {
	e.Write(binary.LittleEndian.AppendUint64(nil, v))
}

func (e *encoder) varint(v uint64) {
	_ = wire.WriteVarInt(e, 0, v)
}

func (e *encoder) varBytes(b []byte) {
	_ = wire.WriteVarBytes(e, 0, b)
}

func (e *encoder) str(s string) {
	e.varBytes([]byte(s))
}

func (e *encoder) hash(h chainhash.Hash) {
	e.Write(h[:])
}

func (e *encoder) optHash(h *chainhash.Hash) {
	if h == nil {
		e.u8(0)
		return
	}

	e.u8(1)
	e.hash(*h)
}

func (e *encoder) vars(vs []*vm.Var) {
	e.varint(uint64(len(vs)))

	for _, v := range vs {
		e.varBytes(v.Bytes())
	}
}

// decoder reads what encoder wrote. The first error sticks, later reads return zero
// values, so callers check err once at the end.
type decoder struct {
	r   *bytes.Reader
	err error
}

func newDecoder(b []byte) *decoder {
	return &decoder{r: bytes.NewReader(b)}
}

func (d *decoder) fail(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}

func (d *decoder) fixed(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.fail(err)
	}

	return b
}

func (d *decoder) u8() uint8 {
	return d.fixed(1)[0]
}

func (d *decoder) boolean() bool {
	switch d.u8() {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail(errors.NewProcessingError("invalid bool"))
		return false
	}
}

func (d *decoder) u16() uint16 {
	return binary.LittleEndian.Uint16(d.fixed(2))
}

func (d *decoder) u32() uint32 {
	return binary.LittleEndian.Uint32(d.fixed(4))
}

func (d *decoder) u64() uint64 {
	return binary.LittleEndian.Uint64(d.fixed(8))
}

func (d *decoder) varint() uint64 {
	if d.err != nil {
		return 0
	}

	v, err := wire.ReadVarInt(d.r, 0)
	d.fail(err)

	return v
}

func (d *decoder) count() int {
	n := d.varint()
	if n > maxDecodeItems {
		d.fail(errors.NewProcessingError("item count %d too large", n))
		return 0
	}

	return int(n)
}

func (d *decoder) varBytes() []byte {
	if d.err != nil {
		return nil
	}

	b, err := wire.ReadVarBytes(d.r, 0, maxDecodeBytes, "bytes")
	d.fail(err)

	if len(b) == 0 {
		return nil
	}

	return b
}

func (d *decoder) str() string {
	return string(d.varBytes())
}

func (d *decoder) hash() chainhash.Hash {
	var h chainhash.Hash
	copy(h[:], d.fixed(chainhash.HashSize))

	return h
}

func (d *decoder) optHash() *chainhash.Hash {
	if !d.boolean() {
		return nil
	}

	h := d.hash()

	return &h
}

func (d *decoder) vars() []*vm.Var {
	n := d.count()
	if n == 0 {
		return nil
	}

	out := make([]*vm.Var, 0, n)

	for i := 0; i < n && d.err == nil; i++ {
		v, err := vm.DecodeVar(d.varBytes())
		if err != nil {
			d.fail(err)
			break
		}

		out = append(out, v)
	}

	return out
}

// finish reports the first error, or trailing bytes.
func (d *decoder) finish(what string) error {
	if d.err == nil && d.r.Len() > 0 {
		d.err = errors.NewProcessingError("%d trailing bytes", d.r.Len())
	}

	if d.err != nil {
		return errors.NewProcessingError("could not decode %s", what, d.err)
	}

	return nil
}
