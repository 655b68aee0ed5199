package model

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
)

// Hash is a 256-bit content hash, Addr a hash used as an account or contract identifier.
type (
	Hash = chainhash.Hash
	Addr = chainhash.Hash
)

// NativeCurrency is the zero address.
var NativeCurrency Addr

// AddrFromPubKey is the address owned by a public key, the sha256 of its compressed form.
func AddrFromPubKey(pub *bec.PublicKey) Addr {
	return chainhash.HashH(pub.Compressed())
}

// TxioKey identifies a transaction output.
type TxioKey struct {
	TxID  Hash
	Index uint32
}

func (k TxioKey) Less(o TxioKey) bool {
	if c := bytes.Compare(k.TxID[:], o.TxID[:]); c != 0 {
		return c < 0
	}

	return k.Index < o.Index
}

// Bytes is the 36 byte key, txid followed by the big endian index, so byte order matches Less.
func (k TxioKey) Bytes() []byte {
	b := make([]byte, 0, chainhash.HashSize+4)
	b = append(b, k.TxID[:]...)

	return binary.BigEndian.AppendUint32(b, k.Index)
}

func TxioKeyFromBytes(b []byte) (TxioKey, error) {
	if len(b) != chainhash.HashSize+4 {
		return TxioKey{}, fmt.Errorf("txio key must be %d bytes, got %d", chainhash.HashSize+4, len(b))
	}

	var k TxioKey
	copy(k.TxID[:], b[:chainhash.HashSize])
	k.Index = binary.BigEndian.Uint32(b[chainhash.HashSize:])

	return k, nil
}

func (k TxioKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxID, k.Index)
}

// TxOut sends Amount of Contract (the currency, NativeCurrency for the native coin) to Address.
type TxOut struct {
	Address  Addr
	Contract Addr
	Amount   uint64
	Memo     string
}

func (o *TxOut) write(e *encoder) {
	e.hash(o.Address)
	e.hash(o.Contract)
	e.u64(o.Amount)
	e.str(o.Memo)
}

func (o *TxOut) read(d *decoder) {
	o.Address = d.hash()
	o.Contract = d.hash()
	o.Amount = d.u64()
	o.Memo = d.str()
}

// UTXO is an output that has been committed at Height and not spent yet.
type UTXO struct {
	TxOut
	Height uint32
}

func (u *UTXO) Bytes() []byte {
	e := &encoder{}
	u.write(e)
	e.u32(u.Height)

	return e.Bytes()
}

func NewUTXOFromBytes(b []byte) (*UTXO, error) {
	d := newDecoder(b)
	u := &UTXO{}
	u.read(d)
	u.Height = d.u32()

	if err := d.finish("utxo"); err != nil {
		return nil, err
	}

	return u, nil
}

// TxoInfo describes an output whether or not it has been spent.
type TxoInfo struct {
	Output      TxOut
	Height      uint32
	Spent       bool
	SpentHeight uint32
	SpentBy     Hash
}

func (t *TxoInfo) Bytes() []byte {
	e := &encoder{}
	t.Output.write(e)
	e.u32(t.Height)
	e.boolean(t.Spent)
	e.u32(t.SpentHeight)
	e.hash(t.SpentBy)

	return e.Bytes()
}

func NewTxoInfoFromBytes(b []byte) (*TxoInfo, error) {
	d := newDecoder(b)
	t := &TxoInfo{}
	t.Output.read(d)
	t.Height = d.u32()
	t.Spent = d.boolean()
	t.SpentHeight = d.u32()
	t.SpentBy = d.hash()

	if err := d.finish("txo info"); err != nil {
		return nil, err
	}

	return t, nil
}

// TxIn spends Prev, authorized by the solution at index Solution of the transaction.
type TxIn struct {
	Prev     TxioKey
	Solution uint16
}

func (in *TxIn) write(e *encoder) {
	e.hash(in.Prev.TxID)
	e.u32(in.Prev.Index)
	e.u16(in.Solution)
}

func (in *TxIn) read(d *decoder) {
	in.Prev.TxID = d.hash()
	in.Prev.Index = d.u32()
	in.Solution = d.u16()
}
