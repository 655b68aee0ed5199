package state

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/bsv-blockchain/go-wire"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
)

// TxInfo records where a transaction was included and how it went.
type TxInfo struct {
	ID        model.Hash
	Height    uint32
	Block     model.Hash
	DidFail   bool
	TotalCost uint64
	TotalFee  uint64
	Message   string
	// Deployed is set when the transaction deployed a contract at its id.
	Deployed bool
}

func (t *TxInfo) Bytes() []byte {
	var buf bytes.Buffer

	buf.Write(t.ID[:])
	buf.Write(binary.BigEndian.AppendUint32(nil, t.Height))
	buf.Write(t.Block[:])

	var flags byte
	if t.DidFail {
		flags |= 1
	}

	if t.Deployed {
		flags |= 2
	}

	buf.WriteByte(flags)
	buf.Write(binary.BigEndian.AppendUint64(nil, t.TotalCost))
	buf.Write(binary.BigEndian.AppendUint64(nil, t.TotalFee))
	_ = wire.WriteVarString(&buf, 0, t.Message)

	return buf.Bytes()
}

func NewTxInfoFromBytes(data []byte) (*TxInfo, error) {
	r := bytes.NewReader(data)
	t := &TxInfo{}

	var fixed [32 + 4 + 32 + 1 + 8 + 8]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, errors.NewStorageCorruptError("tx info", err)
	}

	copy(t.ID[:], fixed[0:32])
	t.Height = binary.BigEndian.Uint32(fixed[32:36])
	copy(t.Block[:], fixed[36:68])
	t.DidFail = fixed[68]&1 != 0
	t.Deployed = fixed[68]&2 != 0
	t.TotalCost = binary.BigEndian.Uint64(fixed[69:77])
	t.TotalFee = binary.BigEndian.Uint64(fixed[77:85])

	msg, err := wire.ReadVarString(r, 0)
	if err != nil {
		return nil, errors.NewStorageCorruptError("tx info message", err)
	}

	t.Message = msg

	return t, nil
}
