package errors

import (
	"encoding/json"
	"fmt"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// UtxoSpentErrData describes which output was already spent, and by whom.
type UtxoSpentErrData struct {
	TxID         chainhash.Hash `json:"txid"`
	Index        uint32         `json:"index"`
	SpentHeight  uint32         `json:"spent_height"`
	SpendingTxID chainhash.Hash `json:"spending_txid"`
}

func (e *UtxoSpentErrData) Error() string {
	return fmt.Sprintf("utxo %s:%d already spent by %s at height %d", e.TxID, e.Index, e.SpendingTxID, e.SpentHeight)
}

func (e *UtxoSpentErrData) SetData(key string, value interface{}) {
	switch key {
	case "txid":
		if h, ok := value.(chainhash.Hash); ok {
			e.TxID = h
		}
	case "index":
		if i, ok := value.(uint32); ok {
			e.Index = i
		}
	case "spent_height":
		if h, ok := value.(uint32); ok {
			e.SpentHeight = h
		}
	case "spending_txid":
		if h, ok := value.(chainhash.Hash); ok {
			e.SpendingTxID = h
		}
	}
}

func (e *UtxoSpentErrData) GetData(key string) interface{} {
	switch key {
	case "txid":
		return e.TxID
	case "index":
		return e.Index
	case "spent_height":
		return e.SpentHeight
	case "spending_txid":
		return e.SpendingTxID
	}

	return nil
}

func (e *UtxoSpentErrData) EncodeErrorData() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte{}
	}

	return data
}

// NewUtxoSpentError reports a double spend of txID:index.
func NewUtxoSpentError(txID chainhash.Hash, index uint32, spentHeight uint32, spendingTxID chainhash.Hash) error {
	data := &UtxoSpentErrData{
		TxID:         txID,
		Index:        index,
		SpentHeight:  spentHeight,
		SpendingTxID: spendingTxID,
	}

	return WithData(ERR_TX_INVALID_DOUBLE_SPEND, data, data.Error())
}
