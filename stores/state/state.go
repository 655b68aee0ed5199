// Package state keeps the chain state the node applies blocks to: outputs, the address
// index, deployed contracts, balances and the transaction index. Everything lives in
// tables of an lsm.DataBase, so reverting a block is a version revert.
package state

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/lsm"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
)

const (
	TableTxo      = "txo"
	TableAddrTxo  = "addr_txo"
	TableContract = "contract"
	TableBalance  = "balance"
	TableTx       = "tx"
)

// Tables lists the tables a State needs.
var Tables = []string{TableTxo, TableAddrTxo, TableContract, TableBalance, TableTx}

// Reader is the read side shared by State and View.
type Reader interface {
	// GetTxo returns nil for outputs that never existed.
	GetTxo(key model.TxioKey) (*model.TxoInfo, error)
	// GetContract returns nil when nothing is deployed at addr.
	GetContract(addr model.Addr) (model.Contract, error)
	GetBalance(addr, currency model.Addr) (uint64, error)
	// GetTxInfo returns nil for unknown transactions.
	GetTxInfo(id model.Hash) (*TxInfo, error)
}

// Store is a Reader that can be written to.
type Store interface {
	Reader
	PutTxo(key model.TxioKey, info *model.TxoInfo) error
	SetContract(addr model.Addr, c model.Contract) error
	SetBalance(addr, currency model.Addr, amount uint64) error
	AddTx(info *TxInfo) error
}

type State struct {
	logger   ulogger.Logger
	db       *lsm.DataBase
	txo      *lsm.Table
	addrTxo  *lsm.Table
	contract *lsm.Table
	balance  *lsm.Table
	tx       *lsm.Table
}

// New uses the state tables of db, opening them if needed.
func New(logger ulogger.Logger, db *lsm.DataBase) (*State, error) {
	s := &State{logger: logger, db: db}

	for name, table := range map[string]**lsm.Table{
		TableTxo:      &s.txo,
		TableAddrTxo:  &s.addrTxo,
		TableContract: &s.contract,
		TableBalance:  &s.balance,
		TableTx:       &s.tx,
	} {
		t, err := db.Table(name)
		if err != nil {
			return nil, err
		}

		*table = t
	}

	return s, nil
}

func addrTxoKey(addr model.Addr, key model.TxioKey) []byte {
	b := make([]byte, 0, len(addr)+36)
	b = append(b, addr[:]...)

	return append(b, key.Bytes()...)
}

func balanceKey(addr, currency model.Addr) []byte {
	b := make([]byte, 0, 2*len(addr))
	b = append(b, addr[:]...)

	return append(b, currency[:]...)
}

func (s *State) GetTxo(key model.TxioKey) (*model.TxoInfo, error) {
	data, err := s.txo.Get(key.Bytes())
	if err != nil || data == nil {
		return nil, err
	}

	return model.NewTxoInfoFromBytes(data)
}

// PutTxo stores info and keeps the address index in step: only unspent outputs are indexed.
func (s *State) PutTxo(key model.TxioKey, info *model.TxoInfo) error {
	if err := s.txo.Insert(key.Bytes(), info.Bytes()); err != nil {
		return err
	}

	ak := addrTxoKey(info.Output.Address, key)
	if info.Spent {
		return s.addrTxo.Delete(ak)
	}

	return s.addrTxo.Insert(ak, nil)
}

func (s *State) AddTxo(key model.TxioKey, out model.TxOut, height uint32) error {
	return addTxo(s, key, out, height)
}

func (s *State) SpendTxo(key model.TxioKey, height uint32, spentBy model.Hash) (*model.TxoInfo, error) {
	return spendTxo(s, key, height, spentBy)
}

// UTXOEntry is an unspent output with its key.
type UTXOEntry struct {
	Key model.TxioKey
	model.UTXO
}

// GetUTXOs lists the unspent outputs of addr in key order.
func (s *State) GetUTXOs(addr model.Addr) ([]UTXOEntry, error) {
	var (
		keys   []model.TxioKey
		errOut error
	)

	err := s.addrTxo.Iterate(addr[:], s.db.Version(), func(key, _ []byte) bool {
		k, err := model.TxioKeyFromBytes(key[len(addr):])
		if err != nil {
			errOut = errors.NewStorageCorruptError("address index key", err)
			return false
		}

		keys = append(keys, k)

		return true
	})
	if err != nil {
		return nil, err
	}

	if errOut != nil {
		return nil, errOut
	}

	out := make([]UTXOEntry, 0, len(keys))

	for _, k := range keys {
		info, err := s.GetTxo(k)
		if err != nil {
			return nil, err
		}

		if info == nil || info.Spent {
			return nil, errors.NewStorageCorruptError("address index of %s lists %s which is not unspent", addr, k)
		}

		out = append(out, UTXOEntry{Key: k, UTXO: model.UTXO{TxOut: info.Output, Height: info.Height}})
	}

	return out, nil
}

func (s *State) GetContract(addr model.Addr) (model.Contract, error) {
	data, err := s.contract.Get(addr[:])
	if err != nil || data == nil {
		return nil, err
	}

	return model.NewContractFromBytes(data)
}

func (s *State) SetContract(addr model.Addr, c model.Contract) error {
	return s.contract.Insert(addr[:], model.ContractBytes(c))
}

func (s *State) GetBalance(addr, currency model.Addr) (uint64, error) {
	data, err := s.balance.Get(balanceKey(addr, currency))
	if err != nil || data == nil {
		return 0, err
	}

	if len(data) != 8 {
		return 0, errors.NewStorageCorruptError("balance of length %d", len(data))
	}

	return binary.BigEndian.Uint64(data), nil
}

// SetBalance stores amount, a zero balance is deleted.
func (s *State) SetBalance(addr, currency model.Addr, amount uint64) error {
	key := balanceKey(addr, currency)
	if amount == 0 {
		return s.balance.Delete(key)
	}

	return s.balance.Insert(key, binary.BigEndian.AppendUint64(nil, amount))
}

func (s *State) AddBalance(addr, currency model.Addr, amount uint64) error {
	return addBalance(s, addr, currency, amount)
}

func (s *State) SubBalance(addr, currency model.Addr, amount uint64) error {
	return subBalance(s, addr, currency, amount)
}

// GetBalances returns every non-zero balance of addr keyed by currency.
func (s *State) GetBalances(addr model.Addr) (map[model.Addr]uint64, error) {
	out := make(map[model.Addr]uint64)

	err := s.balance.Iterate(addr[:], s.db.Version(), func(key, value []byte) bool {
		var currency model.Addr
		copy(currency[:], key[len(addr):])
		out[currency] = binary.BigEndian.Uint64(value)

		return true
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (s *State) GetTxInfo(id model.Hash) (*TxInfo, error) {
	data, err := s.tx.Get(id[:])
	if err != nil || data == nil {
		return nil, err
	}

	return NewTxInfoFromBytes(data)
}

func (s *State) AddTx(info *TxInfo) error {
	return s.tx.Insert(info.ID[:], info.Bytes())
}

// Commit makes everything written since the last commit durable as version. The version
// is the height of the next block to apply.
func (s *State) Commit(version uint32) error {
	return s.db.Commit(version)
}

// Revert undoes every commit at or above version.
func (s *State) Revert(version uint32) error {
	return s.db.Revert(version)
}

// Height is the number of blocks applied, which is the committed version.
func (s *State) Height() uint32 {
	return s.db.Version()
}

// Dump returns every live row of every state table, keyed by table and hex key. Two
// states with the same Dump are the same state.
func (s *State) Dump() (map[string]string, error) {
	out := make(map[string]string)
	version := s.db.Version()

	for _, name := range Tables {
		table, err := s.db.Table(name)
		if err != nil {
			return nil, err
		}

		err = table.Iterate(nil, version, func(key, value []byte) bool {
			out[name+"/"+hex.EncodeToString(key)] = hex.EncodeToString(bytes.Clone(value))
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// ContractLookup adapts r for model.ValidateOwner.
func ContractLookup(r Reader) model.ContractLookup {
	return r.GetContract
}

func addTxo(s Store, key model.TxioKey, out model.TxOut, height uint32) error {
	prev, err := s.GetTxo(key)
	if err != nil {
		return err
	}

	if prev != nil {
		return errors.NewTxAlreadyExistsError("output %s already exists", key)
	}

	if err = s.PutTxo(key, &model.TxoInfo{Output: out, Height: height}); err != nil {
		return err
	}

	return addBalance(s, out.Address, out.Contract, out.Amount)
}

func spendTxo(s Store, key model.TxioKey, height uint32, spentBy model.Hash) (*model.TxoInfo, error) {
	info, err := s.GetTxo(key)
	if err != nil {
		return nil, err
	}

	if info == nil {
		return nil, errors.NewTxNotFoundError("output %s not found", key)
	}

	if info.Spent {
		return nil, errors.NewUtxoSpentError(key.TxID, key.Index, info.SpentHeight, info.SpentBy)
	}

	spent := *info
	spent.Spent = true
	spent.SpentHeight = height
	spent.SpentBy = spentBy

	if err = s.PutTxo(key, &spent); err != nil {
		return nil, err
	}

	if err = subBalance(s, info.Output.Address, info.Output.Contract, info.Output.Amount); err != nil {
		return nil, err
	}

	return info, nil
}

func addBalance(s Store, addr, currency model.Addr, amount uint64) error {
	balance, err := s.GetBalance(addr, currency)
	if err != nil {
		return err
	}

	if balance+amount < balance {
		return errors.NewTxInvalidError("balance of %s overflows", addr)
	}

	return s.SetBalance(addr, currency, balance+amount)
}

func subBalance(s Store, addr, currency model.Addr, amount uint64) error {
	balance, err := s.GetBalance(addr, currency)
	if err != nil {
		return err
	}

	if balance < amount {
		return errors.NewTxInvalidError("balance %d of %s is below %d", balance, addr, amount)
	}

	return s.SetBalance(addr, currency, balance-amount)
}

var _ Store = (*State)(nil)
