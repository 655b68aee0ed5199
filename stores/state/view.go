package state

import (
	"bytes"
	"sort"

	"github.com/dolthub/swiss"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
)

type balanceID struct {
	addr     model.Addr
	currency model.Addr
}

// View buffers writes on top of a parent Store. Reads see the buffer first. Flush writes
// the buffer to the parent, Discard drops it. Views nest, which gives a block its own
// view and each transaction a view on top of that.
type View struct {
	parent    Store
	txo       *swiss.Map[model.TxioKey, *model.TxoInfo]
	contracts *swiss.Map[model.Addr, model.Contract]
	balances  *swiss.Map[balanceID, uint64]
	txs       *swiss.Map[model.Hash, *TxInfo]
}

func NewView(parent Store) *View {
	v := &View{parent: parent}
	v.Discard()

	return v
}

// Discard drops every buffered write.
func (v *View) Discard() {
	v.txo = swiss.NewMap[model.TxioKey, *model.TxoInfo](64)
	v.contracts = swiss.NewMap[model.Addr, model.Contract](8)
	v.balances = swiss.NewMap[balanceID, uint64](64)
	v.txs = swiss.NewMap[model.Hash, *TxInfo](64)
}

func (v *View) GetTxo(key model.TxioKey) (*model.TxoInfo, error) {
	if info, ok := v.txo.Get(key); ok {
		return info, nil
	}

	return v.parent.GetTxo(key)
}

func (v *View) PutTxo(key model.TxioKey, info *model.TxoInfo) error {
	v.txo.Put(key, info)
	return nil
}

func (v *View) AddTxo(key model.TxioKey, out model.TxOut, height uint32) error {
	return addTxo(v, key, out, height)
}

func (v *View) SpendTxo(key model.TxioKey, height uint32, spentBy model.Hash) (*model.TxoInfo, error) {
	return spendTxo(v, key, height, spentBy)
}

func (v *View) GetContract(addr model.Addr) (model.Contract, error) {
	if c, ok := v.contracts.Get(addr); ok {
		return c, nil
	}

	return v.parent.GetContract(addr)
}

func (v *View) SetContract(addr model.Addr, c model.Contract) error {
	v.contracts.Put(addr, c)
	return nil
}

func (v *View) GetBalance(addr, currency model.Addr) (uint64, error) {
	if amount, ok := v.balances.Get(balanceID{addr, currency}); ok {
		return amount, nil
	}

	return v.parent.GetBalance(addr, currency)
}

func (v *View) SetBalance(addr, currency model.Addr, amount uint64) error {
	v.balances.Put(balanceID{addr, currency}, amount)
	return nil
}

func (v *View) AddBalance(addr, currency model.Addr, amount uint64) error {
	return addBalance(v, addr, currency, amount)
}

func (v *View) SubBalance(addr, currency model.Addr, amount uint64) error {
	return subBalance(v, addr, currency, amount)
}

func (v *View) GetTxInfo(id model.Hash) (*TxInfo, error) {
	if info, ok := v.txs.Get(id); ok {
		return info, nil
	}

	return v.parent.GetTxInfo(id)
}

func (v *View) AddTx(info *TxInfo) error {
	v.txs.Put(info.ID, info)
	return nil
}

// Pending is the number of buffered writes.
func (v *View) Pending() int {
	return v.txo.Count() + v.contracts.Count() + v.balances.Count() + v.txs.Count()
}

// Flush writes the buffer to the parent in key order and empties it.
func (v *View) Flush() error {
	txoKeys := make([]model.TxioKey, 0, v.txo.Count())
	v.txo.Iter(func(k model.TxioKey, _ *model.TxoInfo) bool {
		txoKeys = append(txoKeys, k)
		return false
	})

	sort.Slice(txoKeys, func(i, j int) bool { return txoKeys[i].Less(txoKeys[j]) })

	for _, k := range txoKeys {
		info, _ := v.txo.Get(k)
		if err := v.parent.PutTxo(k, info); err != nil {
			return err
		}
	}

	addrs := make([]model.Addr, 0, v.contracts.Count())
	v.contracts.Iter(func(k model.Addr, _ model.Contract) bool {
		addrs = append(addrs, k)
		return false
	})

	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	for _, addr := range addrs {
		c, _ := v.contracts.Get(addr)
		if err := v.parent.SetContract(addr, c); err != nil {
			return err
		}
	}

	balances := make([]balanceID, 0, v.balances.Count())
	v.balances.Iter(func(k balanceID, _ uint64) bool {
		balances = append(balances, k)
		return false
	})

	sort.Slice(balances, func(i, j int) bool {
		return bytes.Compare(balanceKey(balances[i].addr, balances[i].currency), balanceKey(balances[j].addr, balances[j].currency)) < 0
	})

	for _, k := range balances {
		amount, _ := v.balances.Get(k)
		if err := v.parent.SetBalance(k.addr, k.currency, amount); err != nil {
			return err
		}
	}

	ids := make([]model.Hash, 0, v.txs.Count())
	v.txs.Iter(func(k model.Hash, _ *TxInfo) bool {
		ids = append(ids, k)
		return false
	})

	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	for _, id := range ids {
		info, _ := v.txs.Get(id)
		if err := v.parent.AddTx(info); err != nil {
			return err
		}
	}

	v.Discard()

	return nil
}

var _ Store = (*View)(nil)
