package node

import (
	"context"

	"github.com/dolthub/swiss"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/state"
)

// txPool holds transactions waiting for a block, in arrival order. No two pool
// transactions spend the same output.
type txPool struct {
	entries *swiss.Map[model.Hash, *model.Transaction]
	spends  *swiss.Map[model.TxioKey, model.Hash]
	order   []model.Hash
	limit   int
}

func newTxPool(limit int) *txPool {
	return &txPool{
		entries: swiss.NewMap[model.Hash, *model.Transaction](1024),
		spends:  swiss.NewMap[model.TxioKey, model.Hash](1024),
		limit:   limit,
	}
}

func (p *txPool) Add(tx *model.Transaction) error {
	if p.entries.Has(tx.ID) {
		return errors.NewTxAlreadyExistsError("[%s] already in pool", tx.ID)
	}

	if p.limit > 0 && p.entries.Count() >= p.limit {
		return errors.NewThresholdExceededError("tx pool full at %d transactions", p.limit)
	}

	for _, in := range tx.Inputs {
		if other, ok := p.spends.Get(in.Prev); ok {
			return errors.NewTxInvalidDoubleSpendError("[%s] input %s already spent by pool transaction %s", tx.ID, in.Prev, other)
		}
	}

	for _, in := range tx.Inputs {
		p.spends.Put(in.Prev, tx.ID)
	}

	p.entries.Put(tx.ID, tx)
	p.order = append(p.order, tx.ID)

	return nil
}

func (p *txPool) Remove(id model.Hash) bool {
	tx, ok := p.entries.Get(id)
	if !ok {
		return false
	}

	for _, in := range tx.Inputs {
		if spender, ok := p.spends.Get(in.Prev); ok && spender == id {
			p.spends.Delete(in.Prev)
		}
	}

	p.entries.Delete(id)

	for i, h := range p.order {
		if h == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}

	return true
}

// Purge drops transactions that cannot go into the block at height: expired ones, those
// already included and those whose inputs are gone.
func (p *txPool) Purge(height uint32, r state.Reader) ([]model.Hash, error) {
	var drop []model.Hash

	for _, id := range p.order {
		tx, _ := p.entries.Get(id)

		stale, err := isStale(tx, height, r)
		if err != nil {
			return nil, err
		}

		if stale {
			drop = append(drop, id)
		}
	}

	for _, id := range drop {
		p.Remove(id)
	}

	return drop, nil
}

func isStale(tx *model.Transaction, height uint32, r state.Reader) (bool, error) {
	if tx.Expires != 0 && height > tx.Expires {
		return true, nil
	}

	info, err := r.GetTxInfo(tx.ID)
	if err != nil {
		return false, err
	}

	if info != nil {
		return true, nil
	}

	for _, in := range tx.Inputs {
		txo, err := r.GetTxo(in.Prev)
		if err != nil {
			return false, err
		}

		if txo == nil || txo.Spent {
			return true, nil
		}
	}

	return false, nil
}

func (p *txPool) List() []*model.Transaction {
	out := make([]*model.Transaction, 0, len(p.order))

	for _, id := range p.order {
		tx, _ := p.entries.Get(id)
		out = append(out, tx)
	}

	return out
}

func (p *txPool) Len() int {
	return p.entries.Count()
}

// ProcessTransaction validates tx against the peak and adds it to the pool.
func (n *Node) ProcessTransaction(ctx context.Context, tx *model.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkUsable(); err != nil {
		return err
	}

	return n.addTransaction(ctx, tx)
}

// addTransaction dry runs tx on the peak state. mu must be held.
func (n *Node) addTransaction(_ context.Context, tx *model.Transaction) error {
	if tx == nil {
		return errors.NewTxInvalidError("empty transaction")
	}

	if n.pool.entries.Has(tx.ID) {
		return errors.NewTxAlreadyExistsError("[%s] already in pool", tx.ID)
	}

	if err := n.verifySolutionsOf(tx); err != nil {
		return err
	}

	bc, err := n.newBlockContext(n.peak.Height()+1, model.Hash{})
	if err != nil {
		return err
	}

	defer bc.discard()

	if _, err = bc.executeTx(tx); err != nil {
		return err
	}

	if err = n.pool.Add(tx); err != nil {
		return err
	}

	prometheusNodeTxPoolSize.Set(float64(n.pool.Len()))

	return nil
}

func (n *Node) verifySolutionsOf(tx *model.Transaction) error {
	for i, sol := range tx.Solutions {
		if err := n.verifySolution(tx.ID, sol); err != nil {
			return errors.NewTxInvalidError("[%s] solution %d", tx.ID, i, err)
		}
	}

	return nil
}

// purgePool drops what the new peak made stale and offers the transactions of reverted
// blocks to the pool again.
func (n *Node) purgePool(ctx context.Context, reverted []*model.Block) {
	dropped, err := n.pool.Purge(n.peak.Height()+1, n.state)
	if err != nil {
		n.logger.Errorf("[purgePool] %v", err)
		return
	}

	if len(dropped) > 0 {
		n.logger.Debugf("[purgePool] dropped %d transactions", len(dropped))
	}

	for _, b := range reverted {
		for _, tx := range b.TxList {
			again := *tx
			again.ExecResult = nil

			if err := n.addTransaction(ctx, &again); err != nil {
				n.logger.Debugf("[purgePool] reverted transaction %s not re-added: %v", tx.ID, err)
			}
		}
	}

	prometheusNodeTxPoolSize.Set(float64(n.pool.Len()))
}
