package node

import (
	"context"
	"encoding/hex"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/state"
)

// GetPeak returns the header of the block the state is at.
func (n *Node) GetPeak() *model.BlockHeader {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.peak.Header
}

func (n *Node) GetHeight() uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.peak.Height()
}

// GetRoot returns the last finalized block.
func (n *Node) GetRoot() *model.BlockHeader {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.root.Header
}

// GetBlockAt returns the block at height on the peak's chain.
func (n *Node) GetBlockAt(ctx context.Context, height uint32) (*model.Block, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if height > n.peak.Height() {
		return nil, errors.NewBlockNotFoundError("no block at height %d, peak is %d", height, n.peak.Height())
	}

	if height <= n.root.Height() {
		return n.blockStore.GetBlockAt(ctx, height)
	}

	bh, err := n.ancestor(ctx, n.peak.Header, height)
	if err != nil {
		return nil, err
	}

	return n.blockOf(bh), nil
}

// GetBlock looks in the fork tree first, then among the finalized blocks.
func (n *Node) GetBlock(ctx context.Context, hash model.Hash) (*model.Block, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if hash == n.root.Hash() {
		return n.root, nil
	}

	if f, ok := n.forks.Get(hash); ok {
		return f.block, nil
	}

	return n.blockStore.GetBlock(ctx, &hash)
}

func (n *Node) GetHeader(ctx context.Context, hash model.Hash) (*model.BlockHeader, error) {
	b, err := n.GetBlock(ctx, hash)
	if err != nil {
		return nil, err
	}

	return b.Header, nil
}

func (n *Node) GetBalance(addr, currency model.Addr) (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.state.GetBalance(addr, currency)
}

// GetBalances returns every non-zero balance of addr by currency.
func (n *Node) GetBalances(addr model.Addr) (map[model.Addr]uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.state.GetBalances(addr)
}

func (n *Node) GetUTXOList(addr model.Addr) ([]state.UTXOEntry, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.state.GetUTXOs(addr)
}

// GetContract returns nil when nothing is deployed at addr.
func (n *Node) GetContract(addr model.Addr) (model.Contract, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.state.GetContract(addr)
}

// GetTxoInfos returns one entry per key, nil for outputs that never existed.
func (n *Node) GetTxoInfos(keys []model.TxioKey) ([]*model.TxoInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*model.TxoInfo, len(keys))

	for i, key := range keys {
		info, err := n.state.GetTxo(key)
		if err != nil {
			return nil, err
		}

		out[i] = info
	}

	return out, nil
}

// GetTxInfo returns nil for transactions not on the peak's chain.
func (n *Node) GetTxInfo(id model.Hash) (*state.TxInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.state.GetTxInfo(id)
}

// GetTxPool lists the pending transactions in arrival order.
// AddTransaction validates tx against the peak and adds it to the pool. Without sync the
// transaction is queued for the run loop and errors are only logged.
func (n *Node) AddTransaction(ctx context.Context, tx *model.Transaction, sync bool) error {
	if !sync {
		if err := n.checkStarted("transaction"); err != nil {
			return err
		}

		select {
		case n.txCh <- tx:
			return nil
		case <-ctx.Done():
			return errors.NewContextCanceledError("queueing transaction %s", tx.ID, ctx.Err())
		}
	}

	return n.ProcessTransaction(ctx, tx)
}

func (n *Node) GetTxPool() []*model.Transaction {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.pool.List()
}

// DumpState returns the chain state and the contract storage at the peak, hex encoded and
// keyed by table.
func (n *Node) DumpState() (map[string]string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out, err := n.state.Dump()
	if err != nil {
		return nil, err
	}

	vmDump, err := n.vmStore.Dump()
	if err != nil {
		return nil, err
	}

	for k, v := range vmDump {
		out[k] = hex.EncodeToString(v)
	}

	return out, nil
}
