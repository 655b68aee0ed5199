// Package memory is a block store that lives in process memory, for tests and
// throwaway nodes.
package memory

import (
	"context"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dolthub/swiss"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
)

type Memory struct {
	mu       sync.RWMutex
	byHash   *swiss.Map[chainhash.Hash, *model.Block]
	byHeight []*model.Block
	state    map[string][]byte
}

func New() *Memory {
	return &Memory{
		byHash: swiss.NewMap[chainhash.Hash, *model.Block](1024),
		state:  make(map[string][]byte),
	}
}

func (m *Memory) best() *model.BlockHeader {
	if len(m.byHeight) == 0 {
		return nil
	}

	return m.byHeight[len(m.byHeight)-1].Header
}

func (m *Memory) StoreBlock(_ context.Context, block *model.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.byHash.Has(block.Hash()) {
		return errors.NewBlockExistsError("block %s already stored", block.Hash())
	}

	if err := block.Extends(m.best()); err != nil {
		return err
	}

	m.byHash.Put(block.Hash(), block)
	m.byHeight = append(m.byHeight, block)

	return nil
}

func (m *Memory) GetBlock(_ context.Context, hash *chainhash.Hash) (*model.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	block, ok := m.byHash.Get(*hash)
	if !ok {
		return nil, errors.NewBlockNotFoundError("block %s not found", hash)
	}

	return block, nil
}

func (m *Memory) GetBlockAt(_ context.Context, height uint32) (*model.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if uint64(height) >= uint64(len(m.byHeight)) {
		return nil, errors.NewBlockNotFoundError("no block at height %d", height)
	}

	return m.byHeight[height], nil
}

func (m *Memory) GetHeader(ctx context.Context, hash *chainhash.Hash) (*model.BlockHeader, error) {
	block, err := m.GetBlock(ctx, hash)
	if err != nil {
		return nil, err
	}

	return block.Header, nil
}

func (m *Memory) GetBestBlockHeader(_ context.Context) (*model.BlockHeader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := m.best()
	if best == nil {
		return nil, errors.NewBlockNotFoundError("block store is empty")
	}

	return best, nil
}

func (m *Memory) GetState(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state[key], nil
}

func (m *Memory) SetState(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state[key] = append([]byte(nil), data...)

	return nil
}

func (m *Memory) Close() error {
	return nil
}
