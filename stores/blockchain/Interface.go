// Package blockchain stores the finalized chain: blocks that left the fork-choice window
// and will never be reverted.
package blockchain

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
)

// Store only grows at the top, every stored block extends the best block.
type Store interface {
	// StoreBlock appends block. It fails with ErrBlockExists when the hash is stored and
	// with ErrBlockInvalid when the block does not extend the best block.
	StoreBlock(ctx context.Context, block *model.Block) error
	GetBlock(ctx context.Context, hash *chainhash.Hash) (*model.Block, error)
	GetBlockAt(ctx context.Context, height uint32) (*model.Block, error)
	GetHeader(ctx context.Context, hash *chainhash.Hash) (*model.BlockHeader, error)
	// GetBestBlockHeader returns ErrBlockNotFound on an empty store.
	GetBestBlockHeader(ctx context.Context) (*model.BlockHeader, error)
	// GetState returns nil for unknown keys.
	GetState(ctx context.Context, key string) ([]byte, error)
	SetState(ctx context.Context, key string, data []byte) error
	Close() error
}
