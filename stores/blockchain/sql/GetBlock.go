package sql

import (
	"context"
	"database/sql"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
)

func (s *SQL) GetBlock(ctx context.Context, hash *chainhash.Hash) (*model.Block, error) {
	if item := s.blockCache.Get(*hash); item != nil {
		return item.Value(), nil
	}

	ctx, _, endFn := tracer.Start(ctx, "sql:GetBlock")
	defer endFn()

	block, err := s.scanBlock(s.db.QueryRowContext(ctx, `SELECT data FROM blocks WHERE hash = $1`, hash[:]))
	if err != nil {
		if errors.Is(err, errors.ErrBlockNotFound) {
			return nil, errors.NewBlockNotFoundError("block %s not found", hash)
		}

		return nil, err
	}

	s.blockCache.Set(*hash, block, 0)

	return block, nil
}

func (s *SQL) GetBlockAt(ctx context.Context, height uint32) (*model.Block, error) {
	ctx, _, endFn := tracer.Start(ctx, "sql:GetBlockAt")
	defer endFn()

	block, err := s.scanBlock(s.db.QueryRowContext(ctx, `SELECT data FROM blocks WHERE height = $1`, height))
	if err != nil {
		if errors.Is(err, errors.ErrBlockNotFound) {
			return nil, errors.NewBlockNotFoundError("no block at height %d", height)
		}

		return nil, err
	}

	return block, nil
}

func (s *SQL) GetHeader(ctx context.Context, hash *chainhash.Hash) (*model.BlockHeader, error) {
	if item := s.blockCache.Get(*hash); item != nil {
		return item.Value().Header, nil
	}

	ctx, _, endFn := tracer.Start(ctx, "sql:GetHeader")
	defer endFn()

	header, err := scanHeader(s.db.QueryRowContext(ctx, `SELECT header FROM blocks WHERE hash = $1`, hash[:]))
	if err != nil {
		if errors.Is(err, errors.ErrBlockNotFound) {
			return nil, errors.NewBlockNotFoundError("block %s not found", hash)
		}

		return nil, err
	}

	return header, nil
}

func (s *SQL) GetBestBlockHeader(ctx context.Context) (*model.BlockHeader, error) {
	ctx, _, endFn := tracer.Start(ctx, "sql:GetBestBlockHeader")
	defer endFn()

	header, err := scanHeader(s.db.QueryRowContext(ctx, `SELECT header FROM blocks ORDER BY height DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, errors.ErrBlockNotFound) {
			return nil, errors.NewBlockNotFoundError("block store is empty")
		}

		return nil, err
	}

	return header, nil
}

func (s *SQL) scanBlock(row *sql.Row) (*model.Block, error) {
	var data []byte

	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewBlockNotFoundError("block not found")
		}

		return nil, errors.NewStorageError("failed to read block", err)
	}

	block, err := model.NewBlockFromBytes(data)
	if err != nil {
		return nil, errors.NewStorageCorruptError("stored block", err)
	}

	return block, nil
}
