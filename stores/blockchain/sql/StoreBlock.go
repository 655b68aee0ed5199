package sql

import (
	"context"
	"database/sql"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/util/tracing"
)

// StoreBlock appends block in a single database transaction.
func (s *SQL) StoreBlock(ctx context.Context, block *model.Block) (err error) {
	ctx, _, endFn := tracer.Start(ctx, "sql:StoreBlock",
		tracing.WithTag("hash", block.Hash().String()),
		tracing.WithLogMessage(s.logger, "[StoreBlock] storing %s", block),
	)
	defer func() {
		endFn(err)
	}()

	hash := block.Hash()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return errors.NewStorageError("failed to begin transaction", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int

	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks WHERE hash = $1`, hash[:]).Scan(&exists)
	if err != nil {
		return errors.NewStorageError("failed to look up block %s", hash, err)
	}

	if exists > 0 {
		return errors.NewBlockExistsError("block %s already stored", hash)
	}

	best, err := scanHeader(tx.QueryRowContext(ctx, `SELECT header FROM blocks ORDER BY height DESC LIMIT 1`))
	if err != nil && !errors.Is(err, errors.ErrBlockNotFound) {
		return err
	}

	if err = block.Extends(best); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO blocks (hash, previous_hash, height, block_time, tx_count, header, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		hash[:],
		block.Header.Prev[:],
		block.Height(),
		block.Header.Timestamp,
		len(block.TxList),
		block.Header.Bytes(),
		block.Bytes(),
	)
	if err != nil {
		return errors.NewStorageError("failed to insert block %s", hash, err)
	}

	if err = tx.Commit(); err != nil {
		return errors.NewStorageError("failed to commit block %s", hash, err)
	}

	s.blockCache.Set(hash, block, 0)

	return nil
}

func scanHeader(row *sql.Row) (*model.BlockHeader, error) {
	var data []byte

	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewBlockNotFoundError("block not found")
		}

		return nil, errors.NewStorageError("failed to read block header", err)
	}

	header, err := model.NewBlockHeaderFromBytes(data)
	if err != nil {
		return nil, errors.NewStorageCorruptError("stored block header", err)
	}

	return header, nil
}
