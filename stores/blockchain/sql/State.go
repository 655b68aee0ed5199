package sql

import (
	"context"
	"database/sql"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

func (s *SQL) GetState(ctx context.Context, key string) ([]byte, error) {
	ctx, _, endFn := tracer.Start(ctx, "sql:GetState")
	defer endFn()

	var data []byte

	if err := s.db.QueryRowContext(ctx, `SELECT data FROM state WHERE key = $1`, key).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, errors.NewStorageError("failed to read state %s", key, err)
	}

	return data, nil
}

func (s *SQL) SetState(ctx context.Context, key string, data []byte) error {
	ctx, _, endFn := tracer.Start(ctx, "sql:SetState")
	defer endFn()

	q := `
		INSERT INTO state (key, data)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, q, key, data); err != nil {
		return errors.NewStorageError("failed to write state %s", key, err)
	}

	return nil
}
