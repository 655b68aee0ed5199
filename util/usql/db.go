// Package usql wraps database/sql with per-statement timing stats.
package usql

import (
	"context"
	"database/sql"

	"github.com/ordishs/gocore"
)

var stat = gocore.NewStat("SQL")

// DB records the time spent in every statement under the statement text.
type DB struct {
	*sql.DB
}

func Open(driverName, dataSourceName string) (*DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Wrap instruments an already open handle, tests use it with sqlmock.
func Wrap(db *sql.DB) *DB {
	return &DB{db}
}

func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.ExecContext(context.Background(), query, args...)
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	defer stat.NewStat(query).AddTime(gocore.CurrentTime())

	return db.DB.ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	defer stat.NewStat(query).AddTime(gocore.CurrentTime())

	return db.DB.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	defer stat.NewStat(query).AddTime(gocore.CurrentTime())

	return db.DB.QueryRowContext(ctx, query, args...)
}

// Tx is a transaction with the same instrumentation as DB.
type Tx struct {
	*sql.Tx
}

func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &Tx{tx}, nil
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	defer stat.NewStat(query).AddTime(gocore.CurrentTime())

	return tx.Tx.ExecContext(ctx, query, args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	defer stat.NewStat(query).AddTime(gocore.CurrentTime())

	return tx.Tx.QueryRowContext(ctx, query, args...)
}
