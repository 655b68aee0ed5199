package lsm

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
)

// DataBase is a set of tables that commit and revert together. Each table persists its
// own version, a crash between two table commits is repaired on Open by reverting every
// table to the lowest committed version.
type DataBase struct {
	logger ulogger.Logger
	path   string
	opts   Options

	mu     sync.Mutex
	tables map[string]*Table
}

// Open opens the named tables under path, each in its own directory. An empty path keeps
// everything in memory.
func Open(logger ulogger.Logger, path string, opts Options, names ...string) (*DataBase, error) {
	db := &DataBase{
		logger: logger,
		path:   path,
		opts:   opts,
		tables: make(map[string]*Table, len(names)),
	}

	for _, name := range names {
		if _, err := db.open(name); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	version, ok := db.minVersion()
	if !ok {
		return db, nil
	}

	for name, t := range db.tables {
		switch {
		case !t.Committed():
			if err := t.Commit(version); err != nil {
				_ = db.Close()
				return nil, err
			}
		case t.Version() > version:
			logger.Warnf("[lsm] reverting table %s from version %d to %d", name, t.Version(), version)

			if err := t.Revert(version); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
	}

	return db, nil
}

func (db *DataBase) open(name string) (*Table, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, errors.NewInvalidArgumentError("invalid table name %q", name)
	}

	dir := ""
	if db.path != "" {
		dir = filepath.Join(db.path, name)
	}

	t, err := OpenTable(db.logger, dir, db.opts)
	if err != nil {
		return nil, err
	}

	db.tables[name] = t

	return t, nil
}

func (db *DataBase) minVersion() (uint32, bool) {
	var (
		version uint32
		found   bool
	)

	for _, t := range db.tables {
		if !t.Committed() {
			continue
		}

		if !found || t.Version() < version {
			version = t.Version()
			found = true
		}
	}

	return version, found
}

// Table returns the named table, opening it at the current version if needed.
func (db *DataBase) Table(name string) (*Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if t, ok := db.tables[name]; ok {
		return t, nil
	}

	version, committed := db.minVersion()

	t, err := db.open(name)
	if err != nil {
		return nil, err
	}

	if committed && !t.Committed() {
		if err = t.Commit(version); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (db *DataBase) sorted() []*Table {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	tables := make([]*Table, 0, len(names))
	for _, name := range names {
		tables = append(tables, db.tables[name])
	}

	return tables
}

func (db *DataBase) Commit(version uint32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, t := range db.sorted() {
		if err := t.Commit(version); err != nil {
			return err
		}
	}

	return nil
}

func (db *DataBase) Revert(version uint32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, t := range db.sorted() {
		if err := t.Revert(version); err != nil {
			return err
		}
	}

	return nil
}

func (db *DataBase) Finalize(version uint32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, t := range db.sorted() {
		if err := t.Finalize(version); err != nil {
			return err
		}
	}

	return nil
}

// Version is the lowest version over all tables that have been committed, 0 for a new
// database.
func (db *DataBase) Version() uint32 {
	db.mu.Lock()
	defer db.mu.Unlock()

	version, _ := db.minVersion()

	return version
}

func (db *DataBase) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var errs []error

	for _, t := range db.sorted() {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	db.tables = map[string]*Table{}

	return errors.Join(errs...)
}
