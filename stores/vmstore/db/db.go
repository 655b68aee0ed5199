// Package db is the durable vm.Storage, kept in three tables of an lsm.DataBase. The storage
// height is the database version, so a revert is a version revert of the tables.
package db

import (
	"bytes"
	"encoding/binary"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/lsm"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
)

const (
	TableMemory = "vm_mem"
	TableEntry  = "vm_entry"
	TableKey    = "vm_key"
)

// Tables lists the tables a Store needs, for callers that open the database themselves.
var Tables = []string{TableMemory, TableEntry, TableKey}

type Store struct {
	logger ulogger.Logger
	db     *lsm.DataBase
	mem    *lsm.Table
	entry  *lsm.Table
	key    *lsm.Table
}

// New uses the vm tables of db, opening them if needed.
func New(logger ulogger.Logger, db *lsm.DataBase) (*Store, error) {
	s := &Store{logger: logger, db: db}

	var err error

	if s.mem, err = db.Table(TableMemory); err != nil {
		return nil, err
	}

	if s.entry, err = db.Table(TableEntry); err != nil {
		return nil, err
	}

	if s.key, err = db.Table(TableKey); err != nil {
		return nil, err
	}

	return s, nil
}

func cellKey(contract chainhash.Hash, address uint64) []byte {
	b := make([]byte, 0, chainhash.HashSize+8)
	b = append(b, contract[:]...)

	return binary.BigEndian.AppendUint64(b, address)
}

func entryKey(contract chainhash.Hash, address, key uint64) []byte {
	return binary.BigEndian.AppendUint64(cellKey(contract, address), key)
}

func lookupKey(contract chainhash.Hash, value *vm.Var) []byte {
	b := make([]byte, 0, chainhash.HashSize+16)
	b = append(b, contract[:]...)

	return append(b, value.KeyBytes()...)
}

func decode(data []byte) (*vm.Var, error) {
	if data == nil {
		return nil, nil
	}

	return vm.DecodeVar(data)
}

func (s *Store) Read(contract chainhash.Hash, address uint64) (*vm.Var, error) {
	data, err := s.mem.Get(cellKey(contract, address))
	if err != nil {
		return nil, err
	}

	return decode(data)
}

func (s *Store) ReadEntry(contract chainhash.Hash, address, key uint64) (*vm.Var, error) {
	data, err := s.entry.Get(entryKey(contract, address, key))
	if err != nil {
		return nil, err
	}

	return decode(data)
}

// ReadEntries lists the entries of a container in key order.
func (s *Store) ReadEntries(contract chainhash.Hash, address uint64) ([]vm.Entry, error) {
	var (
		out    []vm.Entry
		errOut error
	)

	prefix := cellKey(contract, address)

	err := s.entry.Iterate(prefix, s.db.Version(), func(key, value []byte) bool {
		if len(key) != len(prefix)+8 {
			errOut = errors.NewStorageCorruptError("vm entry key of length %d", len(key))
			return false
		}

		v, err := vm.DecodeVar(value)
		if err != nil {
			errOut = err
			return false
		}

		out = append(out, vm.Entry{Key: binary.BigEndian.Uint64(key[len(prefix):]), Value: v})

		return true
	})
	if err != nil {
		return nil, err
	}

	return out, errOut
}

func (s *Store) Write(contract chainhash.Hash, address uint64, value *vm.Var) error {
	ck := cellKey(contract, address)

	prev, err := s.Read(contract, address)
	if err != nil {
		return err
	}

	if prev != nil && prev.Flags&vm.FLAG_KEY != 0 {
		if err = s.key.Delete(lookupKey(contract, prev)); err != nil {
			return err
		}
	}

	if value.IsNil() {
		return s.mem.Delete(ck)
	}

	if err = s.mem.Insert(ck, value.Bytes()); err != nil {
		return err
	}

	if value.Flags&vm.FLAG_KEY != 0 {
		return s.key.Insert(lookupKey(contract, value), binary.BigEndian.AppendUint64(nil, address))
	}

	return nil
}

func (s *Store) WriteEntry(contract chainhash.Hash, address, key uint64, value *vm.Var) error {
	ek := entryKey(contract, address, key)

	if value.IsNil() {
		return s.entry.Delete(ek)
	}

	return s.entry.Insert(ek, value.Bytes())
}

func (s *Store) Lookup(contract chainhash.Hash, value *vm.Var) (uint64, error) {
	data, err := s.key.Get(lookupKey(contract, value))
	if err != nil {
		return 0, err
	}

	if data == nil {
		return 0, nil
	}

	if len(data) != 8 {
		return 0, errors.NewStorageCorruptError("vm key index value of length %d", len(data))
	}

	return binary.BigEndian.Uint64(data), nil
}

func (s *Store) Commit() error {
	return s.db.Commit(s.db.Version() + 1)
}

func (s *Store) Revert(height uint32) error {
	return s.db.Revert(height)
}

func (s *Store) Height() uint32 {
	return s.db.Version()
}

// Dump returns every live cell and entry keyed by table name and key.
func (s *Store) Dump() (map[string][]byte, error) {
	out := make(map[string][]byte)
	version := s.db.Version()

	for name, table := range map[string]*lsm.Table{TableMemory: s.mem, TableEntry: s.entry} {
		err := table.Iterate(nil, version, func(key, value []byte) bool {
			out[name+"/"+string(key)] = bytes.Clone(value)
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

var _ vm.Storage = (*Store)(nil)
