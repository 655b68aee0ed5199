package vm

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Entry is one element of an array or map, keyed by index or key address.
type Entry struct {
	Key   uint64
	Value *Var
}

// Storage persists contract memory. Reads return nil for missing values, writing nil or NIL
// deletes. Writes land at Height() and become immutable on Commit, Revert(height) undoes
// every write made at or above height.
type Storage interface {
	Read(contract chainhash.Hash, address uint64) (*Var, error)
	ReadEntry(contract chainhash.Hash, address, key uint64) (*Var, error)
	ReadEntries(contract chainhash.Hash, address uint64) ([]Entry, error)
	Write(contract chainhash.Hash, address uint64, value *Var) error
	WriteEntry(contract chainhash.Hash, address, key uint64, value *Var) error

	// Lookup returns the address of the key var equal to value, 0 if there is none.
	// Vars written with FLAG_KEY are indexed.
	Lookup(contract chainhash.Hash, value *Var) (uint64, error)

	Commit() error
	Revert(height uint32) error
	Height() uint32
}
