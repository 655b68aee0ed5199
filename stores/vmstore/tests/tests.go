// Package tests holds behaviour every vm.Storage backend must share. Backend packages call
// these from their own _test files.
package tests

import (
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
	"github.com/stretchr/testify/require"
)

var (
	ContractA = chainhash.HashH([]byte("contract-a"))
	ContractB = chainhash.HashH([]byte("contract-b"))
)

func keyVar(v *vm.Var) *vm.Var {
	v.Flags = vm.FLAG_KEY
	return v
}

// ReadWrite checks point reads, overwrites, deletion and contract isolation.
func ReadWrite(t *testing.T, s vm.Storage) {
	v, err := s.Read(ContractA, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, s.Write(ContractA, vm.STATIC_FIELDS, vm.Uint64(42)))
	require.NoError(t, s.Write(ContractB, vm.STATIC_FIELDS, vm.String("b")))

	v, err = s.Read(ContractA, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Equal(t, "42", v.String())

	v, err = s.Read(ContractB, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Equal(t, "b", v.String())

	require.NoError(t, s.Write(ContractA, vm.STATIC_FIELDS, vm.Uint64(43)))

	v, err = s.Read(ContractA, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Equal(t, "43", v.String())

	require.NoError(t, s.Write(ContractA, vm.STATIC_FIELDS, nil))

	v, err = s.Read(ContractA, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Nil(t, v)

	refCounted := vm.Array(vm.MEM_HEAP)
	refCounted.Size = 3
	refCounted.RefCount = 2
	require.NoError(t, s.Write(ContractA, vm.MEM_HEAP, refCounted))

	v, err = s.Read(ContractA, vm.MEM_HEAP)
	require.NoError(t, err)
	require.Equal(t, vm.TYPE_ARRAY, v.Type)
	require.Equal(t, uint64(3), v.Size)
	require.Equal(t, uint32(2), v.RefCount)
}

// Entries checks container entries and their listing order.
func Entries(t *testing.T, s vm.Storage) {
	address := vm.MEM_HEAP + 10

	for _, key := range []uint64{5, 1, 3} {
		require.NoError(t, s.WriteEntry(ContractA, address, key, vm.Uint64(key*10)))
	}

	v, err := s.ReadEntry(ContractA, address, 3)
	require.NoError(t, err)
	require.Equal(t, "30", v.String())

	v, err = s.ReadEntry(ContractA, address, 4)
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = s.ReadEntry(ContractB, address, 3)
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, s.WriteEntry(ContractA, address, 5, nil))

	entries, err := s.ReadEntries(ContractA, address)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(1), entries[0].Key)
	require.Equal(t, uint64(3), entries[1].Key)
	require.Equal(t, "10", entries[0].Value.String())
}

// Lookup checks the reverse index of key vars.
func Lookup(t *testing.T, s vm.Storage) {
	address, err := s.Lookup(ContractA, vm.String("alice"))
	require.NoError(t, err)
	require.Zero(t, address)

	require.NoError(t, s.Write(ContractA, vm.MEM_HEAP+7, keyVar(vm.String("alice"))))
	require.NoError(t, s.Write(ContractA, vm.MEM_HEAP+8, vm.String("bob")))

	address, err = s.Lookup(ContractA, vm.String("alice"))
	require.NoError(t, err)
	require.Equal(t, vm.MEM_HEAP+7, address)

	address, err = s.Lookup(ContractA, vm.String("bob"))
	require.NoError(t, err)
	require.Zero(t, address, "only key vars are indexed")

	address, err = s.Lookup(ContractB, vm.String("alice"))
	require.NoError(t, err)
	require.Zero(t, address)

	v, err := s.Read(ContractA, vm.MEM_HEAP+7)
	require.NoError(t, err)
	require.Equal(t, vm.FLAG_KEY, v.Flags&vm.FLAG_KEY)
}

// CommitRevert checks that Revert(h) undoes exactly the writes made at heights >= h.
func CommitRevert(t *testing.T, s vm.Storage) {
	start := s.Height()

	require.NoError(t, s.Write(ContractA, vm.STATIC_FIELDS, vm.Uint64(1)))
	require.NoError(t, s.WriteEntry(ContractA, vm.MEM_HEAP, 0, vm.String("first")))
	require.NoError(t, s.Commit())
	require.Equal(t, start+1, s.Height())

	require.NoError(t, s.Write(ContractA, vm.STATIC_FIELDS, vm.Uint64(2)))
	require.NoError(t, s.Write(ContractA, vm.STATIC_FIELDS+1, vm.Uint64(7)))
	require.NoError(t, s.WriteEntry(ContractA, vm.MEM_HEAP, 0, nil))
	require.NoError(t, s.WriteEntry(ContractA, vm.MEM_HEAP, 1, vm.String("second")))
	require.NoError(t, s.Write(ContractA, vm.MEM_HEAP+1, keyVar(vm.String("k"))))
	require.NoError(t, s.Commit())

	require.NoError(t, s.Write(ContractA, vm.STATIC_FIELDS, vm.Uint64(3)))
	require.NoError(t, s.Commit())
	require.Equal(t, start+3, s.Height())

	v, err := s.Read(ContractA, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Equal(t, "3", v.String())

	require.NoError(t, s.Revert(start+1))
	require.Equal(t, start+1, s.Height())

	v, err = s.Read(ContractA, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Equal(t, "1", v.String())

	v, err = s.Read(ContractA, vm.STATIC_FIELDS+1)
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = s.ReadEntry(ContractA, vm.MEM_HEAP, 0)
	require.NoError(t, err)
	require.Equal(t, "first", v.String())

	entries, err := s.ReadEntries(ContractA, vm.MEM_HEAP)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	address, err := s.Lookup(ContractA, vm.String("k"))
	require.NoError(t, err)
	require.Zero(t, address)

	// history can be rewritten after a revert
	require.NoError(t, s.Write(ContractA, vm.STATIC_FIELDS, vm.Uint64(9)))
	require.NoError(t, s.Commit())

	v, err = s.Read(ContractA, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Equal(t, "9", v.String())

	require.NoError(t, s.Revert(start))

	v, err = s.Read(ContractA, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Nil(t, v)
}

// All runs every shared check, each against a fresh store.
func All(t *testing.T, newStore func(t *testing.T) vm.Storage) {
	t.Run("read write", func(t *testing.T) { ReadWrite(t, newStore(t)) })
	t.Run("entries", func(t *testing.T) { Entries(t, newStore(t)) })
	t.Run("lookup", func(t *testing.T) { Lookup(t, newStore(t)) })
	t.Run("commit revert", func(t *testing.T) { CommitRevert(t, newStore(t)) })
}
