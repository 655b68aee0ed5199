package db

import (
	"testing"

	"github.com/madMAx43v3r/mmx-node-sub001/stores/lsm"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/vmstore/tests"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, path string, opts ...lsm.Option) (*Store, *lsm.DataBase) {
	t.Helper()

	database, err := lsm.Open(ulogger.TestLogger{}, path, lsm.NewOptions(opts...), Tables...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = database.Close() })

	s, err := New(ulogger.TestLogger{}, database)
	require.NoError(t, err)

	return s, database
}

func TestStoreMemory(t *testing.T) {
	tests.All(t, func(t *testing.T) vm.Storage {
		s, _ := newStore(t, "")
		return s
	})
}

func TestStoreDisk(t *testing.T) {
	tests.All(t, func(t *testing.T) vm.Storage {
		s, _ := newStore(t, t.TempDir(), lsm.WithMaxBlockSize(1))
		return s
	})
}

func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()

	database, err := lsm.Open(ulogger.TestLogger{}, dir, lsm.NewOptions(), Tables...)
	require.NoError(t, err)

	s, err := New(ulogger.TestLogger{}, database)
	require.NoError(t, err)

	key := vm.String("owner")
	key.Flags = vm.FLAG_KEY

	require.NoError(t, s.Write(tests.ContractA, vm.MEM_HEAP, key))
	require.NoError(t, s.WriteEntry(tests.ContractA, vm.MEM_HEAP+1, 2, vm.Uint64(5)))
	require.NoError(t, s.Commit())

	// not committed, lost on restart
	require.NoError(t, s.Write(tests.ContractA, vm.STATIC_FIELDS, vm.Uint64(1)))
	require.NoError(t, database.Close())

	s, database = newStore(t, dir)

	assert.Equal(t, uint32(1), s.Height())

	address, err := s.Lookup(tests.ContractA, vm.String("owner"))
	require.NoError(t, err)
	assert.Equal(t, vm.MEM_HEAP, address)

	v, err := s.ReadEntry(tests.ContractA, vm.MEM_HEAP+1, 2)
	require.NoError(t, err)
	assert.Equal(t, "5", v.String())

	v, err = s.Read(tests.ContractA, vm.STATIC_FIELDS)
	require.NoError(t, err)
	assert.Nil(t, v)

	dump, err := s.Dump()
	require.NoError(t, err)
	assert.Len(t, dump, 2)
	assert.Equal(t, uint32(1), database.Version())
}
