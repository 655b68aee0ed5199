package memory

import (
	"testing"

	"github.com/madMAx43v3r/mmx-node-sub001/stores/vmstore/tests"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	tests.All(t, func(t *testing.T) vm.Storage { return New() })
}

func TestRevertFutureHeight(t *testing.T) {
	m := New()
	require.Error(t, m.Revert(1))
}

func TestPrune(t *testing.T) {
	m := New()

	require.NoError(t, m.Write(tests.ContractA, vm.STATIC_FIELDS, vm.Uint64(1)))
	require.NoError(t, m.Commit())
	require.NoError(t, m.Write(tests.ContractA, vm.STATIC_FIELDS, vm.Uint64(2)))
	require.NoError(t, m.Commit())

	m.Prune(1)
	require.Len(t, m.log, 1)

	require.NoError(t, m.Revert(1))

	v, err := m.Read(tests.ContractA, vm.STATIC_FIELDS)
	require.NoError(t, err)
	require.Equal(t, "1", v.String())
}

func TestDump(t *testing.T) {
	a, b := New(), New()

	for _, m := range []*Memory{a, b} {
		require.NoError(t, m.Write(tests.ContractA, vm.STATIC_FIELDS, vm.Uint64(1)))
		require.NoError(t, m.WriteEntry(tests.ContractA, vm.MEM_HEAP, 2, vm.String("x")))
	}

	require.Equal(t, a.Dump(), b.Dump())
	require.Len(t, a.Dump(), 2)

	require.NoError(t, b.Write(tests.ContractB, vm.STATIC_FIELDS, vm.Uint64(1)))
	require.NotEqual(t, a.Dump(), b.Dump())
}

func TestCounters(t *testing.T) {
	m := New()

	_, _ = m.Read(tests.ContractA, vm.STATIC_FIELDS)
	_ = m.Write(tests.ContractA, vm.STATIC_FIELDS, vm.Uint64(1))

	require.Equal(t, 1, m.Counters["read"])
	require.Equal(t, 1, m.Counters["write"])
}
