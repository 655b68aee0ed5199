package lsm

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTable(t *testing.T, path string, opts ...Option) *Table {
	t.Helper()

	table, err := OpenTable(ulogger.TestLogger{}, path, NewOptions(opts...))
	require.NoError(t, err)

	return table
}

func reopen(t *testing.T, table *Table, opts ...Option) *Table {
	t.Helper()

	require.NoError(t, table.Close())

	return openTable(t, table.path, opts...)
}

func find(t *testing.T, table *Table, key string, version uint32) string {
	t.Helper()

	value, err := table.Find([]byte(key), version)
	require.NoError(t, err)

	if value == nil {
		return "<nil>"
	}

	return string(value)
}

func TestInsertFind(t *testing.T) {
	tests := []struct {
		name      string
		path      func(t *testing.T) string
		blockSize int
	}{
		{"memory", func(*testing.T) string { return "" }, DefaultMaxBlockSize},
		{"disk", func(t *testing.T) string { return t.TempDir() }, DefaultMaxBlockSize},
		{"flush every commit", func(t *testing.T) string { return t.TempDir() }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := openTable(t, tt.path(t), WithMaxBlockSize(tt.blockSize))
			defer table.Close()

			require.NoError(t, table.Insert([]byte("k"), []byte("v0")))
			require.Equal(t, "v0", find(t, table, "k", 0), "uncommitted writes are visible")
			require.NoError(t, table.Commit(1))

			require.NoError(t, table.Insert([]byte("k"), []byte("v1")))
			require.NoError(t, table.Commit(2))

			require.NoError(t, table.Delete([]byte("k")))
			require.NoError(t, table.Insert([]byte("e"), nil))
			require.NoError(t, table.Commit(3))

			assert.Equal(t, "v0", find(t, table, "k", 0))
			assert.Equal(t, "v1", find(t, table, "k", 1))
			assert.Equal(t, "<nil>", find(t, table, "k", 2))
			assert.Equal(t, "<nil>", find(t, table, "missing", 3))

			value, err := table.Get([]byte("e"))
			require.NoError(t, err)
			assert.NotNil(t, value, "empty values are not deletions")
			assert.Empty(t, value)

			assert.Equal(t, uint32(3), table.Version())
		})
	}
}

func TestCommitRevertBounds(t *testing.T) {
	table := openTable(t, "")

	require.NoError(t, table.Commit(5))

	err := table.Commit(4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	err = table.Revert(6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestRevertMemtable(t *testing.T) {
	table := openTable(t, "")

	for v := uint32(0); v < 3; v++ {
		require.NoError(t, table.Insert([]byte("k"), []byte(strconv.Itoa(int(v)))))
		require.NoError(t, table.Insert([]byte("k"+strconv.Itoa(int(v))), []byte("x")))
		require.NoError(t, table.Commit(v+1))
	}

	require.NoError(t, table.Revert(1))
	assert.Equal(t, uint32(1), table.Version())
	assert.Equal(t, "0", find(t, table, "k", 10))
	assert.Equal(t, "<nil>", find(t, table, "k1", 10))
	assert.Equal(t, "<nil>", find(t, table, "k2", 10))
	assert.Equal(t, 2, table.Stats().MemEntries)
	assert.Zero(t, table.Stats().Reverts, "no blocks to hide entries in")

	require.NoError(t, table.Insert([]byte("k"), []byte("new")))
	require.NoError(t, table.Commit(2))
	assert.Equal(t, "new", find(t, table, "k", 1))
}

func TestRevertUncommitted(t *testing.T) {
	table := openTable(t, "")

	require.NoError(t, table.Insert([]byte("k"), []byte("a")))
	require.NoError(t, table.Commit(1))

	require.NoError(t, table.Insert([]byte("k"), []byte("b")))
	require.NoError(t, table.Revert(1))

	assert.Equal(t, "a", find(t, table, "k", 10))
}

func TestRevertAcrossBlocks(t *testing.T) {
	table := openTable(t, t.TempDir(), WithMaxBlockSize(1))

	require.NoError(t, table.Insert([]byte("a"), []byte("1")))
	require.NoError(t, table.Commit(1))
	require.NoError(t, table.Insert([]byte("a"), []byte("2")))
	require.NoError(t, table.Commit(2))

	require.Equal(t, []int{2}, table.Stats().Blocks)

	require.NoError(t, table.Revert(1))
	assert.Equal(t, "1", find(t, table, "a", 10))
	assert.Equal(t, 1, table.Stats().Reverts)

	table = reopen(t, table, WithMaxBlockSize(1))
	defer table.Close()

	assert.Equal(t, uint32(1), table.Version())
	assert.Equal(t, "1", find(t, table, "a", 10), "revert survives a restart")

	require.NoError(t, table.Insert([]byte("a"), []byte("3")))
	require.NoError(t, table.Commit(2))

	assert.Equal(t, "3", find(t, table, "a", 10))
	assert.Equal(t, "1", find(t, table, "a", 0))
	assert.Equal(t, []int{3}, table.Stats().Blocks)
}

func TestRewrite(t *testing.T) {
	table := openTable(t, t.TempDir(), WithMaxBlockSize(1), WithLevelFactor(2))
	defer table.Close()

	for v := uint32(0); v < 4; v++ {
		require.NoError(t, table.Insert([]byte("k"), []byte(strconv.Itoa(int(v)))))
		require.NoError(t, table.Commit(v+1))
	}

	require.Equal(t, []int{0, 0, 1}, table.Stats().Blocks)

	for v := uint32(0); v < 4; v++ {
		assert.Equal(t, strconv.Itoa(int(v)), find(t, table, "k", v), "history is kept until finalized")
	}

	require.NoError(t, table.Finalize(2))
	require.NoError(t, table.Rewrite(2))
	require.Equal(t, []int{0, 0, 0, 1}, table.Stats().Blocks)

	assert.Equal(t, "3", find(t, table, "k", 3))
	assert.Equal(t, "2", find(t, table, "k", 2))
	assert.Equal(t, "<nil>", find(t, table, "k", 1), "shadowed entries below the final version are dropped")

	files, err := filepath.Glob(filepath.Join(table.path, "*.blk"))
	require.NoError(t, err)
	assert.Len(t, files, 1, "merged blocks are removed")
}

func TestRewriteDropsTombstones(t *testing.T) {
	table := openTable(t, t.TempDir(), WithMaxBlockSize(1))
	defer table.Close()

	require.NoError(t, table.Insert([]byte("a"), []byte("1")))
	require.NoError(t, table.Insert([]byte("b"), []byte("1")))
	require.NoError(t, table.Commit(1))
	require.NoError(t, table.Delete([]byte("a")))
	require.NoError(t, table.Commit(2))
	require.NoError(t, table.Finalize(2))

	require.NoError(t, table.Rewrite(0))

	var keys []string

	require.NoError(t, table.Iterate(nil, 10, func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))

	assert.Equal(t, []string{"b"}, keys)
	assert.Len(t, table.levels[1][0].index, 1)
}

func TestCrashReplay(t *testing.T) {
	table := openTable(t, t.TempDir())

	require.NoError(t, table.Insert([]byte("a"), []byte("1")))
	require.NoError(t, table.Commit(1))
	require.NoError(t, table.Insert([]byte("b"), []byte("1")))

	table = reopen(t, table)

	assert.Equal(t, uint32(1), table.Version())
	assert.Equal(t, "1", find(t, table, "a", 10))
	assert.Equal(t, "<nil>", find(t, table, "b", 10), "uncommitted writes are dropped")

	require.NoError(t, table.Insert([]byte("c"), []byte("1")))
	require.NoError(t, table.Commit(2))

	table = reopen(t, table)
	defer table.Close()

	assert.Equal(t, uint32(2), table.Version())
	assert.Equal(t, "<nil>", find(t, table, "b", 10))
	assert.Equal(t, "1", find(t, table, "c", 10))
}

func TestTornWAL(t *testing.T) {
	table := openTable(t, t.TempDir())

	require.NoError(t, table.Insert([]byte("a"), []byte("1")))
	require.NoError(t, table.Commit(1))
	require.NoError(t, table.Close())

	f, err := os.OpenFile(filepath.Join(table.path, walFileName), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x05, 0x01})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	table = openTable(t, table.path)
	assert.Equal(t, "1", find(t, table, "a", 10))

	require.NoError(t, table.Insert([]byte("b"), []byte("2")))
	require.NoError(t, table.Commit(2))

	table = reopen(t, table)
	defer table.Close()

	assert.Equal(t, "2", find(t, table, "b", 10), "writes after a torn tail are replayed")
}

func TestCorruptBlock(t *testing.T) {
	dir := t.TempDir()
	table := openTable(t, dir, WithMaxBlockSize(1))

	require.NoError(t, table.Insert([]byte("key"), []byte("value")))
	require.NoError(t, table.Commit(1))
	require.NoError(t, table.Close())

	path := filepath.Join(dir, blockFileName(0, 0))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	data[len(blockMagic)+2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = OpenTable(ulogger.TestLogger{}, dir, NewOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageCorrupt))
}

func TestStrayFilesRemoved(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, blockFileName(0, 7)), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json.tmp"), []byte("junk"), 0o644))

	table := openTable(t, dir)
	defer table.Close()

	files, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, f := range files {
		assert.NotEqual(t, blockFileName(0, 7), f.Name())
		assert.NotEqual(t, "meta.json.tmp", f.Name())
	}
}

func TestIterate(t *testing.T) {
	table := openTable(t, t.TempDir(), WithMaxBlockSize(1))
	defer table.Close()

	// version 0, flushed
	require.NoError(t, table.Insert([]byte("a/1"), []byte("x")))
	require.NoError(t, table.Insert([]byte("a/2"), []byte("x")))
	require.NoError(t, table.Insert([]byte("a/3"), []byte("x")))
	require.NoError(t, table.Insert([]byte("b/1"), []byte("x")))
	require.NoError(t, table.Commit(1))

	// version 1, flushed
	require.NoError(t, table.Insert([]byte("a/2"), []byte("y")))
	require.NoError(t, table.Delete([]byte("a/3")))
	require.NoError(t, table.Commit(2))

	// version 2, in the memtable
	require.NoError(t, table.Insert([]byte("a/0"), []byte("z")))
	require.NoError(t, table.Insert([]byte("a/1"), []byte("z")))

	collect := func(prefix string, version uint32) []string {
		var out []string

		require.NoError(t, table.Iterate([]byte(prefix), version, func(key, value []byte) bool {
			out = append(out, string(key)+"="+string(value))
			return true
		}))

		return out
	}

	assert.Equal(t, []string{"a/0=z", "a/1=z", "a/2=y"}, collect("a/", 2))
	assert.Equal(t, []string{"a/1=x", "a/2=y"}, collect("a/", 1))
	assert.Equal(t, []string{"a/1=x", "a/2=x", "a/3=x"}, collect("a/", 0))
	assert.Equal(t, []string{"b/1=x"}, collect("b/", 2))
	assert.Len(t, collect("", 2), 4)

	var n int

	require.NoError(t, table.Iterate([]byte("a/"), 2, func(_, _ []byte) bool {
		n++
		return n < 2
	}))
	assert.Equal(t, 2, n)
}

func TestBloomFilter(t *testing.T) {
	table := openTable(t, t.TempDir(), WithMaxBlockSize(1))
	defer table.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, table.Insert([]byte("key"+strconv.Itoa(i)), []byte("v")))
	}

	require.NoError(t, table.Commit(1))

	b := table.levels[0][0]

	for i := 0; i < 100; i++ {
		assert.True(t, b.mayContain([]byte("key"+strconv.Itoa(i))))
	}

	misses := 0

	for i := 100; i < 1100; i++ {
		if !b.mayContain([]byte("key" + strconv.Itoa(i))) {
			misses++
		}
	}

	assert.Greater(t, misses, 900)
}

func TestWALRecordDecode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, walFileName)

	l, err := openWAL(path, true)
	require.NoError(t, err)

	records := []walRecord{
		{kind: walInsert, version: 3, seq: 9, key: []byte("k"), value: []byte("v")},
		{kind: walInsert, version: 3, seq: 10, key: []byte("k")},
		{kind: walCommit, version: 4},
		{kind: walRevert, version: 2, seq: 10},
	}

	for _, rec := range records {
		require.NoError(t, l.append(rec))
	}

	require.NoError(t, l.close())

	var replayed []walRecord

	torn, err := replayWAL(path, func(rec walRecord) {
		replayed = append(replayed, rec)
	})
	require.NoError(t, err)
	assert.False(t, torn)
	assert.Equal(t, records, replayed)
}
