package lsm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/bsv-blockchain/go-wire"
	"github.com/cespare/xxhash"
	"github.com/greatroar/blobloom"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

var blockMagic = []byte("MMXLSMB1")

const (
	blockFooterSize = 16
	bloomFPRate     = 0.01
)

type blockEntry struct {
	key     []byte
	version uint32
	seq     uint64
	offset  int64
	size    int
	deleted bool
}

// block is an immutable sorted run on disk. Keys and positions are held in memory, values
// are read on demand. The table holds one reference, readers take their own while they
// use the file.
type block struct {
	level   int
	id      uint64
	created uint64
	path    string
	file    *os.File
	index   []blockEntry
	bloom   *blobloom.Filter
	refs    atomic.Int32
	remove  atomic.Bool
}

func blockFileName(level int, id uint64) string {
	return fmt.Sprintf("%d-%08d.blk", level, id)
}

// writeBlock persists entries, which must be sorted by lessEntry, and opens the result.
func writeBlock(dir string, level int, id uint64, entries []*entry) (*block, error) {
	path := filepath.Join(dir, blockFileName(level, id))
	tmp := path + ".tmp"

	file, err := os.Create(tmp)
	if err != nil {
		return nil, errors.NewStorageError("create block %s", tmp, err)
	}

	hasher := xxhash.New()
	w := bufio.NewWriter(io.MultiWriter(file, hasher))

	_, _ = w.Write(blockMagic)

	for _, e := range entries {
		if err = writeBlockRecord(w, e); err != nil {
			_ = file.Close()
			return nil, errors.NewStorageError("write block %s", tmp, err)
		}
	}

	if err = w.Flush(); err != nil {
		_ = file.Close()
		return nil, errors.NewStorageError("write block %s", tmp, err)
	}

	var footer [blockFooterSize]byte
	binary.LittleEndian.PutUint64(footer[:8], uint64(len(entries)))
	binary.LittleEndian.PutUint64(footer[8:], hasher.Sum64())

	if _, err = file.Write(footer[:]); err != nil {
		_ = file.Close()
		return nil, errors.NewStorageError("write block footer %s", tmp, err)
	}

	if err = file.Sync(); err != nil {
		_ = file.Close()
		return nil, errors.NewStorageError("sync block %s", tmp, err)
	}

	if err = file.Close(); err != nil {
		return nil, errors.NewStorageError("close block %s", tmp, err)
	}

	if err = os.Rename(tmp, path); err != nil {
		return nil, errors.NewStorageError("rename block %s", tmp, err)
	}

	return loadBlock(dir, level, id)
}

func writeBlockRecord(w io.Writer, e *entry) error {
	if err := wire.WriteVarBytes(w, 0, e.key); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, 0, uint64(e.version)); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, 0, e.seq); err != nil {
		return err
	}

	deleted := []byte{0}
	if e.deleted() {
		deleted[0] = 1
	}

	if _, err := w.Write(deleted); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, e.value)
}

// loadBlock verifies a block file and rebuilds its index and bloom filter.
func loadBlock(dir string, level int, id uint64) (*block, error) {
	path := filepath.Join(dir, blockFileName(level, id))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewStorageError("read block %s", path, err)
	}

	if len(data) < len(blockMagic)+blockFooterSize || !bytes.Equal(data[:len(blockMagic)], blockMagic) {
		return nil, errors.NewStorageCorruptError("block %s: bad header", path)
	}

	body := data[:len(data)-blockFooterSize]
	footer := data[len(data)-blockFooterSize:]

	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(footer[8:]) {
		return nil, errors.NewStorageCorruptError("block %s: checksum mismatch", path)
	}

	count, err := safeconversion.Uint64ToInt(binary.LittleEndian.Uint64(footer[:8]))
	if err != nil {
		return nil, errors.NewStorageCorruptError("block %s: bad count", path, err)
	}

	b := &block{
		level: level,
		id:    id,
		path:  path,
		index: make([]blockEntry, 0, count),
		bloom: blobloom.NewOptimized(blobloom.Config{Capacity: uint64(max(count, 1)), FPRate: bloomFPRate}),
	}

	r := bytes.NewReader(body[len(blockMagic):])

	for i := 0; i < count; i++ {
		be, err := readBlockRecord(r, int64(len(blockMagic)), len(body)-len(blockMagic))
		if err != nil {
			return nil, errors.NewStorageCorruptError("block %s: record %d", path, i, err)
		}

		b.index = append(b.index, be)
		b.bloom.Add(xxhash.Sum64(be.key))
	}

	if b.file, err = os.Open(path); err != nil {
		return nil, errors.NewStorageError("open block %s", path, err)
	}

	b.refs.Store(1)

	return b, nil
}

func readBlockRecord(r *bytes.Reader, base int64, total int) (blockEntry, error) {
	var be blockEntry

	key, err := wire.ReadVarBytes(r, 0, maxRecordSize, "key")
	if err != nil {
		return be, err
	}

	version, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return be, err
	}

	if be.seq, err = wire.ReadVarInt(r, 0); err != nil {
		return be, err
	}

	deleted, err := r.ReadByte()
	if err != nil {
		return be, err
	}

	size, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return be, err
	}

	if size > uint64(r.Len()) {
		return be, io.ErrUnexpectedEOF
	}

	be.key = key
	be.version = uint32(version) //nolint:gosec // written from a uint32
	be.deleted = deleted != 0
	be.size = int(size)
	be.offset = base + int64(total-r.Len())

	if _, err = r.Seek(int64(size), io.SeekCurrent); err != nil {
		return be, err
	}

	return be, nil
}

func (b *block) acquire() {
	b.refs.Add(1)
}

// release drops a reference. The last one closes the file, and deletes it if the block
// was superseded by a rewrite.
func (b *block) release() {
	if b.refs.Add(-1) != 0 {
		return
	}

	_ = b.file.Close()

	if b.remove.Load() {
		_ = os.Remove(b.path)
	}
}

func (b *block) mayContain(key []byte) bool {
	return b.bloom.Has(xxhash.Sum64(key))
}

// seek returns the position of the first index entry with key >= key.
func (b *block) seek(key []byte) int {
	return sort.Search(len(b.index), func(i int) bool {
		return bytes.Compare(b.index[i].key, key) >= 0
	})
}

func (b *block) readValue(be *blockEntry) ([]byte, error) {
	if be.deleted {
		return nil, nil
	}

	value := make([]byte, be.size)

	if _, err := b.file.ReadAt(value, be.offset); err != nil {
		return nil, errors.NewStorageError("read block %s at %d", b.path, be.offset, err)
	}

	return value, nil
}

// find returns the newest entry for key visible at maxVersion.
func (b *block) find(key []byte, maxVersion uint32, reverts revertList) (*entry, error) {
	if !b.mayContain(key) {
		return nil, nil
	}

	for i := b.seek(key); i < len(b.index) && bytes.Equal(b.index[i].key, key); i++ {
		be := &b.index[i]

		if be.version > maxVersion || !reverts.visible(be.version, be.seq) {
			continue
		}

		value, err := b.readValue(be)
		if err != nil {
			return nil, err
		}

		return &entry{key: be.key, value: value, version: be.version, seq: be.seq}, nil
	}

	return nil, nil
}

func (b *block) entry(i int) (*entry, error) {
	be := &b.index[i]

	value, err := b.readValue(be)
	if err != nil {
		return nil, err
	}

	return &entry{key: be.key, value: value, version: be.version, seq: be.seq}, nil
}
