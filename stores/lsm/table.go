// Package lsm is a versioned log-structured merge table. Writes go to an ordered memtable
// backed by a write-ahead log and are flushed to immutable level 0 block files once the
// memtable outgrows Options.MaxBlockSize. Levels that collect Options.LevelFactor blocks
// are merged into a single block on the next level.
//
// Every entry carries the table version it was written at. Find and Iterate can read the
// table as of any version, and Revert(version) hides everything written at or above it
// without rewriting block files.
package lsm

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
)

const memDegree = 32

type Table struct {
	logger ulogger.Logger
	path   string
	opts   Options

	// writeMu serializes writers. Block files are written without holding mu.
	writeMu sync.Mutex

	// mu guards the memtable and the block index.
	mu        sync.RWMutex
	mem       *btree.BTreeG[*entry]
	memSize   int
	levels    [][]*block
	reverts   revertList
	seq       uint64
	commitSeq uint64
	version   uint32
	final     uint32
	committed bool
	nextBlock uint64

	wal *wal
}

// Stats is a point in time view of the table layout.
type Stats struct {
	Version    uint32
	MemEntries int
	MemBytes   int
	Blocks     []int
	Reverts    int
}

// OpenTable opens the table stored in path, creating it if needed. An empty path gives a
// table that lives in memory only.
func OpenTable(logger ulogger.Logger, path string, opts Options) (*Table, error) {
	initPrometheusMetrics()

	t := &Table{
		logger: logger,
		path:   path,
		opts:   opts,
		mem:    btree.NewG[*entry](memDegree, lessEntry),
	}

	if path == "" {
		return t, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.NewStorageError("create table dir %s", path, err)
	}

	if err := t.load(); err != nil {
		t.releaseBlocks()
		return nil, err
	}

	return t, nil
}

func (t *Table) load() error {
	meta, err := readMeta(t.path)
	if err != nil {
		return err
	}

	t.version = meta.Version
	t.seq = meta.Seq
	t.final = meta.Final
	t.committed = meta.Committed
	t.nextBlock = meta.NextBlock
	t.reverts = meta.Reverts

	known := make(map[string]struct{})

	for level, blocks := range meta.Levels {
		t.levels = append(t.levels, nil)

		for _, bm := range blocks {
			b, err := loadBlock(t.path, level, bm.ID)
			if err != nil {
				return err
			}

			b.created = bm.Created
			t.levels[level] = append(t.levels[level], b)
			known[blockFileName(level, bm.ID)] = struct{}{}
		}
	}

	t.removeStrayFiles(known)

	var (
		pending []walRecord
		replay  int
	)

	walPath := filepath.Join(t.path, walFileName)

	torn, err := replayWAL(walPath, func(rec walRecord) {
		replay++

		switch rec.kind {
		case walInsert:
			pending = append(pending, rec)

			if rec.seq > t.seq {
				t.seq = rec.seq
			}
		case walCommit:
			for _, p := range pending {
				t.memInsert(&entry{key: p.key, value: p.value, version: p.version, seq: p.seq})
			}

			pending = pending[:0]
			t.version = rec.version
			t.commitSeq = t.seq
			t.committed = true
		case walRevert:
			pending = pending[:0]
			t.applyRevert(rec.version, rec.seq)
		}
	})
	if err != nil {
		return err
	}

	t.commitSeq = t.seq

	if t.wal, err = openWAL(walPath, t.opts.SyncWAL); err != nil {
		return err
	}

	if torn || len(pending) > 0 {
		t.logger.Warnf("[lsm] %s: dropping %d uncommitted wal records (torn tail: %v)", t.path, len(pending), torn)

		if err = t.saveMeta(); err != nil {
			return err
		}

		if err = t.rewriteWAL(); err != nil {
			return err
		}
	}

	t.logger.Debugf("[lsm] opened %s at version %d, %d wal records, %d memtable entries", t.path, t.version, replay, t.mem.Len())

	return nil
}

func (t *Table) removeStrayFiles(known map[string]struct{}) {
	files, err := os.ReadDir(t.path)
	if err != nil {
		return
	}

	for _, f := range files {
		name := f.Name()

		stray := strings.HasSuffix(name, ".tmp")
		if strings.HasSuffix(name, ".blk") {
			_, ok := known[name]
			stray = !ok
		}

		if stray {
			t.logger.Infof("[lsm] %s: removing stray file %s", t.path, name)
			_ = os.Remove(filepath.Join(t.path, name))
		}
	}
}

// rewriteWAL replaces the log with the current memtable.
func (t *Table) rewriteWAL() error {
	if err := t.wal.reset(); err != nil {
		return err
	}

	var err error

	t.mem.Ascend(func(e *entry) bool {
		err = t.wal.append(walRecord{kind: walInsert, version: e.version, seq: e.seq, key: e.key, value: e.value})
		return err == nil
	})

	if err != nil {
		return err
	}

	if t.committed {
		if err = t.wal.append(walRecord{kind: walCommit, version: t.version}); err != nil {
			return err
		}
	}

	return t.wal.flush(true)
}

func (t *Table) memInsert(e *entry) {
	if prev, ok := t.mem.ReplaceOrInsert(e); ok {
		t.memSize -= prev.size()
	}

	t.memSize += e.size()
}

// Insert writes value under key at the current version. A nil value is stored as empty.
func (t *Table) Insert(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}

	return t.write(key, value)
}

func (t *Table) Delete(key []byte) error {
	return t.write(key, nil)
}

func (t *Table) write(key, value []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	e := &entry{
		key:     bytes.Clone(key),
		value:   bytes.Clone(value),
		version: t.version,
		seq:     t.seq + 1,
	}
	t.mu.RUnlock()

	if t.wal != nil {
		if err := t.wal.append(walRecord{kind: walInsert, version: e.version, seq: e.seq, key: e.key, value: e.value}); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.seq = e.seq
	t.memInsert(e)
	t.mu.Unlock()

	return nil
}

// Find returns the newest value of key written at or below maxVersion, nil if there is
// none or it was deleted.
func (t *Table) Find(key []byte, maxVersion uint32) ([]byte, error) {
	t.mu.RLock()

	var found *entry

	t.mem.AscendGreaterOrEqual(&entry{key: key, seq: math.MaxUint64}, func(e *entry) bool {
		if !bytes.Equal(e.key, key) {
			return false
		}

		if e.version <= maxVersion && t.reverts.visible(e.version, e.seq) {
			found = e
			return false
		}

		return true
	})

	if found != nil {
		t.mu.RUnlock()
		return bytes.Clone(found.value), nil
	}

	blocks, reverts := t.snapshot()
	t.mu.RUnlock()

	defer releaseAll(blocks)

	for _, b := range blocks {
		e, err := b.find(key, maxVersion, reverts)
		if err != nil {
			return nil, err
		}

		if e != nil {
			return e.value, nil
		}
	}

	return nil, nil
}

// Get returns the newest value of key.
func (t *Table) Get(key []byte) ([]byte, error) {
	return t.Find(key, math.MaxUint32)
}

// Iterate calls fn in key order for every live key starting with prefix, with its newest
// value at or below maxVersion. Returning false from fn stops the iteration.
func (t *Table) Iterate(prefix []byte, maxVersion uint32, fn func(key, value []byte) bool) error {
	t.mu.RLock()

	var mem []*entry

	t.mem.AscendGreaterOrEqual(&entry{key: prefix, seq: math.MaxUint64}, func(e *entry) bool {
		if !bytes.HasPrefix(e.key, prefix) {
			return false
		}

		mem = append(mem, e)

		return true
	})

	blocks, reverts := t.snapshot()
	t.mu.RUnlock()

	defer releaseAll(blocks)

	sources := make([]*source, 0, len(blocks)+1)
	sources = append(sources, &source{mem: mem, end: len(mem)})

	for _, b := range blocks {
		begin, end := b.prefixRange(prefix)
		sources = append(sources, &source{blk: b, pos: begin, end: end})
	}

	var last []byte

	for m := newMerger(sources); m.valid(); m.next() {
		s := m.top()

		if last != nil && bytes.Equal(s.key(), last) {
			continue
		}

		if s.version() > maxVersion || !reverts.visible(s.version(), s.seq()) {
			continue
		}

		last = s.key()

		if s.deleted() {
			continue
		}

		e, err := s.entry()
		if err != nil {
			return err
		}

		if !fn(bytes.Clone(e.key), bytes.Clone(e.value)) {
			return nil
		}
	}

	return nil
}

// snapshot returns the blocks newest first, each acquired. mu must be held.
func (t *Table) snapshot() ([]*block, revertList) {
	var blocks []*block

	for _, level := range t.levels {
		for i := len(level) - 1; i >= 0; i-- {
			level[i].acquire()
			blocks = append(blocks, level[i])
		}
	}

	return blocks, t.reverts
}

func releaseAll(blocks []*block) {
	for _, b := range blocks {
		b.release()
	}
}

// Commit makes all writes durable and moves the table to version. Writes made after this
// carry the new version.
func (t *Table) Commit(version uint32) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	current := t.version
	t.mu.RUnlock()

	if version < current {
		return errors.NewInvalidArgumentError("cannot commit version %d below current version %d", version, current)
	}

	if t.wal != nil {
		if err := t.wal.append(walRecord{kind: walCommit, version: version}); err != nil {
			return err
		}

		if err := t.wal.flush(false); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.version = version
	t.commitSeq = t.seq
	t.committed = true
	size := t.memSize
	t.mu.Unlock()

	if t.path != "" && size >= t.opts.MaxBlockSize {
		return t.flush()
	}

	return nil
}

// Revert hides every write made at or above version and moves the table back to it.
// Uncommitted writes are dropped as well.
func (t *Table) Revert(version uint32) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	current, seq := t.version, t.seq
	t.mu.RUnlock()

	if version > current {
		return errors.NewInvalidArgumentError("cannot revert to version %d above current version %d", version, current)
	}

	if t.wal != nil {
		if err := t.wal.append(walRecord{kind: walRevert, version: version, seq: seq}); err != nil {
			return err
		}

		if err := t.wal.flush(true); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.applyRevert(version, seq)
	t.mu.Unlock()

	prometheusLSMRevert.Inc()

	return nil
}

// applyRevert drops memtable entries at or above version and records a revert point for
// the blocks. mu must be held.
func (t *Table) applyRevert(version uint32, seq uint64) {
	var drop []*entry

	t.mem.Ascend(func(e *entry) bool {
		if e.version >= version && e.seq <= seq {
			drop = append(drop, e)
		}

		return true
	})

	for _, e := range drop {
		t.mem.Delete(e)
		t.memSize -= e.size()
	}

	if t.numBlocks() > 0 {
		t.reverts = append(t.reverts, revertPoint{Version: version, Seq: seq})
	}

	t.version = version
	t.commitSeq = t.seq
}

// Finalize declares that no revert will go below version, allowing merges to drop entries
// shadowed at or below it.
func (t *Table) Finalize(version uint32) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	if version > t.final {
		t.final = version
	}
	t.mu.Unlock()

	if t.path == "" {
		return nil
	}

	return t.saveMeta()
}

// Flush writes the committed part of the memtable to a level 0 block.
func (t *Table) Flush() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.path == "" {
		return nil
	}

	return t.flush()
}

func (t *Table) flush() error {
	start := time.Now()

	var committed, uncommitted []*entry

	t.mu.RLock()
	t.mem.Ascend(func(e *entry) bool {
		if e.seq <= t.commitSeq {
			committed = append(committed, e)
		} else {
			uncommitted = append(uncommitted, e)
		}

		return true
	})

	id := t.nextBlock
	created := t.seq
	t.mu.RUnlock()

	if len(committed) == 0 {
		return nil
	}

	b, err := writeBlock(t.path, 0, id, committed)
	if err != nil {
		return err
	}

	b.created = created

	t.mu.Lock()
	t.nextBlock++

	if len(t.levels) == 0 {
		t.levels = append(t.levels, nil)
	}

	t.levels[0] = append(t.levels[0], b)

	for _, e := range committed {
		t.mem.Delete(e)
		t.memSize -= e.size()
	}
	t.mu.Unlock()

	if err = t.saveMeta(); err != nil {
		return err
	}

	if err = t.wal.reset(); err != nil {
		return err
	}

	for _, e := range uncommitted {
		if err = t.wal.append(walRecord{kind: walInsert, version: e.version, seq: e.seq, key: e.key, value: e.value}); err != nil {
			return err
		}
	}

	if err = t.wal.flush(true); err != nil {
		return err
	}

	prometheusLSMFlush.Observe(time.Since(start).Seconds())
	prometheusLSMFlushEntries.Add(float64(len(committed)))

	t.logger.Debugf("[lsm] %s: flushed %d entries to %s", t.path, len(committed), blockFileName(0, id))

	return t.compact()
}

// compact merges every level holding LevelFactor blocks or more.
func (t *Table) compact() error {
	for level := 0; ; level++ {
		t.mu.RLock()
		if level >= len(t.levels) {
			t.mu.RUnlock()
			return nil
		}

		full := len(t.levels[level]) >= t.opts.LevelFactor
		t.mu.RUnlock()

		if full {
			if err := t.rewrite(level); err != nil {
				return err
			}
		}
	}
}

// Rewrite merges all blocks of level into one block on the next level.
func (t *Table) Rewrite(level int) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.path == "" {
		return nil
	}

	return t.rewrite(level)
}

func (t *Table) rewrite(level int) error {
	start := time.Now()

	target := min(level+1, maxLevels-1)

	t.mu.RLock()
	if level >= len(t.levels) || len(t.levels[level]) == 0 {
		t.mu.RUnlock()
		return nil
	}

	blocks := append([]*block(nil), t.levels[level]...)
	for _, b := range blocks {
		b.acquire()
	}

	dropTombstones := true

	for l := level + 1; l < len(t.levels); l++ {
		if len(t.levels[l]) > 0 {
			dropTombstones = false
		}
	}

	reverts, final, id, created := t.reverts, t.final, t.nextBlock, t.seq
	t.mu.RUnlock()

	defer releaseAll(blocks)

	sources := make([]*source, 0, len(blocks))
	for _, b := range blocks {
		sources = append(sources, &source{blk: b, end: len(b.index)})
	}

	var (
		out       []*entry
		last      []byte
		keptFinal bool
		dropped   int
	)

	for m := newMerger(sources); m.valid(); m.next() {
		s := m.top()

		if last == nil || !bytes.Equal(s.key(), last) {
			last = s.key()
			keptFinal = false
		}

		keep := true

		switch {
		case !reverts.visible(s.version(), s.seq()):
			keep = false
		case keptFinal:
			keep = false
		case s.version() <= final:
			keptFinal = true
			keep = !(s.deleted() && dropTombstones)
		}

		if !keep {
			dropped++
			continue
		}

		e, err := s.entry()
		if err != nil {
			return err
		}

		out = append(out, e)
	}

	var merged *block

	if len(out) > 0 {
		var err error

		if merged, err = writeBlock(t.path, target, id, out); err != nil {
			return err
		}

		merged.created = created
	}

	t.mu.Lock()
	t.nextBlock++
	t.levels[level] = append([]*block(nil), t.levels[level][len(blocks):]...)

	if merged != nil {
		for len(t.levels) <= target {
			t.levels = append(t.levels, nil)
		}

		t.levels[target] = append(t.levels[target], merged)
	}
	t.mu.Unlock()

	if err := t.saveMeta(); err != nil {
		return err
	}

	// the table's own reference, files go away once readers are done
	for _, b := range blocks {
		b.remove.Store(true)
		b.release()
	}

	prometheusLSMRewrite.Observe(time.Since(start).Seconds())

	t.logger.Infof("[lsm] %s: merged %d blocks of level %d into level %d, kept %d entries, dropped %d",
		t.path, len(blocks), level, target, len(out), dropped)

	return nil
}

func (t *Table) numBlocks() int {
	n := 0
	for _, level := range t.levels {
		n += len(level)
	}

	return n
}

// saveMeta prunes revert points that no block predates and writes meta.json.
func (t *Table) saveMeta() error {
	t.mu.Lock()

	oldest := uint64(math.MaxUint64)

	meta := &tableMeta{
		Version:   t.version,
		Seq:       t.seq,
		Final:     t.final,
		Committed: t.committed,
		NextBlock: t.nextBlock,
		Levels:    make([][]blockMeta, len(t.levels)),
	}

	for level, blocks := range t.levels {
		meta.Levels[level] = make([]blockMeta, 0, len(blocks))

		for _, b := range blocks {
			meta.Levels[level] = append(meta.Levels[level], blockMeta{ID: b.id, Created: b.created})
			oldest = min(oldest, b.created)
		}
	}

	var reverts revertList

	for _, p := range t.reverts {
		if p.Seq >= oldest {
			reverts = append(reverts, p)
		}
	}

	t.reverts = reverts
	meta.Reverts = reverts
	t.mu.Unlock()

	return writeMeta(t.path, meta)
}

func (t *Table) Version() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.version
}

// Committed reports whether the table has seen at least one commit.
func (t *Table) Committed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.committed
}

func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{
		Version:    t.version,
		MemEntries: t.mem.Len(),
		MemBytes:   t.memSize,
		Reverts:    len(t.reverts),
	}

	for _, level := range t.levels {
		s.Blocks = append(s.Blocks, len(level))
	}

	return s
}

func (t *Table) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var err error

	if t.wal != nil {
		err = t.wal.close()
		t.wal = nil
	}

	t.releaseBlocks()

	return err
}

func (t *Table) releaseBlocks() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, level := range t.levels {
		releaseAll(level)
	}

	t.levels = nil
}
