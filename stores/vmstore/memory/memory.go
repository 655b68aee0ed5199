// Package memory is a map backed vm.Storage without persistence. Writes are recorded in a
// per-height undo log so that Revert only touches keys written since the target height.
package memory

import (
	"sort"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
)

type cellKey struct {
	contract chainhash.Hash
	address  uint64
}

type lookupKey struct {
	contract chainhash.Hash
	value    string
}

type undo struct {
	height  uint32
	cell    cellKey
	key     uint64
	isEntry bool
	prev    *vm.Var
}

type Memory struct {
	mu      sync.RWMutex
	height  uint32
	cells   map[cellKey]*vm.Var
	entries map[cellKey]map[uint64]*vm.Var
	lookup  map[lookupKey]uint64
	log     []undo

	Counters   map[string]int
	countersMu sync.Mutex
}

func New() *Memory {
	return &Memory{
		cells:    make(map[cellKey]*vm.Var),
		entries:  make(map[cellKey]map[uint64]*vm.Var),
		lookup:   make(map[lookupKey]uint64),
		Counters: make(map[string]int),
	}
}

func (m *Memory) count(op string) {
	m.countersMu.Lock()
	m.Counters[op]++
	m.countersMu.Unlock()
}

func clone(v *vm.Var) *vm.Var {
	if v == nil {
		return nil
	}

	out := v.Clone()
	out.Flags = v.Flags & vm.FLAG_KEY

	return out
}

func (m *Memory) Read(contract chainhash.Hash, address uint64) (*vm.Var, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.count("read")

	return clone(m.cells[cellKey{contract, address}]), nil
}

func (m *Memory) ReadEntry(contract chainhash.Hash, address, key uint64) (*vm.Var, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.count("read_entry")

	return clone(m.entries[cellKey{contract, address}][key]), nil
}

func (m *Memory) ReadEntries(contract chainhash.Hash, address uint64) ([]vm.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	container := m.entries[cellKey{contract, address}]
	out := make([]vm.Entry, 0, len(container))

	for key, v := range container {
		out = append(out, vm.Entry{Key: key, Value: clone(v)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}

func (m *Memory) Write(contract chainhash.Hash, address uint64, value *vm.Var) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.count("write")

	ck := cellKey{contract, address}
	m.log = append(m.log, undo{height: m.height, cell: ck, prev: m.cells[ck]})
	m.setCell(ck, clone(normalize(value)))

	return nil
}

func (m *Memory) WriteEntry(contract chainhash.Hash, address, key uint64, value *vm.Var) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.count("write_entry")

	ck := cellKey{contract, address}
	m.log = append(m.log, undo{height: m.height, cell: ck, key: key, isEntry: true, prev: m.entries[ck][key]})
	m.setEntry(ck, key, clone(normalize(value)))

	return nil
}

func normalize(v *vm.Var) *vm.Var {
	if v.IsNil() {
		return nil
	}

	return v
}

func (m *Memory) setCell(ck cellKey, v *vm.Var) {
	if prev, ok := m.cells[ck]; ok && prev.Flags&vm.FLAG_KEY != 0 {
		delete(m.lookup, lookupKey{ck.contract, string(prev.KeyBytes())})
	}

	if v == nil {
		delete(m.cells, ck)
		return
	}

	m.cells[ck] = v

	if v.Flags&vm.FLAG_KEY != 0 {
		m.lookup[lookupKey{ck.contract, string(v.KeyBytes())}] = ck.address
	}
}

func (m *Memory) setEntry(ck cellKey, key uint64, v *vm.Var) {
	container := m.entries[ck]

	if v == nil {
		if container != nil {
			delete(container, key)

			if len(container) == 0 {
				delete(m.entries, ck)
			}
		}

		return
	}

	if container == nil {
		container = make(map[uint64]*vm.Var)
		m.entries[ck] = container
	}

	container[key] = v
}

func (m *Memory) Lookup(contract chainhash.Hash, value *vm.Var) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lookup[lookupKey{contract, string(value.KeyBytes())}], nil
}

func (m *Memory) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.height++

	return nil
}

// Revert undoes every write made at or above height.
func (m *Memory) Revert(height uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if height > m.height {
		return errors.NewInvalidArgumentError("cannot revert to future height %d, at %d", height, m.height)
	}

	i := len(m.log)
	for i > 0 && m.log[i-1].height >= height {
		u := m.log[i-1]

		if u.isEntry {
			m.setEntry(u.cell, u.key, u.prev)
		} else {
			m.setCell(u.cell, u.prev)
		}

		i--
	}

	m.log = m.log[:i]
	m.height = height

	return nil
}

func (m *Memory) Height() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.height
}

// Prune forgets undo records below height. Reverting below it is no longer possible.
func (m *Memory) Prune(height uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := 0
	for i < len(m.log) && m.log[i].height < height {
		i++
	}

	m.log = append(m.log[:0], m.log[i:]...)
}

// Dump returns every live cell and entry, keyed by contract, address and entry key.
func (m *Memory) Dump() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.cells))

	for ck, v := range m.cells {
		out[dumpKey(ck, 0, false)] = v.Bytes()
	}

	for ck, container := range m.entries {
		for key, v := range container {
			out[dumpKey(ck, key, true)] = v.Bytes()
		}
	}

	return out
}

func dumpKey(ck cellKey, key uint64, isEntry bool) string {
	b := make([]byte, 0, 49)
	b = append(b, ck.contract[:]...)
	b = appendUint64(b, ck.address)

	if isEntry {
		b = append(b, 1)
		b = appendUint64(b, key)
	}

	return string(b)
}

func appendUint64(b []byte, v uint64) []byte {
	return append(b, byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

var _ vm.Storage = (*Memory)(nil)
