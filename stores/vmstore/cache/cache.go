// Package cache layers a write buffer and an LRU read cache over another vm.Storage.
// Nothing reaches the backend before Flush, which makes a Cache the isolation unit for
// one transaction or one block.
package cache

import (
	"sort"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	lru "github.com/hashicorp/golang-lru"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/vm"
)

const DefaultSize = 4096

type cellKey struct {
	contract chainhash.Hash
	address  uint64
}

type entryKey struct {
	cellKey
	key uint64
}

type lookupKey struct {
	contract chainhash.Hash
	value    string
}

// missing marks a cached negative read.
type missing struct{}

type Cache struct {
	mu      sync.Mutex
	backend vm.Storage
	reads   *lru.Cache

	cells   map[cellKey]*vm.Var
	entries map[entryKey]*vm.Var
	lookup  map[lookupKey]uint64
}

// New wraps backend. size bounds the number of cached reads, 0 selects DefaultSize.
func New(backend vm.Storage, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}

	reads, err := lru.New(size)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid cache size %d", size, err)
	}

	c := &Cache{backend: backend, reads: reads}
	c.reset()

	return c, nil
}

func (c *Cache) reset() {
	c.cells = make(map[cellKey]*vm.Var)
	c.entries = make(map[entryKey]*vm.Var)
	c.lookup = make(map[lookupKey]uint64)
}

func clone(v *vm.Var) *vm.Var {
	if v.IsNil() {
		return nil
	}

	out := v.Clone()
	out.Flags = v.Flags & vm.FLAG_KEY

	return out
}

func (c *Cache) Read(contract chainhash.Hash, address uint64) (*vm.Var, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ck := cellKey{contract, address}
	if v, ok := c.cells[ck]; ok {
		return clone(v), nil
	}

	return c.cached(ck, func() (*vm.Var, error) { return c.backend.Read(contract, address) })
}

func (c *Cache) ReadEntry(contract chainhash.Hash, address, key uint64) (*vm.Var, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ek := entryKey{cellKey{contract, address}, key}
	if v, ok := c.entries[ek]; ok {
		return clone(v), nil
	}

	return c.cached(ek, func() (*vm.Var, error) { return c.backend.ReadEntry(contract, address, key) })
}

func (c *Cache) cached(key interface{}, load func() (*vm.Var, error)) (*vm.Var, error) {
	if hit, ok := c.reads.Get(key); ok {
		if v, ok := hit.(*vm.Var); ok {
			return clone(v), nil
		}

		return nil, nil
	}

	v, err := load()
	if err != nil {
		return nil, err
	}

	if v == nil {
		c.reads.Add(key, missing{})
		return nil, nil
	}

	c.reads.Add(key, clone(v))

	return v, nil
}

// ReadEntries merges buffered entries over the backend's.
func (c *Cache) ReadEntries(contract chainhash.Hash, address uint64) ([]vm.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.backend.ReadEntries(contract, address)
	if err != nil {
		return nil, err
	}

	merged := make(map[uint64]*vm.Var, len(stored))
	for _, e := range stored {
		merged[e.Key] = e.Value
	}

	for ek, v := range c.entries {
		if ek.contract != contract || ek.address != address {
			continue
		}

		if v == nil {
			delete(merged, ek.key)
		} else {
			merged[ek.key] = clone(v)
		}
	}

	out := make([]vm.Entry, 0, len(merged))
	for key, v := range merged {
		out = append(out, vm.Entry{Key: key, Value: v})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}

func (c *Cache) Write(contract chainhash.Hash, address uint64, value *vm.Var) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ck := cellKey{contract, address}

	prev, ok := c.cells[ck]
	if !ok {
		var err error
		if prev, err = c.cached(ck, func() (*vm.Var, error) { return c.backend.Read(contract, address) }); err != nil {
			return err
		}
	}

	if prev != nil && prev.Flags&vm.FLAG_KEY != 0 {
		c.lookup[lookupKey{contract, string(prev.KeyBytes())}] = 0
	}

	v := clone(value)
	c.cells[ck] = v

	if v != nil && v.Flags&vm.FLAG_KEY != 0 {
		c.lookup[lookupKey{contract, string(v.KeyBytes())}] = address
	}

	return nil
}

func (c *Cache) WriteEntry(contract chainhash.Hash, address, key uint64, value *vm.Var) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[entryKey{cellKey{contract, address}, key}] = clone(value)

	return nil
}

func (c *Cache) Lookup(contract chainhash.Hash, value *vm.Var) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if address, ok := c.lookup[lookupKey{contract, string(value.KeyBytes())}]; ok {
		return address, nil
	}

	return c.backend.Lookup(contract, value)
}

// Flush writes the buffer to the backend in a deterministic order without committing it.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flush()
}

func (c *Cache) flush() error {
	cells := make([]cellKey, 0, len(c.cells))
	for ck := range c.cells {
		cells = append(cells, ck)
	}

	sort.Slice(cells, func(i, j int) bool { return lessCell(cells[i], cells[j]) })

	for _, ck := range cells {
		v := c.cells[ck]
		if err := c.backend.Write(ck.contract, ck.address, v); err != nil {
			return err
		}

		c.remember(ck, v)
	}

	entries := make([]entryKey, 0, len(c.entries))
	for ek := range c.entries {
		entries = append(entries, ek)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].cellKey != entries[j].cellKey {
			return lessCell(entries[i].cellKey, entries[j].cellKey)
		}

		return entries[i].key < entries[j].key
	})

	for _, ek := range entries {
		v := c.entries[ek]
		if err := c.backend.WriteEntry(ek.contract, ek.address, ek.key, v); err != nil {
			return err
		}

		c.remember(ek, v)
	}

	c.reset()

	return nil
}

func (c *Cache) remember(key interface{}, v *vm.Var) {
	if v == nil {
		c.reads.Add(key, missing{})
	} else {
		c.reads.Add(key, clone(v))
	}
}

func lessCell(a, b cellKey) bool {
	if a.contract != b.contract {
		return string(a.contract[:]) < string(b.contract[:])
	}

	return a.address < b.address
}

// Discard drops everything written since the last Flush.
func (c *Cache) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
}

// Pending is the number of buffered writes.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.cells) + len(c.entries)
}

// Commit flushes and then commits the backend.
func (c *Cache) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.flush(); err != nil {
		return err
	}

	return c.backend.Commit()
}

// Revert drops the buffer and every cached read before reverting the backend.
func (c *Cache) Revert(height uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
	c.reads.Purge()

	return c.backend.Revert(height)
}

func (c *Cache) Height() uint32 {
	return c.backend.Height()
}

var _ vm.Storage = (*Cache)(nil)
