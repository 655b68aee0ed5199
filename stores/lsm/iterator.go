package lsm

import (
	"bytes"
	"container/heap"
)

// source is one sorted input of a merge, either a slice of memtable entries or a range of
// a block index.
type source struct {
	mem []*entry
	blk *block
	pos int
	end int
}

func (s *source) valid() bool {
	return s.pos < s.end
}

func (s *source) key() []byte {
	if s.blk != nil {
		return s.blk.index[s.pos].key
	}

	return s.mem[s.pos].key
}

func (s *source) seq() uint64 {
	if s.blk != nil {
		return s.blk.index[s.pos].seq
	}

	return s.mem[s.pos].seq
}

func (s *source) version() uint32 {
	if s.blk != nil {
		return s.blk.index[s.pos].version
	}

	return s.mem[s.pos].version
}

func (s *source) deleted() bool {
	if s.blk != nil {
		return s.blk.index[s.pos].deleted
	}

	return s.mem[s.pos].deleted()
}

func (s *source) entry() (*entry, error) {
	if s.blk != nil {
		return s.blk.entry(s.pos)
	}

	return s.mem[s.pos], nil
}

type sourceHeap []*source

func (h sourceHeap) Len() int { return len(h) }

func (h sourceHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].key(), h[j].key()); c != 0 {
		return c < 0
	}

	return h[i].seq() > h[j].seq()
}

func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sourceHeap) Push(x any) { *h = append(*h, x.(*source)) }

func (h *sourceHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	*h = old[:n-1]

	return s
}

// merger yields entries of all sources in key order, newest write first within a key.
type merger struct {
	h sourceHeap
}

func newMerger(sources []*source) *merger {
	m := &merger{h: make(sourceHeap, 0, len(sources))}

	for _, s := range sources {
		if s.valid() {
			m.h = append(m.h, s)
		}
	}

	heap.Init(&m.h)

	return m
}

func (m *merger) valid() bool {
	return len(m.h) > 0
}

func (m *merger) top() *source {
	return m.h[0]
}

func (m *merger) next() {
	s := m.h[0]
	s.pos++

	if s.valid() {
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
}

// prefixRange returns the index range of entries in a block whose key starts with prefix.
func (b *block) prefixRange(prefix []byte) (int, int) {
	begin := b.seek(prefix)
	end := begin

	for end < len(b.index) && bytes.HasPrefix(b.index[end].key, prefix) {
		end++
	}

	return begin, end
}
