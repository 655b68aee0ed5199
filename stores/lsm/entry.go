package lsm

import (
	"bytes"
)

// entry is one versioned write. A nil value is a deletion.
type entry struct {
	key     []byte
	value   []byte
	version uint32
	seq     uint64
}

func (e *entry) deleted() bool {
	return e.value == nil
}

func (e *entry) size() int {
	return len(e.key) + len(e.value) + 16
}

// lessEntry orders by key, newest write first.
func lessEntry(a, b *entry) bool {
	if c := bytes.Compare(a.key, b.key); c != 0 {
		return c < 0
	}

	return a.seq > b.seq
}

// revertPoint hides every entry written up to seq with a version of at least version.
type revertPoint struct {
	Version uint32 `json:"version"`
	Seq     uint64 `json:"seq"`
}

type revertList []revertPoint

func (r revertList) visible(version uint32, seq uint64) bool {
	for _, p := range r {
		if seq <= p.Seq && version >= p.Version {
			return false
		}
	}

	return true
}
