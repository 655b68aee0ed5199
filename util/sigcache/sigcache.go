// Package sigcache remembers which signatures already verified, so a transaction seen in
// the pool is not verified again when its block arrives.
package sigcache

import (
	"crypto/sha256"
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

type entryKey [sha256.Size]byte

// Cache is safe for concurrent use. Only successful verifications are stored.
type Cache struct {
	entries *lru.Cache
}

func New(size int) (*Cache, error) {
	if size <= 0 {
		return nil, errors.NewConfigurationError("signature cache size must be positive, got %d", size)
	}

	entries, err := lru.New(size)
	if err != nil {
		return nil, errors.NewConfigurationError("signature cache", err)
	}

	return &Cache{entries: entries}, nil
}

// key hashes each part behind its length so bytes cannot move between parts.
func key(msg, pubKey, sig []byte) entryKey {
	h := sha256.New()

	var size [4]byte

	for _, part := range [][]byte{msg, pubKey, sig} {
		binary.BigEndian.PutUint32(size[:], uint32(len(part)))
		h.Write(size[:])
		h.Write(part)
	}

	var k entryKey
	h.Sum(k[:0])

	return k
}

// Verify returns nil when the triple is cached, otherwise it calls verify and caches a
// success. A nil Cache always calls verify.
func (c *Cache) Verify(msg, pubKey, sig []byte, verify func() error) error {
	if c == nil {
		return verify()
	}

	k := key(msg, pubKey, sig)
	if c.entries.Contains(k) {
		return nil
	}

	if err := verify(); err != nil {
		return err
	}

	c.entries.Add(k, struct{}{})

	return nil
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}

	return c.entries.Len()
}
