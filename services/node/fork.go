package node

import (
	"bytes"
	"context"
	"time"

	"github.com/dolthub/swiss"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
)

// fork is a block above the finalized root. Forks reference their parent by hash only,
// the root or another fork.
type fork struct {
	block    *model.Block
	recvTime time.Time

	// isProofVerified is set once proof of space, proof of time and the farmer signature
	// checked out. Only such forks take part in fork choice.
	isProofVerified bool
	// isVerified is set once the block was executed without error.
	isVerified bool
	score      uint16
}

func (f *fork) hash() model.Hash          { return f.block.Hash() }
func (f *fork) height() uint32            { return f.block.Height() }
func (f *fork) header() *model.BlockHeader { return f.block.Header }

// orphanPool holds blocks whose parent is unknown, bounded by evicting the oldest.
type orphanPool struct {
	byPrev *swiss.Map[model.Hash, []*model.Block]
	order  []*model.Block
	limit  int
}

func newOrphanPool(limit int) *orphanPool {
	return &orphanPool{byPrev: swiss.NewMap[model.Hash, []*model.Block](64), limit: limit}
}

func (o *orphanPool) add(b *model.Block) {
	if o.limit <= 0 {
		return
	}

	for len(o.order) >= o.limit {
		o.remove(o.order[0])
	}

	children, _ := o.byPrev.Get(b.Header.Prev)
	o.byPrev.Put(b.Header.Prev, append(children, b))
	o.order = append(o.order, b)
}

func (o *orphanPool) remove(b *model.Block) {
	for i, ob := range o.order {
		if ob == b {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}

	children, ok := o.byPrev.Get(b.Header.Prev)
	if !ok {
		return
	}

	for i, c := range children {
		if c == b {
			children = append(children[:i], children[i+1:]...)
			break
		}
	}

	if len(children) == 0 {
		o.byPrev.Delete(b.Header.Prev)
	} else {
		o.byPrev.Put(b.Header.Prev, children)
	}
}

// take removes and returns the orphans waiting for prev.
func (o *orphanPool) take(prev model.Hash) []*model.Block {
	children, ok := o.byPrev.Get(prev)
	if !ok {
		return nil
	}

	for _, c := range children {
		o.remove(c)
	}

	return children
}

// dropBelow forgets orphans that can no longer connect above height.
func (o *orphanPool) dropBelow(height uint32) {
	var drop []*model.Block

	for _, b := range o.order {
		if b.Height() <= height {
			drop = append(drop, b)
		}
	}

	for _, b := range drop {
		o.remove(b)
	}
}

func (o *orphanPool) len() int {
	return len(o.order)
}

// getHeader returns the header of the root or a fork, nil if hash is neither.
func (n *Node) getHeader(hash model.Hash) *model.BlockHeader {
	if hash == n.root.Hash() {
		return n.root.Header
	}

	if f, ok := n.forks.Get(hash); ok {
		return f.header()
	}

	return nil
}

// ancestor walks back from bh to height. Heights below the root come from the block store.
func (n *Node) ancestor(ctx context.Context, bh *model.BlockHeader, height uint32) (*model.BlockHeader, error) {
	if height > bh.Height {
		return nil, errors.NewInvalidArgumentError("no ancestor at height %d above %s", height, bh)
	}

	for bh.Height > height && bh.Height > n.root.Height() {
		prev := n.getHeader(bh.Prev)
		if prev == nil {
			return nil, errors.NewBlockNotFoundError("parent %s of %s not in fork tree", bh.Prev, bh)
		}

		bh = prev
	}

	if bh.Height == height {
		return bh, nil
	}

	b, err := n.blockStore.GetBlockAt(ctx, height)
	if err != nil {
		return nil, err
	}

	return b.Header, nil
}

// isProofPath reports whether f and all of its ancestors up to the root passed proof checks.
func (n *Node) isProofPath(f *fork) bool {
	for {
		if !f.isProofVerified {
			return false
		}

		parent, ok := n.forks.Get(f.block.Header.Prev)
		if !ok {
			return f.block.Header.Prev == n.root.Hash()
		}

		f = parent
	}
}

func isBetter(a, b *model.BlockHeader) bool {
	if a.TotalWeight != b.TotalWeight {
		return a.TotalWeight > b.TotalWeight
	}

	return bytes.Compare(a.Hash[:], b.Hash[:]) < 0
}

// findBest returns the heaviest proof verified fork, ties going to the smaller hash. The
// root is returned as a header when no fork qualifies.
func (n *Node) findBest() *model.BlockHeader {
	best := n.root.Header

	n.forks.Iter(func(_ model.Hash, f *fork) bool {
		if isBetter(f.header(), best) && n.isProofPath(f) {
			best = f.header()
		}

		return false
	})

	return best
}

// findLCA returns the last block a and b have in common, at worst the root.
func (n *Node) findLCA(a, b *model.BlockHeader) *model.BlockHeader {
	for a.Hash != b.Hash {
		if a.Height <= n.root.Height() || b.Height <= n.root.Height() {
			return n.root.Header
		}

		if a.Height >= b.Height {
			a = n.getHeader(a.Prev)
		} else {
			b = n.getHeader(b.Prev)
		}

		if a == nil || b == nil {
			return n.root.Header
		}
	}

	return a
}

// path returns the forks from just above from up to and including to.
func (n *Node) path(from, to *model.BlockHeader) []*fork {
	var out []*fork

	for to.Hash != from.Hash {
		f, ok := n.forks.Get(to.Hash)
		if !ok {
			break
		}

		out = append(out, f)
		to = n.getHeader(to.Prev)

		if to == nil {
			break
		}
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out
}

// descendsFrom reports whether f has ancestor in its chain of forks.
func (n *Node) descendsFrom(f *fork, ancestor model.Hash, height uint32) bool {
	for f.height() > height {
		if f.block.Header.Prev == ancestor {
			return true
		}

		parent, ok := n.forks.Get(f.block.Header.Prev)
		if !ok {
			return false
		}

		f = parent
	}

	return f.hash() == ancestor
}

// prune removes f and everything built on it.
func (n *Node) prune(f *fork) int {
	var drop []model.Hash

	n.forks.Iter(func(hash model.Hash, other *fork) bool {
		if other == f || (other.height() > f.height() && n.descendsFrom(other, f.hash(), f.height())) {
			drop = append(drop, hash)
		}

		return false
	})

	for _, hash := range drop {
		n.forks.Delete(hash)
	}

	prometheusNodeForksPruned.Add(float64(len(drop)))

	return len(drop)
}
