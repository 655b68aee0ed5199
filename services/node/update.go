package node

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
)

// ProcessBlock adds b to the fork tree and switches to it if it makes the heaviest fork.
// Blocks with an unknown parent are buffered until the parent arrives.
func (n *Node) ProcessBlock(ctx context.Context, b *model.Block) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkUsable(); err != nil {
		return err
	}

	prometheusNodeBlocksReceived.Inc()

	if b == nil || b.Header == nil {
		return errors.NewBlockInvalidError("empty block")
	}

	hash := b.Hash()
	if n.seen.Has(hash) || n.getHeader(hash) != nil {
		return nil
	}

	if err := b.IsValid(n.params); err != nil {
		prometheusNodeBlocksRejected.Inc()
		return err
	}

	n.seen.Set(hash, struct{}{}, ttlcache.DefaultTTL)

	if b.Height() <= n.root.Height() {
		return errors.NewForkPrunedError("[%s] height %d is not above finalized height %d", hash, b.Height(), n.root.Height())
	}

	if n.getHeader(b.Header.Prev) == nil {
		n.logger.Debugf("[ProcessBlock][%s] buffering orphan, parent %s unknown", hash, b.Header.Prev)
		n.orphans.add(b)
		prometheusNodeBlocksOrphaned.Inc()
		n.updateSyncState(ctx)

		return nil
	}

	addErr := n.addBlock(ctx, b)

	if err := n.update(ctx); err != nil {
		return err
	}

	return addErr
}

// addBlock inserts b and any orphans waiting for it. Only the error of b itself is returned.
func (n *Node) addBlock(ctx context.Context, b *model.Block) error {
	var firstErr error

	queue := []*model.Block{b}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		f := &fork{block: next, recvTime: time.Now()}

		pending, err := n.verifyProof(ctx, f)
		if err != nil {
			prometheusNodeBlocksRejected.Inc()
			n.logger.Warnf("[addBlock][%s] rejected: %v", next.Hash(), err)
			n.dropOrphans(next.Hash())

			if next == b {
				firstErr = err
			}

			continue
		}

		n.forks.Put(next.Hash(), f)

		if pending {
			n.logger.Debugf("[addBlock][%s] waiting for proof of time", next.Hash())
		}

		queue = append(queue, n.orphans.take(next.Hash())...)
	}

	n.updateSyncState(ctx)

	return firstErr
}

// dropOrphans forgets every buffered descendant of hash.
func (n *Node) dropOrphans(hash model.Hash) {
	queue := []model.Hash{hash}

	for len(queue) > 0 {
		for _, o := range n.orphans.take(queue[0]) {
			queue = append(queue, o.Hash())
		}

		queue = queue[1:]
	}
}

func (n *Node) updateSyncState(ctx context.Context) {
	event := EventSynced
	if n.orphans.len() > 0 {
		event = EventSync
	}

	if n.fsm.Can(event) {
		if err := n.fsm.Event(ctx, event); err != nil {
			n.logger.Warnf("[updateSyncState] %v", err)
		}
	}
}

// update moves the peak to the best fork, finalizes what fell out of the commit window and
// tells farmers about the next challenge.
func (n *Node) update(ctx context.Context) error {
	prevPeak := n.peak

	var reverted []*model.Block

	for {
		best := n.findBest()
		if best.Hash == n.peak.Hash() {
			break
		}

		blocks, err := n.switchTo(ctx, best)
		reverted = append(reverted, blocks...)

		if err != nil {
			return err
		}
	}

	if n.peak == prevPeak {
		return nil
	}

	if err := n.finalize(ctx); err != nil {
		return n.halt(ctx, err)
	}

	n.purgePool(ctx, reverted)
	n.broadcastChallenge(ctx)

	prometheusNodeHeight.Set(float64(n.peak.Height()))

	return nil
}

func (n *Node) blockOf(bh *model.BlockHeader) *model.Block {
	if bh.Hash == n.root.Hash() {
		return n.root
	}

	f, ok := n.forks.Get(bh.Hash)
	if !ok {
		return nil
	}

	return f.block
}

// switchTo reverts to the common ancestor of the peak and best, then applies the path to
// best. An invalid block on the way is pruned and switchTo returns early, leaving the next
// choice to the caller. It returns the blocks it reverted.
func (n *Node) switchTo(ctx context.Context, best *model.BlockHeader) ([]*model.Block, error) {
	var reverted []*model.Block

	lca := n.findLCA(n.peak.Header, best)

	if lca.Hash != n.peak.Hash() {
		for _, f := range n.path(lca, n.peak.Header) {
			reverted = append(reverted, f.block)
		}

		depth := n.peak.Height() - lca.Height
		n.logger.Infof("[switchTo] reverting %d blocks from %s to %s", depth, n.peak, lca)

		if err := n.vmCache.Revert(lca.Height + 1); err != nil {
			return reverted, n.halt(ctx, err)
		}

		n.peak = n.blockOf(lca)
		prometheusNodeReorgDepth.Observe(float64(depth))
	}

	for _, f := range n.path(lca, best) {
		bc, err := n.validateBlock(ctx, f)
		if err != nil {
			switch {
			case errors.IsCanceled(err):
				return reverted, err
			case errors.IsFatalError(err):
				return reverted, n.halt(ctx, err)
			case f.isVerified:
				return reverted, n.halt(ctx, errors.NewProcessingError("[%s] block failed after it was verified", f.hash(), err))
			}

			prometheusNodeBlocksRejected.Inc()
			n.logger.Warnf("[switchTo] pruning invalid block %s: %v", f.header(), err)
			n.prune(f)

			return reverted, nil
		}

		if err = n.applyBlock(bc); err != nil {
			return reverted, n.halt(ctx, err)
		}

		f.isVerified = true
		n.peak = f.block
	}

	return reverted, nil
}

func (n *Node) applyBlock(bc *blockContext) error {
	start := time.Now()

	if err := n.commitBlock(bc); err != nil {
		return err
	}

	prometheusNodeApplyBlock.Observe(time.Since(start).Seconds())
	prometheusNodeTxFailed.Add(float64(bc.numFailed))

	n.logger.Infof("[applyBlock] height %d %s, cost %d, fees %d, %d failed tx", bc.height, bc.hash, bc.totalCost, bc.totalFees, bc.numFailed)

	return nil
}

// finalize moves the root up to CommitDelay blocks below the peak, stores the blocks it
// passes and drops every fork that no longer builds on the root.
func (n *Node) finalize(ctx context.Context) error {
	if n.peak.Height() <= n.root.Height()+n.params.CommitDelay {
		return nil
	}

	for _, f := range n.path(n.root.Header, n.peak.Header) {
		if n.peak.Height() <= n.root.Height()+n.params.CommitDelay {
			break
		}

		if err := n.blockStore.StoreBlock(ctx, f.block); err != nil {
			return err
		}

		n.root = f.block
		n.forks.Delete(f.hash())
	}

	root := n.root.Header

	var drop []*fork

	n.forks.Iter(func(_ model.Hash, f *fork) bool {
		if f.height() <= root.Height || !n.descendsFrom(f, root.Hash, root.Height) {
			drop = append(drop, f)
		}

		return false
	})

	for _, f := range drop {
		n.forks.Delete(f.hash())
	}

	prometheusNodeForksPruned.Add(float64(len(drop)))

	var stale []vdfPoint

	n.vdfs.Iter(func(p vdfPoint, _ *model.ProofOfTime) bool {
		if p.iters < root.VdfIters {
			stale = append(stale, p)
		}

		return false
	})

	for _, p := range stale {
		n.vdfs.Delete(p)
	}

	for height := range n.proofs {
		if height <= root.Height {
			delete(n.proofs, height)
		}
	}

	n.orphans.dropBelow(root.Height)

	n.logger.Debugf("[finalize] root now %s", root)

	return n.db.Finalize(root.Height + 1)
}
