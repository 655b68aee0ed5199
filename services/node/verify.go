package node

import (
	"context"
	"time"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node/pos"
	"github.com/madMAx43v3r/mmx-node-sub001/util"
	"github.com/madMAx43v3r/mmx-node-sub001/util/tracing"
)

var tracer = tracing.Tracer("node")

// vdfPoint identifies where a proof of time ends.
type vdfPoint struct {
	iters  uint64
	output model.Hash
}

// challengeFor derives the challenge of the block following parent.
func (n *Node) challengeFor(ctx context.Context, parent *model.BlockHeader) (model.Hash, error) {
	height := parent.Height + 1

	var from uint32
	if height > n.params.ChallengeDelay {
		from = height - n.params.ChallengeDelay
	}

	src, err := n.ancestor(ctx, parent, from)
	if err != nil {
		return model.Hash{}, err
	}

	return pos.CalcChallenge(src.VdfOutput, height), nil
}

// infuseFor is the block hash the proof of time leading to the child of parent must infuse.
func (n *Node) infuseFor(ctx context.Context, parent *model.BlockHeader) (model.Hash, error) {
	height := parent.Height + 1

	var from uint32
	if height > n.params.InfuseDelay {
		from = height - n.params.InfuseDelay
	}

	src, err := n.ancestor(ctx, parent, from)
	if err != nil {
		return model.Hash{}, err
	}

	return src.Hash, nil
}

// verifyProof checks everything about f that does not need chain state. pending is true
// when the proof of time f ends on has not been seen yet, f is then left unverified.
func (n *Node) verifyProof(ctx context.Context, f *fork) (pending bool, err error) {
	start := time.Now()
	defer func() {
		prometheusNodeVerifyProof.Observe(time.Since(start).Seconds())
	}()

	bh := f.header()

	parent := n.getHeader(bh.Prev)
	if parent == nil {
		return false, errors.NewBlockOrphanError("[%s] parent %s unknown", bh.Hash, bh.Prev)
	}

	if err = f.block.Extends(parent); err != nil {
		return false, err
	}

	if bh.Timestamp <= parent.Timestamp {
		return false, errors.NewBlockInvalidError("[%s] timestamp %d not after parent %d", bh.Hash, bh.Timestamp, parent.Timestamp)
	}

	if bh.SpaceDiff != parent.SpaceDiff || bh.TimeDiff != parent.TimeDiff {
		return false, errors.NewBlockInvalidError("[%s] difficulty changed", bh.Hash)
	}

	if bh.VdfIters != parent.VdfIters+n.params.BlockVDFIters {
		return false, errors.NewBlockInvalidError("[%s] vdf iters %d, expected %d", bh.Hash, bh.VdfIters, parent.VdfIters+n.params.BlockVDFIters)
	}

	challenge, err := n.challengeFor(ctx, parent)
	if err != nil {
		return false, err
	}

	score, err := n.proofVerifier.VerifyProof(bh.Proof, challenge, bh.SpaceDiff)
	if err != nil {
		return false, errors.NewBlockInvalidError("[%s] proof of space", bh.Hash, err)
	}

	if weight := pos.CalcWeight(n.params, score, bh.SpaceDiff); weight != bh.Weight {
		return false, errors.NewBlockInvalidError("[%s] weight %d, expected %d", bh.Hash, bh.Weight, weight)
	}

	if bh.TotalWeight != parent.TotalWeight+bh.Weight {
		return false, errors.NewBlockInvalidError("[%s] total weight %d, expected %d", bh.Hash, bh.TotalWeight, parent.TotalWeight+bh.Weight)
	}

	err = n.sigCache.Verify(bh.Hash[:], bh.Proof.FarmerKey, bh.FarmerSig, bh.VerifySignature)
	if err != nil {
		return false, errors.NewBlockInvalidError("[%s] farmer signature", bh.Hash, err)
	}

	pot, ok := n.vdfs.Get(vdfPoint{iters: bh.VdfIters, output: bh.VdfOutput})
	if !ok {
		return true, nil
	}

	infuse, err := n.infuseFor(ctx, parent)
	if err != nil {
		return false, err
	}

	if pot.Start != parent.VdfIters || pot.Input != parent.VdfOutput || pot.Infuse != infuse {
		return false, errors.NewBlockInvalidError("[%s] proof of time does not continue from parent %s", bh.Hash, parent.Hash)
	}

	f.score = score
	f.isProofVerified = true

	return false, nil
}

// verifySolutions checks the signatures of every transaction in parallel.
func (n *Node) verifySolutions(ctx context.Context, b *model.Block) error {
	g, gCtx := util.NewErrGroup(ctx, n.settings.Node.VerifyConcurrency)

	for _, tx := range b.TxList {
		for i, sol := range tx.Solutions {
			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					return errors.NewContextCanceledError("verify solutions", err)
				}

				if err := n.verifySolution(tx.ID, sol); err != nil {
					return errors.NewTxInvalidError("[%s] solution %d", tx.ID, i, err)
				}

				return nil
			})
		}
	}

	return g.Wait()
}

func (n *Node) verifySolution(msg model.Hash, sol model.Solution) error {
	if sol == nil {
		return errors.NewSignatureInvalidError("missing solution")
	}

	if s, ok := sol.(*model.PubKeySolution); ok {
		return n.sigCache.Verify(msg[:], s.PubKey, s.Signature, func() error {
			return s.Verify(msg)
		})
	}

	return sol.Verify(msg)
}

// validateBlock runs f on top of the current peak, which must be its parent. The returned
// context holds the block's effects for commitBlock.
func (n *Node) validateBlock(ctx context.Context, f *fork) (*blockContext, error) {
	bh := f.header()

	ctx, _, deferFn := tracer.Start(ctx, "validateBlock",
		tracing.WithHistogram(prometheusNodeValidateBlock),
		tracing.WithLogMessage(n.logger, "[validateBlock][%s] height %d", bh.Hash, bh.Height),
	)

	var err error
	defer func() { deferFn(err) }()

	if bh.Prev != n.peak.Hash() {
		err = errors.NewProcessingError("[%s] parent %s is not the peak %s", bh.Hash, bh.Prev, n.peak.Hash())
		return nil, err
	}

	if err = n.verifySolutions(ctx, f.block); err != nil {
		if !errors.IsCanceled(err) {
			err = errors.NewBlockInvalidError("[%s] invalid solution", bh.Hash, err)
		}

		return nil, err
	}

	bc, err := n.newBlockContext(bh.Height, bh.Hash)
	if err != nil {
		return nil, err
	}

	for _, tx := range f.block.TxList {
		var result *model.ExecResult

		result, err = bc.executeTx(tx)
		if err != nil {
			bc.discard()

			if !errors.IsFatalError(err) {
				err = errors.NewBlockInvalidError("[%s] transaction %s", bh.Hash, tx.ID, err)
			}

			return nil, err
		}

		if !result.Equal(tx.ExecResult) {
			bc.discard()
			err = errors.NewBlockInvalidError("[%s] transaction %s execution result mismatch", bh.Hash, tx.ID)

			return nil, err
		}
	}

	if err = bc.addReward(bh); err != nil {
		bc.discard()
		return nil, err
	}

	return bc, nil
}
