package node

import (
	"bytes"
	"context"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node/pos"
)

// ProcessProofOfTime verifies pot and indexes it by where it ends. Blocks that were waiting
// for it get their proofs checked.
func (n *Node) ProcessProofOfTime(ctx context.Context, pot *model.ProofOfTime) error {
	if pot == nil {
		return errors.NewVDFInvalidError("empty proof of time")
	}

	point := vdfPoint{iters: pot.EndIters(), output: pot.EndOutput()}

	n.mu.RLock()
	known := n.vdfs.Has(point)
	stale := point.iters <= n.root.Header.VdfIters
	n.mu.RUnlock()

	if known || stale {
		return nil
	}

	if err := n.vdfVerifier.Verify(ctx, pot); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkUsable(); err != nil {
		return err
	}

	return n.addProofOfTime(ctx, point, pot)
}

// addProofOfTime indexes an already verified proof. mu must be held.
func (n *Node) addProofOfTime(ctx context.Context, point vdfPoint, pot *model.ProofOfTime) error {
	if n.vdfs.Has(point) {
		return nil
	}

	n.vdfs.Put(point, pot)
	prometheusNodeProofsOfTime.Inc()

	var waiting []*fork

	n.forks.Iter(func(_ model.Hash, f *fork) bool {
		bh := f.header()
		if !f.isProofVerified && bh.VdfIters == point.iters && bh.VdfOutput == point.output {
			waiting = append(waiting, f)
		}

		return false
	})

	for _, f := range waiting {
		if _, ok := n.forks.Get(f.hash()); !ok {
			continue
		}

		if _, err := n.verifyProof(ctx, f); err != nil {
			prometheusNodeBlocksRejected.Inc()
			n.logger.Warnf("[addProofOfTime] pruning %s: %v", f.header(), err)
			n.prune(f)
		}
	}

	return n.update(ctx)
}

// challengeAt is the challenge for height on the current peak's chain. mu must be held.
func (n *Node) challengeAt(ctx context.Context, height uint32) (*model.Challenge, error) {
	if height <= n.root.Height() {
		return nil, errors.NewInvalidArgumentError("height %d is finalized", height)
	}

	var from uint32
	if height > n.params.ChallengeDelay {
		from = height - n.params.ChallengeDelay
	}

	if from > n.peak.Height() {
		return nil, errors.NewNotFoundError("challenge for height %d not known at peak %d", height, n.peak.Height())
	}

	src, err := n.ancestor(ctx, n.peak.Header, from)
	if err != nil {
		return nil, err
	}

	return &model.Challenge{
		Height:    height,
		Hash:      pos.CalcChallenge(src.VdfOutput, height),
		SpaceDiff: n.peak.Header.SpaceDiff,
	}, nil
}

func (n *Node) GetChallenge(ctx context.Context, height uint32) (*model.Challenge, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.challengeAt(ctx, height)
}

// broadcastChallenge hands the challenge of the next height to the handler. The handler
// runs with the node lock held and must not call back into the node.
func (n *Node) broadcastChallenge(ctx context.Context) {
	if n.challengeHandler == nil {
		return
	}

	challenge, err := n.challengeAt(ctx, n.peak.Height()+1)
	if err != nil {
		n.logger.Warnf("[broadcastChallenge] %v", err)
		return
	}

	n.challengeHandler(challenge)
}

type scoredProof struct {
	resp  *model.ProofResponse
	score uint16
}

// ProcessProofResponse keeps the best answer per height for a farmer to build on.
func (n *Node) ProcessProofResponse(ctx context.Context, resp *model.ProofResponse) error {
	if resp == nil || resp.Proof == nil {
		return errors.NewProofInvalidError("empty proof response")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkUsable(); err != nil {
		return err
	}

	height := resp.Challenge.Height
	if height <= n.peak.Height() {
		return errors.NewProofInvalidError("response for height %d behind peak %d", height, n.peak.Height())
	}

	expected, err := n.challengeAt(ctx, height)
	if err != nil {
		return err
	}

	if resp.Challenge != *expected {
		return errors.NewProofInvalidError("response answers challenge %s, expected %s", resp.Challenge.Hash, expected.Hash)
	}

	score, err := n.proofVerifier.VerifyProof(resp.Proof, expected.Hash, expected.SpaceDiff)
	if err != nil {
		return err
	}

	if best, ok := n.proofs[height]; ok {
		if best.score < score {
			return nil
		}

		if best.score == score {
			a, b := best.resp.Proof.CalcHash(), resp.Proof.CalcHash()
			if bytes.Compare(a[:], b[:]) <= 0 {
				return nil
			}
		}
	}

	n.proofs[height] = &scoredProof{resp: resp, score: score}

	n.logger.Debugf("[ProcessProofResponse] best proof for height %d now scores %d", height, score)

	return nil
}

// GetBestProof returns the best response seen for height, nil if none.
func (n *Node) GetBestProof(height uint32) *model.ProofResponse {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if best, ok := n.proofs[height]; ok {
		return best.resp
	}

	return nil
}
