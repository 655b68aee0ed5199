package node

import (
	"context"
	"time"

	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node/pos"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node/vdf"
)

// BlockTemplate describes the block a farmer wants to make.
type BlockTemplate struct {
	// Parent defaults to the peak.
	Parent     model.Hash
	FarmerKey  *bec.PrivateKey
	RewardAddr *model.Addr
	PlotID     model.Hash
	ProofData  []byte
	// Txs are included as given when building on the peak. nil takes them from the pool.
	Txs []*model.Transaction
	// Timestamp defaults to now, at least one second after the parent.
	Timestamp int64
}

// CreateBlock builds and signs a block from tmpl. The proof of time leading to it is
// computed locally and indexed, so the node accepts the block right away. Transactions
// that fail to execute are left out.
func (n *Node) CreateBlock(ctx context.Context, tmpl *BlockTemplate) (*model.Block, error) {
	if tmpl == nil || tmpl.FarmerKey == nil {
		return nil, errors.NewInvalidArgumentError("block template needs a farmer key")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkUsable(); err != nil {
		return nil, err
	}

	parent := n.peak.Header
	if tmpl.Parent != (model.Hash{}) {
		if parent = n.getHeader(tmpl.Parent); parent == nil {
			return nil, errors.NewBlockNotFoundError("parent %s not in fork tree", tmpl.Parent)
		}
	}

	height := parent.Height + 1

	challenge, err := n.challengeFor(ctx, parent)
	if err != nil {
		return nil, err
	}

	infuse, err := n.infuseFor(ctx, parent)
	if err != nil {
		return nil, err
	}

	pot := vdf.Prove(height, parent.VdfIters, parent.VdfOutput, infuse, nil, n.params.BlockVDFIters, 1)

	proof := pos.NewProof(challenge, tmpl.PlotID, tmpl.ProofData, tmpl.FarmerKey.PubKey().Compressed())

	score, err := n.proofVerifier.VerifyProof(proof, challenge, parent.SpaceDiff)
	if err != nil {
		return nil, err
	}

	weight := pos.CalcWeight(n.params, score, parent.SpaceDiff)

	timestamp := tmpl.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	if timestamp <= parent.Timestamp {
		timestamp = parent.Timestamp + 1
	}

	b := &model.Block{Header: &model.BlockHeader{
		Version:     model.BlockVersion,
		Prev:        parent.Hash,
		Height:      height,
		Timestamp:   timestamp,
		VdfIters:    pot.EndIters(),
		VdfOutput:   pot.EndOutput(),
		Proof:       proof,
		RewardAddr:  tmpl.RewardAddr,
		SpaceDiff:   parent.SpaceDiff,
		TimeDiff:    parent.TimeDiff,
		Weight:      weight,
		TotalWeight: parent.TotalWeight + weight,
	}}

	if b.TxList, err = n.selectTransactions(parent, tmpl.Txs); err != nil {
		return nil, err
	}

	b.Finalize(n.params)

	if err = b.Header.Sign(tmpl.FarmerKey); err != nil {
		return nil, err
	}

	point := vdfPoint{iters: pot.EndIters(), output: pot.EndOutput()}
	if err = n.addProofOfTime(ctx, point, pot); err != nil {
		return nil, err
	}

	n.logger.Infof("[CreateBlock] created %s with %d transactions, score %d", b.Header, len(b.TxList), score)

	return b, nil
}

// selectTransactions executes candidates on the peak and returns copies carrying their
// results. mu must be held.
func (n *Node) selectTransactions(parent *model.BlockHeader, txs []*model.Transaction) ([]*model.Transaction, error) {
	if parent.Hash != n.peak.Hash() {
		if len(txs) > 0 {
			return nil, errors.NewInvalidArgumentError("transactions can only be included on top of the peak")
		}

		return nil, nil
	}

	if txs == nil {
		txs = n.pool.List()
	}

	bc, err := n.newBlockContext(parent.Height+1, model.Hash{})
	if err != nil {
		return nil, err
	}

	defer bc.discard()

	var out []*model.Transaction

	for _, tx := range txs {
		if err = n.verifySolutionsOf(tx); err != nil {
			n.logger.Debugf("[CreateBlock] skipping %s: %v", tx.ID, err)
			continue
		}

		cost := bc.totalCost

		result, err := bc.executeTx(tx)
		if err != nil {
			if errors.IsFatalError(err) {
				return nil, err
			}

			n.logger.Debugf("[CreateBlock] skipping %s: %v", tx.ID, err)

			continue
		}

		if bc.totalCost > n.params.MaxBlockCost {
			bc.totalCost = cost
			break
		}

		included := *tx
		included.ExecResult = result
		out = append(out, &included)
	}

	return out, nil
}
