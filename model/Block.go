package model

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/dolthub/swiss"
	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

type Block struct {
	Header *BlockHeader
	TxList []*Transaction
}

func NewBlock(header *BlockHeader, txs []*Transaction) *Block {
	return &Block{Header: header, TxList: txs}
}

func (b *Block) Hash() Hash {
	return b.Header.Hash
}

func (b *Block) Height() uint32 {
	return b.Header.Height
}

func (b *Block) String() string {
	return b.Header.String()
}

// Extends checks that b is the direct child of parent. A nil parent only admits height 0.
func (b *Block) Extends(parent *BlockHeader) error {
	if parent == nil {
		if b.Height() != 0 {
			return errors.NewBlockInvalidError("block %s at height %d has no parent", b.Hash(), b.Height())
		}

		return nil
	}

	if b.Height() != parent.Height+1 || b.Header.Prev != parent.Hash {
		return errors.NewBlockInvalidError("block %s at height %d does not extend %s at height %d", b.Hash(), b.Height(), parent.Hash, parent.Height)
	}

	return nil
}

// CalcTxHash commits to the full hash of every transaction in order.
func (b *Block) CalcTxHash() Hash {
	if len(b.TxList) == 0 {
		return Hash{}
	}

	e := &encoder{}
	for _, tx := range b.TxList {
		e.hash(tx.CalcFullHash())
	}

	return chainhash.HashH(e.Bytes())
}

func (b *Block) sumExecResults() (fees, cost uint64) {
	for _, tx := range b.TxList {
		if tx.ExecResult != nil {
			fees += tx.ExecResult.TotalFee
			cost += tx.ExecResult.TotalCost
		}
	}

	return fees, cost
}

// Finalize fills in the transaction counters, tx hash and block hash. Sign must be
// called afterwards for blocks with a proof.
func (b *Block) Finalize(params *chaincfg.Params) {
	bh := b.Header

	count, err := safeconversion.IntToUint32(len(b.TxList))
	if err != nil {
		count = ^uint32(0)
	}

	bh.TxCount = count
	bh.TxFees, bh.TotalCost = b.sumExecResults()
	bh.TxHash = b.CalcTxHash()

	if bh.Height > 0 && bh.RewardAddr != nil {
		bh.RewardAmount = params.BlockReward + bh.TxFees
	}

	bh.Hash = bh.CalcHash()
	bh.ContentHash = bh.CalcContentHash()
}

// IsValid checks everything that can be checked without chain state: hashes, counters,
// transaction structure and that every transaction past genesis carries its result.
func (b *Block) IsValid(params *chaincfg.Params) error {
	bh := b.Header
	if bh == nil {
		return errors.NewBlockInvalidError("block without header")
	}

	if bh.Version != BlockVersion {
		return errors.NewBlockInvalidError("[%s] unsupported version %d", bh.Hash, bh.Version)
	}

	if hash := bh.CalcHash(); hash != bh.Hash {
		return errors.NewBlockInvalidError("[%s] hash mismatch, calculated %s", bh.Hash, hash)
	}

	if hash := bh.CalcContentHash(); hash != bh.ContentHash {
		return errors.NewBlockInvalidError("[%s] content hash mismatch", bh.Hash)
	}

	if int(bh.TxCount) != len(b.TxList) {
		return errors.NewBlockInvalidError("[%s] tx count %d but %d transactions", bh.Hash, bh.TxCount, len(b.TxList))
	}

	if hash := b.CalcTxHash(); hash != bh.TxHash {
		return errors.NewBlockInvalidError("[%s] tx hash mismatch", bh.Hash)
	}

	if bh.Height > 0 {
		if bh.Proof == nil {
			return errors.NewBlockInvalidError("[%s] missing proof of space", bh.Hash)
		}

		if bh.Weight == 0 {
			return errors.NewBlockInvalidError("[%s] zero weight", bh.Hash)
		}
	}

	if err := b.checkTransactions(params); err != nil {
		return err
	}

	fees, cost := b.sumExecResults()
	if fees != bh.TxFees || cost != bh.TotalCost {
		return errors.NewBlockInvalidError("[%s] counters (fees %d, cost %d) do not match transactions (fees %d, cost %d)",
			bh.Hash, bh.TxFees, bh.TotalCost, fees, cost)
	}

	if cost > params.MaxBlockCost {
		return errors.NewBlockInvalidError("[%s] total cost %d > %d", bh.Hash, cost, params.MaxBlockCost)
	}

	switch {
	case bh.Height == 0 || bh.RewardAddr == nil:
		if bh.RewardAmount != 0 {
			return errors.NewBlockInvalidError("[%s] reward amount %d without reward address", bh.Hash, bh.RewardAmount)
		}
	case bh.RewardAmount != params.BlockReward+fees:
		return errors.NewBlockInvalidError("[%s] reward %d != %d", bh.Hash, bh.RewardAmount, params.BlockReward+fees)
	}

	return nil
}

func (b *Block) checkTransactions(params *chaincfg.Params) error {
	bh := b.Header
	txMap := swiss.NewMap[Hash, int](uint32(len(b.TxList)))

	for i, tx := range b.TxList {
		if tx == nil {
			return errors.NewBlockInvalidError("[%s] transaction %d is nil", bh.Hash, i)
		}

		if txMap.Has(tx.ID) {
			return errors.NewBlockInvalidError("[%s] duplicate transaction %s", bh.Hash, tx.ID)
		}

		txMap.Put(tx.ID, i)

		if err := tx.IsValid(params); err != nil {
			return errors.NewBlockInvalidError("[%s] invalid transaction %d", bh.Hash, i, err)
		}

		if bh.Height > 0 && tx.ExecResult == nil {
			return errors.NewBlockInvalidError("[%s] transaction %s has no execution result", bh.Hash, tx.ID)
		}

		if bh.Height == 0 && (len(tx.Inputs) > 0 || len(tx.Execute) > 0) {
			return errors.NewBlockInvalidError("[%s] genesis transaction %s spends or executes", bh.Hash, tx.ID)
		}
	}

	return nil
}

func (b *Block) Bytes() []byte {
	e := &encoder{}
	b.Header.write(e)
	e.varint(uint64(len(b.TxList)))

	for _, tx := range b.TxList {
		tx.write(e)
	}

	return e.Bytes()
}

func NewBlockFromBytes(data []byte) (*Block, error) {
	d := newDecoder(data)
	b := &Block{Header: readBlockHeader(d)}

	n := d.count()
	for i := 0; i < n && d.err == nil; i++ {
		b.TxList = append(b.TxList, readTransaction(d))
	}

	if err := d.finish("block"); err != nil {
		return nil, err
	}

	return b, nil
}

// NewGenesisBlock builds height 0 on top of the network's genesis hash. Its transactions
// create outputs out of nothing.
func NewGenesisBlock(params *chaincfg.Params, txs ...*Transaction) *Block {
	for _, tx := range txs {
		if tx.Version == 0 {
			tx.Version = TxVersion
		}

		tx.Finalize()
	}

	genesis := params.GenesisHash()

	b := &Block{
		Header: &BlockHeader{
			Version:   BlockVersion,
			Prev:      genesis,
			Height:    0,
			Timestamp: params.GenesisTimestamp.Unix(),
			VdfOutput: genesis,
			SpaceDiff: params.InitialSpaceDiff,
			TimeDiff:  params.InitialTimeDiff,
		},
		TxList: txs,
	}

	b.Finalize(params)

	return b
}
