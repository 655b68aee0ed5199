package model

import (
	"fmt"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

const BlockVersion uint32 = 1

type BlockHeader struct {
	Version uint32

	// Hash covers every field except itself, FarmerSig and ContentHash.
	Hash Hash
	Prev Hash

	Height    uint32
	Timestamp int64

	// VdfIters and VdfOutput are where the proof of time for this height ends.
	VdfIters  uint64
	VdfOutput Hash

	// Proof is nil only for the genesis block.
	Proof *ProofOfSpace

	RewardAddr   *Addr
	RewardAmount uint64

	SpaceDiff   uint64
	TimeDiff    uint64
	Weight      uint64
	TotalWeight uint64

	TxCount   uint32
	TxFees    uint64
	TotalCost uint64
	TxHash    Hash

	Nonce uint64

	// FarmerSig signs Hash with Proof.FarmerKey.
	FarmerSig   []byte
	ContentHash Hash
}

func (bh *BlockHeader) writeBody(e *encoder) {
	e.u32(bh.Version)
	e.hash(bh.Prev)
	e.u32(bh.Height)
	e.u64(uint64(bh.Timestamp))
	e.u64(bh.VdfIters)
	e.hash(bh.VdfOutput)

	if bh.Proof == nil {
		e.u8(0)
	} else {
		e.u8(1)
		bh.Proof.write(e)
	}

	e.optHash(bh.RewardAddr)
	e.u64(bh.RewardAmount)
	e.u64(bh.SpaceDiff)
	e.u64(bh.TimeDiff)
	e.u64(bh.Weight)
	e.u64(bh.TotalWeight)
	e.u32(bh.TxCount)
	e.u64(bh.TxFees)
	e.u64(bh.TotalCost)
	e.hash(bh.TxHash)
	e.u64(bh.Nonce)
}

func (bh *BlockHeader) CalcHash() Hash {
	e := &encoder{}
	bh.writeBody(e)

	return chainhash.HashH(e.Bytes())
}

func (bh *BlockHeader) CalcContentHash() Hash {
	e := &encoder{}
	e.hash(bh.Hash)
	e.varBytes(bh.FarmerSig)

	return chainhash.HashH(e.Bytes())
}

// Sign signs the header hash with the farmer key and updates the content hash.
func (bh *BlockHeader) Sign(key *bec.PrivateKey) error {
	sig, err := key.Sign(bh.Hash[:])
	if err != nil {
		return errors.NewProcessingError("could not sign block %s", bh.Hash, err)
	}

	bh.FarmerSig = sig.Serialize()
	bh.ContentHash = bh.CalcContentHash()

	return nil
}

// VerifySignature checks FarmerSig against the farmer key of the proof.
func (bh *BlockHeader) VerifySignature() error {
	if bh.Proof == nil {
		return errors.NewSignatureInvalidError("block %s has no proof", bh.Hash)
	}

	sol := &PubKeySolution{PubKey: bh.Proof.FarmerKey, Signature: bh.FarmerSig}

	return sol.Verify(bh.Hash)
}

func (bh *BlockHeader) String() string {
	return fmt.Sprintf("%s (height %d)", bh.Hash, bh.Height)
}

func (bh *BlockHeader) write(e *encoder) {
	e.hash(bh.Hash)
	bh.writeBody(e)
	e.varBytes(bh.FarmerSig)
	e.hash(bh.ContentHash)
}

func (bh *BlockHeader) Bytes() []byte {
	e := &encoder{}
	bh.write(e)

	return e.Bytes()
}

func readBlockHeader(d *decoder) *BlockHeader {
	bh := &BlockHeader{
		Hash:      d.hash(),
		Version:   d.u32(),
		Prev:      d.hash(),
		Height:    d.u32(),
		Timestamp: int64(d.u64()),
		VdfIters:  d.u64(),
		VdfOutput: d.hash(),
	}

	if d.boolean() {
		bh.Proof = readProofOfSpace(d)
	}

	bh.RewardAddr = d.optHash()
	bh.RewardAmount = d.u64()
	bh.SpaceDiff = d.u64()
	bh.TimeDiff = d.u64()
	bh.Weight = d.u64()
	bh.TotalWeight = d.u64()
	bh.TxCount = d.u32()
	bh.TxFees = d.u64()
	bh.TotalCost = d.u64()
	bh.TxHash = d.hash()
	bh.Nonce = d.u64()
	bh.FarmerSig = d.varBytes()
	bh.ContentHash = d.hash()

	return bh
}

func NewBlockHeaderFromBytes(b []byte) (*BlockHeader, error) {
	d := newDecoder(b)
	bh := readBlockHeader(d)

	if err := d.finish("block header"); err != nil {
		return nil, err
	}

	return bh, nil
}
