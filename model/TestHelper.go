package model

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
)

// TestKey derives a deterministic key pair from seed, with the address it owns.
func TestKey(seed string) (*bec.PrivateKey, Addr) {
	priv, pub := bec.PrivateKeyFromBytes(chainhash.HashB([]byte(seed)))
	return priv, AddrFromPubKey(pub)
}

// NewTestTransfer spends inputs, all owned by key, into outputs. Every input uses
// solution 0, the transaction is finalized and signed.
func NewTestTransfer(key *bec.PrivateKey, inputs []TxioKey, outputs []TxOut, maxFee uint64) (*Transaction, error) {
	sender := AddrFromPubKey(key.PubKey())

	tx := &Transaction{
		Version:      TxVersion,
		MaxFeeAmount: maxFee,
		Sender:       &sender,
		Outputs:      outputs,
	}

	for _, prev := range inputs {
		tx.Inputs = append(tx.Inputs, TxIn{Prev: prev, Solution: 0})
	}

	tx.Finalize()

	if _, err := tx.Sign(key); err != nil {
		return nil, err
	}

	return tx, nil
}

// NewTestChain returns a genesis block followed by n-1 empty children. The children carry
// no proof, they are only fit for stores that check linkage.
func NewTestChain(params *chaincfg.Params, n int) []*Block {
	chain := []*Block{NewGenesisBlock(params)}

	for i := 1; i < n; i++ {
		prev := chain[i-1].Header

		b := &Block{Header: &BlockHeader{
			Version:   BlockVersion,
			Prev:      prev.Hash,
			Height:    prev.Height + 1,
			Timestamp: prev.Timestamp + 10,
			VdfIters:  prev.VdfIters + params.BlockVDFIters,
			SpaceDiff: prev.SpaceDiff,
			TimeDiff:  prev.TimeDiff,
			Weight:    1,
		}}
		b.Finalize(params)

		chain = append(chain, b)
	}

	return chain
}
