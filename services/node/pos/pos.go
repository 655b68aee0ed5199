// Package pos scores proofs of space. Plot lookups are out of scope here, a proof is
// accepted when its claimed score matches the quality derived from it.
package pos

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
)

// Verifier checks a proof against the challenge of its height and returns its score.
// Lower scores are better.
type Verifier interface {
	VerifyProof(proof *model.ProofOfSpace, challenge model.Hash, spaceDiff uint64) (uint16, error)
}

// MinKSize is the smallest plot size accepted.
const MinKSize = 26

type HashVerifier struct {
	params *chaincfg.Params
}

func NewHashVerifier(params *chaincfg.Params) *HashVerifier {
	return &HashVerifier{params: params}
}

// CalcScore is the first two bytes of sha256(challenge || plot id || proof), big endian.
func CalcScore(challenge, plotID model.Hash, proof []byte) uint16 {
	h := sha256.New()
	h.Write(challenge[:])
	h.Write(plotID[:])
	h.Write(proof)

	return binary.BigEndian.Uint16(h.Sum(nil))
}

func (v *HashVerifier) VerifyProof(proof *model.ProofOfSpace, challenge model.Hash, spaceDiff uint64) (uint16, error) {
	if proof == nil {
		return 0, errors.NewProofInvalidError("missing proof of space")
	}

	if proof.Challenge != challenge {
		return 0, errors.NewProofInvalidError("proof answers challenge %s, expected %s", proof.Challenge, challenge)
	}

	if proof.KSize < MinKSize {
		return 0, errors.NewProofInvalidError("plot k%d below minimum k%d", proof.KSize, MinKSize)
	}

	if len(proof.Proof) == 0 {
		return 0, errors.NewProofInvalidError("empty proof")
	}

	if spaceDiff == 0 {
		return 0, errors.NewProofInvalidError("zero space difficulty")
	}

	score := CalcScore(challenge, proof.PlotID, proof.Proof)
	if score != proof.Score {
		return 0, errors.NewProofInvalidError("claimed score %d, computed %d", proof.Score, score)
	}

	if uint32(score) >= v.params.ScoreThreshold {
		return 0, errors.NewProofInvalidError("score %d not below threshold %d", score, v.params.ScoreThreshold)
	}

	return score, nil
}

// CalcWeight is how much a block with the given score adds to its fork.
func CalcWeight(params *chaincfg.Params, score uint16, spaceDiff uint64) uint64 {
	if uint32(score) >= params.ScoreThreshold {
		return 0
	}

	return spaceDiff * uint64(params.ScoreThreshold-uint32(score))
}

// CalcChallenge derives the challenge for height from the VDF output it is issued from.
func CalcChallenge(vdfOutput model.Hash, height uint32) model.Hash {
	h := sha256.New()
	h.Write(vdfOutput[:])
	_ = binary.Write(h, binary.BigEndian, height)

	var out model.Hash
	copy(out[:], h.Sum(nil))

	return out
}

// NewProof builds a proof for challenge out of arbitrary plot data, with the score it
// deserves. Farmers without real plots and tests use it.
func NewProof(challenge, plotID model.Hash, data, farmerKey []byte) *model.ProofOfSpace {
	return &model.ProofOfSpace{
		PlotID:    plotID,
		Challenge: challenge,
		KSize:     MinKSize,
		Proof:     data,
		FarmerKey: farmerKey,
		Score:     CalcScore(challenge, plotID, data),
	}
}
