// Package vdf verifies proofs of time. The delay function is an iterated sha256 chain,
// so verification costs as much as computing, but segments verify in parallel.
package vdf

import (
	"context"
	"crypto/sha256"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/util"
)

type Verifier interface {
	Verify(ctx context.Context, pot *model.ProofOfTime) error
}

// Compute iterates sha256 iters times starting from input.
func Compute(input model.Hash, iters uint64) model.Hash {
	out := input
	for i := uint64(0); i < iters; i++ {
		out = sha256.Sum256(out[:])
	}

	return out
}

// InfusedInput is where the first segment starts: the proof input mixed with the infused
// block hash and the reward address, if any.
func InfusedInput(pot *model.ProofOfTime) model.Hash {
	h := sha256.New()
	h.Write(pot.Input[:])
	h.Write(pot.Infuse[:])

	if pot.RewardAddr != nil {
		h.Write(pot.RewardAddr[:])
	} else {
		var zero model.Addr
		h.Write(zero[:])
	}

	var out model.Hash
	copy(out[:], h.Sum(nil))

	return out
}

// Prove runs the delay function for iters iterations split into numSegments segments.
// The returned proof is unsigned.
func Prove(height uint32, start uint64, input, infuse model.Hash, rewardAddr *model.Addr, iters uint64, numSegments int) *model.ProofOfTime {
	if numSegments < 1 {
		numSegments = 1
	}

	pot := &model.ProofOfTime{
		Height:     height,
		Start:      start,
		Input:      input,
		Infuse:     infuse,
		RewardAddr: rewardAddr,
	}

	out := InfusedInput(pot)
	per := iters / uint64(numSegments)

	for i := 0; i < numSegments; i++ {
		n := per
		if i == numSegments-1 {
			n = iters - per*uint64(numSegments-1)
		}

		out = Compute(out, n)
		pot.Segments = append(pot.Segments, model.VDFSegment{NumIters: n, Output: out})
	}

	return pot
}

// HashChainVerifier recomputes every segment. Concurrency bounds the number of segments
// computed at once, 0 means one goroutine per segment.
type HashChainVerifier struct {
	Concurrency int
}

func NewHashChainVerifier(concurrency int) *HashChainVerifier {
	return &HashChainVerifier{Concurrency: concurrency}
}

func (v *HashChainVerifier) Verify(ctx context.Context, pot *model.ProofOfTime) error {
	if pot == nil {
		return errors.NewVDFInvalidError("missing proof of time")
	}

	if len(pot.Segments) == 0 {
		return errors.NewVDFInvalidError("[%d] proof of time without segments", pot.Height)
	}

	for i, seg := range pot.Segments {
		if seg.NumIters == 0 {
			return errors.NewVDFInvalidError("[%d] segment %d is empty", pot.Height, i)
		}
	}

	if err := pot.VerifySignature(); err != nil {
		return errors.NewVDFInvalidError("[%d] timelord signature", pot.Height, err)
	}

	g, gCtx := util.NewErrGroup(ctx, v.Concurrency)

	for i := range pot.Segments {
		input := InfusedInput(pot)
		if i > 0 {
			input = pot.Segments[i-1].Output
		}

		seg := pot.Segments[i]

		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return errors.NewContextCanceledError("vdf verification", err)
			}

			if out := Compute(input, seg.NumIters); out != seg.Output {
				return errors.NewVDFInvalidError("[%d] segment %d output mismatch", pot.Height, i)
			}

			return nil
		})
	}

	return g.Wait()
}
