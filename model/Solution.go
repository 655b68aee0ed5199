package model

import (
	"crypto/sha256"
	"sort"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

// Solution proves the right to spend an input or act as a user. Verify does the stateless
// cryptographic check only; which address a solution satisfies is decided by the contract
// that owns the funds.
type Solution interface {
	Verify(msg Hash) error
	isSolution()
	write(e *encoder)
}

const (
	solutionPubKey uint8 = iota + 1
	solutionMultiSig
	solutionPuzzle
)

// PubKeySolution is a DER signature over the transaction hash.
type PubKeySolution struct {
	PubKey    []byte
	Signature []byte
}

// SignPubKey signs msg with key.
func SignPubKey(key *bec.PrivateKey, msg Hash) (*PubKeySolution, error) {
	sig, err := key.Sign(msg[:])
	if err != nil {
		return nil, errors.NewProcessingError("could not sign", err)
	}

	return &PubKeySolution{PubKey: key.PubKey().Compressed(), Signature: sig.Serialize()}, nil
}

func (s *PubKeySolution) isSolution() {}

// Address is the address this solution's key owns.
func (s *PubKeySolution) Address() (Addr, error) {
	pub, err := bec.ParsePubKey(s.PubKey)
	if err != nil {
		return Addr{}, errors.NewSignatureInvalidError("invalid public key", err)
	}

	return AddrFromPubKey(pub), nil
}

func (s *PubKeySolution) Verify(msg Hash) error {
	pub, err := bec.ParsePubKey(s.PubKey)
	if err != nil {
		return errors.NewSignatureInvalidError("invalid public key", err)
	}

	sig, err := bec.ParseDERSignature(s.Signature)
	if err != nil {
		return errors.NewSignatureInvalidError("invalid signature encoding", err)
	}

	if !sig.Verify(msg[:], pub) {
		return errors.NewSignatureInvalidError("signature does not match %s", AddrFromPubKey(pub))
	}

	return nil
}

func (s *PubKeySolution) write(e *encoder) {
	e.u8(solutionPubKey)
	e.varBytes(s.PubKey)
	e.varBytes(s.Signature)
}

// MultiSigSolution carries one signature per owner that signed.
type MultiSigSolution struct {
	Solutions map[Addr]*PubKeySolution
}

func (s *MultiSigSolution) isSolution() {}

func (s *MultiSigSolution) Verify(msg Hash) error {
	for owner, sol := range s.Solutions {
		if sol == nil {
			return errors.NewSignatureInvalidError("missing signature for %s", owner)
		}

		if err := sol.Verify(msg); err != nil {
			return err
		}

		addr, err := sol.Address()
		if err != nil {
			return err
		}

		if addr != owner {
			return errors.NewSignatureInvalidError("key of %s listed under %s", addr, owner)
		}
	}

	return nil
}

func (s *MultiSigSolution) owners() []Addr {
	owners := make([]Addr, 0, len(s.Solutions))
	for owner := range s.Solutions {
		owners = append(owners, owner)
	}

	sort.Slice(owners, func(i, j int) bool {
		return TxioKey{TxID: owners[i]}.Less(TxioKey{TxID: owners[j]})
	})

	return owners
}

func (s *MultiSigSolution) write(e *encoder) {
	e.u8(solutionMultiSig)

	owners := s.owners()
	e.varint(uint64(len(owners)))

	for _, owner := range owners {
		e.hash(owner)
		e.varBytes(s.Solutions[owner].PubKey)
		e.varBytes(s.Solutions[owner].Signature)
	}
}

// PuzzleSolution reveals the preimage of a PuzzleLock.
type PuzzleSolution struct {
	Preimage []byte
}

func (s *PuzzleSolution) isSolution() {}

func (s *PuzzleSolution) Verify(Hash) error {
	if len(s.Preimage) == 0 {
		return errors.NewSignatureInvalidError("empty puzzle preimage")
	}

	return nil
}

// Hash is what a PuzzleLock's PuzzleHash must equal.
func (s *PuzzleSolution) Hash() Hash {
	return chainhash.Hash(sha256.Sum256(s.Preimage))
}

func (s *PuzzleSolution) write(e *encoder) {
	e.u8(solutionPuzzle)
	e.varBytes(s.Preimage)
}

func readSolution(d *decoder) Solution {
	switch tag := d.u8(); tag {
	case solutionPubKey:
		return &PubKeySolution{PubKey: d.varBytes(), Signature: d.varBytes()}
	case solutionMultiSig:
		n := d.count()
		s := &MultiSigSolution{Solutions: make(map[Addr]*PubKeySolution, n)}

		for i := 0; i < n && d.err == nil; i++ {
			owner := d.hash()
			s.Solutions[owner] = &PubKeySolution{PubKey: d.varBytes(), Signature: d.varBytes()}
		}

		return s
	case solutionPuzzle:
		return &PuzzleSolution{Preimage: d.varBytes()}
	default:
		d.fail(errors.NewProcessingError("unknown solution type %d", tag))
		return nil
	}
}
