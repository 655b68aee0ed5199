package model

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
)

// ProofOfSpace answers the challenge of a height with a lookup into a plot. Lower scores
// are better, Score is what the farmer claims and the verifier recomputes.
type ProofOfSpace struct {
	PlotID    Hash
	Challenge Hash
	KSize     uint8
	Proof     []byte
	FarmerKey []byte
	Score     uint16
}

func (p *ProofOfSpace) write(e *encoder) {
	e.hash(p.PlotID)
	e.hash(p.Challenge)
	e.u8(p.KSize)
	e.varBytes(p.Proof)
	e.varBytes(p.FarmerKey)
	e.u16(p.Score)
}

func readProofOfSpace(d *decoder) *ProofOfSpace {
	return &ProofOfSpace{
		PlotID:    d.hash(),
		Challenge: d.hash(),
		KSize:     d.u8(),
		Proof:     d.varBytes(),
		FarmerKey: d.varBytes(),
		Score:     d.u16(),
	}
}

func (p *ProofOfSpace) CalcHash() Hash {
	e := &encoder{}
	p.write(e)

	return chainhash.HashH(e.Bytes())
}

// VDFSegment is a stretch of NumIters sequential hashes ending at Output.
type VDFSegment struct {
	NumIters uint64
	Output   Hash
}

// ProofOfTime is the VDF run from Input at iteration Start, with Infuse mixed into the
// first segment.
type ProofOfTime struct {
	Height      uint32
	Start       uint64
	Input       Hash
	Infuse      Hash
	Segments    []VDFSegment
	RewardAddr  *Addr
	TimelordKey []byte
	TimelordSig []byte
}

func (p *ProofOfTime) EndIters() uint64 {
	end := p.Start
	for _, seg := range p.Segments {
		end += seg.NumIters
	}

	return end
}

func (p *ProofOfTime) EndOutput() Hash {
	if len(p.Segments) == 0 {
		return p.Input
	}

	return p.Segments[len(p.Segments)-1].Output
}

func (p *ProofOfTime) writeBody(e *encoder) {
	e.u32(p.Height)
	e.u64(p.Start)
	e.hash(p.Input)
	e.hash(p.Infuse)
	e.varint(uint64(len(p.Segments)))

	for _, seg := range p.Segments {
		e.u64(seg.NumIters)
		e.hash(seg.Output)
	}

	e.optHash(p.RewardAddr)
	e.varBytes(p.TimelordKey)
}

// CalcHash covers everything but the timelord signature.
func (p *ProofOfTime) CalcHash() Hash {
	e := &encoder{}
	p.writeBody(e)

	return chainhash.HashH(e.Bytes())
}

// Sign sets the timelord key and signature.
func (p *ProofOfTime) Sign(key *bec.PrivateKey) error {
	p.TimelordKey = key.PubKey().Compressed()
	hash := p.CalcHash()

	sig, err := key.Sign(hash[:])
	if err != nil {
		return errors.NewProcessingError("could not sign proof of time", err)
	}

	p.TimelordSig = sig.Serialize()

	return nil
}

// VerifySignature checks the timelord signature. Unsigned proofs are accepted.
func (p *ProofOfTime) VerifySignature() error {
	if len(p.TimelordKey) == 0 && len(p.TimelordSig) == 0 {
		return nil
	}

	sol := &PubKeySolution{PubKey: p.TimelordKey, Signature: p.TimelordSig}

	return sol.Verify(p.CalcHash())
}

func (p *ProofOfTime) Bytes() []byte {
	e := &encoder{}
	p.writeBody(e)
	e.varBytes(p.TimelordSig)

	return e.Bytes()
}

func NewProofOfTimeFromBytes(b []byte) (*ProofOfTime, error) {
	d := newDecoder(b)
	p := &ProofOfTime{
		Height: d.u32(),
		Start:  d.u64(),
		Input:  d.hash(),
		Infuse: d.hash(),
	}

	n := d.count()
	for i := 0; i < n && d.err == nil; i++ {
		p.Segments = append(p.Segments, VDFSegment{NumIters: d.u64(), Output: d.hash()})
	}

	p.RewardAddr = d.optHash()
	p.TimelordKey = d.varBytes()
	p.TimelordSig = d.varBytes()

	if err := d.finish("proof of time"); err != nil {
		return nil, err
	}

	return p, nil
}

// Challenge is what farmers must answer to create the block at Height.
type Challenge struct {
	Height    uint32
	Hash      Hash
	SpaceDiff uint64
}

// ProofResponse is a farmer's answer to a challenge.
type ProofResponse struct {
	Challenge Challenge
	Proof     *ProofOfSpace
	Farmer    Addr
}
