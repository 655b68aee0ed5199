package pos

import (
	"testing"

	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashVerifier(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	v := NewHashVerifier(params)
	challenge := CalcChallenge(model.Hash{1}, 5)

	proof := NewProof(challenge, model.Hash{2}, []byte("plot data"), []byte{3})

	score, err := v.VerifyProof(proof, challenge, 1)
	require.NoError(t, err)
	assert.Equal(t, proof.Score, score)

	tests := []struct {
		name   string
		mutate func(p *model.ProofOfSpace) model.Hash
	}{
		{"wrong challenge", func(p *model.ProofOfSpace) model.Hash { return model.Hash{9} }},
		{"small plot", func(p *model.ProofOfSpace) model.Hash { p.KSize = 20; return challenge }},
		{"empty proof", func(p *model.ProofOfSpace) model.Hash { p.Proof = nil; return challenge }},
		{"wrong score", func(p *model.ProofOfSpace) model.Hash { p.Score++; return challenge }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := *proof
			c := tt.mutate(&p)

			_, err := v.VerifyProof(&p, c, 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrProofInvalid))
		})
	}

	_, err = v.VerifyProof(nil, challenge, 1)
	require.Error(t, err)
}

func TestCalcWeight(t *testing.T) {
	params := &chaincfg.RegressionNetParams

	assert.Equal(t, uint64(params.ScoreThreshold), CalcWeight(params, 0, 1))
	assert.Equal(t, uint64(params.ScoreThreshold-100)*3, CalcWeight(params, 100, 3))
	assert.Greater(t, CalcWeight(params, 100, 1), CalcWeight(params, 105, 1))
}

func TestCalcChallenge(t *testing.T) {
	a := CalcChallenge(model.Hash{1}, 1)
	assert.Equal(t, a, CalcChallenge(model.Hash{1}, 1))
	assert.NotEqual(t, a, CalcChallenge(model.Hash{1}, 2))
	assert.NotEqual(t, a, CalcChallenge(model.Hash{2}, 1))
}
