package vdf

import (
	"context"
	"testing"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProveAndVerify(t *testing.T) {
	reward := model.Addr{7}
	pot := Prove(3, 32, model.Hash{1}, model.Hash{2}, &reward, 100, 4)

	assert.Equal(t, uint64(132), pot.EndIters())
	require.Len(t, pot.Segments, 4)
	assert.Equal(t, uint64(25), pot.Segments[0].NumIters)
	assert.Equal(t, Compute(InfusedInput(pot), 100), pot.EndOutput())

	for _, concurrency := range []int{0, 1, 3} {
		require.NoError(t, NewHashChainVerifier(concurrency).Verify(context.Background(), pot))
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewHashChainVerifier(2)

	t.Run("tampered segment", func(t *testing.T) {
		pot := Prove(1, 0, model.Hash{1}, model.Hash{2}, nil, 10, 2)
		pot.Segments[1].Output[0] ^= 1

		err := v.Verify(context.Background(), pot)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrVDFInvalid))
	})

	t.Run("reward address changes infusion", func(t *testing.T) {
		pot := Prove(1, 0, model.Hash{1}, model.Hash{2}, nil, 10, 1)
		other := model.Addr{3}
		pot.RewardAddr = &other

		require.Error(t, v.Verify(context.Background(), pot))
	})

	t.Run("no segments", func(t *testing.T) {
		require.Error(t, v.Verify(context.Background(), &model.ProofOfTime{Height: 1}))
	})

	t.Run("uneven split", func(t *testing.T) {
		pot := Prove(1, 0, model.Hash{1}, model.Hash{2}, nil, 10, 3)
		assert.Equal(t, uint64(10), pot.EndIters())
		require.NoError(t, v.Verify(context.Background(), pot))
	})
}
