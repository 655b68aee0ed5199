package memory

import (
	"context"
	"testing"

	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := New()
	chain := model.NewTestChain(&chaincfg.RegressionNetParams, 3)

	require.True(t, errors.Is(m.StoreBlock(ctx, chain[1]), errors.ErrBlockInvalid))

	for _, b := range chain {
		require.NoError(t, m.StoreBlock(ctx, b))
	}

	require.True(t, errors.Is(m.StoreBlock(ctx, chain[2]), errors.ErrBlockExists))

	best, err := m.GetBestBlockHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), best.Height)

	b, err := m.GetBlockAt(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, chain[1], b)

	hash := chain[2].Hash()
	h, err := m.GetHeader(ctx, &hash)
	require.NoError(t, err)
	assert.Equal(t, chain[2].Header, h)

	_, err = m.GetBlockAt(ctx, 3)
	assert.True(t, errors.Is(err, errors.ErrBlockNotFound))

	require.NoError(t, m.SetState(ctx, "k", []byte("v")))
	v, err := m.GetState(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}
