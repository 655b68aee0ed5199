package node

import (
	"testing"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/lsm"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/state"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolTx(id byte, expires uint32, inputs ...model.TxioKey) *model.Transaction {
	tx := &model.Transaction{ID: model.Hash{id}, Expires: expires}
	for _, in := range inputs {
		tx.Inputs = append(tx.Inputs, model.TxIn{Prev: in})
	}

	return tx
}

func TestTxPoolAdd(t *testing.T) {
	out1 := model.TxioKey{TxID: model.Hash{0xa}, Index: 0}
	out2 := model.TxioKey{TxID: model.Hash{0xa}, Index: 1}

	p := newTxPool(2)

	require.NoError(t, p.Add(poolTx(1, 0, out1)))

	err := p.Add(poolTx(1, 0, out1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTxAlreadyExists))

	err = p.Add(poolTx(2, 0, out1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTxInvalidDoubleSpend))

	require.NoError(t, p.Add(poolTx(3, 0, out2)))

	err = p.Add(poolTx(4, 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrThresholdExceeded))

	assert.Equal(t, 2, p.Len())

	list := p.List()
	require.Len(t, list, 2)
	assert.Equal(t, model.Hash{1}, list[0].ID)
	assert.Equal(t, model.Hash{3}, list[1].ID)

	assert.True(t, p.Remove(model.Hash{1}))
	assert.False(t, p.Remove(model.Hash{1}))

	// the output is free again
	require.NoError(t, p.Add(poolTx(2, 0, out1)))
}

func TestTxPoolPurge(t *testing.T) {
	db, err := lsm.Open(ulogger.TestLogger{}, "", lsm.NewOptions(), state.Tables...)
	require.NoError(t, err)

	defer db.Close()

	s, err := state.New(ulogger.TestLogger{}, db)
	require.NoError(t, err)

	owner := model.Addr{0x01}
	live := model.TxioKey{TxID: model.Hash{0xa}, Index: 0}
	spent := model.TxioKey{TxID: model.Hash{0xa}, Index: 1}
	missing := model.TxioKey{TxID: model.Hash{0xb}, Index: 0}

	require.NoError(t, s.AddTxo(live, model.TxOut{Address: owner, Amount: 10}, 0))
	require.NoError(t, s.AddTxo(spent, model.TxOut{Address: owner, Amount: 10}, 0))

	_, err = s.SpendTxo(spent, 1, model.Hash{0xee})
	require.NoError(t, err)

	require.NoError(t, s.AddTx(&state.TxInfo{ID: model.Hash{4}, Height: 1}))
	require.NoError(t, s.Commit(2))

	p := newTxPool(0)
	require.NoError(t, p.Add(poolTx(1, 0, live)))
	require.NoError(t, p.Add(poolTx(2, 0, spent)))
	require.NoError(t, p.Add(poolTx(3, 0, missing)))
	require.NoError(t, p.Add(poolTx(4, 0)))
	require.NoError(t, p.Add(poolTx(5, 1)))

	dropped, err := p.Purge(2, s)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.Hash{{2}, {3}, {4}, {5}}, dropped)

	list := p.List()
	require.Len(t, list, 1)
	assert.Equal(t, model.Hash{1}, list[0].ID)
}
