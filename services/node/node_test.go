package node

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node/pos"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/blockchain/memory"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/lsm"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/state"
	vmdb "github.com/madMAx43v3r/mmx-node-sub001/stores/vmstore/db"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeAppliesGenesis(t *testing.T) {
	env := newTestEnv(t)
	n := env.newNode()

	assert.Equal(t, env.genesis.Hash(), n.GetPeak().Hash)
	assert.Equal(t, uint32(0), n.GetHeight())
	assert.Equal(t, env.genesis.Hash(), n.GetRoot().Hash)
	assert.Equal(t, uint64(3*genesisAmount), balanceOf(t, n, env.alice.addr))

	utxos, err := n.GetUTXOList(env.alice.addr)
	require.NoError(t, err)
	require.Len(t, utxos, 3)
	assert.Equal(t, env.genesisOutput(0), utxos[0].Key)

	stored, err := n.GetBlockAt(env.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, env.genesis.Hash(), stored.Hash())

	info, err := n.GetTxInfo(env.genesis.TxList[0].ID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, uint32(0), info.Height)
}

func TestNewNodeRejectsForeignGenesis(t *testing.T) {
	env := newTestEnv(t)

	wrong := model.NewGenesisBlock(env.params)
	wrong.Header.Prev = model.Hash{0xff}
	wrong.Finalize(env.params)

	_, err := New(env.ctx, ulogger.TestLogger{}, testSettings(t), env.params, wrong)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBlockInvalid))
}

func TestHeavierSiblingWins(t *testing.T) {
	env := newTestEnv(t)
	producer := env.newNode()

	light := env.create(producer, model.Hash{}, "w100", 100, nil)
	heavy := env.create(producer, model.Hash{}, "w105", 105, nil)

	for _, order := range [][]*model.Block{{light, heavy}, {heavy, light}} {
		t.Run(fmt.Sprintf("first %d", order[0].Header.Weight), func(t *testing.T) {
			n := env.newNode()
			env.deliver(producer, n, order...)

			peak := n.GetPeak()
			assert.Equal(t, heavy.Hash(), peak.Hash)
			assert.Equal(t, uint64(105), peak.TotalWeight)
		})
	}
}

func TestForkChoiceConvergesForAnyArrivalOrder(t *testing.T) {
	env := newTestEnv(t)
	producer := env.newNode()

	a1 := env.mine(producer, model.Hash{}, "a1", 100, nil)
	a2 := env.mine(producer, model.Hash{}, "a2", 100, nil)
	require.Equal(t, a2.Hash(), producer.GetPeak().Hash)

	b1 := env.mine(producer, env.genesis.Hash(), "b1", 150, nil)
	require.Equal(t, a2.Hash(), producer.GetPeak().Hash)

	b2 := env.mine(producer, b1.Hash(), "b2", 100, nil)
	require.Equal(t, b2.Hash(), producer.GetPeak().Hash)

	expected := dumpState(t, producer)
	blocks := []*model.Block{a1, a2, b1, b2}

	for _, perm := range permutations(len(blocks)) {
		t.Run(fmt.Sprint(perm), func(t *testing.T) {
			n := env.newNode()

			for _, i := range perm {
				env.deliver(producer, n, blocks[i])
			}

			assert.Equal(t, b2.Hash(), n.GetPeak().Hash)
			assert.Equal(t, expected, dumpState(t, n))
		})
	}
}

func TestReorgRevertsAndReappliesState(t *testing.T) {
	env := newTestEnv(t)
	producer := env.newNode()

	tx := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(0)}, env.bob.addr, 4000)

	a1 := env.mine(producer, model.Hash{}, "ra1", 100, []*model.Transaction{tx})
	require.Len(t, a1.TxList, 1)
	assert.Equal(t, uint64(4000), balanceOf(t, producer, env.bob.addr))

	b1 := env.mine(producer, env.genesis.Hash(), "rb1", 60, nil)
	b2 := env.mine(producer, b1.Hash(), "rb2", 60, nil)
	require.Equal(t, b2.Hash(), producer.GetPeak().Hash)

	assert.Equal(t, uint64(0), balanceOf(t, producer, env.bob.addr))

	info, err := producer.GetTxInfo(tx.ID)
	require.NoError(t, err)
	assert.Nil(t, info)

	pool := producer.GetTxPool()
	require.Len(t, pool, 1)
	assert.Equal(t, tx.ID, pool[0].ID)

	onlyB := env.newNode()
	env.deliver(producer, onlyB, b1, b2)
	assert.Equal(t, dumpState(t, onlyB), dumpState(t, producer))

	a2 := env.mine(producer, a1.Hash(), "ra2", 100, nil)
	require.Equal(t, a2.Hash(), producer.GetPeak().Hash)

	assert.Equal(t, uint64(4000), balanceOf(t, producer, env.bob.addr))
	assert.Empty(t, producer.GetTxPool())

	onlyA := env.newNode()
	env.deliver(producer, onlyA, a1, a2)
	assert.Equal(t, dumpState(t, onlyA), dumpState(t, producer))
}

func TestTransferConservesSupply(t *testing.T) {
	env := newTestEnv(t)
	n := env.newNode()

	tx := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(0)}, env.bob.addr, 4000)
	b := env.mine(n, model.Hash{}, "c1", 100, []*model.Transaction{tx})
	require.Len(t, b.TxList, 1)

	result := b.TxList[0].ExecResult
	require.NotNil(t, result)
	assert.False(t, result.DidFail)

	fee := tx.StaticCost(env.params)
	assert.Equal(t, fee, result.TotalFee)
	assert.Equal(t, env.params.BlockReward+fee, b.Header.RewardAmount)

	alice := balanceOf(t, n, env.alice.addr)
	bob := balanceOf(t, n, env.bob.addr)
	farmer := balanceOf(t, n, env.farmer.addr)

	assert.Equal(t, uint64(3*genesisAmount-4000)-fee, alice)
	assert.Equal(t, uint64(4000), bob)
	assert.Equal(t, env.params.BlockReward+fee, farmer)
	assert.Equal(t, uint64(3*genesisAmount)+env.params.BlockReward, alice+bob+farmer)

	infos, err := n.GetTxoInfos([]model.TxioKey{env.genesisOutput(0), {TxID: tx.ID, Index: 1}})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, infos[0].Spent)
	assert.Equal(t, tx.ID, infos[0].SpentBy)
	require.NotNil(t, infos[1])
	assert.Equal(t, env.alice.addr, infos[1].Output.Address)
}

func TestDoubleSpendIsRejected(t *testing.T) {
	env := newTestEnv(t)
	n := env.newNode()

	tx1 := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(0)}, env.bob.addr, 100)
	tx2 := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(0)}, env.bob.addr, 200)

	require.NoError(t, n.ProcessTransaction(env.ctx, tx1))

	err := n.ProcessTransaction(env.ctx, tx2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTxInvalidDoubleSpend))

	b := env.mine(n, model.Hash{}, "ds1", 100, []*model.Transaction{tx1, tx2})
	require.Len(t, b.TxList, 1)
	assert.Equal(t, tx1.ID, b.TxList[0].ID)
	assert.Empty(t, n.GetTxPool())

	require.Error(t, n.ProcessTransaction(env.ctx, tx2))

	// a block carrying two spends of the same output never becomes the peak
	tx3 := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(1)}, env.bob.addr, 100)
	tx4 := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(1)}, env.bob.addr, 300)

	forged := env.create(n, model.Hash{}, "ds2", 100, []*model.Transaction{tx3})
	require.Len(t, forged.TxList, 1)

	second := *tx4
	second.ExecResult = &model.ExecResult{TotalCost: forged.TxList[0].ExecResult.TotalCost, TotalFee: forged.TxList[0].ExecResult.TotalFee}
	forged.TxList = append(forged.TxList, &second)
	forged.Finalize(env.params)
	require.NoError(t, forged.Header.Sign(env.farmer.key))

	require.NoError(t, n.ProcessBlock(env.ctx, forged))
	assert.Equal(t, b.Hash(), n.GetPeak().Hash)

	infos, err := n.GetTxoInfos([]model.TxioKey{env.genesisOutput(1)})
	require.NoError(t, err)
	assert.False(t, infos[0].Spent)
}

func TestFailedOperationStillChargesFee(t *testing.T) {
	env := newTestEnv(t)
	n := env.newNode()

	sender := env.alice.addr
	tx := &model.Transaction{
		Version:      model.TxVersion,
		MaxFeeAmount: 1000,
		Sender:       &sender,
		Inputs:       []model.TxIn{{Prev: env.genesisOutput(1), Solution: 0}},
		Outputs:      []model.TxOut{{Address: env.bob.addr, Contract: model.NativeCurrency, Amount: 100}},
		Execute: []model.Operation{
			&model.Execute{Address: model.Addr{0xee}, Method: "run", Solution: model.NoSolution},
		},
	}
	tx.Finalize()

	_, err := tx.Sign(env.alice.key)
	require.NoError(t, err)

	b := env.mine(n, model.Hash{}, "pf1", 100, []*model.Transaction{tx})
	require.Len(t, b.TxList, 1)

	result := b.TxList[0].ExecResult
	require.NotNil(t, result)
	assert.True(t, result.DidFail)
	require.NotNil(t, result.Error)
	assert.Equal(t, uint32(0), result.Error.Operation)
	assert.Equal(t, uint32(errors.ERR_CONTRACT_NOT_FOUND), result.Error.Code)

	fee := tx.StaticCost(env.params)
	assert.Equal(t, fee, result.TotalFee)

	assert.Equal(t, uint64(0), balanceOf(t, n, env.bob.addr))
	assert.Equal(t, uint64(3*genesisAmount)-fee, balanceOf(t, n, env.alice.addr))

	info, err := n.GetTxInfo(tx.ID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.DidFail)
	assert.NotEmpty(t, info.Message)

	// another node reaches the same result
	other := env.newNode()
	env.deliver(n, other, b)
	assert.Equal(t, b.Hash(), other.GetPeak().Hash)
	assert.Equal(t, dumpState(t, n), dumpState(t, other))
}

func TestTamperedTransactionIsRejected(t *testing.T) {
	env := newTestEnv(t)
	n := env.newNode()

	tx := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(0)}, env.bob.addr, 100)
	tx.Outputs[0].Amount = 5000

	err := n.ProcessTransaction(env.ctx, tx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTxInvalid))

	b := env.create(n, model.Hash{}, "bad1", 100, nil)

	tampered := *tx
	tampered.ExecResult = &model.ExecResult{TotalCost: 30, TotalFee: 30}
	b.TxList = append(b.TxList, &tampered)
	b.Finalize(env.params)
	require.NoError(t, b.Header.Sign(env.farmer.key))

	err = n.ProcessBlock(env.ctx, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBlockInvalid))
	assert.Equal(t, env.genesis.Hash(), n.GetPeak().Hash)
}

func TestBlockWaitsForProofOfTime(t *testing.T) {
	env := newTestEnv(t)
	producer := env.newNode()
	b := env.create(producer, model.Hash{}, "pot1", 100, nil)

	n := env.newNode()

	require.NoError(t, n.ProcessBlock(env.ctx, b))
	assert.Equal(t, env.genesis.Hash(), n.GetPeak().Hash)

	// the block is known, delivering it again is a no-op
	require.NoError(t, n.ProcessBlock(env.ctx, b))

	require.NoError(t, n.ProcessProofOfTime(env.ctx, env.proofOfTime(producer, b)))
	assert.Equal(t, b.Hash(), n.GetPeak().Hash)
}

func TestBadProofOfTimeIsRejected(t *testing.T) {
	env := newTestEnv(t)
	producer := env.newNode()
	b := env.create(producer, model.Hash{}, "pot2", 100, nil)

	pot := *env.proofOfTime(producer, b)
	pot.Segments = append([]model.VDFSegment{}, pot.Segments...)
	pot.Segments[0].Output = model.Hash{0xde, 0xad}

	n := env.newNode()

	err := n.ProcessProofOfTime(env.ctx, &pot)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrVDFInvalid))
}

func TestOrphansConnectWhenParentArrives(t *testing.T) {
	env := newTestEnv(t)
	producer := env.newNode()

	b1 := env.mine(producer, model.Hash{}, "o1", 100, nil)
	b2 := env.mine(producer, model.Hash{}, "o2", 100, nil)

	n := env.newNode()
	require.NoError(t, n.fsm.Event(env.ctx, EventRun))

	for _, b := range []*model.Block{b1, b2} {
		require.NoError(t, n.ProcessProofOfTime(env.ctx, env.proofOfTime(producer, b)))
	}

	require.NoError(t, n.ProcessBlock(env.ctx, b2))
	assert.Equal(t, env.genesis.Hash(), n.GetPeak().Hash)
	assert.Equal(t, StateSyncing, n.State())

	require.NoError(t, n.ProcessBlock(env.ctx, b1))
	assert.Equal(t, b2.Hash(), n.GetPeak().Hash)
	assert.Equal(t, StateRunning, n.State())
}

func TestFinalizeAndResume(t *testing.T) {
	env := newTestEnv(t)

	names := append(append([]string{}, state.Tables...), vmdb.Tables...)
	db, err := lsm.Open(ulogger.TestLogger{}, "", lsm.NewOptions(), names...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := memory.New()
	n := env.newNode(WithBlockStore(store), WithDataBase(db))

	var (
		chain []*model.Block
		pots  []*model.ProofOfTime
	)

	total := int(env.params.CommitDelay) + 3
	for i := 0; i < total; i++ {
		b := env.create(n, model.Hash{}, fmt.Sprintf("f%d", i), 100, nil)
		pots = append(pots, env.proofOfTime(n, b))
		require.NoError(t, n.ProcessBlock(env.ctx, b))
		chain = append(chain, b)
	}

	assert.Equal(t, uint32(total), n.GetHeight())
	assert.Equal(t, uint32(3), n.GetRoot().Height)

	best, err := store.GetBestBlockHeader(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, chain[2].Hash(), best.Hash)

	for i, b := range chain {
		got, err := n.GetBlockAt(env.ctx, uint32(i+1))
		require.NoError(t, err)
		assert.Equal(t, b.Hash(), got.Hash())
	}

	// a sibling of a finalized block is out of reach
	header := *chain[1].Header
	header.Nonce = 7
	stale := &model.Block{Header: &header}
	stale.Finalize(env.params)
	require.NoError(t, stale.Header.Sign(env.farmer.key))

	err = n.ProcessBlock(env.ctx, stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrForkPruned))

	ref := env.newNode()
	deliver := func(to *Node, from, until int) {
		for i := from; i < until; i++ {
			require.NoError(t, to.ProcessProofOfTime(env.ctx, pots[i]))
			require.NoError(t, to.ProcessBlock(env.ctx, chain[i]))
		}
	}

	deliver(ref, 0, 3)

	resumed := env.newNode(WithBlockStore(store), WithDataBase(db))
	assert.Equal(t, chain[2].Hash(), resumed.GetPeak().Hash)
	assert.Equal(t, dumpState(t, ref), dumpState(t, resumed))

	// the resumed node continues from the root
	deliver(resumed, 3, total)
	deliver(ref, 3, total)
	assert.Equal(t, chain[total-1].Hash(), resumed.GetPeak().Hash)
	assert.Equal(t, dumpState(t, ref), dumpState(t, resumed))
}

func TestProofResponsesKeepTheBest(t *testing.T) {
	env := newTestEnv(t)
	n := env.newNode(WithProofVerifier(pos.NewHashVerifier(env.params)))

	challenge, err := n.GetChallenge(env.ctx, 1)
	require.NoError(t, err)

	farmerKey := env.farmer.key.PubKey().Compressed()
	p1 := pos.NewProof(challenge.Hash, model.Hash{1}, []byte("first"), farmerKey)
	p2 := pos.NewProof(challenge.Hash, model.Hash{2}, []byte("second"), farmerKey)

	best, worse := p1, p2
	if p2.Score < p1.Score {
		best, worse = p2, p1
	} else if p1.Score == p2.Score {
		h1, h2 := p1.CalcHash(), p2.CalcHash()
		if bytes.Compare(h2[:], h1[:]) < 0 {
			best, worse = p2, p1
		}
	}

	require.NoError(t, n.ProcessProofResponse(env.ctx, &model.ProofResponse{Challenge: *challenge, Proof: worse, Farmer: env.farmer.addr}))
	require.NoError(t, n.ProcessProofResponse(env.ctx, &model.ProofResponse{Challenge: *challenge, Proof: best, Farmer: env.farmer.addr}))
	require.NoError(t, n.ProcessProofResponse(env.ctx, &model.ProofResponse{Challenge: *challenge, Proof: worse, Farmer: env.farmer.addr}))

	got := n.GetBestProof(1)
	require.NotNil(t, got)
	assert.Equal(t, best, got.Proof)

	wrong := *challenge
	wrong.Hash = model.Hash{0xff}

	err = n.ProcessProofResponse(env.ctx, &model.ProofResponse{Challenge: wrong, Proof: best})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProofInvalid))

	behind := *challenge
	behind.Height = 0

	err = n.ProcessProofResponse(env.ctx, &model.ProofResponse{Challenge: behind, Proof: best})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProofInvalid))
}

func TestChallengeHandlerFollowsPeak(t *testing.T) {
	env := newTestEnv(t)

	var challenges []*model.Challenge

	n := env.newNode(WithChallengeHandler(func(c *model.Challenge) {
		challenges = append(challenges, c)
	}))

	env.mine(n, model.Hash{}, "ch1", 100, nil)
	env.mine(n, model.Hash{}, "ch2", 100, nil)

	require.Len(t, challenges, 2)
	assert.Equal(t, uint32(2), challenges[0].Height)
	assert.Equal(t, uint32(3), challenges[1].Height)

	expected, err := n.GetChallenge(env.ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, expected, challenges[1])
}

func TestCreateBlockFromPool(t *testing.T) {
	env := newTestEnv(t)
	n := env.newNode()

	tx1 := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(0)}, env.bob.addr, 100)
	tx2 := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(1)}, env.bob.addr, 200)

	require.NoError(t, n.AddTransaction(env.ctx, tx1, true))
	require.NoError(t, n.AddTransaction(env.ctx, tx2, true))
	require.Len(t, n.GetTxPool(), 2)

	// async input is refused until the run loop is up
	tx3 := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(2)}, env.bob.addr, 300)
	err := n.AddTransaction(env.ctx, tx3, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceNotStarted))
	require.Len(t, n.GetTxPool(), 2)

	env.verifier.weighs(env.params, "pool1", 100)

	b, err := n.CreateBlock(env.ctx, &BlockTemplate{
		FarmerKey:  env.farmer.key,
		RewardAddr: &env.farmer.addr,
		ProofData:  []byte("pool1"),
	})
	require.NoError(t, err)
	require.Len(t, b.TxList, 2)
	assert.Equal(t, tx1.ID, b.TxList[0].ID)
	assert.Equal(t, tx2.ID, b.TxList[1].ID)

	require.NoError(t, n.ProcessBlock(env.ctx, b))
	assert.Equal(t, b.Hash(), n.GetPeak().Hash)
	assert.Empty(t, n.GetTxPool())
	assert.Equal(t, uint64(300), balanceOf(t, n, env.bob.addr))
}

func TestRunLoopDrainsQueuedInput(t *testing.T) {
	env := newTestEnv(t)
	n := env.newNode()

	tx := env.transfer(env.alice, []model.TxioKey{env.genesisOutput(0)}, env.bob.addr, 100)

	err := n.HandleTransaction(tx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceNotStarted))

	ctx, cancel := context.WithCancel(env.ctx)
	done := make(chan error, 1)

	go func() {
		done <- n.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return n.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, n.AddTransaction(env.ctx, tx, false))

	require.Eventually(t, func() bool {
		return len(n.GetTxPool()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, tx.ID, n.GetTxPool()[0].ID)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, n.Stop(env.ctx))
	assert.Equal(t, StateStopped, n.State())
}

func TestHaltedNodeRefusesWork(t *testing.T) {
	env := newTestEnv(t)
	n := env.newNode()

	n.mu.Lock()
	_ = n.halt(env.ctx, errors.NewStorageError("disk gone"))
	n.mu.Unlock()

	assert.Equal(t, StateFailed, n.State())

	b := env.create(env.newNode(), model.Hash{}, "h1", 100, nil)

	err := n.ProcessBlock(env.ctx, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceError))
}
