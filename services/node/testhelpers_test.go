package node

import (
	"context"
	"net/url"
	"testing"

	bec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/settings"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockProofVerifier scores proofs by their plot data, so tests pick the weight of every
// block they make.
type mockProofVerifier struct {
	mock.Mock
}

func (m *mockProofVerifier) VerifyProof(proof *model.ProofOfSpace, challenge model.Hash, spaceDiff uint64) (uint16, error) {
	args := m.Called(proof, challenge, spaceDiff)
	return args.Get(0).(uint16), args.Error(1)
}

// weighs makes blocks whose proof data is name weigh weight.
func (m *mockProofVerifier) weighs(params *chaincfg.Params, name string, weight uint64) {
	score := uint16(uint64(params.ScoreThreshold) - weight)

	m.On("VerifyProof", mock.MatchedBy(func(p *model.ProofOfSpace) bool {
		return p != nil && string(p.Proof) == name
	}), mock.Anything, mock.Anything).Return(score, nil)
}

func testSettings(t *testing.T) *settings.Settings {
	t.Helper()

	tSettings := settings.NewSettings()
	tSettings.ChainCfgParams = &chaincfg.RegressionNetParams

	var err error

	tSettings.BlockStore.StoreURL, err = url.Parse("memory://")
	require.NoError(t, err)

	tSettings.StateStore.StoreURL, err = url.Parse("memory://")
	require.NoError(t, err)

	tSettings.Node.SigCacheSize = 1024
	tSettings.Node.MaxOrphans = 64
	tSettings.Node.InputChanBuffer = 16
	tSettings.Node.TxPoolSize = 100
	tSettings.VM.ReadCacheSize = 0

	return tSettings
}

type testUser struct {
	key  *bec.PrivateKey
	addr model.Addr
}

func newTestUser(seed string) testUser {
	key, addr := model.TestKey(seed)
	return testUser{key: key, addr: addr}
}

const genesisAmount = 10_000

// testEnv is a network of nodes sharing a genesis in which alice owns three outputs.
type testEnv struct {
	t        *testing.T
	ctx      context.Context
	params   *chaincfg.Params
	genesis  *model.Block
	verifier *mockProofVerifier

	alice  testUser
	bob    testUser
	farmer testUser
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	params := &chaincfg.RegressionNetParams
	alice := newTestUser("alice")

	genesisTx := &model.Transaction{Outputs: []model.TxOut{
		{Address: alice.addr, Contract: model.NativeCurrency, Amount: genesisAmount},
		{Address: alice.addr, Contract: model.NativeCurrency, Amount: genesisAmount},
		{Address: alice.addr, Contract: model.NativeCurrency, Amount: genesisAmount},
	}}

	return &testEnv{
		t:        t,
		ctx:      context.Background(),
		params:   params,
		genesis:  model.NewGenesisBlock(params, genesisTx),
		verifier: &mockProofVerifier{},
		alice:    alice,
		bob:      newTestUser("bob"),
		farmer:   newTestUser("farmer"),
	}
}

// genesisOutput is the key of alice's i-th genesis output.
func (e *testEnv) genesisOutput(i uint32) model.TxioKey {
	return model.TxioKey{TxID: e.genesis.TxList[0].ID, Index: i}
}

// newNode starts a node on fresh in-memory stores. Unless the options replace it, proofs
// are scored by the env's mock verifier.
func (e *testEnv) newNode(opts ...Option) *Node {
	e.t.Helper()

	opts = append([]Option{WithProofVerifier(e.verifier)}, opts...)

	n, err := New(e.ctx, ulogger.TestLogger{}, testSettings(e.t), e.params, e.genesis, opts...)
	require.NoError(e.t, err)

	e.t.Cleanup(func() {
		_ = n.close()
	})

	return n
}

// mine creates a block named name on parent (zero for the peak) weighing weight and adds
// it to n. txs follows BlockTemplate.Txs.
func (e *testEnv) mine(n *Node, parent model.Hash, name string, weight uint64, txs []*model.Transaction) *model.Block {
	e.t.Helper()

	b := e.create(n, parent, name, weight, txs)
	require.NoError(e.t, n.ProcessBlock(e.ctx, b))

	return b
}

// create makes a block without adding it to the fork tree of n.
func (e *testEnv) create(n *Node, parent model.Hash, name string, weight uint64, txs []*model.Transaction) *model.Block {
	e.t.Helper()

	e.verifier.weighs(e.params, name, weight)

	if txs == nil {
		txs = []*model.Transaction{}
	}

	b, err := n.CreateBlock(e.ctx, &BlockTemplate{
		Parent:     parent,
		FarmerKey:  e.farmer.key,
		RewardAddr: &e.farmer.addr,
		PlotID:     model.Hash{0x01},
		ProofData:  []byte(name),
		Txs:        txs,
	})
	require.NoError(e.t, err)

	return b
}

// proofOfTime returns the proof of time n indexed for b.
func (e *testEnv) proofOfTime(n *Node, b *model.Block) *model.ProofOfTime {
	e.t.Helper()

	n.mu.RLock()
	defer n.mu.RUnlock()

	pot, ok := n.vdfs.Get(vdfPoint{iters: b.Header.VdfIters, output: b.Header.VdfOutput})
	require.True(e.t, ok, "no proof of time for %s", b.Header)

	return pot
}

// deliver hands b to n together with the proof of time it ends on.
func (e *testEnv) deliver(from, to *Node, blocks ...*model.Block) {
	e.t.Helper()

	for _, b := range blocks {
		require.NoError(e.t, to.ProcessProofOfTime(e.ctx, e.proofOfTime(from, b)))
		require.NoError(e.t, to.ProcessBlock(e.ctx, b))
	}
}

func (e *testEnv) transfer(from testUser, inputs []model.TxioKey, to model.Addr, amount uint64) *model.Transaction {
	e.t.Helper()

	tx, err := model.NewTestTransfer(from.key, inputs, []model.TxOut{
		{Address: to, Contract: model.NativeCurrency, Amount: amount},
	}, 1000)
	require.NoError(e.t, err)

	return tx
}

func dumpState(t *testing.T, n *Node) map[string]string {
	t.Helper()

	dump, err := n.DumpState()
	require.NoError(t, err)

	return dump
}

func balanceOf(t *testing.T, n *Node, addr model.Addr) uint64 {
	t.Helper()

	balance, err := n.GetBalance(addr, model.NativeCurrency)
	require.NoError(t, err)

	return balance
}

// permutations returns every ordering of 0..n-1.
func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}

	var out [][]int

	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := append(append(append([]int{}, p[:i]...), n-1), p[i:]...)
			out = append(out, q)
		}
	}

	return out
}
