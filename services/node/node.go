// Package node keeps the chain: it verifies blocks, picks the heaviest fork, applies and
// reverts blocks against the state and finalizes blocks that can no longer be reverted.
//
// All mutations go through the Process* methods, which serialize on the node lock. Start
// runs a loop feeding them from the Handle* channels.
package node

import (
	"context"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/dolthub/swiss"
	"github.com/jellydator/ttlcache/v3"
	"github.com/looplab/fsm"
	"github.com/madMAx43v3r/mmx-node-sub001/chaincfg"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node/pos"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node/vdf"
	"github.com/madMAx43v3r/mmx-node-sub001/settings"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/blockchain"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/lsm"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/state"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/vmstore/cache"
	vmdb "github.com/madMAx43v3r/mmx-node-sub001/stores/vmstore/db"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/madMAx43v3r/mmx-node-sub001/util/sigcache"
)

const defaultDedupTTL = 10 * time.Minute

type Node struct {
	logger   ulogger.Logger
	settings *settings.Settings
	params   *chaincfg.Params

	// mu guards everything below. Process* and fork choice take it exclusively, queries share it.
	mu  sync.RWMutex
	fsm *fsm.FSM

	db      *lsm.DataBase
	ownDB   bool
	state   *state.State
	vmStore *vmdb.Store
	vmCache *cache.Cache

	blockStore       blockchain.Store
	proofVerifier    pos.Verifier
	vdfVerifier      vdf.Verifier
	sigCache         *sigcache.Cache
	challengeHandler ChallengeHandler

	root    *model.Block
	peak    *model.Block
	forks   *swiss.Map[model.Hash, *fork]
	orphans *orphanPool
	vdfs    *swiss.Map[vdfPoint, *model.ProofOfTime]
	proofs  map[uint32]*scoredProof
	pool    *txPool
	seen    *ttlcache.Cache[model.Hash, struct{}]
	fatal   error

	// expiring is set while the dedup cache runs its expiry loop.
	expiring bool

	blockCh chan *model.Block
	txCh    chan *model.Transaction
	potCh   chan *model.ProofOfTime
	proofCh chan *model.ProofResponse
}

// New opens the node's state and block store and applies genesis on a fresh state. An
// existing state is reverted to the last finalized block, forks are not persisted.
func New(ctx context.Context, logger ulogger.Logger, tSettings *settings.Settings, params *chaincfg.Params, genesis *model.Block, opts ...Option) (*Node, error) {
	initPrometheusMetrics()

	n := &Node{
		logger:   logger,
		settings: tSettings,
		params:   params,
		ownDB:    true,
		forks:    swiss.NewMap[model.Hash, *fork](256),
		orphans:  newOrphanPool(tSettings.Node.MaxOrphans),
		vdfs:     swiss.NewMap[vdfPoint, *model.ProofOfTime](256),
		proofs:   make(map[uint32]*scoredProof),
		blockCh:  make(chan *model.Block, tSettings.Node.InputChanBuffer),
		txCh:     make(chan *model.Transaction, tSettings.Node.InputChanBuffer),
		potCh:    make(chan *model.ProofOfTime, tSettings.Node.InputChanBuffer),
		proofCh:  make(chan *model.ProofResponse, tSettings.Node.InputChanBuffer),
	}

	for _, opt := range opts {
		opt(n)
	}

	n.fsm = n.NewFiniteStateMachine()
	n.pool = newTxPool(tSettings.Node.TxPoolSize)

	ttl := tSettings.Node.DedupTTL
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	n.seen = ttlcache.New[model.Hash, struct{}](ttlcache.WithTTL[model.Hash, struct{}](ttl))

	if n.proofVerifier == nil {
		n.proofVerifier = pos.NewHashVerifier(params)
	}

	if n.vdfVerifier == nil {
		n.vdfVerifier = vdf.NewHashChainVerifier(tSettings.Node.VerifyConcurrency)
	}

	var err error

	if n.sigCache == nil && tSettings.Node.SigCacheSize > 0 {
		if n.sigCache, err = sigcache.New(tSettings.Node.SigCacheSize); err != nil {
			return nil, err
		}
	}

	if n.blockStore == nil {
		if n.blockStore, err = blockchain.NewStore(logger, tSettings.BlockStore.StoreURL, tSettings); err != nil {
			return nil, err
		}
	}

	if n.db == nil {
		if n.db, err = openDataBase(logger, tSettings); err != nil {
			return nil, err
		}
	}

	if n.state, err = state.New(logger, n.db); err != nil {
		return nil, err
	}

	if n.vmStore, err = vmdb.New(logger, n.db); err != nil {
		return nil, err
	}

	if n.vmCache, err = cache.New(n.vmStore, tSettings.VM.ReadCacheSize); err != nil {
		return nil, err
	}

	if err = n.initChain(ctx, genesis); err != nil {
		_ = n.close()
		return nil, err
	}

	return n, nil
}

// openDataBase opens the state database named by the state store URL, memory:// keeps it
// in memory.
func openDataBase(logger ulogger.Logger, tSettings *settings.Settings) (*lsm.DataBase, error) {
	names := append(append([]string{}, state.Tables...), vmdb.Tables...)
	opts := lsm.NewOptions(lsm.WithSettings(tSettings))

	path, err := stateStorePath(tSettings.StateStore.StoreURL)
	if err != nil {
		return nil, err
	}

	return lsm.Open(logger, path, opts, names...)
}

func stateStorePath(u *url.URL) (string, error) {
	if u == nil {
		return "", errors.NewConfigurationError("missing state store url")
	}

	switch u.Scheme {
	case "memory":
		return "", nil
	case "file":
		return filepath.Clean(u.Host + u.Path), nil
	}

	return "", errors.NewConfigurationError("unknown state store scheme: %s", u.Scheme)
}

func (n *Node) initChain(ctx context.Context, genesis *model.Block) error {
	best, err := n.blockStore.GetBestBlockHeader(ctx)

	switch {
	case errors.Is(err, errors.ErrBlockNotFound):
		return n.initGenesis(ctx, genesis)
	case err != nil:
		return err
	}

	root, err := n.blockStore.GetBlock(ctx, &best.Hash)
	if err != nil {
		return err
	}

	if genesis != nil {
		stored, err := n.blockStore.GetBlockAt(ctx, 0)
		if err != nil {
			return err
		}

		if stored.Hash() != genesis.Hash() {
			return errors.NewConfigurationError("genesis %s does not match stored genesis %s", genesis.Hash(), stored.Hash())
		}
	}

	version := root.Height() + 1

	current := n.db.Version()
	if current < version {
		return errors.NewStorageCorruptError("state at version %d is behind finalized height %d", current, root.Height())
	}

	if current > version {
		n.logger.Infof("[initChain] reverting state from version %d to %d", current, version)

		if err = n.vmCache.Revert(version); err != nil {
			return err
		}
	}

	n.root = root
	n.peak = root

	if err = n.db.Finalize(version); err != nil {
		return err
	}

	n.logger.Infof("[initChain] resumed at %s", root)
	prometheusNodeHeight.Set(float64(root.Height()))

	return nil
}

func (n *Node) initGenesis(ctx context.Context, genesis *model.Block) error {
	if genesis == nil {
		return errors.NewConfigurationError("empty block store and no genesis block")
	}

	if genesis.Height() != 0 || genesis.Header.Prev != n.params.GenesisHash() {
		return errors.NewBlockInvalidError("[%s] is not a genesis block of %s", genesis.Hash(), n.params.Name)
	}

	if err := genesis.IsValid(n.params); err != nil {
		return err
	}

	if version := n.db.Version(); version != 0 {
		return errors.NewStorageCorruptError("state at version %d but block store is empty", version)
	}

	bc, err := n.newBlockContext(0, genesis.Hash())
	if err != nil {
		return err
	}

	if err = bc.applyGenesis(genesis); err != nil {
		return err
	}

	if err = n.commitBlock(bc); err != nil {
		return err
	}

	if err = n.blockStore.StoreBlock(ctx, genesis); err != nil {
		return err
	}

	n.root = genesis
	n.peak = genesis

	n.logger.Infof("[initGenesis] applied genesis %s", genesis.Hash())

	return n.db.Finalize(1)
}

// Start runs the input loop until ctx is done.
func (n *Node) Start(ctx context.Context) error {
	if err := n.fsm.Event(ctx, EventRun); err != nil {
		return errors.NewServiceError("could not start node", err)
	}

	n.mu.Lock()
	n.expiring = true
	n.mu.Unlock()

	go n.seen.Start()

	n.logger.Infof("[Start] node running at %s", n.GetPeak())

	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-n.blockCh:
			if err := n.ProcessBlock(ctx, b); err != nil {
				n.logger.Warnf("[Start] block %s: %v", b.Hash(), err)
			}
		case tx := <-n.txCh:
			if err := n.ProcessTransaction(ctx, tx); err != nil {
				n.logger.Debugf("[Start] transaction %s: %v", tx.ID, err)
			}
		case pot := <-n.potCh:
			if err := n.ProcessProofOfTime(ctx, pot); err != nil {
				n.logger.Warnf("[Start] proof of time at height %d: %v", pot.Height, err)
			}
		case resp := <-n.proofCh:
			if err := n.ProcessProofResponse(ctx, resp); err != nil {
				n.logger.Debugf("[Start] proof response for height %d: %v", resp.Challenge.Height, err)
			}
		}
	}
}

func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.expiring {
		n.seen.Stop()
		n.expiring = false
	}

	if n.fsm.Can(EventStop) {
		if err := n.fsm.Event(ctx, EventStop); err != nil {
			n.logger.Warnf("[Stop] %v", err)
		}
	}

	return n.close()
}

func (n *Node) close() error {
	var errs []error

	if n.blockStore != nil {
		if err := n.blockStore.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if n.ownDB && n.db != nil {
		if err := n.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// checkStarted refuses input for the run loop while it is not running.
func (n *Node) checkStarted(what string) error {
	if n.fsm.Is(StateStopped) {
		return errors.NewServiceNotStartedError("node is not running, dropped %s", what)
	}

	return nil
}

// HandleBlock queues b for the input loop.
func (n *Node) HandleBlock(b *model.Block) error {
	if err := n.checkStarted("block"); err != nil {
		return err
	}

	n.blockCh <- b

	return nil
}

func (n *Node) HandleTransaction(tx *model.Transaction) error {
	if err := n.checkStarted("transaction"); err != nil {
		return err
	}

	n.txCh <- tx

	return nil
}

func (n *Node) HandleProofOfTime(pot *model.ProofOfTime) error {
	if err := n.checkStarted("proof of time"); err != nil {
		return err
	}

	n.potCh <- pot

	return nil
}

func (n *Node) HandleProofResponse(resp *model.ProofResponse) error {
	if err := n.checkStarted("proof response"); err != nil {
		return err
	}

	n.proofCh <- resp

	return nil
}

// checkUsable refuses work once an invariant was violated. mu must be held.
func (n *Node) checkUsable() error {
	if n.fatal != nil {
		return errors.NewServiceError("node halted", n.fatal)
	}

	return nil
}

// halt stops all processing after a failure that leaves the state in doubt.
func (n *Node) halt(ctx context.Context, err error) error {
	n.fatal = err
	n.logger.Errorf("[halt] node halted: %v", err)

	if n.fsm.Can(EventFail) {
		if ferr := n.fsm.Event(ctx, EventFail); ferr != nil {
			n.logger.Errorf("[halt] %v", ferr)
		}
	}

	return errors.NewServiceError("node halted", err)
}

// State returns the current run state.
func (n *Node) State() string {
	return n.fsm.Current()
}
