package node

import (
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node/pos"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node/vdf"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/blockchain"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/lsm"
	"github.com/madMAx43v3r/mmx-node-sub001/util/sigcache"
)

// ChallengeHandler receives the challenge for the next height whenever the peak changes.
type ChallengeHandler func(challenge *model.Challenge)

type Option func(*Node)

func WithProofVerifier(v pos.Verifier) Option {
	return func(n *Node) {
		n.proofVerifier = v
	}
}

func WithVDFVerifier(v vdf.Verifier) Option {
	return func(n *Node) {
		n.vdfVerifier = v
	}
}

// WithSigCache shares a signature cache, for example with a pool front end.
func WithSigCache(c *sigcache.Cache) Option {
	return func(n *Node) {
		n.sigCache = c
	}
}

func WithBlockStore(s blockchain.Store) Option {
	return func(n *Node) {
		n.blockStore = s
	}
}

func WithChallengeHandler(h ChallengeHandler) Option {
	return func(n *Node) {
		n.challengeHandler = h
	}
}

// WithDataBase runs the node on an already opened database. The node does not close it.
func WithDataBase(db *lsm.DataBase) Option {
	return func(n *Node) {
		n.db = db
		n.ownDB = false
	}
}
