package chaincfg

import (
	"errors"
	"fmt"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// Params defines the consensus rules of one network. Nodes on the same network must agree
// on every field.
type Params struct {
	// Name is a human-readable identifier for the network. It is also exposed to contracts
	// through the EXTERN_NETWORK memory slot.
	Name string

	// GenesisTimestamp is the nominal creation time of the genesis block.
	GenesisTimestamp time.Time

	// CommitDelay is the number of blocks a fork needs on top of a block before that block
	// is finalized and can no longer be reverted.
	CommitDelay uint32

	// ChallengeDelay is how many blocks ahead of the peak challenges are issued to farmers.
	ChallengeDelay uint32

	// InfuseDelay is the distance in blocks between a block and the VDF segment its hash
	// is infused into.
	InfuseDelay uint32

	// BlockVDFIters is the number of VDF iterations between consecutive blocks.
	BlockVDFIters uint64

	// ScoreBits is the width of a proof-of-space quality score, ScoreThreshold = 1 << ScoreBits.
	// A proof is only valid when its score is below ScoreThreshold.
	ScoreBits      uint8
	ScoreThreshold uint32

	InitialSpaceDiff uint64
	InitialTimeDiff  uint64
	MinSpaceDiff     uint64

	// BlockReward is paid to the farmer of each block, fees come on top.
	BlockReward uint64

	MinTxFee      uint64
	FeePerInput   uint64
	FeePerOutput  uint64
	FeePerOp      uint64
	FeePerByte    uint64
	FeePerDeploy  uint64
	MaxTxCost     uint64
	MaxBlockCost  uint64
	MaxTxInputs   int
	MaxTxOutputs  int
	MaxTxOps      int
	MaxMemoLength int

	// VM metering
	CostPerInstruction uint64
	CostPerByteRead    uint64
	CostPerByteWrite   uint64
	CostPerCall        uint64
	CostPerLog         uint64
	MaxCallDepth       int

	// MaxContractDepth bounds how far ownership delegation is followed when validating a solution.
	MaxContractDepth int
}

var (
	// ErrDuplicateNet is returned when registering a network name twice.
	ErrDuplicateNet = errors.New("duplicate network")

	// ErrUnknownNet is returned by GetChainParams for unregistered names.
	ErrUnknownNet = errors.New("unknown network")
)

var registeredNets = make(map[string]*Params)

// MainNetParams defines the network parameters for the main network.
var MainNetParams = Params{
	Name:               "mainnet",
	GenesisTimestamp:   time.Unix(1705000000, 0),
	CommitDelay:        18,
	ChallengeDelay:     9,
	InfuseDelay:        6,
	BlockVDFIters:      100_000,
	ScoreBits:          16,
	ScoreThreshold:     1 << 16,
	InitialSpaceDiff:   10,
	InitialTimeDiff:    1000,
	MinSpaceDiff:       1,
	BlockReward:        500_000,
	MinTxFee:           100,
	FeePerInput:        100,
	FeePerOutput:       100,
	FeePerOp:           1000,
	FeePerByte:         1,
	FeePerDeploy:       10_000,
	MaxTxCost:          10_000_000,
	MaxBlockCost:       100_000_000,
	MaxTxInputs:        1000,
	MaxTxOutputs:       1000,
	MaxTxOps:           100,
	MaxMemoLength:      64,
	CostPerInstruction: 1,
	CostPerByteRead:    2,
	CostPerByteWrite:   20,
	CostPerCall:        100,
	CostPerLog:         50,
	MaxCallDepth:       16,
	MaxContractDepth:   8,
}

// TestNetParams share the main network rules with a shorter finality window.
var TestNetParams = func() Params {
	p := MainNetParams
	p.Name = "testnet"
	p.CommitDelay = 12
	p.BlockVDFIters = 10_000

	return p
}()

// RegressionNetParams are tuned for unit tests: tiny VDF, cheap fees, short finality.
var RegressionNetParams = func() Params {
	p := MainNetParams
	p.Name = "regtest"
	p.CommitDelay = 6
	p.ChallengeDelay = 2
	p.InfuseDelay = 1
	p.BlockVDFIters = 16
	p.InitialSpaceDiff = 1
	p.InitialTimeDiff = 1
	p.BlockReward = 1000
	p.MinTxFee = 10
	p.FeePerInput = 10
	p.FeePerOutput = 10
	p.FeePerOp = 10
	p.FeePerByte = 0
	p.FeePerDeploy = 100

	return p
}()

// GenesisHash returns the hash genesis blocks of this network use as their prev.
func (p *Params) GenesisHash() chainhash.Hash {
	return chainhash.HashH([]byte("mmx-" + p.Name))
}

// Register makes params available to GetChainParams.
func Register(params *Params) error {
	if _, ok := registeredNets[params.Name]; ok {
		return ErrDuplicateNet
	}

	registeredNets[params.Name] = params

	return nil
}

func mustRegister(params *Params) {
	if err := Register(params); err != nil {
		panic("failed to register network: " + err.Error())
	}
}

func GetChainParams(network string) (*Params, error) {
	params, ok := registeredNets[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNet, network)
	}

	return params, nil
}

func init() {
	mustRegister(&MainNetParams)
	mustRegister(&TestNetParams)
	mustRegister(&RegressionNetParams)
}
