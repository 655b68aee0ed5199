package mmxnode

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/model"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node"
	"github.com/madMAx43v3r/mmx-node-sub001/services/node/vdf"
	"github.com/madMAx43v3r/mmx-node-sub001/settings"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/blockchain"
	"github.com/urfave/cli/v2"
)

// replay feeds every block of a block store to a node running on memory stores. Proofs of
// time are recomputed, so a successful replay checks the stored chain end to end.
func replay(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.NewInvalidArgumentError("usage: replay <block store url>")
	}

	storeURL, err := url.Parse(c.Args().First())
	if err != nil {
		return errors.NewInvalidArgumentError("invalid block store url", err)
	}

	tSettings := settings.NewSettings()
	logger := newLogger(tSettings, "replay")
	params := tSettings.ChainCfgParams
	ctx := c.Context

	src, err := blockchain.NewStore(logger, storeURL, tSettings)
	if err != nil {
		return err
	}

	defer func() {
		if err := src.Close(); err != nil {
			logger.Errorf("[replay] closing block store: %v", err)
		}
	}()

	genesis, err := src.GetBlockAt(ctx, 0)
	if err != nil {
		return err
	}

	best, err := src.GetBestBlockHeader(ctx)
	if err != nil {
		return err
	}

	replaySettings := *tSettings
	replaySettings.BlockStore.StoreURL = &url.URL{Scheme: "memory"}
	replaySettings.StateStore.StoreURL = &url.URL{Scheme: "memory"}

	n, err := node.New(ctx, logger, &replaySettings, params, genesis)
	if err != nil {
		return err
	}

	defer func() {
		if err := n.Stop(ctx); err != nil {
			logger.Errorf("[replay] stopping node: %v", err)
		}
	}()

	hashes := []model.Hash{genesis.Hash()}
	parent := genesis.Header

	for height := uint32(1); height <= best.Height; height++ {
		b, err := src.GetBlockAt(ctx, height)
		if err != nil {
			return err
		}

		var from uint32
		if height > params.InfuseDelay {
			from = height - params.InfuseDelay
		}

		pot := vdf.Prove(height, parent.VdfIters, parent.VdfOutput, hashes[from], nil, params.BlockVDFIters, c.Int("segments"))

		if err = n.ProcessProofOfTime(ctx, pot); err != nil {
			return err
		}

		if err = n.ProcessBlock(ctx, b); err != nil {
			return err
		}

		if peak := n.GetPeak(); peak.Hash != b.Hash() {
			return errors.NewBlockInvalidError("[%s] block at height %d was not accepted, peak is %s", b.Hash(), height, peak)
		}

		hashes = append(hashes, b.Hash())
		parent = b.Header

		if height%1000 == 0 {
			logger.Infof("[replay] at height %d of %d", height, best.Height)
		}
	}

	dump, err := n.DumpState()
	if err != nil {
		return err
	}

	fmt.Printf("height %d, state %s\n", best.Height, stateDigest(dump))

	return nil
}

// stateDigest hashes a state dump in key order.
func stateDigest(dump map[string]string) chainhash.Hash {
	keys := make([]string, 0, len(dump))
	for k := range dump {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var buf []byte
	for _, k := range keys {
		buf = append(buf, k...)
		buf = append(buf, 0)
		buf = append(buf, dump[k]...)
		buf = append(buf, 0)
	}

	return chainhash.HashH(buf)
}
