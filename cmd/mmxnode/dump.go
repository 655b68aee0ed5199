package mmxnode

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/madMAx43v3r/mmx-node-sub001/errors"
	"github.com/madMAx43v3r/mmx-node-sub001/settings"
	"github.com/madMAx43v3r/mmx-node-sub001/stores/lsm"
	"github.com/urfave/cli/v2"
)

// dumpTable prints the rows of one table of a state directory as of its committed version.
func dumpTable(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.NewInvalidArgumentError("usage: dump-table <state dir> <table>")
	}

	dir, name := c.Args().Get(0), c.Args().Get(1)
	if name == "" || filepath.Base(name) != name {
		return errors.NewInvalidArgumentError("invalid table name %q", name)
	}

	tSettings := settings.NewSettings()
	logger := newLogger(tSettings, "dump-table")

	table, err := lsm.OpenTable(logger, filepath.Join(dir, name), lsm.NewOptions(lsm.WithSettings(tSettings)))
	if err != nil {
		return err
	}

	defer func() {
		if err := table.Close(); err != nil {
			logger.Errorf("[dump-table] closing %s: %v", name, err)
		}
	}()

	if c.Bool("stats") {
		stats := table.Stats()
		fmt.Printf("version:     %d\n", stats.Version)
		fmt.Printf("mem entries: %d\n", stats.MemEntries)
		fmt.Printf("mem bytes:   %d\n", stats.MemBytes)
		fmt.Printf("blocks:      %v\n", stats.Blocks)
		fmt.Printf("reverts:     %d\n", stats.Reverts)

		return nil
	}

	rows := 0

	err = table.Iterate(nil, table.Version(), func(key, value []byte) bool {
		fmt.Printf("%s %s\n", hex.EncodeToString(key), hex.EncodeToString(value))
		rows++

		return true
	})
	if err != nil {
		return err
	}

	logger.Infof("[dump-table] %d rows of %s at version %d", rows, name, table.Version())

	return nil
}
