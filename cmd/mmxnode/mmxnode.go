// Package mmxnode is the command line of the node: running it, inspecting its state tables
// and replaying a stored chain.
package mmxnode

import (
	"github.com/madMAx43v3r/mmx-node-sub001/settings"
	"github.com/madMAx43v3r/mmx-node-sub001/ulogger"
	"github.com/urfave/cli/v2"
)

// Run executes the command line in args, args[0] being the program name.
func Run(progname, version string, args []string) error {
	app := &cli.App{
		Name:    progname,
		Usage:   "proof of space and time blockchain node",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the node until interrupted",
				Action: runNode,
			},
			{
				Name:      "dump-table",
				Usage:     "Print every live row of a state table",
				ArgsUsage: "<state dir> <table>",
				Action:    dumpTable,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "stats",
						Usage: "print table statistics instead of rows",
					},
				},
			},
			{
				Name:      "replay",
				Usage:     "Re-validate a stored chain on an in-memory state",
				ArgsUsage: "<block store url>",
				Action:    replay,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "segments",
						Usage: "number of segments the recomputed proofs of time are split into",
						Value: 4,
					},
				},
			},
		},
	}

	return app.Run(args)
}

func newLogger(tSettings *settings.Settings, service string) ulogger.Logger {
	return ulogger.New(service,
		ulogger.WithLevel(tSettings.Logging.Level),
		ulogger.WithLoggerType(tSettings.Logging.Type),
	)
}
