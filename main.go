package main

import (
	"fmt"
	"os"

	"github.com/madMAx43v3r/mmx-node-sub001/cmd/mmxnode"
	"github.com/ordishs/gocore"
)

// Name used by build script for the binaries. (Please keep on single line)
const progname = "mmx-node"

// Version & commit strings injected at build with -ldflags -X...
var version string
var commit string

func init() {
	gocore.SetInfo(progname, version, commit)
}

func main() {
	if err := mmxnode.Run(progname, fmt.Sprintf("%s (%s)", version, commit), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progname, err)
		os.Exit(1)
	}
}
