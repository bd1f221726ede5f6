// Package main is the entry point for mswitchd, the multi-source switching
// demuxer daemon.
package main

import (
	"os"

	"github.com/jmylchreest/mswitch/cmd/mswitchd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
