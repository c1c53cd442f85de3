// Command thoriumctl is a thin CLI client for driving a running thoriumd
// node's demo scripts over the websocket transport. It adds no
// engine features; it only wraps thorium.Node as an operational
// convenience, matching the teacher's cmd/substrate-vs-cmd/substrated split
// (CLI client vs. daemon).
package main

import (
	"fmt"
	"os"

	"github.com/roasbeef/thorium/cmd/thoriumctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
