package commands

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the CLI, in the style of the teacher's
// cmd/substrate/commands/root.go.
var rootCmd = &cobra.Command{
	Use:   "thoriumctl",
	Short: "thoriumctl drives demo scripts on a running thorium node",
	Long: `thoriumctl is a thin client for a running thoriumd node.

It connects over the node's inter-node websocket transport as a satellite
node and drives one of the demo scripts under internal/demo, printing the
result. It is operational tooling, not part of the engine.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
