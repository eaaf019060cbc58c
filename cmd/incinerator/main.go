package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree around one shared Config.
func newRootCmd() *cobra.Command {
	cfg := &Config{}

	root := &cobra.Command{
		Use:           "incinerator",
		Short:         "Burn or sink compressed assets",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	cfg.bindFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(cfg),
		newTransitionCmd(cfg, "burn"),
		newTransitionCmd(cfg, "transfer"),
		newProofCmd(cfg),
		newAssetsCmd(cfg),
		newKeygenCmd(),
	)

	return root
}
