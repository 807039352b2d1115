package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gridnode:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gridnode",
	Short: "gridnode - job placement and load rebalancing for a compute grid",
	Long: `gridnode runs the balancing core of one compute grid node.

It maps jobs to cluster nodes with an adaptive or round-robin balancer
and moves queued jobs from busy nodes to idle ones by job stealing.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), versionString())
	},
}

func versionString() string {
	return fmt.Sprintf("gridnode %s (commit %s, built %s)\n", Version, Commit, BuildTime)
}

func init() {
	rootCmd.SetVersionTemplate(versionString())
	rootCmd.AddCommand(runCmd, versionCmd)
}
