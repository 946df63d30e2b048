package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "erc20-watch",
		Short: "ERC-20 transfer monitor with reorg-aware checkpoints",
		Long: `erc20-watch follows an EVM chain over JSON-RPC, decodes ERC-20 Transfer logs,
keeps the ones the configured filter accepts, and hands them to log, sqlite,
webhook, slack, teams, and nats sinks. Progress is checkpointed per block so a
restart resumes after the last acknowledged height.`,
	}
)

func init() {
	cobra.EnableCommandSorting = false

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to config file")

	rootCmd.AddCommand(
		versionCmd,
		initCmd,
		validateCmd,
		runCmd,
		stateCmd,
		exportCmd,
	)
}

// Execute runs the root command tree.
func Execute(ctx context.Context) error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
