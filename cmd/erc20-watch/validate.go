package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/erc20-watch/internal/config"
	"github.com/devblac/erc20-watch/internal/source/evm"
	"github.com/spf13/cobra"
)

const defaultRPCTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and ping the RPC endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		filter, _ := cfg.TransferFilter()
		fmt.Fprintf(out, "- filter: %s\n", filter)
		fmt.Fprintf(out, "- sinks: %d\n", len(cfg.Sinks))

		client, err := evm.NewRPCClient(cfg.Source.RPCURL)
		if err != nil {
			fmt.Fprintf(out, "- source %s: ERROR %v\n", cfg.Source.ID, err)
			return fmt.Errorf("validate: source failed connectivity")
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), defaultRPCTimeout)
		defer cancel()
		chainID, err := client.ChainID(ctx)
		if err != nil {
			fmt.Fprintf(out, "- source %s: ERROR %v\n", cfg.Source.ID, err)
			return fmt.Errorf("validate: source failed connectivity")
		}
		fmt.Fprintf(out, "- source %s: chainId %s OK\n", cfg.Source.ID, chainID)

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}
