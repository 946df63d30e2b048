package main

import (
	"fmt"

	"github.com/devblac/erc20-watch/internal/config"
	"github.com/devblac/erc20-watch/internal/source/evm"
	"github.com/devblac/erc20-watch/internal/storage"
	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the stored checkpoint and transfer count",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		height, hash, ok, err := store.GetCursor(ctx, cfg.Source.ID)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(out, "source %s: checkpoint %d (%s)\n", cfg.Source.ID, height, hash)
		} else {
			fmt.Fprintf(out, "source %s: no checkpoint yet\n", cfg.Source.ID)
		}

		if ok {
			depth := cfg.Source.ReorgDepth
			if depth == 0 {
				depth = evm.DefaultReorgDepth
			}
			from := uint64(0)
			if height > depth {
				from = height - depth
			}
			tracked, err := store.BlockHashes(ctx, cfg.Source.ID, from, height)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "reorg window: %d block hashes tracked\n", len(tracked))
		}

		n, err := store.CountTransfers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "transfers stored: %d\n", n)
		return nil
	},
}
