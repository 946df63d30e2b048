package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devblac/erc20-watch/internal/config"
	"github.com/devblac/erc20-watch/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagExportFormat string
	flagExportFrom   uint64
	flagExportLimit  int
)

func init() {
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "csv", "Output format: csv or json")
	exportCmd.Flags().Uint64Var(&flagExportFrom, "from", 0, "Only transfers at or above this block")
	exportCmd.Flags().IntVar(&flagExportLimit, "limit", 0, "Maximum rows (0 = all)")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored transfers as csv or json",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		rows, err := store.ListTransfers(cmd.Context(), flagExportFrom, flagExportLimit)
		if err != nil {
			return err
		}
		return writeTransfers(cmd.OutOrStdout(), flagExportFormat, rows)
	},
}

var csvHeader = []string{
	"id", "transaction_hash", "block_number", "block_hash", "log_index",
	"from_address", "to_address", "amount", "token_contract", "timestamp",
}

func writeTransfers(w io.Writer, format string, rows []storage.Transfer) error {
	switch strings.ToLower(format) {
	case "json":
		if rows == nil {
			rows = []storage.Transfer{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, r := range rows {
			rec := []string{
				strconv.FormatInt(r.ID, 10),
				r.TxHash,
				strconv.FormatUint(r.BlockNumber, 10),
				r.BlockHash,
				strconv.FormatUint(r.LogIndex, 10),
				r.From,
				r.To,
				r.Amount,
				r.TokenContract,
				strconv.FormatUint(r.Timestamp, 10),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unsupported format %q (want csv or json)", format)
	}
}
