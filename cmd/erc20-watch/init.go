package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagInitForce bool

func init() {
	initCmd.Flags().BoolVar(&flagInitForce, "force", false, "Overwrite an existing config file")
}

const sampleConfig = `version: 1

global:
  db_path: erc20-watch.db
  log_level: info

source:
  id: mainnet
  rpc_url: ${RPC_URL}
  start_block: latest-100
  confirmations: 12
  batch_size: 50
  poll_interval: 12s
  reorg_depth: 64
  max_retries: 3
  retry_backoff: 500ms
  resolve_tokens: false

processor:
  missing_receipts_alarm: 3

# type: all | large_transfers | specific_tokens | specific_addresses
filter:
  type: large_transfers
  threshold: "1_000_000_000_000"

tokens:
  - address: "0x514910771AF9Ca656af840dff83E8264EcF986CA"
    symbol: LINK
    decimals: 18

sinks:
  - id: stdout
    type: log
  - id: history
    type: sqlite
  # - id: alerts
  #   type: slack
  #   webhook_url: ${SLACK_WEBHOOK_URL}
  #   template: "{{.Display}} {{.Symbol}} {{short_addr .From}} -> {{short_addr .To}} tx {{.TxHash}}"
  #   dedupe:
  #     key: "txhash:logIndex"
  #     ttl: 24h
  # - id: bus
  #   type: nats
  #   url: nats://127.0.0.1:4222
  #   stream: TRANSFERS
  #   subject: erc20.transfers
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := writeSampleConfig(cfgPath, flagInitForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
		return nil
	},
}

func writeSampleConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
