package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devblac/erc20-watch/internal/transfer"
	"github.com/ethereum/go-ethereum/common"
)

const baseYAML = `
version: 1
source:
  id: mainnet
  rpc_url: ${RPC_URL}
  start_block: latest-10
  confirmations: 12
filter:
  type: large_transfers
  threshold: "1_000_000"
tokens:
  - address: "0x514910771AF9Ca656af840dff83E8264EcF986CA"
    symbol: LINK
    decimals: 18
sinks:
  - id: stdout
    type: log
  - id: alerts
    type: slack
    webhook_url: ${SLACK_HOOK}
    dedupe:
      key: "txhash:logIndex"
      ttl: 1h
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoadInterpolatesEnvAndValidates(t *testing.T) {
	cfgPath := writeConfig(t, baseYAML)
	t.Setenv("RPC_URL", "http://example-rpc")
	t.Setenv("SLACK_HOOK", "https://hooks.slack.test")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if got := cfg.Source.RPCURL; got != "http://example-rpc" {
		t.Fatalf("rpc_url not interpolated, got %q", got)
	}
	if cfg.Global.DBPath != DefaultDBPath {
		t.Fatalf("db_path default not applied, got %q", cfg.Global.DBPath)
	}
	if cfg.Source.PollEvery() != DefaultPollInterval || cfg.Source.Backoff() != DefaultRetryBackoff || cfg.Source.Retries() != DefaultMaxRetries {
		t.Fatalf("source defaults not applied")
	}
	if cfg.Sinks[1].DedupeTTL() != time.Hour {
		t.Fatalf("unexpected dedupe ttl %s", cfg.Sinks[1].DedupeTTL())
	}

	f, err := cfg.TransferFilter()
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if f.Kind() != transfer.FilterLargeTransfers || f.Threshold().Uint64() != 1_000_000 {
		t.Fatalf("unexpected filter %s", f)
	}

	tok, ok := cfg.Registry().Lookup(common.HexToAddress("0x514910771AF9Ca656af840dff83E8264EcF986CA"))
	if !ok || tok.Symbol != "LINK" {
		t.Fatalf("configured token missing from registry: %+v", tok)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	cfgPath := writeConfig(t, baseYAML)
	env := "RPC_URL_DOTENV_ONLY=http://from-dotenv\n"
	if err := os.WriteFile(filepath.Join(filepath.Dir(cfgPath), ".env"), []byte(env), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("RPC_URL_DOTENV_ONLY") })
	t.Setenv("SLACK_HOOK", "https://hooks.slack.test")

	body := strings.Replace(baseYAML, "${RPC_URL}", "${RPC_URL_DOTENV_ONLY}", 1)
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source.RPCURL != "http://from-dotenv" {
		t.Fatalf("expected value from .env, got %q", cfg.Source.RPCURL)
	}
}

func TestLoadFailsOnMissingEnv(t *testing.T) {
	cfgPath := writeConfig(t, strings.ReplaceAll(baseYAML, "${RPC_URL}", "${ERC20_WATCH_UNSET_VAR}"))
	t.Setenv("SLACK_HOOK", "x")
	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "ERC20_WATCH_UNSET_VAR") {
		t.Fatalf("expected missing env to fail, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Setenv("RPC_URL", "http://rpc")
	t.Setenv("SLACK_HOOK", "https://hook")

	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{"no version", func(s string) string { return strings.Replace(s, "version: 1", "", 1) }, "version"},
		{"bad filter", func(s string) string { return strings.Replace(s, "large_transfers", "whales", 1) }, "filter"},
		{"bad threshold", func(s string) string { return strings.Replace(s, `"1_000_000"`, `"-5"`, 1) }, "filter"},
		{"bad token", func(s string) string { return strings.Replace(s, "0x514910771AF9Ca656af840dff83E8264EcF986CA", "0x12", 1) }, "tokens[0]"},
		{"token without symbol", func(s string) string { return strings.Replace(s, "    symbol: LINK\n", "", 1) }, "symbol and decimals"},
		{"bad poll", func(s string) string { return strings.Replace(s, "confirmations: 12", "confirmations: 12\n  poll_interval: soon", 1) }, "poll_interval"},
		{"bad sink", func(s string) string { return strings.Replace(s, "type: log", "type: carrier_pigeon", 1) }, "unsupported sink type"},
		{"bad ttl", func(s string) string { return strings.Replace(s, "ttl: 1h", "ttl: forever", 1) }, "dedupe.ttl"},
		{"duplicate sink", func(s string) string { return strings.Replace(s, "id: alerts", "id: stdout", 1) }, "duplicate sink id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.mutate(baseYAML)))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestTokenWithoutMetadataAllowedWhenResolvable(t *testing.T) {
	t.Setenv("RPC_URL", "http://rpc")
	t.Setenv("SLACK_HOOK", "https://hook")
	body := strings.Replace(baseYAML, "    symbol: LINK\n    decimals: 18\n", "", 1)
	body = strings.Replace(body, "confirmations: 12", "confirmations: 12\n  resolve_tokens: true", 1)
	cfg, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Tokens[0].Complete() {
		t.Fatalf("token should be incomplete")
	}
	if cfg.Registry().Len() != 3 {
		t.Fatalf("incomplete tokens must not enter the registry")
	}
}

func TestSpecificTokensFilterUsesTokenList(t *testing.T) {
	t.Setenv("RPC_URL", "http://rpc")
	t.Setenv("SLACK_HOOK", "https://hook")
	body := strings.Replace(baseYAML, `  type: large_transfers
  threshold: "1_000_000"`, `  type: specific_tokens
  tokens: ["0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "0x6B175474E89094C44Da98b954EedeAC495271d0F"]`, 1)
	cfg, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, _ := cfg.TransferFilter()
	if f.Kind() != transfer.FilterSpecificTokens || f.Size() != 2 {
		t.Fatalf("unexpected filter %s", f)
	}
}
