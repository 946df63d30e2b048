package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devblac/erc20-watch/internal/config"
	"github.com/devblac/erc20-watch/internal/format"
	"github.com/devblac/erc20-watch/internal/sink"
	"github.com/devblac/erc20-watch/internal/source/evm"
	"github.com/devblac/erc20-watch/internal/storage"
	"github.com/ethereum/go-ethereum/common"
)

const resolveTimeout = 10 * time.Second

// sourceConfig maps the YAML source onto the RPC source settings.
func sourceConfig(cfg *config.Config) evm.Config {
	s := cfg.Source
	return evm.Config{
		ID:            s.ID,
		StartBlock:    s.StartBlock,
		StopBlock:     s.StopBlock,
		Confirmations: s.Confirmations,
		BatchSize:     s.BatchSize,
		PollInterval:  s.PollEvery(),
		ReorgDepth:    s.ReorgDepth,
		MaxRetries:    s.Retries(),
		RetryBackoff:  s.Backoff(),
	}
}

// buildRegistry returns the display registry, resolving incomplete token entries
// on-chain when the source allows it. Lookup failures fall back to UNKNOWN.
func buildRegistry(ctx context.Context, cfg *config.Config, caller evm.ContractCaller, log *slog.Logger) *format.Registry {
	var resolved []format.Token
	if cfg.Source.ResolveTokens && caller != nil {
		for _, t := range cfg.Tokens {
			if t.Complete() {
				continue
			}
			addr := common.HexToAddress(t.Address)
			rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
			tok, err := evm.ResolveToken(rctx, caller, addr)
			cancel()
			if err != nil {
				log.Warn("token metadata unavailable", "address", addr.Hex(), "error", err)
				continue
			}
			if t.Symbol != "" {
				tok.Symbol = t.Symbol
			}
			if t.Decimals != nil {
				tok.Decimals = *t.Decimals
			}
			resolved = append(resolved, tok)
		}
	}
	return cfg.Registry(resolved...)
}

// buildSinks wires every configured sink behind one emitter. The returned close
// func releases network resources held by the sinks.
func buildSinks(cfg *config.Config, store *storage.Store, reg *format.Registry, log *slog.Logger, dryRun bool) (sink.Multi, func(), error) {
	var (
		out     sink.Multi
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	for _, s := range cfg.Sinks {
		switch strings.ToLower(s.Type) {
		case "log":
			out = append(out, sink.NewLogSink(log, reg))
		case "sqlite":
			out = append(out, storage.NewTransferSink(store))
		case "slack", "teams", "webhook":
			sender, err := newSender(s)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("sink %s: %w", s.ID, err)
			}
			opts := []sink.NotifierOption{sink.WithDryRun(dryRun), sink.WithNotifierLogger(log)}
			if s.Dedupe != nil {
				opts = append(opts, sink.WithDedupe(store, s.Dedupe.Key, s.DedupeTTL()))
			}
			out = append(out, sink.NewNotifier(reg, []sink.Sender{sender}, opts...))
		case "nats":
			if dryRun {
				log.Info("dry-run: nats sink disabled", "sink", s.ID)
				continue
			}
			p, err := sink.DialNATS(sink.NATSConfig{URL: s.URL, Stream: s.Stream, Subject: s.Subject}, reg, log)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("sink %s: %w", s.ID, err)
			}
			closers = append(closers, p.Close)
			out = append(out, p)
		default:
			closeAll()
			return nil, nil, fmt.Errorf("sink %s: unsupported type %s", s.ID, s.Type)
		}
	}
	return out, closeAll, nil
}

func newSender(s config.Sink) (sink.Sender, error) {
	switch strings.ToLower(s.Type) {
	case "slack":
		return sink.NewSlackSender(s.WebhookURL, s.Template)
	case "teams":
		return sink.NewTeamsSender(s.WebhookURL, s.Template)
	default:
		return sink.NewWebhookSender(s.URL, s.Method, s.Template)
	}
}
