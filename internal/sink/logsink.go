package sink

import (
	"context"
	"log/slog"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/format"
	"github.com/devblac/erc20-watch/internal/transfer"
)

// LogSink writes one structured line per accepted transfer.
type LogSink struct {
	log      *slog.Logger
	registry *format.Registry
}

func NewLogSink(log *slog.Logger, reg *format.Registry) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log, registry: reg}
}

func (s *LogSink) Emit(ctx context.Context, _ chain.Range, events []transfer.Event) error {
	for _, ev := range events {
		tok, _ := s.registry.Lookup(ev.Token)
		s.log.InfoContext(ctx, "interesting transfer detected",
			"transfer", s.registry.Transfer(ev),
			"symbol", tok.Symbol,
			"block", ev.BlockNumber,
			"log_index", ev.LogIndex,
		)
	}
	return nil
}
