package sink

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/format"
	"github.com/devblac/erc20-watch/internal/transfer"
)

type emitFunc func(ctx context.Context, rng chain.Range, events []transfer.Event) error

func (f emitFunc) Emit(ctx context.Context, rng chain.Range, events []transfer.Event) error {
	return f(ctx, rng, events)
}

func TestMultiStopsAtFirstError(t *testing.T) {
	var order []string
	fault := errors.New("down")
	m := Multi{
		emitFunc(func(context.Context, chain.Range, []transfer.Event) error { order = append(order, "a"); return nil }),
		nil,
		emitFunc(func(context.Context, chain.Range, []transfer.Event) error { order = append(order, "b"); return fault }),
		emitFunc(func(context.Context, chain.Range, []transfer.Event) error { order = append(order, "c"); return nil }),
	}
	if err := m.Emit(context.Background(), chain.Range{}, nil); !errors.Is(err, fault) {
		t.Fatalf("expected fault, got %v", err)
	}
	if strings.Join(order, "") != "ab" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestLogSinkWritesOneLinePerTransfer(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)), format.NewRegistry())
	events := []transfer.Event{usdcTransfer(3_000_000, 0), usdcTransfer(4_000_000, 1)}
	if err := s.Emit(context.Background(), chain.Range{}, events); err != nil {
		t.Fatalf("emit: %v", err)
	}
	out := buf.String()
	if strings.Count(out, "interesting transfer detected") != 2 {
		t.Fatalf("expected two lines, got %s", out)
	}
	if !strings.Contains(out, "3 USDC") || !strings.Contains(out, "symbol=USDC") {
		t.Fatalf("missing rendered transfer: %s", out)
	}
}
