package sink

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/format"
	"github.com/devblac/erc20-watch/internal/transfer"
)

type fakeSender struct {
	sent []Payload
	err  error
}

func (f *fakeSender) Send(_ context.Context, p Payload) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, p)
	return nil
}

type memDedupe map[string]time.Time

func (m memDedupe) IsDuplicate(_ context.Context, key string, now time.Time) (bool, error) {
	exp, ok := m[key]
	return ok && exp.After(now), nil
}

func (m memDedupe) MarkDedupe(_ context.Context, key string, exp time.Time) error {
	m[key] = exp
	return nil
}

func TestNotifierSendsToEverySender(t *testing.T) {
	a, b := &fakeSender{}, &fakeSender{}
	n := NewNotifier(format.NewRegistry(), []Sender{a, b})
	events := []transfer.Event{usdcTransfer(1, 0), usdcTransfer(2, 1)}
	if err := n.Emit(context.Background(), chain.Range{}, events); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(a.sent) != 2 || len(b.sent) != 2 {
		t.Fatalf("expected 2 sends each, got %d and %d", len(a.sent), len(b.sent))
	}
}

func TestNotifierDedupe(t *testing.T) {
	s := &fakeSender{}
	store := memDedupe{}
	n := NewNotifier(format.NewRegistry(), []Sender{s}, WithDedupe(store, "", time.Hour))
	ev := usdcTransfer(1, 7)
	for i := 0; i < 3; i++ {
		if err := n.Emit(context.Background(), chain.Range{}, []transfer.Event{ev}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	if len(s.sent) != 1 {
		t.Fatalf("dedupe should allow exactly one send, got %d", len(s.sent))
	}
	if _, ok := store[ev.TxHash.Hex()+":7"]; !ok {
		t.Fatalf("expected default key, have %v", store)
	}
}

func TestNotifierDryRun(t *testing.T) {
	s := &fakeSender{}
	var buf bytes.Buffer
	n := NewNotifier(format.NewRegistry(), []Sender{s},
		WithDryRun(true),
		WithNotifierLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)
	if err := n.Emit(context.Background(), chain.Range{}, []transfer.Event{usdcTransfer(1, 0)}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(s.sent) != 0 {
		t.Fatalf("dry-run must not send")
	}
	if !strings.Contains(buf.String(), "dry-run notification") {
		t.Fatalf("expected dry-run log, got %s", buf.String())
	}
}

func TestNotifierPropagatesSendFailure(t *testing.T) {
	fault := errors.New("503")
	n := NewNotifier(format.NewRegistry(), []Sender{&fakeSender{err: fault}})
	if err := n.Emit(context.Background(), chain.Range{}, []transfer.Event{usdcTransfer(1, 0)}); !errors.Is(err, fault) {
		t.Fatalf("expected send failure, got %v", err)
	}
}

func TestNotifierRetriesAfterFailedSend(t *testing.T) {
	ok := &fakeSender{}
	flaky := &fakeSender{err: errors.New("503")}
	store := memDedupe{}
	n := NewNotifier(format.NewRegistry(), []Sender{ok, flaky}, WithDedupe(store, "", time.Hour))
	events := []transfer.Event{usdcTransfer(1, 3)}

	if err := n.Emit(context.Background(), chain.Range{}, events); err == nil {
		t.Fatalf("expected send failure")
	}
	if len(store) != 0 {
		t.Fatalf("failed send must not record a dedupe key, have %v", store)
	}

	flaky.err = nil
	if err := n.Emit(context.Background(), chain.Range{}, events); err != nil {
		t.Fatalf("redelivered emit: %v", err)
	}
	if len(flaky.sent) != 1 {
		t.Fatalf("redelivered transfer must be sent, got %d", len(flaky.sent))
	}
	if len(store) != 1 {
		t.Fatalf("key must be recorded after a full send, have %v", store)
	}

	if err := n.Emit(context.Background(), chain.Range{}, events); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(flaky.sent) != 1 {
		t.Fatalf("third delivery must be deduplicated, got %d sends", len(flaky.sent))
	}
}

func TestNotifierDryRunLeavesDedupeUntouched(t *testing.T) {
	store := memDedupe{}
	ev := usdcTransfer(1, 0)
	dry := NewNotifier(format.NewRegistry(), []Sender{&fakeSender{}},
		WithDryRun(true),
		WithDedupe(store, "", time.Hour),
		WithNotifierLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	)
	if err := dry.Emit(context.Background(), chain.Range{}, []transfer.Event{ev}); err != nil {
		t.Fatalf("dry emit: %v", err)
	}
	if len(store) != 0 {
		t.Fatalf("dry-run must not record keys, have %v", store)
	}

	s := &fakeSender{}
	live := NewNotifier(format.NewRegistry(), []Sender{s}, WithDedupe(store, "", time.Hour))
	if err := live.Emit(context.Background(), chain.Range{}, []transfer.Event{ev}); err != nil {
		t.Fatalf("live emit: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("a later real run must send what dry-run only logged, got %d", len(s.sent))
	}
}

func TestBuildDedupeKey(t *testing.T) {
	ev := usdcTransfer(1, 5)
	cases := []struct {
		pattern string
		want    string
	}{
		{"", ev.TxHash.Hex() + ":5"},
		{"txhash", ev.TxHash.Hex()},
		{"blockhash/logIndex", ev.BlockHash.Hex() + "/5"},
		{"token", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
	}
	for _, tc := range cases {
		if got := buildDedupeKey(tc.pattern, ev); got != tc.want {
			t.Fatalf("pattern %q: got %s want %s", tc.pattern, got, tc.want)
		}
	}
}
