package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/format"
	"github.com/devblac/erc20-watch/internal/transfer"
)

// Deduper remembers keys for a TTL. *storage.Store implements it.
type Deduper interface {
	IsDuplicate(ctx context.Context, key string, now time.Time) (bool, error)
	MarkDedupe(ctx context.Context, key string, expiresAt time.Time) error
}

// DefaultDedupeKey identifies a transfer by transaction and log position.
const DefaultDedupeKey = "txhash:logIndex"

// Notifier renders each accepted transfer and delivers it to every sender.
type Notifier struct {
	senders  []Sender
	registry *format.Registry
	dedupe   Deduper
	ttl      time.Duration
	key      string
	dryRun   bool
	nowFunc  func() time.Time
	log      *slog.Logger
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithDedupe suppresses repeat sends of the same key for ttl. A zero ttl means 24h.
func WithDedupe(d Deduper, key string, ttl time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.dedupe = d
		if key != "" {
			n.key = key
		}
		if ttl > 0 {
			n.ttl = ttl
		}
	}
}

// WithDryRun renders and logs but never sends or records dedupe keys.
func WithDryRun(dry bool) NotifierOption {
	return func(n *Notifier) { n.dryRun = dry }
}

func WithNotifierLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if l != nil {
			n.log = l
		}
	}
}

func NewNotifier(reg *format.Registry, senders []Sender, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		senders:  senders,
		registry: reg,
		ttl:      24 * time.Hour,
		key:      DefaultDedupeKey,
		nowFunc:  time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Emit delivers every event to all senders. A dedupe key is recorded only once all
// senders accepted the event, so a range redelivered after a failed send is retried.
// Dry-run never records keys.
func (n *Notifier) Emit(ctx context.Context, _ chain.Range, events []transfer.Event) error {
	for _, ev := range events {
		var key string
		if n.dedupe != nil {
			key = buildDedupeKey(n.key, ev)
			isDup, err := n.dedupe.IsDuplicate(ctx, key, n.nowFunc())
			if err != nil {
				return err
			}
			if isDup {
				continue
			}
		}
		payload := NewPayload(n.registry, ev)
		if n.dryRun {
			n.log.Info("dry-run notification", "transfer", payload.Line)
			continue
		}
		for _, s := range n.senders {
			if err := s.Send(ctx, payload); err != nil {
				return fmt.Errorf("send %s:%d: %w", payload.TxHash, payload.LogIndex, err)
			}
		}
		if key != "" {
			if err := n.dedupe.MarkDedupe(ctx, key, n.nowFunc().Add(n.ttl)); err != nil {
				return err
			}
		}
	}
	return nil
}

func buildDedupeKey(pattern string, ev transfer.Event) string {
	if pattern == "" {
		pattern = DefaultDedupeKey
	}
	key := strings.ReplaceAll(pattern, "txhash", ev.TxHash.Hex())
	key = strings.ReplaceAll(key, "logIndex", fmt.Sprintf("%d", ev.LogIndex))
	key = strings.ReplaceAll(key, "blockhash", ev.BlockHash.Hex())
	return strings.ReplaceAll(key, "token", strings.ToLower(ev.Token.Hex()))
}
