package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/format"
	"github.com/devblac/erc20-watch/internal/transfer"
	"github.com/nats-io/nats.go"
)

// Publisher is the JetStream surface used by NATSPublisher.
type Publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSConfig configures a JetStream publisher.
type NATSConfig struct {
	URL     string
	Stream  string
	Subject string
	MaxAge  time.Duration
}

// NATSPublisher publishes each transfer as JSON on a JetStream subject. The message id
// carries the log position and block hash so JetStream drops redelivered ranges.
type NATSPublisher struct {
	js       Publisher
	conn     *nats.Conn
	subject  string
	registry *format.Registry
}

// DialNATS connects, ensures the stream exists, and returns a publisher.
func DialNATS(cfg NATSConfig, reg *format.Registry, log *slog.Logger) (*NATSPublisher, error) {
	if cfg.Subject == "" {
		return nil, errors.New("nats subject required")
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if log == nil {
		log = slog.Default()
	}
	conn, err := nats.Connect(cfg.URL, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	if cfg.Stream != "" {
		if _, err := js.StreamInfo(cfg.Stream); err != nil {
			if !errors.Is(err, nats.ErrStreamNotFound) {
				conn.Close()
				return nil, fmt.Errorf("stream info %s: %w", cfg.Stream, err)
			}
			maxAge := cfg.MaxAge
			if maxAge == 0 {
				maxAge = 24 * time.Hour
			}
			log.Info("creating stream", "stream", cfg.Stream, "subject", cfg.Subject)
			if _, err := js.AddStream(&nats.StreamConfig{
				Name:     cfg.Stream,
				Subjects: []string{cfg.Subject},
				Storage:  nats.FileStorage,
				MaxAge:   maxAge,
				Replicas: 1,
			}); err != nil {
				conn.Close()
				return nil, fmt.Errorf("add stream %s: %w", cfg.Stream, err)
			}
		}
	}
	p := NewNATSPublisher(js, cfg.Subject, reg)
	p.conn = conn
	return p, nil
}

// NewNATSPublisher wraps an existing JetStream context.
func NewNATSPublisher(js Publisher, subject string, reg *format.Registry) *NATSPublisher {
	return &NATSPublisher{js: js, subject: subject, registry: reg}
}

// MsgID is the JetStream de-duplication id of an event.
func MsgID(ev transfer.Event) string {
	return fmt.Sprintf("%s:%d:%s", ev.TxHash.Hex(), ev.LogIndex, ev.BlockHash.Hex())
}

func (p *NATSPublisher) Emit(ctx context.Context, _ chain.Range, events []transfer.Event) error {
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(NewPayload(p.registry, ev))
		if err != nil {
			return fmt.Errorf("marshal transfer: %w", err)
		}
		msg := nats.NewMsg(p.subject)
		msg.Data = data
		msg.Header.Set(nats.MsgIdHdr, MsgID(ev))
		if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish %s: %w", MsgID(ev), err)
		}
	}
	return nil
}

// Close drains the connection when the publisher owns one.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
