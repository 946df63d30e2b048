package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/metrics"
	"github.com/devblac/erc20-watch/internal/transfer"
)

var (
	// ErrEmptyRange is returned for a range without blocks; there is no height to mark.
	ErrEmptyRange = errors.New("empty range")
	// ErrNonContiguousRange signals a host defect: block numbers do not ascend by one.
	ErrNonContiguousRange = errors.New("non-contiguous range")
)

// DefaultMissingReceiptsAlarm is the streak of receipt-less blocks after which
// the diagnostic is raised to error level.
const DefaultMissingReceiptsAlarm = 3

// Result is the outcome of processing one committed range.
type Result struct {
	Events          []transfer.Event
	Marker          chain.Marker
	Blocks          int
	Decoded         int
	MissingReceipts int
}

// Processor decodes and filters the transfers of committed ranges.
// It keeps a missing-receipts streak across calls and is not safe for concurrent use.
type Processor struct {
	filter  transfer.Filter
	log     *slog.Logger
	metrics *metrics.Metrics
	alarm   int

	missingStreak int
}

// Option configures a Processor.
type Option func(*Processor)

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithMissingReceiptsAlarm sets the streak threshold; values below 1 are ignored.
func WithMissingReceiptsAlarm(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.alarm = n
		}
	}
}

// New builds a processor for filter.
func New(filter transfer.Filter, opts ...Option) *Processor {
	p := &Processor{
		filter: filter,
		log:    slog.Default(),
		alarm:  DefaultMissingReceiptsAlarm,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Filter returns the policy applied to decoded transfers.
func (p *Processor) Filter() transfer.Filter { return p.filter }

// MissingStreak is the number of consecutive blocks seen without receipts.
func (p *Processor) MissingStreak() int { return p.missingStreak }

// Process walks rng in block order and, within each block, in log order across all
// receipts. Events keep that order. A receipts lookup fault fails the whole range and
// no marker is produced; malformed logs are skipped.
func (p *Processor) Process(ctx context.Context, rng chain.Range) (Result, error) {
	tip, ok := rng.Tip()
	if !ok {
		return Result{}, ErrEmptyRange
	}
	if err := rng.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNonContiguousRange, err)
	}
	if rng.Receipts == nil {
		return Result{}, fmt.Errorf("range %s: no receipt source", rng.Span())
	}

	res := Result{Blocks: len(rng.Blocks)}
	for _, b := range rng.Blocks {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		receipts, found, err := rng.Receipts.ReceiptsByBlockHash(ctx, b.Hash)
		if err != nil {
			return Result{}, fmt.Errorf("receipts for block %d: %w", b.Number, err)
		}
		if !found {
			res.MissingReceipts++
			p.noteMissing(b)
			continue
		}
		p.missingStreak = 0

		var logIndex uint64
		for _, r := range receipts {
			if r == nil {
				continue
			}
			for _, lg := range r.Logs {
				idx := logIndex
				logIndex++
				if !transfer.IsTransfer(lg) {
					continue
				}
				ev, ok := transfer.Decode(lg, b.Number, r.TxHash)
				if !ok {
					p.log.Debug("skip malformed transfer log", "block", b.Number, "tx", r.TxHash.Hex(), "log_index", idx, "topics", len(lg.Topics), "data_len", len(lg.Data))
					continue
				}
				ev.LogIndex = idx
				ev.BlockHash = b.Hash
				ev.Timestamp = b.Timestamp
				res.Decoded++
				if p.filter.Accepts(ev) {
					res.Events = append(res.Events, ev)
				}
			}
		}
	}

	res.Marker = chain.Marker{Number: tip.Number, Hash: tip.Hash}
	p.metrics.TransfersDecoded(res.Decoded)
	p.metrics.TransfersAccepted(len(res.Events))
	return res, nil
}

func (p *Processor) noteMissing(b chain.Block) {
	p.missingStreak++
	p.metrics.MissingReceipts()
	attrs := []any{"block", b.Number, "hash", b.Hash.Hex(), "streak", p.missingStreak}
	if p.missingStreak >= p.alarm {
		p.log.Error("receipts repeatedly missing; check the receipts provider", attrs...)
		return
	}
	p.log.Warn("no receipts for block", attrs...)
}
