package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/metrics"
	"github.com/devblac/erc20-watch/internal/processor"
	"github.com/devblac/erc20-watch/internal/transfer"
)

// Sink receives the accepted transfers of one committed range, in chain order.
type Sink interface {
	Emit(ctx context.Context, rng chain.Range, events []transfer.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rng chain.Range, events []transfer.Event) error

func (f SinkFunc) Emit(ctx context.Context, rng chain.Range, events []transfer.Event) error {
	return f(ctx, rng, events)
}

// State is the reconciler's position in its loop.
type State uint8

const (
	StateIdle State = iota
	StateProcessing
)

func (s State) String() string {
	if s == StateProcessing {
		return "processing"
	}
	return "idle"
}

// ErrMarkerRegression is returned when a committed range ends below the last
// acknowledged height without an intervening reorg or revert.
var ErrMarkerRegression = errors.New("marker regression")

// Reconciler consumes chain notifications one at a time and acknowledges
// processed heights back to the host once downstream emission has completed.
type Reconciler struct {
	source  chain.Source
	acker   chain.Acker
	proc    *processor.Processor
	sink    Sink
	log     *slog.Logger
	metrics *metrics.Metrics

	state State
	last  *chain.Marker
	// floor is set by a reorg or revert: the next marker may go back to it.
	floor *uint64
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithCheckpoint seeds the last acknowledged marker, e.g. from storage on restart.
func WithCheckpoint(m chain.Marker) Option {
	return func(r *Reconciler) { r.last = &m }
}

// New wires a reconciler. sink may be nil when events need no downstream delivery.
func New(source chain.Source, acker chain.Acker, proc *processor.Processor, sink Sink, opts ...Option) *Reconciler {
	r := &Reconciler{
		source: source,
		acker:  acker,
		proc:   proc,
		sink:   sink,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) State() State { return r.state }

// Checkpoint returns the last acknowledged marker.
func (r *Reconciler) Checkpoint() (chain.Marker, bool) {
	if r.last == nil {
		return chain.Marker{}, false
	}
	return *r.last, true
}

// Run pulls notifications until the source is exhausted. A closed stream (io.EOF)
// is a normal shutdown and returns nil; any other source error is returned as is.
// Range failures are logged and leave the checkpoint where it was.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		n, err := r.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			r.log.Info("notification stream closed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("next notification: %w", err)
		}
		if err := r.Handle(ctx, n); err != nil {
			r.metrics.Errors()
			r.log.Error("range not acknowledged", "kind", n.Kind.String(), "error", err)
		}
	}
}

// Handle applies one notification.
func (r *Reconciler) Handle(ctx context.Context, n chain.Notification) error {
	r.metrics.Notification(n.Kind.String())
	switch n.Kind {
	case chain.KindCommitted:
		if n.New == nil {
			return errors.New("committed notification without range")
		}
		r.log.Info("committed chain", "range", n.New.Span())
		return r.commit(ctx, *n.New)
	case chain.KindReorged:
		if n.Old == nil || n.New == nil {
			return errors.New("reorged notification without ranges")
		}
		r.log.Warn("transfers may have changed", "from_chain", n.Old.Span(), "to_chain", n.New.Span())
		r.resetFloor(*n.Old)
		return nil
	case chain.KindReverted:
		if n.Old == nil {
			return errors.New("reverted notification without range")
		}
		r.log.Warn("transfers were removed", "reverted_chain", n.Old.Span())
		r.resetFloor(*n.Old)
		return nil
	default:
		return fmt.Errorf("unknown notification kind %d", n.Kind)
	}
}

func (r *Reconciler) commit(ctx context.Context, rng chain.Range) error {
	if tip, ok := rng.Tip(); ok {
		if err := r.checkMonotonic(tip.Number); err != nil {
			r.metrics.RangeFailed()
			return err
		}
	}

	r.state = StateProcessing
	defer func() { r.state = StateIdle }()

	res, err := r.proc.Process(ctx, rng)
	if err != nil {
		r.metrics.RangeFailed()
		return fmt.Errorf("process %s: %w", rng.Span(), err)
	}

	if r.sink != nil {
		if err := r.sink.Emit(ctx, rng, res.Events); err != nil {
			r.metrics.RangeFailed()
			return fmt.Errorf("emit %s: %w", rng.Span(), err)
		}
	}

	if err := r.acker.FinishedHeight(ctx, res.Marker); err != nil {
		r.metrics.RangeFailed()
		return fmt.Errorf("acknowledge %s: %w", res.Marker, err)
	}

	m := res.Marker
	r.last = &m
	r.floor = nil
	r.metrics.RangeProcessed(res.Blocks)
	r.metrics.Checkpoint(m.Number)
	r.log.Info("finished height", "height", m.Number, "hash", m.Hash.Hex(), "transfers", len(res.Events), "decoded", res.Decoded)
	return nil
}

func (r *Reconciler) checkMonotonic(height uint64) error {
	if r.last == nil {
		return nil
	}
	lower := r.last.Number
	if r.floor != nil {
		lower = *r.floor
	}
	if height < lower {
		return fmt.Errorf("%w: %d below %d", ErrMarkerRegression, height, lower)
	}
	return nil
}

// resetFloor lets the checkpoint follow the new branch from the divergence point.
func (r *Reconciler) resetFloor(old chain.Range) {
	first, ok := old.First()
	if !ok {
		return
	}
	fork := uint64(0)
	if first.Number > 0 {
		fork = first.Number - 1
	}
	if r.floor == nil || fork < *r.floor {
		r.floor = &fork
	}
}
