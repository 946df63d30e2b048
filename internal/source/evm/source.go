package evm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	DefaultBatchSize    = 50
	DefaultPollInterval = 12 * time.Second
	DefaultReorgDepth   = 64
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Config drives a Source.
type Config struct {
	ID            string
	StartBlock    string
	StopBlock     uint64
	Confirmations uint64
	BatchSize     uint64
	PollInterval  time.Duration
	ReorgDepth    uint64
	MaxRetries    int
	RetryBackoff  time.Duration
	// Once ends the stream (io.EOF) as soon as the source has caught up.
	Once bool
}

// Source turns a polled JSON-RPC node into a stream of chain notifications.
// It is also the host that receives acknowledgements: FinishedHeight persists
// the cursor, and nothing below an acknowledged marker is delivered again
// unless the chain reorganizes.
type Source struct {
	client   BlockClient
	store    *storage.Store
	cfg      Config
	receipts *Receipts
	log      *slog.Logger
	sleep    func(context.Context, time.Duration) error

	// pending holds blocks delivered in Committed ranges but not yet acknowledged.
	pending []chain.Block
}

type Option func(*Source)

func WithLogger(l *slog.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSource builds a notification source for one chain.
func NewSource(client BlockClient, store *storage.Store, cfg Config, opts ...Option) (*Source, error) {
	if cfg.ID == "" {
		return nil, errors.New("source id required")
	}
	if client == nil || store == nil {
		return nil, errors.New("client and store required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReorgDepth == 0 {
		cfg.ReorgDepth = DefaultReorgDepth
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	s := &Source{
		client:   client,
		store:    store,
		cfg:      cfg,
		receipts: NewReceipts(client, cfg.MaxRetries, cfg.RetryBackoff),
		log:      slog.Default(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Receipts exposes the lazy receipt source attached to delivered ranges.
func (s *Source) Receipts() *Receipts { return s.receipts }

// Checkpoint returns the persisted cursor as a marker.
func (s *Source) Checkpoint(ctx context.Context) (chain.Marker, bool, error) {
	height, hash, ok, err := s.store.GetCursor(ctx, s.cfg.ID)
	if err != nil || !ok {
		return chain.Marker{}, false, err
	}
	return chain.Marker{Number: height, Hash: common.HexToHash(hash)}, true, nil
}

// Next blocks until a notification is available, the stream ends, or ctx is done.
func (s *Source) Next(ctx context.Context) (chain.Notification, error) {
	for {
		if err := ctx.Err(); err != nil {
			return chain.Notification{}, err
		}
		n, ok, err := s.poll(ctx)
		if err != nil {
			return chain.Notification{}, err
		}
		if ok {
			return n, nil
		}
		if s.cfg.Once {
			return chain.Notification{}, io.EOF
		}
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return chain.Notification{}, err
		}
	}
}

func (s *Source) poll(ctx context.Context) (chain.Notification, bool, error) {
	height, hash, hasCursor, err := s.store.GetCursor(ctx, s.cfg.ID)
	if err != nil {
		return chain.Notification{}, false, err
	}
	if hasCursor && s.cfg.StopBlock > 0 && height >= s.cfg.StopBlock {
		return chain.Notification{}, false, io.EOF
	}

	if len(s.pending) > 0 {
		s.log.Warn("redelivering unacknowledged blocks", "source", s.cfg.ID, "from", s.pending[0].Number)
		s.pending = nil
	}

	latest, err := s.header(ctx, nil)
	if err != nil {
		return chain.Notification{}, false, fmt.Errorf("latest header: %w", err)
	}
	latestHeight := latest.Number.Uint64()
	if s.cfg.Confirmations > latestHeight {
		return chain.Notification{}, false, nil
	}
	safeHeight := latestHeight - s.cfg.Confirmations

	if hasCursor && safeHeight < height {
		n, err := s.revert(ctx, height, safeHeight)
		if err != nil {
			return chain.Notification{}, false, err
		}
		return n, true, nil
	}

	target := height + 1
	if !hasCursor {
		target, err = resolveStartHeight(s.cfg.StartBlock, safeHeight)
		if err != nil {
			return chain.Notification{}, false, err
		}
	}
	if target > safeHeight {
		return chain.Notification{}, false, nil
	}

	end := target + s.cfg.BatchSize - 1
	if end > safeHeight {
		end = safeHeight
	}
	if s.cfg.StopBlock > 0 && end > s.cfg.StopBlock {
		end = s.cfg.StopBlock
	}
	if target > end {
		return chain.Notification{}, false, io.EOF
	}

	blocks, err := s.headers(ctx, target, end)
	if err != nil {
		return chain.Notification{}, false, err
	}

	if hasCursor && blocks[0].ParentHash != common.HexToHash(hash) {
		n, err := s.reorg(ctx, height)
		if err != nil {
			return chain.Notification{}, false, err
		}
		return n, true, nil
	}

	s.pending = blocks
	return chain.Committed(chain.Range{Blocks: blocks, Receipts: s.receipts}), true, nil
}

// headers fetches [from, to] and keeps the longest prefix whose parent links hold.
func (s *Source) headers(ctx context.Context, from, to uint64) ([]chain.Block, error) {
	blocks := make([]chain.Block, 0, to-from+1)
	for n := from; n <= to; n++ {
		h, err := s.header(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return nil, fmt.Errorf("header %d: %w", n, err)
		}
		b := chain.BlockFromHeader(h)
		if len(blocks) > 0 && b.ParentHash != blocks[len(blocks)-1].Hash {
			s.log.Debug("head moved during fetch; truncating batch", "source", s.cfg.ID, "at", n)
			break
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (s *Source) header(ctx context.Context, number *big.Int) (*types.Header, error) {
	var h *types.Header
	err := withRetry(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		h, err = s.client.HeaderByNumber(ctx, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	if h == nil || h.Number == nil {
		return nil, errors.New("empty header")
	}
	return h, nil
}

// reorg walks back from the cursor to the highest height whose stored hash is still
// canonical, rewinds the cursor there and reports the replaced segment.
func (s *Source) reorg(ctx context.Context, cursor uint64) (chain.Notification, error) {
	floor := uint64(0)
	if cursor > s.cfg.ReorgDepth {
		floor = cursor - s.cfg.ReorgDepth
	}
	stored, err := s.store.BlockHashes(ctx, s.cfg.ID, floor, cursor)
	if err != nil {
		return chain.Notification{}, err
	}
	known := make(map[uint64]common.Hash, len(stored))
	for _, b := range stored {
		known[b.Number] = common.HexToHash(b.Hash)
	}

	var (
		newBlocks []chain.Block
		fork      *types.Header
	)
	for n := cursor; ; n-- {
		h, err := s.header(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return chain.Notification{}, fmt.Errorf("header %d: %w", n, err)
		}
		want, ok := known[n]
		if !ok {
			return chain.Notification{}, fmt.Errorf("%w: no stored hash for block %d", ErrReorgTooDeep, n)
		}
		if h.Hash() == want {
			fork = h
			break
		}
		newBlocks = append([]chain.Block{chain.BlockFromHeader(h)}, newBlocks...)
		if n == floor {
			return chain.Notification{}, fmt.Errorf("%w: searched %d blocks below %d", ErrReorgTooDeep, s.cfg.ReorgDepth, cursor)
		}
	}

	forkHeight := fork.Number.Uint64()
	oldBlocks := make([]chain.Block, 0, cursor-forkHeight)
	for n := forkHeight + 1; n <= cursor; n++ {
		oldBlocks = append(oldBlocks, chain.Block{Number: n, Hash: known[n]})
	}
	if err := s.store.Rewind(ctx, s.cfg.ID, forkHeight, fork.Hash().Hex()); err != nil {
		return chain.Notification{}, err
	}
	s.log.Warn("reorg detected", "source", s.cfg.ID, "fork", forkHeight, "depth", len(oldBlocks))
	return chain.Reorged(
		chain.Range{Blocks: oldBlocks, Receipts: s.receipts},
		chain.Range{Blocks: newBlocks, Receipts: s.receipts},
	), nil
}

// revert handles a safe head that fell below the cursor.
func (s *Source) revert(ctx context.Context, cursor, safeHeight uint64) (chain.Notification, error) {
	stored, err := s.store.BlockHashes(ctx, s.cfg.ID, safeHeight+1, cursor)
	if err != nil {
		return chain.Notification{}, err
	}
	known := make(map[uint64]common.Hash, len(stored))
	for _, b := range stored {
		known[b.Number] = common.HexToHash(b.Hash)
	}
	// The old range always starts right above the safe head so consumers reset to the
	// real divergence point. Heights pruned from the hash window carry a zero hash.
	old := make([]chain.Block, 0, cursor-safeHeight)
	for n := safeHeight + 1; n <= cursor; n++ {
		old = append(old, chain.Block{Number: n, Hash: known[n]})
	}
	safe, err := s.header(ctx, new(big.Int).SetUint64(safeHeight))
	if err != nil {
		return chain.Notification{}, fmt.Errorf("header %d: %w", safeHeight, err)
	}
	if err := s.store.Rewind(ctx, s.cfg.ID, safeHeight, safe.Hash().Hex()); err != nil {
		return chain.Notification{}, err
	}
	s.log.Warn("chain reverted below cursor", "source", s.cfg.ID, "cursor", cursor, "safe_head", safeHeight, "unknown_hashes", len(old)-len(stored))
	return chain.Reverted(chain.Range{Blocks: old, Receipts: s.receipts}), nil
}

// FinishedHeight persists the acknowledged marker together with the hashes of the
// delivered blocks it covers. Hashes older than the reorg window are pruned.
func (s *Source) FinishedHeight(ctx context.Context, m chain.Marker) error {
	var (
		done []storage.BlockHash
		rest []chain.Block
	)
	for _, b := range s.pending {
		if b.Number <= m.Number {
			done = append(done, storage.BlockHash{Number: b.Number, Hash: b.Hash.Hex()})
			continue
		}
		rest = append(rest, b)
	}
	if len(done) == 0 {
		done = append(done, storage.BlockHash{Number: m.Number, Hash: m.Hash.Hex()})
	}
	if err := s.store.Checkpoint(ctx, s.cfg.ID, m.Number, m.Hash.Hex(), done, s.cfg.ReorgDepth+1); err != nil {
		return fmt.Errorf("persist marker %s: %w", m, err)
	}
	s.pending = rest
	return nil
}

func resolveStartHeight(start string, safeHeight uint64) (uint64, error) {
	start = strings.TrimSpace(start)
	if start == "" || start == "0" {
		return 0, nil
	}
	if start == "latest" {
		return safeHeight, nil
	}
	if strings.HasPrefix(start, "latest-") {
		offsetStr := strings.TrimPrefix(start, "latest-")
		n, err := strconv.ParseUint(offsetStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse start_block %q: %w", start, err)
		}
		if n > safeHeight {
			return 0, nil
		}
		return safeHeight - n, nil
	}

	n, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse start_block %q: %w", start, err)
	}
	return n, nil
}
