package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block is the header subset the pipeline needs.
type Block struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
}

// BlockFromHeader converts a go-ethereum header.
func BlockFromHeader(h *types.Header) Block {
	return Block{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		Timestamp:  h.Time,
	}
}

// Marker is a processed height: block number plus the hash identifying it.
type Marker struct {
	Number uint64
	Hash   common.Hash
}

func (m Marker) String() string {
	return fmt.Sprintf("%d (%s)", m.Number, m.Hash.Hex())
}

// ReceiptSource looks up the receipts of a block by hash. found is false when the host
// has no receipts indexed for that block; err is reserved for I/O faults.
type ReceiptSource interface {
	ReceiptsByBlockHash(ctx context.Context, hash common.Hash) (receipts []*types.Receipt, found bool, err error)
}

// Range is an ordered, contiguous run of blocks and the receipts behind them.
type Range struct {
	Blocks   []Block
	Receipts ReceiptSource
}

// First returns the lowest block of the range.
func (r Range) First() (Block, bool) {
	if len(r.Blocks) == 0 {
		return Block{}, false
	}
	return r.Blocks[0], true
}

// Tip returns the highest block of the range.
func (r Range) Tip() (Block, bool) {
	if len(r.Blocks) == 0 {
		return Block{}, false
	}
	return r.Blocks[len(r.Blocks)-1], true
}

// Span renders the range as first..tip for logs.
func (r Range) Span() string {
	first, ok := r.First()
	if !ok {
		return "[]"
	}
	tip, _ := r.Tip()
	return fmt.Sprintf("[%d..%d]", first.Number, tip.Number)
}

var errGap = errors.New("blocks are not contiguous")

// Validate checks that block numbers ascend by exactly one.
func (r Range) Validate() error {
	for i := 1; i < len(r.Blocks); i++ {
		if r.Blocks[i].Number != r.Blocks[i-1].Number+1 {
			return fmt.Errorf("%w: %d follows %d", errGap, r.Blocks[i].Number, r.Blocks[i-1].Number)
		}
	}
	return nil
}

// Kind tags a Notification.
type Kind uint8

const (
	KindCommitted Kind = iota + 1
	KindReorged
	KindReverted
)

func (k Kind) String() string {
	switch k {
	case KindCommitted:
		return "committed"
	case KindReorged:
		return "reorged"
	case KindReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// Notification describes one change of canonical history.
// Committed carries New; Reorged carries Old and New; Reverted carries Old.
type Notification struct {
	Kind Kind
	Old  *Range
	New  *Range
}

func Committed(r Range) Notification {
	return Notification{Kind: KindCommitted, New: &r}
}

func Reorged(oldRange, newRange Range) Notification {
	return Notification{Kind: KindReorged, Old: &oldRange, New: &newRange}
}

func Reverted(oldRange Range) Notification {
	return Notification{Kind: KindReverted, Old: &oldRange}
}

// Source yields notifications in host order. io.EOF marks a closed stream.
type Source interface {
	Next(ctx context.Context) (Notification, error)
}

// Acker receives processed-height acknowledgements.
type Acker interface {
	FinishedHeight(ctx context.Context, m Marker) error
}
