package chain

import (
	"context"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MemoryReceipts serves receipts from a map keyed by block hash.
type MemoryReceipts map[common.Hash][]*types.Receipt

func (m MemoryReceipts) ReceiptsByBlockHash(_ context.Context, hash common.Hash) ([]*types.Receipt, bool, error) {
	rs, ok := m[hash]
	return rs, ok, nil
}

// ChanSource adapts a channel into a Source. Closing the channel ends the stream.
type ChanSource struct {
	ch <-chan Notification
}

func NewChanSource(ch <-chan Notification) *ChanSource {
	return &ChanSource{ch: ch}
}

func (s *ChanSource) Next(ctx context.Context) (Notification, error) {
	select {
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	case n, ok := <-s.ch:
		if !ok {
			return Notification{}, io.EOF
		}
		return n, nil
	}
}
