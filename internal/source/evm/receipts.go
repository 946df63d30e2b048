package evm

import (
	"context"
	"errors"
	"fmt"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// Receipts fetches block receipts lazily over RPC, retrying transient failures.
// A block the node does not know yields (nil, false, nil).
type Receipts struct {
	client     BlockClient
	maxRetries int
	backoff    time.Duration
}

func NewReceipts(client BlockClient, maxRetries int, backoff time.Duration) *Receipts {
	return &Receipts{client: client, maxRetries: maxRetries, backoff: backoff}
}

func (r *Receipts) ReceiptsByBlockHash(ctx context.Context, hash common.Hash) ([]*types.Receipt, bool, error) {
	var (
		out      []*types.Receipt
		notFound bool
	)
	err := withRetry(ctx, r.maxRetries, r.backoff, func(ctx context.Context) error {
		rs, err := r.client.BlockReceipts(ctx, rpc.BlockNumberOrHashWithHash(hash, false))
		if errors.Is(err, ethereum.NotFound) {
			notFound = true
			return nil
		}
		if err != nil {
			return err
		}
		out = rs
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("block receipts %s: %w", hash.Hex(), err)
	}
	if notFound {
		return nil, false, nil
	}
	return out, true, nil
}
