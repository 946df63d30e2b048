package health

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderFetcher is the slice of the EVM client the RPC check needs.
type HeaderFetcher interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// RPCChecker pings the node by asking for its latest header.
type RPCChecker struct {
	id     string
	client HeaderFetcher
}

func NewRPCChecker(id string, client HeaderFetcher) *RPCChecker {
	return &RPCChecker{id: id, client: client}
}

// Ping checks the configured RPC endpoint.
func (c *RPCChecker) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("evm source %s: no client", c.id)
	}
	if _, err := c.client.HeaderByNumber(ctx, nil); err != nil {
		return fmt.Errorf("evm source %s: %w", c.id, err)
	}
	return nil
}
