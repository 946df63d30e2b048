package sink

import (
	"context"

	"github.com/devblac/erc20-watch/internal/chain"
	"github.com/devblac/erc20-watch/internal/transfer"
)

// Multi delivers a range to each emitter in order and stops at the first error.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, rng chain.Range, events []transfer.Event) error {
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, rng, events); err != nil {
			return err
		}
	}
	return nil
}
