package evm

import (
	"errors"
)

// Chain is the identifier for EVM chains.
const Chain = "evm"

// ErrReorgTooDeep means the fork point lies beyond the remembered block hashes.
var ErrReorgTooDeep = errors.New("reorg deeper than tracked history")
