package evm

import (
	"context"
	"fmt"
	"strings"

	"github.com/devblac/erc20-watch/internal/format"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20MetadataABI = `[
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var erc20ABI = mustParseABI(erc20MetadataABI)

func mustParseABI(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return a
}

// ResolveToken reads symbol() and decimals() from a token contract at the latest block.
func ResolveToken(ctx context.Context, caller ContractCaller, addr common.Address) (format.Token, error) {
	var symbol string
	if err := callView(ctx, caller, addr, "symbol", &symbol); err != nil {
		return format.Token{}, err
	}
	var decimals uint8
	if err := callView(ctx, caller, addr, "decimals", &decimals); err != nil {
		return format.Token{}, err
	}
	return format.Token{Address: addr, Symbol: symbol, Decimals: decimals}, nil
}

func callView(ctx context.Context, caller ContractCaller, addr common.Address, method string, out any) error {
	input, err := erc20ABI.Pack(method)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: input}, nil)
	if err != nil {
		return fmt.Errorf("call %s on %s: %w", method, addr.Hex(), err)
	}
	if err := erc20ABI.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("unpack %s from %s: %w", method, addr.Hex(), err)
	}
	return nil
}
