// Package format renders transfer events for humans.
package format

import (
	"fmt"
	"strings"

	"github.com/devblac/erc20-watch/internal/transfer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// UnknownSymbol and UnknownDecimals describe tokens missing from the registry.
const (
	UnknownSymbol   = "UNKNOWN"
	UnknownDecimals = 18
)

// Token is display metadata for an ERC-20 contract.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

var knownTokens = []Token{
	{Address: common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"), Symbol: "USDC", Decimals: 6},
	{Address: common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f"), Symbol: "DAI", Decimals: 18},
	{Address: common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"), Symbol: "WETH", Decimals: 18},
}

// Registry maps token contracts to symbol and decimals. It is read-only after construction.
type Registry struct {
	tokens map[common.Address]Token
}

// NewRegistry seeds the well-known mainnet tokens; extra entries override them.
func NewRegistry(extra ...Token) *Registry {
	r := &Registry{tokens: make(map[common.Address]Token, len(knownTokens)+len(extra))}
	for _, t := range knownTokens {
		r.tokens[t.Address] = t
	}
	for _, t := range extra {
		r.tokens[t.Address] = t
	}
	return r
}

// Lookup returns the token metadata, falling back to UNKNOWN with 18 decimals.
func (r *Registry) Lookup(addr common.Address) (Token, bool) {
	if r != nil {
		if t, ok := r.tokens[addr]; ok {
			return t, true
		}
	}
	return Token{Address: addr, Symbol: UnknownSymbol, Decimals: UnknownDecimals}, false
}

// Len reports the number of registered tokens.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tokens)
}

// Address shortens an address to 0x123456...abcd.
func Address(addr common.Address) string {
	h := strings.ToLower(addr.Hex()[2:])
	return "0x" + h[:6] + "..." + h[36:]
}

// Hash shortens a hash to its first eight hex digits.
func Hash(h common.Hash) string {
	return h.Hex()[:10] + "..."
}

// Amount scales a raw token amount by decimals, trimming trailing zeros.
func Amount(value *uint256.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value.ToBig(), -int32(decimals)).String()
}

// Transfer renders one event as a single log line.
func (r *Registry) Transfer(ev transfer.Event) string {
	tok, _ := r.Lookup(ev.Token)
	return fmt.Sprintf("%s %s %s -> %s (block: %d, tx: %s, log_index: %d)",
		Amount(&ev.Amount, tok.Decimals),
		tok.Symbol,
		Address(ev.From),
		Address(ev.To),
		ev.BlockNumber,
		Hash(ev.TxHash),
		ev.LogIndex,
	)
}
