package transfer

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FilterKind selects the predicate a Filter applies.
type FilterKind uint8

const (
	FilterAll FilterKind = iota
	FilterLargeTransfers
	FilterSpecificTokens
	FilterSpecificAddresses
)

func (k FilterKind) String() string {
	switch k {
	case FilterAll:
		return "all"
	case FilterLargeTransfers:
		return "large_transfers"
	case FilterSpecificTokens:
		return "specific_tokens"
	case FilterSpecificAddresses:
		return "specific_addresses"
	default:
		return fmt.Sprintf("FilterKind(%d)", uint8(k))
	}
}

// Filter decides which transfers are interesting. It is immutable once built;
// the zero value accepts everything.
type Filter struct {
	kind      FilterKind
	threshold uint256.Int
	set       map[common.Address]struct{}
}

// All accepts every decoded transfer. It equals the zero Filter.
func All() Filter {
	return Filter{kind: FilterAll}
}

// LargeTransfers accepts amounts greater than or equal to threshold.
func LargeTransfers(threshold *uint256.Int) Filter {
	f := Filter{kind: FilterLargeTransfers}
	if threshold != nil {
		f.threshold.Set(threshold)
	}
	return f
}

// SpecificTokens accepts transfers of the listed token contracts.
func SpecificTokens(tokens ...common.Address) Filter {
	return Filter{kind: FilterSpecificTokens, set: addressSet(tokens)}
}

// SpecificAddresses accepts transfers whose sender or recipient is listed.
func SpecificAddresses(addrs ...common.Address) Filter {
	return Filter{kind: FilterSpecificAddresses, set: addressSet(addrs)}
}

func addressSet(addrs []common.Address) map[common.Address]struct{} {
	set := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set
}

// Kind reports which variant f is.
func (f Filter) Kind() FilterKind { return f.kind }

// Threshold returns a copy of the LargeTransfers threshold.
func (f Filter) Threshold() *uint256.Int {
	return new(uint256.Int).Set(&f.threshold)
}

// Size is the number of addresses held by membership filters.
func (f Filter) Size() int { return len(f.set) }

// Accepts evaluates the filter against ev.
func (f Filter) Accepts(ev Event) bool {
	switch f.kind {
	case FilterAll:
		return true
	case FilterLargeTransfers:
		return !ev.Amount.Lt(&f.threshold)
	case FilterSpecificTokens:
		_, ok := f.set[ev.Token]
		return ok
	case FilterSpecificAddresses:
		if _, ok := f.set[ev.From]; ok {
			return true
		}
		_, ok := f.set[ev.To]
		return ok
	default:
		return false
	}
}

func (f Filter) String() string {
	switch f.kind {
	case FilterLargeTransfers:
		return fmt.Sprintf("%s(>=%s)", f.kind, f.threshold.Dec())
	case FilterSpecificTokens, FilterSpecificAddresses:
		return fmt.Sprintf("%s(%d)", f.kind, len(f.set))
	default:
		return f.kind.String()
	}
}

// ParseFilter builds a Filter from configuration values. threshold is a decimal
// or 0x-prefixed hex amount.
func ParseFilter(kind, threshold string, addrs []string) (Filter, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	switch kind {
	case "", "all":
		return All(), nil
	case "large_transfers":
		if threshold == "" {
			return Filter{}, errors.New("threshold is required for large_transfers")
		}
		t, err := ParseAmount(threshold)
		if err != nil {
			return Filter{}, fmt.Errorf("threshold: %w", err)
		}
		return LargeTransfers(t), nil
	case "specific_tokens", "specific_addresses":
		if len(addrs) == 0 {
			return Filter{}, fmt.Errorf("%s requires at least one address", kind)
		}
		parsed := make([]common.Address, 0, len(addrs))
		for _, a := range addrs {
			if !common.IsHexAddress(a) {
				return Filter{}, fmt.Errorf("invalid address %q", a)
			}
			parsed = append(parsed, common.HexToAddress(a))
		}
		if kind == "specific_tokens" {
			return SpecificTokens(parsed...), nil
		}
		return SpecificAddresses(parsed...), nil
	default:
		return Filter{}, fmt.Errorf("unsupported filter type: %s", kind)
	}
}

// ParseAmount parses a decimal or 0x-prefixed hex 256-bit amount.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	var (
		b  *big.Int
		ok bool
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, ok = new(big.Int).SetString(s[2:], 16)
	} else {
		b, ok = new(big.Int).SetString(s, 10)
	}
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("amount %q overflows 256 bits", s)
	}
	return v, nil
}
