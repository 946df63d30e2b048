package transfer

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func event(token, from, to common.Address, amount uint64) Event {
	ev := Event{Token: token, From: from, To: to}
	ev.Amount.SetUint64(amount)
	return ev
}

func TestFilterAccepts(t *testing.T) {
	dai := common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	carol := common.HexToAddress("0x0000000000000000000000000000000000000003")

	tests := []struct {
		name   string
		filter Filter
		ev     Event
		want   bool
	}{
		{"all", All(), event(usdc, alice, bob, 0), true},
		{"zero_value_is_all", Filter{}, event(usdc, alice, bob, 0), true},
		{"large_below", LargeTransfers(uint256.NewInt(1_000_000)), event(usdc, alice, bob, 999_999), false},
		{"large_boundary", LargeTransfers(uint256.NewInt(1_000_000)), event(usdc, alice, bob, 1_000_000), true},
		{"large_above", LargeTransfers(uint256.NewInt(1_000_000)), event(usdc, alice, bob, 5_000_000), true},
		{"large_nil_threshold", LargeTransfers(nil), event(usdc, alice, bob, 0), true},
		{"token_hit", SpecificTokens(usdc), event(usdc, alice, bob, 1), true},
		{"token_miss", SpecificTokens(dai), event(usdc, alice, bob, 1), false},
		{"token_empty_set", SpecificTokens(), event(usdc, alice, bob, 1), false},
		{"address_sender", SpecificAddresses(alice), event(usdc, alice, bob, 1), true},
		{"address_recipient", SpecificAddresses(bob), event(usdc, alice, bob, 1), true},
		{"address_miss", SpecificAddresses(carol), event(usdc, alice, bob, 1), false},
		{"address_token_not_counted", SpecificAddresses(usdc), event(usdc, alice, bob, 1), false},
		{"unknown_kind", Filter{kind: FilterKind(99)}, event(usdc, alice, bob, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Accepts(tt.ev); got != tt.want {
				t.Fatalf("Accepts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLargeTransfersBoundaryAtMax(t *testing.T) {
	ceiling := new(uint256.Int).SetAllOne()
	f := LargeTransfers(ceiling)
	ev := Event{}
	ev.Amount.Set(ceiling)
	if !f.Accepts(ev) {
		t.Fatalf("amount equal to threshold must be accepted")
	}
	ev.Amount.SubUint64(ceiling, 1)
	if f.Accepts(ev) {
		t.Fatalf("amount below threshold must be rejected")
	}
}

func TestLargeTransfersCopiesThreshold(t *testing.T) {
	th := uint256.NewInt(10)
	f := LargeTransfers(th)
	th.SetUint64(1000)
	if f.Threshold().Uint64() != 10 {
		t.Fatalf("filter must not alias caller threshold")
	}
	f.Threshold().SetUint64(0)
	if f.Threshold().Uint64() != 10 {
		t.Fatalf("Threshold must return a copy")
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name      string
		kind      string
		threshold string
		addrs     []string
		wantKind  FilterKind
		wantErr   bool
	}{
		{"empty_is_all", "", "", nil, FilterAll, false},
		{"all", "ALL", "", nil, FilterAll, false},
		{"large_decimal", "large_transfers", "1_000_000", nil, FilterLargeTransfers, false},
		{"large_hex", "large_transfers", "0xf4240", nil, FilterLargeTransfers, false},
		{"large_missing", "large_transfers", "", nil, 0, true},
		{"large_negative", "large_transfers", "-1", nil, 0, true},
		{"large_overflow", "large_transfers", "0x10000000000000000000000000000000000000000000000000000000000000000", nil, 0, true},
		{"tokens", "specific_tokens", "", []string{usdc.Hex()}, FilterSpecificTokens, false},
		{"tokens_missing", "specific_tokens", "", nil, 0, true},
		{"addresses", " Specific_Addresses ", "", []string{alice.Hex(), bob.Hex()}, FilterSpecificAddresses, false},
		{"addresses_invalid", "specific_addresses", "", []string{"0xnope"}, 0, true},
		{"unknown", "whales", "", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter(tt.kind, tt.threshold, tt.addrs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFilter() err=%v, wantErr=%v", err, tt.wantErr)
			}
			if err == nil && f.Kind() != tt.wantKind {
				t.Fatalf("kind = %s, want %s", f.Kind(), tt.wantKind)
			}
		})
	}
}

func TestParseFilterThresholdValue(t *testing.T) {
	f, err := ParseFilter("large_transfers", "0xf4240", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Threshold().Uint64() != 1_000_000 {
		t.Fatalf("unexpected threshold %s", f.Threshold().Dec())
	}
	if got := f.String(); got != "large_transfers(>=1000000)" {
		t.Fatalf("unexpected String() %q", got)
	}
}

func TestParseAmountDecimalWithLeadingZero(t *testing.T) {
	v, err := ParseAmount("0100")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.Uint64() != 100 {
		t.Fatalf("leading zero must not switch base, got %s", v.Dec())
	}
}
