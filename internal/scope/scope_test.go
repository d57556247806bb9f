package scope

import (
	"reflect"
	"testing"

	"vnflow/internal/market"
)

func liquidity(v float64) *float64 { return &v }

func upcomInstrument(symbol string, liq *float64) market.Instrument {
	return market.Instrument{Symbol: symbol, Exchange: market.ExchangeUPCOM, LiquidityValue: liq}
}

func testSnapshot() *market.Snapshot {
	return &market.Snapshot{
		AsOfDate: "2025-08-13",
		Instruments: []market.Instrument{
			{Symbol: "VNM", Exchange: market.ExchangeHSX},
			{Symbol: "SHS", Exchange: market.ExchangeHNX},
			upcomInstrument("AAA", liquidity(10)),
			upcomInstrument("BBB", liquidity(30)),
			upcomInstrument("CCC", liquidity(20)),
		},
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in   string
		want Scope
	}{
		{"", ScopeAll},
		{"all", ScopeAll},
		{"CORE", ScopeCore},
		{" hsx_only ", ScopeHSXOnly},
		{"hsx_hnx", ScopeHSXHNX},
	}
	for _, tt := range tests {
		if got := ParseScope(tt.in); got != tt.want {
			t.Errorf("ParseScope(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyAllScope(t *testing.T) {
	got := Apply(testSnapshot(), ScopeAll, Settings{UpcomMaxSymbols: 2})
	// "all" never caps UPCOM; primary exchanges come first in input order.
	want := []string{"VNM", "SHS", "AAA", "BBB", "CCC"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply(all) = %v, want %v", got, want)
	}
}

func TestApplyCoreScopeCapsUpcomByLiquidity(t *testing.T) {
	got := Apply(testSnapshot(), ScopeCore, Settings{UpcomMaxSymbols: 2})
	want := []string{"VNM", "SHS", "BBB", "CCC"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply(core) = %v, want %v", got, want)
	}
}

func TestApplyCoreScopeNoLiquidityKeepsInputOrder(t *testing.T) {
	snap := &market.Snapshot{
		AsOfDate: "2025-08-13",
		Instruments: []market.Instrument{
			upcomInstrument("AAA", nil),
			upcomInstrument("BBB", nil),
			upcomInstrument("CCC", nil),
		},
	}
	got := Apply(snap, ScopeCore, Settings{UpcomMaxSymbols: 2})
	want := []string{"AAA", "BBB"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply(core, no liquidity) = %v, want %v", got, want)
	}
}

func TestApplyExchangeScopes(t *testing.T) {
	snap := testSnapshot()

	got := Apply(snap, ScopeHSXOnly, Settings{})
	if !reflect.DeepEqual(got, []string{"VNM"}) {
		t.Errorf("Apply(hsx_only) = %v", got)
	}

	got = Apply(snap, ScopeHSXHNX, Settings{})
	if !reflect.DeepEqual(got, []string{"VNM", "SHS"}) {
		t.Errorf("Apply(hsx_hnx) = %v", got)
	}
}

func TestApplyUnknownScopeYieldsEmpty(t *testing.T) {
	if got := Apply(testSnapshot(), Scope("derivatives"), Settings{}); len(got) != 0 {
		t.Errorf("Apply(unknown) = %v, want empty", got)
	}
}

func TestApplyIsDeterministic(t *testing.T) {
	snap := testSnapshot()
	first := Apply(snap, ScopeCore, Settings{UpcomMaxSymbols: 2})
	for i := 0; i < 10; i++ {
		if got := Apply(testSnapshot(), ScopeCore, Settings{UpcomMaxSymbols: 2}); !reflect.DeepEqual(got, first) {
			t.Fatalf("iteration %d diverged: %v vs %v", i, got, first)
		}
	}
}

func TestApplyIncludeExchangesOverride(t *testing.T) {
	got := Apply(testSnapshot(), ScopeAll, Settings{IncludeExchanges: []market.Exchange{market.ExchangeHNX}})
	if !reflect.DeepEqual(got, []string{"SHS"}) {
		t.Errorf("Apply(override) = %v", got)
	}
}

func TestScanExchanges(t *testing.T) {
	all := []market.Exchange{market.ExchangeHSX, market.ExchangeHNX, market.ExchangeUPCOM}

	// Broad configured coverage never widens a narrow scope.
	got := ScanExchanges(ScopeHSXOnly, all)
	if !reflect.DeepEqual(got, []market.Exchange{market.ExchangeHSX}) {
		t.Errorf("ScanExchanges(hsx_only, all) = %v", got)
	}

	// Coverage can restrict a broad scope.
	got = ScanExchanges(ScopeAll, []market.Exchange{market.ExchangeHNX})
	if !reflect.DeepEqual(got, []market.Exchange{market.ExchangeHNX}) {
		t.Errorf("ScanExchanges(all, [HNX]) = %v", got)
	}

	// Empty coverage means no restriction.
	if got := ScanExchanges(ScopeHSXHNX, nil); len(got) != 2 {
		t.Errorf("ScanExchanges(hsx_hnx, nil) = %v", got)
	}
}

func TestExchangesFor(t *testing.T) {
	if got := ExchangesFor(ScopeHSXHNX); len(got) != 2 {
		t.Errorf("ExchangesFor(hsx_hnx) = %v", got)
	}
	if got := ExchangesFor(Scope("bogus")); got != nil {
		t.Errorf("ExchangesFor(unknown) = %v, want nil", got)
	}
}
