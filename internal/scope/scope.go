// Package scope reduces a discovered universe to a bounded working set.
// Everything here is pure and deterministic: identical inputs always yield
// identical output ordering.
package scope

import (
	"sort"
	"strings"

	"vnflow/internal/market"
)

// Scope names a policy mapping to a fixed set of included exchanges.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeCore    Scope = "core"
	ScopeHSXOnly Scope = "hsx_only"
	ScopeHSXHNX  Scope = "hsx_hnx"
)

// ParseScope normalizes a scope name, defaulting to all for empty input.
func ParseScope(s string) Scope {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ScopeAll
	case "core":
		return ScopeCore
	case "hsx_only":
		return ScopeHSXOnly
	case "hsx_hnx":
		return ScopeHSXHNX
	}
	return Scope(strings.ToLower(strings.TrimSpace(s)))
}

var scopeExchanges = map[Scope][]market.Exchange{
	ScopeAll:     {market.ExchangeHSX, market.ExchangeHNX, market.ExchangeUPCOM},
	ScopeCore:    {market.ExchangeHSX, market.ExchangeHNX, market.ExchangeUPCOM},
	ScopeHSXOnly: {market.ExchangeHSX},
	ScopeHSXHNX:  {market.ExchangeHSX, market.ExchangeHNX},
}

// ExchangesFor returns the exchange set a scope scans. Unknown scopes map
// to nil.
func ExchangesFor(sc Scope) []market.Exchange {
	return scopeExchanges[sc]
}

// ScanExchanges resolves the scanner's fetch coverage: the scope's venues
// intersected with the configured coverage. An empty configured list means
// no restriction. The scope's set always bounds the result, so a broad
// coverage list never widens a narrow scope.
func ScanExchanges(sc Scope, configured []market.Exchange) []market.Exchange {
	venues := scopeExchanges[sc]
	if len(configured) == 0 {
		return venues
	}
	allowed := make(map[market.Exchange]struct{}, len(configured))
	for _, ex := range configured {
		allowed[ex] = struct{}{}
	}
	out := make([]market.Exchange, 0, len(venues))
	for _, ex := range venues {
		if _, ok := allowed[ex]; ok {
			out = append(out, ex)
		}
	}
	return out
}

// Settings tune the core-scope UPCOM reduction.
type Settings struct {
	// UpcomMaxSymbols caps how many UPCOM instruments survive core scope.
	UpcomMaxSymbols int
	// IncludeExchanges overrides the scope's default exchange set when
	// non-empty.
	IncludeExchanges []market.Exchange
}

// Apply filters the snapshot to the requested scope and returns the
// resulting symbols in deterministic order: HSX/HNX instruments in input
// order, followed by the (possibly capped) UPCOM subset.
//
// Under core scope UPCOM instruments are ranked by liquidity value
// descending; instruments without a liquidity value sort after all ranked
// ones, preserving their relative input order, so the result stays
// deterministic even when the upstream omits the metric entirely. An
// unknown scope maps to zero exchanges and yields an empty set - a legal
// degenerate run, not an error.
func Apply(snap *market.Snapshot, sc Scope, settings Settings) []string {
	if snap == nil || len(snap.Instruments) == 0 {
		return nil
	}

	included := settings.IncludeExchanges
	if len(included) == 0 {
		included = scopeExchanges[sc]
	}
	includedSet := make(map[market.Exchange]struct{}, len(included))
	for _, ex := range included {
		includedSet[ex] = struct{}{}
	}

	var primary, upcom []market.Instrument
	for _, inst := range snap.Instruments {
		if _, ok := includedSet[inst.Exchange]; !ok {
			continue
		}
		if inst.Exchange == market.ExchangeUPCOM {
			upcom = append(upcom, inst)
		} else {
			primary = append(primary, inst)
		}
	}

	if sc == ScopeCore {
		upcom = capByLiquidity(upcom, settings.UpcomMaxSymbols)
	}

	out := make([]string, 0, len(primary)+len(upcom))
	for _, inst := range primary {
		out = append(out, inst.Symbol)
	}
	for _, inst := range upcom {
		out = append(out, inst.Symbol)
	}
	return dedupe(out)
}

// capByLiquidity keeps the top n instruments by liquidity value. The sort
// is stable so instruments lacking the metric keep their input order and
// the whole reduction degrades to "first n" when nothing carries a value.
func capByLiquidity(instruments []market.Instrument, n int) []market.Instrument {
	if n <= 0 {
		n = 1
	}
	if len(instruments) <= n {
		return instruments
	}

	ranked := make([]market.Instrument, len(instruments))
	copy(ranked, instruments)
	sort.SliceStable(ranked, func(i, j int) bool {
		li, lj := ranked[i].LiquidityValue, ranked[j].LiquidityValue
		switch {
		case li != nil && lj != nil:
			return *li > *lj
		case li != nil:
			return true
		default:
			return false
		}
	})
	return ranked[:n]
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := symbols[:0]
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
