package market

import (
	"regexp"
	"strings"
)

// Vietnamese tickers are 3-5 alphanumeric characters (digits are legal, e.g. A32).
var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{3,5}$`)

// RemovedSymbol records why a raw symbol was dropped during validation.
type RemovedSymbol struct {
	Symbol string
	Reason string
}

// ValidateSymbols normalizes raw symbols to uppercase, deduplicates them
// preserving relative order, and drops entries that do not look like a
// valid ticker. A bad symbol never fails the whole list; it is reported
// in the removed slice instead.
func ValidateSymbols(raw []string) (valid []string, removed []RemovedSymbol) {
	seen := make(map[string]struct{}, len(raw))
	for _, sym := range raw {
		normalized := strings.ToUpper(strings.TrimSpace(sym))
		if normalized == "" {
			removed = append(removed, RemovedSymbol{Symbol: sym, Reason: "empty symbol"})
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		if !symbolPattern.MatchString(normalized) {
			removed = append(removed, RemovedSymbol{
				Symbol: normalized,
				Reason: "invalid symbol format (expected 3-5 alphanumeric)",
			})
			continue
		}
		seen[normalized] = struct{}{}
		valid = append(valid, normalized)
	}
	return valid, removed
}
