package market

import (
	"fmt"
	"strings"
	"time"
)

// Exchange identifies a trading venue on the Vietnamese market.
type Exchange string

const (
	ExchangeHSX   Exchange = "HSX"
	ExchangeHNX   Exchange = "HNX"
	ExchangeUPCOM Exchange = "UPCOM"
)

// AllExchanges lists every supported venue in canonical order.
var AllExchanges = []Exchange{ExchangeHSX, ExchangeHNX, ExchangeUPCOM}

// ParseExchange normalizes an exchange name. HOSE is accepted as an alias
// for HSX since upstream listings use both.
func ParseExchange(s string) (Exchange, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HSX", "HOSE":
		return ExchangeHSX, nil
	case "HNX":
		return ExchangeHNX, nil
	case "UPCOM":
		return ExchangeUPCOM, nil
	}
	return "", fmt.Errorf("unknown exchange %q", s)
}

// Instrument is a single listed instrument as observed during a scan.
// LiquidityValue is nil when the upstream listing omits the metric.
type Instrument struct {
	Symbol         string   `json:"symbol"`
	Exchange       Exchange `json:"exchange"`
	IsETF          bool     `json:"is_etf,omitempty"`
	IsSuspended    bool     `json:"is_suspended,omitempty"`
	LiquidityValue *float64 `json:"liquidity_value,omitempty"`
}

// DateLayout is the calendar-date layout used for snapshot keys.
const DateLayout = "2006-01-02"

// Today returns the current UTC calendar date in DateLayout.
func Today() string {
	return time.Now().UTC().Format(DateLayout)
}

// Snapshot is an immutable, dated record of a discovered universe.
// Stale is set when the snapshot was served as a fallback for a later date.
type Snapshot struct {
	AsOfDate    string       `json:"as_of_date"`
	Instruments []Instrument `json:"instruments"`
	Stale       bool         `json:"-"`
}

// Symbols returns the snapshot's symbols in instrument order.
func (s *Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.Instruments))
	for _, inst := range s.Instruments {
		out = append(out, inst.Symbol)
	}
	return out
}

// IsStaleFor reports whether the snapshot predates the given date.
func (s *Snapshot) IsStaleFor(date string) bool {
	return s.AsOfDate < date
}
