// Package fetch is the REST client for the upstream market data source.
// It owns the transport: timeouts, rate limiting and the transient versus
// permanent classification that drives the scheduler's retry decisions.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"vnflow/internal/market"
	"vnflow/logger"
)

// ETF tickers on the Vietnamese market carry well-known prefixes; used as a
// fallback when the listing omits an instrument type.
var etfPrefixes = []string{"VF", "FUE", "E1VF", "SSV"}

// Statuses that mean an instrument is not currently tradeable.
var inactiveKeywords = []string{"delist", "inactive", "suspended", "halt", "stop"}

// Options configure a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	BurstSize         int
	// LiquidityField names the listing column mapped into
	// Instrument.LiquidityValue (default avg_value).
	LiquidityField string
}

// Client talks to the upstream data source over HTTP. All requests share a
// rate limiter so bulk listing calls and per-symbol fetches cannot jointly
// exceed the provider's limits.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	limiter        *rate.Limiter
	liquidityField string
	log            *logger.Log
}

// NewClient builds a client with sane defaults for missing options.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.BurstSize
	if burst <= 0 {
		burst = 1
	}
	field := opts.LiquidityField
	if field == "" {
		field = "avg_value"
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: userAgentTransport{agent: opts.UserAgent},
		},
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		liquidityField: field,
		log:            logger.GetLogger(),
	}
}

// listingRow mirrors the upstream listing payload. Optional columns are
// decoded into the generic Extra map so liquidity metrics can be remapped
// by name.
type listingRow struct {
	Symbol   string                     `json:"symbol"`
	Exchange string                     `json:"exchange"`
	Type     string                     `json:"type"`
	Status   string                     `json:"status"`
	Extra    map[string]json.RawMessage `json:"-"`
}

func (r *listingRow) UnmarshalJSON(data []byte) error {
	type row listingRow
	var decoded row
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	var extra map[string]json.RawMessage
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	*r = listingRow(decoded)
	r.Extra = extra
	return nil
}

// ListInstruments fetches the full listing for the given exchanges in one
// bulk call and maps it into instrument records. Rows with unknown
// exchanges are dropped; missing metadata degrades to zero values so the
// scanner's fail-open filters see them as includable.
func (c *Client) ListInstruments(ctx context.Context, exchanges []market.Exchange) ([]market.Instrument, error) {
	query := url.Values{}
	names := make([]string, 0, len(exchanges))
	for _, ex := range exchanges {
		names = append(names, string(ex))
	}
	query.Set("exchanges", strings.Join(names, ","))

	body, err := c.get(ctx, "/listing/symbols-by-exchange", query)
	if err != nil {
		return nil, err
	}

	var rows []listingRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &PermanentError{Op: "decode listing", Err: err}
	}

	instruments := make([]market.Instrument, 0, len(rows))
	for _, row := range rows {
		symbol := strings.ToUpper(strings.TrimSpace(row.Symbol))
		if symbol == "" {
			continue
		}
		exchange, err := market.ParseExchange(row.Exchange)
		if err != nil {
			continue
		}
		instruments = append(instruments, market.Instrument{
			Symbol:         symbol,
			Exchange:       exchange,
			IsETF:          isETF(symbol, row.Type),
			IsSuspended:    isInactive(row.Status),
			LiquidityValue: row.liquidity(c.liquidityField),
		})
	}

	c.log.WithComponent("fetch").WithFields(logger.Fields{
		"exchanges": strings.Join(names, ","),
		"rows":      len(rows),
		"mapped":    len(instruments),
	}).Debug("instrument listing fetched")
	return instruments, nil
}

func (r *listingRow) liquidity(field string) *float64 {
	raw, ok := r.Extra[field]
	if !ok {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return &v
}

func isETF(symbol, instrumentType string) bool {
	if t := strings.ToUpper(strings.TrimSpace(instrumentType)); t != "" {
		return t == "ETF" || t == "FUND"
	}
	for _, prefix := range etfPrefixes {
		if strings.HasPrefix(symbol, prefix) {
			return true
		}
	}
	return false
}

func isInactive(status string) bool {
	s := strings.ToLower(status)
	if s == "" {
		return false
	}
	for _, kw := range inactiveKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// OHLCVRequest parameterizes a history fetch.
type OHLCVRequest struct {
	Start      string
	End        string
	Resolution string
}

type candleRow struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FetchOHLCV retrieves the symbol's history. An empty result is a
// permanent error: the upstream has no data for this symbol and retrying
// will not grow it.
func (c *Client) FetchOHLCV(ctx context.Context, symbol string, req OHLCVRequest) ([]market.Candle, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(symbol))
	query.Set("start", req.Start)
	query.Set("end", req.End)
	resolution := req.Resolution
	if resolution == "" {
		resolution = "1D"
	}
	query.Set("resolution", resolution)

	body, err := c.get(ctx, "/quote/history", query)
	if err != nil {
		return nil, err
	}

	var rows []candleRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &PermanentError{Op: "decode history " + symbol, Err: err}
	}
	if len(rows) == 0 {
		return nil, &PermanentError{Op: "history " + symbol, Err: fmt.Errorf("upstream returned no rows")}
	}

	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		candles = append(candles, market.Candle{
			Time:   time.UnixMilli(row.Time).UTC(),
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}
	return candles, nil
}

// get performs one rate-limited GET and classifies failures. 429 and 5xx
// responses and transport timeouts are transient; 4xx responses are
// permanent.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &PermanentError{Op: "build request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Op: "GET " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: "read response " + path, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Op: "GET " + path, Err: fmt.Errorf("HTTP %s", resp.Status)}
	default:
		return nil, &PermanentError{Op: "GET " + path, Err: fmt.Errorf("HTTP %s", resp.Status)}
	}
}
