// Package extract runs the per-symbol extraction step: fetch OHLCV history
// from the upstream source, validate it, and hand it to the store.
package extract

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"vnflow/internal/fetch"
	"vnflow/internal/market"
	"vnflow/logger"
)

var errNoValidCandles = errors.New("all candles failed validation")

// Fetcher retrieves candle history for one symbol.
type Fetcher interface {
	FetchOHLCV(ctx context.Context, symbol string, req fetch.OHLCVRequest) ([]market.Candle, error)
}

// Saver persists one symbol's validated candles.
type Saver interface {
	SaveSymbol(ctx context.Context, symbol string, exchange market.Exchange, candles []market.Candle) (string, error)
}

// Extractor wires fetch, validation and storage into a single per-symbol
// function the scheduler can run.
type Extractor struct {
	fetcher   Fetcher
	saver     Saver
	request   fetch.OHLCVRequest
	exchanges map[string]market.Exchange

	log *logger.Log
}

// New builds an extractor. The exchange map resolves a symbol to the
// exchange recorded in its storage partition; symbols absent from the map
// default to HSX.
func New(fetcher Fetcher, saver Saver, request fetch.OHLCVRequest, exchanges map[string]market.Exchange) *Extractor {
	return &Extractor{
		fetcher:   fetcher,
		saver:     saver,
		request:   request,
		exchanges: exchanges,
		log:       logger.GetLogger(),
	}
}

// ExtractSymbol processes one symbol end to end. Each invocation gets its
// own task id so retries of the same symbol are distinguishable in logs.
func (e *Extractor) ExtractSymbol(ctx context.Context, symbol string) error {
	taskID := uuid.NewString()
	entryLog := e.log.WithComponent("extractor").WithFields(logger.Fields{
		"task_id": taskID,
		"symbol":  symbol,
	})

	started := time.Now()
	raw, err := e.fetcher.FetchOHLCV(ctx, symbol, e.request)
	if err != nil {
		entryLog.WithError(err).Warn("fetch failed")
		return err
	}

	candles, dropped := ValidateCandles(raw)
	if len(candles) == 0 {
		err := &fetch.PermanentError{Op: "validate " + symbol, Err: errNoValidCandles}
		entryLog.WithError(err).Warn("no valid candles after validation")
		return err
	}

	exchange, ok := e.exchanges[symbol]
	if !ok {
		exchange = market.ExchangeHSX
	}

	path, err := e.saver.SaveSymbol(ctx, symbol, exchange, candles)
	if err != nil {
		entryLog.WithError(err).Error("save failed")
		return err
	}

	logger.LogPerformanceEntry(entryLog, "extractor", "extract_symbol", time.Since(started), logger.Fields{
		"candles": len(candles),
		"dropped": dropped,
		"path":    path,
	})
	return nil
}

// ValidateCandles drops rows an analysis job cannot use: non-positive
// prices, highs below lows, zero timestamps and duplicate timestamps. The
// result is sorted by time ascending; the second return value is how many
// rows were discarded.
func ValidateCandles(raw []market.Candle) ([]market.Candle, int) {
	seen := make(map[int64]bool, len(raw))
	valid := make([]market.Candle, 0, len(raw))
	for _, c := range raw {
		if c.Time.IsZero() {
			continue
		}
		if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
			continue
		}
		if c.High < c.Low || c.Volume < 0 {
			continue
		}
		ts := c.Time.UnixMilli()
		if seen[ts] {
			continue
		}
		seen[ts] = true
		valid = append(valid, c)
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Time.Before(valid[j].Time) })
	return valid, len(raw) - len(valid)
}
