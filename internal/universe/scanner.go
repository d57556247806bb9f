package universe

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"vnflow/internal/market"
	"vnflow/logger"
)

// Source lists instruments from the upstream data provider. Implemented by
// the fetch client; treated as an opaque remote capability here.
type Source interface {
	ListInstruments(ctx context.Context, exchanges []market.Exchange) ([]market.Instrument, error)
}

// ScanError means universe resolution failed entirely: the live fetch and
// the fallback cache were both unavailable. There is no safe default
// universe, so callers must handle this explicitly.
type ScanError struct {
	Cause error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("market scan failed and no cached universe available: %v", e.Cause)
}

func (e *ScanError) Unwrap() error { return e.Cause }

// ScannerOptions control filtering during a scan.
type ScannerOptions struct {
	Exchanges        []market.Exchange
	ExcludeETF       bool
	ExcludeSuspended bool
}

// Scanner discovers the tradeable universe, persisting one snapshot per day.
type Scanner struct {
	cache  *Cache
	source Source
	opts   ScannerOptions
	log    *logger.Log

	// today is injectable for tests.
	today func() string
}

// NewScanner wires a scanner over the given cache and upstream source.
func NewScanner(cache *Cache, source Source, opts ScannerOptions) *Scanner {
	if len(opts.Exchanges) == 0 {
		opts.Exchanges = market.AllExchanges
	}
	return &Scanner{
		cache:  cache,
		source: source,
		opts:   opts,
		log:    logger.GetLogger(),
		today:  market.Today,
	}
}

// GetUniverse resolves today's universe.
//
// Order of preference: same-day cached snapshot (unless forceRefresh), live
// fetch (filtered and cached), then the most recent prior snapshot marked
// stale. When all three are unavailable it returns a ScanError. The live
// fetch is a single bulk call and is never retried here; per-symbol retry
// policy lives in the extraction scheduler.
func (s *Scanner) GetUniverse(ctx context.Context, forceRefresh bool) (*market.Snapshot, error) {
	log := s.log.WithComponent("market_scanner")
	today := s.today()

	if !forceRefresh {
		if snap, err := s.cache.Read(today); err == nil {
			log.WithFields(logger.Fields{
				"date":    today,
				"symbols": len(snap.Instruments),
			}).Info("using same-day cached universe")
			return snap, nil
		} else if !errors.Is(err, ErrSnapshotNotFound) {
			// A corrupt cache entry degrades to a live fetch.
			log.WithError(err).Warn("failed to read universe cache, fetching live")
		}
	}

	instruments, fetchErr := s.source.ListInstruments(ctx, s.opts.Exchanges)
	if fetchErr == nil {
		filtered := s.filter(instruments)
		if len(filtered) == 0 {
			fetchErr = errors.New("upstream returned no instruments after filtering")
		} else {
			snap := &market.Snapshot{AsOfDate: today, Instruments: filtered}
			if err := s.cache.Write(snap); err != nil {
				// Fresh data is still usable when the cache write fails.
				log.WithError(err).Warn("failed to persist universe snapshot")
			}
			log.WithFields(logger.Fields{
				"date":     today,
				"fetched":  len(instruments),
				"filtered": len(filtered),
			}).Info("universe scan complete")
			return snap, nil
		}
	}

	log.WithError(fetchErr).Warn("live universe fetch failed, trying cache fallback")

	snap, err := s.cache.ReadLatestBeforeOrOn(today)
	if err != nil {
		return nil, &ScanError{Cause: fetchErr}
	}
	snap.Stale = snap.IsStaleFor(today)
	log.WithFields(logger.Fields{
		"as_of_date": snap.AsOfDate,
		"symbols":    len(snap.Instruments),
		"stale":      snap.Stale,
	}).Warn("serving cached universe snapshot")
	return snap, nil
}

// filter applies the configured exclusions, deduplicates by symbol and
// sorts alphabetically. Instruments missing the discriminating metadata are
// kept (fail open), never silently dropped.
func (s *Scanner) filter(instruments []market.Instrument) []market.Instrument {
	seen := make(map[string]struct{}, len(instruments))
	out := make([]market.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		if inst.Symbol == "" {
			continue
		}
		if s.opts.ExcludeETF && inst.IsETF {
			continue
		}
		if s.opts.ExcludeSuspended && inst.IsSuspended {
			continue
		}
		if _, dup := seen[inst.Symbol]; dup {
			continue
		}
		seen[inst.Symbol] = struct{}{}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
