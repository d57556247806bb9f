// Package pipeline orchestrates one extraction run: resolve the symbol
// set, schedule per-symbol extraction, then report and notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	appconfig "vnflow/config"
	"vnflow/internal/extract"
	"vnflow/internal/fetch"
	"vnflow/internal/market"
	"vnflow/internal/notify"
	"vnflow/internal/report"
	"vnflow/internal/schedule"
	"vnflow/internal/scope"
	"vnflow/internal/universe"
	"vnflow/logger"
)

// UniverseProvider yields the instrument universe for dynamic scoping.
type UniverseProvider interface {
	GetUniverse(ctx context.Context, forceRefresh bool) (*market.Snapshot, error)
}

// Notifier delivers end-of-run messages.
type Notifier interface {
	Enabled() bool
	Send(ctx context.Context, text string) error
}

// Pipeline runs a complete extraction cycle.
type Pipeline struct {
	cfg      *appconfig.Config
	provider UniverseProvider
	fetcher  extract.Fetcher
	saver    extract.Saver
	reporter *report.Writer
	notifier Notifier

	log *logger.Log
}

// New wires a pipeline from its collaborators. notifier may be nil.
func New(cfg *appconfig.Config, provider UniverseProvider, fetcher extract.Fetcher, saver extract.Saver, notifier Notifier) *Pipeline {
	if notifier == nil {
		notifier = notify.NewTelegram("", "")
	}
	return &Pipeline{
		cfg:      cfg,
		provider: provider,
		fetcher:  fetcher,
		saver:    saver,
		reporter: report.NewWriter(cfg.DataPaths.Reports),
		notifier: notifier,
		log:      logger.GetLogger(),
	}
}

// Resolution is the resolved scope of one run before scheduling.
type Resolution struct {
	Symbols  []string
	Removed  []market.RemovedSymbol
	Snapshot *market.Snapshot
	// ManualFallback is set when dynamic discovery failed and the run
	// proceeded on the configured manual symbol list instead.
	ManualFallback bool
}

// ResolveSymbols determines which symbols this run extracts.
//
// In manual mode the configured list is validated and used as-is. In
// dynamic mode the universe is discovered and scoped; when discovery fails
// entirely and a manual list is configured, the run degrades to that list
// rather than aborting.
func (p *Pipeline) ResolveSymbols(ctx context.Context) (*Resolution, error) {
	ms := p.cfg.MarketScope
	log := p.log.WithComponent("pipeline")

	if ms.Mode == "manual" {
		valid, removed := market.ValidateSymbols(ms.Symbols)
		if len(valid) == 0 {
			return nil, fmt.Errorf("manual symbol list is empty after validation")
		}
		return &Resolution{Symbols: valid, Removed: removed}, nil
	}

	snap, err := p.provider.GetUniverse(ctx, ms.ForceRefresh)
	if err != nil {
		var scanErr *universe.ScanError
		if errors.As(err, &scanErr) && len(ms.Symbols) > 0 {
			log.WithError(err).Warn("universe discovery failed, falling back to configured symbols")
			valid, removed := market.ValidateSymbols(ms.Symbols)
			if len(valid) == 0 {
				return nil, fmt.Errorf("fallback symbol list is empty after validation")
			}
			return &Resolution{Symbols: valid, Removed: removed, ManualFallback: true}, nil
		}
		return nil, fmt.Errorf("resolve universe: %w", err)
	}

	// market_scope.exchanges restricts what the scanner fetches, not which
	// venues a scope includes; the scope's own exchange map decides that,
	// so a cached broad snapshot still narrows correctly.
	sc := scope.ParseScope(ms.Scope)
	settings := scope.Settings{UpcomMaxSymbols: ms.UpcomMax}

	scoped := scope.Apply(snap, sc, settings)
	valid, removed := market.ValidateSymbols(scoped)
	if len(valid) == 0 {
		return nil, fmt.Errorf("scope %q selected no symbols from a universe of %d", ms.Scope, len(snap.Instruments))
	}

	return &Resolution{Symbols: valid, Removed: removed, Snapshot: snap}, nil
}

// Run executes one full cycle and returns the scheduler summary. The
// report and notification are best-effort; their failures are logged but
// do not fail the run.
func (p *Pipeline) Run(ctx context.Context) (schedule.Summary, error) {
	log := p.log.WithComponent("pipeline")

	res, err := p.ResolveSymbols(ctx)
	if err != nil {
		return schedule.Summary{}, err
	}

	log.WithFields(logger.Fields{
		"symbols":         len(res.Symbols),
		"removed":         len(res.Removed),
		"manual_fallback": res.ManualFallback,
	}).Info("symbol set resolved")

	exchanges := make(map[string]market.Exchange)
	if res.Snapshot != nil {
		for _, inst := range res.Snapshot.Instruments {
			exchanges[inst.Symbol] = inst.Exchange
		}
	}

	request := fetch.OHLCVRequest{
		Start:      p.cfg.Extraction.StartDate,
		End:        p.cfg.Extraction.EndDate,
		Resolution: p.cfg.Extraction.Resolution,
	}
	extractor := extract.New(p.fetcher, p.saver, request, exchanges)

	perf := p.cfg.Performance
	scheduler := schedule.New(schedule.Options{
		ConcurrencyLimit: perf.ConcurrencyLimit,
		MaxRetries:       perf.MaxRetries,
		Backoff:          schedule.ExponentialBackoff(perf.RetryBaseDelay, perf.RetryMaxDelay),
		ShutdownGrace:    perf.ShutdownGrace,
	})

	summary := scheduler.Run(ctx, res.Symbols, extractor.ExtractSymbol)

	p.finishRun(res, *summary)
	return *summary, nil
}

func (p *Pipeline) finishRun(res *Resolution, summary schedule.Summary) {
	log := p.log.WithComponent("pipeline")

	info := report.RunInfo{
		Date:    market.Today(),
		Mode:    p.cfg.MarketScope.Mode,
		Scope:   p.cfg.MarketScope.Scope,
		Summary: summary,
	}
	if res.ManualFallback {
		info.Mode = "dynamic (manual fallback)"
	}
	if res.Snapshot != nil {
		info.UniverseDate = res.Snapshot.AsOfDate
		info.UniverseStale = res.Snapshot.Stale
	}
	for _, r := range res.Removed {
		info.Removed = append(info.Removed, report.RemovedEntry{Symbol: r.Symbol, Reason: r.Reason})
	}

	if _, err := p.reporter.Write(info); err != nil {
		log.WithError(err).Error("failed to write daily report")
	}

	if p.notifier.Enabled() {
		stale := res.Snapshot != nil && res.Snapshot.Stale
		msg := notify.RunMessage(info.Date, summary.Succeeded, summary.FailedPermanently, summary.Cancelled, stale)
		notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := p.notifier.Send(notifyCtx, msg); err != nil {
			log.WithError(err).Warn("failed to send run notification")
		}
	}

	p.log.LogMetric("pipeline", "run_succeeded", summary.Succeeded, "count", logger.Fields{})
	p.log.LogMetric("pipeline", "run_failed", summary.FailedPermanently, "count", logger.Fields{})

	log.WithFields(logger.Fields{
		"requested": summary.TotalRequested,
		"succeeded": summary.Succeeded,
		"failed":    summary.FailedPermanently,
		"cancelled": summary.Cancelled,
		"duration":  summary.Finished.Sub(summary.Started).Round(time.Millisecond),
	}).Info("run complete")
}
