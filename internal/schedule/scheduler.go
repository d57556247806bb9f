// Package schedule fans per-symbol extraction work across a bounded pool of
// workers. One bad symbol never aborts the run: transient failures are
// retried with backoff, permanent ones are isolated into the run summary.
package schedule

import (
	"context"
	"time"

	"vnflow/logger"
)

// Outcome is a symbol's terminal state.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed_permanently"
	OutcomeCancelled Outcome = "cancelled"
)

// ExtractFunc performs one symbol's extraction.
type ExtractFunc func(ctx context.Context, symbol string) error

// SymbolResult records a symbol's terminal state plus retry accounting.
type SymbolResult struct {
	Symbol  string
	Outcome Outcome
	Retries int
	Err     error
}

// Summary aggregates one run. Counts partition TotalRequested exactly:
// Succeeded + FailedPermanently + Cancelled == TotalRequested.
type Summary struct {
	TotalRequested    int
	Succeeded         int
	FailedPermanently int
	Cancelled         int
	RetriedCount      int
	Results           []SymbolResult
	Started           time.Time
	Finished          time.Time
}

// FailedSymbols returns the symbols that ended FailedPermanently, in
// completion order.
func (s *Summary) FailedSymbols() []string {
	var out []string
	for _, r := range s.Results {
		if r.Outcome == OutcomeFailed {
			out = append(out, r.Symbol)
		}
	}
	return out
}

// Options configure a Scheduler.
type Options struct {
	// ConcurrencyLimit caps how many symbols are in flight at once.
	ConcurrencyLimit int
	// MaxRetries bounds retries per symbol for transient failures.
	MaxRetries int
	// Backoff yields the delay before each retry attempt.
	Backoff BackoffFunc
	// Sleep waits between retries; defaults to a context-aware timer.
	Sleep SleepFunc
	// ShutdownGrace bounds how long Run waits for in-flight extractions
	// after cancellation before abandoning them.
	ShutdownGrace time.Duration
}

// Scheduler is the sole admission-control point for extraction work.
type Scheduler struct {
	limit      int
	maxRetries int
	backoff    BackoffFunc
	sleep      SleepFunc
	grace      time.Duration
	log        *logger.Log
}

// New builds a scheduler, applying defaults for missing options.
func New(opts Options) *Scheduler {
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = 1
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff(time.Second, 30*time.Second)
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 10 * time.Second
	}
	return &Scheduler{
		limit:      opts.ConcurrencyLimit,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		sleep:      opts.Sleep,
		grace:      opts.ShutdownGrace,
		log:        logger.GetLogger(),
	}
}

// Run executes extract for every symbol under the concurrency limit and
// returns the aggregated summary. Per-symbol failures never fail the run;
// cancellation stops admission, waits up to the shutdown grace for
// in-flight work, and reports unfinished symbols as Cancelled.
func (s *Scheduler) Run(ctx context.Context, symbols []string, extract ExtractFunc) *Summary {
	log := s.log.WithComponent("extraction_scheduler")
	summary := &Summary{
		TotalRequested: len(symbols),
		Started:        time.Now().UTC(),
	}
	defer func() { summary.Finished = time.Now().UTC() }()

	if len(symbols) == 0 {
		log.Info("no symbols to extract, empty run")
		return summary
	}

	workers := s.limit
	if workers > len(symbols) {
		workers = len(symbols)
	}

	jobs := make(chan string)
	// Buffered so abandoned workers never block on delivering a late result.
	results := make(chan SymbolResult, len(symbols))

	for i := 0; i < workers; i++ {
		go s.worker(ctx, jobs, results, extract)
	}

	log.WithFields(logger.Fields{
		"symbols": len(symbols),
		"workers": workers,
	}).Info("extraction run started")

	inflight := make(map[string]struct{}, workers)
	next := 0
	cancelled := false

	record := func(res SymbolResult) {
		delete(inflight, res.Symbol)
		summary.Results = append(summary.Results, res)
		summary.RetriedCount += res.Retries
		switch res.Outcome {
		case OutcomeSucceeded:
			summary.Succeeded++
		case OutcomeFailed:
			summary.FailedPermanently++
		case OutcomeCancelled:
			summary.Cancelled++
		}
	}

	for !cancelled && (next < len(symbols) || len(inflight) > 0) {
		// A nil channel blocks forever, disabling admission once the
		// symbol list is exhausted. The send operand must be guarded too:
		// select evaluates it even when the channel is nil.
		var admit chan<- string
		var sym string
		if next < len(symbols) {
			admit = jobs
			sym = symbols[next]
		}
		select {
		case admit <- sym:
			inflight[sym] = struct{}{}
			next++
		case res := <-results:
			record(res)
		case <-ctx.Done():
			cancelled = true
		}
	}
	close(jobs)

	if cancelled {
		log.WithFields(logger.Fields{
			"pending":  len(symbols) - next,
			"inflight": len(inflight),
			"grace":    s.grace.String(),
		}).Warn("run cancelled, waiting for in-flight extractions")

		timer := time.NewTimer(s.grace)
		defer timer.Stop()
	drain:
		for len(inflight) > 0 {
			select {
			case res := <-results:
				record(res)
			case <-timer.C:
				break drain
			}
		}

		// Whatever did not reach a terminal state is cancelled, not failed.
		for sym := range inflight {
			record(SymbolResult{Symbol: sym, Outcome: OutcomeCancelled, Err: ctx.Err()})
		}
		for ; next < len(symbols); next++ {
			record(SymbolResult{Symbol: symbols[next], Outcome: OutcomeCancelled, Err: ctx.Err()})
		}
	}

	log.WithFields(logger.Fields{
		"total":     summary.TotalRequested,
		"succeeded": summary.Succeeded,
		"failed":    summary.FailedPermanently,
		"cancelled": summary.Cancelled,
		"retried":   summary.RetriedCount,
	}).Info("extraction run finished")
	return summary
}

func (s *Scheduler) worker(ctx context.Context, jobs <-chan string, results chan<- SymbolResult, extract ExtractFunc) {
	for symbol := range jobs {
		results <- s.processSymbol(ctx, symbol, extract)
	}
}

// processSymbol drives one symbol through its state machine. The worker
// holds its admission slot across retries and backoff, so retrying never
// lets a symbol bypass the concurrency limit.
func (s *Scheduler) processSymbol(ctx context.Context, symbol string, extract ExtractFunc) SymbolResult {
	log := s.log.WithComponent("extraction_scheduler").WithFields(logger.Fields{"symbol": symbol})

	retries := 0
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return SymbolResult{Symbol: symbol, Outcome: OutcomeCancelled, Retries: retries, Err: ctx.Err()}
		}

		err := extract(ctx, symbol)
		if err == nil {
			return SymbolResult{Symbol: symbol, Outcome: OutcomeSucceeded, Retries: retries}
		}
		if ctx.Err() != nil {
			return SymbolResult{Symbol: symbol, Outcome: OutcomeCancelled, Retries: retries, Err: ctx.Err()}
		}
		if !IsTransient(err) {
			log.WithError(err).Warn("permanent extraction failure")
			return SymbolResult{Symbol: symbol, Outcome: OutcomeFailed, Retries: retries, Err: err}
		}
		if retries >= s.maxRetries {
			log.WithError(err).WithFields(logger.Fields{"retries": retries}).Warn("retry budget exhausted")
			return SymbolResult{Symbol: symbol, Outcome: OutcomeFailed, Retries: retries, Err: err}
		}

		retries++
		delay := s.backoff(attempt)
		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("transient extraction failure, retrying")
		if err := s.sleep(ctx, delay); err != nil {
			return SymbolResult{Symbol: symbol, Outcome: OutcomeCancelled, Retries: retries, Err: err}
		}
	}
}
