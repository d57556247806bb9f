package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type transientErr struct{ msg string }

func (e *transientErr) Error() string   { return e.msg }
func (e *transientErr) Transient() bool { return true }

var errPermanent = errors.New("HTTP 404")

// instantSleep removes real retry delays from tests.
func instantSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestScheduler(limit, maxRetries int) *Scheduler {
	return New(Options{
		ConcurrencyLimit: limit,
		MaxRetries:       maxRetries,
		Backoff:          func(int) time.Duration { return 0 },
		Sleep:            instantSleep,
		ShutdownGrace:    time.Second,
	})
}

func symbols(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SYM%02d", i)
	}
	return out
}

func checkPartition(t *testing.T, sum *Summary) {
	t.Helper()
	if got := sum.Succeeded + sum.FailedPermanently + sum.Cancelled; got != sum.TotalRequested {
		t.Errorf("outcome counts do not partition requested: %d+%d+%d != %d",
			sum.Succeeded, sum.FailedPermanently, sum.Cancelled, sum.TotalRequested)
	}
	if len(sum.Results) != sum.TotalRequested {
		t.Errorf("len(Results) = %d, want %d", len(sum.Results), sum.TotalRequested)
	}
	seen := map[string]bool{}
	for _, r := range sum.Results {
		if seen[r.Symbol] {
			t.Errorf("symbol %s recorded twice", r.Symbol)
		}
		seen[r.Symbol] = true
	}
}

func TestRunAllSucceed(t *testing.T) {
	s := newTestScheduler(3, 2)
	var calls int32
	sum := s.Run(context.Background(), symbols(10), func(ctx context.Context, sym string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	checkPartition(t, sum)
	if sum.Succeeded != 10 || sum.FailedPermanently != 0 || sum.Cancelled != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if calls != 10 {
		t.Errorf("extract called %d times, want 10", calls)
	}
}

func TestRunEmptySymbolList(t *testing.T) {
	s := newTestScheduler(3, 2)
	sum := s.Run(context.Background(), nil, func(ctx context.Context, sym string) error {
		t.Error("extract must not be called for an empty run")
		return nil
	})
	checkPartition(t, sum)
	if sum.TotalRequested != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestPermanentFailureIsIsolated(t *testing.T) {
	s := newTestScheduler(2, 3)
	var calls sync.Map
	sum := s.Run(context.Background(), []string{"AAA", "BAD", "CCC"}, func(ctx context.Context, sym string) error {
		n, _ := calls.LoadOrStore(sym, new(int32))
		atomic.AddInt32(n.(*int32), 1)
		if sym == "BAD" {
			return errPermanent
		}
		return nil
	})

	checkPartition(t, sum)
	if sum.Succeeded != 2 || sum.FailedPermanently != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if got := sum.FailedSymbols(); len(got) != 1 || got[0] != "BAD" {
		t.Errorf("FailedSymbols() = %v", got)
	}

	// Permanent failures must not consume retries.
	n, _ := calls.Load("BAD")
	if got := atomic.LoadInt32(n.(*int32)); got != 1 {
		t.Errorf("permanent failure retried %d times", got-1)
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	s := newTestScheduler(1, 3)
	attempts := 0
	sum := s.Run(context.Background(), []string{"VNM"}, func(ctx context.Context, sym string) error {
		attempts++
		if attempts < 3 {
			return &transientErr{msg: "HTTP 503"}
		}
		return nil
	})

	checkPartition(t, sum)
	if sum.Succeeded != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.RetriedCount != 2 {
		t.Errorf("RetriedCount = %d, want 2", sum.RetriedCount)
	}
	if sum.Results[0].Retries != 2 {
		t.Errorf("Retries = %d, want 2", sum.Results[0].Retries)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	s := newTestScheduler(1, 2)
	attempts := 0
	sum := s.Run(context.Background(), []string{"VNM"}, func(ctx context.Context, sym string) error {
		attempts++
		return &transientErr{msg: "HTTP 503"}
	})

	checkPartition(t, sum)
	if sum.FailedPermanently != 1 {
		t.Errorf("summary = %+v", sum)
	}
	// Initial attempt plus two retries.
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestConcurrencyLimitHeldAcrossRetries(t *testing.T) {
	const limit = 3
	s := New(Options{
		ConcurrencyLimit: limit,
		MaxRetries:       2,
		Backoff:          func(int) time.Duration { return time.Millisecond },
		ShutdownGrace:    time.Second,
	})

	var inflight, peak int32
	sum := s.Run(context.Background(), symbols(12), func(ctx context.Context, sym string) error {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		if sym == "SYM04" || sym == "SYM07" {
			return &transientErr{msg: "flaky"}
		}
		return nil
	})

	checkPartition(t, sum)
	if got := atomic.LoadInt32(&peak); got > limit {
		t.Errorf("peak concurrency %d exceeded limit %d", got, limit)
	}
}

func TestLargeRunHoldsLimitAndCompletes(t *testing.T) {
	const (
		n     = 500
		limit = 10
	)
	s := newTestScheduler(limit, 2)

	// Every 25th symbol fails once before succeeding.
	all := symbols(n)
	flaky := map[string]bool{}
	for i := 0; i < n; i += 25 {
		flaky[all[i]] = true
	}

	var inflight, peak int32
	var attempts sync.Map
	sum := s.Run(context.Background(), all, func(ctx context.Context, sym string) error {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(100 * time.Microsecond)
		atomic.AddInt32(&inflight, -1)

		c, _ := attempts.LoadOrStore(sym, new(int32))
		if flaky[sym] && atomic.AddInt32(c.(*int32), 1) == 1 {
			return &transientErr{msg: "HTTP 503"}
		}
		return nil
	})

	checkPartition(t, sum)
	if sum.Succeeded != n || sum.FailedPermanently != 0 || sum.Cancelled != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if got := atomic.LoadInt32(&peak); got > limit {
		t.Errorf("peak concurrency %d exceeded limit %d", got, limit)
	}
	if sum.RetriedCount != n/25 {
		t.Errorf("RetriedCount = %d, want %d", sum.RetriedCount, n/25)
	}
}

func TestCancellationStopsAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestScheduler(1, 0)

	var starts int32
	sum := s.Run(ctx, symbols(8), func(c context.Context, sym string) error {
		atomic.AddInt32(&starts, 1)
		cancel()
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	checkPartition(t, sum)
	// With one worker only the first symbol is admitted before cancellation
	// is observed; it completes within the grace and stays succeeded.
	if got := atomic.LoadInt32(&starts); got != 1 {
		t.Errorf("extract started %d times, want 1", got)
	}
	if sum.Succeeded != 1 || sum.Cancelled != 7 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestCancellationGraceExpiresMarksInflightCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Options{
		ConcurrencyLimit: 1,
		Backoff:          func(int) time.Duration { return 0 },
		Sleep:            instantSleep,
		ShutdownGrace:    10 * time.Millisecond,
	})

	block := make(chan struct{})
	defer close(block)

	sum := s.Run(ctx, []string{"HUNG", "NEXT"}, func(c context.Context, sym string) error {
		cancel()
		<-block // never finishes within grace
		return nil
	})

	checkPartition(t, sum)
	if sum.Cancelled != 2 {
		t.Errorf("summary = %+v, want both symbols cancelled", sum)
	}
}

func TestSleepCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Options{
		ConcurrencyLimit: 1,
		MaxRetries:       5,
		Backoff:          func(int) time.Duration { return time.Hour },
		ShutdownGrace:    100 * time.Millisecond,
	})

	sum := s.Run(ctx, []string{"VNM"}, func(c context.Context, sym string) error {
		cancel() // cancel while the worker is about to back off
		return &transientErr{msg: "flaky"}
	})

	checkPartition(t, sum)
	if sum.Cancelled != 1 {
		t.Errorf("summary = %+v, want backoff interrupted and symbol cancelled", sum)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(errPermanent) {
		t.Error("plain errors are permanent")
	}
	if !IsTransient(&transientErr{msg: "x"}) {
		t.Error("Transient() errors are transient")
	}
	if !IsTransient(fmt.Errorf("wrap: %w", &transientErr{msg: "x"})) {
		t.Error("wrapping must preserve transience")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("cancellation is not transient")
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := ExponentialBackoff(time.Second, 8*time.Second)
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoff(attempt)
		if d <= 0 {
			t.Errorf("attempt %d: non-positive delay %v", attempt, d)
		}
		if d > 8*time.Second {
			t.Errorf("attempt %d: delay %v exceeds cap", attempt, d)
		}
	}
	// Jitter stays within +/-25% of the nominal delay.
	if d := backoff(2); d < 1500*time.Millisecond || d > 2500*time.Millisecond {
		t.Errorf("attempt 2: delay %v outside jitter band around 2s", d)
	}
}
