// Package report renders a markdown summary of one pipeline run.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vnflow/internal/schedule"
	"vnflow/logger"
)

// RunInfo carries everything the daily report needs beyond the scheduler
// summary.
type RunInfo struct {
	Date          string
	Mode          string
	Scope         string
	UniverseDate  string
	UniverseStale bool
	Removed       []RemovedEntry
	Summary       schedule.Summary
}

// RemovedEntry names a symbol dropped before scheduling and why.
type RemovedEntry struct {
	Symbol string
	Reason string
}

// Writer renders run reports into the reports directory, one file per day.
type Writer struct {
	dir string
	log *logger.Log
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, log: logger.GetLogger()}
}

// Write renders the report and saves it to <dir>/daily/<date>.md,
// overwriting any earlier report for the same day.
func (w *Writer) Write(info RunInfo) (string, error) {
	dailyDir := filepath.Join(w.dir, "daily")
	if err := os.MkdirAll(dailyDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}

	path := filepath.Join(dailyDir, info.Date+".md")
	if err := os.WriteFile(path, []byte(Render(info)), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	w.log.WithComponent("report").WithFields(logger.Fields{
		"path":      path,
		"succeeded": info.Summary.Succeeded,
		"failed":    info.Summary.FailedPermanently,
	}).Info("daily report written")
	return path, nil
}

// Render produces the markdown body.
func Render(info RunInfo) string {
	var b strings.Builder
	sum := info.Summary

	fmt.Fprintf(&b, "# Daily Extraction Report %s\n\n", info.Date)

	fmt.Fprintf(&b, "## Run\n\n")
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Mode | %s |\n", info.Mode)
	if info.Scope != "" {
		fmt.Fprintf(&b, "| Scope | %s |\n", info.Scope)
	}
	universe := info.UniverseDate
	if universe == "" {
		universe = "n/a"
	}
	if info.UniverseStale {
		universe += " (stale fallback)"
	}
	fmt.Fprintf(&b, "| Universe snapshot | %s |\n", universe)
	fmt.Fprintf(&b, "| Started | %s |\n", sum.Started.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "| Duration | %s |\n\n", sum.Finished.Sub(sum.Started).Round(time.Second))

	fmt.Fprintf(&b, "## Results\n\n")
	fmt.Fprintf(&b, "| Outcome | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| Requested | %d |\n", sum.TotalRequested)
	fmt.Fprintf(&b, "| Succeeded | %d |\n", sum.Succeeded)
	fmt.Fprintf(&b, "| Failed permanently | %d |\n", sum.FailedPermanently)
	fmt.Fprintf(&b, "| Cancelled | %d |\n", sum.Cancelled)
	fmt.Fprintf(&b, "| Symbols retried | %d |\n\n", sum.RetriedCount)

	if failed := resultsWithOutcome(sum, schedule.OutcomeFailed); len(failed) > 0 {
		fmt.Fprintf(&b, "## Failed Symbols\n\n")
		fmt.Fprintf(&b, "| Symbol | Retries | Error |\n|---|---|---|\n")
		for _, r := range failed {
			fmt.Fprintf(&b, "| %s | %d | %s |\n", r.Symbol, r.Retries, errorCell(r.Err))
		}
		b.WriteString("\n")
	}

	if cancelled := resultsWithOutcome(sum, schedule.OutcomeCancelled); len(cancelled) > 0 {
		fmt.Fprintf(&b, "## Cancelled Symbols\n\n")
		for _, r := range cancelled {
			fmt.Fprintf(&b, "- %s\n", r.Symbol)
		}
		b.WriteString("\n")
	}

	if len(info.Removed) > 0 {
		fmt.Fprintf(&b, "## Removed Before Scheduling\n\n")
		fmt.Fprintf(&b, "| Symbol | Reason |\n|---|---|\n")
		for _, r := range info.Removed {
			fmt.Fprintf(&b, "| %s | %s |\n", r.Symbol, r.Reason)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func resultsWithOutcome(sum schedule.Summary, outcome schedule.Outcome) []schedule.SymbolResult {
	var out []schedule.SymbolResult
	for _, r := range sum.Results {
		if r.Outcome == outcome {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func errorCell(err error) string {
	if err == nil {
		return ""
	}
	// Pipes would break the table row.
	return strings.ReplaceAll(err.Error(), "|", "\\|")
}
