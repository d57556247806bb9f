package universe

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"vnflow/internal/market"
)

func snapshotFor(date string, symbols ...string) *market.Snapshot {
	snap := &market.Snapshot{AsOfDate: date}
	for _, s := range symbols {
		snap.Instruments = append(snap.Instruments, market.Instrument{Symbol: s, Exchange: market.ExchangeHSX})
	}
	return snap
}

func TestCacheRoundTrip(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	want := snapshotFor("2025-08-13", "VNM", "SHS")
	if err := cache.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := cache.Read("2025-08-13")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.AsOfDate != want.AsOfDate || !reflect.DeepEqual(got.Symbols(), want.Symbols()) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestCacheReadMissingDate(t *testing.T) {
	cache, _ := NewCache(t.TempDir())
	if _, err := cache.Read("2025-08-13"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestCacheNoFuzzyDateMatching(t *testing.T) {
	cache, _ := NewCache(t.TempDir())
	cache.Write(snapshotFor("2025-08-12", "VNM"))

	if _, err := cache.Read("2025-08-13"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Read must not fall back to other dates, got %v", err)
	}
}

func TestCacheWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	cache, _ := NewCache(dir)
	if err := cache.Write(snapshotFor("2025-08-13", "VNM")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "universe_2025-08-13.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected cache dir contents: %v", names)
	}
}

func TestCacheWriteReplacesSameDay(t *testing.T) {
	cache, _ := NewCache(t.TempDir())
	cache.Write(snapshotFor("2025-08-13", "VNM"))
	cache.Write(snapshotFor("2025-08-13", "VNM", "SHS"))

	got, err := cache.Read("2025-08-13")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Instruments) != 2 {
		t.Errorf("expected replacement, got %d instruments", len(got.Instruments))
	}
}

func TestReadLatestBeforeOrOn(t *testing.T) {
	cache, _ := NewCache(t.TempDir())
	cache.Write(snapshotFor("2025-08-08", "AAA"))
	cache.Write(snapshotFor("2025-08-11", "BBB"))
	cache.Write(snapshotFor("2025-08-15", "CCC"))

	got, err := cache.ReadLatestBeforeOrOn("2025-08-13")
	if err != nil {
		t.Fatalf("ReadLatestBeforeOrOn: %v", err)
	}
	if got.AsOfDate != "2025-08-11" {
		t.Errorf("got %s, want 2025-08-11", got.AsOfDate)
	}

	got, err = cache.ReadLatestBeforeOrOn("2025-08-15")
	if err != nil {
		t.Fatalf("ReadLatestBeforeOrOn same day: %v", err)
	}
	if got.AsOfDate != "2025-08-15" {
		t.Errorf("same-day snapshot is eligible, got %s", got.AsOfDate)
	}

	if _, err := cache.ReadLatestBeforeOrOn("2025-08-07"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound for dates before all snapshots, got %v", err)
	}
}

func TestReadLatestSkipsCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	cache, _ := NewCache(dir)
	cache.Write(snapshotFor("2025-08-11", "BBB"))

	// A newer but corrupt snapshot must not mask the older usable one.
	corrupt := filepath.Join(dir, "universe_2025-08-12.json")
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := cache.ReadLatestBeforeOrOn("2025-08-13")
	if err != nil {
		t.Fatalf("ReadLatestBeforeOrOn: %v", err)
	}
	if got.AsOfDate != "2025-08-11" {
		t.Errorf("got %s, want 2025-08-11", got.AsOfDate)
	}
}

func TestCacheWriteRejectsUndatedSnapshot(t *testing.T) {
	cache, _ := NewCache(t.TempDir())
	if err := cache.Write(&market.Snapshot{}); err == nil {
		t.Fatal("expected error for snapshot without a date")
	}
}
