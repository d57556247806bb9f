package universe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vnflow/internal/market"
)

// ErrSnapshotNotFound is returned when no snapshot exists for the
// requested date.
var ErrSnapshotNotFound = errors.New("universe snapshot not found")

// IOError wraps a cache persistence failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("universe cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

const snapshotPrefix = "universe_"

// Cache is a day-keyed persistent store of discovered universe snapshots.
// One JSON file per calendar date; writes publish atomically via a
// temporary file and rename so a reader never observes a partial snapshot.
type Cache struct {
	dir string
}

// NewCache creates the cache directory if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) pathFor(date string) string {
	return filepath.Join(c.dir, snapshotPrefix+date+".json")
}

// Read returns the snapshot for the exact date, or ErrSnapshotNotFound.
// No fuzzy date matching.
func (c *Cache) Read(date string) (*market.Snapshot, error) {
	return c.readFile(c.pathFor(date))
}

// ReadLatestBeforeOrOn returns the most recent snapshot with date <= the
// given date, or ErrSnapshotNotFound. Corrupt entries are skipped so one
// bad file does not mask older usable snapshots.
func (c *Cache) ReadLatestBeforeOrOn(date string) (*market.Snapshot, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, &IOError{Op: "read dir", Path: c.dir, Err: err}
	}

	dates := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		d := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), ".json")
		// ISO dates compare correctly as strings.
		if d <= date {
			dates = append(dates, d)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	for _, d := range dates {
		snap, err := c.readFile(c.pathFor(d))
		if err == nil {
			return snap, nil
		}
	}
	return nil, ErrSnapshotNotFound
}

// Write persists the snapshot under its date, replacing any prior snapshot
// for that date.
func (c *Cache) Write(snap *market.Snapshot) error {
	if snap == nil || snap.AsOfDate == "" {
		return &IOError{Op: "write", Path: c.dir, Err: errors.New("snapshot missing as_of_date")}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Path: c.pathFor(snap.AsOfDate), Err: err}
	}

	tmp, err := os.CreateTemp(c.dir, snapshotPrefix+"*.tmp")
	if err != nil {
		return &IOError{Op: "create temp", Path: c.dir, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &IOError{Op: "write temp", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &IOError{Op: "sync temp", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close temp", Path: tmpName, Err: err}
	}

	target := c.pathFor(snap.AsOfDate)
	if err := os.Rename(tmpName, target); err != nil {
		return &IOError{Op: "publish", Path: target, Err: err}
	}
	return nil
}

func (c *Cache) readFile(path string) (*market.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	var snap market.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &IOError{Op: "decode", Path: path, Err: err}
	}
	if snap.AsOfDate == "" {
		return nil, &IOError{Op: "decode", Path: path, Err: errors.New("snapshot missing as_of_date")}
	}
	return &snap, nil
}
