// Package tracker persists open positions to a JSON file so the engine can
// recover holding periods and stop levels across restarts. Writes go through
// a temp file and rename so a crash never leaves a torn file.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hwatkins-dev/trendgate/internal/models"
)

// Tracker is a file-backed map of symbol to open position. Safe for
// concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	path      string
	positions map[string]models.TrackedPosition
}

// New returns a Tracker persisting at path. The file is created on first
// save.
func New(path string) *Tracker {
	return &Tracker{
		path:      path,
		positions: make(map[string]models.TrackedPosition),
	}
}

// Load reads the persisted positions. A missing file is a clean start, not
// an error.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read positions file: %w", err)
	}
	positions := make(map[string]models.TrackedPosition)
	if err := json.Unmarshal(data, &positions); err != nil {
		return fmt.Errorf("parse positions file: %w", err)
	}
	t.positions = positions
	return nil
}

// save writes the current map atomically. Caller holds the lock.
func (t *Tracker) save() error {
	data, err := json.MarshalIndent(t.positions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create positions dir: %w", err)
		}
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp positions file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename positions file: %w", err)
	}
	return nil
}

// Add records an open position under the uppercased symbol and persists.
func (t *Tracker) Add(symbol string, pos models.TrackedPosition) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions[strings.ToUpper(symbol)] = pos
	return t.save()
}

// Remove deletes a position and persists. Removing an absent symbol is a
// no-op.
func (t *Tracker) Remove(symbol string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := strings.ToUpper(symbol)
	if _, ok := t.positions[key]; !ok {
		return nil
	}
	delete(t.positions, key)
	return t.save()
}

// Get returns the tracked position for symbol, if any.
func (t *Tracker) Get(symbol string) (models.TrackedPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[strings.ToUpper(symbol)]
	return pos, ok
}

// All returns a copy of the tracked positions keyed by symbol.
func (t *Tracker) All() map[string]models.TrackedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]models.TrackedPosition, len(t.positions))
	for k, v := range t.positions {
		out[k] = v
	}
	return out
}

// Len is the number of tracked positions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// BarsHeld converts an entry timestamp to whole daily bars held as of now.
// Unparseable timestamps count as zero bars.
func BarsHeld(entryTime string, now time.Time) int {
	entry, err := time.Parse(time.RFC3339, entryTime)
	if err != nil {
		return 0
	}
	days := int(now.Sub(entry).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
