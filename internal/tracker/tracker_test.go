package tracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hwatkins-dev/trendgate/internal/models"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "positions.json")
}

func TestLoadMissingFile(t *testing.T) {
	tr := New(tempPath(t))
	if err := tr.Load(); err != nil {
		t.Fatalf("missing file should load clean: %v", err)
	}
	if tr.Len() != 0 {
		t.Errorf("fresh tracker has %d positions", tr.Len())
	}
}

func TestAddRemoveRoundTrip(t *testing.T) {
	path := tempPath(t)
	tr := New(path)

	pos := models.TrackedPosition{
		Qty:        100,
		EntryPrice: 450.25,
		EntryTime:  "2025-03-10T14:30:00Z",
		StopPct:    1.5,
	}
	if err := tr.Add("spy", pos); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Keys are uppercased regardless of input case.
	if _, ok := tr.Get("SPY"); !ok {
		t.Fatal("lowercase add must be retrievable by uppercase symbol")
	}

	// A fresh tracker reading the same file sees the same position.
	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := reloaded.Get("SPY")
	if !ok {
		t.Fatal("position missing after reload")
	}
	if got != pos {
		t.Errorf("reloaded = %+v, want %+v", got, pos)
	}

	if err := reloaded.Remove("SPY"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if reloaded.Len() != 0 {
		t.Error("remove should empty the tracker")
	}

	// Removal persisted too.
	again := New(path)
	if err := again.Load(); err != nil {
		t.Fatalf("load after remove: %v", err)
	}
	if again.Len() != 0 {
		t.Error("removed position resurrected on reload")
	}
}

func TestRemoveAbsentSymbol(t *testing.T) {
	tr := New(tempPath(t))
	if err := tr.Remove("SPY"); err != nil {
		t.Errorf("removing an absent symbol should be a no-op: %v", err)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	path := tempPath(t)
	tr := New(path)
	if err := tr.Add("QQQ", models.TrackedPosition{Qty: 10, EntryPrice: 400, EntryTime: "2025-03-10T14:30:00Z", StopPct: 1.5}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("positions file missing: %v", err)
	}
}

func TestBarsHeld(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry string
		want  int
	}{
		{"same day", "2025-03-10T14:00:00Z", 0},
		{"five days", "2025-03-05T15:00:00Z", 5},
		{"partial day rounds down", "2025-03-08T20:00:00Z", 1},
		{"future entry clamps to zero", "2025-03-12T15:00:00Z", 0},
		{"garbage timestamp", "not-a-time", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BarsHeld(tt.entry, now); got != tt.want {
				t.Errorf("BarsHeld(%q) = %d, want %d", tt.entry, got, tt.want)
			}
		})
	}
}
