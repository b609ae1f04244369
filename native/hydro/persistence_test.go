package hydro

import (
	"math/big"
	"testing"
	"time"

	"hydro/storage"
)

func TestConstantsStorePersistRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	start := time.Unix(1_700_000_000, 0).UTC()
	initial := DefaultConstants()
	initial.FirstRoundStart = start
	initial.MaxTotalLocked = big.NewInt(500000)

	e, err := NewEngineFromStorage(db, initial, start)
	if err != nil {
		t.Fatalf("NewEngineFromStorage: %v", err)
	}

	future := start.Add(48 * time.Hour)
	maxEntries := uint64(250)
	if err := e.UpdateConfig(true, future.UnixNano(), ConstantsPatch{MaxLockEntries: &maxEntries}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	reloaded, err := NewEngineFromStorage(db, DefaultConstants(), start)
	if err != nil {
		t.Fatalf("NewEngineFromStorage (reload): %v", err)
	}

	atStart := reloaded.constants.At(start)
	if atStart.MaxTotalLocked == nil || atStart.MaxTotalLocked.Cmp(big.NewInt(500000)) != 0 {
		t.Fatalf("expected MaxTotalLocked to survive reload, got %v", atStart.MaxTotalLocked)
	}
	atFuture := reloaded.constants.At(future.Add(time.Second))
	if atFuture.MaxLockEntries != 250 {
		t.Fatalf("expected scheduled MaxLockEntries patch to survive reload, got %d", atFuture.MaxLockEntries)
	}
	if len(atFuture.Schedule) != len(defaultSchedule()) {
		t.Fatalf("expected schedule to round-trip with %d entries, got %d", len(defaultSchedule()), len(atFuture.Schedule))
	}
}
