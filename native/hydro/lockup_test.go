package hydro

import (
	"math/big"
	"testing"
	"time"
)

func TestLockupStoreLockAndUnlock(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	c := testConstants(t, start)
	store := NewLockupStore()

	coin := Coin{Denom: "uatom", Amount: big.NewInt(500)}
	lock, err := store.Lock("owner1", coin, start, c.LockEpochLength, c)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if lock.LockID == 0 {
		t.Fatalf("expected nonzero lock id")
	}
	if store.TotalLocked().Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("TotalLocked = %s, want 500", store.TotalLocked())
	}

	// Before expiry, unlock silently skips it.
	unlocked, total, err := store.Unlock("owner1", nil, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("Unlock (not expired): %v", err)
	}
	if len(unlocked) != 0 || total.Sign() != 0 {
		t.Fatalf("expected nothing unlocked before expiry, got %d locks, total %s", len(unlocked), total)
	}

	// After expiry, unlock releases it.
	after := lock.LockEnd.Add(time.Second)
	unlocked, total, err = store.Unlock("owner1", nil, after)
	if err != nil {
		t.Fatalf("Unlock (expired): %v", err)
	}
	if len(unlocked) != 1 || total.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 1 lock totalling 500, got %d locks, total %s", len(unlocked), total)
	}
	if store.TotalLocked().Sign() != 0 {
		t.Fatalf("TotalLocked after unlock = %s, want 0", store.TotalLocked())
	}
}

func TestLockupStoreSplitPreservesAmountAndRejectsUnderflow(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	c := testConstants(t, start)
	store := NewLockupStore()

	coin := Coin{Denom: "uatom", Amount: big.NewInt(1000)}
	parent, err := store.Lock("owner1", coin, start, c.LockEpochLength*6, c)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	gotParent, childA, childB, err := store.Split("owner1", parent.LockID, big.NewInt(400), start, c)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if gotParent.LockID != parent.LockID {
		t.Fatalf("Split returned wrong parent")
	}
	sum := new(big.Int).Add(childA.Funds.Amount, childB.Funds.Amount)
	if sum.Cmp(parent.Funds.Amount) != 0 {
		t.Fatalf("split children sum to %s, want %s", sum, parent.Funds.Amount)
	}
	if !childA.LockEnd.Equal(parent.LockEnd) || !childB.LockEnd.Equal(parent.LockEnd) {
		t.Fatalf("split children must inherit parent's lock_end")
	}

	// Splitting the already-superseded parent again must fail: it is no
	// longer in byOwner.
	if _, _, _, err := store.Split("owner1", parent.LockID, big.NewInt(1), start, c); err == nil {
		t.Fatalf("expected error splitting a superseded lock")
	}

	// Splitting more than the funds available underflows.
	coin2 := Coin{Denom: "uatom", Amount: big.NewInt(1000)}
	parent2, err := store.Lock("owner1", coin2, start, c.LockEpochLength*6, c)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, _, _, err := store.Split("owner1", parent2.LockID, big.NewInt(5000), start, c); err == nil {
		t.Fatalf("expected underflow error splitting more than funds.amount")
	}
}

func TestLockupStoreMergeTakesMaxLockEnd(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	c := testConstants(t, start)
	store := NewLockupStore()

	lockA, err := store.Lock("owner1", Coin{Denom: "uatom", Amount: big.NewInt(100)}, start, c.LockEpochLength, c)
	if err != nil {
		t.Fatalf("Lock A: %v", err)
	}
	lockB, err := store.Lock("owner1", Coin{Denom: "uatom", Amount: big.NewInt(200)}, start, c.LockEpochLength*6, c)
	if err != nil {
		t.Fatalf("Lock B: %v", err)
	}

	parents, child, err := store.Merge("owner1", []uint64{lockA.LockID, lockB.LockID}, start, c)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(parents) != 2 {
		t.Fatalf("expected 2 parents, got %d", len(parents))
	}
	if child.Funds.Amount.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("merged amount = %s, want 300", child.Funds.Amount)
	}
	if !child.LockEnd.Equal(lockB.LockEnd) {
		t.Fatalf("merged lock_end = %v, want max(parents) = %v", child.LockEnd, lockB.LockEnd)
	}
}

func TestLockupStoreCompositionSumsToOne(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	c := testConstants(t, start)
	store := NewLockupStore()

	parent, err := store.Lock("owner1", Coin{Denom: "uatom", Amount: big.NewInt(1000)}, start, c.LockEpochLength*6, c)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	_, childA, childB, err := store.Split("owner1", parent.LockID, big.NewInt(400), start, c)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	comp, err := store.Composition(parent.LockID)
	if err != nil {
		t.Fatalf("Composition: %v", err)
	}
	sum := new(big.Rat)
	for _, frac := range comp {
		sum.Add(sum, frac)
	}
	if sum.Cmp(big.NewRat(1, 1)) != 0 {
		t.Fatalf("composition sums to %s, want 1", sum)
	}
	if _, ok := comp[childA.LockID]; !ok {
		t.Fatalf("composition missing childA")
	}
	if _, ok := comp[childB.LockID]; !ok {
		t.Fatalf("composition missing childB")
	}
}
