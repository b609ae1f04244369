package hydro

import (
	"math/big"
	"testing"
	"time"
)

func testConstants(t *testing.T, start time.Time) Constants {
	t.Helper()
	c := DefaultConstants()
	c.FirstRoundStart = start
	return c
}

func TestRoundID(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	c := testConstants(t, start)

	if _, err := RoundID(c, start.Add(-time.Second)); err == nil {
		t.Fatalf("expected error for time before first round start")
	}
	if rid, err := RoundID(c, start); err != nil || rid != 0 {
		t.Fatalf("RoundID(start) = %d, %v; want 0, nil", rid, err)
	}
	if rid, err := RoundID(c, start.Add(c.RoundLength)); err != nil || rid != 1 {
		t.Fatalf("RoundID(start+round) = %d, %v; want 1, nil", rid, err)
	}
	if rid, err := RoundID(c, start.Add(c.RoundLength*6).Add(time.Hour)); err != nil || rid != 6 {
		t.Fatalf("RoundID(start+6 rounds+1h) = %d, %v; want 6, nil", rid, err)
	}
}

func TestPowerAtScheduleLookup(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	c := testConstants(t, start)

	// A lock made for 6 locked rounds (multiplier 2x), evaluated at round 0:
	// five full rounds remain beyond round 0's end, which rounds up to the
	// schedule's 6-round key.
	amount := big.NewInt(1000)
	lockEnd := start.Add(c.LockEpochLength * 6)
	got := PowerAt(c, 0, amount, lockEnd)
	want := big.NewInt(2000)
	if got.Cmp(want) != 0 {
		t.Fatalf("PowerAt(round 0) = %s, want %s", got, want)
	}

	// At round 4, one round remains beyond round 4's end: rounds up to the
	// 1-round key (1x).
	got = PowerAt(c, 4, amount, lockEnd)
	want = big.NewInt(1000)
	if got.Cmp(want) != 0 {
		t.Fatalf("PowerAt(round 4) = %s, want %s", got, want)
	}
}

func TestSharesAtMatchesPowerAtBeforeCeiling(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	c := testConstants(t, start)
	amount := big.NewInt(333)
	lockEnd := start.Add(c.LockEpochLength * 3)

	shares := SharesAt(c, 0, amount, lockEnd)
	power := PowerAt(c, 0, amount, lockEnd)
	if ceilBigRat(shares).Cmp(power) != 0 {
		t.Fatalf("ceil(SharesAt) = %s, PowerAt = %s; want equal", ceilBigRat(shares), power)
	}
}

func TestIsScheduledDuration(t *testing.T) {
	c := DefaultConstants()
	if !IsScheduledDuration(c, c.LockEpochLength) {
		t.Fatalf("expected 1-round duration to be schedule-permitted")
	}
	if IsScheduledDuration(c, c.LockEpochLength*4) {
		t.Fatalf("4 locked rounds is not a schedule key and must be rejected")
	}
	if !IsScheduledDuration(c, c.LockEpochLength*12) {
		t.Fatalf("expected 12-round duration to be schedule-permitted")
	}
}
