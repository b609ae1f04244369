package hydro

import (
	"math/big"
	"sort"
	"time"

	hydroerr "hydro/core/errors"
)

// RoundID maps wall time to a round identifier: round_id(t) = floor((t -
// first_round_start) / round_length). It is an error to ask for a round
// before the schedule's first round started.
func RoundID(c Constants, t time.Time) (uint64, error) {
	if t.Before(c.FirstRoundStart) {
		return 0, hydroerr.ErrBadInput
	}
	elapsed := t.Sub(c.FirstRoundStart)
	return uint64(elapsed / c.RoundLength), nil
}

// RoundEnd returns the exclusive end timestamp of round r: first_round_start
// + round_length * (r+1).
func RoundEnd(c Constants, round uint64) time.Time {
	return c.FirstRoundStart.Add(c.RoundLength * time.Duration(round+1))
}

// LastRoundWithPower returns round_id(lockEnd) - 1, the final round in which
// a lock still carries nonzero power. ok is false when the lock has no
// round with power (lockEnd at or before the schedule's first round).
func LastRoundWithPower(c Constants, lockEnd time.Time) (round uint64, ok bool) {
	rid, err := RoundID(c, lockEnd)
	if err != nil || rid == 0 {
		return 0, false
	}
	return rid - 1, true
}

// sortedSchedule returns the schedule sorted ascending by LockedRounds.
func sortedSchedule(c Constants) []ScheduleEntry {
	out := append([]ScheduleEntry(nil), c.Schedule...)
	sort.Slice(out, func(i, j int) bool { return out[i].LockedRounds < out[j].LockedRounds })
	return out
}

// DurationForLockedRounds reports whether lockedRounds*lock_epoch_length is
// a schedule-permitted lock_duration, returning that duration.
func DurationForLockedRounds(c Constants, lockedRounds uint64) (time.Duration, bool) {
	for _, e := range c.Schedule {
		if e.LockedRounds == lockedRounds {
			return time.Duration(lockedRounds) * c.LockEpochLength, true
		}
	}
	return 0, false
}

// IsScheduledDuration reports whether duration equals lockedRounds *
// lock_epoch_length for some schedule entry.
func IsScheduledDuration(c Constants, duration time.Duration) bool {
	if c.LockEpochLength <= 0 {
		return false
	}
	for _, e := range c.Schedule {
		if time.Duration(e.LockedRounds)*c.LockEpochLength == duration {
			return true
		}
	}
	return false
}

// multiplierForRoundsLeft looks up the multiplier for roundsLeft, rounding
// up to the next table key present in the schedule when roundsLeft falls
// between entries. Returns the zero rational when roundsLeft is zero or
// exceeds every table key.
func multiplierForRoundsLeft(c Constants, roundsLeft uint64) *big.Rat {
	if roundsLeft == 0 {
		return new(big.Rat)
	}
	entries := sortedSchedule(c)
	for _, e := range entries {
		if e.LockedRounds >= roundsLeft {
			return new(big.Rat).Set(e.Multiplier)
		}
	}
	return new(big.Rat)
}

// ceilDivDuration computes ceil(num/den) for durations, both of which must
// be non-negative; den must be positive.
func ceilDivDuration(num, den time.Duration) uint64 {
	if num <= 0 {
		return 0
	}
	q := int64(num) / int64(den)
	if int64(num)%int64(den) != 0 {
		q++
	}
	return uint64(q)
}

// PowerAt computes power(a) for an amount locked until lockEnd, evaluated
// at round r whose round_end is E_r:
//
//	remaining_ns = max(lockEnd - E_r, 0)
//	rounds_left  = ceil(remaining_ns / lock_epoch_length), rounded to next key
//	power        = ceil(amount * lookup(rounds_left))
func PowerAt(c Constants, round uint64, amount *big.Int, lockEnd time.Time) *big.Int {
	roundEnd := RoundEnd(c, round)
	remaining := lockEnd.Sub(roundEnd)
	if remaining < 0 {
		remaining = 0
	}
	roundsLeft := ceilDivDuration(remaining, c.LockEpochLength)
	mult := multiplierForRoundsLeft(c, roundsLeft)
	if mult.Sign() == 0 {
		return big.NewInt(0)
	}
	return ceilBigRat(new(big.Rat).Mul(new(big.Rat).SetInt(amount), mult))
}

// SharesAt computes the exact rational share contribution (amount *
// multiplier) of a lock at round r, used by the score keeper which tracks
// shares as exact fractions rather than rounded integer power.
func SharesAt(c Constants, round uint64, amount *big.Int, lockEnd time.Time) *big.Rat {
	roundEnd := RoundEnd(c, round)
	remaining := lockEnd.Sub(roundEnd)
	if remaining < 0 {
		remaining = 0
	}
	roundsLeft := ceilDivDuration(remaining, c.LockEpochLength)
	mult := multiplierForRoundsLeft(c, roundsLeft)
	shares := new(big.Rat).SetInt(amount)
	shares.Mul(shares, mult)
	return shares
}
