// Package hydro implements the lockup-voting-scoring core: time-locked
// positions that confer voting power, proposals scoped to a round's
// tranches, and the incremental scoring machinery that ranks proposals for
// off-chain liquidity deployment at round close.
package hydro

import (
	"math/big"
	"time"
)

// AccountID is the bech32-encoded address of a lock owner, whitelisted
// admin, or ICQ manager.
type AccountID string

// GroupID names a fungibility class assigned to a denom by a token-info
// provider for a given round (e.g. a validator's LST bucket).
type GroupID string

// Coin pairs a denom with an amount. Amounts are always non-negative.
type Coin struct {
	Denom  string
	Amount *big.Int
}

// Lock is a time-locked deposit conferring voting power. After creation only
// LockEnd (extended by RefreshLockDuration), Funds (rewritten by
// ConvertLockDenom) and ExpiredAt (set by a split or merge) change.
type Lock struct {
	LockID    uint64
	Owner     AccountID
	Funds     Coin
	LockStart time.Time
	LockEnd   time.Time

	// ExpiredAt is non-zero once the lock has been superseded by a split or
	// merge; ancestor-depth checks keep counting it until
	// now > ExpiredAt+ExpiryGrace.
	ExpiredAt time.Time
}

// IsExpiredAt reports whether the lock's funds have unlocked as of t, i.e.
// LockEnd is strictly before t (the unlock operation's eligibility test, not
// the ancestry-liveness test).
func (l *Lock) IsExpiredAt(t time.Time) bool {
	return t.After(l.LockEnd)
}

// ChildRef names one descendant of a split or merge and the fraction of the
// parent's composition it carries forward.
type ChildRef struct {
	ChildID  uint64
	Fraction *big.Rat
}

// ProposalStatus is informational only; the core itself does not gate
// voting on a status field (eligibility is computed from round/tranche
// membership and lock expiry), but handlers and queries surface it.
type ProposalStatus uint8

const (
	ProposalStatusActive ProposalStatus = iota
	ProposalStatusClosed
)

// Proposal is an append-only record scoped to a round's tranche. Power is a
// denormalized cache of the Score Keeper's result; no percentage is stored
// (Percentage derives one from a power and a round total).
type Proposal struct {
	ProposalID                  uint64
	RoundID                     uint64
	TrancheID                   uint64
	Title                       string
	Description                 string
	DeploymentDuration          uint64
	MinimumAtomLiquidityRequest *big.Int
	Submitter                   AccountID
	SubmitTime                  time.Time
	Power                       *big.Int
	Status                      ProposalStatus
}

// Vote records a lock's ballot for a proposal within a (round, tranche).
// TimeWeightedShares is nil for lineage-carried zero-power votes, which
// exist only so tribute settlement can observe lineage participation; the
// Score Keeper never processes them as contributions.
type Vote struct {
	ProposalID         uint64
	GroupID            GroupID
	TimeWeightedShares *big.Rat
	ZeroPower          bool
	Timestamp          time.Time
}

// Tranche is an independent proposal partition within every round; ranking
// is computed separately per tranche.
type Tranche struct {
	TrancheID uint64
	Name      string
	Metadata  string
	// MinimumAtomLiquidityFloor, if non-nil, is the smallest
	// MinimumAtomLiquidityRequest a proposal submitted into this tranche may
	// carry. Nil means the tranche imposes no floor.
	MinimumAtomLiquidityFloor *big.Int
}

// ScheduleEntry maps a number of locked rounds to the power multiplier
// applied to funds locked for that many rounds.
type ScheduleEntry struct {
	LockedRounds uint64
	Multiplier   *big.Rat
}

// Constants is the time-versioned, whitelist-admin-controlled configuration
// read by the Clock, Lockup Store, and Vote Engine. A given instance is
// immutable once activated; UpdateConfig schedules a new instance at a
// future activation time.
type Constants struct {
	RoundLength        time.Duration
	FirstRoundStart    time.Time
	LockEpochLength    time.Duration
	MaxDeploymentDuration uint64
	MaxLockEntries     uint64
	MinSplitLockSize   *big.Int
	LockDepthLimit     uint64
	ExpiryGrace        time.Duration
	MaxTotalLocked     *big.Int
	Schedule           []ScheduleEntry
}

// defaultSchedule is the stock lock-power multiplier table named in the
// component design: 1 round -> 1x through 12 rounds -> 4x.
func defaultSchedule() []ScheduleEntry {
	return []ScheduleEntry{
		{LockedRounds: 1, Multiplier: big.NewRat(1, 1)},
		{LockedRounds: 2, Multiplier: big.NewRat(5, 4)},
		{LockedRounds: 3, Multiplier: big.NewRat(3, 2)},
		{LockedRounds: 6, Multiplier: big.NewRat(2, 1)},
		{LockedRounds: 12, Multiplier: big.NewRat(4, 1)},
	}
}

// DefaultConstants returns a Constants value using the stock schedule and
// commonly-seeded round/epoch lengths of one month. Callers override via
// UpdateConfig before activation.
func DefaultConstants() Constants {
	month := 30 * 24 * time.Hour
	return Constants{
		RoundLength:           month,
		LockEpochLength:       month,
		MaxDeploymentDuration: 12,
		MaxLockEntries:        100,
		MinSplitLockSize:      big.NewInt(1),
		LockDepthLimit:        10,
		ExpiryGrace:           24 * time.Hour,
		MaxTotalLocked:        nil,
		Schedule:              defaultSchedule(),
	}
}
