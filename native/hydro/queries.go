package hydro

import (
	"math/big"
	"time"
)

// UserVote reports one proposal a lock voted for within a round's tranche.
type UserVote struct {
	LockID     uint64
	ProposalID uint64
	GroupID    GroupID
	Shares     *big.Rat
	ZeroPower  bool
}

// Queries implements spec §6's read-only surface as methods on Engine.
// Those that read engine-level state (constants, height, votes) take and
// release the engine mutex themselves; the rest read straight through the
// sub-stores, which lock themselves.

// RoundEndAt returns the exclusive end timestamp of round.
func (e *Engine) RoundEndAt(round uint64) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return RoundEnd(e.constantsLocked(), round)
}

// CurrentRound returns the round active right now.
func (e *Engine) CurrentRound() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentRound()
}

// Proposal returns the proposal with id, if present.
func (e *Engine) Proposal(id uint64) (*Proposal, bool) {
	return e.proposals.Get(id)
}

// RoundProposals returns every proposal in (round, tranche), ordered by id.
func (e *Engine) RoundProposals(round, tranche uint64) []*Proposal {
	return e.proposals.ProposalsIn(round, tranche)
}

// TopNProposals returns the top n ranked proposals of (round, tranche).
func (e *Engine) TopNProposals(round, tranche uint64, n int) []RankEntry {
	return e.scores.TopN(round, tranche, n)
}

// RoundTotalVotingPower returns round_total(round) at the current height,
// ceiled to an integer.
func (e *Engine) RoundTotalVotingPower(round uint64) *big.Int {
	e.mu.Lock()
	h := e.height
	e.mu.Unlock()
	return ceilBigRat(e.scores.RoundTotal(round, h))
}

// UserVotingPower sums PowerAt over every active lock owner holds, evaluated
// at round.
func (e *Engine) UserVotingPower(owner AccountID, round uint64) *big.Int {
	e.mu.Lock()
	c := e.constantsLocked()
	locks := e.lockups.LocksByOwner(owner)
	e.mu.Unlock()
	total := big.NewInt(0)
	for _, l := range locks {
		total.Add(total, PowerAt(c, round, l.Funds.Amount, l.LockEnd))
	}
	return total
}

// UserVotes returns every real (non-zero-power) vote owner's locks cast in
// (round, tranche).
func (e *Engine) UserVotes(owner AccountID, round, tranche uint64) []UserVote {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []UserVote
	for _, l := range e.lockups.LocksByOwner(owner) {
		v, ok := e.votes[voteKey{Round: round, Tranche: tranche, LockID: l.LockID}]
		if !ok || v.ZeroPower {
			continue
		}
		out = append(out, UserVote{LockID: l.LockID, ProposalID: v.ProposalID, GroupID: v.GroupID, Shares: v.TimeWeightedShares})
	}
	return out
}

// UserVotedLocks returns the lock ids owner voted with in (round, tranche),
// optionally filtered to a single proposal.
func (e *Engine) UserVotedLocks(owner AccountID, round, tranche uint64, proposalID *uint64) []uint64 {
	votes := e.UserVotes(owner, round, tranche)
	var out []uint64
	for _, v := range votes {
		if proposalID != nil && v.ProposalID != *proposalID {
			continue
		}
		out = append(out, v.LockID)
	}
	return out
}

// LockVoteRecord is one round's vote (real or zero-power lineage marker)
// cast by a given lock, for LockVotesHistory.
type LockVoteRecord struct {
	Round      uint64
	Tranche    uint64
	ProposalID uint64
	ZeroPower  bool
}

// LockVotesHistory returns every vote (real or lineage zero-power) a lock
// has ever cast across the tranches it participated in.
func (e *Engine) LockVotesHistory(lockID uint64) []LockVoteRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []LockVoteRecord
	for _, tranche := range e.tranches.List() {
		tlk := trancheLockKey{Tranche: tranche.TrancheID, LockID: lockID}
		for _, round := range e.voteRounds[tlk] {
			v, ok := e.votes[voteKey{Round: round, Tranche: tranche.TrancheID, LockID: lockID}]
			if !ok {
				continue
			}
			out = append(out, LockVoteRecord{Round: round, Tranche: tranche.TrancheID, ProposalID: v.ProposalID, ZeroPower: v.ZeroPower})
		}
	}
	return out
}

// AllUserLockups returns every active lock owner holds.
func (e *Engine) AllUserLockups(owner AccountID) []*Lock {
	return e.lockups.LocksByOwner(owner)
}

// SpecificUserLockups returns the subset of owner's active locks named by
// ids, skipping any id owner does not hold.
func (e *Engine) SpecificUserLockups(owner AccountID, ids []uint64) []*Lock {
	var out []*Lock
	for _, l := range e.lockups.LocksByOwner(owner) {
		for _, id := range ids {
			if l.LockID == id {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

// ExpiredUserLockups returns owner's active locks whose lock_end has
// elapsed as of now, i.e. those eligible for UnlockTokens.
func (e *Engine) ExpiredUserLockups(owner AccountID) []*Lock {
	e.mu.Lock()
	now := e.now()
	e.mu.Unlock()
	var out []*Lock
	for _, l := range e.lockups.LocksByOwner(owner) {
		if l.IsExpiredAt(now) {
			out = append(out, l)
		}
	}
	return out
}

// TotalLockedTokens returns the sum of every outstanding lock's amount
// across every denom (the Σ amount invariant of §9, denom-agnostic).
func (e *Engine) TotalLockedTokens() *big.Int {
	return e.lockups.TotalLocked()
}

// VotingPowerAtHeight returns a lock's PowerAt(round, ...) computed from the
// lock's current funds and lock_end against the currently active Constants;
// it takes no height and reads no snapshot. Historical round totals are
// served by TotalPowerAtHeight.
func (e *Engine) VotingPowerAtHeight(lockID uint64, round uint64) (*big.Int, bool) {
	lock, ok := e.lockups.GetLock(lockID)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	c := e.constantsLocked()
	e.mu.Unlock()
	return PowerAt(c, round, lock.Funds.Amount, lock.LockEnd), true
}

// TotalPowerAtHeight returns round_total(round) evaluated at a specific past
// height, for historical/audit queries that must not reflect later writes.
func (e *Engine) TotalPowerAtHeight(round, height uint64) *big.Int {
	return ceilBigRat(e.scores.RoundTotal(round, height))
}
