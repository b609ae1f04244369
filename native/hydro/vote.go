package hydro

import (
	"fmt"
	"math/big"

	hydroerr "hydro/core/errors"
	"hydro/core/events"
)

// VoteBallot pairs a proposal with the locks an owner is casting toward it
// in a single Vote message, mirroring §4.6's batched vote/lockID_list shape.
type VoteBallot struct {
	ProposalID uint64
	LockIDs    []uint64
}

// VoteResult reports, per §4.6, which locks were accepted and which were
// skipped (already locked out, ineligible, or not owned by the caller).
type VoteResult struct {
	LocksVoted   []uint64
	LocksSkipped []uint64
}

// CastVotes implements §4.6 process_votes: for each ballot, every eligible,
// not-yet-locked-out lock owned by owner is cast toward that ballot's
// proposal in the current round's tranche; the lockout left by a lock's own
// real vote in this round and tranche does not block it. A lock already
// carrying a real vote on a different proposal this round has that vote
// withdrawn first; a
// lock re-voting the same proposal just has its shares refreshed.
func (e *Engine) CastVotes(owner AccountID, tranche uint64, ballots []VoteBallot) (VoteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result VoteResult
	if err := e.guardPaused(); err != nil {
		return result, err
	}
	if _, ok := e.tranches.Get(tranche); !ok {
		return result, hydroerr.ErrNotFound
	}
	c := e.constantsLocked()
	round, err := e.currentRound()
	if err != nil {
		return result, err
	}
	height := e.nextHeight()

	for _, ballot := range ballots {
		p, ok := e.proposals.Get(ballot.ProposalID)
		if !ok {
			return result, hydroerr.ErrNotFound
		}
		if p.TrancheID != tranche {
			return result, fmt.Errorf("%w: proposal does not belong to tranche", hydroerr.ErrBadInput)
		}
		for _, lockID := range ballot.LockIDs {
			lock, ok := e.lockups.GetLock(lockID)
			if !ok || lock.Owner != owner {
				result.LocksSkipped = append(result.LocksSkipped, lockID)
				continue
			}
			tlk := trancheLockKey{Tranche: tranche, LockID: lockID}
			vk := voteKey{Round: round, Tranche: tranche, LockID: lockID}
			existing, exists := e.votes[vk]
			hasRealVote := exists && !existing.ZeroPower
			if allowed, locked := e.votingAllowedRound[tlk]; locked && allowed > round && !hasRealVote {
				result.LocksSkipped = append(result.LocksSkipped, lockID)
				continue
			}
			if !e.lockEligible(c, round, lock, p.DeploymentDuration) {
				result.LocksSkipped = append(result.LocksSkipped, lockID)
				continue
			}
			group, err := e.registry.ValidateDenom(lock.Funds.Denom, round)
			if err != nil {
				result.LocksSkipped = append(result.LocksSkipped, lockID)
				continue
			}
			ratio := e.registry.Ratio(group, round)
			if ratio == nil {
				ratio = new(big.Rat)
			}
			shares := SharesAt(c, round, lock.Funds.Amount, lock.LockEnd)

			if hasRealVote {
				if existing.ProposalID == ballot.ProposalID {
					delta := new(big.Rat).Sub(shares, existing.TimeWeightedShares)
					power := e.scores.AddProposalShares(ballot.ProposalID, round, tranche, group, delta, ratio, height)
					existing.TimeWeightedShares = shares
					e.proposals.SetPower(ballot.ProposalID, power)
				} else {
					oldRatio := e.registry.Ratio(existing.GroupID, round)
					if oldRatio == nil {
						oldRatio = new(big.Rat)
					}
					if oldPower, err := e.scores.RemoveProposalShares(existing.ProposalID, round, tranche, existing.GroupID, existing.TimeWeightedShares, oldRatio, height); err == nil {
						e.proposals.SetPower(existing.ProposalID, oldPower)
						e.emit(events.VoteRemoved{ProposalID: existing.ProposalID, LockID: lockID, Round: round})
					}
					newPower := e.scores.AddProposalShares(ballot.ProposalID, round, tranche, group, shares, ratio, height)
					e.setVote(vk, &Vote{ProposalID: ballot.ProposalID, GroupID: group, TimeWeightedShares: shares, Timestamp: e.now()})
					e.proposals.SetPower(ballot.ProposalID, newPower)
				}
			} else {
				power := e.scores.AddProposalShares(ballot.ProposalID, round, tranche, group, shares, ratio, height)
				e.setVote(vk, &Vote{ProposalID: ballot.ProposalID, GroupID: group, TimeWeightedShares: shares, Timestamp: e.now()})
				e.proposals.SetPower(ballot.ProposalID, power)
			}

			e.votingAllowedRound[tlk] = round + p.DeploymentDuration
			result.LocksVoted = append(result.LocksVoted, lockID)
			e.emit(events.VoteCast{ProposalID: ballot.ProposalID, LockID: lockID, Round: round, TrancheID: tranche, Shares: shares.FloatString(6)})
		}
	}
	return result, nil
}

// RemoveVotes implements §4.6 process_unvotes: withdraws owner's current-
// round real vote on each lock in tranche, freeing it to vote again
// immediately (the lockout only applies while a vote stands).
func (e *Engine) RemoveVotes(owner AccountID, tranche uint64, lockIDs []uint64) (VoteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result VoteResult
	if err := e.guardPaused(); err != nil {
		return result, err
	}
	round, err := e.currentRound()
	if err != nil {
		return result, err
	}
	height := e.nextHeight()

	for _, lockID := range lockIDs {
		lock, ok := e.lockups.GetLock(lockID)
		if !ok || lock.Owner != owner {
			result.LocksSkipped = append(result.LocksSkipped, lockID)
			continue
		}
		vk := voteKey{Round: round, Tranche: tranche, LockID: lockID}
		existing, exists := e.votes[vk]
		if !exists || existing.ZeroPower {
			result.LocksSkipped = append(result.LocksSkipped, lockID)
			continue
		}
		ratio := e.registry.Ratio(existing.GroupID, round)
		if ratio == nil {
			ratio = new(big.Rat)
		}
		power, err := e.scores.RemoveProposalShares(existing.ProposalID, round, tranche, existing.GroupID, existing.TimeWeightedShares, ratio, height)
		if err != nil {
			result.LocksSkipped = append(result.LocksSkipped, lockID)
			continue
		}
		e.proposals.SetPower(existing.ProposalID, power)
		e.deleteVote(vk)
		delete(e.votingAllowedRound, trancheLockKey{Tranche: tranche, LockID: lockID})
		result.LocksVoted = append(result.LocksVoted, lockID)
		e.emit(events.VoteRemoved{ProposalID: existing.ProposalID, LockID: lockID, Round: round})
	}
	return result, nil
}
