package hydro

import (
	"math/big"

	"hydro/core/events"
)

// propagateLockChange implements propagation entry point 1 (§4.7): for every
// round from the current round through whichever of before/after has the
// later last-round-with-power, emit the net Δshares into round_total_shares,
// and, if the lock's owner has exactly one distinct current-round vote in a
// tranche, carry the same delta onto that proposal's shares.
//
// before is nil for a freshly created lock; after is nil when a lock is
// being superseded (the "before" leg of a split or merge) without a direct
// successor sharing its identity.
func (e *Engine) propagateLockChange(c Constants, round uint64, before, after *Lock) {
	var denom string
	var owner AccountID
	switch {
	case after != nil:
		denom, owner = after.Funds.Denom, after.Owner
	case before != nil:
		denom, owner = before.Funds.Denom, before.Owner
	default:
		return
	}

	group, err := e.registry.ValidateDenom(denom, round)
	if err != nil {
		return
	}

	height := e.propagateRoundShares(c, round, group, before, after)

	// Carried vote: only meaningful for the round the lock is newly active
	// in (round), and only for the lock identity that survives (after).
	if after == nil {
		return
	}
	for _, tranche := range e.tranches.List() {
		propID, ok := e.ownerUniqueCurrentVote(round, tranche.TrancheID, owner, after.LockID)
		if !ok {
			continue
		}
		p, ok := e.proposals.Get(propID)
		if !ok {
			continue
		}
		if !e.lockEligible(c, round, after, p.DeploymentDuration) {
			continue
		}
		shares := SharesAt(c, round, after.Funds.Amount, after.LockEnd)
		ratio := e.registry.Ratio(group, round)
		if ratio == nil {
			ratio = new(big.Rat)
		}
		k := voteKey{Round: round, Tranche: tranche.TrancheID, LockID: after.LockID}
		if existing, exists := e.votes[k]; exists && !existing.ZeroPower {
			// Already carries a real vote (e.g. refresh of a lock that was
			// already voting): overwrite its shares in place.
			old := existing.TimeWeightedShares
			delta := new(big.Rat).Sub(shares, old)
			power := e.scores.AddProposalShares(propID, round, tranche.TrancheID, group, delta, ratio, height)
			existing.TimeWeightedShares = shares
			e.proposals.SetPower(propID, power)
			continue
		}
		power := e.scores.AddProposalShares(propID, round, tranche.TrancheID, group, shares, ratio, height)
		e.setVote(k, &Vote{ProposalID: propID, GroupID: group, TimeWeightedShares: shares, Timestamp: e.now()})
		e.votingAllowedRound[trancheLockKey{Tranche: tranche.TrancheID, LockID: after.LockID}] = round + p.DeploymentDuration
		e.proposals.SetPower(propID, power)
	}
}

// propagateRoundShares emits the net Δshares for group into round_total_shares
// across every round from round through whichever of before/after has the
// later last-round-with-power, under a single height snapshot. It is the
// round-shares half of propagateLockChange, factored out so a denom
// conversion (propagation entry point 4) can apply it twice under two
// distinct groups without re-running the single-group carried-vote logic.
func (e *Engine) propagateRoundShares(c Constants, round uint64, group GroupID, before, after *Lock) uint64 {
	lastBefore, hasBefore := uint64(0), false
	if before != nil {
		lastBefore, hasBefore = LastRoundWithPower(c, before.LockEnd)
	}
	lastAfter, hasAfter := uint64(0), false
	if after != nil {
		lastAfter, hasAfter = LastRoundWithPower(c, after.LockEnd)
	}

	last := round
	if hasBefore && lastBefore > last {
		last = lastBefore
	}
	if hasAfter && lastAfter > last {
		last = lastAfter
	}

	height := e.nextHeight()
	for r := round; r <= last; r++ {
		oldShares := new(big.Rat)
		if hasBefore && r <= lastBefore {
			oldShares = SharesAt(c, r, before.Funds.Amount, before.LockEnd)
		}
		newShares := new(big.Rat)
		if hasAfter && r <= lastAfter {
			newShares = SharesAt(c, r, after.Funds.Amount, after.LockEnd)
		}
		delta := new(big.Rat).Sub(newShares, oldShares)
		if delta.Sign() == 0 {
			continue
		}
		ratio := e.registry.Ratio(group, r)
		if ratio == nil {
			ratio = new(big.Rat)
		}
		e.scores.AddRoundShares(r, group, delta, ratio, height)
	}
	return height
}

// ConvertLockDenom implements propagation entry point 4 (§4.7.4): dToken
// conversion. Treated as (a) unvote the lock in every tranche where it holds
// a real vote this round, (b) rewrite its denom and amount to the new token,
// (c) re-vote the same proposals with the new shares, (d) reconcile
// round_total_shares under the old and new groups. The minted newAmount is
// supplied by the caller: the external bonding sub-flow that produces it is
// out of scope (§1). The lock id is preserved across conversion.
func (e *Engine) ConvertLockDenom(owner AccountID, lockID uint64, newDenom string, newAmount *big.Int) (*Lock, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guardPaused(); err != nil {
		return nil, err
	}
	c := e.constantsLocked()
	round, err := e.currentRound()
	if err != nil {
		return nil, err
	}
	newGroup, err := e.registry.ValidateDenom(newDenom, round)
	if err != nil {
		return nil, err
	}

	before, after, err := e.lockups.ConvertDenom(owner, lockID, newDenom, newAmount)
	if err != nil {
		return nil, err
	}

	type recastTarget struct {
		tranche    uint64
		proposalID uint64
	}
	var toRecast []recastTarget
	for _, t := range e.tranches.List() {
		k := voteKey{Round: round, Tranche: t.TrancheID, LockID: lockID}
		v, ok := e.votes[k]
		if !ok || v.ZeroPower {
			continue
		}
		height := e.nextHeight()
		if power, rmErr := e.scores.RemoveProposalShares(v.ProposalID, round, t.TrancheID, v.GroupID, v.TimeWeightedShares, e.registry.Ratio(v.GroupID, round), height); rmErr == nil {
			e.proposals.SetPower(v.ProposalID, power)
		}
		e.deleteVote(k)
		toRecast = append(toRecast, recastTarget{tranche: t.TrancheID, proposalID: v.ProposalID})
	}

	oldGroup, groupErr := e.registry.ValidateDenom(before.Funds.Denom, round)
	if groupErr == nil {
		e.propagateRoundShares(c, round, oldGroup, before, nil)
	}
	e.propagateRoundShares(c, round, newGroup, nil, after)

	for _, rc := range toRecast {
		p, ok := e.proposals.Get(rc.proposalID)
		if !ok || !e.lockEligible(c, round, after, p.DeploymentDuration) {
			continue
		}
		shares := SharesAt(c, round, after.Funds.Amount, after.LockEnd)
		ratio := e.registry.Ratio(newGroup, round)
		if ratio == nil {
			ratio = new(big.Rat)
		}
		height := e.nextHeight()
		power := e.scores.AddProposalShares(rc.proposalID, round, rc.tranche, newGroup, shares, ratio, height)
		e.setVote(voteKey{Round: round, Tranche: rc.tranche, LockID: lockID}, &Vote{ProposalID: rc.proposalID, GroupID: newGroup, TimeWeightedShares: shares, Timestamp: e.now()})
		e.proposals.SetPower(rc.proposalID, power)
	}

	e.emit(events.LockConverted{
		LockID:    lockID,
		OldDenom:  before.Funds.Denom,
		NewDenom:  newDenom,
		OldAmount: before.Funds.Amount.String(),
		NewAmount: newAmount.String(),
	})
	return after, nil
}

// ownerUniqueCurrentVote scans owner's active locks (other than
// excludeLock) for votes at (round, tranche) and returns the single
// distinct proposal id they all reference, if exactly one exists.
func (e *Engine) ownerUniqueCurrentVote(round, tranche uint64, owner AccountID, excludeLock uint64) (uint64, bool) {
	locks := e.lockups.LocksByOwner(owner)
	var found uint64
	var ok bool
	for _, l := range locks {
		if l.LockID == excludeLock {
			continue
		}
		v, exists := e.votes[voteKey{Round: round, Tranche: tranche, LockID: l.LockID}]
		if !exists || v.ZeroPower {
			continue
		}
		if ok && found != v.ProposalID {
			return 0, false
		}
		found, ok = v.ProposalID, true
	}
	return found, ok
}

// lockEligible implements the eligibility rule of §4.6: lock.end >=
// round_end(r + deploymentDuration - 1).
func (e *Engine) lockEligible(c Constants, round uint64, lock *Lock, deploymentDuration uint64) bool {
	if deploymentDuration == 0 {
		deploymentDuration = 1
	}
	target := RoundEnd(c, round+deploymentDuration-1)
	return !lock.LockEnd.Before(target)
}

// applyRatioChange implements §4.4 apply_ratio_change and propagation entry
// points 2 and 3.
func (e *Engine) applyRatioChange(c Constants, round uint64, group GroupID, oldRatio, newRatio *big.Rat) {
	height := e.nextHeight()
	e.scores.ApplyRatioChange(group, round, oldRatio, newRatio, e.proposals.TrancheOf, height)
	for _, t := range e.tranches.List() {
		for _, p := range e.proposals.ProposalsIn(round, t.TrancheID) {
			power := e.scores.ProposalTotal(p.ProposalID, height)
			e.proposals.SetPower(p.ProposalID, ceilBigRat(power))
		}
	}
	e.emit(events.TokenGroupRatioChanged{Denom: string(group), OldRatio: oldRatio.RatString(), NewRatio: newRatio.RatString()})
}

// carryVotesOnSplitOrMerge implements §4.6's split/merge lineage rules.
func (e *Engine) carryVotesOnSplitOrMerge(c Constants, round uint64, parentIDs []uint64, successors []*Lock) {
	height := e.nextHeight()
	for _, t := range e.tranches.List() {
		tranche := t.TrancheID

		// Past rounds: every Vote (real or zero-power) a parent ever held
		// gets a zero-power successor Vote with the same prop_id.
		for _, parentID := range parentIDs {
			for _, r := range e.voteRounds[trancheLockKey{Tranche: tranche, LockID: parentID}] {
				if r >= round {
					continue
				}
				v, ok := e.votes[voteKey{Round: r, Tranche: tranche, LockID: parentID}]
				if !ok {
					continue
				}
				for _, succ := range successors {
					k := voteKey{Round: r, Tranche: tranche, LockID: succ.LockID}
					if _, exists := e.votes[k]; !exists {
						e.setVote(k, &Vote{ProposalID: v.ProposalID, GroupID: v.GroupID, ZeroPower: true, Timestamp: e.now()})
					}
				}
			}
		}

		// Current round: collect the real votes the parent set held.
		var removed []*Vote
		var removedLock uint64
		for _, parentID := range parentIDs {
			k := voteKey{Round: round, Tranche: tranche, LockID: parentID}
			v, ok := e.votes[k]
			if !ok || v.ZeroPower {
				continue
			}
			removed = append(removed, v)
			removedLock = parentID
		}

		if len(removed) == 1 {
			v := removed[0]
			k := voteKey{Round: round, Tranche: tranche, LockID: removedLock}
			if power, err := e.scores.RemoveProposalShares(v.ProposalID, round, tranche, v.GroupID, v.TimeWeightedShares, e.registry.Ratio(v.GroupID, round), height); err == nil {
				e.proposals.SetPower(v.ProposalID, power)
				p, ok := e.proposals.Get(v.ProposalID)
				e.deleteVote(k)
				delete(e.votingAllowedRound, trancheLockKey{Tranche: tranche, LockID: removedLock})
				if ok {
					for _, succ := range successors {
						if !e.lockEligible(c, round, succ, p.DeploymentDuration) {
							continue
						}
						shares := SharesAt(c, round, succ.Funds.Amount, succ.LockEnd)
						ratio := e.registry.Ratio(v.GroupID, round)
						if ratio == nil {
							ratio = new(big.Rat)
						}
						power := e.scores.AddProposalShares(v.ProposalID, round, tranche, v.GroupID, shares, ratio, height)
						e.setVote(voteKey{Round: round, Tranche: tranche, LockID: succ.LockID}, &Vote{ProposalID: v.ProposalID, GroupID: v.GroupID, TimeWeightedShares: shares, Timestamp: e.now()})
						e.votingAllowedRound[trancheLockKey{Tranche: tranche, LockID: succ.LockID}] = round + p.DeploymentDuration
						e.proposals.SetPower(v.ProposalID, power)
					}
				}
			}
			continue
		}

		// Zero, or more than one, distinct real vote: no recast. Carry
		// forward only voting_allowed_round (the highest among parents) and
		// leave zero-power lineage markers for any parent votes that did
		// exist this round.
		var maxAllowed uint64
		for _, parentID := range parentIDs {
			if v, ok := e.votingAllowedRound[trancheLockKey{Tranche: tranche, LockID: parentID}]; ok && v > maxAllowed {
				maxAllowed = v
			}
		}
		if maxAllowed > 0 {
			for _, succ := range successors {
				e.votingAllowedRound[trancheLockKey{Tranche: tranche, LockID: succ.LockID}] = maxAllowed
			}
		}
		for _, v := range removed {
			for _, succ := range successors {
				k := voteKey{Round: round, Tranche: tranche, LockID: succ.LockID}
				if _, exists := e.votes[k]; !exists {
					e.setVote(k, &Vote{ProposalID: v.ProposalID, GroupID: v.GroupID, ZeroPower: true, Timestamp: e.now()})
				}
			}
		}
		for _, parentID := range parentIDs {
			k := voteKey{Round: round, Tranche: tranche, LockID: parentID}
			if v, ok := e.votes[k]; ok && !v.ZeroPower {
				if power, err := e.scores.RemoveProposalShares(v.ProposalID, round, tranche, v.GroupID, v.TimeWeightedShares, e.registry.Ratio(v.GroupID, round), height); err == nil {
					e.proposals.SetPower(v.ProposalID, power)
				}
				e.deleteVote(k)
			}
		}
	}
}
