package events

import "fmt"

// LockCreated is emitted when a LockTokens message creates a new lockup.
// Split and merge results are reported by LockSplit and LockMerged instead.
type LockCreated struct {
	LockID   uint64
	Owner    string
	Denom    string
	Amount   string
	Duration uint64
}

// EventType implements Event.
func (e LockCreated) EventType() string { return "hydro.lock_created" }

// LockRefreshed is emitted when a lockup's remaining duration is extended.
type LockRefreshed struct {
	LockID      uint64
	OldDuration uint64
	NewDuration uint64
}

// EventType implements Event.
func (e LockRefreshed) EventType() string { return "hydro.lock_refreshed" }

// LockSplit is emitted when a lockup is divided into two descendants.
type LockSplit struct {
	ParentID uint64
	ChildAID uint64
	ChildBID uint64
}

// EventType implements Event.
func (e LockSplit) EventType() string { return "hydro.lock_split" }

// LockMerged is emitted when two or more lockups are combined into one.
type LockMerged struct {
	ParentIDs []uint64
	ChildID   uint64
}

// EventType implements Event.
func (e LockMerged) EventType() string { return "hydro.lock_merged" }

// LockUnlocked is emitted once a lockup's duration has fully elapsed and its
// tokens are released back to the owner.
type LockUnlocked struct {
	LockID uint64
	Owner  string
	Denom  string
	Amount string
}

// EventType implements Event.
func (e LockUnlocked) EventType() string { return "hydro.lock_unlocked" }

// LockConverted is emitted when a lock's denom is rewritten by a dToken
// conversion (propagation entry point 4, §4.7.4). The lock id is unchanged.
type LockConverted struct {
	LockID    uint64
	OldDenom  string
	NewDenom  string
	OldAmount string
	NewAmount string
}

// EventType implements Event.
func (e LockConverted) EventType() string { return "hydro.lock_converted" }

// ProposalCreated is emitted when a new proposal is submitted into a round's
// tranche.
type ProposalCreated struct {
	ProposalID uint64
	Round      uint64
	TrancheID  uint64
	Submitter  string
}

// EventType implements Event.
func (e ProposalCreated) EventType() string { return "hydro.proposal_created" }

// VoteCast is emitted whenever a Vote message records or updates a lock's
// vote for a proposal. Votes carried forward by propagation emit nothing.
type VoteCast struct {
	LockID     uint64
	ProposalID uint64
	Round      uint64
	TrancheID  uint64
	Shares     string
}

// EventType implements Event.
func (e VoteCast) EventType() string { return "hydro.vote_cast" }

// VoteRemoved is emitted when a lock's vote is withdrawn, either explicitly
// via Unvote or because a Vote message moved the lock to another proposal.
// Votes dropped during propagation emit nothing.
type VoteRemoved struct {
	LockID     uint64
	ProposalID uint64
	Round      uint64
}

// EventType implements Event.
func (e VoteRemoved) EventType() string { return "hydro.vote_removed" }

// RoundClosed is emitted when an admin closes the current round and its
// per-tranche rankings are finalized. Closing does not wait for the round's
// end timestamp.
type RoundClosed struct {
	Round uint64
}

// EventType implements Event.
func (e RoundClosed) EventType() string { return "hydro.round_closed" }

// TokenGroupRatioChanged is emitted when a token info provider reports a new
// conversion ratio for a token group, triggering score propagation. Denom
// carries the group id.
type TokenGroupRatioChanged struct {
	Denom    string
	OldRatio string
	NewRatio string
}

// EventType implements Event.
func (e TokenGroupRatioChanged) EventType() string { return "hydro.token_group_ratio_changed" }

// ModulePaused is emitted when a whitelist admin toggles the pause switch.
type ModulePaused struct {
	Paused bool
}

// EventType implements Event.
func (e ModulePaused) EventType() string { return "hydro.module_paused" }

// String helpers used by handlers that log a human-readable summary.

func (e LockCreated) String() string {
	return fmt.Sprintf("lock %d created for %s: %s %s over %dns", e.LockID, e.Owner, e.Amount, e.Denom, e.Duration)
}

func (e VoteCast) String() string {
	return fmt.Sprintf("lock %d voted %s shares on proposal %d (round %d, tranche %d)", e.LockID, e.Shares, e.ProposalID, e.Round, e.TrancheID)
}
