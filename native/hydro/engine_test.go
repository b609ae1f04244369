package hydro

import (
	"math/big"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, start time.Time) (*Engine, Constants) {
	t.Helper()
	c := DefaultConstants()
	e := NewEngine(c, start)
	return e, e.Constants()
}

func TestEngineLockVoteAndTally(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	e, c := newTestEngine(t, start)

	provider := NewStaticProvider("static")
	provider.SetDenom("uatom", "group-atom")
	provider.SetRatio("group-atom", big.NewRat(1, 1))
	if err := e.AddTokenInfoProvider(true, provider); err != nil {
		t.Fatalf("AddTokenInfoProvider: %v", err)
	}

	tranche, err := e.AddTranche(true, "main", "", nil)
	if err != nil {
		t.Fatalf("AddTranche: %v", err)
	}

	lock, err := e.LockTokens("alice", Coin{Denom: "uatom", Amount: big.NewInt(1000)}, c.LockEpochLength*6)
	if err != nil {
		t.Fatalf("LockTokens: %v", err)
	}

	prop, err := e.CreateProposal("alice", nil, tranche.TrancheID, "Deploy to pool X", "desc", 1, big.NewInt(0), true)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	result, err := e.CastVotes("alice", tranche.TrancheID, []VoteBallot{{ProposalID: prop.ProposalID, LockIDs: []uint64{lock.LockID}}})
	if err != nil {
		t.Fatalf("CastVotes: %v", err)
	}
	if len(result.LocksVoted) != 1 || len(result.LocksSkipped) != 0 {
		t.Fatalf("unexpected vote result: %+v", result)
	}

	refreshed, ok := e.proposals.Get(prop.ProposalID)
	if !ok {
		t.Fatalf("proposal disappeared")
	}
	if refreshed.Power.Sign() <= 0 {
		t.Fatalf("expected positive power after voting, got %s", refreshed.Power)
	}

	// Re-voting the same proposal with the same lock should not double the
	// power: the shares are overwritten in place, not accumulated.
	firstPower := new(big.Int).Set(refreshed.Power)
	if _, err := e.CastVotes("alice", tranche.TrancheID, []VoteBallot{{ProposalID: prop.ProposalID, LockIDs: []uint64{lock.LockID}}}); err != nil {
		t.Fatalf("CastVotes (revote): %v", err)
	}
	refreshed, _ = e.proposals.Get(prop.ProposalID)
	if refreshed.Power.Cmp(firstPower) != 0 {
		t.Fatalf("revote changed power from %s to %s; want unchanged", firstPower, refreshed.Power)
	}
}

func TestEngineIneligibleLockSkipped(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	e, c := newTestEngine(t, start)

	provider := NewStaticProvider("static")
	provider.SetDenom("uatom", "group-atom")
	provider.SetRatio("group-atom", big.NewRat(1, 1))
	if err := e.AddTokenInfoProvider(true, provider); err != nil {
		t.Fatalf("AddTokenInfoProvider: %v", err)
	}
	tranche, err := e.AddTranche(true, "main", "", nil)
	if err != nil {
		t.Fatalf("AddTranche: %v", err)
	}

	// A 1-round lock cannot cover a proposal that requests a 12-round
	// deployment: lock.end < round_end(0 + 12 - 1).
	lock, err := e.LockTokens("bob", Coin{Denom: "uatom", Amount: big.NewInt(1000)}, c.LockEpochLength)
	if err != nil {
		t.Fatalf("LockTokens: %v", err)
	}
	prop, err := e.CreateProposal("bob", nil, tranche.TrancheID, "Long deployment", "desc", 12, big.NewInt(0), true)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	result, err := e.CastVotes("bob", tranche.TrancheID, []VoteBallot{{ProposalID: prop.ProposalID, LockIDs: []uint64{lock.LockID}}})
	if err != nil {
		t.Fatalf("CastVotes: %v", err)
	}
	if len(result.LocksVoted) != 0 || len(result.LocksSkipped) != 1 {
		t.Fatalf("expected the lock to be skipped as ineligible, got %+v", result)
	}
}

func TestEngineUnvoteThenRevote(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	e, c := newTestEngine(t, start)

	provider := NewStaticProvider("static")
	provider.SetDenom("uatom", "group-atom")
	provider.SetRatio("group-atom", big.NewRat(1, 1))
	if err := e.AddTokenInfoProvider(true, provider); err != nil {
		t.Fatalf("AddTokenInfoProvider: %v", err)
	}
	tranche, err := e.AddTranche(true, "main", "", nil)
	if err != nil {
		t.Fatalf("AddTranche: %v", err)
	}
	lock, err := e.LockTokens("carol", Coin{Denom: "uatom", Amount: big.NewInt(1000)}, c.LockEpochLength*6)
	if err != nil {
		t.Fatalf("LockTokens: %v", err)
	}
	propA, err := e.CreateProposal("carol", nil, tranche.TrancheID, "A", "", 1, big.NewInt(0), true)
	if err != nil {
		t.Fatalf("CreateProposal A: %v", err)
	}
	propB, err := e.CreateProposal("carol", nil, tranche.TrancheID, "B", "", 1, big.NewInt(0), true)
	if err != nil {
		t.Fatalf("CreateProposal B: %v", err)
	}

	if _, err := e.CastVotes("carol", tranche.TrancheID, []VoteBallot{{ProposalID: propA.ProposalID, LockIDs: []uint64{lock.LockID}}}); err != nil {
		t.Fatalf("CastVotes A: %v", err)
	}
	a, _ := e.proposals.Get(propA.ProposalID)
	if a.Power.Sign() <= 0 {
		t.Fatalf("expected proposal A to have power after voting")
	}

	// Voting B with the same lock withdraws the vote from A.
	if _, err := e.CastVotes("carol", tranche.TrancheID, []VoteBallot{{ProposalID: propB.ProposalID, LockIDs: []uint64{lock.LockID}}}); err != nil {
		t.Fatalf("CastVotes B: %v", err)
	}
	a, _ = e.proposals.Get(propA.ProposalID)
	b, _ := e.proposals.Get(propB.ProposalID)
	if a.Power.Sign() != 0 {
		t.Fatalf("expected proposal A power to drop to 0 after lock voted elsewhere, got %s", a.Power)
	}
	if b.Power.Sign() <= 0 {
		t.Fatalf("expected proposal B to have power after the lock's vote moved to it")
	}
}

func TestEngineConvertLockDenomRecastsVote(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	e, c := newTestEngine(t, start)

	provider := NewStaticProvider("static")
	provider.SetDenom("uatom", "group-atom")
	provider.SetRatio("group-atom", big.NewRat(1, 1))
	provider.SetDenom("datom", "group-datom")
	provider.SetRatio("group-datom", big.NewRat(1, 1))
	if err := e.AddTokenInfoProvider(true, provider); err != nil {
		t.Fatalf("AddTokenInfoProvider: %v", err)
	}
	tranche, err := e.AddTranche(true, "main", "", nil)
	if err != nil {
		t.Fatalf("AddTranche: %v", err)
	}

	lock, err := e.LockTokens("erin", Coin{Denom: "uatom", Amount: big.NewInt(1000)}, c.LockEpochLength*6)
	if err != nil {
		t.Fatalf("LockTokens: %v", err)
	}
	prop, err := e.CreateProposal("erin", nil, tranche.TrancheID, "Deploy", "desc", 1, big.NewInt(0), true)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if _, err := e.CastVotes("erin", tranche.TrancheID, []VoteBallot{{ProposalID: prop.ProposalID, LockIDs: []uint64{lock.LockID}}}); err != nil {
		t.Fatalf("CastVotes: %v", err)
	}
	before, _ := e.proposals.Get(prop.ProposalID)
	if before.Power.Sign() <= 0 {
		t.Fatalf("expected positive power before conversion")
	}
	beforePower := new(big.Int).Set(before.Power)

	converted, err := e.ConvertLockDenom("erin", lock.LockID, "datom", big.NewInt(2000))
	if err != nil {
		t.Fatalf("ConvertLockDenom: %v", err)
	}
	if converted.LockID != lock.LockID {
		t.Fatalf("conversion must preserve lock id, got %d want %d", converted.LockID, lock.LockID)
	}
	if converted.Funds.Denom != "datom" || converted.Funds.Amount.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("unexpected converted funds: %+v", converted.Funds)
	}

	votes := e.UserVotes("erin", 0, tranche.TrancheID)
	if len(votes) != 1 || votes[0].LockID != lock.LockID || votes[0].ProposalID != prop.ProposalID {
		t.Fatalf("expected the converted lock to still vote for the same proposal, got %+v", votes)
	}

	after, _ := e.proposals.Get(prop.ProposalID)
	if after.Power.Cmp(beforePower) <= 0 {
		t.Fatalf("expected power to rise after converting to double the funds at equal ratio, got %s (was %s)", after.Power, beforePower)
	}
}

func TestEngineCloseRoundMarksProposalsAndReturnsRankings(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	e, _ := newTestEngine(t, start)

	tranche, err := e.AddTranche(true, "main", "", nil)
	if err != nil {
		t.Fatalf("AddTranche: %v", err)
	}
	prop, err := e.CreateProposal("frank", nil, tranche.TrancheID, "X", "", 1, big.NewInt(0), true)
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}

	if _, err := e.CloseRound(false, 0); err == nil {
		t.Fatalf("expected unauthorized closing round without admin rights")
	}
	rankings, err := e.CloseRound(true, 0)
	if err != nil {
		t.Fatalf("CloseRound: %v", err)
	}
	if _, ok := rankings[tranche.TrancheID]; !ok {
		t.Fatalf("expected a ranking entry for the tranche")
	}
	closed, _ := e.proposals.Get(prop.ProposalID)
	if closed.Status != ProposalStatusClosed {
		t.Fatalf("expected proposal to be closed, got status %v", closed.Status)
	}
}

func TestEngineCreateProposalRejectsBelowTrancheFloor(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	e, _ := newTestEngine(t, start)

	tranche, err := e.AddTranche(true, "floored", "", big.NewInt(1000))
	if err != nil {
		t.Fatalf("AddTranche: %v", err)
	}
	if _, err := e.CreateProposal("gina", nil, tranche.TrancheID, "X", "", 1, big.NewInt(500), true); err == nil {
		t.Fatalf("expected BadInput rejecting a request below the tranche floor")
	}
	if _, err := e.CreateProposal("gina", nil, tranche.TrancheID, "X", "", 1, big.NewInt(1000), true); err != nil {
		t.Fatalf("CreateProposal at the floor: %v", err)
	}
}

func TestEnginePauseBlocksMutations(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	e, _ := newTestEngine(t, start)

	if err := e.Pause(false, true); err == nil {
		t.Fatalf("expected unauthorized error pausing without admin rights")
	}
	if err := e.Pause(true, true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := e.LockTokens("dave", Coin{Denom: "uatom", Amount: big.NewInt(1)}, 0); err == nil {
		t.Fatalf("expected ErrPaused while paused")
	}
	if err := e.Pause(true, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
}
