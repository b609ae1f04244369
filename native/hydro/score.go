package hydro

import (
	"math/big"
	"sort"
	"sync"

	hydroerr "hydro/core/errors"
)

type roundGroupKey struct {
	Round uint64
	Group GroupID
}

type proposalGroupKey struct {
	Proposal uint64
	Group    GroupID
}

type rankKey struct {
	Round   uint64
	Tranche uint64
}

// RankEntry is one row of a per-(round, tranche) rank index, sorted
// descending by Power and, for ties, ascending by ProposalID.
type RankEntry struct {
	ProposalID uint64
	Power      *big.Int
}

// ScoreKeeper holds the incremental per-proposal and per-round power
// accumulators described in §4.4: round_total_shares, proposal_shares, the
// proposal_total cache, and the rank index built from it. Every accumulator
// is height-snapshotted so historical queries are stable regardless of
// later writes.
type ScoreKeeper struct {
	mu sync.Mutex

	roundShares map[roundGroupKey]*heightSeries // shares component
	roundRatio  map[roundGroupKey]*heightSeries // ratio materialized on first write

	proposalShares map[proposalGroupKey]*heightSeries
	proposalTotal  map[uint64]*heightSeries

	// roundsByGroup indexes which (round) entries exist for a group, so a
	// ratio change can find every round_total_shares[r'][g] for r' >= r.
	roundsByGroup map[GroupID]map[uint64]bool

	// proposalsByRoundGroup indexes which proposals hold nonzero shares for
	// (round, group), so a ratio change on the proposal's own round can find
	// them.
	proposalsByRoundGroup map[roundGroupKey]map[uint64]bool

	rank map[rankKey][]RankEntry
}

// NewScoreKeeper constructs an empty Score Keeper.
func NewScoreKeeper() *ScoreKeeper {
	return &ScoreKeeper{
		roundShares:           make(map[roundGroupKey]*heightSeries),
		roundRatio:            make(map[roundGroupKey]*heightSeries),
		proposalShares:        make(map[proposalGroupKey]*heightSeries),
		proposalTotal:         make(map[uint64]*heightSeries),
		roundsByGroup:         make(map[GroupID]map[uint64]bool),
		proposalsByRoundGroup: make(map[roundGroupKey]map[uint64]bool),
		rank:                  make(map[rankKey][]RankEntry),
	}
}

func ceilBigRat(r *big.Rat) *big.Int {
	q := new(big.Int)
	rem := new(big.Int)
	q.QuoRem(r.Num(), r.Denom(), rem)
	if rem.Sign() != 0 && r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// RoundTotalShares returns the shares and materialized ratio for (round,
// group) at height h.
func (sk *ScoreKeeper) RoundTotalShares(round uint64, group GroupID, h uint64) (shares, ratio *big.Rat) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	shares = new(big.Rat)
	ratio = new(big.Rat)
	if s, ok := sk.roundShares[roundGroupKey{round, group}]; ok {
		if v, ok := s.at(h); ok {
			shares.Set(v)
		}
	}
	if s, ok := sk.roundRatio[roundGroupKey{round, group}]; ok {
		if v, ok := s.at(h); ok {
			ratio.Set(v)
		}
	}
	return shares, ratio
}

// RoundTotal returns round_total[r] = Σ_g shares·ratio at height h, summed
// across every group that has ever had an entry for this round.
func (sk *ScoreKeeper) RoundTotal(round uint64, h uint64) *big.Rat {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	total := new(big.Rat)
	for k, s := range sk.roundShares {
		if k.Round != round {
			continue
		}
		shares, ok := s.at(h)
		if !ok {
			continue
		}
		ratio := new(big.Rat)
		if rs, ok := sk.roundRatio[k]; ok {
			if v, ok := rs.at(h); ok {
				ratio.Set(v)
			}
		}
		total.Add(total, new(big.Rat).Mul(shares, ratio))
	}
	return total
}

// ProposalSharesOf returns proposal_shares[p][g] at height h.
func (sk *ScoreKeeper) ProposalSharesOf(prop uint64, group GroupID, h uint64) *big.Rat {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	out := new(big.Rat)
	if s, ok := sk.proposalShares[proposalGroupKey{prop, group}]; ok {
		if v, ok := s.at(h); ok {
			out.Set(v)
		}
	}
	return out
}

// ProposalTotal returns proposal_total[p] at height h.
func (sk *ScoreKeeper) ProposalTotal(prop uint64, h uint64) *big.Rat {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	out := new(big.Rat)
	if s, ok := sk.proposalTotal[prop]; ok {
		if v, ok := s.at(h); ok {
			out.Set(v)
		}
	}
	return out
}

// AddRoundShares lazily materializes round_total_shares[r][g].ratio from
// currentRatio on the first write to (r, g), then adds delta to the shares
// component, both recorded at height.
func (sk *ScoreKeeper) AddRoundShares(round uint64, group GroupID, delta *big.Rat, currentRatio *big.Rat, height uint64) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	sk.addRoundSharesLocked(round, group, delta, currentRatio, height)
}

func (sk *ScoreKeeper) addRoundSharesLocked(round uint64, group GroupID, delta *big.Rat, currentRatio *big.Rat, height uint64) {
	key := roundGroupKey{round, group}
	sharesSeries, ok := sk.roundShares[key]
	if !ok {
		sharesSeries = &heightSeries{}
		sk.roundShares[key] = sharesSeries
	}
	ratioSeries, ok := sk.roundRatio[key]
	if !ok {
		ratioSeries = &heightSeries{}
		ratioSeries.set(height, new(big.Rat).Set(currentRatio))
		sk.roundRatio[key] = ratioSeries
		if sk.roundsByGroup[group] == nil {
			sk.roundsByGroup[group] = make(map[uint64]bool)
		}
		sk.roundsByGroup[group][round] = true
	}
	prev, _ := sharesSeries.latest()
	next := new(big.Rat)
	if prev != nil {
		next.Set(prev)
	}
	next.Add(next, delta)
	sharesSeries.set(height, next)
}

// RemoveRoundShares subtracts delta from round_total_shares[r][g].shares,
// returning ErrInvariantViolation if the result would go negative.
func (sk *ScoreKeeper) RemoveRoundShares(round uint64, group GroupID, delta *big.Rat, height uint64) error {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	key := roundGroupKey{round, group}
	sharesSeries, ok := sk.roundShares[key]
	if !ok {
		return hydroerr.ErrInvariantViolation
	}
	prev, _ := sharesSeries.latest()
	if prev == nil {
		prev = new(big.Rat)
	}
	next := new(big.Rat).Sub(prev, delta)
	if next.Sign() < 0 {
		return hydroerr.ErrInvariantViolation
	}
	sharesSeries.set(height, next)
	return nil
}

// AddProposalShares updates proposal_shares[p][g] and the proposal_total[p]
// cache by delta*ratio, then refreshes the rank index for (round, tranche).
// ratio is the value of ratio(g, round_of(p)) supplied by the caller (the
// registry is not consulted here so the Score Keeper stays storage-only).
func (sk *ScoreKeeper) AddProposalShares(prop, round, tranche uint64, group GroupID, delta, ratio *big.Rat, height uint64) *big.Int {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	sk.addProposalSharesLocked(prop, round, tranche, group, delta, ratio, height)
	return sk.refreshRankLocked(prop, round, tranche, height)
}

func (sk *ScoreKeeper) addProposalSharesLocked(prop, round, tranche uint64, group GroupID, delta, ratio *big.Rat, height uint64) {
	shareKey := proposalGroupKey{prop, group}
	series, ok := sk.proposalShares[shareKey]
	if !ok {
		series = &heightSeries{}
		sk.proposalShares[shareKey] = series
	}
	prev, _ := series.latest()
	next := new(big.Rat)
	if prev != nil {
		next.Set(prev)
	}
	next.Add(next, delta)
	series.set(height, next)

	rgKey := roundGroupKey{round, group}
	if sk.proposalsByRoundGroup[rgKey] == nil {
		sk.proposalsByRoundGroup[rgKey] = make(map[uint64]bool)
	}
	if next.Sign() > 0 {
		sk.proposalsByRoundGroup[rgKey][prop] = true
	} else {
		delete(sk.proposalsByRoundGroup[rgKey], prop)
	}

	totalSeries, ok := sk.proposalTotal[prop]
	if !ok {
		totalSeries = &heightSeries{}
		sk.proposalTotal[prop] = totalSeries
	}
	prevTotal, _ := totalSeries.latest()
	nextTotal := new(big.Rat)
	if prevTotal != nil {
		nextTotal.Set(prevTotal)
	}
	nextTotal.Add(nextTotal, new(big.Rat).Mul(delta, ratio))
	totalSeries.set(height, nextTotal)
}

// RemoveProposalShares subtracts delta from proposal_shares[p][g] and the
// proposal_total cache, refreshing the rank index. Returns
// ErrInvariantViolation if the shares would go negative.
func (sk *ScoreKeeper) RemoveProposalShares(prop, round, tranche uint64, group GroupID, delta, ratio *big.Rat, height uint64) (*big.Int, error) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	shareKey := proposalGroupKey{prop, group}
	series, ok := sk.proposalShares[shareKey]
	if !ok {
		return nil, hydroerr.ErrInvariantViolation
	}
	prev, _ := series.latest()
	if prev == nil {
		prev = new(big.Rat)
	}
	if prev.Cmp(delta) < 0 {
		return nil, hydroerr.ErrInvariantViolation
	}
	sk.addProposalSharesLocked(prop, round, tranche, group, new(big.Rat).Neg(delta), ratio, height)
	return sk.refreshRankLocked(prop, round, tranche, height), nil
}

// ApplyRatioChange implements §4.4's apply_ratio_change: from round
// onwards, every round_total_shares[r'][g] entry is rewritten to newRatio
// and its delta snapshotted; and, for the single round passed in (the
// caller's current round), every proposal with nonzero proposal_shares[p][g]
// has its total and rank entry adjusted by shares*(new-old).
func (sk *ScoreKeeper) ApplyRatioChange(group GroupID, fromRound uint64, oldRatio, newRatio *big.Rat, tranchesOf func(round, prop uint64) uint64, height uint64) {
	sk.mu.Lock()
	defer sk.mu.Unlock()

	delta := new(big.Rat).Sub(newRatio, oldRatio)

	for round := range sk.roundsByGroup[group] {
		if round < fromRound {
			continue
		}
		key := roundGroupKey{round, group}
		sharesSeries := sk.roundShares[key]
		shares, ok := sharesSeries.latest()
		if !ok || shares.Sign() == 0 {
			ratioSeries := sk.roundRatio[key]
			ratioSeries.set(height, new(big.Rat).Set(newRatio))
			continue
		}
		ratioSeries := sk.roundRatio[key]
		ratioSeries.set(height, new(big.Rat).Set(newRatio))
	}

	rgKey := roundGroupKey{fromRound, group}
	for prop := range sk.proposalsByRoundGroup[rgKey] {
		shareKey := proposalGroupKey{prop, group}
		series := sk.proposalShares[shareKey]
		shares, ok := series.latest()
		if !ok || shares.Sign() == 0 {
			continue
		}
		deltaPower := new(big.Rat).Mul(shares, delta)
		totalSeries := sk.proposalTotal[prop]
		prevTotal, _ := totalSeries.latest()
		nextTotal := new(big.Rat)
		if prevTotal != nil {
			nextTotal.Set(prevTotal)
		}
		nextTotal.Add(nextTotal, deltaPower)
		totalSeries.set(height, nextTotal)

		tranche := uint64(0)
		if tranchesOf != nil {
			tranche = tranchesOf(fromRound, prop)
		}
		sk.refreshRankLocked(prop, fromRound, tranche, height)
	}
}

// refreshRankLocked recomputes prop's power and moves its entry in the
// (round, tranche) rank index. Must be called with sk.mu held.
func (sk *ScoreKeeper) refreshRankLocked(prop, round, tranche uint64, height uint64) *big.Int {
	totalSeries := sk.proposalTotal[prop]
	total, ok := totalSeries.latest()
	if !ok {
		total = new(big.Rat)
	}
	power := ceilBigRat(total)

	key := rankKey{round, tranche}
	entries := sk.rank[key]
	filtered := entries[:0:0]
	for _, e := range entries {
		if e.ProposalID != prop {
			filtered = append(filtered, e)
		}
	}
	filtered = append(filtered, RankEntry{ProposalID: prop, Power: power})
	sort.Slice(filtered, func(i, j int) bool {
		cmp := filtered[i].Power.Cmp(filtered[j].Power)
		if cmp != 0 {
			return cmp > 0
		}
		return filtered[i].ProposalID < filtered[j].ProposalID
	})
	sk.rank[key] = filtered
	return power
}

// TopN returns the top n entries of the (round, tranche) rank index.
func (sk *ScoreKeeper) TopN(round, tranche uint64, n int) []RankEntry {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	entries := sk.rank[rankKey{round, tranche}]
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]RankEntry, n)
	copy(out, entries[:n])
	return out
}

// RankOf returns every entry in the (round, tranche) rank index.
func (sk *ScoreKeeper) RankOf(round, tranche uint64) []RankEntry {
	return sk.TopN(round, tranche, -1)
}
