package hydro

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	hydroerr "hydro/core/errors"
)

// ProposalStore holds append-only proposal records scoped to a round's
// tranche. Proposals are never mutated after creation except for the
// Score Keeper's Power cache.
type ProposalStore struct {
	mu             sync.Mutex
	proposals      map[uint64]*Proposal
	byRoundTranche map[rankKey][]uint64
	nextID         uint64
}

// NewProposalStore constructs an empty proposal store.
func NewProposalStore() *ProposalStore {
	return &ProposalStore{
		proposals:      make(map[uint64]*Proposal),
		byRoundTranche: make(map[rankKey][]uint64),
	}
}

// Create appends a new proposal. roundID, if nil, defaults to currentRound;
// an explicit roundID earlier than currentRound is rejected. Only
// whitelisted submitters may create proposals; title and description are
// trimmed. minimumAtomLiquidityFloor, if non-nil, rejects a request below
// the tranche's configured floor (§4.5 supplement).
func (s *ProposalStore) Create(submitter AccountID, roundID *uint64, trancheID uint64, title, description string, deploymentDuration uint64, minimumAtomLiquidityRequest, minimumAtomLiquidityFloor *big.Int, now time.Time, currentRound uint64, c Constants, whitelisted bool) (*Proposal, error) {
	if !whitelisted {
		return nil, hydroerr.ErrUnauthorized
	}
	round := currentRound
	if roundID != nil {
		round = *roundID
		if round < currentRound {
			return nil, hydroerr.ErrBadInput
		}
	}
	if deploymentDuration < 1 || deploymentDuration > c.MaxDeploymentDuration {
		return nil, hydroerr.ErrBadInput
	}
	if minimumAtomLiquidityFloor != nil {
		if minimumAtomLiquidityRequest == nil || minimumAtomLiquidityRequest.Cmp(minimumAtomLiquidityFloor) < 0 {
			return nil, fmt.Errorf("%w: minimum_atom_liquidity_request below tranche floor", hydroerr.ErrBadInput)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p := &Proposal{
		ProposalID:                  s.nextID,
		RoundID:                     round,
		TrancheID:                   trancheID,
		Title:                       strings.TrimSpace(title),
		Description:                 strings.TrimSpace(description),
		DeploymentDuration:          deploymentDuration,
		MinimumAtomLiquidityRequest: minimumAtomLiquidityRequest,
		Submitter:                   submitter,
		SubmitTime:                  now,
		Power:                       big.NewInt(0),
		Status:                      ProposalStatusActive,
	}
	s.proposals[p.ProposalID] = p
	key := rankKey{round, trancheID}
	s.byRoundTranche[key] = append(s.byRoundTranche[key], p.ProposalID)
	return p, nil
}

// Get returns the proposal with id, if present.
func (s *ProposalStore) Get(id uint64) (*Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	return p, ok
}

// ProposalsIn returns every proposal created in (round, tranche), ordered by
// proposal id.
func (s *ProposalStore) ProposalsIn(round, tranche uint64) []*Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]uint64(nil), s.byRoundTranche[rankKey{round, tranche}]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Proposal, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.proposals[id])
	}
	return out
}

// TrancheOf returns the tranche id a proposal belongs to, used by the Score
// Keeper to resolve the rank index a ratio change must refresh.
func (s *ProposalStore) TrancheOf(round, prop uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proposals[prop]; ok {
		return p.TrancheID
	}
	return 0
}

// RoundOf returns the round a proposal belongs to.
func (s *ProposalStore) RoundOf(prop uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[prop]
	if !ok {
		return 0, false
	}
	return p.RoundID, true
}

// Close marks a proposal ProposalStatusClosed at round close.
func (s *ProposalStore) Close(prop uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proposals[prop]; ok {
		p.Status = ProposalStatusClosed
	}
}

// SetPower writes the Score Keeper's denormalized power cache for prop.
func (s *ProposalStore) SetPower(prop uint64, power *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proposals[prop]; ok {
		p.Power = power
	}
}

// Percentage computes floor(power*100/roundTotal), set only at query time
// per §4.5; roundTotal of 0 yields 0.
func Percentage(power *big.Int, roundTotal *big.Rat) *big.Int {
	if roundTotal == nil || roundTotal.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Rat).SetInt(power)
	num.Mul(num, big.NewRat(100, 1))
	num.Quo(num, roundTotal)
	q := new(big.Int)
	q.Quo(num.Num(), num.Denom())
	return q
}
