package hydro

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	hydroerr "hydro/core/errors"
	"hydro/core/events"
	"hydro/storage"
)

// Engine is the single entry point into the lockup-voting-scoring core. It
// owns every accumulator named in §3 and executes one message at a time
// under its own mutex, matching the single-threaded, deterministic,
// transactional execution model of §5: a message either commits in full or
// is rejected with no partial writes observable.
type Engine struct {
	mu sync.Mutex

	constants *ConstantsStore
	nowFn     func() time.Time
	height    uint64

	registry  *Registry
	lockups   *LockupStore
	scores    *ScoreKeeper
	proposals *ProposalStore
	tranches  *TrancheRegistry

	votes              map[voteKey]*Vote
	votingAllowedRound map[trancheLockKey]uint64
	// voteRounds indexes, for each (tranche, lock), every round in which a
	// Vote (real or zero-power) was ever recorded, so split/merge lineage
	// carry-forward can find past participation without scanning every
	// round that has ever existed.
	voteRounds map[trancheLockKey][]uint64

	paused  bool
	emitter events.Emitter

	// storageDB, if set via SetStorage, receives every scheduled Constants
	// activation so a restart can rehydrate the configuration history via
	// LoadConstantsStore. Every other accumulator (locks, scores, proposals,
	// votes) remains in-memory only (§5's transactional model assumes a
	// single live process; nothing else in the core is read on a cold boot
	// path today).
	storageDB storage.Database
}

// SetStorage wires db as the backing store for the Constants activation
// history. Existing Engines keep their in-memory ConstantsStore; use
// NewEngineFromStorage to rehydrate one from a prior run instead.
func (e *Engine) SetStorage(db storage.Database) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.storageDB = db
}

// NewEngineFromStorage constructs an Engine whose Constants history is
// loaded from db if a prior snapshot exists, or seeded fresh with initial
// otherwise. Every subsequent UpdateConfig is persisted back to db.
func NewEngineFromStorage(db storage.Database, initial Constants, now time.Time) (*Engine, error) {
	store, ok, err := LoadConstantsStore(db)
	if err != nil {
		return nil, err
	}
	e := NewEngine(initial, now)
	if ok {
		e.constants = store
	} else if err := PersistConstants(db, now.UnixNano(), e.constantsLocked()); err != nil {
		return nil, err
	}
	e.storageDB = db
	return e, nil
}

func (e *Engine) setVote(k voteKey, v *Vote) {
	e.votes[k] = v
	tlk := trancheLockKey{Tranche: k.Tranche, LockID: k.LockID}
	rounds := e.voteRounds[tlk]
	if len(rounds) == 0 || rounds[len(rounds)-1] != k.Round {
		e.voteRounds[tlk] = append(rounds, k.Round)
	}
}

func (e *Engine) deleteVote(k voteKey) {
	delete(e.votes, k)
}

type voteKey struct {
	Round   uint64
	Tranche uint64
	LockID  uint64
}

type trancheLockKey struct {
	Tranche uint64
	LockID  uint64
}

// NewEngine constructs an Engine seeded with initial and activated
// immediately (at time now).
func NewEngine(initial Constants, now time.Time) *Engine {
	if initial.Schedule == nil {
		initial.Schedule = defaultSchedule()
	}
	if initial.FirstRoundStart.IsZero() {
		initial.FirstRoundStart = now
	}
	return &Engine{
		constants:          NewConstantsStore(initial, now.UnixNano()),
		nowFn:              func() time.Time { return now },
		registry:           NewRegistry(),
		lockups:            NewLockupStore(),
		scores:             NewScoreKeeper(),
		proposals:           NewProposalStore(),
		tranches:           NewTrancheRegistry(),
		votes:              make(map[voteKey]*Vote),
		votingAllowedRound: make(map[trancheLockKey]uint64),
		voteRounds:         make(map[trancheLockKey][]uint64),
		emitter:            events.NoopEmitter{},
	}
}

// SetNowFunc overrides the engine's clock; used by tests to control time
// deterministically.
func (e *Engine) SetNowFunc(fn func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nowFn = fn
}

// SetEmitter installs the event sink used to broadcast typed events emitted
// by mutating operations.
func (e *Engine) SetEmitter(em events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if em == nil {
		em = events.NoopEmitter{}
	}
	e.emitter = em
}

// Registry exposes the token registry so AddTokenInfoProvider-style setup
// code can install providers before serving traffic.
func (e *Engine) Registry() *Registry { return e.registry }

// Tranches exposes the tranche registry for read access.
func (e *Engine) Tranches() *TrancheRegistry { return e.tranches }

// Constants returns the Constants active right now.
func (e *Engine) Constants() Constants {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.constantsLocked()
}

func (e *Engine) constantsLocked() Constants {
	return e.constants.At(e.nowFn())
}

func (e *Engine) now() time.Time { return e.nowFn() }

func (e *Engine) currentRound() (uint64, error) {
	return RoundID(e.constantsLocked(), e.now())
}

func (e *Engine) nextHeight() uint64 {
	e.height++
	return e.height
}

func (e *Engine) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func (e *Engine) guardPaused() error {
	if e.paused {
		return hydroerr.ErrPaused
	}
	return nil
}

// Pause toggles the global pause switch. Auth (whitelisted admin) is
// resolved by the caller per §1's out-of-scope authorization lists.
func (e *Engine) Pause(isAdmin bool, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !isAdmin {
		return hydroerr.ErrUnauthorized
	}
	e.paused = paused
	e.emit(events.ModulePaused{Paused: paused})
	return nil
}

// LockTokens implements §4.3 lock. duration must equal a schedule-permitted
// lock_duration; coin.Denom must validate against the token registry.
func (e *Engine) LockTokens(owner AccountID, coin Coin, duration time.Duration) (*Lock, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guardPaused(); err != nil {
		return nil, err
	}
	c := e.constantsLocked()
	if !IsScheduledDuration(c, duration) {
		return nil, fmt.Errorf("%w: lock_duration not schedule-permitted", hydroerr.ErrBadInput)
	}
	round, err := e.currentRound()
	if err != nil {
		return nil, err
	}
	if _, err := e.registry.ValidateDenom(coin.Denom, round); err != nil {
		return nil, err
	}
	now := e.now()
	lock, err := e.lockups.Lock(owner, coin, now, duration, c)
	if err != nil {
		return nil, err
	}
	e.propagateLockChange(c, round, nil, lock)
	e.emit(events.LockCreated{LockID: lock.LockID, Owner: string(owner), Denom: coin.Denom, Amount: coin.Amount.String(), Duration: uint64(duration)})
	return lock, nil
}

// RefreshLockDuration implements §4.3 refresh.
func (e *Engine) RefreshLockDuration(owner AccountID, lockIDs []uint64, duration time.Duration) ([]*Lock, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guardPaused(); err != nil {
		return nil, err
	}
	c := e.constantsLocked()
	if !IsScheduledDuration(c, duration) {
		return nil, fmt.Errorf("%w: lock_duration not schedule-permitted", hydroerr.ErrBadInput)
	}
	round, err := e.currentRound()
	if err != nil {
		return nil, err
	}
	now := e.now()
	before, after, err := e.lockups.Refresh(owner, lockIDs, now, duration)
	if err != nil {
		return nil, err
	}
	for i := range after {
		e.propagateLockChange(c, round, before[i], after[i])
		e.emit(events.LockRefreshed{LockID: after[i].LockID, OldDuration: uint64(before[i].LockEnd.Sub(before[i].LockStart)), NewDuration: uint64(duration)})
	}
	return after, nil
}

// SplitLock implements §4.3 split.
func (e *Engine) SplitLock(owner AccountID, lockID uint64, amount *big.Int) (childA, childB *Lock, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guardPaused(); err != nil {
		return nil, nil, err
	}
	c := e.constantsLocked()
	round, err := e.currentRound()
	if err != nil {
		return nil, nil, err
	}
	now := e.now()
	parent, childA, childB, err := e.lockups.Split(owner, lockID, amount, now, c)
	if err != nil {
		return nil, nil, err
	}
	e.propagateLockChange(c, round, parent, childA)
	e.propagateLockChange(c, round, nil, childB)
	e.carryVotesOnSplitOrMerge(c, round, []uint64{parent.LockID}, []*Lock{childA, childB})
	e.emit(events.LockSplit{ParentID: parent.LockID, ChildAID: childA.LockID, ChildBID: childB.LockID})
	return childA, childB, nil
}

// MergeLocks implements §4.3 merge.
func (e *Engine) MergeLocks(owner AccountID, lockIDs []uint64) (*Lock, error) {
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
	now := e.now()
	parents, child, err := e.lockups.Merge(owner, lockIDs, now, c)
	if err != nil {
		return nil, err
	}
	for _, p := range parents {
		e.propagateLockChange(c, round, p, nil)
	}
	e.propagateLockChange(c, round, nil, child)
	parentIDs := make([]uint64, len(parents))
	for i, p := range parents {
		parentIDs[i] = p.LockID
	}
	e.carryVotesOnSplitOrMerge(c, round, parentIDs, []*Lock{child})
	e.emit(events.LockMerged{ParentIDs: parentIDs, ChildID: child.LockID})
	return child, nil
}

// UnlockTokens implements §4.3 unlock.
func (e *Engine) UnlockTokens(owner AccountID, lockIDs []uint64) ([]*Lock, *big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guardPaused(); err != nil {
		return nil, nil, err
	}
	now := e.now()
	unlocked, total, err := e.lockups.Unlock(owner, lockIDs, now)
	if err != nil {
		return nil, nil, err
	}
	for _, l := range unlocked {
		e.emit(events.LockUnlocked{LockID: l.LockID, Owner: string(owner), Denom: l.Funds.Denom, Amount: l.Funds.Amount.String()})
	}
	return unlocked, total, nil
}

// CreateProposal implements §4.5. whitelisted resolves the out-of-scope
// authorization-list check.
func (e *Engine) CreateProposal(submitter AccountID, roundID *uint64, trancheID uint64, title, description string, deploymentDuration uint64, minimumAtomLiquidityRequest *big.Int, whitelisted bool) (*Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guardPaused(); err != nil {
		return nil, err
	}
	tranche, ok := e.tranches.Get(trancheID)
	if !ok {
		return nil, hydroerr.ErrNotFound
	}
	c := e.constantsLocked()
	round, err := e.currentRound()
	if err != nil {
		return nil, err
	}
	p, err := e.proposals.Create(submitter, roundID, trancheID, title, description, deploymentDuration, minimumAtomLiquidityRequest, tranche.MinimumAtomLiquidityFloor, e.now(), round, c, whitelisted)
	if err != nil {
		return nil, err
	}
	e.emit(events.ProposalCreated{ProposalID: p.ProposalID, Round: p.RoundID, TrancheID: p.TrancheID, Submitter: string(submitter)})
	return p, nil
}

// AddTranche implements the AddTranche message. minimumAtomLiquidityFloor,
// if non-nil, sets the tranche's proposal floor (§4.5 supplement).
func (e *Engine) AddTranche(isAdmin bool, name, metadata string, minimumAtomLiquidityFloor *big.Int) (*Tranche, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !isAdmin {
		return nil, hydroerr.ErrUnauthorized
	}
	if err := e.guardPaused(); err != nil {
		return nil, err
	}
	return e.tranches.Add(name, metadata, minimumAtomLiquidityFloor)
}

// EditTranche implements the EditTranche message.
func (e *Engine) EditTranche(isAdmin bool, id uint64, name, metadata string, minimumAtomLiquidityFloor *big.Int) (*Tranche, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !isAdmin {
		return nil, hydroerr.ErrUnauthorized
	}
	if err := e.guardPaused(); err != nil {
		return nil, err
	}
	return e.tranches.Edit(id, name, metadata, minimumAtomLiquidityFloor)
}

// UpdateConfig implements the time-versioned Constants write.
func (e *Engine) UpdateConfig(isAdmin bool, activationNanos int64, patch ConstantsPatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !isAdmin {
		return hydroerr.ErrUnauthorized
	}
	if err := e.constants.UpdateConfig(e.now(), activationNanos, patch); err != nil {
		return err
	}
	if e.storageDB != nil {
		return PersistConstants(e.storageDB, activationNanos, e.constants.atLocked(activationNanos))
	}
	return nil
}

// DeleteConfigs removes scheduled future Constants.
func (e *Engine) DeleteConfigs(isAdmin bool, activationNanos []int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !isAdmin {
		return hydroerr.ErrUnauthorized
	}
	return e.constants.DeleteConfigs(e.now(), activationNanos)
}

// AddTokenInfoProvider installs a provider and propagates 0->ratio
// transitions for every group it exposes (§4.2, §4.7.3).
func (e *Engine) AddTokenInfoProvider(isAdmin bool, provider TokenInfoProvider) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !isAdmin {
		return hydroerr.ErrUnauthorized
	}
	round, err := e.currentRound()
	if err != nil {
		return err
	}
	groups, err := e.registry.AddProvider(provider, round)
	if err != nil {
		return err
	}
	c := e.constantsLocked()
	for _, g := range groups {
		e.applyRatioChange(c, round, g.Group, new(big.Rat), g.Ratio)
	}
	return nil
}

// RemoveTokenInfoProvider uninstalls a provider and propagates ratio->0
// transitions for every group it exposed.
func (e *Engine) RemoveTokenInfoProvider(isAdmin bool, providerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !isAdmin {
		return hydroerr.ErrUnauthorized
	}
	round, err := e.currentRound()
	if err != nil {
		return err
	}
	groups, err := e.registry.RemoveProvider(providerID, round)
	if err != nil {
		return err
	}
	c := e.constantsLocked()
	for _, g := range groups {
		e.applyRatioChange(c, round, g.Group, g.Ratio, new(big.Rat))
	}
	return nil
}

// CloseRound finalizes round: every proposal created in round is marked
// closed in every tranche and its final per-tranche ranking is returned. The
// core has no internal clock tick (§5 — time advances only between
// transactions via the exogenous block clock), so round close is an
// explicit, externally-triggered operation rather than automatic.
func (e *Engine) CloseRound(isAdmin bool, round uint64) (map[uint64][]RankEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !isAdmin {
		return nil, hydroerr.ErrUnauthorized
	}
	rankings := make(map[uint64][]RankEntry)
	for _, t := range e.tranches.List() {
		for _, p := range e.proposals.ProposalsIn(round, t.TrancheID) {
			e.proposals.Close(p.ProposalID)
		}
		rankings[t.TrancheID] = e.scores.TopN(round, t.TrancheID, 0)
	}
	e.emit(events.RoundClosed{Round: round})
	return rankings, nil
}

// UpdateTokenGroupRatio implements §4.4 apply_ratio_change, dispatched from
// the message table's UpdateTokenGroupRatio (auth: token-info provider
// only, resolved externally into isProvider).
func (e *Engine) UpdateTokenGroupRatio(isProvider bool, group GroupID, oldRatio, newRatio *big.Rat) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !isProvider {
		return hydroerr.ErrUnauthorized
	}
	round, err := e.currentRound()
	if err != nil {
		return err
	}
	c := e.constantsLocked()
	e.applyRatioChange(c, round, group, oldRatio, newRatio)
	return nil
}
