package hydro

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	hydroerr "hydro/core/errors"
)

// LockupStore owns Lock entities and their split/merge ancestry graph: the
// children/parents relations, per-owner indices, and the global
// total-locked-tokens counter. It does not compute voting power itself —
// Propagation reads the before/after state this store returns and derives
// share deltas for the Score Keeper.
type LockupStore struct {
	mu sync.Mutex

	locks    map[uint64]*Lock
	children map[uint64][]ChildRef
	parents  map[uint64][]uint64

	// byOwner holds locks still eligible to vote/refresh/split/merge/unlock:
	// leaves that have not themselves been superseded by a later split or
	// merge.
	byOwner map[AccountID]map[uint64]bool
	// claimable additionally retains locks superseded by split/merge, so
	// external tribute settlement can still resolve composition for them.
	claimable map[AccountID]map[uint64]bool

	nextLockID  uint64
	totalLocked *big.Int
}

// NewLockupStore constructs an empty lockup store.
func NewLockupStore() *LockupStore {
	return &LockupStore{
		locks:       make(map[uint64]*Lock),
		children:    make(map[uint64][]ChildRef),
		parents:     make(map[uint64][]uint64),
		byOwner:     make(map[AccountID]map[uint64]bool),
		claimable:   make(map[AccountID]map[uint64]bool),
		totalLocked: big.NewInt(0),
	}
}

func (s *LockupStore) nextID() uint64 {
	s.nextLockID++
	return s.nextLockID
}

func (s *LockupStore) addOwned(owner AccountID, id uint64) {
	if s.byOwner[owner] == nil {
		s.byOwner[owner] = make(map[uint64]bool)
	}
	s.byOwner[owner][id] = true
	if s.claimable[owner] == nil {
		s.claimable[owner] = make(map[uint64]bool)
	}
	s.claimable[owner][id] = true
}

func (s *LockupStore) supersede(owner AccountID, id uint64) {
	delete(s.byOwner[owner], id)
}

// GetLock returns the lock with id, if present.
func (s *LockupStore) GetLock(id uint64) (*Lock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	return l, ok
}

// LocksByOwner returns every active (non-superseded) lock owned by owner.
func (s *LockupStore) LocksByOwner(owner AccountID) []*Lock {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.byOwner[owner]))
	for id := range s.byOwner[owner] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Lock, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.locks[id])
	}
	return out
}

// ClaimableLocksByOwner returns every lock (active or superseded) ever owned
// by owner, for tribute-settlement lineage queries.
func (s *LockupStore) ClaimableLocksByOwner(owner AccountID) []*Lock {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.claimable[owner]))
	for id := range s.claimable[owner] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*Lock, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.locks[id])
	}
	return out
}

// TotalLocked returns Σ amount over every lock that has not been unlocked.
func (s *LockupStore) TotalLocked() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.totalLocked)
}

// Lock creates a fresh lockup for owner. duration must already have been
// validated against the active schedule and coin.denom against the token
// registry by the caller; this method enforces the per-owner entry cap and
// the optional global total-locked cap.
func (s *LockupStore) Lock(owner AccountID, coin Coin, now time.Time, duration time.Duration, c Constants) (*Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if coin.Amount == nil || coin.Amount.Sign() <= 0 {
		return nil, hydroerr.ErrBadInput
	}
	if uint64(len(s.byOwner[owner])) >= c.MaxLockEntries {
		return nil, fmt.Errorf("%w: max lock entries reached", hydroerr.ErrBadInput)
	}
	if c.MaxTotalLocked != nil {
		next := new(big.Int).Add(s.totalLocked, coin.Amount)
		if next.Cmp(c.MaxTotalLocked) > 0 {
			return nil, fmt.Errorf("%w: total locked cap exceeded", hydroerr.ErrBadInput)
		}
	}

	id := s.nextID()
	lock := &Lock{
		LockID:    id,
		Owner:     owner,
		Funds:     coin,
		LockStart: now,
		LockEnd:   now.Add(duration),
	}
	s.locks[id] = lock
	s.addOwned(owner, id)
	s.totalLocked.Add(s.totalLocked, coin.Amount)
	return lock, nil
}

// Refresh extends lockEnd for each id to now+duration, rejecting any id
// whose new end would not be strictly later than its current end. Returns
// the before-mutation snapshot paired with each refreshed lock so callers
// can compute net share deltas.
func (s *LockupStore) Refresh(owner AccountID, ids []uint64, now time.Time, duration time.Duration) (before, after []*Lock, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newEnd := now.Add(duration)
	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		lock, ok := s.locks[id]
		if !ok {
			return nil, nil, hydroerr.ErrNotFound
		}
		if lock.Owner != owner || !s.byOwner[owner][id] {
			return nil, nil, hydroerr.ErrUnauthorized
		}
		if !newEnd.After(lock.LockEnd) || seen[id] {
			return nil, nil, fmt.Errorf("%w: refresh must strictly extend lock_end", hydroerr.ErrBadInput)
		}
		seen[id] = true
	}
	before = make([]*Lock, 0, len(ids))
	after = make([]*Lock, 0, len(ids))
	for _, id := range ids {
		lock := s.locks[id]
		snapshot := *lock
		before = append(before, &snapshot)
		lock.LockEnd = newEnd
		after = append(after, lock)
	}
	return before, after, nil
}

// Split divides lock_id into two fresh leaf locks with identical (denom,
// lock_end), amounts `amount` and `funds.amount-amount`. The parent is
// marked expired and kept claimable; its two children inherit its share of
// the ancestry graph.
func (s *LockupStore) Split(owner AccountID, lockID uint64, amount *big.Int, now time.Time, c Constants) (parent, childA, childB *Lock, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.locks[lockID]
	if !ok {
		return nil, nil, nil, hydroerr.ErrNotFound
	}
	if parent.Owner != owner || !s.byOwner[owner][lockID] {
		return nil, nil, nil, hydroerr.ErrUnauthorized
	}
	if s.ancestorDepthLocked(lockID, now, c.ExpiryGrace) >= c.LockDepthLimit {
		return nil, nil, nil, fmt.Errorf("%w: lock_depth_limit reached", hydroerr.ErrBadInput)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, nil, hydroerr.ErrBadInput
	}
	// Reproduces the original implementation's quirk: the underflow guard on
	// funds.amount - amount is phrased in terms of "amount", not
	// "funds.amount", in the resulting error (design note c).
	if amount.Cmp(parent.Funds.Amount) > 0 {
		return nil, nil, nil, fmt.Errorf("%w: checked_sub: amount underflow", hydroerr.ErrBadInput)
	}
	remaining := new(big.Int).Sub(parent.Funds.Amount, amount)
	if amount.Cmp(c.MinSplitLockSize) < 0 || remaining.Cmp(c.MinSplitLockSize) < 0 {
		return nil, nil, nil, fmt.Errorf("%w: split amount below MIN_SPLIT_LOCK_SIZE", hydroerr.ErrBadInput)
	}

	idA := s.nextID()
	idB := s.nextID()
	childA = &Lock{LockID: idA, Owner: owner, Funds: Coin{Denom: parent.Funds.Denom, Amount: amount}, LockStart: now, LockEnd: parent.LockEnd}
	childB = &Lock{LockID: idB, Owner: owner, Funds: Coin{Denom: parent.Funds.Denom, Amount: remaining}, LockStart: now, LockEnd: parent.LockEnd}
	s.locks[idA] = childA
	s.locks[idB] = childB
	s.addOwned(owner, idA)
	s.addOwned(owner, idB)

	total := new(big.Rat).SetInt(parent.Funds.Amount)
	fracA := new(big.Rat).SetInt(amount)
	fracA.Quo(fracA, total)
	fracB := new(big.Rat).SetInt(remaining)
	fracB.Quo(fracB, total)

	parent.ExpiredAt = now
	s.children[lockID] = []ChildRef{{ChildID: idA, Fraction: fracA}, {ChildID: idB, Fraction: fracB}}
	s.parents[idA] = []uint64{lockID}
	s.parents[idB] = []uint64{lockID}
	s.supersede(owner, lockID)

	return parent, childA, childB, nil
}

// Merge collapses k>=2 distinct same-denom, same-owner locks into one fresh
// lock with summed amount, lock_start=now, and lock_end=max(parents'
// lock_end).
func (s *LockupStore) Merge(owner AccountID, lockIDs []uint64, now time.Time, c Constants) (parents []*Lock, child *Lock, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(lockIDs) < 2 {
		return nil, nil, fmt.Errorf("%w: merge requires at least two locks", hydroerr.ErrBadInput)
	}
	seen := make(map[uint64]bool, len(lockIDs))
	parents = make([]*Lock, 0, len(lockIDs))
	var denom string
	var lockEnd time.Time
	sum := big.NewInt(0)
	for i, id := range lockIDs {
		if seen[id] {
			return nil, nil, fmt.Errorf("%w: duplicate lock id in merge", hydroerr.ErrBadInput)
		}
		seen[id] = true
		lock, ok := s.locks[id]
		if !ok {
			return nil, nil, hydroerr.ErrNotFound
		}
		if lock.Owner != owner || !s.byOwner[owner][id] {
			return nil, nil, hydroerr.ErrUnauthorized
		}
		if s.ancestorDepthLocked(id, now, c.ExpiryGrace) >= c.LockDepthLimit {
			return nil, nil, fmt.Errorf("%w: lock_depth_limit reached", hydroerr.ErrBadInput)
		}
		if i == 0 {
			denom = lock.Funds.Denom
			lockEnd = lock.LockEnd
		} else {
			if lock.Funds.Denom != denom {
				return nil, nil, fmt.Errorf("%w: merge requires identical denom", hydroerr.ErrBadInput)
			}
			if lock.LockEnd.After(lockEnd) {
				lockEnd = lock.LockEnd
			}
		}
		sum.Add(sum, lock.Funds.Amount)
		parents = append(parents, lock)
	}

	childID := s.nextID()
	child = &Lock{LockID: childID, Owner: owner, Funds: Coin{Denom: denom, Amount: sum}, LockStart: now, LockEnd: lockEnd}
	s.locks[childID] = child
	s.addOwned(owner, childID)

	parentIDs := make([]uint64, 0, len(parents))
	for _, p := range parents {
		p.ExpiredAt = now
		s.children[p.LockID] = []ChildRef{{ChildID: childID, Fraction: big.NewRat(1, 1)}}
		s.supersede(owner, p.LockID)
		parentIDs = append(parentIDs, p.LockID)
	}
	s.parents[childID] = parentIDs

	return parents, child, nil
}

// ConvertDenom rewrites an active lock's denom and amount in place (the
// dToken conversion of §4.7.4). lock_id and lock_end are preserved; the
// returned before snapshot lets the caller reconcile share accumulators
// under the old denom's group before applying the new one.
func (s *LockupStore) ConvertDenom(owner AccountID, lockID uint64, newDenom string, newAmount *big.Int) (before, after *Lock, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[lockID]
	if !ok {
		return nil, nil, hydroerr.ErrNotFound
	}
	if lock.Owner != owner || !s.byOwner[owner][lockID] {
		return nil, nil, hydroerr.ErrUnauthorized
	}
	if newAmount == nil || newAmount.Sign() <= 0 {
		return nil, nil, hydroerr.ErrBadInput
	}

	snapshot := *lock
	before = &snapshot

	s.totalLocked.Sub(s.totalLocked, lock.Funds.Amount)
	lock.Funds = Coin{Denom: newDenom, Amount: newAmount}
	s.totalLocked.Add(s.totalLocked, newAmount)

	return before, lock, nil
}

// Unlock releases every owned lock in ids (or every owned lock if ids is
// empty) whose lock_end has strictly elapsed. Non-expired locks are
// silently skipped, matching §4.3.
func (s *LockupStore) Unlock(owner AccountID, ids []uint64, now time.Time) (unlocked []*Lock, total *big.Int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := ids
	if len(candidates) == 0 {
		candidates = make([]uint64, 0, len(s.byOwner[owner]))
		for id := range s.byOwner[owner] {
			candidates = append(candidates, id)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	}

	total = big.NewInt(0)
	for _, id := range candidates {
		lock, ok := s.locks[id]
		if !ok {
			continue
		}
		if lock.Owner != owner || !s.byOwner[owner][id] {
			continue
		}
		if !now.After(lock.LockEnd) {
			continue // silently skipped: not yet expired
		}
		unlocked = append(unlocked, lock)
		total.Add(total, lock.Funds.Amount)
		s.totalLocked.Sub(s.totalLocked, lock.Funds.Amount)
		delete(s.locks, id)
		delete(s.byOwner[owner], id)
		delete(s.claimable[owner], id)
	}
	return unlocked, total, nil
}

// Composition performs a depth-first traversal of the children relation
// from lockID, returning the leaf-weight vector summing to 1 (up to integer
// rounding of the underlying rationals).
func (s *LockupStore) Composition(lockID uint64) (map[uint64]*big.Rat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[lockID]; !ok {
		return nil, hydroerr.ErrNotFound
	}
	out := make(map[uint64]*big.Rat)
	visited := make(map[uint64]bool)
	if err := s.composeInto(lockID, big.NewRat(1, 1), out, visited); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LockupStore) composeInto(id uint64, weight *big.Rat, out map[uint64]*big.Rat, visited map[uint64]bool) error {
	if visited[id] {
		return hydroerr.ErrInvariantViolation
	}
	visited[id] = true
	defer delete(visited, id)

	refs, ok := s.children[id]
	if !ok || len(refs) == 0 {
		if existing, ok := out[id]; ok {
			existing.Add(existing, weight)
		} else {
			out[id] = new(big.Rat).Set(weight)
		}
		return nil
	}
	for _, ref := range refs {
		childWeight := new(big.Rat).Mul(weight, ref.Fraction)
		if err := s.composeInto(ref.ChildID, childWeight, out, visited); err != nil {
			return err
		}
	}
	return nil
}

// AncestorDepth returns the longest chain of non-expired ancestors of
// lockID, inclusive, counting only parents whose expiry grace has not yet
// elapsed. Returns 0 if the lock itself is expired past grace.
func (s *LockupStore) AncestorDepth(lockID uint64, now time.Time, expiryGrace time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ancestorDepthLocked(lockID, now, expiryGrace)
}

func (s *LockupStore) ancestorDepthLocked(lockID uint64, now time.Time, expiryGrace time.Duration) uint64 {
	lock, ok := s.locks[lockID]
	if !ok {
		return 0
	}
	if !lock.ExpiredAt.IsZero() && now.After(lock.ExpiredAt.Add(expiryGrace)) {
		return 0
	}
	visited := make(map[uint64]bool)
	return s.depthFrom(lockID, now, expiryGrace, visited)
}

func (s *LockupStore) depthFrom(id uint64, now time.Time, expiryGrace time.Duration, visited map[uint64]bool) uint64 {
	if visited[id] {
		return 0 // cycle guard; the DAG is acyclic by construction (§9)
	}
	visited[id] = true
	defer delete(visited, id)

	var best uint64
	for _, pid := range s.parents[id] {
		parent, ok := s.locks[pid]
		if !ok {
			continue
		}
		if !parent.ExpiredAt.IsZero() && now.After(parent.ExpiredAt.Add(expiryGrace)) {
			continue
		}
		d := s.depthFrom(pid, now, expiryGrace, visited)
		if d > best {
			best = d
		}
	}
	return best + 1
}
