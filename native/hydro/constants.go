package hydro

import (
	"math/big"
	"sort"
	"sync"
	"time"

	hydroerr "hydro/core/errors"
)

// ConstantsPatch carries the optional fields UpdateConfig may override.
// Unset (nil) fields inherit from the most recently activated Constants.
type ConstantsPatch struct {
	RoundLength           *time.Duration
	FirstRoundStart       *time.Time
	LockEpochLength       *time.Duration
	MaxDeploymentDuration *uint64
	MaxLockEntries        *uint64
	MinSplitLockSize      *big.Int
	LockDepthLimit        *uint64
	ExpiryGrace           *time.Duration
	MaxTotalLocked        *big.Int
	Schedule              []ScheduleEntry
}

func (p ConstantsPatch) apply(base Constants) Constants {
	next := base
	if p.RoundLength != nil {
		next.RoundLength = *p.RoundLength
	}
	if p.FirstRoundStart != nil {
		next.FirstRoundStart = *p.FirstRoundStart
	}
	if p.LockEpochLength != nil {
		next.LockEpochLength = *p.LockEpochLength
	}
	if p.MaxDeploymentDuration != nil {
		next.MaxDeploymentDuration = *p.MaxDeploymentDuration
	}
	if p.MaxLockEntries != nil {
		next.MaxLockEntries = *p.MaxLockEntries
	}
	if p.MinSplitLockSize != nil {
		next.MinSplitLockSize = p.MinSplitLockSize
	}
	if p.LockDepthLimit != nil {
		next.LockDepthLimit = *p.LockDepthLimit
	}
	if p.ExpiryGrace != nil {
		next.ExpiryGrace = *p.ExpiryGrace
	}
	if p.MaxTotalLocked != nil {
		next.MaxTotalLocked = p.MaxTotalLocked
	}
	if p.Schedule != nil {
		next.Schedule = p.Schedule
	}
	return next
}

// ConstantsStore is the time-versioned configuration store described in §3:
// values are stored keyed by activation_nanos, and a read at time t returns
// the config with the greatest key <= t.
type ConstantsStore struct {
	mu           sync.Mutex
	byActivation map[int64]Constants
	activations  []int64 // kept sorted ascending
}

// NewConstantsStore seeds the store with an initial Constants value,
// activated at the given nanosecond timestamp (typically the instantiation
// time, so it applies immediately).
func NewConstantsStore(initial Constants, activationNanos int64) *ConstantsStore {
	return &ConstantsStore{
		byActivation: map[int64]Constants{activationNanos: initial},
		activations:  []int64{activationNanos},
	}
}

// At returns the Constants active at t: the entry with the greatest
// activation_nanos <= t.UnixNano(). If every entry activates after t, the
// earliest entry is returned.
func (s *ConstantsStore) At(t time.Time) Constants {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.atLocked(t.UnixNano())
}

func (s *ConstantsStore) atLocked(nanos int64) Constants {
	idx := sort.Search(len(s.activations), func(i int) bool { return s.activations[i] > nanos })
	idx--
	if idx < 0 {
		idx = 0
	}
	return s.byActivation[s.activations[idx]]
}

// UpdateConfig schedules patch to take effect at activationNanos, which
// must be strictly in the future relative to now. The resulting Constants
// merges patch over whichever configuration is active at activationNanos
// (i.e. the config that would otherwise be active then).
func (s *ConstantsStore) UpdateConfig(now time.Time, activationNanos int64, patch ConstantsPatch) error {
	if activationNanos <= now.UnixNano() {
		return hydroerr.ErrBadInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.atLocked(activationNanos)
	next := patch.apply(base)
	if _, exists := s.byActivation[activationNanos]; !exists {
		s.activations = append(s.activations, activationNanos)
		sort.Slice(s.activations, func(i, j int) bool { return s.activations[i] < s.activations[j] })
	}
	s.byActivation[activationNanos] = next
	return nil
}

// DeleteConfigs removes scheduled (future) configurations at the given
// activation timestamps. Deleting the currently active or a past
// configuration is rejected to keep historical snapshot reads stable.
func (s *ConstantsStore) DeleteConfigs(now time.Time, activationNanos []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range activationNanos {
		if a <= now.UnixNano() {
			return hydroerr.ErrBadInput
		}
		if _, ok := s.byActivation[a]; !ok {
			return hydroerr.ErrNotFound
		}
	}
	for _, a := range activationNanos {
		delete(s.byActivation, a)
	}
	filtered := s.activations[:0:0]
	for _, a := range s.activations {
		if _, ok := s.byActivation[a]; ok {
			filtered = append(filtered, a)
		}
	}
	s.activations = filtered
	return nil
}

// List returns every scheduled activation timestamp, ascending.
func (s *ConstantsStore) List() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.activations...)
}
