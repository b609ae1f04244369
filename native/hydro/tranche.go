package hydro

import (
	"math/big"
	"strings"
	"sync"

	hydroerr "hydro/core/errors"
)

// TrancheRegistry tracks the independent proposal partitions within every
// round. The registry itself is not round-scoped: a tranche id, once
// created, applies to every round going forward. Names must be unique
// (supplemented from the original contract's registration check, which the
// distilled spec names only implicitly via "name (unique)" in §6).
type TrancheRegistry struct {
	mu       sync.Mutex
	tranches map[uint64]*Tranche
	byName   map[string]uint64
	nextID   uint64
}

// NewTrancheRegistry constructs an empty tranche registry.
func NewTrancheRegistry() *TrancheRegistry {
	return &TrancheRegistry{
		tranches: make(map[uint64]*Tranche),
		byName:   make(map[string]uint64),
	}
}

// Add registers a new tranche, rejecting a name collision with BadInput.
// minimumAtomLiquidityFloor, if non-nil, becomes the smallest
// MinimumAtomLiquidityRequest a proposal submitted into this tranche may
// carry (§4.5 supplement); nil leaves the tranche unfloored.
func (r *TrancheRegistry) Add(name, metadata string, minimumAtomLiquidityFloor *big.Int) (*Tranche, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, hydroerr.ErrBadInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return nil, hydroerr.ErrBadInput
	}
	r.nextID++
	t := &Tranche{TrancheID: r.nextID, Name: name, Metadata: metadata, MinimumAtomLiquidityFloor: minimumAtomLiquidityFloor}
	r.tranches[t.TrancheID] = t
	r.byName[name] = t.TrancheID
	return t, nil
}

// Edit updates an existing tranche's name, metadata, and/or floor. A name
// change that collides with another tranche is rejected. A nil
// minimumAtomLiquidityFloor leaves the existing floor unchanged.
func (r *TrancheRegistry) Edit(id uint64, name, metadata string, minimumAtomLiquidityFloor *big.Int) (*Tranche, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tranches[id]
	if !ok {
		return nil, hydroerr.ErrNotFound
	}
	trimmed := strings.TrimSpace(name)
	if trimmed != "" && trimmed != t.Name {
		if _, exists := r.byName[trimmed]; exists {
			return nil, hydroerr.ErrBadInput
		}
		delete(r.byName, t.Name)
		t.Name = trimmed
		r.byName[trimmed] = id
	}
	if metadata != "" {
		t.Metadata = metadata
	}
	if minimumAtomLiquidityFloor != nil {
		t.MinimumAtomLiquidityFloor = minimumAtomLiquidityFloor
	}
	return t, nil
}

// Get returns the tranche with id, if present.
func (r *TrancheRegistry) Get(id uint64) (*Tranche, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tranches[id]
	return t, ok
}

// List returns every registered tranche, ordered by id.
func (r *TrancheRegistry) List() []*Tranche {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Tranche, 0, len(r.tranches))
	for i := uint64(1); i <= r.nextID; i++ {
		if t, ok := r.tranches[i]; ok {
			out = append(out, t)
		}
	}
	return out
}
