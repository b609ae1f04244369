package hydro

import (
	"math/big"
	"sort"
	"sync"

	hydroerr "hydro/core/errors"
)

// TokenInfoProvider is the polymorphic interface the core consumes from the
// external collaborator that maps denoms to token groups and ratios. It is
// a closed sum type in spirit: concrete providers (static buckets, liquid-
// staking families, dToken wrappers) implement this same narrow contract so
// dispatch stays explicit and snapshot-friendly.
type TokenInfoProvider interface {
	// ProviderID uniquely names this provider among the registry's members.
	ProviderID() string
	// ValidateDenom resolves denom to a group id for round, or reports that
	// the denom is unsupported.
	ValidateDenom(denom string, round uint64) (GroupID, bool)
	// Ratio returns the group's ratio to the base accounting unit at round.
	// A ratio of zero disables the group for that round.
	Ratio(group GroupID, round uint64) *big.Rat
	// ListGroups enumerates every group this provider exposes at round,
	// paired with its ratio. Used when the provider is added or removed so
	// Propagation can bulk-apply share deltas.
	ListGroups(round uint64) []GroupRatio
}

// GroupRatio pairs a group id with its ratio at some round.
type GroupRatio struct {
	Group GroupID
	Ratio *big.Rat
}

// Registry dispatches ValidateDenom/Ratio/ListGroups across every installed
// provider. Providers are added and removed by a whitelisted admin; the
// Propagation Layer treats an add as a 0->ratio transition for every group
// the provider exposes and a remove as ratio->0.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]TokenInfoProvider
	// owner records which provider currently claims each group id, so
	// RemoveTokenInfoProvider only reverses groups it actually owns.
	owner map[GroupID]string
}

// NewRegistry constructs an empty token registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]TokenInfoProvider),
		owner:     make(map[GroupID]string),
	}
}

// AddProvider installs provider and returns the groups it exposes at round,
// for the caller to feed into Propagation as 0->ratio transitions.
func (r *Registry) AddProvider(provider TokenInfoProvider, round uint64) ([]GroupRatio, error) {
	if provider == nil {
		return nil, hydroerr.ErrBadInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := provider.ProviderID()
	if _, exists := r.providers[id]; exists {
		return nil, hydroerr.ErrBadInput
	}
	r.providers[id] = provider
	groups := provider.ListGroups(round)
	for _, g := range groups {
		r.owner[g.Group] = id
	}
	return groups, nil
}

// RemoveProvider uninstalls the provider identified by id and returns the
// groups it exposed at round, for the caller to feed into Propagation as
// ratio->0 transitions.
func (r *Registry) RemoveProvider(id string, round uint64) ([]GroupRatio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	provider, ok := r.providers[id]
	if !ok {
		return nil, hydroerr.ErrNotFound
	}
	groups := provider.ListGroups(round)
	delete(r.providers, id)
	for _, g := range groups {
		if r.owner[g.Group] == id {
			delete(r.owner, g.Group)
		}
	}
	return groups, nil
}

// ValidateDenom resolves denom to a group id for round by asking every
// installed provider; the first provider to recognize the denom wins. The
// scan order is deterministic (sorted by provider id) so replay is
// reproducible.
func (r *Registry) ValidateDenom(denom string, round uint64) (GroupID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.sortedProviderIDs() {
		if group, ok := r.providers[id].ValidateDenom(denom, round); ok {
			return group, nil
		}
	}
	return "", hydroerr.ErrBadInput
}

// Ratio returns the ratio for group at round from whichever provider
// currently owns it, or nil if no provider claims the group.
func (r *Registry) Ratio(group GroupID, round uint64) *big.Rat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owner[group]
	if !ok {
		return nil
	}
	provider, ok := r.providers[id]
	if !ok {
		return nil
	}
	return provider.Ratio(group, round)
}

// ListGroups enumerates every group known to the registry at round.
func (r *Registry) ListGroups(round uint64) []GroupRatio {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []GroupRatio
	for _, id := range r.sortedProviderIDs() {
		out = append(out, r.providers[id].ListGroups(round)...)
	}
	return out
}

func (r *Registry) sortedProviderIDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StaticProvider is a reference TokenInfoProvider backed by a fixed denom ->
// group table and a per-(group, round) ratio override table. It models the
// simplest concrete provider named in the design notes (a static LSM
// bucket), and doubles as the test double used throughout this package's
// test suite.
type StaticProvider struct {
	ID      string
	Groups  map[string]GroupID        // denom -> group
	Ratios  map[GroupID]*big.Rat      // default ratio per group
	History map[GroupID]map[uint64]*big.Rat // optional per-round overrides
}

// NewStaticProvider constructs a StaticProvider with empty tables.
func NewStaticProvider(id string) *StaticProvider {
	return &StaticProvider{
		ID:      id,
		Groups:  make(map[string]GroupID),
		Ratios:  make(map[GroupID]*big.Rat),
		History: make(map[GroupID]map[uint64]*big.Rat),
	}
}

// ProviderID implements TokenInfoProvider.
func (p *StaticProvider) ProviderID() string { return p.ID }

// SetDenom associates denom with group.
func (p *StaticProvider) SetDenom(denom string, group GroupID) {
	p.Groups[denom] = group
}

// SetRatio sets the default ratio for group.
func (p *StaticProvider) SetRatio(group GroupID, ratio *big.Rat) {
	p.Ratios[group] = ratio
}

// SetRatioAt overrides the ratio for group starting at round.
func (p *StaticProvider) SetRatioAt(group GroupID, round uint64, ratio *big.Rat) {
	if p.History[group] == nil {
		p.History[group] = make(map[uint64]*big.Rat)
	}
	p.History[group][round] = ratio
}

// ValidateDenom implements TokenInfoProvider.
func (p *StaticProvider) ValidateDenom(denom string, round uint64) (GroupID, bool) {
	group, ok := p.Groups[denom]
	return group, ok
}

// Ratio implements TokenInfoProvider, preferring the most recent
// round-scoped override at or before round, falling back to the default.
func (p *StaticProvider) Ratio(group GroupID, round uint64) *big.Rat {
	if byRound, ok := p.History[group]; ok {
		var best uint64
		var found bool
		for r := range byRound {
			if r <= round && (!found || r > best) {
				best, found = r, true
			}
		}
		if found {
			return byRound[best]
		}
	}
	if r, ok := p.Ratios[group]; ok {
		return r
	}
	return new(big.Rat)
}

// ListGroups implements TokenInfoProvider.
func (p *StaticProvider) ListGroups(round uint64) []GroupRatio {
	out := make([]GroupRatio, 0, len(p.Ratios))
	seen := make(map[GroupID]bool)
	for _, g := range p.Groups {
		if seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, GroupRatio{Group: g, Ratio: p.Ratio(g, round)})
	}
	return out
}
