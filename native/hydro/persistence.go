package hydro

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"hydro/storage"
)

// constantsSnapshotPrefix namespaces every persisted Constants activation
// record within the backing key-value store.
var constantsSnapshotPrefix = []byte("hydro/constants/")

// scheduleEntryWire is the RLP wire form of ScheduleEntry: rlp has no
// native big.Rat support, so the multiplier travels as numerator/denominator
// strings.
type scheduleEntryWire struct {
	LockedRounds uint64
	Num          string
	Denom        string
}

// constantsWire is the RLP wire form of Constants. Durations and instants
// cross the wire as unsigned integers (nanoseconds / UnixNano, stored as
// their two's-complement uint64 bits) since rlp cannot encode signed
// integers, time.Duration or time.Time directly; *big.Int fields travel as
// decimal strings, with the empty string meaning nil.
type constantsWire struct {
	RoundLengthNanos       uint64
	FirstRoundStartNanos   uint64
	LockEpochLengthNanos   uint64
	MaxDeploymentDuration  uint64
	MaxLockEntries         uint64
	MinSplitLockSize       string
	LockDepthLimit         uint64
	ExpiryGraceNanos       uint64
	MaxTotalLocked         string
	Schedule               []scheduleEntryWire
}

func bigIntToWire(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func bigIntFromWire(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q in constants snapshot", s)
	}
	return v, nil
}

func constantsToWire(c Constants) constantsWire {
	w := constantsWire{
		RoundLengthNanos:      uint64(c.RoundLength),
		FirstRoundStartNanos:  uint64(c.FirstRoundStart.UnixNano()),
		LockEpochLengthNanos:  uint64(c.LockEpochLength),
		MaxDeploymentDuration: c.MaxDeploymentDuration,
		MaxLockEntries:        c.MaxLockEntries,
		MinSplitLockSize:      bigIntToWire(c.MinSplitLockSize),
		LockDepthLimit:        c.LockDepthLimit,
		ExpiryGraceNanos:      uint64(c.ExpiryGrace),
		MaxTotalLocked:        bigIntToWire(c.MaxTotalLocked),
	}
	w.Schedule = make([]scheduleEntryWire, len(c.Schedule))
	for i, entry := range c.Schedule {
		num, denom := "0", "1"
		if entry.Multiplier != nil {
			num = entry.Multiplier.Num().String()
			denom = entry.Multiplier.Denom().String()
		}
		w.Schedule[i] = scheduleEntryWire{LockedRounds: entry.LockedRounds, Num: num, Denom: denom}
	}
	return w
}

func constantsFromWire(w constantsWire) (Constants, error) {
	minSplit, err := bigIntFromWire(w.MinSplitLockSize)
	if err != nil {
		return Constants{}, err
	}
	maxTotal, err := bigIntFromWire(w.MaxTotalLocked)
	if err != nil {
		return Constants{}, err
	}
	c := Constants{
		RoundLength:           time.Duration(w.RoundLengthNanos),
		FirstRoundStart:       time.Unix(0, int64(w.FirstRoundStartNanos)).UTC(),
		LockEpochLength:       time.Duration(w.LockEpochLengthNanos),
		MaxDeploymentDuration: w.MaxDeploymentDuration,
		MaxLockEntries:        w.MaxLockEntries,
		MinSplitLockSize:      minSplit,
		LockDepthLimit:        w.LockDepthLimit,
		ExpiryGrace:           time.Duration(w.ExpiryGraceNanos),
		MaxTotalLocked:        maxTotal,
	}
	c.Schedule = make([]ScheduleEntry, len(w.Schedule))
	for i, entry := range w.Schedule {
		num, ok := new(big.Int).SetString(entry.Num, 10)
		if !ok {
			num = big.NewInt(0)
		}
		denom, ok := new(big.Int).SetString(entry.Denom, 10)
		if !ok || denom.Sign() == 0 {
			denom = big.NewInt(1)
		}
		c.Schedule[i] = ScheduleEntry{LockedRounds: entry.LockedRounds, Multiplier: new(big.Rat).SetFrac(num, denom)}
	}
	return c, nil
}

func constantsSnapshotKey(activationNanos int64) []byte {
	key := make([]byte, len(constantsSnapshotPrefix)+8)
	copy(key, constantsSnapshotPrefix)
	binary.BigEndian.PutUint64(key[len(constantsSnapshotPrefix):], uint64(activationNanos))
	return key
}

// PersistConstants writes a single activation record to db, keyed so that
// Iterate(constantsSnapshotPrefix) yields records in ascending
// activation_nanos order (the key suffix is a big-endian uint64, which
// sorts the same as the signed nanosecond timestamps every caller in
// practice schedules).
func PersistConstants(db storage.Database, activationNanos int64, c Constants) error {
	encoded, err := rlp.EncodeToBytes(constantsToWire(c))
	if err != nil {
		return err
	}
	return db.Put(constantsSnapshotKey(activationNanos), encoded)
}

// LoadConstantsStore rebuilds a ConstantsStore from every activation record
// persisted under constantsSnapshotPrefix. ok is false when db holds no
// hydro constants snapshot, signalling the caller should seed a fresh store
// with NewConstantsStore instead.
func LoadConstantsStore(db storage.Database) (store *ConstantsStore, ok bool, err error) {
	it := db.Iterate(constantsSnapshotPrefix)
	defer it.Release()

	var loaded *ConstantsStore
	for it.Next() {
		key := it.Key()
		if len(key) != len(constantsSnapshotPrefix)+8 {
			continue
		}
		activationNanos := int64(binary.BigEndian.Uint64(key[len(constantsSnapshotPrefix):]))
		var wire constantsWire
		if err := rlp.DecodeBytes(it.Value(), &wire); err != nil {
			return nil, false, err
		}
		c, err := constantsFromWire(wire)
		if err != nil {
			return nil, false, err
		}
		if loaded == nil {
			loaded = NewConstantsStore(c, activationNanos)
			continue
		}
		// UpdateConfig requires now < activationNanos; since snapshot replay is
		// not itself a validated mutation, install the decoded value directly
		// with forceSeed.
		if err := loaded.forceSeed(activationNanos, c); err != nil {
			return nil, false, err
		}
	}
	if loaded == nil {
		return nil, false, nil
	}
	return loaded, true, nil
}

// forceSeed installs c as the activation record at activationNanos without
// the "activationNanos must be in the future" guard UpdateConfig enforces,
// used only to replay a previously-persisted snapshot history at boot.
func (s *ConstantsStore) forceSeed(activationNanos int64, c Constants) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byActivation[activationNanos]; !exists {
		s.activations = append(s.activations, activationNanos)
	}
	s.byActivation[activationNanos] = c
	sort.Slice(s.activations, func(i, j int) bool { return s.activations[i] < s.activations[j] })
	return nil
}
