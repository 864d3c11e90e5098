// Package ordering assigns sparse fixed-point keys to sibling entities so that
// an entity can be inserted or moved with a single key computation.
//
// Keys live in the open interval (0, MaxKey). MaxKey stays inside the range a
// JSON number can carry without losing precision.
package ordering

import (
	"errors"
	"fmt"
	"sort"
)

// Key orders one entity among its siblings.
type Key int64

const (
	MaxKey Key = 1 << 53
	// Step is the gap left after the last sibling on append and before the
	// first sibling on prepend.
	Step Key = 1 << 20
	// Mid is handed out when a scope is empty.
	Mid Key = MaxKey / 2
)

var (
	ErrDegenerateRange    = errors.New("ordering: lower bound is not below upper bound")
	ErrPrecisionExhausted = errors.New("ordering: no key left between bounds")
)

// Item is a positioned sibling. Seq is the insertion sequence and only breaks
// ties between equal keys.
type Item struct {
	ID  string
	Key Key
	Seq int64
}

// Between returns a key strictly between before and after. A nil bound is open.
func Between(before, after *Key) (Key, error) {
	switch {
	case before == nil && after == nil:
		return Mid, nil
	case before == nil:
		if *after-Step > 0 {
			return *after - Step, nil
		}
		return midpoint(0, *after)
	case after == nil:
		if *before+Step < MaxKey {
			return *before + Step, nil
		}
		return midpoint(*before, MaxKey)
	default:
		if *before >= *after {
			return 0, fmt.Errorf("%w: %d >= %d", ErrDegenerateRange, *before, *after)
		}
		return midpoint(*before, *after)
	}
}

func midpoint(lo, hi Key) (Key, error) {
	if hi-lo < 2 {
		return 0, fmt.Errorf("%w: (%d, %d)", ErrPrecisionExhausted, lo, hi)
	}
	return lo + (hi-lo)/2, nil
}

// Compare orders by key, then by insertion sequence, then by id so the result
// is total even for corrupted input.
func Compare(a, b Item) int {
	switch {
	case a.Key < b.Key:
		return -1
	case a.Key > b.Key:
		return 1
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return Compare(items[i], items[j]) < 0 })
}

// Neighbors returns the bounds for inserting at index into the sorted items.
// An index outside [0, len(items)] appends.
func Neighbors(items []Item, index int) (before, after *Key) {
	if index < 0 || index > len(items) {
		index = len(items)
	}
	if index > 0 {
		k := items[index-1].Key
		before = &k
	}
	if index < len(items) {
		k := items[index].Key
		after = &k
	}
	return before, after
}

// Rebalance spreads n keys evenly over the key space. The input order is kept:
// the i-th returned key replaces the i-th input key.
func Rebalance(keys []Key) []Key {
	out := make([]Key, len(keys))
	if len(keys) == 0 {
		return out
	}
	gap := MaxKey / Key(len(keys)+1)
	for i := range out {
		out[i] = gap * Key(i+1)
	}
	return out
}

// RebalanceItems returns a sorted copy of items carrying rebalanced keys.
func RebalanceItems(items []Item) []Item {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	Sort(sorted)
	keys := make([]Key, len(sorted))
	for i, item := range sorted {
		keys[i] = item.Key
	}
	for i, key := range Rebalance(keys) {
		sorted[i].Key = key
	}
	return sorted
}

// MinGap is the smallest distance between adjacent keys, counting the distance
// to both ends of the key space. Larger means more room for insertions.
func MinGap(keys []Key) Key {
	gap := MaxKey
	prev := Key(0)
	for _, k := range keys {
		if k-prev < gap {
			gap = k - prev
		}
		prev = k
	}
	if MaxKey-prev < gap {
		gap = MaxKey - prev
	}
	return gap
}
