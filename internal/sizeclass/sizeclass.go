package sizeclass

import (
	"errors"
	"fmt"
)

var (
	ErrNoSmallClasses  = errors.New("size class table needs at least one small class")
	ErrNotIncreasing   = errors.New("size classes must be strictly increasing")
	ErrInvalidShards   = errors.New("bin shard count must be positive")
	ErrLargeBelowSmall = errors.New("large classes must be larger than the largest small class")
)

const (
	// DefaultSlabSize is the number of bytes a bin shard maps at a time.
	DefaultSlabSize = 64 * 1024

	minLargeSize = 16 * 1024
	maxLargeSize = 64 * 1024 * 1024
)

// Class describes a small size class served by bins.
type Class struct {
	RegSize  uint64 // bytes per region
	Shards   int    // bin shards for this class
	SlabSize uint64 // bytes mapped per slab
}

// RegsPerSlab is the number of regions a single slab of this class holds.
func (c Class) RegsPerSlab() uint64 {
	if c.RegSize == 0 || c.SlabSize < c.RegSize {
		return 1
	}
	return c.SlabSize / c.RegSize
}

// Table is an immutable size-class table. Indices 0..NumSmall()-1 are small
// classes; NumSmall()..NumSizes()-1 are large classes.
type Table struct {
	small []Class
	large []uint64
}

// New builds a table from explicit small classes and large class sizes.
func New(small []Class, large []uint64) (*Table, error) {
	if len(small) == 0 {
		return nil, ErrNoSmallClasses
	}
	var prev uint64
	for i, c := range small {
		if c.RegSize <= prev {
			return nil, fmt.Errorf("small class %d (%d bytes): %w", i, c.RegSize, ErrNotIncreasing)
		}
		if c.Shards <= 0 {
			return nil, fmt.Errorf("small class %d: %w", i, ErrInvalidShards)
		}
		prev = c.RegSize
	}
	for i, size := range large {
		if size <= prev {
			if i == 0 {
				return nil, fmt.Errorf("large class 0 (%d bytes): %w", size, ErrLargeBelowSmall)
			}
			return nil, fmt.Errorf("large class %d (%d bytes): %w", i, size, ErrNotIncreasing)
		}
		prev = size
	}

	t := &Table{
		small: make([]Class, len(small)),
		large: make([]uint64, len(large)),
	}
	copy(t.small, small)
	copy(t.large, large)
	for i := range t.small {
		if t.small[i].SlabSize == 0 {
			t.small[i].SlabSize = DefaultSlabSize
		}
	}
	return t, nil
}

// Default returns the standard table with the given shard count per bin.
// Small classes run from 8 to 14336 bytes; large classes run four per
// doubling from 16 KiB to 64 MiB.
func Default(shards int) *Table {
	if shards <= 0 {
		shards = 1
	}
	t, err := New(defaultSmall(shards), defaultLarge())
	if err != nil {
		panic(err)
	}
	return t
}

func defaultSmall(shards int) []Class {
	sizes := []uint64{8, 16, 32, 48, 64, 80, 96, 112, 128}
	// four classes per doubling from 128 up to 14336
	for base := uint64(128); ; base *= 2 {
		step := base / 4
		done := false
		for n := uint64(1); n <= 4; n++ {
			size := base + n*step
			if size > 14336 {
				done = true
				break
			}
			sizes = append(sizes, size)
		}
		if done {
			break
		}
	}

	classes := make([]Class, len(sizes))
	for i, size := range sizes {
		classes[i] = Class{RegSize: size, Shards: shards, SlabSize: DefaultSlabSize}
	}
	return classes
}

func defaultLarge() []uint64 {
	sizes := []uint64{minLargeSize}
	for base := uint64(minLargeSize); base < maxLargeSize; base *= 2 {
		step := base / 4
		for n := uint64(1); n <= 4; n++ {
			sizes = append(sizes, base+n*step)
		}
	}
	return sizes
}

// NumSmall returns the number of small (binned) classes.
func (t *Table) NumSmall() int { return len(t.small) }

// NumLarge returns the number of large classes.
func (t *Table) NumLarge() int { return len(t.large) }

// NumSizes returns the total number of classes.
func (t *Table) NumSizes() int { return len(t.small) + len(t.large) }

// Small returns the small class at index i.
func (t *Table) Small(i int) Class { return t.small[i] }

// Index2Size returns the object size of class index i over the whole table.
func (t *Table) Index2Size(i int) uint64 {
	if i < len(t.small) {
		return t.small[i].RegSize
	}
	return t.large[i-len(t.small)]
}

// SizeToIndex returns the smallest class index able to hold size bytes.
// ok is false when size exceeds the largest class.
func (t *Table) SizeToIndex(size uint64) (idx int, ok bool) {
	lo, hi := 0, t.NumSizes()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if t.Index2Size(mid) < size {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == t.NumSizes() {
		return 0, false
	}
	return lo, true
}

// IsSmall reports whether class index i is served by bins.
func (t *Table) IsSmall(i int) bool { return i < len(t.small) }
