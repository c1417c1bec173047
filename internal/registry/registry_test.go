package registry

import (
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/mallinfo/internal/arena"
	"github.com/23skdu/mallinfo/internal/sizeclass"
)

func newRegistry(auto, manual int) *Registry {
	return New(auto, manual, sizeclass.Default(1), zerolog.New(io.Discard))
}

func TestRegistry_Empty(t *testing.T) {
	r := newRegistry(4, 2)

	assert.Equal(t, 4, r.Auto())
	assert.Equal(t, 4, r.Total())
	assert.Equal(t, 6, r.Capacity())
	for i := -1; i <= 6; i++ {
		assert.Nil(t, r.Get(i))
	}

	visited := 0
	r.Range(func(int, *arena.Arena) { visited++ })
	assert.Zero(t, visited)

	assert.False(t, r.Lookup(0, func(*arena.Arena) { t.Fatal("unexpected call") }))
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := newRegistry(2, 0)

	a, err := r.GetOrCreate(1)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Ind())
	assert.Same(t, a, r.Get(1))

	again, err := r.GetOrCreate(1)
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = r.GetOrCreate(2)
	assert.ErrorIs(t, err, ErrNotAutomatic)
	_, err = r.GetOrCreate(-1)
	assert.ErrorIs(t, err, ErrNotAutomatic)
}

func TestRegistry_GetOrCreate_Concurrent(t *testing.T) {
	r := newRegistry(1, 0)

	const n = 16
	got := make([]*arena.Arena, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.GetOrCreate(0)
			assert.NoError(t, err)
			got[i] = a
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, got[0], got[i])
	}
}

func TestRegistry_CreateManual(t *testing.T) {
	r := newRegistry(2, 2)

	m1, err := r.CreateManual()
	require.NoError(t, err)
	assert.Equal(t, 2, m1.Ind())
	assert.Equal(t, 3, r.Total())

	m2, err := r.CreateManual()
	require.NoError(t, err)
	assert.Equal(t, 3, m2.Ind())
	assert.Equal(t, 4, r.Total())

	_, err = r.CreateManual()
	assert.ErrorIs(t, err, ErrFull)

	_, err = r.GetOrCreate(2)
	assert.ErrorIs(t, err, ErrNotAutomatic, "manual slots are not automatic")
}

func TestRegistry_RangeAndLookup(t *testing.T) {
	r := newRegistry(3, 1)
	_, err := r.GetOrCreate(0)
	require.NoError(t, err)
	_, err = r.GetOrCreate(2)
	require.NoError(t, err)
	_, err = r.CreateManual()
	require.NoError(t, err)

	var seen []int
	r.Range(func(i int, a *arena.Arena) {
		assert.Equal(t, i, a.Ind())
		seen = append(seen, i)
	})
	assert.Equal(t, []int{0, 2, 3}, seen)

	var found *arena.Arena
	assert.True(t, r.Lookup(2, func(a *arena.Arena) { found = a }))
	assert.Same(t, r.Get(2), found)
	assert.False(t, r.Lookup(1, func(*arena.Arena) {}))
	assert.False(t, r.Lookup(9, func(*arena.Arena) {}))
}

func TestRegistry_NegativeCounts(t *testing.T) {
	r := newRegistry(-1, -5)
	assert.Equal(t, 0, r.Auto())
	assert.Equal(t, 0, r.Capacity())
	_, err := r.CreateManual()
	assert.ErrorIs(t, err, ErrFull)
}
