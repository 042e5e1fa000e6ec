package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence_StartsAtZero(t *testing.T) {
	var s Sequence
	assert.Equal(t, int64(0), s.Current())
	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())
	assert.Equal(t, int64(2), s.Current())
}

func TestSequence_Reset(t *testing.T) {
	var s Sequence
	s.Next()
	s.Next()
	s.Reset()
	assert.Equal(t, int64(0), s.Current())
	assert.Equal(t, int64(1), s.Next())
}

func TestSequence_ThreadSafe(t *testing.T) {
	var s Sequence
	const workers, calls = 50, 100

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				v := s.Next()
				mu.Lock()
				assert.False(t, seen[v], "duplicate value %d", v)
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*calls)
	assert.Equal(t, int64(workers*calls), s.Current())
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("chg")
	assert.Equal(t, "chg-0001", g.Generate())
	assert.Equal(t, "chg-0002", g.Generate())

	other := NewSequentialIDs("chg")
	assert.Equal(t, "chg-0001", other.Generate())
}

func TestDiscardLogger(t *testing.T) {
	l := DiscardLogger()
	require.NotNil(t, l)
	l.Info("dropped")
}
