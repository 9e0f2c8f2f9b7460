package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_NextIncrementsMonotonically(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Next()
	clock.Next()

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	seen := make(chan int64, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seen <- clock.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for seq := range seen {
		require.False(t, unique[seq], "seq %d generated twice", seq)
		unique[seq] = true
	}
	assert.Equal(t, int64(goroutines*calls), clock.Current())
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, "tx-1", ids.Generate())
	assert.Equal(t, "tx-2", ids.Generate())

	ids.Reset()
	assert.Equal(t, "tx-1", ids.Generate())

	named := NewSequentialIDs("undo")
	assert.Equal(t, "undo-1", named.Generate())
}

func TestLogger(t *testing.T) {
	logger := Logger(t)
	require.NotNil(t, logger)
	logger.Debug("visible with -v", "key", "value")
}
