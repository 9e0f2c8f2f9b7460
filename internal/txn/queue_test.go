package txn

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFO_EnqueueDequeue(t *testing.T) {
	q := newFIFO[string]()

	require.True(t, q.Enqueue("a"), "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, "a", got)
}

func TestFIFO_Order(t *testing.T) {
	q := newFIFO[int]()
	for i := 1; i <= 3; i++ {
		q.Enqueue(i)
	}

	for want := 1; want <= 3; want++ {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestFIFO_TryDequeue_Empty(t *testing.T) {
	q := newFIFO[int]()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestFIFO_Wait_SignalsOnEnqueue(t *testing.T) {
	q := newFIFO[int]()

	done := make(chan int)
	go func() {
		<-q.Wait()
		v, _ := q.TryDequeue()
		done <- v
	}()

	q.Enqueue(42)

	select {
	case v := <-done:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("waiter was not signalled")
	}
}

func TestFIFO_Close_WakesWaiters(t *testing.T) {
	q := newFIFO[int]()

	done := make(chan bool)
	go func() {
		_, open := <-q.Wait()
		done <- open
	}()

	q.Close()

	select {
	case open := <-done:
		assert.False(t, open, "signal channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake after close")
	}
	assert.True(t, q.Closed())
}

func TestFIFO_Enqueue_AfterClose(t *testing.T) {
	q := newFIFO[int]()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(1), "enqueue after close should return false")
}

func TestFIFO_DrainAfterClose(t *testing.T) {
	q := newFIFO[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Close()

	got, ok := q.TryDequeue()
	require.True(t, ok, "items queued before close are still returned")
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, q.Len())
}

func TestFIFO_Len(t *testing.T) {
	q := newFIFO[int]()
	assert.Equal(t, 0, q.Len())

	q.Enqueue(1)
	q.Enqueue(2)
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())
}

func TestFIFO_ThreadSafe(t *testing.T) {
	q := newFIFO[int]()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for {
		v, ok := q.TryDequeue()
		if !ok {
			break
		}
		require.False(t, seen[v], "item %d dequeued twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, producers*perProducer)
}
