package eventq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_PreservesOrder(t *testing.T) {
	q := New[int]()
	defer q.Stop()

	for i := range 100 {
		q.Push(i)
	}

	for i := range 100 {
		select {
		case got := <-q.Out():
			require.Equal(t, i, got)
		case <-time.After(time.Second):
			t.Fatalf("timed out at item %d", i)
		}
	}
}

func TestQueue_PushNeverBlocks(t *testing.T) {
	q := New[string]()
	defer q.Stop()

	done := make(chan struct{})
	go func() {
		for range 10_000 {
			q.Push("x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked without a consumer")
	}
	require.Eventually(t, func() bool { return q.Len() >= 9_999 }, time.Second, 5*time.Millisecond)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()
	defer q.Stop()

	var wg sync.WaitGroup
	for p := range 4 {
		wg.Go(func() {
			for i := range 50 {
				q.Push(p*1000 + i)
			}
		})
	}
	wg.Wait()

	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for range 200 {
		v := <-q.Out()
		producer, seq := v/1000, v%1000
		require.Greater(t, seq, last[producer], "per-producer order must hold")
		last[producer] = seq
	}
}

func TestQueue_StopClosesOut(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)
	q.Stop()
	q.Stop()

	q.Push(4)

	select {
	case <-q.Done():
	default:
		t.Fatal("Done not closed")
	}
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-q.Out():
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}
