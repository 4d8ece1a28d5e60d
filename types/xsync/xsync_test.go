package xsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	require.False(t, l.Test())

	var published int
	done := make(chan struct{})
	go func() {
		l.Wait()
		// The write below happened before Trigger, so it must be visible here.
		require.Equal(t, 42, published)
		close(done)
	}()
	published = 42
	l.Trigger()
	<-done
	require.True(t, l.Test())

	// Triggering again is a no-op, not a panic.
	l.Trigger()
	require.True(t, l.Test())

	select {
	case <-l.WaitChan():
	default:
		t.Fatal("WaitChan of a triggered latch should be closed")
	}
}

func TestLatchConcurrentTriggers(t *testing.T) {
	l := NewLatch()
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Trigger()
		}()
	}
	wg.Wait()
	require.True(t, l.Test())
}

func TestSyncMap(t *testing.T) {
	var m SyncMap[int64, string]
	_, ok := m.Load(1)
	require.False(t, ok)

	m.Store(1, "a")
	v, ok := m.Load(1)
	require.True(t, ok)
	require.Equal(t, "a", v)

	actual, loaded := m.LoadOrStore(1, "b")
	require.True(t, loaded)
	require.Equal(t, "a", actual)
	actual, loaded = m.LoadOrStore(2, "b")
	require.False(t, loaded)
	require.Equal(t, "b", actual)

	seen := make(map[int64]string)
	m.Range(func(key int64, value string) bool {
		seen[key] = value
		return true
	})
	require.Equal(t, map[int64]string{1: "a", 2: "b"}, seen)

	v, loaded = m.LoadAndDelete(1)
	require.True(t, loaded)
	require.Equal(t, "a", v)
	_, ok = m.Load(1)
	require.False(t, ok)

	m.Delete(2)
	_, ok = m.Load(2)
	require.False(t, ok)
}
