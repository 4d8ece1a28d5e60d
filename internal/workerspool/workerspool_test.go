// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolCap(t *testing.T) {
	const limit = 3
	p := NewWithParallelism(limit)
	require.True(t, p.IsEnabled())
	require.False(t, p.IsUnlimited())
	require.Equal(t, limit, p.MaxParallelism())

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		p.WaitToStart(func() {
			defer wg.Done()
			now := running.Add(1)
			for {
				max := maxRunning.Load()
				if now <= max || maxRunning.CompareAndSwap(max, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	require.LessOrEqual(t, maxRunning.Load(), int32(limit))
}

func TestStartIfAvailable(t *testing.T) {
	p := NewWithParallelism(1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, p.StartIfAvailable(func() {
		defer wg.Done()
		<-release
	}))

	// Pool is full now.
	require.False(t, p.StartIfAvailable(func() {}))
	close(release)
	wg.Wait()
}

func TestInlineWhenDisabled(t *testing.T) {
	p := NewWithParallelism(0)
	require.False(t, p.IsEnabled())
	ran := false
	p.WaitToStart(func() { ran = true })
	require.True(t, ran, "disabled pool must run the task inline")
}

func TestAll(t *testing.T) {
	p := New()
	results := make([]int, 10)
	require.NoError(t, p.All(len(results), func(ii int) error {
		results[ii] = ii * ii
		return nil
	}))
	for ii, v := range results {
		require.Equal(t, ii*ii, v)
	}

	require.NoError(t, p.All(0, func(ii int) error { return errors.New("never called") }))
}

func TestAllReturnsLowestIndexedError(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	for _, parallelism := range []int{0, 2, -1} {
		p := NewWithParallelism(parallelism)
		var calls atomic.Int32
		err := p.All(8, func(ii int) error {
			calls.Add(1)
			switch ii {
			case 3:
				return errA
			case 6:
				return errB
			}
			return nil
		})
		require.ErrorIs(t, err, errA, "parallelism=%d", parallelism)
		require.Equal(t, int32(8), calls.Load(), "every task must run, parallelism=%d", parallelism)
	}
}
