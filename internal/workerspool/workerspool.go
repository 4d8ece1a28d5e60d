// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a pool of worker goroutines with a soft cap on parallelism.
//
// It is used to fan out per-device work: dispatching replicas of a computation, populating host
// buffers for transfers, that sort of thing. Tasks are plain funcs; the pool only limits how many
// run at the same time.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool limits how many tasks run in parallel. The zero value is not usable, use New.
type Pool struct {
	// maxParallelism is a soft cap on parallel work: 0 disables parallelism (tasks run inline)
	// and a negative value means unlimited.
	maxParallelism int

	mu         sync.Mutex
	cond       sync.Cond // Signaled whenever numRunning decreases.
	numRunning int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	p := &Pool{maxParallelism: runtime.NumCPU()}
	p.cond = sync.Cond{L: &p.mu}
	return p
}

// NewWithParallelism returns a new Pool with the given parallelism cap.
// Use 0 to disable parallelism and -1 for unlimited.
func NewWithParallelism(maxParallelism int) *Pool {
	p := New()
	p.maxParallelism = maxParallelism
	return p
}

// IsEnabled returns whether parallelism is enabled (maxParallelism != 0).
func (p *Pool) IsEnabled() bool { return p.maxParallelism != 0 }

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0).
func (p *Pool) IsUnlimited() bool { return p.maxParallelism < 0 }

// MaxParallelism returns the soft cap on parallelism.
func (p *Pool) MaxParallelism() int { return p.maxParallelism }

// SetMaxParallelism changes the parallelism cap.
//
// Only change it before any tasks start running. If changed during execution the behavior
// is undefined.
func (p *Pool) SetMaxParallelism(maxParallelism int) {
	p.maxParallelism = maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with p.mu held.
func (p *Pool) lockedIsFull() bool {
	if p.maxParallelism == 0 {
		return true
	} else if p.maxParallelism < 0 {
		return false
	}
	return p.numRunning >= p.maxParallelism
}

// WaitToStart blocks until a worker is available, then runs the task in its own goroutine.
//
// If parallelism is disabled (maxParallelism == 0) the task runs inline and WaitToStart returns
// only when it finished. Avoid relying on concurrency between tasks in that mode, it can deadlock.
func (p *Pool) WaitToStart(task func()) {
	if p.IsUnlimited() {
		go task()
		return
	} else if p.maxParallelism == 0 {
		task()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.lockedIsFull() {
		p.cond.Wait()
	}
	p.lockedRunTaskInGoroutine(task)
}

// StartIfAvailable runs the task in a separate goroutine if there are workers left.
// It returns true if the task was started, false otherwise.
//
// It's up to the caller to synchronize with the end of the task execution.
func (p *Pool) StartIfAvailable(task func()) bool {
	if p.IsUnlimited() {
		go task()
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lockedIsFull() {
		return false
	}
	p.lockedRunTaskInGoroutine(task)
	return true
}

// lockedRunTaskInGoroutine starts the task and keeps tabs on p.numRunning.
//
// It must be called with p.mu held.
func (p *Pool) lockedRunTaskInGoroutine(task func()) {
	p.numRunning++
	go func() {
		task()
		p.mu.Lock()
		p.numRunning--
		p.cond.Signal()
		p.mu.Unlock()
	}()
}

// All runs fn(ii) for every ii in [0, n) through the pool and waits for all of them to finish.
// It returns the error of the lowest-indexed task that failed, so the reported failure is
// deterministic no matter the completion order. Every task runs regardless of other failures.
//
// With parallelism disabled the tasks simply run inline, in order.
func (p *Pool) All(n int, fn func(ii int) error) error {
	if n <= 0 {
		return nil
	}
	if !p.IsEnabled() || n == 1 {
		var firstErr error
		for ii := range n {
			if err := fn(ii); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for ii := range n {
		p.WaitToStart(func() {
			defer wg.Done()
			errs[ii] = fn(ii)
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
