package main

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// thinkScheduler caps how many sessions expand their trees at the same time.
// Sessions take one slot per StepBudgeted slice and release it before
// waiting for the next interval.
type thinkScheduler struct {
	sem     *semaphore.Weighted
	workers int
	running atomic.Int64
	slices  atomic.Uint64
}

func newThinkScheduler(workers int) *thinkScheduler {
	if workers < 1 {
		workers = 1
	}
	return &thinkScheduler{sem: semaphore.NewWeighted(int64(workers)), workers: workers}
}

func (s *thinkScheduler) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.running.Add(1)
	s.slices.Add(1)
	return nil
}

func (s *thinkScheduler) Release() {
	s.running.Add(-1)
	s.sem.Release(1)
}

// Run executes fn while holding a slot.
func (s *thinkScheduler) Run(ctx context.Context, fn func()) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	fn()
	return nil
}

func (s *thinkScheduler) Workers() int { return s.workers }

func (s *thinkScheduler) Running() int { return int(s.running.Load()) }

func (s *thinkScheduler) Slices() uint64 { return s.slices.Load() }

func thinkWorkerCount(config Config, cpuCount int) int {
	if cpuCount < 1 {
		cpuCount = 1
	}
	workers := config.ThinkWorkers
	if workers <= 0 {
		workers = cpuCount
	}
	if workers > cpuCount {
		workers = cpuCount
	}
	return workers
}
