// Package scheduler
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler drives periodic jobs and daily wall-clock jobs. Each job runs in
// its own goroutine; an invocation that comes due while the previous one is
// still running is skipped, never queued.
type Scheduler struct {
	wg sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{}
}

// Every schedules fn on a fixed interval until ctx is cancelled. When
// immediate is set, fn runs once right away (before the first tick). The
// non-reentrant guard keeps at most one invocation of fn in flight.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, immediate bool, fn func(ctx context.Context)) {
	var mu sync.Mutex
	run := func() {
		if !mu.TryLock() {
			log.Printf("Scheduler | %s still running, skipping this tick", name)
			return
		}
		defer mu.Unlock()
		fn(ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if immediate {
			run()
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				go run()
			}
		}
	}()
}

// DailyAt schedules fn once per day at the given wall-clock time in loc.
func (s *Scheduler) DailyAt(ctx context.Context, name string, hour, min int, loc *time.Location, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			next := nextRun(time.Now(), hour, min, loc)
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				log.Printf("Scheduler | running daily job %s", name)
				fn(ctx)
			}
		}
	}()
}

// Wait blocks until all scheduled loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// nextRun returns the next occurrence of hour:min in loc strictly after now.
func nextRun(now time.Time, hour, min int, loc *time.Location) time.Time {
	n := now.In(loc)
	next := time.Date(n.Year(), n.Month(), n.Day(), hour, min, 0, 0, loc)
	if !next.After(n) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
