package scheduler

import (
	"sync"
	"time"
)

// Clock abstracts time for the supervisor loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Schedule tracks a single fixed-interval job.
type Schedule struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	active   bool
}

// Every registers the job to run every interval, first at now+interval.
func (s *Schedule) Every(interval time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
	s.next = now.Add(interval)
	s.active = true
}

// Due reports whether the job should run at now.
func (s *Schedule) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !now.Before(s.next)
}

// MarkRun reschedules the job to now+interval.
func (s *Schedule) MarkRun(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.next = now.Add(s.interval)
}

// NextRun returns the next due time, or false when nothing is scheduled.
func (s *Schedule) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.active
}

// Clear removes the job.
func (s *Schedule) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.next = time.Time{}
}
