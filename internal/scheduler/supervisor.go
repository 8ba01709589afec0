// Package scheduler runs the monitoring job on a fixed interval and
// supervises the background loop that fires it.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BannerLayout formats the timestamp of the per-execution banner.
const BannerLayout = "02/01/2006 15:04:05"

// DayLayout formats Stats.LastDay.
const DayLayout = "2006-01-02"

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// HealthService is the liveness endpoint started alongside the loop.
type HealthService interface {
	Start() error
	Stop(ctx context.Context) error
}

// Config controls the supervisor timings.
type Config struct {
	Interval     time.Duration
	PollInterval time.Duration
	JoinTimeout  time.Duration
}

// Stats is a copy of the run record. LastDay is the calendar day of the
// last run in the clock's location.
type Stats struct {
	Executions int
	LastRun    time.Time
	NextRun    time.Time
	LastDay    string
	LastError  string
}

type state int

const (
	stateStopped state = iota
	stateStarting
	stateRunning
	// stateAborting marks a Stop that arrived during the initial check.
	stateAborting
)

// Supervisor owns the schedule, the loop goroutine and the run statistics.
type Supervisor struct {
	cfg      Config
	job      Job
	clock    Clock
	health   HealthService
	logger   *zap.Logger
	schedule Schedule

	mu    sync.Mutex
	state state
	stats Stats
	stop  chan struct{}
	done  chan struct{}
}

// New constructs a Supervisor. health may be nil.
func New(cfg Config, job Job, clock Clock, health HealthService, logger *zap.Logger) (*Supervisor, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("schedule interval must be > 0")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:    cfg,
		job:    job,
		clock:  clock,
		health: health,
		logger: logger.Named("supervisor"),
	}, nil
}

// Start launches monitoring. The job runs once synchronously before the
// loop goroutine starts. Calling Start while running is a no-op. A Stop
// issued during the initial check keeps the loop from starting.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state != stateStopped {
		s.mu.Unlock()
		s.logger.Warn("monitor already running")
		return
	}
	s.state = stateStarting
	s.mu.Unlock()

	s.logger.Info("starting automatic monitoring",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("poll_interval", s.cfg.PollInterval),
	)
	if s.health != nil {
		if err := s.health.Start(); err != nil {
			s.logger.Error("health server failed to start", zap.Error(err))
		}
	}

	s.schedule.Clear()
	s.schedule.Every(s.cfg.Interval, s.clock.Now())

	jobCtx := context.WithoutCancel(ctx)
	s.logger.Info("running initial check")
	s.runJob(jobCtx, false)

	stop := make(chan struct{})
	done := make(chan struct{})
	s.mu.Lock()
	if s.state == stateAborting {
		s.state = stateStopped
		s.mu.Unlock()
		s.schedule.Clear()
		s.stopHealth()
		s.logger.Info("monitoring stopped before the loop started")
		return
	}
	s.stop = stop
	s.done = done
	s.state = stateRunning
	s.mu.Unlock()

	go s.loop(jobCtx, stop, done)
}

func (s *Supervisor) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("monitor loop crashed", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			s.mu.Lock()
			s.state = stateStopped
			s.mu.Unlock()
		}
	}()
	s.logger.Info("monitor loop started")

	for {
		select {
		case <-stop:
			return
		default:
		}
		if s.schedule.Due(s.clock.Now()) {
			s.runJob(ctx, true)
		}
		select {
		case <-stop:
			return
		case <-s.clock.After(s.cfg.PollInterval):
		}
	}
}

// runJob executes the job once, logging instead of propagating failures.
func (s *Supervisor) runJob(ctx context.Context, scheduled bool) {
	start := s.clock.Now()
	s.mu.Lock()
	s.stats.Executions++
	s.stats.LastRun = start
	s.stats.LastDay = start.Format(DayLayout)
	n := s.stats.Executions
	s.mu.Unlock()

	log := s.logger.With(zap.Int("execution", n))
	log.Info(fmt.Sprintf("EXECUTION #%d - %s", n, start.Format(BannerLayout)))

	err := s.invoke(ctx)
	if err != nil {
		log.Error("execution failed", zap.Error(err))
	} else {
		log.Info("search executed successfully")
	}

	if scheduled {
		s.schedule.MarkRun(s.clock.Now())
	}
	next, ok := s.schedule.NextRun()
	if !ok {
		next = s.clock.Now().Add(s.cfg.Interval)
	}

	s.mu.Lock()
	s.stats.NextRun = next
	s.stats.LastError = ""
	if err != nil {
		s.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	log.Info("next execution at " + next.Format(BannerLayout))
}

func (s *Supervisor) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return s.job(ctx)
}

// Stop halts the loop and the health service. It waits at most
// JoinTimeout for the loop to exit and abandons it afterwards. During the
// initial check it returns without waiting for the job.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	switch s.state {
	case stateStarting:
		s.state = stateAborting
		s.mu.Unlock()
		s.logger.Info("stop requested during initial check")
		s.schedule.Clear()
		s.stopHealth()
		return
	case stateRunning:
	default:
		s.mu.Unlock()
		return
	}
	s.state = stateStopped
	stop, done := s.stop, s.done
	s.mu.Unlock()

	s.logger.Info("stopping monitoring")
	close(stop)
	s.schedule.Clear()
	s.stopHealth()

	timer := time.NewTimer(s.joinTimeout())
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("monitor loop did not exit in time, abandoning", zap.Duration("timeout", s.joinTimeout()))
	}
	s.logger.Info("monitoring stopped")
}

func (s *Supervisor) stopHealth() {
	if s.health == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.joinTimeout())
	defer cancel()
	if err := s.health.Stop(ctx); err != nil {
		s.logger.Warn("health server shutdown failed", zap.Error(err))
	}
}

func (s *Supervisor) joinTimeout() time.Duration {
	if s.cfg.JoinTimeout <= 0 {
		return 5 * time.Second
	}
	return s.cfg.JoinTimeout
}

// Running reports whether the loop is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Stats returns a copy of the run record.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// NextRun returns the scheduled time of the next execution.
func (s *Supervisor) NextRun() (time.Time, bool) {
	return s.schedule.NextRun()
}
