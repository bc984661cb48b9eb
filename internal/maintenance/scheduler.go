// Package maintenance runs periodic housekeeping for the artifact service:
// purging expired rate-limit counters and cache rows, and keeping the uptime
// gauge current.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Cleaner purges expired rows and reports how many were removed
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// UptimeRecorder receives the process start time on every tick
type UptimeRecorder interface {
	UpdateUptime(startTime time.Time)
}

// Scheduler runs maintenance jobs on cron schedules
type Scheduler struct {
	cron        *cron.Cron
	ctx         context.Context
	cancel      context.CancelFunc
	jobTimeout  time.Duration
	startedAt   time.Time
	mu          sync.Mutex
	jobs        map[string]cron.EntryID
	lastRemoved map[string]int64
	gate        func() bool
}

// NewScheduler creates a scheduler. Jobs are bounded by jobTimeout.
func NewScheduler(jobTimeout time.Duration) *Scheduler {
	if jobTimeout <= 0 {
		jobTimeout = time.Minute
	}

	// Accept both 5-field expressions and 6-field ones with seconds
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:        cron.New(cron.WithParser(parser)),
		ctx:         ctx,
		cancel:      cancel,
		jobTimeout:  jobTimeout,
		startedAt:   time.Now(),
		jobs:        make(map[string]cron.EntryID),
		lastRemoved: make(map[string]int64),
	}
}

// AddCleanup schedules c, which purges state shared by all instances, under
// name. It only runs while the gate is open. Re-adding a name replaces its
// schedule.
func (s *Scheduler) AddCleanup(name, schedule string, c Cleaner) error {
	return s.add(name, schedule, func() { s.runCleanup(name, c, true) })
}

// AddLocalCleanup schedules c, which purges this instance's own state, on
// every instance regardless of the gate
func (s *Scheduler) AddLocalCleanup(name, schedule string, c Cleaner) error {
	return s.add(name, schedule, func() { s.runCleanup(name, c, false) })
}

// AddUptime refreshes the uptime gauge on schedule
func (s *Scheduler) AddUptime(schedule string, r UptimeRecorder) error {
	r.UpdateUptime(s.startedAt)
	return s.add("uptime", schedule, func() { r.UpdateUptime(s.startedAt) })
}

func (s *Scheduler) add(name, schedule string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[name]; ok {
		s.cron.Remove(existing)
		delete(s.jobs, name)
	}

	id, err := s.cron.AddFunc(schedule, fn)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	s.jobs[name] = id

	log.Debug().Str("job", name).Str("schedule", schedule).Msg("Scheduled maintenance job")
	return nil
}

// SetGate makes cleanups run only while gate returns true, so instances
// sharing tables do not all purge them
func (s *Scheduler) SetGate(gate func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = gate
}

func (s *Scheduler) runCleanup(name string, c Cleaner, gated bool) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gated && gate != nil && !gate() {
		log.Debug().Str("job", name).Msg("Skipping maintenance cleanup on non-leader instance")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	removed, err := c.Cleanup(ctx)
	if err != nil {
		log.Warn().Err(err).Str("job", name).Msg("Maintenance cleanup failed")
		return
	}

	s.mu.Lock()
	s.lastRemoved[name] = removed
	s.mu.Unlock()

	log.Debug().
		Str("job", name).
		Int64("removed", removed).
		Dur("duration", time.Since(start)).
		Msg("Maintenance cleanup completed")
}

// Jobs returns the names of scheduled jobs
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// LastRemoved returns the row count of the last successful run of name
func (s *Scheduler) LastRemoved(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.lastRemoved[name]
	return n, ok
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	log.Info().Int("jobs", len(s.Jobs())).Msg("Starting maintenance scheduler")
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping maintenance scheduler")
	s.cancel()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Maintenance scheduler shutdown timeout - some jobs may not have completed")
	}
}
