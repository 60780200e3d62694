// Package scheduler runs the guard's periodic duties. Each job owns one goroutine that waits for its
// next slot, runs, and waits again until the scheduler's context is canceled.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/bridge-guard/guard/metrics"
)

// Job is a named periodic duty. Exactly one of Interval or NextDelay must be set.
type Job struct {
	Name string
	// Interval runs the job at a fixed period.
	Interval time.Duration
	// NextDelay computes the wait before every run. Used for duties aligned to turn boundaries.
	NextDelay func() time.Duration
	// RunImmediately runs the job once before the first wait.
	RunImmediately bool
	Run            func(ctx context.Context) error
}

func (j Job) validate() error {
	switch {
	case j.Name == "":
		return errors.New("job name is empty")
	case j.Run == nil:
		return errors.Errorf("job %s has no run function", j.Name)
	case (j.Interval > 0) == (j.NextDelay != nil):
		return errors.Errorf("job %s must set exactly one of interval or next delay", j.Name)
	}
	return nil
}

func (j Job) delay() time.Duration {
	if j.NextDelay != nil {
		if d := j.NextDelay(); d > 0 {
			return d
		}
		// already at the boundary, avoid a busy loop
		return time.Millisecond
	}
	return j.Interval
}

// Scheduler starts and stops a set of jobs.
type Scheduler struct {
	logger zerolog.Logger

	mu      sync.Mutex
	jobs    []Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty scheduler.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.Errorf("cannot add job %s to a running scheduler", job.Name)
	}
	for _, existing := range s.jobs {
		if existing.Name == job.Name {
			return errors.Errorf("job %s already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches one goroutine per job and returns immediately.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop cancels every job and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	logger := s.logger.With().Str("job", job.Name).Logger()

	if job.RunImmediately {
		s.runOnce(ctx, job, logger)
	}

	timer := time.NewTimer(job.delay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("job stopped")
			return
		case <-timer.C:
			s.runOnce(ctx, job, logger)
			timer.Reset(job.delay())
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job, logger zerolog.Logger) {
	start := time.Now()
	err := job.Run(ctx)
	metrics.SweepDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

	if err != nil && ctx.Err() == nil {
		metrics.SweepErrors.WithLabelValues(job.Name).Inc()
		logger.Error().Err(err).Msg("job failed")
	}
}
