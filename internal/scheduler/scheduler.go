// Package scheduler runs the engine's three recurring jobs — market
// scanning, position monitoring, and resolution settlement — each on its
// own ticker, and guards each against overlapping runs if one tick takes
// longer than its period.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one independently scheduled unit of work. Run should tolerate
// cancellation via ctx and return promptly when ctx is done.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler runs a fixed set of Jobs on independent tickers until stopped.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New builds a Scheduler over the given jobs.
func New(jobs []Job, logger *slog.Logger) *Scheduler {
	return &Scheduler{jobs: jobs, logger: logger.With("component", "scheduler")}
}

// Start launches one goroutine per job and returns immediately. Stop (via
// ctx cancellation) and Wait to observe graceful shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
}

// Wait blocks until every job goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()

	var running atomic.Bool

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.logger.Info("job started", "job", job.Name, "interval", job.Interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("job stopped", "job", job.Name)
			return
		case <-ticker.C:
			if !running.CompareAndSwap(false, true) {
				s.logger.Warn("skipping tick, previous run still in progress", "job", job.Name)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer running.Store(false)
				start := time.Now()
				job.Run(ctx)
				s.logger.Debug("job tick complete", "job", job.Name, "elapsed", time.Since(start))
			}()
		}
	}
}
