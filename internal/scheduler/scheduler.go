// Package scheduler drives the recurring jobs. Each job runs on its own
// cadence; a tick that fires while the previous run is still going is
// skipped, never run concurrently with itself.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Cadence computes the next fire time strictly after the given instant.
// Implementations must not depend on anything but their arguments, so the
// schedule is reproducible.
type Cadence interface {
	Next(after time.Time) time.Time
}

// Hourly fires at the top of every hour.
func Hourly() Cadence {
	return Every(time.Hour)
}

type every time.Duration

// Every fires on boundaries aligned to d (for d=1h: on the hour), which
// keeps the schedule drift-free across long runs.
func Every(d time.Duration) Cadence {
	return every(d)
}

func (e every) Next(after time.Time) time.Time {
	d := time.Duration(e)
	return after.Truncate(d).Add(d)
}

type dailyAt struct {
	hour, minute int
}

// DailyAt fires once per day at the given UTC wall-clock time.
func DailyAt(hour, minute int) Cadence {
	return dailyAt{hour: hour, minute: minute}
}

func (d dailyAt) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), d.hour, d.minute, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunFunc is one job body. Errors are logged and swallowed at this
// boundary; a failing job must never take the scheduler down.
type RunFunc func(ctx context.Context) error

type job struct {
	name    string
	cadence Cadence
	run     RunFunc
	running atomic.Bool
	skipped atomic.Int64
}

// Scheduler owns one goroutine per registered job.
type Scheduler struct {
	clock  Clock
	logger *slog.Logger
	jobs   []*job
	wg     sync.WaitGroup
}

func New(clock Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{clock: clock, logger: logger}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(name string, cadence Cadence, run RunFunc) {
	s.jobs = append(s.jobs, &job{name: name, cadence: cadence, run: run})
}

// Start launches the tick loops and returns. Jobs stop when ctx is
// cancelled; Wait blocks until the loops have exited. In-flight runs are
// not forcibly cancelled by their next tick, only by ctx.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Wait blocks until all tick loops have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	for {
		now := s.clock.Now()
		next := j.cadence.Next(now)

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(next.Sub(now)):
		}

		if j.running.Load() {
			// Previous run still in flight: coalesce this tick.
			j.skipped.Add(1)
			if s.logger != nil {
				s.logger.Warn("tick skipped, previous run still in flight", "job", j.name)
			}
			continue
		}

		j.running.Store(true)
		go func() {
			defer j.running.Store(false)
			defer func() {
				if r := recover(); r != nil && s.logger != nil {
					s.logger.Error("job panicked", "job", j.name, "panic", r)
				}
			}()

			start := s.clock.Now()
			if err := j.run(ctx); err != nil {
				if s.logger != nil {
					s.logger.Error("job failed", "job", j.name, "error", err)
				}
				return
			}
			if s.logger != nil {
				s.logger.Debug("job completed", "job", j.name, "duration", s.clock.Now().Sub(start))
			}
		}()
	}
}

// SkippedTicks reports how many ticks a job has coalesced.
func (s *Scheduler) SkippedTicks(name string) int64 {
	for _, j := range s.jobs {
		if j.name == name {
			return j.skipped.Load()
		}
	}
	return 0
}
