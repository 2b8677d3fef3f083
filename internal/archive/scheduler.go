// Package archive runs the Hot -> Cold migration of aged chunks on a cron
// schedule, with an on-demand trigger channel for the maintenance surface.
package archive

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Runner is the archive operation the scheduler fires; the generational
// store implements it.
type Runner interface {
	ArchiveOld(ctx context.Context, force bool) (any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, force bool) (any, error)

func (f RunnerFunc) ArchiveOld(ctx context.Context, force bool) (any, error) { return f(ctx, force) }

type request struct {
	force bool
	done  chan result
}

type result struct {
	report any
	err    error
}

// Scheduler owns the long-lived archive task: it fires on the cron
// schedule and on demand via TriggerNow, never running two passes at once.
type Scheduler struct {
	runner   Runner
	schedule string
	cron     *cron.Cron
	requests chan request

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Scheduler firing runner on the given cron expression
// (standard five-field syntax, e.g. "0 2 * * *").
func New(runner Runner, schedule string) *Scheduler {
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		requests: make(chan request, 4),
	}
}

// Start launches the scheduler task. Returns an error only if the cron
// expression does not parse.
func (s *Scheduler) Start(ctx context.Context) error {
	var startErr error
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(ctx)
		s.cron = cron.New()
		_, err := s.cron.AddFunc(s.schedule, func() {
			select {
			case s.requests <- request{force: false}:
			default:
				// A run is already queued; the timer tick is redundant.
			}
		})
		if err != nil {
			startErr = err
			return
		}
		s.cron.Start()

		s.wg.Add(1)
		go s.loop()
		slog.Info("archive scheduler started", slog.String("schedule", s.schedule))
	})
	return startErr
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.requests:
			report, err := s.runner.ArchiveOld(s.ctx, req.force)
			if err != nil {
				slog.Warn("archive run failed", slog.String("error", err.Error()))
			}
			if req.done != nil {
				req.done <- result{report: report, err: err}
			}
		}
	}
}

// TriggerNow runs an archive pass immediately and waits for its report.
func (s *Scheduler) TriggerNow(ctx context.Context, force bool) (any, error) {
	done := make(chan result, 1)
	select {
	case s.requests <- request{force: force, done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
	select {
	case r := <-done:
		return r.report, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop halts the cron timer and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		slog.Info("archive scheduler stopped")
	})
}
