package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	Now      func() time.Time
}

// Service ticks every Interval and runs each job that is due. One replica
// holds the lock per cycle; jobs with their own cadence are skipped until
// it elapses.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	lastRun map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: orDefaultDuration(params.Interval, defaultInterval),
		now:      now,
		lastRun:  map[string]time.Time{},
	}, nil
}

// Run runs a cycle immediately, then on every tick until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance holds the lock, skipping cycle")
		return nil
	}

	cycleCtx, stopKeepAlive := context.WithCancel(ctx)
	done := s.keepAlive(cycleCtx)
	defer func() {
		stopKeepAlive()
		<-done
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	ran := 0
	for _, job := range s.registry.Jobs() {
		if !s.due(job) {
			continue
		}
		s.runJob(cycleCtx, job)
		ran++
	}
	s.logg.Debug(s.logg.WithField(ctx, "jobs_run", ran), "scheduled run complete")
	return nil
}

// keepAlive refreshes locks that support it at a third of their TTL so a
// slow carrier or gateway batch cannot outlive the lock.
func (s *Service) keepAlive(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	r, ok := s.lock.(refresher)
	if !ok || r.TTL() <= 0 {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.TTL() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
					s.logg.Error(ctx, "failed to refresh cron lock", err)
				}
			}
		}
	}()
	return done
}

func (s *Service) due(job Job) bool {
	sj, ok := job.(scheduled)
	if !ok || sj.Every() <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.lastRun[job.Name()]
	return !seen || s.now().Sub(last) >= sj.Every()
}

func (s *Service) markRun(name string, at time.Time) {
	s.mu.Lock()
	s.lastRun[name] = at
	s.mu.Unlock()
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	start := s.now()
	err := job.Run(jobCtx)
	duration := s.now().Sub(start)
	s.markRun(name, start)

	s.metrics.ObserveDuration(name, duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if c, ok := job.(counter); ok {
		jobCtx = s.logg.WithField(jobCtx, "processed", c.Processed())
		s.metrics.AddProcessed(name, c.Processed())
	}
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(name)
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(name)
}
