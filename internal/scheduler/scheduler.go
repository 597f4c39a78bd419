package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/yardcraft/internal/clock"
	generationdomain "github.com/smallbiznis/yardcraft/internal/generation/domain"
	obsmetrics "github.com/smallbiznis/yardcraft/internal/observability/metrics"
	"github.com/smallbiznis/yardcraft/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobRecoverGenerations = "recover_generations"

	lockKeyPrefix = "scheduler:lock:"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Generations generationdomain.Service
	Locker      *ratelimit.Locker            `optional:"true"`
	Metrics     *obsmetrics.SchedulerMetrics `optional:"true"`
	Config      Config                       `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	generations generationdomain.Service
	locker      *ratelimit.Locker
	metrics     *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Generations == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		generations: p.Generations,
		locker:      p.Locker,
		metrics:     p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	// A deadline is a soft failure; the next tick picks up the rest.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobRecoverGenerations, s.RecoverGenerationsJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		job := job
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, func(ctx context.Context) error {
			return s.withLock(ctx, job.Name, job.Run)
		}))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// withLock runs fn on one instance at a time when redis is available.
// Without redis every instance sweeps; the sweep itself is idempotent.
func (s *Scheduler) withLock(ctx context.Context, job string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	lease, err := s.locker.Acquire(ctx, lockKeyPrefix+job, s.cfg.LockTTL)
	switch {
	case errors.Is(err, ratelimit.ErrLockHeld):
		s.metrics.IncJobSkipped(job)
		s.logger(ctx).Debug("scheduler job held by another instance", zap.String("job", job))
		return nil
	case err != nil:
		s.logger(ctx).Warn("scheduler lock unavailable, running unlocked", zap.String("job", job), zap.Error(err))
		return fn(ctx)
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.logger(ctx).Warn("failed to release scheduler lock", zap.String("lock", lease.Key()), zap.Error(err))
		}
	}()
	return fn(ctx)
}

// RecoverGenerationsJob settles generations abandoned by a crashed process.
func (s *Scheduler) RecoverGenerationsJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	cutoff := s.clock.Now().Add(-s.cfg.RecoveryThreshold)

	report, err := s.generations.RecoverStale(ctx, cutoff)
	run.AddProcessed(report.Finalized)
	if err != nil {
		return err
	}
	if report.Refunded > 0 {
		s.logger(ctx).Warn("refunded abandoned generation areas",
			zap.Int("interrupted", report.Interrupted),
			zap.Int("refunded", report.Refunded),
			zap.Time("cutoff", cutoff),
		)
	}
	return nil
}
