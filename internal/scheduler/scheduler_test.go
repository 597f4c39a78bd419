package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/yardcraft/internal/clock"
	"github.com/smallbiznis/yardcraft/internal/config"
	generationdomain "github.com/smallbiznis/yardcraft/internal/generation/domain"
	obsmetrics "github.com/smallbiznis/yardcraft/internal/observability/metrics"
	"github.com/smallbiznis/yardcraft/internal/ratelimit"
	"github.com/smallbiznis/yardcraft/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGenerations struct {
	mu      sync.Mutex
	cutoffs []time.Time
	report  generationdomain.RecoveryReport
	err     error
	block   bool
}

func (f *fakeGenerations) Submit(context.Context, snowflake.ID, generationdomain.SubmitRequest) (generationdomain.Request, error) {
	return generationdomain.Request{}, errors.New("not implemented")
}

func (f *fakeGenerations) Get(context.Context, snowflake.ID, snowflake.ID) (generationdomain.Request, error) {
	return generationdomain.Request{}, errors.New("not implemented")
}

func (f *fakeGenerations) List(context.Context, snowflake.ID, pagination.Pagination) (generationdomain.ListResponse, error) {
	return generationdomain.ListResponse{}, errors.New("not implemented")
}

func (f *fakeGenerations) Drain(context.Context) error { return nil }

func (f *fakeGenerations) RecoverStale(ctx context.Context, olderThan time.Time) (generationdomain.RecoveryReport, error) {
	f.mu.Lock()
	f.cutoffs = append(f.cutoffs, olderThan)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return generationdomain.RecoveryReport{}, ctx.Err()
	}
	return f.report, f.err
}

func newTestScheduler(t *testing.T, gens *fakeGenerations, cfg Config) (*Scheduler, *prometheus.Registry, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	registry := prometheus.NewRegistry()
	metrics, err := obsmetrics.NewSchedulerMetrics(registry)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	sched, err := New(Params{
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fake,
		Generations: gens,
		Metrics:     metrics,
		Config:      cfg,
	})
	require.NoError(t, err)
	return sched, registry, fake
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if pair.GetValue() != want {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRecoverGenerationsUsesThresholdCutoff(t *testing.T) {
	gens := &fakeGenerations{report: generationdomain.RecoveryReport{Interrupted: 2, Refunded: 2, Finalized: 1}}
	sched, registry, fake := newTestScheduler(t, gens, Config{RecoveryThreshold: 8 * time.Minute})

	require.NoError(t, sched.RunOnce(context.Background()))

	require.Len(t, gens.cutoffs, 1)
	assert.Equal(t, fake.Now().Add(-8*time.Minute), gens.cutoffs[0])
	assert.Equal(t, 1.0, counterValue(t, registry, "yardcraft_scheduler_job_runs_total", map[string]string{"job": JobRecoverGenerations}))
}

func TestRunOnceWrapsJobErrors(t *testing.T) {
	gens := &fakeGenerations{err: errors.New("database unavailable")}
	sched, registry, _ := newTestScheduler(t, gens, Config{})

	err := sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobRecoverGenerations+": database unavailable")
	assert.Equal(t, 1.0, counterValue(t, registry, "yardcraft_scheduler_job_errors_total", map[string]string{
		"job":    JobRecoverGenerations,
		"reason": obsmetrics.SchedulerJobReasonError,
	}))
}

func TestRunJobTreatsDeadlineAsSoftFailure(t *testing.T) {
	gens := &fakeGenerations{block: true}
	sched, registry, _ := newTestScheduler(t, gens, Config{JobTimeout: 20 * time.Millisecond})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, 1.0, counterValue(t, registry, "yardcraft_scheduler_job_timeouts_total", map[string]string{"job": JobRecoverGenerations}))
	assert.Equal(t, 1.0, counterValue(t, registry, "yardcraft_scheduler_job_errors_total", map[string]string{
		"job":    JobRecoverGenerations,
		"reason": obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}))
}

func TestEnabledJobsFiltersRuns(t *testing.T) {
	gens := &fakeGenerations{}
	sched, _, _ := newTestScheduler(t, gens, Config{EnabledJobs: []string{"something_else"}})

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Empty(t, gens.cutoffs)

	sched.cfg.EnabledJobs = []string{"RECOVER_GENERATIONS"}
	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Len(t, gens.cutoffs, 1)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	gens := &fakeGenerations{}
	sched, _, _ := newTestScheduler(t, gens, Config{RunInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.RunForever(ctx)
	}()

	require.Eventually(t, func() bool {
		gens.mu.Lock()
		defer gens.mu.Unlock()
		return len(gens.cutoffs) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
}

func TestProvideConfigOutlivesRequestTimeout(t *testing.T) {
	policy := config.DefaultGenerationPolicy()
	policy.RequestTimeout = 9 * time.Minute
	policy.RecoveryInterval = 2 * time.Minute

	cfg := ProvideConfig(config.NewStaticPolicyHolder(policy))
	assert.Equal(t, 2*time.Minute, cfg.RunInterval)
	assert.Equal(t, 18*time.Minute, cfg.RecoveryThreshold)
}

func TestUnreachableLockStoreStillRunsSweep(t *testing.T) {
	gens := &fakeGenerations{}
	sched, registry, _ := newTestScheduler(t, gens, Config{})
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	sched.locker = ratelimit.NewLocker(client)

	require.NoError(t, sched.RunOnce(context.Background()))

	assert.Len(t, gens.cutoffs, 1)
	assert.Zero(t, counterValue(t, registry, "yardcraft_scheduler_job_skipped_total", map[string]string{"job": JobRecoverGenerations}))
}
