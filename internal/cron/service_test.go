package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/localpros/localpros-backend/pkg/logger"
	"github.com/localpros/localpros-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	err      error
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type countingJob struct {
	name string
	err  error
	runs int
}

func (c *countingJob) Name() string { return c.name }

func (c *countingJob) Run(context.Context) error {
	c.runs++
	return c.err
}

func newTestService(t *testing.T, lock Lock, reg prometheus.Registerer, jobs ...Job) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(reg),
	})
	require.NoError(t, err)
	return svc
}

func TestRunCycleRunsEveryJobEvenOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	lock := &fakeLock{}
	svc := newTestService(t, lock, reg, failing, ok)

	require.NoError(t, svc.runCycle(context.Background()))
	require.Equal(t, 1, ok.runs)
	require.Equal(t, 1, failing.runs)
	require.Equal(t, 1, lock.releases)
	require.False(t, lock.held)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	series := 0
	for _, mf := range mfs {
		if mf.GetName() == "maintenance_job_runs_total" {
			series = len(mf.GetMetric())
		}
	}
	require.Equal(t, 2, series)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &countingJob{name: "ok"}
	lock := &fakeLock{held: true}
	svc := newTestService(t, lock, nil, job)

	require.NoError(t, svc.runCycle(context.Background()))
	require.Zero(t, job.runs)
	require.Zero(t, lock.releases)
}

func TestRunCycleReturnsLockError(t *testing.T) {
	job := &countingJob{name: "ok"}
	svc := newTestService(t, &fakeLock{err: errors.New("redis down")}, nil, job)

	require.Error(t, svc.runCycle(context.Background()))
	require.Zero(t, job.runs)
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &countingJob{name: "ok"}
	svc := newTestService(t, &fakeLock{}, nil, job)
	svc.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, job.runs)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &fakeLock{}})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "x"})})
	require.Error(t, err)

	svc, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "x"}), Lock: &fakeLock{}})
	require.NoError(t, err)
	require.Equal(t, defaultInterval, svc.interval)
}
