package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"homeus/config"
	"homeus/logging"
	"homeus/scraper"
)

type countingRunner struct {
	calls atomic.Int64
	err   error
}

func (r *countingRunner) RunCycle(context.Context) (*scraper.CycleResult, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &scraper.CycleResult{}, nil
}

func TestScheduler_RunsImmediatelyThenOnInterval(t *testing.T) {
	runner := &countingRunner{}
	s := New(config.ScrapingConfig{}, runner, logging.Discard())

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, int64(1), runner.calls.Load())
}

func TestScheduler_IntervalTicks(t *testing.T) {
	runner := &countingRunner{}
	s := New(config.ScrapingConfig{}, runner, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, 10*time.Millisecond)
	}()

	assert.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestScheduler_CronSchedule(t *testing.T) {
	runner := &countingRunner{err: scraper.ErrCycleInProgress}
	s := New(config.ScrapingConfig{Cron: "@every 1s"}, runner, logging.Discard())

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()
	assert.Len(t, s.cron.Entries(), 1)
}

func TestScheduler_InvalidCron(t *testing.T) {
	runner := &countingRunner{}
	s := New(config.ScrapingConfig{Cron: "every now and then"}, runner, logging.Discard())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Zero(t, runner.calls.Load())
}

func TestScheduler_RunSwallowsErrors(t *testing.T) {
	runner := &countingRunner{err: errors.New("store unavailable")}
	s := New(config.ScrapingConfig{}, runner, logging.Discard())

	s.run(context.Background())
	s.Stop()
	s.run(context.Background())
	assert.Equal(t, int64(1), runner.calls.Load())
}
