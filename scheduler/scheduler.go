package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"homeus/config"
	"homeus/scraper"
)

// Runner runs one scraping cycle.
type Runner interface {
	RunCycle(ctx context.Context) (*scraper.CycleResult, error)
}

type Scheduler struct {
	cfg    config.ScrapingConfig
	runner Runner
	logger *slog.Logger
	cron   *cron.Cron
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func New(cfg config.ScrapingConfig, runner Runner, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		stopCh: make(chan struct{}),
	}
}

// Start runs one cycle right away and then schedules the rest. A cron
// expression takes precedence over the fixed interval.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Cron != "" {
		if _, err := s.cron.AddFunc(s.cfg.Cron, func() { s.run(ctx) }); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)

		if s.cfg.Cron != "" {
			select {
			case <-s.stopCh:
			default:
				s.logger.Info("starting scheduler", "cron", s.cfg.Cron)
				s.cron.Start()
			}
			return
		}
		s.loop(ctx, s.cfg.Interval())
	}()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn("no schedule configured, only manual cycles will run")
		return
	}
	s.logger.Info("starting scheduler", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.run(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	select {
	case <-s.stopCh:
		return
	default:
	}

	_, err := s.runner.RunCycle(ctx)
	switch {
	case errors.Is(err, scraper.ErrCycleInProgress):
		s.logger.Info("previous cycle still running, skipping tick")
	case err != nil:
		s.logger.Error("scheduled cycle failed", "error", err)
	}
}

// Stop halts scheduling and waits for a running cycle to return.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		<-s.cron.Stop().Done()
	})
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
