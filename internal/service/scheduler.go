// internal/service/scheduler.go
package service

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner is what the scheduler drives.
type Runner interface {
	Run(ctx context.Context) (*RunSummary, error)
	Acquire() (func(ctx context.Context) (*RunSummary, error), bool)
}

// Scheduler fires sync runs on a cron schedule and on demand. Both paths share the
// orchestrator's single-flight guard.
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	schedule string
	logger   *zap.Logger
	manual   sync.WaitGroup
}

func NewScheduler(runner Runner, schedule string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger))),
		runner:   runner,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the sync job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run("schedule") }); err != nil {
		return err
	}
	s.logger.Info("scheduled contact sync", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Trigger starts a run in the background. It returns false when a run is already in
// flight. The slot is claimed before Trigger returns, so true always means this call's
// run happens.
func (s *Scheduler) Trigger() bool {
	run, ok := s.runner.Acquire()
	if !ok {
		s.logger.Info("manual trigger ignored, sync already running")
		return false
	}
	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		s.report("manual", run)
	}()
	return true
}

func (s *Scheduler) run(source string) {
	s.report(source, s.runner.Run)
}

// Runs are not cancelled by shutdown; they finish their current work.
func (s *Scheduler) report(source string, run func(ctx context.Context) (*RunSummary, error)) {
	summary, err := run(context.Background())
	if err != nil {
		s.logger.Error("sync run failed", zap.String("source", source), zap.Error(err))
		return
	}
	if summary == nil {
		s.logger.Debug("sync run skipped", zap.String("source", source))
	}
}

// Stop halts the schedule and returns a context done once every run has finished.
func (s *Scheduler) Stop() context.Context {
	cronDone := s.cron.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.manual.Wait()
		cancel()
	}()
	return ctx
}
