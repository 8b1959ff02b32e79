// Package scheduler runs the publish pipeline on a cron schedule and on
// demand, one run at a time per process, keeping a bounded run history.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/application/publish"
	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/diarco/connexa-sync/internal/infrastructure/config"
	"github.com/diarco/connexa-sync/internal/infrastructure/logger"
	"github.com/diarco/connexa-sync/internal/infrastructure/telemetry"
)

// Runner executes one publish run
type Runner interface {
	Run(ctx context.Context) (*replenishment.RunSummary, error)
}

// Scheduler fires publish runs from a cron expression and manual triggers
type Scheduler struct {
	runner  Runner
	config  config.SchedulerConfig
	logger  *zap.Logger
	history *History
	now     func() time.Time

	cron    *cron.Cron
	entryID cron.EntryID

	mu        sync.Mutex
	isRunning bool
	busy      bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a scheduler. The cron expression is validated here.
func New(runner Runner, cfg config.SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("%w: runner is required", ErrInvalidConfig)
	}
	if cfg.JobTimeout <= 0 {
		return nil, fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	if _, err := cron.ParseStandard(cfg.PublishCron); err != nil {
		return nil, fmt.Errorf("%w: publish cron %q: %v", ErrInvalidConfig, cfg.PublishCron, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		runner:  runner,
		config:  cfg,
		logger:  logger.Named("scheduler"),
		history: NewHistory(cfg.HistorySize),
		now:     time.Now,
	}, nil
}

// Start registers the cron entry and starts firing runs
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger})))

	// with the cron disabled only manual triggers start runs
	if s.config.Enabled {
		id, err := s.cron.AddFunc(s.config.PublishCron, func() {
			if _, err := s.begin(TriggerCron); errors.Is(err, ErrRunInProgress) {
				s.logger.Info("Scheduled run skipped, previous run still executing")
			}
		})
		if err != nil {
			s.cancel()
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		s.entryID = id
	}
	s.cron.Start()
	s.isRunning = true

	s.logger.Info("Scheduler started",
		zap.Bool("cron_enabled", s.config.Enabled),
		zap.String("publish_cron", s.config.PublishCron),
		zap.Duration("job_timeout", s.config.JobTimeout),
		zap.Time("next_run", s.cron.Entry(s.entryID).Next))
	return nil
}

// Stop stops the cron and waits for an in-flight run to finish or ctx to end
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cronCtx := s.cron.Stop()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		// abort the in-flight run; its claims are released by the pipeline
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler is started
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Busy reports whether a run is executing
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// NextRun returns the next cron fire time, zero when stopped
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// Trigger starts a manual run in the background and returns its record
func (s *Scheduler) Trigger() (RunRecord, error) {
	return s.begin(TriggerManual)
}

// History returns the run history
func (s *Scheduler) History() *History {
	return s.history
}

// begin reserves the single run slot and launches the run
func (s *Scheduler) begin(trigger string) (RunRecord, error) {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return RunRecord{}, ErrSchedulerNotRunning
	}
	if s.busy {
		s.mu.Unlock()
		return RunRecord{}, ErrRunInProgress
	}
	s.busy = true
	parent := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	record := RunRecord{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    RunStatusRunning,
		StartedAt: s.now(),
	}
	s.history.Add(record)

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		}()
		s.execute(parent, record)
	}()
	return record, nil
}

func (s *Scheduler) execute(parent context.Context, record RunRecord) {
	ctx, cancel := context.WithTimeout(parent, s.config.JobTimeout)
	defer cancel()

	ctx, log := logger.WithTrigger(ctx, s.logger, record.Trigger)
	ctx, span := telemetry.StartSpan(ctx, "publish.run", telemetry.WithAttribute(telemetry.SpanAttrTrigger, record.Trigger))
	defer span.End()

	summary, err := s.runPanicSafe(ctx)

	completed := s.now()
	record.CompletedAt = &completed
	record.Summary = summary
	if summary != nil {
		record.RunID = summary.RunID
		telemetry.SetAttributes(span,
			telemetry.SpanAttrRunID, summary.RunID,
			telemetry.SpanAttrInserted, summary.Inserted,
			telemetry.SpanAttrFailed, summary.Failed)
	}

	switch {
	case errors.Is(err, publish.ErrRunInProgress):
		record.Status = RunStatusSkipped
		record.Error = err.Error()
		telemetry.SetOK(span)
		log.Info("Run skipped, lease held elsewhere")
	case err != nil:
		record.Status = RunStatusFailed
		record.Error = err.Error()
		telemetry.RecordError(span, err)
		log.Error("Run failed", zap.String("run_id", record.RunID), zap.Error(err))
	default:
		record.Status = RunStatusSuccess
		telemetry.SetOK(span)
		log.Info("Run completed",
			zap.String("run_id", record.RunID),
			zap.Duration("duration", completed.Sub(record.StartedAt)))
	}

	s.history.Update(record)
}

func (s *Scheduler) runPanicSafe(ctx context.Context) (summary *replenishment.RunSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()
	return s.runner.Run(ctx)
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
