// Package publish runs the publish pipeline: read pending demand, claim it,
// consolidate and net it, normalize it to the staging table and upsert it,
// then record the publish state of every claimed key.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/diarco/connexa-sync/internal/domain/shared"
	"github.com/diarco/connexa-sync/internal/domain/staging"
	"github.com/diarco/connexa-sync/internal/infrastructure/logger"
	"github.com/diarco/connexa-sync/internal/infrastructure/telemetry"
)

// ErrRunInProgress is returned when another process holds the publish lease
var ErrRunInProgress = errors.New("publish: another run holds the lease")

// ArtifactSink stores the audit dump of a run's netted batch
type ArtifactSink interface {
	WriteRun(ctx context.Context, runID string, lines, dropped []replenishment.NettedLine) (string, error)
}

// RunLock is an optional lease preventing overlapping runs across processes
type RunLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, ok bool, err error)
}

// MetricsRecorder receives the summary of every run
type MetricsRecorder interface {
	RecordRun(ctx context.Context, summary replenishment.RunSummary, err error)
}

// Config holds the pipeline settings
type Config struct {
	Target       staging.Target
	Centers      *replenishment.DistributionCenters
	Read         replenishment.ReadRequest
	ClaimTTL     time.Duration
	LeaseTTL     time.Duration
	MarkExisting bool
}

// Dependencies groups the collaborators of a Service. Artifacts, Lock and
// Metrics may be nil.
type Dependencies struct {
	Lines     replenishment.PendingLineRepository
	Stock     replenishment.StockSnapshotProvider
	Schema    staging.SchemaIntrospector
	Publisher *Publisher
	Artifacts ArtifactSink
	Lock      RunLock
	Metrics   MetricsRecorder
}

// Service runs publish pipelines. A Service is safe for sequential reuse;
// overlapping runs are tolerated through claims and primary-key idempotency.
type Service struct {
	deps         Dependencies
	cfg          Config
	consolidator *replenishment.Consolidator
	netter       *replenishment.StockNetter
	normalizer   *staging.Normalizer
	retry        RetryPolicy
	logger       *zap.Logger
	now          func() time.Time
	newRunID     func() string
}

// NewService creates a pipeline service
func NewService(deps Dependencies, cfg Config, logger *zap.Logger) *Service {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = cfg.ClaimTTL
	}
	retry := DefaultRetryPolicy()
	if deps.Publisher != nil {
		retry = deps.Publisher.cfg.Retry
	}
	return &Service{
		deps:         deps,
		cfg:          cfg,
		consolidator: replenishment.NewConsolidator(cfg.Centers),
		netter:       replenishment.NewStockNetter(),
		normalizer:   staging.NewNormalizer(cfg.Target),
		retry:        retry,
		logger:       logger.Named("publish").With(zap.String("target", cfg.Target.QualifiedName())),
		now:          time.Now,
		newRunID:     uuid.NewString,
	}
}

// Run executes one pipeline invocation. The summary is always returned;
// the error is non-nil when the run failed at batch or schema level.
func (s *Service) Run(ctx context.Context) (*replenishment.RunSummary, error) {
	summary := &replenishment.RunSummary{RunID: s.newRunID(), Pipeline: s.cfg.Target.Name, StartedAt: s.now()}
	ctx, span := telemetry.StartSpan(ctx, "publish.pipeline",
		telemetry.WithAttribute(telemetry.SpanAttrTarget, s.cfg.Target.Name),
		telemetry.WithAttribute(telemetry.SpanAttrTable, s.cfg.Target.QualifiedName()),
		telemetry.WithAttribute(telemetry.SpanAttrRunID, summary.RunID))
	defer span.End()
	ctx, log := logger.WithRunID(ctx, s.logger, summary.RunID)
	log = logger.WithTraceContext(ctx, log)

	err := s.run(ctx, summary, log)
	summary.FinishedAt = s.now()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrInserted, summary.Inserted,
		telemetry.SpanAttrFailed, summary.Failed)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordRun(ctx, *summary, err)
	}

	fields := []zap.Field{
		zap.Int("lines_read", summary.LinesRead),
		zap.Int("lines_rejected", summary.LinesRejected),
		zap.Int("keys_claimed", summary.KeysClaimed),
		zap.Int("consolidated", summary.Consolidated),
		zap.Int("dropped_by_stock", summary.DroppedByStock),
		zap.Int("rows_rejected", summary.RowsRejected),
		zap.Int("dropped_zero", summary.RowsDroppedZero),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("keys_published", summary.KeysPublished),
		zap.Int("keys_failed", summary.KeysFailed),
		zap.Int("keys_released", summary.KeysReleased),
		zap.Duration("duration", summary.Duration()),
	}
	if err != nil {
		log.Error("Publish run failed", append(fields, zap.Error(err))...)
		return summary, err
	}
	log.Info("Publish run completed", fields...)
	return summary, nil
}

func (s *Service) run(ctx context.Context, summary *replenishment.RunSummary, log *zap.Logger) error {
	if s.deps.Lock != nil {
		unlock, ok, err := s.deps.Lock.TryLock(ctx, "publish:"+s.cfg.Target.Name, s.cfg.LeaseTTL)
		if err != nil {
			return shared.Wrap(shared.CodeConnectivity, err, "acquire publish lease")
		}
		if !ok {
			return ErrRunInProgress
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to release publish lease", zap.Error(err))
			}
		}()
	}

	err := s.retry.do(ctx, log, "release_stale", func() error {
		n, err := s.deps.Lines.ReleaseStale(ctx, s.now().Add(-s.cfg.ClaimTTL))
		summary.StaleReleased = int(n)
		return err
	})
	if err != nil {
		return err
	}
	if summary.StaleReleased > 0 {
		log.Warn("Released stale claims", zap.Int("lines", summary.StaleReleased))
	}

	var batch replenishment.PendingBatch
	err = s.retry.do(ctx, log, "read_pending", func() error {
		var err error
		batch, err = s.deps.Lines.FindPending(ctx, s.cfg.Read)
		return err
	})
	if err != nil {
		return err
	}
	summary.LinesRead = batch.Len()
	summary.LinesRejected = len(batch.Rejected)
	for _, r := range batch.Rejected {
		log.Warn("Pending line unreadable",
			zap.Int64("id", r.ID),
			zap.String("correlation_key", r.CorrelationKey),
			zap.String("reason", r.Reason),
			zap.Any("values", r.Values),
		)
	}
	if batch.Len() == 0 {
		log.Info("No pending lines")
		return nil
	}

	claimed, err := s.claim(ctx, summary.RunID, batch, log)
	if err != nil {
		return err
	}
	summary.KeysClaimed = len(claimed.keys)
	if len(claimed.lines) == 0 && len(claimed.rejected) == 0 {
		log.Info("All pending lines were claimed by another run")
		return nil
	}

	outcomes, err := s.rejectUnreadable(ctx, summary.RunID, claimed.rejected, log)
	if err != nil {
		s.releaseAll(ctx, summary.RunID, log)
		return err
	}

	if len(claimed.lines) > 0 {
		processed, err := s.process(ctx, summary, claimed.lines, log)
		if err != nil {
			s.releaseAll(ctx, summary.RunID, log)
			return err
		}
		outcomes = append(outcomes, processed...)
	}

	plan := replenishment.PlanStatus(claimed.keys, outcomes, s.cfg.MarkExisting)
	if err := s.applyStatus(ctx, summary, plan, log); err != nil {
		return err
	}
	return nil
}

// claimed is what a run won: parsed lines, unreadable rows and their keys
type claimed struct {
	lines    []replenishment.PendingLine
	rejected []replenishment.RejectedLine
	keys     []string
}

// claim takes the pending rows for this run and keeps only those it won.
// Unreadable rows are claimed as well so that they can be moved to ERROR;
// rows without a usable id cannot be addressed and stay where they are.
func (s *Service) claim(ctx context.Context, runID string, batch replenishment.PendingBatch, log *zap.Logger) (claimed, error) {
	ids := make([]int64, 0, batch.Len())
	for _, l := range batch.Lines {
		ids = append(ids, l.ID)
	}
	for _, r := range batch.Rejected {
		if r.ID > 0 {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return claimed{}, nil
	}

	var rows []replenishment.ClaimedLine
	err := s.retry.do(ctx, log, "claim", func() error {
		var err error
		rows, err = s.deps.Lines.Claim(ctx, runID, ids)
		return err
	})
	if err != nil {
		return claimed{}, err
	}

	won := make(map[int64]struct{}, len(rows))
	keySet := make(map[string]struct{}, len(rows))
	var result claimed
	for _, c := range rows {
		won[c.ID] = struct{}{}
		if _, ok := keySet[c.CorrelationKey]; !ok {
			keySet[c.CorrelationKey] = struct{}{}
			result.keys = append(result.keys, c.CorrelationKey)
		}
	}

	for _, l := range batch.Lines {
		if _, ok := won[l.ID]; ok {
			result.lines = append(result.lines, l)
		}
	}
	for _, r := range batch.Rejected {
		if _, ok := won[r.ID]; ok {
			result.rejected = append(result.rejected, r)
		}
	}
	if lost := len(ids) - len(result.lines) - len(result.rejected); lost > 0 {
		log.Info("Skipped lines claimed by another run", zap.Int("lines", lost))
	}
	return result, nil
}

// rejectUnreadable moves the claimed unreadable rows to ERROR by id and
// reports a failure for their keys, so sibling lines sharing a key follow.
func (s *Service) rejectUnreadable(ctx context.Context, runID string, rejected []replenishment.RejectedLine, log *zap.Logger) ([]replenishment.PublishOutcome, error) {
	if len(rejected) == 0 {
		return nil, nil
	}
	reasons := make(map[int64]string, len(rejected))
	outcomes := make([]replenishment.PublishOutcome, 0, len(rejected))
	for _, r := range rejected {
		reasons[r.ID] = r.Reason
		outcomes = append(outcomes, replenishment.PublishOutcome{
			CorrelationKey: r.CorrelationKey,
			Kind:           replenishment.OutcomeFailed,
			Err:            shared.Wrap(shared.CodeDataValidation, nil, "%s", r.Reason),
		})
	}
	err := s.retry.do(ctx, log, "mark_rejected", func() error {
		_, err := s.deps.Lines.MarkRejected(ctx, runID, reasons)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Warn("Unreadable lines moved to ERROR", zap.Int("lines", len(rejected)))
	return outcomes, nil
}

func (s *Service) process(ctx context.Context, summary *replenishment.RunSummary, lines []replenishment.PendingLine, log *zap.Logger) ([]replenishment.PublishOutcome, error) {
	consolidated := s.consolidator.Consolidate(lines)
	summary.Consolidated = len(consolidated)

	var snapshots []replenishment.StockSnapshot
	if keys := replenishment.BranchArticles(consolidated); len(keys) > 0 {
		err := s.retry.do(ctx, log, "read_stock", func() error {
			var err error
			snapshots, err = s.deps.Stock.Snapshots(ctx, keys)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	netting := s.netter.Net(consolidated, replenishment.IndexSnapshots(snapshots))
	summary.DroppedByStock = len(netting.Dropped)
	for _, d := range netting.Dropped {
		log.Debug("Line netted out by stock",
			zap.String("correlation_key", d.CorrelationKey()),
			zap.String("supplier", d.SupplierCode),
			zap.String("article", d.ArticleCode),
			zap.Int("branch", d.DestinationBranchID),
			zap.String("requested", d.RequestedQty.String()),
			zap.String("available", d.Available.String()),
		)
	}

	if s.deps.Artifacts != nil {
		location, err := s.deps.Artifacts.WriteRun(ctx, summary.RunID, netting.Lines, netting.Dropped)
		if err != nil {
			log.Warn("Failed to write run artifact", zap.Error(err))
		} else if location != "" {
			log.Info("Run artifact written", zap.String("location", location))
		}
	}

	if len(netting.Lines) == 0 {
		return nil, nil
	}

	var columns staging.ColumnSet
	err := s.retry.do(ctx, log, "introspect", func() error {
		var err error
		columns, err = s.deps.Schema.Columns(ctx, s.cfg.Target.Schema, s.cfg.Target.Table)
		return err
	})
	if err != nil {
		return nil, err
	}

	normalized, err := s.normalizer.Normalize(netting.Lines, columns)
	if err != nil {
		return nil, err
	}
	summary.RowsRejected = len(normalized.Rejected)
	summary.RowsDroppedZero = len(normalized.Dropped)
	for _, d := range normalized.Dropped {
		log.Info("Row dropped, quantity rounds to zero",
			zap.String("correlation_key", d.CorrelationKey()),
			zap.String("table", s.cfg.Target.QualifiedName()),
			zap.String("supplier", d.SupplierCode),
			zap.String("article", d.ArticleCode),
			zap.Int("branch", d.DestinationBranchID),
			zap.String("net_qty", d.NetQty.String()),
		)
	}
	if normalized.Duplicates > 0 {
		log.Info("Collapsed rows sharing a destination key", zap.Int("duplicates", normalized.Duplicates))
	}

	outcomes := make([]replenishment.PublishOutcome, 0, len(normalized.Rows)+len(normalized.Rejected))
	for _, r := range normalized.Rejected {
		log.Warn("Row rejected by validation",
			zap.String("correlation_key", r.Line.CorrelationKey()),
			zap.String("table", s.cfg.Target.QualifiedName()),
			zap.String("column", r.Column),
			zap.Any("value", r.Value),
			zap.String("supplier", r.Line.SupplierCode),
			zap.String("article", r.Line.ArticleCode),
			zap.Int("branch", r.Line.DestinationBranchID),
			zap.Error(r.Err),
		)
		for _, k := range r.Line.MemberKeys {
			outcomes = append(outcomes, replenishment.PublishOutcome{CorrelationKey: k, Kind: replenishment.OutcomeFailed, Err: r.Err})
		}
	}
	summary.Failed += len(normalized.Rejected)

	rowOutcomes, err := s.deps.Publisher.Publish(ctx, s.cfg.Target, normalized.Rows)
	if err != nil {
		return nil, err
	}
	for _, ro := range rowOutcomes {
		if ro.Kind == replenishment.OutcomeFailed {
			log.Warn("Row not published",
				zap.String("correlation_key", ro.Row.CorrelationKey),
				zap.String("table", s.cfg.Target.QualifiedName()),
				zap.Any("values", ro.Row.Values),
				zap.Error(ro.Err),
			)
		}
		for _, k := range ro.Row.SourceKeys {
			outcomes = append(outcomes, replenishment.PublishOutcome{CorrelationKey: k, Kind: ro.Kind, Err: ro.Err})
		}
		summary.Count([]replenishment.PublishOutcome{{Kind: ro.Kind}})
	}
	return outcomes, nil
}

func (s *Service) applyStatus(ctx context.Context, summary *replenishment.RunSummary, plan replenishment.StatusPlan, log *zap.Logger) error {
	if len(plan.Publish) > 0 {
		err := s.retry.do(ctx, log, "mark_published", func() error {
			_, err := s.deps.Lines.MarkPublished(ctx, summary.RunID, plan.Publish)
			return err
		})
		if err != nil {
			return err
		}
		summary.KeysPublished = len(plan.Publish)
	}

	if len(plan.Fail) > 0 {
		err := s.retry.do(ctx, log, "mark_failed", func() error {
			_, err := s.deps.Lines.MarkFailed(ctx, summary.RunID, plan.Fail)
			return err
		})
		if err != nil {
			return err
		}
		summary.KeysFailed = len(plan.Fail)
		for key, detail := range plan.Fail {
			log.Warn("Key moved to ERROR", zap.String("correlation_key", key), zap.String("detail", detail))
		}
	}

	if len(plan.Release) > 0 {
		err := s.retry.do(ctx, log, "release", func() error {
			_, err := s.deps.Lines.Release(ctx, summary.RunID, plan.Release)
			return err
		})
		if err != nil {
			return err
		}
		summary.KeysReleased = len(plan.Release)
	}
	return nil
}

// releaseAll returns every claim of the run to PENDING after a failure.
// It runs on a detached context so cancellation of the run still releases.
func (s *Service) releaseAll(ctx context.Context, runID string, log *zap.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	n, err := s.deps.Lines.Release(rctx, runID, nil)
	if err != nil {
		log.Error("Failed to release claims, they expire after the claim TTL", zap.Error(err))
		return
	}
	log.Info("Released claims of failed run", zap.Int64("lines", n))
}
