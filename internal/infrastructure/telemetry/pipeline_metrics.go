package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/diarco/connexa-sync/internal/domain/shared"
)

// PipelineMetrics records one set of instruments per publish run
type PipelineMetrics struct {
	target string

	runsTotal     *Counter   // sync_runs_total{status}
	rowsTotal     *Counter   // sync_rows_total{outcome}
	keysTotal     *Counter   // sync_keys_total{publish_state}
	linesTotal    *Counter   // sync_lines_read_total
	linesRejected *Counter   // sync_lines_rejected_total
	runDuration   *Histogram // sync_run_duration_seconds
	batchSize     *Histogram // sync_batch_lines
	lastSuccess   *Gauge     // sync_last_success_timestamp_seconds
}

// OutcomeDroppedZero labels rows left out because their quantity rounds to zero
const OutcomeDroppedZero = "DROPPED_ZERO"

// NewPipelineMetrics creates the run instruments on meter for one target
func NewPipelineMetrics(meter metric.Meter, target string) (*PipelineMetrics, error) {
	runsTotal, err := NewCounter(meter, "sync_runs_total", "Publish runs by final status", "{run}")
	if err != nil {
		return nil, err
	}
	rowsTotal, err := NewCounter(meter, "sync_rows_total", "Destination rows by publish outcome", "{row}")
	if err != nil {
		return nil, err
	}
	keysTotal, err := NewCounter(meter, "sync_keys_total", "Correlation keys by resulting publish state", "{key}")
	if err != nil {
		return nil, err
	}
	linesTotal, err := NewCounter(meter, "sync_lines_read_total", "Pending source lines read", "{line}")
	if err != nil {
		return nil, err
	}
	linesRejected, err := NewCounter(meter, "sync_lines_rejected_total", "Pending source lines that could not be read", "{line}")
	if err != nil {
		return nil, err
	}
	runDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "sync_run_duration_seconds",
		Description: "Wall time of publish runs",
		Unit:        "s",
		Boundaries:  RunDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	batchSize, err := NewHistogram(meter, HistogramOpts{
		Name:        "sync_batch_lines",
		Description: "Pending lines read per run",
		Unit:        "{line}",
		Boundaries:  BatchSizeBuckets,
	})
	if err != nil {
		return nil, err
	}
	lastSuccess, err := NewGauge(meter, "sync_last_success_timestamp_seconds", "Unix time of the last successful run", "s")
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		target:        target,
		runsTotal:     runsTotal,
		rowsTotal:     rowsTotal,
		keysTotal:     keysTotal,
		linesTotal:    linesTotal,
		linesRejected: linesRejected,
		runDuration:   runDuration,
		batchSize:     batchSize,
		lastSuccess:   lastSuccess,
	}, nil
}

// RecordRun records the summary of a finished run. err is the run error, if any.
func (m *PipelineMetrics) RecordRun(ctx context.Context, summary replenishment.RunSummary, err error) {
	target := AttrTarget.String(m.target)

	status := []attribute.KeyValue{target, AttrStatus.String(runStatus(err))}
	if err != nil {
		status = append(status, AttrCode.String(errorCode(err)))
	}
	m.runsTotal.Inc(ctx, status...)
	m.runDuration.RecordDuration(ctx, summary.Duration(), target, AttrStatus.String(runStatus(err)))

	m.linesTotal.Add(ctx, int64(summary.LinesRead), target)
	m.batchSize.Record(ctx, float64(summary.LinesRead), target)
	if summary.LinesRejected > 0 {
		m.linesRejected.Add(ctx, int64(summary.LinesRejected), target)
	}

	m.addRows(ctx, target, replenishment.OutcomeInserted, summary.Inserted)
	m.addRows(ctx, target, replenishment.OutcomeUpdated, summary.Updated)
	m.addRows(ctx, target, replenishment.OutcomeSkippedExisting, summary.Skipped)
	m.addRows(ctx, target, replenishment.OutcomeFailed, summary.Failed)
	m.addRows(ctx, target, OutcomeDroppedZero, summary.RowsDroppedZero)

	m.addKeys(ctx, target, replenishment.PublishStatePublished, summary.KeysPublished)
	m.addKeys(ctx, target, replenishment.PublishStateError, summary.KeysFailed)
	m.addKeys(ctx, target, replenishment.PublishStatePending, summary.KeysReleased)

	if err == nil && !summary.FinishedAt.IsZero() {
		m.lastSuccess.Record(ctx, summary.FinishedAt.Unix(), target)
	}
}

func (m *PipelineMetrics) addRows(ctx context.Context, target attribute.KeyValue, kind replenishment.OutcomeKind, n int) {
	if n > 0 {
		m.rowsTotal.Add(ctx, int64(n), target, AttrOutcome.String(string(kind)))
	}
}

func (m *PipelineMetrics) addKeys(ctx context.Context, target attribute.KeyValue, state replenishment.PublishState, n int) {
	if n > 0 {
		m.keysTotal.Add(ctx, int64(n), target, AttrState.String(string(state)))
	}
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "failed"
	}
}

func errorCode(err error) string {
	if code := shared.CodeOf(err); code != "" {
		return code
	}
	return "UNCLASSIFIED"
}
