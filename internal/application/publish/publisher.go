package publish

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/diarco/connexa-sync/internal/domain/shared"
	"github.com/diarco/connexa-sync/internal/domain/staging"
)

// Strategy selects how rows are upserted
type Strategy string

const (
	StrategyAntiJoin Strategy = "antijoin"
	StrategyMerge    Strategy = "merge"
)

// IsValid checks if the strategy is known
func (s Strategy) IsValid() bool {
	return s == StrategyAntiJoin || s == StrategyMerge
}

// RowOutcome is the publish result of one destination row
type RowOutcome struct {
	Row  staging.Row
	Kind replenishment.OutcomeKind
	Err  error
}

// PublisherConfig configures a Publisher
type PublisherConfig struct {
	Strategy       Strategy
	UpdateExisting bool
	Retry          RetryPolicy
}

// Publisher writes normalized rows idempotently into a staging table
type Publisher struct {
	store  staging.Store
	cfg    PublisherConfig
	logger *zap.Logger
}

// NewPublisher creates a publisher over store
func NewPublisher(store staging.Store, cfg PublisherConfig, logger *zap.Logger) *Publisher {
	if !cfg.Strategy.IsValid() {
		cfg.Strategy = StrategyAntiJoin
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Publisher{store: store, cfg: cfg, logger: logger}
}

// Publish upserts rows and reports one outcome per row. An error is returned
// only for batch-level failures that survived the retry policy; rows written
// before such a failure stay written and are found again by the next run.
func (p *Publisher) Publish(ctx context.Context, target staging.Target, rows []staging.Row) ([]RowOutcome, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if p.cfg.Strategy == StrategyMerge {
		return p.publishMerge(ctx, target, rows)
	}
	return p.publishAntiJoin(ctx, target, rows)
}

func (p *Publisher) publishAntiJoin(ctx context.Context, target staging.Target, rows []staging.Row) ([]RowOutcome, error) {
	var existing map[staging.RowKey][]any
	err := p.cfg.Retry.do(ctx, p.logger, "fetch_existing", func() error {
		var err error
		existing, err = p.store.FetchExisting(ctx, target, rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	var toInsert, toUpdate []staging.Row
	outcomes := make([]RowOutcome, 0, len(rows))
	for _, row := range rows {
		stored, found := existing[row.Key]
		switch {
		case !found:
			toInsert = append(toInsert, row)
		case p.cfg.UpdateExisting:
			toUpdate = append(toUpdate, row)
		default:
			outcomes = append(outcomes, p.compareExisting(target, row, stored))
		}
	}

	p.logger.Info("Partitioned batch against destination",
		zap.String("table", target.QualifiedName()),
		zap.Int("batch", len(rows)),
		zap.Int("to_insert", len(toInsert)),
		zap.Int("to_update", len(toUpdate)),
		zap.Int("existing", len(existing)),
	)

	if len(toInsert) > 0 {
		inserted, err := p.insert(ctx, target, toInsert)
		outcomes = append(outcomes, inserted...)
		if err != nil {
			return outcomes, err
		}
	}

	if len(toUpdate) > 0 {
		err := p.cfg.Retry.do(ctx, p.logger, "update", func() error {
			return p.store.Update(ctx, target, toUpdate)
		})
		if err != nil {
			return outcomes, err
		}
		for _, row := range toUpdate {
			outcomes = append(outcomes, RowOutcome{Row: row, Kind: replenishment.OutcomeUpdated})
		}
	}
	return outcomes, nil
}

// insert writes rows in bulk. A duplicate key means a concurrent publisher
// got there first; the batch is then replayed row by row.
func (p *Publisher) insert(ctx context.Context, target staging.Target, rows []staging.Row) ([]RowOutcome, error) {
	err := p.cfg.Retry.do(ctx, p.logger, "insert", func() error {
		return p.store.Insert(ctx, target, rows)
	})
	if err == nil {
		out := make([]RowOutcome, len(rows))
		for i, row := range rows {
			out[i] = RowOutcome{Row: row, Kind: replenishment.OutcomeInserted}
		}
		return out, nil
	}
	if !errors.Is(err, shared.ErrDuplicateKeyConflict) {
		return nil, err
	}

	p.logger.Warn("Bulk insert hit an existing key, replaying row by row",
		zap.String("table", target.QualifiedName()),
		zap.Int("rows", len(rows)),
		zap.Error(err),
	)

	out := make([]RowOutcome, 0, len(rows))
	for _, row := range rows {
		single := []staging.Row{row}
		err := p.cfg.Retry.do(ctx, p.logger, "insert_row", func() error {
			return p.store.Insert(ctx, target, single)
		})
		if err == nil {
			out = append(out, RowOutcome{Row: row, Kind: replenishment.OutcomeInserted})
			continue
		}
		if !errors.Is(err, shared.ErrDuplicateKeyConflict) {
			return out, err
		}

		var existing map[staging.RowKey][]any
		err = p.cfg.Retry.do(ctx, p.logger, "fetch_conflict", func() error {
			var err error
			existing, err = p.store.FetchExisting(ctx, target, single)
			return err
		})
		if err != nil {
			return out, err
		}
		stored, found := existing[row.Key]
		if !found {
			out = append(out, RowOutcome{
				Row:  row,
				Kind: replenishment.OutcomeFailed,
				Err:  shared.Wrap(shared.CodeDuplicateKeyConflict, nil, "key %s reported duplicate but not found", row.Key),
			})
			continue
		}
		out = append(out, p.compareExisting(target, row, stored))
	}
	return out, nil
}

// compareExisting accepts a stored row as already published when its content
// matches; otherwise the key is a conflict for manual review.
func (p *Publisher) compareExisting(target staging.Target, row staging.Row, stored []any) RowOutcome {
	if row.Equivalent(stored) {
		return RowOutcome{Row: row, Kind: replenishment.OutcomeSkippedExisting}
	}
	diff := row.Differences(target, stored)
	p.logger.Warn("Destination row differs from publish candidate",
		zap.String("table", target.QualifiedName()),
		zap.String("correlation_key", row.CorrelationKey),
		zap.Strings("columns", diff),
		zap.Any("attempted", row.Values),
		zap.Any("stored", stored),
	)
	return RowOutcome{
		Row:  row,
		Kind: replenishment.OutcomeFailed,
		Err:  shared.Wrap(shared.CodeDuplicateKeyConflict, nil, "key %s exists with different %v", row.Key, diff),
	}
}

func (p *Publisher) publishMerge(ctx context.Context, target staging.Target, rows []staging.Row) ([]RowOutcome, error) {
	outcomes := make([]RowOutcome, 0, len(rows))
	for _, row := range rows {
		var res staging.MergeResult
		err := p.cfg.Retry.do(ctx, p.logger, "merge", func() error {
			var err error
			res, err = p.store.Merge(ctx, target, row)
			return err
		})
		if err != nil {
			if shared.CodeOf(err) == shared.CodeDataValidation {
				outcomes = append(outcomes, RowOutcome{Row: row, Kind: replenishment.OutcomeFailed, Err: err})
				continue
			}
			return outcomes, fmt.Errorf("merge %s: %w", row.Key, err)
		}
		kind := replenishment.OutcomeInserted
		if res == staging.MergeUpdated {
			kind = replenishment.OutcomeUpdated
		}
		outcomes = append(outcomes, RowOutcome{Row: row, Kind: kind})
	}
	return outcomes, nil
}
