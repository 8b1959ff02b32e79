package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
)

// Runner executes one publish run
type Runner interface {
	Run(ctx context.Context) (*replenishment.RunSummary, error)
}

// Pipeline is a named runner, usually a Service bound to one staging target
type Pipeline struct {
	Name   string
	Runner Runner
}

// Pipelines runs several pipelines one after the other as a single run.
// A failing pipeline does not stop the next one; cancellation does.
type Pipelines struct {
	pipelines []Pipeline
	logger    *zap.Logger
	now       func() time.Time
	newRunID  func() string
}

// NewPipelines creates a runner over pipelines, run in the given order
func NewPipelines(logger *zap.Logger, pipelines ...Pipeline) (*Pipelines, error) {
	if len(pipelines) == 0 {
		return nil, errors.New("publish: at least one pipeline is required")
	}
	seen := make(map[string]bool, len(pipelines))
	for _, p := range pipelines {
		if p.Name == "" || p.Runner == nil {
			return nil, errors.New("publish: pipelines need a name and a runner")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("publish: duplicate pipeline %q", p.Name)
		}
		seen[p.Name] = true
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipelines{
		pipelines: pipelines,
		logger:    logger.Named("pipelines"),
		now:       time.Now,
		newRunID:  uuid.NewString,
	}, nil
}

// Names returns the pipeline names in run order
func (p *Pipelines) Names() []string {
	names := make([]string, len(p.pipelines))
	for i, pl := range p.pipelines {
		names[i] = pl.Name
	}
	return names
}

// Select returns a runner over the named pipelines only
func (p *Pipelines) Select(names ...string) (*Pipelines, error) {
	byName := make(map[string]Pipeline, len(p.pipelines))
	for _, pl := range p.pipelines {
		byName[pl.Name] = pl
	}
	selected := make([]Pipeline, 0, len(names))
	for _, n := range names {
		pl, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("publish: unknown pipeline %q (have %s)", n, strings.Join(p.Names(), ", "))
		}
		selected = append(selected, pl)
	}
	c := *p
	c.pipelines = selected
	if len(selected) == 0 {
		return nil, errors.New("publish: at least one pipeline is required")
	}
	return &c, nil
}

// Run runs every pipeline. With a single pipeline its own summary is
// returned; otherwise the summary totals the parts. A pipeline skipped
// because its lease is held elsewhere only fails the run when all were.
func (p *Pipelines) Run(ctx context.Context) (*replenishment.RunSummary, error) {
	if len(p.pipelines) == 1 {
		return p.pipelines[0].Runner.Run(ctx)
	}

	total := &replenishment.RunSummary{RunID: p.newRunID(), StartedAt: p.now()}
	var errs error
	skipped := 0
	for _, pl := range p.pipelines {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", pl.Name, err))
			break
		}
		summary, err := pl.Runner.Run(ctx)
		if summary != nil {
			if summary.Pipeline == "" {
				summary.Pipeline = pl.Name
			}
			total.Merge(*summary)
		}
		switch {
		case errors.Is(err, ErrRunInProgress):
			skipped++
			p.logger.Info("Pipeline skipped, lease held elsewhere", zap.String("pipeline", pl.Name))
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", pl.Name, err))
		}
	}
	if total.FinishedAt.Before(total.StartedAt) {
		total.FinishedAt = p.now()
	}
	if errs == nil && skipped == len(p.pipelines) {
		return total, ErrRunInProgress
	}
	return total, errs
}

var _ Runner = (*Service)(nil)
var _ Runner = (*Pipelines)(nil)
