package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
)

type stubRunner struct {
	summary *replenishment.RunSummary
	err     error
	calls   int
	onRun   func()
}

func (r *stubRunner) Run(context.Context) (*replenishment.RunSummary, error) {
	r.calls++
	if r.onRun != nil {
		r.onRun()
	}
	return r.summary, r.err
}

func partSummary(name string, start time.Time, inserted, keys int) *replenishment.RunSummary {
	return &replenishment.RunSummary{
		RunID:         name + "-run",
		Pipeline:      name,
		StartedAt:     start,
		FinishedAt:    start.Add(time.Minute),
		LinesRead:     inserted * 2,
		Inserted:      inserted,
		KeysClaimed:   keys,
		KeysPublished: keys,
	}
}

func TestNewPipelines_Validation(t *testing.T) {
	log := zaptest.NewLogger(t)

	_, err := NewPipelines(log)
	assert.Error(t, err)

	_, err = NewPipelines(log, Pipeline{Name: "a", Runner: &stubRunner{}}, Pipeline{Name: "a", Runner: &stubRunner{}})
	assert.ErrorContains(t, err, "duplicate pipeline")

	_, err = NewPipelines(log, Pipeline{Name: "a"})
	assert.Error(t, err)
}

func TestPipelines_SingleReturnsItsOwnSummary(t *testing.T) {
	start := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	only := &stubRunner{summary: partSummary("oc_precarga", start, 3, 2)}
	p, err := NewPipelines(zaptest.NewLogger(t), Pipeline{Name: "oc_precarga", Runner: only})
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Same(t, only.summary, summary)
	assert.Empty(t, summary.Parts)
}

func TestPipelines_TotalsEveryPart(t *testing.T) {
	start := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	purchases := &stubRunner{summary: partSummary("oc_precarga", start, 3, 2)}
	transfers := &stubRunner{summary: partSummary("transf_connexa", start.Add(2*time.Minute), 5, 1)}
	p, err := NewPipelines(zaptest.NewLogger(t),
		Pipeline{Name: "oc_precarga", Runner: purchases},
		Pipeline{Name: "transf_connexa", Runner: transfers},
	)
	require.NoError(t, err)
	p.now = func() time.Time { return start.Add(-time.Second) }
	p.newRunID = func() string { return "combined" }

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "combined", summary.RunID)
	assert.Equal(t, 8, summary.Inserted)
	assert.Equal(t, 16, summary.LinesRead)
	assert.Equal(t, 3, summary.KeysPublished)
	assert.Equal(t, start.Add(3*time.Minute), summary.FinishedAt)
	require.Len(t, summary.Parts, 2)
	assert.Equal(t, "oc_precarga", summary.Parts[0].Pipeline)
	assert.Equal(t, "transf_connexa", summary.Parts[1].Pipeline)
}

func TestPipelines_FailureDoesNotStopTheNextPipeline(t *testing.T) {
	start := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	boom := errors.New("schema mismatch")
	purchases := &stubRunner{summary: partSummary("oc_precarga", start, 0, 0), err: boom}
	transfers := &stubRunner{summary: partSummary("transf_connexa", start, 4, 1)}
	p, err := NewPipelines(zaptest.NewLogger(t),
		Pipeline{Name: "oc_precarga", Runner: purchases},
		Pipeline{Name: "transf_connexa", Runner: transfers},
	)
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "oc_precarga")
	assert.Equal(t, 1, transfers.calls)
	assert.Equal(t, 4, summary.Inserted)
}

func TestPipelines_LeaseSkips(t *testing.T) {
	start := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

	t.Run("one pipeline skipped is not an error", func(t *testing.T) {
		p, err := NewPipelines(zaptest.NewLogger(t),
			Pipeline{Name: "oc_precarga", Runner: &stubRunner{summary: partSummary("oc_precarga", start, 0, 0), err: ErrRunInProgress}},
			Pipeline{Name: "transf_connexa", Runner: &stubRunner{summary: partSummary("transf_connexa", start, 1, 1)}},
		)
		require.NoError(t, err)
		_, err = p.Run(context.Background())
		assert.NoError(t, err)
	})

	t.Run("all pipelines skipped is a skipped run", func(t *testing.T) {
		p, err := NewPipelines(zaptest.NewLogger(t),
			Pipeline{Name: "oc_precarga", Runner: &stubRunner{err: ErrRunInProgress}},
			Pipeline{Name: "transf_connexa", Runner: &stubRunner{err: ErrRunInProgress}},
		)
		require.NoError(t, err)
		_, err = p.Run(context.Background())
		assert.ErrorIs(t, err, ErrRunInProgress)
	})
}

func TestPipelines_CancellationStopsTheSequence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &stubRunner{summary: &replenishment.RunSummary{}, onRun: cancel}
	second := &stubRunner{summary: &replenishment.RunSummary{}}
	p, err := NewPipelines(zaptest.NewLogger(t),
		Pipeline{Name: "oc_precarga", Runner: first},
		Pipeline{Name: "transf_connexa", Runner: second},
	)
	require.NoError(t, err)

	_, err = p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, second.calls)
}

func TestPipelines_Select(t *testing.T) {
	purchases := &stubRunner{summary: &replenishment.RunSummary{}}
	transfers := &stubRunner{summary: &replenishment.RunSummary{}}
	p, err := NewPipelines(zaptest.NewLogger(t),
		Pipeline{Name: "oc_precarga", Runner: purchases},
		Pipeline{Name: "transf_connexa", Runner: transfers},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"oc_precarga", "transf_connexa"}, p.Names())

	only, err := p.Select("transf_connexa")
	require.NoError(t, err)
	_, err = only.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, purchases.calls)
	assert.Equal(t, 1, transfers.calls)

	_, err = p.Select("ventas")
	assert.ErrorContains(t, err, "unknown pipeline")
}
