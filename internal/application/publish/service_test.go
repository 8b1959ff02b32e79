package publish

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/diarco/connexa-sync/internal/domain/replenishment"
	"github.com/diarco/connexa-sync/internal/domain/shared"
	"github.com/diarco/connexa-sync/internal/domain/staging"
)

func stagingColumns() staging.ColumnSet {
	return staging.NewColumnSet([]staging.ColumnSpec{
		{Name: "C_PROVEEDOR", DataType: "int"},
		{Name: "C_ARTICULO", DataType: "int"},
		{Name: "C_SUCU_EMPR", DataType: "smallint"},
		{Name: "Q_BULTOS_KILOS_DIARCO", DataType: "int"},
		{Name: "F_ALTA_SIST", DataType: "datetime"},
		{Name: "C_USUARIO_GENERO_OC", DataType: "char", MaxLength: 10},
		{Name: "C_TERMINAL_GENERO_OC", DataType: "varchar", MaxLength: 15},
		{Name: "F_GENERO_OC", DataType: "datetime"},
		{Name: "C_USUARIO_BLOQUEO", DataType: "char", MaxLength: 10},
		{Name: "M_PROCESADO", DataType: "char", MaxLength: 1},
		{Name: "F_PROCESADO", DataType: "datetime"},
		{Name: "U_PREFIJO_OC", DataType: "int"},
		{Name: "U_SUFIJO_OC", DataType: "int"},
		{Name: "C_COMPRA_KIKKER", DataType: "varchar", MaxLength: 20},
		{Name: "C_USUARIO_MODIF", DataType: "varchar", MaxLength: 20},
		{Name: "C_COMPRADOR", DataType: "int"},
	})
}

func pendingLine(id int64, supplier, article string, branch int, dc string, qty int64, key string) replenishment.PendingLine {
	return replenishment.PendingLine{
		ID:                     id,
		SupplierCode:           supplier,
		ArticleCode:            article,
		OriginBranchID:         branch,
		DistributionCenterCode: dc,
		RequestedQty:           decimal.NewFromInt(qty),
		CorrelationKey:         key,
		State:                  replenishment.PublishStatePending,
		Fields: map[string]any{
			"f_alta_sist":         time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
			"c_usuario_genero_oc": "planner",
			"c_comprador":         int64(15),
		},
	}
}

func dcDemandLines() []replenishment.PendingLine {
	return []replenishment.PendingLine{
		pendingLine(1, "1", "100", 7, "41CD", 10, "OC-1"),
		pendingLine(2, "1", "100", 9, "41CD", 5, "OC-2"),
	}
}

// stock at 41 worth 4 purchase packages
func dcStock() []replenishment.StockSnapshot {
	return []replenishment.StockSnapshot{{
		BranchID:          41,
		ArticleCode:       "100",
		OnHandQty:         decimal.NewFromInt(5),
		PendingReceiptQty: decimal.NewFromInt(2),
		InTransitQty:      decimal.NewFromInt(1),
		ConversionFactor:  decimal.NewFromInt(2),
	}}
}

type harness struct {
	target    staging.Target
	lines     *fakeLineRepo
	stock     *fakeStock
	schema    *fakeSchema
	store     *memStore
	artifacts *fakeArtifacts
	logs      *observer.ObservedLogs
	svc       *Service
}

func newHarness(t *testing.T, cfg Config, pcfg PublisherConfig, lines ...replenishment.PendingLine) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(zapcore.NewTee(zaptest.NewLogger(t).Core(), core))

	h := &harness{
		target:    staging.DefaultTarget(),
		lines:     newFakeLineRepo(lines...),
		stock:     &fakeStock{},
		schema:    &fakeSchema{columns: stagingColumns()},
		store:     newMemStore(),
		artifacts: &fakeArtifacts{},
		logs:      logs,
	}
	if cfg.Target.Name != "" {
		h.target = cfg.Target
	}
	cfg.Target = h.target
	if pcfg.Retry.MaxAttempts == 0 {
		pcfg.Retry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	}

	h.svc = NewService(Dependencies{
		Lines:     h.lines,
		Stock:     h.stock,
		Schema:    h.schema,
		Publisher: NewPublisher(h.store, pcfg, logger),
		Artifacts: h.artifacts,
	}, cfg, logger)

	seq := 0
	h.svc.newRunID = func() string {
		seq++
		return fmt.Sprintf("run-%d", seq)
	}
	return h
}

func dcRowKey() staging.RowKey {
	return staging.RowKey("1\x1f100\x1f41\x1fOC-1")
}

func TestService_ConsolidatesAndNetsDistributionCenterDemand(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, dcDemandLines()...)
	h.stock.snapshots = dcStock()

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.LinesRead)
	assert.Equal(t, 2, summary.KeysClaimed)
	assert.Equal(t, 1, summary.Consolidated)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 2, summary.KeysPublished)

	require.Equal(t, []string{string(dcRowKey())}, h.store.keys())
	assert.Equal(t, int64(11), h.store.value(dcRowKey(), h.target, "Q_BULTOS_KILOS_DIARCO"))
	assert.Equal(t, int64(41), h.store.value(dcRowKey(), h.target, "C_SUCU_EMPR"))
	assert.Equal(t, "planner", h.store.value(dcRowKey(), h.target, "C_USUARIO_GENERO_OC"))

	assert.Equal(t, map[string]replenishment.PublishState{
		"OC-1": replenishment.PublishStatePublished,
		"OC-2": replenishment.PublishStatePublished,
	}, h.lines.states())

	assert.Equal(t, []string{"run-1"}, h.artifacts.runs)
	assert.Equal(t, 1, h.artifacts.lines)
}

func TestService_RerunAfterPublishWritesNothing(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, dcDemandLines()...)
	h.stock.snapshots = dcStock()

	_, err := h.svc.Run(context.Background())
	require.NoError(t, err)
	before := h.store.keys()

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.LinesRead)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 0, summary.KeysPublished)
	assert.Equal(t, before, h.store.keys())
	assert.Equal(t, 1, h.lines.publishCalls)
	assert.Equal(t, 1, h.store.inserts)
}

func TestService_UnparseableSupplierCodeFailsOnlyItsKey(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{},
		pendingLine(3, "ABC", "100", 7, "", 4, "OC-3"),
		pendingLine(4, "2", "200", 7, "", 6, "OC-4"),
	)

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.RowsRejected)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.KeysFailed)
	assert.Equal(t, 1, summary.KeysPublished)
	assert.Equal(t, []string{"2\x1f200\x1f7\x1fOC-4"}, h.store.keys())
	assert.Equal(t, replenishment.PublishStateError, h.lines.states()["OC-3"])
	assert.Equal(t, replenishment.PublishStatePublished, h.lines.states()["OC-4"])
	assert.Contains(t, h.lines.rows[0].errDetail, "C_PROVEEDOR")

	// ERROR is terminal for automatic runs
	again, err := h.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.LinesRead)
}

func TestService_PublishingTwiceIsIdempotent(t *testing.T) {
	tests := []struct {
		name         string
		markExisting bool
		wantState    replenishment.PublishState
	}{
		{"existing keys released", false, replenishment.PublishStatePending},
		{"existing keys re-confirmed", true, replenishment.PublishStatePublished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{MarkExisting: tt.markExisting}, PublisherConfig{}, dcDemandLines()...)
			h.stock.snapshots = dcStock()

			_, err := h.svc.Run(context.Background())
			require.NoError(t, err)
			first := h.store.keys()

			h.lines.resetToPending()
			summary, err := h.svc.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, first, h.store.keys())
			assert.Equal(t, int64(11), h.store.value(dcRowKey(), h.target, "Q_BULTOS_KILOS_DIARCO"))
			assert.Equal(t, 0, summary.Inserted)
			assert.Equal(t, 1, summary.Skipped)
			assert.Equal(t, tt.wantState, h.lines.states()["OC-1"])
			assert.Equal(t, tt.wantState, h.lines.states()["OC-2"])
		})
	}
}

func TestService_ConcurrentPublisherRace(t *testing.T) {
	t.Run("equivalent row counts as published", func(t *testing.T) {
		h := newHarness(t, Config{MarkExisting: true}, PublisherConfig{}, dcDemandLines()...)
		h.stock.snapshots = dcStock()
		_, err := h.svc.Run(context.Background())
		require.NoError(t, err)

		h.lines.resetToPending()
		h.store.staleReads = 1

		summary, err := h.svc.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, 0, summary.Failed)
		assert.Equal(t, replenishment.PublishStatePublished, h.lines.states()["OC-1"])
	})

	t.Run("differing row is a conflict", func(t *testing.T) {
		h := newHarness(t, Config{MarkExisting: true}, PublisherConfig{}, dcDemandLines()...)
		h.stock.snapshots = dcStock()
		_, err := h.svc.Run(context.Background())
		require.NoError(t, err)

		h.store.data[dcRowKey()][h.target.ColumnIndex("Q_BULTOS_KILOS_DIARCO")] = int64(99)
		h.lines.resetToPending()
		h.store.staleReads = 1

		summary, err := h.svc.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Failed)
		assert.Equal(t, replenishment.PublishStateError, h.lines.states()["OC-1"])
		assert.Equal(t, replenishment.PublishStateError, h.lines.states()["OC-2"])
		assert.Equal(t, int64(99), h.store.value(dcRowKey(), h.target, "Q_BULTOS_KILOS_DIARCO"))
	})
}

func TestService_UpdateExistingAndMerge(t *testing.T) {
	tests := []struct {
		name string
		pcfg PublisherConfig
	}{
		{"antijoin with update", PublisherConfig{Strategy: StrategyAntiJoin, UpdateExisting: true}},
		{"merge", PublisherConfig{Strategy: StrategyMerge}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, tt.pcfg, dcDemandLines()...)
			h.stock.snapshots = dcStock()

			first, err := h.svc.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, first.Inserted)

			// stock dropped: last write wins
			h.stock.snapshots = nil
			h.lines.resetToPending()
			second, err := h.svc.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 1, second.Updated)
			assert.Len(t, h.store.keys(), 1)
			assert.Equal(t, int64(15), h.store.value(dcRowKey(), h.target, "Q_BULTOS_KILOS_DIARCO"))
			assert.Equal(t, replenishment.PublishStatePublished, h.lines.states()["OC-2"])
		})
	}
}

func TestService_SchemaMismatchFailsRunAndReleasesClaims(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, dcDemandLines()...)
	delete(h.schema.columns, "c_comprador")

	_, err := h.svc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrSchemaMismatch))

	assert.Empty(t, h.store.keys())
	for key, state := range h.lines.states() {
		assert.Equal(t, replenishment.PublishStatePending, state, key)
	}
}

func TestService_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, dcDemandLines()...)
	h.store.insertErrs = []error{shared.Wrap(shared.CodeConnectivity, errors.New("connection reset"), "insert")}
	h.lines.readErr = []error{shared.Wrap(shared.CodeConnectivity, errors.New("dial tcp: refused"), "read")}

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, replenishment.PublishStatePublished, h.lines.states()["OC-1"])
}

func TestService_PermanentWriteFailureReleasesClaims(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, dcDemandLines()...)
	h.store.insertErrs = []error{errors.New("arithmetic overflow")}

	_, err := h.svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, replenishment.PublishStatePending, h.lines.states()["OC-1"])
	assert.Equal(t, replenishment.PublishStatePending, h.lines.states()["OC-2"])
}

func TestService_ExhaustedRetriesFailRun(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, dcDemandLines()...)
	transient := shared.Wrap(shared.CodeLockTimeout, errors.New("lock request time out period exceeded"), "insert")
	h.store.insertErrs = []error{transient, transient, transient}

	_, err := h.svc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrLockTimeout))
	assert.Empty(t, h.store.keys())
}

func TestService_SkipsLinesClaimedByAnotherRun(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, dcDemandLines()...)
	h.stock.snapshots = dcStock()
	h.lines.stolen[2] = true

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.KeysClaimed)
	assert.Equal(t, int64(6), h.store.value(dcRowKey(), h.target, "Q_BULTOS_KILOS_DIARCO"))
	assert.Equal(t, replenishment.PublishStatePublished, h.lines.states()["OC-1"])
	assert.Equal(t, replenishment.PublishStateSyncing, h.lines.states()["OC-2"])
}

func TestService_ReleasesStaleClaims(t *testing.T) {
	h := newHarness(t, Config{ClaimTTL: time.Hour}, PublisherConfig{}, dcDemandLines()...)
	h.stock.snapshots = dcStock()
	h.lines.rows[1].state = replenishment.PublishStateSyncing
	h.lines.rows[1].runID = "crashed-run"
	h.lines.rows[1].claimedAt = time.Now().Add(-2 * time.Hour)

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.StaleReleased)
	assert.Equal(t, replenishment.PublishStatePublished, h.lines.states()["OC-2"])
}

func TestService_NettedOutKeysReturnToPending(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, dcDemandLines()...)
	h.stock.snapshots = []replenishment.StockSnapshot{{
		BranchID: 41, ArticleCode: "100", OnHandQty: decimal.NewFromInt(500), ConversionFactor: decimal.NewFromInt(1),
	}}

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DroppedByStock)
	assert.Equal(t, 2, summary.KeysReleased)
	assert.Equal(t, 0, h.schema.calls)
	assert.Empty(t, h.store.keys())
	assert.Equal(t, replenishment.PublishStatePending, h.lines.states()["OC-1"])
	assert.Equal(t, 1, h.artifacts.dropped)
}

func TestService_EmptyReadShortCircuits(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{})

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.LinesRead)
	assert.Equal(t, 0, h.stock.calls)
	assert.Equal(t, 0, h.schema.calls)
	assert.Empty(t, h.artifacts.runs)
}

func TestService_LeaseHeldByAnotherProcess(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, dcDemandLines()...)
	h.svc.deps.Lock = &fakeLock{held: true}

	_, err := h.svc.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, replenishment.PublishStatePending, h.lines.states()["OC-1"])
}

func TestService_StatusWriteConsistency(t *testing.T) {
	lines := []replenishment.PendingLine{
		pendingLine(1, "1", "100", 7, "41CD", 10, "OC-1"),
		pendingLine(2, "1", "100", 9, "82CD", 3, "OC-2"),
		pendingLine(3, "X", "100", 9, "", 3, "OC-3"),
		pendingLine(4, "5", "500", 12, "", 8, "OC-4"),
		pendingLine(5, "5", "501", 12, "41CD", 1, "OC-5"),
	}
	h := newHarness(t, Config{}, PublisherConfig{}, lines...)
	h.stock.snapshots = []replenishment.StockSnapshot{{
		BranchID: 41, ArticleCode: "501", OnHandQty: decimal.NewFromInt(9), ConversionFactor: decimal.NewFromInt(1),
	}}

	_, err := h.svc.Run(context.Background())
	require.NoError(t, err)

	stored := map[string]bool{}
	for _, k := range h.store.keys() {
		stored[k] = true
	}
	for _, row := range h.lines.rows {
		if row.state != replenishment.PublishStatePublished {
			continue
		}
		found := false
		for k := range stored {
			if len(k) >= len(row.line.CorrelationKey) && k[len(k)-len(row.line.CorrelationKey):] == row.line.CorrelationKey {
				found = true
			}
		}
		assert.True(t, found, "published key %s has no destination row", row.line.CorrelationKey)
	}
	assert.Equal(t, replenishment.PublishStateError, h.lines.states()["OC-3"])
	assert.Equal(t, replenishment.PublishStatePending, h.lines.states()["OC-5"])
}

func (r *fakeLineRepo) row(id int64) *fakeLine {
	for _, row := range r.rows {
		if row.line.ID == id {
			return row
		}
	}
	return nil
}

func TestService_UnreadableLineDoesNotBlockTheBatch(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, pendingLine(1, "2", "200", 7, "", 6, "OC-1"))
	h.lines.addUnreadable(2, "OC-2", "c_sucu_empr <nil> is not numeric")

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.LinesRead)
	assert.Equal(t, 1, summary.LinesRejected)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.KeysPublished)
	assert.Equal(t, 1, summary.KeysFailed)
	assert.Equal(t, replenishment.PublishStatePublished, h.lines.row(1).state)
	assert.Equal(t, replenishment.PublishStateError, h.lines.row(2).state)
	assert.Equal(t, "c_sucu_empr <nil> is not numeric", h.lines.row(2).errDetail)

	logged := h.logs.FilterMessage("Pending line unreadable").All()
	require.Len(t, logged, 1)
	assert.Equal(t, int64(2), logged[0].ContextMap()["id"])
	assert.Equal(t, "OC-2", logged[0].ContextMap()["correlation_key"])

	// the next run has nothing left to read
	again, err := h.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.LinesRead)
}

func TestService_UnreadableQuantityFailsItsWholeKey(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{},
		pendingLine(1, "2", "200", 7, "", 6, "OC-1"),
		pendingLine(2, "3", "300", 7, "", 4, "OC-2"),
	)
	h.lines.addUnreadable(3, "OC-1", "q_bultos_kilos_diarco abc is not numeric")

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.LinesRejected)
	assert.Equal(t, replenishment.PublishStateError, h.lines.row(1).state)
	assert.Equal(t, replenishment.PublishStateError, h.lines.row(3).state)
	assert.Contains(t, h.lines.row(3).errDetail, "abc")
	assert.Equal(t, replenishment.PublishStatePublished, h.lines.row(2).state)
}

func TestService_LineWithoutKeyLeavesThePendingSet(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{})
	h.lines.addUnreadable(4, "", "c_compra_connexa is empty")

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.LinesRejected)
	assert.Equal(t, replenishment.PublishStateError, h.lines.row(4).state)
	assert.Zero(t, h.schema.calls)

	again, err := h.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.LinesRead)
}

func TestService_RowsRoundingToZeroAreCountedAndLogged(t *testing.T) {
	small := pendingLine(1, "2", "200", 7, "", 0, "OC-1")
	small.RequestedQty = decimal.RequireFromString("0.4")
	h := newHarness(t, Config{}, PublisherConfig{}, small, pendingLine(2, "3", "300", 7, "", 4, "OC-2"))

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.RowsDroppedZero)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, replenishment.PublishStatePending, h.lines.row(1).state)

	dropped := h.logs.FilterMessage("Row dropped, quantity rounds to zero").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "OC-1", dropped[0].ContextMap()["correlation_key"])
	assert.Equal(t, "0.4", dropped[0].ContextMap()["net_qty"])

	done := h.logs.FilterMessage("Publish run completed").All()
	require.Len(t, done, 1)
	assert.Equal(t, int64(1), done[0].ContextMap()["dropped_zero"])
}

func TestService_RunLogsCarryRunAndTraceIDs(t *testing.T) {
	h := newHarness(t, Config{}, PublisherConfig{}, pendingLine(1, "2", "200", 7, "", 6, "OC-1"))

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	_, err = h.svc.Run(ctx)
	require.NoError(t, err)

	done := h.logs.FilterMessage("Publish run completed").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
}

func transferLine(id int64, header, article string, store int, packages int64, origin int64) replenishment.PendingLine {
	return replenishment.PendingLine{
		ID:             id,
		ArticleCode:    article,
		OriginBranchID: store,
		RequestedQty:   decimal.NewFromInt(packages),
		CorrelationKey: header,
		State:          replenishment.PublishStatePending,
		Fields: map[string]any{
			"c_sucu_orig": origin,
			"q_requerida": packages * 6,
			"q_factor":    int64(6),
			"f_alta":      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		},
	}
}

func TestService_PublishesTransfersWithoutStockOrCorrelationColumn(t *testing.T) {
	h := newHarness(t, Config{Target: staging.TransferTarget()}, PublisherConfig{},
		transferLine(101, "12", "1234", 7, 3, 41),
		transferLine(102, "12", "5678", 7, 2, 41),
		transferLine(103, "13", "1234", 15, 4, 82),
	)
	h.schema.columns = staging.NewColumnSet([]staging.ColumnSpec{
		{Name: "c_articulo", DataType: "int"},
		{Name: "c_sucu_dest", DataType: "smallint"},
		{Name: "c_sucu_orig", DataType: "smallint"},
		{Name: "q_requerida", DataType: "int"},
		{Name: "q_bultos", DataType: "int"},
		{Name: "q_factor", DataType: "int"},
		{Name: "f_alta", DataType: "datetime"},
		{Name: "m_alta_prioridad", DataType: "char", MaxLength: 1},
		{Name: "vchUsuario", DataType: "varchar", MaxLength: 20},
		{Name: "vchTerminal", DataType: "varchar", MaxLength: 20},
		{Name: "forzarTransf", DataType: "char", MaxLength: 1},
		{Name: "estado", DataType: "varchar", MaxLength: 20},
		{Name: "mensaje_error", DataType: "varchar", MaxLength: 500},
	})

	summary, err := h.svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "transf_connexa", summary.Pipeline)
	assert.Equal(t, 3, summary.LinesRead)
	assert.Equal(t, 2, summary.KeysClaimed)
	assert.Equal(t, 3, summary.Inserted)
	assert.Zero(t, summary.DroppedByStock)
	assert.Zero(t, h.stock.calls)
	assert.Len(t, h.store.keys(), 3)
	assert.Equal(t, map[string]replenishment.PublishState{
		"12": replenishment.PublishStatePublished,
		"13": replenishment.PublishStatePublished,
	}, h.lines.states())

	again, err := h.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.LinesRead)
	assert.Len(t, h.store.keys(), 3)
}
