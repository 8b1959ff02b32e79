package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stagedLine struct {
	ID     uint   `gorm:"primaryKey"`
	Compra string `gorm:"size:40"`
	Bultos int
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&stagedLine{}))
	return db
}

func setupTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, a := range span.Attributes() {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestDefaultDBTracingConfig(t *testing.T) {
	cfg := DefaultDBTracingConfig()
	assert.False(t, cfg.Enabled)
	assert.False(t, cfg.LogFullSQL)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThresh)
	assert.Equal(t, "postgresql", cfg.DBSystem)
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	sr := setupTracer(t)
	db := setupTestDB(t)

	require.NoError(t, NewDBTracingPlugin(DefaultDBTracingConfig(), zap.NewNop()).RegisterOtelGorm(db))
	require.NoError(t, db.WithContext(context.Background()).Create(&stagedLine{Compra: "OC-1", Bultos: 3}).Error)

	assert.Empty(t, sr.Ended())
}

func TestDBTracingPlugin_Enabled(t *testing.T) {
	sr := setupTracer(t)
	db := setupTestDB(t)

	cfg := DBTracingConfig{Enabled: true, DBSystem: "sqlite", DBName: "source", SlowQueryThresh: time.Hour}
	require.NoError(t, NewDBTracingPlugin(cfg, zap.NewNop()).RegisterOtelGorm(db))

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).Create(&stagedLine{Compra: "OC-1", Bultos: 3}).Error)

	spans := sr.Ended()
	require.NotEmpty(t, spans)
	span := spans[len(spans)-1]

	rows, ok := spanAttr(span, "db.rows_affected")
	require.True(t, ok)
	assert.Equal(t, int64(1), rows.AsInt64())
	_, slow := spanAttr(span, "db.slow_query")
	assert.False(t, slow)
}

func TestDBTracingPlugin_SlowAndFailedStatements(t *testing.T) {
	sr := setupTracer(t)
	db := setupTestDB(t)

	cfg := DBTracingConfig{Enabled: true, DBSystem: "sqlite", DBName: "source", SlowQueryThresh: time.Nanosecond}
	require.NoError(t, NewDBTracingPlugin(cfg, zap.NewNop()).RegisterOtelGorm(db))

	ctx := context.Background()
	var lines []stagedLine
	require.NoError(t, db.WithContext(ctx).Find(&lines).Error)

	spans := sr.Ended()
	require.NotEmpty(t, spans)
	slow, ok := spanAttr(spans[len(spans)-1], "db.slow_query")
	require.True(t, ok)
	assert.True(t, slow.AsBool())

	err := db.WithContext(ctx).Exec("SELECT * FROM missing_table").Error
	require.Error(t, err)

	spans = sr.Ended()
	assert.Equal(t, codes.Error, spans[len(spans)-1].Status().Code)
}
