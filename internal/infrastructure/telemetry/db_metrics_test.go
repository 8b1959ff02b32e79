package telemetry_test

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/diarco/connexa-sync/internal/infrastructure/telemetry"
)

type fakePool struct{ stats sql.DBStats }

func (p fakePool) Stats() sql.DBStats { return p.stats }

func gaugeWith(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	m, ok := findMetric(rm, name)
	require.True(t, ok, "metric %s not recorded", name)
	g := m.Data.(metricdata.Gauge[int64])
	for _, dp := range g.DataPoints {
		matched := true
		for _, a := range attrs {
			if v, found := dp.Attributes.Value(a.Key); !found || v != a.Value {
				matched = false
			}
		}
		if matched {
			return dp.Value
		}
	}
	t.Fatalf("no data point of %s with %v", name, attrs)
	return 0
}

func TestDBPoolMetrics(t *testing.T) {
	reader, provider := newManualMeter(t)

	m, err := telemetry.NewDBPoolMetrics(provider.Meter("db"), zap.NewNop())
	require.NoError(t, err)

	m.Track("source", fakePool{sql.DBStats{MaxOpenConnections: 10, OpenConnections: 3, InUse: 1, Idle: 2, WaitCount: 7}})
	m.Track("destination", fakePool{sql.DBStats{MaxOpenConnections: 5, OpenConnections: 1, Idle: 1}})

	rm := collect(t, reader)
	source := telemetry.AttrDBName.String("source")
	destination := telemetry.AttrDBName.String("destination")

	assert.Equal(t, int64(10), gaugeWith(t, rm, "db_pool_connections_max", source))
	assert.Equal(t, int64(5), gaugeWith(t, rm, "db_pool_connections_max", destination))
	assert.Equal(t, int64(1), gaugeWith(t, rm, "db_pool_connections", source, telemetry.AttrDBState.String("in_use")))
	assert.Equal(t, int64(2), gaugeWith(t, rm, "db_pool_connections", source, telemetry.AttrDBState.String("idle")))
	assert.Equal(t, int64(3), gaugeWith(t, rm, "db_pool_connections", source, telemetry.AttrDBState.String("open")))
	assert.Equal(t, int64(7), sumWith(t, rm, "db_pool_wait_total", source))

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())

	_, found := findMetric(collect(t, reader), "db_pool_connections_max")
	assert.False(t, found, "stopped metrics are no longer observed")
}
